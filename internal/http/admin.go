package http

import (
	"net/http"
)

type changeAdminRequest struct {
	Admin string `json:"admin"`
}

type oracleRequest struct {
	Oracle string `json:"oracle"`
}

type registerAssetRequest struct {
	Token  string `json:"token"`
	Oracle string `json:"oracle"`
}

type timelineRequest struct {
	StartTime int64 `json:"startTime"`
}

func (h *Handler) ChangeAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req changeAdminRequest
	if !decodeBody(w, r, &req) {
		return
	}
	next, ok := parseAccount(req.Admin)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_account", "admin must be a non-zero hex address")
		return
	}
	if err := h.Engine.ChangeAdmin(r.Context(), caller, next); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"admin": next.Hex()})
}

func (h *Handler) SetNativeOracle(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req oracleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Engine.SetNativeOracle(r.Context(), caller, req.Oracle); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"nativeOracle": req.Oracle})
}

func (h *Handler) RegisterAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req registerAssetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, ok := parseAccount(req.Token)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported_asset", "token must be a non-zero hex address")
		return
	}
	if err := h.Engine.RegisterAsset(r.Context(), caller, token, req.Oracle); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assetResponse{Token: token.Hex(), Oracle: req.Oracle})
}

func (h *Handler) ChangeTimeline(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req timelineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Engine.ChangeTimeline(r.Context(), caller, orderID, req.StartTime); err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.Engine.OrderDetails(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(view))
}
