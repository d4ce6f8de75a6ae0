package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"DTokenSale/internal/models"
	"DTokenSale/internal/pricing"
	"DTokenSale/internal/services"
)

// accountHeader carries the caller's address. Authentication of that claim is
// left to the deployment in front of the API.
const accountHeader = "X-Account"

const maxBodyBytes = 1 << 16

type Handler struct {
	Engine *services.Engine
	Logger *slog.Logger
}

func NewHandler(engine *services.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Engine: engine, Logger: logger}
}

type buyRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Value  string `json:"value"`
}

type sellRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type assetAmountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type orderResponse struct {
	OrderID       uint64 `json:"orderId"`
	Buyer         string `json:"buyer"`
	PaymentAsset  string `json:"paymentAsset"`
	PaymentAmount string `json:"paymentAmount"`
	TotalAmount   string `json:"totalAmount"`
	StartTime     int64  `json:"startTime"`
	ClaimedAmount string `json:"claimedAmount"`
	SoldAmount    string `json:"soldAmount"`
	CreatedAt     int64  `json:"createdAt"`
	Unlocked      string `json:"unlocked,omitempty"`
	Claimable     string `json:"claimable,omitempty"`
	NextUnlock    int64  `json:"nextUnlock,omitempty"`
	AsOf          int64  `json:"asOf,omitempty"`
}

type assetResponse struct {
	Token  string `json:"token"`
	Oracle string `json:"oracle"`
}

type saleResponse struct {
	Owner          string           `json:"owner"`
	Admin          string           `json:"admin"`
	Token          string           `json:"token"`
	Custody        string           `json:"custody"`
	TokenDecimals  uint8            `json:"tokenDecimals"`
	NativeOracle   string           `json:"nativeOracle"`
	SoldTokens     string           `json:"soldTokens"`
	CurrentOrderID uint64           `json:"currentOrderId"`
	Pricing        pricing.Snapshot `json:"pricing"`
	Assets         []assetResponse  `json:"assets"`
}

func toOrderResponse(o *models.Order) orderResponse {
	return orderResponse{
		OrderID:       o.ID,
		Buyer:         o.Buyer.Hex(),
		PaymentAsset:  o.PaymentAsset.String(),
		PaymentAmount: models.CopyAmount(o.PaymentAmount).String(),
		TotalAmount:   models.CopyAmount(o.TotalAmount).String(),
		StartTime:     o.StartTime,
		ClaimedAmount: models.CopyAmount(o.ClaimedAmount).String(),
		SoldAmount:    models.CopyAmount(o.SoldAmount).String(),
		CreatedAt:     o.CreatedAt,
	}
}

func toViewResponse(v services.OrderView) orderResponse {
	resp := toOrderResponse(v.Order)
	resp.Unlocked = v.Unlocked.String()
	resp.Claimable = v.Claimable.String()
	resp.NextUnlock = v.NextUnlock
	resp.AsOf = v.AsOf
	return resp
}

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.Engine.Config(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	next, err := h.Engine.CurrentOrderID(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.Engine.Pricing(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	assets, err := h.Engine.Assets(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := saleResponse{
		Owner:          cfg.Owner.Hex(),
		Admin:          cfg.Admin.Hex(),
		Token:          cfg.Token.Hex(),
		Custody:        cfg.Custody.Hex(),
		TokenDecimals:  cfg.TokenDecimals,
		NativeOracle:   cfg.NativeOracle,
		SoldTokens:     models.CopyAmount(cfg.SoldTokens).String(),
		CurrentOrderID: next,
		Pricing:        snap,
		Assets:         make([]assetResponse, 0, len(assets)),
	}
	for _, a := range assets {
		resp.Assets = append(resp.Assets, assetResponse{Token: a.Token.Hex(), Oracle: a.OracleID})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	asset, err := models.ParseAsset(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported_asset", err.Error())
		return
	}
	price, err := h.Engine.OraclePrice(r.Context(), asset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":    asset.String(),
		"price":    price.String(),
		"priceUsd": models.FormatUnits(price, pricing.OracleDecimals),
	})
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, amount, ok := parseAssetAmount(w, req.Asset, req.Amount)
	if !ok {
		return
	}
	value := new(big.Int)
	if strings.TrimSpace(req.Value) != "" {
		v, err := models.ParseAmount(req.Value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_amount", "value: "+err.Error())
			return
		}
		value = v
	}
	order, err := h.Engine.Buy(r.Context(), services.BuyRequest{Caller: caller, Asset: asset, Amount: amount, Value: value})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	amount, err := h.Engine.ClaimTokens(r.Context(), caller, orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "claimed": amount.String()})
}

func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req sellRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, amount, ok := parseAssetAmount(w, req.Asset, req.Amount)
	if !ok {
		return
	}
	payout, err := h.Engine.SellToken(r.Context(), services.SellRequest{Caller: caller, OrderID: orderID, Asset: asset, Amount: amount})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderId": orderID,
		"sold":    amount.String(),
		"asset":   asset.String(),
		"payout":  payout.String(),
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	view, err := h.Engine.OrderDetails(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(view))
}

func (h *Handler) AccountOrders(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAccount(chi.URLParam(r, "account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_account", "account must be a hex address")
		return
	}
	views, err := h.Engine.OrderViewsOf(r.Context(), account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toViewResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account.Hex(), "orders": out})
}

func (h *Handler) DepositLiquidity(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req assetAmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, amount, ok := parseAssetAmount(w, req.Asset, req.Amount)
	if !ok {
		return
	}
	if err := h.Engine.DepositLiquidity(r.Context(), caller, asset, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.String(), "deposited": amount.String()})
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req assetAmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, amount, ok := parseAssetAmount(w, req.Asset, req.Amount)
	if !ok {
		return
	}
	if err := h.Engine.Approve(r.Context(), caller, asset, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.String(), "allowance": amount.String()})
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	asset, err := models.ParseAsset(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported_asset", err.Error())
		return
	}
	account, ok := parseAccount(chi.URLParam(r, "account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_account", "account must be a hex address")
		return
	}
	bal, err := h.Engine.BalanceOf(r.Context(), asset, account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	allowance, err := h.Engine.Allowance(r.Context(), asset, account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":     asset.String(),
		"account":   account.Hex(),
		"balance":   bal.String(),
		"allowance": allowance.String(),
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !writeEngineError(w, err) {
		h.Logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
	}
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := parseAccount(r.Header.Get(accountHeader))
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_account", accountHeader+" header must carry a non-zero hex address")
		return common.Address{}, false
	}
	return addr, true
}

func parseAccount(s string) (common.Address, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(s)
	return addr, addr != (common.Address{})
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_order_id", "order id must be an unsigned integer")
		return 0, false
	}
	return id, true
}

func parseAssetAmount(w http.ResponseWriter, rawAsset, rawAmount string) (models.Asset, *big.Int, bool) {
	asset, err := models.ParseAsset(rawAsset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported_asset", err.Error())
		return models.Asset{}, nil, false
	}
	amount, err := models.ParseAmount(rawAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
		return models.Asset{}, nil, false
	}
	return asset, amount, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return false
	}
	return true
}
