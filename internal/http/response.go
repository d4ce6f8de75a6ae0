package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"DTokenSale/internal/models"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorKinds maps engine errors to an HTTP status and a stable code.
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{models.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{models.ErrZeroPayment, http.StatusBadRequest, "zero_payment"},
	{models.ErrUnsupportedAsset, http.StatusBadRequest, "unsupported_asset"},
	{models.ErrInvalidAccount, http.StatusBadRequest, "invalid_account"},
	{models.ErrAllowanceMissing, http.StatusConflict, "allowance_missing"},
	{models.ErrInsufficientLiquidity, http.StatusConflict, "insufficient_liquidity"},
	{models.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
	{models.ErrInsufficientUnlockedBalance, http.StatusConflict, "insufficient_unlocked_balance"},
	{models.ErrStillLocked, http.StatusConflict, "still_locked"},
	{models.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{models.ErrNotOrderOwner, http.StatusForbidden, "not_order_owner"},
	{models.ErrNotAdmin, http.StatusForbidden, "not_admin"},
	{models.ErrOracleUnavailable, http.StatusServiceUnavailable, "oracle_unavailable"},
	{models.ErrNotInitialized, http.StatusServiceUnavailable, "not_initialized"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeEngineError reports a failed engine call. Unknown errors are logged
// by the caller and surface as a generic 500.
func writeEngineError(w http.ResponseWriter, err error) bool {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			writeError(w, k.status, k.code, err.Error())
			return true
		}
	}
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
	return false
}
