package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"DTokenSale/internal/events"
	"DTokenSale/internal/metrics"
	"DTokenSale/internal/models"
	"DTokenSale/internal/pricing"
	"DTokenSale/internal/services"
	"DTokenSale/internal/store"
	"DTokenSale/internal/vesting"
)

var (
	owner   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	saleTok = common.HexToAddress("0x00000000000000000000000000000000000070ce")
	custody = common.HexToAddress("0x000000000000000000000000000000000000c0de")
)

const (
	oneEther  = "1000000000000000000"
	startTime = int64(1_700_000_000)
)

type testAPI struct {
	t      *testing.T
	srv    *httptest.Server
	engine *services.Engine
	now    atomic.Int64
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "sale.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	oracles := pricing.NewOracles()
	oracles.Register("bnb-usd", pricing.NewStaticFeed(big.NewInt(600), 0))
	unit, err := pricing.ParseUSD("0.1")
	require.NoError(t, err)
	conv, err := pricing.NewConverter(unit, 18, nil)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewBus()
	engine, err := services.NewEngine(services.Options{
		Store: st, Oracles: oracles, Converter: conv, Emitter: bus, Logger: logger,
	})
	require.NoError(t, err)

	api := &testAPI{t: t, engine: engine}
	api.now.Store(startTime)
	engine.SetNowFunc(api.now.Load)

	supply, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	ten, _ := new(big.Int).SetString("10000000000000000000", 10)
	_, err = engine.Initialize(context.Background(), services.Genesis{
		Owner: owner, Admin: admin, Token: saleTok, Custody: custody,
		InitialSupply: supply, NativeOracle: "bnb-usd",
		Balances: []services.GenesisBalance{{Asset: models.Native(), Account: alice, Amount: ten}},
	})
	require.NoError(t, err)

	m := metrics.New()
	srv := NewServer(NewHandler(engine, logger), Options{
		Logger:  logger,
		Events:  bus,
		Metrics: m.Handler(),
	})
	api.srv = httptest.NewServer(srv.Router)
	t.Cleanup(api.srv.Close)
	return api
}

func (a *testAPI) do(method, path string, caller common.Address, body any) (int, map[string]any) {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(a.t, err)
			rd = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(a.t, err)
	if caller != (common.Address{}) {
		req.Header.Set(accountHeader, caller.Hex())
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)
	status, body := api.do(http.MethodGet, "/health", common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])

	resp, err := api.srv.Client().Get(api.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuyClaimFlow(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.do(http.MethodPost, "/sale/buy", common.Address{}, buyRequest{Asset: "native", Amount: oneEther, Value: oneEther})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "missing_account", body["code"])

	status, body = api.do(http.MethodPost, "/sale/buy", alice, buyRequest{Asset: "native", Amount: oneEther, Value: oneEther})
	require.Equal(t, http.StatusCreated, status)
	require.EqualValues(t, 1, body["orderId"])
	require.Equal(t, "6000000000000000000000", body["totalAmount"])
	require.Equal(t, "native", body["paymentAsset"])

	status, body = api.do(http.MethodGet, "/sale", common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 2, body["currentOrderId"])
	require.Equal(t, "6000000000000000000000", body["soldTokens"])

	status, body = api.do(http.MethodPost, "/sale/orders/1/claim", alice, nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "still_locked", body["code"])

	api.now.Store(startTime + vesting.Cliff + vesting.Month)
	status, body = api.do(http.MethodGet, "/sale/orders/1", common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "600000000000000000000", body["claimable"])

	status, body = api.do(http.MethodPost, "/sale/orders/1/claim", bob, nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "not_order_owner", body["code"])

	status, body = api.do(http.MethodPost, "/sale/orders/1/claim", alice, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "600000000000000000000", body["claimed"])

	status, body = api.do(http.MethodGet, "/ledger/"+saleTok.Hex()+"/"+alice.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "600000000000000000000", body["balance"])

	status, body = api.do(http.MethodGet, "/sale/accounts/"+alice.Hex()+"/orders", common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["orders"], 1)
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.do(http.MethodGet, "/sale/orders/99", common.Address{}, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "order_not_found", body["code"])

	status, body = api.do(http.MethodGet, "/sale/orders/abc", common.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_order_id", body["code"])

	status, body = api.do(http.MethodPost, "/sale/buy", alice, `{"asset":`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_json", body["code"])

	status, body = api.do(http.MethodPost, "/sale/buy", alice, buyRequest{Asset: "native", Amount: oneEther})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "zero_payment", body["code"])

	status, body = api.do(http.MethodPost, "/sale/buy", alice, buyRequest{Asset: bob.Hex(), Amount: "1"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "unsupported_asset", body["code"])

	status, body = api.do(http.MethodPost, "/admin/assets", alice, registerAssetRequest{Token: bob.Hex(), Oracle: "x"})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "not_admin", body["code"])

	status, body = api.do(http.MethodGet, "/sale/prices/"+bob.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "unsupported_asset", body["code"])
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	token := common.HexToAddress("0x55d398326f99059ff775485246999027b3197955")

	status, _ := api.do(http.MethodPost, "/admin/assets", admin, registerAssetRequest{Token: token.Hex(), Oracle: "bnb-usd"})
	require.Equal(t, http.StatusOK, status)

	status, body := api.do(http.MethodGet, "/sale/prices/"+token.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "60000000000", body["price"])
	require.Equal(t, "600", body["priceUsd"])

	status, _ = api.do(http.MethodPost, "/sale/buy", alice, buyRequest{Asset: "native", Amount: oneEther, Value: oneEther})
	require.Equal(t, http.StatusCreated, status)
	status, body = api.do(http.MethodPost, "/admin/orders/1/timeline", admin, timelineRequest{StartTime: startTime - vesting.Cliff - 10*vesting.Month})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "6000000000000000000000", body["claimable"])

	status, body = api.do(http.MethodPost, "/admin/admin", admin, changeAdminRequest{Admin: "0x0"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_account", body["code"])

	status, _ = api.do(http.MethodPost, "/admin/admin", admin, changeAdminRequest{Admin: bob.Hex()})
	require.Equal(t, http.StatusOK, status)
	status, _ = api.do(http.MethodPost, "/admin/native-oracle", admin, oracleRequest{Oracle: "other"})
	require.Equal(t, http.StatusForbidden, status)
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	require.True(t, l.Allow("b"))

	now = now.Add(time.Second)
	require.True(t, l.Allow("a"))

	now = now.Add(2 * visitorTTL)
	l.Allow("c")
	require.NotContains(t, l.visitors, "a")
}

func TestCORSPreflight(t *testing.T) {
	h := cors([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/sale/buy", nil)
	req.Header.Set("Origin", "https://app.example")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/sale", nil)
	req.Header.Set("Origin", "https://evil.example")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
