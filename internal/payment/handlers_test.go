package payment_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/payment"
)

func newLedgerRouter(repo payment.Repository) http.Handler {
	h := &payment.Handler{Ledger: newLedger(repo), Validate: common.NewValidator()}
	r := chi.NewRouter()
	r.Route("/v1/stores/{storeID}", func(r chi.Router) {
		h.Routes(r)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestLedgerHandlers(t *testing.T) {
	repo := newMemLedgerRepo(payment.Order{ID: "o1", StoreID: "s1", Currency: "USD", Total: 10000})
	router := newLedgerRouter(repo)
	base := "/v1/stores/s1/orders/o1/transactions"

	rr, body := do(t, router, http.MethodPost, base+"/authorize", `{"amount":10000}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	data := body["data"].(map[string]any)
	require.Equal(t, "AUTHORIZE", data["type"])

	rr, _ = do(t, router, http.MethodPost, base+"/capture", `{"amount":10000,"currency":"USD"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, body = do(t, router, http.MethodPost, base+"/capture", `{"amount":1}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	errBody := body["error"].(map[string]any)
	require.Equal(t, "TRANSACTION_STATE_CONFLICT", errBody["code"])

	rr, body = do(t, router, http.MethodGet, base+"/capturable", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Nil(t, body["data"])

	rr, body = do(t, router, http.MethodGet, base+"/last", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "CAPTURE", body["data"].(map[string]any)["type"])
}

func TestLedgerHandlersRejectInput(t *testing.T) {
	repo := newMemLedgerRepo(payment.Order{ID: "o1", StoreID: "s1", Currency: "USD"})
	router := newLedgerRouter(repo)

	rr, body := do(t, router, http.MethodPost, "/v1/stores/s1/orders/o1/transactions/authorize", `{"amount":0}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	details := body["error"].(map[string]any)["details"].(map[string]any)
	require.Equal(t, "required", details["amount"])

	rr, _ = do(t, router, http.MethodPost, "/v1/stores/s1/orders/o1/transactions/authorize", `{`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr, body = do(t, router, http.MethodGet, "/v1/stores/s2/orders/o1/transactions/last", "")
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "STORE_MISMATCH", body["error"].(map[string]any)["code"])

	rr, _ = do(t, router, http.MethodGet, "/v1/stores/s1/orders/nope/transactions/refundable", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}
