package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIdemRejectsReplayPerTarget(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	h := Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))
	send := func(path, key string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	capture := "/v1/stores/s1/orders/o1/transactions/capture"
	require.Equal(t, http.StatusCreated, send(capture, "k1"))
	require.Equal(t, http.StatusConflict, send(capture, "k1"))
	require.Equal(t, http.StatusCreated, send("/v1/stores/s1/orders/o1/transactions/refund", "k1"))
	require.Equal(t, http.StatusCreated, send(capture, ""))
	require.Equal(t, 3, calls)

	mr.FastForward(2 * time.Minute)
	require.Equal(t, http.StatusCreated, send(capture, "k1"))
}

func TestIdemWithoutRedisPassesThrough(t *testing.T) {
	h := Idem{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Idempotency-Key", "k")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
}
