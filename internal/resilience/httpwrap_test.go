package resilience_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func post(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(`{"carrier":"rates-api"}`))
	require.NoError(t, err)
	return req
}

func TestHTTPClientRetriesAndKeepsBodyReadable(t *testing.T) {
	var calls atomic.Int32
	payload := strings.Repeat("x", 64<<10)
	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, payload)
	}))
	t.Cleanup(srv.Close)

	client := resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Millisecond, Timeout: time.Second}
	resp, err := client.Do(context.Background(), post(t, srv.URL))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Len(t, body, len(payload))
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, `{"carrier":"rates-api"}`, lastBody.Load(), "retries replay the request body")
}

func TestHTTPClientTreatsThrottlingAsFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 2, BaseBackoff: time.Millisecond}
	_, err := client.Do(context.Background(), post(t, srv.URL))
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
	require.Equal(t, int32(2), calls.Load())
}

func TestHTTPClientShortCircuitsWhenOpen(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	breaker := resilience.NewBreaker(1, 0.5, time.Minute).WithTarget("carrier:test-open")
	client := resilience.HTTPClient{Client: srv.Client(), Breaker: breaker, MaxAttempts: 1}

	_, err := client.Do(context.Background(), post(t, srv.URL))
	require.Error(t, err)
	require.Equal(t, resilience.Open, breaker.State())
	require.Equal(t, "carrier:test-open", breaker.Target())

	_, err = client.Do(context.Background(), post(t, srv.URL))
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, int32(1), calls.Load())

	client.Fallback = func(_ context.Context, _ *http.Request, cause error) (*http.Response, error) {
		return nil, errors.Join(errors.New("fallback"), cause)
	}
	_, err = client.Do(context.Background(), post(t, srv.URL))
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Contains(t, err.Error(), "fallback")
}
