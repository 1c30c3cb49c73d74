package obs

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerScopesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger{Logger: zerolog.New(&buf)}.Middleware)
	r.Post("/v1/stores/{storeID}/checkout/calculate", func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("calculated")
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/stores/s1/checkout/calculate", nil)
	req.Header.Set("X-Request-Id", "req-42")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"message":"calculated"`)
	require.Contains(t, lines[0], `"request_id":"req-42"`)
	require.Contains(t, lines[1], `"message":"http_request"`)
	require.Contains(t, lines[1], `"store_id":"s1"`)
}

func TestRequestLoggerLevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(RequestLogger{Logger: zerolog.New(&buf)}.Middleware)
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"level":"warn"`)
	require.Contains(t, lines[0], `"route":"/missing"`)
	require.Contains(t, lines[1], `"level":"error"`)
	require.Contains(t, lines[1], `"route":"/boom"`)
	require.Contains(t, lines[1], `"status":502`)
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", " WARN ")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"level":"warn"`)

	buf.Reset()
	fallback := newLogger(&buf, "json", "bogus")
	fallback.Debug().Msg("debug")
	require.Empty(t, buf.String(), "unknown levels fall back to info")
}
