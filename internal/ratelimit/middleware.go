package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// Config derives the bucket key of a request and its limit.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler rejects requests over the limit with 429 RATE_LIMITED. When the
// limiter fails the request is let through and OnError is told.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(*http.Request, error)
}

// Middleware implements chi middleware.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Config.Key == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(r, err)
			}
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(max(h.Config.Max, 0)))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded",
			map[string]any{"retryAfterSeconds": retryAfter})
	})
}

// StoreClientKey buckets requests by the {storeID} route parameter and client IP.
func StoreClientKey(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		return prefix + chi.URLParam(r, "storeID") + ":" + common.ClientIP(r)
	}
}
