// Package ratelimit limits API requests per client using a sliding window.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// Config holds configuration for the rate limiting middleware.
type Config struct {
	// RequestLimit is the maximum number of requests allowed in the window.
	// Zero or less disables limiting.
	RequestLimit int
	WindowSize   time.Duration
	// KeyFunc extracts the rate limit key from the request. Defaults to the
	// client IP.
	KeyFunc httprate.KeyFunc
}

// Middleware returns chi-compatible middleware enforcing cfg. Rejected
// requests get 429 with a Retry-After header and a JSON error body.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = time.Minute
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(cfg.WindowSize.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":"rate_limit_exceeded","message":"too many requests"}}`))
		}),
	)
}
