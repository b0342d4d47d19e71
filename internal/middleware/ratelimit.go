package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/arencloud/bucketwarden/internal/logging"
	"golang.org/x/time/rate"
)

// RateLimit applies one shared token bucket to the wrapped routes. rps <= 0
// disables limiting.
func RateLimit(rps float64, burst int, logger logging.Logger) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	retry := strconv.Itoa(int(math.Ceil(1 / rps)))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				logger.Debug("rate limited", "method", r.Method, "path", r.URL.Path)
				w.Header().Set("Retry-After", retry)
				writeError(w, http.StatusTooManyRequests, "RateLimited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
