package middleware

import (
	"net/http"

	"golang.org/x/time/rate"
)

// Throttle caps the instance-wide request rate for the routes it wraps.
// This is coarse ingress protection for the submit surface; the
// per-recipient fixed-window limiting happens inside the delivery pipeline.
func Throttle(rps int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), rps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
