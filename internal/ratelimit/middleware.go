package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// KeyFunc extracts the bucket key from a request. An empty key skips
// limiting.
type KeyFunc func(r *http.Request) string

// Middleware enforces limiter per key. X-RateLimit-Limit,
// X-RateLimit-Remaining and X-RateLimit-Reset are always set; an exhausted
// bucket gets a 429 with the standard JSON error body.
func Middleware(limiter *Limiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed := limiter.Allow(k)
			limit, remaining, resetAt := limiter.Status(k)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]string{
						"code":    "rate_limited",
						"message": "Too many metering requests for this user. Try again later.",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
