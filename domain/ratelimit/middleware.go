package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	internalhttputil "github.com/vaultauth/core/infrastructure/httputil"
)

// rateLimitedBody is the JSON payload returned on a 429.
type rateLimitedBody struct {
	Code       string `json:"code"`
	RetryAfter int    `json:"retry_after"`
	Message    string `json:"message"`
}

// Middleware returns HTTP middleware enforcing limiter against keys derived
// by keyFn, setting X-RateLimit-* headers on every response and a 429 with
// a RATE_LIMITED body when the budget is exhausted.
func Middleware(limiter *Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			decision := limiter.Allow(r.Context(), key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retryAfterSeconds := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfterSeconds < 1 {
					retryAfterSeconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
				internalhttputil.WriteJSON(w, http.StatusTooManyRequests, rateLimitedBody{
					Code:       "RATE_LIMITED",
					RetryAfter: retryAfterSeconds,
					Message:    fmt.Sprintf("rate limit exceeded, retry after %ds", retryAfterSeconds),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
