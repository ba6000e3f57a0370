package ratelimit

import (
	"net/http"

	internalhttputil "github.com/vaultauth/core/infrastructure/httputil"
)

// KeyFunc derives a rate-limit key from a request.
type KeyFunc func(r *http.Request) string

// IPOnly keys purely by client IP, honoring the same X-Forwarded-For trust
// rules as the rest of the HTTP stack (only trusted for loopback/private
// immediate peers, see infrastructure/httputil.ClientIP).
func IPOnly(r *http.Request) string {
	return internalhttputil.ClientIP(r)
}

// IPAndPath keys by client IP plus request path, so a flood against one
// endpoint doesn't exhaust a client's budget on every other endpoint.
func IPAndPath(r *http.Request) string {
	return internalhttputil.ClientIP(r) + "|" + r.URL.Path
}
