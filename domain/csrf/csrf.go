// Package csrf implements double-submit cookie CSRF protection.
//
// The token cookie is intentionally not HttpOnly: JavaScript must be able
// to read it and echo it back in the X-CSRF-Token header. An attacker
// hosted on another origin cannot read it (Same-Origin Policy) or set the
// custom header on a forged cross-site request, so the cookie/header pair
// only ever matches when the request actually originated from the site
// that issued the cookie.
//
// Enforcement only applies when the request already carries an auth
// cookie; bearer-token-only callers (service-to-service, CLIs, webhooks)
// never send cookies and so are unaffected.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

const (
	CookieName = "XSRF-TOKEN"
	// legacyCookieName is accepted on read only, for clients that have not
	// migrated to the current cookie name yet.
	legacyCookieName = "csrf-token"
	HeaderName       = "X-CSRF-Token"

	// tokenLength is chosen so that a base62 token has at least as much
	// entropy as a 256-bit value: log2(62^44) ≈ 262 bits.
	tokenLength = 44

	cookieMaxAgeSeconds = 60 * 60 * 24 // 24 hours
)

const base62Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateToken returns a cryptographically random base62 token.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	out := make([]byte, tokenLength)
	for i, b := range buf {
		out[i] = base62Alphabet[int(b)%len(base62Alphabet)]
	}
	return string(out), nil
}

// CookieOptions configures the attributes of the CSRF cookie this
// middleware sets. AuthCookieNames lists the cookies whose presence
// signals a cookie-authenticated (browser) request requiring CSRF checks.
type CookieOptions struct {
	Secure          bool
	SameSite        http.SameSite
	Domain          string
	PathPrefix      string
	AuthCookieNames []string
}

func (o CookieOptions) path() string {
	trimmed := strings.TrimSuffix(o.PathPrefix, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

// isValidCookieDomain rejects bare TLDs and anything that isn't at least
// two dot-separated labels, so a typo like ".com" can't silently broaden a
// cookie's scope to the entire TLD.
func isValidCookieDomain(domain string) bool {
	trimmed := strings.TrimPrefix(domain, ".")
	if trimmed == "" {
		return false
	}
	labels := strings.Split(trimmed, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if l == "" {
			return false
		}
	}
	return true
}

func setCookie(w http.ResponseWriter, opts CookieOptions, token string) {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     opts.path(),
		MaxAge:   cookieMaxAgeSeconds,
		Secure:   opts.Secure,
		SameSite: sameSiteOrDefault(opts.SameSite),
		// Not HttpOnly: the double-submit pattern requires JS to read this.
	}
	if opts.Domain != "" {
		if isValidCookieDomain(opts.Domain) {
			cookie.Domain = opts.Domain
		}
	}
	http.SetCookie(w, cookie)
}

func sameSiteOrDefault(s http.SameSite) http.SameSite {
	if s == http.SameSiteDefaultMode {
		return http.SameSiteLaxMode
	}
	return s
}

func readCookie(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

func readCSRFCookie(r *http.Request) (string, bool) {
	if v, ok := readCookie(r, CookieName); ok {
		return v, true
	}
	return readCookie(r, legacyCookieName)
}

func hasAuthCookie(r *http.Request, names []string) bool {
	for _, name := range names {
		if _, ok := readCookie(r, name); ok {
			return true
		}
	}
	return false
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Middleware enforces the double-submit check on unsafe methods whenever an
// auth cookie is present, and ensures a fresh token cookie is set on the
// response whenever the request didn't already carry one.
func Middleware(opts CookieOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			csrfCookie, hasCSRFCookie := readCSRFCookie(r)
			csrfHeader := r.Header.Get(HeaderName)

			requiresCheck := hasAuthCookie(r, opts.AuthCookieNames) && !isSafeMethod(r.Method)

			if requiresCheck {
				match := hasCSRFCookie && csrfHeader != "" &&
					subtle.ConstantTimeCompare([]byte(csrfCookie), []byte(csrfHeader)) == 1
				if !match {
					if !hasCSRFCookie {
						if token, err := GenerateToken(); err == nil {
							setCookie(w, opts, token)
						}
					}
					http.Error(w, "invalid or missing CSRF token", http.StatusForbidden)
					return
				}
			}

			// Headers must be set before the wrapped handler writes its
			// response, since http.ResponseWriter forbids mutating headers
			// after the status line has gone out.
			if !hasCSRFCookie {
				if token, err := GenerateToken(); err == nil {
					setCookie(w, opts, token)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
