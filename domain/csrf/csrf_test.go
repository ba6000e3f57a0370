package csrf

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func testOptions() CookieOptions {
	return CookieOptions{
		Secure:          false,
		SameSite:        http.SameSiteLaxMode,
		AuthCookieNames: []string{"session"},
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGenerateToken_Length(t *testing.T) {
	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if len(token) != tokenLength {
		t.Errorf("len(token) = %d, want %d", len(token), tokenLength)
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		tok, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		if seen[tok] {
			t.Fatal("generated duplicate token")
		}
		seen[tok] = true
	}
}

func TestMiddleware_SetsCookieOnSafeRequest(t *testing.T) {
	handler := Middleware(testOptions())(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			found = true
		}
	}
	if !found {
		t.Error("expected XSRF-TOKEN cookie to be set")
	}
}

func TestMiddleware_BlocksUnsafeRequestWithoutToken(t *testing.T) {
	handler := Middleware(testOptions())(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Cookie", "session=abc123")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestMiddleware_BlocksMismatchedToken(t *testing.T) {
	handler := Middleware(testOptions())(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Cookie", "session=abc123; XSRF-TOKEN=tokenA")
	req.Header.Set(HeaderName, "tokenB")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestMiddleware_AllowsMatchingToken(t *testing.T) {
	handler := Middleware(testOptions())(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Cookie", "session=abc123; XSRF-TOKEN=matching-token")
	req.Header.Set(HeaderName, "matching-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestMiddleware_SkipsRequestsWithoutAuthCookie(t *testing.T) {
	handler := Middleware(testOptions())(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for non-cookie-authenticated request", rec.Code)
	}
}

func TestMiddleware_AcceptsLegacyCookieName(t *testing.T) {
	handler := Middleware(testOptions())(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Cookie", "session=abc123; csrf-token=legacy-token")
	req.Header.Set(HeaderName, "legacy-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when legacy cookie name matches header", rec.Code)
	}
}

func TestIsValidCookieDomain(t *testing.T) {
	cases := map[string]bool{
		".com":         false,
		"com":          false,
		".example.com": true,
		"example.com":  true,
		"":             false,
	}
	for domain, want := range cases {
		if got := isValidCookieDomain(domain); got != want {
			t.Errorf("isValidCookieDomain(%q) = %v, want %v", domain, got, want)
		}
	}
}

func TestMiddleware_SkipsInvalidDomainAttribute(t *testing.T) {
	opts := testOptions()
	opts.Domain = ".com"
	handler := Middleware(opts)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName && c.Domain != "" {
			t.Errorf("expected no Domain attribute for invalid domain, got %q", c.Domain)
		}
	}
}
