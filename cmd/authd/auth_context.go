package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/vaultauth/core/domain/credential"
	"github.com/vaultauth/core/infrastructure/httputil"
)

type ctxKey int

const (
	claimsCtxKey ctxKey = iota
	sessionIDCtxKey
)

// authMiddleware validates the bearer access token and binds its claims to
// the request context for downstream handlers and the policy check. The
// access token's own hash doubles as the wallet-unlock session key, so a
// reconstructed private key never outlives the token that unlocked it.
func (a *app) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			httputil.Unauthorized(w, "missing bearer token")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		claims, err := a.credentials.ValidateAccessToken(r.Context(), token)
		if err != nil {
			httputil.Unauthorized(w, "invalid or expired token")
			return
		}
		sum := sha256.Sum256([]byte(token))
		ctx := context.WithValue(r.Context(), claimsCtxKey, claims)
		ctx = context.WithValue(ctx, sessionIDCtxKey, hex.EncodeToString(sum[:]))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *credential.Claims {
	claims, _ := ctx.Value(claimsCtxKey).(*credential.Claims)
	return claims
}

func sessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDCtxKey).(string)
	return id
}
