package main

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultauth/core/domain/credential"
)

func TestClaimsAndSessionIDFromContext_RoundTrip(t *testing.T) {
	claims := &credential.Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}
	ctx := context.WithValue(context.Background(), claimsCtxKey, claims)
	ctx = context.WithValue(ctx, sessionIDCtxKey, "deadbeef")

	if got := claimsFromContext(ctx); got != claims {
		t.Errorf("claimsFromContext() = %+v, want %+v", got, claims)
	}
	if got := sessionIDFromContext(ctx); got != "deadbeef" {
		t.Errorf("sessionIDFromContext() = %q, want %q", got, "deadbeef")
	}
}

func TestClaimsFromContext_AbsentReturnsNil(t *testing.T) {
	if got := claimsFromContext(context.Background()); got != nil {
		t.Errorf("claimsFromContext() on empty context = %+v, want nil", got)
	}
}

func TestSessionIDFromContext_AbsentReturnsEmptyString(t *testing.T) {
	if got := sessionIDFromContext(context.Background()); got != "" {
		t.Errorf("sessionIDFromContext() on empty context = %q, want empty", got)
	}
}
