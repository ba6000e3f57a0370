package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vaultauth/core/domain/csrf"
	"github.com/vaultauth/core/domain/ratelimit"
	"github.com/vaultauth/core/infrastructure/middleware"
)

// registerRoutes mirrors the teacher gateway's public/protected subrouter
// split: unauthenticated wallet-challenge routes on one subrouter (health
// routes sit directly on the root router), bearer-token-gated account/wallet/deposit routes behind
// authMiddleware on the other.
func (a *app) registerRoutes(router *mux.Router, limiter *ratelimit.Limiter) {
	limited := ratelimit.Middleware(limiter, ratelimit.IPAndPath)

	router.Handle("/healthz", middleware.LivenessHandler()).Methods(http.MethodGet)
	ready := true
	router.Handle("/readyz", middleware.ReadinessHandler(&ready)).Methods(http.MethodGet)

	public := router.PathPrefix("/auth").Subrouter()
	public.Use(limited)
	public.HandleFunc("/nonce", a.handleNonce).Methods(http.MethodPost)
	public.HandleFunc("/register", a.handleRegister).Methods(http.MethodPost)
	public.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	public.HandleFunc("/refresh", a.handleRefresh).Methods(http.MethodPost)
	public.HandleFunc("/jwks.json", a.handleJWKS).Methods(http.MethodGet)

	csrfOpts := csrf.CookieOptions{
		Secure:          a.cfg.CSRF.Secure,
		Domain:          a.cfg.CSRF.CookieDomain,
		AuthCookieNames: []string{a.cfg.CSRF.CookieName},
	}

	protected := router.PathPrefix("/").Subrouter()
	protected.Use(limited)
	protected.Use(a.authMiddleware)
	protected.Use(csrf.Middleware(csrfOpts))

	protected.HandleFunc("/auth/logout", a.handleLogout).Methods(http.MethodPost)
	protected.HandleFunc("/auth/sessions", a.handleListSessions).Methods(http.MethodGet)
	protected.HandleFunc("/auth/sessions/{tokenHash}", a.handleRevokeSession).Methods(http.MethodDelete)

	protected.HandleFunc("/wallet", a.handleCreateWallet).Methods(http.MethodPost)
	protected.HandleFunc("/wallet/rotate", a.handleRotateWallet).Methods(http.MethodPost)
	protected.HandleFunc("/wallet/unlock", a.handleUnlockWallet).Methods(http.MethodPost)
	protected.HandleFunc("/wallet/sign", a.handleSignWithWallet).Methods(http.MethodPost)
	protected.HandleFunc("/wallet/verify-login", a.handleVerifyWalletLogin).Methods(http.MethodPost)

	protected.HandleFunc("/deposits/private", a.handleCreatePrivateDeposit).Methods(http.MethodPost)
	protected.HandleFunc("/deposits/public", a.handleCreatePublicDepositIntent).Methods(http.MethodPost)
	protected.HandleFunc("/deposits/micro", a.handleCreateMicroDeposit).Methods(http.MethodPost)
	protected.HandleFunc("/withdrawals/sol", a.handleWithdrawSOL).Methods(http.MethodPost)
	protected.HandleFunc("/withdrawals/note", a.handleWithdrawNote).Methods(http.MethodPost)

	protected.HandleFunc("/policy/authorize", a.handleAuthorize).Methods(http.MethodPost)

	// Webhook delivery is authenticated by HMAC signature, not a bearer
	// token, so it's registered directly on the router rather than behind
	// authMiddleware.
	webhooks := router.PathPrefix("/webhooks").Subrouter()
	webhooks.Use(limited)
	webhooks.HandleFunc("/deposits", a.handleDepositWebhook).Methods(http.MethodPost)
}
