package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaultauth/core/domain/deposit"
	"github.com/vaultauth/core/domain/policy"
	"github.com/vaultauth/core/domain/wallet"
	"github.com/vaultauth/core/infrastructure/database"
	"github.com/vaultauth/core/infrastructure/httputil"
	"github.com/vaultauth/core/infrastructure/utils"
)

// webhookReplayWindow bounds how long a given webhook signature is
// remembered for duplicate-delivery rejection, matching the indexer's own
// retry horizon for an unacknowledged delivery.
const webhookReplayWindow = 10 * time.Minute

func generateNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// handleNonce issues (or reuses) a user record for address and returns a
// fresh challenge nonce bound to it, per the 2-step nonce/register flow:
// POST /auth/nonce then POST /auth/register or /auth/login.
func (a *app) handleNonce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := database.ValidateAddress(req.Address); err != nil {
		httputil.BadRequest(w, "invalid address")
		return
	}

	nonce, err := generateNonce()
	if err != nil {
		httputil.InternalError(w, "failed to generate nonce")
		return
	}

	user, err := a.db.GetUserByAddress(r.Context(), req.Address)
	if err != nil {
		if !database.IsNotFound(err) {
			httputil.InternalError(w, "failed to look up user")
			return
		}
		user = &database.User{Address: req.Address}
		if err := a.db.CreateUser(r.Context(), user); err != nil {
			httputil.InternalError(w, "failed to create user")
			return
		}
	}
	if err := a.db.UpdateUserNonce(r.Context(), user.ID, nonce); err != nil {
		httputil.InternalError(w, "failed to store nonce")
		return
	}

	message := "Sign this message to authenticate.\n\nNonce: " + nonce + "\nTimestamp: " + time.Now().Format(time.RFC3339)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"nonce":   nonce,
		"message": message,
	})
}

type walletAuthRequest struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	Message   string `json:"message"`
	Nonce     string `json:"nonce"`
}

func (a *app) issueTokenPair(w http.ResponseWriter, r *http.Request, user *database.User) {
	accessToken, _, err := a.credentials.IssueAccessToken(user)
	if err != nil {
		httputil.InternalError(w, "failed to issue access token")
		return
	}
	refreshToken, refreshExpiresAt, err := a.credentials.IssueRefreshToken(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		httputil.InternalError(w, "failed to issue refresh token")
		return
	}

	if nextNonce, err := generateNonce(); err == nil {
		_ = a.db.UpdateUserNonce(r.Context(), user.ID, nextNonce)
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":            user.ID,
		"address":            user.Address,
		"access_token":       accessToken,
		"refresh_token":      refreshToken,
		"refresh_expires_at": refreshExpiresAt,
	})
}

// issueTokenPairWithWallet is issueTokenPair plus the one-time wallet
// material a fresh registration produces (Share A and any recovery
// artifact), merged into the same response body.
func (a *app) issueTokenPairWithWallet(w http.ResponseWriter, r *http.Request, user *database.User, material wallet.Material) {
	accessToken, _, err := a.credentials.IssueAccessToken(user)
	if err != nil {
		httputil.InternalError(w, "failed to issue access token")
		return
	}
	refreshToken, refreshExpiresAt, err := a.credentials.IssueRefreshToken(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		httputil.InternalError(w, "failed to issue refresh token")
		return
	}

	if nextNonce, err := generateNonce(); err == nil {
		_ = a.db.UpdateUserNonce(r.Context(), user.ID, nextNonce)
	}

	body := map[string]interface{}{
		"user_id":            user.ID,
		"address":            user.Address,
		"access_token":       accessToken,
		"refresh_token":      refreshToken,
		"refresh_expires_at": refreshExpiresAt,
	}
	for k, v := range walletMaterialJSON(material) {
		body[k] = v
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

// handleRegister completes the challenge-response flow for a brand-new
// wallet address: verifies the signature over the issued nonce, creates a
// custodial embedded wallet protected by the caller's credential, and issues
// an access/refresh token pair. The wallet material — Share A and, per
// recovery_mode, a recovery artifact — is returned exactly once; it is not
// retrievable through any other call.
func (a *app) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		walletAuthRequest
		Credential     string `json:"credential"`
		CredentialKind string `json:"credential_kind"`
		RecoveryMode   string `json:"recovery_mode"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.PublicKey == "" || req.Signature == "" || req.Message == "" {
		httputil.BadRequest(w, "publicKey, signature, and message are required")
		return
	}
	if req.Credential == "" {
		httputil.BadRequest(w, "credential is required")
		return
	}
	if err := database.ValidateAddress(req.Address); err != nil {
		httputil.BadRequest(w, "invalid address")
		return
	}
	recoveryMode, err := parseRecoveryMode(req.RecoveryMode)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	user, err := a.db.GetUserByAddress(r.Context(), req.Address)
	if err != nil {
		if database.IsNotFound(err) {
			httputil.BadRequest(w, "nonce not issued - call /auth/nonce first")
			return
		}
		httputil.InternalError(w, "failed to look up user")
		return
	}
	if user.Nonce == "" || user.Nonce != req.Nonce || !strings.Contains(req.Message, user.Nonce) {
		httputil.Unauthorized(w, "invalid nonce")
		return
	}
	if err := a.wallets.VerifyLogin(r.Context(), user.ID, req.Address, req.Signature, req.Message, req.PublicKey); err != nil {
		httputil.Unauthorized(w, "wallet ownership verification failed")
		return
	}

	credentialKind := req.CredentialKind
	if credentialKind == "" {
		credentialKind = "password"
	}
	material, err := a.wallets.Create(r.Context(), user.ID, []byte(req.Credential), credentialKind, recoveryMode)
	if err != nil {
		httputil.InternalError(w, "failed to create custodial wallet")
		return
	}

	a.issueTokenPairWithWallet(w, r, user, material)
}

// parseRecoveryMode maps an optional recovery_mode request field to its
// domain type, defaulting to RecoveryNone when the field is omitted.
func parseRecoveryMode(raw string) (wallet.RecoveryMode, error) {
	if raw == "" {
		return wallet.RecoveryNone, nil
	}
	mode := wallet.RecoveryMode(raw)
	switch mode {
	case wallet.RecoveryNone, wallet.RecoveryShareCOnly, wallet.RecoveryFullSeed:
		return mode, nil
	default:
		return "", errInvalidRecoveryMode
	}
}

var errInvalidRecoveryMode = errors.New("recovery_mode must be one of none, share-c-only, full-seed")

// walletMaterialJSON converts one-time wallet material into its wire form.
func walletMaterialJSON(material wallet.Material) map[string]interface{} {
	body := map[string]interface{}{
		"address": material.Address,
		"share_a": hex.EncodeToString(material.ShareA),
	}
	if material.Recovery != nil {
		body["recovery"] = hex.EncodeToString(material.Recovery)
	}
	return body
}

// handleLogin completes the challenge-response flow for a returning wallet
// address and issues a fresh access/refresh token pair.
func (a *app) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req walletAuthRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.PublicKey == "" || req.Signature == "" || req.Message == "" {
		httputil.BadRequest(w, "publicKey, signature, and message are required")
		return
	}
	if err := database.ValidateAddress(req.Address); err != nil {
		httputil.BadRequest(w, "invalid address")
		return
	}

	user, err := a.db.GetUserByAddress(r.Context(), req.Address)
	if err != nil {
		if database.IsNotFound(err) {
			httputil.NotFound(w, "user not found")
			return
		}
		httputil.InternalError(w, "failed to look up user")
		return
	}
	if req.Nonce == "" || user.Nonce == "" || req.Nonce != user.Nonce || !strings.Contains(req.Message, user.Nonce) {
		httputil.Unauthorized(w, "invalid nonce")
		return
	}
	if err := a.wallets.VerifyLogin(r.Context(), user.ID, req.Address, req.Signature, req.Message, req.PublicKey); err != nil {
		httputil.Unauthorized(w, "wallet ownership verification failed")
		return
	}

	a.issueTokenPair(w, r, user)
}

// handleRefresh rotates a presented refresh token for a new access/refresh
// pair, revoking every session for the user if reuse of an already-rotated
// token is detected.
func (a *app) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.BadRequest(w, "refresh_token is required")
		return
	}

	pair, err := a.credentials.Rotate(r.Context(), req.RefreshToken, r.UserAgent(), clientIP(r), a.db.GetUser)
	if err != nil {
		httputil.Unauthorized(w, "refresh failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":       pair.AccessToken,
		"access_expires_at":  pair.AccessExpiresAt,
		"refresh_token":      pair.RefreshToken,
		"refresh_expires_at": pair.RefreshExpiresAt,
	})
}

func (a *app) handleJWKS(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, a.credentials.JWKS())
}

// handleLogout revokes the presented refresh token. It does not blacklist
// the still-live access token; callers rely on its short TTL to expire.
func (a *app) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = httputil.DecodeJSONOptional(w, r, &req)
	if req.RefreshToken != "" {
		_ = a.credentials.Revoke(r.Context(), req.RefreshToken)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (a *app) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	sessions, err := a.sessions.ListForUser(r.Context(), claims.Subject)
	if err != nil {
		httputil.InternalError(w, "failed to list sessions")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessions)
}

func (a *app) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	tokenHash := mux.Vars(r)["tokenHash"]
	if err := a.sessions.Revoke(r.Context(), claims.Subject, tokenHash); err != nil {
		httputil.Forbidden(w, "not your session")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (a *app) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential     string `json:"credential"`
		CredentialKind string `json:"credential_kind"`
		RecoveryMode   string `json:"recovery_mode"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Credential == "" {
		httputil.BadRequest(w, "credential is required")
		return
	}
	recoveryMode, err := parseRecoveryMode(req.RecoveryMode)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	credentialKind := req.CredentialKind
	if credentialKind == "" {
		credentialKind = "password"
	}

	claims := claimsFromContext(r.Context())
	material, err := a.wallets.Create(r.Context(), claims.Subject, []byte(req.Credential), credentialKind, recoveryMode)
	if err != nil {
		httputil.InternalError(w, "failed to create wallet")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, walletMaterialJSON(material))
}

func (a *app) handleRotateWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential     string `json:"credential"`
		CredentialKind string `json:"credential_kind"`
		RecoveryMode   string `json:"recovery_mode"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Credential == "" {
		httputil.BadRequest(w, "credential is required")
		return
	}
	recoveryMode, err := parseRecoveryMode(req.RecoveryMode)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	credentialKind := req.CredentialKind
	if credentialKind == "" {
		credentialKind = "password"
	}

	claims := claimsFromContext(r.Context())
	material, err := a.wallets.Rotate(r.Context(), claims.Subject, []byte(req.Credential), credentialKind, recoveryMode)
	if err != nil {
		httputil.InternalError(w, "failed to rotate wallet")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, walletMaterialJSON(material))
}

// handleUnlockWallet decrypts the caller's server-held Share B using the
// presented credential and caches it, scoped to the current session, for the
// configured unlock TTL. A subsequent /wallet/sign call supplies Share A
// fresh and needs no credential of its own.
func (a *app) handleUnlockWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Credential == "" {
		httputil.BadRequest(w, "credential is required")
		return
	}

	claims := claimsFromContext(r.Context())
	if err := a.wallets.Unlock(r.Context(), claims.Subject, sessionIDFromContext(r.Context()), []byte(req.Credential)); err != nil {
		httputil.Unauthorized(w, "invalid wallet credential")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func (a *app) handleSignWithWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageHex string `json:"message_hex"`
		ShareAHex  string `json:"share_a_hex"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	message, err := hex.DecodeString(req.MessageHex)
	if err != nil {
		httputil.BadRequest(w, "message_hex must be hex-encoded")
		return
	}
	shareA, err := hex.DecodeString(req.ShareAHex)
	if err != nil {
		httputil.BadRequest(w, "share_a_hex must be hex-encoded")
		return
	}

	claims := claimsFromContext(r.Context())
	sig, err := a.wallets.Sign(r.Context(), claims.Subject, sessionIDFromContext(r.Context()), shareA, message)
	if err != nil {
		httputil.Unauthorized(w, "failed to sign message")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"signature_hex": hex.EncodeToString(sig)})
}

func (a *app) handleVerifyWalletLogin(w http.ResponseWriter, r *http.Request) {
	var req walletAuthRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())
	if err := a.wallets.VerifyLogin(r.Context(), claims.Subject, req.Address, req.Signature, req.Message, req.PublicKey); err != nil {
		httputil.Unauthorized(w, "signature verification failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (a *app) handleCreatePrivateDeposit(w http.ResponseWriter, r *http.Request) {
	if !a.cfg.Privacy.Enabled {
		httputil.NotFound(w, "private deposits are not enabled")
		return
	}

	var req struct {
		FromAddress    string `json:"from_address"`
		Mint           string `json:"mint"`
		Amount         int64  `json:"amount"`
		NoteCommit     string `json:"note_commit"`
		SignatureHex   string `json:"signature_hex"`
		ShareAHex      string `json:"share_a_hex"`
		PrivacyPeriodS int64  `json:"privacy_period_secs"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	shareA, err := hex.DecodeString(req.ShareAHex)
	if err != nil {
		httputil.BadRequest(w, "share_a_hex must be hex-encoded")
		return
	}

	claims := claimsFromContext(r.Context())
	var privacyPeriod time.Duration
	if req.PrivacyPeriodS > 0 {
		privacyPeriod = time.Duration(req.PrivacyPeriodS) * time.Second
	}
	session, err := a.deposits.CreatePrivateDeposit(r.Context(), claims.Subject, sessionIDFromContext(r.Context()), shareA,
		req.FromAddress, req.Mint, req.Amount, req.NoteCommit, req.SignatureHex, privacyPeriod)
	if err != nil {
		httputil.InternalError(w, "failed to create private deposit")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (a *app) handleCreatePublicDepositIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromAddress string `json:"from_address"`
		Mint        string `json:"mint"`
		Amount      int64  `json:"amount"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())
	deposit, err := a.deposits.CreatePublicDepositIntent(r.Context(), claims.Subject, req.FromAddress, req.Mint, req.Amount)
	if err != nil {
		httputil.InternalError(w, "failed to create deposit intent")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, deposit)
}

func (a *app) handleCreateMicroDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromAddress string `json:"from_address"`
		Mint        string `json:"mint"`
		Amount      int64  `json:"amount"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())
	deposit, err := a.deposits.CreateMicroDeposit(r.Context(), claims.Subject, req.FromAddress, req.Mint, req.Amount)
	if err != nil {
		httputil.InternalError(w, "failed to create micro deposit")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, deposit)
}

func (a *app) handleWithdrawSOL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToAddress    string `json:"to_address"`
		Lamports     int64  `json:"lamports"`
		SignatureHex string `json:"signature_hex"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())
	result, err := a.deposits.WithdrawSOL(r.Context(), claims.Subject, req.ToAddress, req.Lamports, req.SignatureHex)
	if err != nil {
		httputil.InternalError(w, "withdrawal failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (a *app) handleWithdrawNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToAddress    string `json:"to_address"`
		NoteSecret   string `json:"note_secret"`
		Amount       int64  `json:"amount"`
		SignatureHex string `json:"signature_hex"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())
	result, err := a.deposits.WithdrawNote(r.Context(), claims.Subject, req.ToAddress, req.NoteSecret, req.Amount, req.SignatureHex)
	if err != nil {
		httputil.InternalError(w, "withdrawal failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (a *app) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action   string `json:"action"`
		Resource struct {
			Type    string `json:"type"`
			ID      string `json:"id"`
			OwnerID string `json:"owner_id"`
			OrgID   string `json:"org_id"`
		} `json:"resource"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())
	allowed, err := a.engine.Authorize(r.Context(), policy.Subject{
		ID:   claims.Subject,
		Role: claims.Role,
	}, req.Action, policy.Resource{
		Type:    req.Resource.Type,
		ID:      req.Resource.ID,
		OwnerID: req.Resource.OwnerID,
		OrgID:   req.Resource.OrgID,
	})
	if err != nil {
		httputil.InternalError(w, "policy evaluation failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// handleDepositWebhook ingests an indexer's signed token-transfer delivery.
// The shared secret and allow-listed mints come from settings so they can
// be rotated without a redeploy.
func (a *app) handleDepositWebhook(w http.ResponseWriter, r *http.Request) {
	secret := a.settings.GetString(r.Context(), "deposit.webhook_secret", "")
	if secret == "" {
		httputil.InternalError(w, "webhook secret not configured")
		return
	}
	body, err := httputil.ReadAllStrict(r.Body, a.cfg.Sidecar.MaxBodyBytes)
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}
	signature := r.Header.Get("X-Webhook-Signature")
	if signature != "" && !a.webhookReplayGuard.ValidateAndMark(signature) {
		httputil.BadRequest(w, "duplicate webhook delivery")
		return
	}

	result, err := a.deposits.IngestTokenTransferWebhook(r.Context(), secret, body, signature, a.allowedMints())
	if err != nil {
		httputil.Unauthorized(w, "signature verification failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	return r.RemoteAddr
}

// allowedMints parses the deposit.allowed_mints setting, a comma-separated
// list of mint:decimals pairs (e.g. "So111...:9,EPjF...:6"), into the form
// the deposit service's webhook ingestion expects.
func (a *app) allowedMints() map[string]deposit.MintConfig {
	raw := a.settings.GetString(context.Background(), "deposit.allowed_mints", "")
	mints := make(map[string]deposit.MintConfig)
	if raw == "" {
		return mints
	}
	for _, pair := range utils.TrimEmpty(utils.SplitTrim(raw, ",")) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		decimals, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		mint := strings.TrimSpace(parts[0])
		mints[mint] = deposit.MintConfig{Mint: mint, Decimals: decimals}
	}
	return mints
}
