// Package credential issues and verifies the access/refresh token pair that
// authenticates every other domain operation: RS256 JWT access tokens with
// a published JWKS, and opaque, single-use, rotating refresh tokens with
// reuse detection. A deprecated HS256 verification path is kept alive only
// until LegacyGraceUntil, for clients holding tokens minted before the
// RS256 migration.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultauth/core/infrastructure/database"
	svcerrors "github.com/vaultauth/core/infrastructure/errors"
	"github.com/vaultauth/core/infrastructure/logging"
)

// Claims are the registered + application claims carried in an access token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Sessions is the subset of the database layer the manager uses for
// refresh-token storage and reuse detection.
type Sessions interface {
	CreateSession(ctx context.Context, session *database.UserSession) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*database.UserSession, error)
	GetSessionByTokenHashAny(ctx context.Context, tokenHash string) (*database.UserSession, error)
	RevokeSession(ctx context.Context, tokenHash, replacedBy string) error
	DeleteUserSessions(ctx context.Context, userID string) error
}

// Config configures a Manager.
type Config struct {
	PrivateKey      *rsa.PrivateKey
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// LegacyHS256Secret, when non-empty, is accepted for verification only
	// (never for issuance) until LegacyGraceUntil.
	LegacyHS256Secret string
	LegacyGraceUntil  time.Time
}

// Manager issues and verifies credentials for a single signing key.
type Manager struct {
	cfg      Config
	kid      string
	sessions Sessions
	logger   *logging.Logger
}

// New constructs a Manager. cfg.PrivateKey must be set.
func New(cfg Config, sessions Sessions, logger *logging.Logger) (*Manager, error) {
	if cfg.PrivateKey == nil {
		return nil, errors.New("credential: private key is required")
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		cfg:      cfg,
		kid:      KeyID(&cfg.PrivateKey.PublicKey),
		sessions: sessions,
		logger:   logger,
	}, nil
}

// JWKS renders the manager's current public key as a JSON Web Key Set.
func (m *Manager) JWKS() JWKS {
	return JWKS{Keys: []JWK{PublicJWK(&m.cfg.PrivateKey.PublicKey)}}
}

// IssueAccessToken mints a short-lived RS256 access token for user.
func (m *Manager) IssueAccessToken(user *database.User) (token string, expiresAt time.Time, err error) {
	now := time.Now()
	expiresAt = now.Add(m.cfg.AccessTokenTTL)
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.cfg.Issuer,
			Audience:  jwt.ClaimStrings{m.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	jwtToken := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	jwtToken.Header["kid"] = m.kid

	signed, err := jwtToken.SignedString(m.cfg.PrivateKey)
	if err != nil {
		return "", time.Time{}, svcerrors.Internal("sign access token", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken verifies an access token's signature and claims,
// trying RS256 first and falling back to the legacy HS256 verifier only
// while LegacyGraceUntil has not yet passed.
func (m *Manager) ValidateAccessToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := m.validateRS256(tokenString)
	if err == nil {
		return claims, nil
	}

	if m.cfg.LegacyHS256Secret != "" && time.Now().Before(m.cfg.LegacyGraceUntil) {
		if legacyClaims, legacyErr := m.validateLegacyHS256(ctx, tokenString); legacyErr == nil {
			return legacyClaims, nil
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, svcerrors.TokenExpired()
	}
	return nil, svcerrors.InvalidToken(err)
}

func (m *Manager) validateRS256(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return &m.cfg.PrivateKey.PublicKey, nil
	}, jwt.WithIssuer(m.cfg.Issuer), jwt.WithAudience(m.cfg.Audience))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *Manager) validateLegacyHS256(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.cfg.LegacyHS256Secret), nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.WithContext(ctx).Warn("accepted legacy HS256 access token")
	return claims, nil
}

// RefreshPair is a newly issued access/refresh token pair.
type RefreshPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// IssueRefreshToken creates a new session row and returns its opaque
// plaintext token. Only the SHA-256 hash of the token is ever persisted.
func (m *Manager) IssueRefreshToken(ctx context.Context, user *database.User, userAgent, ip string) (string, time.Time, error) {
	plaintext, err := generateOpaqueToken()
	if err != nil {
		return "", time.Time{}, svcerrors.Internal("generate refresh token", err)
	}
	expiresAt := time.Now().Add(m.cfg.RefreshTokenTTL)

	session := &database.UserSession{
		UserID:    user.ID,
		TokenHash: hashToken(plaintext),
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: expiresAt,
	}
	if err := m.sessions.CreateSession(ctx, session); err != nil {
		return "", time.Time{}, err
	}
	return plaintext, expiresAt, nil
}

// Rotate exchanges a refresh token for a new access/refresh pair, revoking
// the presented token and chaining it to its replacement. Presenting a
// token that has already been revoked is treated as reuse of a stolen
// token: every session belonging to that user is revoked and the caller
// must re-authenticate. An expired, unrevoked token is only rejected.
func (m *Manager) Rotate(ctx context.Context, refreshToken, userAgent, ip string, userLookup func(ctx context.Context, id string) (*database.User, error)) (*RefreshPair, error) {
	tokenHash := hashToken(refreshToken)

	session, err := m.sessions.GetSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		if reuseErr := m.detectReuse(ctx, tokenHash); reuseErr != nil {
			return nil, reuseErr
		}
		return nil, svcerrors.Unauthorized("refresh token not found or expired")
	}

	user, err := userLookup(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	newRefresh, newRefreshExpiry, err := m.IssueRefreshToken(ctx, user, userAgent, ip)
	if err != nil {
		return nil, err
	}
	newHash := hashToken(newRefresh)
	if err := m.sessions.RevokeSession(ctx, tokenHash, newHash); err != nil {
		return nil, err
	}

	accessToken, accessExpiry, err := m.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	return &RefreshPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     newRefresh,
		RefreshExpiresAt: newRefreshExpiry,
	}, nil
}

// detectReuse checks whether tokenHash belongs to an already-revoked
// session; if so it revokes every other session for that user and returns
// an error describing the breach response. Returns nil if the hash simply
// doesn't exist (a genuinely invalid token, not a reuse signal).
func (m *Manager) detectReuse(ctx context.Context, tokenHash string) error {
	session, err := m.sessions.GetSessionByTokenHashAny(ctx, tokenHash)
	if err != nil {
		return nil
	}
	if session.RevokedAt == nil {
		return nil
	}
	m.logger.WithError(errors.New("refresh token reuse")).Warn("refresh token reuse detected, revoking all sessions")
	if err := m.sessions.DeleteUserSessions(ctx, session.UserID); err != nil {
		return err
	}
	return svcerrors.Unauthorized("refresh token reuse detected; all sessions revoked")
}

// Revoke invalidates a single refresh token (logout).
func (m *Manager) Revoke(ctx context.Context, refreshToken string) error {
	return m.sessions.RevokeSession(ctx, hashToken(refreshToken), "")
}

// RevokeAll invalidates every session for a user (logout-everywhere).
func (m *Manager) RevokeAll(ctx context.Context, userID string) error {
	return m.sessions.DeleteUserSessions(ctx, userID)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateOpaqueToken returns a CSPRNG token with at least 256 bits of
// entropy, base64url-encoded for safe transport in headers/cookies/JSON.
func generateOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
