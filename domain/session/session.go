// Package session manages the lifecycle of issued sessions independent of
// token minting (domain/credential): listing a user's active sessions,
// touching last-activity on each authenticated request, and revoking one
// or all of them (e.g. from a "log out this device" UI).
package session

import (
	"context"
	"time"

	"github.com/vaultauth/core/infrastructure/database"
	svcerrors "github.com/vaultauth/core/infrastructure/errors"
)

// Repository is the subset of the database layer this service depends on.
type Repository interface {
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*database.UserSession, error)
	UpdateSessionActivity(ctx context.Context, sessionID string) error
	RevokeSession(ctx context.Context, tokenHash, replacedBy string) error
	DeleteUserSessions(ctx context.Context, userID string) error
	ListUserSessions(ctx context.Context, userID string) ([]database.UserSession, error)
}

// Service exposes session lifecycle operations to the HTTP layer.
type Service struct {
	repo Repository
}

// New constructs a Service.
func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// Find returns a session by its refresh-token hash.
func (s *Service) Find(ctx context.Context, tokenHash string) (*database.UserSession, error) {
	return s.repo.GetSessionByTokenHash(ctx, tokenHash)
}

// Touch records activity on a session, called on every authenticated
// request so ListForUser reflects genuine recent-use ordering.
func (s *Service) Touch(ctx context.Context, sessionID string) error {
	return s.repo.UpdateSessionActivity(ctx, sessionID)
}

// ListForUser returns all of a user's non-revoked, non-expired sessions.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]database.UserSession, error) {
	return s.repo.ListUserSessions(ctx, userID)
}

// Revoke revokes a single session, verifying it belongs to requestingUserID
// so one user cannot revoke another's session by guessing its token hash.
func (s *Service) Revoke(ctx context.Context, requestingUserID, tokenHash string) error {
	existing, err := s.repo.GetSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		return err
	}
	if existing.UserID != requestingUserID {
		return svcerrors.Forbidden("session does not belong to the requesting user")
	}
	return s.repo.RevokeSession(ctx, tokenHash, "")
}

// RevokeAllForUser revokes every session belonging to a user (logout
// everywhere, or an admin-initiated account lockout).
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) error {
	return s.repo.DeleteUserSessions(ctx, userID)
}

// IsStale reports whether a session has had no activity for longer than
// maxIdle, for callers that want to proactively expire quiet sessions
// ahead of their hard expires_at.
func IsStale(sess *database.UserSession, now time.Time, maxIdle time.Duration) bool {
	return now.Sub(sess.LastActive) > maxIdle
}
