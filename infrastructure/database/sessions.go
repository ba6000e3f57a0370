package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateSession creates a new user session.
func (r *Repository) CreateSession(ctx context.Context, session *UserSession) error {
	if session == nil {
		return fmt.Errorf("%w: session cannot be nil", ErrInvalidInput)
	}
	if err := ValidateUserID(session.UserID); err != nil {
		return err
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_sessions (id, user_id, token_hash, user_agent, ip, created_at, last_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, now(), now(), $6)`,
		session.ID, session.UserID, session.TokenHash, session.UserAgent, session.IP, session.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("%w: create session: %v", ErrDatabaseError, err)
	}
	return nil
}

// GetSessionByTokenHash retrieves a non-expired, non-revoked session by token hash.
func (r *Repository) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*UserSession, error) {
	if tokenHash == "" {
		return nil, fmt.Errorf("%w: token_hash cannot be empty", ErrInvalidInput)
	}
	tokenHash = SanitizeString(tokenHash)

	var s UserSession
	err := r.db.GetContext(ctx, &s, `
		SELECT * FROM user_sessions
		WHERE token_hash = $1 AND expires_at > now() AND revoked_at IS NULL
		LIMIT 1`, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("session", tokenHash)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get session by token hash: %v", ErrDatabaseError, err)
	}
	return &s, nil
}

// GetSessionByTokenHashAny retrieves a session by token hash regardless of
// revocation or expiry, for refresh-token reuse detection: a caller
// presenting an already-revoked token is either racing its own rotation or
// replaying a stolen token, and the two cases look alike here.
func (r *Repository) GetSessionByTokenHashAny(ctx context.Context, tokenHash string) (*UserSession, error) {
	if tokenHash == "" {
		return nil, fmt.Errorf("%w: token_hash cannot be empty", ErrInvalidInput)
	}
	tokenHash = SanitizeString(tokenHash)

	var s UserSession
	err := r.db.GetContext(ctx, &s, `SELECT * FROM user_sessions WHERE token_hash = $1 LIMIT 1`, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("session", tokenHash)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get session by token hash: %v", ErrDatabaseError, err)
	}
	return &s, nil
}

// UpdateSessionActivity updates the last_active timestamp.
func (r *Repository) UpdateSessionActivity(ctx context.Context, sessionID string) error {
	if err := ValidateID(sessionID); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE user_sessions SET last_active = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: update session activity: %v", ErrDatabaseError, err)
	}
	return checkRowsAffected(res, "session", sessionID)
}

// RevokeSession marks a session revoked, optionally recording the token hash
// of the session that replaced it (refresh-token rotation chain, used for
// reuse detection).
func (r *Repository) RevokeSession(ctx context.Context, tokenHash, replacedBy string) error {
	if tokenHash == "" {
		return fmt.Errorf("%w: token_hash cannot be empty", ErrInvalidInput)
	}
	tokenHash = SanitizeString(tokenHash)

	_, err := r.db.ExecContext(ctx, `
		UPDATE user_sessions SET revoked_at = now(), replaced_by = $1
		WHERE token_hash = $2 AND revoked_at IS NULL`, replacedBy, tokenHash)
	if err != nil {
		return fmt.Errorf("%w: revoke session: %v", ErrDatabaseError, err)
	}
	return nil
}

// DeleteUserSessions deletes all sessions for a user (logout-everywhere).
func (r *Repository) DeleteUserSessions(ctx context.Context, userID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("%w: delete user sessions: %v", ErrDatabaseError, err)
	}
	return nil
}

// ListUserSessions lists all active sessions for a user, most recent first.
func (r *Repository) ListUserSessions(ctx context.Context, userID string) ([]UserSession, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	var sessions []UserSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM user_sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > now()
		ORDER BY last_active DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list user sessions: %v", ErrDatabaseError, err)
	}
	return sessions, nil
}
