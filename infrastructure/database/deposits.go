package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateDepositRequest inserts a new deposit request (private, public, or micro).
func (r *Repository) CreateDepositRequest(ctx context.Context, deposit *DepositRequest) error {
	if deposit == nil {
		return fmt.Errorf("%w: deposit cannot be nil", ErrInvalidInput)
	}
	if err := ValidateUserID(deposit.UserID); err != nil {
		return err
	}
	if deposit.ID == "" {
		deposit.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deposit_requests
			(id, user_id, account_id, kind, amount, token_mint, tx_signature, from_address,
			 status, confirmations, required_confirmations, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, now(), $12)`,
		deposit.ID, deposit.UserID, deposit.AccountID, deposit.Kind, deposit.Amount,
		deposit.TokenMint, deposit.TxSignature, deposit.FromAddress,
		deposit.Status, deposit.Confirmations, deposit.RequiredConfirmations, deposit.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("%w: create deposit request: %v", ErrDatabaseError, err)
	}
	return nil
}

// GetDepositRequests lists the most recent deposit requests for a user.
func (r *Repository) GetDepositRequests(ctx context.Context, userID string, limit int) ([]DepositRequest, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	limit = ValidateLimit(limit, 50, 1000)
	var deposits []DepositRequest
	err := r.db.SelectContext(ctx, &deposits, `
		SELECT * FROM deposit_requests WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: get deposit requests: %v", ErrDatabaseError, err)
	}
	return deposits, nil
}

// GetDepositByTxSignature retrieves a deposit request by its on-chain tx signature.
func (r *Repository) GetDepositByTxSignature(ctx context.Context, txSignature string) (*DepositRequest, error) {
	if txSignature == "" {
		return nil, fmt.Errorf("%w: tx_signature cannot be empty", ErrInvalidInput)
	}
	var d DepositRequest
	err := r.db.GetContext(ctx, &d, `SELECT * FROM deposit_requests WHERE tx_signature = $1`, txSignature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("deposit", txSignature)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get deposit by tx signature: %v", ErrDatabaseError, err)
	}
	return &d, nil
}

// UpdateDepositStatus updates a deposit's confirmation status.
func (r *Repository) UpdateDepositStatus(ctx context.Context, depositID, status string, confirmations int) error {
	if err := ValidateID(depositID); err != nil {
		return err
	}
	var confirmedAt *time.Time
	if status == "confirmed" {
		now := time.Now()
		confirmedAt = &now
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE deposit_requests
		SET status = $1, confirmations = $2, confirmed_at = COALESCE($3, confirmed_at)
		WHERE id = $4`, status, confirmations, confirmedAt, depositID)
	if err != nil {
		return fmt.Errorf("%w: update deposit status: %v", ErrDatabaseError, err)
	}
	return checkRowsAffected(res, "deposit", depositID)
}

// GetPendingDeposits lists deposits still awaiting confirmation, oldest first.
func (r *Repository) GetPendingDeposits(ctx context.Context, limit int) ([]DepositRequest, error) {
	limit = ValidateLimit(limit, 50, 1000)
	var deposits []DepositRequest
	err := r.db.SelectContext(ctx, &deposits, `
		SELECT * FROM deposit_requests WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: get pending deposits: %v", ErrDatabaseError, err)
	}
	return deposits, nil
}

// InsertPendingSplDeposit idempotently records an SPL-token transfer observed
// via webhook ingestion (ON CONFLICT DO NOTHING on tx_signature, matching the
// source webhook handler's dedup behavior).
func (r *Repository) InsertPendingSplDeposit(ctx context.Context, deposit *PendingSplDeposit) error {
	if deposit == nil {
		return fmt.Errorf("%w: deposit cannot be nil", ErrInvalidInput)
	}
	if deposit.ID == "" {
		deposit.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_spl_deposits (id, tx_signature, token_mint, to_address, amount, decimals, received_at, processed)
		VALUES ($1, $2, $3, $4, $5, $6, now(), false)
		ON CONFLICT (tx_signature) DO NOTHING`,
		deposit.ID, deposit.TxSignature, deposit.TokenMint, deposit.ToAddress, deposit.Amount, deposit.Decimals)
	if err != nil {
		return fmt.Errorf("%w: insert pending spl deposit: %v", ErrDatabaseError, err)
	}
	return nil
}

// ListUnconfirmedOlderThan returns unprocessed SPL deposits received more
// than `age` ago, used by the reconciliation operator tool.
func (r *Repository) ListUnconfirmedOlderThan(ctx context.Context, age time.Duration) ([]PendingSplDeposit, error) {
	var deposits []PendingSplDeposit
	cutoff := time.Now().Add(-age)
	err := r.db.SelectContext(ctx, &deposits, `
		SELECT * FROM pending_spl_deposits WHERE processed = false AND received_at < $1
		ORDER BY received_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: list unconfirmed spl deposits: %v", ErrDatabaseError, err)
	}
	return deposits, nil
}

// MarkSplDepositProcessed marks a pending SPL deposit as processed once it
// has been credited to an account.
func (r *Repository) MarkSplDepositProcessed(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE pending_spl_deposits SET processed = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: mark spl deposit processed: %v", ErrDatabaseError, err)
	}
	return checkRowsAffected(res, "pending_spl_deposit", id)
}

// CreateDepositSession records a private deposit's privacy-period hold. The
// unique index on tx_signature enforces at most one session per sidecar
// transaction, matching CreateDepositRequest's idempotency behavior.
func (r *Repository) CreateDepositSession(ctx context.Context, session *DepositSession) error {
	if session == nil {
		return fmt.Errorf("%w: deposit session cannot be nil", ErrInvalidInput)
	}
	if err := ValidateUserID(session.UserID); err != nil {
		return err
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deposit_sessions
			(id, user_id, deposit_request_id, amount, tx_signature, encrypted_user_key,
			 state, attempts, withdrawal_available_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, now())`,
		session.ID, session.UserID, session.DepositRequestID, session.Amount, session.TxSignature,
		session.EncryptedUserKey, session.State, session.WithdrawalAvailableAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("%w: create deposit session: %v", ErrDatabaseError, err)
	}
	return nil
}

// GetMaturedDepositSessions returns up to limit matured-pending deposit
// sessions whose privacy period has elapsed, FIFO by withdrawal_available_at,
// for the withdrawal worker to drain.
func (r *Repository) GetMaturedDepositSessions(ctx context.Context, now time.Time, limit int) ([]DepositSession, error) {
	limit = ValidateLimit(limit, 50, 1000)
	var sessions []DepositSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM deposit_sessions
		WHERE state = 'matured-pending' AND withdrawal_available_at <= $1
		ORDER BY withdrawal_available_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: get matured deposit sessions: %v", ErrDatabaseError, err)
	}
	return sessions, nil
}

// MarkDepositSessionWithdrawn transitions a deposit session to withdrawn and
// clears its sealed note key, since nothing needs it once the note has been
// redeemed to the company wallet.
func (r *Repository) MarkDepositSessionWithdrawn(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE deposit_sessions SET state = 'withdrawn', withdrawn_at = now(), encrypted_user_key = NULL
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: mark deposit session withdrawn: %v", ErrDatabaseError, err)
	}
	return checkRowsAffected(res, "deposit_session", id)
}

// MarkDepositSessionFailed transitions a deposit session to failed after it
// has exhausted its retry budget.
func (r *Repository) MarkDepositSessionFailed(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE deposit_sessions SET state = 'failed' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: mark deposit session failed: %v", ErrDatabaseError, err)
	}
	return checkRowsAffected(res, "deposit_session", id)
}

// IncrementDepositSessionAttempts bumps a deposit session's retry counter
// after a failed withdrawal attempt and returns the new count, so the caller
// can decide whether to back off again or give up.
func (r *Repository) IncrementDepositSessionAttempts(ctx context.Context, id string) (int, error) {
	if err := ValidateID(id); err != nil {
		return 0, err
	}
	var attempts int
	err := r.db.GetContext(ctx, &attempts, `
		UPDATE deposit_sessions SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, NewNotFoundError("deposit_session", id)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: increment deposit session attempts: %v", ErrDatabaseError, err)
	}
	return attempts, nil
}

// CreateWithdrawalHistory records a completed drain of a deposit session's
// sealed note key to the company wallet.
func (r *Repository) CreateWithdrawalHistory(ctx context.Context, history *WithdrawalHistory) error {
	if history == nil {
		return fmt.Errorf("%w: withdrawal history cannot be nil", ErrInvalidInput)
	}
	if history.ID == "" {
		history.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO withdrawal_history (id, deposit_session_id, tx_signature, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		history.ID, history.DepositSessionID, history.TxSignature, history.Amount, history.Currency)
	if err != nil {
		return fmt.Errorf("%w: create withdrawal history: %v", ErrDatabaseError, err)
	}
	return nil
}
