package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateWalletShares persists the server-held wallet share row(s) for a
// user's custodial wallet in a single transaction. Only Share B is ever
// passed here — Share A and any recovery material are returned to the
// caller and never reach this table.
func (r *Repository) CreateWalletShares(ctx context.Context, shares []WalletKeyShare) error {
	if len(shares) == 0 {
		return fmt.Errorf("%w: shares cannot be empty", ErrInvalidInput)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	for i := range shares {
		if shares[i].ID == "" {
			shares[i].ID = uuid.New().String()
		}
		// ON CONFLICT lets Rotate() replace a user's share row in place,
		// rather than requiring a separate delete step first.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_key_shares (id, user_id, share_index, ciphertext, nonce, public_key, recovery_mode, credential_kind, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT (user_id, share_index) DO UPDATE SET
				ciphertext = EXCLUDED.ciphertext,
				nonce = EXCLUDED.nonce,
				public_key = EXCLUDED.public_key,
				recovery_mode = EXCLUDED.recovery_mode,
				credential_kind = EXCLUDED.credential_kind,
				created_at = now()`,
			shares[i].ID, shares[i].UserID, shares[i].ShareIndex, shares[i].Ciphertext, shares[i].Nonce,
			shares[i].PublicKey, shares[i].RecoveryMode, shares[i].CredentialKind)
		if err != nil {
			return fmt.Errorf("%w: insert wallet share: %v", ErrDatabaseError, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit wallet shares: %v", ErrDatabaseError, err)
	}
	return nil
}

// GetWalletShares retrieves all key shares for a user's wallet, ordered by share index.
func (r *Repository) GetWalletShares(ctx context.Context, userID string) ([]WalletKeyShare, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	var shares []WalletKeyShare
	err := r.db.SelectContext(ctx, &shares, `
		SELECT * FROM wallet_key_shares WHERE user_id = $1 ORDER BY share_index ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: get wallet shares: %v", ErrDatabaseError, err)
	}
	if len(shares) == 0 {
		return nil, NewNotFoundError("wallet", userID)
	}
	return shares, nil
}

// GetUserIDByWalletAddress reverse-looks-up the user owning a custodial
// wallet address, used by deposit webhook ingestion to map an on-chain
// destination address back to an account.
func (r *Repository) GetUserIDByWalletAddress(ctx context.Context, address string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("%w: address cannot be empty", ErrInvalidInput)
	}
	var userID string
	err := r.db.GetContext(ctx, &userID, `
		SELECT user_id FROM wallet_key_shares WHERE public_key = $1 LIMIT 1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return "", NewNotFoundError("wallet_address", address)
	}
	if err != nil {
		return "", fmt.Errorf("%w: get user by wallet address: %v", ErrDatabaseError, err)
	}
	return userID, nil
}

// RecordWalletRotation records a key-rotation event and its grace window.
func (r *Repository) RecordWalletRotation(ctx context.Context, rotation *WalletRotationHistory) error {
	if rotation == nil {
		return fmt.Errorf("%w: rotation cannot be nil", ErrInvalidInput)
	}
	if rotation.ID == "" {
		rotation.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallet_rotation_history (id, user_id, old_pubkey, new_pubkey, rotated_at, grace_until)
		VALUES ($1, $2, $3, $4, now(), $5)`,
		rotation.ID, rotation.UserID, rotation.OldPubkey, rotation.NewPubkey, rotation.GraceUntil)
	if err != nil {
		return fmt.Errorf("%w: record wallet rotation: %v", ErrDatabaseError, err)
	}
	return nil
}

// GetActiveRotationGrace returns the most recent rotation still within its
// grace window, if any, so the previous public key can still be accepted.
func (r *Repository) GetActiveRotationGrace(ctx context.Context, userID string) (*WalletRotationHistory, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	var rotation WalletRotationHistory
	err := r.db.GetContext(ctx, &rotation, `
		SELECT * FROM wallet_rotation_history
		WHERE user_id = $1 AND grace_until > now()
		ORDER BY rotated_at DESC LIMIT 1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("wallet_rotation", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get active rotation grace: %v", ErrDatabaseError, err)
	}
	return &rotation, nil
}
