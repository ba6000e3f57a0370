package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetOrCreateLedgerAccount returns a user's ledger account, creating it with
// a zero balance if it doesn't exist yet.
func (r *Repository) GetOrCreateLedgerAccount(ctx context.Context, userID string) (*LedgerAccount, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	var acct LedgerAccount
	err := r.db.GetContext(ctx, &acct, `SELECT * FROM ledger_accounts WHERE user_id = $1`, userID)
	if err == nil {
		return &acct, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: get ledger account: %v", ErrDatabaseError, err)
	}

	acct = LedgerAccount{ID: uuid.New().String(), UserID: userID}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ledger_accounts (id, user_id, balance, held, created_at, updated_at)
		VALUES ($1, $2, 0, 0, now(), now())
		ON CONFLICT (user_id) DO NOTHING`, acct.ID, acct.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: create ledger account: %v", ErrDatabaseError, err)
	}
	if err := r.db.GetContext(ctx, &acct, `SELECT * FROM ledger_accounts WHERE user_id = $1`, userID); err != nil {
		return nil, fmt.Errorf("%w: reload ledger account: %v", ErrDatabaseError, err)
	}
	return &acct, nil
}

// CreditLedgerAtomic atomically increases a user's ledger balance and records
// the movement, committing both within a single transaction (grounded on the
// source's DeductFeeAtomic pattern, generalized to credits).
func (r *Repository) CreditLedgerAtomic(ctx context.Context, userID string, amount int64, entry *LedgerEntry) (int64, error) {
	return r.mutateLedgerAtomic(ctx, userID, amount, entry)
}

// DebitLedgerAtomic atomically decreases a user's ledger balance and records
// the movement within a single transaction.
func (r *Repository) DebitLedgerAtomic(ctx context.Context, userID string, amount int64, entry *LedgerEntry) (int64, error) {
	return r.mutateLedgerAtomic(ctx, userID, -amount, entry)
}

func (r *Repository) mutateLedgerAtomic(ctx context.Context, userID string, delta int64, entry *LedgerEntry) (int64, error) {
	if err := ValidateUserID(userID); err != nil {
		return 0, err
	}
	if entry == nil {
		return 0, fmt.Errorf("%w: entry cannot be nil", ErrInvalidInput)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	var accountID string
	var balance int64
	err = tx.QueryRowContext(ctx, `
		SELECT id, balance FROM ledger_accounts WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&accountID, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, NewNotFoundError("ledger_account", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: lock ledger account: %v", ErrDatabaseError, err)
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return 0, fmt.Errorf("%w: insufficient balance", ErrConflict)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_accounts SET balance = $1, updated_at = now() WHERE id = $2`, newBalance, accountID); err != nil {
		return 0, fmt.Errorf("%w: update ledger balance: %v", ErrDatabaseError, err)
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.AccountID = accountID
	entry.Amount = delta
	entry.BalanceAfter = newBalance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, entry_type, amount, balance_after, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		entry.ID, entry.AccountID, entry.EntryType, entry.Amount, entry.BalanceAfter, entry.ReferenceID); err != nil {
		return 0, fmt.Errorf("%w: insert ledger entry: %v", ErrDatabaseError, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit ledger mutation: %v", ErrDatabaseError, err)
	}
	return newBalance, nil
}

// ListLedgerEntries lists the most recent ledger entries for an account.
func (r *Repository) ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error) {
	if err := ValidateID(accountID); err != nil {
		return nil, err
	}
	limit = ValidateLimit(limit, 50, 1000)
	var entries []LedgerEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list ledger entries: %v", ErrDatabaseError, err)
	}
	return entries, nil
}

// CreateHold reserves a portion of an account's balance pending capture or release.
func (r *Repository) CreateHold(ctx context.Context, hold *CreditHold) error {
	if hold == nil {
		return fmt.Errorf("%w: hold cannot be nil", ErrInvalidInput)
	}
	if hold.ID == "" {
		hold.ID = uuid.New().String()
	}
	if hold.Status == "" {
		hold.Status = "held"
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	var balance, held int64
	if err := tx.QueryRowContext(ctx, `
		SELECT balance, held FROM ledger_accounts WHERE id = $1 FOR UPDATE`, hold.AccountID).
		Scan(&balance, &held); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotFoundError("ledger_account", hold.AccountID)
		}
		return fmt.Errorf("%w: lock ledger account: %v", ErrDatabaseError, err)
	}
	if balance-held < hold.Amount {
		return fmt.Errorf("%w: insufficient available balance for hold", ErrConflict)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE ledger_accounts SET held = held + $1, updated_at = now() WHERE id = $2`,
		hold.Amount, hold.AccountID); err != nil {
		return fmt.Errorf("%w: reserve hold amount: %v", ErrDatabaseError, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_holds (id, account_id, amount, reference_id, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, now(), $6)`,
		hold.ID, hold.AccountID, hold.Amount, hold.ReferenceID, hold.Status, hold.ExpiresAt); err != nil {
		return fmt.Errorf("%w: insert credit hold: %v", ErrDatabaseError, err)
	}
	return tx.Commit()
}

// CaptureHold finalizes a hold: the held amount is debited from the account
// balance and released from the held counter.
func (r *Repository) CaptureHold(ctx context.Context, holdID string) error {
	return r.resolveHold(ctx, holdID, "captured", true)
}

// ReleaseHold cancels a hold, returning the reserved amount to the available balance.
func (r *Repository) ReleaseHold(ctx context.Context, holdID string) error {
	return r.resolveHold(ctx, holdID, "released", false)
}

func (r *Repository) resolveHold(ctx context.Context, holdID, finalStatus string, debit bool) error {
	if err := ValidateID(holdID); err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	var accountID string
	var amount int64
	var status string
	if err := tx.QueryRowContext(ctx, `
		SELECT account_id, amount, status FROM credit_holds WHERE id = $1 FOR UPDATE`, holdID).
		Scan(&accountID, &amount, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotFoundError("credit_hold", holdID)
		}
		return fmt.Errorf("%w: lock credit hold: %v", ErrDatabaseError, err)
	}
	if status != "held" {
		return fmt.Errorf("%w: hold already resolved", ErrConflict)
	}

	if debit {
		if _, err := tx.ExecContext(ctx, `
			UPDATE ledger_accounts SET balance = balance - $1, held = held - $1, updated_at = now() WHERE id = $2`,
			amount, accountID); err != nil {
			return fmt.Errorf("%w: capture hold: %v", ErrDatabaseError, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE ledger_accounts SET held = held - $1, updated_at = now() WHERE id = $2`, amount, accountID); err != nil {
			return fmt.Errorf("%w: release hold: %v", ErrDatabaseError, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_holds SET status = $1, resolved_at = now() WHERE id = $2`, finalStatus, holdID); err != nil {
		return fmt.Errorf("%w: update hold status: %v", ErrDatabaseError, err)
	}
	return tx.Commit()
}

// ListExpiredHolds lists still-open holds whose expiry has passed, for the
// hold-expiry worker to release.
func (r *Repository) ListExpiredHolds(ctx context.Context, now time.Time) ([]CreditHold, error) {
	var holds []CreditHold
	err := r.db.SelectContext(ctx, &holds, `
		SELECT * FROM credit_holds WHERE status = 'held' AND expires_at < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("%w: list expired holds: %v", ErrDatabaseError, err)
	}
	return holds, nil
}
