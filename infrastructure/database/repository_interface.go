// Package database provides the Postgres-backed persistence layer.
package database

import (
	"context"
	"time"
)

// =============================================================================
// Core Interfaces
// =============================================================================

// UserRepository defines user-related data access methods.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByAddress(ctx context.Context, address string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	UpdateUserEmail(ctx context.Context, userID, email string) error
	UpdateUserNonce(ctx context.Context, userID, nonce string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
}

// SessionRepository defines session and refresh-token data access methods.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *UserSession) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*UserSession, error)
	GetSessionByTokenHashAny(ctx context.Context, tokenHash string) (*UserSession, error)
	UpdateSessionActivity(ctx context.Context, sessionID string) error
	RevokeSession(ctx context.Context, tokenHash, replacedBy string) error
	DeleteUserSessions(ctx context.Context, userID string) error
	ListUserSessions(ctx context.Context, userID string) ([]UserSession, error)
}

// WalletRepository defines wallet-custody data access methods.
type WalletRepository interface {
	CreateWalletShares(ctx context.Context, shares []WalletKeyShare) error
	GetWalletShares(ctx context.Context, userID string) ([]WalletKeyShare, error)
	RecordWalletRotation(ctx context.Context, rotation *WalletRotationHistory) error
	GetActiveRotationGrace(ctx context.Context, userID string) (*WalletRotationHistory, error)
}

// DepositRepository defines deposit and SPL webhook ingestion data access methods.
type DepositRepository interface {
	CreateDepositRequest(ctx context.Context, deposit *DepositRequest) error
	GetDepositRequests(ctx context.Context, userID string, limit int) ([]DepositRequest, error)
	GetDepositByTxSignature(ctx context.Context, txSignature string) (*DepositRequest, error)
	UpdateDepositStatus(ctx context.Context, depositID, status string, confirmations int) error
	GetPendingDeposits(ctx context.Context, limit int) ([]DepositRequest, error)
	InsertPendingSplDeposit(ctx context.Context, deposit *PendingSplDeposit) error
	ListUnconfirmedOlderThan(ctx context.Context, age time.Duration) ([]PendingSplDeposit, error)
	MarkSplDepositProcessed(ctx context.Context, id string) error
}

// LedgerRepository defines custodial balance ledger data access methods.
type LedgerRepository interface {
	GetOrCreateLedgerAccount(ctx context.Context, userID string) (*LedgerAccount, error)
	CreditLedgerAtomic(ctx context.Context, userID string, amount int64, entry *LedgerEntry) (newBalance int64, err error)
	DebitLedgerAtomic(ctx context.Context, userID string, amount int64, entry *LedgerEntry) (newBalance int64, err error)
	ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error)
	CreateHold(ctx context.Context, hold *CreditHold) error
	CaptureHold(ctx context.Context, holdID string) error
	ReleaseHold(ctx context.Context, holdID string) error
	ListExpiredHolds(ctx context.Context, now time.Time) ([]CreditHold, error)
}

// SettingsRepository defines settings/feature-flag data access methods.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (*SystemSetting, error)
	ListSettings(ctx context.Context) ([]SystemSetting, error)
	UpsertSetting(ctx context.Context, key, value string) error
	ListFeatureFlags(ctx context.Context) ([]FeatureFlag, error)
	UpsertFeatureFlag(ctx context.Context, flag *FeatureFlag) error
}

// AuditRepository defines audit-log and outbox data access methods.
type AuditRepository interface {
	InsertAuditLog(ctx context.Context, entry *AuditLogEntry) error
	EnqueueOutboxEvent(ctx context.Context, event *OutboxEvent) error
	ClaimDueOutboxEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkOutboxDelivered(ctx context.Context, id string) error
	ScheduleOutboxRetry(ctx context.Context, id string, nextAttempt time.Time) error
}

// =============================================================================
// Full Repository Interface
// =============================================================================

// RepositoryInterface defines all data access methods used by the domain packages.
type RepositoryInterface interface {
	UserRepository
	SessionRepository
	WalletRepository
	DepositRepository
	LedgerRepository
	SettingsRepository
	AuditRepository
	// HealthCheck verifies connectivity with the underlying database.
	HealthCheck(ctx context.Context) error
}

// Ensure Repository implements RepositoryInterface
var _ RepositoryInterface = (*Repository)(nil)
