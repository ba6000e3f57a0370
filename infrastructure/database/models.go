package database

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Domain Models
// =============================================================================

// User represents an authenticated subject: either a wallet-bound or an
// email/password account (or both, once a wallet is linked post-signup).
type User struct {
	ID           string    `db:"id" json:"id"`
	Address      string    `db:"address" json:"address,omitempty"`
	Email        string    `db:"email" json:"email,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Nonce        string    `db:"nonce" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// UserSession represents an issued refresh-token session.
type UserSession struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	TokenHash   string    `db:"token_hash" json:"-"`
	UserAgent   string    `db:"user_agent" json:"user_agent,omitempty"`
	IP          string    `db:"ip" json:"ip,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	LastActive  time.Time `db:"last_active" json:"last_active"`
	ExpiresAt   time.Time `db:"expires_at" json:"expires_at"`
	RevokedAt   *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	ReplacedBy  string    `db:"replaced_by" json:"-"`
}

// WalletKeyShare holds the server-held Share B of a custodial wallet's
// Ed25519 seed, envelope-encrypted at rest under a key derived from both the
// server's master key and the user's live credential (infrastructure/crypto).
// Share A and, where recovery_mode permits it, Share C never appear here —
// they are handed to the client at enrollment/rotation time. Share A is
// supplied fresh on every subsequent signing call; Share C is only a
// recovery artifact and is not taken by Sign.
type WalletKeyShare struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"user_id"`
	ShareIndex     int       `db:"share_index" json:"share_index"`
	Ciphertext     []byte    `db:"ciphertext" json:"-"`
	Nonce          []byte    `db:"nonce" json:"-"`
	PublicKey      string    `db:"public_key" json:"public_key"`
	RecoveryMode   string    `db:"recovery_mode" json:"recovery_mode"`
	CredentialKind string    `db:"credential_kind" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// WalletRotationHistory records a wallet key rotation event and the grace
// window during which the previous public key is still accepted.
type WalletRotationHistory struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	OldPubkey  string    `db:"old_pubkey" json:"old_pubkey"`
	NewPubkey  string    `db:"new_pubkey" json:"new_pubkey"`
	RotatedAt  time.Time `db:"rotated_at" json:"rotated_at"`
	GraceUntil time.Time `db:"grace_until" json:"grace_until"`
}

// DepositRequest represents a private or public deposit intent.
type DepositRequest struct {
	ID                    string     `db:"id" json:"id"`
	UserID                string     `db:"user_id" json:"user_id"`
	AccountID             string     `db:"account_id" json:"account_id"`
	Kind                  string     `db:"kind" json:"kind"` // private|public|micro
	Amount                int64      `db:"amount" json:"amount"`
	TokenMint             string     `db:"token_mint" json:"token_mint,omitempty"`
	TxSignature           string     `db:"tx_signature" json:"tx_signature,omitempty"`
	FromAddress           string     `db:"from_address" json:"from_address,omitempty"`
	Status                string     `db:"status" json:"status"`
	Confirmations         int        `db:"confirmations" json:"confirmations"`
	RequiredConfirmations int        `db:"required_confirmations" json:"required_confirmations"`
	Error                 string     `db:"error" json:"error,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	ConfirmedAt           *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	ExpiresAt             time.Time  `db:"expires_at" json:"expires_at"`
}

// PendingSplDeposit represents an SPL-token transfer observed via the
// webhook ingestion path (original_source handlers/webhook.rs), staged for
// confirmation before crediting an account.
type PendingSplDeposit struct {
	ID          string    `db:"id" json:"id"`
	TxSignature string    `db:"tx_signature" json:"tx_signature"`
	TokenMint   string    `db:"token_mint" json:"token_mint"`
	ToAddress   string    `db:"to_address" json:"to_address"`
	Amount      int64     `db:"amount" json:"amount"`
	Decimals    int       `db:"decimals" json:"decimals"`
	ReceivedAt  time.Time `db:"received_at" json:"received_at"`
	Processed   bool      `db:"processed" json:"processed"`
}

// DepositSession tracks a private deposit through its mandatory privacy
// period: the sidecar has confirmed the shielded note on-chain, but the
// reconstructed note key stays sealed and the ledger uncredited until the
// withdrawal worker drains it past withdrawal_available_at. EncryptedUserKey
// holds the AES-256-GCM-sealed note key (infrastructure/crypto.Encrypt,
// nonce-prepended) and is cleared once State reaches "withdrawn".
type DepositSession struct {
	ID                    string     `db:"id" json:"id"`
	UserID                string     `db:"user_id" json:"user_id"`
	DepositRequestID      string     `db:"deposit_request_id" json:"deposit_request_id"`
	Amount                int64      `db:"amount" json:"amount"`
	TxSignature           string     `db:"tx_signature" json:"tx_signature"`
	EncryptedUserKey      []byte     `db:"encrypted_user_key" json:"-"`
	State                 string     `db:"state" json:"state"` // executing|matured-pending|withdrawn|failed
	Attempts              int        `db:"attempts" json:"attempts"`
	WithdrawalAvailableAt time.Time  `db:"withdrawal_available_at" json:"withdrawal_available_at"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	WithdrawnAt           *time.Time `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
}

// WithdrawalHistory records a completed drain of a DepositSession's sealed
// note key to the company wallet.
type WithdrawalHistory struct {
	ID               string    `db:"id" json:"id"`
	DepositSessionID string    `db:"deposit_session_id" json:"deposit_session_id"`
	TxSignature      string    `db:"tx_signature" json:"tx_signature"`
	Amount           int64     `db:"amount" json:"amount"`
	Currency         string    `db:"currency" json:"currency"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// LedgerAccount represents a user's custodial balance ledger.
type LedgerAccount struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Balance   int64     `db:"balance" json:"balance"`
	Held      int64     `db:"held" json:"held"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LedgerEntry represents an individual ledger movement (deposit, withdrawal,
// hold, capture, release).
type LedgerEntry struct {
	ID           string    `db:"id" json:"id"`
	AccountID    string    `db:"account_id" json:"account_id"`
	EntryType    string    `db:"entry_type" json:"entry_type"`
	Amount       int64     `db:"amount" json:"amount"`
	BalanceAfter int64     `db:"balance_after" json:"balance_after"`
	ReferenceID  string    `db:"reference_id" json:"reference_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CreditHold represents a reserved-but-not-yet-captured portion of a
// ledger account's balance.
type CreditHold struct {
	ID          string     `db:"id" json:"id"`
	AccountID   string     `db:"account_id" json:"account_id"`
	Amount      int64      `db:"amount" json:"amount"`
	ReferenceID string     `db:"reference_id" json:"reference_id"`
	Status      string     `db:"status" json:"status"` // held|captured|released
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// SystemSetting is a key/value operational setting with a cache TTL
// (see domain/settings).
type SystemSetting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FeatureFlag supplements SystemSetting with a rollout percentage, evaluated
// deterministically per (flag_key, subject_id).
type FeatureFlag struct {
	Key        string    `db:"key" json:"key"`
	Enabled    bool      `db:"enabled" json:"enabled"`
	Rollout    int       `db:"rollout" json:"rollout"` // 0-100
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// AuditLogEntry is an append-only audit record.
type AuditLogEntry struct {
	ID         string          `db:"id" json:"id"`
	Actor      string          `db:"actor" json:"actor"`
	Action     string          `db:"action" json:"action"`
	Resource   string          `db:"resource" json:"resource"`
	ResourceID string          `db:"resource_id" json:"resource_id,omitempty"`
	Result     string          `db:"result" json:"result"`
	Metadata   json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// OutboxEvent is a durable event awaiting delivery to a downstream consumer,
// drained with capped exponential backoff.
type OutboxEvent struct {
	ID          string          `db:"id" json:"id"`
	Topic       string          `db:"topic" json:"topic"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Attempts    int             `db:"attempts" json:"attempts"`
	NextAttempt time.Time       `db:"next_attempt" json:"next_attempt"`
	Delivered   bool            `db:"delivered" json:"delivered"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
