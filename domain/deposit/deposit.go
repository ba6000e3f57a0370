// Package deposit mints, confirms, and credits custodial ledger balances
// from private transfers, public on-chain deposits, and batched micro-
// deposits, and drives the withdrawal and hold-expiry background workers.
package deposit

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vaultauth/core/domain/sidecar"
	"github.com/vaultauth/core/domain/wallet"
	"github.com/vaultauth/core/infrastructure/crypto"
	"github.com/vaultauth/core/infrastructure/database"
	"github.com/vaultauth/core/infrastructure/logging"
)

// Repository is the subset of the database layer this service depends on.
type Repository interface {
	CreateDepositRequest(ctx context.Context, deposit *database.DepositRequest) error
	GetDepositRequests(ctx context.Context, userID string, limit int) ([]database.DepositRequest, error)
	GetDepositByTxSignature(ctx context.Context, txSignature string) (*database.DepositRequest, error)
	UpdateDepositStatus(ctx context.Context, depositID, status string, confirmations int) error
	GetPendingDeposits(ctx context.Context, limit int) ([]database.DepositRequest, error)
	InsertPendingSplDeposit(ctx context.Context, deposit *database.PendingSplDeposit) error
	ListUnconfirmedOlderThan(ctx context.Context, age time.Duration) ([]database.PendingSplDeposit, error)
	MarkSplDepositProcessed(ctx context.Context, id string) error
	GetUserIDByWalletAddress(ctx context.Context, address string) (string, error)

	CreateDepositSession(ctx context.Context, session *database.DepositSession) error
	GetMaturedDepositSessions(ctx context.Context, now time.Time, limit int) ([]database.DepositSession, error)
	MarkDepositSessionWithdrawn(ctx context.Context, id string) error
	MarkDepositSessionFailed(ctx context.Context, id string) error
	IncrementDepositSessionAttempts(ctx context.Context, id string) (int, error)
	CreateWithdrawalHistory(ctx context.Context, history *database.WithdrawalHistory) error

	GetOrCreateLedgerAccount(ctx context.Context, userID string) (*database.LedgerAccount, error)
	CreditLedgerAtomic(ctx context.Context, userID string, amount int64, entry *database.LedgerEntry) (int64, error)
	DebitLedgerAtomic(ctx context.Context, userID string, amount int64, entry *database.LedgerEntry) (int64, error)
	CreateHold(ctx context.Context, hold *database.CreditHold) error
	CaptureHold(ctx context.Context, holdID string) error
	ReleaseHold(ctx context.Context, holdID string) error
	ListExpiredHolds(ctx context.Context, now time.Time) ([]database.CreditHold, error)
}

// SidecarClient is the subset of the sidecar operations this service drives.
type SidecarClient interface {
	ExecutePrivateDeposit(ctx context.Context, req sidecar.ExecutePrivateDepositRequest) (*sidecar.TransferResult, error)
	WithdrawNote(ctx context.Context, req sidecar.WithdrawNoteRequest) (*sidecar.TransferResult, error)
	TransferSOL(ctx context.Context, req sidecar.TransferSOLRequest) (*sidecar.TransferResult, error)
	TransferSPL(ctx context.Context, req sidecar.TransferSPLRequest) (*sidecar.TransferResult, error)
}

// WalletClient is the subset of custodial wallet operations the private
// deposit pipeline drives: reconstructing the raw note key to seal, and
// checking a user's recovery mode to enforce the recovery_mode=none gate.
type WalletClient interface {
	Reconstruct(ctx context.Context, userID, sessionID string, shareA []byte) ([]byte, error)
	RecoveryModeFor(ctx context.Context, userID string) (wallet.RecoveryMode, error)
}

// SwapQuoter is implemented by an external swap-routing collaborator. No
// implementation ships with this service; a caller wires in its own
// liquidity-routing integration.
type SwapQuoter interface {
	SwapQuote(ctx context.Context, fromMint, toMint string, amount int64) (toAmount int64, err error)
	ExecuteSwap(ctx context.Context, fromMint, toMint string, amount int64) (*sidecar.TransferResult, error)
}

// Config bounds deposit-pipeline tunables.
type Config struct {
	RequiredConfirmations int
	PublicDepositTTL      time.Duration
	MicroDepositMinBatch  int
	HoldWindow            time.Duration

	// NoteEncryptionKey seals a private deposit's reconstructed note key
	// (AES-256-GCM, infrastructure/crypto.Encrypt) while it rests between
	// deposit and the privacy period's withdrawal worker. Private deposits
	// are refused if this is unset.
	NoteEncryptionKey []byte
	// DefaultPrivacyPeriod is how long a private deposit sits as
	// matured-pending before the withdrawal worker will drain it, used
	// when no per-call override is supplied.
	DefaultPrivacyPeriod time.Duration
	// MaxWithdrawalAttempts caps retries on a stuck withdrawal before the
	// deposit session is marked permanently failed.
	MaxWithdrawalAttempts int
}

func (c *Config) setDefaults() {
	if c.RequiredConfirmations <= 0 {
		c.RequiredConfirmations = 32
	}
	if c.PublicDepositTTL <= 0 {
		c.PublicDepositTTL = 24 * time.Hour
	}
	if c.MicroDepositMinBatch <= 0 {
		c.MicroDepositMinBatch = 5
	}
	if c.HoldWindow <= 0 {
		c.HoldWindow = 10 * time.Minute
	}
	if c.DefaultPrivacyPeriod <= 0 {
		c.DefaultPrivacyPeriod = 7 * 24 * time.Hour
	}
	if c.MaxWithdrawalAttempts <= 0 {
		c.MaxWithdrawalAttempts = 5
	}
}

// Service implements the deposit, withdrawal, and reconciliation pipeline.
type Service struct {
	cfg     Config
	repo    Repository
	sidecar SidecarClient
	wallets WalletClient
	logger  *logging.Logger
}

// New constructs a Service.
func New(cfg Config, repo Repository, sc SidecarClient, wallets WalletClient, logger *logging.Logger) *Service {
	cfg.setDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{cfg: cfg, repo: repo, sidecar: sc, wallets: wallets, logger: logger}
}

// CreatePrivateDeposit executes a shielded deposit through the sidecar, then
// reconstructs the caller's note key just long enough to seal it and park
// the deposit in a matured-pending session for the privacy period. It never
// credits the ledger and never marks the deposit confirmed — both happen
// only once the withdrawal worker drains the session past
// WithdrawalAvailableAt, mirroring ConfirmDeposit's "credit at confirmation,
// not at intent" rule for public deposits.
//
// Gated by recovery_mode=none (a user who can self-recover Share A's backup
// could front-run the privacy period) and by privacy.enabled at the caller.
func (s *Service) CreatePrivateDeposit(ctx context.Context, userID, sessionID string, shareA []byte, fromAddress, mint string, amount int64, noteCommit, signatureHex string, privacyPeriod time.Duration) (*database.DepositSession, error) {
	if len(s.cfg.NoteEncryptionKey) == 0 {
		return nil, fmt.Errorf("deposit: private deposits are disabled (no note encryption key configured)")
	}

	mode, err := s.wallets.RecoveryModeFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("deposit: look up wallet recovery mode: %w", err)
	}
	if mode != wallet.RecoveryNone {
		return nil, fmt.Errorf("deposit: private deposits require recovery_mode=none, wallet is enrolled as %q", mode)
	}

	if _, err := s.repo.GetOrCreateLedgerAccount(ctx, userID); err != nil {
		return nil, fmt.Errorf("deposit: ensure ledger account: %w", err)
	}

	if privacyPeriod <= 0 {
		privacyPeriod = s.cfg.DefaultPrivacyPeriod
	}

	result, err := s.sidecar.ExecutePrivateDeposit(ctx, sidecar.ExecutePrivateDepositRequest{
		FromAddress: fromAddress,
		Mint:        mint,
		AmountQty:   fmt.Sprintf("%d", amount),
		NoteCommit:  noteCommit,
		Signature:   signatureHex,
	})
	if err != nil {
		return nil, fmt.Errorf("deposit: execute private deposit: %w", err)
	}

	req := &database.DepositRequest{
		ID:                    uuid.New().String(),
		UserID:                userID,
		Kind:                  "private",
		Amount:                amount,
		TokenMint:             mint,
		TxSignature:           result.Signature,
		FromAddress:           fromAddress,
		Status:                "pending",
		RequiredConfirmations: s.cfg.RequiredConfirmations,
		ExpiresAt:             time.Now().Add(s.cfg.PublicDepositTTL),
	}
	if err := s.repo.CreateDepositRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("deposit: record private deposit: %w", err)
	}

	key, err := s.wallets.Reconstruct(ctx, userID, sessionID, shareA)
	if err != nil {
		return nil, fmt.Errorf("deposit: reconstruct note key: %w", err)
	}
	defer zeroBytes(key)

	sealedKey, err := crypto.Encrypt(s.cfg.NoteEncryptionKey, key)
	if err != nil {
		return nil, fmt.Errorf("deposit: seal note key: %w", err)
	}

	session := &database.DepositSession{
		ID:                    uuid.New().String(),
		UserID:                userID,
		DepositRequestID:      req.ID,
		Amount:                amount,
		TxSignature:           result.Signature,
		EncryptedUserKey:      sealedKey,
		State:                 "matured-pending",
		WithdrawalAvailableAt: time.Now().Add(privacyPeriod),
	}
	if err := s.repo.CreateDepositSession(ctx, session); err != nil {
		return nil, fmt.Errorf("deposit: record deposit session: %w", err)
	}
	return session, nil
}

// zeroBytes overwrites b with zeros in place.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ProcessMaturedWithdrawals drains up to batchSize deposit sessions whose
// privacy period has elapsed: unseal each note key, redeem it to the
// company wallet through the sidecar, mark the session withdrawn, record a
// withdrawal-history entry, confirm the originating deposit request, and
// only then credit the ledger. A redemption failure increments the
// session's retry counter; once it reaches maxRetries the session is marked
// permanently failed rather than retried forever.
func (s *Service) ProcessMaturedWithdrawals(ctx context.Context, batchSize int, companyWallet, companyCurrency string, maxRetries int) (withdrawn, failed int, err error) {
	if maxRetries <= 0 {
		maxRetries = s.cfg.MaxWithdrawalAttempts
	}

	sessions, err := s.repo.GetMaturedDepositSessions(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("deposit: list matured deposit sessions: %w", err)
	}

	for _, session := range sessions {
		if werr := s.withdrawMaturedSession(ctx, session, companyWallet, companyCurrency, maxRetries); werr != nil {
			s.logger.WithError(werr).Warn(fmt.Sprintf("deposit: withdrawal failed for session %s", session.ID))
			failed++
			continue
		}
		withdrawn++
	}
	return withdrawn, failed, nil
}

func (s *Service) withdrawMaturedSession(ctx context.Context, session database.DepositSession, companyWallet, companyCurrency string, maxRetries int) error {
	key, err := crypto.Decrypt(s.cfg.NoteEncryptionKey, session.EncryptedUserKey)
	if err != nil {
		return fmt.Errorf("unseal deposit session key: %w", err)
	}
	defer zeroBytes(key)

	result, err := s.sidecar.WithdrawNote(ctx, sidecar.WithdrawNoteRequest{
		ToAddress:  companyWallet,
		NoteSecret: hex.EncodeToString(key),
	})
	if err != nil {
		attempts, incErr := s.repo.IncrementDepositSessionAttempts(ctx, session.ID)
		if incErr != nil {
			s.logger.WithError(incErr).Error(fmt.Sprintf("deposit: failed to record withdrawal attempt for session %s", session.ID))
		}
		if attempts >= maxRetries {
			if failErr := s.repo.MarkDepositSessionFailed(ctx, session.ID); failErr != nil {
				s.logger.WithError(failErr).Error(fmt.Sprintf("deposit: failed to mark session %s failed", session.ID))
			} else {
				s.logger.Error(ctx, fmt.Sprintf("deposit: session %s permanently failed after %d attempts", session.ID, attempts), nil, nil)
			}
		}
		return fmt.Errorf("withdraw note: %w", err)
	}

	if err := s.repo.MarkDepositSessionWithdrawn(ctx, session.ID); err != nil {
		return fmt.Errorf("mark deposit session withdrawn: %w", err)
	}
	if err := s.repo.CreateWithdrawalHistory(ctx, &database.WithdrawalHistory{
		DepositSessionID: session.ID,
		TxSignature:      result.Signature,
		Amount:           session.Amount,
		Currency:         companyCurrency,
	}); err != nil {
		s.logger.WithError(err).Warn(fmt.Sprintf("deposit: failed to record withdrawal history for session %s", session.ID))
	}
	if session.DepositRequestID != "" {
		if err := s.repo.UpdateDepositStatus(ctx, session.DepositRequestID, "confirmed", s.cfg.RequiredConfirmations); err != nil {
			s.logger.WithError(err).Warn(fmt.Sprintf("deposit: failed to confirm deposit request %s", session.DepositRequestID))
		}
	}

	if _, err := s.repo.CreditLedgerAtomic(ctx, session.UserID, session.Amount, &database.LedgerEntry{
		EntryType:   "deposit_private",
		ReferenceID: session.DepositRequestID,
	}); err != nil {
		return fmt.Errorf("credit ledger: %w", err)
	}
	return nil
}

// CreatePublicDepositIntent registers a pending on-chain deposit, to be
// confirmed later by webhook ingestion or reconciliation rather than
// immediately.
func (s *Service) CreatePublicDepositIntent(ctx context.Context, userID, fromAddress, mint string, amount int64) (*database.DepositRequest, error) {
	if _, err := s.repo.GetOrCreateLedgerAccount(ctx, userID); err != nil {
		return nil, fmt.Errorf("deposit: ensure ledger account: %w", err)
	}
	req := &database.DepositRequest{
		ID:                    uuid.New().String(),
		UserID:                userID,
		Kind:                  "public",
		Amount:                amount,
		TokenMint:             mint,
		FromAddress:           fromAddress,
		Status:                "pending",
		RequiredConfirmations: s.cfg.RequiredConfirmations,
		ExpiresAt:             time.Now().Add(s.cfg.PublicDepositTTL),
	}
	if err := s.repo.CreateDepositRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("deposit: create public deposit intent: %w", err)
	}
	return req, nil
}

// ConfirmDeposit marks a deposit's confirmation count, crediting the ledger
// once it reaches the required confirmation threshold.
func (s *Service) ConfirmDeposit(ctx context.Context, txSignature string, confirmations int) error {
	req, err := s.repo.GetDepositByTxSignature(ctx, txSignature)
	if err != nil {
		return fmt.Errorf("deposit: lookup by tx signature: %w", err)
	}
	if req.Status == "confirmed" {
		return nil
	}

	status := "pending"
	if confirmations >= req.RequiredConfirmations {
		status = "confirmed"
	}
	if err := s.repo.UpdateDepositStatus(ctx, req.ID, status, confirmations); err != nil {
		return fmt.Errorf("deposit: update status: %w", err)
	}
	if status != "confirmed" {
		return nil
	}

	if _, err := s.repo.CreditLedgerAtomic(ctx, req.UserID, req.Amount, &database.LedgerEntry{
		EntryType:   "deposit_public",
		ReferenceID: req.ID,
	}); err != nil {
		return fmt.Errorf("deposit: credit ledger: %w", err)
	}
	return nil
}

// WithdrawResult reports the outcome of a withdrawal.
type WithdrawResult struct {
	Signature string
	Slot      uint64
}

// WithdrawSOL debits the ledger and submits a native SOL withdrawal. The
// debit is performed before the transfer is submitted; if the sidecar call
// fails the debit is reversed with a compensating credit rather than left
// silently short.
func (s *Service) WithdrawSOL(ctx context.Context, userID, toAddress string, lamports int64, signatureHex string) (*WithdrawResult, error) {
	referenceID := uuid.New().String()
	if _, err := s.repo.DebitLedgerAtomic(ctx, userID, lamports, &database.LedgerEntry{
		EntryType:   "withdraw_sol",
		ReferenceID: referenceID,
	}); err != nil {
		return nil, fmt.Errorf("deposit: debit ledger for withdrawal: %w", err)
	}

	result, err := s.sidecar.TransferSOL(ctx, sidecar.TransferSOLRequest{
		ToAddress:   toAddress,
		LamportsQty: fmt.Sprintf("%d", lamports),
		Signature:   signatureHex,
	})
	if err != nil {
		if _, creditErr := s.repo.CreditLedgerAtomic(ctx, userID, lamports, &database.LedgerEntry{
			EntryType:   "withdraw_sol_reversal",
			ReferenceID: referenceID,
		}); creditErr != nil {
			s.logger.WithError(creditErr).Error(fmt.Sprintf("deposit: failed to reverse debit %s after withdrawal failure", referenceID))
		}
		return nil, fmt.Errorf("deposit: submit SOL withdrawal: %w", err)
	}
	return &WithdrawResult{Signature: result.Signature, Slot: result.Slot}, nil
}

// WithdrawNote debits the ledger and redeems a shielded note to a public
// address, with the same compensating-credit behavior as WithdrawSOL.
func (s *Service) WithdrawNote(ctx context.Context, userID, toAddress, noteSecret string, amount int64, signatureHex string) (*WithdrawResult, error) {
	referenceID := uuid.New().String()
	if _, err := s.repo.DebitLedgerAtomic(ctx, userID, amount, &database.LedgerEntry{
		EntryType:   "withdraw_note",
		ReferenceID: referenceID,
	}); err != nil {
		return nil, fmt.Errorf("deposit: debit ledger for note withdrawal: %w", err)
	}

	result, err := s.sidecar.WithdrawNote(ctx, sidecar.WithdrawNoteRequest{
		ToAddress:  toAddress,
		NoteSecret: noteSecret,
		Signature:  signatureHex,
	})
	if err != nil {
		if _, creditErr := s.repo.CreditLedgerAtomic(ctx, userID, amount, &database.LedgerEntry{
			EntryType:   "withdraw_note_reversal",
			ReferenceID: referenceID,
		}); creditErr != nil {
			s.logger.WithError(creditErr).Error(fmt.Sprintf("deposit: failed to reverse debit %s after note withdrawal failure", referenceID))
		}
		return nil, fmt.Errorf("deposit: redeem note: %w", err)
	}
	return &WithdrawResult{Signature: result.Signature, Slot: result.Slot}, nil
}

// ReleaseExpiredHolds releases every credit hold past its expiry, for a
// background worker to run on a timer.
func (s *Service) ReleaseExpiredHolds(ctx context.Context) (released int, err error) {
	expired, err := s.repo.ListExpiredHolds(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("deposit: list expired holds: %w", err)
	}
	for _, hold := range expired {
		if err := s.repo.ReleaseHold(ctx, hold.ID); err != nil {
			s.logger.WithError(err).Warn(fmt.Sprintf("deposit: failed to release expired hold %s", hold.ID))
			continue
		}
		released++
	}
	return released, nil
}

// Unconfirmed returns pending SPL deposits older than age, for an operator
// reconciliation tool to inspect.
func (s *Service) Unconfirmed(ctx context.Context, age time.Duration) ([]database.PendingSplDeposit, error) {
	return s.repo.ListUnconfirmedOlderThan(ctx, age)
}
