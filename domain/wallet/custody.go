// Package wallet implements custodial Solana wallet key management: Ed25519
// keypair generation, 2-of-2 XOR share splitting between client and server
// plus an optional recovery artifact, credential-gated share storage,
// session-scoped unlock caching, wallet-login signature verification, and
// key rotation with a grace window for the previous public key.
package wallet

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/vaultauth/core/infrastructure/crypto"
	"github.com/vaultauth/core/infrastructure/database"
	svcerrors "github.com/vaultauth/core/infrastructure/errors"
	"github.com/vaultauth/core/infrastructure/logging"
)

// RecoveryMode controls what, if anything, a user is given at enrollment to
// recover their wallet if they lose their device's Share A.
type RecoveryMode string

const (
	// RecoveryNone destroys any recovery material after enrollment. Losing
	// Share A then makes the wallet unrecoverable by the user alone — the
	// precondition private deposits require, since it rules out a user
	// self-recovering and front-running the privacy period.
	RecoveryNone RecoveryMode = "none"
	// RecoveryShareCOnly hands the user a backup copy of Share A, encoded as
	// a recovery phrase, in addition to the live Share A.
	RecoveryShareCOnly RecoveryMode = "share-c-only"
	// RecoveryFullSeed hands the user the fully reconstructed seed once, as
	// an ultimate offline escape hatch independent of this service.
	RecoveryFullSeed RecoveryMode = "full-seed"
)

func (m RecoveryMode) valid() bool {
	switch m {
	case RecoveryNone, RecoveryShareCOnly, RecoveryFullSeed:
		return true
	default:
		return false
	}
}

// shareBInfo is the envelope-encryption "info" label for the server-held
// share. It is not a secret; it just domain-separates this use of the
// credential-derived key from any other.
const shareBInfo = "wallet-share-b"

// Repository is the subset of the database layer this service depends on.
type Repository interface {
	CreateWalletShares(ctx context.Context, shares []database.WalletKeyShare) error
	GetWalletShares(ctx context.Context, userID string) ([]database.WalletKeyShare, error)
	RecordWalletRotation(ctx context.Context, rotation *database.WalletRotationHistory) error
	GetActiveRotationGrace(ctx context.Context, userID string) (*database.WalletRotationHistory, error)
}

// Config configures a Service.
type Config struct {
	// MasterKey is the 32-byte root key folded into the credential-derived
	// key-encryption key for Share B (infrastructure/crypto.DeriveKey). It
	// is necessary but never sufficient on its own: without the user's live
	// credential, the server cannot re-derive the same KEK and cannot
	// decrypt Share B.
	MasterKey []byte
	// RotationGrace is how long a rotated-out public key is still
	// accepted for wallet-login verification.
	RotationGrace time.Duration
	// UnlockTTL bounds how long a decrypted Share B stays resident in the
	// unlock cache before the credential must be presented again.
	UnlockTTL time.Duration
}

// Service manages custodial wallet lifecycle: creation, unlock, signing,
// and rotation.
type Service struct {
	cfg    Config
	repo   Repository
	cache  *unlockCache
	logger *logging.Logger
}

// New constructs a Service.
func New(cfg Config, repo Repository, logger *logging.Logger) *Service {
	if cfg.RotationGrace <= 0 {
		cfg.RotationGrace = 72 * time.Hour
	}
	if cfg.UnlockTTL <= 0 {
		cfg.UnlockTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{cfg: cfg, repo: repo, cache: newUnlockCache(), logger: logger}
}

// Material is what a caller receives back from Create or Rotate: the
// wallet's address, the client-held Share A, and — depending on
// recoveryMode — a recovery artifact. Both ShareA and Recovery are returned
// exactly once; neither is retrievable from this service again.
type Material struct {
	Address  string
	ShareA   []byte
	Recovery []byte // nil under RecoveryNone
}

// Create generates a new Ed25519 keypair for userID, splits its seed into a
// client-held Share A and a server-held Share B, encrypts Share B under a
// key derived from both the server's master key and the live credential,
// and persists only Share B. Share A (and, per recoveryMode, a recovery
// artifact) is returned to the caller and never stored here — per the
// WalletMaterial invariant, the server alone can never reconstruct the key.
func (s *Service) Create(ctx context.Context, userID string, credential []byte, credentialKind string, recoveryMode RecoveryMode) (Material, error) {
	if len(credential) == 0 {
		return Material{}, svcerrors.InvalidInput("credential", "must not be empty")
	}
	if !recoveryMode.valid() {
		return Material{}, svcerrors.InvalidInput("recovery_mode", "must be one of none, share-c-only, full-seed")
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return Material{}, svcerrors.Internal("generate wallet keypair", err)
	}
	defer zero(priv)

	var seed [seedSize]byte
	copy(seed[:], priv.Seed())

	shareA, shareB, err := splitSeed(seed)
	if err != nil {
		return Material{}, svcerrors.Internal("split wallet seed", err)
	}
	defer zero(shareB[:])

	address := PublicKeyToAddress(pub)

	var recovery []byte
	switch recoveryMode {
	case RecoveryShareCOnly:
		recovery = append([]byte(nil), shareA[:]...)
	case RecoveryFullSeed:
		recovery = append([]byte(nil), seed[:]...)
	}
	zero(seed[:])

	kek, err := s.shareBKey(credential, userID)
	if err != nil {
		return Material{}, err
	}
	defer zero(kek)

	ciphertext, err := crypto.EncryptEnvelope(kek, []byte(userID), shareBInfo, shareB[:])
	if err != nil {
		return Material{}, svcerrors.EncryptionFailed(err)
	}

	row := database.WalletKeyShare{
		UserID:         userID,
		ShareIndex:     0,
		Ciphertext:     ciphertext,
		PublicKey:      address,
		RecoveryMode:   string(recoveryMode),
		CredentialKind: credentialKind,
	}
	if err := s.repo.CreateWalletShares(ctx, []database.WalletKeyShare{row}); err != nil {
		return Material{}, err
	}

	return Material{Address: address, ShareA: append([]byte(nil), shareA[:]...), Recovery: recovery}, nil
}

// shareBKey derives the key-encryption key for Share B from both the
// server's master key and the caller's live credential, so the server alone
// never has enough to decrypt a stored Share B again.
func (s *Service) shareBKey(credential []byte, userID string) ([]byte, error) {
	kek, err := crypto.DeriveKey(s.cfg.MasterKey, credential, "wallet-share-b:"+userID, 32)
	if err != nil {
		return nil, svcerrors.Internal("derive share B key", err)
	}
	return kek, nil
}

// Unlock decrypts userID's Share B using the supplied live credential and
// places it in the unlock cache, scoped to sessionID, for up to UnlockTTL.
// It never reconstructs or handles the full private key — that still
// requires Share A, supplied fresh by the caller on every Sign call.
func (s *Service) Unlock(ctx context.Context, userID, sessionID string, credential []byte) error {
	if len(credential) == 0 {
		return svcerrors.InvalidInput("credential", "must not be empty")
	}

	rows, err := s.repo.GetWalletShares(ctx, userID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return svcerrors.NotFound("wallet", userID)
	}
	row := rows[0]

	kek, err := s.shareBKey(credential, userID)
	if err != nil {
		return err
	}
	defer zero(kek)

	shareB, err := crypto.DecryptEnvelope(kek, []byte(userID), shareBInfo, row.Ciphertext)
	if err != nil {
		return svcerrors.Unauthorized("invalid wallet credential")
	}
	if len(shareB) != seedSize {
		zero(shareB)
		return svcerrors.Internal("unlock wallet", fmt.Errorf("share B has wrong length"))
	}

	s.cache.put(sessionID, shareB, s.cfg.UnlockTTL)
	zero(shareB)
	return nil
}

// Sign reconstructs userID's Ed25519 private key from the caller-supplied
// Share A and the Share B cached by a prior Unlock call, signs message, and
// zeroes every intermediate secret before returning. The session must
// already be unlocked; Sign never touches the credential or the repository.
func (s *Service) Sign(ctx context.Context, userID, sessionID string, shareA, message []byte) ([]byte, error) {
	if len(shareA) != seedSize {
		return nil, svcerrors.InvalidInput("share_a", fmt.Sprintf("must be %d bytes", seedSize))
	}
	shareB, ok := s.cache.get(sessionID)
	if !ok {
		return nil, svcerrors.Unauthorized("wallet is locked; unlock with your credential first")
	}
	if len(shareB) != seedSize {
		return nil, svcerrors.Internal("sign with wallet", fmt.Errorf("cached share B has wrong length"))
	}

	var a, b [seedSize]byte
	copy(a[:], shareA)
	copy(b[:], shareB)
	defer zero(a[:])
	defer zero(b[:])

	seed := reconstructSeed(a, b)
	defer zero(seed[:])

	priv := ed25519.NewKeyFromSeed(seed[:])
	defer zero(priv)

	return ed25519.Sign(priv, message), nil
}

// Reconstruct rebuilds userID's raw Ed25519 seed from the caller-supplied
// Share A and the Share B cached by a prior Unlock call. Unlike Sign, it
// hands the caller the seed itself rather than a signature over it — the one
// exception to "k never leaves this service" that the private-deposit flow
// requires, since the sealed note key it produces must outlive this request.
// Callers must zero the returned seed the moment it has been sealed.
func (s *Service) Reconstruct(ctx context.Context, userID, sessionID string, shareA []byte) ([]byte, error) {
	if len(shareA) != seedSize {
		return nil, svcerrors.InvalidInput("share_a", fmt.Sprintf("must be %d bytes", seedSize))
	}
	shareB, ok := s.cache.get(sessionID)
	if !ok {
		return nil, svcerrors.Unauthorized("wallet is locked; unlock with your credential first")
	}
	if len(shareB) != seedSize {
		return nil, svcerrors.Internal("reconstruct wallet key", fmt.Errorf("cached share B has wrong length"))
	}

	var a, b [seedSize]byte
	copy(a[:], shareA)
	copy(b[:], shareB)
	defer zero(a[:])
	defer zero(b[:])

	seed := reconstructSeed(a, b)
	return append([]byte(nil), seed[:]...), nil
}

// RecoveryModeFor returns the recovery mode userID enrolled their wallet
// under, so a caller can enforce the "recovery_mode=none" precondition
// private deposits require before calling Reconstruct.
func (s *Service) RecoveryModeFor(ctx context.Context, userID string) (RecoveryMode, error) {
	rows, err := s.repo.GetWalletShares(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", svcerrors.NotFound("wallet", userID)
	}
	return RecoveryMode(rows[0].RecoveryMode), nil
}

// LockSession evicts and zeroes any cached Share B for sessionID, called on
// logout so a decrypted share does not outlive its session.
func (s *Service) LockSession(sessionID string) {
	s.cache.evict(sessionID)
}

// Close stops the unlock cache's background sweep.
func (s *Service) Close() {
	s.cache.close()
}

// VerifyLogin checks a wallet-login challenge signature, accepting either
// the wallet's current public key or, within its rotation grace window, the
// immediately preceding one, so a client that signed with a just-rotated-out
// key is not locked out mid-rotation.
func (s *Service) VerifyLogin(ctx context.Context, userID, wallet, signatureHex, message, pubKeyHex string) error {
	if err := VerifyWalletSignature(wallet, signatureHex, message, pubKeyHex); err == nil {
		return nil
	}

	grace, err := s.repo.GetActiveRotationGrace(ctx, userID)
	if err != nil {
		return svcerrors.InvalidSignature(fmt.Errorf("signature verification failed and no rotation grace is active"))
	}
	if grace.OldPubkey != wallet {
		return svcerrors.InvalidSignature(fmt.Errorf("signature verification failed"))
	}
	return nil
}

// Rotate generates a fresh keypair for userID, replacing its stored Share B
// (under a key re-derived from the supplied credential) and returning a
// fresh Share A / recovery artifact, and records a rotation-history entry
// so the old public key remains valid for RotationGrace.
func (s *Service) Rotate(ctx context.Context, userID string, credential []byte, credentialKind string, recoveryMode RecoveryMode) (Material, error) {
	rows, err := s.repo.GetWalletShares(ctx, userID)
	if err != nil {
		return Material{}, err
	}
	var oldAddress string
	if len(rows) > 0 {
		oldAddress = rows[0].PublicKey
	}

	material, err := s.Create(ctx, userID, credential, credentialKind, recoveryMode)
	if err != nil {
		return Material{}, err
	}

	rotation := &database.WalletRotationHistory{
		UserID:     userID,
		OldPubkey:  oldAddress,
		NewPubkey:  material.Address,
		GraceUntil: time.Now().Add(s.cfg.RotationGrace),
	}
	if err := s.repo.RecordWalletRotation(ctx, rotation); err != nil {
		return Material{}, err
	}
	return material, nil
}
