package wallet

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// PublicKeyToAddress renders an Ed25519 public key as its Solana address:
// unlike Neo's Hash160-then-base58check scheme, Solana addresses are simply
// the base58 encoding of the raw 32-byte public key.
func PublicKeyToAddress(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// VerifyWalletSignature verifies an ed25519 signature over message against
// pubKeyHex, and checks that wallet (a base58 Solana address) is in fact the
// address derived from that public key, so a caller cannot present a valid
// signature from an unrelated key and claim it authenticates a different
// wallet.
func VerifyWalletSignature(wallet, signatureHex, message, pubKeyHex string) error {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return errors.New("wallet address required")
	}

	sigBytes, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return errors.New("invalid signature length")
	}

	pubKeyBytes, err := hex.DecodeString(strings.TrimSpace(pubKeyHex))
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return errors.New("invalid public key length")
	}
	pubKey := ed25519.PublicKey(pubKeyBytes)

	if derived := PublicKeyToAddress(pubKey); derived != wallet {
		return errors.New("wallet address does not match public key")
	}

	if !ed25519.Verify(pubKey, []byte(message), sigBytes) {
		return errors.New("invalid signature")
	}
	return nil
}
