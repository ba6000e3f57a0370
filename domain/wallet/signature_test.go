package wallet

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"
)

func TestVerifyWalletSignature_Valid(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	message := "login-challenge-nonce"
	sig := ed25519.Sign(priv, []byte(message))

	addr := PublicKeyToAddress(pub)
	err = VerifyWalletSignature(addr, hex.EncodeToString(sig), message, hex.EncodeToString(pub))
	if err != nil {
		t.Fatalf("VerifyWalletSignature() error = %v", err)
	}
}

func TestVerifyWalletSignature_WrongAddress(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	other, _, _ := ed25519.GenerateKey(nil)
	message := "login-challenge-nonce"
	sig := ed25519.Sign(priv, []byte(message))

	err := VerifyWalletSignature(PublicKeyToAddress(other), hex.EncodeToString(sig), message, hex.EncodeToString(pub))
	if err == nil {
		t.Fatal("expected error when the claimed address does not match the public key")
	}
}

func TestVerifyWalletSignature_TamperedMessage(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	sig := ed25519.Sign(priv, []byte("original-message"))

	err := VerifyWalletSignature(PublicKeyToAddress(pub), hex.EncodeToString(sig), "tampered-message", hex.EncodeToString(pub))
	if err == nil {
		t.Fatal("expected error for a signature over a different message")
	}
}

func TestVerifyWalletSignature_InvalidSignatureLength(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	err := VerifyWalletSignature(PublicKeyToAddress(pub), "abcd", "msg", hex.EncodeToString(pub))
	if err == nil {
		t.Fatal("expected error for a truncated signature")
	}
}
