package wallet

import (
	"crypto/rand"
	"fmt"
)

// seedSize is the length of an Ed25519 private key seed.
const seedSize = 32

// splitSeed splits a 32-byte Ed25519 seed into two XOR shares: Share A
// (client-held, never persisted server-side) is drawn from a CSPRNG, and
// Share B (server-held, persisted only under a credential-gated key) is its
// XOR with the seed, so that shareA ^ shareB == seed and neither share alone
// reveals anything about it. A recovery artifact (Share C) is layered on top
// of this split by the caller rather than participating in the XOR itself —
// see custody.go's Create.
func splitSeed(seed [seedSize]byte) (shareA, shareB [seedSize]byte, err error) {
	if _, err = rand.Read(shareA[:]); err != nil {
		return shareA, shareB, fmt.Errorf("generate wallet share: %w", err)
	}
	shareB = seed
	for b := 0; b < seedSize; b++ {
		shareB[b] ^= shareA[b]
	}
	return shareA, shareB, nil
}

// reconstructSeed XORs Share A and Share B back into the original seed. The
// caller is responsible for zeroing both shares once the seed has been
// consumed.
func reconstructSeed(shareA, shareB [seedSize]byte) [seedSize]byte {
	var seed [seedSize]byte
	for b := 0; b < seedSize; b++ {
		seed[b] = shareA[b] ^ shareB[b]
	}
	return seed
}

// zero overwrites a byte slice in place, used to scrub key material from
// memory as soon as it is no longer needed.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
