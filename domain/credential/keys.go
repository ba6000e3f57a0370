package credential

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// KeyID derives a stable, non-secret identifier for an RSA public key: the
// first 8 bytes of SHA-256 over the big-endian modulus bytes, hex-encoded. This
// lets JWKS consumers and the signer agree on which key a token used
// without ever transmitting the modulus itself in the token header.
func KeyID(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return hex.EncodeToString(sum[:8])
}

// ParsePrivateKeyPEM decodes a PKCS#1 or PKCS#8 RSA private key in PEM form.
func ParsePrivateKeyPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse RSA private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// JWK is a single entry in a JSON Web Key Set, restricted to the RSA
// public-key fields clients need to verify an RS256 signature.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS wraps a set of public signing keys for discovery endpoints.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// PublicJWK renders pub as a JWK entry.
func PublicJWK(pub *rsa.PublicKey) JWK {
	eBytes := bigIntToBytes(pub.E)
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: KeyID(pub),
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(eBytes),
	}
}

func bigIntToBytes(e int) []byte {
	// RSA public exponents are small (typically 65537); encode as the
	// minimal big-endian byte sequence JWK expects.
	if e == 0 {
		return []byte{0}
	}
	var b []byte
	for e > 0 {
		b = append([]byte{byte(e & 0xff)}, b...)
		e >>= 8
	}
	return b
}

// mustRandomBytes panics only if the OS CSPRNG is unavailable, which would
// mean nothing on the system can be trusted to generate secrets anyway.
func mustRandomBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("credential: system entropy unavailable: %v", err))
	}
	return buf
}
