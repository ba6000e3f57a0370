package deposit

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// VerifyWebhookSignature checks a hex-encoded HMAC-SHA256 signature over
// payload against secret, using a constant-time comparison so signature
// validity cannot be inferred from response timing.
func VerifyWebhookSignature(secret string, payload []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return false
	}
	if len(provided) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(expected, provided) == 1
}

// ParseDecimalToRawAmount converts a base-10 decimal string (as reported by
// an upstream indexer's token-transfer webhook) into an integer amount in
// the token's smallest unit, rejecting negative values, scientific
// notation, and more fractional digits than the token's decimals support.
func ParseDecimalToRawAmount(value string, decimals int) (int64, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, errors.New("deposit: empty token amount")
	}
	if strings.HasPrefix(v, "-") {
		return 0, errors.New("deposit: negative token amount")
	}
	if strings.ContainsAny(v, "eE") {
		return 0, errors.New("deposit: scientific notation not supported")
	}

	parts := strings.Split(v, ".")
	if len(parts) > 2 {
		return 0, errors.New("deposit: invalid decimal format")
	}

	wholeStr := parts[0]
	if wholeStr == "" {
		wholeStr = "0"
	}
	if !isAllDigits(wholeStr) {
		return 0, errors.New("deposit: invalid decimal digits")
	}

	fracStr := ""
	if len(parts) == 2 {
		fracStr = parts[1]
	}
	if !isAllDigits(fracStr) {
		return 0, errors.New("deposit: invalid fractional digits")
	}
	if len(fracStr) > decimals {
		return 0, errors.New("deposit: too many decimal places")
	}
	for len(fracStr) < decimals {
		fracStr += "0"
	}

	whole, err := strconv.ParseInt(wholeStr, 10, 64)
	if err != nil {
		return 0, errors.New("deposit: invalid integer amount")
	}
	var frac int64
	if fracStr != "" {
		frac, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, errors.New("deposit: invalid fraction")
		}
	}

	scale := int64(1)
	for i := 0; i < decimals; i++ {
		scale *= 10
		if scale < 0 {
			return 0, errors.New("deposit: invalid decimals")
		}
	}

	total, overflowed := mulAdd(whole, scale, frac)
	if overflowed {
		return 0, errors.New("deposit: amount overflow")
	}
	return total, nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// mulAdd computes whole*scale + frac, reporting overflow rather than
// wrapping, since a silently truncated deposit amount would misprice a
// credit to a user's ledger.
func mulAdd(whole, scale, frac int64) (int64, bool) {
	product := whole * scale
	if whole != 0 && product/whole != scale {
		return 0, true
	}
	total := product + frac
	if total < product {
		return 0, true
	}
	return total, false
}
