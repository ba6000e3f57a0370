package main

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// decodeHexKey decodes a 32-byte hex-encoded master key (0x-prefix
// optional), used for the wallet share envelope-encryption key.
func decodeHexKey(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	key, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("authd: decode envelope key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("authd: envelope key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
