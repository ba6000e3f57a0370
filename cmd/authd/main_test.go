package main

import (
	"time"

	"github.com/vaultauth/core/internal/config"
)

// testConfig returns a minimal Config suitable for handler/worker tests that
// only touch a handful of timeout/limit fields, not full startup wiring.
func testConfig() *config.Config {
	return &config.Config{
		Sidecar: config.SidecarConfig{
			Timeout:      2 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Deposit: config.DepositConfig{
			WorkerInterval:     time.Minute,
			HoldExpiryInterval: time.Minute,
			ExpiryWindow:       24 * time.Hour,
		},
	}
}
