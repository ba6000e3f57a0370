// Package runtime provides environment/runtime detection helpers shared across the service layer.
package runtime

import (
	"os"
	"strings"
	"sync"
)

// strictIdentityModeOnce caches the strict identity mode check at startup.
var (
	strictIdentityModeOnce  sync.Once
	strictIdentityModeValue bool
)

// ResetStrictIdentityModeCache resets the cached strict identity mode value.
// This should only be used in tests.
func ResetStrictIdentityModeCache() {
	strictIdentityModeOnce = sync.Once{}
	strictIdentityModeValue = false
}

// StrictIdentityMode returns true when the service should fail closed on identity/security
// boundaries (e.g. refusing plaintext fallbacks for wallet custody or sidecar auth).
//
// Production always runs strict. STRICT_IDENTITY_MODE=1 forces strict mode in any
// environment, so a mis-set APP_ENV during a staged rollout cannot silently weaken
// trust boundaries.
func StrictIdentityMode() bool {
	strictIdentityModeOnce.Do(func() {
		env := Env()
		forced := strings.TrimSpace(os.Getenv("STRICT_IDENTITY_MODE")) == "1"
		strictIdentityModeValue = env == Production || forced
	})
	return strictIdentityModeValue
}
