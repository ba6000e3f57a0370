package runtime

import "testing"

func TestStrictIdentityMode(t *testing.T) {
	t.Run("production env", func(t *testing.T) {
		ResetStrictIdentityModeCache()
		t.Setenv("APP_ENV", "production")
		t.Setenv("OE_SIMULATION", "1")
		if !StrictIdentityMode() {
			t.Fatalf("StrictIdentityMode() = false, want true")
		}
	})

	t.Run("forced by STRICT_IDENTITY_MODE", func(t *testing.T) {
		ResetStrictIdentityModeCache()
		t.Setenv("APP_ENV", "development")
		t.Setenv("STRICT_IDENTITY_MODE", "1")
		if !StrictIdentityMode() {
			t.Fatalf("StrictIdentityMode() = false, want true")
		}
	})

	t.Run("marblerun env vars alone are not strict", func(t *testing.T) {
		ResetStrictIdentityModeCache()
		t.Setenv("APP_ENV", "development")
		t.Setenv("OE_SIMULATION", "1")
		t.Setenv("MARBLE_CERT", "cert")
		t.Setenv("MARBLE_KEY", "key")
		t.Setenv("MARBLE_ROOT_CA", "ca")
		if StrictIdentityMode() {
			t.Fatalf("StrictIdentityMode() = true, want false")
		}
	})

	t.Run("dev simulation", func(t *testing.T) {
		ResetStrictIdentityModeCache()
		t.Setenv("APP_ENV", "development")
		t.Setenv("OE_SIMULATION", "1")
		if StrictIdentityMode() {
			t.Fatalf("StrictIdentityMode() = true, want false")
		}
	})
}
