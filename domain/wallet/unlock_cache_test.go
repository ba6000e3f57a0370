package wallet

import (
	"bytes"
	"crypto/rand"
	"testing"
	"time"
)

func TestUnlockCache_GetMissAndHit(t *testing.T) {
	c := newUnlockCache()
	defer c.close()

	if _, ok := c.get("sess-1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	shareB := make([]byte, seedSize)
	rand.Read(shareB)
	c.put("sess-1", shareB, time.Minute)

	got, ok := c.get("sess-1")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if !bytes.Equal(got, shareB) {
		t.Error("cached share does not match the stored share")
	}
}

func TestUnlockCache_ExpiresAfterTTL(t *testing.T) {
	c := newUnlockCache()
	defer c.close()

	shareB := make([]byte, seedSize)
	rand.Read(shareB)
	c.put("sess-1", shareB, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.get("sess-1"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestUnlockCache_Evict(t *testing.T) {
	c := newUnlockCache()
	defer c.close()

	shareB := make([]byte, seedSize)
	rand.Read(shareB)
	c.put("sess-1", shareB, time.Minute)
	c.evict("sess-1")

	if _, ok := c.get("sess-1"); ok {
		t.Fatal("expected entry to be gone after evict")
	}
}
