package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/vaultauth/core/infrastructure/logging"
)

const (
	// DefaultMaxEntries caps the in-memory map so a flood of distinct keys
	// (e.g. spoofed IPs) can't grow it unbounded.
	DefaultMaxEntries = 100_000

	// fillWarningRatio is the occupancy fraction at which Allow logs a
	// capacity warning instead of silently evicting.
	fillWarningRatio = 0.90

	// evictFraction is the share of entries dropped once the map is full.
	evictFraction = 0.20

	// evictSampleSize bounds the partial sort used to find eviction
	// candidates: take a random sample of this size, evict the oldest
	// among it, and repeat. This avoids an O(n log n) sort of the whole
	// map on every eviction.
	evictSampleSize = 10

	// idleCleanupAge is how long an entry may sit unused before the
	// periodic cleanup sweep drops it, independent of capacity pressure.
	idleCleanupAge = 10 * time.Minute

	// cleanupInterval is how often the periodic sweep runs.
	cleanupInterval = 5 * time.Minute
)

// MemoryStore is an in-process sliding-window counter store. Safe for
// concurrent use.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	logger     *logging.Logger
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewMemoryStore constructs a MemoryStore and starts its periodic cleanup
// goroutine. Call Close to stop it.
func NewMemoryStore(logger *logging.Logger) *MemoryStore {
	if logger == nil {
		logger = logging.Default()
	}
	s := &MemoryStore{
		entries:    make(map[string]*entry),
		maxEntries: DefaultMaxEntries,
		logger:     logger,
		stop:       make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the background cleanup goroutine.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Check counts the request against key if the estimate is still below limit
// and returns the decision with the entry's remaining capacity under limit;
// a denied request is not counted. ctx is accepted only to satisfy the Store
// interface shared with the Redis backend.
func (s *MemoryStore) Check(ctx context.Context, key string, limit int, window time.Duration, now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		if len(s.entries) >= s.maxEntries {
			s.evictLocked(ctx)
		} else if float64(len(s.entries)) >= float64(s.maxEntries)*fillWarningRatio {
			s.logger.Warn(ctx, "rate limiter store approaching capacity", nil)
		}
		e = &entry{windowStart: now}
		s.entries[key] = e
	}

	e.rotate(now, window)
	e.lastAccess = now

	before := e.estimate(now, window)
	if before >= limit {
		resetAt := e.windowStart.Add(window)
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: resetAt.Sub(now),
			ResetAt:    resetAt,
		}
	}

	e.currCount++
	after := e.estimate(now, window)
	remaining := limit - after
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   e.windowStart.Add(window),
	}
}

// evictLocked drops roughly evictFraction of entries, preferring the
// longest-idle ones found via bounded random sampling. Must be called with
// s.mu held.
func (s *MemoryStore) evictLocked(ctx context.Context) {
	target := int(float64(len(s.entries)) * evictFraction)
	if target < 1 {
		target = 1
	}

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}

	evicted := 0
	for evicted < target && len(keys) > 0 {
		sampleSize := evictSampleSize
		if sampleSize > len(keys) {
			sampleSize = len(keys)
		}
		oldestIdx := -1
		var oldestIdle time.Duration
		now := time.Now()
		for i := 0; i < sampleSize; i++ {
			idx := rand.Intn(len(keys))
			k := keys[idx]
			e, ok := s.entries[k]
			if !ok {
				continue
			}
			idle := now.Sub(e.lastAccess)
			if oldestIdx == -1 || idle > oldestIdle {
				oldestIdx = idx
				oldestIdle = idle
			}
		}
		if oldestIdx == -1 {
			break
		}
		delete(s.entries, keys[oldestIdx])
		keys[oldestIdx] = keys[len(keys)-1]
		keys = keys[:len(keys)-1]
		evicted++
	}

	s.logger.Warn(ctx, "rate limiter store evicted entries at capacity", nil)
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepIdle()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) sweepIdle() {
	cutoff := time.Now().Add(-idleCleanupAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.lastAccess.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// Len reports the current number of tracked keys, for tests and metrics.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
