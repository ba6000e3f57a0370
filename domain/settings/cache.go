// Package settings implements a read-through, TTL'd cache over persisted
// key/value system settings and feature flags.
package settings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vaultauth/core/infrastructure/database"
	"github.com/vaultauth/core/infrastructure/logging"
)

// DefaultTTL is the default staleness bound for cached settings. Callers
// that need a different tradeoff between admin-change latency and read
// load can override it with Cache.SetTTL.
const DefaultTTL = 60 * time.Second

// InvalidationChannel is the Redis pub/sub channel the admin mutation path
// publishes to so every instance's cache refreshes without waiting for TTL.
const InvalidationChannel = "settings:invalidate"

// Repository is the subset of the database layer the cache reads through to.
type Repository interface {
	ListSettings(ctx context.Context) ([]database.SystemSetting, error)
	ListFeatureFlags(ctx context.Context) ([]database.FeatureFlag, error)
}

// Cache is a process-wide, read-mostly overlay over persisted settings.
// Constructed once at startup and passed explicitly rather than hidden
// behind package-level state.
type Cache struct {
	repo   Repository
	logger *logging.Logger
	ttl    time.Duration

	mu          sync.RWMutex
	values      map[string]string
	flags       map[string]database.FeatureFlag
	lastRefresh time.Time
}

// New constructs a Cache with the default TTL. Call Refresh before serving
// traffic so the cache isn't empty on the first request.
func New(repo Repository, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{
		repo:   repo,
		logger: logger,
		ttl:    DefaultTTL,
		values: make(map[string]string),
		flags:  make(map[string]database.FeatureFlag),
	}
}

// SetTTL overrides the default staleness bound.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// Refresh reloads every setting and feature flag in one pass. Invoked at
// startup, on a timer, and on receipt of an InvalidationChannel message.
func (c *Cache) Refresh(ctx context.Context) error {
	settingsList, err := c.repo.ListSettings(ctx)
	if err != nil {
		return err
	}
	flagsList, err := c.repo.ListFeatureFlags(ctx)
	if err != nil {
		return err
	}

	values := make(map[string]string, len(settingsList))
	for _, s := range settingsList {
		values[s.Key] = s.Value
	}
	flags := make(map[string]database.FeatureFlag, len(flagsList))
	for _, f := range flagsList {
		flags[f.Key] = f
	}

	c.mu.Lock()
	c.values = values
	c.flags = flags
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	return nil
}

// Subscribe listens on InvalidationChannel and refreshes immediately on
// every message, so an admin mutation is visible to every instance within
// one Redis round trip instead of waiting out the TTL. Runs until ctx is
// cancelled; reconnects after a transient subscribe error rather than
// giving up and silently falling back to TTL-only refresh.
func (c *Cache) Subscribe(ctx context.Context, client *redis.Client) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.runSubscription(ctx, client)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Cache) runSubscription(ctx context.Context, client *redis.Client) {
	sub := client.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := c.Refresh(ctx); err != nil {
				c.logger.WithError(err).Warn("settings cache refresh after invalidation message failed")
			}
		}
	}
}

// stale reports whether the cache is past its TTL.
func (c *Cache) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastRefresh) > c.ttl
}

// ensureFresh refreshes on miss/staleness, giving read-through semantics.
func (c *Cache) ensureFresh(ctx context.Context) {
	if !c.stale() {
		return
	}
	if err := c.Refresh(ctx); err != nil {
		c.logger.WithError(err).Warn("settings cache refresh failed; serving stale values")
	}
}

// GetString returns a typed string setting, reading through on staleness.
func (c *Cache) GetString(ctx context.Context, key, defaultValue string) string {
	c.ensureFresh(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[key]; ok {
		return v
	}
	return defaultValue
}

// GetBool returns a typed bool setting.
func (c *Cache) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	raw := c.GetString(ctx, key, "")
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return b
}

// GetU32 returns a typed uint32 setting.
func (c *Cache) GetU32(ctx context.Context, key string, defaultValue uint32) uint32 {
	raw := c.GetString(ctx, key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return defaultValue
	}
	return uint32(v)
}

// GetU64 returns a typed uint64 setting.
func (c *Cache) GetU64(ctx context.Context, key string, defaultValue uint64) uint64 {
	raw := c.GetString(ctx, key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return defaultValue
	}
	return v
}

// GetCachedOrNone returns the value currently in the cache without triggering
// a read-through refresh, for use during router construction before the
// async runtime is available.
func (c *Cache) GetCachedOrNone(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// FeatureEnabled evaluates a feature flag for a given subject, hashing
// (flag_key, subject_id) so a given user gets a stable rollout answer.
func (c *Cache) FeatureEnabled(ctx context.Context, flagKey, subjectID string) bool {
	c.ensureFresh(ctx)
	c.mu.RLock()
	flag, ok := c.flags[flagKey]
	c.mu.RUnlock()
	if !ok || !flag.Enabled {
		return false
	}
	if flag.Rollout >= 100 {
		return true
	}
	if flag.Rollout <= 0 {
		return false
	}
	return rolloutBucket(flagKey, subjectID) < flag.Rollout
}

// rolloutBucket deterministically maps (flagKey, subjectID) to [0, 100).
func rolloutBucket(flagKey, subjectID string) int {
	h := sha256.Sum256([]byte(flagKey + "|" + subjectID))
	n := binary.BigEndian.Uint32(h[:4])
	return int(n % 100)
}
