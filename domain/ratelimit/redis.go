package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vaultauth/core/infrastructure/logging"
)

// slidingWindowScript implements the same prev/curr counter rotation as
// entry.rotate/estimate, but atomically server-side so concurrent instances
// never race on the same key. KEYS[1] is the counter hash key. ARGV is
// window_seconds, limit, now_unix.
const slidingWindowScript = `
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', key, 'window_start', 'prev', 'curr')
local window_start = tonumber(data[1])
local prev = tonumber(data[2]) or 0
local curr = tonumber(data[3]) or 0

if window_start == nil then
  window_start = now
end

local elapsed = now - window_start
if elapsed >= window then
  if elapsed < 2 * window then
    prev = curr
  else
    prev = 0
  end
  curr = 0
  window_start = window_start + window * math.floor(elapsed / window)
  elapsed = now - window_start
end

local r = elapsed / window
if r > 1 then r = 1 end
if r < 0 then r = 0 end
local estimate = math.ceil(prev * (1 - r) + curr)

if estimate >= limit then
  redis.call('HMSET', key, 'window_start', window_start, 'prev', prev, 'curr', curr)
  redis.call('EXPIRE', key, window * 2)
  return {0, window_start + window}
end

curr = curr + 1
redis.call('HMSET', key, 'window_start', window_start, 'prev', prev, 'curr', curr)
redis.call('EXPIRE', key, window * 2)
return {1, window_start + window}
`

// SharedStore is a Redis-backed sliding-window store for multi-instance
// deployments. It fails open on a transport or script error: an outage of
// the shared backend allows traffic through rather than taking the service
// down with it.
type SharedStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *logging.Logger
	script    *redis.Script
}

// NewSharedStore constructs a SharedStore over an existing Redis client.
func NewSharedStore(client *redis.Client, keyPrefix string, logger *logging.Logger) *SharedStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &SharedStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
		script:    redis.NewScript(slidingWindowScript),
	}
}

// Check runs the sliding-window script against Redis. On a transport or
// script error it logs a warning and allows the request: the shared backend
// being down is not grounds for denying traffic.
func (s *SharedStore) Check(ctx context.Context, key string, limit int, window time.Duration, now time.Time) Decision {
	res, err := s.script.Run(ctx, s.client, []string{s.keyPrefix + key},
		int(window.Seconds()), limit, now.Unix()).Result()
	if err != nil {
		s.logger.WithError(err).Warn("shared rate limit backend unavailable, failing open")
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		s.logger.Warn(ctx, "shared rate limit backend returned unexpected result, failing open", nil)
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	allowedInt, _ := vals[0].(int64)
	resetUnix, _ := vals[1].(int64)
	resetAt := time.Unix(resetUnix, 0)

	if allowedInt == 0 {
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: resetAt.Sub(now),
			ResetAt:    resetAt,
		}
	}
	return Decision{Allowed: true, Limit: limit, ResetAt: resetAt}
}
