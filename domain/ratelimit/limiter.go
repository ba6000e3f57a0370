package ratelimit

import (
	"context"
	"time"
)

// Store is satisfied by MemoryStore and SharedStore.
type Store interface {
	Check(ctx context.Context, key string, limit int, window time.Duration, now time.Time) Decision
}

// Limiter is the domain-facing rate limiter: a sliding window per key,
// with the window budget divided across however many instances are
// running behind the shared backend.
type Limiter struct {
	store       Store
	window      time.Duration
	maxRequests int
	replicas    int
}

// Config configures a Limiter.
type Config struct {
	Window      time.Duration
	MaxRequests int
	// Replicas is the number of service instances sharing the backend; the
	// effective per-instance budget is MaxRequests/Replicas, floored at 1.
	// Irrelevant for a MemoryStore-only deployment (single instance).
	Replicas int
}

// NewLimiter builds a Limiter over any Store (MemoryStore or SharedStore).
func NewLimiter(store Store, cfg Config) *Limiter {
	replicas := cfg.Replicas
	if replicas < 1 {
		replicas = 1
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, window: window, maxRequests: cfg.MaxRequests, replicas: replicas}
}

func (l *Limiter) perInstanceBudget() int {
	budget := l.maxRequests / l.replicas
	if budget < 1 {
		budget = 1
	}
	return budget
}

// Allow checks whether the given key may proceed and returns the decision.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	return l.store.Check(ctx, key, l.perInstanceBudget(), l.window, time.Now())
}
