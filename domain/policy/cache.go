package policy

import (
	"context"
	"sync"
)

// RequestCache memoizes Authorize/Permissions results for the lifetime of a
// single inbound request: a handler and the middleware wrapping it commonly
// ask the same authorize question more than once (e.g. a permission check in
// middleware, then again in the handler for a UI hint), and a goja
// evaluation is expensive enough to be worth skipping the second time.
// Callers construct one per request and discard it afterward; it is not
// safe to share across requests, since cached answers would go stale as
// soon as the engine's rule set or the subject's attributes change.
type RequestCache struct {
	engine *Engine

	mu    sync.Mutex
	cache map[cacheKey]bool
}

type cacheKey struct {
	subjectID    string
	orgID        string
	action       string
	resourceType string
	resourceID   string
}

// NewRequestCache wraps engine with a per-request memoization layer.
func NewRequestCache(engine *Engine) *RequestCache {
	return &RequestCache{engine: engine, cache: make(map[cacheKey]bool)}
}

// Authorize behaves like Engine.Authorize but returns a cached answer for a
// repeated (subject, action, resource) question within the same request.
func (c *RequestCache) Authorize(ctx context.Context, subject Subject, action string, resource Resource) (bool, error) {
	key := cacheKey{subjectID: subject.ID, orgID: subject.OrgID, action: action, resourceType: resource.Type, resourceID: resource.ID}

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	allowed, err := c.engine.Authorize(ctx, subject, action, resource)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.cache[key] = allowed
	c.mu.Unlock()
	return allowed, nil
}

// Permissions behaves like Engine.Permissions, routing each candidate
// action through the same per-request cache as Authorize.
func (c *RequestCache) Permissions(ctx context.Context, subject Subject, resource Resource, candidateActions []string) ([]string, error) {
	allowed := make([]string, 0, len(candidateActions))
	for _, action := range candidateActions {
		ok, err := c.Authorize(ctx, subject, action, resource)
		if err != nil {
			return nil, err
		}
		if ok {
			allowed = append(allowed, action)
		}
	}
	return allowed, nil
}
