package identity

import (
	"context"
	"sync"
	"time"
)

// Cache holds the active identity for a bounded time. It is owned by the
// caller, typically one per signed-in session, and must be invalidated on
// logout.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entry   *IdentityKeyPair
	expires time.Time
}

// NewCache returns a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

// Get returns the cached identity, calling load when the entry is missing or expired.
// Load errors are not cached.
func (c *Cache) Get(ctx context.Context, load func(context.Context) (IdentityKeyPair, error)) (IdentityKeyPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry != nil && c.now().Before(c.expires) {
		return *c.entry, nil
	}

	kp, err := load(ctx)
	if err != nil {
		c.entry = nil
		return IdentityKeyPair{}, err
	}
	c.entry = &kp
	c.expires = c.now().Add(c.ttl)
	return kp, nil
}

// Invalidate drops the cached identity.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}
