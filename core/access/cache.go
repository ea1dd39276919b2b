package access

import (
	"context"
	"sync"
	"time"
)

// CachingVerifier is an in-memory cache in front of another verifier. Identities
// are cached by token, so that a client can enforce a new verification with a new
// token. Rejections are not cached.
type CachingVerifier struct {
	verifier Verifier
	ttl      time.Duration
	now      func() time.Time

	mutex sync.RWMutex
	cache map[string]cachedIdentity
}

type cachedIdentity struct {
	identity *Identity
	expires  time.Time
}

// NewCachingVerifier creates a new caching verifier with the time-to-live ttl
func NewCachingVerifier(verifier Verifier, ttl time.Duration) *CachingVerifier {
	return &CachingVerifier{
		verifier: verifier,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]cachedIdentity),
	}
}

// Verify implements Verifier.
//
// This function is go-routine safe
func (c *CachingVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	now := c.now()
	c.mutex.RLock()
	cached, ok := c.cache[token]
	c.mutex.RUnlock()
	if ok && now.Before(cached.expires) {
		return cached.identity, nil
	}

	identity, err := c.verifier.Verify(ctx, token)
	if err != nil || identity == nil {
		return identity, err
	}

	c.mutex.Lock()
	for t, ci := range c.cache {
		if !now.Before(ci.expires) {
			delete(c.cache, t)
		}
	}
	c.cache[token] = cachedIdentity{identity: identity, expires: now.Add(c.ttl)}
	c.mutex.Unlock()
	return identity, nil
}
