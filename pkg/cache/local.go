package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Local is an in-process cache. Expired entries are dropped lazily on read
// and by the janitor every cleanupInterval.
type Local struct {
	c *gocache.Cache
}

func NewLocal(defaultTTL, cleanupInterval time.Duration) *Local {
	return &Local{c: gocache.New(defaultTTL, cleanupInterval)}
}

func (l *Local) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, found := l.c.Get(key)
	if !found {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	return b, ok, nil
}

func (l *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	l.c.Set(key, value, ttl)
	return nil
}

func (l *Local) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		l.c.Delete(k)
	}
	return nil
}

// Len reports the number of entries, including expired ones not yet swept.
func (l *Local) Len() int {
	return l.c.ItemCount()
}
