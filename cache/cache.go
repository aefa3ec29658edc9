// Package cache provides a pluggable byte cache with an in-process L1
// backed by ristretto, a Redis L2 and a tiered combination, plus a client
// middleware caching unary responses of side-effect free methods.
package cache

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// Cache is the caching contract used by the middleware.
type Cache interface {
	// Get retrieves a value by key. The boolean indicates a cache hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value under key with the given TTL. A zero TTL means the
	// entry has no automatic expiration.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// GetOrSet returns the cached value for key. On a miss it calls loader
	// once, even for concurrent callers, stores the result and returns it.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) ([]byte, error)) ([]byte, error)
}

// call is one in-flight load.
type call struct {
	wg  sync.WaitGroup
	val []byte
	err error
}

// loadGroup deduplicates concurrent loads for the same key.
type loadGroup struct {
	mu    sync.Mutex
	loads map[string]*call
}

// do runs fn once per key among concurrent callers. Every caller receives
// its own copy of the value.
func (g *loadGroup) do(key string, fn func() ([]byte, error)) ([]byte, error) {
	g.mu.Lock()
	if g.loads == nil {
		g.loads = make(map[string]*call)
	}
	if c, ok := g.loads[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		if c.err != nil {
			return nil, c.err
		}
		return bytes.Clone(c.val), nil
	}

	c := &call{}
	c.wg.Add(1)
	g.loads[key] = c
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.loads, key)
		g.mu.Unlock()
	}()
	defer c.wg.Done()

	c.val, c.err = fn()
	if c.err != nil {
		return nil, c.err
	}
	return bytes.Clone(c.val), nil
}
