package cache

import (
	"bytes"
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// L1 is an in-process cache backed by ristretto.
type L1 struct {
	rc    *ristretto.Cache[string, []byte]
	group loadGroup
}

// NewL1 creates a new L1 cache holding at most maxEntries entries.
func NewL1(maxEntries int64) (*L1, error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &L1{rc: rc}, nil
}

// Get retrieves a value by key.
func (l *L1) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := l.rc.Get(key)
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// Set stores a value under key with the given TTL. The write is visible to
// Get when Set returns.
func (l *L1) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	l.rc.SetWithTTL(key, bytes.Clone(val), 1, ttl)
	l.rc.Wait()
	return nil
}

// GetOrSet returns the cached value for key, loading it on a miss.
func (l *L1) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok, _ := l.Get(ctx, key); ok {
		return v, nil
	}
	return l.group.do(key, func() ([]byte, error) {
		val, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		_ = l.Set(ctx, key, val, ttl)
		return val, nil
	})
}

// Close stops the ristretto goroutines.
func (l *L1) Close() {
	l.rc.Close()
}
