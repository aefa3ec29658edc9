package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// L2Config configures the Redis layer.
type L2Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key.
	Prefix string
	// Logger receives fail-soft errors at debug level. Defaults to a no-op
	// logger.
	Logger *zap.Logger
}

// L2 is a Redis-backed cache layer. All operations fail soft: if Redis is
// unavailable, reads are misses and writes are discarded.
type L2 struct {
	rdb    redis.UniversalClient
	prefix string
	log    *zap.Logger
	group  loadGroup
}

// NewL2 creates a Redis-backed cache from cfg.
func NewL2(cfg L2Config) *L2 {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewL2FromClient(rdb, cfg.Prefix, cfg.Logger)
}

// NewL2FromClient wraps an existing client, such as a cluster or sentinel
// client.
func NewL2FromClient(rdb redis.UniversalClient, prefix string, logger *zap.Logger) *L2 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &L2{rdb: rdb, prefix: prefix, log: logger}
}

// Get retrieves a value by key. A miss and an unreachable Redis both return
// (nil, false, nil).
func (l *L2) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := l.rdb.Get(ctx, l.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			l.log.Debug("redis get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value under key with the given TTL. Errors are logged and
// discarded.
func (l *L2) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := l.rdb.Set(ctx, l.prefix+key, val, ttl).Err(); err != nil {
		l.log.Debug("redis set failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// GetOrSet returns the cached value for key, loading it on a miss. Loads
// are deduplicated within this process only.
func (l *L2) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) ([]byte, error)) ([]byte, error) {
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

// Ping checks the Redis connection.
func (l *L2) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (l *L2) Close() error {
	return l.rdb.Close()
}
