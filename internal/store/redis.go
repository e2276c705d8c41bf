package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV implements KV directly on Redis. Values never expire; Redis
// persistence (RDB/AOF) provides durability.
type RedisKV struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisKV creates a Redis-backed store. prefix namespaces every key.
func NewRedisKV(rdb *redis.Client, prefix string) *RedisKV {
	return &RedisKV{rdb: rdb, prefix: prefix}
}

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *RedisKV) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// CachedKV wraps a primary KV (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedKV struct {
	primary KV
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedKV creates a cached wrapper around a primary store.
func NewCachedKV(primary KV, rdb *redis.Client, ttl time.Duration) *CachedKV {
	return &CachedKV{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedKV) Put(ctx context.Context, key string, value []byte) error {
	if err := s.primary.Put(ctx, key, value); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.invalidate(ctx, key)
	return nil
}

func (s *CachedKV) Delete(ctx context.Context, key string) error {
	if err := s.primary.Delete(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err == nil {
		return data, nil
	}

	// Cache miss or cache unavailable: read from primary.
	data, err = s.primary.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := s.rdb.Set(ctx, cacheKey(key), data, s.ttl).Err(); err != nil {
		slog.Warn("kv cache fill failed", "key", key, "err", err)
	}
	return data, nil
}

// --- Cache helpers ---

func (s *CachedKV) invalidate(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, cacheKey(key)).Err(); err != nil {
		slog.Warn("kv cache invalidation failed", "key", key, "err", err)
	}
}

func cacheKey(key string) string { return fmt.Sprintf("kvcache:%s", key) }
