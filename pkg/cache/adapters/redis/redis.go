// Package redis adapts the cache package onto Redis via go-redis/v9.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/corebroker/messaging-runtime/pkg/cache"
	"github.com/corebroker/messaging-runtime/pkg/errors"
)

// Cache is a Redis-backed cache.Cache. RemoveByPattern and GetAll use SCAN
// rather than KEYS so a large keyspace does not block the server.
type Cache struct {
	mu     sync.RWMutex
	client *goredis.Client
	cfg    cache.Config
}

// New dials Redis and returns a ready Cache.
func New(cfg cache.Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, classify(err)
	}
	return &Cache{client: client, cfg: cfg}, nil
}

// Reconnect satisfies cache.Reconnectable by redialing the client.
func (r *Cache) Reconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.client.Close()
	r.client = goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", r.cfg.Host, r.cfg.Port),
		Password: r.cfg.Password,
		DB:       r.cfg.DB,
	})
	return classify(r.client.Ping(ctx).Err())
}

func (r *Cache) conn() *goredis.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// classify maps go-redis errors onto the shared error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if err == goredis.Nil {
		return errors.New(errors.CodeNotFound, "key not found", nil)
	}
	if timeoutErr, ok := err.(interface{ Timeout() bool }); ok && timeoutErr.Timeout() {
		return errors.New(errors.CodeTimeout, "redis operation timed out", err)
	}
	return errors.New(errors.CodeUnavailable, "redis operation failed", err)
}

func encode(value interface{}) ([]byte, error) {
	if s, ok := value.(string); ok {
		return []byte(s), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.New(errors.CodeSerialization, "failed to marshal value", err)
	}
	return data, nil
}

func decode(data []byte, dest interface{}) error {
	if sp, ok := dest.(*string); ok {
		*sp = string(data)
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.New(errors.CodeSerialization, "failed to unmarshal value", err)
	}
	return nil
}

func (r *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := r.conn().Get(ctx, key).Bytes()
	if err != nil {
		return classify(err)
	}
	return decode(val, dest)
}

func (r *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return classify(r.conn().Set(ctx, key, data, ttl).Err())
}

func (r *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.conn().Exists(ctx, key).Result()
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

func (r *Cache) Remove(ctx context.Context, key string) (int, error) {
	n, err := r.conn().Del(ctx, key).Result()
	if err != nil {
		return 0, classify(err)
	}
	return int(n), nil
}

// RemoveByPattern scans the keyspace in cursor batches (rather than KEYS)
// and deletes every match.
func (r *Cache) RemoveByPattern(ctx context.Context, pattern string) (int, error) {
	removed := 0
	client := r.conn()
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return removed, classify(err)
		}
		if len(keys) > 0 {
			n, err := client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, classify(err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

func (r *Cache) HashGet(ctx context.Context, hashKey, field string, dest interface{}) error {
	val, err := r.conn().HGet(ctx, hashKey, field).Bytes()
	if err != nil {
		return classify(err)
	}
	return decode(val, dest)
}

func (r *Cache) HashSet(ctx context.Context, hashKey, field string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	client := r.conn()
	if err := client.HSet(ctx, hashKey, field, data).Err(); err != nil {
		return classify(err)
	}
	if ttl > 0 {
		if err := client.Expire(ctx, hashKey, ttl).Err(); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (r *Cache) HashGetAll(ctx context.Context, hashKey string) (map[string][]byte, error) {
	m, err := r.conn().HGetAll(ctx, hashKey).Result()
	if err != nil {
		return nil, classify(err)
	}
	result := make(map[string][]byte, len(m))
	for field, v := range m {
		result[field] = []byte(v)
	}
	return result, nil
}

func (r *Cache) HashExists(ctx context.Context, hashKey, field string) (bool, error) {
	ok, err := r.conn().HExists(ctx, hashKey, field).Result()
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

func (r *Cache) HashDelete(ctx context.Context, hashKey, field string) (int, error) {
	n, err := r.conn().HDel(ctx, hashKey, field).Result()
	if err != nil {
		return 0, classify(err)
	}
	return int(n), nil
}

func (r *Cache) HashIncrement(ctx context.Context, hashKey, field string, delta int64) (int64, error) {
	n, err := r.conn().HIncrBy(ctx, hashKey, field, delta).Result()
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (r *Cache) StringIncrement(ctx context.Context, key string) (int64, error) {
	n, err := r.conn().Incr(ctx, key).Result()
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// GetAll scans the keyspace for pattern and fetches every matching value.
// Documented as expensive; not for hot paths.
func (r *Cache) GetAll(ctx context.Context, pattern string) (map[string][]byte, error) {
	client := r.conn()
	result := make(map[string][]byte)
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return result, classify(err)
		}
		for _, key := range keys {
			val, err := client.Get(ctx, key).Bytes()
			if err != nil {
				if err == goredis.Nil {
					continue
				}
				return result, classify(err)
			}
			result[key] = val
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return result, nil
}

func (r *Cache) GetOrCreate(ctx context.Context, key string, ttl time.Duration, useRemote bool, produce cache.Producer, dest interface{}) error {
	if useRemote {
		if err := r.Get(ctx, key, dest); err == nil {
			return nil
		}
	}

	value, err := produce(ctx)
	if err != nil {
		return err
	}
	if useRemote {
		if err := r.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}

	data, err := encode(value)
	if err != nil {
		return err
	}
	return decode(data, dest)
}

// FlushDb flushes the selected database.
func (r *Cache) FlushDb(ctx context.Context) error {
	return classify(r.conn().FlushDB(ctx).Err())
}

func (r *Cache) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client.Close()
}
