// Package cache provides a unified caching interface with multiple backend
// support.
//
// This package supports the following backends:
//   - Memory: in-process map for testing and development
//   - Redis: production-grade distributed cache
//
// Usage:
//
//	import "github.com/corebroker/messaging-runtime/pkg/cache/adapters/memory"
//
//	c := memory.New()
//	defer c.Close()
//
//	err := c.Set(ctx, "key", value, time.Hour)
//	err = c.Get(ctx, "key", &result)
package cache

import (
	"context"
	"time"
)

// Producer computes a fresh value on a GetOrCreate miss.
type Producer func(ctx context.Context) (interface{}, error)

// Cache defines the standard key-value caching interface. Every operation
// may fail with an AppError coded NotFound, Unavailable, Timeout, or
// Serialization (see pkg/errors); ReconnectingCache classifies and acts on
// Unavailable/Timeout per its reconnect policy before the error reaches a
// caller.
type Cache interface {
	// Get retrieves a value by key and unmarshals it into dest. Returns a
	// NotFound error if the key does not exist or has expired.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value with a TTL. A TTL of 0 means no expiration.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Remove deletes key and reports how many keys were removed (0 or 1).
	Remove(ctx context.Context, key string) (int, error)

	// RemoveByPattern deletes every key matching a glob pattern (`*` as an
	// arbitrary sequence) and reports how many were removed. Iterates all
	// known endpoints for distributed backends.
	RemoveByPattern(ctx context.Context, pattern string) (int, error)

	// HashGet retrieves one field of a hash-map key into dest.
	HashGet(ctx context.Context, hashKey, field string, dest interface{}) error

	// HashSet stores one field of a hash-map key. ttl of 0 leaves any
	// existing expiry on the hash key untouched.
	HashSet(ctx context.Context, hashKey, field string, value interface{}, ttl time.Duration) error

	// HashGetAll returns every field of a hash-map key as raw bytes.
	HashGetAll(ctx context.Context, hashKey string) (map[string][]byte, error)

	// HashExists reports whether field is present on hashKey.
	HashExists(ctx context.Context, hashKey, field string) (bool, error)

	// HashDelete removes field from hashKey and reports how many fields
	// were removed (0 or 1).
	HashDelete(ctx context.Context, hashKey, field string) (int, error)

	// HashIncrement increments one field of a hash-map key by delta and
	// returns the new value.
	HashIncrement(ctx context.Context, hashKey, field string, delta int64) (int64, error)

	// StringIncrement increments key by one and returns the new value.
	StringIncrement(ctx context.Context, key string) (int64, error)

	// GetAll returns every key matching pattern as raw bytes. Expensive;
	// not for hot paths.
	GetAll(ctx context.Context, pattern string) (map[string][]byte, error)

	// GetOrCreate returns the cached value for key into dest if useRemote
	// is true and the key is present; otherwise it calls produce and
	// decodes the result into dest. The produced value is stored with ttl
	// only when useRemote is true. If useRemote is false, produce always
	// runs and nothing is stored.
	GetOrCreate(ctx context.Context, key string, ttl time.Duration, useRemote bool, produce Producer, dest interface{}) error

	// FlushDb clears every key across all known endpoints.
	FlushDb(ctx context.Context) error

	// Close releases all resources.
	Close() error
}

// Config holds configuration for the Cache, including the reconnect/retry
// policy applied by ReconnectingCache.
type Config struct {
	// Driver specifies the cache backend: "memory" or "redis".
	Driver string `env:"CACHE_DRIVER" env-default:"memory"`

	// Host is the cache server hostname.
	Host string `env:"CACHE_HOST" env-default:"localhost"`

	// Port is the cache server port.
	Port string `env:"CACHE_PORT" env-default:"6379"`

	// Password is the authentication password (optional).
	Password string `env:"CACHE_PASSWORD"`

	// DB is the database number (Redis only).
	DB int `env:"CACHE_DB" env-default:"0"`

	// RetryAttempts is how many times an operation is retried after a
	// successful (or skipped) reconnect.
	RetryAttempts int `env:"CACHE_RETRY_ATTEMPTS" env-default:"3"`

	// RetryInterval is the base backoff between retry attempts; attempt n
	// waits RetryInterval + (n-1)*2s.
	RetryInterval time.Duration `env:"CACHE_RETRY_INTERVAL" env-default:"200ms"`

	// ConnectionTimeout bounds a single reconnect dial attempt.
	ConnectionTimeout time.Duration `env:"CACHE_CONNECTION_TIMEOUT" env-default:"5s"`

	// ReconnectLockTimeout bounds how long a caller waits to become the
	// single writer running the reconnect step before proceeding without
	// reconnecting itself (another caller is already doing it).
	ReconnectLockTimeout time.Duration `env:"CACHE_RECONNECT_LOCK_TIMEOUT" env-default:"3s"`
}
