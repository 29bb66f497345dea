package cache

import (
	"context"
	"time"

	"github.com/corebroker/messaging-runtime/pkg/resilience"
)

// ResilientCache wraps a Cache with circuit breaker and retry support.
// This prevents cache failures from cascading and provides automatic
// recovery. It is independent of, and sits above, ReconnectingCache's
// reconnect/retry policy: this layer protects callers from a cache that is
// failing outright, while ReconnectingCache handles transient
// Unavailable/Timeout conditions on a single call.
type ResilientCache struct {
	cache    Cache
	cb       *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
}

// ResilientConfig configures the resilient cache wrapper.
type ResilientConfig struct {
	CircuitBreakerEnabled   bool          `env:"CACHE_CB_ENABLED" env-default:"true"`
	CircuitBreakerThreshold int64         `env:"CACHE_CB_THRESHOLD" env-default:"5"`
	CircuitBreakerTimeout   time.Duration `env:"CACHE_CB_TIMEOUT" env-default:"30s"`

	RetryEnabled     bool          `env:"CACHE_RETRY_ENABLED" env-default:"true"`
	RetryMaxAttempts int           `env:"CACHE_RETRY_MAX" env-default:"2"`
	RetryBackoff     time.Duration `env:"CACHE_RETRY_BACKOFF" env-default:"50ms"`
}

// NewResilientCache wraps a cache with resilience features.
func NewResilientCache(cache Cache, cfg ResilientConfig) *ResilientCache {
	rc := &ResilientCache{cache: cache}

	if cfg.CircuitBreakerEnabled {
		rc.cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "cache",
			FailureThreshold: cfg.CircuitBreakerThreshold,
			SuccessThreshold: 2,
			Timeout:          cfg.CircuitBreakerTimeout,
		})
	}

	if cfg.RetryEnabled {
		rc.retryCfg = resilience.RetryConfig{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryBackoff,
			MaxBackoff:     time.Second,
			Multiplier:     2.0,
		}
	}

	return rc
}

func (rc *ResilientCache) execute(ctx context.Context, fn resilience.Executor) error {
	operation := fn

	if rc.cb != nil {
		cbFn := operation
		operation = func(ctx context.Context) error {
			return rc.cb.Execute(ctx, cbFn)
		}
	}

	if rc.retryCfg.MaxAttempts > 0 {
		return resilience.Retry(ctx, rc.retryCfg, operation)
	}
	return operation(ctx)
}

func (rc *ResilientCache) Get(ctx context.Context, key string, dest interface{}) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.cache.Get(ctx, key, dest)
	})
}

func (rc *ResilientCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.cache.Set(ctx, key, value, ttl)
	})
}

func (rc *ResilientCache) Exists(ctx context.Context, key string) (bool, error) {
	var result bool
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = rc.cache.Exists(ctx, key)
		return err
	})
	return result, err
}

func (rc *ResilientCache) Remove(ctx context.Context, key string) (int, error) {
	var result int
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = rc.cache.Remove(ctx, key)
		return err
	})
	return result, err
}

func (rc *ResilientCache) RemoveByPattern(ctx context.Context, pattern string) (int, error) {
	var result int
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = rc.cache.RemoveByPattern(ctx, pattern)
		return err
	})
	return result, err
}

func (rc *ResilientCache) HashGet(ctx context.Context, hashKey, field string, dest interface{}) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.cache.HashGet(ctx, hashKey, field, dest)
	})
}

func (rc *ResilientCache) HashSet(ctx context.Context, hashKey, field string, value interface{}, ttl time.Duration) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.cache.HashSet(ctx, hashKey, field, value, ttl)
	})
}

func (rc *ResilientCache) HashGetAll(ctx context.Context, hashKey string) (map[string][]byte, error) {
	var result map[string][]byte
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = rc.cache.HashGetAll(ctx, hashKey)
		return err
	})
	return result, err
}

func (rc *ResilientCache) HashExists(ctx context.Context, hashKey, field string) (bool, error) {
	var result bool
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = rc.cache.HashExists(ctx, hashKey, field)
		return err
	})
	return result, err
}

func (rc *ResilientCache) HashDelete(ctx context.Context, hashKey, field string) (int, error) {
	var result int
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = rc.cache.HashDelete(ctx, hashKey, field)
		return err
	})
	return result, err
}

func (rc *ResilientCache) HashIncrement(ctx context.Context, hashKey, field string, delta int64) (int64, error) {
	var result int64
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = rc.cache.HashIncrement(ctx, hashKey, field, delta)
		return err
	})
	return result, err
}

func (rc *ResilientCache) StringIncrement(ctx context.Context, key string) (int64, error) {
	var result int64
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = rc.cache.StringIncrement(ctx, key)
		return err
	})
	return result, err
}

func (rc *ResilientCache) GetAll(ctx context.Context, pattern string) (map[string][]byte, error) {
	var result map[string][]byte
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = rc.cache.GetAll(ctx, pattern)
		return err
	})
	return result, err
}

func (rc *ResilientCache) GetOrCreate(ctx context.Context, key string, ttl time.Duration, useRemote bool, produce Producer, dest interface{}) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.cache.GetOrCreate(ctx, key, ttl, useRemote, produce, dest)
	})
}

func (rc *ResilientCache) FlushDb(ctx context.Context) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.cache.FlushDb(ctx)
	})
}

func (rc *ResilientCache) Close() error {
	return rc.cache.Close()
}

// Unwrap returns the underlying cache.
func (rc *ResilientCache) Unwrap() Cache {
	return rc.cache
}

// CircuitBreakerState returns the current circuit breaker state.
func (rc *ResilientCache) CircuitBreakerState() resilience.State {
	if rc.cb == nil {
		return ""
	}
	return rc.cb.State()
}
