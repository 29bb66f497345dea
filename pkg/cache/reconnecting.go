package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/corebroker/messaging-runtime/pkg/concurrency"
	"github.com/corebroker/messaging-runtime/pkg/errors"
	"github.com/corebroker/messaging-runtime/pkg/logger"
)

// Reconnectable is implemented by backends that can re-establish their
// connection after an Unavailable error. Backends that are always
// connected (e.g. the in-process memory adapter) may implement it as a
// no-op.
type Reconnectable interface {
	Reconnect(ctx context.Context) error
}

// ReconnectingCache wraps a Cache with the reconnect/retry policy:
//
//  1. On an Unavailable error, one caller reconnects under a timed
//     single-writer lock (default 3s); everyone else proceeds straight to
//     the retry loop once the lock is released or the wait times out.
//  2. The operation is then retried up to Config.RetryAttempts times, with
//     backoff RetryInterval + (attempt-1)*2s between attempts.
//  3. On a Timeout error, the reconnect step is skipped and the retry loop
//     runs directly.
//  4. Any other error (or exhaustion of the retry loop) is logged and the
//     call returns the zero value for its result with a nil error, so a
//     degraded cache never surfaces as a hard failure to callers.
type ReconnectingCache struct {
	next      Cache
	reconnect func(ctx context.Context) error
	cfg       Config

	mu *concurrency.SmartMutex

	reconnectCount atomic.Int64
	generation     atomic.Int64
}

// NewReconnectingCache wraps next with the reconnect/retry policy. The
// reconnect step uses next.(Reconnectable).Reconnect when next implements
// Reconnectable; otherwise the reconnect step is skipped (retries still run
// on Unavailable and Timeout, just without attempting to restore the
// connection first).
func NewReconnectingCache(next Cache, cfg Config) *ReconnectingCache {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.ReconnectLockTimeout <= 0 {
		cfg.ReconnectLockTimeout = 3 * time.Second
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 5 * time.Second
	}

	rc := &ReconnectingCache{
		next: next,
		cfg:  cfg,
		mu:   concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "cache-reconnect"}),
	}
	if reconnectable, ok := next.(Reconnectable); ok {
		rc.reconnect = reconnectable.Reconnect
	}
	return rc
}

// ReconnectCount reports how many reconnect attempts have actually run.
// Exposed for tests asserting single-writer reconnect behaviour.
func (rc *ReconnectingCache) ReconnectCount() int64 { return rc.reconnectCount.Load() }

// Generation is the monotonically increasing counter bumped by both a
// successful reconnect and FlushDb.
func (rc *ReconnectingCache) Generation() int64 { return rc.generation.Load() }

func (rc *ReconnectingCache) bumpGeneration() { rc.generation.Add(1) }

// reconnectOnce runs the single-writer reconnect step. A caller that cannot
// acquire the lock within ReconnectLockTimeout assumes another caller is
// already reconnecting and returns immediately so its own retry loop can
// proceed without waiting indefinitely. A caller that acquires the lock
// after another caller's reconnect succeeded returns without reconnecting
// again.
func (rc *ReconnectingCache) reconnectOnce(ctx context.Context) {
	if rc.reconnect == nil {
		return
	}
	before := rc.reconnectCount.Load()
	if !rc.mu.TryLockTimeout(rc.cfg.ReconnectLockTimeout) {
		return
	}
	defer rc.mu.Unlock()
	if rc.reconnectCount.Load() != before {
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, rc.cfg.ConnectionTimeout)
	defer cancel()

	if err := rc.reconnect(dialCtx); err != nil {
		logger.L().ErrorContext(ctx, "cache reconnect failed", "error", err)
		return
	}
	rc.reconnectCount.Add(1)
	rc.bumpGeneration()
}

// withRetry runs op, applying the reconnect/retry policy on failure. On
// final failure it logs and returns the zero value of T with a nil error.
func withRetry[T any](rc *ReconnectingCache, ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	result, err := op(ctx)
	if err == nil {
		return result, nil
	}

	switch errors.CodeOf(err) {
	case errors.CodeUnavailable:
		rc.reconnectOnce(ctx)
	case errors.CodeTimeout:
		// Skip reconnect; retry directly.
	default:
		logger.L().ErrorContext(ctx, "cache operation failed", "error", err)
		return zero, nil
	}

	var lastErr error
	for attempt := 1; attempt <= rc.cfg.RetryAttempts; attempt++ {
		backoff := rc.cfg.RetryInterval + time.Duration(attempt-1)*2*time.Second
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}

		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		code := errors.CodeOf(err)
		if code != errors.CodeUnavailable && code != errors.CodeTimeout {
			logger.L().ErrorContext(ctx, "cache operation failed", "error", err)
			return zero, nil
		}
	}

	logger.L().ErrorContext(ctx, "cache operation failed after retries", "error", lastErr, "attempts", rc.cfg.RetryAttempts)
	return zero, nil
}

func withRetryErr(rc *ReconnectingCache, ctx context.Context, op func(ctx context.Context) error) error {
	_, err := withRetry(rc, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (rc *ReconnectingCache) Get(ctx context.Context, key string, dest interface{}) error {
	return withRetryErr(rc, ctx, func(ctx context.Context) error {
		return rc.next.Get(ctx, key, dest)
	})
}

func (rc *ReconnectingCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return withRetryErr(rc, ctx, func(ctx context.Context) error {
		return rc.next.Set(ctx, key, value, ttl)
	})
}

func (rc *ReconnectingCache) Exists(ctx context.Context, key string) (bool, error) {
	return withRetry(rc, ctx, func(ctx context.Context) (bool, error) {
		return rc.next.Exists(ctx, key)
	})
}

func (rc *ReconnectingCache) Remove(ctx context.Context, key string) (int, error) {
	return withRetry(rc, ctx, func(ctx context.Context) (int, error) {
		return rc.next.Remove(ctx, key)
	})
}

func (rc *ReconnectingCache) RemoveByPattern(ctx context.Context, pattern string) (int, error) {
	return withRetry(rc, ctx, func(ctx context.Context) (int, error) {
		return rc.next.RemoveByPattern(ctx, pattern)
	})
}

func (rc *ReconnectingCache) HashGet(ctx context.Context, hashKey, field string, dest interface{}) error {
	return withRetryErr(rc, ctx, func(ctx context.Context) error {
		return rc.next.HashGet(ctx, hashKey, field, dest)
	})
}

func (rc *ReconnectingCache) HashSet(ctx context.Context, hashKey, field string, value interface{}, ttl time.Duration) error {
	return withRetryErr(rc, ctx, func(ctx context.Context) error {
		return rc.next.HashSet(ctx, hashKey, field, value, ttl)
	})
}

func (rc *ReconnectingCache) HashGetAll(ctx context.Context, hashKey string) (map[string][]byte, error) {
	return withRetry(rc, ctx, func(ctx context.Context) (map[string][]byte, error) {
		return rc.next.HashGetAll(ctx, hashKey)
	})
}

func (rc *ReconnectingCache) HashExists(ctx context.Context, hashKey, field string) (bool, error) {
	return withRetry(rc, ctx, func(ctx context.Context) (bool, error) {
		return rc.next.HashExists(ctx, hashKey, field)
	})
}

func (rc *ReconnectingCache) HashDelete(ctx context.Context, hashKey, field string) (int, error) {
	return withRetry(rc, ctx, func(ctx context.Context) (int, error) {
		return rc.next.HashDelete(ctx, hashKey, field)
	})
}

func (rc *ReconnectingCache) HashIncrement(ctx context.Context, hashKey, field string, delta int64) (int64, error) {
	return withRetry(rc, ctx, func(ctx context.Context) (int64, error) {
		return rc.next.HashIncrement(ctx, hashKey, field, delta)
	})
}

func (rc *ReconnectingCache) StringIncrement(ctx context.Context, key string) (int64, error) {
	return withRetry(rc, ctx, func(ctx context.Context) (int64, error) {
		return rc.next.StringIncrement(ctx, key)
	})
}

func (rc *ReconnectingCache) GetAll(ctx context.Context, pattern string) (map[string][]byte, error) {
	return withRetry(rc, ctx, func(ctx context.Context) (map[string][]byte, error) {
		return rc.next.GetAll(ctx, pattern)
	})
}

func (rc *ReconnectingCache) GetOrCreate(ctx context.Context, key string, ttl time.Duration, useRemote bool, produce Producer, dest interface{}) error {
	return withRetryErr(rc, ctx, func(ctx context.Context) error {
		return rc.next.GetOrCreate(ctx, key, ttl, useRemote, produce, dest)
	})
}

func (rc *ReconnectingCache) FlushDb(ctx context.Context) error {
	err := withRetryErr(rc, ctx, func(ctx context.Context) error {
		return rc.next.FlushDb(ctx)
	})
	rc.bumpGeneration()
	return err
}

func (rc *ReconnectingCache) Close() error {
	return rc.next.Close()
}

// Unwrap returns the underlying cache.
func (rc *ReconnectingCache) Unwrap() Cache {
	return rc.next
}
