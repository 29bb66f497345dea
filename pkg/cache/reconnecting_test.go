package cache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebroker/messaging-runtime/pkg/cache"
	"github.com/corebroker/messaging-runtime/pkg/cache/adapters/memory"
	"github.com/corebroker/messaging-runtime/pkg/errors"
)

func TestReconnectingCacheRecoversFromUnavailable(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "k1", "v1", time.Minute))

	rc := cache.NewReconnectingCache(backend, cache.Config{
		RetryAttempts: 3,
		RetryInterval: time.Millisecond,
	})

	backend.InjectFault(errors.CodeUnavailable, 1)

	var got string
	err := rc.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.Equal(t, "v1", got)
	assert.Equal(t, int64(1), rc.ReconnectCount())
	assert.Equal(t, int64(1), backend.ReconnectCalls())
}

func TestReconnectingCacheSkipsReconnectOnTimeout(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "k1", "v1", time.Minute))

	rc := cache.NewReconnectingCache(backend, cache.Config{
		RetryAttempts: 3,
		RetryInterval: time.Millisecond,
	})

	backend.InjectFault(errors.CodeTimeout, 1)

	var got string
	err := rc.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.Equal(t, "v1", got)
	assert.Equal(t, int64(0), rc.ReconnectCount(), "timeout should not trigger a reconnect")
}

func TestReconnectingCacheSwallowsUnrecognizedError(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "k1", "v1", time.Minute))

	rc := cache.NewReconnectingCache(backend, cache.Config{
		RetryAttempts: 3,
		RetryInterval: time.Millisecond,
	})

	backend.InjectFault(errors.CodeSerialization, 1)

	var got string
	err := rc.Get(ctx, "k1", &got)
	require.NoError(t, err, "degraded cache never returns a hard error for an unrecognized code")
	assert.Empty(t, got)
}

func TestReconnectingCacheReturnsZeroValueAfterExhaustingRetries(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "k1", "v1", time.Minute))

	rc := cache.NewReconnectingCache(backend, cache.Config{
		RetryAttempts: 2,
		RetryInterval: time.Millisecond,
	})

	// Outlasts the reconnect plus every retry attempt.
	backend.InjectFault(errors.CodeUnavailable, 10)

	var got string
	err := rc.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// delayedReconnect wraps a memory.Cache with a Reconnect that sleeps briefly
// and records whether two reconnects ever overlapped, to prove the
// single-writer lock in ReconnectingCache.reconnectOnce actually serializes.
type delayedReconnect struct {
	*memory.Cache
	inFlight int32
	overlap  int32
	calls    int32
}

func (d *delayedReconnect) Reconnect(ctx context.Context) error {
	if atomic.AddInt32(&d.inFlight, 1) > 1 {
		atomic.AddInt32(&d.overlap, 1)
	}
	defer atomic.AddInt32(&d.inFlight, -1)
	atomic.AddInt32(&d.calls, 1)
	time.Sleep(5 * time.Millisecond)
	return nil
}

func TestReconnectingCacheSerializesConcurrentReconnects(t *testing.T) {
	backend := &delayedReconnect{Cache: memory.New()}
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, backend.Set(ctx, keyN(i), "v", time.Minute))
	}

	rc := cache.NewReconnectingCache(backend, cache.Config{
		RetryAttempts:        5,
		RetryInterval:        2 * time.Millisecond,
		ReconnectLockTimeout: 50 * time.Millisecond,
	})

	backend.InjectFault(errors.CodeUnavailable, 10)

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var got string
			err := rc.Get(ctx, keyN(0), &got)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, "v", got)
	}
	assert.Zero(t, atomic.LoadInt32(&backend.overlap), "no two reconnects should run concurrently")
}

func keyN(i int) string {
	return "key" + string(rune('0'+i%10))
}
