package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebroker/messaging-runtime/pkg/cache"
	"github.com/corebroker/messaging-runtime/pkg/cache/adapters/memory"
	"github.com/corebroker/messaging-runtime/pkg/errors"
)

func TestBloomCacheSkipsLookupForUnseenKey(t *testing.T) {
	backend := memory.New()
	bc := cache.NewBloomCache(backend, cache.BloomCacheConfig{ExpectedElements: 1000, FalsePositiveRate: 0.01})

	var got string
	err := bc.Get(context.Background(), "never-set", &got)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestBloomCacheServesSetKey(t *testing.T) {
	backend := memory.New()
	bc := cache.NewBloomCache(backend, cache.BloomCacheConfig{ExpectedElements: 1000, FalsePositiveRate: 0.01})
	ctx := context.Background()

	require.NoError(t, bc.Set(ctx, "k1", "v1", time.Minute))

	var got string
	require.NoError(t, bc.Get(ctx, "k1", &got))
	assert.Equal(t, "v1", got)
}

func TestBloomCachePassesThroughUnoverriddenMethods(t *testing.T) {
	backend := memory.New()
	bc := cache.NewBloomCache(backend, cache.BloomCacheConfig{ExpectedElements: 1000, FalsePositiveRate: 0.01})
	ctx := context.Background()

	require.NoError(t, bc.HashSet(ctx, "h1", "f1", "v1", 0))

	ok, err := bc.HashExists(ctx, "h1", "f1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBloomCacheStats(t *testing.T) {
	backend := memory.New()
	bc := cache.NewBloomCache(backend, cache.BloomCacheConfig{ExpectedElements: 1000, FalsePositiveRate: 0.01})
	ctx := context.Background()

	require.NoError(t, bc.Set(ctx, "k1", "v1", time.Minute))
	require.NoError(t, bc.Set(ctx, "k2", "v2", time.Minute))

	stats := bc.Stats()
	assert.Equal(t, uint64(2), stats.Elements)
}
