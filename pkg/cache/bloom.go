package cache

import (
	"context"
	"time"

	"github.com/corebroker/messaging-runtime/pkg/datastructures/bloomfilter"
	"github.com/corebroker/messaging-runtime/pkg/errors"
)

// BloomCache wraps a Cache with a Bloom filter for negative caching: a key
// the filter has never seen is definitely not cached, so Get can skip the
// round-trip. Set, HashSet and Remove are overridden to keep the filter in
// step; every other Cache method (GetOrCreate included) is the embedded
// cache's own and neither consults nor updates the filter, so BloomCache is
// a drop-in Cache.
//
// Use case: if the cache backs a database, a cache miss triggers a DB
// query. With BloomCache, a "definitely not present" answer from the
// filter skips that lookup entirely.
type BloomCache struct {
	Cache
	bloom  *bloomfilter.BloomFilter
	prefix string
}

// BloomCacheConfig configures the Bloom filter cache.
type BloomCacheConfig struct {
	// ExpectedElements is the estimated number of unique keys.
	ExpectedElements uint `env:"CACHE_BLOOM_ELEMENTS" env-default:"100000"`

	// FalsePositiveRate is the acceptable false positive rate (0.01 = 1%).
	FalsePositiveRate float64 `env:"CACHE_BLOOM_FPR" env-default:"0.01"`

	// Prefix is added to keys for namespacing.
	Prefix string `env:"CACHE_BLOOM_PREFIX" env-default:""`
}

// NewBloomCache wraps a cache with a Bloom filter for negative lookups.
func NewBloomCache(next Cache, cfg BloomCacheConfig) *BloomCache {
	return &BloomCache{
		Cache:  next,
		bloom:  bloomfilter.New(cfg.ExpectedElements, cfg.FalsePositiveRate),
		prefix: cfg.Prefix,
	}
}

func (bc *BloomCache) Get(ctx context.Context, key string, dest interface{}) error {
	if !bc.bloom.ContainsString(bc.prefix + key) {
		return errors.New(errors.CodeNotFound, "key not found", nil)
	}
	return bc.Cache.Get(ctx, key, dest)
}

func (bc *BloomCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	bc.bloom.AddString(bc.prefix + key)
	return bc.Cache.Set(ctx, key, value, ttl)
}

func (bc *BloomCache) HashSet(ctx context.Context, hashKey, field string, value interface{}, ttl time.Duration) error {
	bc.bloom.AddString(bc.prefix + hashKey + ":" + field)
	return bc.Cache.HashSet(ctx, hashKey, field, value, ttl)
}

// Remove does not unmark the Bloom filter: filters do not support
// deletion, so the key may produce a false positive afterward. That is
// within the filter's accepted error budget.
func (bc *BloomCache) Remove(ctx context.Context, key string) (int, error) {
	return bc.Cache.Remove(ctx, key)
}

// Stats returns Bloom filter statistics.
func (bc *BloomCache) Stats() BloomCacheStats {
	return BloomCacheStats{
		Elements:          bc.bloom.Count(),
		FalsePositiveRate: bc.bloom.EstimatedFalsePositiveRate(),
	}
}

// BloomCacheStats contains Bloom filter statistics.
type BloomCacheStats struct {
	Elements          uint64
	FalsePositiveRate float64
}

// Warm pre-populates the Bloom filter with existing keys. Call this on
// startup if you have a list of existing keys.
func (bc *BloomCache) Warm(keys []string) {
	for _, key := range keys {
		bc.bloom.AddString(bc.prefix + key)
	}
}
