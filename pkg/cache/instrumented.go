package cache

import (
	"context"
	"time"

	"github.com/corebroker/messaging-runtime/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedCache wraps a Cache to add logging and tracing.
type InstrumentedCache struct {
	next   Cache
	tracer trace.Tracer
}

// NewInstrumentedCache creates a new instrumented cache wrapper.
func NewInstrumentedCache(next Cache) *InstrumentedCache {
	return &InstrumentedCache{
		next:   next,
		tracer: otel.Tracer("pkg/cache"),
	}
}

func (c *InstrumentedCache) span(ctx context.Context, op, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{attribute.String("cache.key", key)}, attrs...)
	return c.tracer.Start(ctx, "cache."+op, trace.WithAttributes(all...))
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (c *InstrumentedCache) Get(ctx context.Context, key string, dest interface{}) error {
	ctx, span := c.span(ctx, "Get", key)
	defer span.End()

	err := c.next.Get(ctx, key, dest)
	if err != nil {
		recordErr(span, err)
		logger.L().DebugContext(ctx, "cache miss", "key", key, "error", err)
		return err
	}
	logger.L().DebugContext(ctx, "cache hit", "key", key)
	return nil
}

func (c *InstrumentedCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	ctx, span := c.span(ctx, "Set", key, attribute.Int64("cache.ttl_ms", ttl.Milliseconds()))
	defer span.End()

	err := c.next.Set(ctx, key, value, ttl)
	if err != nil {
		recordErr(span, err)
		logger.L().ErrorContext(ctx, "cache set failed", "key", key, "error", err)
	}
	return err
}

func (c *InstrumentedCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := c.span(ctx, "Exists", key)
	defer span.End()

	ok, err := c.next.Exists(ctx, key)
	if err != nil {
		recordErr(span, err)
	}
	return ok, err
}

func (c *InstrumentedCache) Remove(ctx context.Context, key string) (int, error) {
	ctx, span := c.span(ctx, "Remove", key)
	defer span.End()

	n, err := c.next.Remove(ctx, key)
	if err != nil {
		recordErr(span, err)
		logger.L().ErrorContext(ctx, "cache remove failed", "key", key, "error", err)
	}
	return n, err
}

func (c *InstrumentedCache) RemoveByPattern(ctx context.Context, pattern string) (int, error) {
	ctx, span := c.span(ctx, "RemoveByPattern", pattern)
	defer span.End()

	n, err := c.next.RemoveByPattern(ctx, pattern)
	if err != nil {
		recordErr(span, err)
	}
	span.SetAttributes(attribute.Int("cache.removed", n))
	return n, err
}

func (c *InstrumentedCache) HashGet(ctx context.Context, hashKey, field string, dest interface{}) error {
	ctx, span := c.span(ctx, "HashGet", hashKey, attribute.String("cache.field", field))
	defer span.End()

	err := c.next.HashGet(ctx, hashKey, field, dest)
	if err != nil {
		recordErr(span, err)
	}
	return err
}

func (c *InstrumentedCache) HashSet(ctx context.Context, hashKey, field string, value interface{}, ttl time.Duration) error {
	ctx, span := c.span(ctx, "HashSet", hashKey, attribute.String("cache.field", field))
	defer span.End()

	err := c.next.HashSet(ctx, hashKey, field, value, ttl)
	if err != nil {
		recordErr(span, err)
	}
	return err
}

func (c *InstrumentedCache) HashGetAll(ctx context.Context, hashKey string) (map[string][]byte, error) {
	ctx, span := c.span(ctx, "HashGetAll", hashKey)
	defer span.End()

	m, err := c.next.HashGetAll(ctx, hashKey)
	if err != nil {
		recordErr(span, err)
	}
	return m, err
}

func (c *InstrumentedCache) HashExists(ctx context.Context, hashKey, field string) (bool, error) {
	ctx, span := c.span(ctx, "HashExists", hashKey, attribute.String("cache.field", field))
	defer span.End()

	ok, err := c.next.HashExists(ctx, hashKey, field)
	if err != nil {
		recordErr(span, err)
	}
	return ok, err
}

func (c *InstrumentedCache) HashDelete(ctx context.Context, hashKey, field string) (int, error) {
	ctx, span := c.span(ctx, "HashDelete", hashKey, attribute.String("cache.field", field))
	defer span.End()

	n, err := c.next.HashDelete(ctx, hashKey, field)
	if err != nil {
		recordErr(span, err)
	}
	return n, err
}

func (c *InstrumentedCache) HashIncrement(ctx context.Context, hashKey, field string, delta int64) (int64, error) {
	ctx, span := c.span(ctx, "HashIncrement", hashKey, attribute.String("cache.field", field), attribute.Int64("cache.delta", delta))
	defer span.End()

	v, err := c.next.HashIncrement(ctx, hashKey, field, delta)
	if err != nil {
		recordErr(span, err)
	}
	return v, err
}

func (c *InstrumentedCache) StringIncrement(ctx context.Context, key string) (int64, error) {
	ctx, span := c.span(ctx, "StringIncrement", key)
	defer span.End()

	v, err := c.next.StringIncrement(ctx, key)
	if err != nil {
		recordErr(span, err)
		logger.L().ErrorContext(ctx, "cache incr failed", "key", key, "error", err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("cache.value", v))
	return v, nil
}

func (c *InstrumentedCache) GetAll(ctx context.Context, pattern string) (map[string][]byte, error) {
	ctx, span := c.span(ctx, "GetAll", pattern)
	defer span.End()

	m, err := c.next.GetAll(ctx, pattern)
	if err != nil {
		recordErr(span, err)
	}
	span.SetAttributes(attribute.Int("cache.matched", len(m)))
	return m, err
}

func (c *InstrumentedCache) GetOrCreate(ctx context.Context, key string, ttl time.Duration, useRemote bool, produce Producer, dest interface{}) error {
	ctx, span := c.span(ctx, "GetOrCreate", key, attribute.Bool("cache.use_remote", useRemote))
	defer span.End()

	err := c.next.GetOrCreate(ctx, key, ttl, useRemote, produce, dest)
	if err != nil {
		recordErr(span, err)
	}
	return err
}

func (c *InstrumentedCache) FlushDb(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "cache.FlushDb")
	defer span.End()

	err := c.next.FlushDb(ctx)
	if err != nil {
		recordErr(span, err)
		logger.L().ErrorContext(ctx, "cache flush failed", "error", err)
	}
	return err
}

func (c *InstrumentedCache) Close() error {
	return c.next.Close()
}
