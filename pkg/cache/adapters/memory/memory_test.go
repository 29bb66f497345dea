package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebroker/messaging-runtime/pkg/cache/adapters/memory"
	"github.com/corebroker/messaging-runtime/pkg/errors"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute))

	var got string
	require.NoError(t, c.Get(ctx, "k1", &got))
	assert.Equal(t, "v1", got)
}

func TestGetMissingKey(t *testing.T) {
	c := memory.New()
	var got string
	err := c.Get(context.Background(), "missing", &got)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestTTLExpiry(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", "v1", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var got string
	err := c.Get(ctx, "k1", &got)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestExistsAndRemove(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	ok, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute))
	ok, err = c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := c.Remove(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.Remove(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRemoveByPattern(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "user:1:profile", "a", time.Minute))
	require.NoError(t, c.Set(ctx, "user:2:profile", "b", time.Minute))
	require.NoError(t, c.Set(ctx, "order:1", "c", time.Minute))

	n, err := c.RemoveByPattern(ctx, "user:*:profile")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := c.Exists(ctx, "order:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetAllMatchesPattern(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "session:a", "1", time.Minute))
	require.NoError(t, c.Set(ctx, "session:b", "2", time.Minute))
	require.NoError(t, c.Set(ctx, "other", "3", time.Minute))

	m, err := c.GetAll(ctx, "session:*")
	require.NoError(t, err)
	assert.Len(t, m, 2)
	assert.Equal(t, []byte("1"), m["session:a"])
}

func TestHashOperations(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	require.NoError(t, c.HashSet(ctx, "h1", "f1", "v1", 0))

	var got string
	require.NoError(t, c.HashGet(ctx, "h1", "f1", &got))
	assert.Equal(t, "v1", got)

	ok, err := c.HashExists(ctx, "h1", "f1")
	require.NoError(t, err)
	assert.True(t, ok)

	all, err := c.HashGetAll(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"f1": []byte("v1")}, all)

	n, err := c.HashDelete(ctx, "h1", "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = c.HashGet(ctx, "h1", "f1", &got)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestHashIncrement(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	v, err := c.HashIncrement(ctx, "counters", "hits", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = c.HashIncrement(ctx, "counters", "hits", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestStringIncrement(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	v, err := c.StringIncrement(ctx, "visits")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = c.StringIncrement(ctx, "visits")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestGetOrCreateUseRemote(t *testing.T) {
	c := memory.New()
	ctx := context.Background()
	calls := 0
	produce := func(ctx context.Context) (interface{}, error) {
		calls++
		return "produced", nil
	}

	var got string
	require.NoError(t, c.GetOrCreate(ctx, "k1", time.Minute, true, produce, &got))
	assert.Equal(t, "produced", got)
	assert.Equal(t, 1, calls)

	got = ""
	require.NoError(t, c.GetOrCreate(ctx, "k1", time.Minute, true, produce, &got))
	assert.Equal(t, "produced", got)
	assert.Equal(t, 1, calls, "second call should hit the cache, not re-produce")
}

func TestGetOrCreateSkipsCacheWhenNotUsingRemote(t *testing.T) {
	c := memory.New()
	ctx := context.Background()
	calls := 0
	produce := func(ctx context.Context) (interface{}, error) {
		calls++
		return "produced", nil
	}

	var got string
	require.NoError(t, c.GetOrCreate(ctx, "k1", time.Minute, false, produce, &got))
	require.NoError(t, c.GetOrCreate(ctx, "k1", time.Minute, false, produce, &got))
	assert.Equal(t, 2, calls, "useRemote=false always re-produces")

	ok, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "useRemote=false never touches the cache")
}

func TestFlushDb(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute))
	require.NoError(t, c.HashSet(ctx, "h1", "f1", "v1", 0))
	require.NoError(t, c.FlushDb(ctx))

	ok, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.HashGetAll(ctx, "h1")
	require.NoError(t, err)
}

func TestInjectFault(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	c.InjectFault(errors.CodeUnavailable, 2)

	err := c.Set(ctx, "k1", "v1", time.Minute)
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnavailable, errors.CodeOf(err))

	err = c.Set(ctx, "k1", "v1", time.Minute)
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnavailable, errors.CodeOf(err))

	require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute), "fault should be consumed after two failures")
}

func TestReconnectCountsCalls(t *testing.T) {
	c := memory.New()
	assert.Equal(t, int64(0), c.ReconnectCalls())

	require.NoError(t, c.Reconnect(context.Background()))
	require.NoError(t, c.Reconnect(context.Background()))
	assert.Equal(t, int64(2), c.ReconnectCalls())
}
