// Package memory provides an in-process Cache backend for testing,
// development, and the conformance suite shared with the Redis adapter.
package memory

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corebroker/messaging-runtime/pkg/cache"
	"github.com/corebroker/messaging-runtime/pkg/errors"
)

type entry struct {
	value     []byte
	expiresAt time.Time
	noExpiry  bool
}

func (e entry) expired(now time.Time) bool {
	return !e.noExpiry && now.After(e.expiresAt)
}

// Fault lets tests force the next N operations to fail with a given error
// code, exercising ReconnectingCache's reconnect/retry policy
// deterministically without a real broken connection.
type Fault struct {
	Code  string
	Count int
}

// Cache is an in-process map-backed Cache. All exported state is guarded
// by mu; hash keys are stored in a separate map from plain keys.
type Cache struct {
	mu     sync.RWMutex
	items  map[string]entry
	hashes map[string]map[string]entry

	fault          atomic.Pointer[Fault]
	reconnectCalls atomic.Int64
}

// New returns an empty in-process Cache.
func New() *Cache {
	return &Cache{
		items:  make(map[string]entry),
		hashes: make(map[string]map[string]entry),
	}
}

// InjectFault makes the next count operations fail with the given
// errors.Code before touching the underlying map. Pass count <= 0 to clear
// an active fault.
func (c *Cache) InjectFault(code string, count int) {
	if count <= 0 {
		c.fault.Store(nil)
		return
	}
	c.fault.Store(&Fault{Code: code, Count: count})
}

// consumeFault returns a non-nil error and counts down the active fault, if
// any is still armed.
func (c *Cache) consumeFault() error {
	for {
		f := c.fault.Load()
		if f == nil || f.Count <= 0 {
			return nil
		}
		next := &Fault{Code: f.Code, Count: f.Count - 1}
		if c.fault.CompareAndSwap(f, next) {
			return errors.New(f.Code, "injected fault", nil)
		}
	}
}

// Reconnect satisfies cache.Reconnectable. The in-process map has no
// connection to restore; it only counts the call, so tests can assert
// exactly one reconnect happened. An armed fault stays armed.
func (c *Cache) Reconnect(ctx context.Context) error {
	c.reconnectCalls.Add(1)
	return nil
}

// ReconnectCalls reports how many times Reconnect has been invoked.
func (c *Cache) ReconnectCalls() int64 { return c.reconnectCalls.Load() }

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

func newEntry(data []byte, ttl time.Duration) entry {
	if ttl <= 0 {
		return entry{value: data, noExpiry: true}
	}
	return entry{value: data, expiresAt: time.Now().Add(ttl)}
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := c.consumeFault(); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || e.expired(time.Now()) {
		return errors.New(errors.CodeNotFound, "key not found", nil)
	}
	return decode(e.value, dest)
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.consumeFault(); err != nil {
		return err
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = newEntry(data, ttl)
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if err := c.consumeFault(); err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	return ok && !e.expired(time.Now()), nil
}

func (c *Cache) Remove(ctx context.Context, key string) (int, error) {
	if err := c.consumeFault(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return 0, nil
	}
	delete(c.items, key)
	return 1, nil
}

func (c *Cache) RemoveByPattern(ctx context.Context, pattern string) (int, error) {
	if err := c.consumeFault(); err != nil {
		return 0, err
	}
	re, err := compileGlob(pattern)
	if err != nil {
		return 0, errors.New(errors.CodeSerialization, "invalid pattern", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.items {
		if re.MatchString(key) {
			delete(c.items, key)
			removed++
		}
	}
	return removed, nil
}

func (c *Cache) HashGet(ctx context.Context, hashKey, field string, dest interface{}) error {
	if err := c.consumeFault(); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	fields, ok := c.hashes[hashKey]
	if !ok {
		return errors.New(errors.CodeNotFound, "hash key not found", nil)
	}
	e, ok := fields[field]
	if !ok || e.expired(time.Now()) {
		return errors.New(errors.CodeNotFound, "hash field not found", nil)
	}
	return decode(e.value, dest)
}

func (c *Cache) HashSet(ctx context.Context, hashKey, field string, value interface{}, ttl time.Duration) error {
	if err := c.consumeFault(); err != nil {
		return err
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fields, ok := c.hashes[hashKey]
	if !ok {
		fields = make(map[string]entry)
		c.hashes[hashKey] = fields
	}
	fields[field] = newEntry(data, ttl)
	return nil
}

func (c *Cache) HashGetAll(ctx context.Context, hashKey string) (map[string][]byte, error) {
	if err := c.consumeFault(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string][]byte)
	now := time.Now()
	for field, e := range c.hashes[hashKey] {
		if !e.expired(now) {
			result[field] = e.value
		}
	}
	return result, nil
}

func (c *Cache) HashExists(ctx context.Context, hashKey, field string) (bool, error) {
	if err := c.consumeFault(); err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.hashes[hashKey][field]
	return ok && !e.expired(time.Now()), nil
}

func (c *Cache) HashDelete(ctx context.Context, hashKey, field string) (int, error) {
	if err := c.consumeFault(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fields, ok := c.hashes[hashKey]
	if !ok {
		return 0, nil
	}
	if _, ok := fields[field]; !ok {
		return 0, nil
	}
	delete(fields, field)
	return 1, nil
}

func (c *Cache) HashIncrement(ctx context.Context, hashKey, field string, delta int64) (int64, error) {
	if err := c.consumeFault(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, ok := c.hashes[hashKey]
	if !ok {
		fields = make(map[string]entry)
		c.hashes[hashKey] = fields
	}
	var val int64
	if e, ok := fields[field]; ok && !e.expired(time.Now()) {
		val, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	val += delta
	fields[field] = entry{value: []byte(strconv.FormatInt(val, 10)), noExpiry: true}
	return val, nil
}

func (c *Cache) StringIncrement(ctx context.Context, key string) (int64, error) {
	if err := c.consumeFault(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var val int64
	existing, ok := c.items[key]
	var expiresAt time.Time
	noExpiry := true
	if ok && !existing.expired(time.Now()) {
		val, _ = strconv.ParseInt(string(existing.value), 10, 64)
		noExpiry = existing.noExpiry
		expiresAt = existing.expiresAt
	}
	val++
	c.items[key] = entry{value: []byte(strconv.FormatInt(val, 10)), noExpiry: noExpiry, expiresAt: expiresAt}
	return val, nil
}

func (c *Cache) GetAll(ctx context.Context, pattern string) (map[string][]byte, error) {
	if err := c.consumeFault(); err != nil {
		return nil, err
	}
	re, err := compileGlob(pattern)
	if err != nil {
		return nil, errors.New(errors.CodeSerialization, "invalid pattern", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	result := make(map[string][]byte)
	for key, e := range c.items {
		if !e.expired(now) && re.MatchString(key) {
			result[key] = e.value
		}
	}
	return result, nil
}

func (c *Cache) GetOrCreate(ctx context.Context, key string, ttl time.Duration, useRemote bool, produce cache.Producer, dest interface{}) error {
	if useRemote {
		if err := c.Get(ctx, key, dest); err == nil {
			return nil
		}
	}

	value, err := produce(ctx)
	if err != nil {
		return err
	}
	if useRemote {
		if err := c.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}

	data, err := encode(value)
	if err != nil {
		return err
	}
	return decode(data, dest)
}

func (c *Cache) FlushDb(ctx context.Context) error {
	if err := c.consumeFault(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry)
	c.hashes = make(map[string]map[string]entry)
	return nil
}

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry)
	c.hashes = make(map[string]map[string]entry)
	return nil
}

// compileGlob turns a pattern using only `*` as an arbitrary-sequence
// wildcard into an anchored regexp.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}
