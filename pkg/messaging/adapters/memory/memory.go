// Package memory provides an in-process Broker backed by buffered Go
// channels. It requires no external system and is the default driver used
// by tests and local development; it also anchors the conformance suite in
// pkg/messaging/tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/corebroker/messaging-runtime/pkg/errors"
	"github.com/corebroker/messaging-runtime/pkg/logger"
	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

// Config configures the in-process broker.
type Config struct {
	// BufferSize is the per-topic channel capacity.
	BufferSize int `env:"MEMORY_BUFFER_SIZE" env-default:"256"`
}

// Broker is an in-process, buffered-channel implementation of
// messaging.Broker. Every topic is a single unordered channel shared by all
// producers and consumers bound to it; there is no partitioning.
type Broker struct {
	cfg Config

	mu     sync.RWMutex
	topics map[string]chan *messaging.Envelope
	closed bool
}

// New creates a new in-process broker.
func New(cfg Config) *Broker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Broker{cfg: cfg, topics: make(map[string]chan *messaging.Envelope)}
}

func (b *Broker) Family() messaging.Family { return messaging.FamilyLog }

func (b *Broker) channel(topic string) chan *messaging.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[topic]
	if !ok {
		ch = make(chan *messaging.Envelope, b.cfg.BufferSize)
		b.topics[topic] = ch
	}
	return ch
}

func (b *Broker) Producer(topic string, mode messaging.DeliveryMode) (messaging.Producer, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, messaging.ErrClosed(nil)
	}
	return &producer{broker: b, topic: topic, ch: b.channel(topic)}, nil
}

func (b *Broker) Consumer(topic string, group string, mode messaging.DeliveryMode) (messaging.Consumer, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, messaging.ErrClosed(nil)
	}
	return &consumer{
		broker: b,
		topic:  topic,
		ch:     b.channel(topic),
		dlq:    b.channel(topic + ".dlq"),
		done:   make(chan struct{}),
	}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Broker) Healthy(ctx context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

type producer struct {
	broker *Broker
	topic  string
	ch     chan *messaging.Envelope
	mu     sync.Mutex
	closed bool
}

func (p *producer) Publish(ctx context.Context, env *messaging.Envelope) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return messaging.ErrClosed(nil)
	}
	select {
	case p.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *producer) PublishAll(ctx context.Context, envs []*messaging.Envelope) error {
	for _, env := range envs {
		if err := p.Publish(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (p *producer) PublishBatch(ctx context.Context, envs []*messaging.Envelope) error {
	return p.PublishAll(ctx, envs)
}

func (p *producer) Flush(ctx context.Context, timeout time.Duration) (int, error) {
	return len(p.ch), nil
}

func (p *producer) Topics() []string { return []string{p.topic} }

func (p *producer) IsHealthy(ctx context.Context) bool {
	return p.broker.Healthy(ctx)
}

func (p *producer) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type consumer struct {
	broker *Broker
	topic  string
	ch     chan *messaging.Envelope
	dlq    chan *messaging.Envelope

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	running sync.WaitGroup
}

func (c *consumer) Subscribe(ctx context.Context, handler messaging.Handler) error {
	c.running.Add(1)
	defer c.running.Done()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case env, ok := <-c.ch:
			if !ok {
				return nil
			}
			c.dispatch(ctx, handler, env)
		}
	}
}

func (c *consumer) dispatch(ctx context.Context, handler messaging.Handler, env *messaging.Envelope) {
	result := invoke(ctx, handler, env)
	switch result.Disposition {
	case messaging.Ack:
	case messaging.Requeue:
		go func() {
			time.Sleep(time.Millisecond)
			select {
			case c.ch <- env:
			default:
				logger.L().Warn("requeue dropped: topic buffer full", "topic", c.topic)
			}
		}()
	case messaging.DeadLetter:
		dead := env.Derive(1)
		dead.WithHeader(messaging.HeaderOriginalTarget, []byte(c.topic))
		reason := "handler failure"
		if result.Cause != nil {
			reason = result.Cause.Error()
		}
		dead.WithHeader(messaging.HeaderDeathReason, []byte(reason))
		select {
		case c.dlq <- dead:
		default:
			logger.L().Warn("dead letter dropped: dlq buffer full", "topic", c.topic)
		}
	}
}

// invoke calls handler, converting a panic into a DeadLetter disposition so
// handlers that signal failure by panicking still honour the DLQ contract.
func invoke(ctx context.Context, handler messaging.Handler, env *messaging.Envelope) (result messaging.HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			result = messaging.DeadLetterResult(errors.New(errors.CodeInternal, "handler panicked", nil))
		}
	}()
	return handler(ctx, env)
}

func (c *consumer) Flush(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(c.ch) > 0 {
		if timeout > 0 && time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}

func (c *consumer) Unsubscribe() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.running.Wait()
	return nil
}

func (c *consumer) IsHealthy(ctx context.Context) bool {
	return c.broker.Healthy(ctx)
}
