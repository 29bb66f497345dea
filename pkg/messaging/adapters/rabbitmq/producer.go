package rabbitmq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

// producer leases channels from a bounded pool for each publish. The pool
// is the shared-resource boundary called out by the concurrency model:
// contention beyond its size blocks the caller rather than opening more
// connections.
type producer struct {
	broker     *Broker
	exchange   string
	tunables   messaging.ProducerTunables
	pool       chan *leasedChannel
	poolSize   int

	mu     sync.Mutex
	closed bool
}

type leasedChannel struct {
	ch       *amqp.Channel
	confirms <-chan amqp.Confirmation
}

func newProducer(b *Broker, exchange string, tunables messaging.ProducerTunables) (*producer, error) {
	size := b.cfg.ChannelsPerConnection
	p := &producer{broker: b, exchange: exchange, tunables: tunables, pool: make(chan *leasedChannel, size), poolSize: size}

	for i := 0; i < size; i++ {
		lc, err := p.newLeasedChannel()
		if err != nil {
			p.drainPool()
			return nil, err
		}
		p.pool <- lc
	}
	return p, nil
}

func (p *producer) newLeasedChannel() (*leasedChannel, error) {
	ch, err := p.broker.openChannel()
	if err != nil {
		return nil, err
	}
	lc := &leasedChannel{ch: ch}
	if p.tunables.PublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return nil, messaging.ErrProtocolViolation("confirm mode unsupported", err)
		}
		lc.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}
	return lc, nil
}

func (p *producer) drainPool() {
	close(p.pool)
	for lc := range p.pool {
		lc.ch.Close()
	}
}

func (p *producer) lease(ctx context.Context) (*leasedChannel, error) {
	select {
	case lc, ok := <-p.pool:
		if !ok {
			return nil, messaging.ErrClosed(nil)
		}
		return lc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *producer) release(lc *leasedChannel) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		lc.ch.Close()
		return
	}
	select {
	case p.pool <- lc:
	default:
		lc.ch.Close()
	}
}

func (p *producer) routingKeyFor(env *messaging.Envelope) string {
	if env.RoutingKey != "" {
		return env.RoutingKey
	}
	if spec, ok := p.broker.cfg.Exchanges[p.exchange]; ok {
		return derivedRoutingKey(spec.Type, "")
	}
	return ""
}

func toPublishing(env *messaging.Envelope, persistent bool) amqp.Publishing {
	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}
	headers := amqp.Table{}
	for k, v := range env.Headers {
		headers[k] = string(v)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         env.ValueBytes,
		MessageId:    env.MessageID(),
		Timestamp:    time.UnixMilli(env.Timestamp),
		DeliveryMode: mode,
		Headers:      headers,
	}
}

func (p *producer) publishOn(ctx context.Context, lc *leasedChannel, routingKey string, env *messaging.Envelope) error {
	pub := toPublishing(env, p.tunables.Persistent)
	if err := lc.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, pub); err != nil {
		return messaging.ErrTransportUnavailable(err)
	}
	if p.tunables.PublisherConfirms {
		select {
		case confirm := <-lc.confirms:
			if !confirm.Ack {
				return messaging.ErrProtocolViolation("broker did not confirm publish", nil)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *producer) Publish(ctx context.Context, env *messaging.Envelope) error {
	if p.isClosed() {
		return messaging.ErrClosed(nil)
	}
	routingKey := p.routingKeyFor(env)
	lc, err := p.lease(ctx)
	if err != nil {
		return err
	}
	defer p.release(lc)
	return p.publishOn(ctx, lc, routingKey, env)
}

// PublishAll sends each envelope on its own leased publish so per-key
// ordering holds even under pool contention across callers.
func (p *producer) PublishAll(ctx context.Context, envs []*messaging.Envelope) error {
	for _, env := range envs {
		if err := p.Publish(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// PublishBatch leases one channel for the whole batch, publishing all
// envelopes before releasing it.
func (p *producer) PublishBatch(ctx context.Context, envs []*messaging.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	if p.isClosed() {
		return messaging.ErrClosed(nil)
	}
	lc, err := p.lease(ctx)
	if err != nil {
		return err
	}
	defer p.release(lc)

	for _, env := range envs {
		if err := p.publishOn(ctx, lc, p.routingKeyFor(env), env); err != nil {
			return err
		}
	}
	return nil
}

// PublishToDeadLetter publishes env directly onto the given
// exchange/routingKey, stamping the standard dead-letter headers.
func (p *producer) PublishToDeadLetter(ctx context.Context, exchange, routingKey string, env *messaging.Envelope, cause error, attemptCount int) error {
	dead := env.Derive(attemptCount)
	dead.WithHeader(messaging.HeaderOriginalTarget, []byte(p.exchange))
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	dead.WithHeader(messaging.HeaderDeathReason, []byte(reason))

	lc, err := p.lease(ctx)
	if err != nil {
		return err
	}
	defer p.release(lc)

	pub := toPublishing(dead, true)
	if err := lc.ch.PublishWithContext(ctx, exchange, routingKey, false, false, pub); err != nil {
		return messaging.ErrTransportUnavailable(err)
	}
	return nil
}

func (p *producer) Flush(ctx context.Context, timeout time.Duration) (int, error) {
	// Confirms are awaited synchronously within publishOn, so there is no
	// outstanding buffer to drain here.
	return 0, nil
}

func (p *producer) Topics() []string { return []string{p.exchange} }

func (p *producer) IsHealthy(ctx context.Context) bool {
	return p.broker.Healthy(ctx) && !p.isClosed()
}

func (p *producer) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.drainPool()
	return nil
}

func (p *producer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
