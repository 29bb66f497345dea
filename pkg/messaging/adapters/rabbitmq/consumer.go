package rabbitmq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/corebroker/messaging-runtime/pkg/errors"
	"github.com/corebroker/messaging-runtime/pkg/logger"
	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

// consumer opens WorkerCount channels against the same queue, each with
// its own prefetch, so handlers run concurrently across workers while
// staying sequential within a worker/channel.
type consumer struct {
	broker   *Broker
	queue    string
	tunables messaging.ConsumerTunables
	dlq      *dlqTarget

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	running sync.WaitGroup

	dlqMu sync.Mutex
	dlqCh *amqp.Channel
}

// dlqTarget names where a DeadLetter-disposed delivery is republished.
type dlqTarget struct {
	exchange   string
	routingKey string
}

func newConsumer(b *Broker, queue string, tunables messaging.ConsumerTunables) *consumer {
	return &consumer{broker: b, queue: queue, tunables: tunables, done: make(chan struct{})}
}

// WithDeadLetter configures the exchange/routingKey a DeadLetter
// disposition republishes to.
func (c *consumer) WithDeadLetter(exchange, routingKey string) *consumer {
	c.dlq = &dlqTarget{exchange: exchange, routingKey: routingKey}
	return c
}

func (c *consumer) Subscribe(ctx context.Context, handler messaging.Handler) error {
	workers := c.broker.cfg.WorkerCount
	prefetch := c.tunables.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}

	channels := make([]*amqp.Channel, 0, workers)
	for i := 0; i < workers; i++ {
		ch, err := c.broker.openChannel()
		if err != nil {
			for _, opened := range channels {
				opened.Close()
			}
			return err
		}
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			for _, opened := range channels {
				opened.Close()
			}
			return messaging.ErrProtocolViolation("qos failed", err)
		}
		channels = append(channels, ch)
	}
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()

	deliveries := make([]<-chan amqp.Delivery, len(channels))
	for i, ch := range channels {
		d, err := ch.Consume(c.queue, "", c.tunables.AutoAck, false, false, false, nil)
		if err != nil {
			return messaging.ErrTransportUnavailable(err)
		}
		deliveries[i] = d
	}

	c.running.Add(len(deliveries))
	for _, d := range deliveries {
		go c.consumeLoop(ctx, d, handler)
	}

	select {
	case <-c.done:
	case <-ctx.Done():
	}
	return nil
}

func (c *consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, handler messaging.Handler) {
	defer c.running.Done()
	for {
		select {
		case <-c.done:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(ctx, d, handler)
		}
	}
}

func (c *consumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler messaging.Handler) {
	env := fromDelivery(d)
	result := invokeHandler(ctx, handler, env)

	switch result.Disposition {
	case messaging.Ack:
		if err := d.Ack(false); err != nil {
			logger.L().Error("ack failed", "queue", c.queue, "error", err)
		}
	case messaging.Requeue:
		if err := d.Nack(false, true); err != nil {
			logger.L().Error("nack failed", "queue", c.queue, "error", err)
		}
	case messaging.DeadLetter:
		c.deadLetter(ctx, d, env, result.Cause)
	}
}

// deadLetter republishes the delivery to the configured DLX with
// attempt-count incremented and x-death-reason set, then acks the
// original delivery to prevent infinite redelivery loops.
func (c *consumer) deadLetter(ctx context.Context, d amqp.Delivery, env *messaging.Envelope, cause error) {
	if c.dlq != nil {
		dead := env.Derive(1)
		dead.WithHeader(messaging.HeaderOriginalTarget, []byte(c.queue))
		reason := "handler failure"
		if cause != nil {
			reason = cause.Error()
		}
		dead.WithHeader(messaging.HeaderDeathReason, []byte(reason))

		ch, err := c.dlqChannel()
		if err != nil {
			logger.L().Error("failed to open dead-letter channel", "queue", c.queue, "error", err)
		} else {
			pub := toPublishing(dead, true)
			if err := ch.PublishWithContext(ctx, c.dlq.exchange, c.dlq.routingKey, false, false, pub); err != nil {
				logger.L().Error("failed to publish dead letter", "queue", c.queue, "error", err)
			}
		}
	} else {
		logger.L().Warn("no dead-letter target configured; acking without redelivery", "queue", c.queue, "message_id", env.MessageID())
	}

	if err := d.Ack(false); err != nil {
		logger.L().Error("ack after dead-letter failed", "queue", c.queue, "error", err)
	}
}

// dlqChannel lazily opens and caches one dedicated channel for dead-letter
// republishing, avoiding a full channel pool per consumer for what is
// expected to be an infrequent path.
func (c *consumer) dlqChannel() (*amqp.Channel, error) {
	c.dlqMu.Lock()
	defer c.dlqMu.Unlock()
	if c.dlqCh != nil {
		return c.dlqCh, nil
	}
	ch, err := c.broker.openChannel()
	if err != nil {
		return nil, err
	}
	c.dlqCh = ch
	return ch, nil
}

func fromDelivery(d amqp.Delivery) *messaging.Envelope {
	headers := make(map[string][]byte, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = []byte(s)
		}
	}
	return &messaging.Envelope{
		Exchange:   d.Exchange,
		RoutingKey: d.RoutingKey,
		ValueBytes: d.Body,
		Headers:    headers,
		Timestamp:  d.Timestamp.UnixMilli(),
		Metadata: messaging.Metadata{
			DeliveryTag:   d.DeliveryTag,
			Redelivered:   d.Redelivered,
			DeliveryCount: int(d.DeliveryTag),
			Raw:           d,
		},
	}
}

// invokeHandler calls handler, converting a panic into a DeadLetter
// disposition so a handler that signals failure by panicking still
// honours the DLQ contract.
func invokeHandler(ctx context.Context, handler messaging.Handler, env *messaging.Envelope) (result messaging.HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			result = messaging.DeadLetterResult(errors.New(errors.CodeInternal, "handler panicked", nil))
		}
	}()
	return handler(ctx, env)
}

func (c *consumer) Flush(ctx context.Context, timeout time.Duration) error {
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

	drained := make(chan struct{})
	go func() {
		c.running.Wait()
		close(drained)
	}()
	if timeout := c.broker.cfg.DrainTimeout; timeout > 0 {
		select {
		case <-drained:
		case <-time.After(timeout):
			logger.L().Warn("drain timeout elapsed with handlers still running", "queue", c.queue)
		}
	} else {
		<-drained
	}

	c.dlqMu.Lock()
	if c.dlqCh != nil {
		c.dlqCh.Close()
		c.dlqCh = nil
	}
	c.dlqMu.Unlock()
	return nil
}

func (c *consumer) IsHealthy(ctx context.Context) bool {
	return c.broker.Healthy(ctx)
}
