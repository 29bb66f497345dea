package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/corebroker/messaging-runtime/pkg/errors"
	"github.com/corebroker/messaging-runtime/pkg/logger"
	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

// consumerImpl adapts a sarama.ConsumerGroup to messaging.Consumer. Each
// partition assignment is consumed on its own goroutine (ConsumeClaim is
// already called once per partition by sarama), which preserves
// per-partition ordering while letting partitions progress independently.
type consumerImpl struct {
	broker   *Broker
	group    sarama.ConsumerGroup
	topic    string
	tunables messaging.ConsumerTunables
	mode     messaging.DeliveryMode

	handler messaging.Handler
	dlq     *dlqTarget

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	running sync.WaitGroup
}

// dlqTarget, if set via WithDeadLetter, receives envelopes whose handler
// returned DeadLetter.
type dlqTarget struct {
	producer messaging.Producer
	target   string
}

// WithDeadLetter attaches a dead-letter destination to the consumer so that
// a DeadLetter disposition is routed instead of silently acked.
func (c *consumerImpl) WithDeadLetter(producer messaging.Producer, target string) *consumerImpl {
	c.dlq = &dlqTarget{producer: producer, target: target}
	return c
}

func (c *consumerImpl) Subscribe(ctx context.Context, handler messaging.Handler) error {
	c.handler = handler
	c.running.Add(1)
	defer c.running.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for err := range c.group.Errors() {
			logger.L().Error("consumer group error", "topic", c.topic, "error", err)
		}
	}()

	for {
		select {
		case <-c.done:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}
		if err := c.group.Consume(ctx, []string{c.topic}, c); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return messaging.ErrTransportUnavailable(err)
		}
	}
}

func (c *consumerImpl) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *consumerImpl) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *consumerImpl) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		env := fromConsumerMessage(msg)

		if c.tunables.CommitAfter == messaging.CommitBeforeHandler {
			session.MarkMessage(msg, "")
		}

		result := invokeHandler(session.Context(), c.handler, env)

		switch result.Disposition {
		case messaging.Ack:
			if c.tunables.CommitAfter == messaging.CommitAfterHandler {
				session.MarkMessage(msg, "")
			}
		case messaging.Requeue:
			// Do not mark the offset; the same record is redelivered
			// on the next poll/rebalance.
		case messaging.DeadLetter:
			c.emitDeadLetter(session.Context(), env, result.Cause)
			session.MarkMessage(msg, "")
		}

		select {
		case <-c.done:
			return nil
		default:
		}
	}
	return nil
}

func (c *consumerImpl) emitDeadLetter(ctx context.Context, env *messaging.Envelope, cause error) {
	if c.dlq == nil {
		logger.L().Warn("no dead-letter target configured; dropping envelope", "topic", c.topic, "message_id", env.MessageID())
		return
	}
	dead := env.Derive(1)
	dead.WithHeader(messaging.HeaderOriginalTarget, []byte(c.topic))
	reason := "handler failure"
	if cause != nil {
		reason = cause.Error()
	}
	dead.WithHeader(messaging.HeaderDeathReason, []byte(reason))
	if err := c.dlq.producer.Publish(ctx, dead); err != nil {
		logger.L().Error("failed to emit dead letter", "topic", c.topic, "error", err)
	}
}

// invokeHandler calls handler, converting a panic into a DeadLetter
// disposition so a handler that signals failure by panicking still
// honours the DLQ contract.
func invokeHandler(ctx context.Context, handler messaging.Handler, env *messaging.Envelope) (result messaging.HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			cause := errors.New(errors.CodeInternal, "handler panicked", nil)
			result = messaging.DeadLetterResult(cause)
		}
	}()
	return handler(ctx, env)
}

func fromConsumerMessage(msg *sarama.ConsumerMessage) *messaging.Envelope {
	env := &messaging.Envelope{
		Topic:      msg.Topic,
		Key:        string(msg.Key),
		ValueBytes: msg.Value,
		Headers:    make(map[string][]byte, len(msg.Headers)),
		Timestamp:  msg.Timestamp.UnixMilli(),
		Metadata: messaging.Metadata{
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Raw:       msg,
		},
	}
	for _, h := range msg.Headers {
		env.Headers[string(h.Key)] = h.Value
	}
	return env
}

func (c *consumerImpl) Flush(ctx context.Context, timeout time.Duration) error {
	// Offset commits are synchronous within ConsumeClaim via MarkMessage,
	// so there is no separate ready-queue to drain here.
	return nil
}

func (c *consumerImpl) Unsubscribe() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	err := c.group.Close()
	c.running.Wait()
	if err != nil {
		return messaging.ErrTransportUnavailable(err)
	}
	return nil
}

func (c *consumerImpl) IsHealthy(ctx context.Context) bool {
	return c.broker.Healthy(ctx)
}
