// Package messaging provides a unified abstraction layer for message brokers.
//
// This package defines the core interfaces for producing and consuming
// envelopes across the two broker families this system supports: a
// partitioned log broker (Kafka-family) and an AMQP 0-9-1 broker
// (RabbitMQ-family).
//
// # Architecture
//
// The package follows the adapter pattern with decoupled dependencies:
//   - Core interfaces and the Envelope type are defined here (no broker SDK
//     imports)
//   - Each adapter lives in its own sub-package (pkg/messaging/adapters/{driver})
//   - Users import only the adapter they need, pulling only that SDK
//
// # Usage
//
//	import (
//	    "github.com/corebroker/messaging-runtime/pkg/messaging"
//	    "github.com/corebroker/messaging-runtime/pkg/messaging/adapters/kafka"
//	)
//
//	broker, err := kafka.New(kafka.Config{Brokers: []string{"localhost:9092"}})
//	producer, err := broker.Producer("my-topic", messaging.AtLeastOnce)
//	defer producer.Dispose()
//	err = producer.Publish(ctx, messaging.NewEnvelope("my-topic", "", "", payload))
package messaging

import (
	"context"
	"time"
)

// Disposition is the outcome a handler requests for a delivered envelope.
type Disposition int

const (
	// Ack acknowledges the envelope; it will not be redelivered.
	Ack Disposition = iota
	// Requeue leaves the envelope unacknowledged so the broker redelivers it.
	Requeue
	// DeadLetter routes the envelope to the configured dead-letter
	// destination instead of redelivering it.
	DeadLetter
)

// HandlerResult is what a Handler returns to tell the transport how to
// dispose of the envelope it was given. A handler that panics is treated
// by the adapter as though it returned DeadLetter with an Internal-coded
// Cause; the recovered value itself is not carried in the Cause.
type HandlerResult struct {
	Disposition Disposition
	Cause       error
}

// AckResult is the canonical successful result.
func AckResult() HandlerResult { return HandlerResult{Disposition: Ack} }

// RequeueResult is the canonical redelivery result.
func RequeueResult() HandlerResult { return HandlerResult{Disposition: Requeue} }

// DeadLetterResult routes the envelope to the DLQ with cause as the reason.
func DeadLetterResult(cause error) HandlerResult {
	return HandlerResult{Disposition: DeadLetter, Cause: cause}
}

// Handler processes one delivered envelope and decides its disposition.
type Handler func(ctx context.Context, env *Envelope) HandlerResult

// Producer sends envelopes to a topic/exchange.
type Producer interface {
	// Publish sends a single envelope.
	Publish(ctx context.Context, env *Envelope) error

	// PublishAll sends envelopes sequentially, preserving per-key order.
	PublishAll(ctx context.Context, envs []*Envelope) error

	// PublishBatch sends envelopes as one network batch. From the caller's
	// view the result is identical to PublishAll; it only amortizes
	// syscalls/round-trips.
	PublishBatch(ctx context.Context, envs []*Envelope) error

	// Flush blocks until the in-flight buffer drains or timeout elapses,
	// and returns how many sends were confirmed.
	Flush(ctx context.Context, timeout time.Duration) (int, error)

	// Topics lists the destinations this producer has been used against.
	Topics() []string

	// IsHealthy reports whether the underlying client is connected.
	IsHealthy(ctx context.Context) bool

	// Dispose releases resources. Idempotent.
	Dispose() error
}

// Consumer receives envelopes from a topic/queue.
type Consumer interface {
	// Subscribe registers handler and begins consuming. It blocks until
	// ctx is canceled, Unsubscribe is called, or an unrecoverable error
	// occurs.
	Subscribe(ctx context.Context, handler Handler) error

	// Flush waits until the internal ready-queue is drained or timeout
	// elapses.
	Flush(ctx context.Context, timeout time.Duration) error

	// Unsubscribe stops consuming, waits for in-flight handlers to finish,
	// and commits/acks per the active strategy.
	Unsubscribe() error

	// IsHealthy reports whether the underlying client is connected.
	IsHealthy(ctx context.Context) bool
}

// Broker manages connections and creates producers/consumers for one
// broker family. Each adapter implements this interface.
type Broker interface {
	// Family identifies which protocol family this broker speaks.
	Family() Family

	// Producer creates a producer bound to topic/exchange, configured for
	// the given delivery mode.
	Producer(topic string, mode DeliveryMode) (Producer, error)

	// Consumer creates a consumer bound to topic/queue and group,
	// configured for the given delivery mode. An empty group requests
	// broadcast/fanout behaviour where the family supports it.
	Consumer(topic string, group string, mode DeliveryMode) (Consumer, error)

	// Close shuts down the broker connection and all associated
	// producers/consumers.
	Close() error

	// Healthy returns true if the broker connection is healthy.
	Healthy(ctx context.Context) bool
}
