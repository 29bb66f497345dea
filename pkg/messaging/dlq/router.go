// Package dlq implements a family-agnostic dead-letter routing surface
// shared by the log-broker and AMQP producers/consumers.
package dlq

import (
	"context"

	"github.com/corebroker/messaging-runtime/pkg/logger"
	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

// Router publishes failed deliveries to a configured dead-letter
// destination. The destination is itself just a Producer bound to a topic
// (log broker) or an exchange (AMQP); Router does not know which.
type Router struct {
	producer messaging.Producer
	target   string
}

// NewRouter builds a Router that emits onto producer. target names the
// DLQ destination and appears only in log output; producer is already
// bound to the DLQ topic/exchange.
func NewRouter(producer messaging.Producer, target string) *Router {
	return &Router{producer: producer, target: target}
}

// EmitDeadLetter derives a dead-letter envelope from env: it stamps
// x-original-target and x-death-reason, increments attempt-count by one,
// and publishes the result to the configured destination. message-id and
// correlation-id are preserved verbatim.
func (r *Router) EmitDeadLetter(ctx context.Context, originTopicOrExchange string, env *messaging.Envelope, cause error) error {
	dead := env.Derive(1)
	dead.WithHeader(messaging.HeaderOriginalTarget, []byte(originTopicOrExchange))
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	dead.WithHeader(messaging.HeaderDeathReason, []byte(reason))

	logger.L().WarnContext(ctx, "emitting dead letter",
		"original_target", originTopicOrExchange,
		"dlq_target", r.target,
		"correlation_id", dead.CorrelationID(),
		"attempt_count", dead.AttemptCount(),
		"reason", reason,
	)

	return r.producer.Publish(ctx, dead)
}

// Close releases the underlying producer.
func (r *Router) Close() error {
	return r.producer.Dispose()
}
