package messaging

import (
	"context"
	"time"

	"github.com/corebroker/messaging-runtime/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedBroker wraps a Broker with logging and tracing.
type InstrumentedBroker struct {
	next   Broker
	tracer trace.Tracer
}

// NewInstrumentedBroker creates a new InstrumentedBroker wrapping the given broker.
func NewInstrumentedBroker(next Broker) *InstrumentedBroker {
	return &InstrumentedBroker{
		next:   next,
		tracer: otel.Tracer("pkg/messaging"),
	}
}

func (b *InstrumentedBroker) Family() Family { return b.next.Family() }

func (b *InstrumentedBroker) Producer(topic string, mode DeliveryMode) (Producer, error) {
	producer, err := b.next.Producer(topic, mode)
	if err != nil {
		logger.L().Error("failed to create producer", "topic", topic, "mode", mode.String(), "error", err)
		return nil, err
	}
	return &InstrumentedProducer{next: producer, topic: topic, tracer: b.tracer}, nil
}

func (b *InstrumentedBroker) Consumer(topic string, group string, mode DeliveryMode) (Consumer, error) {
	consumer, err := b.next.Consumer(topic, group, mode)
	if err != nil {
		logger.L().Error("failed to create consumer", "topic", topic, "group", group, "mode", mode.String(), "error", err)
		return nil, err
	}
	return &InstrumentedConsumer{next: consumer, topic: topic, group: group, tracer: b.tracer}, nil
}

func (b *InstrumentedBroker) Close() error {
	logger.L().Info("closing messaging broker")
	return b.next.Close()
}

func (b *InstrumentedBroker) Healthy(ctx context.Context) bool {
	return b.next.Healthy(ctx)
}

// InstrumentedProducer wraps a Producer with logging and tracing.
type InstrumentedProducer struct {
	next   Producer
	topic  string
	tracer trace.Tracer
}

func (p *InstrumentedProducer) Publish(ctx context.Context, env *Envelope) error {
	ctx, span := p.tracer.Start(ctx, "messaging.Publish", trace.WithAttributes(
		attribute.String("messaging.topic", p.topic),
		attribute.String("messaging.message_id", env.MessageID()),
		attribute.String("messaging.correlation_id", env.CorrelationID()),
	))
	defer span.End()

	logger.L().InfoContext(ctx, "publishing envelope", "topic", p.topic, "correlation_id", env.CorrelationID())

	if err := p.next.Publish(ctx, env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "failed to publish envelope", "topic", p.topic, "correlation_id", env.CorrelationID(), "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "envelope published")
	return nil
}

func (p *InstrumentedProducer) PublishAll(ctx context.Context, envs []*Envelope) error {
	ctx, span := p.tracer.Start(ctx, "messaging.PublishAll", trace.WithAttributes(
		attribute.String("messaging.topic", p.topic),
		attribute.Int("messaging.batch_size", len(envs)),
	))
	defer span.End()

	if err := p.next.PublishAll(ctx, envs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "failed to publish all", "topic", p.topic, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "all envelopes published")
	return nil
}

func (p *InstrumentedProducer) PublishBatch(ctx context.Context, envs []*Envelope) error {
	ctx, span := p.tracer.Start(ctx, "messaging.PublishBatch", trace.WithAttributes(
		attribute.String("messaging.topic", p.topic),
		attribute.Int("messaging.batch_size", len(envs)),
	))
	defer span.End()

	logger.L().InfoContext(ctx, "publishing batch", "topic", p.topic, "batch_size", len(envs))

	if err := p.next.PublishBatch(ctx, envs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "failed to publish batch", "topic", p.topic, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "batch published")
	return nil
}

func (p *InstrumentedProducer) Flush(ctx context.Context, timeout time.Duration) (int, error) {
	return p.next.Flush(ctx, timeout)
}

func (p *InstrumentedProducer) Topics() []string {
	return p.next.Topics()
}

func (p *InstrumentedProducer) IsHealthy(ctx context.Context) bool {
	return p.next.IsHealthy(ctx)
}

func (p *InstrumentedProducer) Dispose() error {
	logger.L().Info("disposing producer", "topic", p.topic)
	return p.next.Dispose()
}

// InstrumentedConsumer wraps a Consumer with logging and tracing.
type InstrumentedConsumer struct {
	next   Consumer
	topic  string
	group  string
	tracer trace.Tracer
}

func (c *InstrumentedConsumer) Subscribe(ctx context.Context, handler Handler) error {
	logger.L().InfoContext(ctx, "starting consumer", "topic", c.topic, "group", c.group)

	instrumented := func(ctx context.Context, env *Envelope) HandlerResult {
		ctx, span := c.tracer.Start(ctx, "messaging.HandleEnvelope", trace.WithAttributes(
			attribute.String("messaging.topic", c.topic),
			attribute.String("messaging.group", c.group),
			attribute.String("messaging.message_id", env.MessageID()),
		))
		defer span.End()

		result := handler(ctx, env)
		switch result.Disposition {
		case Ack:
			span.SetStatus(codes.Ok, "acked")
		case Requeue:
			span.SetStatus(codes.Error, "requeued")
		case DeadLetter:
			if result.Cause != nil {
				span.RecordError(result.Cause)
			}
			span.SetStatus(codes.Error, "dead-lettered")
			logger.L().ErrorContext(ctx, "handler dead-lettered envelope", "topic", c.topic, "message_id", env.MessageID(), "cause", result.Cause)
		}
		return result
	}

	return c.next.Subscribe(ctx, instrumented)
}

func (c *InstrumentedConsumer) Flush(ctx context.Context, timeout time.Duration) error {
	return c.next.Flush(ctx, timeout)
}

func (c *InstrumentedConsumer) Unsubscribe() error {
	logger.L().Info("unsubscribing consumer", "topic", c.topic, "group", c.group)
	return c.next.Unsubscribe()
}

func (c *InstrumentedConsumer) IsHealthy(ctx context.Context) bool {
	return c.next.IsHealthy(ctx)
}
