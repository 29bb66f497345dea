package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

// syncProducer is a non-transactional producer used for AtMostOnce and
// AtLeastOnce delivery. It wraps sarama's synchronous producer, which
// serializes sends internally.
type syncProducer struct {
	broker   *Broker
	topic    string
	producer sarama.SyncProducer
	dupDet   bool

	mu     sync.Mutex
	closed bool
}

// newSyncProducer opens a dedicated client against the broker's address
// list, since sarama conflates connection and producer settings in one
// Config and the tunables differ per delivery mode.
func newSyncProducer(b *Broker, topic string, cfg *sarama.Config) (*syncProducer, error) {
	client, err := sarama.NewClient(b.cfg.Brokers, cfg)
	if err != nil {
		return nil, messaging.ErrTransportUnavailable(err)
	}
	sp, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, messaging.ErrTransportUnavailable(err)
	}
	return &syncProducer{broker: b, topic: topic, producer: sp, dupDet: b.cfg.DuplicateDetection}, nil
}

func toProducerMessage(topic string, env *messaging.Envelope, dupDet bool) *sarama.ProducerMessage {
	ensureMessageID(env, dupDet)
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(env.ValueBytes),
		Timestamp: time.UnixMilli(env.Timestamp),
	}
	if env.Key != "" {
		msg.Key = sarama.StringEncoder(env.Key)
	}
	stampHeaders(msg, env)
	return msg
}

func (p *syncProducer) Publish(ctx context.Context, env *messaging.Envelope) error {
	if p.isClosed() {
		return messaging.ErrClosed(nil)
	}
	msg := toProducerMessage(p.topic, env, p.dupDet)
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return messaging.ErrTransportUnavailable(err)
	}
	env.Metadata.Partition = partition
	env.Metadata.Offset = offset
	return nil
}

// PublishAll sends envelopes one at a time, in order, so per-key ordering
// is preserved even though sarama's partitioner could otherwise reorder an
// internally-batched send.
func (p *syncProducer) PublishAll(ctx context.Context, envs []*messaging.Envelope) error {
	for _, env := range envs {
		if err := p.Publish(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (p *syncProducer) PublishBatch(ctx context.Context, envs []*messaging.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	if p.isClosed() {
		return messaging.ErrClosed(nil)
	}
	msgs := make([]*sarama.ProducerMessage, len(envs))
	for i, env := range envs {
		msgs[i] = toProducerMessage(p.topic, env, p.dupDet)
	}
	if err := p.producer.SendMessages(msgs); err != nil {
		return messaging.ErrTransportUnavailable(err)
	}
	for i, env := range envs {
		env.Metadata.Partition = msgs[i].Partition
		env.Metadata.Offset = msgs[i].Offset
	}
	return nil
}

func (p *syncProducer) Flush(ctx context.Context, timeout time.Duration) (int, error) {
	// sarama's SyncProducer has no in-flight queue visible to callers;
	// every SendMessage/SendMessages call already blocks for confirmation.
	return 0, nil
}

func (p *syncProducer) Topics() []string { return []string{p.topic} }

func (p *syncProducer) IsHealthy(ctx context.Context) bool {
	return p.broker.Healthy(ctx) && !p.isClosed()
}

func (p *syncProducer) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

func (p *syncProducer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
