package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/corebroker/messaging-runtime/pkg/logger"
	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

// transactionalProducer wraps sarama's async producer in exactly-once mode:
// every call to Publish/PublishAll/PublishBatch runs inside its own
// begin/commit transaction, since this package's Producer contract has no
// explicit transaction-scope API of its own. Flush commits nothing extra;
// Dispose aborts any transaction left open by a caller that never flushed.
type transactionalProducer struct {
	broker   *Broker
	topic    string
	producer sarama.AsyncProducer
	dupDet   bool

	mu     sync.Mutex
	closed bool
}

func newTransactionalProducer(b *Broker, topic string, cfg *sarama.Config) (*transactionalProducer, error) {
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Transaction.ID = b.cfg.TransactionIDPrefix + "-" + uuid.New().String()
	cfg.Producer.Return.Successes = true

	ap, err := sarama.NewAsyncProducer(b.cfg.Brokers, cfg)
	if err != nil {
		return nil, messaging.ErrTransportUnavailable(err)
	}

	tp := &transactionalProducer{broker: b, topic: topic, producer: ap, dupDet: b.cfg.DuplicateDetection}
	go tp.drain()
	return tp, nil
}

// drain discards success/error notifications from the async producer's
// channels; transaction outcome is observed through CommitTxn/AbortTxn's
// own return values instead.
func (p *transactionalProducer) drain() {
	for {
		select {
		case _, ok := <-p.producer.Successes():
			if !ok {
				return
			}
		case err, ok := <-p.producer.Errors():
			if !ok {
				return
			}
			if err != nil {
				logger.L().Error("transactional send failed", "topic", p.topic, "error", err.Err)
			}
		}
	}
}

func (p *transactionalProducer) sendInTxn(envs []*messaging.Envelope) error {
	if err := p.producer.BeginTxn(); err != nil {
		return messaging.ErrTransportUnavailable(err)
	}
	for _, env := range envs {
		msg := toProducerMessage(p.topic, env, p.dupDet)
		p.producer.Input() <- msg
	}
	if err := p.producer.CommitTxn(); err != nil {
		if abortErr := p.producer.AbortTxn(); abortErr != nil {
			logger.L().Error("failed to abort transaction after commit failure", "topic", p.topic, "error", abortErr)
		}
		return messaging.ErrTransportUnavailable(err)
	}
	return nil
}

func (p *transactionalProducer) Publish(ctx context.Context, env *messaging.Envelope) error {
	if p.isClosed() {
		return messaging.ErrClosed(nil)
	}
	return p.sendInTxn([]*messaging.Envelope{env})
}

func (p *transactionalProducer) PublishAll(ctx context.Context, envs []*messaging.Envelope) error {
	if p.isClosed() {
		return messaging.ErrClosed(nil)
	}
	if len(envs) == 0 {
		return nil
	}
	return p.sendInTxn(envs)
}

func (p *transactionalProducer) PublishBatch(ctx context.Context, envs []*messaging.Envelope) error {
	return p.PublishAll(ctx, envs)
}

func (p *transactionalProducer) Flush(ctx context.Context, timeout time.Duration) (int, error) {
	return 0, nil
}

func (p *transactionalProducer) Topics() []string { return []string{p.topic} }

func (p *transactionalProducer) IsHealthy(ctx context.Context) bool {
	return p.broker.Healthy(ctx) && !p.isClosed() && p.producer.TxnStatus()&sarama.ProducerTxnFlagInError == 0
}

func (p *transactionalProducer) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.producer.TxnStatus()&sarama.ProducerTxnFlagInTransaction != 0 {
		if err := p.producer.AbortTxn(); err != nil {
			logger.L().Error("failed to abort open transaction on dispose", "topic", p.topic, "error", err)
		}
	}
	return p.producer.Close()
}

func (p *transactionalProducer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
