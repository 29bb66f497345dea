// Package kafka adapts the messaging package onto the Kafka-family wire
// protocol via sarama. It is the log-broker family referenced throughout
// pkg/messaging/strategy.go.
package kafka

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

// Config configures the Kafka broker connection. Per-producer/consumer
// tunables come from messaging.Resolve; this struct only carries what is
// needed to dial and to enable duplicate detection.
type Config struct {
	Brokers []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`

	// ClientID identifies this process to the cluster.
	ClientID string `env:"KAFKA_CLIENT_ID" env-default:"messaging-runtime"`

	// DuplicateDetection, when on, derives message-id deterministically
	// from the envelope key (or payload hash if no key) instead of a
	// random UUID, so retried sends of the same logical message share an
	// id.
	DuplicateDetection bool `env:"KAFKA_DUPLICATE_DETECTION" env-default:"false"`

	// TransactionIDPrefix namespaces transactional.id values for
	// exactly-once producers; a unique suffix is appended per producer
	// instance.
	TransactionIDPrefix string `env:"KAFKA_TRANSACTION_ID_PREFIX" env-default:"messaging-runtime-tx"`
}

// Broker manages the client connection and vends producers/consumers
// against the log-broker family.
type Broker struct {
	cfg    Config
	client sarama.Client

	mu     sync.RWMutex
	closed bool
}

// New dials the cluster and returns a ready Broker.
func New(cfg Config) (*Broker, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Version = sarama.DefaultVersion

	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, messaging.ErrTransportUnavailable(err)
	}
	return &Broker{cfg: cfg, client: client}, nil
}

func (b *Broker) Family() messaging.Family { return messaging.FamilyLog }

func (b *Broker) Producer(topic string, mode messaging.DeliveryMode) (messaging.Producer, error) {
	if b.isClosed() {
		return nil, messaging.ErrClosed(nil)
	}
	tunables, err := messaging.Resolve(messaging.FamilyLog, mode, messaging.RoleProducer)
	if err != nil {
		return nil, err
	}

	saramaCfg := producerConfig(b.cfg, tunables.Producer)

	if tunables.Producer.TxEnabled {
		return newTransactionalProducer(b, topic, saramaCfg)
	}
	return newSyncProducer(b, topic, saramaCfg)
}

func (b *Broker) Consumer(topic string, group string, mode messaging.DeliveryMode) (messaging.Consumer, error) {
	if b.isClosed() {
		return nil, messaging.ErrClosed(nil)
	}
	tunables, err := messaging.Resolve(messaging.FamilyLog, mode, messaging.RoleConsumer)
	if err != nil {
		return nil, err
	}

	saramaCfg := consumerConfig(tunables.Consumer)
	saramaCfg.ClientID = b.cfg.ClientID

	cg, err := sarama.NewConsumerGroup(b.cfg.Brokers, group, saramaCfg)
	if err != nil {
		return nil, messaging.ErrTransportUnavailable(err)
	}

	return &consumerImpl{
		broker:   b,
		group:    cg,
		topic:    topic,
		tunables: tunables.Consumer,
		mode:     mode,
		done:     make(chan struct{}),
	}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

func (b *Broker) Healthy(ctx context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	_, err := b.client.Controller()
	return err == nil
}

func (b *Broker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func producerConfig(cfg Config, t messaging.ProducerTunables) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Version = sarama.DefaultVersion
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	switch t.Acks {
	case messaging.AcksNone:
		sc.Producer.RequiredAcks = sarama.NoResponse
	case messaging.AcksLeader:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case messaging.AcksAll:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	}

	if t.Retries >= 0 {
		sc.Producer.Retry.Max = t.Retries
	} else {
		sc.Producer.Retry.Max = 1 << 30
	}

	if t.Idempotent {
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
		if sc.Producer.RequiredAcks != sarama.WaitForAll {
			sc.Producer.RequiredAcks = sarama.WaitForAll
		}
	}
	if t.MaxInFlight > 0 && !t.Idempotent {
		sc.Net.MaxOpenRequests = t.MaxInFlight
	}
	if t.Linger > 0 {
		sc.Producer.Flush.Frequency = t.Linger
	}
	if t.BatchBytes > 0 {
		sc.Producer.Flush.Bytes = t.BatchBytes
	}
	return sc
}

func consumerConfig(t messaging.ConsumerTunables) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.DefaultVersion
	sc.Consumer.Offsets.AutoCommit.Enable = t.AutoCommit
	if t.IsolationLevel == messaging.ReadCommitted {
		sc.Consumer.IsolationLevel = sarama.ReadCommitted
	} else {
		sc.Consumer.IsolationLevel = sarama.ReadUncommitted
	}
	if t.Prefetch > 0 {
		sc.ChannelBufferSize = t.Prefetch
	}
	sc.Consumer.Return.Errors = true
	return sc
}

// stampHeaders writes message-id, correlation-id, attempt-count, and
// origin-ts from env onto msg in addition to any caller-set headers.
func stampHeaders(msg *sarama.ProducerMessage, env *messaging.Envelope) {
	for k, v := range env.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: v})
	}
}

// deterministicMessageID computes a stable message-id from key or payload,
// used when duplicate detection is enabled so repeated sends of the same
// logical message share an id.
func deterministicMessageID(key string, payload []byte) string {
	if key != "" {
		sum := sha256.Sum256([]byte(key))
		return hex.EncodeToString(sum[:16])
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}

func ensureMessageID(env *messaging.Envelope, duplicateDetection bool) {
	if duplicateDetection {
		env.WithHeader(messaging.HeaderMessageID, []byte(deterministicMessageID(env.Key, env.ValueBytes)))
		return
	}
	if _, ok := env.Header(messaging.HeaderMessageID); !ok {
		env.WithHeader(messaging.HeaderMessageID, []byte(uuid.New().String()))
	}
}
