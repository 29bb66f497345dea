// Package rabbitmq adapts the messaging package onto AMQP 0-9-1 via
// amqp091-go. It is the AMQP family referenced throughout
// pkg/messaging/strategy.go.
package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/corebroker/messaging-runtime/pkg/concurrency"
	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

// Broker owns a single TCP connection and bootstraps the configured
// exchange/queue/binding topology once per process.
type Broker struct {
	cfg  Config
	conn *amqp.Connection

	mu           *concurrency.SmartRWMutex
	closed       bool
	bootstrapped bool
}

// New dials the broker and declares the configured topology.
func New(cfg Config) (*Broker, error) {
	if cfg.ChannelsPerConnection <= 0 {
		cfg.ChannelsPerConnection = 10
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 5
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, messaging.ErrTransportUnavailable(err)
	}

	b := &Broker{
		cfg:  cfg,
		conn: conn,
		mu:   concurrency.NewSmartRWMutex(concurrency.MutexConfig{Name: "rabbitmq-broker"}),
	}

	if err := b.bootstrap(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// bootstrap declares every configured exchange and queue and binds them.
// It is idempotent: amqp's declare calls are themselves idempotent against
// an unchanged topology, and this method only runs once per Broker.
func (b *Broker) bootstrap() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bootstrapped {
		return nil
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return messaging.ErrTransportUnavailable(err)
	}
	defer ch.Close()

	for name, spec := range b.cfg.Exchanges {
		if err := ch.ExchangeDeclare(name, spec.Type, spec.Durable, spec.AutoDelete, false, false, nil); err != nil {
			return messaging.ErrProtocolViolation("exchange declare failed: "+name, err)
		}
	}

	for name, spec := range b.cfg.Queues {
		args := amqp.Table{}
		if spec.DeadLetterExchange != "" {
			args["x-dead-letter-exchange"] = spec.DeadLetterExchange
		}
		if _, err := ch.QueueDeclare(name, spec.Durable, spec.AutoDelete, spec.Exclusive, false, args); err != nil {
			return messaging.ErrProtocolViolation("queue declare failed: "+name, err)
		}
	}

	for _, binding := range b.cfg.Bindings {
		routingKey := binding.RoutingKey
		if routingKey == "" {
			if spec, ok := b.cfg.Exchanges[binding.Exchange]; ok {
				routingKey = derivedRoutingKey(spec.Type, binding.Queue)
			}
		}
		if err := ch.QueueBind(binding.Queue, routingKey, binding.Exchange, false, nil); err != nil {
			return messaging.ErrProtocolViolation("queue bind failed: "+binding.Queue+" -> "+binding.Exchange, err)
		}
	}

	b.bootstrapped = true
	return nil
}

func (b *Broker) Family() messaging.Family { return messaging.FamilyAMQP }

func (b *Broker) Producer(exchange string, mode messaging.DeliveryMode) (messaging.Producer, error) {
	if b.isClosed() {
		return nil, messaging.ErrClosed(nil)
	}
	tunables, err := messaging.Resolve(messaging.FamilyAMQP, mode, messaging.RoleProducer)
	if err != nil {
		return nil, err
	}
	return newProducer(b, exchange, tunables.Producer)
}

func (b *Broker) Consumer(queue string, group string, mode messaging.DeliveryMode) (messaging.Consumer, error) {
	if b.isClosed() {
		return nil, messaging.ErrClosed(nil)
	}
	tunables, err := messaging.Resolve(messaging.FamilyAMQP, mode, messaging.RoleConsumer)
	if err != nil {
		return nil, err
	}
	return newConsumer(b, queue, tunables.Consumer), nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.conn.Close(); err != nil {
		return messaging.ErrTransportUnavailable(err)
	}
	return nil
}

func (b *Broker) Healthy(ctx context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed && !b.conn.IsClosed()
}

func (b *Broker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// openChannel opens a fresh channel on the broker's connection.
func (b *Broker) openChannel() (*amqp.Channel, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, messaging.ErrTransportUnavailable(err)
	}
	return ch, nil
}
