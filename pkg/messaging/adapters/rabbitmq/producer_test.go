package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

func TestToPublishing_PersistentSetsDeliveryMode2(t *testing.T) {
	env := messaging.NewEnvelope("orders", "orders.created", "k1", []byte("payload"))
	pub := toPublishing(env, true)

	assert.Equal(t, uint8(amqp.Persistent), pub.DeliveryMode)
	assert.Equal(t, env.MessageID(), pub.MessageId)
	assert.Equal(t, []byte("payload"), pub.Body)
	assert.Equal(t, "application/json", pub.ContentType)
}

func TestToPublishing_TransientSetsDeliveryMode1(t *testing.T) {
	env := messaging.NewEnvelope("orders", "orders.created", "k1", []byte("payload"))
	pub := toPublishing(env, false)

	assert.Equal(t, uint8(amqp.Transient), pub.DeliveryMode)
}

func TestToPublishing_CarriesHeadersAsStrings(t *testing.T) {
	env := messaging.NewEnvelope("orders", "", "", nil)
	env.WithHeader("x-custom", []byte("v"))
	pub := toPublishing(env, false)

	v, ok := pub.Headers["x-custom"]
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestProducer_RoutingKeyFor_PrefersEnvelopeRoutingKey(t *testing.T) {
	p := &producer{exchange: "orders", broker: &Broker{cfg: Config{
		Exchanges: map[string]ExchangeSpec{"orders": {Type: "fanout"}},
	}}}
	env := messaging.NewEnvelope("orders", "explicit.key", "", nil)

	assert.Equal(t, "explicit.key", p.routingKeyFor(env))
}

func TestProducer_RoutingKeyFor_DerivesFromExchangeType(t *testing.T) {
	p := &producer{exchange: "orders", broker: &Broker{cfg: Config{
		Exchanges: map[string]ExchangeSpec{"orders": {Type: "direct"}},
	}}}
	env := messaging.NewEnvelope("orders", "", "", nil)

	assert.Equal(t, "", p.routingKeyFor(env))
}
