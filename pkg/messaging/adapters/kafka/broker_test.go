package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

func TestDeterministicMessageID_StableForSameKey(t *testing.T) {
	a := deterministicMessageID("order-1", []byte("payload-a"))
	b := deterministicMessageID("order-1", []byte("payload-b"))
	assert.Equal(t, a, b, "same key must derive the same message-id regardless of payload")
}

func TestDeterministicMessageID_DiffersAcrossKeys(t *testing.T) {
	a := deterministicMessageID("order-1", nil)
	b := deterministicMessageID("order-2", nil)
	assert.NotEqual(t, a, b)
}

func TestDeterministicMessageID_FallsBackToPayloadHash(t *testing.T) {
	a := deterministicMessageID("", []byte("same"))
	b := deterministicMessageID("", []byte("same"))
	c := deterministicMessageID("", []byte("different"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestEnsureMessageID_DuplicateDetectionOverridesExisting(t *testing.T) {
	env := messaging.NewEnvelope("orders", "", "k1", []byte("v"))
	original := env.MessageID()

	ensureMessageID(env, true)

	assert.NotEqual(t, original, env.MessageID())
	assert.Equal(t, deterministicMessageID("k1", []byte("v")), env.MessageID())
}

func TestEnsureMessageID_NoDuplicateDetectionKeepsExisting(t *testing.T) {
	env := messaging.NewEnvelope("orders", "", "k1", []byte("v"))
	original := env.MessageID()

	ensureMessageID(env, false)

	assert.Equal(t, original, env.MessageID())
}

func TestEnsureMessageID_StampsMissingID(t *testing.T) {
	env := &messaging.Envelope{Key: "k1", ValueBytes: []byte("v")}
	ensureMessageID(env, false)
	assert.NotEmpty(t, env.MessageID())
}

func TestToProducerMessage_CarriesKeyValueAndHeaders(t *testing.T) {
	env := messaging.NewEnvelope("orders", "", "k1", []byte("payload"))
	env.WithHeader("x-custom", []byte("v"))

	msg := toProducerMessage("orders", env, false)

	require.Equal(t, "orders", msg.Topic)
	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "k1", string(key))

	val, err := msg.Value.Encode()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(val))

	found := false
	for _, h := range msg.Headers {
		if string(h.Key) == "x-custom" {
			found = true
			assert.Equal(t, "v", string(h.Value))
		}
	}
	assert.True(t, found, "custom header must be stamped onto the producer message")
}

func TestToProducerMessage_NoKeyLeavesKeyNil(t *testing.T) {
	env := messaging.NewEnvelope("orders", "", "", []byte("payload"))
	msg := toProducerMessage("orders", env, false)
	assert.Nil(t, msg.Key)
}

func TestProducerConfig_AcksMapping(t *testing.T) {
	cfg := Config{ClientID: "test"}

	sc := producerConfig(cfg, messaging.ProducerTunables{Acks: messaging.AcksNone})
	assert.Equal(t, sarama.NoResponse, sc.Producer.RequiredAcks)

	sc = producerConfig(cfg, messaging.ProducerTunables{Acks: messaging.AcksLeader})
	assert.Equal(t, sarama.WaitForLocal, sc.Producer.RequiredAcks)

	sc = producerConfig(cfg, messaging.ProducerTunables{Acks: messaging.AcksAll})
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
}

func TestProducerConfig_IdempotentForcesWaitForAllAndSingleInFlight(t *testing.T) {
	sc := producerConfig(Config{}, messaging.ProducerTunables{Acks: messaging.AcksLeader, Idempotent: true, MaxInFlight: 5})
	assert.True(t, sc.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, 1, sc.Net.MaxOpenRequests)
}

func TestProducerConfig_UnboundedRetriesWhenNegative(t *testing.T) {
	sc := producerConfig(Config{}, messaging.ProducerTunables{Retries: -1})
	assert.Equal(t, 1<<30, sc.Producer.Retry.Max)
}

func TestConsumerConfig_IsolationLevelMapping(t *testing.T) {
	sc := consumerConfig(messaging.ConsumerTunables{IsolationLevel: messaging.ReadCommitted})
	assert.Equal(t, sarama.ReadCommitted, sc.Consumer.IsolationLevel)

	sc = consumerConfig(messaging.ConsumerTunables{IsolationLevel: messaging.ReadUncommitted})
	assert.Equal(t, sarama.ReadUncommitted, sc.Consumer.IsolationLevel)
}

func TestConsumerConfig_PrefetchSetsChannelBufferSize(t *testing.T) {
	sc := consumerConfig(messaging.ConsumerTunables{Prefetch: 250})
	assert.Equal(t, 250, sc.ChannelBufferSize)
}
