package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebroker/messaging-runtime/pkg/errors"
	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

func TestFromConsumerMessage_CarriesPartitionAndOffset(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Topic:     "orders",
		Key:       []byte("k1"),
		Value:     []byte("v1"),
		Partition: 2,
		Offset:    42,
		Headers:   []*sarama.RecordHeader{{Key: []byte("x-custom"), Value: []byte("v")}},
	}

	env := fromConsumerMessage(msg)

	assert.Equal(t, "orders", env.Topic)
	assert.Equal(t, "k1", env.Key)
	assert.Equal(t, []byte("v1"), env.ValueBytes)
	assert.EqualValues(t, 2, env.Metadata.Partition)
	assert.EqualValues(t, 42, env.Metadata.Offset)
	v, ok := env.Header("x-custom")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestInvokeHandler_PanicBecomesDeadLetter(t *testing.T) {
	handler := func(ctx context.Context, env *messaging.Envelope) messaging.HandlerResult {
		panic("boom")
	}

	result := invokeHandler(context.Background(), handler, messaging.NewEnvelope("t", "", "", nil))

	assert.Equal(t, messaging.DeadLetter, result.Disposition)
	require.Error(t, result.Cause)
	assert.Equal(t, errors.CodeInternal, errors.CodeOf(result.Cause))
}

func TestInvokeHandler_PassesThroughNormalResult(t *testing.T) {
	handler := func(ctx context.Context, env *messaging.Envelope) messaging.HandlerResult {
		return messaging.RequeueResult()
	}

	result := invokeHandler(context.Background(), handler, messaging.NewEnvelope("t", "", "", nil))

	assert.Equal(t, messaging.Requeue, result.Disposition)
}
