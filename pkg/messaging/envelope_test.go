package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_StampsIdentityHeaders(t *testing.T) {
	env := NewEnvelope("orders", "orders.created", "key-1", []byte("payload"))

	require.NotEmpty(t, env.MessageID())
	assert.Equal(t, env.MessageID(), env.CorrelationID())
	assert.Equal(t, 0, env.AttemptCount())
	assert.Equal(t, "orders", env.Topic)
	assert.Equal(t, "orders", env.Exchange)
	assert.Equal(t, "orders.created", env.RoutingKey)
	assert.Equal(t, "key-1", env.Key)
	assert.Equal(t, []byte("payload"), env.ValueBytes)

	_, ok := env.Header(HeaderOriginTS)
	assert.True(t, ok)
}

func TestEnvelope_WithHeaderAndHeader(t *testing.T) {
	env := NewEnvelope("t", "", "", nil)
	env.WithHeader("x-custom", []byte("v"))

	v, ok := env.Header("x-custom")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, ok = env.Header("missing")
	assert.False(t, ok)
}

func TestEnvelope_Derive_PreservesIdentityAndBumpsAttempt(t *testing.T) {
	env := NewEnvelope("t", "", "k", []byte("v"))
	msgID := env.MessageID()
	corrID := env.CorrelationID()

	derived := env.Derive(1)

	assert.Equal(t, msgID, derived.MessageID())
	assert.Equal(t, corrID, derived.CorrelationID())
	assert.Equal(t, 1, derived.AttemptCount())
	assert.Equal(t, env.ValueBytes, derived.ValueBytes)

	// mutating the derived copy must not affect the original
	derived.ValueBytes[0] = 'X'
	assert.Equal(t, byte('v'), env.ValueBytes[0])
}

func TestEnvelope_Derive_StacksAttemptDeltas(t *testing.T) {
	env := NewEnvelope("t", "", "k", []byte("v"))
	once := env.Derive(1)
	twice := once.Derive(1)

	assert.Equal(t, 2, twice.AttemptCount())
	assert.Equal(t, env.MessageID(), twice.MessageID())
}

func TestEnvelope_AttemptCount_DefaultsToZeroWhenUnparsable(t *testing.T) {
	env := &Envelope{Headers: map[string][]byte{HeaderAttemptCount: []byte("not-a-number")}}
	assert.Equal(t, 0, env.AttemptCount())
}
