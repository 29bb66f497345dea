package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebroker/messaging-runtime/pkg/errors"
)

func TestResolve_AMQPExactlyOnceIsConfigurationError(t *testing.T) {
	_, err := Resolve(FamilyAMQP, ExactlyOnce, RoleProducer)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfiguration, errors.CodeOf(err))

	_, err = Resolve(FamilyAMQP, ExactlyOnce, RoleConsumer)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfiguration, errors.CodeOf(err))
}

func TestResolve_LogFamily(t *testing.T) {
	cases := []struct {
		name string
		mode DeliveryMode
		role Role
		want Tunables
	}{
		{
			"at-most-once producer",
			AtMostOnce, RoleProducer,
			Tunables{Producer: ProducerTunables{Acks: AcksNone, Retries: 0, MaxInFlight: 1}},
		},
		{
			"at-most-once consumer",
			AtMostOnce, RoleConsumer,
			Tunables{Consumer: ConsumerTunables{AutoCommit: true, CommitAfter: CommitBeforeHandler, Prefetch: 500}},
		},
		{
			"at-least-once producer",
			AtLeastOnce, RoleProducer,
			Tunables{Producer: ProducerTunables{Acks: AcksAll, Retries: -1, MaxInFlight: 5}},
		},
		{
			"at-least-once consumer",
			AtLeastOnce, RoleConsumer,
			Tunables{Consumer: ConsumerTunables{AutoCommit: false, CommitAfter: CommitAfterHandler, Prefetch: 500}},
		},
		{
			"exactly-once producer",
			ExactlyOnce, RoleProducer,
			Tunables{Producer: ProducerTunables{Acks: AcksAll, Idempotent: true, TxEnabled: true, MaxInFlight: 1, Retries: -1}},
		},
		{
			"exactly-once consumer",
			ExactlyOnce, RoleConsumer,
			Tunables{Consumer: ConsumerTunables{AutoCommit: false, IsolationLevel: ReadCommitted, Prefetch: 500}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(FamilyLog, tc.mode, tc.role)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolve_AMQPFamily(t *testing.T) {
	cases := []struct {
		name string
		mode DeliveryMode
		role Role
		want Tunables
	}{
		{
			"at-most-once producer",
			AtMostOnce, RoleProducer,
			Tunables{Producer: ProducerTunables{PublisherConfirms: false, Persistent: false}},
		},
		{
			"at-most-once consumer",
			AtMostOnce, RoleConsumer,
			Tunables{Consumer: ConsumerTunables{AutoAck: true, Prefetch: 10}},
		},
		{
			"at-least-once producer",
			AtLeastOnce, RoleProducer,
			Tunables{Producer: ProducerTunables{PublisherConfirms: true, Persistent: true}},
		},
		{
			"at-least-once consumer",
			AtLeastOnce, RoleConsumer,
			Tunables{Consumer: ConsumerTunables{AutoAck: false, Prefetch: 10}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(FamilyAMQP, tc.mode, tc.role)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDeliveryModeString(t *testing.T) {
	assert.Equal(t, "at-most-once", AtMostOnce.String())
	assert.Equal(t, "at-least-once", AtLeastOnce.String())
	assert.Equal(t, "exactly-once", ExactlyOnce.String())
}

func TestFamilyString(t *testing.T) {
	assert.Equal(t, "log", FamilyLog.String())
	assert.Equal(t, "amqp", FamilyAMQP.String())
}
