package messaging

import (
	"time"

	"github.com/corebroker/messaging-runtime/pkg/errors"
)

// Family identifies a broker protocol family.
type Family int

const (
	FamilyLog Family = iota
	FamilyAMQP
)

func (f Family) String() string {
	switch f {
	case FamilyLog:
		return "log"
	case FamilyAMQP:
		return "amqp"
	default:
		return "unknown"
	}
}

// Role identifies which side of a connection a set of tunables applies to.
type Role int

const (
	RoleProducer Role = iota
	RoleConsumer
)

// DeliveryMode is the delivery-semantics a producer or consumer is
// configured for.
type DeliveryMode int

const (
	AtMostOnce DeliveryMode = iota
	AtLeastOnce
	ExactlyOnce
)

func (m DeliveryMode) String() string {
	switch m {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return "unknown"
	}
}

// Acks is the producer acknowledgement level for the log broker family.
type Acks int

const (
	AcksNone Acks = iota
	AcksLeader
	AcksAll
)

// CommitPoint is when a log-broker consumer commits its offset relative to
// handler invocation.
type CommitPoint int

const (
	CommitBeforeHandler CommitPoint = iota
	CommitAfterHandler
)

// IsolationLevel mirrors the log broker's read isolation knob.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
)

// ProducerTunables configures a family's producer for a given delivery mode.
type ProducerTunables struct {
	Acks           Acks
	Idempotent     bool
	Retries        int // -1 means unbounded (capped internally by the adapter)
	MaxInFlight    int
	TxEnabled      bool
	Linger         time.Duration
	BatchBytes     int
	PublisherConfirms bool // AMQP only
	Persistent        bool // AMQP only: delivery-mode 2 vs 1
}

// ConsumerTunables configures a family's consumer for a given delivery mode.
type ConsumerTunables struct {
	AutoCommit     bool
	CommitAfter    CommitPoint
	IsolationLevel IsolationLevel
	Prefetch       int
	AutoAck        bool // AMQP only
}

// Tunables bundles both sides; a given Resolve call only populates the side
// matching its Role, leaving the other at its zero value.
type Tunables struct {
	Producer ProducerTunables
	Consumer ConsumerTunables
}

// Resolve implements the delivery-strategy table: given a broker family, a
// delivery mode, and a role, it returns the tunables that govern that
// combination. Requesting ExactlyOnce for the AMQP family is a configuration
// error — AMQP has no transactional-exactly-once mode here.
func Resolve(family Family, mode DeliveryMode, role Role) (Tunables, error) {
	if family == FamilyAMQP && mode == ExactlyOnce {
		return Tunables{}, errors.New(errors.CodeConfiguration,
			"exactly-once delivery is not offered for the AMQP family", nil)
	}

	var t Tunables
	switch family {
	case FamilyLog:
		resolveLog(&t, mode, role)
	case FamilyAMQP:
		resolveAMQP(&t, mode, role)
	default:
		return Tunables{}, errors.New(errors.CodeConfiguration, "unknown broker family", nil)
	}
	return t, nil
}

func resolveLog(t *Tunables, mode DeliveryMode, role Role) {
	switch {
	case mode == AtMostOnce && role == RoleProducer:
		t.Producer = ProducerTunables{Acks: AcksNone, Idempotent: false, Retries: 0, MaxInFlight: 1}
	case mode == AtMostOnce && role == RoleConsumer:
		t.Consumer = ConsumerTunables{AutoCommit: true, CommitAfter: CommitBeforeHandler, Prefetch: 500}
	case mode == AtLeastOnce && role == RoleProducer:
		t.Producer = ProducerTunables{Acks: AcksAll, Idempotent: false, Retries: -1, MaxInFlight: 5}
	case mode == AtLeastOnce && role == RoleConsumer:
		t.Consumer = ConsumerTunables{AutoCommit: false, CommitAfter: CommitAfterHandler, Prefetch: 500}
	case mode == ExactlyOnce && role == RoleProducer:
		t.Producer = ProducerTunables{Acks: AcksAll, Idempotent: true, TxEnabled: true, MaxInFlight: 1, Retries: -1}
	case mode == ExactlyOnce && role == RoleConsumer:
		t.Consumer = ConsumerTunables{AutoCommit: false, IsolationLevel: ReadCommitted, Prefetch: 500}
	}
}

func resolveAMQP(t *Tunables, mode DeliveryMode, role Role) {
	switch {
	case mode == AtMostOnce && role == RoleProducer:
		t.Producer = ProducerTunables{PublisherConfirms: false, Persistent: false}
	case mode == AtMostOnce && role == RoleConsumer:
		t.Consumer = ConsumerTunables{AutoAck: true, Prefetch: 10}
	case mode == AtLeastOnce && role == RoleProducer:
		t.Producer = ProducerTunables{PublisherConfirms: true, Persistent: true}
	case mode == AtLeastOnce && role == RoleConsumer:
		t.Consumer = ConsumerTunables{AutoAck: false, Prefetch: 10}
	}
}
