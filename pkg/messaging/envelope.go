package messaging

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Well-known header names. Names are ASCII; values are opaque byte strings.
const (
	HeaderCorrelationID  = "correlation-id"
	HeaderMessageID      = "message-id"
	HeaderAttemptCount   = "attempt-count"
	HeaderOriginTS       = "origin-ts"
	HeaderOriginalTarget = "x-original-target"
	HeaderDeathReason    = "x-death-reason"
)

// Envelope is the wire-neutral record exchanged between domain code and a
// transport. Exactly one of Topic (log broker) or Exchange+RoutingKey (AMQP)
// is meaningful for a given family, but both are carried so an envelope can
// be handed to either adapter or re-targeted by the dead-letter router.
type Envelope struct {
	Topic      string
	Exchange   string
	RoutingKey string

	// Key is the partition hint for the log broker; ignored by AMQP.
	Key string

	ValueBytes []byte
	Headers    map[string][]byte

	// Timestamp is unix-ms, broker-assigned if zero.
	Timestamp int64

	// Metadata carries adapter-populated, read-only delivery details
	// (partition, offset, delivery tag, redelivery count...).
	Metadata Metadata
}

// Metadata holds broker-specific facts about a delivered envelope.
type Metadata struct {
	Partition     int32
	Offset        int64
	DeliveryTag   uint64
	Redelivered   bool
	DeliveryCount int
	Raw           interface{}
}

// NewEnvelope builds an envelope for a fresh authoring attempt. It stamps a
// random message-id, a matching correlation-id, the current origin
// timestamp, and an attempt-count of zero.
func NewEnvelope(topicOrExchange, routingKey, key string, payload []byte) *Envelope {
	id := uuid.New().String()
	env := &Envelope{
		Topic:      topicOrExchange,
		Exchange:   topicOrExchange,
		RoutingKey: routingKey,
		Key:        key,
		ValueBytes: payload,
		Headers:    make(map[string][]byte, 4),
		Timestamp:  time.Now().UnixMilli(),
	}
	env.Headers[HeaderMessageID] = []byte(id)
	env.Headers[HeaderCorrelationID] = []byte(id)
	env.Headers[HeaderAttemptCount] = []byte("0")
	env.Headers[HeaderOriginTS] = []byte(strconv.FormatInt(env.Timestamp, 10))
	return env
}

// WithHeader sets a header on the envelope and returns it for chaining.
func (e *Envelope) WithHeader(name string, value []byte) *Envelope {
	if e.Headers == nil {
		e.Headers = make(map[string][]byte, 1)
	}
	e.Headers[name] = value
	return e
}

// Header returns a header value and whether it was present.
func (e *Envelope) Header(name string) ([]byte, bool) {
	v, ok := e.Headers[name]
	return v, ok
}

// MessageID returns the message-id header, or "" if absent.
func (e *Envelope) MessageID() string {
	v, _ := e.Header(HeaderMessageID)
	return string(v)
}

// CorrelationID returns the correlation-id header, or "" if absent.
func (e *Envelope) CorrelationID() string {
	v, _ := e.Header(HeaderCorrelationID)
	return string(v)
}

// AttemptCount returns the attempt-count header as an int, or 0 if absent
// or unparsable.
func (e *Envelope) AttemptCount() int {
	v, ok := e.Header(HeaderAttemptCount)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0
	}
	return n
}

// Derive copies the envelope for a dead-letter or redelivery cycle, bumping
// attempt-count by attemptDelta while preserving message-id and
// correlation-id verbatim.
func (e *Envelope) Derive(attemptDelta int) *Envelope {
	headers := make(map[string][]byte, len(e.Headers))
	for k, v := range e.Headers {
		cp := make([]byte, len(v))
		copy(cp, v)
		headers[k] = cp
	}
	payload := make([]byte, len(e.ValueBytes))
	copy(payload, e.ValueBytes)

	derived := &Envelope{
		Topic:      e.Topic,
		Exchange:   e.Exchange,
		RoutingKey: e.RoutingKey,
		Key:        e.Key,
		ValueBytes: payload,
		Headers:    headers,
		Timestamp:  e.Timestamp,
	}
	derived.Headers[HeaderAttemptCount] = []byte(strconv.Itoa(e.AttemptCount() + attemptDelta))
	return derived
}
