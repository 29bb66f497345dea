package messaging

import "github.com/corebroker/messaging-runtime/pkg/errors"

// Error constructors for messaging operations. Codes reuse the shared
// pkg/errors taxonomy so callers can dispatch on errors.CodeOf regardless
// of which adapter raised the error.

// ErrTransportUnavailable creates an error for broker/cache unreachability.
// Retryable.
func ErrTransportUnavailable(err error) *errors.AppError {
	return errors.New(errors.CodeUnavailable, "broker transport unavailable", err)
}

// ErrTransportTimeout creates an error for an operation that did not
// complete within its budget. Retryable.
func ErrTransportTimeout(operation string, err error) *errors.AppError {
	return errors.New(errors.CodeTimeout, "messaging operation timed out: "+operation, err)
}

// ErrProtocolViolation creates an error for an unexpected broker response.
// Not retryable.
func ErrProtocolViolation(detail string, err error) *errors.AppError {
	return errors.New(errors.CodeProtocol, "broker protocol violation: "+detail, err)
}

// ErrSerialization creates an error for an envelope payload that cannot be
// encoded or decoded. Not retryable; routed to the DLQ on consume.
func ErrSerialization(err error) *errors.AppError {
	return errors.New(errors.CodeSerialization, "failed to serialize/deserialize envelope", err)
}

// ErrConfiguration creates an error for invalid or disallowed configuration,
// e.g. requesting ExactlyOnce on AMQP. Fails fast at construction.
func ErrConfiguration(msg string, err error) *errors.AppError {
	return errors.New(errors.CodeConfiguration, "invalid messaging configuration: "+msg, err)
}

// ErrClosed creates an error for an operation attempted after disposal.
// Terminal for that instance.
func ErrClosed(err error) *errors.AppError {
	return errors.New(errors.CodeClosed, "broker connection is closed", err)
}

// ErrTopicNotFound creates an error for a missing topic/queue.
func ErrTopicNotFound(topic string, err error) *errors.AppError {
	return errors.New(errors.CodeNotFound, "topic or queue not found: "+topic, err)
}

// ErrQueueFull creates an error for a full internal send buffer.
func ErrQueueFull(err error) *errors.AppError {
	return errors.New(errors.CodeUnavailable, "producer queue is full", err)
}

// ErrConsumerGroupConflict creates an error for a consumer-group naming
// conflict.
func ErrConsumerGroupConflict(group string, err error) *errors.AppError {
	return errors.New(errors.CodeProtocol, "consumer group conflict: "+group, err)
}
