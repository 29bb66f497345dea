// Package tests holds a broker-agnostic conformance suite. The memory
// adapter's test package runs it; the kafka and rabbitmq test packages do
// not.
package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebroker/messaging-runtime/pkg/messaging"
)

// RunBrokerTests exercises the Broker contract against an already-built
// broker instance. It is safe to call once per broker; it creates its own
// topics so it does not collide with a caller's own usage.
func RunBrokerTests(t *testing.T, broker messaging.Broker) {
	t.Run("PublishThenConsumeRoundTrip", func(t *testing.T) {
		testRoundTrip(t, broker)
	})
	t.Run("PublishBatchEmptySucceeds", func(t *testing.T) {
		testEmptyBatch(t, broker)
	})
	t.Run("CorrelationIDSurvivesDerive", func(t *testing.T) {
		testDeriveKeepsCorrelationID(t, broker)
	})
	t.Run("UnsubscribeWithNoInFlightIsFast", func(t *testing.T) {
		testFastUnsubscribe(t, broker)
	})
}

func testRoundTrip(t *testing.T, broker messaging.Broker) {
	topic := "conformance.roundtrip"
	producer, err := broker.Producer(topic, messaging.AtLeastOnce)
	require.NoError(t, err)
	defer producer.Dispose()

	consumer, err := broker.Consumer(topic, "conformance", messaging.AtLeastOnce)
	require.NoError(t, err)
	defer consumer.Unsubscribe()

	var mu sync.Mutex
	received := make(map[string]bool)
	var wg sync.WaitGroup
	wg.Add(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = consumer.Subscribe(ctx, func(ctx context.Context, env *messaging.Envelope) messaging.HandlerResult {
			mu.Lock()
			if !received[string(env.ValueBytes)] {
				received[string(env.ValueBytes)] = true
				wg.Done()
			}
			mu.Unlock()
			return messaging.AckResult()
		})
	}()

	payloads := []struct{ key, payload string }{
		{"k1", "m1"}, {"k2", "m2"}, {"k3", "m3"},
	}
	for _, p := range payloads {
		env := messaging.NewEnvelope(topic, "", p.key, []byte(p.payload))
		require.NoError(t, producer.Publish(context.Background(), env))
	}

	waitOrTimeout(t, &wg, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, received["m1"])
	assert.True(t, received["m2"])
	assert.True(t, received["m3"])
}

func testEmptyBatch(t *testing.T, broker messaging.Broker) {
	producer, err := broker.Producer("conformance.emptybatch", messaging.AtLeastOnce)
	require.NoError(t, err)
	defer producer.Dispose()

	err = producer.PublishBatch(context.Background(), nil)
	assert.NoError(t, err)
}

func testDeriveKeepsCorrelationID(t *testing.T, broker messaging.Broker) {
	env := messaging.NewEnvelope("conformance.derive", "", "", []byte("payload"))
	corrID := env.CorrelationID()
	msgID := env.MessageID()

	derived := env.Derive(1)
	assert.Equal(t, corrID, derived.CorrelationID())
	assert.Equal(t, msgID, derived.MessageID())
	assert.Equal(t, env.AttemptCount()+1, derived.AttemptCount())
}

func testFastUnsubscribe(t *testing.T, broker messaging.Broker) {
	consumer, err := broker.Consumer("conformance.fastunsub", "conformance", messaging.AtLeastOnce)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = consumer.Subscribe(ctx, func(ctx context.Context, env *messaging.Envelope) messaging.HandlerResult {
			return messaging.AckResult()
		})
	}()
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	require.NoError(t, consumer.Unsubscribe())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for expected deliveries")
	}
}
