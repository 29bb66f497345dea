package memory_test

import (
	"testing"

	"github.com/corebroker/messaging-runtime/pkg/messaging/adapters/memory"
	"github.com/corebroker/messaging-runtime/pkg/messaging/tests"
)

func TestMemoryBroker(t *testing.T) {
	broker := memory.New(memory.Config{BufferSize: 100})
	defer broker.Close()

	tests.RunBrokerTests(t, broker)
}
