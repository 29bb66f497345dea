package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerivedRoutingKey(t *testing.T) {
	assert.Equal(t, "", derivedRoutingKey("fanout", "orders.q"))
	assert.Equal(t, "orders.q", derivedRoutingKey("direct", "orders.q"))
	assert.Equal(t, "#", derivedRoutingKey("topic", "orders.q"))
	assert.Equal(t, "#", derivedRoutingKey("headers", "orders.q"))
	assert.Equal(t, "#", derivedRoutingKey("unknown-type", "orders.q"))
}
