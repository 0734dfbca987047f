package transports

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/ringflow/transport"
)

func TestAllFrontendsRegistered(t *testing.T) {
	for _, name := range []string{"broker", "custom", "http", "mqtt", "tcp", "udp", "websocket"} {
		assert.True(t, transport.DefaultRegistry.Has(name), name)
		assert.Equal(t, name, transport.GetCapabilities(name).Name)
	}
}
