// Package transports imports all built-in front-ends for auto-registration.
// Import this package to have all front-ends registered with the default registry.
package transports

import (
	// Import all front-ends for side-effect registration
	_ "github.com/drblury/ringflow/transport/broker"
	_ "github.com/drblury/ringflow/transport/custom"
	_ "github.com/drblury/ringflow/transport/http"
	_ "github.com/drblury/ringflow/transport/mqtt"
	_ "github.com/drblury/ringflow/transport/tcp"
	_ "github.com/drblury/ringflow/transport/udp"
	_ "github.com/drblury/ringflow/transport/websocket"
)
