package transport

// Framing names how a front-end delimits messages on the wire.
type Framing string

const (
	FramingRequest       Framing = "request"
	FramingMessage       Framing = "message"
	FramingLine          Framing = "line"
	FramingDatagram      Framing = "datagram"
	FramingLengthPrefix  Framing = "length-prefix"
	FramingBrokerMessage Framing = "broker-message"
)

// Capabilities describes the features supported by a front-end.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// Name is the human-readable name of the front-end.
	Name string

	// ConnectionOriented indicates one client id is kept per connection.
	// When false, client ids are resolved per peer address or message.
	ConnectionOriented bool

	// SupportsReply indicates consumers can answer through Event.Channel.
	SupportsReply bool

	// SupportsRedelivery indicates a refused event is redelivered by the
	// sender instead of being answered with a busy reply or dropped.
	SupportsRedelivery bool

	// Ordered indicates messages from one client reach Publish in send order.
	Ordered bool

	Framing Framing

	// MaxMessageSize is the maximum message size in bytes (0 = configured limit).
	MaxMessageSize int64
}

// DropsWhenBusy returns true if the front-end can neither answer busy nor
// have the sender retry, so a full queue loses the event.
func (c Capabilities) DropsWhenBusy() bool {
	return !c.SupportsRedelivery && !c.ConnectionOriented && c.Framing == FramingDatagram
}

// Predefined capability sets for the built-in front-ends.
var (
	HTTPCapabilities = Capabilities{
		Name:               "http",
		ConnectionOriented: false,
		SupportsReply:      true,
		SupportsRedelivery: false,
		Ordered:            false,
		Framing:            FramingRequest,
	}

	WebSocketCapabilities = Capabilities{
		Name:               "websocket",
		ConnectionOriented: true,
		SupportsReply:      true,
		Ordered:            true,
		Framing:            FramingMessage,
	}

	TCPCapabilities = Capabilities{
		Name:               "tcp",
		ConnectionOriented: true,
		SupportsReply:      true,
		Ordered:            true,
		Framing:            FramingLine,
	}

	UDPCapabilities = Capabilities{
		Name:           "udp",
		SupportsReply:  true,
		Framing:        FramingDatagram,
		MaxMessageSize: 65507, // IPv4 UDP payload limit
	}

	CustomCapabilities = Capabilities{
		Name:               "custom",
		ConnectionOriented: true,
		SupportsReply:      true,
		Ordered:            true,
		Framing:            FramingLengthPrefix,
	}

	MQTTCapabilities = Capabilities{
		Name:               "mqtt",
		SupportsReply:      true,
		SupportsRedelivery: false,
		Ordered:            true,
		Framing:            FramingBrokerMessage,
		MaxMessageSize:     268435455, // MQTT remaining-length limit
	}

	BrokerCapabilities = Capabilities{
		Name:               "broker",
		SupportsReply:      true,
		SupportsRedelivery: true,
		Ordered:            true,
		Framing:            FramingBrokerMessage,
	}
)

// GetCapabilities returns the capabilities for a front-end by name.
// Uses the registry to look up capabilities registered by each front-end package.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
