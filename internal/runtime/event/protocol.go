package event

import (
	"fmt"
	"strings"
)

// ProtocolType identifies the front-end an event entered through.
type ProtocolType uint8

const (
	ProtocolUnknown ProtocolType = iota
	ProtocolHTTP
	ProtocolTCP
	ProtocolUDP
	ProtocolMQTT
	ProtocolWebSocket
	ProtocolCustom
)

var protocolNames = map[ProtocolType]string{
	ProtocolUnknown:   "unknown",
	ProtocolHTTP:      "http",
	ProtocolTCP:       "tcp",
	ProtocolUDP:       "udp",
	ProtocolMQTT:      "mqtt",
	ProtocolWebSocket: "websocket",
	ProtocolCustom:    "custom",
}

func (p ProtocolType) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("protocol(%d)", uint8(p))
}

// ParseProtocolType resolves the textual form of a protocol, case-insensitively.
func ParseProtocolType(s string) (ProtocolType, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for p, name := range protocolNames {
		if p != ProtocolUnknown && name == needle {
			return p, nil
		}
	}
	return ProtocolUnknown, fmt.Errorf("unknown protocol %q", s)
}

func (p ProtocolType) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ProtocolType) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocolType(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
