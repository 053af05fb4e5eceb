package network

import (
	"golang.org/x/net/proxy"

	"github.com/busybox42/synapse/pkg/protocol"
)

// EnvelopeHandler receives every envelope a transport reads off the wire.
type EnvelopeHandler func(protocol.Envelope)

type Config struct {
	// ListenAddr is the local host:port to accept connections on.
	ListenAddr string
	// Dialer opens outbound TCP connections. Nil dials directly; a SOCKS5
	// dialer routes through Tor.
	Dialer proxy.Dialer
	// MaxMessageSize bounds a single frame. Zero means maxMsgSize.
	MaxMessageSize int
}

func (c *Config) maxMessageSize() int {
	if c == nil || c.MaxMessageSize <= 0 {
		return maxMsgSize
	}
	return c.MaxMessageSize
}
