// Package overlay implements the message-routing core of a synapse node:
// flooding FIND probes to neighbors, resolving FOUND answers against the
// local responsibility index, and admitting new neighbor networks.
package overlay

import (
	"context"
	"errors"

	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/types"
)

// DefaultMaxTTL is the hop budget every newly originated operation starts with.
const DefaultMaxTTL = 10

var (
	// ErrForwardFailed wraps transport failures surfaced by HandleFind.
	ErrForwardFailed = errors.New("forward failed")
	// ErrUnknownKind is returned by Dispatch for envelopes it cannot route.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrMalformedEnvelope is returned by Dispatch when the payload does
	// not match a known kind.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// Transport delivers an envelope to a remote node. Delivery is best effort;
// the routing core never retries.
type Transport interface {
	Send(ctx context.Context, env protocol.Envelope, to types.Address) error
}

// ResponsibilityIndex records which neighbor holds which key/value copies.
type ResponsibilityIndex interface {
	IsResponsible(neighbor types.Address, key string) bool
	ValueFor(neighbor types.Address, key string) (string, bool)
	Store(neighbor types.Address, key, value string)
}

// Result reports a resolved request to whoever is watching the node.
type Result struct {
	Tag    protocol.Tag
	Op     protocol.Op
	Key    string
	Holder types.Address
	Value  string
	Found  bool
}

type ResultFunc func(Result)
