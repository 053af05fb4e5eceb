package overlay

import (
	"fmt"

	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/types"
)

// RequestKind says what an admission decision is about.
type RequestKind uint8

const (
	AdmitForward RequestKind = iota
	AdmitInvite
	AdmitJoin
)

func (k RequestKind) String() string {
	switch k {
	case AdmitForward:
		return "forward"
	case AdmitInvite:
		return "invite"
	case AdmitJoin:
		return "join"
	default:
		return fmt.Sprintf("RequestKind(%d)", uint8(k))
	}
}

// AdmissionRequest is the context handed to a policy. For forwards,
// Network is the neighbor the FIND would go toward, Hop is the host it
// would actually be sent to and Peer is the node the FIND came from. For
// membership, Network and Peer are the offer and Hop is empty.
type AdmissionRequest struct {
	Kind      RequestKind
	Network   types.Address
	Hop       types.Address
	Peer      types.Address
	Key       string
	Tag       protocol.Tag
	Neighbors int
}

type Outcome uint8

const (
	OutcomeFound Outcome = iota
	OutcomeSendFailed
)

// Observation is an interaction the node reports back to its policy.
type Observation struct {
	Peer    types.Address
	Outcome Outcome
	Key     string
	Tag     protocol.Tag
}

// AdmissionPolicy decides whether to forward toward, or join with, another
// node, and may adapt from observed interactions.
type AdmissionPolicy interface {
	Decide(req AdmissionRequest) bool
	Observe(obs Observation)
}

// AcceptAll admits everything and ignores observations.
type AcceptAll struct{}

func (AcceptAll) Decide(AdmissionRequest) bool { return true }
func (AcceptAll) Observe(Observation)          {}

// CapacityPolicy refuses new networks once the node already has
// MaxNeighbors of them. Forwarding is never limited.
type CapacityPolicy struct {
	MaxNeighbors int
}

func (p CapacityPolicy) Decide(req AdmissionRequest) bool {
	if req.Kind == AdmitForward || p.MaxNeighbors <= 0 {
		return true
	}
	return req.Neighbors < p.MaxNeighbors
}

func (CapacityPolicy) Observe(Observation) {}

type allOf []AdmissionPolicy

// AllOf admits a request only when every policy does. Observations go to
// every policy.
func AllOf(policies ...AdmissionPolicy) AdmissionPolicy {
	return allOf(policies)
}

func (ps allOf) Decide(req AdmissionRequest) bool {
	for _, p := range ps {
		if !p.Decide(req) {
			return false
		}
	}
	return true
}

func (ps allOf) Observe(obs Observation) {
	for _, p := range ps {
		p.Observe(obs)
	}
}
