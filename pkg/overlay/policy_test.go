package overlay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcceptAll(t *testing.T) {
	p := AcceptAll{}
	for _, kind := range []RequestKind{AdmitForward, AdmitInvite, AdmitJoin} {
		require.True(t, p.Decide(AdmissionRequest{Kind: kind}), kind.String())
	}
}

func TestCapacityPolicy(t *testing.T) {
	p := CapacityPolicy{MaxNeighbors: 2}

	tests := []struct {
		name string
		req  AdmissionRequest
		want bool
	}{
		{name: "join below capacity", req: AdmissionRequest{Kind: AdmitJoin, Neighbors: 1}, want: true},
		{name: "join at capacity", req: AdmissionRequest{Kind: AdmitJoin, Neighbors: 2}, want: false},
		{name: "invite at capacity", req: AdmissionRequest{Kind: AdmitInvite, Neighbors: 3}, want: false},
		{name: "forward is never limited", req: AdmissionRequest{Kind: AdmitForward, Neighbors: 10}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, p.Decide(tt.req))
		})
	}

	require.True(t, CapacityPolicy{}.Decide(AdmissionRequest{Kind: AdmitJoin, Neighbors: 100}), "zero means unlimited")
}

func TestReputationPolicyBansAfterFailures(t *testing.T) {
	p := NewReputationPolicy(2)

	req := AdmissionRequest{Kind: AdmitForward, Network: "net1", Peer: "origin"}
	require.True(t, p.Decide(req))

	p.Observe(Observation{Peer: "net1", Outcome: OutcomeSendFailed})
	require.True(t, p.Decide(req))

	p.Observe(Observation{Peer: "net1", Outcome: OutcomeSendFailed})
	require.False(t, p.Decide(req))
	require.False(t, p.Decide(AdmissionRequest{Kind: AdmitJoin, Network: "other", Peer: "net1"}))
	require.True(t, p.Decide(AdmissionRequest{Kind: AdmitJoin, Network: "other", Peer: "someone"}))

	rep := p.Reputation("net1")
	require.NotNil(t, rep)
	require.Equal(t, 2, rep.Failures)
	require.True(t, rep.Banned)
}

func TestReputationPolicyChecksHop(t *testing.T) {
	p := NewReputationPolicy(1)
	p.Observe(Observation{Peer: "hostB", Outcome: OutcomeSendFailed})

	require.False(t, p.Decide(AdmissionRequest{Kind: AdmitForward, Network: "net1", Hop: "hostB", Peer: "origin"}))
	require.True(t, p.Decide(AdmissionRequest{Kind: AdmitForward, Network: "net1", Hop: "hostC", Peer: "origin"}))
}

func TestReputationPolicyCountsFound(t *testing.T) {
	p := NewReputationPolicy(0)

	p.Observe(Observation{Peer: "b", Outcome: OutcomeFound})
	p.Observe(Observation{Peer: "b", Outcome: OutcomeFound})
	p.Observe(Observation{Outcome: OutcomeFound})

	rep := p.Reputation("b")
	require.NotNil(t, rep)
	require.Equal(t, 2, rep.Found)
	require.False(t, rep.Banned)
	require.Nil(t, p.Reputation("unknown"))
}

type recordingPolicy struct {
	accept   bool
	requests []AdmissionRequest
	observed []Observation
}

func (p *recordingPolicy) Decide(req AdmissionRequest) bool {
	p.requests = append(p.requests, req)
	return p.accept
}

func (p *recordingPolicy) Observe(obs Observation) {
	p.observed = append(p.observed, obs)
}

func TestAllOf(t *testing.T) {
	yes := &recordingPolicy{accept: true}
	no := &recordingPolicy{accept: false}

	require.True(t, AllOf(yes, yes).Decide(AdmissionRequest{}))
	require.False(t, AllOf(yes, no).Decide(AdmissionRequest{}))
	require.True(t, AllOf().Decide(AdmissionRequest{}))

	AllOf(yes, no).Observe(Observation{Peer: "p"})
	require.Len(t, yes.observed, 1)
	require.Len(t, no.observed, 1)
}
