package overlay

import (
	"sync"
	"time"

	"github.com/busybox42/synapse/pkg/types"
)

const defaultBanThreshold = 3

// PeerReputation tracks how a single peer has behaved.
type PeerReputation struct {
	Peer     types.Address
	Found    int
	Failures int
	LastSeen time.Time
	Banned   bool
}

// ReputationPolicy bans peers after repeated send failures. Banned peers
// are refused for every kind of request, whether they appear as the
// network, the next hop or the peer side of it. Successful FOUND answers are counted
// but do not lift a ban.
type ReputationPolicy struct {
	mu           sync.RWMutex
	peers        map[types.Address]*PeerReputation
	banThreshold int
}

func NewReputationPolicy(banThreshold int) *ReputationPolicy {
	if banThreshold <= 0 {
		banThreshold = defaultBanThreshold
	}
	return &ReputationPolicy{
		peers:        make(map[types.Address]*PeerReputation),
		banThreshold: banThreshold,
	}
}

func (p *ReputationPolicy) Decide(req AdmissionRequest) bool {
	return !p.IsBanned(req.Network) && !p.IsBanned(req.Hop) && !p.IsBanned(req.Peer)
}

func (p *ReputationPolicy) Observe(obs Observation) {
	if obs.Peer == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rep := p.getOrCreate(obs.Peer)
	switch obs.Outcome {
	case OutcomeFound:
		rep.Found++
	case OutcomeSendFailed:
		rep.Failures++
		if rep.Failures >= p.banThreshold {
			rep.Banned = true
		}
	}
}

// getOrCreate requires the write lock.
func (p *ReputationPolicy) getOrCreate(peer types.Address) *PeerReputation {
	rep, ok := p.peers[peer]
	if !ok {
		rep = &PeerReputation{Peer: peer}
		p.peers[peer] = rep
	}
	rep.LastSeen = time.Now()
	return rep
}

func (p *ReputationPolicy) IsBanned(peer types.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rep, ok := p.peers[peer]
	return ok && rep.Banned
}

// Reputation returns a copy of the peer's record, or nil if unknown.
func (p *ReputationPolicy) Reputation(peer types.Address) *PeerReputation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rep, ok := p.peers[peer]
	if !ok {
		return nil
	}
	cp := *rep
	return &cp
}
