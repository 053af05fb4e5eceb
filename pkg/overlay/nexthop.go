package overlay

import (
	"bytes"
	"crypto/sha1"

	"github.com/busybox42/synapse/pkg/types"
)

// NextHopSelector picks exactly one forwarding target for a key among
// candidates. ok is false only when candidates is empty.
type NextHopSelector interface {
	NextHop(key string, candidates []types.Address) (hop types.Address, ok bool)
}

// ClosestHop selects the candidate whose address hash is nearest to the
// key hash by XOR distance. Ties go to the earlier candidate.
type ClosestHop struct{}

func (ClosestHop) NextHop(key string, candidates []types.Address) (types.Address, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	target := sha1.Sum([]byte(key))

	best := candidates[0]
	bestDist := xorDistance(target[:], best.ID())
	for _, c := range candidates[1:] {
		dist := xorDistance(target[:], c.ID())
		if bytes.Compare(dist, bestDist) < 0 {
			best, bestDist = c, dist
		}
	}
	return best, true
}

func xorDistance(a, b []byte) []byte {
	dist := make([]byte, len(a))
	for i := range a {
		dist[i] = a[i] ^ b[i]
	}
	return dist
}
