package overlay

import (
	"testing"

	"github.com/busybox42/synapse/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestClosestHopNoCandidates(t *testing.T) {
	_, ok := ClosestHop{}.NextHop("k", nil)
	require.False(t, ok)
}

func TestClosestHopSingleCandidate(t *testing.T) {
	hop, ok := ClosestHop{}.NextHop("k", []types.Address{"10.0.0.1:9000"})
	require.True(t, ok)
	require.Equal(t, types.Address("10.0.0.1:9000"), hop)
}

func TestClosestHopIsOrderIndependent(t *testing.T) {
	candidates := []types.Address{"10.0.0.1:9000", "10.0.0.2:9000", "10.0.0.3:9000", "10.0.0.4:9000"}
	reversed := []types.Address{"10.0.0.4:9000", "10.0.0.3:9000", "10.0.0.2:9000", "10.0.0.1:9000"}

	for _, key := range []string{"alpha", "beta", "gamma", "delta"} {
		a, ok := ClosestHop{}.NextHop(key, candidates)
		require.True(t, ok)
		b, _ := ClosestHop{}.NextHop(key, reversed)
		require.Equal(t, a, b, "key %q", key)
		require.Contains(t, candidates, a)
	}
}

func TestXorDistance(t *testing.T) {
	require.Equal(t, []byte{0x00, 0xff}, xorDistance([]byte{0x0f, 0xf0}, []byte{0x0f, 0x0f}))
}
