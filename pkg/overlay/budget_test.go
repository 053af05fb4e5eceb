package overlay

import (
	"testing"

	"github.com/busybox42/synapse/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestDivideBudget(t *testing.T) {
	three := []types.Address{"a", "b", "c"}

	tests := []struct {
		name    string
		budget  int
		targets []types.Address
		want    int
	}{
		{name: "even split", budget: 9, targets: three, want: 3},
		{name: "floor division", budget: 10, targets: three, want: 3},
		{name: "budget smaller than targets", budget: 2, targets: three, want: 1},
		{name: "zero budget", budget: 0, targets: three, want: 1},
		{name: "negative budget", budget: -7, targets: three, want: 1},
		{name: "single target keeps all", budget: 5, targets: []types.Address{"a"}, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shares := DivideBudget(tt.budget, tt.targets)
			require.Len(t, shares, len(tt.targets))
			for _, target := range tt.targets {
				require.Equal(t, tt.want, shares[target], "share for %s", target)
			}
		})
	}
}

func TestDivideBudgetNoTargets(t *testing.T) {
	shares := DivideBudget(10, nil)
	require.NotNil(t, shares)
	require.Empty(t, shares)
}

func TestDivideBudgetFloor(t *testing.T) {
	targets := []types.Address{"a", "b", "c", "d", "e"}
	for budget := 0; budget <= 20; budget++ {
		for n := 1; n <= len(targets); n++ {
			for target, share := range DivideBudget(budget, targets[:n]) {
				require.GreaterOrEqual(t, share, 1, "budget=%d n=%d target=%s", budget, n, target)
			}
		}
	}
}

func TestDivideBudgetMayExceedInput(t *testing.T) {
	shares := DivideBudget(1, []types.Address{"a", "b", "c"})

	total := 0
	for _, s := range shares {
		total += s
	}
	require.Equal(t, 3, total)
}
