package overlay

import "github.com/busybox42/synapse/pkg/types"

// DivideBudget splits a replication budget across targets. Every target
// gets max(1, budget/len(targets)), so the total handed out can exceed
// budget: a live neighbor never receives a zero share.
func DivideBudget(budget int, targets []types.Address) map[types.Address]int {
	shares := make(map[types.Address]int, len(targets))
	if len(targets) == 0 {
		return shares
	}
	share := budget / len(targets)
	if share < 1 {
		share = 1
	}
	for _, target := range targets {
		shares[target] = share
	}
	return shares
}
