package store

import (
	"sort"

	"github.com/busybox42/synapse/pkg/types"
)

// Shard is a node's in-memory responsibility index: for each neighbor, the
// key/value copies this node has learned that neighbor holds. Entries are
// only ever upserted. Shard does no locking; its owner serializes access.
type Shard struct {
	data map[types.Address]map[string]string
}

func NewShard() *Shard {
	return &Shard{
		data: make(map[types.Address]map[string]string),
	}
}

func (s *Shard) IsResponsible(neighbor types.Address, key string) bool {
	_, ok := s.data[neighbor][key]
	return ok
}

func (s *Shard) ValueFor(neighbor types.Address, key string) (string, bool) {
	value, ok := s.data[neighbor][key]
	return value, ok
}

func (s *Shard) Store(neighbor types.Address, key, value string) {
	keys, ok := s.data[neighbor]
	if !ok {
		keys = make(map[string]string)
		s.data[neighbor] = keys
	}
	keys[key] = value
}

// Holders lists every neighbor with at least one entry, sorted.
func (s *Shard) Holders() []types.Address {
	out := make([]types.Address, 0, len(s.data))
	for holder := range s.data {
		out = append(out, holder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot returns a deep copy of the index.
func (s *Shard) Snapshot() map[types.Address]map[string]string {
	out := make(map[types.Address]map[string]string, len(s.data))
	for holder, keys := range s.data {
		cp := make(map[string]string, len(keys))
		for k, v := range keys {
			cp[k] = v
		}
		out[holder] = cp
	}
	return out
}
