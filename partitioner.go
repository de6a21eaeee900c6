package scd

import "hash/fnv"

// Partitioner assigns entity keys to a fixed number of lanes. All events
// sharing a key land in the same lane, and each lane is consumed by a
// single worker, so per-key merge state never needs a shared lock.
type Partitioner struct {
	lanes int
}

// NewPartitioner creates a Partitioner with the given lane count.
// Counts below 1 are clamped to 1.
func NewPartitioner(lanes int) *Partitioner {
	if lanes < 1 {
		lanes = 1
	}
	return &Partitioner{lanes: lanes}
}

// Lanes returns the lane count.
func (p *Partitioner) Lanes() int {
	return p.lanes
}

// Lane returns the lane for a key. The assignment is stable across
// calls and processes for a fixed lane count.
func (p *Partitioner) Lane(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.lanes))
}

// Split groups keys by lane, preserving the input order within each lane.
func (p *Partitioner) Split(keys []string) [][]string {
	out := make([][]string, p.lanes)
	for _, key := range keys {
		lane := p.Lane(key)
		out[lane] = append(out[lane], key)
	}
	return out
}
