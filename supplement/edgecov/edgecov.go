// Package edgecov records edge coverage (PC-to-PC transitions) for each
// contract executed during a transaction, the granularity fuzzers like
// medusa use to recognize never-before-seen control flow rather than just
// never-before-seen instructions.
package edgecov

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/flashbots/inspectors-go/tracing"
)

// Edge is one observed (from, to) program-counter transition within a
// single contract's code.
type Edge struct {
	From uint64
	To   uint64
}

// Map accumulates edges per contract address. Two deployments of identical
// bytecode at different addresses are tracked separately; callers that want
// bytecode-identity dedup instead can key by code hash externally and call
// RecordEdge directly.
type Map struct {
	edges map[common.Address]map[Edge]bool
}

// NewMap returns an empty coverage map.
func NewMap() *Map {
	return &Map{edges: map[common.Address]map[Edge]bool{}}
}

// Record walks every frame's steps and marks each consecutive PC pair as a
// covered edge.
func (m *Map) Record(nodes []tracing.CallTraceNode) {
	for i := range nodes {
		steps := nodes[i].Trace.Steps
		for j := 1; j < len(steps); j++ {
			if steps[j].Contract != steps[j-1].Contract {
				continue // a call boundary, not an intra-contract edge
			}
			m.RecordEdge(steps[j-1].Contract, Edge{From: steps[j-1].PC, To: steps[j].PC})
		}
	}
}

// RecordEdge marks a single edge as covered under the given key and reports
// whether this was the first time it was seen.
func (m *Map) RecordEdge(key common.Address, e Edge) (new bool) {
	set, ok := m.edges[key]
	if !ok {
		set = map[Edge]bool{}
		m.edges[key] = set
	}
	if set[e] {
		return false
	}
	set[e] = true
	return true
}

// Count returns the total number of distinct edges recorded across all keys.
func (m *Map) Count() int {
	total := 0
	for _, set := range m.edges {
		total += len(set)
	}
	return total
}

// Merge folds other's edges into m, returning how many were new.
func (m *Map) Merge(other *Map) int {
	changed := 0
	for key, set := range other.edges {
		for e := range set {
			if m.RecordEdge(key, e) {
				changed++
			}
		}
	}
	return changed
}
