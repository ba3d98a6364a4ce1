// Package opcount tallies how many times each opcode executed across an
// entire recorded call tree, independent of which frame it ran in.
package opcount

import (
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/flashbots/inspectors-go/tracing"
)

// Counts maps an opcode to the number of times it executed.
type Counts map[vm.OpCode]uint64

// Count walks every step of every frame in the arena and tallies opcodes.
// Steps are only present when the inspector was configured with RecordSteps,
// so Count returns an empty map against a call-only recording.
func Count(nodes []tracing.CallTraceNode) Counts {
	out := Counts{}
	for i := range nodes {
		for _, step := range nodes[i].Trace.Steps {
			out[vm.OpCode(step.Op)]++
		}
	}
	return out
}

// Total returns the sum of every opcode's count.
func (c Counts) Total() uint64 {
	var total uint64
	for _, n := range c {
		total += n
	}
	return total
}
