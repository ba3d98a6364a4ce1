package tracing

import "github.com/ethereum/go-ethereum/common"

// PushTraceKind controls whether a newly pushed trace is linked into its
// parent's children, or recorded only in the flat arena.
type PushTraceKind byte

const (
	// PushOnly appends the trace to the arena without attaching it to the
	// parent's children. Used for precompile calls that must be accounted
	// for but excluded from tree-shaped outputs.
	PushOnly PushTraceKind = iota
	// PushAndAttachToParent appends the trace and records it as a child of
	// its parent node.
	PushAndAttachToParent
)

func (k PushTraceKind) attachToParent() bool {
	return k == PushAndAttachToParent
}

// CallTraceArena is an append-only forest of CallTraceNode, addressed by
// integer index rather than pointer. Node 0 is a sentinel root.
type CallTraceArena struct {
	arena []CallTraceNode
}

// NewCallTraceArena returns an arena pre-seeded with its sentinel root node.
func NewCallTraceArena() *CallTraceArena {
	a := &CallTraceArena{arena: make([]CallTraceNode, 0, 8)}
	a.Clear()
	return a
}

// Nodes returns the recorded nodes, including the sentinel root at index 0.
func (a *CallTraceArena) Nodes() []CallTraceNode {
	return a.arena
}

// NodesMut returns a mutable view of the recorded nodes.
func (a *CallTraceArena) NodesMut() []CallTraceNode {
	return a.arena
}

// Clear truncates the arena back to a single default sentinel root node.
func (a *CallTraceArena) Clear() {
	a.arena = a.arena[:0]
	a.arena = append(a.arena, CallTraceNode{Parent: -1})
}

// TraceAddresses returns every address appearing in the recorded traces: each
// node's own address and its caller address.
func (a *CallTraceArena) TraceAddresses() []common.Address {
	addrs := make([]common.Address, 0, len(a.arena)*2)
	for _, n := range a.arena {
		addrs = append(addrs, n.Trace.Address, n.Trace.Caller)
	}
	return addrs
}

// PushTrace appends a new trace to the arena, returning its index.
//
// If trace.Depth == 0 this overwrites the sentinel root and returns 0.
// Otherwise it walks from entry along each node's last child until it finds
// the node one depth shallower than the new trace, and attaches the new node
// there. The walk always terminates because children are appended in depth
// order, so a node's last child is always the most recently entered frame at
// that depth.
func (a *CallTraceArena) PushTrace(entry int, kind PushTraceKind, trace CallTrace) int {
	if trace.Depth == 0 {
		a.arena[0].Trace = trace
		return 0
	}

	for a.arena[entry].Trace.Depth != trace.Depth-1 {
		children := a.arena[entry].Children
		if len(children) == 0 {
			panic("tracing: disconnected trace")
		}
		entry = children[len(children)-1]
	}

	idx := len(a.arena)
	a.arena = append(a.arena, CallTraceNode{
		Parent: entry,
		Trace:  trace,
		Idx:    idx,
	})

	if kind.attachToParent() {
		parent := &a.arena[entry]
		loc := len(parent.Children)
		parent.Ordering = append(parent.Ordering, TraceMemberOrder{Kind: TraceMemberCall, Index: loc})
		parent.Children = append(parent.Children, idx)
	}

	return idx
}

// PushLog appends a log to the node at idx, recording its ordering position.
func (a *CallTraceArena) PushLog(idx int, log CallLog) {
	node := &a.arena[idx]
	log.Position = uint64(len(node.Children))
	node.Ordering = append(node.Ordering, TraceMemberOrder{Kind: TraceMemberLog, Index: len(node.Logs)})
	node.Logs = append(node.Logs, log)
}

// PushStep appends a step to the node at idx, recording its ordering
// position, and returns the step's index within that node's Steps slice.
func (a *CallTraceArena) PushStep(idx int, step CallTraceStep) int {
	node := &a.arena[idx]
	stepIdx := len(node.Trace.Steps)
	node.Ordering = append(node.Ordering, TraceMemberOrder{Kind: TraceMemberStep, Index: stepIdx})
	node.Trace.Steps = append(node.Trace.Steps, step)
	return stepIdx
}
