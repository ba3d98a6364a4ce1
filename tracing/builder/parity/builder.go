package parity

import (
	"math/big"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/flashbots/inspectors-go/tracing"
)

// TraceType selects which parity output shapes a Builder call should emit.
type TraceType byte

const (
	TraceTypeTrace TraceType = iota
	TraceTypeStateDiff
	TraceTypeVmTrace
)

// Builder projects a CallTraceArena into parity-style outputs.
type Builder struct {
	Nodes []tracing.CallTraceNode
}

// New constructs a Builder over the given recorded nodes.
func New(nodes []tracing.CallTraceNode) *Builder {
	return &Builder{Nodes: nodes}
}

// TraceAddress computes the path of child positions from the root to node
// idx. A PushOnly node (an excluded precompile call) never appears in its
// parent's Children, so it never contributes a position here; callers must
// not call TraceAddress on an excluded node's idx — Traces() enforces that
// by skipping such nodes before any trace address is computed or emitted.
func (b *Builder) TraceAddress(idx int) []int {
	if idx == 0 {
		return nil
	}
	var rev []int
	cur := idx
	for cur != 0 {
		node := &b.Nodes[cur]
		parent := &b.Nodes[node.Parent]
		pos := indexOf(parent.Children, cur)
		if pos >= 0 {
			rev = append(rev, pos)
		}
		cur = node.Parent
	}
	// reverse
	addr := make([]int, len(rev))
	for i, v := range rev {
		addr[len(rev)-1-i] = v
	}
	return addr
}

func indexOf(xs []int, v int) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}

// Traces builds the flat parity transaction trace array for every node,
// synthesizing a SelfDestruct trace immediately after any node that
// self-destructed, and sorting the result by trace address whenever at
// least one self-destruct was synthesized (the sort is otherwise skipped
// since append order already matches trace-address order).
func (b *Builder) Traces() []TransactionTrace {
	var out []TransactionTrace
	anySelfDestruct := false

	for i := range b.Nodes {
		if b.Nodes[i].IsExcluded() {
			continue
		}
		addr := b.TraceAddress(i)
		tt := b.transactionTrace(i, addr)
		out = append(out, tt)

		if b.Nodes[i].IsSelfDestruct() {
			anySelfDestruct = true
			sdAddr := append(append([]int(nil), addr...), tt.Subtraces)
			out[len(out)-1].Subtraces++
			out = append(out, TransactionTrace{
				Action: ActionSelfDestruct,
				SelfDestruct: &SelfDestructAction{
					Address:       b.Nodes[i].Trace.SelfDestructAddress,
					RefundAddress: b.Nodes[i].Trace.SelfDestructRefundTarget,
					Balance:       b.Nodes[i].Trace.SelfDestructTransferredValue,
				},
				TraceAddress: sdAddr,
			})
		}
	}

	if anySelfDestruct {
		sort.SliceStable(out, func(i, j int) bool {
			return lessTraceAddress(out[i].TraceAddress, out[j].TraceAddress)
		})
	}
	return out
}

func lessTraceAddress(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func (b *Builder) transactionTrace(idx int, addr []int) TransactionTrace {
	node := &b.Nodes[idx]
	tt := TransactionTrace{
		Subtraces:    len(node.Children),
		TraceAddress: addr,
	}

	switch {
	case node.Trace.Kind.IsCreate():
		tt.Action = ActionCreate
		tt.Create = &CreateAction{
			From:  node.Trace.Caller,
			Value: node.Trace.Value,
			Gas:   node.Trace.GasLimit,
			Init:  node.Trace.Data,
		}
		if node.Trace.Success || node.Trace.Status.IsRevert() {
			tt.CreateResult = &CreateOutput{
				GasUsed: node.Trace.GasUsed,
				Address: node.Trace.Address,
				Code:    node.Trace.Output,
			}
		}
	default:
		tt.Action = ActionCall
		tt.Call = &CallAction{
			From:     node.Trace.Caller,
			To:       node.Trace.Address,
			Value:    node.Trace.Value,
			Gas:      node.Trace.GasLimit,
			Input:    node.Trace.Data,
			CallType: callTypeString(node.Trace.Kind),
		}
		if node.Trace.Success || node.Trace.Status.IsRevert() {
			tt.CallResult = &CallOutput{
				GasUsed: node.Trace.GasUsed,
				Output:  node.Trace.Output,
			}
		}
	}

	if node.IsError() {
		// Result stays nil for non-revert errors (parity convention); a
		// revert keeps its Result alongside the error string.
		tt.Error = parityErrorString(node.Trace.Status)
	}

	return tt
}

func callTypeString(kind tracing.CallKind) string {
	switch kind {
	case tracing.CallKindStaticCall:
		return "staticcall"
	case tracing.CallKindCallCode:
		return "callcode"
	case tracing.CallKindDelegateCall:
		return "delegatecall"
	default:
		return "call"
	}
}

func parityErrorString(status tracing.CallStatus) string {
	switch status {
	case tracing.CallStatusOutOfGas:
		return "Out of gas"
	case tracing.CallStatusInvalidOpcode:
		return "Bad instruction"
	case tracing.CallStatusStackOverflow:
		return "Stack overflow"
	case tracing.CallStatusStackUnderflow:
		return "Stack underflow"
	case tracing.CallStatusRevert:
		return "Reverted"
	default:
		return "internal error"
	}
}

// VmTrace builds the recursive instruction trace for node idx (normally the
// root, idx == 0), via an iterative depth-first walk: a stack of "which
// child index are we about to descend into" mirrors the recursive
// structure without using Go call-stack recursion.
func (b *Builder) VmTrace(idx int) *VmTrace {
	root := b.makeVmTrace(idx)
	return root
}

type vmWalkFrame struct {
	nodeIdx  int
	trace    *VmTrace
	stepIdx  int
	childIdx int // next child of nodeIdx expected to be consumed by a call-like step
}

func (b *Builder) makeVmTrace(idx int) *VmTrace {
	root := &VmTrace{}
	stack := []vmWalkFrame{{nodeIdx: idx, trace: root}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		node := &b.Nodes[top.nodeIdx]

		if top.stepIdx >= len(node.Trace.Steps) {
			stack = stack[:len(stack)-1]
			continue
		}

		step := node.Trace.Steps[top.stepIdx]
		instr := b.makeInstruction(step)

		if step.IsCall() && top.childIdx < len(node.Children) {
			childNodeIdx := node.Children[top.childIdx]
			top.childIdx++
			childTrace := &VmTrace{}
			instr.Sub = childTrace
			top.trace.Ops = append(top.trace.Ops, instr)
			top.stepIdx++
			stack = append(stack, vmWalkFrame{nodeIdx: childNodeIdx, trace: childTrace})
			continue
		}

		top.trace.Ops = append(top.trace.Ops, instr)
		top.stepIdx++
	}

	// Elide a single top-level STOP in an otherwise empty frame.
	if len(root.Ops) == 1 && root.Ops[0].Op == "STOP" {
		root.Ops = nil
	}
	return root
}

func (b *Builder) makeInstruction(step tracing.CallTraceStep) VmInstruction {
	instr := VmInstruction{
		PC:   step.PC,
		Cost: step.GasCost,
		Op:   opcodeName(step.Op),
	}
	if step.Stack != nil || step.Memory != nil {
		ex := &VmExecution{
			Used: step.GasRemaining,
			Push: step.Stack,
		}
		if step.Memory != nil {
			ex.Mem = &MemoryDelta{Off: 0, Data: step.Memory}
		}
		if step.StorageChange != nil {
			ex.Store = &StoreDelta{Key: step.StorageChange.Key, Value: step.StorageChange.PresentValue}
		}
		instr.Ex = ex
	}
	return instr
}

// PopulateVmTraceCode walks the VmTrace breadth-first and attaches the code
// of each address recorded in the corresponding node's trace, fetched via
// db.CodeByHash — used so a parity VmTrace carries bytecode for every frame.
func (b *Builder) PopulateVmTraceCode(root *VmTrace, idx int, db tracing.Database) error {
	type item struct {
		trace   *VmTrace
		nodeIdx int
	}
	queue := []item{{root, idx}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		node := &b.Nodes[it.nodeIdx]
		info, err := db.BasicAccount(node.Trace.Address)
		if err != nil {
			return errors.Wrapf(err, "parity: loading account %s", node.Trace.Address)
		}
		if info != nil {
			code, err := db.CodeByHash(info.CodeHash)
			if err != nil {
				return errors.Wrapf(err, "parity: loading code for %s", node.Trace.Address)
			}
			it.trace.Code = code
		}

		childPos := 0
		for _, op := range it.trace.Ops {
			if op.Sub == nil {
				continue
			}
			if childPos >= len(node.Children) {
				break
			}
			queue = append(queue, item{op.Sub, node.Children[childPos]})
			childPos++
		}
	}
	return nil
}

// StateDiff computes the per-account delta between pre and post account
// views for every address touched by the recorded execution.
//
// preOf/postOf are called once per address; an account created and
// destroyed within the same transaction is skipped entirely, matching the
// source's rule that such accounts leave no observable diff.
func (b *Builder) StateDiff(
	touched []common.Address,
	preOf func(common.Address) (*tracing.AccountInfo, error),
	postOf func(common.Address) (*tracing.AccountInfo, error),
	preStorage func(common.Address, common.Hash) (common.Hash, error),
	postStorage map[common.Address]map[common.Hash]common.Hash,
) (StateDiff, error) {
	diff := make(StateDiff)

	for _, addr := range dedupAddrs(touched) {
		pre, err := preOf(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "parity: reading pre-state for %s", addr)
		}
		post, err := postOf(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "parity: reading post-state for %s", addr)
		}

		if pre == nil && post == nil {
			continue
		}
		if pre == nil && post != nil && accountEmpty(post) {
			// Created and immediately destroyed/untouched: no net effect.
			continue
		}

		ad := AccountDiff{Storage: map[common.Hash]Delta[common.Hash]{}}

		ad.Balance = deltaBigInt(accountBalance(pre), accountBalance(post))
		ad.Nonce = deltaUint64(accountNonce(pre), accountNonce(post))
		ad.Code = deltaBytes(accountCode(pre), accountCode(post))

		for slot, postVal := range postStorage[addr] {
			preVal, err := preStorage(addr, slot)
			if err != nil {
				return nil, errors.Wrapf(err, "parity: reading pre-storage for %s:%s", addr, slot)
			}
			if preVal == postVal {
				continue
			}
			kind := DeltaChanged
			if pre == nil {
				kind = DeltaAdded
			}
			ad.Storage[slot] = Delta[common.Hash]{Kind: kind, From: preVal, To: postVal}
		}

		if ad.Balance.Kind == DeltaUnchanged && ad.Nonce.Kind == DeltaUnchanged &&
			ad.Code.Kind == DeltaUnchanged && len(ad.Storage) == 0 {
			continue
		}

		diff[addr] = ad
	}

	return diff, nil
}

func dedupAddrs(addrs []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(addrs))
	out := make([]common.Address, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func accountEmpty(a *tracing.AccountInfo) bool {
	return a == nil || (a.Nonce == 0 && (a.Balance == nil || a.Balance.Sign() == 0) && len(a.Code) == 0)
}

func accountBalance(a *tracing.AccountInfo) *big.Int {
	if a == nil || a.Balance == nil {
		return new(big.Int)
	}
	return a.Balance
}

func accountNonce(a *tracing.AccountInfo) uint64 {
	if a == nil {
		return 0
	}
	return a.Nonce
}

func accountCode(a *tracing.AccountInfo) []byte {
	if a == nil {
		return nil
	}
	return a.Code
}

func deltaBigInt(from, to *big.Int) Delta[*big.Int] {
	switch {
	case from.Cmp(to) == 0:
		return Delta[*big.Int]{Kind: DeltaUnchanged, From: from, To: to}
	case from.Sign() == 0:
		return Delta[*big.Int]{Kind: DeltaAdded, From: from, To: to}
	default:
		return Delta[*big.Int]{Kind: DeltaChanged, From: from, To: to}
	}
}

func deltaUint64(from, to uint64) Delta[uint64] {
	switch {
	case from == to:
		return Delta[uint64]{Kind: DeltaUnchanged, From: from, To: to}
	case from == 0:
		return Delta[uint64]{Kind: DeltaAdded, From: from, To: to}
	default:
		return Delta[uint64]{Kind: DeltaChanged, From: from, To: to}
	}
}

func deltaBytes(from, to []byte) Delta[[]byte] {
	switch {
	case string(from) == string(to):
		return Delta[[]byte]{Kind: DeltaUnchanged, From: from, To: to}
	case len(from) == 0:
		return Delta[[]byte]{Kind: DeltaAdded, From: from, To: to}
	default:
		return Delta[[]byte]{Kind: DeltaChanged, From: from, To: to}
	}
}

// opcodeName resolves an opcode byte to its mnemonic via go-ethereum's own
// jump-table backed String() method, so this package never maintains a
// second copy of the opcode table.
func opcodeName(op byte) string {
	return vm.OpCode(op).String()
}
