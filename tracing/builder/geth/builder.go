package geth

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/flashbots/inspectors-go/tracing"
)

// Builder projects a CallTraceArena into geth-style outputs.
type Builder struct {
	Nodes []tracing.CallTraceNode
}

// New constructs a Builder over the given recorded nodes.
func New(nodes []tracing.CallTraceNode) *Builder {
	return &Builder{Nodes: nodes}
}

// DefaultFrame builds the struct-log frame by walking the arena depth-first
// with a work stack of (node, next-step cursor) entries: the top entry emits
// its next step and advances its cursor, and when that step is call-like the
// child entered at that point (found through the node's Ordering) is pushed
// on top, so its steps are emitted before the parent continues.
func (b *Builder) DefaultFrame() DefaultFrame {
	root := &b.Nodes[0]

	type frame struct {
		nodeIdx int
		stepIdx int
	}
	stack := []frame{{nodeIdx: 0, stepIdx: 0}}
	storagePerContract := map[common.Address]map[common.Hash]common.Hash{}

	var logs []StructLog
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		node := &b.Nodes[top.nodeIdx]
		if top.stepIdx >= len(node.Trace.Steps) {
			stack = stack[:len(stack)-1]
			continue
		}
		step := node.Trace.Steps[top.stepIdx]
		top.stepIdx++

		sl := StructLog{
			PC:      step.PC,
			Op:      vm.OpCode(step.Op).String(),
			Gas:     step.GasRemaining,
			GasCost: step.GasCost,
			Depth:   step.Depth + 1, // geth depth is 1-indexed
			Error:   step.Error,
		}
		if step.Stack != nil {
			sl.Stack = step.Stack
		}
		if step.Memory != nil {
			sl.Memory = step.Memory
		}
		if step.ReturnData != nil {
			sl.ReturnData = step.ReturnData
		}
		if step.StorageChange != nil {
			contractStorage, ok := storagePerContract[step.Contract]
			if !ok {
				contractStorage = map[common.Hash]common.Hash{}
				storagePerContract[step.Contract] = contractStorage
			}
			key := common.Hash(step.StorageChange.Key.Bytes32())
			val := common.Hash(step.StorageChange.PresentValue.Bytes32())
			contractStorage[key] = val
			sl.Storage = cloneHashMap(contractStorage)
		}
		logs = append(logs, sl)

		if step.IsCall() {
			// find the child node entered at this point: the next
			// not-yet-visited child of the current node.
			childIdx := nextUnvisitedChild(node, top.stepIdx)
			if childIdx >= 0 {
				stack = append(stack, frame{nodeIdx: childIdx, stepIdx: 0})
			}
		}
	}

	return DefaultFrame{
		Failed:      root.IsError(),
		Gas:         root.Trace.GasUsed,
		ReturnValue: root.Trace.Output,
		StructLogs:  logs,
	}
}

// nextUnvisitedChild is a conservative helper: since ordering already
// records the exact interleaving of Call/Step members, we consult it
// instead of guessing from step position alone.
func nextUnvisitedChild(node *tracing.CallTraceNode, visitedSteps int) int {
	callsSeen := 0
	stepsSeen := 0
	for _, m := range node.Ordering {
		switch m.Kind {
		case tracing.TraceMemberStep:
			stepsSeen++
			if stepsSeen == visitedSteps {
				// the very next Call entry (if any) belongs to this step
				continue
			}
		case tracing.TraceMemberCall:
			if stepsSeen == visitedSteps {
				if callsSeen < len(node.Children) {
					return node.Children[m.Index]
				}
			}
			callsSeen++
		}
	}
	return -1
}

func cloneHashMap(m map[common.Hash]common.Hash) map[common.Hash]common.Hash {
	out := make(map[common.Hash]common.Hash, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// callOrParentFailed reports whether node n or any ancestor of n has an
// error status — used to suppress logs under a reverted frame.
func (b *Builder) callOrParentFailed(idx int) bool {
	for {
		node := &b.Nodes[idx]
		if node.IsError() {
			return true
		}
		if idx == 0 {
			return false
		}
		idx = node.Parent
	}
}

// CallFrames builds the geth callTracer call tree: one CallFrame per node,
// a selfdestruct synthesized as a child that ends up after the frame's
// recorded child calls (the fold below prepends those), logs included only
// when the frame and all its ancestors succeeded, then folded from a flat
// per-node slice into a tree by walking from the deepest index backward and
// prepending each frame into its parent's Calls (children always have a
// strictly greater index than their parent, so a single backward pass
// suffices).
func (b *Builder) CallFrames(withLog bool) *CallFrame {
	frames := make([]*CallFrame, len(b.Nodes))
	for i := range b.Nodes {
		if b.Nodes[i].IsExcluded() {
			continue // PushOnly precompile call: accounting-only, never in the tree
		}
		frames[i] = b.callFrame(i, withLog)
	}

	for i := len(b.Nodes) - 1; i > 0; i-- {
		if frames[i] == nil {
			continue
		}
		parent := b.Nodes[i].Parent
		frames[parent].Calls = append([]*CallFrame{frames[i]}, frames[parent].Calls...)
	}

	return frames[0]
}

func (b *Builder) callFrame(idx int, withLog bool) *CallFrame {
	node := &b.Nodes[idx]
	t := &node.Trace

	cf := &CallFrame{
		Type:    t.Kind.String(),
		From:    t.Caller,
		Gas:     t.GasLimit,
		GasUsed: t.GasUsed,
		Input:   t.Data,
	}
	if !t.Kind.IsStaticCall() {
		cf.Value = t.Value
	}
	if !(t.Kind.IsCreate() && !t.Success) {
		addr := t.Address
		cf.To = &addr
	}
	if t.Status.IsError() {
		cf.Error = parityLikeErrorString(t.Status)
		cf.GasUsed = t.GasLimit
	} else {
		cf.Output = t.Output
	}
	if t.Status.IsRevert() {
		cf.Revert = string(t.Output)
	}

	if withLog && !b.callOrParentFailed(idx) {
		for _, l := range node.Logs {
			cf.Logs = append(cf.Logs, CallFrameLog{Address: l.Address, Topics: l.Topics, Data: l.Data})
		}
	}

	if node.IsSelfDestruct() {
		sd := &CallFrame{
			Type: "SELFDESTRUCT",
			From: t.SelfDestructAddress,
		}
		addr := t.SelfDestructRefundTarget
		sd.To = &addr
		sd.Value = t.SelfDestructTransferredValue
		cf.Calls = append(cf.Calls, sd)
	}

	return cf
}

func parityLikeErrorString(status tracing.CallStatus) string {
	switch status {
	case tracing.CallStatusOutOfGas:
		return "out of gas"
	case tracing.CallStatusInvalidOpcode:
		return "invalid opcode"
	case tracing.CallStatusStackOverflow:
		return "stack overflow"
	case tracing.CallStatusStackUnderflow:
		return "stack underflow"
	case tracing.CallStatusHalt:
		return "execution terminated"
	default:
		return "execution failed"
	}
}

// PrestateTraces returns the balance, nonce and code of every address in
// touched, reading each one from db; the arena is not consulted. An address
// db does not know gets a zero balance. Storage is not filled in.
func (b *Builder) PrestateTraces(db tracing.Database, touched []common.Address) (PrestateFrame, error) {
	out := PrestateFrame{}
	for _, addr := range touched {
		acct, err := db.BasicAccount(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "geth: loading pre-state for %s", addr)
		}
		if acct == nil {
			out[addr] = PrestateAccount{Balance: new(big.Int)}
			continue
		}
		out[addr] = PrestateAccount{
			Balance: acct.Balance,
			Nonce:   acct.Nonce,
			Code:    acct.Code,
		}
	}
	return out, nil
}

// PrestateDiffTraces emits the diff-mode prestate: Post holds only fields
// that changed from Pre (created accounts keep every field since there is
// no "unchanged" baseline); Pre drops accounts that were created during the
// transaction (they have no prior state); self-destructed accounts are
// dropped from Post; storage retains only slots whose post value differs
// from the recorded pre value.
func (b *Builder) PrestateDiffTraces(
	pre PrestateFrame,
	post PrestateFrame,
	created map[common.Address]bool,
	selfDestructed map[common.Address]bool,
) PrestateDiffFrame {
	diffPre := PrestateFrame{}
	diffPost := PrestateFrame{}

	for addr, preAcct := range pre {
		if created[addr] {
			continue
		}
		diffPre[addr] = preAcct
	}

	for addr, postAcct := range post {
		if selfDestructed[addr] {
			continue
		}
		preAcct, hadPre := pre[addr]

		changedAcct := PrestateAccount{Storage: map[common.Hash]common.Hash{}}
		changed := false
		if !hadPre || preAcct.Balance.Cmp(postAcct.Balance) != 0 {
			changedAcct.Balance = postAcct.Balance
			changed = true
		}
		if !hadPre || preAcct.Nonce != postAcct.Nonce {
			changedAcct.Nonce = postAcct.Nonce
			changed = true
		}
		if !hadPre || string(preAcct.Code) != string(postAcct.Code) {
			changedAcct.Code = postAcct.Code
			changed = true
		}
		for slot, postVal := range postAcct.Storage {
			var preVal common.Hash
			if hadPre {
				preVal = preAcct.Storage[slot]
			}
			if preVal != postVal {
				changedAcct.Storage[slot] = postVal
				changed = true
			}
		}
		if changed {
			diffPost[addr] = changedAcct
		}
	}

	return PrestateDiffFrame{Pre: diffPre, Post: diffPost}
}

// Erc7562Traces builds the ERC-7562 validation-tracer frame: for every node
// it scans the recorded steps to compute accessed slots, used opcodes,
// external-code accesses, contract sizes, and KECCAK256 preimages, then
// folds the per-node frames into a tree the same way CallFrames does.
func (b *Builder) Erc7562Traces(ignoredOpcodes map[byte]bool, codeSizeOf func(common.Address) (int, error)) (*Erc7562Frame, error) {
	frames := make([]*Erc7562Frame, len(b.Nodes))
	for i := range b.Nodes {
		if b.Nodes[i].IsExcluded() {
			continue // PushOnly precompile call: accounting-only, never in the tree
		}
		f, err := b.erc7562Frame(i, ignoredOpcodes, codeSizeOf)
		if err != nil {
			return nil, err
		}
		frames[i] = f
	}
	for i := len(b.Nodes) - 1; i > 0; i-- {
		if frames[i] == nil {
			continue
		}
		parent := b.Nodes[i].Parent
		frames[parent].Calls = append([]*Erc7562Frame{frames[i]}, frames[parent].Calls...)
		frames[parent].CallFrame.Calls = append([]*CallFrame{&frames[i].CallFrame}, frames[parent].CallFrame.Calls...)
	}
	return frames[0], nil
}

func (b *Builder) erc7562Frame(idx int, ignored map[byte]bool, codeSizeOf func(common.Address) (int, error)) (*Erc7562Frame, error) {
	cf := b.callFrame(idx, true)
	f := &Erc7562Frame{
		CallFrame: *cf,
		AccessedSlots: AccessedSlots{
			Reads:           map[common.Hash][]uint256.Int{},
			Writes:          map[common.Hash]uint64{},
			TransientReads:  map[common.Hash]uint64{},
			TransientWrites: map[common.Hash]uint64{},
		},
		UsedOpcodes:  map[byte]uint64{},
		ContractSize: map[common.Address]ContractSizeInfo{},
	}

	node := &b.Nodes[idx]
	for _, step := range node.Trace.Steps {
		if ignored[step.Op] {
			continue
		}
		f.UsedOpcodes[step.Op]++

		switch vm.OpCode(step.Op) {
		case vm.SLOAD:
			if step.StorageChange != nil {
				key := common.Hash(step.StorageChange.Key.Bytes32())
				if _, seen := f.AccessedSlots.Reads[key]; !seen {
					f.AccessedSlots.Reads[key] = []uint256.Int{step.StorageChange.PresentValue}
				}
			}
		case vm.SSTORE:
			if step.StorageChange != nil {
				key := common.Hash(step.StorageChange.Key.Bytes32())
				f.AccessedSlots.Writes[key]++
			}
		case vm.TLOAD:
			if len(step.Stack) > 0 {
				key := common.Hash(step.Stack[len(step.Stack)-1].Bytes32())
				f.AccessedSlots.TransientReads[key]++
			}
		case vm.TSTORE:
			if len(step.Stack) > 0 {
				key := common.Hash(step.Stack[len(step.Stack)-1].Bytes32())
				f.AccessedSlots.TransientWrites[key]++
			}
		case vm.EXTCODESIZE, vm.EXTCODECOPY, vm.EXTCODEHASH:
			if len(step.Stack) > 0 {
				addr := common.BytesToAddress(step.Stack[len(step.Stack)-1].Bytes())
				size, err := codeSizeOf(addr)
				if err != nil {
					return nil, errors.Wrapf(err, "erc7562: code size for %s", addr)
				}
				f.ContractSize[addr] = ContractSizeInfo{ContractSize: size, Opcode: vm.OpCode(step.Op).String()}
				f.ExtCodeAccess = append(f.ExtCodeAccess, ExtCodeAccessInfo{Address: addr, Opcode: vm.OpCode(step.Op).String()})
			}
		case vm.KECCAK256:
			// offset is the top stack word, size the one beneath it.
			if step.Memory != nil && len(step.Stack) >= 2 {
				offW, sizeW := step.Stack[len(step.Stack)-1], step.Stack[len(step.Stack)-2]
				if offW.IsUint64() && sizeW.IsUint64() {
					off, size := offW.Uint64(), sizeW.Uint64()
					if off <= uint64(len(step.Memory)) && size <= uint64(len(step.Memory))-off {
						data := append([]byte(nil), step.Memory[off:off+size]...)
						f.Keccak = append(f.Keccak, KeccakPreimage{Data: data, Hash: sha3Hash(data)})
					}
				}
			}
		}
	}
	if node.Trace.Status == tracing.CallStatusOutOfGas {
		f.OutOfGas = true
	}

	return f, nil
}

func sha3Hash(data []byte) common.Hash {
	return crypto.Keccak256Hash(data)
}
