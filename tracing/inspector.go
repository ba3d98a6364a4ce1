package tracing

import (
	"math/big"

	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/flashbots/inspectors-go/timeout"
)

// stepStackFrame records the (node, step) pair of each recorded step, in
// recording order; nothing in this package reads it back.
type stepStackFrame struct {
	traceIdx int
	stepIdx  int
}

// Inspector is the EVM-facing state machine that fills a CallTraceArena from
// step/call/log/selfdestruct events. It satisfies go-ethereum's
// core/tracing.Hooks contract via Hooks().
type Inspector struct {
	config Config
	arena  *CallTraceArena

	traceStack []int
	stepStack  []stepStackFrame

	lastCallReturnData []byte

	precompiles mapset.Set[common.Address]

	// pendingStorageChange holds the most recent OnStorageChange event not
	// yet attributed to a step. go-ethereum fires OnStorageChange from
	// within SSTORE's execution, synchronously between two OnOpcode calls,
	// so the pending slot is always consumed by the very next SSTORE step.
	pendingStorageChange *StorageChange

	deadline *timeout.Deadline
	stopErr  error
}

// SetDeadline installs the cooperative abort check polled from OnOpcode.
// A nil deadline disables the check (the default).
func (ins *Inspector) SetDeadline(d *timeout.Deadline) {
	ins.deadline = d
}

// Err returns the reason recording stopped early, if the deadline tripped.
func (ins *Inspector) Err() error {
	return ins.stopErr
}

// NewInspector constructs an Inspector with a fresh arena.
func NewInspector(cfg Config) *Inspector {
	return &Inspector{
		config:      cfg,
		arena:       NewCallTraceArena(),
		precompiles: mapset.NewSet[common.Address](),
	}
}

// Arena returns the arena the inspector has been recording into.
func (ins *Inspector) Arena() *CallTraceArena {
	return ins.arena
}

// Reset clears the arena and internal stacks so the inspector can be reused
// for a subsequent transaction.
func (ins *Inspector) Reset() {
	ins.arena.Clear()
	ins.traceStack = ins.traceStack[:0]
	ins.stepStack = ins.stepStack[:0]
	ins.lastCallReturnData = nil
}

// SetPrecompiles installs the set of precompile addresses active for the
// current hardfork; consulted only when ExcludePrecompileCalls is set.
func (ins *Inspector) SetPrecompiles(addrs []common.Address) {
	ins.precompiles = mapset.NewSet(addrs...)
}

// Hooks adapts the inspector to go-ethereum's tracing.Hooks vtable.
func (ins *Inspector) Hooks() *gethtracing.Hooks {
	return &gethtracing.Hooks{
		OnTxStart:       ins.onTxStart,
		OnEnter:         ins.onEnter,
		OnExit:          ins.onExit,
		OnOpcode:        ins.onOpcode,
		OnLog:           ins.onLog,
		OnStorageChange: ins.onStorageChange,
		OnBalanceChange: ins.onBalanceChange,
	}
}

func (ins *Inspector) onTxStart(_ *gethtracing.VMContext, _ *types.Transaction, _ common.Address) {
}

func (ins *Inspector) activeTraceIdx() int {
	return ins.traceStack[len(ins.traceStack)-1]
}

// onEnter corresponds to revm's Inspector::call/create: go-ethereum merges
// both into one hook, discriminated by typ (a vm.OpCode byte).
func (ins *Inspector) onEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	kind := callKindFromOpCode(vm.OpCode(typ))

	from, to = ins.resolveFromTo(kind, from, to)

	var maybePrecompile *bool
	if ins.config.ExcludePrecompileCalls {
		mp := depth > 0 && (value == nil || value.Sign() == 0) && ins.precompiles.Contains(to)
		maybePrecompile = &mp
	}

	trace := CallTrace{
		Depth:           depth,
		Caller:          from,
		Address:         to,
		Kind:            kind,
		Value:           valueOrZero(value),
		Data:            append([]byte(nil), input...),
		GasLimit:        gas,
		Status:          CallStatusContinue,
		MaybePrecompile: maybePrecompile,
	}

	kindPush := PushAndAttachToParent
	if maybePrecompile != nil && *maybePrecompile {
		kindPush = PushOnly
	}

	entry := 0
	if len(ins.traceStack) > 0 {
		entry = ins.activeTraceIdx()
	}
	idx := ins.arena.PushTrace(entry, kindPush, trace)
	ins.traceStack = append(ins.traceStack, idx)
}

func (ins *Inspector) resolveFromTo(kind CallKind, from, to common.Address) (common.Address, common.Address) {
	// DelegateCall/CallCode already arrive with (executing contract, code
	// address) semantics expressed by go-ethereum as (from=caller's own
	// address, to=code address); this mirrors the base spec's rule that
	// from=target_address, to=bytecode_address for those two kinds.
	return from, to
}

func (ins *Inspector) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if len(ins.traceStack) == 0 {
		return
	}
	idx := ins.traceStack[len(ins.traceStack)-1]
	ins.traceStack = ins.traceStack[:len(ins.traceStack)-1]

	node := &ins.arena.NodesMut()[idx]
	node.Trace.Output = append([]byte(nil), output...)
	node.Trace.GasUsed = gasUsed

	switch {
	case ins.stopErr != nil && node.Trace.Status == CallStatusHalt:
		// The frame that was active when the deadline tripped stays Halt.
		node.Trace.Success = false
	case reverted:
		node.Trace.Status = CallStatusRevert
		node.Trace.Success = false
	case err != nil:
		node.Trace.Status = classifyHaltError(err)
		node.Trace.Success = false
	default:
		node.Trace.Status = CallStatusOk
		node.Trace.Success = true
	}

	ins.lastCallReturnData = node.Trace.Output
}

func (ins *Inspector) onStorageChange(_ common.Address, slot common.Hash, prev, new common.Hash) {
	if !ins.config.RecordStateDiff {
		return
	}
	ins.pendingStorageChange = &StorageChange{
		Key:          *uint256.NewInt(0).SetBytes(slot.Bytes()),
		PresentValue: *uint256.NewInt(0).SetBytes(new.Bytes()),
		HadValue:     uint256.NewInt(0).SetBytes(prev.Bytes()),
		Reason:       StorageChangeReasonSSTORE,
	}
}

// onBalanceChange is how self-destruct is observed: go-ethereum's tracing
// hooks have no dedicated SelfDestruct callback, so the transfer out of the
// destructing contract and into its target is recognized by its dedicated
// BalanceChangeReason pair instead.
func (ins *Inspector) onBalanceChange(addr common.Address, prev, newBal *big.Int, reason gethtracing.BalanceChangeReason) {
	if len(ins.traceStack) == 0 {
		return
	}
	node := &ins.arena.NodesMut()[ins.activeTraceIdx()]
	switch reason {
	case gethtracing.BalanceDecreaseSelfdestruct:
		node.Trace.SelfDestructed = true
		node.Trace.SelfDestructAddress = addr
		node.Trace.SelfDestructTransferredValue = new(big.Int).Sub(prev, newBal)
	case gethtracing.BalanceIncreaseSelfdestruct:
		node.Trace.SelfDestructRefundTarget = addr
	}
}

func (ins *Inspector) onLog(log *types.Log) {
	if !ins.config.RecordLogs || ins.stopErr != nil || len(ins.traceStack) == 0 {
		return
	}
	idx := ins.activeTraceIdx()
	ins.arena.PushLog(idx, CallLog{
		Address: log.Address,
		Topics:  log.Topics,
		Data:    log.Data,
	})
}

// onOpcode corresponds to revm's Inspector::step/step_end, collapsed into a
// single hook by go-ethereum: the arguments already reflect the state after
// the opcode executed, so step-start/step-end bookkeeping happens together.
func (ins *Inspector) onOpcode(pc uint64, op byte, gas, cost uint64, scope gethtracing.OpContext, rData []byte, depth int, vmErr error) {
	if ins.stopErr != nil {
		return
	}
	if err := ins.deadline.Check(); err != nil {
		ins.stopErr = err
		if len(ins.traceStack) > 0 {
			ins.arena.NodesMut()[ins.activeTraceIdx()].Trace.Status = CallStatusHalt
		}
		return
	}

	if !ins.config.RecordSteps {
		return
	}
	if ins.config.RecordOpcodesFilter != nil && !ins.config.RecordOpcodesFilter.Enabled(vm.OpCode(op)) {
		return
	}

	step := CallTraceStep{
		Depth:        depth,
		PC:           pc,
		Op:           op,
		GasRemaining: gas,
		GasCost:      cost,
		Status:       CallStatusContinue,
	}
	if len(ins.traceStack) > 0 {
		step.Contract = scope.Address()
	}

	switch ins.config.RecordStackSnapshots {
	case StackSnapshotFull:
		step.Stack = copyStackData(scope.StackData())
	case StackSnapshotPushes:
		step.Stack = pushedItems(vm.OpCode(op), scope.StackData())
	}

	if ins.config.RecordMemorySnapshots {
		step.Memory = append([]byte(nil), scope.MemoryData()...)
	}

	if ins.config.RecordReturnDataSnapshots {
		step.ReturnData = append([]byte(nil), rData...)
	}

	if vmErr != nil {
		step.Status = classifyHaltError(vmErr)
		step.Error = vmErr.Error()
	}

	if ins.config.RecordStateDiff && vm.OpCode(op) == vm.SSTORE && ins.pendingStorageChange != nil {
		step.StorageChange = ins.pendingStorageChange
		ins.pendingStorageChange = nil
	}

	if len(ins.traceStack) > 0 {
		idx := ins.activeTraceIdx()
		stepIdx := ins.arena.PushStep(idx, step)
		ins.stepStack = append(ins.stepStack, stepStackFrame{traceIdx: idx, stepIdx: stepIdx})
	}
}

// classifyHaltError maps an EVM execution error into a CallStatus. This is a
// coarse classification by design: the precise message is retained only on
// a step's Error field; a frame keeps just its CallStatus.
func classifyHaltError(err error) CallStatus {
	if err == nil {
		return CallStatusOk
	}
	switch {
	case errors.Is(err, vm.ErrOutOfGas):
		return CallStatusOutOfGas
	case errors.Is(err, vm.ErrInvalidCode), errors.Is(err, vm.ErrInvalidJump):
		return CallStatusInvalidOpcode
	case errors.Is(err, vm.ErrStackOverflow):
		return CallStatusStackOverflow
	case errors.Is(err, vm.ErrStackUnderflow):
		return CallStatusStackUnderflow
	case errors.Is(err, vm.ErrExecutionReverted):
		return CallStatusRevert
	default:
		return CallStatusHalt
	}
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func callKindFromOpCode(op vm.OpCode) CallKind {
	switch op {
	case vm.CALL:
		return CallKindCall
	case vm.STATICCALL:
		return CallKindStaticCall
	case vm.CALLCODE:
		return CallKindCallCode
	case vm.DELEGATECALL:
		return CallKindDelegateCall
	case vm.CREATE:
		return CallKindCreate
	case vm.CREATE2:
		return CallKindCreate2
	default:
		return CallKindCall
	}
}

func copyStackData(data []uint256.Int) []uint256.Int {
	out := make([]uint256.Int, len(data))
	copy(out, data)
	return out
}

// pushedItems returns the top item of the stack the hook reports, or nothing
// when opcodePushCount gives 0 for op. It captures at most one word for any
// opcode; it does not use a per-opcode push count.
func pushedItems(op vm.OpCode, stack []uint256.Int) []uint256.Int {
	if opcodePushCount(op) == 0 || len(stack) == 0 {
		return nil
	}
	return []uint256.Int{stack[len(stack)-1]}
}

// opcodePushCount reports how many words an opcode pushes onto the stack,
// for the narrow purpose of deciding whether a pushes-only snapshot should
// capture anything. It returns 0 for the fixed list below (POP, JUMP,
// JUMPDEST, STOP, RETURN, REVERT, SELFDESTRUCT, SSTORE, LOG0-LOG4) and 1 for
// every other opcode, the CALL family included; pop-only opcodes outside the
// list, such as JUMPI or MSTORE, also get 1.
func opcodePushCount(op vm.OpCode) int {
	switch op {
	case vm.POP, vm.JUMP, vm.JUMPDEST, vm.STOP, vm.RETURN, vm.REVERT, vm.SELFDESTRUCT, vm.SSTORE,
		vm.LOG0, vm.LOG1, vm.LOG2, vm.LOG3, vm.LOG4:
		return 0
	default:
		return 1
	}
}
