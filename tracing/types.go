// Package tracing records EVM execution as a call tree and exposes it to
// downstream trace builders (parity-style, geth-style, and the JS bridge).
package tracing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// CallKind discriminates the opcode that created a call frame.
type CallKind byte

const (
	CallKindCall CallKind = iota
	CallKindStaticCall
	CallKindCallCode
	CallKindDelegateCall
	CallKindAuthCall
	CallKindCreate
	CallKindCreate2
)

func (k CallKind) String() string {
	switch k {
	case CallKindCall:
		return "CALL"
	case CallKindStaticCall:
		return "STATICCALL"
	case CallKindCallCode:
		return "CALLCODE"
	case CallKindDelegateCall:
		return "DELEGATECALL"
	case CallKindAuthCall:
		return "AUTHCALL"
	case CallKindCreate:
		return "CREATE"
	case CallKindCreate2:
		return "CREATE2"
	default:
		return "UNKNOWN"
	}
}

// IsCreate reports whether this frame kind is CREATE or CREATE2.
func (k CallKind) IsCreate() bool {
	return k == CallKindCreate || k == CallKindCreate2
}

// IsStaticCall reports whether this frame cannot carry value or mutate state.
func (k CallKind) IsStaticCall() bool {
	return k == CallKindStaticCall
}

// CallStatus is the terminal outcome of a frame or a step.
type CallStatus byte

const (
	CallStatusContinue CallStatus = iota
	CallStatusOk
	CallStatusRevert
	CallStatusOutOfGas
	CallStatusSelfDestruct
	CallStatusInvalidOpcode
	CallStatusStackOverflow
	CallStatusStackUnderflow
	CallStatusHalt
)

// IsError reports whether the status is a terminal-but-not-Ok state.
func (s CallStatus) IsError() bool {
	return s != CallStatusContinue && s != CallStatusOk && s != CallStatusSelfDestruct
}

// IsRevert reports whether the status is specifically a revert (as opposed
// to running out of gas or hitting an invalid opcode).
func (s CallStatus) IsRevert() bool {
	return s == CallStatusRevert
}

// StorageChangeReason distinguishes why a storage_change was recorded.
type StorageChangeReason byte

const (
	StorageChangeReasonSLOAD StorageChangeReason = iota
	StorageChangeReasonSSTORE
)

// StorageChange is recorded on a step when the opcode is SLOAD/SSTORE and the
// journal recorded a change for the step's (address, key) pair.
type StorageChange struct {
	Key          uint256.Int
	PresentValue uint256.Int
	HadValue     *uint256.Int
	Reason       StorageChangeReason
}

// CallLog is a LOG emitted by a frame, plus its position among sibling calls.
type CallLog struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
	// Position is the number of child calls that were entered before this
	// log was emitted within the same frame.
	Position uint64
}

// CallTraceStep is one executed opcode within a frame.
type CallTraceStep struct {
	Depth    int
	PC       uint64
	Op       byte
	Contract common.Address

	// Stack is present according to the configured StackSnapshotType.
	Stack []uint256.Int
	// Memory is present only if memory snapshots are enabled.
	Memory []byte
	// ReturnData is present only if returndata snapshots are enabled.
	ReturnData []byte
	// ImmediateBytes holds the PUSHn immediate operand, if enabled.
	ImmediateBytes []byte

	GasRemaining     uint64
	GasRefundCounter uint64
	GasUsed          uint64
	GasCost          uint64

	StorageChange *StorageChange
	Status        CallStatus
	Error         string
}

// IsCall reports whether the opcode is one of the CALL-family opcodes that
// can carry a child trace.
func (s *CallTraceStep) IsCall() bool {
	switch vm.OpCode(s.Op) {
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL, vm.CREATE, vm.CREATE2:
		return true
	default:
		return false
	}
}

// CallTrace is one call frame: the unit of work recorded by the arena.
type CallTrace struct {
	Depth  int
	Caller common.Address
	// Address is the frame's execution/created address.
	Address common.Address
	Kind    CallKind
	// Value is the transferred wei. For DelegateCall/CallCode this is
	// inherited from the caller frame's value.
	Value *big.Int
	Data  []byte
	Output []byte

	GasLimit uint64
	GasUsed  uint64

	Status  CallStatus
	Success bool

	// MaybePrecompile is nil unless precompile-exclusion is configured.
	MaybePrecompile *bool

	SelfDestructAddress         common.Address
	SelfDestructRefundTarget    common.Address
	SelfDestructTransferredValue *big.Int
	SelfDestructed              bool

	Steps []CallTraceStep
}

// TraceMemberKind discriminates an entry in a node's interleaving order.
type TraceMemberKind byte

const (
	TraceMemberLog TraceMemberKind = iota
	TraceMemberCall
	TraceMemberStep
)

// TraceMemberOrder records one interleaved child (log, call, or step) and its
// index into the corresponding per-kind slice.
type TraceMemberOrder struct {
	Kind  TraceMemberKind
	Index int
}

// CallTraceNode wraps a CallTrace with its arena-tree linkage.
type CallTraceNode struct {
	Parent   int // -1 for the root
	Children []int
	Idx      int
	Logs     []CallLog
	Ordering []TraceMemberOrder
	Trace    CallTrace
}

// ExecutionAddress is the address that should be attributed for logs: the
// caller for DelegateCall/CallCode, otherwise the frame's own address.
func (n *CallTraceNode) ExecutionAddress() common.Address {
	if n.Trace.Kind == CallKindDelegateCall || n.Trace.Kind == CallKindCallCode {
		return n.Trace.Caller
	}
	return n.Trace.Address
}

// IsError reports whether the frame's terminal status is an error.
func (n *CallTraceNode) IsError() bool {
	return n.Trace.Status.IsError()
}

// IsSelfDestruct reports whether this frame self-destructed.
func (n *CallTraceNode) IsSelfDestruct() bool {
	return n.Trace.SelfDestructed
}

// IsExcluded reports whether this frame was recorded as accounting-only
// (a precompile call under PushOnly exclusion, see CallTraceArena.PushTrace)
// and must therefore never appear in a tree-shaped trace output.
func (n *CallTraceNode) IsExcluded() bool {
	return n.Trace.MaybePrecompile != nil && *n.Trace.MaybePrecompile
}

// AccessList is re-exported from go-ethereum's core/types for convenience so
// callers of supplement/accesslist don't need a second import.
type AccessList = gethtypes.AccessList
