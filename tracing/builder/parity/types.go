// Package parity projects a recorded call-tree arena into the parity-style
// trace_* family: transaction traces, VM traces, and state diffs.
package parity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ActionKind discriminates a parity trace action.
type ActionKind string

const (
	ActionCall        ActionKind = "call"
	ActionCreate      ActionKind = "create"
	ActionSelfDestruct ActionKind = "suicide"
)

// CallAction is the action payload for a Call trace.
type CallAction struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Gas      uint64
	Input    []byte
	CallType string // "call" | "callcode" | "delegatecall" | "staticcall"
}

// CreateAction is the action payload for a Create trace.
type CreateAction struct {
	From  common.Address
	Value *big.Int
	Gas   uint64
	Init  []byte
}

// SelfDestructAction is the action payload for a synthetic suicide trace.
type SelfDestructAction struct {
	Address       common.Address
	RefundAddress common.Address
	Balance       *big.Int
}

// CallOutput is the success-result payload for a Call trace.
type CallOutput struct {
	GasUsed uint64
	Output  []byte
}

// CreateOutput is the success-result payload for a Create trace.
type CreateOutput struct {
	GasUsed uint64
	Address common.Address
	Code    []byte
}

// TransactionTrace is one entry of the flat parity trace array.
type TransactionTrace struct {
	Action       ActionKind
	Call         *CallAction
	Create       *CreateAction
	SelfDestruct *SelfDestructAction

	CallResult   *CallOutput
	CreateResult *CreateOutput

	// Error is set for every error status, reverts included. Result is nil
	// only when the frame errored without reverting (parity schema).
	Error string

	Subtraces   int
	TraceAddress []int
}

// VmInstruction is one entry of a parity VmTrace.
type VmInstruction struct {
	PC    uint64
	Cost  uint64
	Op    string
	Ex    *VmExecution
	Sub   *VmTrace
}

// VmExecution is the per-instruction execution-effect payload.
type VmExecution struct {
	Used  uint64
	Push  []uint256.Int
	Mem   *MemoryDelta
	Store *StoreDelta
}

// MemoryDelta records a memory write at a given offset.
type MemoryDelta struct {
	Off  int
	Data []byte
}

// StoreDelta records a single storage slot write.
type StoreDelta struct {
	Key   uint256.Int
	Value uint256.Int
}

// VmTrace is the recursive per-frame instruction trace.
type VmTrace struct {
	Code []byte
	Ops  []VmInstruction
}

// DeltaKind discriminates a state-diff field's change kind.
type DeltaKind byte

const (
	DeltaUnchanged DeltaKind = iota
	DeltaAdded
	DeltaChanged
	DeltaRemoved
)

// Delta is a generic before/after pair tagged with its DeltaKind.
type Delta[T any] struct {
	Kind DeltaKind
	From T
	To   T
}

// AccountDiff is the per-account entry of a StateDiff.
type AccountDiff struct {
	Balance Delta[*big.Int]
	Nonce   Delta[uint64]
	Code    Delta[[]byte]
	Storage map[common.Hash]Delta[common.Hash]
}

// StateDiff maps touched addresses to their before/after deltas.
type StateDiff map[common.Address]AccountDiff
