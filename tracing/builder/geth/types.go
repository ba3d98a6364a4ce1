// Package geth projects a recorded call-tree arena into the geth-style
// debug_trace* family: the default struct-log frame, the call-frame, the
// prestate frame (default and diff mode), and the ERC-7562 frame.
package geth

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// StructLog is one entry of a DefaultFrame.
type StructLog struct {
	PC            uint64
	Op            string
	Gas           uint64
	GasCost       uint64
	Depth         int
	Error         string
	Stack         []uint256.Int
	Memory        []byte
	Storage       map[common.Hash]common.Hash
	ReturnData    []byte
	RefundCounter uint64
}

// DefaultFrame is the geth debug_traceTransaction default output.
type DefaultFrame struct {
	Failed      bool
	Gas         uint64
	ReturnValue []byte
	StructLogs  []StructLog
}

// CallFrame is the geth callTracer output: a call tree with logs.
type CallFrame struct {
	Type    string
	From    common.Address
	To      *common.Address
	Value   *big.Int
	Gas     uint64
	GasUsed uint64
	Input   []byte
	Output  []byte
	Error   string
	Revert  string
	Calls   []*CallFrame
	Logs    []CallFrameLog
}

// CallFrameLog is one log entry attached to a CallFrame.
type CallFrameLog struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// PrestateAccount is one account entry of a Prestate frame.
type PrestateAccount struct {
	Balance *big.Int
	Nonce   uint64
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// PrestateFrame is the default-mode prestate output: pre-state of every
// touched account.
type PrestateFrame map[common.Address]PrestateAccount

// PrestateDiffFrame is the diff-mode prestate output: only fields that
// actually changed, split into Pre and Post maps.
type PrestateDiffFrame struct {
	Pre  PrestateFrame
	Post PrestateFrame
}

// Erc7562Frame is the CallFrame enriched with validation-tracer accounting.
type Erc7562Frame struct {
	CallFrame

	AccessedSlots    AccessedSlots
	ExtCodeAccess    []ExtCodeAccessInfo
	UsedOpcodes      map[byte]uint64
	ContractSize     map[common.Address]ContractSizeInfo
	OutOfGas         bool
	Keccak           []KeccakPreimage

	Calls []*Erc7562Frame
}

// AccessedSlots buckets storage accesses by how the frame touched them.
type AccessedSlots struct {
	Reads          map[common.Hash][]uint256.Int
	Writes         map[common.Hash]uint64
	TransientReads map[common.Hash]uint64
	TransientWrites map[common.Hash]uint64
}

// ExtCodeAccessInfo records an EXTCODE*-family access to another contract.
type ExtCodeAccessInfo struct {
	Address common.Address
	Opcode  string
}

// ContractSizeInfo records the runtime code size observed for an address.
type ContractSizeInfo struct {
	ContractSize int
	Opcode       string
}

// KeccakPreimage is a (offset,len) memory slice hashed by KECCAK256.
type KeccakPreimage struct {
	Data []byte
	Hash common.Hash
}
