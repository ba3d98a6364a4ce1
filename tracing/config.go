package tracing

import "github.com/ethereum/go-ethereum/core/vm"

// StackSnapshotType controls how much of the EVM stack is captured per step.
type StackSnapshotType byte

const (
	// StackSnapshotNone captures no stack contents.
	StackSnapshotNone StackSnapshotType = iota
	// StackSnapshotPushes captures at most one item per step: the top of the
	// stack the hook reports, skipped for the opcodes opcodePushCount treats
	// as pushing nothing.
	StackSnapshotPushes
	// StackSnapshotFull captures the entire stack at every step.
	StackSnapshotFull
)

// OpcodeFilter is a 256-bit mask selecting which opcodes produce a step
// record. It is backed by four uint64 words to keep it a value type.
type OpcodeFilter struct {
	lo, hi uint64
	lo2    uint64
	hi2    uint64
}

// NewOpcodeFilterAll returns a filter that enables every opcode.
func NewOpcodeFilterAll() OpcodeFilter {
	return OpcodeFilter{lo: ^uint64(0), hi: ^uint64(0), lo2: ^uint64(0), hi2: ^uint64(0)}
}

// Enable marks op as included in the filter.
func (f *OpcodeFilter) Enable(op vm.OpCode) {
	idx := byte(op)
	switch {
	case idx < 64:
		f.lo |= 1 << idx
	case idx < 128:
		f.hi |= 1 << (idx - 64)
	case idx < 192:
		f.lo2 |= 1 << (idx - 128)
	default:
		f.hi2 |= 1 << (idx - 192)
	}
}

// Enabled reports whether op passes the filter.
func (f OpcodeFilter) Enabled(op vm.OpCode) bool {
	idx := byte(op)
	switch {
	case idx < 64:
		return f.lo&(1<<idx) != 0
	case idx < 128:
		return f.hi&(1<<(idx-64)) != 0
	case idx < 192:
		return f.lo2&(1<<(idx-128)) != 0
	default:
		return f.hi2&(1<<(idx-192)) != 0
	}
}

// Config records which snapshots the tracing inspector should capture. Each
// constructor preset below maps one-to-one to a requested output schema.
type Config struct {
	RecordSteps                bool
	RecordMemorySnapshots      bool
	RecordStackSnapshots       StackSnapshotType
	RecordStateDiff            bool
	RecordReturnDataSnapshots  bool
	RecordOpcodesFilter        *OpcodeFilter
	ExcludePrecompileCalls     bool
	RecordLogs                 bool
	RecordImmediateBytes       bool
}

// DefaultConfig enables nothing beyond the always-present call tree and its
// logs.
func DefaultConfig() Config {
	return Config{RecordLogs: true}
}

// DefaultParityConfig matches what the parity Trace output type needs: call
// tree and logs, no steps.
func DefaultParityConfig() Config {
	return Config{RecordLogs: true}
}

// ParityVmTraceConfig additionally records steps, full stack, and memory, as
// required to build a parity VmTrace.
func ParityVmTraceConfig() Config {
	return Config{
		RecordSteps:           true,
		RecordMemorySnapshots:  true,
		RecordStackSnapshots:   StackSnapshotFull,
		RecordLogs:             true,
	}
}

// ParityStateDiffConfig additionally tracks storage_change on steps so the
// state-diff builder can reconstruct pre/post storage.
func ParityStateDiffConfig() Config {
	cfg := ParityVmTraceConfig()
	cfg.RecordStateDiff = true
	return cfg
}

// DefaultGethConfig matches the geth DefaultFrame (struct-log) schema.
func DefaultGethConfig() Config {
	return Config{
		RecordSteps:            true,
		RecordMemorySnapshots:   true,
		RecordStackSnapshots:    StackSnapshotFull,
		RecordReturnDataSnapshots: true,
		RecordLogs:              true,
	}
}

// CallTracerConfig matches the geth CallFrame schema: no steps needed.
func CallTracerConfig(withLog bool) Config {
	return Config{RecordLogs: withLog, ExcludePrecompileCalls: true}
}

// PrestateTracerConfig matches the geth Prestate schema: the call tree and
// state touches are needed. Steps are recorded, without stack or memory, so
// that state-diff recording can attach storage changes to them.
func PrestateTracerConfig() Config {
	return Config{RecordStateDiff: true, RecordSteps: true}
}

// Erc7562Config matches the ERC-7562 validation-tracer schema: full step
// recording plus state-diff, to support accessed-slot and opcode accounting.
func Erc7562Config(withLog bool) Config {
	return Config{
		RecordSteps:            true,
		RecordStateDiff:        true,
		RecordMemorySnapshots:  true,
		RecordStackSnapshots:   StackSnapshotFull,
		RecordLogs:             withLog,
		ExcludePrecompileCalls: true,
	}
}
