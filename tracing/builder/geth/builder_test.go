package geth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/flashbots/inspectors-go/tracing"
)

var (
	addrA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	addrB = common.HexToAddress("0x2222222222222222222222222222222222222222")
	addrC = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func buildArena(t *testing.T, build func(a *tracing.CallTraceArena)) []tracing.CallTraceNode {
	t.Helper()
	a := tracing.NewCallTraceArena()
	build(a)
	return a.Nodes()
}

func TestCallFramesBuildsTreeAndSynthesizesSelfDestruct(t *testing.T) {
	nodes := buildArena(t, func(a *tracing.CallTraceArena) {
		root := a.PushTrace(0, tracing.PushAndAttachToParent, tracing.CallTrace{
			Depth: 0, Caller: addrA, Address: addrB, Kind: tracing.CallKindCall,
			Value: big.NewInt(1), Status: tracing.CallStatusOk, Success: true,
		})
		a.PushTrace(root, tracing.PushAndAttachToParent, tracing.CallTrace{
			Depth: 1, Caller: addrB, Address: addrC, Kind: tracing.CallKindCall,
			Value: big.NewInt(0), Status: tracing.CallStatusOk, Success: true,
			SelfDestructed: true, SelfDestructAddress: addrC, SelfDestructRefundTarget: addrB,
			SelfDestructTransferredValue: big.NewInt(9),
		})
	})

	root := New(nodes).CallFrames(false)
	if root.Type != "CALL" || root.From != addrA || root.To == nil || *root.To != addrB {
		t.Fatalf("unexpected root frame: %+v", root)
	}
	if len(root.Calls) != 1 {
		t.Fatalf("expected root to have 1 child call, got %d", len(root.Calls))
	}

	child := root.Calls[0]
	if child.From != addrB || child.To == nil || *child.To != addrC {
		t.Fatalf("unexpected child frame: %+v", child)
	}
	if len(child.Calls) != 1 || child.Calls[0].Type != "SELFDESTRUCT" {
		t.Fatalf("expected child to carry a synthesized SELFDESTRUCT call, got %+v", child.Calls)
	}
	sd := child.Calls[0]
	if sd.From != addrC || sd.To == nil || *sd.To != addrB {
		t.Fatalf("unexpected selfdestruct frame: %+v", sd)
	}
	if sd.Value.Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("expected selfdestruct value 9, got %s", sd.Value)
	}
}

func TestCallFramesMarksErrorAndConsumesAllGas(t *testing.T) {
	nodes := buildArena(t, func(a *tracing.CallTraceArena) {
		a.PushTrace(0, tracing.PushAndAttachToParent, tracing.CallTrace{
			Depth: 0, Caller: addrA, Address: addrB, Kind: tracing.CallKindCall,
			Value: big.NewInt(0), GasLimit: 21000, Status: tracing.CallStatusOutOfGas, Success: false,
		})
	})

	root := New(nodes).CallFrames(false)
	if root.Error != "out of gas" {
		t.Fatalf("expected out of gas error string, got %q", root.Error)
	}
	if root.GasUsed != 21000 {
		t.Fatalf("expected GasUsed to be bumped to the gas limit on error, got %d", root.GasUsed)
	}
}

func TestDefaultFrameWalksStepsInExecutionOrder(t *testing.T) {
	nodes := buildArena(t, func(a *tracing.CallTraceArena) {
		root := a.PushTrace(0, tracing.PushAndAttachToParent, tracing.CallTrace{
			Depth: 0, Caller: addrA, Address: addrB, Kind: tracing.CallKindCall,
			Value: big.NewInt(0), Status: tracing.CallStatusOk, Success: true,
		})
		a.PushStep(root, tracing.CallTraceStep{PC: 0, Op: byte(vm.PUSH1), Depth: 0})
		a.PushStep(root, tracing.CallTraceStep{PC: 2, Op: byte(vm.CALL), Depth: 0})
		a.PushTrace(root, tracing.PushAndAttachToParent, tracing.CallTrace{
			Depth: 1, Caller: addrB, Address: addrC, Kind: tracing.CallKindCall,
			Value: big.NewInt(0), Status: tracing.CallStatusOk, Success: true,
		})
		a.PushStep(root, tracing.CallTraceStep{PC: 3, Op: byte(vm.STOP), Depth: 0})
	})

	frame := New(nodes).DefaultFrame()
	if len(frame.StructLogs) != 3 {
		t.Fatalf("expected 3 struct logs, got %d", len(frame.StructLogs))
	}
	if frame.StructLogs[0].Op != "PUSH1" || frame.StructLogs[1].Op != "CALL" || frame.StructLogs[2].Op != "STOP" {
		t.Fatalf("unexpected struct log ordering: %+v", frame.StructLogs)
	}
	for _, sl := range frame.StructLogs {
		if sl.Depth != 1 {
			t.Fatalf("expected geth 1-indexed depth, got %d for %+v", sl.Depth, sl)
		}
	}
}

type fakeDB struct {
	accounts map[common.Address]*tracing.AccountInfo
}

func (d *fakeDB) BasicAccount(addr common.Address) (*tracing.AccountInfo, error) {
	return d.accounts[addr], nil
}
func (d *fakeDB) CodeByHash(common.Hash) ([]byte, error)                { return nil, nil }
func (d *fakeDB) StorageAt(common.Address, common.Hash) (common.Hash, error) { return common.Hash{}, nil }
func (d *fakeDB) BlockHash(uint64) (common.Hash, error)                 { return common.Hash{}, nil }

func TestPrestateTracesReadsThroughDatabase(t *testing.T) {
	db := &fakeDB{accounts: map[common.Address]*tracing.AccountInfo{
		addrA: {Nonce: 1, Balance: big.NewInt(100)},
	}}
	frame, err := New(nil).PrestateTraces(db, []common.Address{addrA, addrB})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame[addrA].Nonce != 1 || frame[addrA].Balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected prestate for addrA: %+v", frame[addrA])
	}
	if frame[addrB].Balance == nil || frame[addrB].Balance.Sign() != 0 {
		t.Fatalf("expected zero-value account for unknown addrB, got %+v", frame[addrB])
	}
}

func TestPrestateDiffTracesOnlyReportsChanges(t *testing.T) {
	pre := PrestateFrame{
		addrA: {Balance: big.NewInt(100), Nonce: 0},
		addrB: {Balance: big.NewInt(5), Nonce: 2},
	}
	post := PrestateFrame{
		addrA: {Balance: big.NewInt(90), Nonce: 1},
		addrB: {Balance: big.NewInt(5), Nonce: 2},
		addrC: {Balance: big.NewInt(1), Nonce: 0},
	}
	created := map[common.Address]bool{addrC: true}
	selfDestructed := map[common.Address]bool{}

	diff := New(nil).PrestateDiffTraces(pre, post, created, selfDestructed)

	if _, ok := diff.Pre[addrC]; ok {
		t.Fatalf("expected created account to be dropped from Pre")
	}
	if _, ok := diff.Post[addrB]; ok {
		t.Fatalf("expected unchanged account to be dropped from Post, got %+v", diff.Post[addrB])
	}
	if diff.Post[addrA].Balance.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("expected changed balance 90 for addrA, got %+v", diff.Post[addrA])
	}
	if diff.Post[addrC].Balance.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected created account to appear in Post with full state, got %+v", diff.Post[addrC])
	}
}

func TestPrestateDiffTracesDropsSelfDestructedFromPost(t *testing.T) {
	pre := PrestateFrame{addrA: {Balance: big.NewInt(5)}}
	post := PrestateFrame{addrA: {Balance: big.NewInt(0)}}
	diff := New(nil).PrestateDiffTraces(pre, post, map[common.Address]bool{}, map[common.Address]bool{addrA: true})
	if _, ok := diff.Post[addrA]; ok {
		t.Fatalf("expected self-destructed account to be dropped from Post")
	}
}

func TestErc7562TracesCollectsStorageAndOpcodeAccounting(t *testing.T) {
	nodes := buildArena(t, func(a *tracing.CallTraceArena) {
		root := a.PushTrace(0, tracing.PushAndAttachToParent, tracing.CallTrace{
			Depth: 0, Caller: addrA, Address: addrB, Kind: tracing.CallKindCall,
			Value: big.NewInt(0), Status: tracing.CallStatusOk, Success: true,
		})
		a.PushStep(root, tracing.CallTraceStep{
			Op: byte(vm.SLOAD), Contract: addrB,
			StorageChange: &tracing.StorageChange{Reason: tracing.StorageChangeReasonSLOAD},
		})
		a.PushStep(root, tracing.CallTraceStep{Op: byte(vm.SSTORE), Contract: addrB,
			StorageChange: &tracing.StorageChange{Reason: tracing.StorageChangeReasonSSTORE}})
	})

	codeSizeOf := func(common.Address) (int, error) { return 10, nil }
	frame, err := New(nodes).Erc7562Traces(map[byte]bool{}, codeSizeOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.UsedOpcodes[byte(vm.SLOAD)] != 1 || frame.UsedOpcodes[byte(vm.SSTORE)] != 1 {
		t.Fatalf("expected SLOAD and SSTORE to be tallied, got %+v", frame.UsedOpcodes)
	}
	if len(frame.AccessedSlots.Reads) != 1 {
		t.Fatalf("expected 1 read slot, got %d", len(frame.AccessedSlots.Reads))
	}
	if len(frame.AccessedSlots.Writes) != 1 {
		t.Fatalf("expected 1 write slot, got %d", len(frame.AccessedSlots.Writes))
	}
}

func TestErc7562TracesRespectsIgnoredOpcodes(t *testing.T) {
	nodes := buildArena(t, func(a *tracing.CallTraceArena) {
		root := a.PushTrace(0, tracing.PushAndAttachToParent, tracing.CallTrace{
			Depth: 0, Caller: addrA, Address: addrB, Kind: tracing.CallKindCall,
			Value: big.NewInt(0), Status: tracing.CallStatusOk, Success: true,
		})
		a.PushStep(root, tracing.CallTraceStep{Op: byte(vm.ADD), Contract: addrB})
	})

	frame, err := New(nodes).Erc7562Traces(map[byte]bool{byte(vm.ADD): true}, func(common.Address) (int, error) { return 0, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frame.UsedOpcodes) != 0 {
		t.Fatalf("expected ignored opcode to not be tallied, got %+v", frame.UsedOpcodes)
	}
}

// A precompile call recorded with PushOnly (ExcludePrecompileCalls on) must
// never surface as a child CallFrame of its real parent.
func TestCallFramesSkipsPushOnlyPrecompileCalls(t *testing.T) {
	excluded := true
	nodes := buildArena(t, func(a *tracing.CallTraceArena) {
		root := a.PushTrace(0, tracing.PushAndAttachToParent, tracing.CallTrace{
			Depth: 0, Caller: addrA, Address: addrB, Kind: tracing.CallKindCall,
			Value: big.NewInt(0), Status: tracing.CallStatusOk, Success: true,
		})
		a.PushTrace(root, tracing.PushOnly, tracing.CallTrace{
			Depth: 1, Caller: addrB, Address: addrC, Kind: tracing.CallKindCall,
			Value: big.NewInt(0), Status: tracing.CallStatusOk, Success: true,
			MaybePrecompile: &excluded,
		})
	})

	root := New(nodes).CallFrames(false)
	if len(root.Calls) != 0 {
		t.Fatalf("expected PushOnly precompile call excluded from Calls, got %+v", root.Calls)
	}
}

// Same defect, Erc7562Traces: the excluded node must not appear in either
// the Erc7562Frame tree or its embedded CallFrame tree.
func TestErc7562TracesSkipsPushOnlyPrecompileCalls(t *testing.T) {
	excluded := true
	nodes := buildArena(t, func(a *tracing.CallTraceArena) {
		root := a.PushTrace(0, tracing.PushAndAttachToParent, tracing.CallTrace{
			Depth: 0, Caller: addrA, Address: addrB, Kind: tracing.CallKindCall,
			Value: big.NewInt(0), Status: tracing.CallStatusOk, Success: true,
		})
		a.PushTrace(root, tracing.PushOnly, tracing.CallTrace{
			Depth: 1, Caller: addrB, Address: addrC, Kind: tracing.CallKindCall,
			Value: big.NewInt(0), Status: tracing.CallStatusOk, Success: true,
			MaybePrecompile: &excluded,
		})
	})

	codeSizeOf := func(common.Address) (int, error) { return 0, nil }
	frame, err := New(nodes).Erc7562Traces(map[byte]bool{}, codeSizeOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frame.Calls) != 0 {
		t.Fatalf("expected PushOnly precompile call excluded from Erc7562Frame.Calls, got %+v", frame.Calls)
	}
	if len(frame.CallFrame.Calls) != 0 {
		t.Fatalf("expected PushOnly precompile call excluded from embedded CallFrame.Calls, got %+v", frame.CallFrame.Calls)
	}
}
