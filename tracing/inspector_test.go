package tracing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// fakeScope is a minimal gethtracing.OpContext for tests that don't care
// about stack/memory contents, only that the inspector doesn't panic
// reaching for them.
type fakeScope struct{}

func (fakeScope) MemoryData() []byte            { return nil }
func (fakeScope) StackData() []uint256.Int       { return nil }
func (fakeScope) Caller() common.Address         { return common.Address{} }
func (fakeScope) Address() common.Address        { return common.Address{} }
func (fakeScope) CallValue() *uint256.Int        { return uint256.NewInt(0) }
func (fakeScope) CallInput() []byte              { return nil }
func (fakeScope) ContractCode() []byte           { return nil }

func TestInspectorRecordsNestedCall(t *testing.T) {
	ins := NewInspector(DefaultConfig())
	hooks := ins.Hooks()

	caller := common.HexToAddress("0x1111111111111111111111111111111111111111")
	callee := common.HexToAddress("0x2222222222222222222222222222222222222222")
	inner := common.HexToAddress("0x3333333333333333333333333333333333333333")

	hooks.OnEnter(0, byte(vm.CALL), caller, callee, []byte{0xaa}, 100000, big.NewInt(5))
	hooks.OnEnter(1, byte(vm.STATICCALL), callee, inner, nil, 5000, nil)
	hooks.OnExit(1, []byte{0x01}, 1000, nil, false)
	hooks.OnExit(0, []byte{0x02}, 2000, nil, false)

	nodes := ins.Arena().Nodes()
	// A depth-0 trace overwrites the sentinel at index 0 rather than
	// appending, so this recording is exactly 2 nodes: root, child.
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}

	root := &nodes[0]
	if root.Trace.Kind != CallKindCall {
		t.Fatalf("expected root kind CALL, got %v", root.Trace.Kind)
	}
	if root.Trace.Value.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected root value 5, got %s", root.Trace.Value)
	}
	if !root.Trace.Success || root.Trace.Status != CallStatusOk {
		t.Fatalf("expected root to succeed, got status %v success %v", root.Trace.Status, root.Trace.Success)
	}
	if len(root.Children) != 1 || root.Children[0] != 1 {
		t.Fatalf("expected root's only child to be node 1, got %v", root.Children)
	}

	child := &nodes[1]
	if child.Trace.Kind != CallKindStaticCall {
		t.Fatalf("expected child kind STATICCALL, got %v", child.Trace.Kind)
	}
	if child.Trace.Value.Sign() != 0 {
		t.Fatalf("expected STATICCALL value to be zero, got %s", child.Trace.Value)
	}
}

func TestInspectorSelfDestructViaBalanceChange(t *testing.T) {
	ins := NewInspector(DefaultConfig())
	hooks := ins.Hooks()

	target := common.HexToAddress("0x1111111111111111111111111111111111111111")
	refund := common.HexToAddress("0x2222222222222222222222222222222222222222")

	hooks.OnEnter(0, byte(vm.CALL), refund, target, nil, 100000, big.NewInt(0))
	hooks.OnBalanceChange(target, big.NewInt(10), big.NewInt(0), gethtracing.BalanceDecreaseSelfdestruct)
	hooks.OnBalanceChange(refund, big.NewInt(0), big.NewInt(10), gethtracing.BalanceIncreaseSelfdestruct)
	hooks.OnExit(0, nil, 100, nil, false)

	node := ins.Arena().Nodes()[0]
	if !node.Trace.SelfDestructed {
		t.Fatal("expected frame to be marked self-destructed")
	}
	if node.Trace.SelfDestructAddress != target {
		t.Fatalf("expected self-destruct address %s, got %s", target, node.Trace.SelfDestructAddress)
	}
	if node.Trace.SelfDestructRefundTarget != refund {
		t.Fatalf("expected refund target %s, got %s", refund, node.Trace.SelfDestructRefundTarget)
	}
	if node.Trace.SelfDestructTransferredValue.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected transferred value 10, got %s", node.Trace.SelfDestructTransferredValue)
	}
}

func TestInspectorResetClearsState(t *testing.T) {
	ins := NewInspector(DefaultConfig())
	hooks := ins.Hooks()
	hooks.OnEnter(0, byte(vm.CALL), common.Address{}, common.Address{}, nil, 0, nil)
	ins.Reset()
	if len(ins.Arena().Nodes()) != 1 {
		t.Fatalf("expected Reset to leave only the sentinel, got %d", len(ins.Arena().Nodes()))
	}
}

func TestOpcodeFilterExcludesUnlistedOpcodes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecordSteps = true
	filter := OpcodeFilter{}
	filter.Enable(vm.ADD)
	cfg.RecordOpcodesFilter = &filter

	ins := NewInspector(cfg)
	hooks := ins.Hooks()
	hooks.OnEnter(0, byte(vm.CALL), common.Address{}, common.Address{}, nil, 0, nil)
	hooks.OnOpcode(0, byte(vm.ADD), 100, 3, fakeScope{}, nil, 0, nil)
	hooks.OnOpcode(1, byte(vm.MUL), 97, 5, fakeScope{}, nil, 0, nil)

	steps := ins.Arena().Nodes()[0].Trace.Steps
	if len(steps) != 1 {
		t.Fatalf("expected only ADD to pass the filter, got %d steps", len(steps))
	}
	if vm.OpCode(steps[0].Op) != vm.ADD {
		t.Fatalf("expected recorded step to be ADD, got %v", vm.OpCode(steps[0].Op))
	}
}
