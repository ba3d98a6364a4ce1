package js

import (
	"math/big"

	"github.com/dop251/goja"
	"github.com/ethereum/go-ethereum/common"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/flashbots/inspectors-go/tracing"
)

// newStepLogObj builds the "log" argument passed to step(log, db)/fault.
// Stack and memory are exposed as lazily-indexable objects (stackRef,
// memoryRef) rather than copied arrays, matching geth's jsTracer contract
// where scripts rarely touch more than a couple of stack slots per step.
func newStepLogObj(vm_ *goja.Runtime, pc uint64, op byte, gas, cost uint64, depth int, scope gethtracing.OpContext, rData []byte) *goja.Object {
	obj := vm_.NewObject()
	obj.Set("getPC", func() uint64 { return pc })
	obj.Set("getOpcode", func() string { return vm.OpCode(op).String() })
	obj.Set("getGas", func() uint64 { return gas })
	obj.Set("getCost", func() uint64 { return cost })
	obj.Set("getDepth", func() int { return depth })
	obj.Set("getRefund", func() uint64 { return 0 })
	obj.Set("getError", func() goja.Value { return goja.Undefined() })

	obj.Set("stack", newStackRef(vm_, scope))
	obj.Set("memory", newMemoryRef(vm_, scope))
	obj.Set("contract", newContractObj(vm_, scope))
	obj.Set("getReturnData", func() []byte { return rData })
	return obj
}

// newStackRef exposes the EVM stack by index, 0 being the top item, to
// match geth's js stackObject.peek(idx) convention.
func newStackRef(vm_ *goja.Runtime, scope gethtracing.OpContext) *goja.Object {
	obj := vm_.NewObject()
	obj.Set("peek", func(idx int) *big.Int {
		if scope == nil {
			return new(big.Int)
		}
		data := scope.StackData()
		pos := len(data) - 1 - idx
		if pos < 0 || pos >= len(data) {
			return new(big.Int)
		}
		return data[pos].ToBig()
	})
	obj.Set("length", func() int {
		if scope == nil {
			return 0
		}
		return len(scope.StackData())
	})
	return obj
}

// newMemoryRef exposes EVM memory by (begin, end) slice.
func newMemoryRef(vm_ *goja.Runtime, scope gethtracing.OpContext) *goja.Object {
	obj := vm_.NewObject()
	obj.Set("slice", func(begin, end int) []byte {
		if scope == nil {
			return nil
		}
		data := scope.MemoryData()
		if begin < 0 || end > len(data) || begin > end {
			return nil
		}
		return append([]byte(nil), data[begin:end]...)
	})
	obj.Set("length", func() int {
		if scope == nil {
			return 0
		}
		return len(scope.MemoryData())
	})
	return obj
}

func newContractObj(vm_ *goja.Runtime, scope gethtracing.OpContext) *goja.Object {
	obj := vm_.NewObject()
	if scope == nil {
		return obj
	}
	obj.Set("getCaller", func() []byte { return scope.Caller().Bytes() })
	obj.Set("getAddress", func() []byte { return scope.Address().Bytes() })
	obj.Set("getValue", func() *big.Int {
		if v := scope.CallValue(); v != nil {
			return v.ToBig()
		}
		return new(big.Int)
	})
	obj.Set("getInput", func() []byte { return scope.CallInput() })
	return obj
}

// newCallFrameObj builds the argument passed to enter(frame).
func newCallFrameObj(vm_ *goja.Runtime, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) *goja.Object {
	obj := vm_.NewObject()
	obj.Set("getType", func() string {
		if typ == selfDestructType {
			return "SELFDESTRUCT"
		}
		return vm.OpCode(typ).String()
	})
	obj.Set("getFrom", func() []byte { return from.Bytes() })
	obj.Set("getTo", func() []byte { return to.Bytes() })
	obj.Set("getInput", func() []byte { return input })
	obj.Set("getGas", func() uint64 { return gas })
	obj.Set("getValue", func() *big.Int {
		if value == nil {
			return new(big.Int)
		}
		return value
	})
	return obj
}

// newFrameResultObj builds the argument passed to exit(res).
func newFrameResultObj(vm_ *goja.Runtime, output []byte, gasUsed uint64, err error, reverted bool) *goja.Object {
	obj := vm_.NewObject()
	obj.Set("getGasUsed", func() uint64 { return gasUsed })
	obj.Set("getOutput", func() []byte { return output })
	obj.Set("getError", func() goja.Value {
		switch {
		case reverted:
			return vm_.ToValue("execution reverted")
		case err != nil:
			return vm_.ToValue(err.Error())
		default:
			return goja.Undefined()
		}
	})
	return obj
}

// newDatabaseObj builds the "db" argument passed to step/fault/result,
// backed by a tracing.Database read-through.
func newDatabaseObj(vm_ *goja.Runtime, db tracing.Database) *goja.Object {
	obj := vm_.NewObject()
	if db == nil {
		return obj
	}
	obj.Set("getBalance", func(addr common.Address) *big.Int {
		acct, err := db.BasicAccount(addr)
		if err != nil || acct == nil {
			return new(big.Int)
		}
		return acct.Balance
	})
	obj.Set("getNonce", func(addr common.Address) uint64 {
		acct, err := db.BasicAccount(addr)
		if err != nil || acct == nil {
			return 0
		}
		return acct.Nonce
	})
	obj.Set("getCode", func(addr common.Address) []byte {
		acct, err := db.BasicAccount(addr)
		if err != nil || acct == nil {
			return nil
		}
		return acct.Code
	})
	obj.Set("getState", func(addr common.Address, slot common.Hash) common.Hash {
		v, err := db.StorageAt(addr, slot)
		if err != nil {
			return common.Hash{}
		}
		return v
	})
	obj.Set("exists", func(addr common.Address) bool {
		acct, err := db.BasicAccount(addr)
		return err == nil && acct != nil
	})
	return obj
}
