// Package js bridges the call-tree inspector to a user-supplied JavaScript
// tracer, the same contract geth's eth/tracers/js package exposes: step,
// fault, enter, exit, result, and an optional setup hook. goja stands in for
// an embedded script engine. The bridge caps the number of opcode callbacks
// (defaultMaxSteps) and the call nesting (defaultMaxRecursion) it forwards to
// the script; loops and recursion inside the script itself are not limited.
package js

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/dop251/goja"
	"github.com/ethereum/go-ethereum/common"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/flashbots/inspectors-go/tracing"
)

// ErrRecursionLimit is recorded when OnEnter nests deeper than
// defaultMaxRecursion; later script calls are skipped, the EVM itself is not
// aborted.
var ErrRecursionLimit = errors.New("js: tracer recursion limit exceeded")

const (
	defaultMaxRecursion = 10000
	defaultMaxSteps     = 200000
)

// ErrStepLimit is raised once a transaction drives more than defaultMaxSteps
// opcode callbacks into the script, guarding against unbounded traces when
// the EVM interpreter itself has no such cap.
var ErrStepLimit = errors.New("js: tracer step limit exceeded")

// TransactionContext is the object exposed to a tracer's result(ctx, db).
type TransactionContext struct {
	BlockHash common.Hash
	TxIndex   int
	TxHash    common.Hash
}

// Inspector drives a JavaScript tracer object through goja, translating
// go-ethereum's Hooks callbacks into calls against the script's step/fault/
// enter/exit/result functions.
type Inspector struct {
	vm  *goja.Runtime
	obj *goja.Object

	fnStep   goja.Callable
	fnFault  goja.Callable
	fnEnter  goja.Callable
	fnExit   goja.Callable
	fnResult goja.Callable
	fnSetup  goja.Callable

	depth int
	steps int

	err error
}

// New compiles code (expected to evaluate to an object literal implementing
// the tracer contract) and wires it to the goja runtime. config, if
// non-nil, is passed to the tracer's optional setup(cfg) hook.
func New(code string, config interface{}) (*Inspector, error) {
	vm := goja.New()
	registerBuiltins(vm)

	val, err := vm.RunString("(" + code + ")")
	if err != nil {
		return nil, errors.Wrap(err, "js: compiling tracer")
	}
	obj := val.ToObject(vm)
	if obj == nil {
		return nil, errors.New("js: tracer must evaluate to an object")
	}

	ins := &Inspector{vm: vm, obj: obj}

	ins.fnStep, _ = goja.AssertFunction(obj.Get("step"))
	ins.fnFault, _ = goja.AssertFunction(obj.Get("fault"))
	ins.fnEnter, _ = goja.AssertFunction(obj.Get("enter"))
	ins.fnExit, _ = goja.AssertFunction(obj.Get("exit"))
	ins.fnResult, _ = goja.AssertFunction(obj.Get("result"))
	ins.fnSetup, _ = goja.AssertFunction(obj.Get("setup"))

	if ins.fnResult == nil {
		return nil, errors.New("js: tracer must define a result(ctx, db) function")
	}

	if ins.fnSetup != nil && config != nil {
		if _, err := ins.fnSetup(obj, vm.ToValue(config)); err != nil {
			return nil, errors.Wrap(err, "js: tracer setup() failed")
		}
	}

	return ins, nil
}

// Hooks adapts the JS tracer to go-ethereum's Hooks vtable. Self-destruct,
// which go-ethereum reports only via a balance-change reason, is surfaced to
// the script as a synthetic enter/exit pair of type "SELFDESTRUCT" even when
// it happens at the root frame, matching geth's own jsTracer behavior.
func (ins *Inspector) Hooks() *gethtracing.Hooks {
	return &gethtracing.Hooks{
		OnEnter:         ins.onEnter,
		OnExit:          ins.onExit,
		OnOpcode:        ins.onOpcode,
		OnBalanceChange: ins.onBalanceChange,
	}
}

func (ins *Inspector) onEnter(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) {
	if ins.err != nil {
		return
	}
	ins.depth++
	if ins.depth > defaultMaxRecursion {
		ins.err = ErrRecursionLimit
		return
	}
	if ins.fnEnter == nil {
		return
	}
	frame := newCallFrameObj(ins.vm, typ, from, to, input, gas, value)
	if _, err := ins.fnEnter(ins.obj, frame); err != nil {
		ins.err = errors.Wrap(err, "js: enter() failed")
	}
}

func (ins *Inspector) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if ins.err != nil {
		return
	}
	ins.depth--
	if ins.fnExit == nil {
		return
	}
	res := newFrameResultObj(ins.vm, output, gasUsed, err, reverted)
	if _, callErr := ins.fnExit(ins.obj, res); callErr != nil {
		ins.err = errors.Wrap(callErr, "js: exit() failed")
	}
}

func (ins *Inspector) onBalanceChange(addr common.Address, prev, newBal *big.Int, reason gethtracing.BalanceChangeReason) {
	if ins.err != nil {
		return
	}
	switch reason {
	case gethtracing.BalanceDecreaseSelfdestruct:
		diff := new(big.Int).Sub(prev, newBal)
		ins.onEnter(ins.depth, selfDestructType, addr, addr, nil, 0, diff)
	case gethtracing.BalanceIncreaseSelfdestruct:
		ins.onExit(ins.depth, nil, 0, nil, false)
	}
}

func (ins *Inspector) onOpcode(pc uint64, op byte, gas, cost uint64, scope gethtracing.OpContext, rData []byte, depth int, vmErr error) {
	if ins.err != nil {
		return
	}
	ins.steps++
	if ins.steps > defaultMaxSteps {
		ins.err = ErrStepLimit
		return
	}
	if vmErr != nil && ins.fnFault != nil {
		log := newStepLogObj(ins.vm, pc, op, gas, cost, depth, scope, rData)
		if _, err := ins.fnFault(ins.obj, log); err != nil {
			ins.err = errors.Wrap(err, "js: fault() failed")
		}
		return
	}
	if ins.fnStep == nil {
		return
	}
	log := newStepLogObj(ins.vm, pc, op, gas, cost, depth, scope, rData)
	if _, err := ins.fnStep(ins.obj, log); err != nil {
		ins.err = errors.Wrap(err, "js: step() failed")
	}
}

// Err returns the first error the script raised, if any.
func (ins *Inspector) Err() error { return ins.err }

// Result invokes the tracer's result(ctx, db) and returns its exported
// value.
func (ins *Inspector) Result(ctx TransactionContext, db tracing.Database) (interface{}, error) {
	if ins.err != nil {
		return nil, ins.err
	}
	ctxObj := ins.vm.NewObject()
	ctxObj.Set("blockHash", ctx.BlockHash.Hex())
	ctxObj.Set("txIndex", ctx.TxIndex)
	ctxObj.Set("txHash", ctx.TxHash.Hex())

	dbObj := newDatabaseObj(ins.vm, db)

	val, err := ins.fnResult(ins.obj, ctxObj, dbObj)
	if err != nil {
		return nil, errors.Wrap(err, "js: result() failed")
	}
	return val.Export(), nil
}

const selfDestructType = 0xff // sentinel typ byte, never a real opcode
