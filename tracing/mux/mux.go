// Package mux runs a set of typed tracers over one execution and merges
// their outputs. Despite the name, there is no actual concurrency: the EVM
// drives every hook synchronously and each inner tracer is invoked in
// sequence within that single call (see SPEC_FULL.md §4.6).
package mux

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrUnexpectedConfig is returned when a tracer entry carries config it
// doesn't accept.
var ErrUnexpectedConfig = errors.New("mux: unexpected config for tracer")

// ErrMissingConfig is returned when a tracer entry requires config that was
// not supplied.
var ErrMissingConfig = errors.New("mux: missing required config for tracer")

// ErrInvalidConfig is returned when a tracer entry's config fails to parse.
var ErrInvalidConfig = errors.New("mux: invalid config for tracer")

// Tracer is the minimal contract an inner tracer must satisfy to be
// composed by the mux: it receives hooks and can produce a JSON result once
// the transaction finishes.
type Tracer interface {
	Hooks() *gethtracing.Hooks
	GetResult() (interface{}, error)
}

// Entry pairs a tag (the output key) with the inner tracer it names.
type Entry struct {
	Tag   string
	Inner Tracer
}

// Inspector composes a fixed set of inner tracers and dispatches every hook
// to each of them in order.
type Inspector struct {
	entries []Entry
}

// New constructs an Inspector over the given tagged tracers.
func New(entries []Entry) *Inspector {
	return &Inspector{entries: entries}
}

// Hooks returns a Hooks vtable that fans every callback out to each inner
// tracer's own hooks, in entry order.
func (m *Inspector) Hooks() *gethtracing.Hooks {
	return &gethtracing.Hooks{
		OnTxStart: func(vmctx *gethtracing.VMContext, tx *types.Transaction, from common.Address) {
			for _, e := range m.entries {
				if h := e.Inner.Hooks(); h != nil && h.OnTxStart != nil {
					h.OnTxStart(vmctx, tx, from)
				}
			}
		},
		OnTxEnd: func(receipt *types.Receipt, err error) {
			for _, e := range m.entries {
				if h := e.Inner.Hooks(); h != nil && h.OnTxEnd != nil {
					h.OnTxEnd(receipt, err)
				}
			}
		},
		OnEnter: func(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) {
			// Never short-circuits: every inner is consulted for side
			// effects only, regardless of what it would otherwise return.
			for _, e := range m.entries {
				if h := e.Inner.Hooks(); h != nil && h.OnEnter != nil {
					h.OnEnter(depth, typ, from, to, input, gas, value)
				}
			}
		},
		OnExit: func(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
			// The outcome is threaded through every inner sequentially; each
			// may observe it, none can veto it for another.
			for _, e := range m.entries {
				if h := e.Inner.Hooks(); h != nil && h.OnExit != nil {
					h.OnExit(depth, output, gasUsed, err, reverted)
				}
			}
		},
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope gethtracing.OpContext, rData []byte, depth int, err error) {
			for _, e := range m.entries {
				if h := e.Inner.Hooks(); h != nil && h.OnOpcode != nil {
					h.OnOpcode(pc, op, gas, cost, scope, rData, depth, err)
				}
			}
		},
		OnLog: func(log *types.Log) {
			for _, e := range m.entries {
				if h := e.Inner.Hooks(); h != nil && h.OnLog != nil {
					h.OnLog(log)
				}
			}
		},
		OnStorageChange: func(addr common.Address, slot common.Hash, prev, new common.Hash) {
			for _, e := range m.entries {
				if h := e.Inner.Hooks(); h != nil && h.OnStorageChange != nil {
					h.OnStorageChange(addr, slot, prev, new)
				}
			}
		},
		OnBalanceChange: func(addr common.Address, prev, newBal *big.Int, reason gethtracing.BalanceChangeReason) {
			for _, e := range m.entries {
				if h := e.Inner.Hooks(); h != nil && h.OnBalanceChange != nil {
					h.OnBalanceChange(addr, prev, newBal, reason)
				}
			}
		},
	}
}

// GetResult asks each inner tracer to build its frame and returns a map
// keyed by tag, matching the mux's public output shape.
func (m *Inspector) GetResult() (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m.entries))
	for _, e := range m.entries {
		res, err := e.Inner.GetResult()
		if err != nil {
			return nil, errors.Wrapf(err, "mux: building result for %q", e.Tag)
		}
		out[e.Tag] = res
	}
	return out, nil
}
