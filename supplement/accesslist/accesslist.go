// Package accesslist builds an EIP-2930 access list from a recorded call
// tree: every address touched by a CALL-family frame or an address-typed
// opcode operand, and every storage slot read or written at that address,
// excluding a caller-supplied set of addresses (typically the sender, the
// call's own destination, and the precompiles, none of which gain anything
// from being pre-warmed). Build applies no implicit exclusion of its own;
// callers construct excluded from whatever {from, to, precompiles} set
// fits their request.
package accesslist

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/flashbots/inspectors-go/tracing"
)

// Build collects touched (address, slot) pairs from the arena, in the
// opcode-execution order steps were recorded, skipping any address present
// in excluded.
//
// Storage slots are recorded from every SLOAD and SSTORE alike, peeking the
// slot key off the top of the pre-execution stack rather than relying on
// step.StorageChange (which go-ethereum's OnStorageChange hook only ever
// populates for SSTORE, never SLOAD). Addresses are additionally recorded
// from every EXTCODESIZE/EXTCODECOPY/EXTCODEHASH/BALANCE/SELFDESTRUCT,
// peeking the address operand, on top of every CALL-family frame's own
// target. This requires the arena to have been built with
// tracing.StackSnapshotFull. Matching the grounding source's own asymmetry,
// a storage touch is recorded against its contract unconditionally, even if
// that contract is itself in excluded; only address-touch events (the
// frame's own target and the EXTCODE*/BALANCE/SELFDESTRUCT operand) are
// filtered against excluded.
func Build(nodes []tracing.CallTraceNode, excluded map[common.Address]bool) gethtypes.AccessList {
	slots := map[common.Address]map[common.Hash]bool{}
	order := map[common.Address]int{}
	var addrOrder []common.Address

	register := func(addr common.Address) {
		if _, ok := order[addr]; !ok {
			order[addr] = len(addrOrder)
			addrOrder = append(addrOrder, addr)
			slots[addr] = map[common.Hash]bool{}
		}
	}

	touch := func(addr common.Address) {
		if excluded[addr] {
			return
		}
		register(addr)
	}

	touchSlot := func(addr common.Address, slot common.Hash) {
		register(addr)
		slots[addr][slot] = true
	}

	for i := range nodes {
		n := &nodes[i]
		touch(n.Trace.Address)

		for _, step := range n.Trace.Steps {
			if len(step.Stack) == 0 {
				continue
			}
			top := step.Stack[len(step.Stack)-1]

			switch vm.OpCode(step.Op) {
			case vm.SLOAD, vm.SSTORE:
				touchSlot(step.Contract, common.Hash(top.Bytes32()))
			case vm.EXTCODESIZE, vm.EXTCODECOPY, vm.EXTCODEHASH, vm.BALANCE, vm.SELFDESTRUCT:
				touch(addressFromWord(top))
			}
		}
	}

	out := make(gethtypes.AccessList, 0, len(addrOrder))
	for _, addr := range addrOrder {
		tuple := gethtypes.AccessTuple{Address: addr}
		for key := range slots[addr] {
			tuple.StorageKeys = append(tuple.StorageKeys, key)
		}
		out = append(out, tuple)
	}
	return out
}

// addressFromWord extracts the low 20 bytes of a 256-bit stack word as an
// address, matching how the EVM itself truncates address-typed operands.
func addressFromWord(w uint256.Int) common.Address {
	b := w.Bytes32()
	return common.BytesToAddress(b[12:])
}
