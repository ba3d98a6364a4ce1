// Package transfer extracts every native-value movement from a recorded
// call tree: ordinary value-carrying calls and the balance transfer that
// accompanies a SELFDESTRUCT.
package transfer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flashbots/inspectors-go/tracing"
)

// Kind discriminates how a Transfer happened.
type Kind byte

const (
	KindCall Kind = iota
	KindSelfDestruct
)

// Transfer is one native-value movement, plus the frame depth it occurred
// at so a caller can reconstruct ordering relative to the call tree.
type Transfer struct {
	Kind  Kind
	Depth int
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Collect walks every frame in the arena, the top-level call included, and
// returns every transfer with a strictly positive value, in the order frames
// were recorded (which is preorder-by-entry, matching execution order).
func Collect(nodes []tracing.CallTraceNode) []Transfer {
	var out []Transfer
	for i := range nodes {
		t := &nodes[i].Trace
		if t.Value != nil && t.Value.Sign() > 0 {
			out = append(out, Transfer{
				Kind:  KindCall,
				Depth: t.Depth,
				From:  t.Caller,
				To:    t.Address,
				Value: new(big.Int).Set(t.Value),
			})
		}
		if t.SelfDestructed && t.SelfDestructTransferredValue != nil && t.SelfDestructTransferredValue.Sign() > 0 {
			out = append(out, Transfer{
				Kind:  KindSelfDestruct,
				Depth: t.Depth,
				From:  t.SelfDestructAddress,
				To:    t.SelfDestructRefundTarget,
				Value: new(big.Int).Set(t.SelfDestructTransferredValue),
			})
		}
	}
	return out
}
