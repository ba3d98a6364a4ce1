// Package fourbyte counts calldata by its 4-byte selector and size, the way
// geth's fourByteTracer does, without building a full call tree.
package fourbyte

import (
	"fmt"

	"github.com/flashbots/inspectors-go/tracing"
)

// Key identifies one distinct (selector, calldata size) pair.
type Key struct {
	Selector [4]byte
	Size     int
}

// String renders the key as "0xaabbccdd-N", matching geth's fourByteTracer
// JSON key format.
func (k Key) String() string {
	return fmt.Sprintf("0x%x-%d", k.Selector, k.Size)
}

// Counts builds the selector/size histogram from every CALL-family frame in
// the arena, the top-level call included, that carried at least 4 bytes of
// input.
func Counts(nodes []tracing.CallTraceNode) map[string]int {
	out := make(map[string]int)
	for i := range nodes {
		if nodes[i].Trace.Kind.IsCreate() {
			continue // init code, not calldata
		}
		data := nodes[i].Trace.Data
		if len(data) < 4 {
			continue
		}
		var k Key
		copy(k.Selector[:], data[:4])
		k.Size = len(data) - 4
		out[k.String()]++
	}
	return out
}
