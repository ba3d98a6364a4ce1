package js

import (
	"github.com/dop251/goja"
)

// registerBuiltins installs the small prelude geth's jsTracer exposes beyond
// plain ECMAScript: toHex/toWord/toAddress byte-array helpers and a
// placeholder isPrecompiled that a caller wires up via SetPrecompiled before
// execution, since precompile membership depends on the active hardfork and
// isn't known until the inspector is configured.
func registerBuiltins(vm *goja.Runtime) {
	vm.Set("toHex", func(b []byte) string {
		const hextable = "0123456789abcdef"
		out := make([]byte, 2+len(b)*2)
		out[0], out[1] = '0', 'x'
		for i, c := range b {
			out[2+i*2] = hextable[c>>4]
			out[2+i*2+1] = hextable[c&0xf]
		}
		return string(out)
	})

	vm.Set("toWord", func(b []byte) []byte {
		word := make([]byte, 32)
		if len(b) > 32 {
			b = b[len(b)-32:]
		}
		copy(word[32-len(b):], b)
		return word
	})

	vm.Set("toAddress", func(b []byte) []byte {
		addr := make([]byte, 20)
		if len(b) > 20 {
			b = b[len(b)-20:]
		}
		copy(addr[20-len(b):], b)
		return addr
	})

	// isPrecompiled is reassigned by SetPrecompiled once the active
	// hardfork's precompile set is known; until then, nothing is precompiled.
	vm.Set("isPrecompiled", func([]byte) bool { return false })
}

// SetPrecompiled installs the real precompile-membership check, replacing
// the builtin's default false-for-everything stub.
func (ins *Inspector) SetPrecompiled(isPrecompiled func(addr []byte) bool) {
	ins.vm.Set("isPrecompiled", isPrecompiled)
}
