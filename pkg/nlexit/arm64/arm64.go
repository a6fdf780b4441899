// Package arm64 names the ARM64 instantiation of the nonlocal-exit
// contract (§4.G). A real implementation saves 12 callee-preserved
// general registers (x19-x30), 8 callee-preserved floating-point
// registers (d8-d15), and the stack pointer — 21 x 8 = 168 bytes — in
// a small assembly source whose body is an opaque sequence of
// pre-assembled machine-code words, because the bundled compiler's own
// ARM64 assembler is a stub (§9). This package cannot contain that
// assembly (no cgo, no raw machine code execution in this module); it
// re-exports pkg/nlexit's goroutine-based simulation under the same
// Save/Restore names so call sites and tests read identically to what
// a real ARM64 binding would expose.
package arm64

import "github.com/levkropp/survival/pkg/nlexit"

// RegisterSaveAreaBytes is the real ARM64 layout's size: 12 general
// registers + 8 FP registers + the stack pointer, each 8 bytes.
const RegisterSaveAreaBytes = (12 + 8 + 1) * 8

// Save runs body under ctx, simulating the ARM64 save routine's
// direct/nonlocal return contract. See pkg/nlexit.Context.Save.
func Save(ctx *nlexit.Context, body func() int) (direct bool, value int) {
	return ctx.Save(body)
}

// Restore performs the simulated nonlocal jump. See
// pkg/nlexit.Context.Restore.
func Restore(ctx *nlexit.Context, code int) {
	ctx.Restore(code)
}
