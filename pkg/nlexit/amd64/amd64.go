// Package amd64 names the x86_64 instantiation of the nonlocal-exit
// contract (§4.G). Per §9's open question, the exact x86_64 assembly is
// not reproduced here from an observed source tree; its register set is
// instead derived from the System V AMD64 ABI's own callee-preserved
// set (rbx, rbp, r12-r15) plus the stack pointer and return address,
// rather than guessed — 8 slots, 8 bytes each. As with
// pkg/nlexit/arm64, the actual save/restore behavior in this module is
// the goroutine-based simulation defined in pkg/nlexit; this package
// re-exports it under the architecture's own name.
package amd64

import "github.com/levkropp/survival/pkg/nlexit"

// RegisterSaveAreaBytes is the System V AMD64 callee-preserved set
// (rbx, rbp, r12, r13, r14, r15) plus the stack pointer and the return
// address: 8 x 8 bytes.
const RegisterSaveAreaBytes = 8 * 8

// Save runs body under ctx, simulating the x86_64 save routine's
// direct/nonlocal return contract. See pkg/nlexit.Context.Save.
func Save(ctx *nlexit.Context, body func() int) (direct bool, value int) {
	return ctx.Save(body)
}

// Restore performs the simulated nonlocal jump. See
// pkg/nlexit.Context.Restore.
func Restore(ctx *nlexit.Context, code int) {
	ctx.Restore(code)
}
