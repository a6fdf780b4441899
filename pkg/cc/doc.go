// Package cc implements the bundled C compiler core (§4.H): a
// preprocessor, recursive-descent parser, and code generator for the C
// subset the workstation's own run_source and self-rebuild paths
// exercise (integer and pointer arithmetic, if/while/for/return,
// function definitions and calls, #include/#define object-like macros,
// string/character literals), plus a firmware-binary-format output path
// (pkg/cc/link) and the per-architecture backends (pkg/cc/amd64,
// pkg/cc/arm64).
//
// Simulation boundary. A real bundled compiler emits native machine
// code into executable memory and transfers control to it directly;
// this module cannot do that for its MEMORY output kind without cgo or
// raw assembly, neither of which is available here (§9's note on
// nonlocal exit applies equally to code generation). Compile therefore
// produces a Program whose Lookup resolves a function name to a Go
// closure that tree-walks the parsed AST — the same "reproduce the
// observable contract without the hardware mechanism" substitution
// pkg/nlexit documents for setjmp/longjmp. External references (the
// workstation API, pkg/libc) are Go functions registered through
// Compiler.RegisterSymbol rather than linked machine-code calls; Compile's
// pointer values are Go byte slices, exactly as pkg/memalloc's
// Allocation is a slice rather than a raw address. Arithmetic, control
// flow, diagnostics, and the exit_code/nonlocal-exit handshake (§4.J)
// are real and observable; only the "native instructions in an
// executable page" step is simulated for MEMORY output.
//
// The FIRMWARE_BINARY output kind (used only by pkg/rebuild, and never
// executed by this module — the resulting image is written to a volume
// for a real bootloader to load) is exempt from that substitution on
// x86_64: pkg/cc/amd64 emits genuine x86-64 machine code for the
// subset its register-based code generator supports, matching spec's
// "x86 functional". pkg/cc/arm64 remains a stub per spec, always
// emitting the indirect GOT-relative addressing pattern that pkg/cc/
// relax exists to relax away.
package cc
