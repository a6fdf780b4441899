// Package libc reproduces the subset of the standard C runtime needed by
// the bundled compiler (pkg/cc) and the code it compiles: memory and
// string primitives, integer and (minimal) floating-point literal
// parsing, formatted output, an in-memory file-descriptor table backed
// by pkg/fs, and the exit/abort nonlocal-exit bridge (pkg/nlexit).
//
// Every entry point here is consumed by generated code through the
// symbol registry (pkg/cc.Compiler.RegisterSymbol), never via cgo — each function is
// an ordinary Go function value whose name is registered under its C
// name, and pkg/cc's execution path (the documented simulation boundary
// described in pkg/nlexit) calls it directly rather than through a raw
// machine-code call instruction.
package libc

import (
	"sync"

	"github.com/levkropp/survival/pkg/fs"
	"github.com/levkropp/survival/pkg/memalloc"
	"github.com/levkropp/survival/pkg/nlexit"
)

// Shim bundles every libc entry point behind one receiver so a single
// instance can be registered into a compilation's symbol table (§4.J
// step 3) and torn down with the compilation. One Shim is created per
// run_source invocation; it is not safe for concurrent compilations to
// share one instance because the fd table and exit context are
// per-session state (§5's single-thread-of-execution model).
type Shim struct {
	Alloc *memalloc.Allocator
	Sink  *OutputSink

	// ExitCtx is armed by pkg/runner before invoking user code, per
	// §4.J step 7. Exit/Abort/underscore-Exit perform the nonlocal jump
	// through it when armed.
	ExitCtx *nlexit.Context

	volume fs.Volume

	mu   sync.Mutex
	fds  map[int32]*fdSlot
	next int32
}

// fdSlot is one in-memory file-descriptor table entry (§4.F "File
// descriptors"): the full file content plus a read position.
type fdSlot struct {
	data []byte
	pos  int
}

// reservedFDs mirrors §4.F: descriptors 0/1/2 are reserved for the
// standard streams. stdin is unused (no interactive fd-level input in
// this model); stdout/stderr route to Sink instead of occupying a slot.
const (
	FDStdin  int32 = 0
	FDStdout int32 = 1
	FDStderr int32 = 2
	firstFD  int32 = 3
)

// New returns a Shim ready for registration into a compilation's symbol
// table. alloc backs Malloc/Free/Realloc/Calloc; volume backs Open's
// "read the full file via the filesystem facade" step; sink receives
// Write(1|2, ...) and every formatted-output call.
func New(alloc *memalloc.Allocator, volume fs.Volume, sink *OutputSink) *Shim {
	return &Shim{
		Alloc:  alloc,
		Sink:   sink,
		fds:    make(map[int32]*fdSlot),
		next:   firstFD,
		volume: volume,
	}
}
