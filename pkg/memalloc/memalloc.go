// Package memalloc implements the workstation's general-purpose
// allocator, a thin size-tracking layer atop the firmware pool
// allocator (pkg/firmware.Services.Allocate/Free), plus a disjoint
// executable-memory allocator for in-memory code execution (pkg/cc,
// pkg/runner).
package memalloc

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/levkropp/survival/pkg/firmware"
)

// headerSize is the size in bytes of the allocation header prefixing
// every allocation: 8 bytes size, 8 bytes magic.
const headerSize = 16

// validMagic distinguishes a valid allocation header from a wild
// pointer or an already-freed block (magic is zeroed by Free).
const validMagic uint64 = 0xA110CA7E

// Allocator is the general-purpose allocator described in §4.E. It is
// safe for concurrent use.
//
// Go slices carry no backward pointer arithmetic, so unlike the C
// pointer this component mirrors, Allocate cannot simply return
// `raw[headerSize:]` and later recover `raw` from an arbitrary slice
// header. Allocator instead keeps a side table from the address of an
// allocation's first byte to its raw (header-included) block; this
// preserves the externally-observable contract spec.md describes
// (header magic readable/writable just before the returned data,
// Free/Reallocate working from the data pointer alone) without resorting
// to unsafe pointer arithmetic.
type Allocator struct {
	fw firmware.Services

	mu     sync.Mutex
	blocks map[*byte][]byte // data[0] address -> raw block (header+data)

	live  int64
	bytes int64
}

// New returns an Allocator backed by fw.
func New(fw firmware.Services) *Allocator {
	return &Allocator{fw: fw, blocks: make(map[*byte][]byte)}
}

// Allocate reserves n bytes and returns a slice of exactly that length.
// Internally it requests n+16 bytes from firmware and writes a
// (size, magic) header immediately before the returned data, exactly as
// §4.E describes. Returns nil if firmware allocation fails.
func (a *Allocator) Allocate(n int) []byte {
	if n < 0 {
		return nil
	}
	raw := a.fw.Allocate(n + headerSize)
	if raw == nil {
		return nil
	}
	binary.LittleEndian.PutUint64(raw[0:8], uint64(n))
	binary.LittleEndian.PutUint64(raw[8:16], validMagic)
	data := raw[headerSize : headerSize+n : headerSize+n]

	a.mu.Lock()
	if n > 0 {
		a.blocks[&data[0]] = raw
	}
	a.mu.Unlock()

	atomic.AddInt64(&a.live, 1)
	atomic.AddInt64(&a.bytes, int64(n))
	return data
}

// AllocateCalloc allocates m*n bytes, zeroed. The firmware pool backing
// Allocate is zero-initialized, so no additional zeroing is required.
func (a *Allocator) AllocateCalloc(m, n int) []byte {
	return a.Allocate(m * n)
}

func (a *Allocator) rawBlock(p []byte) []byte {
	if len(p) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocks[&p[0]]
}

// HeaderMagicValid reports whether p currently carries a valid,
// unfree'd allocation header. Exercised directly by Testable Property 1.
func (a *Allocator) HeaderMagicValid(p []byte) bool {
	raw := a.rawBlock(p)
	if raw == nil {
		return false
	}
	return binary.LittleEndian.Uint64(raw[8:16]) == validMagic
}

// Free releases an allocation obtained from Allocate. Per §4.E and
// Testable Property 1: checks the header magic, zeroes it, releases to
// firmware; tolerates nil; a pointer whose header magic does not match
// is a no-op (no crash, no firmware call).
func (a *Allocator) Free(p []byte) {
	if p == nil {
		return
	}
	raw := a.rawBlock(p)
	if raw == nil {
		return
	}
	if binary.LittleEndian.Uint64(raw[8:16]) != validMagic {
		return
	}
	binary.LittleEndian.PutUint64(raw[8:16], 0)
	n := binary.LittleEndian.Uint64(raw[0:8])

	a.mu.Lock()
	delete(a.blocks, &p[0])
	a.mu.Unlock()

	atomic.AddInt64(&a.live, -1)
	atomic.AddInt64(&a.bytes, -int64(n))
	a.fw.Free(raw)
}

// Reallocate resizes an allocation. If n <= the original size, p is
// returned unchanged (no shrink, per §4.E). Otherwise a new allocation is
// made, min(oldSize, n) bytes are copied, and the old allocation is
// freed. Preserves min(oldSize, n) bytes of content, per Testable
// Property 2.
func (a *Allocator) Reallocate(p []byte, n int) []byte {
	if p == nil {
		return a.Allocate(n)
	}
	raw := a.rawBlock(p)
	if raw == nil || binary.LittleEndian.Uint64(raw[8:16]) != validMagic {
		return a.Allocate(n)
	}
	oldSize := int(binary.LittleEndian.Uint64(raw[0:8]))
	if n <= oldSize {
		return p
	}
	newP := a.Allocate(n)
	if newP == nil {
		return nil
	}
	copy(newP, p[:oldSize])
	a.Free(p)
	return newP
}

// Stats reports the allocator's current bookkeeping, for leak-checking
// in tests.
type Stats struct {
	LiveAllocations int64
	LiveBytes       int64
}

// Stats returns the allocator's current bookkeeping.
func (a *Allocator) Stats() Stats {
	return Stats{
		LiveAllocations: atomic.LoadInt64(&a.live),
		LiveBytes:       atomic.LoadInt64(&a.bytes),
	}
}
