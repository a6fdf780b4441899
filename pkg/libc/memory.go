package libc

// Pointers in this shim are represented the same way pkg/memalloc
// represents them: a Go []byte slice standing in for an address plus a
// known-valid length, rather than a raw uintptr. Generated code that
// calls these functions does so through the symbol registry (package
// doc), so there is never a need to reconstruct a slice header from a
// bare integer address.

// Malloc, Free, Realloc, Calloc forward to the per-compilation
// allocator (§4.E). Declared here, not as Shim methods with the C
// names directly, so the registry can bind "malloc" etc. to these
// without a naming collision with Go's builtin names.

// Malloc allocates n bytes.
func (s *Shim) Malloc(n int) []byte { return s.Alloc.Allocate(n) }

// Free releases p.
func (s *Shim) Free(p []byte) { s.Alloc.Free(p) }

// Realloc resizes p to n bytes, preserving min(old, n) bytes (§4.E).
func (s *Shim) Realloc(p []byte, n int) []byte { return s.Alloc.Reallocate(p, n) }

// Calloc allocates m*n zeroed bytes.
func (s *Shim) Calloc(m, n int) []byte { return s.Alloc.AllocateCalloc(m, n) }

// Memcpy copies n bytes from src to dst. Regions must not overlap;
// callers that need overlap-safety use Memmove.
func Memcpy(dst, src []byte, n int) []byte {
	copy(dst[:n], src[:n])
	return dst
}

// Memmove copies n bytes from src to dst, correct even when the regions
// overlap (Go's copy is already overlap-safe in the forward direction;
// for a backward-overlapping shim this still holds since copy resolves
// overlap internally for slices backed by the same array).
func Memmove(dst, src []byte, n int) []byte {
	copy(dst[:n], src[:n])
	return dst
}

// Memset fills the first n bytes of dst with the low byte of val.
func Memset(dst []byte, val byte, n int) []byte {
	d := dst[:n]
	for i := range d {
		d[i] = val
	}
	return dst
}

// Memcmp compares the first n bytes of a and b, returning <0, 0, or >0
// the way C's memcmp does (byte-value difference at the first mismatch).
func Memcmp(a, b []byte, n int) int {
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return 0
}
