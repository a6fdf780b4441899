// Package bytes provides the small byte/region helpers the storage
// stack shares: half-open ranges for on-disk layout checks
// (pkg/partition) and a fast zero-fill probe (pkg/fs/fat32).
package bytes

import "sort"

// Range is a half-open region [Offset, Offset+Length).
type Range struct {
	Offset uint64
	Length uint64
}

// End returns the exclusive end offset.
func (r Range) End() uint64 { return r.Offset + r.Length }

// Intersects reports whether r and o share at least one offset. An
// empty range intersects nothing.
func (r Range) Intersects(o Range) bool {
	if r.Length == 0 || o.Length == 0 {
		return false
	}
	return r.Offset < o.End() && o.Offset < r.End()
}

// Contains reports whether off lies inside r.
func (r Range) Contains(off uint64) bool {
	return r.Offset <= off && off < r.End()
}

// Ranges is a set of regions.
type Ranges []Range

// Sort orders the set by offset.
func (s Ranges) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].Offset < s[j].Offset })
}

// Overlapping returns the first pair of intersecting regions, or
// (zero, zero, false) when the set is disjoint. The receiver is sorted
// as a side effect.
func (s Ranges) Overlapping() (Range, Range, bool) {
	s.Sort()
	for i := 1; i < len(s); i++ {
		if s[i-1].Intersects(s[i]) {
			return s[i-1], s[i], true
		}
	}
	return Range{}, Range{}, false
}
