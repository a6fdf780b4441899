package bytes

import "encoding/binary"

// IsZeroFilled reports whether b contains only zero bytes, comparing
// eight bytes at a time over the bulk of the slice. Used by the FAT32
// formatter to skip clearing an already-blank device.
func IsZeroFilled(b []byte) bool {
	for len(b) >= 8 {
		if binary.LittleEndian.Uint64(b) != 0 {
			return false
		}
		b = b[8:]
	}
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
