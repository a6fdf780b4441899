// Package fs defines the generic volume facade (§4.D) that every
// on-disk format driver (fat32, exfat, ntfs, iso9660) implements:
// readfile/writefile/readdir/rename/volume_info/file_size, plus the
// directory-listing ordering invariant shared by all of them.
package fs

import (
	"sort"
	"strings"

	"github.com/levkropp/survival/pkg/firmware"
)

// DirEntry is the abstract directory entry (§3): name, size, is-directory
// flag. Name is whatever the driver decodes: drivers that read UTF-16
// names (fat32, exfat, ntfs) decode them to UTF-8 as-is, so Name is not
// limited to printable ASCII or to 127 bytes.
type DirEntry struct {
	Name  string
	Size  uint64
	IsDir bool
}

// SortEntries orders entries per §3/§4.D and Testable Property 10:
// directories first, then files, both groups case-insensitive
// alphabetical by name.
func SortEntries(entries []DirEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir // directories sort first
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
}

// VolumeInfo reports aggregate capacity, per §4.D's volume_info.
type VolumeInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// Volume is the common facade every filesystem driver implements. A
// read-only driver (ntfs) returns AccessDenied from WriteFile and
// Rename, per §4.D "mutation operations return a read-only-volume
// error."
type Volume interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	ReadDir(path string) ([]DirEntry, error)
	Rename(oldPath, newPath string) error
	FileSize(path string) (uint64, error)
	VolumeInfo() (VolumeInfo, error)
	Close() error
}

// DirMaker is implemented by writable volumes that can create
// directories (fat32). Callers that need a parent directory before a
// WriteFile probe for it with a type assertion; read-only drivers
// simply don't implement it.
type DirMaker interface {
	MkdirAll(path string) error
}

// ErrReadOnly is the error every write-path method of a read-only driver
// returns.
var ErrReadOnly = firmware.NewError(firmware.AccessDenied, "volume is read-only")

// ResolveNameConflict implements §4.D's FAT32 "long filename conflict
// resolution on paste" rule, generalized for reuse by any driver that
// pastes/copies files into a directory whose listing it already has:
// if name exists among existing, try base_N.ext for N=2..99 (splitting
// on the last dot); names without an extension append _N instead. It
// returns name unchanged if there is no conflict, and the original name
// if all 98 alternatives are also taken (extremely unlikely; callers may
// treat that as AccessDenied).
func ResolveNameConflict(name string, existing map[string]bool) string {
	if !existing[strings.ToLower(name)] {
		return name
	}
	base, ext := splitExt(name)
	for n := 2; n <= 99; n++ {
		var candidate string
		if ext != "" {
			candidate = base + "_" + itoa(n) + ext
		} else {
			candidate = base + "_" + itoa(n)
		}
		if !existing[strings.ToLower(candidate)] {
			return candidate
		}
	}
	return name
}

func splitExt(name string) (base, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [3]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}
