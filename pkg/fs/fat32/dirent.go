package fat32

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/levkropp/survival/pkg/firmware"
)

// utf16le (de)codes the wide-character long-filename entries, per §4.D's
// VFAT long-name scheme, which stores names as UTF-16LE code units
// regardless of the printable-ASCII contract the abstract DirEntry
// exposes to callers.
var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// dirEntry is one decoded directory entry (already folded from any
// preceding long-name entries), with enough bookkeeping to locate and
// rewrite it on disk.
type dirEntry struct {
	name    string
	attr    byte
	cluster uint32
	size    uint32
}

// decodeDirEntries walks a directory's raw cluster-chain bytes and
// produces the folded (LFN + short-name) entry list, stopping at the
// first entryEndMarker (0x00) name-byte entry.
func decodeDirEntries(raw []byte) []dirEntry {
	var out []dirEntry
	var lfnParts []string
	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		e := raw[off : off+dirEntrySize]
		if e[0] == entryEndMarker {
			break
		}
		if e[0] == deletedMarker {
			lfnParts = nil
			continue
		}
		attr := e[11]
		if attr == attrLongName {
			part := decodeLFNChunk(e)
			lfnParts = append([]string{part}, lfnParts...)
			continue
		}
		name := ""
		if len(lfnParts) > 0 {
			name = strings.Join(lfnParts, "")
			name = strings.TrimRight(name, "\x00￿")
		} else {
			name = decodeShortName(e)
		}
		lfnParts = nil
		cluster := uint32(binary.LittleEndian.Uint16(e[20:22]))<<16 | uint32(binary.LittleEndian.Uint16(e[26:28]))
		size := binary.LittleEndian.Uint32(e[28:32])
		out = append(out, dirEntry{name: name, attr: attr, cluster: cluster, size: size})
	}
	return out
}

func decodeShortName(e []byte) string {
	base := strings.TrimRight(string(e[0:8]), " ")
	ext := strings.TrimRight(string(e[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// decodeLFNChunk extracts the up-to-13 wide characters from one
// long-name directory entry and decodes them from UTF-16LE, per the
// VFAT long-filename scheme.
func decodeLFNChunk(e []byte) string {
	var raw []byte
	for _, r := range [][2]int{{1, 11}, {14, 26}, {28, 32}} {
		for o := r[0]; o < r[1]; o += 2 {
			u := binary.LittleEndian.Uint16(e[o : o+2])
			if u == 0x0000 || u == 0xFFFF {
				goto decode
			}
			raw = append(raw, e[o], e[o+1])
		}
	}
decode:
	out, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw) // best-effort: fall back to raw bytes
	}
	return string(out)
}

// needsLFN reports whether name cannot be represented as an 8.3 short
// name (i.e. requires the long-filename entries). Short names are stored
// uppercased, so a name with lowercase letters also gets long-filename
// entries to keep its case.
func needsLFN(name string) bool {
	base, ext := splitShort(name)
	if len(base) > 8 || len(ext) > 3 {
		return true
	}
	for _, r := range name {
		if r > 0x7E || r == ' ' || (r >= 'a' && r <= 'z') {
			return true
		}
	}
	return false
}

func splitShort(name string) (base, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// shortNameFor derives an 8.3 short name from an arbitrary long name,
// uppercased: the base is cut to 8 characters, or, when ordinalSuffix is
// positive, cut to make room for a "~N" suffix (6 chars + "~1").
func shortNameFor(name string, ordinalSuffix int) [11]byte {
	base, ext := splitShort(name)
	base = strings.ToUpper(sanitizeShort(base))
	ext = strings.ToUpper(sanitizeShort(ext))
	if len(ext) > 3 {
		ext = ext[:3]
	}
	maxBase := 8
	suffix := ""
	if ordinalSuffix > 0 {
		suffix = "~" + itoaSmall(ordinalSuffix)
		maxBase = 8 - len(suffix)
	}
	if len(base) > maxBase {
		base = base[:maxBase]
	}
	base += suffix

	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[0:8], base)
	copy(out[8:11], ext)
	return out
}

func sanitizeShort(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b = append(b, c)
		case c == '_' || c == '-':
			b = append(b, c)
		}
	}
	return string(b)
}

func itoaSmall(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	return string(rune('0'+n/10)) + string(rune('0'+n%10))
}

// shortNameChecksum is the standard VFAT checksum of the 11-byte short
// name, stored in every preceding long-name entry.
func shortNameChecksum(shortName [11]byte) byte {
	var sum byte
	for _, c := range shortName {
		sum = ((sum & 1) << 7) + (sum >> 1) + c
	}
	return sum
}

// encodeLFNEntries builds the sequence of long-name directory entries
// for name, checksummed against shortName, in ascending ordinal order
// with the LAST_LONG_ENTRY bit set on the final (highest-ordinal) entry;
// the caller reverses them into on-disk order.
func encodeLFNEntries(name string, shortName [11]byte) [][]byte {
	chk := shortNameChecksum(shortName)
	wide, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		wide = []byte(name) // best-effort fallback
	}
	units := make([]uint16, len(wide)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(wide[i*2 : i*2+2])
	}

	const perEntry = 13
	n := (len(units) + perEntry - 1) / perEntry
	if n == 0 {
		n = 1
	}
	entries := make([][]byte, n)
	for i := 0; i < n; i++ {
		e := make([]byte, dirEntrySize)
		ord := byte(i + 1)
		if i == n-1 {
			ord |= 0x40 // LAST_LONG_ENTRY
		}
		e[0] = ord
		e[11] = attrLongName
		e[12] = 0
		e[13] = chk
		chunk := make([]uint16, perEntry)
		for j := range chunk {
			chunk[j] = 0xFFFF
		}
		for j := 0; j < perEntry; j++ {
			idx := i*perEntry + j
			if idx < len(units) {
				chunk[j] = units[idx]
			} else if idx == len(units) {
				chunk[j] = 0x0000
			}
		}
		put := func(off int, v uint16) { binary.LittleEndian.PutUint16(e[off:off+2], v) }
		k := 0
		for o := 1; o < 11; o += 2 {
			put(o, chunk[k])
			k++
		}
		for o := 14; o < 26; o += 2 {
			put(o, chunk[k])
			k++
		}
		for o := 28; o < 32; o += 2 {
			put(o, chunk[k])
			k++
		}
		// Entries are emitted here in ascending ordinal order; callers
		// write them to disk in descending order (highest ordinal
		// first), so reverse at the call site.
		entries[i] = e
	}
	return entries
}

// lookup resolves a path to its directory entry, the byte offset of its
// entry within its parent's raw listing, and the number of 32-byte
// records (LFN + short) it occupies.
func (v *Volume) lookup(path string) (dirEntry, int, int, error) {
	dirCluster, name, err := v.resolveParent(path)
	if err != nil {
		return dirEntry{}, 0, 0, err
	}
	return v.lookupInDir(dirCluster, name)
}

func (v *Volume) lookupInDir(dirCluster uint32, name string) (dirEntry, int, int, error) {
	raw := v.readChain(dirCluster, -1)
	off := 0
	var lfnParts []string
	lfnStart := -1
	for off+dirEntrySize <= len(raw) {
		e := raw[off : off+dirEntrySize]
		if e[0] == entryEndMarker {
			break
		}
		if e[0] == deletedMarker {
			lfnParts, lfnStart = nil, -1
			off += dirEntrySize
			continue
		}
		attr := e[11]
		if attr == attrLongName {
			if lfnStart < 0 {
				lfnStart = off
			}
			lfnParts = append([]string{decodeLFNChunk(e)}, lfnParts...)
			off += dirEntrySize
			continue
		}
		entryName := decodeShortName(e)
		start := off
		if len(lfnParts) > 0 {
			entryName = strings.TrimRight(strings.Join(lfnParts, ""), "\x00￿")
			start = lfnStart
		}
		span := (off - start) + dirEntrySize
		if strings.EqualFold(entryName, name) {
			cluster := uint32(binary.LittleEndian.Uint16(e[20:22]))<<16 | uint32(binary.LittleEndian.Uint16(e[26:28]))
			size := binary.LittleEndian.Uint32(e[28:32])
			return dirEntry{name: entryName, attr: attr, cluster: cluster, size: size}, start, span / dirEntrySize, nil
		}
		lfnParts, lfnStart = nil, -1
		off += dirEntrySize
	}
	return dirEntry{}, 0, 0, firmware.NewError(firmware.NotFound, "lookup")
}

// resolveParent splits path into its parent directory's cluster and the
// final path component.
func (v *Volume) resolveParent(path string) (uint32, string, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return 0, "", firmware.NewError(firmware.BadParameter, "resolve_parent")
	}
	dirCluster := v.bpb.RootCluster
	for _, p := range parts[:len(parts)-1] {
		ent, _, _, err := v.lookupInDir(dirCluster, p)
		if err != nil {
			return 0, "", err
		}
		if ent.attr&attrDirectory == 0 {
			return 0, "", firmware.NewError(firmware.BadParameter, "resolve_parent: not a directory")
		}
		dirCluster = ent.cluster
	}
	return dirCluster, parts[len(parts)-1], nil
}

// resolveDir resolves path to a directory's first cluster.
func (v *Volume) resolveDir(path string) (uint32, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return v.bpb.RootCluster, nil
	}
	dirCluster := v.bpb.RootCluster
	for _, p := range parts {
		ent, _, _, err := v.lookupInDir(dirCluster, p)
		if err != nil {
			return 0, err
		}
		if ent.attr&attrDirectory == 0 {
			return 0, firmware.NewError(firmware.BadParameter, "resolve_dir: not a directory")
		}
		dirCluster = ent.cluster
	}
	return dirCluster, nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// createDirEntry appends a new (LFN* + short) entry sequence at the end
// of dirCluster's listing.
func (v *Volume) createDirEntry(dirCluster uint32, name string, isDir bool, cluster, size uint32) error {
	raw := v.readChain(dirCluster, -1)
	existing := make(map[string]bool)
	for _, e := range decodeDirEntries(raw) {
		existing[strings.ToLower(e.name)] = true
	}
	short := shortNameFor(name, 0)
	ordinal := 1
	for existing[strings.ToLower(string(short[:]))] {
		ordinal++
		short = shortNameFor(name, ordinal)
	}

	var record []byte
	if needsLFN(name) {
		chunks := encodeLFNEntries(name, short)
		for i := len(chunks) - 1; i >= 0; i-- {
			record = append(record, chunks[i]...)
		}
	}
	se := make([]byte, dirEntrySize)
	copy(se[0:11], short[:])
	attr := byte(0)
	if isDir {
		attr = attrDirectory
	}
	se[11] = attr
	binary.LittleEndian.PutUint16(se[20:22], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(se[26:28], uint16(cluster&0xFFFF))
	binary.LittleEndian.PutUint32(se[28:32], size)
	record = append(record, se...)

	// Find the first run of free/deleted/end space large enough, else
	// append (growing the chain).
	insertOff := findInsertOffset(raw, len(record))
	if insertOff < 0 {
		insertOff = len(raw)
		raw = append(raw, make([]byte, len(record))...)
	}
	copy(raw[insertOff:insertOff+len(record)], record)
	_, err := v.writeChain(dirCluster, raw)
	return err
}

func findInsertOffset(raw []byte, need int) int {
	run := 0
	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		if raw[off] == entryEndMarker || raw[off] == deletedMarker {
			run += dirEntrySize
			if run >= need {
				return off - run + dirEntrySize
			}
		} else {
			run = 0
		}
	}
	return -1
}

// patchDirEntrySizeCluster rewrites only the size/cluster fields of an
// existing short-name entry in place, matching §4.D's rename algorithm
// ("update the info's size field to the new total before re-submitting")
// applied to an overwrite rather than a rename. startOff/span are the
// values lookupInDir returned: the short entry is always the last
// 32-byte record of that span.
func (v *Volume) patchDirEntrySizeCluster(dirCluster uint32, startOff, span int, size, cluster uint32) error {
	raw := v.readChain(dirCluster, -1)
	shortOff := startOff + (span-1)*dirEntrySize
	if shortOff+dirEntrySize > len(raw) {
		return firmware.NewError(firmware.DeviceError, "patch_dir_entry")
	}
	e := raw[shortOff : shortOff+dirEntrySize]
	binary.LittleEndian.PutUint16(e[20:22], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(e[26:28], uint16(cluster&0xFFFF))
	binary.LittleEndian.PutUint32(e[28:32], size)
	_, err := v.writeChain(dirCluster, raw)
	return err
}

// deleteDirEntryRange marks span consecutive 32-byte records starting at
// startOff as deleted (0xE5), per FAT convention; the space is reclaimed
// by future createDirEntry calls via findInsertOffset.
func (v *Volume) deleteDirEntryRange(dirCluster uint32, startOff, span int) {
	raw := v.readChain(dirCluster, -1)
	for i := 0; i < span; i++ {
		off := startOff + i*dirEntrySize
		if off+dirEntrySize <= len(raw) {
			raw[off] = deletedMarker
		}
	}
	v.writeChain(dirCluster, raw)
}
