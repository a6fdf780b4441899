// Package fat32 implements the FAT32 filesystem driver (§4.D): full
// read, write, and format support, dynamic cluster sizing at format
// time, the has_valid_fat32 stale-driver probe, streaming writes via
// on-demand FAT-chain allocation, and rename via filename-field
// mutation. Name-conflict resolution on paste is fs.ResolveNameConflict;
// this package does not call it.
package fat32

import (
	"encoding/binary"
	"strings"

	"github.com/levkropp/survival/pkg/bytes"
	"github.com/levkropp/survival/pkg/firmware"
	"github.com/levkropp/survival/pkg/fs"
)

const (
	sectorSize = 512

	// minDataClusters is the threshold below which firmware FAT drivers
	// reject a volume as FAT16 instead of FAT32 (§3 BPB invariant,
	// Testable Property 4).
	minDataClusters = 65525

	rootCluster    = 2
	fatCount       = 2
	dirEntrySize   = 32
	freeCluster    = 0x00000000
	badCluster     = 0x0FFFFFF7
	eocMin         = 0x0FFFFFF8 // end-of-chain marker range start
	clusterMask    = 0x0FFFFFFF
	attrDirectory  = 0x10
	attrLongName   = 0x0F
	attrVolumeID   = 0x08
	deletedMarker  = 0xE5
	entryEndMarker = 0x00
)

// Device is the sector-addressable backing store this driver operates
// on: a raw byte region, exactly as simfw's Disk/pkg/blockdev present a
// device for the simulated entry point. A real binding would implement
// this atop firmware.BlockIO; in this module every filesystem driver is
// exercised directly against an in-memory image for testability, which
// is why Device is `[]byte`-shaped rather than LBA-call-shaped.
type Device = []byte

// BPB is the on-disk FAT32 BIOS Parameter Block (§3).
type BPB struct {
	BytesPerSector   uint16
	SectorsPerClust  uint8
	ReservedSectors  uint16
	NumFATs          uint8
	TotalSectors32   uint32
	SectorsPerFAT32  uint32
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
}

// chooseSectorsPerCluster implements §4.D's dynamic cluster sizing:
// "start with 8 sectors/cluster; halve until data-cluster count exceeds
// 65,525". It never halves below 1.
func chooseSectorsPerCluster(totalSectors, reservedSectors uint32) uint8 {
	for spc := uint32(8); spc >= 1; spc /= 2 {
		fatEntriesPerSector := uint32(sectorSize / 4)
		// Estimate FAT size first, then data clusters, iterating once
		// since FAT size depends on data-cluster count which depends on
		// FAT size; a single refinement pass is sufficient for the
		// disk sizes this module targets (spec.md Testable Property 4:
		// 64MiB..4GiB).
		dataSectors := totalSectors - reservedSectors
		clusters := dataSectors / spc
		fatSectors := (clusters + 2 + fatEntriesPerSector - 1) / fatEntriesPerSector
		dataSectors = totalSectors - reservedSectors - fatSectors*fatCount
		clusters = dataSectors / spc
		if clusters > minDataClusters {
			return uint8(spc)
		}
		if spc == 1 {
			return 1
		}
	}
	return 1
}

// Format writes a fresh FAT32 superfloppy layout to dev, sized to
// len(dev) bytes, per §4.D and §3's BPB invariant (Testable Property 9:
// HasValidFAT32 must report true immediately afterward).
func Format(dev Device, volumeLabel string) error {
	totalSectors := uint32(len(dev) / sectorSize)
	if totalSectors < 2048 {
		return firmware.NewError(firmware.BadParameter, "format")
	}
	const reservedSectors = 32
	spc := chooseSectorsPerCluster(totalSectors, reservedSectors)

	fatEntriesPerSector := uint32(sectorSize / 4)
	dataSectors := totalSectors - reservedSectors
	clusters := dataSectors / uint32(spc)
	fatSectors := (clusters + 2 + fatEntriesPerSector - 1) / fatEntriesPerSector
	dataSectors = totalSectors - reservedSectors - fatSectors*fatCount
	clusters = dataSectors / uint32(spc)
	if clusters <= minDataClusters {
		return firmware.NewError(firmware.BadParameter, "format: device too small for FAT32")
	}

	if !bytes.IsZeroFilled(dev) {
		for i := range dev {
			dev[i] = 0
		}
	}

	bpb := dev[0:sectorSize]
	bpb[0] = 0xEB
	bpb[1] = 0x58
	bpb[2] = 0x90
	copy(bpb[3:11], "SURVIVAL")
	binary.LittleEndian.PutUint16(bpb[11:13], sectorSize)
	bpb[13] = byte(spc)
	binary.LittleEndian.PutUint16(bpb[14:16], reservedSectors)
	bpb[16] = fatCount
	binary.LittleEndian.PutUint16(bpb[17:19], 0) // root-entry count: 0 for FAT32
	binary.LittleEndian.PutUint16(bpb[19:21], 0) // total sectors 16: 0, use 32-bit field
	bpb[21] = 0xF8                               // media descriptor: fixed disk
	binary.LittleEndian.PutUint16(bpb[22:24], 0) // FAT size 16: 0 for FAT32
	binary.LittleEndian.PutUint16(bpb[24:26], 63) // sectors per track (cosmetic)
	binary.LittleEndian.PutUint16(bpb[26:28], 255) // heads (cosmetic)
	binary.LittleEndian.PutUint32(bpb[28:32], 0)   // hidden sectors
	binary.LittleEndian.PutUint32(bpb[32:36], totalSectors)
	binary.LittleEndian.PutUint32(bpb[36:40], fatSectors)
	binary.LittleEndian.PutUint16(bpb[40:42], 0)   // ext flags
	binary.LittleEndian.PutUint16(bpb[42:44], 0)   // FS version
	binary.LittleEndian.PutUint32(bpb[44:48], rootCluster)
	binary.LittleEndian.PutUint16(bpb[48:50], 1) // FSInfo sector
	binary.LittleEndian.PutUint16(bpb[50:52], 6) // backup boot sector
	bpb[66] = 0x29                               // boot signature
	copy(bpb[71:82], volumeLabelPadded(volumeLabel))
	copy(bpb[82:90], "FAT32   ")
	bpb[510] = 0x55
	bpb[511] = 0xAA

	// FSInfo sector: lead/struct signatures, free-cluster count
	// unknown (0xFFFFFFFF, conservative) so any reader recomputes it.
	fsinfo := dev[sectorSize : 2*sectorSize]
	binary.LittleEndian.PutUint32(fsinfo[0:4], 0x41615252)
	binary.LittleEndian.PutUint32(fsinfo[484:488], 0x61417272)
	binary.LittleEndian.PutUint32(fsinfo[488:492], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(fsinfo[492:496], 0xFFFFFFFF)
	binary.LittleEndian.PutUint16(fsinfo[510:512], 0xAA55)

	v := &Volume{dev: dev}
	if err := v.readBPB(); err != nil {
		return err
	}

	// FAT[0]/FAT[1] reserved entries; FAT[2] (root cluster) = EOC.
	v.setFATEntry(0, 0x0FFFFFF8)
	v.setFATEntry(1, 0x0FFFFFFF)
	v.setFATEntry(rootCluster, eocMin)

	return nil
}

func volumeLabelPadded(label string) []byte {
	b := []byte("NO NAME    ")
	copy(b, strings.ToUpper(label))
	return b[:11]
}

// HasValidFAT32 implements §4.D's block-level stale-driver probe: read
// sector 0, verify the 0x55AA boot signature and the "FAT32" string at
// offset 82, without mounting anything.
func HasValidFAT32(dev Device) bool {
	if len(dev) < sectorSize {
		return false
	}
	if dev[510] != 0x55 || dev[511] != 0xAA {
		return false
	}
	return string(dev[82:87]) == "FAT32"
}

// Volume is a mounted FAT32 filesystem, implementing fs.Volume.
type Volume struct {
	dev Device
	bpb BPB

	fatStart  uint32 // byte offset of first FAT
	fatBytes  uint32
	dataStart uint32 // byte offset of cluster 2
}

// Mount opens dev as a FAT32 volume, failing if HasValidFAT32 is false.
func Mount(dev Device) (*Volume, error) {
	if !HasValidFAT32(dev) {
		return nil, firmware.NewError(firmware.DeviceError, "mount: not a valid FAT32 volume")
	}
	v := &Volume{dev: dev}
	if err := v.readBPB(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Volume) readBPB() error {
	b := v.dev[0:sectorSize]
	v.bpb = BPB{
		BytesPerSector:  binary.LittleEndian.Uint16(b[11:13]),
		SectorsPerClust: b[13],
		ReservedSectors: binary.LittleEndian.Uint16(b[14:16]),
		NumFATs:         b[16],
		TotalSectors32:  binary.LittleEndian.Uint32(b[32:36]),
		SectorsPerFAT32: binary.LittleEndian.Uint32(b[36:40]),
		RootCluster:     binary.LittleEndian.Uint32(b[44:48]),
		FSInfoSector:    binary.LittleEndian.Uint16(b[48:50]),
	}
	if v.bpb.BytesPerSector == 0 || v.bpb.SectorsPerClust == 0 {
		return firmware.NewError(firmware.DeviceError, "mount: corrupt BPB")
	}
	v.fatStart = uint32(v.bpb.ReservedSectors) * sectorSize
	v.fatBytes = v.bpb.SectorsPerFAT32 * sectorSize
	dataStartSector := uint32(v.bpb.ReservedSectors) + v.bpb.SectorsPerFAT32*uint32(v.bpb.NumFATs)
	v.dataStart = dataStartSector * sectorSize
	return nil
}

func (v *Volume) clusterBytes() uint32 {
	return uint32(v.bpb.SectorsPerClust) * sectorSize
}

func (v *Volume) clusterOffset(cluster uint32) uint32 {
	return v.dataStart + (cluster-rootCluster)*v.clusterBytes()
}

func (v *Volume) fatEntry(cluster uint32) uint32 {
	off := v.fatStart + cluster*4
	return binary.LittleEndian.Uint32(v.dev[off:off+4]) & clusterMask
}

func (v *Volume) setFATEntry(cluster, value uint32) {
	value &= clusterMask
	numFATs := v.bpb.NumFATs
	if numFATs == 0 {
		numFATs = 1
	}
	for fatIdx := uint32(0); fatIdx < uint32(numFATs); fatIdx++ {
		off := v.fatStart + fatIdx*v.fatBytes + cluster*4
		old := binary.LittleEndian.Uint32(v.dev[off : off+4])
		binary.LittleEndian.PutUint32(v.dev[off:off+4], (old&0xF0000000)|value)
	}
}

// allocChain allocates n clusters (n >= 1), links them into a chain, and
// returns the first cluster. It is the "FAT-chain allocation via cluster
// bitmap walked on demand" §4.D describes: the FAT itself is the
// bitmap, a free cluster being any entry == 0.
func (v *Volume) allocChain(n int) (uint32, error) {
	if n <= 0 {
		return 0, firmware.NewError(firmware.BadParameter, "alloc_chain")
	}
	maxCluster := (v.fatBytes / 4)
	var clusters []uint32
	for c := uint32(rootCluster + 1); c < maxCluster && len(clusters) < n; c++ {
		if v.fatEntry(c) == freeCluster {
			clusters = append(clusters, c)
		}
	}
	if len(clusters) < n {
		return 0, firmware.NewError(firmware.OutOfResources, "alloc_chain")
	}
	for i, c := range clusters {
		if i == len(clusters)-1 {
			v.setFATEntry(c, eocMin)
		} else {
			v.setFATEntry(c, clusters[i+1])
		}
	}
	return clusters[0], nil
}

func (v *Volume) freeChain(start uint32) {
	c := start
	for c >= rootCluster && c < eocMin {
		next := v.fatEntry(c)
		v.setFATEntry(c, freeCluster)
		c = next
	}
}

func isEOC(c uint32) bool { return c >= eocMin || c == 0 }

// readChain reads the full contents of the cluster chain starting at
// start, truncated to size bytes if size >= 0.
func (v *Volume) readChain(start uint32, size int64) []byte {
	var out []byte
	c := start
	cb := int(v.clusterBytes())
	for !isEOC(c) && c >= rootCluster {
		off := v.clusterOffset(c)
		out = append(out, v.dev[off:off+uint32(cb)]...)
		if size >= 0 && int64(len(out)) >= size {
			return out[:size]
		}
		c = v.fatEntry(c)
	}
	if size >= 0 && int64(len(out)) > size {
		return out[:size]
	}
	return out
}

// writeChain writes data into a (possibly newly-extended) chain starting
// at start, growing it as needed, and returns the (possibly unchanged)
// start cluster.
func (v *Volume) writeChain(start uint32, data []byte) (uint32, error) {
	cb := int(v.clusterBytes())
	need := (len(data) + cb - 1) / cb
	if need == 0 {
		need = 1
	}
	if start < rootCluster {
		s, err := v.allocChain(need)
		if err != nil {
			return 0, err
		}
		start = s
	}
	// Count existing chain length, extend/truncate to need.
	var chain []uint32
	for c := start; !isEOC(c) && c >= rootCluster; c = v.fatEntry(c) {
		chain = append(chain, c)
	}
	for len(chain) < need {
		extra, err := v.allocChain(1)
		if err != nil {
			return 0, err
		}
		v.setFATEntry(chain[len(chain)-1], extra)
		v.setFATEntry(extra, eocMin)
		chain = append(chain, extra)
	}
	if len(chain) > need {
		v.setFATEntry(chain[need-1], eocMin)
		for _, c := range chain[need:] {
			v.setFATEntry(c, freeCluster)
		}
		chain = chain[:need]
	}
	for i, c := range chain {
		off := v.clusterOffset(c)
		lo := i * cb
		hi := lo + cb
		if hi > len(data) {
			hi = len(data)
		}
		dst := v.dev[off : off+uint32(cb)]
		for j := range dst {
			dst[j] = 0
		}
		copy(dst, data[lo:hi])
	}
	return start, nil
}

// ReadFile implements fs.Volume.
func (v *Volume) ReadFile(path string) ([]byte, error) {
	ent, _, _, err := v.lookup(path)
	if err != nil {
		return nil, err
	}
	if ent.attr&attrDirectory != 0 {
		return nil, firmware.NewError(firmware.BadParameter, "readfile: is a directory")
	}
	return v.readChain(ent.cluster, int64(ent.size)), nil
}

// FileSize implements fs.Volume.
func (v *Volume) FileSize(path string) (uint64, error) {
	ent, _, _, err := v.lookup(path)
	if err != nil {
		return 0, err
	}
	return uint64(ent.size), nil
}

// WriteFile implements fs.Volume. It creates or overwrites path.
func (v *Volume) WriteFile(path string, data []byte) error {
	dirCluster, name, err := v.resolveParent(path)
	if err != nil {
		return err
	}
	existing, entryOff, span, lookErr := v.lookupInDir(dirCluster, name)
	var startCluster uint32
	if lookErr == nil {
		startCluster = existing.cluster
	}
	newStart, err := v.writeChain(startCluster, data)
	if err != nil {
		return err
	}
	if lookErr == nil {
		return v.patchDirEntrySizeCluster(dirCluster, entryOff, span, uint32(len(data)), newStart)
	}
	return v.createDirEntry(dirCluster, name, false, newStart, uint32(len(data)))
}

// Mkdir creates a single directory. Creating an existing directory is
// a no-op; a file already occupying the name is AccessDenied.
func (v *Volume) Mkdir(path string) error {
	dirCluster, name, err := v.resolveParent(path)
	if err != nil {
		return err
	}
	if ent, _, _, err := v.lookupInDir(dirCluster, name); err == nil {
		if ent.attr&attrDirectory != 0 {
			return nil
		}
		return firmware.NewError(firmware.AccessDenied, "mkdir: name exists as a file")
	}
	c, err := v.allocChain(1)
	if err != nil {
		return err
	}
	// Fresh directory cluster: zeroed, with "." and ".." short entries.
	off := v.clusterOffset(c)
	clusterData := v.dev[off : off+v.clusterBytes()]
	for i := range clusterData {
		clusterData[i] = 0
	}
	writeDotEntry(clusterData[0:dirEntrySize], ".", c)
	parent := dirCluster
	if parent == rootCluster {
		parent = 0 // ".." of a first-level directory points at cluster 0
	}
	writeDotEntry(clusterData[dirEntrySize:2*dirEntrySize], "..", parent)
	return v.createDirEntry(dirCluster, name, true, c, 0)
}

// MkdirAll creates path and any missing parents.
func (v *Volume) MkdirAll(path string) error {
	parts := splitPath(path)
	cur := ""
	for _, p := range parts {
		cur += "/" + p
		if err := v.Mkdir(cur); err != nil {
			return err
		}
	}
	return nil
}

func writeDotEntry(e []byte, name string, cluster uint32) {
	copy(e[0:11], "           ")
	copy(e[0:len(name)], name)
	e[11] = attrDirectory
	binary.LittleEndian.PutUint16(e[20:22], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(e[26:28], uint16(cluster))
}

// ReadDir implements fs.Volume, returning entries ordered per
// Testable Property 10 via fs.SortEntries.
func (v *Volume) ReadDir(path string) ([]fs.DirEntry, error) {
	cluster, err := v.resolveDir(path)
	if err != nil {
		return nil, err
	}
	raw := v.readChain(cluster, -1)
	entries := decodeDirEntries(raw)
	out := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.attr&attrVolumeID != 0 {
			continue
		}
		if e.name == "." || e.name == ".." {
			continue
		}
		out = append(out, fs.DirEntry{
			Name:  e.name,
			Size:  uint64(e.size),
			IsDir: e.attr&attrDirectory != 0,
		})
	}
	fs.SortEntries(out)
	return out, nil
}

// Rename implements fs.Volume per §4.D's rename algorithm: mutate the
// filename field of the entry in place (here: rewrite its directory
// entry/entries), updating the size field to the current total.
func (v *Volume) Rename(oldPath, newPath string) error {
	dirCluster, oldName, err := v.resolveParent(oldPath)
	if err != nil {
		return err
	}
	newDirCluster, newName, err := v.resolveParent(newPath)
	if err != nil {
		return err
	}
	ent, entryOff, span, err := v.lookupInDir(dirCluster, oldName)
	if err != nil {
		return err
	}
	v.deleteDirEntryRange(dirCluster, entryOff, span)
	return v.createDirEntry(newDirCluster, newName, ent.attr&attrDirectory != 0, ent.cluster, ent.size)
}

// VolumeInfo implements fs.Volume.
func (v *Volume) VolumeInfo() (fs.VolumeInfo, error) {
	total := uint64(v.bpb.TotalSectors32) * sectorSize
	free := uint64(0)
	maxCluster := v.fatBytes / 4
	for c := uint32(rootCluster + 1); c < maxCluster; c++ {
		if v.fatEntry(c) == freeCluster {
			free += uint64(v.clusterBytes())
		}
	}
	return fs.VolumeInfo{TotalBytes: total, FreeBytes: free}, nil
}

// Close implements fs.Volume. The in-memory driver has nothing to flush
// beyond what callers already wrote directly into Device.
func (v *Volume) Close() error { return nil }

var _ fs.Volume = (*Volume)(nil)
