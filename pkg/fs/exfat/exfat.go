// Package exfat implements the exFAT filesystem driver (§4.D): mounted
// via a block device, it parses the boot region, FAT, and cluster heap,
// produces abstract directory entries, and supports writing new files
// and unmounting.
//
// Boot-sector decoding follows dsoprea's go-exfat driver's shape: a
// fixed-layout struct unpacked with go-restruct, errors wrapped with
// go-logging, since that is the exFAT reference this module's pack
// carries.
package exfat

import (
	"encoding/binary"
	"strings"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
	"golang.org/x/text/encoding/unicode"

	"github.com/levkropp/survival/pkg/firmware"
	"github.com/levkropp/survival/pkg/fs"
)

var defaultEncoding = binary.LittleEndian

const (
	bootSectorSize = 512
	dirEntrySize   = 32

	entryTypeAllocationBitmap = 0x81
	entryTypeUpcaseTable      = 0x82
	entryTypeVolumeLabel      = 0x83
	entryTypeFile             = 0x85
	entryTypeStreamExtension  = 0xC0
	entryTypeFileName         = 0xC1

	fileAttrDirectory = 0x10
)

var requiredFileSystemName = []byte("EXFAT   ")

// BootSector is the decoded subset of the exFAT main boot sector needed
// to locate the FAT and cluster heap.
type BootSector struct {
	JumpBoot                    [3]byte
	FileSystemName              [8]byte
	MustBeZero                  [53]byte
	PartitionOffset             uint64
	VolumeLength                uint64
	FatOffset                   uint32
	FatLength                   uint32
	ClusterHeapOffset           uint32
	ClusterCount                uint32
	FirstClusterOfRootDirectory uint32
	VolumeSerialNumber          uint32
	FileSystemRevision          uint16
	VolumeFlags                 uint16
	BytesPerSectorShift         uint8
	SectorsPerClusterShift      uint8
	NumberOfFats                uint8
	DriveSelect                 uint8
	PercentInUse                uint8
	Reserved                    [7]byte
}

func parseBootSector(raw []byte) (BootSector, error) {
	if len(raw) < bootSectorSize {
		return BootSector{}, log.Errorf("exfat: boot sector short read")
	}
	var bs BootSector
	if err := restruct.Unpack(raw[0:120], defaultEncoding, &bs); err != nil {
		return BootSector{}, log.Wrap(err)
	}
	if string(bs.FileSystemName[:]) != string(requiredFileSystemName) {
		return BootSector{}, log.Errorf("exfat: bad FileSystemName %q", bs.FileSystemName)
	}
	if raw[510] != 0x55 || raw[511] != 0xAA {
		return BootSector{}, log.Errorf("exfat: missing boot signature")
	}
	return bs, nil
}

func (bs BootSector) bytesPerSector() uint32 { return 1 << bs.BytesPerSectorShift }
func (bs BootSector) bytesPerCluster() uint32 {
	return 1 << (bs.BytesPerSectorShift + bs.SectorsPerClusterShift)
}

// Volume is a mounted exFAT filesystem, implementing fs.Volume.
type Volume struct {
	dev []byte
	bs  BootSector

	fatOffset   uint32 // bytes
	heapOffset  uint32 // bytes
	clusterSize uint32
}

// Mount parses dev's boot region, FAT, and cluster heap.
func Mount(dev []byte) (*Volume, error) {
	bs, err := parseBootSector(dev)
	if err != nil {
		return nil, firmware.Wrap(firmware.DeviceError, "mount", err)
	}
	v := &Volume{
		dev:         dev,
		bs:          bs,
		fatOffset:   bs.FatOffset * bs.bytesPerSector(),
		heapOffset:  bs.ClusterHeapOffset * bs.bytesPerSector(),
		clusterSize: bs.bytesPerCluster(),
	}
	return v, nil
}

func (v *Volume) clusterOffset(cluster uint32) uint32 {
	return v.heapOffset + (cluster-2)*v.clusterSize
}

func (v *Volume) fatEntry(cluster uint32) uint32 {
	off := v.fatOffset + cluster*4
	return binary.LittleEndian.Uint32(v.dev[off : off+4])
}

func (v *Volume) setFATEntry(cluster, value uint32) {
	off := v.fatOffset + cluster*4
	binary.LittleEndian.PutUint32(v.dev[off:off+4], value)
}

const exfatEOC = 0xFFFFFFFF

func (v *Volume) readChain(start uint32, size int64, noFatChain bool) []byte {
	var out []byte
	if noFatChain {
		// NoFatChain flag: the file occupies `size` contiguous bytes
		// starting at `start` with no FAT walk required.
		off := v.clusterOffset(start)
		end := off + uint32(size)
		if int(end) > len(v.dev) {
			end = uint32(len(v.dev))
		}
		return append(out, v.dev[off:end]...)
	}
	c := start
	for c >= 2 && c != exfatEOC {
		off := v.clusterOffset(c)
		out = append(out, v.dev[off:off+v.clusterSize]...)
		if size >= 0 && int64(len(out)) >= size {
			return out[:size]
		}
		c = v.fatEntry(c)
	}
	if size >= 0 && int64(len(out)) > size {
		out = out[:size]
	}
	return out
}

var exfatUTF16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// entrySet is one file's primary + stream-extension + name entries, per
// exFAT's directory-entry-set convention.
type entrySet struct {
	name       string
	isDir      bool
	size       uint64
	cluster    uint32
	noFatChain bool
}

func (v *Volume) listDir(cluster uint32) ([]entrySet, error) {
	raw := v.readChain(cluster, -1, false)
	var out []entrySet
	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		e := raw[off : off+dirEntrySize]
		entryType := e[0]
		if entryType == 0x00 {
			break
		}
		if entryType != entryTypeFile {
			continue
		}
		attrs := binary.LittleEndian.Uint16(e[4:6])
		secondaryCount := int(e[1])
		if off+dirEntrySize*(1+secondaryCount) > len(raw) {
			break
		}
		streamOff := off + dirEntrySize
		stream := raw[streamOff : streamOff+dirEntrySize]
		flags := stream[1]
		size := binary.LittleEndian.Uint64(stream[24:32])
		firstCluster := binary.LittleEndian.Uint32(stream[20:24])
		nameLen := int(stream[3])

		var nameUnits []byte
		for i := 1; i < secondaryCount; i++ {
			nameOff := off + dirEntrySize*(1+i)
			nameEntry := raw[nameOff : nameOff+dirEntrySize]
			if nameEntry[0] != entryTypeFileName {
				break
			}
			nameUnits = append(nameUnits, nameEntry[2:32]...)
		}
		if len(nameUnits) > nameLen*2 {
			nameUnits = nameUnits[:nameLen*2]
		}
		name, err := exfatUTF16LE.NewDecoder().Bytes(nameUnits)
		if err != nil {
			name = nameUnits
		}
		out = append(out, entrySet{
			name:       string(name),
			isDir:      attrs&fileAttrDirectory != 0,
			size:       size,
			cluster:    firstCluster,
			noFatChain: flags&0x02 != 0,
		})
		off += dirEntrySize * secondaryCount
	}
	return out, nil
}

func (v *Volume) findInDir(cluster uint32, name string) (entrySet, error) {
	entries, err := v.listDir(cluster)
	if err != nil {
		return entrySet{}, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.name, name) {
			return e, nil
		}
	}
	return entrySet{}, firmware.NewError(firmware.NotFound, "exfat: not found")
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func (v *Volume) resolve(path string) (entrySet, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return entrySet{cluster: v.bs.FirstClusterOfRootDirectory, isDir: true}, nil
	}
	cluster := v.bs.FirstClusterOfRootDirectory
	var e entrySet
	var err error
	for _, p := range parts {
		e, err = v.findInDir(cluster, p)
		if err != nil {
			return entrySet{}, err
		}
		cluster = e.cluster
	}
	return e, nil
}

// ReadFile implements fs.Volume.
func (v *Volume) ReadFile(path string) ([]byte, error) {
	e, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	if e.isDir {
		return nil, firmware.NewError(firmware.BadParameter, "exfat: readfile: is a directory")
	}
	return v.readChain(e.cluster, int64(e.size), e.noFatChain), nil
}

// FileSize implements fs.Volume.
func (v *Volume) FileSize(path string) (uint64, error) {
	e, err := v.resolve(path)
	if err != nil {
		return 0, err
	}
	return e.size, nil
}

// ReadDir implements fs.Volume, ordered per Testable Property 10.
func (v *Volume) ReadDir(path string) ([]fs.DirEntry, error) {
	e, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := v.listDir(e.cluster)
	if err != nil {
		return nil, err
	}
	out := make([]fs.DirEntry, 0, len(entries))
	for _, ent := range entries {
		out = append(out, fs.DirEntry{Name: ent.name, Size: ent.size, IsDir: ent.isDir})
	}
	fs.SortEntries(out)
	return out, nil
}

// allocChain allocates n contiguous-preferred clusters from the cluster
// heap bitmap (here: free entries in the FAT itself, as exFAT permits
// either a FAT chain or NoFatChain contiguous allocation; this driver
// always writes FAT chains for simplicity of the write path).
func (v *Volume) allocChain(n int) (uint32, error) {
	maxCluster := 2 + v.bs.ClusterCount
	var clusters []uint32
	for c := uint32(2); c < maxCluster && len(clusters) < n; c++ {
		if v.fatEntry(c) == 0 {
			clusters = append(clusters, c)
		}
	}
	if len(clusters) < n {
		return 0, firmware.NewError(firmware.OutOfResources, "exfat: alloc_chain")
	}
	for i, c := range clusters {
		if i == len(clusters)-1 {
			v.setFATEntry(c, exfatEOC)
		} else {
			v.setFATEntry(c, clusters[i+1])
		}
	}
	return clusters[0], nil
}

// WriteFile implements fs.Volume: writes a new file (exFAT write
// support per §4.D). Overwriting an existing file is implemented as
// delete-then-create for simplicity, since exFAT entry sets are
// variable-length and an in-place resize would otherwise require
// shifting every following entry.
func (v *Volume) WriteFile(path string, data []byte) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return firmware.NewError(firmware.BadParameter, "exfat: writefile")
	}
	name := parts[len(parts)-1]
	dirCluster := v.bs.FirstClusterOfRootDirectory
	for _, p := range parts[:len(parts)-1] {
		e, err := v.findInDir(dirCluster, p)
		if err != nil {
			return err
		}
		dirCluster = e.cluster
	}
	if _, err := v.findInDir(dirCluster, name); err == nil {
		if err := v.deleteEntry(path); err != nil {
			return err
		}
	}

	clusterSize := int(v.clusterSize)
	need := (len(data) + clusterSize - 1) / clusterSize
	if need == 0 {
		need = 1
	}
	start, err := v.allocChain(need)
	if err != nil {
		return err
	}
	c := start
	for i := 0; i < need; i++ {
		off := v.clusterOffset(c)
		lo := i * clusterSize
		hi := lo + clusterSize
		if hi > len(data) {
			hi = len(data)
		}
		dst := v.dev[off : off+uint32(clusterSize)]
		for j := range dst {
			dst[j] = 0
		}
		copy(dst, data[lo:hi])
		c = v.fatEntry(c)
	}

	return v.appendEntrySet(dirCluster, name, false, start, uint64(len(data)))
}

func (v *Volume) appendEntrySet(dirCluster uint32, name string, isDir bool, cluster uint32, size uint64) error {
	wide, err := exfatUTF16LE.NewEncoder().Bytes([]byte(name))
	if err != nil {
		wide = []byte(name)
	}
	nameEntryCount := (len(wide) + 29) / 30
	if nameEntryCount == 0 {
		nameEntryCount = 1
	}
	secondaryCount := 1 + nameEntryCount

	primary := make([]byte, dirEntrySize)
	primary[0] = entryTypeFile
	primary[1] = byte(secondaryCount)
	attrs := uint16(0)
	if isDir {
		attrs = fileAttrDirectory
	}
	binary.LittleEndian.PutUint16(primary[4:6], attrs)

	stream := make([]byte, dirEntrySize)
	stream[0] = entryTypeStreamExtension
	stream[1] = 0x01 // AllocationPossible
	stream[3] = byte(len(name))
	binary.LittleEndian.PutUint32(stream[20:24], cluster)
	binary.LittleEndian.PutUint64(stream[24:32], size)

	record := append([]byte{}, primary...)
	record = append(record, stream...)
	for i := 0; i < nameEntryCount; i++ {
		ne := make([]byte, dirEntrySize)
		ne[0] = entryTypeFileName
		lo := i * 30
		hi := lo + 30
		if hi > len(wide) {
			hi = len(wide)
		}
		copy(ne[2:2+(hi-lo)], wide[lo:hi])
		record = append(record, ne...)
	}

	raw := v.readChain(dirCluster, -1, false)
	insertOff := len(raw)
	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		if raw[off] == 0x00 {
			insertOff = off
			break
		}
	}
	needLen := insertOff + len(record)
	if needLen > len(raw) {
		raw = append(raw, make([]byte, needLen-len(raw))...)
	}
	copy(raw[insertOff:insertOff+len(record)], record)

	c := dirCluster
	clusterSize := int(v.clusterSize)
	for i := 0; i*clusterSize < len(raw); i++ {
		off := v.clusterOffset(c)
		lo := i * clusterSize
		hi := lo + clusterSize
		if hi > len(raw) {
			hi = len(raw)
		}
		dst := v.dev[off : off+uint32(clusterSize)]
		copy(dst, raw[lo:hi])
		next := v.fatEntry(c)
		if next < 2 || next == exfatEOC {
			if (i+1)*clusterSize < len(raw) {
				nc, err := v.allocChain(1)
				if err != nil {
					return err
				}
				v.setFATEntry(c, nc)
				next = nc
			}
		}
		c = next
	}
	return nil
}

// Rename implements fs.Volume as delete-then-recreate, since exFAT
// entry sets have no single "filename field" the way a FAT32 short
// entry does.
func (v *Volume) Rename(oldPath, newPath string) error {
	data, err := v.ReadFile(oldPath)
	if err != nil {
		return err
	}
	if err := v.deleteEntry(oldPath); err != nil {
		return err
	}
	return v.WriteFile(newPath, data)
}

func (v *Volume) deleteEntry(path string) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return firmware.NewError(firmware.BadParameter, "exfat: delete")
	}
	name := parts[len(parts)-1]
	dirCluster := v.bs.FirstClusterOfRootDirectory
	for _, p := range parts[:len(parts)-1] {
		e, err := v.findInDir(dirCluster, p)
		if err != nil {
			return err
		}
		dirCluster = e.cluster
	}
	raw := v.readChain(dirCluster, -1, false)
	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		e := raw[off : off+dirEntrySize]
		if e[0] != entryTypeFile {
			continue
		}
		secondaryCount := int(e[1])
		streamOff := off + dirEntrySize
		if streamOff+dirEntrySize > len(raw) {
			break
		}
		stream := raw[streamOff : streamOff+dirEntrySize]
		nameLen := int(stream[3])
		var nameUnits []byte
		for i := 1; i < secondaryCount; i++ {
			no := off + dirEntrySize*(1+i)
			if no+dirEntrySize > len(raw) {
				break
			}
			nameUnits = append(nameUnits, raw[no+2:no+32]...)
		}
		if len(nameUnits) > nameLen*2 {
			nameUnits = nameUnits[:nameLen*2]
		}
		decoded, _ := exfatUTF16LE.NewDecoder().Bytes(nameUnits)
		if strings.EqualFold(string(decoded), name) {
			for i := 0; i < 1+secondaryCount; i++ {
				raw[off+i*dirEntrySize] &^= 0x80 // clear InUse bit
			}
			clusterSize := int(v.clusterSize)
			c := dirCluster
			for i := 0; i*clusterSize < len(raw); i++ {
				o := v.clusterOffset(c)
				lo := i * clusterSize
				hi := lo + clusterSize
				if hi > len(raw) {
					hi = len(raw)
				}
				copy(v.dev[o:o+uint32(clusterSize)], raw[lo:hi])
				c = v.fatEntry(c)
			}
			return nil
		}
	}
	return firmware.NewError(firmware.NotFound, "exfat: delete")
}

// VolumeInfo implements fs.Volume.
func (v *Volume) VolumeInfo() (fs.VolumeInfo, error) {
	total := uint64(v.bs.VolumeLength) * uint64(v.bs.bytesPerSector())
	free := uint64(0)
	maxCluster := 2 + v.bs.ClusterCount
	for c := uint32(2); c < maxCluster; c++ {
		if v.fatEntry(c) == 0 {
			free += uint64(v.clusterSize)
		}
	}
	return fs.VolumeInfo{TotalBytes: total, FreeBytes: free}, nil
}

// Close implements fs.Volume: unmounts the volume. The in-memory driver
// has nothing further to flush.
func (v *Volume) Close() error { return nil }

var _ fs.Volume = (*Volume)(nil)
