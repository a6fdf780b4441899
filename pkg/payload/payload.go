// Package payload implements the two-architecture compressed payload
// format (§4.L): a "SURV" header, a per-architecture table, and
// per-file raw-DEFLATE (or stored) streams. The host-side pack tool
// (cmd/packpayload) produces the blob; the flasher consumes it through
// Reader, which exposes read-only views into the mapped region and
// never copies the full payload into RAM.
package payload

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/flate"

	"github.com/levkropp/survival/pkg/firmware"
)

// Format constants (§3 "Payload").
const (
	Magic   = "SURV"
	Version = 1

	headerSize    = 8   // magic + version + arch_count + reserved
	archEntrySize = 24  // 16-byte name + offset + file count
	manifestSize  = 136 // 128-byte path + compressed size + original size
	maxArchs      = 2

	// compressThreshold: files below this size are stored uncompressed
	// (marker: compressed_size = 0).
	compressThreshold = 4096
)

// File is one input or decoded file.
type File struct {
	Path string
	Data []byte
}

// Arch is one architecture's file set.
type Arch struct {
	Name  string
	Files []File
}

// Pack builds the payload blob. maxSize, when positive, is the target
// partition's capacity; exceeding it is an error naming the overflow.
// Per-file failures are aggregated so one oversized path does not mask
// another.
func Pack(arches []Arch, maxSize int) ([]byte, error) {
	if len(arches) < 1 || len(arches) > maxArchs {
		return nil, firmware.NewError(firmware.BadParameter, "pack: architecture count must be 1 or 2")
	}

	var errs *multierror.Error
	blocks := make([][]byte, len(arches))
	for i, a := range arches {
		block, err := packArch(a)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", a.Name, err))
			continue
		}
		blocks[i] = block
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteString(Magic)
	out.WriteByte(Version)
	out.WriteByte(byte(len(arches)))
	out.Write([]byte{0, 0}) // reserved

	// Arch table: offsets are monotonically increasing from the start of
	// the payload.
	offset := headerSize + archEntrySize*len(arches)
	for i, a := range arches {
		var name [16]byte
		copy(name[:], a.Name)
		out.Write(name[:])
		var ent [8]byte
		binary.LittleEndian.PutUint32(ent[0:4], uint32(offset))
		binary.LittleEndian.PutUint32(ent[4:8], uint32(len(a.Files)))
		out.Write(ent[:])
		offset += len(blocks[i])
	}
	for _, b := range blocks {
		out.Write(b)
	}

	if maxSize > 0 && out.Len() > maxSize {
		return nil, firmware.NewError(firmware.OutOfResources,
			fmt.Sprintf("pack: payload is %d bytes, exceeding the %d-byte partition capacity", out.Len(), maxSize))
	}
	return out.Bytes(), nil
}

// packArch builds one architecture's data block: the file manifest
// followed by the concatenation of all file data streams in manifest
// order.
func packArch(a Arch) ([]byte, error) {
	var manifest, streams bytes.Buffer
	for _, f := range a.Files {
		if len(f.Path) > 127 {
			return nil, fmt.Errorf("%s: path exceeds 127 bytes", f.Path)
		}
		stream, compressedSize, err := encodeFile(f.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		var path [128]byte
		copy(path[:], f.Path)
		manifest.Write(path[:])
		var sizes [8]byte
		binary.LittleEndian.PutUint32(sizes[0:4], compressedSize)
		binary.LittleEndian.PutUint32(sizes[4:8], uint32(len(f.Data)))
		manifest.Write(sizes[:])
		streams.Write(stream)
	}
	return append(manifest.Bytes(), streams.Bytes()...), nil
}

// encodeFile applies the threshold-and-ratio policy: small files are
// stored; larger files are raw-DEFLATE compressed at the maximum
// setting, falling back to stored when compression does not win.
func encodeFile(data []byte) (stream []byte, compressedSize uint32, err error) {
	if len(data) < compressThreshold {
		return data, 0, nil
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, 0, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, 0, err
	}
	if err := w.Close(); err != nil {
		return nil, 0, err
	}
	if buf.Len() >= len(data) {
		return data, 0, nil
	}
	return buf.Bytes(), uint32(buf.Len()), nil
}

// FileInfo describes one manifest entry as laid out on flash.
type FileInfo struct {
	Path           string
	CompressedSize uint32 // zero means stored uncompressed
	OriginalSize   uint32
	dataOff        int // offset of the stream within the payload
}

// StoredSize is the number of payload bytes the file's stream occupies.
func (f FileInfo) StoredSize() int {
	if f.CompressedSize != 0 {
		return int(f.CompressedSize)
	}
	return int(f.OriginalSize)
}

// ArchInfo describes one architecture's parsed manifest.
type ArchInfo struct {
	Name      string
	DataStart int // payload offset of this architecture's data block
	Files     []FileInfo
}

// Reader provides read-only access to a mapped payload region.
type Reader struct {
	blob   []byte
	arches []ArchInfo
}

// Parse validates the header and manifests of a mapped payload (§4.L
// consumer): magic, version, arch table, and each file's data offset
// computed as the cumulative sum of stored sizes.
func Parse(blob []byte) (*Reader, error) {
	if len(blob) < headerSize || string(blob[0:4]) != Magic {
		return nil, firmware.NewError(firmware.DeviceError, "payload: bad magic")
	}
	if blob[4] != Version {
		return nil, firmware.NewError(firmware.Unsupported,
			fmt.Sprintf("payload: version %d not supported", blob[4]))
	}
	archCount := int(blob[5])
	if archCount < 1 || archCount > maxArchs {
		return nil, firmware.NewError(firmware.DeviceError, "payload: arch count out of range")
	}
	if len(blob) < headerSize+archCount*archEntrySize {
		return nil, firmware.NewError(firmware.DeviceError, "payload: truncated arch table")
	}

	r := &Reader{blob: blob}
	prevOffset := 0
	for i := 0; i < archCount; i++ {
		ent := blob[headerSize+i*archEntrySize:]
		name := string(bytes.TrimRight(ent[0:16], "\x00"))
		offset := int(binary.LittleEndian.Uint32(ent[16:20]))
		fileCount := int(binary.LittleEndian.Uint32(ent[20:24]))
		if offset <= prevOffset {
			return nil, firmware.NewError(firmware.DeviceError, "payload: arch offsets must be monotonically increasing")
		}
		prevOffset = offset

		manifestEnd := offset + fileCount*manifestSize
		if manifestEnd > len(blob) {
			return nil, firmware.NewError(firmware.DeviceError, "payload: truncated manifest")
		}
		ai := ArchInfo{Name: name, DataStart: offset}
		dataOff := manifestEnd
		for j := 0; j < fileCount; j++ {
			m := blob[offset+j*manifestSize:]
			fi := FileInfo{
				Path:           string(bytes.TrimRight(m[0:128], "\x00")),
				CompressedSize: binary.LittleEndian.Uint32(m[128:132]),
				OriginalSize:   binary.LittleEndian.Uint32(m[132:136]),
				dataOff:        dataOff,
			}
			dataOff += fi.StoredSize()
			if dataOff > len(blob) {
				return nil, firmware.NewError(firmware.DeviceError,
					fmt.Sprintf("payload: %s: stream extends past end of payload", fi.Path))
			}
			ai.Files = append(ai.Files, fi)
		}
		r.arches = append(r.arches, ai)
	}
	return r, nil
}

// Arches lists the architectures present.
func (r *Reader) Arches() []ArchInfo { return r.arches }

// FindArch resolves an architecture by name.
func (r *Reader) FindArch(name string) (ArchInfo, bool) {
	for _, a := range r.arches {
		if a.Name == name {
			return a, true
		}
	}
	return ArchInfo{}, false
}

// Raw returns the file's stored bytes as a view into the mapped region:
// the compressed stream, or the original data when stored.
func (r *Reader) Raw(f FileInfo) []byte {
	return r.blob[f.dataOff : f.dataOff+f.StoredSize()]
}

// Open returns a streaming reader of the file's decompressed content,
// suitable for chunk-at-a-time copying to a filesystem writer without
// buffering the whole file.
func (r *Reader) Open(f FileInfo) io.Reader {
	raw := r.Raw(f)
	if f.CompressedSize == 0 {
		return bytes.NewReader(raw)
	}
	return flate.NewReader(bytes.NewReader(raw))
}

// ReadAll decodes the file's full content.
func (r *Reader) ReadAll(f FileInfo) ([]byte, error) {
	out := make([]byte, 0, f.OriginalSize)
	buf := make([]byte, 32<<10)
	src := r.Open(f)
	for {
		n, err := src.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(out) != int(f.OriginalSize) {
		return nil, firmware.NewError(firmware.DeviceError,
			fmt.Sprintf("payload: %s: decoded %d bytes, manifest says %d", f.Path, len(out), f.OriginalSize))
	}
	return out, nil
}
