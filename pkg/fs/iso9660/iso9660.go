// Package iso9660 implements the ISO 9660 raw writer (§4.D): not an ISO
// parser, but a byte-for-byte streamer of a pre-built ISO image from a
// mounted volume onto a block device, plus a minimal Primary Volume
// Descriptor probe used only to report volume_info for media browsed
// read-only.
package iso9660

import (
	"encoding/binary"

	"github.com/levkropp/survival/pkg/blockdev"
	"github.com/levkropp/survival/pkg/firmware"
	"github.com/levkropp/survival/pkg/fs"
)

const (
	sectorSize = 2048

	// pvdLBA is the Primary Volume Descriptor's fixed location: sector
	// 16 of the volume space.
	pvdLBA = 16
)

// ProgressFunc observes a raw write: bytes copied so far out of total.
type ProgressFunc func(written, total uint64)

// Writer streams ISO images to block devices.
type Writer struct {
	Layer    *blockdev.Layer
	BIO      firmware.BlockIO
	Progress ProgressFunc

	// ChunkBytes is the per-iteration copy size; zero means 1 MiB.
	ChunkBytes int
}

// WriteImage copies the image file at srcPath on vol, byte for byte,
// onto target. The boot device is refused (§4.D "refuses to write to
// the boot device"); an image larger than the device is BadParameter.
func (w *Writer) WriteImage(vol fs.Volume, srcPath string, target blockdev.Device) error {
	if target.Boot || w.Layer.IsBootDevice(target.Handle) {
		return firmware.NewError(firmware.AccessDenied, "iso_write: target is the boot device")
	}
	size, err := vol.FileSize(srcPath)
	if err != nil {
		return err
	}
	if size == 0 {
		return firmware.NewError(firmware.BadParameter, "iso_write: empty image")
	}
	if size > target.SizeBytes {
		return firmware.NewError(firmware.BadParameter, "iso_write: image larger than device")
	}

	data, err := vol.ReadFile(srcPath)
	if err != nil {
		return err
	}

	chunk := w.ChunkBytes
	if chunk <= 0 {
		chunk = 1 << 20
	}
	blockSize := target.BlockSize
	if blockSize <= 0 {
		blockSize = 512
	}
	chunk -= chunk % blockSize

	written := uint64(0)
	for written < uint64(len(data)) {
		n := uint64(chunk)
		if written+n > uint64(len(data)) {
			n = uint64(len(data)) - written
		}
		// Pad the tail to a whole block.
		buf := data[written : written+n]
		if rem := int(n) % blockSize; rem != 0 {
			padded := make([]byte, int(n)+blockSize-rem)
			copy(padded, buf)
			buf = padded
		}
		lba := written / uint64(blockSize)
		if err := w.Layer.WriteBlocks(w.BIO, target, lba, len(buf)/blockSize, buf); err != nil {
			return err
		}
		written += n
		if w.Progress != nil {
			w.Progress(written, uint64(len(data)))
		}
	}
	return w.Layer.Flush(w.BIO, target)
}

// VolumeInfo probes image (the first sectors of ISO media) for a
// Primary Volume Descriptor and reports the volume space size. Used for
// volume_info on read-only ISO media; anything without a valid PVD is
// DeviceError.
func VolumeInfo(image []byte) (fs.VolumeInfo, error) {
	off := pvdLBA * sectorSize
	if len(image) < off+sectorSize {
		return fs.VolumeInfo{}, firmware.NewError(firmware.DeviceError, "iso_volume_info: image too small")
	}
	d := image[off : off+sectorSize]
	// Descriptor type 1, standard identifier "CD001", version 1.
	if d[0] != 1 || string(d[1:6]) != "CD001" || d[6] != 1 {
		return fs.VolumeInfo{}, firmware.NewError(firmware.DeviceError, "iso_volume_info: no primary volume descriptor")
	}
	// Volume space size: both-endian 32-bit at offset 80 (LE copy).
	blocks := binary.LittleEndian.Uint32(d[80:84])
	return fs.VolumeInfo{
		TotalBytes: uint64(blocks) * sectorSize,
		FreeBytes:  0, // mastered media has no free space
	}, nil
}
