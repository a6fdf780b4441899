// Package blockdev implements the block device layer (§4.B): enumerating
// firmware-exposed block devices, distinguishing removable/fixed/boot
// devices, reading and writing sectors, and forcing a re-probe after an
// on-disk layout change.
package blockdev

import (
	"github.com/dustin/go-humanize"

	"github.com/levkropp/survival/pkg/firmware"
)

// Device is the application's view of one block device: the facade's raw
// BlockDeviceInfo plus the bookkeeping (a human-readable size string,
// masked-boot-device tracking) that §4.B's key algorithms need.
type Device struct {
	Handle    firmware.Handle
	Name      string
	Removable bool
	Boot      bool
	BlockSize int
	LastBlock uint64
	SizeBytes uint64
}

// DisplayName returns a human-readable label in the "USB N GB" / "Disk N
// GB" form §4.B specifies, using go-humanize for the size suffix.
func (d Device) DisplayName() string {
	kind := "Disk"
	if d.Removable {
		kind = "USB"
	}
	return kind + " " + humanize.Bytes(d.SizeBytes)
}

// Layer enumerates and performs sector I/O against block devices exposed
// by a firmware.Services, masking off the device the application itself
// booted from.
type Layer struct {
	fw       firmware.Services
	bootHand firmware.Handle
}

// New returns a Layer backed by fw. bootHandle is the handle recorded at
// bootstrap through which the application's own image was loaded (§4.B
// "identifying the boot device"); it is compared, not trusted from
// firmware's own Boot flag, since firmware's flag may be stale or absent.
func New(fw firmware.Services, bootHandle firmware.Handle) *Layer {
	return &Layer{fw: fw, bootHand: bootHandle}
}

// Enumerate returns up to max devices (0 means unlimited), each tagged
// Boot=true iff its handle matches the recorded boot-image handle.
func (l *Layer) Enumerate(max int) ([]Device, error) {
	infos, err := l.fw.EnumerateBlockDevices()
	if err != nil {
		return nil, firmware.Wrap(firmware.DeviceError, "enumerate", err)
	}
	out := make([]Device, 0, len(infos))
	for _, info := range infos {
		if max > 0 && len(out) >= max {
			break
		}
		d := Device{
			Handle:    info.Handle,
			Name:      info.Name,
			Removable: info.Removable,
			BlockSize: info.BlockSize,
			LastBlock: info.LastBlock,
			SizeBytes: info.SizeBytes,
		}
		d.Boot = d.Handle == l.bootHand
		out = append(out, d)
	}
	return out, nil
}

// IsBootDevice reports whether h is the handle the application itself
// booted from.
func (l *Layer) IsBootDevice(h firmware.Handle) bool { return h == l.bootHand }

// ReadBlocks reads count blocks starting at startLBA from d into buf,
// which must be at least count*d.BlockSize bytes.
func (l *Layer) ReadBlocks(bio firmware.BlockIO, d Device, startLBA uint64, count int, buf []byte) error {
	if bio == nil {
		return firmware.NewError(firmware.BadParameter, "read_blocks")
	}
	return bio.ReadBlocks(d.Handle, startLBA, count, buf)
}

// WriteBlocks writes count blocks starting at startLBA from buf to d.
// Refuses outright when the target is the recorded boot device, per §7
// AccessDenied ("boot device targeted by a destructive operation") —
// callers that legitimately need to write the boot device (there are
// none in this module) must go around this helper.
func (l *Layer) WriteBlocks(bio firmware.BlockIO, d Device, startLBA uint64, count int, buf []byte) error {
	if d.Boot {
		return firmware.NewError(firmware.AccessDenied, "write_blocks")
	}
	if bio == nil {
		return firmware.NewError(firmware.BadParameter, "write_blocks")
	}
	return bio.WriteBlocks(d.Handle, startLBA, count, buf)
}

// Flush issues an explicit durability flush on d (§5: "block-device
// writes are not guaranteed durable until a flush is issued").
func (l *Layer) Flush(bio firmware.BlockIO, d Device) error {
	if bio == nil {
		return firmware.NewError(firmware.BadParameter, "flush")
	}
	return bio.Flush(d.Handle)
}

// Reconnect forces firmware to release and re-probe d's handle, per
// §4.B's reconnect algorithm: without this, firmware continues to
// present stale filesystem protocols cached from before an on-disk
// layout change (e.g. a fresh format or a GPT rewrite).
func (l *Layer) Reconnect(d Device) error {
	if err := l.fw.ReconnectController(d.Handle); err != nil {
		return firmware.Wrap(firmware.DeviceError, "reconnect", err)
	}
	return nil
}
