// Package flasher implements the flash pipeline orchestrator (§4.M):
// selecting a non-boot target device, writing a GPT, formatting the ESP
// as FAT32 with dynamic cluster sizing, forcing a firmware re-probe,
// and stream-decompressing every file of the selected architecture from
// the mapped payload onto the new filesystem.
package flasher

import (
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/levkropp/survival/pkg/blockdev"
	"github.com/levkropp/survival/pkg/firmware"
	"github.com/levkropp/survival/pkg/fs/fat32"
	"github.com/levkropp/survival/pkg/guid"
	"github.com/levkropp/survival/pkg/partition"
	"github.com/levkropp/survival/pkg/payload"
	"github.com/levkropp/survival/pkg/wslog"
)

const sectorSize = 512

// ProgressFunc observes the pipeline: stage names the current step,
// done/total count files during the copy stage (both zero elsewhere).
type ProgressFunc func(stage string, done, total int)

// Flasher drives the pipeline against one block-device layer. One
// flash at a time: a concurrent Flash fails with Unsupported rather
// than interleaving (the single-thread-of-execution model, §5).
type Flasher struct {
	Layer    *blockdev.Layer
	BIO      firmware.BlockIO
	Progress ProgressFunc
	Log      wslog.Logger

	mu sync.Mutex
}

// New returns a Flasher. progress and log may be nil.
func New(layer *blockdev.Layer, bio firmware.BlockIO, progress ProgressFunc, log wslog.Logger) *Flasher {
	if progress == nil {
		progress = func(string, int, int) {}
	}
	if log == nil {
		log = wslog.DefaultLogger
	}
	return &Flasher{Layer: layer, BIO: bio, Progress: progress, Log: log}
}

// Candidates enumerates flash targets: every device except the one the
// firmware booted from (§4.M step 1).
func (f *Flasher) Candidates() ([]blockdev.Device, error) {
	devs, err := f.Layer.Enumerate(0)
	if err != nil {
		return nil, err
	}
	out := devs[:0]
	for _, d := range devs {
		if !d.Boot {
			out = append(out, d)
		}
	}
	return out, nil
}

// Request describes one flash operation.
type Request struct {
	Target   blockdev.Device
	Image    []byte // the target device's mapped byte region
	Payload  *payload.Reader
	ArchName string

	// Confirm gates the destructive write (§4.M step 3). A nil Confirm
	// refuses: explicit confirmation is required, never defaulted.
	Confirm func(summary string) bool

	// DiskGUID/PartGUID identify the new disk and its ESP entry; zero
	// values fall back to fixed defaults (useful for reproducible
	// tests; a UI passes freshly generated ones).
	DiskGUID guid.GUID
	PartGUID guid.GUID
}

// Flash runs the full §4.M sequence. The existing content of the target
// is destroyed; the boot device is refused outright.
func (f *Flasher) Flash(req Request) error {
	if !f.mu.TryLock() {
		return firmware.NewError(firmware.Unsupported, "flash: already running")
	}
	defer f.mu.Unlock()
	if req.Target.Boot || f.Layer.IsBootDevice(req.Target.Handle) {
		return firmware.NewError(firmware.AccessDenied, "flash: target is the boot device")
	}
	if len(req.Image) != int(req.Target.SizeBytes) {
		return firmware.NewError(firmware.BadParameter, "flash: image region does not match device size")
	}
	arch, ok := req.Payload.FindArch(req.ArchName)
	if !ok {
		return firmware.NewError(firmware.NotFound,
			fmt.Sprintf("flash: payload has no %q architecture", req.ArchName))
	}

	summary := fmt.Sprintf("Write %s image to %s (%d files)? ALL DATA WILL BE LOST",
		arch.Name, req.Target.DisplayName(), len(arch.Files))
	if req.Confirm == nil || !req.Confirm(summary) {
		return firmware.NewError(firmware.AccessDenied, "flash: not confirmed")
	}

	// Step 4: GPT — protective MBR, primary header/entries, backup
	// entries/header, CRCs computed per §3.
	f.Progress("partition", 0, 0)
	totalLBAs := req.Target.SizeBytes / sectorSize
	diskGUID, partGUID := req.DiskGUID, req.PartGUID
	if diskGUID.IsZero() {
		diskGUID = *guid.MustParse("DEC0DED1-5EED-4ABE-B005-7E0000000001")
	}
	if partGUID.IsZero() {
		partGUID = *guid.MustParse("DEC0DED1-5EED-4ABE-B005-7E0000000002")
	}
	layout := partition.BuildGPT(totalLBAs, diskGUID, partGUID)
	if err := f.writeGPT(req.Target, layout); err != nil {
		return err
	}
	if err := f.verifyGPT(req.Target, totalLBAs); err != nil {
		return err
	}

	// Step 5: format the ESP with dynamic cluster sizing.
	f.Progress("format", 0, 0)
	espStart := layout.ESPFirstLBA * sectorSize
	espEnd := (layout.LastUsableLBA + 1) * sectorSize
	esp := req.Image[espStart:espEnd]
	if err := fat32.Format(esp, "SURVIVAL"); err != nil {
		return err
	}

	// Step 6: force firmware to drop any stale cached driver.
	if err := f.Layer.Reconnect(req.Target); err != nil {
		return err
	}
	if !fat32.HasValidFAT32(esp) {
		return firmware.NewError(firmware.DeviceError, "flash: format verification failed")
	}

	// Step 7: stream every file of the selected architecture.
	vol, err := fat32.Mount(esp)
	if err != nil {
		return err
	}
	for i, file := range arch.Files {
		f.Progress("copy "+file.Path, i, len(arch.Files))
		if err := f.copyFile(vol, req.Payload, file); err != nil {
			return fmt.Errorf("flash: %s: %w", file.Path, err)
		}
	}
	f.Progress("copy", len(arch.Files), len(arch.Files))

	// Verify sizes against the manifest before declaring success.
	f.Progress("verify", 0, 0)
	for _, file := range arch.Files {
		size, err := vol.FileSize(file.Path)
		if err != nil {
			return fmt.Errorf("flash: verify %s: %w", file.Path, err)
		}
		if size != uint64(file.OriginalSize) {
			return firmware.NewError(firmware.DeviceError,
				fmt.Sprintf("flash: verify %s: wrote %d bytes, manifest says %d", file.Path, size, file.OriginalSize))
		}
	}

	// §5: block-device writes are not durable until flushed.
	if err := f.Layer.Flush(f.BIO, req.Target); err != nil {
		return err
	}
	f.Progress("done", 0, 0)
	return nil
}

// writeGPT lays the full scheme onto the device through the block
// layer: LBA 0 protective MBR, LBA 1 primary header, LBA 2.. primary
// entries, then backup entries and backup header at the disk's end.
func (f *Flasher) writeGPT(dev blockdev.Device, l partition.GPTLayout) error {
	write := func(lba uint64, data []byte) error {
		return f.Layer.WriteBlocks(f.BIO, dev, lba, len(data)/sectorSize, data)
	}
	if err := write(0, l.ProtectiveMBR[:]); err != nil {
		return err
	}
	if err := write(1, l.PrimaryHeader[:]); err != nil {
		return err
	}
	if err := write(2, l.EntryArray); err != nil {
		return err
	}
	if err := write(l.BackupEntLBA, l.EntryArray); err != nil {
		return err
	}
	return write(l.BackupHdrLBA, l.BackupHeader[:])
}

// verifyGPT reads back what writeGPT just wrote and re-parses it: the
// table must classify as GPT, put the ESP at the expected LBA, and
// pass the layout-overlap validation.
func (f *Flasher) verifyGPT(dev blockdev.Device, totalLBAs uint64) error {
	sector0 := make([]byte, sectorSize)
	sector1 := make([]byte, sectorSize)
	entries := make([]byte, partition.GPTEntryArrayLBAs*sectorSize)
	if err := f.Layer.ReadBlocks(f.BIO, dev, 0, 1, sector0); err != nil {
		return err
	}
	if err := f.Layer.ReadBlocks(f.BIO, dev, 1, 1, sector1); err != nil {
		return err
	}
	if err := f.Layer.ReadBlocks(f.BIO, dev, 2, partition.GPTEntryArrayLBAs, entries); err != nil {
		return err
	}
	tbl, err := partition.Parse(sector0, sector1, entries)
	if err != nil {
		return fmt.Errorf("flash: GPT read-back: %w", err)
	}
	if tbl.Kind != partition.GPT || tbl.FirstDataLBA() != espFirstLBA {
		return firmware.NewError(firmware.DeviceError, "flash: GPT read-back mismatch")
	}
	return tbl.Validate(totalLBAs)
}

// espFirstLBA mirrors the layout constant pkg/partition stamps into
// every GPT it builds.
const espFirstLBA = 2048

// copyFile streams one payload file onto the volume: stored files copy
// directly; compressed files decompress one bounded chunk at a time
// (§4.M step 7) into a buffer sized by the manifest before the single
// filesystem write.
func (f *Flasher) copyFile(vol *fat32.Volume, r *payload.Reader, file payload.FileInfo) error {
	if dir := path.Dir(file.Path); dir != "/" && dir != "." {
		if err := vol.MkdirAll(dir); err != nil {
			return err
		}
	}
	src := r.Open(file)
	out := make([]byte, 0, file.OriginalSize)
	chunk := make([]byte, 32<<10)
	for {
		n, err := src.Read(chunk)
		out = append(out, chunk[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(out) > int(file.OriginalSize) {
			return firmware.NewError(firmware.DeviceError, "stream exceeds manifest size")
		}
	}
	name := file.Path
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return vol.WriteFile(name, out)
}
