// Package simfw is the in-repo simulation backend for pkg/firmware's
// Services interface. Since this module never invokes the Go toolchain
// against real UEFI protocols, simfw stands in for firmware: console
// output goes to an io.Writer, block devices are backed by in-memory or
// file-backed byte slices, and executable allocation is not simulated
// (it reports Unsupported; pkg/memalloc.ExecutableAllocator provides
// real mmap-backed executable memory). It is the seam a real UEFI binding would replace;
// every other component in the module is written against the Services
// interface, not against simfw directly.
package simfw

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/levkropp/survival/pkg/firmware"
)

// Disk is a simulated block device: a named byte buffer with the flags
// pkg/blockdev cares about.
type Disk struct {
	Handle    firmware.Handle
	Name      string
	Removable bool
	Boot      bool
	BlockSize int
	Data      []byte
}

// FW is a simulation of firmware boot services sufficient to exercise
// every other component in this module.
type FW struct {
	mu     sync.Mutex
	Out    io.Writer
	disks  map[firmware.Handle]*Disk
	nextH  firmware.Handle
	keys   []firmware.KeyEvent
	caps   firmware.Capabilities
	mode   firmware.GraphicsMode
	hasGfx bool
}

// New returns an FW with console output routed to out.
func New(out io.Writer) *FW {
	if out == nil {
		out = io.Discard
	}
	return &FW{
		Out:   out,
		disks: make(map[firmware.Handle]*Disk),
		nextH: 1,
		caps:  firmware.Capabilities{HasGraphics: false, HasExtendedKeyInfo: true},
	}
}

// AddDisk registers a simulated block device and returns its handle.
func (f *FW) AddDisk(name string, removable, boot bool, blockSize int, data []byte) firmware.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.nextH
	f.nextH++
	f.disks[h] = &Disk{Handle: h, Name: name, Removable: removable, Boot: boot, BlockSize: blockSize, Data: data}
	return h
}

// Disk returns the simulated disk for a handle, or nil.
func (f *FW) Disk(h firmware.Handle) *Disk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disks[h]
}

// PushKey queues a key event to be returned by the next KeyboardReadEvent.
func (f *FW) PushKey(ev firmware.KeyEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, ev)
}

// SetGraphicsMode installs a simulated framebuffer.
func (f *FW) SetGraphicsMode(mode firmware.GraphicsMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	f.hasGfx = true
	f.caps.HasGraphics = true
}

// GraphicsSetMode implements firmware.Services.
func (f *FW) GraphicsSetMode(mode firmware.GraphicsMode) error {
	f.SetGraphicsMode(mode)
	return nil
}

// ConsoleWrite implements firmware.Services.
func (f *FW) ConsoleWrite(text string) error {
	_, err := io.WriteString(f.Out, text)
	return err
}

// Stall implements firmware.Services. The simulation sleeps for real so
// callers exercising timing-sensitive code observe real delays; tests
// should use durations of zero or near-zero.
func (f *FW) Stall(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// ErrSimReset is what Reset returns: the simulation cannot actually
// power-cycle anything, so every reset request fails with Unsupported.
var ErrSimReset = firmware.NewError(firmware.Unsupported, "reset")

// Reset implements firmware.Services.
func (f *FW) Reset(kind firmware.ResetKind) error {
	return ErrSimReset
}

// Allocate implements firmware.Services.
func (f *FW) Allocate(size int) []byte {
	if size < 0 {
		return nil
	}
	return make([]byte, size)
}

// Free implements firmware.Services. No-op: Go's GC reclaims simulated
// allocations.
func (f *FW) Free(buf []byte) {}

// AllocateExecutableBelow2GB implements firmware.Services. The
// simulation does not allocate executable memory: it always returns an
// Unsupported error; pkg/memalloc.ExecutableAllocator is the mmap-backed
// allocator.
func (f *FW) AllocateExecutableBelow2GB(size int) ([]byte, error) {
	return nil, firmware.NewError(firmware.Unsupported, "allocate_executable_below_2gb: use pkg/memalloc.ExecutableAllocator directly")
}

// GraphicsProbe implements firmware.Services.
func (f *FW) GraphicsProbe() (firmware.GraphicsMode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode, f.hasGfx
}

// KeyboardReadEvent implements firmware.Services.
func (f *FW) KeyboardReadEvent(blocking bool) (firmware.KeyEvent, error) {
	for {
		f.mu.Lock()
		if len(f.keys) > 0 {
			ev := f.keys[0]
			f.keys = f.keys[1:]
			f.mu.Unlock()
			return ev, nil
		}
		f.mu.Unlock()
		if !blocking {
			return firmware.KeyEvent{}, firmware.NewError(firmware.NotReady, "keyboard_read_event")
		}
		time.Sleep(time.Millisecond)
	}
}

// EnumerateBlockDevices implements firmware.Services.
func (f *FW) EnumerateBlockDevices() ([]firmware.BlockDeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]firmware.BlockDeviceInfo, 0, len(f.disks))
	for _, d := range f.disks {
		out = append(out, firmware.BlockDeviceInfo{
			Handle:    d.Handle,
			Name:      d.Name,
			Removable: d.Removable,
			Boot:      d.Boot,
			BlockSize: d.BlockSize,
			LastBlock: uint64(len(d.Data)/d.BlockSize) - 1,
			SizeBytes: uint64(len(d.Data)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

// EnumerateFileVolumes implements firmware.Services. The simulation has
// no independent volume protocol; filesystem mounting is driven directly
// through pkg/fs against a Disk, so this always returns empty.
func (f *FW) EnumerateFileVolumes() ([]firmware.VolumeInfo, error) {
	return nil, nil
}

// ReconnectController implements firmware.Services. The simulation has
// no cached driver state to drop, so this is a no-op that only validates
// the handle exists.
func (f *FW) ReconnectController(h firmware.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.disks[h]; !ok {
		return firmware.NewError(firmware.NotFound, "reconnect_controller")
	}
	return nil
}

// Capabilities implements firmware.Services.
func (f *FW) Capabilities() firmware.Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps
}

// ReadBlocks reads count blocks starting at startLBA from disk h into buf.
func (f *FW) ReadBlocks(h firmware.Handle, startLBA uint64, count int, buf []byte) error {
	f.mu.Lock()
	d := f.disks[h]
	f.mu.Unlock()
	if d == nil {
		return firmware.NewError(firmware.NotFound, "read_blocks")
	}
	off := startLBA * uint64(d.BlockSize)
	n := count * d.BlockSize
	if off+uint64(n) > uint64(len(d.Data)) || len(buf) < n {
		return firmware.NewError(firmware.BadParameter, "read_blocks")
	}
	copy(buf, d.Data[off:off+uint64(n)])
	return nil
}

// WriteBlocks writes count blocks starting at startLBA on disk h from buf.
func (f *FW) WriteBlocks(h firmware.Handle, startLBA uint64, count int, buf []byte) error {
	f.mu.Lock()
	d := f.disks[h]
	f.mu.Unlock()
	if d == nil {
		return firmware.NewError(firmware.NotFound, "write_blocks")
	}
	if d.Boot {
		return firmware.NewError(firmware.AccessDenied, "write_blocks")
	}
	off := startLBA * uint64(d.BlockSize)
	n := count * d.BlockSize
	if off+uint64(n) > uint64(len(d.Data)) || len(buf) < n {
		return firmware.NewError(firmware.BadParameter, "write_blocks")
	}
	copy(d.Data[off:off+uint64(n)], buf[:n])
	return nil
}

// Flush implements firmware.BlockIO. The simulation's writes are already
// visible in-process, so Flush only validates the handle, matching the
// "no-op but checked" shape of the other simulated transport calls.
func (f *FW) Flush(h firmware.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.disks[h]; !ok {
		return firmware.NewError(firmware.NotFound, "flush")
	}
	return nil
}

var (
	_ firmware.Services = (*FW)(nil)
	_ firmware.BlockIO  = (*FW)(nil)
)
