package firmware

import "time"

// Handle is an opaque identity for one firmware-exposed object (device,
// loaded image, protocol instance). It is created by firmware, never
// freed by us, and is only ever compared for equality — most notably to
// recognize the boot device (pkg/blockdev).
type Handle uint64

// NoHandle is the zero value, meaning "no handle" / "not yet negotiated".
const NoHandle Handle = 0

// PixelFormat identifies the framebuffer's pixel layout. The workstation
// assumes 32-bit little-endian BGRA; GraphicsMode.Format records what was
// actually negotiated so callers can detect the rare firmware that
// differs.
type PixelFormat int

// Supported pixel formats.
const (
	PixelFormatBGRA32 PixelFormat = iota
	PixelFormatRGBA32
)

// GraphicsMode describes a negotiated framebuffer.
//
// Invariant: for the lifetime of the session (boot services remain
// active), the pixel at (x, y) lies at Base[y*Stride+x], and the region
// is writable throughout.
type GraphicsMode struct {
	Width  int
	Height int
	Stride int // pixels per scanline, may exceed Width
	Format PixelFormat
	Base   []uint32 // linear framebuffer, len(Base) >= Stride*Height
}

// At returns the index into Base for pixel (x, y).
func (m GraphicsMode) At(x, y int) int { return y*m.Stride + x }

// Modifier is a bitset of held modifier keys.
type Modifier uint8

// Modifier flags. Composed with OR; may be empty when firmware does not
// supply modifier state (no Simple Text Input Extended protocol).
const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
)

// KeyEvent is a normalized keypress.
//
// Code space: printable ASCII (0x20-0x7E) map to themselves; control
// characters (0x01-0x1A) represent Ctrl+letter; codes >= 0x80 are a
// disjoint range for navigation/function/special keys.
//
// Invariant: Ctrl+letter is always normalized to the raw control
// character with no modifier — callers never observe both
// (code=letter, mods=Ctrl) and (code=ctrlchar, mods={}) for the same
// keypress. See Normalize.
type KeyEvent struct {
	Code uint16
	Mods Modifier
}

// Special, non-ASCII key codes (>= 0x80). Only the ones the core
// contract names (§6) are enumerated; the rest of the navigation/
// function-key space is owned by the editor/browser UI (out of scope).
const (
	KeyF2 uint16 = 0x80 + iota
	KeyF3
	KeyF5
	KeyF6
	KeyF10
	KeyF11
	KeyF12
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyDelete
)

// Normalize applies the Ctrl+letter folding invariant described above to
// a raw (code, mods) pair as reported by firmware's keyboard protocol.
// It is exported so the simfw backend and any future real UEFI binding
// share one normalization rule (Testable Property 6).
func Normalize(code uint16, mods Modifier) KeyEvent {
	if mods&ModCtrl != 0 && code >= 'A' && code <= 'Z' {
		code = code &^ 0x20 // ensure uppercase before folding
	}
	if mods&ModCtrl != 0 && ((code >= 'a' && code <= 'z') || (code >= 'A' && code <= 'Z')) {
		upper := code &^ 0x20
		return KeyEvent{Code: upper & 0x1F, Mods: mods &^ ModCtrl}
	}
	return KeyEvent{Code: code, Mods: mods}
}

// ResetKind selects the flavor of reset requested from firmware.
type ResetKind int

// Reset kinds.
const (
	ResetCold ResetKind = iota
	ResetWarm
	ResetShutdown
)

// Capabilities records which optional protocols firmware actually
// negotiated at boot, so callers degrade gracefully (e.g. report no
// modifier state) instead of failing.
type Capabilities struct {
	HasGraphics        bool
	HasExtendedKeyInfo bool
}

// Services is the uniform, language-neutral view of what firmware
// provides. A real UEFI binding and the in-repo simulation
// (pkg/firmware/simfw) both implement it; every other component depends
// only on this interface.
type Services interface {
	// ConsoleWrite writes text to the text console. Tolerates a null/
	// absent framebuffer by falling back to a serial/text console.
	ConsoleWrite(text string) error

	// Stall busy-waits for roughly the given duration.
	Stall(d time.Duration)

	// Reset tells firmware to reset or shut down the machine. Does not
	// return on success.
	Reset(kind ResetKind) error

	// Allocate returns size bytes of general-purpose firmware memory, or
	// nil on allocation failure.
	Allocate(size int) []byte

	// Free releases memory obtained from Allocate. Tolerates nil.
	Free(buf []byte)

	// AllocateExecutableBelow2GB returns size bytes of executable
	// memory located below the 2GB boundary (so 32-bit PC-relative
	// relocations can reach it), or nil on failure.
	AllocateExecutableBelow2GB(size int) ([]byte, error)

	// GraphicsProbe attempts to discover a linear framebuffer. Returns
	// (mode, true) on success, (zero, false) if no graphics protocol is
	// available.
	GraphicsProbe() (GraphicsMode, bool)

	// GraphicsSetMode switches the display to the given mode. Returns
	// Unsupported when no graphics protocol is available.
	GraphicsSetMode(mode GraphicsMode) error

	// KeyboardReadEvent polls for one keypress. If blocking is true it
	// yields to firmware's event-wait primitive until an event is
	// available; if false, it returns NotReady immediately when there is
	// none.
	KeyboardReadEvent(blocking bool) (KeyEvent, error)

	// EnumerateBlockDevices lists every block device firmware currently
	// exposes, in no particular order.
	EnumerateBlockDevices() ([]BlockDeviceInfo, error)

	// EnumerateFileVolumes lists every mountable file-service volume.
	EnumerateFileVolumes() ([]VolumeInfo, error)

	// ReconnectController forces firmware to disconnect and re-probe a
	// handle, so stale cached protocols (e.g. a filesystem driver over a
	// just-reformatted device) are released.
	ReconnectController(h Handle) error

	// Capabilities reports which optional protocols are present.
	Capabilities() Capabilities
}

// BlockIO is the per-device sector transport backing the Block I/O
// protocol contract (§6): read/write by LBA range, plus an explicit
// flush since §5 requires durability before a flashing sequence ends. A
// real UEFI binding dispatches through the handle's Block I/O protocol
// instance; pkg/firmware/simfw backs it with an in-memory byte slice.
type BlockIO interface {
	ReadBlocks(h Handle, startLBA uint64, count int, buf []byte) error
	WriteBlocks(h Handle, startLBA uint64, count int, buf []byte) error
	Flush(h Handle) error
}

// BlockDeviceInfo is the facade's view of a block device, independent of
// pkg/blockdev's richer wrapper.
type BlockDeviceInfo struct {
	Handle     Handle
	Name       string
	Removable  bool
	Boot       bool
	BlockSize  int
	LastBlock  uint64
	SizeBytes  uint64
}

// VolumeInfo is the facade's view of a mountable file-service volume.
type VolumeInfo struct {
	Handle   Handle
	ReadOnly bool
}
