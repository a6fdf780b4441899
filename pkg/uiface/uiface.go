// Package uiface declares the contracts the out-of-scope UI modules
// (text editor, file browser, image viewer, documentation reader)
// consume from the core. The UIs themselves live outside this module;
// these interfaces pin down exactly what the core owes them (§1 "The
// core covered by this specification", §2's component boundaries) so
// the two sides can evolve independently.
package uiface

import (
	"github.com/levkropp/survival/pkg/firmware"
	"github.com/levkropp/survival/pkg/fs"
)

// Console is the text output surface: a framebuffer-backed renderer in
// graphics mode, a serial/text fallback otherwise (§4.A's console_write
// guarantee).
type Console interface {
	// Write renders text at the cursor in the normal color.
	Write(text string) error
	// WriteError renders text in the error color; both colors also feed
	// the diagnostic capture path (§7).
	WriteError(text string) error
	// Status replaces the status-bar line (error translation per §7's
	// propagation policy lands here).
	Status(text string) error
}

// KeySource delivers normalized key events (§3 "Key event"): the
// Ctrl-folding invariant has already been applied, navigation and
// function keys use the >= 0x80 code range.
type KeySource interface {
	// ReadKey blocks until a key event is available.
	ReadKey() (firmware.KeyEvent, error)
	// PollKey returns NotReady when no event is pending.
	PollKey() (firmware.KeyEvent, error)
}

// VolumeSession is the mount state the browser drives: exactly one
// active volume at a time, with the home volume's root preserved so the
// application can return to it (§3 "Volume").
type VolumeSession interface {
	// Active returns the current volume.
	Active() fs.Volume
	// Switch makes another volume current and returns the previous one.
	Switch(v fs.Volume) fs.Volume
	// Home returns to the boot volume recorded at startup.
	Home() fs.Volume
}

// Executor is the compile-and-run entry the editor binds to its run
// key: source in, result out, diagnostics captured (§4.J).
type Executor interface {
	RunSource(src, filename string) (ExecResult, error)
}

// ExecResult mirrors pkg/runner.Result without importing it, keeping
// this package a leaf the UI side can depend on alone.
type ExecResult = struct {
	ExitCode int
	Success  bool
	ErrorMsg string
}

// Rebuilder is the self-rebuild entry the editor binds to its rebuild
// key (§4.K).
type Rebuilder interface {
	Rebuild() (bootPath string, err error)
	PromptReboot() error
}
