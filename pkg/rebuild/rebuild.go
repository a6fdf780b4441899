// Package rebuild implements the self-rebuild driver (§4.K): it
// enumerates the workstation's own source files on the mounted volume,
// drives the bundled compiler to emit a fresh firmware-format binary,
// and writes it to the architecture-specific boot path. A failed build
// never touches the existing on-disk binary.
package rebuild

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/levkropp/survival/pkg/cc"
	"github.com/levkropp/survival/pkg/firmware"
	"github.com/levkropp/survival/pkg/fs"
	"github.com/levkropp/survival/pkg/wslog"
)

// DefaultManifest is the hard-coded list of workstation source files
// (§4.K step 4), in compilation order. The compiler's own unity source
// and the nonlocal-exit source are appended separately since they need
// different handling (extra defines; per-architecture selection).
var DefaultManifest = []string{
	"/src/main.c",
	"/src/firmware.c",
	"/src/blockdev.c",
	"/src/partition.c",
	"/src/fat32.c",
	"/src/exfat.c",
	"/src/ntfs.c",
	"/src/iso9660.c",
	"/src/memalloc.c",
	"/src/libc_shim.c",
	"/src/editor.c",
	"/src/browser.c",
	"/src/viewer.c",
	"/src/runner.c",
	"/src/rebuild.c",
}

// CompilerUnitySource is the bundled compiler's unity build file,
// compiled with warnings suppressed and __UEFI__ defined.
const CompilerUnitySource = "/tools/tinycc/tcc_unity.c"

// NlexitSource returns the architecture-specific nonlocal-exit source:
// on ARM64, C containing pre-assembled opcode arrays (there is no
// textual assembler for that target); on x86_64, the assembly-backed
// variant.
func NlexitSource(arch string) string {
	if arch == "arm64" {
		return "/src/nlexit_arm64.c"
	}
	return "/src/nlexit_x86_64.c"
}

// BootPath returns the architecture-specific boot binary path (§4.K
// step 5).
func BootPath(arch string) string {
	if arch == "arm64" {
		return "/EFI/BOOT/BOOTAA64.EFI"
	}
	return "/EFI/BOOT/BOOTX64.EFI"
}

// Driver performs one rebuild against a mounted source volume. One
// rebuild at a time: a concurrent call fails with Unsupported rather
// than interleaving (the single-thread-of-execution model, §5).
type Driver struct {
	Volume fs.Volume
	FW     firmware.Services
	Arch   string // "amd64" or "arm64"
	Log    wslog.Logger

	mu sync.Mutex

	// Manifest overrides DefaultManifest; nil uses the default.
	Manifest []string

	// SaveModified is step 1's hook: persist the editor's current
	// document buffer if it is modified. nil means nothing is open.
	SaveModified func() error
}

// Result carries the build outcome for the UI.
type Result struct {
	BootPath  string
	ImageSize int
	ErrorMsg  string
}

// Rebuild runs the §4.K sequence. On any failure the existing on-disk
// binary is left untouched and the full diagnostic stream is available
// in Result.ErrorMsg.
func (d *Driver) Rebuild() (Result, error) {
	if !d.mu.TryLock() {
		return Result{}, firmware.NewError(firmware.Unsupported, "rebuild: already running")
	}
	defer d.mu.Unlock()

	// Step 1: a dirty document buffer is saved first; a failed save
	// aborts before anything else happens.
	if d.SaveModified != nil {
		if err := d.SaveModified(); err != nil {
			return Result{}, fmt.Errorf("rebuild: saving current document: %w", err)
		}
	}

	// Step 2: compiler instantiation and options.
	c := cc.New()
	c.SetOutputKind(cc.OutputFirmwareBinary)
	c.SetArch(d.Arch)
	for _, opt := range []string{
		"-nostdlib", "-nostdinc", "-Werror",
		"-Wl,-subsystem=efiapp", "-Wl,-e=efi_main",
	} {
		c.SetOption(opt)
	}

	// Step 3: include paths, resolved against the source volume.
	includes := []string{"/src/tcc-headers", "/src", "/tools/tinycc"}
	for _, p := range includes {
		c.AddIncludePath(p)
	}
	vol := d.Volume
	c.SetIncludeResolver(func(path string, angled bool) (string, error) {
		for _, dir := range includes {
			if data, err := vol.ReadFile(dir + "/" + path); err == nil {
				return string(data), nil
			}
		}
		return "", firmware.NewError(firmware.NotFound, "include "+path)
	})

	// Step 4: compile every manifest file; keep going after a failure
	// so the diagnostic stream covers the whole build, but never emit
	// if anything failed.
	manifest := d.Manifest
	if manifest == nil {
		manifest = DefaultManifest
	}
	var errs *multierror.Error
	compileOne := func(path string) {
		src, err := vol.ReadFile(path)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, err))
			return
		}
		if err := c.CompileSource(string(src), path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	for _, path := range manifest {
		compileOne(path)
	}
	c.Define("__UEFI__", "1")
	compileOne(CompilerUnitySource)
	compileOne(NlexitSource(d.Arch))

	if err := errs.ErrorOrNil(); err != nil {
		return Result{ErrorMsg: c.Errors()}, err
	}

	img, err := c.EmitFirmwareBinary()
	if err != nil {
		return Result{ErrorMsg: c.Errors()}, fmt.Errorf("rebuild: %w", err)
	}

	// Step 5: only now, with a complete image in hand, replace the boot
	// binary.
	boot := BootPath(d.Arch)
	if dm, ok := vol.(fs.DirMaker); ok {
		if err := dm.MkdirAll("/EFI/BOOT"); err != nil {
			return Result{ErrorMsg: c.Errors()}, fmt.Errorf("rebuild: %w", err)
		}
	}
	if err := vol.WriteFile(boot, img); err != nil {
		return Result{ErrorMsg: c.Errors()}, fmt.Errorf("rebuild: writing %s: %w", boot, err)
	}
	return Result{BootPath: boot, ImageSize: len(img)}, nil
}

// PromptReboot implements step 6: wait for a key and issue a cold reset
// on 'R' (or 'r'). Any other key declines.
func (d *Driver) PromptReboot() error {
	log := d.Log
	if log == nil {
		log = wslog.DefaultLogger
	}
	ev, err := d.FW.KeyboardReadEvent(true)
	if err != nil {
		return err
	}
	if ev.Code == 'R' || ev.Code == 'r' {
		return d.FW.Reset(firmware.ResetCold)
	}
	log.Warnf("rebuild: reboot declined")
	return nil
}
