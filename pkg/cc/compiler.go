package cc

import (
	"fmt"
	"strings"

	"github.com/levkropp/survival/pkg/cc/amd64"
	"github.com/levkropp/survival/pkg/cc/arm64"
	"github.com/levkropp/survival/pkg/cc/ir"
	"github.com/levkropp/survival/pkg/cc/link"
	"github.com/levkropp/survival/pkg/wslog"
)

// OutputKind selects what Compile produces (§4.H).
type OutputKind int

const (
	// OutputMemory compiles for immediate in-process execution: the
	// resulting Program resolves function names to callable entry
	// points, with external symbols satisfied from the registry.
	OutputMemory OutputKind = iota
	// OutputFirmwareBinary compiles to a position-independent
	// firmware-format image with subsystem tag 10 and entry point
	// efi_main, via the per-architecture backend and pkg/cc/link.
	OutputFirmwareBinary
)

// Value is one C-level value crossing the boundary between compiled
// code and registered externals: an integer, or a pointer represented
// as a byte region. A NUL-terminated Ptr is how C strings arrive.
type Value struct {
	Int int64
	Ptr []byte
}

// IsPtr reports whether v carries a pointer.
func (v Value) IsPtr() bool { return v.Ptr != nil }

// Str decodes a pointer value as a NUL-terminated C string.
func (v Value) Str() string {
	for i, b := range v.Ptr {
		if b == 0 {
			return string(v.Ptr[:i])
		}
	}
	return string(v.Ptr)
}

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{Int: i} }

// PtrValue wraps a byte region.
func PtrValue(p []byte) Value { return Value{Ptr: p} }

// ExternFunc is a registered external symbol: the workstation API and
// the libc subset arrive as these (§4.J step 3).
type ExternFunc func(args []Value) Value

// IncludeResolver loads the content of an #include target. angled is
// true for <...> form.
type IncludeResolver func(path string, angled bool) (string, error)

// MapResolver resolves includes from an in-memory map, used by tests
// and by callers that preload headers (pkg/runner's /include tree).
func MapResolver(files map[string]string) IncludeResolver {
	return func(path string, angled bool) (string, error) {
		if content, ok := files[path]; ok {
			return content, nil
		}
		return "", fmt.Errorf("file not found")
	}
}

// Diagnostic is one structured compiler message; the flat error_msg
// string is the ring's rendering of the same content.
type Diagnostic struct {
	File    string
	Line    int
	Message string
}

// errRingCap bounds the error-capture buffer (§7: ~4 KiB,
// overflow-truncating).
const errRingCap = 4096

// Compiler is one compilation state (§3): error buffer, include paths,
// exported symbol table, options, and target output kind. It
// accumulates translation units via CompileSource — the self-rebuild
// path feeds it every workstation source file in order — and produces
// either a callable Program or a firmware-format image.
//
// A Compiler is single-use per §5's process model: one compilation at a
// time, torn down afterward.
type Compiler struct {
	output    OutputKind
	arch      string
	options   []string
	defines   map[string]string
	includes  []string
	resolver  IncludeResolver
	errs      *wslog.Ring
	externs   map[string]ExternFunc
	externDat map[string][]byte
	wideUTF16 bool
	diags     []Diagnostic

	unit *program // merged translation units
}

// New returns a Compiler with defaults: MEMORY output, wide string
// literals as UTF-16 code units (§4.H's wide character contract), and a
// fresh, empty error ring.
func New() *Compiler {
	return &Compiler{
		defines:   make(map[string]string),
		externs:   make(map[string]ExternFunc),
		externDat: make(map[string][]byte),
		errs:      wslog.NewRing(errRingCap),
		wideUTF16: true,
		arch:      "amd64",
		unit:      &program{funcs: map[string]*funcDecl{}, globals: map[string]*globalDecl{}},
	}
}

// SetOutputKind selects MEMORY or FIRMWARE_BINARY output.
func (c *Compiler) SetOutputKind(k OutputKind) { c.output = k }

// SetArch selects the FIRMWARE_BINARY target architecture ("amd64" or
// "arm64"). Ignored for MEMORY output.
func (c *Compiler) SetArch(arch string) { c.arch = arch }

// SetOption records a driver option string ("-nostdlib", "-Werror",
// "-Wl,-subsystem=efiapp", ...). The recognized -Wl,-e= form overrides
// the entry symbol; the rest are accepted for command-line fidelity and
// recorded.
func (c *Compiler) SetOption(opt string) { c.options = append(c.options, opt) }

// Options returns the recorded option strings.
func (c *Compiler) Options() []string { return c.options }

// AddIncludePath appends a search path for #include resolution.
func (c *Compiler) AddIncludePath(p string) { c.includes = append(c.includes, p) }

// SetIncludeResolver installs the loader consulted for #include
// targets. The resolver receives the raw include spelling; it should
// try each of IncludePaths itself if it distinguishes them.
func (c *Compiler) SetIncludeResolver(r IncludeResolver) { c.resolver = r }

// IncludePaths returns the configured include search paths.
func (c *Compiler) IncludePaths() []string { return c.includes }

// Define adds an object-like macro definition (the -D flag's
// equivalent; pkg/rebuild defines __UEFI__ this way).
func (c *Compiler) Define(name, value string) { c.defines[name] = value }

// SetWideCharUTF16 controls the wide character contract: when true
// (default), L"..." literals yield 16-bit UTF-16 code units regardless
// of target platform convention (§4.H).
func (c *Compiler) SetWideCharUTF16(on bool) { c.wideUTF16 = on }

// RegisterSymbol exports a callable external under its C name (§4.J
// step 3).
func (c *Compiler) RegisterSymbol(name string, fn ExternFunc) { c.externs[name] = fn }

// RegisterData exports a data region under a C name (the boot-state
// pointer arrives this way).
func (c *Compiler) RegisterData(name string, data []byte) { c.externDat[name] = data }

// Errors returns the captured diagnostic stream (the error_msg field of
// a compile result).
func (c *Compiler) Errors() string { return c.errs.String() }

// ErrorRing exposes the capture ring so a caller can route additional
// output (the formatted-output sink's error stream) into it.
func (c *Compiler) ErrorRing() *wslog.Ring { return c.errs }

// Diagnostics returns the structured form of the captured errors.
func (c *Compiler) Diagnostics() []Diagnostic { return c.diags }

// recordError captures err in both the ring and the structured list.
func (c *Compiler) recordError(err error) {
	msg := err.Error()
	c.errs.Errorf("%s", msg)
	d := Diagnostic{Message: msg}
	// Parser/lexer errors render as "file:line: message".
	if i := strings.Index(msg, ": "); i > 0 {
		loc := msg[:i]
		if j := strings.LastIndexByte(loc, ':'); j > 0 {
			d.File = loc[:j]
			fmt.Sscanf(loc[j+1:], "%d", &d.Line)
			d.Message = msg[i+2:]
		}
	}
	c.diags = append(c.diags, d)
}

// CompileSource preprocesses and parses one source file into the
// compilation unit. The preprocessor opens the output with the
// synthetic `#line 1 "<filename>"` preamble (§4.J step 4) so
// diagnostics reference the caller's filename. The first error aborts
// this file and is captured in the error ring.
func (c *Compiler) CompileSource(src, filename string) error {
	pre, err := preprocess(src, filename, c.defines, includeResolver(c.resolver), 0)
	if err != nil {
		c.recordError(err)
		return err
	}
	prog, err := parseProgram(pre, filename)
	if err != nil {
		c.recordError(err)
		return err
	}
	for _, name := range prog.order {
		fn := prog.funcs[name]
		if prev, ok := c.unit.funcs[name]; ok && prev.body != nil && fn.body != nil {
			err := fmt.Errorf("%s:%d: redefinition of %q", fn.file, fn.line, name)
			c.recordError(err)
			return err
		}
		if prev, ok := c.unit.funcs[name]; !ok || prev.body == nil {
			if _, ok := c.unit.funcs[name]; !ok {
				c.unit.order = append(c.unit.order, name)
			}
			c.unit.funcs[name] = fn
		}
	}
	for name, g := range prog.globals {
		c.unit.globals[name] = g
	}
	return nil
}

// Program finalizes a MEMORY compilation: the returned Program resolves
// function names to callable entry points whose external references are
// satisfied from the symbol registry.
func (c *Compiler) Program() (*Program, error) {
	if c.output != OutputMemory {
		return nil, fmt.Errorf("cc: Program requires MEMORY output kind")
	}
	return &Program{c: c, unit: c.unit}, nil
}

// Compile is the single-file convenience the run_source path uses
// (§4.J step 5): CompileSource followed by Program.
func (c *Compiler) Compile(src, filename string) (*Program, error) {
	if err := c.CompileSource(src, filename); err != nil {
		return nil, err
	}
	return c.Program()
}

// EmitFirmwareBinary lowers the accumulated unit through the selected
// architecture backend and links it into the firmware binary format.
// The entry point defaults to efi_main; a recorded -Wl,-e= option
// overrides it.
func (c *Compiler) EmitFirmwareBinary() ([]byte, error) {
	if c.output != OutputFirmwareBinary {
		return nil, fmt.Errorf("cc: EmitFirmwareBinary requires FIRMWARE_BINARY output kind")
	}
	entry := link.DefaultEntry
	for _, opt := range c.options {
		if strings.HasPrefix(opt, "-Wl,-e=") {
			entry = strings.TrimPrefix(opt, "-Wl,-e=")
		}
	}
	mod, err := c.lower(entry)
	if err != nil {
		c.recordError(err)
		return nil, err
	}
	var backend ir.Backend
	switch c.arch {
	case "amd64":
		backend = amd64.Backend{}
	case "arm64":
		backend = arm64.Backend{}
	default:
		return nil, fmt.Errorf("cc: unsupported architecture %q", c.arch)
	}
	obj, err := backend.Emit(mod)
	if err != nil {
		c.recordError(err)
		return nil, err
	}
	img, err := link.Write(obj, link.Options{Arch: c.arch, Entry: entry})
	if err != nil {
		c.recordError(err)
		return nil, err
	}
	return img, nil
}

// encodeString materializes a string literal per the wide character
// contract: narrow literals are NUL-terminated bytes; wide literals are
// UTF-16LE code units with a 16-bit terminator when wideUTF16 is set,
// else 32-bit units.
func (c *Compiler) encodeString(s string, wide bool) []byte {
	if !wide {
		return append([]byte(s), 0)
	}
	var out []byte
	unitBytes := 2
	if !c.wideUTF16 {
		unitBytes = 4
	}
	for _, r := range s {
		u := uint32(r)
		if c.wideUTF16 && u > 0xFFFF {
			// Surrogate pair.
			u -= 0x10000
			hi := 0xD800 + (u >> 10)
			lo := 0xDC00 + (u & 0x3FF)
			out = append(out, byte(hi), byte(hi>>8), byte(lo), byte(lo>>8))
			continue
		}
		for i := 0; i < unitBytes; i++ {
			out = append(out, byte(u>>(8*i)))
		}
	}
	for i := 0; i < unitBytes; i++ {
		out = append(out, 0)
	}
	return out
}
