// Package runner is the code-execution runtime wrapper (§4.J): compile
// a source string to memory, register the workstation's API symbols,
// arm the nonlocal-exit landing site, invoke the user entry point, and
// capture diagnostics.
package runner

import (
	"io"
	"sync"

	"github.com/levkropp/survival/pkg/cc"
	"github.com/levkropp/survival/pkg/firmware"
	"github.com/levkropp/survival/pkg/fs"
	"github.com/levkropp/survival/pkg/libc"
	"github.com/levkropp/survival/pkg/memalloc"
	"github.com/levkropp/survival/pkg/nlexit"
)

// exitZeroSentinel substitutes an exit code of zero across the nonlocal
// transfer so the landing site can distinguish a real termination from
// the initial jump (§4.F, §4.J step 8); pkg/libc encodes it, this
// package decodes it. Matches pkg/libc's exitSentinel: the int32 two's
// complement form of 0xE0E00E0E, sign-extended to int.
const exitZeroSentinel = -0x1F1FF1F2

// Result is the outcome of one compile-and-run.
type Result struct {
	ExitCode int
	Success  bool
	ErrorMsg string
}

// Runner wires the compile-and-run pipeline to the workstation's
// services. Exactly one RunSource may be in flight at a time (§5's
// single-thread-of-execution model); a concurrent call fails with
// Unsupported instead of silently interleaving.
type Runner struct {
	FW      firmware.Services
	Alloc   *memalloc.Allocator
	Volume  fs.Volume // backs user-code file access and /include lookups; may be nil
	Console io.Writer // normal-stream destination for user-code output

	mu sync.Mutex
}

// New returns a Runner.
func New(fw firmware.Services, alloc *memalloc.Allocator, volume fs.Volume, console io.Writer) *Runner {
	if console == nil {
		console = io.Discard
	}
	return &Runner{FW: fw, Alloc: alloc, Volume: volume, Console: console}
}

// RunSource compiles src to memory and invokes its main function,
// following §4.J's procedure step by step. The returned error is
// reserved for infrastructure failures; compile errors and user-program
// outcomes are reported through Result.
func (r *Runner) RunSource(src, filename string) (Result, error) {
	if !r.mu.TryLock() {
		return Result{}, firmware.NewError(firmware.Unsupported, "run_source: already running")
	}
	defer r.mu.Unlock()

	// Steps 1-2: error capture, compiler instantiation, options.
	c := cc.New()
	c.SetOutputKind(cc.OutputMemory)
	c.SetOption("-nostdlib")
	c.SetOption("-nostdinc")
	c.AddIncludePath("/include")
	if r.Volume != nil {
		vol := r.Volume
		c.SetIncludeResolver(func(path string, angled bool) (string, error) {
			data, err := vol.ReadFile("/include/" + path)
			if err != nil {
				return "", err
			}
			return string(data), nil
		})
	}

	// Step 3: register the workstation API and the libc subset.
	ctx := nlexit.New()
	sink := libc.NewOutputSink(r.Console, c.ErrorRing())
	shim := libc.New(r.Alloc, r.Volume, sink)
	shim.ExitCtx = ctx
	r.registerAPI(c, shim)

	// Steps 4-5: compile (the #line preamble is prepended inside).
	prog, err := c.Compile(src, filename)
	if err != nil {
		return Result{Success: false, ErrorMsg: c.Errors()}, nil
	}

	// Step 6: resolve the entry point.
	mainFn, ok := prog.Lookup("main")
	if !ok {
		return Result{Success: false, ErrorMsg: "No main() function found"}, nil
	}

	// Steps 7-8: arm the landing site, save, invoke.
	var runErr error
	direct, value := ctx.Save(func() int {
		v, err := mainFn.Call()
		if err != nil {
			runErr = err
			return -1
		}
		return int(v.Int)
	})
	// Step 9: the context is disarmed by Save; report.
	if runErr != nil {
		c.ErrorRing().Errorf("%s: %s", filename, runErr.Error())
		return Result{Success: false, ErrorMsg: c.Errors()}, nil
	}
	code := value
	if !direct && code == exitZeroSentinel {
		code = 0
	}
	return Result{ExitCode: code, Success: true, ErrorMsg: c.Errors()}, nil
}

// registerAPI exports the workstation's surface into the compilation's
// symbol table (§4.J step 3): framebuffer, keyboard, memory,
// filesystem, boot state, and the libc subset user programs rely on.
func (r *Runner) registerAPI(c *cc.Compiler, shim *libc.Shim) {
	// Memory.
	c.RegisterSymbol("malloc", func(a []cc.Value) cc.Value {
		return cc.PtrValue(shim.Malloc(int(a[0].Int)))
	})
	c.RegisterSymbol("free", func(a []cc.Value) cc.Value {
		shim.Free(a[0].Ptr)
		return cc.Value{}
	})
	c.RegisterSymbol("realloc", func(a []cc.Value) cc.Value {
		return cc.PtrValue(shim.Realloc(a[0].Ptr, int(a[1].Int)))
	})
	c.RegisterSymbol("calloc", func(a []cc.Value) cc.Value {
		return cc.PtrValue(shim.Calloc(int(a[0].Int), int(a[1].Int)))
	})
	c.RegisterSymbol("memcpy", func(a []cc.Value) cc.Value {
		return cc.PtrValue(libc.Memcpy(a[0].Ptr, a[1].Ptr, int(a[2].Int)))
	})
	c.RegisterSymbol("memset", func(a []cc.Value) cc.Value {
		return cc.PtrValue(libc.Memset(a[0].Ptr, byte(a[1].Int), int(a[2].Int)))
	})

	// Strings and formatted output.
	c.RegisterSymbol("strlen", func(a []cc.Value) cc.Value {
		return cc.IntValue(int64(libc.Strlen(a[0].Ptr)))
	})
	c.RegisterSymbol("strcmp", func(a []cc.Value) cc.Value {
		return cc.IntValue(int64(libc.Strcmp(a[0].Ptr, a[1].Ptr)))
	})
	c.RegisterSymbol("printf", func(a []cc.Value) cc.Value {
		return cc.IntValue(int64(shim.Printf(a[0].Str(), fmtArgs(a[1:])...)))
	})
	c.RegisterSymbol("snprintf", func(a []cc.Value) cc.Value {
		if len(a) < 2 || a[0].Ptr == nil {
			return cc.IntValue(0)
		}
		dst := a[0].Ptr
		if n := int(a[1].Int); n < len(dst) {
			dst = dst[:n]
		}
		return cc.IntValue(int64(libc.Snprintf(dst, a[2].Str(), fmtArgs(a[3:])...)))
	})
	c.RegisterSymbol("puts", func(a []cc.Value) cc.Value {
		return cc.IntValue(int64(shim.Puts(a[0].Ptr)))
	})

	// Termination.
	c.RegisterSymbol("exit", func(a []cc.Value) cc.Value {
		shim.Exit(int32(a[0].Int))
		return cc.Value{}
	})
	c.RegisterSymbol("abort", func(a []cc.Value) cc.Value {
		shim.Abort()
		return cc.Value{}
	})
	c.RegisterSymbol("_exit", func(a []cc.Value) cc.Value {
		shim.UnderscoreExit(int32(a[0].Int))
		return cc.Value{}
	})

	// Framebuffer.
	mode, hasGfx := r.FW.GraphicsProbe()
	c.RegisterSymbol("fb_width", func([]cc.Value) cc.Value {
		return cc.IntValue(int64(mode.Width))
	})
	c.RegisterSymbol("fb_height", func([]cc.Value) cc.Value {
		return cc.IntValue(int64(mode.Height))
	})
	c.RegisterSymbol("fb_put_pixel", func(a []cc.Value) cc.Value {
		if !hasGfx {
			return cc.IntValue(-1)
		}
		x, y := int(a[0].Int), int(a[1].Int)
		if x < 0 || y < 0 || x >= mode.Width || y >= mode.Height {
			return cc.IntValue(-1)
		}
		mode.Base[mode.At(x, y)] = uint32(a[2].Int)
		return cc.IntValue(0)
	})
	c.RegisterSymbol("fb_fill", func(a []cc.Value) cc.Value {
		if !hasGfx {
			return cc.IntValue(-1)
		}
		color := uint32(a[0].Int)
		for y := 0; y < mode.Height; y++ {
			row := mode.Base[y*mode.Stride : y*mode.Stride+mode.Width]
			for i := range row {
				row[i] = color
			}
		}
		return cc.IntValue(0)
	})

	// Keyboard.
	c.RegisterSymbol("kb_read_key", func([]cc.Value) cc.Value {
		ev, err := r.FW.KeyboardReadEvent(true)
		if err != nil {
			return cc.IntValue(-1)
		}
		return cc.IntValue(int64(ev.Code))
	})
	c.RegisterSymbol("kb_poll_key", func([]cc.Value) cc.Value {
		ev, err := r.FW.KeyboardReadEvent(false)
		if err != nil {
			return cc.IntValue(-1)
		}
		return cc.IntValue(int64(ev.Code))
	})

	// Filesystem, via the libc fd table (§4.F).
	c.RegisterSymbol("open", func(a []cc.Value) cc.Value {
		return cc.IntValue(int64(shim.Open(a[0].Str())))
	})
	c.RegisterSymbol("read", func(a []cc.Value) cc.Value {
		buf := a[1].Ptr
		if n := int(a[2].Int); n >= 0 && n < len(buf) {
			buf = buf[:n]
		}
		return cc.IntValue(int64(shim.Read(int32(a[0].Int), buf, len(buf))))
	})
	c.RegisterSymbol("close", func(a []cc.Value) cc.Value {
		return cc.IntValue(int64(shim.Close(int32(a[0].Int))))
	})
	c.RegisterSymbol("write", func(a []cc.Value) cc.Value {
		buf := a[1].Ptr
		if n := int(a[2].Int); n >= 0 && n < len(buf) {
			buf = buf[:n]
		}
		return cc.IntValue(int64(shim.Write(int32(a[0].Int), buf)))
	})

	// Boot state pointer: an opaque region user programs may inspect.
	c.RegisterData("__boot_state", make([]byte, 64))
}

// fmtArgs adapts C-level varargs to the formatted-output core's
// interface{} list: pointers become byte slices (for %s/%p), integers
// stay integers.
func fmtArgs(vals []cc.Value) []interface{} {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		if v.IsPtr() {
			out[i] = v.Ptr
		} else {
			out[i] = v.Int
		}
	}
	return out
}
