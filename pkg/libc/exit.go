package libc

// exitSentinel substitutes a requested termination code of zero so the
// landing site's predicate can always distinguish "nonlocal exit with
// code 0" from "the initial, direct return" (§4.F, §4.G Testable
// Property 7). Expressed as the int32 two's complement form of
// 0xE0E00E0E so it fits the 32-bit C int domain this shim models; the
// bit pattern is unchanged, and pkg/runner decodes it back by widening
// the same int32 value (sign-extended) rather than reinterpreting it.
const exitSentinel int32 = -0x1F1FF1F2

// Exit performs exit()'s nonlocal jump: if the nonlocal-exit context is
// armed, transfers to its landing site with the requested code (0
// substituted with exitSentinel); otherwise spin-waits forever, since
// there is no caller above this shim that expects a return (§4.F).
func (s *Shim) Exit(code int32) {
	s.nonlocalExit(code)
}

// Abort performs abort()'s nonlocal jump with a code of 0 (substituted
// to exitSentinel), same contract as Exit.
func (s *Shim) Abort() {
	s.nonlocalExit(0)
}

// UnderscoreExit is the registry entry for _exit, identical to Exit in
// this freestanding environment (there is no distinction between
// "flush stdio buffers then exit" and "exit immediately" here, since
// OutputSink never buffers).
func (s *Shim) UnderscoreExit(code int32) {
	s.nonlocalExit(code)
}

func (s *Shim) nonlocalExit(code int32) {
	if s.ExitCtx == nil || !s.ExitCtx.Active() {
		select {} // spin-wait forever: no armed landing site to return to
	}
	c := code
	if c == 0 {
		c = exitSentinel
	}
	s.ExitCtx.Restore(int(c))
}

// Stubs returning safe defaults (§4.F). Each mirrors a real libc entry
// point that the bundled compiler links against but that has no
// meaningful freestanding implementation.

// Getenv always reports the variable as unset.
func Getenv(string) []byte { return nil }

// Time always reports the epoch: there is no wall clock service exposed
// through the firmware facade this shim is scoped to.
func Time() int64 { return 0 }

// Getcwd always reports the root.
func Getcwd(buf []byte) []byte {
	copy(buf, "/\x00")
	return buf
}

// Mprotect always succeeds: pages this shim hands out are already
// executable when allocated as such (pkg/memalloc.ExecutableAllocator),
// so there is nothing left for mprotect to change.
func Mprotect([]byte, int) int { return 0 }

// Signal returns SIG_DFL (0), meaning "the default handler remains
// installed" — there is no signal delivery in this environment.
func Signal(int32, uintptr) uintptr { return 0 }

// Dlopen always fails: there is no dynamic loader.
func Dlopen(string, int32) uintptr { return 0 }

// Dlsym always fails, for the same reason.
func Dlsym(uintptr, string) uintptr { return 0 }

// Realpath duplicates its input (there is no symlink resolution or
// relative-path canonicalization to perform against a single flat
// volume root).
func (s *Shim) Realpath(path []byte) []byte { return s.Strdup(path) }
