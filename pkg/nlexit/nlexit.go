// Package nlexit implements the nonlocal-exit primitive (§4.G, §9
// "Nonlocal exit (setjmp/longjmp)"): a control transfer that abandons
// the current call stack and resumes at a previously recorded landing
// site, used by pkg/libc's exit()/abort() and driven by pkg/runner
// around a compiled program's main().
//
// The real implementation is architecture-specific assembly that saves
// and restores callee-preserved registers, the stack pointer, and the
// return address (§3 "Nonlocal-exit context"). This repository runs
// under a real OS goroutine scheduler, not bare-metal cooperative
// dispatch, and has no access to raw assembly or cgo; Context therefore
// implements the same observable contract (Testable Property 7) with a
// goroutine-and-channel handshake instead of register manipulation. The
// architecture-specific packages pkg/nlexit/arm64 and pkg/nlexit/amd64
// each document this substitution explicitly and additionally record
// the real register-save-area layout their architecture would use, so
// the simulation boundary is visible rather than silently papered over.
package nlexit

import "sync"

// Context is the nonlocal-exit landing site (§3): an active flag
// indicating whether a landing site is armed, plus the handshake state
// standing in for the architecture's register save area.
type Context struct {
	mu       sync.Mutex
	active   bool
	resultCh chan int
}

// New returns a disarmed Context.
func New() *Context { return &Context{} }

// Active reports whether a landing site is currently armed.
func (c *Context) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Context) arm() chan int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.resultCh = make(chan int, 1)
	return c.resultCh
}

func (c *Context) disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.resultCh = nil
}

func (c *Context) channel() chan int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resultCh
}

// nonlocalJump is the panic value Restore raises; Save's recover only
// ever catches this type and re-panics anything else, so a genuine bug
// in body never gets silently swallowed by the simulation.
type nonlocalJump int

// Save arms ctx and runs body to completion, exactly once, reporting
// which of the two return paths §4.J step 8 describes was taken:
//
//   - (true, v): the initial/direct path — body returned normally with
//     value v.
//   - (false, c): the nonlocal path — something body called invoked
//     Restore(c) instead of returning; c is never 0 (Testable Property 7;
//     Restore substitutes a zero code with 1 before the jump).
//
// Save disarms ctx before returning either way.
func (c *Context) Save(body func() int) (direct bool, value int) {
	resultCh := c.arm()
	defer c.disarm()

	done := make(chan int, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if nj, ok := r.(nonlocalJump); ok {
					resultCh <- int(nj)
					return
				}
				panic(r)
			}
		}()
		done <- body()
	}()

	select {
	case v := <-done:
		return true, v
	case code := <-resultCh:
		return false, code
	}
}

// Restore performs the nonlocal jump to ctx's armed landing site with
// the given code. It never returns to its caller. Calling Restore on a
// disarmed context is a no-op, matching "no caller above this shim
// expects a return" degrading to a safe do-nothing rather than a panic
// that would escape to an unrelated goroutine.
func (c *Context) Restore(code int) {
	if !c.Active() {
		return
	}
	if code == 0 {
		code = 1 // §4.G: a zero code is ambiguous with "no jump occurred"
	}
	panic(nonlocalJump(code))
}
