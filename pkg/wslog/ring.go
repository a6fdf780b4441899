package wslog

import (
	"fmt"
	"sync"
)

// Ring is a bounded, overflow-truncating capture buffer. It implements
// Logger so the compiler's error callback (§4.H/§4.J) and the formatted
// output sink (§4.F) can both write diagnostics into the same object that
// later becomes a compile result's error_msg.
//
// Errorf and Warnf both append to the buffer; Fatalf is not expected to be
// called on a Ring (there is nothing sensible to terminate) and panics if
// it is, since that would indicate a logger mismatch rather than a normal
// error path.
type Ring struct {
	mu  sync.Mutex
	cap int
	buf []byte
}

// NewRing returns a Ring that retains at most capacity bytes. Once full,
// the oldest content is kept and new writes are truncated (not rotated)
// — matching §7's "bounded, overflow-truncating" error buffer.
func NewRing(capacity int) *Ring {
	return &Ring{cap: capacity}
}

// Warnf appends a warning line.
func (r *Ring) Warnf(format string, args ...interface{}) {
	r.append("warning: " + fmt.Sprintf(format, args...) + "\n")
}

// Errorf appends an error line.
func (r *Ring) Errorf(format string, args ...interface{}) {
	r.append(fmt.Sprintf(format, args...) + "\n")
}

// Fatalf is not a valid operation on a capture ring.
func (r *Ring) Fatalf(format string, args ...interface{}) {
	panic("wslog: Fatalf called on a Ring logger: " + fmt.Sprintf(format, args...))
}

// Write implements io.Writer so the formatted-output sink (§4.F) can
// multiplex raw bytes (not just formatted log lines) into the same ring.
func (r *Ring) Write(p []byte) (int, error) {
	r.append(string(p))
	return len(p), nil
}

func (r *Ring) append(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.cap - len(r.buf)
	if room <= 0 {
		return
	}
	if len(s) > room {
		s = s[:room]
	}
	r.buf = append(r.buf, s...)
}

// String returns the captured content so far.
func (r *Ring) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

// Reset empties the buffer. pkg/cc does not call it: each cc.Compiler
// starts with its own fresh Ring, so every compilation begins with an
// empty buffer (§7).
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = r.buf[:0]
}

// Len reports the number of bytes currently captured.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
