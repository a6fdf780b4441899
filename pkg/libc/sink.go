package libc

import (
	"io"
	"sync"
)

// OutputSink multiplexes formatted output (§4.F) to the framebuffer
// console and, simultaneously, to an error-capture ring (used when
// compiled code writes to the error stream). Both destinations are
// io.Writers, so either can be any Logger/Ring that also satisfies
// io.Writer (pkg/wslog.Ring does).
type OutputSink struct {
	mu      sync.Mutex
	Normal  io.Writer // e.g. the framebuffer console
	ErrCap  io.Writer // e.g. a *wslog.Ring, reset per-compilation
	toError bool      // unused: WriteStream picks the destination from fd
}

// NewOutputSink returns a sink writing to normal for fd 1 and to both
// normal and errCap for fd 2, matching "the sink multiplexes to the
// framebuffer and to an error-capture ring" (§4.F).
func NewOutputSink(normal, errCap io.Writer) *OutputSink {
	return &OutputSink{Normal: normal, ErrCap: errCap}
}

// WriteStream writes p to fd's destination(s). fd must be FDStdout or
// FDStderr; any other value is a caller error (returns 0, false).
func (s *OutputSink) WriteStream(fd int32, p []byte) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch fd {
	case FDStdout:
		if s.Normal != nil {
			_, _ = s.Normal.Write(p)
		}
		return len(p), true
	case FDStderr:
		if s.Normal != nil {
			_, _ = s.Normal.Write(p)
		}
		if s.ErrCap != nil {
			_, _ = s.ErrCap.Write(p)
		}
		return len(p), true
	default:
		return 0, false
	}
}
