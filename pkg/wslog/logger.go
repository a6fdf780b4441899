// Package wslog provides the workstation's single logging contract.
//
// Every subsystem logs through the Logger interface rather than the
// standard log package, because the workstation has two places a
// message can matter: the operator-visible console (status line,
// serial fallback) and the bounded diagnostic capture buffer whose
// contents become a compile result's error_msg. ConsoleLogger serves
// the first and mirrors errors into the second; Ring (ring.go) is the
// capture buffer itself, usable directly as a Logger when only capture
// is wanted.
package wslog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger is the logging contract every subsystem writes through.
type Logger interface {
	// Warnf reports a recoverable oddity. Warnings reach the console
	// only; they are not part of a compilation's diagnostic stream.
	Warnf(format string, args ...interface{})

	// Errorf reports a failure the operator should see. Errors reach
	// the console and, when a capture ring is attached, the ring.
	Errorf(format string, args ...interface{})

	// Fatalf reports an unrecoverable failure and terminates. Host-side
	// tools terminate the process; on the firmware side there is no
	// process to terminate, so library code never calls Fatalf — it
	// returns typed errors instead (the §7 propagation policy).
	Fatalf(format string, args ...interface{})
}

// ConsoleLogger writes severity-tagged lines to a console sink and
// mirrors error-severity output into an optional capture Ring, so one
// call site feeds both the status display and the diagnostic buffer.
type ConsoleLogger struct {
	mu sync.Mutex

	// Out receives every line: the firmware text console, a serial
	// port, or stderr for host-side tools.
	Out io.Writer

	// Capture, when non-nil, additionally receives Errorf and Fatalf
	// output. Warnings are deliberately excluded: the capture buffer is
	// bounded and its content becomes error_msg.
	Capture *Ring

	// Terminate runs after a Fatalf line is emitted. Host tools leave
	// it nil and get os.Exit(1); anything running under firmware
	// installs its own (typically a reset request), since exiting a
	// process that does not exist is meaningless there.
	Terminate func()
}

// NewConsoleLogger returns a ConsoleLogger writing to out with errors
// mirrored into capture (which may be nil).
func NewConsoleLogger(out io.Writer, capture *Ring) *ConsoleLogger {
	return &ConsoleLogger{Out: out, Capture: capture}
}

// Warnf implements Logger.
func (l *ConsoleLogger) Warnf(format string, args ...interface{}) {
	l.emit("warning", false, format, args...)
}

// Errorf implements Logger.
func (l *ConsoleLogger) Errorf(format string, args ...interface{}) {
	l.emit("error", true, format, args...)
}

// Fatalf implements Logger.
func (l *ConsoleLogger) Fatalf(format string, args ...interface{}) {
	l.emit("fatal", true, format, args...)
	if l.Terminate != nil {
		l.Terminate()
		return
	}
	os.Exit(1)
}

func (l *ConsoleLogger) emit(severity string, capture bool, format string, args ...interface{}) {
	line := severity + ": " + fmt.Sprintf(format, args...) + "\n"
	l.mu.Lock()
	if l.Out != nil {
		_, _ = io.WriteString(l.Out, line)
	}
	l.mu.Unlock()
	if capture && l.Capture != nil {
		_, _ = l.Capture.Write([]byte(line))
	}
}

// DefaultLogger is the logger used unless a subsystem is handed its
// own. It is installed by explicit assignment at bootstrap, never by
// package init side effects beyond this stderr fallback.
var DefaultLogger Logger = NewConsoleLogger(os.Stderr, nil)

// Warnf logs a warning through DefaultLogger.
func Warnf(format string, args ...interface{}) { DefaultLogger.Warnf(format, args...) }

// Errorf logs an error through DefaultLogger.
func Errorf(format string, args ...interface{}) { DefaultLogger.Errorf(format, args...) }

// Fatalf logs a fatal message through DefaultLogger and terminates.
func Fatalf(format string, args ...interface{}) { DefaultLogger.Fatalf(format, args...) }
