// Package firmware defines the uniform, language-neutral view of
// firmware-provided capabilities (console I/O, allocation, timing,
// graphics, keyboard, block devices, file volumes, reset) that the rest
// of the workstation is built on. See Services.
package firmware

import "fmt"

// ErrorCode is the error taxonomy every firmware-facing operation in this
// module reports through, per the propagation policy.
type ErrorCode int

// Error codes. Zero value is intentionally unused so a bare ErrorCode(0)
// is never mistaken for a valid, specific code.
const (
	_ ErrorCode = iota
	// NotFound means the requested object does not exist (file, device,
	// protocol).
	NotFound
	// BadParameter means a caller-supplied argument is invalid.
	BadParameter
	// Unsupported means the operation is not implemented for this target.
	Unsupported
	// OutOfResources means allocation or handle exhaustion.
	OutOfResources
	// DeviceError means a hardware-level I/O failure.
	DeviceError
	// AccessDenied means a read-only volume, protected region, or the
	// boot device was targeted by a destructive operation.
	AccessDenied
	// BufferTooSmall means the caller must re-issue with a larger buffer
	// (the two-call firmware-info pattern).
	BufferTooSmall
	// NotReady means no input is available (a non-blocking keyboard
	// poll found nothing).
	NotReady
)

var codeNames = map[ErrorCode]string{
	NotFound:       "NotFound",
	BadParameter:   "BadParameter",
	Unsupported:    "Unsupported",
	OutOfResources: "OutOfResources",
	DeviceError:    "DeviceError",
	AccessDenied:   "AccessDenied",
	BufferTooSmall: "BufferTooSmall",
	NotReady:       "NotReady",
}

// String implements fmt.Stringer.
func (c ErrorCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is the concrete error type every package in this module returns
// or wraps. Callers that need to distinguish error categories use
// errors.As to recover the Code.
type Error struct {
	Code ErrorCode
	Op   string // operation that failed, e.g. "read_blocks"
	Err  error  // wrapped underlying cause, may be nil
}

// NewError constructs an *Error with no wrapped cause.
func NewError(code ErrorCode, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap constructs an *Error that also carries an underlying cause.
func Wrap(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Code, so
// errors.Is(err, firmware.NewError(firmware.NotFound, "")) works without
// caring about Op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}
