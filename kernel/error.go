// Package kernel provides the base error type shared by every kernel
// subsystem.
package kernel

// ErrCode enumerates the closed set of error conditions that kernel entry
// points may surface to their callers. The zero value means success.
type ErrCode int32

const (
	EOK ErrCode = iota
	EInvalidArg
	EOutOfMemory
	ENotFound
	EBusy
	ETimedOut
	ENotMapped
	ESegFault
	ECorrupt
	EUnsupported
)

// String returns a short name for the error code.
func (c ErrCode) String() string {
	switch c {
	case EOK:
		return "ok"
	case EInvalidArg:
		return "invalid argument"
	case EOutOfMemory:
		return "out of memory"
	case ENotFound:
		return "not found"
	case EBusy:
		return "busy"
	case ETimedOut:
		return "timed out"
	case ENotMapped:
		return "not mapped"
	case ESegFault:
		return "segmentation fault"
	case ECorrupt:
		return "corrupted"
	case EUnsupported:
		return "unsupported"
	}
	return "unknown"
}

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the Go allocator is not available to us so we cannot use
// errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error condition class.
	Code ErrCode

	// The error message.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
