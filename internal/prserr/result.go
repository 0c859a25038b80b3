// Package prserr provides the result-code and fault taxonomy shared by every
// PRS subsystem, modeled on the TypeError/RangeError/TimeoutError pattern
// used throughout the eventloop package this runtime is built from.
package prserr

import (
	"errors"
	"fmt"
)

// Result is one of the internal result codes from spec.md §7. Callers
// propagate it upward as an error via Err/Errf/Wrap.
type Result int

const (
	OK Result = iota
	Unknown
	NotImplemented
	OutOfMemory
	PlatformError
	InvalidState
	NotFound
	AlreadyExists
	Empty
	Locked
	Timeout
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case Unknown:
		return "UNKNOWN"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	case PlatformError:
		return "PLATFORM_ERROR"
	case InvalidState:
		return "INVALID_STATE"
	case NotFound:
		return "NOT_FOUND"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case Empty:
		return "EMPTY"
	case Locked:
		return "LOCKED"
	case Timeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("UNKNOWN_RESULT(%d)", int(r))
	}
}

// Error lets a bare Result satisfy the error interface directly, so
// prserr.NotFound can be returned without extra context.
func (r Result) Error() string { return r.String() }

// resultError adapts a Result to the error interface with an added message
// and/or cause, mirroring eventloop's TypeError/RangeError/TimeoutError.
type resultError struct {
	Result  Result
	Message string
	Cause   error
}

func (e *resultError) Error() string {
	if e.Message == "" {
		return e.Result.String()
	}
	return e.Result.String() + ": " + e.Message
}

func (e *resultError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, prserr.NotFound) match regardless of wrapping.
func (e *resultError) Is(target error) bool {
	r, ok := target.(Result)
	return ok && e.Result == r
}

// Err wraps a Result as an error. OK wraps to nil, matching Go convention.
func Err(r Result) error {
	if r == OK {
		return nil
	}
	return &resultError{Result: r}
}

// Errf wraps a Result with a formatted message.
func Errf(r Result, format string, args ...any) error {
	return &resultError{Result: r, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps a Result around an existing cause, preserving it for
// errors.Unwrap/errors.Is chains.
func Wrap(r Result, cause error) error {
	return &resultError{Result: r, Cause: cause, Message: cause.Error()}
}

// Is reports whether err carries the Result r anywhere in its chain.
func Is(err error, r Result) bool {
	return errors.Is(err, r)
}
