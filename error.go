package govdp

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	if _, ok := err.(unrecoverableError); ok {
		return false
	}
	return true
}

var (
	ErrPayloadTooLarge = errors.New("payload exceeds 247 bytes")
	ErrTableFull       = errors.New("transaction table full")
	ErrNilAdapter      = errors.New("adapter is nil")
	ErrDroppedChunk    = errors.New("adapter incoming channel full")
	ErrSendTimeout     = errors.New("timeout sending frame")
	ErrAdapterClosed   = errors.New("adapter is closed")
	ErrEngineClosed    = errors.New("engine is closed")
)

// InvalidKind enumerates the defects the parser can report.
type InvalidKind int

const (
	BadLength InvalidKind = iota
	BadStart
	BadEnd
	BadChecksum
	GarbageBeforeStart
	Truncated
)

func (k InvalidKind) String() string {
	switch k {
	case BadLength:
		return "bad length"
	case BadStart:
		return "bad start marker"
	case BadEnd:
		return "bad end marker"
	case BadChecksum:
		return "bad checksum"
	case GarbageBeforeStart:
		return "garbage before start marker"
	case Truncated:
		return "truncated frame"
	default:
		return "unknown defect"
	}
}

// FrameError describes a single structural defect in a byte window.
type FrameError struct {
	Kind   InvalidKind
	Reason string
}

func (e *FrameError) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return e.Reason
}

// TimeoutError formats the Reason of a Timeout outcome, produced by blocking
// sends and by the timeout sweep when a deadline passes.
type TimeoutError struct {
	Timeout int64 // milliseconds
	EcuID   uint8
	Command Command
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout (%dms) for ECU 0x%02X", e.Command, e.Timeout, e.EcuID)
}
