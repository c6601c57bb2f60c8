package vbd

import "fmt"

// ErrorKind mirrors blockcache's closed error-kind enum so callers above
// VBD never need to special-case which subsystem failed.
type ErrorKind int

const (
	ErrIOError ErrorKind = iota
	ErrBadArgument
	ErrOutOfRange
	ErrNotFound
	ErrBusy
	ErrUnsupported
)

// Error is VBD's error type.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
