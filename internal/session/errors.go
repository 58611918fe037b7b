package session

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrNotFound is returned when a request names a buffer the session does
	// not own.
	ErrNotFound = errors.New("not found")
	// ErrOutOfRange is returned for indices outside a session table.
	ErrOutOfRange = errors.New("out of range")
	// ErrClosed is returned by a session after Close.
	ErrClosed = errors.New("session closed")
)

// Error is a request failure that carries the errno reported to the guest.
type Error struct {
	Code    syscall.Errno
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new request error.
func NewError(code syscall.Errno, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Status maps an error to the wire status of a response. Errors carrying an
// errno give its negation, lookup failures give -ENOTSUP and anything else
// gives -EIO.
func Status(err error) int32 {
	if err == nil {
		return 0
	}

	var se *Error
	if errors.As(err, &se) {
		return negate(se.Code)
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return negate(errno)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrOutOfRange) {
		return -int32(syscall.ENOTSUP)
	}
	return -int32(syscall.EIO)
}

func negate(code syscall.Errno) int32 {
	status := -int32(code)
	if status >= 0 {
		return -int32(syscall.EINVAL)
	}
	return status
}
