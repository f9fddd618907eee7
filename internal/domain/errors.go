package domain

import (
	"errors"
	"fmt"
)

// ErrorKind identifies recoverable and fatal conversation errors.
type ErrorKind string

const (
	ErrorKindStartup      ErrorKind = "startup"
	ErrorKindDevice       ErrorKind = "device"
	ErrorKindEmptyCapture ErrorKind = "empty_capture"
	ErrorKindSynthesis    ErrorKind = "synthesis"
	ErrorKindNetwork      ErrorKind = "network"
	ErrorKindServer       ErrorKind = "server"
	ErrorKindTimeout      ErrorKind = "timeout"
)

// Error is the only error shape allowed to cross a component boundary.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a taxonomy error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the taxonomy kind of err, or "" when err is not a *Error.
func KindOf(err error) ErrorKind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ""
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// Recoverable reports whether the conversation continues after err.
func Recoverable(err error) bool {
	switch KindOf(err) {
	case ErrorKindDevice, ErrorKindStartup:
		return false
	default:
		return true
	}
}
