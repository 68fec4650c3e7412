package jobs

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// ErrInvalidInput rejects a submission before any record is created.
	ErrInvalidInput ErrorKind = iota
	// ErrNotFound covers unknown job ids and ownership mismatches alike,
	// so non-owners cannot probe for existence.
	ErrNotFound
	// ErrInvalidState marks an operation not valid for the current status.
	ErrInvalidState
	// ErrExecution is a download failure surfaced through the job record.
	ErrExecution
	// ErrDependencyMissing is an execution failure caused by a required
	// external tool being absent from the host.
	ErrDependencyMissing
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidInput:
		return "InvalidInput"
	case ErrNotFound:
		return "NotFound"
	case ErrInvalidState:
		return "InvalidState"
	case ErrExecution:
		return "ExecutionFailure"
	case ErrDependencyMissing:
		return "DependencyMissing"
	default:
		return "Unknown"
	}
}

type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(err error, kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func IsKind(err error, kind ErrorKind) bool {
	var jerr *Error
	if errors.As(err, &jerr) {
		return jerr.Kind == kind
	}
	return false
}
