// Package errors provides error handling with operation and component
// context for the pruning service.
package errors

import (
	"fmt"
	"strings"
)

// Error carries a message plus the operation and component it came from.
type Error struct {
	// Err is the underlying error, if any.
	Err error
	// Message is a human-readable description.
	Message string
	// Op is the operation being performed when the error occurred.
	Op string
	// Component is the package or subsystem where the error occurred.
	Component string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Component != "" {
		b.WriteString(e.Component)
	}
	if e.Op != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Op)
	}
	if e.Message != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOp adds operation context to the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// New creates an error with a message.
func New(msg string) *Error {
	return &Error{Message: msg}
}

// Errorf creates an error with a formatted message.
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with an additional message. Returns nil when err is nil.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, Message: msg}
}

// Wrapf wraps err with an additional formatted message. Returns nil when
// err is nil.
func Wrapf(err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, Message: fmt.Sprintf(format, args...)}
}
