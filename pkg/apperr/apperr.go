// Package apperr defines the error taxonomy shared by the query engine, the
// broker client, the freshness coordinator and the tool dispatcher.
//
// Every failure that reaches a transport is one of these kinds; the dispatcher
// renders Kind and Message only, never the wrapped cause.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindAuth           Kind = "auth"
	KindRemote         Kind = "remote"
	KindStore          Kind = "store"
	KindWriteDisabled  Kind = "write_disabled"
	KindExecution      Kind = "execution"
)

// Error is a classified failure
type Error struct {
	Kind    Kind
	Message string
	Status  int    // HTTP status for remote errors
	Body    string // response body for remote errors
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidRequest reports a malformed request (bad column, operator or shape)
func InvalidRequest(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// Auth reports a credential refresh failure
func Auth(message string, err error) *Error {
	return &Error{Kind: KindAuth, Message: message, Err: err}
}

// Remote reports a non-2xx broker response
func Remote(status int, body string) *Error {
	return &Error{
		Kind:    KindRemote,
		Message: fmt.Sprintf("remote error: %d %s", status, body),
		Status:  status,
		Body:    body,
	}
}

// Store wraps a query or write failure
func Store(message string, err error) *Error {
	return &Error{Kind: KindStore, Message: message, Err: err}
}

// Execution wraps a failure inside a handler or an external computation
func Execution(message string, err error) *Error {
	return &Error{Kind: KindExecution, Message: message, Err: err}
}

// WriteDisabled reports a mutating call rejected by policy
func WriteDisabled(tool string) *Error {
	return &Error{
		Kind:    KindWriteDisabled,
		Message: fmt.Sprintf("write operations disabled: %s requires BCS_ALLOW_WRITE=1", tool),
	}
}

// KindOf returns the kind of err, or KindExecution for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExecution
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
