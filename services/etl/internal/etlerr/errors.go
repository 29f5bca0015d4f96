// Package etlerr categorises the hard errors a pipeline run can hit.
//
// Every error that aborts a source's pipeline carries a Kind so the
// orchestrator can count and label it without string matching. Data quality
// findings are not errors and never pass through this package.
package etlerr

import (
	"errors"
	"fmt"
)

// Kind is the category of a hard error.
type Kind string

const (
	// KindConfig marks missing or invalid configuration detected before any I/O.
	KindConfig Kind = "config"
	// KindExtraction marks upstream API failures.
	KindExtraction Kind = "extraction"
	// KindTransform marks payloads that cannot be shaped into a table.
	KindTransform Kind = "transform"
	// KindPersistence marks failed loads. Nothing from the batch was committed.
	KindPersistence Kind = "persistence"
	// KindVerification marks failed post-run checks. These never change the exit status.
	KindVerification Kind = "verification"
)

// Error is a categorised error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err. It returns nil when err is nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// KindOf returns the outermost kind in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
