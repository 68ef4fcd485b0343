package engine

import (
	"errors"
	"fmt"
)

// InvokeError reports why an engine could not run a function.
//
// Traps are not InvokeErrors: they are ordinary outcomes recorded in the
// trace with success=false. InvokeError covers misuse of the engine.
type InvokeError struct {
	// Code identifies the error category.
	Code InvokeErrorCode

	// Function is the export the caller asked for.
	Function string

	// Message is a human-readable description.
	Message string
}

// InvokeErrorCode categorizes invoke errors.
type InvokeErrorCode string

const (
	// ErrCodeUnknownExport indicates the named export does not exist.
	ErrCodeUnknownExport InvokeErrorCode = "UNKNOWN_EXPORT"

	// ErrCodeArity indicates the wrong number of arguments.
	ErrCodeArity InvokeErrorCode = "ARITY"

	// ErrCodeKind indicates a value of the wrong kind.
	ErrCodeKind InvokeErrorCode = "KIND"

	// ErrCodeImmutable indicates a write to an immutable global.
	ErrCodeImmutable InvokeErrorCode = "IMMUTABLE"
)

// Error implements the error interface.
func (e *InvokeError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("%s: %s (export=%s)", e.Code, e.Message, e.Function)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInvokeError reports whether err is an InvokeError with the given code.
// Uses errors.As to handle wrapped errors.
func IsInvokeError(err error, code InvokeErrorCode) bool {
	var ie *InvokeError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}
