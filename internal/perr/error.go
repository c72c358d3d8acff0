// Package perr provides the pipeline's unified error taxonomy.
//
// Every stage (provider calls, store writes, queue operations, git
// commits) wraps its failures in an *Error so that retry policies and
// an out-of-scope HTTP layer can both inspect one shape instead of
// reaching into provider-specific error types.
package perr

import "fmt"

// Code is one of the error categories from the pipeline's error taxonomy.
type Code string

const (
	CodeValidation       Code = "VALIDATION"
	CodeNotFound         Code = "NOT_FOUND"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeConflict         Code = "CONFLICT"
	CodeTooManyRequests  Code = "TOO_MANY_REQUESTS"
	CodeConfig           Code = "CONFIG"
	CodeProvider         Code = "PROVIDER"
	CodeUnknown          Code = "UNKNOWN"
)

// httpStatus mirrors the mapping an out-of-scope HTTP layer would apply;
// carried here only as a hint so that layer needs no code duplication.
var httpStatus = map[Code]int{
	CodeValidation:      400,
	CodeNotFound:        404,
	CodeUnauthorized:    401,
	CodeForbidden:       403,
	CodeConflict:        409,
	CodeTooManyRequests: 429,
	CodeConfig:          500,
	CodeProvider:        500,
	CodeUnknown:         500,
}

// Error is the pipeline's structured error type.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the HTTP-status hint pre-filled from Code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus[code]}
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error retryable or not.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Wrap categorizes an arbitrary error as a retryable provider error,
// unless it is already a *Error (in which case it passes through
// unchanged) — this is how transport/non-2xx failures are surfaced per
// the provider registry's failure semantics.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return New(CodeProvider, err.Error()).WithCause(err).WithRetryable(true)
}

// WrapNonRetryable categorizes an arbitrary error as a non-retryable
// provider error — used for malformed-response parse failures.
func WrapNonRetryable(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return New(CodeProvider, err.Error()).WithCause(err).WithRetryable(false)
}

// IsRetryable reports whether err is a retryable pipeline error.
func IsRetryable(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Retryable
}

// CodeOf extracts the Code from err, or CodeUnknown if err isn't an *Error.
func CodeOf(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeUnknown
}
