// Package apperrors defines the typed error taxonomy shared by the routing
// engine, the licence allocator and the transport layer. Every failure the
// engine can surface to an operator has its own code; callers translate
// codes into user-facing responses and never see untyped failures.
package apperrors

import (
	"errors"
	"fmt"
)

// Code identifies one failure class.
type Code string

const (
	// Engine failures.
	CodeCaseNotActionable      Code = "CASE_NOT_ACTIONABLE"
	CodeNoMatchingEdge         Code = "NO_MATCHING_EDGE"
	CodeWorkflowMisconfigured  Code = "WORKFLOW_MISCONFIGURED"
	CodeRejectionNotSupported  Code = "REJECTION_NOT_SUPPORTED"
	CodeWorkflowCycleSuspected Code = "WORKFLOW_CYCLE_SUSPECTED"

	// Resolution failures.
	CodeInvalidHierarchyLevel Code = "INVALID_HIERARCHY_LEVEL"
	CodeNoAssigneeResolved    Code = "NO_ASSIGNEE_RESOLVED"

	// Licence pool failures.
	CodeLicenceTypeInvalidOrExpired Code = "LICENCE_TYPE_INVALID_OR_EXPIRED"
	CodeLicencePoolExhausted        Code = "LICENCE_POOL_EXHAUSTED"

	// Storage / transport edges.
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeInternal     Code = "INTERNAL"
)

// Error carries a code, a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match on code-only sentinels: errors.Is(err, &Error{Code: c}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// New creates an error with a code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates an error with a code and formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// NotFound reports a missing record.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "%s %q not found", resource, id)
}

// InvalidInput reports a bad request field.
func InvalidInput(field, msg string) *Error {
	return Newf(CodeInvalidInput, "invalid %s: %s", field, msg)
}

// CodeOf extracts the code from an error chain, or CodeInternal for
// untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
