// Package apperr provides the standardized error types used across the
// agentplane engine. Every failure surfaced by the scheduler, queue, or
// runtime carries a machine-readable code so callers can decide whether the
// operation is retryable without string matching.
//
// Error code categories:
//
//	VALIDATION   - malformed schedule/agent configuration, never retried
//	PERMISSION   - caller lacks ownership or an active purchase, never retried
//	NOT_FOUND    - referenced resource does not exist
//	EXEC_TIMEOUT - execution hard-killed at its wall-clock limit, retryable
//	EXEC_RUNTIME - agent code failed at runtime, retryable
//	RESOURCE_EXHAUSTED - memory pool at capacity, retryable with backoff
//	INFRASTRUCTURE - queue/storage unavailable, retried without consuming
//	                 the item's retry budget
package apperr

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error category.
type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodePermission        Code = "PERMISSION"
	CodeNotFound          Code = "NOT_FOUND"
	CodeExecutionTimeout  Code = "EXEC_TIMEOUT"
	CodeExecutionRuntime  Code = "EXEC_RUNTIME"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	CodeInfrastructure    Code = "INFRASTRUCTURE"
)

// Error is the standard error carrier for the engine.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and context message.
// Returns nil if err is nil.
func Wrap(code Code, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with a code and formatted message.
func Wrapf(code Code, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// CodeOf returns the code of err, or empty string if err does not carry one.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsPermission reports whether err is a permission error.
func IsPermission(err error) bool { return CodeOf(err) == CodePermission }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsTimeout reports whether err is an execution timeout.
func IsTimeout(err error) bool { return CodeOf(err) == CodeExecutionTimeout }

// IsResourceExhausted reports whether err is a memory pool rejection.
func IsResourceExhausted(err error) bool { return CodeOf(err) == CodeResourceExhausted }

// IsInfrastructure reports whether err is an infrastructure failure.
// Infrastructure failures leave a queue item pending and do not count
// against its retry budget.
func IsInfrastructure(err error) bool { return CodeOf(err) == CodeInfrastructure }

// Retryable reports whether the failure class is eligible for retry
// under the queue's retry state machine.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeExecutionTimeout, CodeExecutionRuntime, CodeResourceExhausted:
		return true
	}
	return false
}
