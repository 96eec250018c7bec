package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies one failure kind in the closed executor taxonomy.
type Code string

const (
	CodePathNotFound     Code = "path_not_found"
	CodeTypeMismatch     Code = "type_mismatch"
	CodeDivisionByZero   Code = "division_by_zero"
	CodeValidationFailed Code = "validation_failed"
	CodeStorage          Code = "storage"
	CodeCancelled        Code = "cancelled"
)

// Sentinel errors for errors.Is matching against the taxonomy.
var (
	ErrPathNotFound     = errors.New("path not found")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrDivisionByZero   = errors.New("division by zero")
	ErrValidationFailed = errors.New("validation failed")
	ErrStorage          = errors.New("storage failure")
	ErrCancelled        = errors.New("cancelled")
)

var sentinels = map[Code]error{
	CodePathNotFound:     ErrPathNotFound,
	CodeTypeMismatch:     ErrTypeMismatch,
	CodeDivisionByZero:   ErrDivisionByZero,
	CodeValidationFailed: ErrValidationFailed,
	CodeStorage:          ErrStorage,
	CodeCancelled:        ErrCancelled,
}

// Error is an execution failure raised by the executor or a provider.
// It always carries one Code from the closed taxonomy and a
// human-readable message; validation failures additionally carry
// per-violation details and storage failures the provider cause.
type Error struct {
	Code    Code
	Message string
	Details []string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if sentinel, ok := sentinels[e.Code]; ok {
		b.WriteString(sentinel.Error())
	} else {
		b.WriteString(string(e.Code))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	for _, detail := range e.Details {
		b.WriteString("\n  - ")
		b.WriteString(detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's code, so callers can use
// errors.Is(err, pipeline.ErrTypeMismatch) without unwrapping.
func (e *Error) Is(target error) bool {
	return sentinels[e.Code] == target
}

// CodeOf extracts the taxonomy code from err, if it carries one.
func CodeOf(err error) (Code, bool) {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Code, true
	}
	return "", false
}

// NotFound reports a failed dot-path or required lookup.
func NotFound(path string) *Error {
	return &Error{Code: CodePathNotFound, Message: path}
}

// TypeMismatchf reports an operand kind unsuitable for an operator.
func TypeMismatchf(format string, args ...any) *Error {
	return &Error{Code: CodeTypeMismatch, Message: fmt.Sprintf(format, args...)}
}

// DivisionByZero reports a zero divisor in $divide.
func DivisionByZero() *Error {
	return &Error{Code: CodeDivisionByZero}
}

// Validation reports a schema validation failure with its violations.
func Validation(message string, details []string) *Error {
	return &Error{Code: CodeValidationFailed, Message: message, Details: details}
}

// Storage wraps a database provider failure.
func Storage(cause error) *Error {
	return &Error{Code: CodeStorage, Cause: cause}
}

// Cancelled reports that the surrounding request asked execution to stop.
func Cancelled(cause error) *Error {
	return &Error{Code: CodeCancelled, Cause: cause}
}
