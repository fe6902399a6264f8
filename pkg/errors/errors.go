package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Caller errors
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"

	// Backing store errors
	ErrorTypeConnectivity ErrorType = "CONNECTIVITY"
	ErrorTypeSchema       ErrorType = "SCHEMA"
	ErrorTypeTimeout      ErrorType = "TIMEOUT"

	// Multi-write outcomes
	ErrorTypePartialWrite   ErrorType = "PARTIAL_WRITE"
	ErrorTypeAsymmetricEdge ErrorType = "ASYMMETRIC_EDGE"
	ErrorTypePartialExport  ErrorType = "PARTIAL_EXPORT"

	ErrorTypeInternal ErrorType = "INTERNAL"
)

// Typed is implemented by every error in this package.
type Typed interface {
	error
	ErrorType() ErrorType
}

// AppError represents a single classified failure.
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	Cause      error     `json:"-"`
	StackTrace string    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// ErrorType implements Typed.
func (e *AppError) ErrorType() ErrorType {
	return e.Type
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return b.String()
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StackTrace: captureStackTrace(),
	}
}

// NewConnectivityError reports that the backing store could not be reached.
// Callers should retry with backoff.
func NewConnectivityError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeConnectivity,
		Message:    fmt.Sprintf("backing store unreachable during '%s'", operation),
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// NewSchemaError reports a failed DDL step.
func NewSchemaError(object string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeSchema,
		Message:    fmt.Sprintf("failed to create '%s'", object),
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation '%s' timed out", operation),
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// Helper functions

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// TypeOf returns the type of the outermost typed error in the chain, or
// ErrorTypeInternal when none is found.
func TypeOf(err error) ErrorType {
	var typed Typed
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}
	return ErrorTypeInternal
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	return TypeOf(err) == errType
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsConnectivity checks if an error is a connectivity error
func IsConnectivity(err error) bool {
	return IsType(err, ErrorTypeConnectivity)
}

// IsSchema checks if an error is a schema error
func IsSchema(err error) bool {
	return IsType(err, ErrorTypeSchema)
}

// IsRetryable reports whether the operation may succeed when repeated
// unchanged.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeConnectivity, ErrorTypeTimeout:
		return true
	}
	return false
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// Typed errors keep their classification.
	var typed Typed
	if errors.As(err, &typed) {
		return fmt.Errorf("%s: %w", message, err)
	}

	return NewInternalError(message).WithCause(err)
}
