package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of an error
type ErrorType uint

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeInvalidInput represents a request rejected before any work is done
	ErrorTypeInvalidInput
	// ErrorTypeDataUnavailable represents a provider that returned no data
	ErrorTypeDataUnavailable
	// ErrorTypeOptimizationFailure represents a numerical fit that did not converge
	ErrorTypeOptimizationFailure
	// ErrorTypeWorkerFailure represents a failed or cancelled simulation worker
	ErrorTypeWorkerFailure
	// ErrorTypeInternal represents an internal error
	ErrorTypeInternal
	// ErrorTypeOverloaded represents work refused because capacity is exhausted
	ErrorTypeOverloaded
)

// String returns the name of the error type
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeInvalidInput:
		return "invalid_input"
	case ErrorTypeDataUnavailable:
		return "data_unavailable"
	case ErrorTypeOptimizationFailure:
		return "optimization_failure"
	case ErrorTypeWorkerFailure:
		return "worker_failure"
	case ErrorTypeInternal:
		return "internal"
	case ErrorTypeOverloaded:
		return "overloaded"
	default:
		return "unknown"
	}
}

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new error with the given message
func New(message string) error {
	return &AppError{
		Type:    ErrorTypeUnknown,
		Message: message,
	}
}

// Wrap wraps an error with a message, keeping the type of the innermost AppError
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:    TypeOf(err),
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithType wraps err so that its type becomes errType
func WithType(err error, errType ErrorType, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// TypeOf returns the type of the first AppError in err's chain
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given type
func IsType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

// Is reports whether err or any of the errors in its chain is target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// InvalidInput creates a new InvalidInput error
func InvalidInput(message string) error {
	return &AppError{
		Type:    ErrorTypeInvalidInput,
		Message: message,
	}
}

// InvalidInputf creates a new InvalidInput error with a formatted message
func InvalidInputf(format string, args ...interface{}) error {
	return InvalidInput(fmt.Sprintf(format, args...))
}

// DataUnavailable creates a new DataUnavailable error
func DataUnavailable(message string) error {
	return &AppError{
		Type:    ErrorTypeDataUnavailable,
		Message: message,
	}
}

// DataUnavailablef creates a new DataUnavailable error with a formatted message
func DataUnavailablef(format string, args ...interface{}) error {
	return DataUnavailable(fmt.Sprintf(format, args...))
}

// OptimizationFailure creates a new OptimizationFailure error
func OptimizationFailure(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeOptimizationFailure,
		Message: message,
		Err:     err,
	}
}

// WorkerFailure creates a new WorkerFailure error
func WorkerFailure(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeWorkerFailure,
		Message: message,
		Err:     err,
	}
}

// Internal creates a new Internal error
func Internal(message string) error {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
	}
}

// Overloaded creates a new Overloaded error
func Overloaded(message string) error {
	return &AppError{
		Type:    ErrorTypeOverloaded,
		Message: message,
	}
}
