// Package errors provides structured error handling for the result
// publishing subsystem.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents destination configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeUnknownType represents an unregistered destination type name
	ErrorTypeUnknownType ErrorType = "unknown_type"
	// ErrorTypeTransport represents network/IO failures during a send
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeNotConfigured represents publish attempts on an unconfigured destination
	ErrorTypeNotConfigured ErrorType = "not_configured"
	// ErrorTypeNotFound represents lookups of unknown destination names
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeTimeout represents per-send deadline expirations
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeSerialization represents payload encoding errors
	ErrorTypeSerialization ErrorType = "serialization"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the error's type, or ErrorTypeInternal for plain errors
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}
