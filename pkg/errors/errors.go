package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Standard error types that can be used throughout the application
var (
	// Standard error sentinel values
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternalError      = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
	ErrUnavailable        = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrFailedPrecondition = errors.New("failed precondition")

	// Domain-specific error sentinel values
	ErrSessionNotFound      = errors.New("call session not found")
	ErrSessionAlreadyExists = errors.New("call session already exists")
	ErrMalformedEvent       = errors.New("malformed inbound event")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRetryExhausted       = errors.New("retry attempts exhausted")
	ErrAlreadyReviewed      = errors.New("flagged call already reviewed")
)

// Error represents a structured error with caller location and additional context
type Error struct {
	// original is the underlying error
	original error

	// message is the error message
	message string

	// fields contains contextual information
	fields map[string]interface{}

	// file and line record where the error was created
	file string
	line int

	// Code is an optional error code for categorization
	Code string
}

// New creates a new structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   fieldMap,
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original: err,
		message:  message,
		fields:   fieldMap,
		file:     file,
		line:     line,
	}
}

// WithField adds a single field to the error context
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}

	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+1),
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}

	for k, v := range e.fields {
		result.fields[k] = v
	}
	result.fields[key] = value

	return result
}

// WithCode adds an error code to the error
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}

	return &Error{
		original: e.original,
		message:  e.message,
		fields:   e.fields,
		file:     e.file,
		line:     e.line,
		Code:     code,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}

	if e.message == "" {
		return e.original.Error()
	}

	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns the file:line where the error was created
func (e *Error) Location() string {
	if e == nil {
		return ""
	}

	parts := strings.Split(e.file, "/")
	filename := parts[len(parts)-1]

	return fmt.Sprintf("%s:%d", filename, e.line)
}

// GetFields returns the error's context fields
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// Is reports whether any error in err's tree matches target.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}

	if errors.Is(e.original, target) {
		return true
	}

	return e == target
}

// NewSessionNotFound creates a new ErrSessionNotFound with additional context
func NewSessionNotFound(callID string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrSessionNotFound,
		message:  fmt.Sprintf("call session not found: %s", callID),
		fields:   map[string]interface{}{"call_id": callID},
		file:     file,
		line:     line,
		Code:     "SESSION_NOT_FOUND",
	}
}

// NewSessionAlreadyExists creates a new ErrSessionAlreadyExists with additional context
func NewSessionAlreadyExists(callID string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrSessionAlreadyExists,
		message:  fmt.Sprintf("call session already exists: %s", callID),
		fields:   map[string]interface{}{"call_id": callID},
		file:     file,
		line:     line,
		Code:     "SESSION_ALREADY_EXISTS",
	}
}

// NewMalformedEvent creates a new ErrMalformedEvent with additional context
func NewMalformedEvent(details string, fields ...map[string]interface{}) *Error {
	fieldMap := make(map[string]interface{})
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	}

	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrMalformedEvent,
		message:  fmt.Sprintf("malformed inbound event: %s", details),
		fields:   fieldMap,
		file:     file,
		line:     line,
		Code:     "MALFORMED_EVENT",
	}
}

// NewRetryExhausted creates the aggregated failure surfaced after the retry
// budget for an endpoint is spent. It identifies the endpoint, the number of
// attempts made, and the last underlying error.
func NewRetryExhausted(endpoint string, attempts int, lastErr error) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrRetryExhausted,
		message:  fmt.Sprintf("request to %s failed after %d attempts: %v", endpoint, attempts, lastErr),
		fields: map[string]interface{}{
			"endpoint":   endpoint,
			"attempts":   attempts,
			"last_error": fmt.Sprint(lastErr),
		},
		file: file,
		line: line,
		Code: "RETRY_EXHAUSTED",
	}
}

// NewAuthenticationFailed creates a new ErrAuthenticationFailed with context
func NewAuthenticationFailed(details string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrAuthenticationFailed,
		message:  fmt.Sprintf("authentication failed: %s", details),
		fields:   make(map[string]interface{}),
		file:     file,
		line:     line,
		Code:     "AUTHENTICATION_FAILED",
	}
}

// IsErrorType checks if an error is of a specific error type
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from an error if it's a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Code
	}
	return ""
}

// GetErrorFields extracts fields from an error if it's a structured error
func GetErrorFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}
