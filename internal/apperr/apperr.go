package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a failure kind so callers can branch without string matching.
type Code string

const (
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeInvalidCoordinates Code = "INVALID_COORDINATES"
	CodeNotFound           Code = "NOT_FOUND"
	CodeUnauthorized       Code = "UNAUTHORIZED"

	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeSessionClosed   Code = "SESSION_CLOSED"

	CodeInvalidToken     Code = "INVALID_TOKEN"
	CodeTokenExpired     Code = "TOKEN_EXPIRED"
	CodeAlreadyUsedToken Code = "ALREADY_USED_TOKEN"

	CodeNotEligible      Code = "NOT_ELIGIBLE"
	CodeAlreadyMarked    Code = "ALREADY_MARKED"
	CodeOutOfRange       Code = "OUT_OF_RANGE"
	CodeRequiresLocation Code = "REQUIRES_LOCATION"

	CodeOwnershipViolation Code = "DEVICE_OWNERSHIP_VIOLATION"
	CodeSimultaneousUsage  Code = "SIMULTANEOUS_DEVICE_USAGE"
	CodeDeviceNotFound     Code = "DEVICE_NOT_FOUND"
)

// Error carries a machine-readable code alongside a user-facing message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the user-facing message, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
