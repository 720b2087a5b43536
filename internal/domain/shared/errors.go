package shared

import (
	"errors"

	"github.com/samber/oops"
)

// Domain error codes
const (
	ErrCodeInvalidInput       = 1001
	ErrCodeNotFound           = 1002
	ErrCodeAlreadyExists      = 1003
	ErrCodePreconditionFailed = 1004
	ErrCodeInvalidCredentials = 1005
)

// NewDomainError creates a new domain error using oops
func NewDomainError(code int, message string) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Errorf(message)
}

// NewDomainErrorf creates a new domain error with formatted message
func NewDomainErrorf(code int, format string, args ...interface{}) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Errorf(format, args...)
}

// WrapDomainError wraps an existing error with domain context
func WrapDomainError(err error, code int, message string) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Wrapf(err, message)
}

// codeToString converts int error code to string
func codeToString(code int) string {
	switch code {
	case ErrCodeInvalidInput:
		return "INVALID_INPUT"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeAlreadyExists:
		return "ALREADY_EXISTS"
	case ErrCodePreconditionFailed:
		return "PRECONDITION_FAILED"
	case ErrCodeInvalidCredentials:
		return "INVALID_CREDENTIALS"
	default:
		return "UNKNOWN_ERROR"
	}
}

// HasCode reports whether err carries the given domain error code
func HasCode(err error, code int) bool {
	var oopsErr oops.OopsError
	if !errors.As(err, &oopsErr) {
		return false
	}
	return oopsErr.Code() == codeToString(code)
}

// IsNotFound reports whether err is a NOT_FOUND domain error
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// IsPreconditionFailed reports whether err is a PRECONDITION_FAILED domain error
func IsPreconditionFailed(err error) bool {
	return HasCode(err, ErrCodePreconditionFailed)
}

// Common domain error builders
func ErrInvalidInput(msg string) error {
	return NewDomainError(ErrCodeInvalidInput, msg)
}

func ErrNotFound(resource string) error {
	return NewDomainErrorf(ErrCodeNotFound, "%s not found", resource)
}

func ErrAlreadyExists(resource string) error {
	return NewDomainErrorf(ErrCodeAlreadyExists, "%s already exists", resource)
}

func ErrPreconditionFailed(msg string) error {
	return NewDomainError(ErrCodePreconditionFailed, msg)
}

func ErrInvalidCredentials() error {
	return NewDomainError(ErrCodeInvalidCredentials, "Invalid credentials")
}
