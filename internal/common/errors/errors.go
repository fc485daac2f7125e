// Package errors provides structured application errors with error codes
// and HTTP status mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the category of an application error.
type ErrorCode string

const (
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeBadRequest         ErrorCode = "BAD_REQUEST"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeConflict           ErrorCode = "CONFLICT"
	CodeValidation         ErrorCode = "VALIDATION"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeInternal           ErrorCode = "INTERNAL"
)

// wireMessageLimit caps error text returned to clients.
const wireMessageLimit = 200

// AppError is a structured application error.
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WireMessage returns the client-safe message, truncated. Wrapped causes are
// never included; they may carry connection strings or credentials.
func (e *AppError) WireMessage() string {
	msg := e.Message
	if len(msg) > wireMessageLimit {
		msg = msg[:wireMessageLimit]
	}
	return msg
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a bad-request error.
func BadRequest(format string, args ...any) *AppError {
	return &AppError{
		Code:       CodeBadRequest,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(format string, args ...any) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Conflict creates a conflict error.
func Conflict(format string, args ...any) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusConflict,
	}
}

// Validation creates a validation error. Validation failures are expected
// client mistakes and are never logged at error level.
func Validation(format string, args ...any) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ServiceUnavailable creates an error for an unreachable dependency.
func ServiceUnavailable(format string, args ...any) *AppError {
	return &AppError{
		Code:       CodeServiceUnavailable,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Internal creates an internal server error wrapping a cause.
func Internal(err error, format string, args ...any) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap annotates err with a message, preserving an existing AppError's code
// and status.
func Wrap(err error, format string, args ...any) *AppError {
	msg := fmt.Sprintf(format, args...)
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", msg, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}
	return &AppError{
		Code:       CodeInternal,
		Message:    msg,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// GetHTTPStatus extracts the HTTP status from an error, defaulting to 500.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// GetCode extracts the error code from an error, defaulting to INTERNAL.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return GetCode(err) == CodeNotFound
}
