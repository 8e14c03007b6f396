package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Reason carries the push provider's error code for delivery failures.
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error code to an HTTP status
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrDelivery, ErrMissingToken:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
	ErrValidation
	ErrDelivery
	ErrMissingToken
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

// Conflict reports a state clash such as a duplicate grant or an inactive doctor.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: message,
	}
}

func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

// Delivery wraps a push endpoint failure together with the provider code.
func Delivery(reason string, err error) *AppError {
	return &AppError{
		Code:    ErrDelivery,
		Message: "push delivery failed",
		Reason:  reason,
		Err:     err,
	}
}

// MissingToken reports a recipient without a registered push token.
func MissingToken(userID string) *AppError {
	return &AppError{
		Code:    ErrMissingToken,
		Message: fmt.Sprintf("no push token registered for user %s", userID),
		Reason:  "missing-token",
	}
}

func codeOf(err error) (ErrorCode, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return 0, false
}

func IsNotFound(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrNotFound
}

func IsConflict(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrConflict
}

func IsValidation(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrValidation
}

func IsMissingToken(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrMissingToken
}

// nonRetryableReasons are provider codes that a retry cannot fix.
var nonRetryableReasons = map[string]bool{
	"unregistered":       true,
	"invalid-argument":   true,
	"sender-id-mismatch": true,
	"missing-token":      true,
}

// IsRetryable reports whether a delivery attempt that failed with err may
// succeed when attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Code {
	case ErrMissingToken, ErrValidation, ErrNotFound:
		return false
	case ErrDelivery:
		return !nonRetryableReasons[appErr.Reason]
	}
	return true
}

// ReasonOf returns the provider code carried by err, or "unknown".
func ReasonOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Reason != "" {
		return appErr.Reason
	}
	return "unknown"
}
