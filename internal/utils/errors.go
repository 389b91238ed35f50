package utils

import (
	"errors"
	"net/http"
)

type AppError struct {
	Code    string
	Message string
	Origin  error // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

func (appErr *AppError) Unwrap() error {
	return appErr.Origin
}

// Standard error codes for the application
const (
	// Resource errors
	ErrNotFound     = "NOT_FOUND"
	ErrInvalidInput = "INVALID_INPUT"

	// Authentication/Authorization errors
	ErrUnauthorized = "UNAUTHORIZED"
	ErrForbidden    = "FORBIDDEN" // Authenticated, but not a participant of the job context
	ErrInvalidToken = "INVALID_TOKEN"

	// Lookup errors
	ErrUserNotFound = "USER_NOT_FOUND"
	ErrJobNotFound  = "JOB_NOT_FOUND"

	// Actor communication errors
	ErrActorTimeout = "ACTOR_TIMEOUT"

	// Rate limiting
	ErrTooManyRequests = "TOO_MANY_REQUESTS"

	// Persistence layer unavailable or failing
	ErrStoreUnavailable = "STORE_UNAVAILABLE"

	ErrInternal = "INTERNAL_ERROR"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: ErrInvalidInput, Message: message}
}

func NewUserNotFoundError(userID string) *AppError {
	return &AppError{
		Code:    ErrUserNotFound,
		Message: "User not found: " + userID,
	}
}

func NewJobNotFoundError(jobID string) *AppError {
	return &AppError{
		Code:    ErrJobNotFound,
		Message: "Job not found: " + jobID,
	}
}

func NewUnauthorizedError(reason string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "Unauthorized: " + reason,
	}
}

func NewForbiddenError(reason string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: "Forbidden: " + reason,
	}
}

func NewStoreError(operation string, err error) *AppError {
	return &AppError{
		Code:    ErrStoreUnavailable,
		Message: "store failure during " + operation,
		Origin:  err,
	}
}

func NewActorTimeoutError(actorName string) *AppError {
	return &AppError{
		Code:    ErrActorTimeout,
		Message: "Actor communication timeout: " + actorName,
	}
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound matches every lookup-miss code.
func IsNotFound(err error) bool {
	return IsErrorCode(err, ErrNotFound) || IsErrorCode(err, ErrUserNotFound) || IsErrorCode(err, ErrJobNotFound)
}

// Helper method to check if an error is related to authentication
func IsAuthError(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == ErrUnauthorized ||
			appErr.Code == ErrInvalidToken ||
			appErr.Code == ErrForbidden
	}
	return false
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrNotFound, ErrUserNotFound, ErrJobNotFound:
		return http.StatusNotFound
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidToken:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
