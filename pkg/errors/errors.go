package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeConflict             ErrorCode = "CONFLICT"
	ErrCodeRateLimit            ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             ErrorCode = "INTERNAL"
	ErrCodeTransportUnavailable ErrorCode = "TRANSPORT_UNAVAILABLE"
	ErrCodeTransportExhausted   ErrorCode = "TRANSPORT_EXHAUSTED"
	ErrCodeNegotiationFailed    ErrorCode = "NEGOTIATION_FAILED"
	ErrCodePermissionDenied     ErrorCode = "MEDIA_PERMISSION_DENIED"
	ErrCodeDeviceNotFound       ErrorCode = "MEDIA_DEVICE_NOT_FOUND"
	ErrCodeDeviceInUse          ErrorCode = "MEDIA_DEVICE_IN_USE"
	ErrCodeTrackSwapFailed      ErrorCode = "MEDIA_TRACK_SWAP_FAILED"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewTransportUnavailableError(cause error) *AppError {
	return WrapError(cause, ErrCodeTransportUnavailable, "signaling transport unavailable", http.StatusServiceUnavailable)
}

func NewTransportExhaustedError(cause error) *AppError {
	return WrapError(cause, ErrCodeTransportExhausted, "all signaling transports failed", http.StatusBadGateway)
}

func NewNegotiationError(cause error) *AppError {
	return WrapError(cause, ErrCodeNegotiationFailed, "negotiation failed", http.StatusConflict)
}

// NewMediaError maps a capture failure to its coded error.
func NewMediaError(code ErrorCode, cause error) *AppError {
	status := http.StatusInternalServerError
	switch code {
	case ErrCodePermissionDenied:
		status = http.StatusForbidden
	case ErrCodeDeviceNotFound:
		status = http.StatusNotFound
	case ErrCodeDeviceInUse:
		status = http.StatusConflict
	}
	return WrapError(cause, code, "media capture failed", status)
}

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
