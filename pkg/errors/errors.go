package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal error")
	ErrUnavailable        = errors.New("service unavailable")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrReservationState   = errors.New("reservation not in required state")
	ErrReservationExpired = errors.New("reservation expired")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
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

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Conflict creates a generic 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// InsufficientStock creates a 409 error for a failed stock hold. This is an
// expected, user-facing condition and is never logged as a system error.
func InsufficientStock(message string) *AppError {
	return &AppError{
		Code:    "INSUFFICIENT_STOCK",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrInsufficientStock,
	}
}

// ReservationExpired creates a 409 error for a stale reservation. Recoverable
// by retrying the purchase flow from scratch.
func ReservationExpired(id string) *AppError {
	return &AppError{
		Code:    "RESERVATION_EXPIRED",
		Message: fmt.Sprintf("reservation %s has expired, please retry your purchase", id),
		Status:  http.StatusConflict,
		Err:     ErrReservationExpired,
	}
}

// ReservationState creates a 409 error for a reservation in the wrong status.
func ReservationState(id, status string) *AppError {
	return &AppError{
		Code:    "RESERVATION_STATE",
		Message: fmt.Sprintf("reservation %s is %s", id, status),
		Status:  http.StatusConflict,
		Err:     ErrReservationState,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Unavailable creates a 503 error.
func Unavailable(message string) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrUnavailable,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrReservationState), errors.Is(err, ErrReservationExpired):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
