package util

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/session-service/internal/domain"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	RetryAfter time.Duration
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

// NewTooManyRequests reports a throttled caller; RetryAfter becomes the
// Retry-After header.
func NewTooManyRequests(retryAfter time.Duration) error {
	return &DomainError{
		Code:       "TOO_MANY_REQUESTS",
		Message:    "too many attempts",
		HTTPStatus: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// NewStorageUnavailable hides the store failure from the caller and keeps it
// for logging.
func NewStorageUnavailable(err error) error {
	return &DomainError{
		Code:       "STORAGE_UNAVAILABLE",
		Message:    "storage unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts service errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}

	var (
		domainErr    *DomainError
		authErr      *domain.AuthError
		throttledErr *domain.ThrottledError
		validation   *domain.ValidationError
		storageErr   *domain.StorageError
		fiberErr     *fiber.Error
	)
	var mapped error
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.As(err, &authErr):
		mapped = NewUnauthorized(authErr.Message)
	case errors.As(err, &throttledErr):
		mapped = NewTooManyRequests(throttledErr.RetryAfter)
	case errors.As(err, &validation):
		mapped = NewValidationError("validation failed", map[string]any{validation.Field: validation.Message})
	case errors.Is(err, domain.ErrEmailTaken):
		mapped = NewConflict(domain.ErrEmailTaken.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		mapped = &DomainError{
			Code:       "TIMEOUT",
			Message:    "request timed out",
			HTTPStatus: http.StatusGatewayTimeout,
			Err:        err,
		}
	case errors.As(err, &storageErr):
		mapped = NewStorageUnavailable(err)
	case errors.As(err, &fiberErr):
		mapped = fiberError(fiberErr)
	default:
		mapped = NewInternalError(err)
	}

	de, _ := mapped.(*DomainError)
	return de
}

func fiberError(fe *fiber.Error) error {
	switch fe.Code {
	case fiber.StatusNotFound:
		return NewNotFound("route", nil)
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return NewValidationError(fe.Message, nil)
	}
	if fe.Code >= 500 {
		return NewInternalError(fe)
	}
	return NewDomainError(codeFromStatus(fe.Code), fe.Message, fe.Code, nil)
}

func codeFromStatus(status int) string {
	switch status {
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case fiber.StatusUnsupportedMediaType:
		return "UNSUPPORTED_MEDIA_TYPE"
	}
	return "REQUEST_FAILED"
}

// RetryAfterSeconds renders a Retry-After value, rounding up to whole seconds.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
