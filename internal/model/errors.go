package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
	ErrOutOfStock     = errors.New("out of stock")
)

// APIError represents a structured error carrying an HTTP status.
// Returned by the storefront client and rendered by the handlers.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// NewUnauthorizedError creates a 401 error for auth failures.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// NewForbiddenError creates a 403 error. Unlike 401 it means the shopper is
// known but the request is refused.
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:       "FORBIDDEN",
		Message:    reason,
		StatusCode: http.StatusForbidden,
		Err:        ErrForbidden,
	}
}

// NewUpstreamError creates a 502 error for storefront API failures.
// The status of the failed upstream call is kept in Err; StatusCode stays 502.
func NewUpstreamError(service string, err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: http.StatusBadGateway,
		Err:        fmt.Errorf("%w: %v", ErrUpstreamError, err),
	}
}

// NewStatusError creates an error for a non-success upstream response,
// preserving the upstream status so retry classification can see it.
func NewStatusError(service string, status int, detail string) *APIError {
	return &APIError{
		Code:       "UPSTREAM_STATUS",
		Message:    fmt.Sprintf("%s returned status %d", service, status),
		StatusCode: status,
		Err:        fmt.Errorf("%w: %s", ErrUpstreamError, detail),
	}
}

// NewOutOfStockError creates a 409 error when nothing more of an item can be added.
func NewOutOfStockError(productID string) *APIError {
	return &APIError{
		Code:       "OUT_OF_STOCK",
		Message:    fmt.Sprintf("product %s has no remaining stock", productID),
		StatusCode: http.StatusConflict,
		Err:        ErrOutOfStock,
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrRateLimited,
	}
}

// StatusCode returns the HTTP status carried by err, or 0 when err has none.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsClientError reports whether err is a 4xx failure that retrying cannot fix.
// 429 is excluded: rate limits clear on their own.
func IsClientError(err error) bool {
	status := StatusCode(err)
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}
