// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// rejectMessage is the body stations get when their upload is refused.
const rejectMessage = "You must POST your data !!!"

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	// Plain renders Message alone as text/plain, for station clients that
	// match on the exact body.
	Plain bool `json:"-"`
	cause error
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
		cause:   cause,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewUploadRejectedError creates the plain-text 400 returned to stations
// whose upload failed validation.
func NewUploadRejectedError(cause error) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "UPLOAD_REJECTED",
		Message: rejectMessage,
		Plain:   true,
		cause:   cause,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
		cause:   cause,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// ErrorHandler renders errors returned by handlers.
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
		}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(apiErr.Status)
		return
	}
	if apiErr.Plain {
		_ = c.String(apiErr.Status, apiErr.Message)
		return
	}
	_ = c.JSON(apiErr.Status, apiErr)
}
