// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/airq-visualizer/backend/internal/fetch"
	"github.com/airq-visualizer/backend/internal/snapshot"
	"github.com/go-logr/logr"
	"github.com/labstack/echo/v4"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
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
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// NewSnapshotError maps a failed refresh onto a 502 with a code per failure kind.
func NewSnapshotError(cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadGateway,
		Code:    "SNAPSHOT_ERROR",
		Message: "snapshot refresh failed",
	}

	var netErr *fetch.NetworkError
	var valErr *snapshot.ValidationError
	switch {
	case errors.As(cause, &netErr):
		err.Code = "SNAPSHOT_UNREACHABLE"
		err.Message = "snapshot source unreachable"
	case errors.As(cause, &valErr):
		err.Code = "SNAPSHOT_INVALID"
		err.Message = "snapshot document is invalid"
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewErrorHandler returns the Echo error handler. Details of unexpected
// errors are only included when exposeDetails is set.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(log, false)
func NewErrorHandler(log logr.Logger, exposeDetails bool) echo.HTTPErrorHandler {
	log = log.WithName("http")
	return func(err error, c echo.Context) {
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
			if exposeDetails {
				apiErr.Details = err.Error()
			}
		}

		if apiErr.Status >= http.StatusInternalServerError {
			log.Error(err, "request failed", "method", c.Request().Method, "path", c.Path(), "status", apiErr.Status)
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(apiErr.Status)
			return
		}
		c.JSON(apiErr.Status, apiErr)
	}
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
