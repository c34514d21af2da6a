package api

import (
	"errors"
	"fmt"

	"github.com/pulseboard/pulse/internal/feed"
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// invalidParams reports a malformed or missing parameter
func invalidParams(format string, args ...interface{}) *Error {
	return NewError(ErrInvalidParams, fmt.Sprintf(format, args...))
}

// classify maps an error onto a JSON-RPC code and message
func classify(err error) (int, string) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code, apiErr.Message
	case errors.Is(err, feed.ErrUnauthenticated):
		return ErrUnauthenticated, "Unauthenticated"
	case errors.Is(err, feed.ErrInvalidContent),
		errors.Is(err, feed.ErrInvalidParent),
		errors.Is(err, feed.ErrInvalidTarget):
		return ErrInvalidParams, "Invalid params"
	default:
		return ErrServerError, "Server error"
	}
}
