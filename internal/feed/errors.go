package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when an operation needs a signed-in actor and
	// none is present. Callers redirect to sign-in instead of showing an error.
	ErrUnauthenticated = errors.New("sign-in required")

	// ErrInvalidContent is returned for blank titles and contents
	ErrInvalidContent = errors.New("content must not be blank")

	// ErrInvalidParent is returned when a reply targets a comment that is not a
	// top-level comment of the same post
	ErrInvalidParent = errors.New("parent comment must be a top-level comment of the same post")

	// ErrInvalidTarget is returned for an unknown like target kind
	ErrInvalidTarget = errors.New("like target must be 'post' or 'comment'")
)

// GatewayError wraps any failure of the content gateway. Its message is the
// underlying error's message, unchanged.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return e.Err.Error()
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// gatewayErr wraps err as a GatewayError unless it already carries a
// classification the caller is expected to branch on.
func gatewayErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrInvalidParent) ||
		errors.Is(err, ErrInvalidContent) {
		return err
	}
	return &GatewayError{Op: op, Err: err}
}

// IsUnauthenticated reports whether err requires the caller to sign in
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// Describe renders err for the owning store's error field
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Error()
	}
	return fmt.Sprint(err)
}
