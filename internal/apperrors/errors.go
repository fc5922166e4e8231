// Package apperrors holds the error taxonomy shared by the persistence layer,
// the session manager and the HTTP surface.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured is returned when the remote backend has no credentials.
	// Calls fail fast with it instead of reaching the network.
	ErrNotConfigured = errors.New("remote backend is not configured")

	// ErrUnauthorized is returned when an operation needs an identity and none is present
	ErrUnauthorized = errors.New("user must be logged in")

	// ErrInvalidImage is returned for image input that is neither bytes nor a data URI
	ErrInvalidImage = errors.New("invalid image format")

	// ErrInvalidDate is returned for a moment date that is not YYYY-MM-DD
	ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

	// ErrNoMoments is returned by reads that need at least one moment
	ErrNoMoments = errors.New("no moments recorded yet")
)

// ProviderError is a failed call to the identity provider. Message is meant to be
// shown to the user as-is.
type ProviderError struct {
	Op      string
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
}

// Rejected reports whether the provider refused the request itself, as opposed to
// failing on the network or on its side.
func (e *ProviderError) Rejected() bool {
	return e.Status >= 400 && e.Status < 500
}

// HTTPStatus maps err onto the status code the view transport answers with
func HTTPStatus(err error) int {
	var perr *ProviderError
	switch {
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidImage), errors.Is(err, ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoMoments):
		return http.StatusNotFound
	case errors.As(err, &perr):
		if perr.Rejected() {
			return perr.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
