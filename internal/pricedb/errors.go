package pricedb

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingCredentials aborts a run before any region work starts.
	ErrMissingCredentials = errors.New("token and subscription id are required")
	// ErrUnauthorized marks a 401/403 answer from the management API.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmptyBody is returned when a GET succeeds without a body.
	ErrEmptyBody = errors.New("empty response body")
	// ErrQueueClosed is returned by Dequeue once a closed queue is drained.
	ErrQueueClosed = errors.New("queue closed")
	// ErrRunInProgress rejects a build while another one is running.
	ErrRunInProgress = errors.New("a build is already running")
	// ErrNotFound signals that the requested run does not exist.
	ErrNotFound = errors.New("run not found")
)

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap maps authorization failures to ErrUnauthorized.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}
