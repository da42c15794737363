package api

import (
	"errors"
	"fmt"
)

// ErrUnauthorized means the server no longer accepts the bearer credential.
// It is always fatal to the session.
var ErrUnauthorized = errors.New("unauthorized")

// ValidationError is a rejected request the user can act on.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request rejected (%d): %s", e.Status, e.Message)
}

// StatusError is any other unexpected response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}
