package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a remote object or local entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoBackendAvailable is returned when no registered backend passes the liveness ping.
	ErrNoBackendAvailable = errors.New("no backend available")
	// ErrDuplicateKey is returned by Create for a key that is already indexed.
	ErrDuplicateKey = errors.New("key already exists")
	// ErrReservedKey is returned for keys the store keeps for its own bookkeeping.
	ErrReservedKey = errors.New("key is reserved")
	// ErrDuplicateEmail is returned when an email is already registered.
	ErrDuplicateEmail = errors.New("email is already in use")
	// ErrDuplicateUsername is returned when a username is already registered.
	ErrDuplicateUsername = errors.New("username is already in use")
	// ErrUnknownUser is returned when a session is requested for a missing user.
	ErrUnknownUser = errors.New("user not found")
	// ErrMalformedResponse is returned when a backend answer cannot be parsed.
	ErrMalformedResponse = errors.New("malformed response")
)

// BackendError is a transport or parse failure talking to a remote backend.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

// NewBackendError wraps err as a BackendError. A nil err yields nil.
func NewBackendError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendError reports whether err carries a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
