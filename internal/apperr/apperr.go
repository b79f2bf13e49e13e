// Package apperr defines the error kinds the rest of the app sorts failures
// into. Handlers and the websocket gateway map these onto status codes and
// scoped error events; everything else just wraps and re-returns.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConflict: a uniqueness rule fired (duplicate user, duplicate
	// private conversation). Callers that promise idempotence resolve it
	// by fetching the existing row instead of failing.
	ErrConflict = errors.New("conflict")

	// ErrNotFound: a referenced row doesn't exist (dangling id).
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied: the caller is not a participant of the conversation
	// they're touching.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidArgument: the request shape is wrong (empty participant
	// list, unknown conversation type, reply to a foreign message...).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAuthentication: the realtime handshake carried no valid credential.
	ErrAuthentication = errors.New("authentication failed")
)

// StorageError wraps an underlying persistence fault. Not retried
// automatically; the caller decides.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError, tagging the failing operation.
func Storage(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Conflictf, NotFoundf etc. attach context while keeping errors.Is matching.

func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func AccessDeniedf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrAccessDenied)...)
}

func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// HTTPStatus maps an error kind onto the status code the REST surface
// reports. Unknown kinds (including StorageError) are a 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Code is the short machine-readable tag used in websocket error events.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
