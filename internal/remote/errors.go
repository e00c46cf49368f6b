package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRemote matches every failure of a remote operation: network
	// errors, non-success statuses and malformed response bodies.
	ErrRemote = errors.New("remote operation failed")

	// ErrNotFound indicates the server does not know the requested item.
	ErrNotFound = errors.New("remote item not found")

	// ErrConflict indicates the server rejected the request because the
	// client's revision is stale or the item already exists.
	ErrConflict = errors.New("remote revision conflict")
)

// Error describes a failed remote operation.
type Error struct {
	Op         string // e.g. "fetch", "push", "create"
	StatusCode int    // HTTP status, 0 when no response was received
	Message    string // server supplied reason, if any
	Err        error  // underlying cause, if any
}

func (e *Error) Error() string {
	msg := "remote " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every *Error match ErrRemote, and maps statuses onto
// ErrNotFound and ErrConflict.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRemote:
		return true
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict ||
			(e.StatusCode == http.StatusBadRequest && e.Message == MsgUnsynchronized)
	}
	return false
}

// IsRetryable reports whether repeating the operation after a refresh could
// succeed. Transport failures, server errors and revision conflicts are
// retryable; rejected requests are not.
func IsRetryable(err error) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	if re.StatusCode == 0 || re.StatusCode >= 500 {
		return true
	}
	return errors.Is(err, ErrConflict)
}
