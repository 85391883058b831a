package auth

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
)

// Directory is the user directory contract. Two implementations exist:
// the remote MariaDB directory and the local store-backed directory.
// The availability prober decides which one an operation runs against;
// callers never branch on the backend themselves.
//
// Find operations return apperror.NewNotFound when no record matches.
// The remote implementation wraps every infrastructure failure in a
// *RemoteError so callers can distinguish transport failures (backend
// unreachable) from domain failures (backend answered, request failed).
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Insert(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	ListAll(ctx context.Context) ([]User, error)
}

// RemoteError wraps a failure of the remote directory, keeping the
// operation name and the underlying cause.
type RemoteError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote directory: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Transport reports whether the wrapped cause is a network-class
// failure (connection refused/reset, timeout, dead connection) rather
// than a domain-level error from a reachable backend.
func (e *RemoteError) Transport() bool {
	return isTransportError(e.Err)
}

// IsRemoteTransport reports whether err is a RemoteError with a
// network-class cause. This is the condition that triggers the local
// retry on read paths.
func IsRemoteTransport(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Transport()
}

// isTransportError classifies an error as a network/connection failure.
// Anything else (constraint violations, bad SQL, scan errors) means the
// backend is up and answered.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// The mysql driver surfaces dead connections as driver.ErrBadConn
	// or bare io.EOF depending on where the connection died.
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}
