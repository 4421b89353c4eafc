package engine

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/roach88/layercache/internal/protocol"
)

// StatusGone is the advisory status carried by offline errors.
const StatusGone = 410

// ErrNoNetwork is the explicit "no network" signal an Origin returns when it
// knows it cannot reach its backend.
var ErrNoNetwork = errors.New("no network")

// ErrUnknownAssociation is returned when a request populates an association
// its type does not declare.
var ErrUnknownAssociation = errors.New("unknown association")

// OfflineError reports a request that cannot be satisfied without the origin.
//
// Offline errors include:
//   - Data not available offline: a reject-stale read, or a read with no
//     cached fallback, while the origin is unreachable
//   - Operation not available offline: a write or blob mutation while the
//     origin is unreachable
//
// Err holds the underlying network failure.
type OfflineError struct {
	Code   OfflineErrorCode
	Status int

	Verb protocol.Verb
	Type string
	ID   string
	Key  string

	Err error
}

// OfflineErrorCode categorizes offline errors.
type OfflineErrorCode string

const (
	// ErrCodeDataNotAvailableOffline marks a read that could not be served.
	ErrCodeDataNotAvailableOffline OfflineErrorCode = "DATA_NOT_AVAILABLE_OFFLINE"

	// ErrCodeOperationNotAvailableOffline marks a write that did not reach the origin.
	ErrCodeOperationNotAvailableOffline OfflineErrorCode = "OPERATION_NOT_AVAILABLE_OFFLINE"
)

func newOfflineError(code OfflineErrorCode, req *protocol.Request, err error) *OfflineError {
	return &OfflineError{
		Code:   code,
		Status: StatusGone,
		Verb:   req.Verb,
		Type:   req.Type,
		ID:     req.ID,
		Key:    req.Key,
		Err:    err,
	}
}

// Error implements the error interface.
func (e *OfflineError) Error() string {
	target := e.Type + "/" + e.ID
	if e.Key != "" {
		target = e.Type + "[" + e.Key + "]"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %s (status=%d): %v", e.Code, e.Verb, target, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s %s (status=%d)", e.Code, e.Verb, target, e.Status)
}

// Unwrap returns the underlying network failure.
func (e *OfflineError) Unwrap() error {
	return e.Err
}

// IsDataNotAvailableOffline returns true if err is a read that could not be served offline.
// Uses errors.As to handle wrapped errors.
func IsDataNotAvailableOffline(err error) bool {
	var oe *OfflineError
	if errors.As(err, &oe) {
		return oe.Code == ErrCodeDataNotAvailableOffline
	}
	return false
}

// IsOperationNotAvailableOffline returns true if err is a write that did not reach the origin.
func IsOperationNotAvailableOffline(err error) bool {
	var oe *OfflineError
	if errors.As(err, &oe) {
		return oe.Code == ErrCodeOperationNotAvailableOffline
	}
	return false
}

// IsOffline returns true for either offline error kind.
func IsOffline(err error) bool {
	var oe *OfflineError
	return errors.As(err, &oe)
}

// NetworkError wraps an origin failure classified as network-class.
type NetworkError struct {
	Request *protocol.Request
	Err     error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("origin unreachable for %s: %v", e.Request, e.Err)
}

// Unwrap returns the transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err means the origin could not be reached:
// a *NetworkError, ErrNoNetwork, any net.Error (socket timeouts included),
// a refused, reset or unreachable connection, or a truncated response.
// A bare context.DeadlineExceeded is the caller's own deadline and does not
// count; a transport that times out on its own wraps it in a *NetworkError.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, ErrNoNetwork) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ENETUNREACH, syscall.EHOSTUNREACH} {
		if errors.Is(err, errno) {
			return true
		}
	}
	// syscall.Errno satisfies net.Error too; bare errnos only count when
	// listed above.
	var netErr net.Error
	if errors.As(err, &netErr) {
		_, isErrno := netErr.(syscall.Errno)
		return !isErrno
	}
	return false
}
