package core

import (
	"errors"
	"fmt"
)

// Taxonomy errors. Typed errors below match these with errors.Is.
var (
	ErrNetwork         = errors.New("draftsync: network error")
	ErrConflict        = errors.New("draftsync: version conflict")
	ErrUnauthenticated = errors.New("draftsync: unauthenticated")
	ErrTimeout         = errors.New("draftsync: job timed out")
	ErrRemote          = errors.New("draftsync: remote error")
)

// Usage errors
var (
	ErrNotReady           = errors.New("draftsync: document has unresolved conflicts")
	ErrDocumentNotTracked = errors.New("draftsync: document is not open")
	ErrInvalidDocumentID  = errors.New("draftsync: invalid document id")
	ErrInvalidJobID       = errors.New("draftsync: invalid job id")
	ErrPayloadTooLarge    = errors.New("draftsync: field payload exceeds size limit")
	ErrClosed             = errors.New("draftsync: closed")
)

// NetworkError is a transient transport failure (connection refused, reset, timeout).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("network error: %v", e.Err)
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// ConflictError reports a write rejected because it carried a stale version.
// CurrentVersion and CurrentFields describe the server document at rejection time.
type ConflictError struct {
	DocumentID     string
	LocalVersion   int64
	CurrentVersion int64
	CurrentFields  *Fields
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict for %s: local %d, server %d", e.DocumentID, e.LocalVersion, e.CurrentVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// RemoteError is a non-conflict 4xx/5xx answer from a remote service.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error: http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error: http %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// Temporary reports whether the server asked for a later retry (429 or 5xx).
func (e *RemoteError) Temporary() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode <= 599)
}

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// IsTransient reports whether err is worth retrying later: network failures and
// temporary remote errors. Conflicts and authentication failures never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrUnauthenticated) {
		return false
	}
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Temporary()
	}
	return false
}
