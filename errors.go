package draftsync

import "github.com/jdziat/simple-draft-sync/pkg/core"

// Error variables
var (
	ErrNetwork            = core.ErrNetwork
	ErrConflict           = core.ErrConflict
	ErrUnauthenticated    = core.ErrUnauthenticated
	ErrTimeout            = core.ErrTimeout
	ErrRemote             = core.ErrRemote
	ErrNotReady           = core.ErrNotReady
	ErrDocumentNotTracked = core.ErrDocumentNotTracked
	ErrInvalidDocumentID  = core.ErrInvalidDocumentID
	ErrInvalidJobID       = core.ErrInvalidJobID
	ErrPayloadTooLarge    = core.ErrPayloadTooLarge
	ErrClosed             = core.ErrClosed
)

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return core.IsTransient(err)
}
