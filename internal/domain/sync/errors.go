package sync

import "errors"

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

var (
	// ErrConnection indicates a transport-level failure (refused, timeout,
	// 5xx) after the connection exhausted its retry budget. Retryable.
	ErrConnection = errors.New("sync: remote connection failed")
	// ErrAuthentication indicates the remote rejected the credentials or the
	// session. Never retried; invalidates the cached session.
	ErrAuthentication = errors.New("sync: remote authentication rejected")
	// ErrResourceNotFound indicates a requested remote record does not exist.
	ErrResourceNotFound = errors.New("sync: remote record not found")
	// ErrResourceValidation indicates the remote rejected required-field or
	// business-rule constraints.
	ErrResourceValidation = errors.New("sync: remote validation rejected")
	// ErrResource indicates a generic remote rejection.
	ErrResource = errors.New("sync: remote request rejected")
	// ErrMapping indicates a local-to-remote translation failure. Mapping
	// errors never reach the network.
	ErrMapping = errors.New("sync: field mapping failed")
	// ErrConcurrentSync indicates the per-record idempotency lease was
	// contended and the guard is configured to reject.
	ErrConcurrentSync = errors.New("sync: record sync already in flight")
	// ErrIntegration wraps orchestration failures not classified above.
	ErrIntegration = errors.New("sync: integration failed")
)

// ErrorKind is the stable classification carried by a Result.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindConnection         ErrorKind = "CONNECTION"
	KindAuthentication     ErrorKind = "AUTHENTICATION"
	KindResourceNotFound   ErrorKind = "RESOURCE_NOT_FOUND"
	KindResourceValidation ErrorKind = "RESOURCE_VALIDATION"
	KindResource           ErrorKind = "RESOURCE"
	KindMapping            ErrorKind = "MAPPING"
	KindConcurrentSync     ErrorKind = "CONCURRENT_SYNC"
	KindIntegration        ErrorKind = "INTEGRATION"
)

// Kind classifies an error into its taxonomy kind. Unclassified errors map
// to KindIntegration; nil maps to KindNone.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrConnection):
		return KindConnection
	case errors.Is(err, ErrResourceNotFound):
		return KindResourceNotFound
	case errors.Is(err, ErrResourceValidation):
		return KindResourceValidation
	case errors.Is(err, ErrResource):
		return KindResource
	case errors.Is(err, ErrMapping):
		return KindMapping
	case errors.Is(err, ErrConcurrentSync):
		return KindConcurrentSync
	default:
		return KindIntegration
	}
}

// Retryable reports whether retrying the operation could change the outcome.
// Only transport-level failures qualify; remote rejections are deterministic
// given the same remote state.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnection) && !errors.Is(err, ErrAuthentication)
}
