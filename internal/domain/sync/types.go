package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Remote collections
// ---------------------------------------------------------------------------

const (
	// CollectionInvoice is the remote journal-entry collection.
	CollectionInvoice = "account.move"
	// CollectionPartner is the remote partner (customer) collection.
	CollectionPartner = "res.partner"
	// CollectionProduct is the remote product-variant collection.
	CollectionProduct = "product.product"
)

// ---------------------------------------------------------------------------
// Sync request / result
// ---------------------------------------------------------------------------

// Operation is the desired remote operation of a sync request.
type Operation string

const (
	OperationCreate   Operation = "create"
	OperationUpdate   Operation = "update"
	OperationValidate Operation = "validate"
	OperationCancel   Operation = "cancel"
)

// Options are the behavioral flags of one sync attempt.
type Options struct {
	// Force widens bulk syncs to records that already carry a remote
	// reference, re-submitting their field values. It never
	// duplicate-creates: forcing re-syncs content, not identity.
	Force bool
	// DryRun performs all resolution and mapping steps but suppresses every
	// remote create/write/unlink/validate call.
	DryRun bool
	// Validate posts (confirms) the remote invoice after a successful
	// create/write.
	Validate bool
}

// Request describes one synchronization attempt of a single local record.
type Request struct {
	RecordID   uuid.UUID
	Collection string
	Op         Operation
	Options    Options
}

// State is the position of a sync request in its lifecycle.
type State string

const (
	StatePending           State = "PENDING"
	StateResolvingPartner  State = "RESOLVING_PARTNER"
	StateResolvingProducts State = "RESOLVING_PRODUCTS"
	StateMapping           State = "MAPPING"
	StateSubmitting        State = "SUBMITTING"
	StateValidating        State = "VALIDATING"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Result is the outcome of one sync attempt. The core never persists it;
// the host decides what to store.
type Result struct {
	RecordID  uuid.UUID `json:"record_id"`
	Success   bool      `json:"success"`
	RemoteID  int64     `json:"remote_id,omitempty"`
	State     State     `json:"state"`
	Message   string    `json:"message"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	DryRun    bool      `json:"dry_run,omitempty"`
}

// Failure builds a failed Result classified from err.
func Failure(recordID uuid.UUID, err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{
		RecordID:  recordID,
		Success:   false,
		State:     StateFailed,
		Message:   msg,
		ErrorKind: Kind(err),
	}
}

// ---------------------------------------------------------------------------
// Remote record reference
// ---------------------------------------------------------------------------

// RemoteRef is the durable linkage between a local record and its remote
// counterpart. Once set, subsequent syncs must reuse it for updates rather
// than creating a duplicate.
type RemoteRef struct {
	Collection string `json:"collection"`
	ID         int64  `json:"id"`
}

// IsZero reports whether no remote counterpart has been created yet.
func (r RemoteRef) IsZero() bool {
	return r.ID == 0
}

// ---------------------------------------------------------------------------
// Connection session
// ---------------------------------------------------------------------------

// Session holds the authenticated state of one remote connection. It is
// owned exclusively by the connection and cached with a configured TTL.
type Session struct {
	UID       int64     `json:"uid"`
	Token     string    `json:"token"`
	Database  string    `json:"database"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the session can still authenticate calls.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.UID != 0 && now.Before(s.ExpiresAt)
}

// SessionCache stores sessions keyed by connection identity. Entries are
// invalidated immediately when an authentication error is observed.
type SessionCache interface {
	Get(ctx context.Context, key string) (*Session, bool, error)
	Set(ctx context.Context, key string, session *Session, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}
