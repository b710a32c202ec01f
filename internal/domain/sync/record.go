package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Local record snapshots
// ---------------------------------------------------------------------------

// Local invoice statuses as exposed by the host application.
const (
	InvoiceStatusDraft     = "draft"
	InvoiceStatusIssued    = "issued"
	InvoiceStatusPosted    = "posted"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusCancelled = "cancelled"
)

// CustomerRecord is the snapshot of the local customer an invoice bills.
// Name plus phone form the natural key used to find-or-create the remote
// partner when no external key matches.
type CustomerRecord struct {
	ID     uuid.UUID
	Name   string
	Phone  string
	Email  string
	Street string
}

// ChargeLine is one billable line of a local invoice.
type ChargeLine struct {
	ID        uuid.UUID
	Code      string
	Title     string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// Total returns quantity times unit price.
func (l ChargeLine) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// InvoiceRecord is the read-only snapshot of a local invoice handed to the
// engine by the host's RecordStore. Number doubles as the remote reference
// natural key.
type InvoiceRecord struct {
	ID         uuid.UUID
	Number     string
	Status     string
	IssueDate  time.Time
	Note       string
	TotalGross decimal.Decimal
	Customer   CustomerRecord
	Lines      []ChargeLine
}

// ---------------------------------------------------------------------------
// Host persistence port
// ---------------------------------------------------------------------------

// RecordStore is the host-provided persistence hook. The engine reads local
// record snapshots and writes back remote references through it; it never
// touches host storage directly.
type RecordStore interface {
	// GetInvoice returns the current snapshot of a local invoice.
	GetInvoice(ctx context.Context, recordID uuid.UUID) (*InvoiceRecord, error)

	// GetRemoteRef returns the stored remote reference for a record.
	// A zero RemoteRef with nil error means the record was never synced.
	GetRemoteRef(ctx context.Context, recordID uuid.UUID) (RemoteRef, error)

	// SaveRemoteRef persists the reference after a successful remote create.
	SaveRemoteRef(ctx context.Context, recordID uuid.UUID, ref RemoteRef) error

	// UpdateStatus writes a remote-derived status back onto the local record.
	UpdateStatus(ctx context.Context, recordID uuid.UUID, status string) error

	// ListUnsynced returns up to limit record IDs with no remote reference,
	// oldest first. limit <= 0 means no limit.
	ListUnsynced(ctx context.Context, limit int) ([]uuid.UUID, error)

	// ListAll returns up to limit record IDs regardless of sync state,
	// oldest first. Forced bulk syncs use it to re-submit synced records.
	ListAll(ctx context.Context, limit int) ([]uuid.UUID, error)
}
