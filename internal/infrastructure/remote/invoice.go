package remote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/care/erpsync/internal/infrastructure/rpc"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// Remote workflow actions on invoices.
const (
	actionPost   = "action_post"
	actionCancel = "button_cancel"
)

// InvoiceResource accesses customer invoices on the remote.
type InvoiceResource struct {
	*Resource
}

// NewInvoiceResource creates an accessor over the invoice collection.
func NewInvoiceResource(conn rpc.Connection, logger *zap.Logger) *InvoiceResource {
	return &InvoiceResource{Resource: NewResource(conn, domain.CollectionInvoice, logger)}
}

// FindByRef looks an invoice up by its reference number. Returns 0 when
// absent.
func (i *InvoiceResource) FindByRef(ctx context.Context, ref string) (int64, error) {
	return i.findOne(ctx, Filter{Eq("ref", ref)})
}

// FindByExternalID looks an invoice up by its external key.
func (i *InvoiceResource) FindByExternalID(ctx context.Context, externalID string) (int64, error) {
	return i.findOne(ctx, Filter{Eq(domain.ExternalKeyField, externalID)})
}

// CreateInvoice inserts a draft invoice. The reference and partner are
// mandatory, everything else may be filled in later by a write.
func (i *InvoiceResource) CreateInvoice(ctx context.Context, values map[string]any) (int64, error) {
	return i.Create(ctx, values, "ref", "partner_id")
}

// UpdateInvoice writes changed fields onto an existing invoice.
func (i *InvoiceResource) UpdateInvoice(ctx context.Context, id int64, values map[string]any) error {
	return i.Write(ctx, []int64{id}, values)
}

// Post confirms a draft invoice, moving it to the posted state.
func (i *InvoiceResource) Post(ctx context.Context, id int64) error {
	return i.CallAction(ctx, actionPost, []int64{id})
}

// Cancel voids an invoice remotely.
func (i *InvoiceResource) Cancel(ctx context.Context, id int64) error {
	return i.CallAction(ctx, actionCancel, []int64{id})
}

// Unlink shadows the generic delete: posted invoices cannot be hard deleted
// remotely, so removal is expressed as cancellation.
func (i *InvoiceResource) Unlink(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if err := i.Cancel(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// State reads the workflow and payment state of an invoice.
func (i *InvoiceResource) State(ctx context.Context, id int64) (state, paymentState string, err error) {
	records, err := i.Read(ctx, []int64{id}, []string{"state", "payment_state"})
	if err != nil {
		return "", "", err
	}

	rec := records[id]
	state, _ = rec["state"].(string)
	// payment_state reads back as false, not "", on remotes without the
	// payment module installed
	paymentState, _ = rec["payment_state"].(string)
	if state == "" {
		return "", "", fmt.Errorf("%w: invoice %d has no state", domain.ErrResource, id)
	}

	i.logger.Debug("read invoice state",
		zap.Int64("remote_id", id),
		zap.String("state", state),
		zap.String("payment_state", paymentState),
	)
	return state, paymentState, nil
}
