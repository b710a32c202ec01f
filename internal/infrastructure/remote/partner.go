package remote

import (
	"context"

	"go.uber.org/zap"

	"github.com/care/erpsync/internal/infrastructure/rpc"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// PartnerResource accesses customer records on the remote.
type PartnerResource struct {
	*Resource
}

// NewPartnerResource creates an accessor over the partner collection.
func NewPartnerResource(conn rpc.Connection, logger *zap.Logger) *PartnerResource {
	return &PartnerResource{Resource: NewResource(conn, domain.CollectionPartner, logger)}
}

// FindByExternalID looks a partner up by the external key stamped at
// creation. Returns 0 when no partner carries the key.
func (p *PartnerResource) FindByExternalID(ctx context.Context, externalID string) (int64, error) {
	return p.findOne(ctx, Filter{Eq(domain.ExternalKeyField, externalID)})
}

// FindByNaturalKey falls back to matching on name and phone for partners
// created before external keys were stamped. Phone is optional.
func (p *PartnerResource) FindByNaturalKey(ctx context.Context, name, phone string) (int64, error) {
	filter := Filter{Eq("name", name)}
	if phone != "" {
		filter = append(filter, Eq("phone", phone))
	}
	return p.findOne(ctx, filter)
}

// CreateCustomer inserts a customer partner. Name and the external key are
// mandatory so later runs can find the record again.
func (p *PartnerResource) CreateCustomer(ctx context.Context, values map[string]any) (int64, error) {
	return p.Create(ctx, values, "name", domain.ExternalKeyField)
}
