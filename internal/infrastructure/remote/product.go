package remote

import (
	"context"

	"go.uber.org/zap"

	"github.com/care/erpsync/internal/infrastructure/rpc"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// ProductResource accesses billable service products on the remote.
type ProductResource struct {
	*Resource
}

// NewProductResource creates an accessor over the product collection.
func NewProductResource(conn rpc.Connection, logger *zap.Logger) *ProductResource {
	return &ProductResource{Resource: NewResource(conn, domain.CollectionProduct, logger)}
}

// FindByExternalID looks a product up by its external key. Returns 0 when
// absent.
func (p *ProductResource) FindByExternalID(ctx context.Context, externalID string) (int64, error) {
	return p.findOne(ctx, Filter{Eq(domain.ExternalKeyField, externalID)})
}

// FindByCode looks a product up by its internal reference code.
func (p *ProductResource) FindByCode(ctx context.Context, code string) (int64, error) {
	return p.findOne(ctx, Filter{Eq("default_code", code)})
}

// CreateService inserts a service product carrying the external key.
func (p *ProductResource) CreateService(ctx context.Context, values map[string]any) (int64, error) {
	return p.Create(ctx, values, "name", domain.ExternalKeyField)
}
