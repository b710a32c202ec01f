// Package remote provides typed accessors over the remote RPC connection,
// one per entity collection. Accessors translate domain-level operations
// into call invocations with the method names and argument shapes the remote
// expects; retry belongs to the connection, never to an accessor.
package remote

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/care/erpsync/internal/infrastructure/rpc"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// Condition is one filter term: field, operator, value.
type Condition struct {
	Field string
	Op    string
	Value any
}

// Filter is a conjunction of conditions on remote records.
type Filter []Condition

// Eq builds an equality condition.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: "=", Value: value}
}

// encode renders the filter in the remote's domain-triple form.
func (f Filter) encode() []any {
	encoded := make([]any, 0, len(f))
	for _, c := range f {
		encoded = append(encoded, []any{c.Field, c.Op, c.Value})
	}
	return encoded
}

// Resource is a generic accessor over one remote collection.
type Resource struct {
	conn       rpc.Connection
	collection string
	logger     *zap.Logger
}

// NewResource creates an accessor for a collection.
func NewResource(conn rpc.Connection, collection string, logger *zap.Logger) *Resource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resource{
		conn:       conn,
		collection: collection,
		logger:     logger,
	}
}

// Collection returns the remote collection name this accessor targets.
func (r *Resource) Collection() string {
	return r.collection
}

// Search returns the ordered identifiers matching the filter. No match is an
// empty slice, not an error.
func (r *Resource) Search(ctx context.Context, filter Filter, limit, offset int) ([]int64, error) {
	kwargs := map[string]any{"offset": offset}
	if limit > 0 {
		kwargs["limit"] = limit
	}

	result, err := r.conn.Call(ctx, r.collection, "search", []any{filter.encode()}, kwargs)
	if err != nil {
		return nil, err
	}
	return decodeIDs(result)
}

// SearchRead searches and reads matching records in one round trip.
func (r *Resource) SearchRead(ctx context.Context, filter Filter, fields []string, limit, offset int) ([]map[string]any, error) {
	kwargs := map[string]any{
		"domain": filter.encode(),
		"fields": fields,
		"offset": offset,
	}
	if limit > 0 {
		kwargs["limit"] = limit
	}

	result, err := r.conn.Call(ctx, r.collection, "search_read", nil, kwargs)
	if err != nil {
		return nil, err
	}
	return decodeRecords(result)
}

// Read returns field values keyed by identifier. Policy is strict: any
// requested identifier absent remotely fails the whole read.
func (r *Resource) Read(ctx context.Context, ids []int64, fields []string) (map[int64]map[string]any, error) {
	result, err := r.conn.Call(ctx, r.collection, "read", []any{encodeIDs(ids)}, map[string]any{"fields": fields})
	if err != nil {
		return nil, err
	}

	records, err := decodeRecords(result)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]map[string]any, len(records))
	for _, rec := range records {
		id, ok := toInt64(rec["id"])
		if !ok {
			return nil, fmt.Errorf("%w: %s record without id", domain.ErrResource, r.collection)
		}
		byID[id] = rec
	}

	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: %s id %d", domain.ErrResourceNotFound, r.collection, id)
		}
	}
	return byID, nil
}

// Create inserts a record and returns its new identifier. Required fields
// are checked before any call is issued so a bad mapping fails fast without
// touching the network.
func (r *Resource) Create(ctx context.Context, values map[string]any, required ...string) (int64, error) {
	for _, field := range required {
		v, ok := values[field]
		if !ok || v == nil || v == "" {
			return 0, fmt.Errorf("%w: %s create missing required field %q", domain.ErrMapping, r.collection, field)
		}
	}

	result, err := r.conn.Call(ctx, r.collection, "create", []any{values}, nil)
	if err != nil {
		return 0, err
	}

	id, ok := toInt64(result)
	if !ok {
		return 0, fmt.Errorf("%w: %s create returned no id", domain.ErrResource, r.collection)
	}

	r.logger.Info("created remote record",
		zap.String("collection", r.collection),
		zap.Int64("remote_id", id),
	)
	return id, nil
}

// Write updates existing records. Existence is presumed by the caller, so a
// not-found from the remote is reported as a plain resource rejection.
func (r *Resource) Write(ctx context.Context, ids []int64, values map[string]any) error {
	_, err := r.conn.Call(ctx, r.collection, "write", []any{encodeIDs(ids), values}, nil)
	if errors.Is(err, domain.ErrResourceNotFound) {
		return fmt.Errorf("%w: %s write rejected: %v", domain.ErrResource, r.collection, err)
	}
	return err
}

// Unlink deletes records remotely. Collections whose records cannot be hard
// deleted override this with their cancel action.
func (r *Resource) Unlink(ctx context.Context, ids []int64) error {
	_, err := r.conn.Call(ctx, r.collection, "unlink", []any{encodeIDs(ids)}, nil)
	return err
}

// CallAction invokes a named workflow action on records.
func (r *Resource) CallAction(ctx context.Context, action string, ids []int64) error {
	_, err := r.conn.Call(ctx, r.collection, action, []any{encodeIDs(ids)}, nil)
	return err
}

// findOne returns the first identifier matching the filter, 0 when none.
func (r *Resource) findOne(ctx context.Context, filter Filter) (int64, error) {
	ids, err := r.Search(ctx, filter, 1, 0)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

// ---------------------------------------------------------------------------
// Decoding helpers
// ---------------------------------------------------------------------------

func encodeIDs(ids []int64) []any {
	encoded := make([]any, 0, len(ids))
	for _, id := range ids {
		encoded = append(encoded, id)
	}
	return encoded
}

func decodeIDs(result any) ([]int64, error) {
	raw, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected id list, got %T", domain.ErrResource, result)
	}
	ids := make([]int64, 0, len(raw))
	for _, item := range raw {
		id, ok := toInt64(item)
		if !ok {
			return nil, fmt.Errorf("%w: non-numeric id %v", domain.ErrResource, item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func decodeRecords(result any) ([]map[string]any, error) {
	raw, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected record list, got %T", domain.ErrResource, result)
	}
	records := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected record object, got %T", domain.ErrResource, item)
		}
		records = append(records, rec)
	}
	return records, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
