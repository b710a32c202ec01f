package remote

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/care/erpsync/internal/domain/sync"
)

type recordedCall struct {
	collection string
	method     string
	args       []any
	kwargs     map[string]any
}

// fakeConn scripts the connection layer so accessor behavior can be checked
// without a network.
type fakeConn struct {
	mu      sync.Mutex
	calls   []recordedCall
	handler func(collection, method string, args []any, kwargs map[string]any) (any, error)
}

func (f *fakeConn) Authenticate(ctx context.Context) (*domain.Session, error) {
	return &domain.Session{UID: 1, Token: "tok"}, nil
}

func (f *fakeConn) Call(ctx context.Context, collection, method string, args []any, kwargs map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{collection, method, args, kwargs})
	f.mu.Unlock()
	return f.handler(collection, method, args, kwargs)
}

func (f *fakeConn) Close(ctx context.Context) error { return nil }

func (f *fakeConn) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeConn) lastCall() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func TestResource_Search(t *testing.T) {
	conn := &fakeConn{handler: func(_, method string, args []any, kwargs map[string]any) (any, error) {
		return []any{float64(3), float64(7)}, nil
	}}
	r := NewResource(conn, "res.partner", nil)

	ids, err := r.Search(context.Background(), Filter{Eq("name", "Jane")}, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, ids)

	call := conn.lastCall()
	assert.Equal(t, "res.partner", call.collection)
	assert.Equal(t, "search", call.method)
	assert.Equal(t, []any{[]any{[]any{"name", "=", "Jane"}}}, call.args)
	assert.Equal(t, 5, call.kwargs["limit"])
}

func TestResource_Search_NoMatchIsEmptyNotError(t *testing.T) {
	conn := &fakeConn{handler: func(_, _ string, _ []any, _ map[string]any) (any, error) {
		return []any{}, nil
	}}
	r := NewResource(conn, "res.partner", nil)

	ids, err := r.Search(context.Background(), Filter{Eq("name", "nobody")}, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestResource_SearchRead(t *testing.T) {
	conn := &fakeConn{handler: func(_, method string, _ []any, kwargs map[string]any) (any, error) {
		require.Equal(t, "search_read", method)
		require.Equal(t, []string{"name", "phone"}, kwargs["fields"])
		return []any{map[string]any{"id": float64(3), "name": "Jane", "phone": "+1"}}, nil
	}}
	r := NewResource(conn, "res.partner", nil)

	records, err := r.SearchRead(context.Background(), Filter{Eq("name", "Jane")}, []string{"name", "phone"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Jane", records[0]["name"])
}

func TestResource_Read_MissingIDFailsWhole(t *testing.T) {
	conn := &fakeConn{handler: func(_, _ string, _ []any, _ map[string]any) (any, error) {
		return []any{map[string]any{"id": float64(1), "name": "a"}}, nil
	}}
	r := NewResource(conn, "account.move", nil)

	_, err := r.Read(context.Background(), []int64{1, 2}, []string{"name"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestResource_Read_ReturnsRecordsByID(t *testing.T) {
	conn := &fakeConn{handler: func(_, _ string, _ []any, _ map[string]any) (any, error) {
		return []any{
			map[string]any{"id": float64(1), "name": "a"},
			map[string]any{"id": float64(2), "name": "b"},
		}, nil
	}}
	r := NewResource(conn, "account.move", nil)

	records, err := r.Read(context.Background(), []int64{1, 2}, []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, "a", records[1]["name"])
	assert.Equal(t, "b", records[2]["name"])
}

func TestResource_Create_PreflightFailsBeforeAnyCall(t *testing.T) {
	conn := &fakeConn{handler: func(_, _ string, _ []any, _ map[string]any) (any, error) {
		return float64(1), nil
	}}
	r := NewResource(conn, "res.partner", nil)

	_, err := r.Create(context.Background(), map[string]any{"name": ""}, "name")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMapping)
	assert.Equal(t, 0, conn.callCount())
}

func TestResource_Create_ReturnsNewID(t *testing.T) {
	conn := &fakeConn{handler: func(_, method string, _ []any, _ map[string]any) (any, error) {
		require.Equal(t, "create", method)
		return float64(42), nil
	}}
	r := NewResource(conn, "res.partner", nil)

	id, err := r.Create(context.Background(), map[string]any{"name": "Jane"}, "name")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestResource_Write_NotFoundBecomesResourceError(t *testing.T) {
	conn := &fakeConn{handler: func(_, _ string, _ []any, _ map[string]any) (any, error) {
		return nil, fmt.Errorf("%w: gone", domain.ErrResourceNotFound)
	}}
	r := NewResource(conn, "account.move", nil)

	err := r.Write(context.Background(), []int64{9}, map[string]any{"ref": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrResource)
	assert.NotErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestPartnerResource_FindByExternalID(t *testing.T) {
	conn := &fakeConn{handler: func(_, _ string, args []any, _ map[string]any) (any, error) {
		return []any{float64(11)}, nil
	}}
	p := NewPartnerResource(conn, nil)

	id, err := p.FindByExternalID(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	call := conn.lastCall()
	assert.Equal(t, domain.CollectionPartner, call.collection)
	assert.Equal(t, []any{[]any{[]any{domain.ExternalKeyField, "=", "ext-1"}}}, call.args)
}

func TestPartnerResource_FindByNaturalKey_PhoneOptional(t *testing.T) {
	conn := &fakeConn{handler: func(_, _ string, _ []any, _ map[string]any) (any, error) {
		return []any{}, nil
	}}
	p := NewPartnerResource(conn, nil)

	id, err := p.FindByNaturalKey(context.Background(), "Jane Roe", "")
	require.NoError(t, err)
	assert.Zero(t, id)

	call := conn.lastCall()
	assert.Equal(t, []any{[]any{[]any{"name", "=", "Jane Roe"}}}, call.args)
}

func TestInvoiceResource_UnlinkCancelsInsteadOfDeleting(t *testing.T) {
	conn := &fakeConn{handler: func(_, method string, _ []any, _ map[string]any) (any, error) {
		return true, nil
	}}
	inv := NewInvoiceResource(conn, nil)

	require.NoError(t, inv.Unlink(context.Background(), []int64{5, 6}))

	assert.Equal(t, 2, conn.callCount())
	call := conn.lastCall()
	assert.Equal(t, actionCancel, call.method)
	assert.NotEqual(t, "unlink", call.method)
}

func TestInvoiceResource_FindByExternalID(t *testing.T) {
	conn := &fakeConn{handler: func(_, _ string, args []any, _ map[string]any) (any, error) {
		return []any{float64(9)}, nil
	}}
	inv := NewInvoiceResource(conn, nil)

	id, err := inv.FindByExternalID(context.Background(), "rec-9")
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	call := conn.lastCall()
	assert.Equal(t, domain.CollectionInvoice, call.collection)
	assert.Equal(t, []any{[]any{[]any{domain.ExternalKeyField, "=", "rec-9"}}}, call.args)
}

func TestInvoiceResource_State(t *testing.T) {
	conn := &fakeConn{handler: func(_, _ string, _ []any, _ map[string]any) (any, error) {
		return []any{map[string]any{"id": float64(5), "state": "posted", "payment_state": false}}, nil
	}}
	inv := NewInvoiceResource(conn, nil)

	state, payment, err := inv.State(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "posted", state)
	assert.Empty(t, payment)
}

func TestInvoiceResource_Post(t *testing.T) {
	conn := &fakeConn{handler: func(_, method string, args []any, _ map[string]any) (any, error) {
		return true, nil
	}}
	inv := NewInvoiceResource(conn, nil)

	require.NoError(t, inv.Post(context.Background(), 5))

	call := conn.lastCall()
	assert.Equal(t, actionPost, call.method)
	assert.Equal(t, []any{[]any{int64(5)}}, call.args)
}
