// Package sync orchestrates the synchronization of local billing records
// with the remote ERP: resolves partners and products, maps fields, submits
// invoices, and guards each record against concurrent attempts.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/care/erpsync/internal/infrastructure/remote"
	"github.com/care/erpsync/internal/infrastructure/rpc"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// ServiceConfig holds the orchestration settings of the integration service.
type ServiceConfig struct {
	// Enabled gates the whole integration. When false every operation is an
	// immediate no-op success and no remote call is ever made.
	Enabled bool
	// RejectConcurrent selects the guard's reject policy over wait-and-reuse.
	RejectConcurrent bool
	// ValidateAfterSync posts invoices after every successful submit even
	// when the request does not ask for it.
	ValidateAfterSync bool
	// BulkLimit caps how many records one SyncAll pass processes when the
	// caller gives no limit.
	BulkLimit int
}

// Service drives the sync state machine for single records and batches.
type Service struct {
	cfg      ServiceConfig
	store    domain.RecordStore
	partners *remote.PartnerResource
	products *remote.ProductResource
	invoices *remote.InvoiceResource
	guard    *Guard
	logger   *zap.Logger

	mu     sync.RWMutex
	states map[uuid.UUID]domain.State
}

// NewService creates the integration service over an authenticated
// connection and the host's record store.
func NewService(cfg ServiceConfig, conn rpc.Connection, store domain.RecordStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BulkLimit <= 0 {
		cfg.BulkLimit = 100
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		partners: remote.NewPartnerResource(conn, logger),
		products: remote.NewProductResource(conn, logger),
		invoices: remote.NewInvoiceResource(conn, logger),
		guard:    NewGuard(cfg.RejectConcurrent),
		logger:   logger,
		states:   make(map[uuid.UUID]domain.State),
	}
}

// Status returns the last observed state of a record's sync lifecycle.
func (s *Service) Status(recordID uuid.UUID) (domain.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[recordID]
	return state, ok
}

func (s *Service) setState(recordID uuid.UUID, state domain.State) {
	s.mu.Lock()
	s.states[recordID] = state
	s.mu.Unlock()
}

// Sync executes one sync request, dispatching on the requested operation.
// An empty operation means create-or-update, decided by the stored remote
// reference. Only the invoice collection can be synchronized directly;
// partners and products are resolved as part of an invoice sync.
func (s *Service) Sync(ctx context.Context, req domain.Request) domain.Result {
	if req.Collection != "" && req.Collection != domain.CollectionInvoice {
		return s.fail(req.RecordID, fmt.Errorf("unsupported collection %q", req.Collection))
	}

	switch req.Op {
	case domain.OperationCancel:
		return s.Cancel(ctx, req.RecordID, req.Options)
	case domain.OperationValidate:
		opts := req.Options
		opts.Validate = true
		return s.SyncInvoice(ctx, req.RecordID, opts)
	case domain.OperationCreate, domain.OperationUpdate, "":
		return s.SyncInvoice(ctx, req.RecordID, req.Options)
	default:
		return s.fail(req.RecordID, fmt.Errorf("unsupported operation %q", req.Op))
	}
}

// SyncInvoice synchronizes one local invoice with the remote under the
// record's lease.
func (s *Service) SyncInvoice(ctx context.Context, recordID uuid.UUID, opts domain.Options) domain.Result {
	if !s.cfg.Enabled {
		return s.disabledResult(recordID, opts)
	}
	if s.cfg.ValidateAfterSync {
		opts.Validate = true
	}

	result, err := s.guard.Do(recordID, func() domain.Result {
		return s.syncOnce(ctx, recordID, opts)
	})
	if err != nil {
		return s.fail(recordID, err)
	}
	return result
}

// syncOnce runs the full state machine for one record. Callers hold the
// record's lease.
func (s *Service) syncOnce(ctx context.Context, recordID uuid.UUID, opts domain.Options) domain.Result {
	s.setState(recordID, domain.StatePending)

	inv, err := s.store.GetInvoice(ctx, recordID)
	if err != nil {
		return s.fail(recordID, fmt.Errorf("loading invoice: %w", err))
	}

	s.setState(recordID, domain.StateResolvingPartner)
	partnerID, err := s.resolvePartner(ctx, &inv.Customer, opts.DryRun)
	if err != nil {
		return s.fail(recordID, fmt.Errorf("resolving partner: %w", err))
	}

	s.setState(recordID, domain.StateResolvingProducts)
	productIDs, err := s.resolveProducts(ctx, inv.Lines, opts.DryRun)
	if err != nil {
		return s.fail(recordID, fmt.Errorf("resolving products: %w", err))
	}

	s.setState(recordID, domain.StateMapping)
	values, err := buildInvoiceValues(inv, partnerID, productIDs)
	if err != nil {
		return s.fail(recordID, err)
	}

	s.setState(recordID, domain.StateSubmitting)
	remoteID, created, err := s.submit(ctx, inv, values, opts)
	if err != nil {
		return s.fail(recordID, fmt.Errorf("submitting invoice: %w", err))
	}

	if opts.Validate {
		s.setState(recordID, domain.StateValidating)
		if !opts.DryRun {
			if err := s.invoices.Post(ctx, remoteID); err != nil {
				// the create/write already stands; only the confirmation failed
				return s.fail(recordID, fmt.Errorf("validating invoice %d after submit: %w", remoteID, err))
			}
		}
	}

	s.setState(recordID, domain.StateDone)

	message := "invoice updated"
	if created {
		message = "invoice created"
	}
	if opts.DryRun {
		message = "dry run: " + wouldMessage(created)
	}
	s.logger.Info("invoice synced",
		zap.String("record_id", recordID.String()),
		zap.Int64("remote_id", remoteID),
		zap.Bool("created", created),
		zap.Bool("dry_run", opts.DryRun),
	)
	return domain.Result{
		RecordID: recordID,
		Success:  true,
		RemoteID: remoteID,
		State:    domain.StateDone,
		Message:  message,
		DryRun:   opts.DryRun,
	}
}

// wouldMessage names the remote action a dry run suppressed.
func wouldMessage(created bool) string {
	if created {
		return "would create invoice"
	}
	return "would update invoice"
}

// resolvePartner finds or creates the remote partner for a customer. Lookup
// order: external key, then natural key, then create. A create lost to a
// concurrent writer is resolved by searching again.
func (s *Service) resolvePartner(ctx context.Context, c *domain.CustomerRecord, dryRun bool) (int64, error) {
	id, err := s.partners.FindByExternalID(ctx, c.ID.String())
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}

	id, err = s.partners.FindByNaturalKey(ctx, c.Name, c.Phone)
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}

	if dryRun {
		return 0, nil
	}

	table, err := domain.TableFor(domain.EntityPartner)
	if err != nil {
		return 0, err
	}
	values, err := table.ToRemote(domain.PartnerFields(c))
	if err != nil {
		return 0, err
	}

	id, err = s.partners.CreateCustomer(ctx, values)
	if err != nil {
		if recovered, ok := s.recoverLostCreate(ctx, err, func() (int64, error) {
			return s.partners.FindByExternalID(ctx, c.ID.String())
		}); ok {
			return recovered, nil
		}
		return 0, err
	}
	return id, nil
}

// resolveProducts finds or creates a remote service product per charge line,
// keyed by line ID. In a dry run, unresolved products stay 0.
func (s *Service) resolveProducts(ctx context.Context, lines []domain.ChargeLine, dryRun bool) (map[uuid.UUID]int64, error) {
	ids := make(map[uuid.UUID]int64, len(lines))
	for _, line := range lines {
		id, err := s.resolveProduct(ctx, line, dryRun)
		if err != nil {
			return nil, err
		}
		ids[line.ID] = id
	}
	return ids, nil
}

func (s *Service) resolveProduct(ctx context.Context, line domain.ChargeLine, dryRun bool) (int64, error) {
	id, err := s.products.FindByExternalID(ctx, line.ID.String())
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}

	if line.Code != "" {
		id, err = s.products.FindByCode(ctx, line.Code)
		if err != nil {
			return 0, err
		}
		if id != 0 {
			return id, nil
		}
	}

	if dryRun {
		return 0, nil
	}

	table, err := domain.TableFor(domain.EntityProduct)
	if err != nil {
		return 0, err
	}
	values, err := table.ToRemote(domain.ProductFields(line))
	if err != nil {
		return 0, err
	}

	id, err = s.products.CreateService(ctx, values)
	if err != nil {
		if recovered, ok := s.recoverLostCreate(ctx, err, func() (int64, error) {
			return s.products.FindByExternalID(ctx, line.ID.String())
		}); ok {
			return recovered, nil
		}
		return 0, err
	}
	return id, nil
}

// recoverLostCreate retries the lookup when a create was rejected by a
// validation or uniqueness constraint, which happens when another writer got
// there first.
func (s *Service) recoverLostCreate(ctx context.Context, createErr error, find func() (int64, error)) (int64, bool) {
	if !errors.Is(createErr, domain.ErrResourceValidation) {
		return 0, false
	}
	id, err := find()
	if err != nil || id == 0 {
		return 0, false
	}
	s.logger.Debug("create lost a race, reusing existing remote record",
		zap.Int64("remote_id", id),
	)
	return id, true
}

// buildInvoiceValues translates the invoice snapshot through the mapping
// tables and attaches the resolved partner and line commands. Pure: no
// remote calls.
func buildInvoiceValues(inv *domain.InvoiceRecord, partnerID int64, productIDs map[uuid.UUID]int64) (map[string]any, error) {
	table, err := domain.TableFor(domain.EntityInvoice)
	if err != nil {
		return nil, err
	}
	values, err := table.ToRemote(domain.InvoiceFields(inv))
	if err != nil {
		return nil, err
	}
	values["partner_id"] = partnerID

	lineTable, err := domain.TableFor(domain.EntityInvoiceLine)
	if err != nil {
		return nil, err
	}
	lines := make([]any, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		lineValues, err := lineTable.ToRemote(domain.LineFields(line))
		if err != nil {
			return nil, err
		}
		if id := productIDs[line.ID]; id != 0 {
			lineValues["product_id"] = id
		}
		// one2many create command
		lines = append(lines, []any{int64(0), int64(0), lineValues})
	}
	values["invoice_line_ids"] = lines
	return values, nil
}

// submit writes the mapped values to the remote. An existing reference means
// update, never a second create; without one the natural key is re-searched
// first so a create of unknown outcome is not repeated.
func (s *Service) submit(ctx context.Context, inv *domain.InvoiceRecord, values map[string]any, opts domain.Options) (remoteID int64, created bool, err error) {
	ref, err := s.store.GetRemoteRef(ctx, inv.ID)
	if err != nil {
		return 0, false, err
	}

	if !ref.IsZero() {
		if opts.DryRun {
			return ref.ID, false, nil
		}
		if err := s.invoices.UpdateInvoice(ctx, ref.ID, values); err != nil {
			return 0, false, err
		}
		return ref.ID, false, nil
	}

	remoteID, err = s.invoices.FindByRef(ctx, inv.Number)
	if err != nil {
		return 0, false, err
	}
	if remoteID != 0 {
		if opts.DryRun {
			return remoteID, false, nil
		}
		if err := s.invoices.UpdateInvoice(ctx, remoteID, values); err != nil {
			return 0, false, err
		}
		if err := s.saveRef(ctx, inv.ID, remoteID); err != nil {
			return 0, false, err
		}
		return remoteID, false, nil
	}

	if opts.DryRun {
		return 0, true, nil
	}

	remoteID, err = s.invoices.CreateInvoice(ctx, values)
	if err != nil {
		recovered, ok := s.recoverLostCreate(ctx, err, func() (int64, error) {
			return s.invoices.FindByRef(ctx, inv.Number)
		})
		if !ok {
			return 0, false, err
		}
		remoteID = recovered
		if err := s.saveRef(ctx, inv.ID, remoteID); err != nil {
			return 0, false, err
		}
		return remoteID, false, nil
	}

	if err := s.saveRef(ctx, inv.ID, remoteID); err != nil {
		return 0, false, fmt.Errorf("invoice %d created but reference not persisted: %w", remoteID, err)
	}
	return remoteID, true, nil
}

func (s *Service) saveRef(ctx context.Context, recordID uuid.UUID, remoteID int64) error {
	return s.store.SaveRemoteRef(ctx, recordID, domain.RemoteRef{
		Collection: domain.CollectionInvoice,
		ID:         remoteID,
	})
}

// Cancel voids the remote invoice of a record. A record that was never
// synced has nothing to cancel and succeeds as a no-op.
func (s *Service) Cancel(ctx context.Context, recordID uuid.UUID, opts domain.Options) domain.Result {
	if !s.cfg.Enabled {
		return s.disabledResult(recordID, opts)
	}

	result, err := s.guard.Do(recordID, func() domain.Result {
		ref, err := s.store.GetRemoteRef(ctx, recordID)
		if err != nil {
			return s.fail(recordID, fmt.Errorf("loading remote reference: %w", err))
		}
		if ref.IsZero() {
			return domain.Result{
				RecordID: recordID,
				Success:  true,
				State:    domain.StateDone,
				Message:  "no remote invoice to cancel",
				DryRun:   opts.DryRun,
			}
		}
		if !opts.DryRun {
			if err := s.invoices.Cancel(ctx, ref.ID); err != nil {
				return s.fail(recordID, fmt.Errorf("cancelling invoice %d: %w", ref.ID, err))
			}
			if err := s.store.UpdateStatus(ctx, recordID, domain.InvoiceStatusCancelled); err != nil {
				return s.fail(recordID, fmt.Errorf("recording cancelled status: %w", err))
			}
		}
		s.setState(recordID, domain.StateDone)
		return domain.Result{
			RecordID: recordID,
			Success:  true,
			RemoteID: ref.ID,
			State:    domain.StateDone,
			Message:  "invoice cancelled",
			DryRun:   opts.DryRun,
		}
	})
	if err != nil {
		return s.fail(recordID, err)
	}
	return result
}

// RefreshStatus pulls the remote invoice state, maps it to the local status
// vocabulary, and persists it on the record. Returns the new local status.
func (s *Service) RefreshStatus(ctx context.Context, recordID uuid.UUID) (string, error) {
	if !s.cfg.Enabled {
		return "", nil
	}

	ref, err := s.store.GetRemoteRef(ctx, recordID)
	if err != nil {
		return "", err
	}
	if ref.IsZero() {
		return "", fmt.Errorf("%w: record %s was never synced", domain.ErrIntegration, recordID)
	}

	state, paymentState, err := s.invoices.State(ctx, ref.ID)
	if err != nil {
		return "", err
	}

	status := domain.LocalStatusFromRemote(state, paymentState)
	if err := s.store.UpdateStatus(ctx, recordID, status); err != nil {
		return "", err
	}

	s.logger.Info("invoice status refreshed",
		zap.String("record_id", recordID.String()),
		zap.String("status", status),
	)
	return status, nil
}

// SyncAll synchronizes every unsynced record, up to limit. Under force,
// records that already carry a remote reference are included and their
// values re-submitted. Records are isolated from each other: one failure
// never aborts the batch.
func (s *Service) SyncAll(ctx context.Context, limit int, opts domain.Options) []domain.Result {
	if !s.cfg.Enabled {
		return nil
	}
	if limit <= 0 {
		limit = s.cfg.BulkLimit
	}

	list := s.store.ListUnsynced
	if opts.Force {
		list = s.store.ListAll
	}
	ids, err := list(ctx, limit)
	if err != nil {
		return []domain.Result{s.fail(uuid.Nil, fmt.Errorf("listing unsynced records: %w", err))}
	}

	results := make([]domain.Result, 0, len(ids))
	for _, id := range ids {
		results = append(results, s.SyncInvoice(ctx, id, opts))
	}
	return results
}

func (s *Service) disabledResult(recordID uuid.UUID, opts domain.Options) domain.Result {
	return domain.Result{
		RecordID: recordID,
		Success:  true,
		State:    domain.StateDone,
		Message:  "integration disabled, nothing to do",
		DryRun:   opts.DryRun,
	}
}

// fail classifies err, records the failed state, and builds the Result.
// Unclassified errors are wrapped as integration failures.
func (s *Service) fail(recordID uuid.UUID, err error) domain.Result {
	if domain.Kind(err) == domain.KindIntegration && !errors.Is(err, domain.ErrIntegration) {
		err = fmt.Errorf("%w: %v", domain.ErrIntegration, err)
	}
	s.setState(recordID, domain.StateFailed)
	s.logger.Error("sync failed",
		zap.String("record_id", recordID.String()),
		zap.String("kind", string(domain.Kind(err))),
		zap.Error(err),
	)
	return domain.Failure(recordID, err)
}
