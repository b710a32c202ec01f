// Package persistence provides the reference RecordStore over sqlite. Host
// applications embedding the engine supply their own implementation; this
// one backs the CLI and the end-to-end tests.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/care/erpsync/internal/infrastructure/persistence/models"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// GormRecordStore implements sync.RecordStore using GORM
type GormRecordStore struct {
	db *gorm.DB
}

// NewGormRecordStore creates a new GormRecordStore
func NewGormRecordStore(db *gorm.DB) *GormRecordStore {
	return &GormRecordStore{db: db}
}

// SaveInvoice upserts a local invoice snapshot with its customer and lines.
// Not part of the engine's RecordStore port; the CLI and tests use it to
// seed records.
func (s *GormRecordStore) SaveInvoice(ctx context.Context, inv *domain.InvoiceRecord) error {
	model := models.InvoiceModelFromDomain(inv)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
}

// GetInvoice returns the current snapshot of a local invoice
func (s *GormRecordStore) GetInvoice(ctx context.Context, recordID uuid.UUID) (*domain.InvoiceRecord, error) {
	var model models.InvoiceModel
	if err := s.db.WithContext(ctx).
		Preload("Customer").
		Preload("Lines").
		First(&model, "id = ?", recordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("invoice %s not found", recordID)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// GetRemoteRef returns the stored remote reference for a record. A zero
// reference with nil error means the record was never synced.
func (s *GormRecordStore) GetRemoteRef(ctx context.Context, recordID uuid.UUID) (domain.RemoteRef, error) {
	var model models.RemoteLinkModel
	if err := s.db.WithContext(ctx).
		First(&model, "record_id = ?", recordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RemoteRef{}, nil
		}
		return domain.RemoteRef{}, err
	}
	return model.ToDomain(), nil
}

// SaveRemoteRef persists the reference after a successful remote create
func (s *GormRecordStore) SaveRemoteRef(ctx context.Context, recordID uuid.UUID, ref domain.RemoteRef) error {
	model := models.RemoteLinkModel{
		RecordID:   recordID,
		Collection: ref.Collection,
		RemoteID:   ref.ID,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
}

// UpdateStatus writes a remote-derived status back onto the local record
func (s *GormRecordStore) UpdateStatus(ctx context.Context, recordID uuid.UUID, status string) error {
	result := s.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("id = ?", recordID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("invoice %s not found", recordID)
	}
	return nil
}

// ListUnsynced returns up to limit record IDs with no remote reference,
// oldest first
func (s *GormRecordStore) ListUnsynced(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := s.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("id NOT IN (?)", s.db.Model(&models.RemoteLinkModel{}).Select("record_id")).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []uuid.UUID
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListAll returns up to limit record IDs regardless of sync state, oldest
// first
func (s *GormRecordStore) ListAll(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := s.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []uuid.UUID
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
