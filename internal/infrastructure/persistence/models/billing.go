// Package models holds the persistence representations of local billing
// records. Models map to the domain snapshots; schema concerns stay here.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// CustomerModel persists the customer a local invoice bills.
type CustomerModel struct {
	ID     uuid.UUID `gorm:"type:uuid;primary_key"`
	Name   string    `gorm:"not null;index"`
	Phone  string    `gorm:"index"`
	Email  string
	Street string

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName overrides the table name
func (CustomerModel) TableName() string { return "customers" }

// ToDomain converts CustomerModel to a domain snapshot
func (m *CustomerModel) ToDomain() domain.CustomerRecord {
	return domain.CustomerRecord{
		ID:     m.ID,
		Name:   m.Name,
		Phone:  m.Phone,
		Email:  m.Email,
		Street: m.Street,
	}
}

// CustomerModelFromDomain builds the persistence model from a snapshot
func CustomerModelFromDomain(c domain.CustomerRecord) CustomerModel {
	return CustomerModel{
		ID:     c.ID,
		Name:   c.Name,
		Phone:  c.Phone,
		Email:  c.Email,
		Street: c.Street,
	}
}

// ChargeLineModel persists one billable line of an invoice.
type ChargeLineModel struct {
	ID        uuid.UUID       `gorm:"type:uuid;primary_key"`
	InvoiceID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Code      string          `gorm:"index"`
	Title     string          `gorm:"not null"`
	Quantity  decimal.Decimal `gorm:"type:decimal(12,3);not null"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName overrides the table name
func (ChargeLineModel) TableName() string { return "charge_lines" }

// ToDomain converts ChargeLineModel to a domain snapshot
func (m *ChargeLineModel) ToDomain() domain.ChargeLine {
	return domain.ChargeLine{
		ID:        m.ID,
		Code:      m.Code,
		Title:     m.Title,
		Quantity:  m.Quantity,
		UnitPrice: m.UnitPrice,
	}
}

// InvoiceModel persists the local invoice snapshot handed to the sync engine.
type InvoiceModel struct {
	ID         uuid.UUID       `gorm:"type:uuid;primary_key"`
	Number     string          `gorm:"uniqueIndex;not null"`
	Status     string          `gorm:"not null;default:draft"`
	IssueDate  time.Time       `gorm:"not null"`
	Note       string
	TotalGross decimal.Decimal `gorm:"type:decimal(12,2);not null"`

	CustomerID uuid.UUID         `gorm:"type:uuid;not null;index"`
	Customer   CustomerModel     `gorm:"foreignKey:CustomerID"`
	Lines      []ChargeLineModel `gorm:"foreignKey:InvoiceID"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName overrides the table name
func (InvoiceModel) TableName() string { return "invoices" }

// ToDomain converts InvoiceModel and its associations to a domain snapshot
func (m *InvoiceModel) ToDomain() *domain.InvoiceRecord {
	lines := make([]domain.ChargeLine, 0, len(m.Lines))
	for i := range m.Lines {
		lines = append(lines, m.Lines[i].ToDomain())
	}
	return &domain.InvoiceRecord{
		ID:         m.ID,
		Number:     m.Number,
		Status:     m.Status,
		IssueDate:  m.IssueDate,
		Note:       m.Note,
		TotalGross: m.TotalGross,
		Customer:   m.Customer.ToDomain(),
		Lines:      lines,
	}
}

// InvoiceModelFromDomain builds the persistence model from a snapshot
func InvoiceModelFromDomain(inv *domain.InvoiceRecord) InvoiceModel {
	lines := make([]ChargeLineModel, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, ChargeLineModel{
			ID:        l.ID,
			InvoiceID: inv.ID,
			Code:      l.Code,
			Title:     l.Title,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return InvoiceModel{
		ID:         inv.ID,
		Number:     inv.Number,
		Status:     inv.Status,
		IssueDate:  inv.IssueDate,
		Note:       inv.Note,
		TotalGross: inv.TotalGross,
		CustomerID: inv.Customer.ID,
		Customer:   CustomerModelFromDomain(inv.Customer),
		Lines:      lines,
	}
}

// RemoteLinkModel persists the durable link between a local record and its
// remote counterpart. One link per record.
type RemoteLinkModel struct {
	RecordID   uuid.UUID `gorm:"type:uuid;primary_key"`
	Collection string    `gorm:"not null"`
	RemoteID   int64     `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName overrides the table name
func (RemoteLinkModel) TableName() string { return "remote_links" }

// ToDomain converts RemoteLinkModel to a domain reference
func (m *RemoteLinkModel) ToDomain() domain.RemoteRef {
	return domain.RemoteRef{Collection: m.Collection, ID: m.RemoteID}
}
