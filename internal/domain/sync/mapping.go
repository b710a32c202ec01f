package sync

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Field mapping tables
// ---------------------------------------------------------------------------

// EntityKind names a mapped entity kind.
type EntityKind string

const (
	EntityInvoice     EntityKind = "invoice"
	EntityInvoiceLine EntityKind = "invoice_line"
	EntityPartner     EntityKind = "partner"
	EntityProduct     EntityKind = "product"
)

// ExternalKeyField is the custom remote field carrying the local external
// identifier. It is the primary lookup key for every synced collection.
const ExternalKeyField = "x_care_id"

// FieldSpec is one correspondence between a local field name and a remote
// field name. A spec with an empty Local is a constant: Default is always
// written. Default also fills in when the local value is absent.
type FieldSpec struct {
	Local    string
	Remote   string
	Required bool
	Default  any
}

// MappingTable is the static, versioned correspondence for one entity kind.
// Tables are read-only at runtime; translation through them is total and
// deterministic so retried creates can be deduplicated safely.
type MappingTable struct {
	Kind       EntityKind
	Collection string
	Version    int
	Fields     []FieldSpec
}

var invoiceTable = MappingTable{
	Kind:       EntityInvoice,
	Collection: CollectionInvoice,
	Version:    1,
	Fields: []FieldSpec{
		{Local: "number", Remote: "ref", Required: true},
		{Local: "number", Remote: "name"},
		{Local: "number", Remote: "payment_reference"},
		{Local: "external_id", Remote: ExternalKeyField, Required: true},
		{Local: "issue_date", Remote: "invoice_date", Required: true},
		{Local: "total_gross", Remote: "amount_total"},
		{Local: "note", Remote: "narration"},
		{Remote: "move_type", Default: "out_invoice"},
	},
}

var invoiceLineTable = MappingTable{
	Kind:       EntityInvoiceLine,
	Collection: CollectionInvoice,
	Version:    1,
	Fields: []FieldSpec{
		{Local: "title", Remote: "name", Required: true, Default: "Service"},
		{Local: "quantity", Remote: "quantity", Required: true, Default: 1.0},
		{Local: "unit_price", Remote: "price_unit", Required: true},
	},
}

var partnerTable = MappingTable{
	Kind:       EntityPartner,
	Collection: CollectionPartner,
	Version:    1,
	Fields: []FieldSpec{
		{Local: "name", Remote: "name", Required: true},
		{Local: "external_id", Remote: ExternalKeyField, Required: true},
		{Local: "phone", Remote: "phone"},
		{Local: "email", Remote: "email"},
		{Local: "street", Remote: "street"},
		{Remote: "is_company", Default: false},
		{Remote: "customer_rank", Default: int64(1)},
		{Remote: "supplier_rank", Default: int64(0)},
	},
}

var productTable = MappingTable{
	Kind:       EntityProduct,
	Collection: CollectionProduct,
	Version:    1,
	Fields: []FieldSpec{
		{Local: "title", Remote: "name", Required: true},
		{Local: "external_id", Remote: ExternalKeyField, Required: true},
		{Local: "code", Remote: "default_code"},
		{Local: "unit_price", Remote: "list_price"},
		{Remote: "type", Default: "service"},
		{Remote: "categ_id", Default: int64(1)},
	},
}

// TableFor returns the mapping table of an entity kind.
func TableFor(kind EntityKind) (*MappingTable, error) {
	switch kind {
	case EntityInvoice:
		return &invoiceTable, nil
	case EntityInvoiceLine:
		return &invoiceLineTable, nil
	case EntityPartner:
		return &partnerTable, nil
	case EntityProduct:
		return &productTable, nil
	default:
		return nil, fmt.Errorf("%w: unknown entity kind %q", ErrMapping, kind)
	}
}

// ToRemote translates a local field dictionary into a remote one. A missing
// required field with no default fails with ErrMapping before any remote
// call can happen. Iteration follows the table order, so the same input
// always yields the same output.
func (t *MappingTable) ToRemote(local map[string]any) (map[string]any, error) {
	remote := make(map[string]any, len(t.Fields))
	for _, spec := range t.Fields {
		value, ok := lookup(local, spec.Local)
		if !ok {
			if spec.Default != nil {
				remote[spec.Remote] = spec.Default
				continue
			}
			if spec.Required {
				return nil, fmt.Errorf("%w: %s: required remote field %q has no source value for local field %q",
					ErrMapping, t.Kind, spec.Remote, spec.Local)
			}
			continue
		}
		remote[spec.Remote] = value
	}
	return remote, nil
}

// FromRemote inverts the table. When several specs share a local field the
// first one wins, keeping the inversion deterministic.
func (t *MappingTable) FromRemote(remote map[string]any) map[string]any {
	local := make(map[string]any, len(t.Fields))
	for _, spec := range t.Fields {
		if spec.Local == "" {
			continue
		}
		if _, seen := local[spec.Local]; seen {
			continue
		}
		if value, ok := remote[spec.Remote]; ok {
			local[spec.Local] = value
		}
	}
	return local
}

func lookup(local map[string]any, field string) (any, bool) {
	if field == "" {
		return nil, false
	}
	value, ok := local[field]
	if !ok || value == nil {
		return nil, false
	}
	if s, isStr := value.(string); isStr && s == "" {
		return nil, false
	}
	return value, true
}

// ---------------------------------------------------------------------------
// Record snapshot to field dictionary
// ---------------------------------------------------------------------------

// InvoiceFields flattens an invoice snapshot into the local field dictionary
// the invoice table translates. Amounts become floats at this boundary; the
// wire format is JSON.
func InvoiceFields(rec *InvoiceRecord) map[string]any {
	fields := map[string]any{
		"external_id": rec.ID.String(),
		"number":      rec.Number,
		"status":      rec.Status,
		"total_gross": rec.TotalGross.InexactFloat64(),
	}
	if !rec.IssueDate.IsZero() {
		fields["issue_date"] = rec.IssueDate.Format("2006-01-02")
	}
	if rec.Note != "" {
		fields["note"] = rec.Note
	}
	return fields
}

// PartnerFields flattens the customer snapshot for the partner table.
func PartnerFields(c *CustomerRecord) map[string]any {
	return map[string]any{
		"external_id": c.ID.String(),
		"name":        c.Name,
		"phone":       c.Phone,
		"email":       c.Email,
		"street":      c.Street,
	}
}

// ProductFields flattens a charge line for the product table.
func ProductFields(l ChargeLine) map[string]any {
	return map[string]any{
		"external_id": l.ID.String(),
		"title":       l.Title,
		"code":        l.Code,
		"unit_price":  l.UnitPrice.InexactFloat64(),
	}
}

// LineFields flattens a charge line for the invoice line table.
func LineFields(l ChargeLine) map[string]any {
	return map[string]any{
		"title":      l.Title,
		"quantity":   l.Quantity.InexactFloat64(),
		"unit_price": l.UnitPrice.InexactFloat64(),
	}
}

// ---------------------------------------------------------------------------
// Remote state to local status
// ---------------------------------------------------------------------------

// LocalStatusFromRemote maps the remote invoice state pair onto the local
// invoice status vocabulary.
func LocalStatusFromRemote(state, paymentState string) string {
	switch {
	case state == "posted" && paymentState == "paid":
		return InvoiceStatusPaid
	case state == "posted":
		return InvoiceStatusPosted
	case state == "cancel" || state == "cancelled":
		return InvoiceStatusCancelled
	default:
		return InvoiceStatusDraft
	}
}

// FormatDate renders a timestamp in the remote date format.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
