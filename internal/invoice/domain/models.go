// Package domain contains persistence models for invoices.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus is the stored lifecycle state. Overdue is never stored; it is
// derived from a sent invoice whose due date has passed.
type InvoiceStatus string

const (
	StatusDraft InvoiceStatus = "draft"
	StatusSent  InvoiceStatus = "sent"
	StatusPaid  InvoiceStatus = "paid"

	// StatusOverdue is a derived, read-only presentation of a sent invoice
	// past its due date.
	StatusOverdue InvoiceStatus = "overdue"
)

// Invoice aggregates locked time entries into a billable document. Monetary
// totals are denormalized and recomputed whenever line items change while the
// invoice is still a draft.
type Invoice struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	ClientID  snowflake.ID  `gorm:"not null;index" json:"client_id"`
	Number    string        `gorm:"not null;uniqueIndex" json:"number"`
	Status    InvoiceStatus `gorm:"type:text;not null;default:'draft'" json:"status"`
	IssueDate time.Time     `gorm:"not null" json:"issue_date"`
	DueDate   time.Time     `gorm:"not null" json:"due_date"`
	Currency  string        `gorm:"not null;default:'USD'" json:"currency"`
	Subtotal  float64       `gorm:"not null;default:0" json:"subtotal"`
	TaxRate   float64       `gorm:"not null;default:0" json:"tax_rate"`
	TaxAmount float64       `gorm:"not null;default:0" json:"tax_amount"`
	Total     float64       `gorm:"not null;default:0" json:"total"`
	Notes     string        `gorm:"type:text" json:"notes,omitempty"`
	SentAt    *time.Time    `gorm:"" json:"sent_at,omitempty"`
	PaidAt    *time.Time    `gorm:"" json:"paid_at,omitempty"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	LineItems []LineItem `gorm:"foreignKey:InvoiceID" json:"line_items,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// EffectiveStatus resolves the derived overdue state at read time.
func (i Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if i.Status == StatusSent && now.After(i.DueDate) {
		return StatusOverdue
	}
	return i.Status
}

// LineItem is a single priced row on an invoice. Rows aggregated from the
// ledger carry the source entry id; manual rows leave it nil.
type LineItem struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID  `gorm:"not null;index" json:"invoice_id"`
	EntryID     *snowflake.ID `gorm:"index" json:"entry_id,omitempty"`
	Description string        `gorm:"not null" json:"description"`
	Quantity    float64       `gorm:"not null" json:"quantity"`
	UnitPrice   float64       `gorm:"not null" json:"unit_price"`
	Amount      float64       `gorm:"not null" json:"amount"`
	Position    int           `gorm:"not null;default:0" json:"position"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "invoice_line_items" }
