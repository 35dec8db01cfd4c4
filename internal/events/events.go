// Package events fans ledger and invoice changes out to live connections,
// redacting staff-only fields before anything reaches a client principal.
package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/hourbill/hourbill/internal/invoice/domain"
	timeentrydomain "github.com/hourbill/hourbill/internal/timeentry/domain"
)

const (
	TypeEntryCreated   = "entry:created"
	TypeEntryUpdated   = "entry:updated"
	TypeEntryDeleted   = "entry:deleted"
	TypeInvoiceCreated = "invoice:created"
	TypeInvoiceUpdated = "invoice:updated"
	TypeInvoiceSent    = "invoice:sent"
)

// Envelope is the wire shape of one live event.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ClientEntryView is the redacted projection of a time entry. The internal
// note and the frozen billing rate never leave the staff surface.
type ClientEntryView struct {
	ID          snowflake.ID  `json:"id"`
	ClientID    snowflake.ID  `json:"client_id"`
	ProjectID   *snowflake.ID `json:"project_id,omitempty"`
	Date        time.Time     `json:"date"`
	StartTime   *string       `json:"start_time,omitempty"`
	Hours       float64       `json:"hours"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Billable    bool          `json:"billable"`
	Invoiced    bool          `json:"invoiced"`
	InvoiceID   *snowflake.ID `json:"invoice_id,omitempty"`
}

// EntryRef identifies a removed entry without replaying its content.
type EntryRef struct {
	ID       snowflake.ID `json:"id"`
	ClientID snowflake.ID `json:"client_id"`
}

// NewClientEntryView projects an entry for client consumption.
func NewClientEntryView(e timeentrydomain.TimeEntry) ClientEntryView {
	return ClientEntryView{
		ID:          e.ID,
		ClientID:    e.ClientID,
		ProjectID:   e.ProjectID,
		Date:        e.Date,
		StartTime:   e.StartTime,
		Hours:       e.Hours,
		Title:       e.Title,
		Description: e.Description,
		Billable:    e.Billable,
		Invoiced:    e.Invoiced,
		InvoiceID:   e.InvoiceID,
	}
}

// ClientInvoiceView is the client projection of an invoice. Invoices carry no
// staff-only fields, but drafts are excluded from the client stream entirely
// by the broadcaster, so a view reaching a client is always post-draft.
type ClientInvoiceView struct {
	ID        snowflake.ID               `json:"id"`
	ClientID  snowflake.ID               `json:"client_id"`
	Number    string                     `json:"number"`
	Status    invoicedomain.InvoiceStatus `json:"status"`
	IssueDate time.Time                  `json:"issue_date"`
	DueDate   time.Time                  `json:"due_date"`
	Currency  string                     `json:"currency"`
	Subtotal  float64                    `json:"subtotal"`
	TaxRate   float64                    `json:"tax_rate"`
	TaxAmount float64                    `json:"tax_amount"`
	Total     float64                    `json:"total"`
	SentAt    *time.Time                 `json:"sent_at,omitempty"`
	PaidAt    *time.Time                 `json:"paid_at,omitempty"`
}

// NewClientInvoiceView projects an invoice for client consumption.
func NewClientInvoiceView(inv invoicedomain.Invoice, now time.Time) ClientInvoiceView {
	return ClientInvoiceView{
		ID:        inv.ID,
		ClientID:  inv.ClientID,
		Number:    inv.Number,
		Status:    inv.EffectiveStatus(now),
		IssueDate: inv.IssueDate,
		DueDate:   inv.DueDate,
		Currency:  inv.Currency,
		Subtotal:  inv.Subtotal,
		TaxRate:   inv.TaxRate,
		TaxAmount: inv.TaxAmount,
		Total:     inv.Total,
		SentAt:    inv.SentAt,
		PaidAt:    inv.PaidAt,
	}
}
