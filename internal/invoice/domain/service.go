package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreateInvoiceRequest selects what goes on the draft. With EntryIDs set the
// aggregation takes exactly those entries; otherwise it sweeps every open
// billable entry of the client, optionally bounded by the From/To window.
// ManualItems are free-form rows appended after the ledger rows.
type CreateInvoiceRequest struct {
	ClientID    snowflake.ID
	EntryIDs    []snowflake.ID
	ManualItems []AddLineItemRequest
	From        *time.Time
	To          *time.Time
	IssueDate   *time.Time
	DueDate     *time.Time
	TaxRate     float64
	Notes       string
}

// UpdateDraftRequest is a partial patch; nil fields are left untouched.
// Only draft invoices accept it.
type UpdateDraftRequest struct {
	IssueDate *time.Time
	DueDate   *time.Time
	TaxRate   *float64
	Notes     *string
}

type AddLineItemRequest struct {
	Description string
	Quantity    float64
	UnitPrice   float64
}

type ListInvoicesRequest struct {
	ClientID *snowflake.ID
	Status   *InvoiceStatus
}

// Service owns invoice aggregation and the draft/sent/paid lifecycle.
type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (Invoice, error)
	List(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error)
	UpdateDraft(ctx context.Context, id snowflake.ID, patch UpdateDraftRequest) (Invoice, error)
	AddLineItem(ctx context.Context, id snowflake.ID, req AddLineItemRequest) (Invoice, error)
	RemoveLineItem(ctx context.Context, id, itemID snowflake.ID) (Invoice, error)
	Send(ctx context.Context, id snowflake.ID) (Invoice, error)
	MarkPaid(ctx context.Context, id snowflake.ID) (Invoice, error)
	Delete(ctx context.Context, id snowflake.ID) error
	RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error)
}

var (
	ErrNotFound          = errors.New("invoice_not_found")
	ErrNoBillableEntries = errors.New("no_billable_entries")
	ErrEntriesConflict   = errors.New("entries_already_invoiced")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrNotDraft          = errors.New("invoice_not_draft")
	ErrLineItemNotFound  = errors.New("line_item_not_found")
	ErrInvalidLineItem   = errors.New("invalid_line_item")
	ErrInvalidPeriod     = errors.New("invalid_period")
	ErrInvalidTaxRate    = errors.New("invalid_tax_rate")
)
