package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hourbill/hourbill/internal/clock"
	invoicedomain "github.com/hourbill/hourbill/internal/invoice/domain"
	resourcedomain "github.com/hourbill/hourbill/internal/resource/domain"
	timeentrydomain "github.com/hourbill/hourbill/internal/timeentry/domain"
	"github.com/stretchr/testify/assert"
)

type fakeEntryService struct {
	entries []timeentrydomain.TimeEntry
	lastReq timeentrydomain.ListEntriesRequest
}

func (f *fakeEntryService) Create(ctx context.Context, req timeentrydomain.CreateEntryRequest) (timeentrydomain.TimeEntry, error) {
	return timeentrydomain.TimeEntry{}, nil
}

func (f *fakeEntryService) Update(ctx context.Context, id snowflake.ID, patch timeentrydomain.UpdateEntryRequest) (timeentrydomain.TimeEntry, error) {
	return timeentrydomain.TimeEntry{}, nil
}

func (f *fakeEntryService) Delete(ctx context.Context, id snowflake.ID) error { return nil }

func (f *fakeEntryService) Get(ctx context.Context, id snowflake.ID) (timeentrydomain.TimeEntry, error) {
	return timeentrydomain.TimeEntry{}, timeentrydomain.ErrNotFound
}

func (f *fakeEntryService) List(ctx context.Context, req timeentrydomain.ListEntriesRequest) ([]timeentrydomain.TimeEntry, error) {
	f.lastReq = req
	return f.entries, nil
}

func (f *fakeEntryService) AddResource(ctx context.Context, id snowflake.ID, req resourcedomain.AttachRequest) (resourcedomain.EntryResource, error) {
	return resourcedomain.EntryResource{}, nil
}

func (f *fakeEntryService) RemoveResource(ctx context.Context, id, resourceID snowflake.ID) error {
	return nil
}

type fakeInvoiceService struct {
	invoices map[snowflake.ID]invoicedomain.Invoice
}

func (f *fakeInvoiceService) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	return invoicedomain.Invoice{}, nil
}

func (f *fakeInvoiceService) Get(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
	}
	return inv, nil
}

func (f *fakeInvoiceService) List(ctx context.Context, req invoicedomain.ListInvoicesRequest) ([]invoicedomain.Invoice, error) {
	out := make([]invoicedomain.Invoice, 0, len(f.invoices))
	for _, inv := range f.invoices {
		out = append(out, inv)
	}
	return out, nil
}

func (f *fakeInvoiceService) UpdateDraft(ctx context.Context, id snowflake.ID, patch invoicedomain.UpdateDraftRequest) (invoicedomain.Invoice, error) {
	return invoicedomain.Invoice{}, invoicedomain.ErrNotDraft
}

func (f *fakeInvoiceService) AddLineItem(ctx context.Context, id snowflake.ID, req invoicedomain.AddLineItemRequest) (invoicedomain.Invoice, error) {
	return invoicedomain.Invoice{}, invoicedomain.ErrNotDraft
}

func (f *fakeInvoiceService) RemoveLineItem(ctx context.Context, id, itemID snowflake.ID) (invoicedomain.Invoice, error) {
	return invoicedomain.Invoice{}, invoicedomain.ErrNotDraft
}

func (f *fakeInvoiceService) Send(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTransition
}

func (f *fakeInvoiceService) MarkPaid(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTransition
}

func (f *fakeInvoiceService) Delete(ctx context.Context, id snowflake.ID) error {
	return invoicedomain.ErrNotDraft
}

func (f *fakeInvoiceService) RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error) {
	return []byte("%PDF-1.7"), nil
}

func newPortalFixture(t *testing.T, entries *fakeEntryService, invoices *fakeInvoiceService) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := newGateFixture(t)
	s.entrySvc = entries
	s.invoiceSvc = invoices
	s.clock = clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	s.engine = r
	s.registerPortalRoutes()
	return r
}

func TestPortalEntriesAreRedactedAndScoped(t *testing.T) {
	rate := 120.0
	entries := &fakeEntryService{entries: []timeentrydomain.TimeEntry{
		{
			ID:           snowflake.ID(1),
			ClientID:     snowflake.ID(100),
			Date:         time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC),
			Hours:        1.5,
			Title:        "Deployment support",
			InternalNote: "client broke prod themselves",
			BilledRate:   &rate,
		},
	}}
	r := newPortalFixture(t, entries, &fakeInvoiceService{})

	rec := performWithCookie(r, http.MethodGet, "/portal/entries", "client-token")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Deployment support")
	assert.NotContains(t, body, "internal_note")
	assert.NotContains(t, body, "client broke prod")
	assert.NotContains(t, body, "billed_rate")

	// The list is forced onto the session's client, whatever the query says.
	if assert.NotNil(t, entries.lastReq.ClientID) {
		assert.Equal(t, snowflake.ID(100), *entries.lastReq.ClientID)
	}
}

func TestPortalHidesDraftInvoices(t *testing.T) {
	invoices := &fakeInvoiceService{invoices: map[snowflake.ID]invoicedomain.Invoice{
		snowflake.ID(10): {
			ID:       snowflake.ID(10),
			ClientID: snowflake.ID(100),
			Number:   "2025-0001",
			Status:   invoicedomain.StatusDraft,
		},
		snowflake.ID(11): {
			ID:       snowflake.ID(11),
			ClientID: snowflake.ID(100),
			Number:   "2025-0002",
			Status:   invoicedomain.StatusSent,
			DueDate:  time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}}
	r := newPortalFixture(t, &fakeEntryService{}, invoices)

	rec := performWithCookie(r, http.MethodGet, "/portal/invoices", "client-token")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2025-0002")
	assert.NotContains(t, rec.Body.String(), "2025-0001")

	// Direct draft access reads as not found.
	rec = performWithCookie(r, http.MethodGet, "/portal/invoices/10", "client-token")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = performWithCookie(r, http.MethodGet, "/portal/invoices/11", "client-token")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another client's invoice is invisible too.
	other := &fakeInvoiceService{invoices: map[snowflake.ID]invoicedomain.Invoice{
		snowflake.ID(12): {
			ID:       snowflake.ID(12),
			ClientID: snowflake.ID(200),
			Status:   invoicedomain.StatusSent,
		},
	}}
	r = newPortalFixture(t, &fakeEntryService{}, other)
	rec = performWithCookie(r, http.MethodGet, "/portal/invoices/12", "client-token")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
