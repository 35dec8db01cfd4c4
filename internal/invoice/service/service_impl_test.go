package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	authdomain "github.com/hourbill/hourbill/internal/auth/domain"
	"github.com/hourbill/hourbill/internal/clock"
	directorydomain "github.com/hourbill/hourbill/internal/directory/domain"
	directoryservice "github.com/hourbill/hourbill/internal/directory/service"
	"github.com/hourbill/hourbill/internal/events"
	"github.com/hourbill/hourbill/internal/invoice/domain"
	"github.com/hourbill/hourbill/internal/observability/metrics"
	"github.com/hourbill/hourbill/internal/providers/pdf"
	resourcedomain "github.com/hourbill/hourbill/internal/resource/domain"
	resourceservice "github.com/hourbill/hourbill/internal/resource/service"
	timeentrydomain "github.com/hourbill/hourbill/internal/timeentry/domain"
	timeentryservice "github.com/hourbill/hourbill/internal/timeentry/service"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	svc       domain.Service
	entries   timeentrydomain.Service
	directory directorydomain.Service
	hub       *events.Hub
	clock     *clock.FakeClock
	clientID  snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:invoice_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)

	err = db.AutoMigrate(
		&directorydomain.Client{},
		&directorydomain.Project{},
		&timeentrydomain.TimeEntry{},
		&resourcedomain.EntryResource{},
		&domain.Invoice{},
		&domain.LineItem{},
	)
	assert.NoError(t, err)

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	m, err := metrics.New(metrics.Config{}, noop.NewMeterProvider())
	assert.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	hub := events.NewHub()
	broadcaster := events.NewBroadcaster(events.BroadcasterParam{
		Hub:     hub,
		Log:     zap.NewNop(),
		Metrics: m,
		Clock:   fake,
	})

	directory := directoryservice.NewService(directoryservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})
	resources := resourceservice.NewService(resourceservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})
	entries := timeentryservice.NewService(timeentryservice.ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fake,
		Directory:   directory,
		Resources:   resources,
		Broadcaster: broadcaster,
		Metrics:     m,
	})

	svc := NewService(ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fake,
		Directory:   directory,
		Broadcaster: broadcaster,
		Metrics:     m,
		Renderer:    pdf.New(),
	})

	client, err := directory.CreateClient(context.Background(), directorydomain.CreateClientRequest{
		Name:       "Acme Corp",
		Email:      "billing@acme.test",
		HourlyRate: 100,
		Currency:   "EUR",
	})
	assert.NoError(t, err)

	return &fixture{
		db:        db,
		svc:       svc,
		entries:   entries,
		directory: directory,
		hub:       hub,
		clock:     fake,
		clientID:  client.ID,
	}
}

func (f *fixture) track(t *testing.T, hours float64, billable bool) timeentrydomain.TimeEntry {
	t.Helper()
	entry, err := f.entries.Create(context.Background(), timeentrydomain.CreateEntryRequest{
		ClientID: f.clientID,
		Date:     time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC),
		Hours:    hours,
		Title:    fmt.Sprintf("Work %.1fh", hours),
		Billable: billable,
	})
	assert.NoError(t, err)
	return entry
}

func (f *fixture) draft(t *testing.T, taxRate float64) domain.Invoice {
	t.Helper()
	inv, err := f.svc.Create(context.Background(), domain.CreateInvoiceRequest{
		ClientID: f.clientID,
		TaxRate:  taxRate,
	})
	assert.NoError(t, err)
	return inv
}

func TestCreateAggregatesOpenEntries(t *testing.T) {
	f := newFixture(t)
	f.track(t, 2.0, true)
	f.track(t, 1.5, true)
	f.track(t, 0.5, true)
	f.track(t, 3.0, false) // non-billable stays out

	inv := f.draft(t, 10)

	assert.Equal(t, "2025-0001", inv.Number)
	assert.Equal(t, domain.StatusDraft, inv.Status)
	assert.Len(t, inv.LineItems, 3)
	assert.InDelta(t, 400.0, inv.Subtotal, 1e-9)
	assert.InDelta(t, 40.0, inv.TaxAmount, 1e-9)
	assert.InDelta(t, 440.0, inv.Total, 1e-9)
	assert.Equal(t, "EUR", inv.Currency)

	var locked []timeentrydomain.TimeEntry
	err := f.db.Where("invoice_id = ?", inv.ID).Find(&locked).Error
	assert.NoError(t, err)
	assert.Len(t, locked, 3)
	for _, entry := range locked {
		assert.True(t, entry.Invoiced)
		if assert.NotNil(t, entry.BilledRate) {
			assert.InDelta(t, 100.0, *entry.BilledRate, 1e-9)
		}
	}
}

func TestCreateWithSelectedEntriesInvoicesOnlyThose(t *testing.T) {
	f := newFixture(t)
	wanted := f.track(t, 2.0, true)
	other := f.track(t, 1.5, true)

	inv, err := f.svc.Create(context.Background(), domain.CreateInvoiceRequest{
		ClientID: f.clientID,
		EntryIDs: []snowflake.ID{wanted.ID},
	})
	assert.NoError(t, err)
	assert.Len(t, inv.LineItems, 1)
	assert.InDelta(t, 200.0, inv.Subtotal, 1e-9)

	var open timeentrydomain.TimeEntry
	err = f.db.First(&open, "id = ?", other.ID).Error
	assert.NoError(t, err)
	assert.False(t, open.Invoiced)
}

func TestOverlappingSelectionsConflict(t *testing.T) {
	f := newFixture(t)
	first := f.track(t, 2.0, true)
	second := f.track(t, 1.0, true)

	_, err := f.svc.Create(context.Background(), domain.CreateInvoiceRequest{
		ClientID: f.clientID,
		EntryIDs: []snowflake.ID{first.ID},
	})
	assert.NoError(t, err)

	_, err = f.svc.Create(context.Background(), domain.CreateInvoiceRequest{
		ClientID: f.clientID,
		EntryIDs: []snowflake.ID{first.ID, second.ID},
	})
	assert.ErrorIs(t, err, domain.ErrEntriesConflict)

	// The losing aggregation rolled back whole; the free entry stays open.
	var untouched timeentrydomain.TimeEntry
	err = f.db.First(&untouched, "id = ?", second.ID).Error
	assert.NoError(t, err)
	assert.False(t, untouched.Invoiced)
}

func TestSelectionRejectsUnknownAndForeignEntries(t *testing.T) {
	f := newFixture(t)
	f.track(t, 1.0, true)

	_, err := f.svc.Create(context.Background(), domain.CreateInvoiceRequest{
		ClientID: f.clientID,
		EntryIDs: []snowflake.ID{snowflake.ID(424242)},
	})
	assert.ErrorIs(t, err, domain.ErrEntriesConflict)

	stranger, err := f.directory.CreateClient(context.Background(), directorydomain.CreateClientRequest{
		Name:       "Beta GmbH",
		HourlyRate: 80,
	})
	assert.NoError(t, err)
	foreign, err := f.entries.Create(context.Background(), timeentrydomain.CreateEntryRequest{
		ClientID: stranger.ID,
		Date:     time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC),
		Hours:    1,
		Title:    "someone else's work",
		Billable: true,
	})
	assert.NoError(t, err)

	_, err = f.svc.Create(context.Background(), domain.CreateInvoiceRequest{
		ClientID: f.clientID,
		EntryIDs: []snowflake.ID{foreign.ID},
	})
	assert.ErrorIs(t, err, domain.ErrEntriesConflict)
}

func TestCreateWithManualItems(t *testing.T) {
	f := newFixture(t)
	entry := f.track(t, 2.0, true)

	inv, err := f.svc.Create(context.Background(), domain.CreateInvoiceRequest{
		ClientID: f.clientID,
		EntryIDs: []snowflake.ID{entry.ID},
		ManualItems: []domain.AddLineItemRequest{
			{Description: "Onboarding fee", Quantity: 1, UnitPrice: 150},
		},
		TaxRate: 10,
	})
	assert.NoError(t, err)
	assert.Len(t, inv.LineItems, 2)
	assert.InDelta(t, 350.0, inv.Subtotal, 1e-9)
	assert.InDelta(t, 385.0, inv.Total, 1e-9)
	assert.Nil(t, inv.LineItems[1].EntryID)
	assert.Equal(t, 1, inv.LineItems[1].Position)

	_, err = f.svc.Create(context.Background(), domain.CreateInvoiceRequest{
		ClientID: f.clientID,
		ManualItems: []domain.AddLineItemRequest{
			{Description: "", Quantity: 1, UnitPrice: 10},
		},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidLineItem)
}

func TestManualItemsAloneMakeAnInvoice(t *testing.T) {
	f := newFixture(t)

	inv, err := f.svc.Create(context.Background(), domain.CreateInvoiceRequest{
		ClientID: f.clientID,
		ManualItems: []domain.AddLineItemRequest{
			{Description: "Retainer March", Quantity: 1, UnitPrice: 900},
		},
	})
	assert.NoError(t, err)
	assert.Len(t, inv.LineItems, 1)
	assert.InDelta(t, 900.0, inv.Total, 1e-9)
}

func TestCreateWithNoOpenEntriesFails(t *testing.T) {
	f := newFixture(t)
	f.track(t, 2.0, false)

	_, err := f.svc.Create(context.Background(), domain.CreateInvoiceRequest{ClientID: f.clientID})
	assert.ErrorIs(t, err, domain.ErrNoBillableEntries)
}

func TestSecondAggregationFindsNothingLeft(t *testing.T) {
	f := newFixture(t)
	f.track(t, 2.0, true)

	f.draft(t, 0)

	_, err := f.svc.Create(context.Background(), domain.CreateInvoiceRequest{ClientID: f.clientID})
	assert.ErrorIs(t, err, domain.ErrNoBillableEntries)
}

func TestNumberSequenceRestartsPerYear(t *testing.T) {
	f := newFixture(t)
	f.track(t, 1.0, true)
	first := f.draft(t, 0)
	assert.Equal(t, "2025-0001", first.Number)

	f.track(t, 1.0, true)
	second := f.draft(t, 0)
	assert.Equal(t, "2025-0002", second.Number)

	f.track(t, 1.0, true)
	issue := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	next, err := f.svc.Create(context.Background(), domain.CreateInvoiceRequest{
		ClientID:  f.clientID,
		IssueDate: &issue,
	})
	assert.NoError(t, err)
	assert.Equal(t, "2026-0001", next.Number)
}

func TestFrozenRateSurvivesDirectoryChanges(t *testing.T) {
	f := newFixture(t)
	f.track(t, 2.0, true)
	inv := f.draft(t, 0)
	assert.InDelta(t, 200.0, inv.Total, 1e-9)

	err := f.db.Model(&directorydomain.Client{}).
		Where("id = ?", f.clientID).
		Update("hourly_rate", 500).Error
	assert.NoError(t, err)

	reloaded, err := f.svc.Get(context.Background(), inv.ID)
	assert.NoError(t, err)
	assert.InDelta(t, 200.0, reloaded.Total, 1e-9)
	assert.InDelta(t, 100.0, reloaded.LineItems[0].UnitPrice, 1e-9)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	f.track(t, 1.0, true)
	inv := f.draft(t, 0)

	_, err := f.svc.MarkPaid(context.Background(), inv.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	sent, err := f.svc.Send(context.Background(), inv.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusSent, sent.Status)
	assert.NotNil(t, sent.SentAt)

	_, err = f.svc.Send(context.Background(), inv.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	paid, err := f.svc.MarkPaid(context.Background(), inv.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)

	_, err = f.svc.MarkPaid(context.Background(), inv.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestOverdueIsDerivedAndStillPayable(t *testing.T) {
	f := newFixture(t)
	f.track(t, 1.0, true)
	inv := f.draft(t, 0)

	_, err := f.svc.Send(context.Background(), inv.ID)
	assert.NoError(t, err)

	f.clock.Advance(15 * 24 * time.Hour)

	got, err := f.svc.Get(context.Background(), inv.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusOverdue, got.Status)

	var stored domain.Invoice
	err = f.db.First(&stored, "id = ?", inv.ID).Error
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)

	paid, err := f.svc.MarkPaid(context.Background(), inv.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
}

func TestDeleteDraftReleasesEntries(t *testing.T) {
	f := newFixture(t)
	entry := f.track(t, 2.0, true)
	inv := f.draft(t, 0)

	sub, err := f.hub.Register(authdomain.Principal{Kind: authdomain.PrincipalStaff, UserID: 1})
	assert.NoError(t, err)
	defer sub.Close()

	err = f.svc.Delete(context.Background(), inv.ID)
	assert.NoError(t, err)

	var freed timeentrydomain.TimeEntry
	err = f.db.First(&freed, "id = ?", entry.ID).Error
	assert.NoError(t, err)
	assert.False(t, freed.Invoiced)
	assert.Nil(t, freed.InvoiceID)
	assert.Nil(t, freed.BilledRate)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, events.TypeEntryUpdated, ev.Type)
	default:
		t.Fatal("no entry event after draft deletion")
	}

	_, err = f.svc.Get(context.Background(), inv.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteRejectsSentInvoice(t *testing.T) {
	f := newFixture(t)
	f.track(t, 1.0, true)
	inv := f.draft(t, 0)

	_, err := f.svc.Send(context.Background(), inv.ID)
	assert.NoError(t, err)

	err = f.svc.Delete(context.Background(), inv.ID)
	assert.ErrorIs(t, err, domain.ErrNotDraft)
}

func TestAddAndRemoveLineItemsRecomputeTotals(t *testing.T) {
	f := newFixture(t)
	entry := f.track(t, 2.0, true)
	inv := f.draft(t, 10)
	assert.InDelta(t, 220.0, inv.Total, 1e-9)

	withFee, err := f.svc.AddLineItem(context.Background(), inv.ID, domain.AddLineItemRequest{
		Description: "Rush fee",
		Quantity:    1,
		UnitPrice:   50,
	})
	assert.NoError(t, err)
	assert.Len(t, withFee.LineItems, 2)
	assert.InDelta(t, 250.0, withFee.Subtotal, 1e-9)
	assert.InDelta(t, 275.0, withFee.Total, 1e-9)

	var ledgerItem domain.LineItem
	err = f.db.First(&ledgerItem, "invoice_id = ? AND entry_id IS NOT NULL", inv.ID).Error
	assert.NoError(t, err)

	trimmed, err := f.svc.RemoveLineItem(context.Background(), inv.ID, ledgerItem.ID)
	assert.NoError(t, err)
	assert.Len(t, trimmed.LineItems, 1)
	assert.InDelta(t, 50.0, trimmed.Subtotal, 1e-9)
	assert.InDelta(t, 55.0, trimmed.Total, 1e-9)

	var freed timeentrydomain.TimeEntry
	err = f.db.First(&freed, "id = ?", entry.ID).Error
	assert.NoError(t, err)
	assert.False(t, freed.Invoiced)
	assert.Nil(t, freed.BilledRate)
}

func TestLineItemMutationsRequireDraft(t *testing.T) {
	f := newFixture(t)
	f.track(t, 1.0, true)
	inv := f.draft(t, 0)

	_, err := f.svc.Send(context.Background(), inv.ID)
	assert.NoError(t, err)

	_, err = f.svc.AddLineItem(context.Background(), inv.ID, domain.AddLineItemRequest{
		Description: "late fee",
		Quantity:    1,
		UnitPrice:   10,
	})
	assert.ErrorIs(t, err, domain.ErrNotDraft)

	_, err = f.svc.RemoveLineItem(context.Background(), inv.ID, snowflake.ID(1))
	assert.ErrorIs(t, err, domain.ErrNotDraft)

	_, err = f.svc.UpdateDraft(context.Background(), inv.ID, domain.UpdateDraftRequest{})
	assert.ErrorIs(t, err, domain.ErrNotDraft)
}

func TestUpdateDraftRecomputesTax(t *testing.T) {
	f := newFixture(t)
	f.track(t, 2.0, true)
	inv := f.draft(t, 0)
	assert.InDelta(t, 200.0, inv.Total, 1e-9)

	tax := 19.0
	updated, err := f.svc.UpdateDraft(context.Background(), inv.ID, domain.UpdateDraftRequest{TaxRate: &tax})
	assert.NoError(t, err)
	assert.InDelta(t, 200.0, updated.Subtotal, 1e-9)
	assert.InDelta(t, 38.0, updated.TaxAmount, 1e-9)
	assert.InDelta(t, 238.0, updated.Total, 1e-9)
}

func TestListFiltersDerivedOverdue(t *testing.T) {
	f := newFixture(t)
	f.track(t, 1.0, true)
	inv := f.draft(t, 0)
	_, err := f.svc.Send(context.Background(), inv.ID)
	assert.NoError(t, err)

	f.track(t, 1.0, true)
	f.draft(t, 0) // stays draft

	f.clock.Advance(15 * 24 * time.Hour)

	status := domain.StatusOverdue
	overdue, err := f.svc.List(context.Background(), domain.ListInvoicesRequest{Status: &status})
	assert.NoError(t, err)
	assert.Len(t, overdue, 1)
	assert.Equal(t, inv.ID, overdue[0].ID)
	assert.Equal(t, domain.StatusOverdue, overdue[0].Status)

	status = domain.StatusSent
	sent, err := f.svc.List(context.Background(), domain.ListInvoicesRequest{Status: &status})
	assert.NoError(t, err)
	assert.Empty(t, sent)
}

func TestRenderPDFProducesDocument(t *testing.T) {
	f := newFixture(t)
	f.track(t, 2.0, true)
	inv := f.draft(t, 10)

	doc, err := f.svc.RenderPDF(context.Background(), inv.ID)
	assert.NoError(t, err)
	assert.NotEmpty(t, doc)
}
