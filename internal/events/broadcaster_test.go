package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hourbill/hourbill/internal/clock"
	invoicedomain "github.com/hourbill/hourbill/internal/invoice/domain"
	"github.com/hourbill/hourbill/internal/observability/metrics"
	timeentrydomain "github.com/hourbill/hourbill/internal/timeentry/domain"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

func newTestBroadcaster(t *testing.T, now time.Time) (*Broadcaster, *Hub) {
	t.Helper()
	hub := NewHub()
	m, err := metrics.New(metrics.Config{}, noop.NewMeterProvider())
	assert.NoError(t, err)
	b := NewBroadcaster(BroadcasterParam{
		Hub:     hub,
		Log:     zap.NewNop(),
		Metrics: m,
		Clock:   clock.NewFakeClock(now),
	})
	return b, hub
}

func TestEntryEventsRedactInternalNoteForClients(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	b, hub := newTestBroadcaster(t, now)

	staffSub, err := hub.Register(staffPrincipal(1))
	assert.NoError(t, err)
	defer staffSub.Close()

	clientSub, err := hub.Register(clientPrincipal(2, 100))
	assert.NoError(t, err)
	defer clientSub.Close()

	rate := 95.0
	entry := timeentrydomain.TimeEntry{
		ID:           snowflake.ID(10),
		ClientID:     snowflake.ID(100),
		Date:         now,
		Hours:        1.5,
		Title:        "API integration",
		InternalNote: "pushy on scope, bill every minute",
		BilledRate:   &rate,
		Billable:     true,
	}
	b.EntryCreated(context.Background(), entry)

	staffEv := <-staffSub.Events()
	staffJSON, err := json.Marshal(staffEv)
	assert.NoError(t, err)
	assert.Contains(t, string(staffJSON), "internal_note")
	assert.Contains(t, string(staffJSON), "pushy on scope")

	clientEv := <-clientSub.Events()
	assert.Equal(t, TypeEntryCreated, clientEv.Type)
	clientJSON, err := json.Marshal(clientEv)
	assert.NoError(t, err)
	assert.NotContains(t, string(clientJSON), "internal_note")
	assert.NotContains(t, string(clientJSON), "pushy on scope")
	assert.NotContains(t, string(clientJSON), "billed_rate")
	assert.Contains(t, string(clientJSON), "API integration")
}

func TestEntryDeletedCarriesOnlyIdentity(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	b, hub := newTestBroadcaster(t, now)

	clientSub, err := hub.Register(clientPrincipal(1, 100))
	assert.NoError(t, err)
	defer clientSub.Close()

	b.EntryDeleted(context.Background(), timeentrydomain.TimeEntry{
		ID:           snowflake.ID(10),
		ClientID:     snowflake.ID(100),
		Title:        "secret work",
		InternalNote: "never ship this",
	})

	ev := <-clientSub.Events()
	assert.Equal(t, TypeEntryDeleted, ev.Type)
	raw, err := json.Marshal(ev)
	assert.NoError(t, err)
	assert.NotContains(t, string(raw), "secret work")
	assert.NotContains(t, string(raw), "never ship this")
}

func TestDraftInvoicesStayOffTheClientStream(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	b, hub := newTestBroadcaster(t, now)

	staffSub, err := hub.Register(staffPrincipal(1))
	assert.NoError(t, err)
	defer staffSub.Close()

	clientSub, err := hub.Register(clientPrincipal(2, 100))
	assert.NoError(t, err)
	defer clientSub.Close()

	b.InvoiceCreated(context.Background(), invoicedomain.Invoice{
		ID:       snowflake.ID(1),
		ClientID: snowflake.ID(100),
		Number:   "2025-0001",
		Status:   invoicedomain.StatusDraft,
	})

	ev := <-staffSub.Events()
	assert.Equal(t, TypeInvoiceCreated, ev.Type)

	select {
	case <-clientSub.Events():
		t.Fatal("client received a draft invoice event")
	default:
	}
}

func TestInvoiceSentReachesOwningClientWithDerivedStatus(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	b, hub := newTestBroadcaster(t, now)

	staffSub, err := hub.Register(staffPrincipal(1))
	assert.NoError(t, err)
	defer staffSub.Close()

	clientSub, err := hub.Register(clientPrincipal(2, 100))
	assert.NoError(t, err)
	defer clientSub.Close()

	sentAt := now.Add(-48 * time.Hour)
	b.InvoiceSent(context.Background(), invoicedomain.Invoice{
		ID:        snowflake.ID(1),
		ClientID:  snowflake.ID(100),
		Number:    "2025-0001",
		Status:    invoicedomain.StatusSent,
		DueDate:   now.Add(-24 * time.Hour),
		IssueDate: sentAt,
		SentAt:    &sentAt,
		Total:     440,
	})

	// Staff dashboards see a regular update; the sent notification is the
	// client's.
	staffEv := <-staffSub.Events()
	assert.Equal(t, TypeInvoiceUpdated, staffEv.Type)

	ev := <-clientSub.Events()
	assert.Equal(t, TypeInvoiceSent, ev.Type)
	view, ok := ev.Data.(ClientInvoiceView)
	assert.True(t, ok)
	assert.Equal(t, invoicedomain.StatusOverdue, view.Status)
	assert.Equal(t, "2025-0001", view.Number)
}
