package events

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/hourbill/hourbill/internal/clock"
	invoicedomain "github.com/hourbill/hourbill/internal/invoice/domain"
	"github.com/hourbill/hourbill/internal/observability/metrics"
	timeentrydomain "github.com/hourbill/hourbill/internal/timeentry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type BroadcasterParam struct {
	fx.In

	Hub     *Hub
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

// Broadcaster publishes domain changes in two steps: the full payload to the
// staff audience, then a redacted copy to the owning client's audience.
type Broadcaster struct {
	hub     *Hub
	log     *zap.Logger
	metrics *metrics.Metrics
	clock   clock.Clock
}

func NewBroadcaster(p BroadcasterParam) *Broadcaster {
	return &Broadcaster{
		hub:     p.Hub,
		log:     p.Log.Named("events.broadcaster"),
		metrics: p.Metrics,
		clock:   p.Clock,
	}
}

func (b *Broadcaster) EntryCreated(ctx context.Context, entry timeentrydomain.TimeEntry) {
	b.publishEntry(ctx, TypeEntryCreated, entry)
}

func (b *Broadcaster) EntryUpdated(ctx context.Context, entry timeentrydomain.TimeEntry) {
	b.publishEntry(ctx, TypeEntryUpdated, entry)
}

// EntryDeleted replays only the entry's identity; the content is gone.
func (b *Broadcaster) EntryDeleted(ctx context.Context, entry timeentrydomain.TimeEntry) {
	if b == nil {
		return
	}
	ref := EntryRef{ID: entry.ID, ClientID: entry.ClientID}
	b.send(ctx, entry.ClientID,
		Envelope{Type: TypeEntryDeleted, Data: ref},
		Envelope{Type: TypeEntryDeleted, Data: ref},
	)
}

func (b *Broadcaster) InvoiceCreated(ctx context.Context, inv invoicedomain.Invoice) {
	b.publishInvoice(ctx, TypeInvoiceCreated, inv)
}

func (b *Broadcaster) InvoiceUpdated(ctx context.Context, inv invoicedomain.Invoice) {
	b.publishInvoice(ctx, TypeInvoiceUpdated, inv)
}

// InvoiceSent notifies staff with the regular update type; only the owning
// client receives the narrower sent notification.
func (b *Broadcaster) InvoiceSent(ctx context.Context, inv invoicedomain.Invoice) {
	if b == nil {
		return
	}
	b.send(ctx, inv.ClientID,
		Envelope{Type: TypeInvoiceUpdated, Data: inv},
		Envelope{Type: TypeInvoiceSent, Data: NewClientInvoiceView(inv, b.clock.Now())},
	)
}

func (b *Broadcaster) publishEntry(ctx context.Context, eventType string, entry timeentrydomain.TimeEntry) {
	if b == nil {
		return
	}
	b.send(ctx, entry.ClientID,
		Envelope{Type: eventType, Data: entry},
		Envelope{Type: eventType, Data: NewClientEntryView(entry)},
	)
}

// publishInvoice sends the full invoice to staff. Drafts stay internal; the
// client copy goes out only once the invoice has left draft.
func (b *Broadcaster) publishInvoice(ctx context.Context, eventType string, inv invoicedomain.Invoice) {
	if b == nil {
		return
	}
	staffEv := Envelope{Type: eventType, Data: inv}
	if inv.Status == invoicedomain.StatusDraft {
		delivered, dropped := b.hub.BroadcastStaff(staffEv)
		b.record(ctx, eventType, delivered, dropped)
		return
	}
	clientEv := Envelope{Type: eventType, Data: NewClientInvoiceView(inv, b.clock.Now())}
	b.send(ctx, inv.ClientID, staffEv, clientEv)
}

func (b *Broadcaster) send(ctx context.Context, clientID snowflake.ID, staffEv, clientEv Envelope) {
	staffDelivered, staffDropped := b.hub.BroadcastStaff(staffEv)
	clientDelivered, clientDropped := b.hub.BroadcastClient(clientID, clientEv)
	b.record(ctx, staffEv.Type, staffDelivered+clientDelivered, staffDropped+clientDropped)
}

func (b *Broadcaster) record(ctx context.Context, eventType string, delivered, dropped int) {
	for i := 0; i < delivered; i++ {
		b.metrics.RecordBroadcast(ctx, eventType)
	}
	for i := 0; i < dropped; i++ {
		b.metrics.RecordBroadcastDrop(ctx, eventType)
	}
	if dropped > 0 {
		b.log.Warn("dropped live events for slow connections",
			zap.String("event_type", eventType),
			zap.Int("dropped", dropped),
		)
	}
}
