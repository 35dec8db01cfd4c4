package events

import (
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/hourbill/hourbill/internal/auth/domain"
)

const DefaultSubscriberBuffer = 16

// Hub is the registry of live connections. Sends never block: a connection
// whose buffer is full simply misses the event and the drop is counted by
// the caller.
type Hub struct {
	mu               sync.RWMutex
	conns            map[uint64]*conn
	nextID           uint64
	subscriberBuffer int
}

type conn struct {
	id        uint64
	principal authdomain.Principal
	ch        chan Envelope
	// watch holds client ids a staff connection explicitly follows; those
	// connections also receive the redacted client copy of events for the
	// watched clients. Always empty for client principals.
	watch map[snowflake.ID]struct{}
}

// Subscription is one registered connection's handle.
type Subscription struct {
	hub  *Hub
	id   uint64
	ch   chan Envelope
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		conns:            make(map[uint64]*conn),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Register adds a connection for the principal. Staff connections may pass
// client ids to additionally receive the redacted copies sent to those
// clients; the list is ignored for client principals.
func (h *Hub) Register(principal authdomain.Principal, watchClients ...snowflake.ID) (*Subscription, error) {
	if h == nil {
		return nil, errors.New("hub_unavailable")
	}
	if principal.Kind == authdomain.PrincipalClient && principal.ClientID == 0 {
		return nil, errors.New("client_principal_unbound")
	}

	c := &conn{
		principal: principal,
		ch:        make(chan Envelope, h.subscriberBuffer),
		watch:     make(map[snowflake.ID]struct{}),
	}
	if principal.IsStaff() {
		for _, id := range watchClients {
			if id != 0 {
				c.watch[id] = struct{}{}
			}
		}
	}

	h.mu.Lock()
	c.id = h.nextID
	h.nextID++
	h.conns[c.id] = c
	h.mu.Unlock()

	return &Subscription{hub: h, id: c.id, ch: c.ch}, nil
}

// BroadcastStaff delivers the full envelope to every staff connection.
// Returns delivered and dropped counts.
func (h *Hub) BroadcastStaff(ev Envelope) (delivered, dropped int) {
	return h.broadcast(ev, func(c *conn) bool {
		return c.principal.IsStaff()
	})
}

// BroadcastClient delivers the redacted envelope to connections of the owning
// client and to staff connections watching that client.
func (h *Hub) BroadcastClient(clientID snowflake.ID, ev Envelope) (delivered, dropped int) {
	return h.broadcast(ev, func(c *conn) bool {
		if c.principal.Kind == authdomain.PrincipalClient {
			return c.principal.ClientID == clientID
		}
		_, watching := c.watch[clientID]
		return watching
	})
}

func (h *Hub) broadcast(ev Envelope, match func(*conn) bool) (delivered, dropped int) {
	if h == nil {
		return 0, 0
	}
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.ch <- ev:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// ConnCount reports the number of registered connections.
func (h *Hub) ConnCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) unregister(id uint64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// Events returns the receive channel. It is never closed; readers stop when
// their own context ends and then call Close.
func (s *Subscription) Events() <-chan Envelope {
	if s == nil {
		return nil
	}
	return s.ch
}

// Close removes the connection from the hub. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unregister(s.id)
	})
}
