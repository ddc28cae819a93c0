package realtime

import (
	"context"
	"log/slog"
	"sync"

	orderevents "kiln/shared/contracts/orderevents/v1"
)

// Hub routes committed order events to the websocket clients watching that order.
// It implements notify.Sink, so the dispatcher feeds it like any broker.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	feeds map[string]*feed // by order id
}

// feed is the subscriber set of one order.
// Broadcast never blocks: a member with a full queue misses the event.
type feed struct {
	mu      sync.RWMutex
	members map[string]*Client // by session id
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		feeds: make(map[string]*feed),
	}
}

// Subscribe adds client to the feed of client.OrderID.
func (h *Hub) Subscribe(client *Client) {
	if h == nil || client == nil || client.SessionID == "" || client.OrderID == "" {
		return
	}

	h.mu.Lock()
	f, ok := h.feeds[client.OrderID]
	if !ok {
		f = &feed{members: make(map[string]*Client)}
		h.feeds[client.OrderID] = f
	}
	f.mu.Lock()
	f.members[client.SessionID] = client
	f.mu.Unlock()
	h.mu.Unlock()

	h.log.Info("realtime.subscribe", "order_id", client.OrderID, "session_id", client.SessionID)
}

// Unsubscribe removes a client and signals its shutdown. Empty feeds are released.
func (h *Hub) Unsubscribe(client *Client) {
	if h == nil || client == nil {
		return
	}

	h.mu.Lock()
	if f, ok := h.feeds[client.OrderID]; ok {
		f.mu.Lock()
		delete(f.members, client.SessionID)
		empty := len(f.members) == 0
		f.mu.Unlock()
		if empty {
			delete(h.feeds, client.OrderID)
		}
	}
	h.mu.Unlock()

	// Close after removal so no broadcaster still holds the client while it tears down.
	client.Close()

	h.log.Info("realtime.unsubscribe", "order_id", client.OrderID, "session_id", client.SessionID)
}

// Subscribers returns the number of clients watching orderID.
func (h *Hub) Subscribers(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.feeds[orderID]
	if !ok {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.members)
}

// Name implements notify.Sink.
func (h *Hub) Name() string { return "realtime" }

// Publish fans ev out to the order's subscribers. Events without an order (verification codes)
// are never sent to websocket clients.
func (h *Hub) Publish(_ context.Context, ev orderevents.Envelope) error {
	if ev.OrderID == "" || ev.Type == orderevents.TypeVerificationCode {
		return nil
	}

	h.mu.RLock()
	f := h.feeds[ev.OrderID]
	h.mu.RUnlock()
	if f == nil {
		return nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, m := range f.members {
		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- ev:
		default:
			h.log.Warn("realtime.drop", "order_id", ev.OrderID, "session_id", m.SessionID, "type", ev.Type)
		}
	}
	return nil
}
