// Package realtime fans auction events out to WebSocket subscribers and
// accepts bid commands over the same connection.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Envelope is the wire format for every outbound message.
type Envelope struct {
	Type      string          `json:"type"`
	AuctionID string          `json:"auction_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Hub tracks WebSocket subscribers per auction and broadcasts events to them.
// It implements auction.Broadcaster.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*client]struct{}
	logger *slog.Logger
	closed bool
}

// NewHub returns a Hub ready to accept subscribers.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*client]struct{}),
		logger: logger,
	}
}

// Emit broadcasts an event to every subscriber of the auction. Marshal
// failures are logged and dropped; a broadcast must never fail the command
// that produced it.
func (h *Hub) Emit(ctx context.Context, auctionID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "marshaling broadcast payload",
			slog.String("auction_id", auctionID),
			slog.String("event", eventType),
			slog.String("error", err.Error()))
		return
	}
	msg, err := json.Marshal(Envelope{Type: eventType, AuctionID: auctionID, Payload: data})
	if err != nil {
		h.logger.ErrorContext(ctx, "marshaling broadcast envelope",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subs[auctionID] {
		select {
		case c.send <- msg:
		default:
			// Slow consumer; drop the message rather than block the hub.
			h.logger.WarnContext(ctx, "dropping broadcast for slow subscriber",
				slog.String("auction_id", auctionID),
				slog.String("event", eventType))
		}
	}
}

// SubscriberCount returns the number of connections subscribed to an auction.
func (h *Hub) SubscriberCount(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[auctionID])
}

// Close rejects new subscribers and disconnects the current ones by
// closing their network connections. Each connection handler unwinds
// through its own unsubscribe once its read loop observes the closed
// connection; the send channels stay open until then so an inbound
// command racing the shutdown cannot hit a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, clients := range h.subs {
		for c := range clients {
			if c.conn != nil {
				_ = c.conn.Close()
			}
		}
	}
}

func (h *Hub) subscribe(auctionID string, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.subs[auctionID] == nil {
		h.subs[auctionID] = make(map[*client]struct{})
	}
	h.subs[auctionID][c] = struct{}{}
	return true
}

// unsubscribe removes the client and closes its send channel. It is the
// only closer of the channel and is safe to call more than once.
func (h *Hub) unsubscribe(auctionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.subs[auctionID]; ok {
		if _, subscribed := clients[c]; subscribed {
			delete(clients, c)
			close(c.send)
		}
		if len(clients) == 0 {
			delete(h.subs, auctionID)
		}
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}
