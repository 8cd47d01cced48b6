package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/artsfund/auction-engine/internal/auction"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Commander is the subset of the auction manager the gateway invokes for
// inbound client commands.
type Commander interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*auction.BidResult, error)
	RegisterCeiling(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*auction.CeilingResult, error)
	CancelCeiling(ctx context.Context, auctionID, bidderID string) error
	GetState(ctx context.Context, auctionID string) (auction.State, error)
}

// Handler upgrades HTTP requests to WebSocket connections, subscribes them to
// an auction's event stream, and routes inbound bid commands to the manager.
type Handler struct {
	hub    *Hub
	mgr    Commander
	logger *slog.Logger
}

// NewHandler returns a Handler bound to the given hub and manager.
func NewHandler(hub *Hub, mgr Commander, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, mgr: mgr, logger: logger}
}

type command struct {
	Type     string          `json:"type"`
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Minimum string `json:"minimum,omitempty"`
}

type statePayload struct {
	Status         string `json:"status"`
	CurrentHighBid string `json:"current_high_bid,omitempty"`
	HighBidderID   string `json:"high_bidder_id,omitempty"`
	EndTime        string `json:"end_time"`
	BidCount       int    `json:"bid_count"`
}

// ServeHTTP handles GET /ws/auctions/{id}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "id")
	if auctionID == "" {
		http.Error(w, "missing auction id", http.StatusBadRequest)
		return
	}

	if _, err := h.mgr.GetState(r.Context(), auctionID); err != nil {
		if errors.Is(err, auction.ErrAuctionNotFound) {
			http.Error(w, "auction not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	c := &client{conn: conn, send: make(chan []byte, 32)}
	if !h.hub.subscribe(auctionID, c) {
		return
	}

	h.logger.Debug("subscriber connected", slog.String("auction_id", auctionID))

	// Send the current state so late joiners see the live price immediately.
	h.sendState(r.Context(), c, auctionID)

	done := make(chan struct{})
	go h.writeLoop(c, done)
	h.readLoop(r.Context(), c, auctionID)
	// Unsubscribing closes the send channel, which stops the write loop
	// without waiting for the next ping.
	h.hub.unsubscribe(auctionID, c)
	<-done
}

func (h *Handler) writeLoop(c *client, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, c *client, auctionID string) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			h.sendError(c, auctionID, errorPayload{Code: "BAD_REQUEST", Message: "malformed command"})
			continue
		}
		if cmd.BidderID == "" {
			h.sendError(c, auctionID, errorPayload{Code: "BAD_REQUEST", Message: "bidder_id is required"})
			continue
		}

		switch cmd.Type {
		case "place_bid":
			if _, err := h.mgr.PlaceBid(ctx, auctionID, cmd.BidderID, cmd.Amount); err != nil {
				h.sendError(c, auctionID, toErrorPayload(err))
			}
		case "register_ceiling":
			if _, err := h.mgr.RegisterCeiling(ctx, auctionID, cmd.BidderID, cmd.Amount); err != nil {
				h.sendError(c, auctionID, toErrorPayload(err))
			}
		case "cancel_ceiling":
			if err := h.mgr.CancelCeiling(ctx, auctionID, cmd.BidderID); err != nil {
				h.sendError(c, auctionID, toErrorPayload(err))
			}
		default:
			h.sendError(c, auctionID, errorPayload{Code: "BAD_REQUEST", Message: "unknown command type"})
		}
	}
}

func (h *Handler) sendState(ctx context.Context, c *client, auctionID string) {
	state, err := h.mgr.GetState(ctx, auctionID)
	if err != nil {
		return
	}
	p := statePayload{
		Status:   string(state.Status),
		EndTime:  state.EndTime.Format(time.RFC3339),
		BidCount: state.BidCount,
	}
	if state.HasBid {
		p.CurrentHighBid = state.HighAmount.String()
		p.HighBidderID = state.HighBidder
	}
	h.push(c, auctionID, "auction-state", p)
}

func (h *Handler) sendError(c *client, auctionID string, p errorPayload) {
	h.push(c, auctionID, "error", p)
}

func (h *Handler) push(c *client, auctionID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg, err := json.Marshal(Envelope{Type: eventType, AuctionID: auctionID, Payload: data})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// toErrorPayload maps domain errors to wire error codes clients can act on.
func toErrorPayload(err error) errorPayload {
	var tooLow *auction.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		return errorPayload{Code: "BID_TOO_LOW", Message: err.Error(), Minimum: tooLow.Minimum.String()}
	case errors.Is(err, auction.ErrAuctionNotLive):
		return errorPayload{Code: "AUCTION_NOT_LIVE", Message: err.Error()}
	case errors.Is(err, auction.ErrAuctionExpired):
		return errorPayload{Code: "AUCTION_EXPIRED", Message: err.Error()}
	case errors.Is(err, auction.ErrInvalidProxyCeiling):
		return errorPayload{Code: "INVALID_PROXY_CEILING", Message: err.Error()}
	case errors.Is(err, auction.ErrConcurrentModification):
		return errorPayload{Code: "CONCURRENT_MODIFICATION", Message: err.Error()}
	case errors.Is(err, auction.ErrAuctionNotFound):
		return errorPayload{Code: "AUCTION_NOT_FOUND", Message: err.Error()}
	default:
		return errorPayload{Code: "INTERNAL", Message: err.Error()}
	}
}
