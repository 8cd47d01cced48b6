package realtime_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/artsfund/auction-engine/internal/auction"
	"github.com/artsfund/auction-engine/internal/realtime"
)

// fakeManager records commands and returns canned results.
type fakeManager struct {
	mu       sync.Mutex
	bids     []decimal.Decimal
	ceilings []decimal.Decimal
	bidErr   error
}

func (f *fakeManager) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*auction.BidResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bidErr != nil {
		return nil, f.bidErr
	}
	f.bids = append(f.bids, amount)
	return &auction.BidResult{Amount: amount, Leader: bidderID}, nil
}

func (f *fakeManager) RegisterCeiling(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*auction.CeilingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ceilings = append(f.ceilings, amount)
	return &auction.CeilingResult{Amount: amount, Leader: bidderID}, nil
}

func (f *fakeManager) CancelCeiling(ctx context.Context, auctionID, bidderID string) error {
	return nil
}

func (f *fakeManager) GetState(ctx context.Context, auctionID string) (auction.State, error) {
	if auctionID == "missing" {
		return auction.State{}, auction.ErrAuctionNotFound
	}
	return auction.State{
		ID:      auctionID,
		Status:  auction.StatusLive,
		EndTime: time.Now().Add(time.Hour),
	}, nil
}

func newTestServer(t *testing.T, mgr *fakeManager) (*httptest.Server, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub(slog.Default())
	handler := realtime.NewHandler(hub, mgr, slog.Default())

	r := chi.NewRouter()
	r.Get("/ws/auctions/{id}", handler.ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, auctionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/auctions/" + auctionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) realtime.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env realtime.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("reading envelope: %v", err)
	}
	return env
}

func TestHandler_SendsStateOnConnect(t *testing.T) {
	srv, _ := newTestServer(t, &fakeManager{})
	conn := dial(t, srv, "auction-1")

	env := readEnvelope(t, conn)
	if env.Type != "auction-state" {
		t.Fatalf("first message Type = %q, want %q", env.Type, "auction-state")
	}
	if env.AuctionID != "auction-1" {
		t.Errorf("AuctionID = %q, want %q", env.AuctionID, "auction-1")
	}
}

func TestHandler_UnknownAuction(t *testing.T) {
	srv, _ := newTestServer(t, &fakeManager{})

	url := srv.URL + "/ws/auctions/missing"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandler_PlaceBidCommand(t *testing.T) {
	mgr := &fakeManager{}
	srv, _ := newTestServer(t, mgr)
	conn := dial(t, srv, "auction-1")
	readEnvelope(t, conn) // state message

	cmd := map[string]any{"type": "place_bid", "bidder_id": "b1", "amount": "75"}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	// The command is routed asynchronously; poll for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mgr.mu.Lock()
		n := len(mgr.bids)
		mgr.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("PlaceBid was not invoked")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_BidTooLowError(t *testing.T) {
	mgr := &fakeManager{
		bidErr: &auction.BidTooLowError{Minimum: decimal.NewFromInt(110)},
	}
	srv, _ := newTestServer(t, mgr)
	conn := dial(t, srv, "auction-1")
	readEnvelope(t, conn) // state message

	cmd := map[string]any{"type": "place_bid", "bidder_id": "b1", "amount": "75"}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Type != "error" {
		t.Fatalf("Type = %q, want %q", env.Type, "error")
	}
	var p struct {
		Code    string `json:"code"`
		Minimum string `json:"minimum"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshaling error payload: %v", err)
	}
	if p.Code != "BID_TOO_LOW" {
		t.Errorf("Code = %q, want %q", p.Code, "BID_TOO_LOW")
	}
	if p.Minimum != "110" {
		t.Errorf("Minimum = %q, want %q", p.Minimum, "110")
	}
}

func TestHandler_DisconnectReleasesSubscription(t *testing.T) {
	srv, hub := newTestServer(t, &fakeManager{})
	conn := dial(t, srv, "auction-1")
	readEnvelope(t, conn) // state message

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("auction-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	// The handler must unwind as soon as its read loop returns, not on
	// the next ping interval.
	deadline = time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("auction-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription was not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_HubCloseDisconnectsClients(t *testing.T) {
	srv, hub := newTestServer(t, &fakeManager{})
	conn := dial(t, srv, "auction-1")
	readEnvelope(t, conn) // state message

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("auction-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Close()

	// The server side closes the connection; reads fail shortly after.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestHandler_BroadcastReachesConnection(t *testing.T) {
	srv, hub := newTestServer(t, &fakeManager{})
	conn := dial(t, srv, "auction-1")
	readEnvelope(t, conn) // state message

	// Give the subscription a moment to register before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("auction-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Emit(context.Background(), "auction-1", "bid-accepted",
		auction.BidAcceptedPayload{AuctionID: "auction-1", BidderID: "b2", Amount: decimal.NewFromInt(80)})

	env := readEnvelope(t, conn)
	if env.Type != "bid-accepted" {
		t.Fatalf("Type = %q, want %q", env.Type, "bid-accepted")
	}
	var p auction.BidAcceptedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshaling payload: %v", err)
	}
	if p.BidderID != "b2" {
		t.Errorf("BidderID = %q, want %q", p.BidderID, "b2")
	}
}
