// Package api exposes the auction lifecycle over a JSON HTTP surface for
// back-office tooling. Bidding itself happens over the realtime gateway.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/artsfund/auction-engine/internal/auction"
)

// Lifecycle is the subset of the auction manager the admin API drives.
type Lifecycle interface {
	CreateAuction(ctx context.Context, p auction.CreateParams) (*auction.Auction, error)
	Approve(ctx context.Context, auctionID string) error
	Activate(ctx context.Context, auctionID string) error
	CloseAuction(ctx context.Context, auctionID string) (*auction.Result, error)
	CancelAuction(ctx context.Context, auctionID string) error
	GetState(ctx context.Context, auctionID string) (auction.State, error)
}

// Handler serves the admin lifecycle endpoints.
type Handler struct {
	mgr    Lifecycle
	logger *slog.Logger
}

// NewHandler returns a Handler bound to the given manager.
func NewHandler(mgr Lifecycle, logger *slog.Logger) *Handler {
	return &Handler{mgr: mgr, logger: logger}
}

// Routes mounts the lifecycle endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auctions", h.create)
	r.Get("/auctions/{id}", h.get)
	r.Post("/auctions/{id}/approve", h.approve)
	r.Post("/auctions/{id}/activate", h.activate)
	r.Post("/auctions/{id}/close", h.close)
	r.Post("/auctions/{id}/cancel", h.cancel)
}

type createRequest struct {
	Title              string          `json:"title"`
	ReservePrice       decimal.Decimal `json:"reserve_price"`
	StartTime          time.Time       `json:"start_time"`
	EndTime            time.Time       `json:"end_time"`
	AutoExtendWindow   string          `json:"auto_extend_window,omitempty"`
	AutoExtendDuration string          `json:"auto_extend_duration,omitempty"`
}

type auctionResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	CurrentHighBid string `json:"current_high_bid,omitempty"`
	HighBidderID   string `json:"high_bidder_id,omitempty"`
	EndTime        string `json:"end_time"`
	BidCount       int    `json:"bid_count"`
}

type closeResponse struct {
	AuctionID string `json:"auction_id"`
	Outcome   string `json:"outcome"`
	WinnerID  string `json:"winner_id,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Fee       string `json:"fee,omitempty"`
	ClosedAt  string `json:"closed_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	p := auction.CreateParams{
		Title:        req.Title,
		ReservePrice: req.ReservePrice,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
	}
	if req.AutoExtendWindow != "" {
		d, err := time.ParseDuration(req.AutoExtendWindow)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid auto_extend_window"})
			return
		}
		p.AutoExtendWindow = d
	}
	if req.AutoExtendDuration != "" {
		d, err := time.ParseDuration(req.AutoExtendDuration)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid auto_extend_duration"})
			return
		}
		p.AutoExtendDuration = d
	}

	a, err := h.mgr.CreateAuction(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stateResponse(a.State()))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	state, err := h.mgr.GetState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(state))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.mgr.Approve)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.mgr.Activate)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.mgr.CancelAuction)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	state, err := h.mgr.GetState(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(state))
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	res, err := h.mgr.CloseAuction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := closeResponse{
		AuctionID: res.AuctionID,
		Outcome:   string(res.Outcome),
		ClosedAt:  res.ClosedAt.Format(time.RFC3339),
	}
	if res.Outcome == auction.OutcomeSold {
		resp.WinnerID = res.WinnerID
		resp.Amount = res.Amount.String()
		resp.Fee = res.Fee.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func stateResponse(s auction.State) auctionResponse {
	resp := auctionResponse{
		ID:       s.ID,
		Status:   string(s.Status),
		EndTime:  s.EndTime.Format(time.RFC3339),
		BidCount: s.BidCount,
	}
	if s.HasBid {
		resp.CurrentHighBid = s.HighAmount.String()
		resp.HighBidderID = s.HighBidder
	}
	return resp
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound):
		code = http.StatusNotFound
	case errors.Is(err, auction.ErrIllegalTransition),
		errors.Is(err, auction.ErrAuctionNotLive):
		code = http.StatusConflict
	case errors.Is(err, auction.ErrConcurrentModification):
		code = http.StatusConflict
	case errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrInvalidProxyCeiling):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, auction.ErrInvalidParams):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "admin request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
