package auction

import (
	"log/slog"
	"sync"
	"time"

	"github.com/artsfund/auction-engine/internal/clock"
)

// Scheduler arms one cancellable close timer per auction. Schedule
// replaces any existing timer, which is how an auto-extension pushes the
// scheduled close out. A timer firing after the auction was force-closed
// is harmless because closing is idempotent.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	clock  clock.Clock
	logger *slog.Logger
}

// NewScheduler returns an empty scheduler.
func NewScheduler(clk clock.Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		clock:  clk,
		logger: logger,
	}
}

// Schedule arranges for fire to run once at, replacing any timer already
// armed for the auction. A deadline in the past fires immediately.
func (s *Scheduler) Schedule(auctionID string, at time.Time, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[auctionID]; ok {
		t.Stop()
	}
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.timers[auctionID] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, auctionID)
		s.mu.Unlock()
		fire()
	})

	s.logger.Debug("close scheduled",
		slog.String("auction_id", auctionID),
		slog.Time("at", at),
	)
}

// Cancel stops and removes the auction's timer, if armed.
func (s *Scheduler) Cancel(auctionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[auctionID]; ok {
		t.Stop()
		delete(s.timers, auctionID)
	}
}

// Stop cancels every armed timer. Used on shutdown and on losing
// leadership.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
