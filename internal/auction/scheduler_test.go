package auction_test

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artsfund/auction-engine/internal/auction"
	"github.com/artsfund/auction-engine/internal/clock"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestScheduler_PastDeadlineFiresImmediately(t *testing.T) {
	s := auction.NewScheduler(clock.NewMock(t0), slog.Default())
	defer s.Stop()

	var fired atomic.Bool
	s.Schedule("a1", t0.Add(-time.Minute), func() { fired.Store(true) })

	waitFor(t, fired.Load, "timer with a past deadline never fired")
}

func TestScheduler_CancelPreventsFiring(t *testing.T) {
	s := auction.NewScheduler(clock.NewMock(t0), slog.Default())
	defer s.Stop()

	var fired atomic.Bool
	s.Schedule("a1", t0.Add(30*time.Millisecond), func() { fired.Store(true) })
	s.Cancel("a1")

	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
}

func TestScheduler_ScheduleReplacesTimer(t *testing.T) {
	s := auction.NewScheduler(clock.NewMock(t0), slog.Default())
	defer s.Stop()

	var old, replacement atomic.Bool
	s.Schedule("a1", t0.Add(20*time.Millisecond), func() { old.Store(true) })
	s.Schedule("a1", t0.Add(40*time.Millisecond), func() { replacement.Store(true) })

	waitFor(t, replacement.Load, "replacement timer never fired")
	if old.Load() {
		t.Error("replaced timer fired")
	}
}

func TestScheduler_StopCancelsAll(t *testing.T) {
	s := auction.NewScheduler(clock.NewMock(t0), slog.Default())

	var fired atomic.Int32
	s.Schedule("a1", t0.Add(30*time.Millisecond), func() { fired.Add(1) })
	s.Schedule("a2", t0.Add(30*time.Millisecond), func() { fired.Add(1) })
	s.Stop()

	time.Sleep(100 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Errorf("%d timers fired after Stop", n)
	}
}
