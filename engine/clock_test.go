package engine

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// TestMockClockDrivesTimerFiringDeterministically exercises the seam
// NewWithClock actually governs: the timer heap's deadline math. It never
// touches Loop or poller.Wait, both of which depend on the real
// epoll_wait syscall regardless of which clock.Clock is injected.
func TestMockClockDrivesTimerFiringDeterministically(t *testing.T) {
	mock := clock.NewMock()
	e, err := NewWithClock(mock)
	if err != nil {
		t.Fatalf("NewWithClock: %v", err)
	}

	fired := false
	e.After(5*time.Second, func(int64) float64 {
		fired = true
		return 0
	})

	cfg := e.Config()

	// Before the mock advances, the timer must not be due yet.
	e.sched.RunExpired(e.monotonicNow(), e.wallNow(), cfg.MaxWait, cfg.MinWait)
	if fired {
		t.Fatal("expected the timer not to fire before the mock clock advances")
	}

	mock.Add(5 * time.Second)

	e.sched.RunExpired(e.monotonicNow(), e.wallNow(), cfg.MaxWait, cfg.MinWait)
	if !fired {
		t.Fatal("expected the timer to fire once the mock clock reaches its deadline")
	}
}
