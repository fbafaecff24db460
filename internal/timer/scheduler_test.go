package timer_test

import (
	"testing"
	"time"

	"github.com/momentics/xmpp-reactor/api"
	"github.com/momentics/xmpp-reactor/internal/timer"
)

func TestRunExpiredFiresDueEntriesInOrder(t *testing.T) {
	h := timer.New()
	s := timer.NewScheduler(h, nil)

	var fired []int
	h.Insert(func(int64, api.TimerID) float64 { fired = append(fired, 1); return 0 }, 10)
	h.Insert(func(int64, api.TimerID) float64 { fired = append(fired, 2); return 0 }, 20)
	h.Insert(func(int64, api.TimerID) float64 { fired = append(fired, 3); return 0 }, 100)

	s.RunExpired(50, 0, time.Second, time.Millisecond)

	if len(fired) != 2 || fired[0] != 1 || fired[1] != 2 {
		t.Fatalf("expected [1 2] fired, got %v", fired)
	}
	if h.Count() != 1 {
		t.Fatalf("expected 1 timer remaining, got %d", h.Count())
	}
}

func TestRunExpiredRearmDoesNotFireSameTick(t *testing.T) {
	h := timer.New()
	s := timer.NewScheduler(h, nil)

	calls := 0
	h.Insert(func(int64, api.TimerID) float64 {
		calls++
		return 1 // re-arm one second out
	}, 0)

	s.RunExpired(0, 0, time.Second, time.Millisecond)
	if calls != 1 {
		t.Fatalf("expected exactly one fire this tick, got %d", calls)
	}
	if h.Count() != 1 {
		t.Fatal("expected re-armed timer to be back in the heap")
	}

	// Re-running at the same monotonic instant must not fire it again: the
	// re-arm was staged a full second out.
	s.RunExpired(0, 0, time.Second, time.Millisecond)
	if calls != 1 {
		t.Fatalf("re-armed timer fired again in the same tick, calls=%d", calls)
	}
}

func TestRunExpiredReturnsWaitBudget(t *testing.T) {
	h := timer.New()
	s := timer.NewScheduler(h, nil)

	h.Insert(func(int64, api.TimerID) float64 { return 0 }, 1_000_000_000)
	wait := s.RunExpired(0, 0, time.Second, time.Millisecond)
	if wait != time.Second {
		t.Fatalf("expected wait clamped to next deadline (1s), got %v", wait)
	}
}

func TestRunExpiredEmptyHeapReturnsNextDelay(t *testing.T) {
	h := timer.New()
	s := timer.NewScheduler(h, nil)

	wait := s.RunExpired(0, 0, 5*time.Second, time.Millisecond)
	if wait != 5*time.Second {
		t.Fatalf("expected nextDelay fallback, got %v", wait)
	}
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	h := timer.New()
	s := timer.NewScheduler(h, nil)

	h.Insert(func(int64, api.TimerID) float64 { panic("boom") }, 0)

	// Must not propagate the panic out of RunExpired.
	s.RunExpired(0, 0, time.Second, time.Millisecond)
}
