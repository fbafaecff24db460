// File: internal/timer/scheduler.go
// Author: momentics <momentics@gmail.com>
//
// RunExpired drains every timer whose deadline has elapsed, invokes its
// callback, and stages any re-arm for insertion only after the drain
// completes — this is what stops a returning timer from firing again in
// the same tick. Errors from callbacks are caught and logged, not
// propagated, the way api/errors.go-consuming code in the teacher logs and
// continues rather than aborting a hot loop.

package timer

import (
	"log"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/xmpp-reactor/api"
)

type rearm struct {
	cb       Callback
	deadline int64
}

// Scheduler runs a Heap's expired entries once per event-loop iteration.
type Scheduler struct {
	heap   *Heap
	logger *log.Logger
}

// NewScheduler wraps a Heap with the drain/stage/reinsert algorithm.
func NewScheduler(h *Heap, logger *log.Logger) *Scheduler {
	return &Scheduler{heap: h, logger: logger}
}

// RunExpired implements the distilled spec's four-step algorithm:
//  1. snapshot now_monotonic/now_wall once,
//  2. pop and fire everything due,
//  3. re-insert staged re-arms after the drain,
//  4. return the wait budget for the next poll.
func (s *Scheduler) RunExpired(nowMonotonic int64, nowWall int64, nextDelay, minWait time.Duration) time.Duration {
	staged := queue.New()

	for {
		deadline, ok := s.heap.PeekDeadline()
		if !ok || deadline > nowMonotonic {
			break
		}
		e := s.heap.popRoot()
		r := s.invoke(e.cb, nowWall, e.id)
		if r > 0 {
			staged.Add(rearm{cb: e.cb, deadline: nowMonotonic + int64(r*float64(time.Second))})
		}
	}

	for staged.Length() > 0 {
		ra := staged.Remove().(rearm)
		s.heap.Insert(ra.cb, ra.deadline)
	}

	if deadline, ok := s.heap.PeekDeadline(); ok {
		wait := time.Duration(deadline - nowMonotonic)
		if wait < minWait {
			wait = minWait
		}
		return wait
	}
	return nextDelay
}

func (s *Scheduler) invoke(cb Callback, wallNow int64, id api.TimerID) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			s.logf("timer callback panic id=%d: %v", id, r)
			result = 0
		}
	}()
	return cb(wallNow, id)
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Insert, Remove, Reprioritize, Count delegate straight to the underlying
// heap so callers only need to hold a *Scheduler.
func (s *Scheduler) Insert(cb Callback, deadline int64) api.TimerID { return s.heap.Insert(cb, deadline) }
func (s *Scheduler) Remove(id api.TimerID)                          { s.heap.Remove(id) }
func (s *Scheduler) Reprioritize(id api.TimerID, deadline int64)    { s.heap.Reprioritize(id, deadline) }
func (s *Scheduler) Count() int                                     { return s.heap.Count() }
