// File: engine/timer_api.go
// Author: momentics <momentics@gmail.com>
//
// The distilled spec names a "timer" submodule exposing AddTask, Stop,
// Reschedule, ToAbsoluteTime as part of the public factory surface,
// distinct from Engine.AddTask. Timer is a thin view over the same
// scheduler so both call styles work.

package engine

import (
	"github.com/momentics/xmpp-reactor/api"
)

// Timer is the public handle for the timer submodule.
type Timer struct{ e *Engine }

// Timers returns the timer submodule bound to this engine.
func (e *Engine) Timers() *Timer { return &Timer{e: e} }

// AddTask arms a one-shot timer delaySeconds from now.
func (t *Timer) AddTask(delaySeconds float64, cb func(wallNow int64) float64) api.TimerID {
	return t.e.AddTask(delaySeconds, cb)
}

// Stop cancels a previously-armed timer; no-op if already fired.
func (t *Timer) Stop(id api.TimerID) { t.e.Cancel(id) }

// Reschedule moves an existing timer to fire delaySeconds from now.
func (t *Timer) Reschedule(id api.TimerID, delaySeconds float64) {
	t.e.sched.Reprioritize(id, t.e.monotonicNow()+int64(secondsToDuration(delaySeconds)))
}

// ToAbsoluteTime converts a relative delay in seconds to an absolute
// monotonic deadline comparable with the heap's internal bookkeeping.
func (t *Timer) ToAbsoluteTime(delaySeconds float64) int64 {
	return t.e.monotonicNow() + int64(secondsToDuration(delaySeconds))
}
