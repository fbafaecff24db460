// File: engine/clock.go
// Author: momentics <momentics@gmail.com>
//
// Single point of contact with wall/monotonic time so the rest of the
// engine never calls time.Now() directly. Backed by benbjohnson/clock so
// tests can swap in clock.NewMock() to drive the timer heap's deadline math
// (RunExpired, Insert, Reprioritize) deterministically. This governs
// timer deadlines only — Loop's own blocking wait still goes
// through poller.Wait against the real epoll_wait syscall, which knows
// nothing about this clock, so a mock clock cannot make a full Loop() call
// deterministic end to end.

package engine

import "time"

func (e *Engine) monotonicNow() int64 { return e.clock.Now().UnixNano() }
func (e *Engine) wallNow() int64      { return e.clock.Now().Unix() }

func secondsToDuration(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
