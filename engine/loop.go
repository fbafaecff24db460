// File: engine/loop.go
// Author: momentics <momentics@gmail.com>
//
// Loop implements the distilled spec's event-loop pseudo-contract: run
// expired timers, wait on the poller with the resulting budget, dispatch
// readable-then-writable to the owning connection, and exit once quitting
// is set and no fds remain.

package engine

import (
	"errors"

	"github.com/momentics/xmpp-reactor/api"
)

// Loop runs the reactor until SetQuitting(true) drains every connection, or
// forever if never asked to quit. It has no single-iteration mode: the only
// value it returns is the sentinel "quitting" error, once shutdown completes.
func (e *Engine) Loop() error {
	drained := false
	for {
		if e.quitting.get() {
			if !drained {
				// Quitting is only ever read here, on the loop goroutine, so
				// the drain itself never races with dispatch even though
				// SetQuitting can be called from anywhere.
				e.closeAllConns()
				drained = true
			}
			if e.liveCount() == 0 {
				return ErrQuitting
			}
		}

		cfg := e.Config()
		mono := e.monotonicNow()
		wait := e.sched.RunExpired(mono, e.wallNow(), cfg.MaxWait, cfg.MinWait)

		fd, readable, writable, err := e.poller.Wait(wait)
		if err != nil {
			if errors.Is(err, api.ErrTimeout) || errors.Is(err, api.ErrSignal) {
				continue
			}
			e.logger.Printf("poller wait error: %v", err)
			continue
		}

		d, ok := e.lookup(fd)
		if !ok {
			_ = e.poller.Del(fd)
			continue
		}
		if readable {
			d.OnReadable()
		}
		// Re-check: a readable handler may have destroyed the connection
		// and removed it from the map; re-read before dispatching writable
		// so a stale write never reaches a torn-down Conn.
		if writable {
			if d2, ok2 := e.lookup(fd); ok2 && d2 == d {
				d.OnWritable()
			}
		}
	}
}

// ErrQuitting is returned by Loop once shutdown completes with no fds left.
var ErrQuitting = errors.New("quitting")
