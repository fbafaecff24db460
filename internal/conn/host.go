// File: internal/conn/host.go
// Author: momentics <momentics@gmail.com>
//
// Host is the narrow slice of the engine that Conn and Server need: the
// poller, the live configuration, a logger, and the timer scheduler. Kept
// as an interface so this package never imports engine (which imports this
// package), mirroring how api/interfaces.go decouples the teacher's layers.

package conn

import (
	"log"
	"time"

	"github.com/momentics/xmpp-reactor/api"
)

// Host is implemented by the engine and injected into every Conn/Server.
type Host interface {
	Poller() api.Poller
	Config() api.Config
	Logger() *log.Logger

	// After arms a one-shot timer `delay` from now. cb's return value is the
	// re-arm delay in seconds (<=0 means do not re-arm), matching the timer
	// heap's Callback contract.
	After(delay time.Duration, cb func(wallNow int64) float64) api.TimerID
	// Cancel removes a timer; no-op if already fired or unknown.
	Cancel(id api.TimerID)

	// Forget removes fd from the engine's fd map on connection teardown.
	Forget(fd int)

	// Track registers a freshly accepted/connected fd so the event loop's
	// dispatch table can find it again.
	Track(fd int, c *Conn)
}
