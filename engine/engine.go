// File: engine/engine.go
// Author: momentics <momentics@gmail.com>
//
// Engine is the reactor's process-wide state: the fd map, the poller, the
// timer scheduler, and the installed configuration. Exactly one Engine
// normally exists per process (Default()); nothing stops constructing more
// for tests.

package engine

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/momentics/xmpp-reactor/api"
	"github.com/momentics/xmpp-reactor/internal/conn"
	"github.com/momentics/xmpp-reactor/internal/poller"
	"github.com/momentics/xmpp-reactor/internal/timer"
)

// dispatchable is satisfied by *conn.Conn, *conn.Server, and the
// engine-local fdWatch wrapper — anything the event loop can hand a
// readable/writable event to.
type dispatchable interface {
	OnReadable()
	OnWritable()
}

// Engine implements conn.Host and owns the reactor's runtime state.
type Engine struct {
	poller api.Poller
	sched  *timer.Scheduler
	logger *log.Logger

	cfgMu sync.RWMutex
	cfg   api.Config

	fdMu sync.Mutex
	fds  map[int]dispatchable

	quitting boolFlag

	startWall time.Time
	clock     clock.Clock
}

type boolFlag struct {
	mu sync.Mutex
	v  bool
}

func (b *boolFlag) set(v bool) { b.mu.Lock(); b.v = v; b.mu.Unlock() }
func (b *boolFlag) get() bool  { b.mu.Lock(); defer b.mu.Unlock(); return b.v }

// New constructs an Engine with the platform poller, default config, and
// the real wall clock.
func New() (*Engine, error) {
	return NewWithClock(clock.New())
}

// NewWithClock is New with an injectable clock.Clock. A test that
// constructs an Engine with clock.NewMock() can drive the timer heap's
// deadline math (After/Cancel/RunExpired — read idle, TLS handshake
// timeout, accept-storm backoff re-arm) deterministically by advancing the
// mock instead of sleeping real wall time, as long as it calls the
// scheduler directly rather than Loop: Loop's own blocking wait still
// calls the real epoll_wait syscall through poller.Wait, which has no
// knowledge of this clock, so the mock does not make a full Loop()
// iteration deterministic.
func NewWithClock(c clock.Clock) (*Engine, error) {
	p, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e := &Engine{
		poller:    p,
		logger:    log.New(os.Stderr, "", log.LstdFlags),
		cfg:       api.DefaultConfig(),
		fds:       make(map[int]dispatchable),
		startWall: time.Now(),
		clock:     c,
	}
	e.sched = timer.NewScheduler(timer.New(), e.logger)
	return e, nil
}

var (
	defaultOnce sync.Once
	defaultEng  *Engine
	defaultErr  error
)

// Default lazily constructs the process-wide Engine the package-level
// factory functions (Listen, AddClient, ...) delegate to.
func Default() (*Engine, error) {
	defaultOnce.Do(func() {
		defaultEng, defaultErr = New()
	})
	return defaultEng, defaultErr
}

// ---- conn.Host -----------------------------------------------------------

func (e *Engine) Poller() api.Poller { return e.poller }

func (e *Engine) Config() api.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

func (e *Engine) Logger() *log.Logger { return e.logger }

func (e *Engine) After(delay time.Duration, cb func(wallNow int64) float64) api.TimerID {
	deadline := e.monotonicNow() + int64(delay)
	return e.sched.Insert(func(wallNow int64, _ api.TimerID) float64 {
		return cb(wallNow)
	}, deadline)
}

func (e *Engine) Cancel(id api.TimerID) { e.sched.Remove(id) }

func (e *Engine) Forget(fd int) {
	e.fdMu.Lock()
	delete(e.fds, fd)
	e.fdMu.Unlock()
}

func (e *Engine) Track(fd int, c *conn.Conn) {
	e.fdMu.Lock()
	e.fds[fd] = c
	e.fdMu.Unlock()
}

func (e *Engine) trackAny(fd int, d dispatchable) {
	e.fdMu.Lock()
	e.fds[fd] = d
	e.fdMu.Unlock()
}

func (e *Engine) lookup(fd int) (dispatchable, bool) {
	e.fdMu.Lock()
	defer e.fdMu.Unlock()
	d, ok := e.fds[fd]
	return d, ok
}

func (e *Engine) liveCount() int {
	e.fdMu.Lock()
	defer e.fdMu.Unlock()
	return len(e.fds)
}

// SetConfig installs new tunables; already-armed timers keep whatever
// duration was current when they were last armed, per the distilled spec.
func (e *Engine) SetConfig(cfg api.Config) {
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
}

// GetBackend reports the poller backend name.
func (e *Engine) GetBackend() string { return "epoll" }

// SetQuitting flips the cooperative shutdown flag and is safe to call from
// any goroutine, including a signal handler. It never touches connection
// state itself — Loop notices the flag on its own goroutine and performs
// the actual drain, so fd map/timer/connection mutation still happens on
// exactly one goroutine.
func (e *Engine) SetQuitting(q bool) {
	e.quitting.set(q)
}

// closeAllConns stops every listener immediately (no more accepts) and
// drains existing connections gracefully (Close, not Destroy) so buffered
// writes still flush before Loop reports quitting done.
func (e *Engine) closeAllConns() {
	e.fdMu.Lock()
	targets := make([]dispatchable, 0, len(e.fds))
	for _, d := range e.fds {
		targets = append(targets, d)
	}
	e.fdMu.Unlock()
	for _, d := range targets {
		switch v := d.(type) {
		case *conn.Conn:
			v.Close()
		case *conn.Server:
			v.Close()
		case *fdWatch:
			v.close()
		}
	}
}

// CloseAll destroys every live connection and listener immediately. Unlike
// SetQuitting, it touches the fd map and calls Destroy/Close directly, so
// it must be called from Loop's own goroutine (e.g. from inside a
// listener callback), not concurrently while Loop is dispatching.
func (e *Engine) CloseAll() {
	e.fdMu.Lock()
	targets := make([]dispatchable, 0, len(e.fds))
	for _, d := range e.fds {
		targets = append(targets, d)
	}
	e.fdMu.Unlock()
	for _, d := range targets {
		switch v := d.(type) {
		case *conn.Conn:
			v.Destroy()
		case *conn.Server:
			v.Close()
		case *fdWatch:
			v.close()
		}
	}
}
