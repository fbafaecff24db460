// File: engine/factory.go
// Author: momentics <momentics@gmail.com>
//
// The public factory surface: Listen, AddClient, WatchFD, Link, AddTask —
// the entry points everything else in this package builds on.

package engine

import (
	"crypto/tls"
	"fmt"

	"github.com/momentics/xmpp-reactor/api"
	"github.com/momentics/xmpp-reactor/internal/conn"
)

// Listen binds, sets non-blocking, wraps as a Server, and registers it for
// reads.
func (e *Engine) Listen(addr string, port int, listeners api.Listeners, cfg *ListenConfig) (*conn.Server, error) {
	if cfg == nil {
		cfg = &ListenConfig{}
	}
	readSize := cfg.ReadSize
	if readSize == 0 {
		readSize = e.Config().ReadSize
	}
	backlog := cfg.Backlog
	if backlog == 0 {
		backlog = e.Config().TCPBacklog
	}

	fd, err := bindListenSocket(addr, port, backlog)
	if err != nil {
		return nil, err
	}
	s, err := conn.NewServer(e, fd, readSize, listeners, cfg.TLSConfig, cfg.TLSDirect, cfg.SNIHosts, cfg.TLSARecords)
	if err != nil {
		return nil, err
	}
	e.trackAny(fd, s)
	return s, nil
}

// ListenConfig carries Listen's optional per-listener settings.
type ListenConfig struct {
	ReadSize    int
	Backlog     int
	TLSConfig   *tls.Config
	TLSDirect   bool
	SNIHosts    map[string]*tls.Config
	TLSARecords []api.TLSARecord
}

// AddClient dials addr:port non-blocking, wraps the result as a Conn, and,
// when tlsCfg is set, starts STARTTLS right away without waiting for the
// connect to complete.
// tlsaRecords, if non-empty, is consulted (best-effort) during that
// handshake; pass nil when the caller has no DANE constraints to enforce.
func (e *Engine) AddClient(addr string, port int, listeners api.Listeners, readSize int, tlsCfg *tls.Config, tlsaRecords []api.TLSARecord) (*conn.Conn, error) {
	fd, result, err := dialSocket(addr, port)
	if err != nil {
		return nil, err
	}
	if readSize == 0 {
		readSize = e.Config().ReadSize
	}

	c := conn.NewClientConn(e, fd, readSize, listeners)
	c.SetPeerHint(addr, port)
	c.SetTLSARecords(tlsaRecords)
	e.Track(fd, c)

	switch result {
	case connectDone, connectInProgress:
		if err := e.poller.Add(fd, false, true); err != nil {
			return nil, fmt.Errorf("register client fd: %w", err)
		}
		c.MarkRegistered(false, true)
		c.SetMode(conn.ModeConnecting)
	}

	if tlsCfg != nil {
		c.StartTLS(tlsCfg, false)
	}
	return c, nil
}

// WatchFD registers an arbitrary fd with user-supplied handlers, bypassing
// the Connection state machine.
func (e *Engine) WatchFD(fd int, onR, onW func(fd int)) (*fdWatch, error) {
	w := &fdWatch{e: e, fd: fd, onR: onR, onW: onW}
	readable := onR != nil
	writable := onW != nil
	if err := e.poller.Add(fd, readable, writable); err != nil {
		return nil, err
	}
	e.trackAny(fd, w)
	return w, nil
}

// Link wires from.onincoming to pause-read + to.write, and to.ondrain to
// resume from — a flow-controlled byte pump between two connections. When
// to disconnects, from's read side is half-closed rather than fully torn
// down, so a second Link call pumping the reverse direction (from is also
// the write target of some other to) can keep flushing through from's
// write side until that direction finishes on its own.
func (e *Engine) Link(from, to *conn.Conn, readSize int) {
	from.SetListeners(api.Listeners{
		OnIncoming: func(_ api.Conn, data []byte, err error) {
			if err != nil {
				to.Close()
				return
			}
			if _, werr := to.Write(data); werr == nil && to.BufferedBytes() > readSize {
				from.PauseRead()
			}
		},
		OnDisconnect: func(_ api.Conn, reason error) {
			to.Close()
		},
	})
	to.SetListeners(api.Listeners{
		OnDrain: func(_ api.Conn) {
			from.ResumeRead()
		},
		OnDisconnect: func(_ api.Conn, reason error) {
			_ = from.HalfCloseRead()
		},
	})
}

// AddTask arms a one-shot timer `delaySeconds` from now. Matches the
// timer submodule's AddTask name, exposed directly off Engine as well as
// via the package-level Timer helpers in timer_api.go.
func (e *Engine) AddTask(delaySeconds float64, cb func(wallNow int64) float64) api.TimerID {
	return e.After(secondsToDuration(delaySeconds), cb)
}
