// File: engine/compat.go
// Author: momentics <momentics@gmail.com>
//
// Compatibility wrappers for callers ported from the older addevent/
// addserver/wrapclient/wrapserver surface. EV_LEAVE lets a callback signal
// "stop watching this fd in both directions" without the caller tracking
// interest bits itself.

package engine

import (
	"crypto/tls"

	"github.com/momentics/xmpp-reactor/api"
	"github.com/momentics/xmpp-reactor/internal/conn"
)

// EVLeave is returned by an addevent callback to mean "stop watching both
// directions"; any other return value is ignored.
const EVLeave = -1

// AddEvent registers fd for "r", "w", or "rw" readiness and invokes
// callback(fd) on each matching event; returning EVLeave from callback
// turns both directions off, matching the original addevent contract — not
// just the direction that returned it. The fd stays registered with the
// poller (with an empty interest set) and tracked until Close.
func (e *Engine) AddEvent(fd int, mode string, callback func(fd int) int) (*fdWatch, error) {
	w := &fdWatch{e: e, fd: fd}
	readable := mode == "r" || mode == "rw"
	writable := mode == "w" || mode == "rw"

	if readable {
		w.onR = func(fd int) {
			if callback(fd) == EVLeave {
				w.leaveRead = true
			}
		}
	}
	if writable {
		w.onW = func(fd int) {
			if callback(fd) == EVLeave {
				w.leaveWrite = true
			}
		}
	}
	if err := e.poller.Add(fd, readable, writable); err != nil {
		return nil, err
	}
	e.trackAny(fd, w)
	return w, nil
}

// AddServer is the compatibility name for Listen, kept for callers ported
// from the addserver(host, port, listeners) call style.
func (e *Engine) AddServer(addr string, port int, listeners api.Listeners) (*conn.Server, error) {
	return e.Listen(addr, port, listeners, nil)
}

// WrapClient adopts an already-connected fd (e.g. handed off by another
// acceptor) as an outbound-style Conn without dialing.
func (e *Engine) WrapClient(fd int, listeners api.Listeners, readSize int) *conn.Conn {
	if readSize == 0 {
		readSize = e.Config().ReadSize
	}
	c := conn.NewClientConn(e, fd, readSize, listeners)
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(true, false)
	e.Track(fd, c)
	_ = e.poller.Add(fd, true, false)
	return c
}

// WrapServer adopts an already-listening fd as a Server without binding a
// new socket, used when the listen socket comes from systemd socket
// activation or an inherited fd.
func (e *Engine) WrapServer(fd int, readSize int, listeners api.Listeners, tlsCfg *tls.Config, tlsDirect bool, sni map[string]*tls.Config, tlsaRecords []api.TLSARecord) (*conn.Server, error) {
	if readSize == 0 {
		readSize = e.Config().ReadSize
	}
	s, err := conn.NewServer(e, fd, readSize, listeners, tlsCfg, tlsDirect, sni, tlsaRecords)
	if err != nil {
		return nil, err
	}
	e.trackAny(fd, s)
	return s, nil
}
