// File: internal/conn/server.go
// Author: momentics <momentics@gmail.com>
//
// Server is the passive listening socket: on-readable it accepts, wraps
// the accepted fd as a Conn inheriting the listener's defaults, and
// optionally drives it straight into a TLS handshake.

package conn

import (
	"crypto/tls"
	"fmt"

	"github.com/momentics/xmpp-reactor/api"
	"golang.org/x/sys/unix"
)

// Server wraps a bound, listening, non-blocking fd.
type Server struct {
	host Host
	fd   int
	id   string

	readSize    int
	listeners   api.Listeners
	tlsConfig   *tls.Config
	tlsDirect   bool
	sniHosts    map[string]*tls.Config
	tlsaRecords []api.TLSARecord

	localAddr string
	localPort int

	paused    bool
	pauseID   api.TimerID
	destroyed bool
}

// NewServer constructs a Server around an already-bound, non-blocking,
// listening fd and registers it with the poller for read events.
func NewServer(host Host, fd int, readSize int, l api.Listeners, tlsCfg *tls.Config, tlsDirect bool, sni map[string]*tls.Config, tlsaRecords []api.TLSARecord) (*Server, error) {
	s := &Server{
		host:        host,
		fd:          fd,
		id:          nextID("server"),
		readSize:    readSize,
		listeners:   l,
		tlsConfig:   tlsCfg,
		tlsDirect:   tlsDirect,
		sniHosts:    sni,
		tlsaRecords: tlsaRecords,
	}
	if sa, err := unix.Getsockname(fd); err == nil {
		s.localAddr, s.localPort = sockaddrToHostPort(sa)
	}
	if err := s.host.Poller().Add(fd, true, false); err != nil {
		return nil, fmt.Errorf("register listener: %w", err)
	}
	return s, nil
}

func (s *Server) ID() string { return s.id }
func (s *Server) FD() int    { return s.fd }

// LocalAddr and LocalPort report the bound address, useful when the caller
// asked to bind an ephemeral port (port 0) and needs to learn what the
// kernel actually chose.
func (s *Server) LocalAddr() string { return s.localAddr }
func (s *Server) LocalPort() int    { return s.localPort }

// OnReadable performs one accept and wires up the resulting Conn.
func (s *Server) OnReadable() {
	if s.destroyed || s.paused {
		return
	}
	nfd, _, err := unix.Accept(s.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		s.host.Logger().Printf("[server %s] accept error: %v", s.id, err)
		s.pauseAccepting()
		return
	}
	_ = unix.SetNonblock(nfd, true)

	c := newConn(s.host, nfd, api.KindClient)
	c.readSize = s.readSize
	c.listeners = s.listeners
	c.tlsConfig = s.tlsConfig
	c.tlsDirect = s.tlsDirect
	c.sniHosts = s.sniHosts
	c.tlsaRecords = s.tlsaRecords
	c.server = s
	c.tlsAsServer = true

	s.host.Track(nfd, c)
	c.invokeListener(func() {
		if c.listeners.OnAttach != nil {
			c.listeners.OnAttach(c)
		}
	})

	if s.tlsDirect {
		c.mode = ModeAccepting
		if err := s.host.Poller().Add(nfd, true, true); err != nil {
			c.logf("register accepted fd: %v", err)
		}
		c.beginTLS()
		return
	}

	c.mode = ModeConnected
	if err := s.host.Poller().Add(nfd, true, false); err != nil {
		c.logf("register accepted fd: %v", err)
	}
	c.wantRead = true
	c.markConnected()
	c.OnReadable()
}

// OnWritable is a no-op: a listening socket is never registered for write
// readiness, but Server must still satisfy the engine's dispatch interface.
func (s *Server) OnWritable() {}

// pauseAccepting self-throttles the listener against EMFILE/ENFILE storms.
func (s *Server) pauseAccepting() {
	s.paused = true
	_ = s.host.Poller().Modify(s.fd, false, false)
	d := s.host.Config().AcceptRetryInterval
	s.pauseID = s.host.After(d, s.resumeAccepting)
}

func (s *Server) resumeAccepting(int64) float64 {
	s.paused = false
	if !s.destroyed {
		_ = s.host.Poller().Modify(s.fd, true, false)
	}
	return 0
}

// Close tears down the listening socket.
func (s *Server) Close() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	_ = s.host.Poller().Del(s.fd)
	s.host.Forget(s.fd)
	_ = unix.Close(s.fd)
}
