// File: internal/conn/conn.go
// Author: momentics <momentics@gmail.com>
//
// Conn is the reactor's per-socket state machine: accept/connect, optional
// TLS upgrade, read/write buffers, idle/handshake/rate timers, and the
// listener callback dispatch. One Conn owns exactly one live fd; the
// engine's fd map is the only strong reference to it.

package conn

import (
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/momentics/xmpp-reactor/api"
	"github.com/momentics/xmpp-reactor/internal/connbuf"
	"golang.org/x/sys/unix"
)

// Mode is the coarse connection-lifecycle state. Method-swapping in the
// original reactor design ("self.onreadable := tlshandshake") is modeled
// here as an explicit enum dispatched by onReadable/onWritable.
type Mode int

const (
	ModeNew Mode = iota
	ModeAccepting
	ModeConnecting
	ModeConnected
	ModeTLSHandshake
	ModeEstablished
	ModeClosing
	ModeClosed
)

type drainAction int

const (
	drainNone drainAction = iota
	drainClose
	drainStartTLS
)

var idCounter atomic.Uint64

// Conn implements api.Conn and is the concrete type the engine and Server
// hand out.
type Conn struct {
	host Host
	fd   int
	kind api.ConnKind
	mode Mode
	id   string

	wantRead, wantWrite bool
	readSize            int
	wbuf                *connbuf.Queue
	writeLock           bool

	tlsState       api.TLSState
	tlsConfig      *tls.Config
	tlsDirect      bool
	tlsAsServer    bool
	tlsBridge      *tlsBridge
	tlsaRecords    []api.TLSARecord
	servername     string
	sniHosts       map[string]*tls.Config
	tlsPlainQueue  *connbuf.Queue // plaintext queued for the TLS writer goroutine
	tlsCipherQueue *connbuf.Queue // ciphertext read off the socket, queued for the handshake pipe

	server *Server // weak back-reference; inheritance lookups only

	connected    bool
	connectFired bool
	outgoing     bool // true for client (CONNECTING) path

	limit float64 // seconds-per-byte inverse rate; 0 disables throttling

	peerAddr, localAddr string
	peerPort, localPort int

	listeners api.Listeners

	hasReadTimeout  bool
	readTimeoutID   api.TimerID
	hasWriteTimeout bool
	writeTimeoutID  api.TimerID
	hasPauseTimer   bool
	pauseTimerID    api.TimerID
	hasTLSTimer     bool
	tlsTimerID      api.TimerID

	drain                drainAction
	inOpportunisticWrite bool
	destroyed            bool
}

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// newConn constructs a bare Conn; callers finish wiring (kind, tls config,
// server back-ref) before registering it with the poller.
func newConn(host Host, fd int, kind api.ConnKind) *Conn {
	cfg := host.Config()
	return &Conn{
		host:           host,
		fd:             fd,
		kind:           kind,
		mode:           ModeNew,
		id:             nextID(kind.String()),
		readSize:       cfg.ReadSize,
		wbuf:           connbuf.New(),
		tlsPlainQueue:  connbuf.New(),
		tlsCipherQueue: connbuf.New(),
	}
}

// NewClientConn constructs a Conn for an outbound dial; Engine.AddClient
// finishes wiring its mode and peer hint once the connect() result is
// known.
func NewClientConn(host Host, fd int, readSize int, l api.Listeners) *Conn {
	c := newConn(host, fd, api.KindClient)
	if readSize > 0 {
		c.readSize = readSize
	}
	c.listeners = l
	c.outgoing = true
	return c
}

// NewWatchedConn exposes newConn to callers outside the package that need a
// bare Conn around an already-connected fd. The engine's compatibility
// wrappers do not use it (WrapClient builds on NewClientConn).
func NewWatchedConn(host Host, fd int, kind api.ConnKind) *Conn { return newConn(host, fd, kind) }

// SetPeerHint records addr/port supplied by the caller before the socket
// layer can resolve them itself (used for outbound dials).
func (c *Conn) SetPeerHint(addr string, port int) {
	c.peerAddr = addr
	c.peerPort = port
}

// SetMode transitions the connection's coarse lifecycle state; exported so
// the engine's factory can drive CONNECTING without reaching into package
// internals.
func (c *Conn) SetMode(m Mode) { c.mode = m }

// MarkRegistered records the interest set the caller already told the
// poller about, without re-issuing a Modify call — used right after
// poller.Add during connection setup.
func (c *Conn) MarkRegistered(readable, writable bool) {
	c.wantRead, c.wantWrite = readable, writable
}

// SetServer installs the weak back-reference to an owning listener for a
// Conn built outside Server.OnReadable. Nothing in this module calls it.
func (c *Conn) SetServer(s *Server) { c.server = s }

// ID, FD satisfy api.Conn.
func (c *Conn) ID() string { return c.id }
func (c *Conn) FD() int    { return c.fd }

// SetListeners swaps the callback record wholesale.
func (c *Conn) SetListeners(l api.Listeners) { c.listeners = l }

// SetLimit installs an inverse byte-rate read throttle; 0 disables it.
func (c *Conn) SetLimit(bytesPerSecond float64) {
	if bytesPerSecond <= 0 {
		c.limit = 0
		return
	}
	c.limit = 1.0 / bytesPerSecond
}

// SetSend is an explicit no-op retained for callers that install their own
// Send override afterward; see the distilled spec's open-question note.
func (c *Conn) SetSend(_ func([]byte) (int, error)) {}

// SetTLSARecords installs DANE/TLSA constraints consulted (best-effort)
// during the next StartTLS handshake; the reactor never resolves these
// itself, a DNS-capable collaborator supplies them.
func (c *Conn) SetTLSARecords(records []api.TLSARecord) { c.tlsaRecords = records }

func (c *Conn) syncInterest() {
	_ = c.host.Poller().Modify(c.fd, c.wantRead, c.wantWrite)
}

func (c *Conn) logf(format string, args ...any) {
	cfg := c.host.Config()
	if !cfg.Verbose {
		return
	}
	c.host.Logger().Printf("[conn %s] "+format, append([]any{c.id}, args...)...)
}

// updatenames populates peer/local address fields; invoked once after
// connect or TLS wrap completes, per the distilled spec's Connection
// invariant that connected=true implies this has run at least once.
func (c *Conn) updatenames() {
	if sa, err := unix.Getpeername(c.fd); err == nil {
		c.peerAddr, c.peerPort = sockaddrToHostPort(sa)
	}
	if sa, err := unix.Getsockname(c.fd); err == nil {
		c.localAddr, c.localPort = sockaddrToHostPort(sa)
	}
}

func sockaddrToHostPort(sa unix.Sockaddr) (string, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), a.Port
	case *unix.SockaddrInet6:
		return fmt.Sprintf("%x", a.Addr), a.Port
	default:
		return "", 0
	}
}

// ClientPort/ServerPort resolve the distilled spec's inconsistent accessor:
// clientport always answers local_port; serverport prefers its own
// local_port but falls through to the parent server's local_port, and like
// the original, may answer 0 if neither is set.
func (c *Conn) ClientPort() int { return c.localPort }
func (c *Conn) ServerPort() int {
	if c.localPort != 0 {
		return c.localPort
	}
	if c.server != nil {
		return c.server.localPort
	}
	return 0
}

// ---- read path --------------------------------------------------------

func (c *Conn) OnReadable() {
	if c.destroyed {
		return
	}
	switch c.mode {
	case ModeTLSHandshake, ModeEstablished:
		if c.tlsState != api.TLSNone {
			c.pumpTLS(true, false)
			return
		}
	}
	c.plainOnReadable()
}

func (c *Conn) plainOnReadable() {
	buf := make([]byte, c.readSize)
	n, err := unix.Read(c.fd, buf)
	switch {
	case err == nil && n > 0:
		c.onReadSuccess(buf[:n])
	case err == nil && n == 0:
		c.disconnect(api.ErrClosed)
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		c.wantWrite = false
		c.wantRead = true
		c.syncInterest()
	default:
		c.disconnect(fmt.Errorf("read: %w", err))
	}
}

func (c *Conn) onReadSuccess(data []byte) {
	c.markConnected()
	c.deliver(data, nil)

	cost := 0.0
	if c.limit > 0 {
		cost = c.limit * float64(len(data))
	}
	cfg := c.host.Config()
	switch {
	case c.limit > 0 && cost > cfg.MinWait.Seconds():
		c.cancelReadTimer()
		c.armPause(cost)
	case c.socketDirty():
		c.cancelReadTimer()
		c.scheduleRetryRead(cfg.ReadRetryDelay)
	default:
		c.armReadTimer(cfg.ReadTimeout)
	}
}

// socketDirty reports whether the kernel still has buffered bytes beyond
// the last read — a zero-cost heuristic using a non-blocking MSG_PEEK.
func (c *Conn) socketDirty() bool {
	var peek [1]byte
	n, _, err := unix.Recvfrom(c.fd, peek[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
	return err == nil && n > 0
}

func (c *Conn) scheduleRetryRead(delay time.Duration) {
	c.host.After(delay, func(int64) float64 {
		if !c.destroyed {
			c.OnReadable()
		}
		return 0
	})
}

func (c *Conn) markConnected() {
	if !c.connected {
		c.connected = true
		c.updatenames()
	}
	c.fireConnect()
}

func (c *Conn) fireConnect() {
	if c.connectFired {
		return
	}
	c.connectFired = true
	c.invokeListener(func() {
		if c.listeners.OnConnect != nil {
			c.listeners.OnConnect(c)
		}
	})
}

func (c *Conn) deliver(data []byte, err error) {
	c.invokeListener(func() {
		if c.listeners.OnIncoming != nil {
			c.listeners.OnIncoming(c, data, err)
		}
	})
}

// ---- write path --------------------------------------------------------

func (c *Conn) OnWritable() {
	if c.destroyed {
		return
	}
	switch c.mode {
	case ModeTLSHandshake, ModeEstablished:
		if c.tlsState != api.TLSNone {
			c.pumpTLS(false, true)
			return
		}
	}
	c.plainOnWritable()
}

func (c *Conn) plainOnWritable() {
	if c.mode == ModeConnecting {
		c.mode = ModeConnected
		c.wantRead = true
		c.markConnected()
	}

	if c.wbuf.Empty() {
		c.wantWrite = false
		c.syncInterest()
		return
	}

	data := c.wbuf.Concat()
	n, err := unix.Write(c.fd, data)
	switch {
	case err == nil && n == len(data):
		c.wantWrite = false
		c.wbuf.Reset()
		c.syncInterest()
		c.cancelWriteTimer()
		c.afterDrain()
	case err == nil && n > 0:
		c.wbuf.ConsumeFront(n)
		c.wantWrite = true
		c.syncInterest()
		c.armWriteTimer()
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		c.wantWrite = true
		c.syncInterest()
	default:
		c.disconnect(fmt.Errorf("write: %w", err))
	}
}

func (c *Conn) afterDrain() {
	action := c.drain
	c.drain = drainNone
	c.invokeListener(func() {
		if c.listeners.OnDrain != nil {
			c.listeners.OnDrain(c)
		}
	})
	switch action {
	case drainClose:
		c.finishClose()
	case drainStartTLS:
		c.beginTLS()
	}
}

// Write appends data to the write buffer, per the distilled spec's
// write(data) algorithm. Accepts the full payload, since the buffer is
// unbounded at this layer, except while closing (returns 0, nil) or after
// Destroy (returns 0, ErrDestroyed).
func (c *Conn) Write(data []byte) (int, error) {
	if c.destroyed {
		return 0, api.ErrDestroyed
	}
	if c.mode == ModeClosing {
		return 0, nil
	}
	if c.writeTLS(data) {
		return len(data), nil
	}
	c.wbuf.PushBack(data)
	if c.writeLock {
		return len(data), nil
	}

	cfg := c.host.Config()
	if cfg.OpportunisticWrites && !c.inOpportunisticWrite {
		c.inOpportunisticWrite = true
		c.wantWrite = true
		c.syncInterest()
		c.OnWritable()
		c.inOpportunisticWrite = false
		return len(data), nil
	}

	c.wantWrite = true
	c.syncInterest()
	c.armWriteTimer()
	return len(data), nil
}

// BufferedBytes exposes backpressure state for Link and tests.
func (c *Conn) BufferedBytes() int { return c.wbuf.Len() }

// Reading reports whether the connection currently wants read readiness —
// exposes PauseRead/ResumeRead's effect for Link's tests.
func (c *Conn) Reading() bool { return c.wantRead }

// SetWriteLock suppresses write readiness regardless of buffer contents.
func (c *Conn) SetWriteLock(locked bool) { c.writeLock = locked }

// ---- timers -------------------------------------------------------------

func (c *Conn) armReadTimer(d time.Duration) {
	c.cancelReadTimer()
	c.readTimeoutID = c.host.After(d, c.onReadTimeoutFire)
	c.hasReadTimeout = true
}

func (c *Conn) cancelReadTimer() {
	if c.hasReadTimeout {
		c.host.Cancel(c.readTimeoutID)
		c.hasReadTimeout = false
	}
}

func (c *Conn) onReadTimeoutFire(int64) float64 {
	if c.destroyed {
		return 0
	}
	c.hasReadTimeout = false
	keep := false
	c.invokeListener(func() {
		if c.listeners.OnReadTimeout != nil {
			keep = c.listeners.OnReadTimeout(c)
		}
	})
	if keep {
		c.armReadTimer(c.host.Config().ReadTimeout)
		return 0
	}
	c.disconnect(fmt.Errorf("read timeout"))
	return 0
}

func (c *Conn) armWriteTimer() {
	c.cancelWriteTimer()
	cfg := c.host.Config()
	d := cfg.SendTimeout
	if c.mode == ModeConnecting {
		d = cfg.ConnectTimeout
	}
	c.writeTimeoutID = c.host.After(d, c.onWriteTimeoutFire)
	c.hasWriteTimeout = true
}

func (c *Conn) cancelWriteTimer() {
	if c.hasWriteTimeout {
		c.host.Cancel(c.writeTimeoutID)
		c.hasWriteTimeout = false
	}
}

func (c *Conn) onWriteTimeoutFire(int64) float64 {
	if c.destroyed {
		return 0
	}
	c.hasWriteTimeout = false
	if c.mode == ModeConnecting {
		c.disconnect(fmt.Errorf("connection timeout"))
	} else {
		c.disconnect(fmt.Errorf("write timeout"))
	}
	return 0
}

func (c *Conn) armPause(seconds float64) {
	c.wantRead = false
	c.syncInterest()
	if c.hasPauseTimer {
		c.host.Cancel(c.pauseTimerID)
	}
	c.pauseTimerID = c.host.After(time.Duration(seconds*float64(time.Second)), c.onPauseFire)
	c.hasPauseTimer = true
}

func (c *Conn) onPauseFire(int64) float64 {
	c.hasPauseTimer = false
	if c.destroyed {
		return 0
	}
	c.wantRead = true
	c.syncInterest()
	c.OnReadable() // drain any data that accumulated during the pause
	return 0
}

// PauseRead stops the poller from reporting readability on this
// connection, with no timer to auto-resume it — used by Link's
// backpressure rewiring, where the caller (the downstream connection's
// OnDrain) decides when to resume. Shares the wantRead flag with the
// rate-limit pause above; the two are not meant to be composed, and
// ResumeRead only acts if nothing else has already turned reading back on.
func (c *Conn) PauseRead() {
	if c.destroyed || !c.wantRead {
		return
	}
	c.wantRead = false
	c.syncInterest()
}

// ResumeRead re-arms read readiness after a PauseRead and immediately
// drains any bytes that accumulated at the kernel while paused.
func (c *Conn) ResumeRead() {
	if c.destroyed || c.wantRead {
		return
	}
	c.wantRead = true
	c.syncInterest()
	c.OnReadable()
}

// ---- lifecycle ----------------------------------------------------------

func (c *Conn) invokeListener(fn func()) {
	cfg := c.host.Config()
	if !cfg.ProtectListeners {
		fn()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("listener panic: %v", r)
			c.logf("listener error: %v", err)
			if c.listeners.OnError != nil {
				func() {
					defer func() { _ = recover() }()
					c.listeners.OnError(c, err)
				}()
			}
			if cfg.FatalErrors {
				c.Destroy()
			}
		}
	}()
	fn()
}

func (c *Conn) disconnect(reason error) {
	if c.destroyed {
		return
	}
	c.invokeListener(func() {
		if c.listeners.OnDisconnect != nil {
			c.listeners.OnDisconnect(c, reason)
		}
	})
	c.Destroy()
}

// Close drains the write buffer before tearing down; if the buffer is
// already empty it disconnects immediately.
func (c *Conn) Close() {
	if c.destroyed || c.mode == ModeClosing {
		return
	}
	if !c.wbuf.Empty() {
		c.mode = ModeClosing
		c.drain = drainClose
		return
	}
	c.finishClose()
}

// finishClose fires OnDisconnect and destroys the connection. Split out of
// Close so afterDrain's drainClose branch can reach it once the buffer
// finally empties — calling Close() again there would hit the ModeClosing
// guard above and return without ever tearing down.
func (c *Conn) finishClose() {
	c.invokeListener(func() {
		if c.listeners.OnDisconnect != nil {
			c.listeners.OnDisconnect(c, nil)
		}
	})
	c.Destroy()
}

// Destroy is idempotent: removes the fd from the poller, cancels every
// timer, closes the socket, and neuters further operations.
func (c *Conn) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.mode = ModeClosed

	c.cancelReadTimer()
	c.cancelWriteTimer()
	if c.hasPauseTimer {
		c.host.Cancel(c.pauseTimerID)
		c.hasPauseTimer = false
	}
	if c.hasTLSTimer {
		c.host.Cancel(c.tlsTimerID)
		c.hasTLSTimer = false
	}
	if c.tlsBridge != nil {
		c.tlsBridge.close()
	}

	_ = c.host.Poller().Del(c.fd)
	c.host.Forget(c.fd)
	_ = unix.Close(c.fd)

	c.invokeListener(func() {
		if c.listeners.OnDetach != nil {
			c.listeners.OnDetach(c)
		}
	})
}

// HalfCloseRead shuts down the read side only. engine.Link calls this on
// the upstream connection of a pump when its downstream disconnects, so a
// connection used by two Link calls in opposite directions can stop
// feeding the direction that just ended without killing the write side
// the other direction still needs.
func (c *Conn) HalfCloseRead() error {
	c.wantRead = false
	c.syncInterest()
	return unix.Shutdown(c.fd, unix.SHUT_RD)
}
