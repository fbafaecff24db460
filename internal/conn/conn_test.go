package conn_test

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/momentics/xmpp-reactor/api"
	"github.com/momentics/xmpp-reactor/internal/conn"
	"github.com/momentics/xmpp-reactor/internal/poller"
	"golang.org/x/sys/unix"
)

// fakeHost is a minimal conn.Host backed by a real epoll poller and an
// in-memory timer table driven manually by tests instead of an event loop.
type fakeHost struct {
	p       api.Poller
	cfg     api.Config
	logger  *log.Logger
	timers  map[api.TimerID]func(int64) float64
	nextID  api.TimerID
	tracked map[int]*conn.Conn
}

func newFakeHost(t *testing.T) *fakeHost {
	p, err := poller.New()
	if err != nil {
		t.Fatalf("poller.New: %v", err)
	}
	return &fakeHost{
		p:       p,
		cfg:     api.DefaultConfig(),
		logger:  log.New(io.Discard, "", 0),
		timers:  make(map[api.TimerID]func(int64) float64),
		tracked: make(map[int]*conn.Conn),
	}
}

func (h *fakeHost) Poller() api.Poller { return h.p }
func (h *fakeHost) Config() api.Config { return h.cfg }
func (h *fakeHost) Logger() *log.Logger {
	if h.logger == nil {
		return log.Default()
	}
	return h.logger
}
func (h *fakeHost) After(_ time.Duration, cb func(wallNow int64) float64) api.TimerID {
	h.nextID++
	h.timers[h.nextID] = cb
	return h.nextID
}
func (h *fakeHost) Cancel(id api.TimerID) { delete(h.timers, id) }
func (h *fakeHost) Forget(fd int)         { delete(h.tracked, fd) }
func (h *fakeHost) Track(fd int, c *conn.Conn) { h.tracked[fd] = c }

func socketpair(t *testing.T) (a, b int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("set nonblock: %v", err)
		}
	}
	return fds[0], fds[1]
}

func TestConnWriteThenPeerReads(t *testing.T) {
	h := newFakeHost(t)
	a, b := socketpair(t)
	defer unix.Close(b)

	c := conn.NewClientConn(h, a, 4096, api.Listeners{})
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(false, false)

	if _, err := c.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 16)
	n, err := unix.Read(b, buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", buf[:n])
	}
}

func TestConnOnReadableDeliversIncoming(t *testing.T) {
	h := newFakeHost(t)
	a, b := socketpair(t)
	defer unix.Close(b)

	var got []byte
	c := conn.NewClientConn(h, a, 4096, api.Listeners{
		OnIncoming: func(_ api.Conn, data []byte, err error) {
			if err == nil {
				got = append(got, data...)
			}
		},
	})
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(true, false)

	if _, err := unix.Write(b, []byte("ping")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	c.OnReadable()

	if string(got) != "ping" {
		t.Fatalf("expected %q, got %q", "ping", got)
	}
}

func TestConnOnReadableZeroBytesDisconnects(t *testing.T) {
	h := newFakeHost(t)
	a, b := socketpair(t)

	disconnected := false
	c := conn.NewClientConn(h, a, 4096, api.Listeners{
		OnDisconnect: func(_ api.Conn, reason error) { disconnected = true },
	})
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(true, false)

	unix.Close(b) // peer hangup -> next read returns n=0
	c.OnReadable()

	if !disconnected {
		t.Fatal("expected OnDisconnect to fire on peer hangup")
	}
}

func TestConnReadTimeoutDisconnectsWhenListenerDeclines(t *testing.T) {
	h := newFakeHost(t)
	a, b := socketpair(t)
	defer unix.Close(b)

	disconnected := false
	c := conn.NewClientConn(h, a, 4096, api.Listeners{
		OnReadTimeout: func(_ api.Conn) bool { return false },
		OnDisconnect:  func(_ api.Conn, reason error) { disconnected = true },
	})
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(true, false)

	// Force a read-timeout arm by simulating one successful read first.
	if _, err := unix.Write(b, []byte("x")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	c.OnReadable()

	if len(h.timers) == 0 {
		t.Fatal("expected a read timer to be armed after a successful read")
	}
	for id, cb := range h.timers {
		cb(0)
		delete(h.timers, id)
	}

	if !disconnected {
		t.Fatal("expected disconnect when OnReadTimeout returns false")
	}
}

func TestConnReadTimeoutKeepsAliveWhenListenerAccepts(t *testing.T) {
	h := newFakeHost(t)
	a, b := socketpair(t)
	defer unix.Close(b)

	disconnected := false
	c := conn.NewClientConn(h, a, 4096, api.Listeners{
		OnReadTimeout: func(_ api.Conn) bool { return true },
		OnDisconnect:  func(_ api.Conn, reason error) { disconnected = true },
	})
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(true, false)

	if _, err := unix.Write(b, []byte("x")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	c.OnReadable()

	for id, cb := range h.timers {
		cb(0)
		delete(h.timers, id)
	}

	if disconnected {
		t.Fatal("expected connection to stay alive when OnReadTimeout returns true")
	}
	if len(h.timers) == 0 {
		t.Fatal("expected the read timer to be re-armed")
	}
}

func TestConnDestroyIsIdempotent(t *testing.T) {
	h := newFakeHost(t)
	a, b := socketpair(t)
	defer unix.Close(b)

	c := conn.NewClientConn(h, a, 4096, api.Listeners{})
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(true, false)

	c.Destroy()
	c.Destroy() // must not panic
}

func TestConnSetLimitPausesReadingThenResumes(t *testing.T) {
	h := newFakeHost(t)
	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	c := conn.NewClientConn(h, a, 4096, api.Listeners{})
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(true, false)
	c.SetLimit(1) // one byte per second: any nontrivial read costs well over MinWait

	if _, err := unix.Write(b, []byte("ping")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	c.OnReadable()

	if c.Reading() {
		t.Fatal("expected the rate limit to pause reading after a costly read")
	}
	if len(h.timers) != 1 {
		t.Fatalf("expected one pause timer armed, got %d", len(h.timers))
	}

	for id, cb := range h.timers {
		cb(0)
		delete(h.timers, id)
	}

	if !c.Reading() {
		t.Fatal("expected the pause timer to resume reading once it fires")
	}
}

func TestCloseWithNonemptyBufferDestroysAfterDrain(t *testing.T) {
	h := newFakeHost(t)
	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	var drained, disconnected bool
	c := conn.NewClientConn(h, a, 4096, api.Listeners{
		OnDrain:      func(_ api.Conn) { drained = true },
		OnDisconnect: func(_ api.Conn, reason error) { disconnected = true },
	})
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(false, false)
	c.SetWriteLock(true) // keep the buffer queued instead of flushing immediately

	if _, err := c.Write([]byte("queued")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	c.Close() // buffer nonempty: must defer teardown, not run it now
	if disconnected {
		t.Fatal("expected Close to defer teardown until the buffer drains")
	}

	c.SetWriteLock(false)
	c.OnWritable() // drains the buffer: ondrain, then ondisconnect, then destroy

	if !drained {
		t.Fatal("expected OnDrain to fire once the deferred close's buffer emptied")
	}
	if !disconnected {
		t.Fatal("expected OnDisconnect to fire once the deferred close's buffer drained")
	}

	c.Destroy() // must not panic: proves the connection actually reached destroyed
}

func TestConnBufferedBytesTracksWriteBacklog(t *testing.T) {
	h := newFakeHost(t)
	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	c := conn.NewClientConn(h, a, 4096, api.Listeners{})
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(false, false)
	c.SetWriteLock(true) // keep bytes queued instead of flushing immediately

	if _, err := c.Write([]byte("queued")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if c.BufferedBytes() != len("queued") {
		t.Fatalf("expected %d buffered bytes, got %d", len("queued"), c.BufferedBytes())
	}
}
