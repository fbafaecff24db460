package engine_test

import (
	"testing"

	"github.com/momentics/xmpp-reactor/api"
	"github.com/momentics/xmpp-reactor/engine"
	"github.com/momentics/xmpp-reactor/internal/conn"
	"golang.org/x/sys/unix"
)

func linkSocketpair(t *testing.T) (a, b int) {
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

// TestLinkForwardsBytesAndAppliesReadBackpressure exercises engine.Link
// directly against two real connections: forwarded bytes must land on the
// downstream connection, and once its backlog exceeds the configured
// threshold the upstream connection must actually stop reading, not just
// stop writing.
func TestLinkForwardsBytesAndAppliesReadBackpressure(t *testing.T) {
	e, err := engine.New()
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	upFD, upPeer := linkSocketpair(t)
	downFD, downPeer := linkSocketpair(t)
	defer unix.Close(upPeer)
	defer unix.Close(downPeer)

	from := conn.NewClientConn(e, upFD, 4096, api.Listeners{})
	from.SetMode(conn.ModeConnected)
	from.MarkRegistered(true, false)

	to := conn.NewClientConn(e, downFD, 4096, api.Listeners{})
	to.SetMode(conn.ModeConnected)
	to.MarkRegistered(false, false)

	const readSize = 8
	e.Link(from, to, readSize)

	// Lock to's write path so forwarded bytes pile up in its buffer
	// instead of draining immediately, the way a slow downstream would.
	to.SetWriteLock(true)

	payload := []byte("this payload is longer than the readSize threshold")
	if _, err := unix.Write(upPeer, payload); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	from.OnReadable()

	if to.BufferedBytes() != len(payload) {
		t.Fatalf("expected all %d bytes forwarded to to, got %d buffered", len(payload), to.BufferedBytes())
	}
	if from.Reading() {
		t.Fatal("expected Link to pause from's reading once to's backlog exceeded readSize")
	}

	to.SetWriteLock(false)
	to.OnWritable()

	if to.BufferedBytes() != 0 {
		t.Fatalf("expected to's buffer to drain once unlocked, got %d buffered", to.BufferedBytes())
	}
	if !from.Reading() {
		t.Fatal("expected to's OnDrain to resume from's reading")
	}
}

// TestLinkHalfClosesUpstreamWhenDownstreamDisconnects exercises the other
// half of Link's teardown contract: when to goes away, from's read side
// must be half-closed rather than the whole connection torn down, since a
// second Link pumping the reverse direction may still be flushing through
// from's write side.
func TestLinkHalfClosesUpstreamWhenDownstreamDisconnects(t *testing.T) {
	e, err := engine.New()
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	upFD, upPeer := linkSocketpair(t)
	downFD, downPeer := linkSocketpair(t)
	defer unix.Close(upPeer)

	from := conn.NewClientConn(e, upFD, 4096, api.Listeners{})
	from.SetMode(conn.ModeConnected)
	from.MarkRegistered(true, false)

	to := conn.NewClientConn(e, downFD, 4096, api.Listeners{})
	to.SetMode(conn.ModeConnected)
	to.MarkRegistered(false, false)

	e.Link(from, to, 4096)

	unix.Close(downPeer) // to's peer hangs up
	to.OnReadable()      // n==0 -> to disconnects, firing its OnDisconnect

	if from.Reading() {
		t.Fatal("expected from's read side to be half-closed once to disconnects")
	}
	if _, err := from.Write([]byte("still writable")); err != nil {
		t.Fatalf("expected from to remain alive (write side open) after half-close, got %v", err)
	}
}
