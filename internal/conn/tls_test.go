package conn_test

// tlsBridge is unexported, so these behavioral checks run through the
// exported Conn.StartTLS surface instead of reaching into the package
// directly — see conn_test.go for the fakeHost this drives against.

import (
	"testing"
	"time"

	"github.com/momentics/xmpp-reactor/api"
	"github.com/momentics/xmpp-reactor/internal/conn"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestStartTLSDeferredUntilWriteBufferDrains(t *testing.T) {
	h := newFakeHost(t)
	a, b := socketpair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	var startedTLS bool
	c := conn.NewClientConn(h, a, 4096, api.Listeners{
		OnStartTLS: func(_ api.Conn) { startedTLS = true },
	})
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(false, false)
	c.SetWriteLock(true) // keep bytes queued so StartTLS must defer

	_, err := c.Write([]byte("still queued"))
	require.NoError(t, err)
	require.Greater(t, c.BufferedBytes(), 0)

	c.StartTLS(nil, false)

	// StartTLS must not fire immediately while the write buffer is
	// nonempty; OnStartTLS only runs once the queued bytes drain.
	require.False(t, startedTLS, "StartTLS fired before the write buffer drained")
}

func TestTLSHandshakeTimeoutDisconnects(t *testing.T) {
	h := newFakeHost(t)
	a, b := socketpair(t)
	defer unix.Close(b)

	disconnected := make(chan struct{}, 1)
	c := conn.NewClientConn(h, a, 4096, api.Listeners{
		OnDisconnect: func(_ api.Conn, reason error) {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		},
	})
	c.SetMode(conn.ModeConnected)
	c.MarkRegistered(false, false)
	c.StartTLS(nil, false) // asServer=false, no write buffer to drain

	// Fire every armed timer, including the TLS handshake timeout, the way
	// a real event loop would once the deadline elapses.
	for id, cb := range h.timers {
		cb(0)
		delete(h.timers, id)
	}

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("expected disconnect after simulated handshake timeout")
	}
}
