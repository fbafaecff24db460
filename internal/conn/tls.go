// File: internal/conn/tls.go
// Author: momentics <momentics@gmail.com>
//
// crypto/tls exposes only a blocking, synchronous API (Handshake, Read,
// Write all block the calling goroutine until progress is made). The
// reactor's event loop must never block, so a TLS connection bridges the
// raw, non-blocking fd to a pair of dedicated goroutines running the
// standard library's tls.Conn over an in-memory pipe: one pumps ciphertext
// and decrypted application bytes, the other pumps outgoing application
// writes. Every hand-off to the single-threaded loop happens over buffered
// channels drained non-blockingly from on_readable/on_writable, so the loop
// itself never suspends anywhere but poller.Wait. This is the one place in
// the package where the "single goroutine" model is deliberately relaxed —
// see DESIGN.md for the trade-off.

package conn

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// tlsPipe adapts an in-memory ciphertext channel pair to net.Conn so
// crypto/tls can drive its record layer without knowing the bytes actually
// came from a raw epoll-managed socket.
type tlsPipe struct {
	in      chan []byte
	out     chan []byte
	closed  atomic.Bool
	closeCh chan struct{}
	pending []byte
}

func newTLSPipe() *tlsPipe {
	return &tlsPipe{
		in:      make(chan []byte, 64),
		out:     make(chan []byte, 64),
		closeCh: make(chan struct{}),
	}
}

func (p *tlsPipe) Read(b []byte) (int, error) {
	for len(p.pending) == 0 {
		select {
		case chunk, ok := <-p.in:
			if !ok {
				return 0, io.EOF
			}
			p.pending = chunk
		case <-p.closeCh:
			return 0, io.EOF
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *tlsPipe) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	select {
	case p.out <- cp:
		return len(b), nil
	case <-p.closeCh:
		return 0, io.ErrClosedPipe
	}
}

func (p *tlsPipe) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		close(p.closeCh)
	}
	return nil
}

func (p *tlsPipe) LocalAddr() net.Addr                { return pipeAddr{} }
func (p *tlsPipe) RemoteAddr() net.Addr               { return pipeAddr{} }
func (p *tlsPipe) SetDeadline(t time.Time) error      { return nil }
func (p *tlsPipe) SetReadDeadline(t time.Time) error  { return nil }
func (p *tlsPipe) SetWriteDeadline(t time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "tls-pipe" }
func (pipeAddr) String() string  { return "tls-pipe" }

// tlsBridge owns the goroutines and channels connecting a *tls.Conn to the
// reactor's non-blocking event loop.
type tlsBridge struct {
	conn          *tls.Conn
	pipe          *tlsPipe
	handshakeDone chan error
	appRead       chan []byte // decrypted application bytes, reader goroutine -> loop
	appReadErr    chan error
	appWrite      chan []byte // application bytes to encrypt, loop -> writer goroutine
	writeErr      chan error

	group  *errgroup.Group
	cancel context.CancelFunc
}

func newTLSBridge(asServer bool, cfg *tls.Config) *tlsBridge {
	pipe := newTLSPipe()
	var tconn *tls.Conn
	if asServer {
		tconn = tls.Server(pipe, cfg)
	} else {
		tconn = tls.Client(pipe, cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	b := &tlsBridge{
		conn:          tconn,
		pipe:          pipe,
		handshakeDone: make(chan error, 1),
		appRead:       make(chan []byte, 64),
		appReadErr:    make(chan error, 1),
		appWrite:      make(chan []byte, 64),
		writeErr:      make(chan error, 1),
		group:         g,
		cancel:        cancel,
	}
	go b.runHandshakeThenPump(gctx)
	return b
}

func (b *tlsBridge) runHandshakeThenPump(ctx context.Context) {
	err := b.conn.HandshakeContext(ctx)
	b.handshakeDone <- err
	if err != nil {
		return
	}
	b.group.Go(b.readPump)
	b.group.Go(b.writePump)
}

func (b *tlsBridge) readPump() error {
	buf := make([]byte, 16*1024)
	for {
		n, err := b.conn.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			b.appRead <- cp
		}
		if err != nil {
			b.appReadErr <- err
			return err
		}
	}
}

func (b *tlsBridge) writePump() error {
	for chunk := range b.appWrite {
		if _, err := b.conn.Write(chunk); err != nil {
			b.writeErr <- err
			return err
		}
	}
	return nil
}

// feedCiphertext hands raw bytes read off the socket to the handshake/record
// layer. Non-blocking: if the pipe's inbound channel is momentarily full,
// consumed is false and the caller (drainTLSCipherQueue) is responsible for
// retaining and retrying the same chunk — feedCiphertext itself never
// drops anything.
func (b *tlsBridge) feedCiphertext(chunk []byte) (consumed bool) {
	select {
	case b.pipe.in <- chunk:
		return true
	default:
		return false
	}
}

// drainCiphertext pulls ciphertext tls.Conn wants sent on the wire. Returns
// nil when nothing is pending right now.
func (b *tlsBridge) drainCiphertext() []byte {
	select {
	case chunk := <-b.pipe.out:
		return chunk
	default:
		return nil
	}
}

// close tears down the bridge without blocking the caller: cancelling the
// handshake context and closing the pipe unblock every pump goroutine on
// their own, and a detached goroutine waits on the errgroup until both
// pumps have returned. The error Wait reports is discarded.
func (b *tlsBridge) close() {
	b.cancel()
	b.pipe.Close()
	close(b.appWrite)
	go func() { _ = b.group.Wait() }()
}
