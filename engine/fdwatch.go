// File: engine/fdwatch.go
// Author: momentics <momentics@gmail.com>
//
// fdWatch lets a caller register an arbitrary fd with its own
// readable/writable handlers, bypassing the Connection state machine
// entirely — the distilled spec's watchfd factory.

package engine

type fdWatch struct {
	e      *Engine
	fd     int
	onR    func(fd int)
	onW    func(fd int)
	closed bool

	leaveRead, leaveWrite bool
}

func (w *fdWatch) OnReadable() {
	if w.onR != nil {
		w.onR(w.fd)
	}
	if w.leaveRead {
		w.leaveBoth()
	}
}

func (w *fdWatch) OnWritable() {
	if w.onW != nil {
		w.onW(w.fd)
	}
	if w.leaveWrite {
		w.leaveBoth()
	}
}

// leaveBoth implements the addevent/EV_LEAVE contract: returning EVLeave
// from either direction's callback clears both handlers and drops all
// poller interest for the fd, not just the direction that returned it.
func (w *fdWatch) leaveBoth() {
	w.leaveRead, w.leaveWrite = false, false
	w.onR, w.onW = nil, nil
	w.resyncInterest()
}

// resyncInterest tells the poller which directions are still wired after an
// EVLeave return drops interest.
func (w *fdWatch) resyncInterest() {
	_ = w.e.poller.Modify(w.fd, w.onR != nil, w.onW != nil)
}

func (w *fdWatch) close() {
	if w.closed {
		return
	}
	w.closed = true
	_ = w.e.poller.Del(w.fd)
	w.e.Forget(w.fd)
}

// Close deregisters the watched fd from the poller. The fd itself is owned
// by the caller, not the reactor, so it is never closed here.
func (w *fdWatch) Close() { w.close() }
