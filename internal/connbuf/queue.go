// File: internal/connbuf/queue.go
// Author: momentics <momentics@gmail.com>
//
// Queue is the connection's write_buffer: an ordered sequence of byte
// chunks where the head is the partially-sent chunk. Backed by
// eapache/queue's ring-buffer FIFO — the teacher's go.mod carries this
// dependency without ever importing it; here it gets a real, exercised
// home instead of sitting unused.

package connbuf

import "github.com/eapache/queue"

// Queue holds pending write chunks for one connection.
type Queue struct {
	q        *queue.Queue
	totalLen int
}

// New creates an empty write-buffer queue.
func New() *Queue {
	return &Queue{q: queue.New()}
}

// PushBack appends a chunk to the tail of the buffer.
func (b *Queue) PushBack(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.q.Add(chunk)
	b.totalLen += len(chunk)
}

// Empty reports whether the buffer holds any bytes.
func (b *Queue) Empty() bool { return b.q.Length() == 0 }

// Len returns the total number of buffered bytes across all chunks —
// backs Conn.BufferedBytes, the backpressure accessor Link and the test
// suite use to observe queueing without peeking at chunk internals.
func (b *Queue) Len() int { return b.totalLen }

// Concat flattens every chunk into one contiguous slice, optimizing the
// common single-chunk case by returning it directly rather than copying.
func (b *Queue) Concat() []byte {
	n := b.q.Length()
	if n == 0 {
		return nil
	}
	if n == 1 {
		return b.q.Peek().([]byte)
	}
	out := make([]byte, 0, b.totalLen)
	for i := 0; i < n; i++ {
		out = append(out, b.q.Get(i).([]byte)...)
	}
	return out
}

// ConsumeFront drops n bytes from the front of the logical byte stream,
// replacing a partially-sent head chunk with its remainder and popping any
// chunk consumed in full.
func (b *Queue) ConsumeFront(n int) {
	for n > 0 && b.q.Length() > 0 {
		head := b.q.Peek().([]byte)
		if n < len(head) {
			b.q.Remove()
			rest := head[n:]
			// push the remainder back to the front by rebuilding: eapache's
			// queue has no PushFront, so reinsert the whole remaining order.
			b.requeueFront(rest)
			b.totalLen -= n
			return
		}
		b.q.Remove()
		n -= len(head)
		b.totalLen -= len(head)
	}
}

// requeueFront rebuilds the queue with rest as the new head, preserving the
// order of whatever chunks remained after it.
func (b *Queue) requeueFront(rest []byte) {
	remaining := make([][]byte, 0, b.q.Length())
	for b.q.Length() > 0 {
		remaining = append(remaining, b.q.Remove().([]byte))
	}
	b.q.Add(rest)
	for _, c := range remaining {
		b.q.Add(c)
	}
}

// PopFront removes and returns the chunk at the head of the buffer, or nil
// if the buffer is empty.
func (b *Queue) PopFront() []byte {
	if b.q.Length() == 0 {
		return nil
	}
	chunk := b.q.Remove().([]byte)
	b.totalLen -= len(chunk)
	return chunk
}

// PushFront reinserts a chunk at the head of the buffer — used to put a
// popped chunk back when a non-blocking hand-off downstream couldn't
// accept it, so nothing already removed from the buffer is ever lost.
func (b *Queue) PushFront(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.requeueFront(chunk)
	b.totalLen += len(chunk)
}

// Reset discards all buffered bytes.
func (b *Queue) Reset() {
	for b.q.Length() > 0 {
		b.q.Remove()
	}
	b.totalLen = 0
}
