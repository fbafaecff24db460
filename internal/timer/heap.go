// File: internal/timer/heap.go
// Author: momentics <momentics@gmail.com>
//
// Indexed binary min-heap keyed by absolute monotonic deadline. Identity
// (the returned TimerID) is stable across reprioritization, grounded on the
// add/remove/reprioritize/peek/pop surface the distilled spec names for the
// timer heap component.

package timer

import (
	"container/heap"

	"github.com/momentics/xmpp-reactor/api"
)

// Callback is invoked with the current wall-clock time and the timer's own
// id when its deadline elapses. A positive return value re-arms the timer
// that many seconds from "now" (see Scheduler.RunExpired); zero or negative
// lets the timer expire for good.
type Callback func(wallNow int64, id api.TimerID) float64

type entry struct {
	id       api.TimerID
	deadline int64 // monotonic nanoseconds
	cb       Callback
	index    int // position in the heap slice, kept in sync by heap.Interface
}

// Heap is an indexed min-heap: entries can be removed or reprioritized by
// id in O(log n), not just popped from the root.
type Heap struct {
	entries []*entry
	byID    map[api.TimerID]*entry
	nextID  api.TimerID
}

// New creates an empty timer heap.
func New() *Heap {
	return &Heap{byID: make(map[api.TimerID]*entry)}
}

// Len implements heap.Interface.
func (h *Heap) Len() int { return len(h.entries) }

// Less implements heap.Interface.
func (h *Heap) Less(i, j int) bool { return h.entries[i].deadline < h.entries[j].deadline }

// Swap implements heap.Interface.
func (h *Heap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

// Push implements heap.Interface. Use Insert, not this, from outside the package.
func (h *Heap) Push(x any) {
	e := x.(*entry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
}

// Pop implements heap.Interface; callers outside the package go through
// Scheduler.RunExpired instead of calling this directly.
func (h *Heap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.entries = old[:n-1]
	return e
}

// Insert adds a new timer and returns a stable id.
func (h *Heap) Insert(cb Callback, deadline int64) api.TimerID {
	h.nextID++
	e := &entry{id: h.nextID, deadline: deadline, cb: cb}
	h.byID[e.id] = e
	heap.Push(h, e)
	return e.id
}

// Remove cancels a timer by id. No-op if the id is unknown (already fired
// or already removed) — mirrors the tolerant-delete semantics the poller
// uses for fds.
func (h *Heap) Remove(id api.TimerID) {
	e, ok := h.byID[id]
	if !ok {
		return
	}
	heap.Remove(h, e.index)
	delete(h.byID, id)
}

// Reprioritize changes an existing timer's deadline, preserving its id.
func (h *Heap) Reprioritize(id api.TimerID, newDeadline int64) {
	e, ok := h.byID[id]
	if !ok {
		return
	}
	e.deadline = newDeadline
	heap.Fix(h, e.index)
}

// PeekDeadline returns the next deadline and true, or (0, false) if empty.
func (h *Heap) PeekDeadline() (int64, bool) {
	if len(h.entries) == 0 {
		return 0, false
	}
	return h.entries[0].deadline, true
}

// popRoot pops and returns the root entry unconditionally; callers check
// PeekDeadline first. Removes the id from the lookup table.
func (h *Heap) popRoot() *entry {
	e := heap.Pop(h).(*entry)
	delete(h.byID, e.id)
	return e
}

// Count reports the number of live timers (exported accessor distinct from
// heap.Interface's Len to read naturally from callers outside the package).
func (h *Heap) Count() int { return len(h.entries) }
