// File: api/poller.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness poller contract. Grounded on the teacher's
// reactor.EventReactor interface, generalized to the add/modify/delete +
// readable/writable interest model the distilled spec requires.

package api

import "time"

// Poller abstracts an OS readiness facility (epoll or equivalent).
type Poller interface {
	// Add registers fd with the given interest set. If fd is already known
	// to the poller, implementations fall back to Modify transparently
	// instead of returning an error — callers never need to branch on
	// "already registered".
	Add(fd int, readable, writable bool) error

	// Modify changes the interest set for an already-registered fd.
	Modify(fd int, readable, writable bool) error

	// Del removes fd from the poller. Tolerant of "not registered": returns
	// nil if fd is already absent.
	Del(fd int) error

	// Wait blocks up to timeout for a single ready fd. Returns the fd and
	// its readable/writable bits, or an error — ErrTimeout and ErrSignal are
	// expected, recoverable conditions; any other error should be logged by
	// the caller and treated as non-fatal to the loop.
	Wait(timeout time.Duration) (fd int, readable, writable bool, err error)

	// Close releases the underlying poller resource.
	Close() error
}
