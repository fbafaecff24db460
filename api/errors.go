// File: api/errors.go
// Author: momentics <momentics@gmail.com>
//
// Common error sentinels shared across the reactor packages.

package api

import "errors"

// Sentinel errors returned by the poller and connection layers. Callers
// branch on these with errors.Is instead of inspecting syscall.Errno.
var (
	ErrTimeout      = errors.New("poll wait timed out")
	ErrSignal       = errors.New("poll wait interrupted by signal")
	ErrClosed       = errors.New("connection closed by peer")
	ErrDestroyed    = errors.New("connection already destroyed")
	ErrNotSupported = errors.New("operation not supported on this platform")
)
