//go:build !linux

// File: internal/poller/poller_stub.go
// Author: momentics <momentics@gmail.com>
//
// Non-Linux build stub. The distilled spec scopes the poller to "epoll or
// equivalent"; this module implements the equivalent only for Linux, the
// same way reactor/reactor_stub.go in the teacher reports ErrNotSupported
// rather than silently degrading behavior on unsupported platforms.

package poller

import (
	"time"

	"github.com/momentics/xmpp-reactor/api"
)

type stubPoller struct{}

// New reports ErrNotSupported on platforms without an epoll equivalent
// wired in.
func New() (api.Poller, error) {
	return nil, api.ErrNotSupported
}

func (stubPoller) Add(fd int, readable, writable bool) error    { return api.ErrNotSupported }
func (stubPoller) Modify(fd int, readable, writable bool) error { return api.ErrNotSupported }
func (stubPoller) Del(fd int) error                             { return api.ErrNotSupported }
func (stubPoller) Wait(time.Duration) (int, bool, bool, error) {
	return 0, false, false, api.ErrNotSupported
}
func (stubPoller) Close() error { return nil }
