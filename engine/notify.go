// File: engine/notify.go
// Author: momentics <momentics@gmail.com>
//
// NotifyReady exposes the systemd readiness helper off Engine so callers
// don't need to import internal/notify directly.

package engine

import "github.com/momentics/xmpp-reactor/internal/notify"

// NotifyReady tells an enclosing service manager (systemd's NOTIFY_SOCKET
// protocol) that the reactor has finished binding its listeners and is
// ready to accept connections. Safe to call even when no service manager
// is present.
func (e *Engine) NotifyReady() error { return notify.Ready() }
