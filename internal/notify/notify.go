// File: internal/notify/notify.go
// Author: momentics <momentics@gmail.com>
//
// Best-effort systemd-style readiness notification. This is documented in
// the distilled spec as external to the reactor — the reactor does not
// parse or depend on it, it only offers a thin helper the surrounding
// daemon may call once initialization completes.

package notify

import (
	"net"
	"os"
)

// Ready writes "READY=1" to the SOCK_DGRAM unix socket path named by
// NOTIFY_SOCKET, if set. Any failure is swallowed: the reactor must not
// depend on the notify socket existing or succeeding.
func Ready() error {
	path := os.Getenv("NOTIFY_SOCKET")
	if path == "" {
		return nil
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil
	}
	defer conn.Close()
	_, _ = conn.Write([]byte("READY=1"))
	return nil
}
