// File: engine/socket.go
// Author: momentics <momentics@gmail.com>
//
// Raw non-blocking socket construction shared by Listen and AddClient.
// Grounded on transport/tcp/listener.go's net.Listen-based accept loop,
// generalized to raw syscalls because the reactor needs the fd itself, not
// a *net.TCPConn owned by the Go runtime's poller.

package engine

import (
	"fmt"
	"net"

	"github.com/momentics/xmpp-reactor/api"
	"golang.org/x/sys/unix"
)

func resolveAddrType(addr string) api.NetAddressType {
	ip := net.ParseIP(addr)
	if ip == nil {
		return api.AddrIPv4
	}
	if ip.To4() != nil {
		return api.AddrIPv4
	}
	return api.AddrIPv6
}

func bindListenSocket(addr string, port, backlog int) (int, error) {
	t := resolveAddrType(addr)
	domain := unix.AF_INET
	if t == api.AddrIPv6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	var sa unix.Sockaddr
	if t == api.AddrIPv6 {
		a := &unix.SockaddrInet6{Port: port}
		copy(a.Addr[:], net.ParseIP(addr).To16())
		sa = a
	} else {
		a := &unix.SockaddrInet4{Port: port}
		if ip := net.ParseIP(addr); ip != nil {
			copy(a.Addr[:], ip.To4())
		}
		sa = a
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("set nonblock: %w", err)
	}
	return fd, nil
}

// connectResult distinguishes a connect that needs more poller time from
// one that failed outright, per the distilled spec's addclient algorithm
// ("treat timeout as progress, any other error as failure").
type connectResult int

const (
	connectDone connectResult = iota
	connectInProgress
	connectFailed
)

func dialSocket(addr string, port int) (fd int, result connectResult, err error) {
	t := resolveAddrType(addr)
	domain := unix.AF_INET
	if t == api.AddrIPv6 {
		domain = unix.AF_INET6
	}
	fd, err = unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, connectFailed, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, connectFailed, fmt.Errorf("set nonblock: %w", err)
	}

	var sa unix.Sockaddr
	if t == api.AddrIPv6 {
		a := &unix.SockaddrInet6{Port: port}
		copy(a.Addr[:], net.ParseIP(addr).To16())
		sa = a
	} else {
		a := &unix.SockaddrInet4{Port: port}
		if ip := net.ParseIP(addr); ip != nil {
			copy(a.Addr[:], ip.To4())
		}
		sa = a
	}

	err = unix.Connect(fd, sa)
	switch err {
	case nil:
		return fd, connectDone, nil
	case unix.EINPROGRESS:
		return fd, connectInProgress, nil
	default:
		_ = unix.Close(fd)
		return -1, connectFailed, fmt.Errorf("connect: %w", err)
	}
}
