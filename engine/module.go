// File: engine/module.go
// Author: momentics <momentics@gmail.com>
//
// Package-level functions mirroring the distilled spec's module surface
// (listen, addclient, addserver, wrapclient, wrapserver, watchfd, link,
// addtask, closeall, setquitting, loop, setconfig, getbackend). Each
// delegates to the lazily-constructed Default Engine so a caller that
// never needs more than one reactor per process can skip New entirely.

package engine

import (
	"crypto/tls"

	"github.com/momentics/xmpp-reactor/api"
	"github.com/momentics/xmpp-reactor/internal/conn"
)

func Listen(addr string, port int, listeners api.Listeners, cfg *ListenConfig) (*conn.Server, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	return e.Listen(addr, port, listeners, cfg)
}

func AddClient(addr string, port int, listeners api.Listeners, readSize int, tlsCfg *tls.Config, tlsaRecords []api.TLSARecord) (*conn.Conn, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	return e.AddClient(addr, port, listeners, readSize, tlsCfg, tlsaRecords)
}

func AddServer(addr string, port int, listeners api.Listeners) (*conn.Server, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	return e.AddServer(addr, port, listeners)
}

func WrapClient(fd int, listeners api.Listeners, readSize int) (*conn.Conn, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	return e.WrapClient(fd, listeners, readSize), nil
}

func WrapServer(fd int, readSize int, listeners api.Listeners, tlsCfg *tls.Config, tlsDirect bool, sni map[string]*tls.Config, tlsaRecords []api.TLSARecord) (*conn.Server, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	return e.WrapServer(fd, readSize, listeners, tlsCfg, tlsDirect, sni, tlsaRecords)
}

func WatchFD(fd int, onR, onW func(fd int)) (*fdWatch, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	return e.WatchFD(fd, onR, onW)
}

func Link(from, to *conn.Conn, readSize int) error {
	e, err := Default()
	if err != nil {
		return err
	}
	e.Link(from, to, readSize)
	return nil
}

func AddTask(delaySeconds float64, cb func(wallNow int64) float64) (api.TimerID, error) {
	e, err := Default()
	if err != nil {
		return 0, err
	}
	return e.AddTask(delaySeconds, cb), nil
}

func CloseAll() error {
	e, err := Default()
	if err != nil {
		return err
	}
	e.CloseAll()
	return nil
}

func SetQuitting(q bool) error {
	e, err := Default()
	if err != nil {
		return err
	}
	e.SetQuitting(q)
	return nil
}

func Loop() error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.Loop()
}

func SetConfig(cfg api.Config) error {
	e, err := Default()
	if err != nil {
		return err
	}
	e.SetConfig(cfg)
	return nil
}

func GetBackend() (string, error) {
	e, err := Default()
	if err != nil {
		return "", err
	}
	return e.GetBackend(), nil
}

func NotifyReady() error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.NotifyReady()
}
