// File: internal/conn/starttls.go
// Author: momentics <momentics@gmail.com>
//
// STARTTLS upgrade and the ongoing TLS record pump. See tls.go for the
// goroutine bridge crypto/tls's blocking API requires.

package conn

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/momentics/xmpp-reactor/api"
	"golang.org/x/sys/unix"
)

// StartTLS begins (or defers) the TLS upgrade, per the distilled spec: if
// the write buffer is nonempty, wait for it to drain first.
func (c *Conn) StartTLS(cfg *tls.Config, asServer bool) {
	c.tlsConfig = cfg
	c.tlsAsServer = asServer
	if !c.wbuf.Empty() {
		c.drain = drainStartTLS
		return
	}
	c.beginTLS()
}

func (c *Conn) effectiveTLSConfig() *tls.Config {
	if c.tlsConfig != nil {
		return c.tlsConfig
	}
	if c.server != nil {
		return c.server.tlsConfig
	}
	return &tls.Config{}
}

// resolvedSNIConfig picks the per-host config: an explicit servername on
// the connection selects its entry from the SNI host map (the connection's
// own, else the parent listener's); otherwise a server-side connection with
// an SNI host map looks up the name the client asks for in its hello, and
// anything not found there uses the connection's own config.
func (c *Conn) resolvedSNIConfig() *tls.Config {
	hosts := c.sniHosts
	if hosts == nil && c.server != nil {
		hosts = c.server.sniHosts
	}
	name := c.servername
	if name != "" && hosts != nil {
		if cfg, ok := hosts[name]; ok {
			return cfg
		}
	}
	base := c.effectiveTLSConfig()
	if c.tlsAsServer && len(hosts) > 0 {
		base = base.Clone()
		prev := base.GetConfigForClient
		base.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			if cfg, ok := hosts[hello.ServerName]; ok {
				return cfg, nil
			}
			if prev != nil {
				return prev(hello)
			}
			return nil, nil
		}
	}
	return base
}

func (c *Conn) beginTLS() {
	cfg := c.resolvedSNIConfig()
	if len(c.tlsaRecords) > 0 {
		cfg = cfg.Clone()
		cfg.VerifyPeerCertificate = withDANE(c.tlsaRecords, cfg.VerifyPeerCertificate)
	}
	c.tlsState = api.TLSHandshake
	c.mode = ModeTLSHandshake
	c.tlsBridge = newTLSBridge(c.tlsAsServer, cfg)
	c.wantRead, c.wantWrite = true, true
	c.syncInterest()
	c.tlsTimerID = c.host.After(c.host.Config().SSLHandshakeTimeout, c.onTLSHandshakeTimeout)
	c.hasTLSTimer = true

	c.invokeListener(func() {
		if c.listeners.OnStartTLS != nil {
			c.listeners.OnStartTLS(c)
		}
	})
}

// withDANE layers a best-effort TLSA check on top of whatever
// VerifyPeerCertificate the caller already installed: DANE augments
// certificate validation, it never replaces it, so next still runs first.
// CertUsage is not consulted — the reactor has no PKIX chain of its own to
// pin against — only the full-certificate (MatchingType 0) and
// SHA-256 (MatchingType 1) forms are checked against the presented leaf.
func withDANE(records []api.TLSARecord, next func([][]byte, [][]*x509.Certificate) error) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, chains [][]*x509.Certificate) error {
		if next != nil {
			if err := next(rawCerts, chains); err != nil {
				return err
			}
		}
		if len(rawCerts) == 0 {
			return fmt.Errorf("dane: no certificate presented")
		}
		leaf := rawCerts[0]
		sum := sha256.Sum256(leaf)
		for _, rec := range records {
			switch rec.MatchingType {
			case 0:
				if string(rec.Data) == string(leaf) {
					return nil
				}
			case 1:
				if len(rec.Data) == len(sum) && string(rec.Data) == string(sum[:]) {
					return nil
				}
			}
		}
		return fmt.Errorf("dane: no TLSA record matched presented certificate")
	}
}

func (c *Conn) onTLSHandshakeTimeout(int64) float64 {
	c.hasTLSTimer = false
	if c.destroyed || c.tlsState != api.TLSHandshake {
		return 0
	}
	c.disconnect(fmt.Errorf("tls handshake timeout"))
	return 0
}

// pumpTLS is called from both onReadable and onWritable while a TLS
// session is active. It does four non-blocking things in order: move fresh
// ciphertext from the socket into the bridge, flush ciphertext the bridge
// wants sent into the raw write buffer, check for handshake completion, and
// deliver any decrypted application bytes that arrived.
func (c *Conn) pumpTLS(readable, writable bool) {
	b := c.tlsBridge
	if b == nil {
		return
	}

	if readable {
		buf := make([]byte, c.readSize)
		n, err := unix.Read(c.fd, buf)
		switch {
		case err == nil && n > 0:
			c.tlsCipherQueue.PushBack(buf[:n])
		case err == nil && n == 0:
			c.disconnect(api.ErrClosed)
			return
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			// nothing new; fall through to drain/check below
		default:
			c.disconnect(fmt.Errorf("tls read: %w", err))
			return
		}
	}
	c.drainTLSCipherQueue()
	c.drainTLSPlainQueue()

	for {
		chunk := b.drainCiphertext()
		if chunk == nil {
			break
		}
		c.wbuf.PushBack(chunk)
	}
	if !c.wbuf.Empty() {
		c.wantWrite = true
	}
	c.syncInterest()
	if writable && !c.wbuf.Empty() {
		c.plainOnWritable()
	}

	if c.tlsState == api.TLSHandshake {
		select {
		case err := <-b.handshakeDone:
			c.completeHandshake(err)
		default:
		}
		return
	}

	for {
		select {
		case data := <-b.appRead:
			c.markConnected()
			c.deliver(data, nil)
		case err := <-b.appReadErr:
			c.disconnect(fmt.Errorf("tls: %w", err))
			return
		default:
			return
		}
	}
}

func (c *Conn) completeHandshake(err error) {
	if c.hasTLSTimer {
		c.host.Cancel(c.tlsTimerID)
		c.hasTLSTimer = false
	}
	if err != nil {
		c.disconnect(fmt.Errorf("tls handshake: %w", err))
		return
	}
	c.tlsState = api.TLSEstablished
	c.mode = ModeEstablished
	c.invokeListener(func() {
		if c.listeners.OnStatus != nil {
			c.listeners.OnStatus(c, "ssl-handshake-complete")
		}
	})
	c.markConnected()
	c.armReadTimer(c.host.Config().ReadTimeout)
}

// writeTLS is used by Write once a TLS session is established to route
// application bytes through the record layer instead of the raw socket.
// Bytes are queued in tlsPlainQueue first and handed to the writer
// goroutine opportunistically, so a backlogged writer never loses data —
// the write buffer stays unbounded at this layer exactly as it is for a
// plaintext connection.
func (c *Conn) writeTLS(data []byte) bool {
	if c.tlsBridge == nil || c.tlsState != api.TLSEstablished {
		return false
	}
	c.tlsPlainQueue.PushBack(data)
	c.drainTLSPlainQueue()
	return true
}

// drainTLSPlainQueue feeds as many queued plaintext chunks as possible to
// the writer goroutine without blocking. Anything left over stays queued
// and a short retry is scheduled, mirroring scheduleRetryRead's backoff
// for the read side.
func (c *Conn) drainTLSPlainQueue() {
	b := c.tlsBridge
	if b == nil {
		return
	}
	for {
		chunk := c.tlsPlainQueue.PopFront()
		if chunk == nil {
			return
		}
		select {
		case b.appWrite <- chunk:
		default:
			c.tlsPlainQueue.PushFront(chunk)
			c.scheduleTLSRetry(c.host.Config().ReadRetryDelay)
			return
		}
	}
}

// drainTLSCipherQueue feeds as much queued raw ciphertext as possible into
// the handshake/record pipe without blocking. Bytes already read off the
// socket are never discarded: anything the pipe can't accept right now
// stays queued here and is retried, instead of being dropped and
// corrupting the record layer.
func (c *Conn) drainTLSCipherQueue() {
	b := c.tlsBridge
	if b == nil {
		return
	}
	for {
		chunk := c.tlsCipherQueue.PopFront()
		if chunk == nil {
			return
		}
		if !b.feedCiphertext(chunk) {
			c.tlsCipherQueue.PushFront(chunk)
			c.scheduleTLSRetry(c.host.Config().ReadRetryDelay)
			return
		}
	}
}

// scheduleTLSRetry re-drives both TLS queues after a short delay; used
// whenever a hand-off to the bridge's goroutines was refused because a
// channel was momentarily full.
func (c *Conn) scheduleTLSRetry(delay time.Duration) {
	c.host.After(delay, func(int64) float64 {
		if !c.destroyed {
			c.drainTLSCipherQueue()
			c.drainTLSPlainQueue()
		}
		return 0
	})
}
