// File: api/config.go
// Author: momentics <momentics@gmail.com>
//
// Process-wide tunables for the reactor. Installed via engine.SetConfig and
// read by connection/timer logic; a connection's already-armed timers keep
// whatever duration was current when they were last armed.

package api

import "time"

// Config holds every knob the distilled reactor spec names in its
// configuration component.
type Config struct {
	ReadTimeout         time.Duration
	SendTimeout         time.Duration
	ConnectTimeout      time.Duration
	TCPBacklog          int
	AcceptRetryInterval time.Duration
	ReadRetryDelay      time.Duration
	ReadSize            int
	SSLHandshakeTimeout time.Duration
	MaxWait             time.Duration
	MinWait             time.Duration
	Verbose             bool
	FatalErrors         bool
	ProtectListeners    bool
	OpportunisticWrites bool
}

// DefaultConfig returns the baseline tunables a freshly-started reactor uses.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:         900 * time.Second,
		SendTimeout:         900 * time.Second,
		ConnectTimeout:      20 * time.Second,
		TCPBacklog:          128,
		AcceptRetryInterval: 1 * time.Second,
		ReadRetryDelay:      time.Millisecond,
		ReadSize:            4096,
		SSLHandshakeTimeout: 60 * time.Second,
		MaxWait:             1 * time.Second,
		MinWait:             time.Millisecond,
		Verbose:             false,
		FatalErrors:         false,
		ProtectListeners:    true,
		OpportunisticWrites: true,
	}
}
