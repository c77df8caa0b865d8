package quicnet

import (
	"time"

	"github.com/danmuck/lockstep/internal/protocol/call"
)

// Config defines QUIC transport behavior.
type Config struct {
	HandshakeTimeout time.Duration
	KeepAlive        time.Duration
	MaxIdleTimeout   time.Duration
	DialAttempts     int
	Backoff          BackoffConfig
	Limits           call.Limits
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 5 * time.Second,
		KeepAlive:        2 * time.Second,
		MaxIdleTimeout:   15 * time.Second,
		DialAttempts:     5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		Limits: call.DefaultLimits(),
	}
}
