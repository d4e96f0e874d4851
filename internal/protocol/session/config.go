package session

import (
	"time"

	"github.com/danmuck/deskwire/internal/protocol/wire"
)

// BackoffConfig defines redial backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines per-session reliability defaults. ReadTimeout is off by
// default; desktop sessions idle legitimately, so only transport close
// ends an established session.
type Config struct {
	Name             string
	Limits           wire.Limits
	SendQueueDepth   int
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	Backoff          BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Limits:           wire.DefaultLimits(),
		SendQueueDepth:   64,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     15 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.Limits.MaxVariableLen == 0 {
		c.Limits.MaxVariableLen = wire.DefaultLimits().MaxVariableLen
	}
	if c.SendQueueDepth <= 0 {
		c.SendQueueDepth = 64
	}
	return c
}
