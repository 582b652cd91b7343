package reader

import (
	"fmt"
	"time"

	"github.com/danmuck/rfidctl/internal/protocol/session"
)

const (
	DefaultKeepaliveInterval = time.Second
	DefaultReceiveTimeout    = 3 * time.Second
	MinKeepaliveInterval     = 500 * time.Millisecond
	MaxKeepaliveInterval     = 60 * time.Second
)

// Config bounds one reader session.
type Config struct {
	Session           session.Config
	KeepaliveInterval time.Duration
}

func DefaultConfig() Config {
	cfg := session.DefaultConfig()
	cfg.ReceiveTimeout = DefaultReceiveTimeout
	return Config{
		Session:           cfg,
		KeepaliveInterval: DefaultKeepaliveInterval,
	}
}

func (c Config) WithDefaults() Config {
	c.Session = c.Session.WithDefaults()
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	return c
}

// Validate rejects keepalive settings that could never detect a dead peer
// before the receive guard does.
func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if c.Session.ReceiveTimeout == session.Unbounded {
		return fmt.Errorf("%w: receive timeout must be bounded", ErrConfiguration)
	}
	if c.KeepaliveInterval < MinKeepaliveInterval || c.KeepaliveInterval > MaxKeepaliveInterval {
		return fmt.Errorf("%w: keepalive interval %s outside [%s, %s]",
			ErrConfiguration, c.KeepaliveInterval, MinKeepaliveInterval, MaxKeepaliveInterval)
	}
	if c.KeepaliveInterval >= c.Session.ReceiveTimeout {
		return fmt.Errorf("%w: keepalive interval %s must be less than receive timeout %s",
			ErrConfiguration, c.KeepaliveInterval, c.Session.ReceiveTimeout)
	}
	return nil
}
