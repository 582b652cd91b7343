package session

import (
	"errors"
	"fmt"
	"time"
)

// Unbounded disables the receive guard for passive listeners that may sit
// idle indefinitely.
const Unbounded time.Duration = -1

var ErrInvalidConfig = errors.New("session: invalid config")

// Config defines transport/session timeout defaults.
type Config struct {
	ConnectTimeout time.Duration
	ReceiveTimeout time.Duration
}

// DefaultConfig returns the reader appliance defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		ReceiveTimeout: 3 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = def.ReceiveTimeout
	}
	return c
}

func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
	}
	if c.ReceiveTimeout <= 0 && c.ReceiveTimeout != Unbounded {
		return fmt.Errorf("%w: receive timeout must be positive or Unbounded", ErrInvalidConfig)
	}
	return nil
}
