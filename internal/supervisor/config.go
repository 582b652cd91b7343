package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/rfidctl/internal/protocol/session"
	"github.com/danmuck/rfidctl/internal/reader"
)

const DefaultReconnectDelay = 2 * time.Second

var (
	ErrConfiguration = errors.New("supervisor: invalid configuration")
	ErrClosed        = errors.New("supervisor: closed")
	ErrStarted       = errors.New("supervisor: already started")
)

// Delivery selects how tags flow from the reader once logged in.
type Delivery string

const (
	DeliveryPoll   Delivery = "poll"
	DeliveryStream Delivery = "stream"
	DeliveryNone   Delivery = "none"
)

// ConnectedHook runs after every successful login. Its error is reported on
// the status feed and never tears the session down.
type ConnectedHook func(ctx context.Context, api *reader.API) error

type Config struct {
	Address  string
	Username string
	Password string

	Reader    reader.Config
	Reconnect session.BackoffConfig

	Delivery Delivery
	// StreamListenAddr is where the tag stream listener binds. Empty picks an
	// ephemeral port on the command connection's local address.
	StreamListenAddr string

	OnConnected ConnectedHook
}

func (c Config) WithDefaults() Config {
	c.Reader = c.Reader.WithDefaults()
	if c.Reconnect == (session.BackoffConfig{}) {
		c.Reconnect = session.FixedBackoff(DefaultReconnectDelay)
	}
	if c.Delivery == "" {
		c.Delivery = DeliveryPoll
	}
	return c
}

func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address is required", ErrConfiguration)
	}
	if err := c.Reader.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := c.Reconnect.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	switch c.Delivery {
	case DeliveryPoll, DeliveryStream, DeliveryNone:
	default:
		return fmt.Errorf("%w: unknown delivery mode %q", ErrConfiguration, c.Delivery)
	}
	return nil
}
