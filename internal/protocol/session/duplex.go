package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/rfidctl/internal/observability"
	"github.com/danmuck/rfidctl/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyConnected = errors.New("session: already connected")
	ErrClosed           = errors.New("session: closed")
	ErrNotConnected     = errors.New("session: not connected")
)

const (
	kindSendReceive = "send_receive"
	kindReceive     = "receive"
	kindSend        = "send"
)

// ReceiveHook observes every decoded batch, including empty ones, before
// the receive loop decides whether to return it.
type ReceiveHook func(batch []string)

// Duplex serializes command/response exchanges over one frame.Transport.
// Every exchange, foreground or background, holds the same slot for the
// whole send-then-receive, so socket reads and writes never interleave.
type Duplex struct {
	cfg         Config
	terminators string
	hook        ReceiveHook
	id          string
	log         zerolog.Logger

	slot sync.Mutex

	mu           sync.Mutex
	transport    *frame.Transport
	reserved     bool
	closed       bool
	onDisconnect []func()
}

type Option func(*Duplex)

func WithReceiveHook(h ReceiveHook) Option {
	return func(d *Duplex) {
		d.hook = h
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Duplex) {
		d.log = l
	}
}

// NewDuplex builds an unconnected session whose receives stop at any byte
// of terminators unless a call overrides the set.
func NewDuplex(cfg Config, terminators string, opts ...Option) *Duplex {
	d := &Duplex{
		cfg:         cfg.WithDefaults(),
		terminators: terminators,
		id:          uuid.NewString(),
		log:         log.Logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With().Str("component", "session.Duplex").Str("session_id", d.id).Logger()
	return d
}

func (d *Duplex) ID() string {
	return d.id
}

// Connect dials address and installs the transport. It may be called once.
func (d *Duplex) Connect(ctx context.Context, address string, timeout time.Duration) error {
	if err := d.reserve(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = d.cfg.ConnectTimeout
	}
	d.log.Info().Msgf("session.Duplex connect addr=%q timeout=%s", address, timeout)

	d.slot.Lock()
	defer d.slot.Unlock()

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		d.log.Warn().Msgf("session.Duplex dial addr=%q err=%v", address, err)
		return fmt.Errorf("%w: dial %s: %w", frame.ErrConnectionLost, address, err)
	}
	return d.install(conn)
}

// Attach installs an already accepted socket. It may be called once and
// is mutually exclusive with Connect.
func (d *Duplex) Attach(conn net.Conn) error {
	if conn == nil {
		return frame.ErrNilConn
	}
	if err := d.reserve(); err != nil {
		return err
	}
	d.log.Info().Msgf("session.Duplex attach remote=%s", conn.RemoteAddr())
	return d.install(conn)
}

func (d *Duplex) reserve() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.reserved {
		return ErrAlreadyConnected
	}
	d.reserved = true
	return nil
}

func (d *Duplex) install(conn net.Conn) error {
	receiveTimeout := d.cfg.ReceiveTimeout
	if receiveTimeout == Unbounded {
		receiveTimeout = 0
	}
	t, err := frame.New(conn, receiveTimeout, frame.WithLogger(d.log))
	if err != nil {
		_ = conn.Close()
		return err
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = t.Close()
		return ErrClosed
	}
	d.transport = t
	d.mu.Unlock()
	return nil
}

// SendReceive writes payload and waits for the next non-empty batch. An
// empty override uses the session's terminator set.
func (d *Duplex) SendReceive(payload, terminators string) ([]string, error) {
	start := time.Now()
	d.slot.Lock()
	defer d.slot.Unlock()

	t, err := d.current()
	if err == nil {
		err = d.send(t, payload)
	}
	var batch []string
	if err == nil {
		batch, err = d.receive(t, terminators)
	}
	observability.RecordExchange(kindSendReceive, err == nil, time.Since(start))
	return batch, err
}

// ReceiveOnly waits for the next non-empty batch without sending.
func (d *Duplex) ReceiveOnly(terminators string) ([]string, error) {
	start := time.Now()
	d.slot.Lock()
	defer d.slot.Unlock()

	t, err := d.current()
	var batch []string
	if err == nil {
		batch, err = d.receive(t, terminators)
	}
	observability.RecordExchange(kindReceive, err == nil, time.Since(start))
	return batch, err
}

// SendOnly writes payload without waiting for a reply.
func (d *Duplex) SendOnly(payload string) error {
	start := time.Now()
	d.slot.Lock()
	defer d.slot.Unlock()

	t, err := d.current()
	if err == nil {
		err = d.send(t, payload)
	}
	observability.RecordExchange(kindSend, err == nil, time.Since(start))
	return err
}

func (d *Duplex) current() (*frame.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if d.transport == nil {
		return nil, ErrNotConnected
	}
	return d.transport, nil
}

func (d *Duplex) send(t *frame.Transport, payload string) error {
	if err := t.Send(payload); err != nil {
		d.lost(err)
		return err
	}
	return nil
}

func (d *Duplex) receive(t *frame.Transport, terminators string) ([]string, error) {
	if terminators == "" {
		terminators = d.terminators
	}
	for {
		batch, err := t.Receive(terminators)
		if err != nil {
			d.lost(err)
			return nil, err
		}
		if d.hook != nil {
			d.hook(batch)
		}
		if len(batch) > 0 {
			return batch, nil
		}
	}
}

func (d *Duplex) lost(err error) {
	if errors.Is(err, frame.ErrConnectionLost) {
		d.log.Warn().Msgf("session.Duplex connection lost err=%v", err)
		d.Close()
	}
}

// Connected reports whether a live transport is installed.
func (d *Duplex) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && d.transport != nil && d.transport.Connected()
}

// LocalAddr returns the local socket address, or nil before connect.
func (d *Duplex) LocalAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transport == nil {
		return nil
	}
	return d.transport.LocalAddr()
}

// OnDisconnect registers fn to run once when the session closes. It
// reports false, without registering, if the session is already closed.
func (d *Duplex) OnDisconnect(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.onDisconnect = append(d.onDisconnect, fn)
	return true
}

// Close tears the session down. It is idempotent and safe to call from a
// disconnect callback or from a goroutine blocked in an exchange.
func (d *Duplex) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	t := d.transport
	callbacks := d.onDisconnect
	d.onDisconnect = nil
	d.mu.Unlock()

	d.log.Info().Msg("session.Duplex closing")
	if t != nil {
		_ = t.Close()
	}
	for _, fn := range callbacks {
		fn()
	}
}
