package reader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/rfidctl/internal/clock"
	"github.com/danmuck/rfidctl/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// tagProducer is a background source of tag events attached to a session.
type tagProducer interface {
	Close() error
}

// Session is one logged-in connection to a reader's command port.
type Session struct {
	cfg    Config
	clock  clock.Clock
	log    zerolog.Logger
	duplex *session.Duplex
	api    *API

	mu            sync.Mutex
	state         State
	address       string
	lastKeepalive time.Time
	keepalive     clock.Timer
	producer      tagProducer
}

type Option func(*Session)

func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// New validates cfg and builds an unconnected session. Configuration
// problems are reported here, before any I/O.
func New(cfg Config, opts ...Option) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:   cfg,
		clock: clock.Real(),
		log:   log.Logger,
		state: StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.duplex = session.NewDuplex(cfg.Session, ResponseTerminators,
		session.WithReceiveHook(s.onReceive),
		session.WithLogger(s.log),
	)
	s.log = s.log.With().Str("component", "reader.Session").Str("session_id", s.duplex.ID()).Logger()
	s.api = NewAPI(s.SendReceive)
	s.duplex.OnDisconnect(s.Close)
	return s, nil
}

func (s *Session) ID() string {
	return s.duplex.ID()
}

// API returns the typed command facade bound to this session.
func (s *Session) API() *API {
	return s.api
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastKeepalive is the time of the most recent evidence that the reader is alive.
func (s *Session) LastKeepalive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKeepalive
}

func (s *Session) Connected() bool {
	return s.State() == StateReady && s.duplex.Connected()
}

// Address is the reader endpoint passed to ConnectAndLogin.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// OnDisconnect registers fn to run once when the session closes for any
// reason. It reports false if the session is already closed.
func (s *Session) OnDisconnect(fn func()) bool {
	return s.duplex.OnDisconnect(fn)
}

// ConnectAndLogin dials the reader, validates the welcome banner and logs
// in. Any failure closes the session.
func (s *Session) ConnectAndLogin(ctx context.Context, address, username, password string) error {
	if err := s.begin(address); err != nil {
		return err
	}
	s.log.Info().Msgf("reader.Session connect addr=%q user=%q", address, username)
	if err := s.duplex.Connect(ctx, address, s.cfg.Session.ConnectTimeout); err != nil {
		s.Close()
		return err
	}
	return s.handshake(ctx, username, password)
}

// LoginWithConn runs the same handshake over an already connected socket.
func (s *Session) LoginWithConn(ctx context.Context, conn net.Conn, username, password string) error {
	if conn == nil {
		return fmt.Errorf("%w: nil connection", ErrConfiguration)
	}
	if err := s.begin(conn.RemoteAddr().String()); err != nil {
		return err
	}
	if err := s.duplex.Attach(conn); err != nil {
		s.Close()
		return err
	}
	return s.handshake(ctx, username, password)
}

func (s *Session) begin(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDisconnected:
	case StateClosed:
		return ErrClosed
	default:
		return ErrAlreadyStarted
	}
	s.address = address
	s.state = StateAwaitingWelcome
	return nil
}

func (s *Session) handshake(ctx context.Context, username, password string) error {
	if err := s.handshakeSteps(ctx, username, password); err != nil {
		s.log.Warn().Msgf("reader.Session login addr=%q err=%v", s.Address(), err)
		s.Close()
		return err
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = StateReady
	s.lastKeepalive = s.clock.Now()
	s.armKeepaliveLocked()
	s.mu.Unlock()
	s.log.Info().Msgf("reader.Session ready addr=%q", s.Address())
	return nil
}

func (s *Session) handshakeSteps(ctx context.Context, username, password string) error {
	welcome, err := s.duplex.ReceiveOnly(WelcomeTerminators)
	if err != nil {
		return err
	}
	if len(welcome) != 1 || !strings.HasSuffix(welcome[0], WelcomeSuffix) {
		return &UnexpectedWelcomeError{Received: welcome}
	}
	s.log.Debug().Msg("reader.Session welcome received")

	steps := []struct {
		state State
		value string
	}{
		{StateLoginUsername, username},
		{StateLoginPassword, password},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.advance(step.state) {
			return ErrClosed
		}
		resp, err := s.exchange(step.value)
		if err != nil {
			return err
		}
		if resp != "" {
			return &LoginFailedError{Message: resp}
		}
	}
	return nil
}

func (s *Session) advance(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = next
	return true
}

// SendReceive frames command, sends it and returns the reader's reply with
// trailing line terminators removed. An empty command is a keepalive probe.
func (s *Session) SendReceive(command string) (string, error) {
	switch st := s.State(); st {
	case StateReady:
	case StateClosed:
		return "", ErrClosed
	default:
		return "", fmt.Errorf("%w: state=%s", ErrNotReady, st)
	}
	return s.exchange(command)
}

func (s *Session) exchange(command string) (string, error) {
	batch, err := s.duplex.SendReceive(CommandPrefix+command+LineTerminator, "")
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			return "", fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return "", err
	}
	return strings.TrimRight(strings.Join(batch, ResponseTerminators), "\r\n"), nil
}

// onReceive runs inside the duplex slot for every batch, empty or not.
func (s *Session) onReceive(_ []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}
	s.touchLocked()
	s.armKeepaliveLocked()
}

func (s *Session) touchLocked() {
	now := s.clock.Now()
	if now.After(s.lastKeepalive) {
		s.lastKeepalive = now
	}
}

// Close tears the session down. It is idempotent and safe to call from any
// goroutine, including the session's own disconnect callbacks.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	if s.keepalive != nil {
		s.keepalive.Stop()
		s.keepalive = nil
	}
	producer := s.producer
	s.producer = nil
	s.mu.Unlock()

	s.log.Info().Msg("reader.Session closing")
	if producer != nil {
		_ = producer.Close()
	}
	s.duplex.Close()
}

// attach installs p as the session's tag producer, closing any previous one.
func (s *Session) attach(p tagProducer) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = p.Close()
		return ErrClosed
	}
	prev := s.producer
	s.producer = p
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

func (s *Session) detachPrevious() {
	s.mu.Lock()
	prev := s.producer
	s.producer = nil
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

func (s *Session) localIP() net.IP {
	addr, ok := s.duplex.LocalAddr().(*net.TCPAddr)
	if !ok || addr == nil {
		return nil
	}
	return addr.IP
}
