// Package supervisor keeps one logical reader session alive across physical
// disconnects, reconnecting after a delay and replaying post-connect setup.
package supervisor

import (
	"context"
	"sync"

	"github.com/danmuck/rfidctl/internal/clock"
	"github.com/danmuck/rfidctl/internal/events"
	"github.com/danmuck/rfidctl/internal/observability"
	"github.com/danmuck/rfidctl/internal/reader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Supervisor struct {
	cfg   Config
	clock clock.Clock
	log   zerolog.Logger

	status   *events.Feed[Status]
	tags     *events.Feed[reader.Tag]
	unparsed *events.Feed[string]

	ctx    context.Context
	cancel context.CancelFunc

	// connecting serializes connect attempts; mu guards the fields below.
	connecting sync.Mutex
	mu         sync.Mutex
	current    *reader.Session
	timer      clock.Timer
	attempts   int
	last       Status
	started    bool
	closed     bool
}

type Option func(*Supervisor)

func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) {
		s.clock = c
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Supervisor) {
		s.log = l
	}
}

// New validates cfg. Configuration errors surface here and are never retried.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:      cfg,
		clock:    clock.Real(),
		log:      log.Logger,
		status:   events.NewFeed[Status](),
		tags:     events.NewFeed[reader.Tag](),
		unparsed: events.NewFeed[string](),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "supervisor.Supervisor").Str("address", cfg.Address).Logger()
	return s, nil
}

// Start triggers the first connect attempt in the background.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrStarted
	}
	s.started = true
	go s.connect()
	return nil
}

func (s *Supervisor) SubscribeStatus() *events.Subscription[Status] {
	return s.status.Subscribe()
}

func (s *Supervisor) SubscribeTags() *events.Subscription[reader.Tag] {
	return s.tags.Subscribe()
}

func (s *Supervisor) SubscribeUnparsed() *events.Subscription[string] {
	return s.unparsed.Subscribe()
}

// Current returns the live session, or nil while disconnected.
func (s *Supervisor) Current() *reader.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Supervisor) Connected() bool {
	cur := s.Current()
	return cur != nil && cur.Connected()
}

// LastStatus returns the most recent status event.
func (s *Supervisor) LastStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Supervisor) Address() string {
	return s.cfg.Address
}

// connect replaces any previous session with a freshly logged-in one. It runs
// from Start and from the reconnect timer, never concurrently with itself.
func (s *Supervisor) connect() {
	s.connecting.Lock()
	defer s.connecting.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	prev := s.current
	s.current = nil
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	s.log.Info().Msgf("supervisor.Supervisor connect attempt=%d", attempt)

	sess, err := s.establish()
	if err != nil {
		s.log.Warn().Msgf("supervisor.Supervisor connect attempt=%d err=%v", attempt, err)
		s.publish(StatusFailedToConnect, err)
		s.schedule()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.Close()
		return
	}
	s.current = sess
	s.attempts = 0
	s.mu.Unlock()

	if !sess.OnDisconnect(func() { s.onDisconnect(sess) }) {
		s.onDisconnect(sess)
		return
	}
	s.log.Info().Msgf("supervisor.Supervisor connected session_id=%s", sess.ID())
	s.publish(StatusConnected, nil)

	if s.cfg.OnConnected == nil {
		return
	}
	if err := s.cfg.OnConnected(s.ctx, sess.API()); err != nil {
		s.log.Warn().Msgf("supervisor.Supervisor on-connected hook err=%v", err)
		s.publish(StatusFailedToConnect, err)
	}
}

func (s *Supervisor) establish() (*reader.Session, error) {
	sess, err := reader.New(s.cfg.Reader, reader.WithClock(s.clock), reader.WithLogger(s.log))
	if err != nil {
		return nil, err
	}
	if err := sess.ConnectAndLogin(s.ctx, s.cfg.Address, s.cfg.Username, s.cfg.Password); err != nil {
		return nil, err
	}
	sink := reader.Sink{
		Tag:      func(t reader.Tag) { s.tags.Publish(t) },
		Unparsed: func(line string) { s.unparsed.Publish(line) },
	}
	switch s.cfg.Delivery {
	case DeliveryPoll:
		_, err = sess.StartTagPolling(s.ctx, sink)
	case DeliveryStream:
		_, err = sess.StartTagStream(s.ctx, sink, s.cfg.StreamListenAddr)
	}
	if err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

func (s *Supervisor) onDisconnect(sess *reader.Session) {
	s.mu.Lock()
	if s.closed || s.current != sess {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.mu.Unlock()

	s.log.Warn().Msgf("supervisor.Supervisor disconnected session_id=%s", sess.ID())
	s.publish(StatusDisconnected, nil)
	s.schedule()
}

// schedule arms the single reconnect timer, replacing any pending one.
func (s *Supervisor) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	delay := s.cfg.Reconnect.Delay(s.attempts, nil)
	s.log.Debug().Msgf("supervisor.Supervisor reconnect in=%s", delay)
	s.timer = s.clock.AfterFunc(delay, s.connect)
}

func (s *Supervisor) publish(kind StatusKind, err error) {
	st := Status{Kind: kind, Err: err, Address: s.cfg.Address, At: s.clock.Now()}
	s.mu.Lock()
	s.last = st
	s.mu.Unlock()
	observability.RecordConnectionEvent(kind.String())
	s.status.Publish(st)
}

// Close cancels any pending reconnect, completes every feed and closes the
// current session. It is idempotent.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	s.log.Info().Msg("supervisor.Supervisor closing")
	s.cancel()
	if cur != nil {
		cur.Close()
	}
	s.tags.Close()
	s.unparsed.Close()
	s.status.Close()
}
