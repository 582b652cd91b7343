package simulator

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Listener accepts command-port clients. In single-client mode a new
// connection closes the previous one, as the appliance does.
type Listener struct {
	ln     net.Listener
	single bool
	log    zerolog.Logger

	mu        sync.Mutex
	clients   []*Conn
	latest    *Conn
	keepalive bool
	accepted  int
	closed    bool
	wg        sync.WaitGroup
}

type Option func(*Listener)

// WithSingleClient toggles closing the previous client on accept. Default true.
func WithSingleClient(single bool) Option {
	return func(l *Listener) {
		l.single = single
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Listener) {
		l.log = logger
	}
}

// Listen binds addr explicitly; use "127.0.0.1:0" for an ephemeral port.
func Listen(addr string, opts ...Option) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("simulator: listen %s: %w", addr, err)
	}
	l := &Listener{
		ln:        ln,
		single:    true,
		log:       log.Logger,
		keepalive: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With().Str("component", "simulator.Listener").Logger()
	l.log.Info().Msgf("simulator.Listener listening addr=%s single=%t", ln.Addr(), l.single)
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.log.Warn().Msgf("simulator.Listener accept err=%v", err)
			}
			return
		}
		l.log.Info().Msgf("simulator.Listener accepted remote=%s", conn.RemoteAddr())

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		var previous []*Conn
		if l.single {
			previous = l.clients
			l.clients = nil
		}
		logic := NewLogic()
		logic.SetKeepalive(l.keepalive)
		c, err := serve(conn, logic, l.log)
		if err == nil {
			l.clients = append(l.clients, c)
			l.latest = c
			l.accepted++
		}
		l.mu.Unlock()

		for _, p := range previous {
			l.log.Info().Msg("simulator.Listener closing previous connection")
			p.Close()
		}
		if err != nil {
			l.log.Warn().Msgf("simulator.Listener serve err=%v", err)
		}
	}
}

// Client returns the most recently accepted connection, or nil.
func (l *Listener) Client() *Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest
}

// Accepted counts connections accepted so far.
func (l *Listener) Accepted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepted
}

// SetKeepalive applies to current clients and to every later one.
func (l *Listener) SetKeepalive(enabled bool) {
	l.mu.Lock()
	l.keepalive = enabled
	clients := append([]*Conn(nil), l.clients...)
	l.mu.Unlock()
	for _, c := range clients {
		c.Logic().SetKeepalive(enabled)
	}
}

// DisconnectAll drops every client while continuing to accept.
func (l *Listener) DisconnectAll() {
	l.mu.Lock()
	clients := l.clients
	l.clients = nil
	l.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

// Close stops accepting and disconnects all clients. It is idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	clients := l.clients
	l.clients = nil
	l.mu.Unlock()

	err := l.ln.Close()
	for _, c := range clients {
		c.Close()
	}
	l.wg.Wait()
	return err
}
