package reader

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/danmuck/rfidctl/internal/clock"
	"github.com/danmuck/rfidctl/internal/protocol/frame"
	"github.com/danmuck/rfidctl/internal/protocol/session"
	"github.com/rs/zerolog"
)

// StreamListener accepts the reader's outbound tag-stream connections and
// decodes every pushed line.
type StreamListener struct {
	ln    net.Listener
	sink  Sink
	clock clock.Clock
	log   zerolog.Logger

	mu      sync.Mutex
	streams map[*session.Duplex]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// ListenTagStream binds addr and starts accepting. Use Addr for the bound endpoint.
func ListenTagStream(addr string, sink Sink, c clock.Clock, logger zerolog.Logger) (*StreamListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("reader: tag stream listen %s: %w", addr, err)
	}
	if c == nil {
		c = clock.Real()
	}
	l := &StreamListener{
		ln:      ln,
		sink:    sink,
		clock:   c,
		log:     logger.With().Str("component", "reader.StreamListener").Logger(),
		streams: make(map[*session.Duplex]struct{}),
	}
	l.log.Info().Msgf("reader.StreamListener listening addr=%s", ln.Addr())
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *StreamListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *StreamListener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.log.Warn().Msgf("reader.StreamListener accept err=%v", err)
			}
			l.Close()
			return
		}
		l.log.Debug().Msgf("reader.StreamListener accepted remote=%s", conn.RemoteAddr())

		d := session.NewDuplex(session.Config{ReceiveTimeout: session.Unbounded}, StreamTerminators,
			session.WithLogger(l.log))
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		l.streams[d] = struct{}{}
		l.mu.Unlock()

		if err := d.Attach(conn); err != nil {
			l.log.Warn().Msgf("reader.StreamListener attach err=%v", err)
			l.forget(d)
			continue
		}
		if !d.OnDisconnect(func() { l.forget(d) }) {
			l.forget(d)
			continue
		}
		l.wg.Add(1)
		go l.receiveLoop(d)
	}
}

func (l *StreamListener) receiveLoop(d *session.Duplex) {
	defer l.wg.Done()
	for {
		batch, err := d.ReceiveOnly("")
		if err != nil {
			if !errors.Is(err, session.ErrClosed) && !errors.Is(err, frame.ErrConnectionLost) {
				l.log.Warn().Msgf("reader.StreamListener receive err=%v", err)
			}
			return
		}
		now := l.clock.Now()
		for _, line := range batch {
			dispatchLine(l.sink, sourceStream, line, now)
		}
	}
}

func (l *StreamListener) forget(d *session.Duplex) {
	l.mu.Lock()
	delete(l.streams, d)
	l.mu.Unlock()
	d.Close()
}

// Streams reports the number of connected reader streams.
func (l *StreamListener) Streams() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.streams)
}

// Close stops accepting and disconnects every stream. It is idempotent.
func (l *StreamListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	streams := l.streams
	l.streams = make(map[*session.Duplex]struct{})
	l.mu.Unlock()

	err := l.ln.Close()
	for d := range streams {
		d.Close()
	}
	l.log.Info().Msg("reader.StreamListener closed")
	return err
}

// Wait blocks until the accept loop and every receive loop have exited.
func (l *StreamListener) Wait() {
	l.wg.Wait()
}
