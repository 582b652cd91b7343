package frame

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const readChunk = 4096

var (
	ErrConnectionLost = errors.New("frame: connection lost")
	ErrNilConn        = errors.New("frame: nil connection")
	ErrNoTerminators  = errors.New("frame: empty terminator set")
)

// Transport owns one connected socket and turns its byte stream into
// terminator-delimited messages. Send and Receive are serialized; Close may
// be called from any goroutine, including while another call is blocked.
type Transport struct {
	conn    net.Conn
	timeout time.Duration
	log     zerolog.Logger

	mu       sync.Mutex
	splitter *Splitter
	buf      []byte

	closed    atomic.Bool
	closeOnce sync.Once
}

type Option func(*Transport)

// WithLogger sets the parent logger; the transport adds its own component tag.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) {
		t.log = l.With().Str("component", "frame.Transport").Logger()
	}
}

// WithPendingLimit caps unterminated buffered bytes.
func WithPendingLimit(n int) Option {
	return func(t *Transport) {
		t.splitter = NewSplitter(n)
	}
}

// New wraps an already connected socket. A timeout <= 0 disables the
// per-operation guard.
func New(conn net.Conn, timeout time.Duration, opts ...Option) (*Transport, error) {
	if conn == nil {
		return nil, ErrNilConn
	}
	t := &Transport{
		conn:     conn,
		timeout:  timeout,
		log:      log.Logger.With().Str("component", "frame.Transport").Logger(),
		splitter: NewSplitter(MaxPendingBytes),
		buf:      make([]byte, readChunk),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log.Debug().Msgf("frame.Transport new remote=%s timeout=%s", remoteAddr(conn), timeout)
	return t, nil
}

// Send writes payload as raw ASCII bytes.
func (t *Transport) Send(payload string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return fmt.Errorf("%w: send on closed transport", ErrConnectionLost)
	}
	t.log.Debug().Msgf("frame.Transport send bytes=%d", len(payload))
	if err := t.conn.SetWriteDeadline(t.deadline()); err != nil {
		return t.fail("send deadline", err)
	}
	if _, err := io.WriteString(t.conn, payload); err != nil {
		return t.fail("send", err)
	}
	return nil
}

// Receive returns every complete message available for the given terminator
// set. Buffered messages are returned without touching the socket; otherwise
// one read is performed, which may complete zero, one or several messages.
func (t *Transport) Receive(terminators string) ([]string, error) {
	if terminators == "" {
		return nil, ErrNoTerminators
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return nil, fmt.Errorf("%w: receive on closed transport", ErrConnectionLost)
	}

	if msgs, err := t.splitter.Split(terminators); err != nil {
		return nil, t.fail("split", err)
	} else if len(msgs) > 0 {
		return msgs, nil
	}

	if err := t.conn.SetReadDeadline(t.deadline()); err != nil {
		return nil, t.fail("receive deadline", err)
	}
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		t.splitter.Feed(t.buf[:n])
	}
	if err != nil && n == 0 {
		return nil, t.fail("receive", err)
	}
	if n == 0 {
		return nil, t.fail("receive", io.EOF)
	}

	msgs, splitErr := t.splitter.Split(terminators)
	if splitErr != nil {
		return nil, t.fail("split", splitErr)
	}
	if err != nil {
		// data arrived together with the error; hand it over, the next call fails
		t.closeSocket()
	}
	t.log.Debug().Msgf("frame.Transport receive bytes=%d messages=%d buffered=%d", n, len(msgs), t.splitter.Buffered())
	return msgs, nil
}

// Connected reports whether the socket is still open. The answer is the
// transport's own flag; the socket is not polled. Any send or receive error,
// a missed deadline, an oversized message or Close sets it for good.
func (t *Transport) Connected() bool {
	return !t.closed.Load()
}

func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close force-closes the socket. It is idempotent.
func (t *Transport) Close() error {
	err := t.closeSocket()
	if t.mu.TryLock() {
		t.splitter.Reset()
		t.mu.Unlock()
	}
	return err
}

func (t *Transport) deadline() time.Time {
	if t.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(t.timeout)
}

func (t *Transport) fail(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.log.Warn().Msgf("frame.Transport %s timeout after=%s", op, t.timeout)
	} else if !t.closed.Load() {
		t.log.Warn().Msgf("frame.Transport %s err=%v", op, err)
	}
	t.closeSocket()
	t.splitter.Reset()
	return fmt.Errorf("%w: %s: %w", ErrConnectionLost, op, err)
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

func (t *Transport) closeSocket() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if hc, ok := t.conn.(halfCloser); ok {
			_ = hc.CloseRead()
			_ = hc.CloseWrite()
		}
		err = t.conn.Close()
		t.log.Debug().Msgf("frame.Transport closed remote=%s", remoteAddr(t.conn))
	})
	return err
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
