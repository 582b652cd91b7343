package simulator

import (
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/rfidctl/internal/protocol/frame"
	"github.com/danmuck/rfidctl/internal/protocol/session"
	"github.com/danmuck/rfidctl/internal/reader"
	"github.com/rs/zerolog"
)

// Conn serves one accepted command-port client.
type Conn struct {
	logic  *Logic
	duplex *session.Duplex
	log    zerolog.Logger
	done   chan struct{}

	mu     sync.Mutex
	pusher *Pusher
}

func serve(conn net.Conn, logic *Logic, logger zerolog.Logger) (*Conn, error) {
	d := session.NewDuplex(session.Config{ReceiveTimeout: session.Unbounded}, commandTerminators,
		session.WithLogger(logger))
	if err := d.Attach(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c := &Conn{
		logic:  logic,
		duplex: d,
		log:    logger.With().Str("component", "simulator.Conn").Str("remote", conn.RemoteAddr().String()).Logger(),
		done:   make(chan struct{}),
	}
	d.OnDisconnect(c.stopPusher)
	go c.loop()
	return c, nil
}

func (c *Conn) Logic() *Logic {
	return c.logic
}

func (c *Conn) Connected() bool {
	return c.duplex.Connected()
}

// Done is closed when the command loop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() {
	c.duplex.Close()
}

func (c *Conn) loop() {
	defer close(c.done)
	defer c.duplex.Close()

	if err := c.duplex.SendOnly(Welcome + reader.WelcomeTerminators); err != nil {
		c.log.Debug().Msgf("simulator.Conn welcome err=%v", err)
		return
	}
	for {
		batch, err := c.duplex.ReceiveOnly("")
		if err != nil {
			if !errors.Is(err, session.ErrClosed) && !errors.Is(err, frame.ErrConnectionLost) {
				c.log.Warn().Msgf("simulator.Conn receive err=%v", err)
			}
			return
		}
		for _, line := range batch {
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			reply, respond, err := c.logic.Handle(line)
			if err != nil {
				c.log.Warn().Msgf("simulator.Conn command=%q err=%v", line, err)
				return
			}
			c.log.Debug().Msgf("simulator.Conn command=%q reply=%q respond=%t", line, reply, respond)
			if !respond {
				continue
			}
			if err := c.duplex.SendOnly(reply + replyTerminator); err != nil {
				return
			}
			c.maybeStartStream()
		}
	}
}

// maybeStartStream dials the configured stream address once tag stream mode
// is switched on.
func (c *Conn) maybeStartStream() {
	mode, _ := c.logic.Property("TagStreamMode")
	addr, ok := c.logic.Property("TagStreamAddress")
	if !strings.EqualFold(mode, "ON") || !ok {
		return
	}
	c.mu.Lock()
	if c.pusher != nil {
		c.mu.Unlock()
		return
	}
	p, err := DialStream(addr, time.Second, c.log)
	if err != nil {
		c.mu.Unlock()
		c.log.Warn().Msgf("simulator.Conn stream dial addr=%s err=%v", addr, err)
		return
	}
	c.pusher = p
	c.mu.Unlock()

	header, _ := c.logic.Property("StreamHeader")
	if strings.EqualFold(header, "ON") {
		_ = p.Push(StreamHeader)
	}
	_ = c.PushTags()
}

// PushTags sends the known tags over the active stream, if any.
func (c *Conn) PushTags() error {
	c.mu.Lock()
	p := c.pusher
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	for _, id := range KnownTags {
		if err := p.Push(formatTag(id, now)); err != nil {
			return err
		}
	}
	return nil
}

// Pusher returns the active stream client, or nil.
func (c *Conn) Pusher() *Pusher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pusher
}

func (c *Conn) stopPusher() {
	c.mu.Lock()
	p := c.pusher
	c.pusher = nil
	c.mu.Unlock()
	if p != nil {
		p.Close()
	}
}
