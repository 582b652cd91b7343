package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/rfidctl/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Pusher is the reader side of a tag stream: it dials the client's stream
// listener and writes terminated lines.
type Pusher struct {
	duplex *session.Duplex
}

// DialStream connects to a tag stream listener at addr.
func DialStream(addr string, timeout time.Duration, logger zerolog.Logger) (*Pusher, error) {
	d := session.NewDuplex(session.Config{ConnectTimeout: timeout, ReceiveTimeout: timeout}, replyTerminator,
		session.WithLogger(logger))
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.Connect(ctx, addr, timeout); err != nil {
		d.Close()
		return nil, err
	}
	return &Pusher{duplex: d}, nil
}

// Push sends one line followed by the stream terminators.
func (p *Pusher) Push(line string) error {
	return p.duplex.SendOnly(line + streamLineEnd)
}

func (p *Pusher) Connected() bool {
	return p.duplex.Connected()
}

func (p *Pusher) Close() {
	p.duplex.Close()
}

func formatTag(id string, lastSeenMillis int64) string {
	return fmt.Sprintf("%s, %d, %d, %d", id, 0, 1, lastSeenMillis)
}
