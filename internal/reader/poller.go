package reader

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/rfidctl/internal/clock"
	"github.com/danmuck/rfidctl/internal/observability"
	"github.com/rs/zerolog"
)

const (
	sourcePoll   = "poll"
	sourceStream = "stream"
)

// Poller issues TagList back to back while running and forwards each line
// to a Sink. A command error ends the loop.
type Poller struct {
	api   *API
	sink  Sink
	clock clock.Clock
	log   zerolog.Logger

	running atomic.Bool
	done    chan struct{}
	errMu   sync.Mutex
	err     error
}

// NewPoller starts polling immediately.
func NewPoller(api *API, sink Sink, c clock.Clock, logger zerolog.Logger) *Poller {
	p := &Poller{
		api:   api,
		sink:  sink,
		clock: c,
		log:   logger.With().Str("component", "reader.Poller").Logger(),
		done:  make(chan struct{}),
	}
	p.running.Store(true)
	p.log.Info().Msg("reader.Poller starting")
	go p.loop()
	return p
}

func (p *Poller) loop() {
	defer close(p.done)
	for p.running.Load() {
		list, err := p.api.TagList()
		if err != nil {
			if p.running.Load() && !errors.Is(err, ErrClosed) {
				p.log.Error().Msgf("reader.Poller taglist err=%v", err)
			}
			p.setErr(err)
			return
		}
		now := p.clock.Now()
		for _, line := range strings.FieldsFunc(list, isLineBreak) {
			dispatchLine(p.sink, sourcePoll, line, now)
		}
	}
	p.log.Debug().Msg("reader.Poller stopped")
}

// Close clears the run flag. An in-flight TagList is allowed to finish.
func (p *Poller) Close() error {
	p.running.Store(false)
	return nil
}

// Done is closed when the poll loop exits.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Err reports the command error that ended the loop, if any.
func (p *Poller) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Poller) setErr(err error) {
	p.errMu.Lock()
	p.err = err
	p.errMu.Unlock()
}

func isLineBreak(r rune) bool {
	return r == '\r' || r == '\n'
}

func dispatchLine(sink Sink, source, line string, now time.Time) {
	kind, t := ClassifyLine(line, now)
	observability.RecordTagLine(source, kind.String())
	switch kind {
	case LineTag:
		sink.tag(t)
	case LineUnparsed:
		sink.unparsed(line)
	}
}
