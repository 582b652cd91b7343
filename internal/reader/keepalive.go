package reader

import (
	"github.com/danmuck/rfidctl/internal/observability"
)

// armKeepaliveLocked replaces the pending probe timer. Callers hold s.mu.
func (s *Session) armKeepaliveLocked() {
	if s.keepalive != nil {
		s.keepalive.Stop()
	}
	s.keepalive = s.clock.AfterFunc(s.cfg.KeepaliveInterval, s.probe)
}

// probe sends an empty command. Any failure takes the same close path as
// every other I/O error, so observers see a single disconnect signal.
func (s *Session) probe() {
	if s.State() != StateReady {
		return
	}
	if _, err := s.exchange(""); err != nil {
		observability.RecordKeepalive(false)
		s.log.Warn().Msgf("reader.Session keepalive failed addr=%q err=%v", s.Address(), err)
		s.Close()
		return
	}
	observability.RecordKeepalive(true)
	s.log.Debug().Msg("reader.Session keepalive ok")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}
	s.touchLocked()
	s.armKeepaliveLocked()
}
