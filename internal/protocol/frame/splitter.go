package frame

import (
	"bytes"
	"errors"
)

// MaxPendingBytes bounds how much unterminated data a Splitter holds.
const MaxPendingBytes = 1 << 20

var ErrMessageTooLarge = errors.New("frame: pending message too large")

// Splitter accumulates raw reads and cuts them into messages. Every byte
// found in the terminator set ends exactly one message, so two adjacent
// terminators yield an empty message.
type Splitter struct {
	pending []byte
	limit   int
}

func NewSplitter(limit int) *Splitter {
	if limit <= 0 {
		limit = MaxPendingBytes
	}
	return &Splitter{limit: limit}
}

// Feed appends raw bytes read from the peer.
func (s *Splitter) Feed(b []byte) {
	s.pending = append(s.pending, b...)
}

// Split removes and returns every complete message in the buffer. The
// returned slice is empty (not nil) when no terminator has arrived yet.
func (s *Splitter) Split(terminators string) ([]string, error) {
	out := []string{}
	set := []byte(terminators)
	start := 0
	for i, c := range s.pending {
		if bytes.IndexByte(set, c) < 0 {
			continue
		}
		out = append(out, string(s.pending[start:i]))
		start = i + 1
	}
	if start > 0 {
		rest := copy(s.pending, s.pending[start:])
		s.pending = s.pending[:rest]
	}
	if len(s.pending) > s.limit {
		return out, ErrMessageTooLarge
	}
	return out, nil
}

// Buffered reports the number of bytes waiting for a terminator.
func (s *Splitter) Buffered() int {
	return len(s.pending)
}

func (s *Splitter) Reset() {
	s.pending = nil
}
