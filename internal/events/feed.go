// Package events provides the broadcast feeds used for connection status,
// tag sightings and diagnostics. Publishing never blocks: every subscriber
// owns an unbounded queue drained by its own goroutine.
package events

import "sync"

// Feed fans every published value out to all current subscribers. Close
// completes the feed: queued values are still delivered, then each
// subscriber's channel is closed and further publishes are dropped.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscription receives values published after it was created.
type Subscription[T any] struct {
	feed *Feed[T]
	out  chan T
	done chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []T
	complete bool
	dropped  bool
	stopOnce sync.Once
}

func (f *Feed[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		feed: f,
		out:  make(chan T),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(s.out)
		return s
	}
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	go s.pump()
	return s
}

// Publish queues v for every subscriber. It reports false once the feed is closed.
func (f *Feed[T]) Publish(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	for s := range f.subs {
		s.push(v)
	}
	return true
}

// Close completes the feed. It is idempotent.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	for s := range subs {
		s.finish()
	}
}

// Subscribers reports the number of live subscriptions.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// C delivers published values in order and is closed on completion or Unsubscribe.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Unsubscribe detaches from the feed and drops anything still queued.
func (s *Subscription[T]) Unsubscribe() {
	s.feed.mu.Lock()
	if s.feed.subs != nil {
		delete(s.feed.subs, s)
	}
	s.feed.mu.Unlock()

	s.mu.Lock()
	s.dropped = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Subscription[T]) finish() {
	s.mu.Lock()
	s.complete = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.complete && !s.dropped {
			s.cond.Wait()
		}
		if s.dropped || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
