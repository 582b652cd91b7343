// Package clock abstracts the timer primitives used by keepalive probing and
// reconnect scheduling so they can be driven deterministically in tests.
package clock

import "time"

// Clock provides the current time and one-shot cancellable callbacks.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f once d has elapsed. Real runs f in its own
	// goroutine; Fake runs it on the goroutine calling Advance, so a
	// blocking f holds Advance until it returns.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback. Stop reports whether the call prevented
// the callback from running.
type Timer interface {
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
