// Package frame owns the terminator-delimited byte transport.
//
// Ownership boundary:
// - one connected socket per Transport
// - partial-read buffering and message splitting
// - per-operation deadlines that force-close the socket on expiry
//
// A Transport never retries. Every failure closes the socket and surfaces
// ErrConnectionLost to the caller.
package frame
