// Package session owns the duplex request/response engine layered on a
// frame.Transport.
//
// Ownership boundary:
// - one-shot connect/attach lifecycle
// - the pending-operation slot that serializes every socket exchange
// - the receive hook that sees every batch before flow control
// - one-shot disconnect notification on Close
// - retry delay primitives consumed by supervisors
//
// A Duplex never retries. Transport failures close it, which fires the
// disconnect notification exactly once.
package session
