// Package reader implements the RFID reader appliance protocol on top of a
// session.Duplex.
//
// Ownership boundary:
// - welcome banner and username/password login
// - command framing and the typed command facade
// - keepalive probing and liveness bookkeeping
// - tag delivery modes (pull polling, push streaming)
//
// Lifecycle order:
// - Disconnected -> AwaitingWelcome -> LoginUsername -> LoginPassword -> Ready -> Closed
//
// - commands are rejected outside Ready.
//
// - Close cascades to the tag producer, the keepalive timer and the duplex session.
package reader
