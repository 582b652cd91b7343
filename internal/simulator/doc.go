// Package simulator is an in-process stand-in for the reader appliance's
// command port. It speaks the prompt-less login and property protocol,
// answers keepalive probes unless told not to, and can push a tag stream
// back to a client listener.
package simulator
