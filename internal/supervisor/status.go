package supervisor

import "time"

type StatusKind int

const (
	StatusConnected StatusKind = iota + 1
	StatusDisconnected
	StatusFailedToConnect
)

func (k StatusKind) String() string {
	switch k {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusFailedToConnect:
		return "failed_to_connect"
	default:
		return "unknown"
	}
}

// Status is one connection-status event. Err is set only for FailedToConnect.
type Status struct {
	Kind    StatusKind
	Err     error
	Address string
	At      time.Time
}

func (s Status) Connected() bool {
	return s.Kind == StatusConnected
}
