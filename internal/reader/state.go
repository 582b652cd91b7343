package reader

// State is the login/lifecycle position of a Session.
type State int

const (
	StateDisconnected State = iota
	StateAwaitingWelcome
	StateLoginUsername
	StateLoginPassword
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingWelcome:
		return "awaiting_welcome"
	case StateLoginUsername:
		return "login_username"
	case StateLoginPassword:
		return "login_password"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
