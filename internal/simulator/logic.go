package simulator

import (
	"errors"
	"strings"
	"sync"

	"github.com/danmuck/rfidctl/internal/reader"
)

// ErrPromptMode is returned for commands sent without the no-prompt prefix.
var ErrPromptMode = errors.New("simulator: only prompt-less commands are supported")

type loginState int

const (
	waitForLogin loginState = iota
	waitForPassword
	loggedIn
)

// Logic is the per-connection command interpreter: login, a property store
// and a handful of actions.
type Logic struct {
	mu         sync.Mutex
	state      loginState
	login      string
	properties map[string]string
	keepalive  bool
}

func NewLogic() *Logic {
	return &Logic{
		properties: make(map[string]string),
		keepalive:  true,
	}
}

// SetKeepalive controls whether empty probes are answered.
func (l *Logic) SetKeepalive(enabled bool) {
	l.mu.Lock()
	l.keepalive = enabled
	l.mu.Unlock()
}

// LoggedIn reports whether the password step succeeded.
func (l *Logic) LoggedIn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == loggedIn
}

// Property returns a stored value by case-insensitive name.
func (l *Logic) Property(name string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.properties[strings.ToLower(name)]
	return v, ok
}

// Handle interprets one command line. respond is false when the reader
// stays silent, which is how a disabled keepalive looks on the wire.
func (l *Logic) Handle(command string) (reply string, respond bool, err error) {
	if !strings.HasPrefix(command, reader.CommandPrefix) {
		return "", false, ErrPromptMode
	}
	command = strings.TrimPrefix(command, reader.CommandPrefix)

	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case waitForLogin:
		l.login = command
		l.state = waitForPassword
		return "", true, nil
	case waitForPassword:
		if l.login != Username || command != Password {
			l.state = waitForLogin
			return reader.InvalidCredentials, true, nil
		}
		l.state = loggedIn
		return "", true, nil
	}

	command = strings.TrimSpace(command)
	switch {
	case strings.HasSuffix(command, "?"):
		return l.getLocked(strings.TrimSuffix(command, "?")), true, nil
	case strings.Contains(command, "="):
		return l.setLocked(command), true, nil
	default:
		return l.actionLocked(command)
	}
}

func (l *Logic) actionLocked(command string) (string, bool, error) {
	switch strings.ToLower(command) {
	case "":
		return "", l.keepalive, nil
	case "clear":
		return reader.TagListClearConfirmation, true, nil
	case "automodereset":
		return reader.AutoModeResetConfirmation, true, nil
	default:
		return reader.CommandNotUnderstood, true, nil
	}
}

func (l *Logic) setLocked(command string) string {
	var kv []string
	for _, part := range strings.Split(command, "=") {
		if part = strings.TrimSpace(part); part != "" {
			kv = append(kv, part)
		}
	}
	if len(kv) != 2 {
		return reader.InvalidUseOfCommand
	}
	if resp, ok := l.readonlyLocked(kv[0]); ok {
		return resp
	}
	l.properties[strings.ToLower(kv[0])] = kv[1]
	return command
}

func (l *Logic) getLocked(name string) string {
	if resp, ok := l.readonlyLocked(name); ok {
		return resp
	}
	if v, ok := l.properties[strings.ToLower(name)]; ok {
		return name + " = " + v
	}
	return reader.InvalidUseOfCommand
}

func (l *Logic) readonlyLocked(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "taglist":
		if l.properties["antennasequence"] == "0" {
			return strings.Join(KnownTags, "\r\n"), true
		}
		return reader.NoTags, true
	default:
		return "", false
	}
}
