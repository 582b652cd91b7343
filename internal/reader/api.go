package reader

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// API is the typed command facade. Property names and values are passed
// through as the reader expects them; only the get/set/action framing and
// error-line detection live here.
type API struct {
	exchange func(command string) (string, error)
}

// NewAPI binds a facade to any command exchanger.
func NewAPI(exchange func(command string) (string, error)) *API {
	return &API{exchange: exchange}
}

// Command sends a raw command and returns the reply, failing on error lines.
func (a *API) Command(command string) (string, error) {
	resp, err := a.exchange(command)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(resp, errorResponsePrefix) {
		return resp, &CommandError{Command: command, Response: resp}
	}
	return resp, nil
}

// Get reads a property and returns its value.
func (a *API) Get(name string) (string, error) {
	command := name + "?"
	resp, err := a.Command(command)
	if err != nil {
		return "", err
	}
	key, value, ok := strings.Cut(resp, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(key), name) {
		return "", &CommandError{Command: command, Response: resp}
	}
	return strings.TrimSpace(value), nil
}

// Set writes a property. The reader echoes the command on success.
func (a *API) Set(name, value string) error {
	_, err := a.Command(fmt.Sprintf("%s = %s", name, value))
	return err
}

// Action runs a bare keyword command.
func (a *API) Action(name string) (string, error) {
	return a.Command(name)
}

// TagList returns the raw tag list reply: newline separated tag lines or NoTags.
func (a *API) TagList() (string, error) {
	return a.Command("TagList?")
}

func (a *API) Clear() (string, error) {
	return a.Action("Clear")
}

func (a *API) AutoModeReset() (string, error) {
	return a.Action("AutoModeReset")
}

func (a *API) AutoMode(on bool) error {
	return a.Set("AutoMode", onOff(on))
}

func (a *API) NotifyMode(on bool) error {
	return a.Set("NotifyMode", onOff(on))
}

func (a *API) StreamHeader(on bool) error {
	return a.Set("StreamHeader", onOff(on))
}

func (a *API) TagStreamMode(on bool) error {
	return a.Set("TagStreamMode", onOff(on))
}

func (a *API) TagListFormat(f ListFormat) error {
	return a.Set("TagListFormat", string(f))
}

func (a *API) TagListCustomFormat(format string) error {
	return a.Set("TagListCustomFormat", format)
}

func (a *API) TagStreamFormat(f ListFormat) error {
	return a.Set("TagStreamFormat", string(f))
}

func (a *API) TagStreamCustomFormat(format string) error {
	return a.Set("TagStreamCustomFormat", format)
}

// TagStreamAddress points the reader's push stream at a listener.
func (a *API) TagStreamAddress(addr net.Addr) error {
	return a.Set("TagStreamAddress", addr.String())
}

func (a *API) TagStreamKeepAliveTime(seconds int) error {
	return a.Set("TagStreamKeepAliveTime", strconv.Itoa(seconds))
}

func (a *API) RFModulation() (string, error) {
	return a.Get("RFModulation")
}

func (a *API) SetRFModulation(mode string) error {
	return a.Set("RFModulation", mode)
}

func (a *API) AntennaSequence() (string, error) {
	return a.Get("AntennaSequence")
}

func (a *API) SetAntennaSequence(seq string) error {
	return a.Set("AntennaSequence", seq)
}

func (a *API) ReaderName() (string, error) {
	return a.Get("ReaderName")
}
