package reader

// Wire constants for the reader's command port.
const (
	CommandPrefix       = "\x01"
	LineTerminator      = "\r\n"
	ResponseTerminators = "\x00"
	StreamTerminators   = "\r\n\x00"
	WelcomeTerminators  = ">"
	WelcomeSuffix       = "Username"

	NoTags                     = "(No Tags)"
	InvalidCredentials         = "Error: Invalid Username and/or Password"
	TagListClearConfirmation   = "Tag List has been cleared!"
	AutoModeResetConfirmation  = "All auto-mode settings have been reset!"
	CommandNotUnderstood       = "Error 1: Command not understood."
	InvalidUseOfCommand        = "Error 4: Invalid use of command."
	errorResponsePrefix        = "Error"
	defaultTagStreamKeepaliveS = 1800
)

// ListFormat selects how the reader renders tag lists and streams.
type ListFormat string

const (
	ListFormatText   ListFormat = "Text"
	ListFormatTerse  ListFormat = "Terse"
	ListFormatXML    ListFormat = "XML"
	ListFormatCustom ListFormat = "Custom"
)

// TagCustomFormat renders id, antenna, read count and last-seen millis.
const TagCustomFormat = "%k, %a, %r, %T"

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}
