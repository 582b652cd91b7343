package reader

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration     = errors.New("reader: invalid configuration")
	ErrNotReady          = errors.New("reader: session not ready")
	ErrClosed            = errors.New("reader: session closed")
	ErrAlreadyStarted    = errors.New("reader: connect already attempted")
	ErrLoginFailed       = errors.New("reader: login failed")
	ErrUnexpectedWelcome = errors.New("reader: unexpected welcome message")
	ErrCommandRejected   = errors.New("reader: command rejected")
)

// LoginFailedError carries the reader's reply to a rejected credential.
type LoginFailedError struct {
	Message string
}

func (e *LoginFailedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrLoginFailed, e.Message)
}

func (e *LoginFailedError) Unwrap() error { return ErrLoginFailed }

// UnexpectedWelcomeError carries the banner messages that failed validation.
type UnexpectedWelcomeError struct {
	Received []string
}

func (e *UnexpectedWelcomeError) Error() string {
	return fmt.Sprintf("%v: actual messages: %q", ErrUnexpectedWelcome, strings.Join(e.Received, "\r\n"))
}

func (e *UnexpectedWelcomeError) Unwrap() error { return ErrUnexpectedWelcome }

// CommandError is returned by the facade when the reader answers with an error line.
type CommandError struct {
	Command  string
	Response string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%v: command=%q response=%q", ErrCommandRejected, e.Command, e.Response)
}

func (e *CommandError) Unwrap() error { return ErrCommandRejected }
