package reader

import (
	"context"
	"fmt"
	"net"
)

type setupStep struct {
	name string
	run  func() error
}

func (s *Session) runSetup(ctx context.Context, steps []setupStep) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.run(); err != nil {
			return fmt.Errorf("reader: %s: %w", step.name, err)
		}
	}
	return nil
}

func discard(run func() (string, error)) func() error {
	return func() error {
		_, err := run()
		return err
	}
}

// StartTagPolling switches the reader to list-on-demand output and starts a
// Poller feeding sink. Any previous producer is closed first.
func (s *Session) StartTagPolling(ctx context.Context, sink Sink) (*Poller, error) {
	s.detachPrevious()
	api := s.api
	err := s.runSetup(ctx, []setupStep{
		{"TagListFormat", func() error { return api.TagListFormat(ListFormatCustom) }},
		{"TagListCustomFormat", func() error { return api.TagListCustomFormat(TagCustomFormat) }},
		{"TagStreamFormat", func() error { return api.TagStreamFormat(ListFormatCustom) }},
		{"TagStreamCustomFormat", func() error { return api.TagStreamCustomFormat(TagCustomFormat) }},
		{"AutoModeReset", discard(api.AutoModeReset)},
		{"Clear", discard(api.Clear)},
		{"NotifyMode", func() error { return api.NotifyMode(false) }},
		{"AutoMode", func() error { return api.AutoMode(true) }},
	})
	if err != nil {
		return nil, err
	}
	p := NewPoller(api, sink, s.clock, s.log)
	if err := s.attach(p); err != nil {
		return nil, err
	}
	s.log.Info().Msg("reader.Session tag polling started")
	return p, nil
}

// StartTagStream opens a StreamListener and points the reader's push stream
// at it. An empty listenAddr binds an ephemeral port on the local address of
// the command connection, which is reachable from the reader by definition.
// A wildcard listenAddr is advertised with that same local address.
func (s *Session) StartTagStream(ctx context.Context, sink Sink, listenAddr string) (*StreamListener, error) {
	s.detachPrevious()
	if listenAddr == "" {
		ip := s.localIP()
		if ip == nil {
			return nil, fmt.Errorf("%w: state=%s", ErrNotReady, s.State())
		}
		listenAddr = net.JoinHostPort(ip.String(), "0")
	}
	api := s.api
	var l *StreamListener
	err := s.runSetup(ctx, []setupStep{
		{"TagStreamKeepAliveTime", func() error { return api.TagStreamKeepAliveTime(defaultTagStreamKeepaliveS) }},
		{"TagStreamFormat", func() error { return api.TagStreamFormat(ListFormatCustom) }},
		{"TagStreamCustomFormat", func() error { return api.TagStreamCustomFormat(TagCustomFormat) }},
		{"AutoModeReset", discard(api.AutoModeReset)},
		{"Clear", discard(api.Clear)},
		{"StreamHeader", func() error { return api.StreamHeader(true) }},
		{"NotifyMode", func() error { return api.NotifyMode(false) }},
		{"Listen", func() error {
			var err error
			l, err = ListenTagStream(listenAddr, sink, s.clock, s.log)
			return err
		}},
		{"TagStreamAddress", func() error { return api.TagStreamAddress(s.advertisedAddr(l.Addr())) }},
		{"TagStreamMode", func() error { return api.TagStreamMode(true) }},
		{"AutoMode", func() error { return api.AutoMode(true) }},
	})
	if err != nil {
		if l != nil {
			_ = l.Close()
		}
		return nil, err
	}
	if err := s.attach(l); err != nil {
		return nil, err
	}
	s.log.Info().Msgf("reader.Session tag stream started listen=%s", l.Addr())
	return l, nil
}

// advertisedAddr replaces an unspecified bind host with the command
// connection's local IP so the reader can dial it back.
func (s *Session) advertisedAddr(bound net.Addr) net.Addr {
	tcp, ok := bound.(*net.TCPAddr)
	if !ok || !tcp.IP.IsUnspecified() {
		return bound
	}
	ip := s.localIP()
	if ip == nil {
		return bound
	}
	return &net.TCPAddr{IP: ip, Port: tcp.Port}
}
