// Package discovery listens for the UDP heartbeat datagrams readers broadcast
// and keeps a table of readers heard recently.
package discovery

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/rfidctl/internal/clock"
	"github.com/danmuck/rfidctl/internal/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPort   = 3988
	DefaultExpiry = 45 * time.Second
	maxDatagram   = 64 * 1024
)

var ErrBadHeartbeat = errors.New("discovery: malformed heartbeat")

// ReaderInfo is one decoded heartbeat.
type ReaderInfo struct {
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	IPAddress     string    `json:"ip_address"`
	CommandPort   int       `json:"command_port"`
	MACAddress    string    `json:"mac_address"`
	HeartbeatTime int       `json:"heartbeat_time"`
	Seen          time.Time `json:"seen"`
}

// CommandAddress is the host:port of the reader's command port.
func (r ReaderInfo) CommandAddress() string {
	return net.JoinHostPort(r.IPAddress, strconv.Itoa(r.CommandPort))
}

type heartbeat struct {
	XMLName       xml.Name `xml:"Alien-RFID-Reader-Heartbeat"`
	ReaderName    string   `xml:"ReaderName"`
	ReaderType    string   `xml:"ReaderType"`
	IPAddress     string   `xml:"IPAddress"`
	CommandPort   string   `xml:"CommandPort"`
	MACAddress    string   `xml:"MACAddress"`
	HeartbeatTime string   `xml:"HeartbeatTime"`
}

// ParseHeartbeat decodes one datagram. Numeric fields that fail to parse are
// left at zero; a missing address is an error.
func ParseHeartbeat(data []byte, seen time.Time) (ReaderInfo, error) {
	var hb heartbeat
	if err := xml.Unmarshal(data, &hb); err != nil {
		return ReaderInfo{}, fmt.Errorf("%w: %w", ErrBadHeartbeat, err)
	}
	info := ReaderInfo{
		Name:       strings.TrimSpace(hb.ReaderName),
		Type:       strings.TrimSpace(hb.ReaderType),
		IPAddress:  strings.TrimSpace(hb.IPAddress),
		MACAddress: strings.TrimSpace(hb.MACAddress),
		Seen:       seen,
	}
	if info.IPAddress == "" {
		return ReaderInfo{}, fmt.Errorf("%w: missing IPAddress", ErrBadHeartbeat)
	}
	info.CommandPort, _ = strconv.Atoi(strings.TrimSpace(hb.CommandPort))
	info.HeartbeatTime, _ = strconv.Atoi(strings.TrimSpace(hb.HeartbeatTime))
	return info, nil
}

// Listener receives heartbeats on a UDP socket.
type Listener struct {
	conn   net.PacketConn
	expiry time.Duration
	clock  clock.Clock
	log    zerolog.Logger
	feed   *events.Feed[ReaderInfo]

	mu      sync.Mutex
	readers map[string]ReaderInfo
	done    chan struct{}
	closed  bool
}

type Option func(*Listener)

func WithExpiry(d time.Duration) Option {
	return func(l *Listener) {
		l.expiry = d
	}
}

func WithClock(c clock.Clock) Option {
	return func(l *Listener) {
		l.clock = c
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Listener) {
		l.log = logger
	}
}

// Listen binds addr, usually ":3988".
func Listen(addr string, opts ...Option) (*Listener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: listen %s: %w", addr, err)
	}
	l := &Listener{
		conn:    conn,
		expiry:  DefaultExpiry,
		clock:   clock.Real(),
		log:     log.Logger,
		feed:    events.NewFeed[ReaderInfo](),
		readers: make(map[string]ReaderInfo),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With().Str("component", "discovery.Listener").Logger()
	l.log.Info().Msgf("discovery.Listener listening addr=%s", conn.LocalAddr())
	go l.loop()
	return l, nil
}

func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Subscribe delivers every heartbeat received after the call.
func (l *Listener) Subscribe() *events.Subscription[ReaderInfo] {
	return l.feed.Subscribe()
}

func (l *Listener) loop() {
	defer close(l.done)
	defer l.feed.Close()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.log.Warn().Msgf("discovery.Listener read err=%v", err)
			}
			return
		}
		info, err := ParseHeartbeat(buf[:n], l.clock.Now())
		if err != nil {
			l.log.Debug().Msgf("discovery.Listener from=%s err=%v", from, err)
			continue
		}
		l.mu.Lock()
		l.readers[info.CommandAddress()] = info
		l.mu.Unlock()
		l.log.Debug().Msgf("discovery.Listener heartbeat name=%q addr=%s", info.Name, info.CommandAddress())
		l.feed.Publish(info)
	}
}

// Readers returns readers heard within the expiry window, sorted by address.
// Expired entries are dropped.
func (l *Listener) Readers() []ReaderInfo {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ReaderInfo, 0, len(l.readers))
	for key, info := range l.readers {
		if now.Sub(info.Seen) >= l.expiry {
			delete(l.readers, key)
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CommandAddress() < out[j].CommandAddress()
	})
	return out
}

// Close stops listening and completes the feed. It is idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	err := l.conn.Close()
	<-l.done
	return err
}
