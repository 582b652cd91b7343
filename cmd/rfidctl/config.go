package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rfidctl/internal/discovery"
	"github.com/danmuck/rfidctl/internal/protocol/session"
	"github.com/danmuck/rfidctl/internal/reader"
	"github.com/danmuck/rfidctl/internal/supervisor"
)

// rfidctl config.toml key mapping.
type fileConfig struct {
	Address           string   `toml:"address"`
	Username          string   `toml:"username"`
	Password          string   `toml:"password"`
	Delivery          string   `toml:"delivery"`
	StreamListen      string   `toml:"stream_listen"`
	KeepaliveInterval string   `toml:"keepalive_interval"`
	ReceiveTimeout    string   `toml:"receive_timeout"`
	ConnectTimeout    string   `toml:"connect_timeout"`
	ReconnectDelay    string   `toml:"reconnect_delay"`
	AdminAddr         string   `toml:"admin_addr"`
	AdminToken        string   `toml:"admin_token"`
	CORSOrigins       []string `toml:"cors_origins"`
	DBPath            string   `toml:"db_path"`
	DiscoveryAddr     string   `toml:"discovery_addr"`
}

// Reader factory credentials.
const (
	factoryUsername = "alien"
	factoryPassword = "password"
)

type appConfig struct {
	Supervisor    supervisor.Config
	AdminAddr     string
	AdminToken    string
	CORSOrigins   []string
	DBPath        string
	DiscoveryAddr string
}

func defaultAppConfig() appConfig {
	return appConfig{
		Supervisor: supervisor.Config{
			Username:  factoryUsername,
			Password:  factoryPassword,
			Reader:    reader.DefaultConfig(),
			Reconnect: session.FixedBackoff(supervisor.DefaultReconnectDelay),
			Delivery:  supervisor.DeliveryPoll,
		},
		AdminAddr:     "127.0.0.1:7080",
		DBPath:        "rfidctl.db",
		DiscoveryAddr: fmt.Sprintf(":%d", discovery.DefaultPort),
	}
}

// loadConfig overlays the TOML file at path on the defaults. An empty path
// returns the defaults unchanged.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load rfidctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return appConfig{}, fmt.Errorf("load rfidctl config: unknown key %q", undecoded[0].String())
	}

	sup := &cfg.Supervisor
	if meta.IsDefined("address") {
		sup.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("username") {
		sup.Username = raw.Username
	}
	if meta.IsDefined("password") {
		sup.Password = raw.Password
	}
	if meta.IsDefined("delivery") {
		sup.Delivery = supervisor.Delivery(strings.ToLower(strings.TrimSpace(raw.Delivery)))
	}
	if meta.IsDefined("stream_listen") {
		sup.StreamListenAddr = strings.TrimSpace(raw.StreamListen)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"keepalive_interval", raw.KeepaliveInterval, &sup.Reader.KeepaliveInterval},
		{"receive_timeout", raw.ReceiveTimeout, &sup.Reader.Session.ReceiveTimeout},
		{"connect_timeout", raw.ConnectTimeout, &sup.Reader.Session.ConnectTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("reconnect_delay") {
		v, err := time.ParseDuration(strings.TrimSpace(raw.ReconnectDelay))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse reconnect_delay: %w", err)
		}
		sup.Reconnect = session.FixedBackoff(v)
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("db_path") {
		cfg.DBPath = strings.TrimSpace(raw.DBPath)
	}
	if meta.IsDefined("discovery_addr") {
		cfg.DiscoveryAddr = strings.TrimSpace(raw.DiscoveryAddr)
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
