// Package config loads a peer's TOML file into runtime settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/lockstep/internal/connection"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/transport/quicnet"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Peer is the resolved configuration for one lockstepd process.
type Peer struct {
	ID               string
	Role             protocol.Role
	Listen           string
	Host             string
	HostAddress      string
	Clients          []string
	EstablishTimeout time.Duration
	Tick             time.Duration
	AdminAddr        string
	AdminToken       string
	SnapshotPath     string
	Transport        quicnet.Config
}

func DefaultPeer() Peer {
	return Peer{
		ID:        "host",
		Role:      protocol.RoleHost,
		Listen:    "127.0.0.1:7400",
		Clients:   []string{},
		Tick:      50 * time.Millisecond,
		Transport: quicnet.DefaultConfig(),
	}
}

// ConnectionConfig builds the establishment settings for this peer.
func (p Peer) ConnectionConfig() connection.Config {
	if p.Role == protocol.RoleClient {
		return connection.ClientConfig(connection.Identity(p.Host), p.EstablishTimeout)
	}
	clients := make([]connection.Identity, 0, len(p.Clients))
	for _, c := range p.Clients {
		clients = append(clients, connection.Identity(c))
	}
	return connection.HostConfig(clients, p.EstablishTimeout)
}

func (p Peer) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidConfig)
	}
	if p.Tick <= 0 {
		return fmt.Errorf("%w: tick must be positive", ErrInvalidConfig)
	}
	if p.Transport.Limits.MaxRecordBytes == 0 {
		return fmt.Errorf("%w: transport.max_record_bytes must be positive", ErrInvalidConfig)
	}
	switch p.Role {
	case protocol.RoleHost:
		if len(p.Clients) > 0 && strings.TrimSpace(p.Listen) == "" {
			return fmt.Errorf("%w: host with clients needs listen", ErrInvalidConfig)
		}
		seen := make(map[string]struct{}, len(p.Clients))
		for _, c := range p.Clients {
			if c == p.ID {
				return fmt.Errorf("%w: host %q listed as client", ErrInvalidConfig, c)
			}
			if _, ok := seen[c]; ok {
				return fmt.Errorf("%w: duplicate client %q", ErrInvalidConfig, c)
			}
			seen[c] = struct{}{}
		}
	case protocol.RoleClient:
		if strings.TrimSpace(p.Host) == "" {
			return fmt.Errorf("%w: client needs host", ErrInvalidConfig)
		}
		if strings.TrimSpace(p.HostAddress) == "" {
			return fmt.Errorf("%w: client needs host_address", ErrInvalidConfig)
		}
	}
	return nil
}

type transportFile struct {
	MaxRecordBytes    uint32  `toml:"max_record_bytes"`
	HandshakeTimeout  string  `toml:"handshake_timeout"`
	KeepAlive         string  `toml:"keep_alive"`
	MaxIdleTimeout    string  `toml:"max_idle_timeout"`
	DialAttempts      int     `toml:"dial_attempts"`
	BackoffInitial    string  `toml:"backoff_initial"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffJitter     bool    `toml:"backoff_jitter"`
}

type fileConfig struct {
	ID               string        `toml:"id"`
	Role             string        `toml:"role"`
	Listen           string        `toml:"listen"`
	Host             string        `toml:"host"`
	HostAddress      string        `toml:"host_address"`
	Clients          []string      `toml:"clients"`
	EstablishTimeout string        `toml:"establish_timeout"`
	Tick             string        `toml:"tick"`
	AdminAddr        string        `toml:"admin_addr"`
	AdminToken       string        `toml:"admin_token"`
	SnapshotPath     string        `toml:"snapshot_path"`
	Transport        transportFile `toml:"transport"`
}

// Load reads path over DefaultPeer. Only keys present in the file override
// defaults.
func Load(path string) (Peer, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Peer{}, fmt.Errorf("load peer config: %w", err)
	}
	cfg, err := apply(DefaultPeer(), raw, meta)
	if err != nil {
		return Peer{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Peer{}, err
	}
	return cfg, nil
}

func apply(cfg Peer, raw fileConfig, meta toml.MetaData) (Peer, error) {
	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("role") {
		role, err := protocol.ParseRole(raw.Role)
		if err != nil {
			return Peer{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		cfg.Role = role
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("host_address") {
		cfg.HostAddress = strings.TrimSpace(raw.HostAddress)
	}
	if meta.IsDefined("clients") {
		cfg.Clients = normalizeIDs(raw.Clients)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("snapshot_path") {
		cfg.SnapshotPath = strings.TrimSpace(raw.SnapshotPath)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"establish_timeout", raw.EstablishTimeout, &cfg.EstablishTimeout},
		{"tick", raw.Tick, &cfg.Tick},
		{"transport.handshake_timeout", raw.Transport.HandshakeTimeout, &cfg.Transport.HandshakeTimeout},
		{"transport.keep_alive", raw.Transport.KeepAlive, &cfg.Transport.KeepAlive},
		{"transport.max_idle_timeout", raw.Transport.MaxIdleTimeout, &cfg.Transport.MaxIdleTimeout},
		{"transport.backoff_initial", raw.Transport.BackoffInitial, &cfg.Transport.Backoff.InitialDelay},
		{"transport.backoff_max", raw.Transport.BackoffMax, &cfg.Transport.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Peer{}, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("transport", "max_record_bytes") {
		cfg.Transport.Limits.MaxRecordBytes = raw.Transport.MaxRecordBytes
	}
	if meta.IsDefined("transport", "dial_attempts") {
		cfg.Transport.DialAttempts = raw.Transport.DialAttempts
	}
	if meta.IsDefined("transport", "backoff_multiplier") {
		cfg.Transport.Backoff.Multiplier = raw.Transport.BackoffMultiplier
	}
	if meta.IsDefined("transport", "backoff_jitter") {
		cfg.Transport.Backoff.Jitter = raw.Transport.BackoffJitter
	}
	return cfg, nil
}

func normalizeIDs(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, id := range in {
		v := strings.TrimSpace(id)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
