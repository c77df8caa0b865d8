package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/lockstep/internal/protocol"
	gotoml "github.com/pelletier/go-toml/v2"
)

// Template renders a starter peer file for role ("host" or "client").
func Template(role string) (string, error) {
	r, err := protocol.ParseRole(role)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	p := DefaultPeer()
	p.Role = r
	p.AdminAddr = "127.0.0.1:7480"
	switch r {
	case protocol.RoleHost:
		p.Clients = []string{"a"}
	case protocol.RoleClient:
		p.ID = "a"
		p.Listen = ""
		p.Host = "host"
		p.HostAddress = "127.0.0.1:7400"
		p.AdminAddr = "127.0.0.1:7481"
	}
	return Encode(p)
}

// Encode renders p in the format Load reads.
func Encode(p Peer) (string, error) {
	out, err := gotoml.Marshal(toFile(p))
	if err != nil {
		return "", fmt.Errorf("encode peer config: %w", err)
	}
	return string(out), nil
}

func WriteTemplate(path, role string, overwrite bool) error {
	template, err := Template(role)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(p Peer) fileConfig {
	t := p.Transport
	return fileConfig{
		ID:               p.ID,
		Role:             strings.ToLower(p.Role.String()),
		Listen:           p.Listen,
		Host:             p.Host,
		HostAddress:      p.HostAddress,
		Clients:          append([]string{}, p.Clients...),
		EstablishTimeout: p.EstablishTimeout.String(),
		Tick:             p.Tick.String(),
		AdminAddr:        p.AdminAddr,
		AdminToken:       p.AdminToken,
		SnapshotPath:     p.SnapshotPath,
		Transport: transportFile{
			MaxRecordBytes:    t.Limits.MaxRecordBytes,
			HandshakeTimeout:  t.HandshakeTimeout.String(),
			KeepAlive:         t.KeepAlive.String(),
			MaxIdleTimeout:    t.MaxIdleTimeout.String(),
			DialAttempts:      t.DialAttempts,
			BackoffInitial:    t.Backoff.InitialDelay.String(),
			BackoffMax:        t.Backoff.MaxDelay.String(),
			BackoffMultiplier: t.Backoff.Multiplier,
			BackoffJitter:     t.Backoff.Jitter,
		},
	}
}
