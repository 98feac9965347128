// Package hosts implements the host directory: the ordered list of remote hosts
// a probe run connects to, stored as a named-entry YAML file.
package hosts

import (
	"context"
	"net"
)

// Supported session protocols
const (
	ProtocolSSH   = "ssh"
	ProtocolWinRM = "winrm"
)

// Host is a single remote host record. It is treated as immutable for the
// duration of a probe run.
type Host struct {
	Name       string `json:"name,omitempty" yaml:"-" validate:"omitempty,max=64"`
	Address    string `json:"ip" yaml:"ip" validate:"required,ip|hostname_rfc1123"`
	Port       string `json:"port" yaml:"port" validate:"required"`
	Username   string `json:"user" yaml:"user" validate:"required,max=255"`
	Credential string `json:"pass" yaml:"pass" validate:"required"`
	Protocol   string `json:"protocol,omitempty" yaml:"protocol,omitempty" validate:"omitempty,oneof=ssh winrm"`
}

// HostPort returns the dialable address:port pair.
func (h Host) HostPort() string {
	return net.JoinHostPort(h.Address, h.Port)
}

// SessionProtocol returns the protocol used for the handshake, defaulting to SSH.
func (h Host) SessionProtocol() string {
	if h.Protocol == "" {
		return ProtocolSSH
	}
	return h.Protocol
}

// Directory supplies the hosts for a probe run, in probe order.
type Directory interface {
	Load(ctx context.Context) ([]Host, error)
}

// Store is a Directory that can also be rewritten.
type Store interface {
	Directory
	Save(ctx context.Context, hosts []Host) error
}

// Static is an in-memory Directory.
type Static []Host

// Load returns a copy of the static list.
func (s Static) Load(context.Context) ([]Host, error) {
	out := make([]Host, len(s))
	copy(out, s)
	return out, nil
}
