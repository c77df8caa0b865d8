package protocol

import (
	"fmt"
	"strings"
)

// Role is the part a peer plays in one connection attempt.
type Role uint8

const (
	RoleHost Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole accepts "host" or "client" in any case.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "host":
		return RoleHost, nil
	case "client":
		return RoleClient, nil
	default:
		return RoleHost, fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

// Transmission selects the delivery guarantee of one call.
type Transmission uint8

const (
	Reliable Transmission = iota
	Unreliable
)

func (t Transmission) Valid() bool {
	return t == Reliable || t == Unreliable
}

func (t Transmission) String() string {
	switch t {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("transmission(%d)", uint8(t))
	}
}

// Recipients selects which peers execute a call.
type Recipients uint8

const (
	RecipientsAll Recipients = iota
	RecipientsHost
	RecipientsClients
	RecipientsOthers
)

// Contains reports whether a peer with role, which did or did not originate
// the call, is one of the recipients.
func (r Recipients) Contains(role Role, isSender bool) bool {
	switch r {
	case RecipientsAll:
		return true
	case RecipientsHost:
		return role == RoleHost
	case RecipientsClients:
		return role == RoleClient
	case RecipientsOthers:
		return !isSender
	default:
		return false
	}
}

func (r Recipients) String() string {
	switch r {
	case RecipientsAll:
		return "all"
	case RecipientsHost:
		return "host"
	case RecipientsClients:
		return "clients"
	case RecipientsOthers:
		return "others"
	default:
		return fmt.Sprintf("recipients(%d)", uint8(r))
	}
}

// Authority selects which roles may originate a call.
type Authority uint8

const (
	AuthorityAll Authority = iota
	AuthorityHost
	AuthorityClients
)

func (a Authority) Contains(role Role) bool {
	switch a {
	case AuthorityAll:
		return true
	case AuthorityHost:
		return role == RoleHost
	case AuthorityClients:
		return role == RoleClient
	default:
		return false
	}
}

func (a Authority) String() string {
	switch a {
	case AuthorityAll:
		return "all"
	case AuthorityHost:
		return "host"
	case AuthorityClients:
		return "clients"
	default:
		return fmt.Sprintf("authority(%d)", uint8(a))
	}
}

// Object marks a type as network-participating. Arguments of such types
// travel as registry ids instead of values.
type Object interface {
	NetworkObject()
}
