package connection

import (
	"fmt"
	"slices"
	"time"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/call"
)

// Identity names a session peer. It is supplied by the transport and is
// unrelated to registry object ids.
type Identity string

// NoIdentity is the empty target, used when a failure has no specific peer.
const NoIdentity Identity = ""

// Link is one duplex channel to a remote peer. Once closed it stays closed;
// Send and Receive on a closed link are no-ops.
type Link interface {
	Identity() Identity
	Send(data []byte, transmission protocol.Transmission) error
	Receive() ([]byte, bool)
	Close()
	IsActive() bool
}

// Handler receives transport notifications. Transports running on their
// own goroutines must wrap notifications in Post.
type Handler interface {
	ReceiveNewActiveNetworkLink(link Link)
	HandleConnectionDisrupted(target Identity)
	HandleConnectionEstablishmentFailed(target Identity)
	Post(fn func())
}

// Strategy creates links for a Connection.
type Strategy interface {
	Attach(h Handler)
	EstablishConnectionToHost(host Identity)
	StartListeningForClientConnections()
	StopListeningForClientConnections()
}

// Enqueuer accepts received calls for later processing.
type Enqueuer interface {
	EnqueueCall(c call.Call, role protocol.Role, isSender bool)
}

// Recorder observes traffic and lifecycle events.
type Recorder interface {
	RecordIncomingCall(sender Identity, c call.Call)
	RecordOutgoingCall(target Identity, c call.Call)
	RecordEvent(e Event)
}

// Config describes one connection attempt. A non-positive Timeout waits
// forever.
type Config struct {
	Role    protocol.Role
	Host    Identity
	Clients []Identity
	Timeout time.Duration
}

func HostConfig(clients []Identity, timeout time.Duration) Config {
	return Config{Role: protocol.RoleHost, Clients: slices.Clone(clients), Timeout: timeout}
}

func ClientConfig(host Identity, timeout time.Duration) Config {
	return Config{Role: protocol.RoleClient, Host: host, Timeout: timeout}
}

func (c Config) solo() bool {
	return c.Role == protocol.RoleHost && len(c.Clients) == 0
}

func (c Config) isClient(id Identity) bool {
	return slices.Contains(c.Clients, id)
}

type Connectivity uint8

const (
	Disconnected Connectivity = iota
	Connecting
	Connected
)

func (c Connectivity) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("connectivity(%d)", uint8(c))
	}
}

type EventType uint8

const (
	ConnectionEstablished EventType = iota
	ConnectionLost
	ConnectionToClientLost
	ConnectionEstablishmentFailed
)

func (t EventType) String() string {
	switch t {
	case ConnectionEstablished:
		return "connection_established"
	case ConnectionLost:
		return "connection_lost"
	case ConnectionToClientLost:
		return "connection_to_client_lost"
	case ConnectionEstablishmentFailed:
		return "connection_establishment_failed"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// Event is one lifecycle change. Target is set only for ConnectionToClientLost.
type Event struct {
	Type   EventType
	Target Identity
}
