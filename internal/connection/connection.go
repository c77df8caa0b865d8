// Package connection runs the session state machine: establishment, link
// ownership, host relay, disruption, and the establishment timeout.
package connection

import (
	"slices"
	"sync"
	"time"

	"github.com/danmuck/lockstep/internal/observability"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/call"
	"github.com/rs/zerolog/log"
)

// Connection is driven from one goroutine. Only Post may be called from
// elsewhere; posted callbacks run during Dispatch.
type Connection struct {
	strategy Strategy
	queue    Enqueuer

	config       *Config
	connectivity Connectivity
	hostLink     Link
	clientLinks  map[Identity]Link

	timer      *time.Timer
	generation uint64
	dropping   bool

	listeners []func(Event)
	recorder  Recorder

	mu      sync.Mutex
	mailbox []func()
}

func New(strategy Strategy, queue Enqueuer) *Connection {
	c := &Connection{
		strategy:    strategy,
		queue:       queue,
		clientLinks: make(map[Identity]Link),
	}
	strategy.Attach(c)
	return c
}

func (c *Connection) SetRecorder(rec Recorder) {
	c.recorder = rec
}

// OnEvent subscribes fn to lifecycle events.
func (c *Connection) OnEvent(fn func(Event)) {
	c.listeners = append(c.listeners, fn)
}

// Role is the configured role, or host while unconfigured.
func (c *Connection) Role() protocol.Role {
	if c.config == nil {
		return protocol.RoleHost
	}
	return c.config.Role
}

func (c *Connection) Connectivity() Connectivity {
	return c.connectivity
}

// Clients returns the configured client identities.
func (c *Connection) Clients() []Identity {
	if c.config == nil {
		return nil
	}
	return slices.Clone(c.config.Clients)
}

// ActiveClients returns configured clients with an active link, in
// configured order.
func (c *Connection) ActiveClients() []Identity {
	out := make([]Identity, 0, len(c.clientLinks))
	for _, id := range c.Clients() {
		if link := c.clientLinks[id]; link != nil && link.IsActive() {
			out = append(out, id)
		}
	}
	return out
}

func (c *Connection) ClientCount() int {
	if c.config == nil {
		return 0
	}
	return len(c.config.Clients)
}

func (c *Connection) ActiveClientCount() int {
	return len(c.ActiveClients())
}

// Establish starts a new attempt, dropping any current one first.
func (c *Connection) Establish(cfg Config) {
	if c.connectivity != Disconnected {
		c.Drop()
	}
	cfg.Clients = slices.Clone(cfg.Clients)
	c.config = &cfg

	c.transition(Connecting)
	c.armTimeout(cfg.Timeout)

	switch {
	case cfg.solo():
		c.finalize()
	case cfg.Role == protocol.RoleHost:
		c.strategy.StartListeningForClientConnections()
	case cfg.Role == protocol.RoleClient:
		c.strategy.EstablishConnectionToHost(cfg.Host)
	}
}

// Drop closes every link and returns to Disconnected.
func (c *Connection) Drop() {
	if c.dropping {
		return
	}
	c.dropping = true
	defer func() { c.dropping = false }()

	c.cancelTimeout()
	if c.hostLink != nil {
		c.hostLink.Close()
	}
	for _, link := range c.clientLinks {
		link.Close()
	}
	c.strategy.StopListeningForClientConnections()

	c.config = nil
	c.hostLink = nil
	c.clientLinks = make(map[Identity]Link)
	c.transition(Disconnected)
}

// Poll drains every active link while Connected. The host relays each call
// to every other active client before queueing it locally.
func (c *Connection) Poll() {
	if c.connectivity != Connected {
		return
	}
	if c.hostLink != nil {
		c.poll(c.hostLink)
	}
	for _, id := range c.Clients() {
		if link := c.clientLinks[id]; link != nil {
			c.poll(link)
		}
	}
}

func (c *Connection) poll(link Link) {
	for link.IsActive() {
		data, ok := link.Receive()
		if !ok {
			return
		}
		fc, err := call.Decode(data)
		if err != nil {
			observability.RecordCallDropped(observability.DropMalformed)
			log.Warn().Msgf("connection.Connection.poll dropped malformed record from=%s err=%v", link.Identity(), err)
			continue
		}
		if c.recorder != nil {
			c.recorder.RecordIncomingCall(link.Identity(), fc)
		}
		observability.RecordCallReceived(fc.Transmission.String())

		role := c.Role()
		if role == protocol.RoleHost {
			if n := c.broadcast(fc, link.Identity()); n > 0 {
				observability.RecordCallRelayed(n)
			}
		}
		c.queue.EnqueueCall(fc, role, false)
	}
}

// Send delivers an originated call while Connected.
func (c *Connection) Send(fc call.Call) {
	if c.connectivity != Connected {
		return
	}
	if c.Role() == protocol.RoleHost {
		c.broadcast(fc, NoIdentity)
		return
	}
	if c.hostLink != nil {
		c.sendTo(c.hostLink, fc, fc.Bytes())
	}
}

func (c *Connection) broadcast(fc call.Call, except Identity) int {
	data := fc.Bytes()
	sent := 0
	for _, id := range c.Clients() {
		if id == except {
			continue
		}
		if link := c.clientLinks[id]; link != nil && c.sendTo(link, fc, data) {
			sent++
		}
	}
	return sent
}

func (c *Connection) sendTo(link Link, fc call.Call, data []byte) bool {
	if !link.IsActive() {
		return false
	}
	if err := link.Send(data, fc.Transmission); err != nil {
		log.Warn().Msgf("connection.Connection.sendTo failed to=%s err=%v", link.Identity(), err)
		return false
	}
	if c.recorder != nil {
		c.recorder.RecordOutgoingCall(link.Identity(), fc)
	}
	return true
}

// ReceiveNewActiveNetworkLink accepts a link only inside the establishment
// window and only for an expected peer. Rejected links are closed.
func (c *Connection) ReceiveNewActiveNetworkLink(link Link) {
	if link == nil {
		return
	}
	if c.config != nil && link.Identity() == c.config.Host {
		c.receiveLinkToHost(link)
		return
	}
	c.receiveLinkToClient(link)
}

func (c *Connection) receiveLinkToHost(link Link) {
	switch {
	case c.connectivity != Connecting:
		c.reject(link, "outgoing", "outside the establishment window")
	case c.config.Role != protocol.RoleClient:
		c.reject(link, "outgoing", "not configured as client")
	case c.config.Host != link.Identity():
		c.reject(link, "outgoing", "identity does not match configured host")
	default:
		c.hostLink = link
		c.finalize()
	}
}

func (c *Connection) receiveLinkToClient(link Link) {
	id := link.Identity()
	switch {
	case c.connectivity != Connecting:
		c.reject(link, "incoming", "outside the establishment window")
		return
	case c.config.Role != protocol.RoleHost:
		c.reject(link, "incoming", "not configured as host")
		return
	case !c.config.isClient(id):
		c.reject(link, "incoming", "client identity not configured")
		return
	}
	if current := c.clientLinks[id]; current != nil && current.IsActive() {
		c.reject(link, "incoming", "client already connected")
		return
	}
	c.clientLinks[id] = link

	for _, client := range c.config.Clients {
		if l := c.clientLinks[client]; l == nil || !l.IsActive() {
			return
		}
	}
	c.finalize()
}

func (c *Connection) reject(link Link, direction, reason string) {
	log.Warn().Msgf("connection.Connection ignoring %s link identity=%s reason=%q", direction, link.Identity(), reason)
	link.Close()
}

func (c *Connection) finalize() {
	c.cancelTimeout()
	log.Info().Msgf("connection.Connection.finalize established role=%s clients=%d", c.Role(), c.ClientCount())
	c.transition(Connected)
}

// HandleConnectionDisrupted reacts to a peer becoming unreachable.
func (c *Connection) HandleConnectionDisrupted(target Identity) {
	if c.connectivity == Disconnected {
		log.Warn().Msgf("connection.Connection.HandleConnectionDisrupted ignoring identity=%s while disconnected", target)
		return
	}
	switch c.config.Role {
	case protocol.RoleClient:
		if target != c.config.Host {
			return
		}
		log.Warn().Msgf("connection.Connection.HandleConnectionDisrupted lost host identity=%s", target)
		c.Drop()
	case protocol.RoleHost:
		link := c.clientLinks[target]
		if link == nil || !link.IsActive() {
			return
		}
		log.Warn().Msgf("connection.Connection.HandleConnectionDisrupted lost client identity=%s", target)
		link.Close()
		c.emit(Event{Type: ConnectionToClientLost, Target: target})
		if c.connectivity == Connecting {
			c.HandleConnectionEstablishmentFailed(target)
		}
	}
}

// HandleConnectionEstablishmentFailed drops a pending attempt. A host
// ignores failures naming an unconfigured client.
func (c *Connection) HandleConnectionEstablishmentFailed(target Identity) {
	if c.connectivity != Connecting {
		return
	}
	if target != NoIdentity && c.config.Role == protocol.RoleHost && !c.config.isClient(target) {
		log.Warn().Msgf("connection.Connection.HandleConnectionEstablishmentFailed ignoring unconfigured identity=%s", target)
		return
	}
	c.Drop()
}

func (c *Connection) transition(target Connectivity) {
	if target == c.connectivity {
		return
	}
	var (
		event Event
		emit  bool
	)
	switch {
	case target == Connected && c.connectivity == Connecting:
		event, emit = Event{Type: ConnectionEstablished}, true
	case target == Disconnected && c.connectivity == Connected:
		event, emit = Event{Type: ConnectionLost}, true
	case target == Disconnected && c.connectivity == Connecting:
		event, emit = Event{Type: ConnectionEstablishmentFailed}, true
	}
	c.connectivity = target
	if emit {
		c.emit(event)
	}
}

func (c *Connection) emit(e Event) {
	observability.RecordConnectionEvent(e.Type.String())
	if c.recorder != nil {
		c.recorder.RecordEvent(e)
	}
	for _, fn := range c.listeners {
		fn(e)
	}
}
