// Package memory is an in-process transport. Every peer joins one Network;
// dialing a listening host creates a pair of links synchronously.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/lockstep/internal/connection"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrIdentityInUse = errors.New("memory: identity already joined")

// Network is the shared namespace of in-process peers.
type Network struct {
	mu    sync.Mutex
	peers map[connection.Identity]*Strategy
}

func NewNetwork() *Network {
	return &Network{peers: make(map[connection.Identity]*Strategy)}
}

// Join creates the strategy for id.
func (n *Network) Join(id connection.Identity) (*Strategy, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrIdentityInUse, id)
	}
	s := &Strategy{network: n, identity: id}
	n.peers[id] = s
	return s, nil
}

// Leave removes id so it can join again.
func (n *Network) Leave(id connection.Identity) {
	n.mu.Lock()
	delete(n.peers, id)
	n.mu.Unlock()
}

func (n *Network) peer(id connection.Identity) *Strategy {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[id]
}

// Strategy is one peer's connection.Strategy on a Network.
type Strategy struct {
	network  *Network
	identity connection.Identity

	mu        sync.Mutex
	handler   connection.Handler
	listening bool
}

func (s *Strategy) Identity() connection.Identity {
	return s.identity
}

func (s *Strategy) Attach(h connection.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Strategy) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

func (s *Strategy) StartListeningForClientConnections() {
	s.mu.Lock()
	s.listening = true
	s.mu.Unlock()
}

func (s *Strategy) StopListeningForClientConnections() {
	s.mu.Lock()
	s.listening = false
	s.mu.Unlock()
}

func (s *Strategy) current() connection.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// EstablishConnectionToHost links this peer and host when host is
// listening. Both handlers are notified before it returns.
func (s *Strategy) EstablishConnectionToHost(host connection.Identity) {
	other := s.network.peer(host)
	if other == nil || !other.Listening() {
		log.Debug().Msgf("memory.Strategy.EstablishConnectionToHost unreachable host=%s from=%s", host, s.identity)
		if h := s.current(); h != nil {
			h.HandleConnectionEstablishmentFailed(connection.NoIdentity)
		}
		return
	}

	toHost := newLink(host, s)
	toClient := newLink(s.identity, other)
	toHost.peer, toClient.peer = toClient, toHost

	if h := s.current(); h != nil {
		h.ReceiveNewActiveNetworkLink(toHost)
	}
	if h := other.current(); h != nil {
		h.ReceiveNewActiveNetworkLink(toClient)
	}
}

// Link is one end of an in-process pair. Unreliable sends are delivered
// like reliable ones.
type Link struct {
	connection.LinkState
	owner *Strategy
	peer  *Link

	mu    sync.Mutex
	inbox [][]byte
}

func newLink(remote connection.Identity, owner *Strategy) *Link {
	return &Link{LinkState: connection.NewLinkState(remote), owner: owner}
}

func (l *Link) Send(data []byte, _ protocol.Transmission) error {
	if !l.IsActive() || !l.peer.IsActive() {
		return nil
	}
	l.peer.push(append([]byte(nil), data...))
	return nil
}

func (l *Link) push(data []byte) {
	l.mu.Lock()
	l.inbox = append(l.inbox, data)
	l.mu.Unlock()
}

func (l *Link) Receive() ([]byte, bool) {
	if !l.IsActive() {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.inbox) == 0 {
		return nil, false
	}
	next := l.inbox[0]
	l.inbox[0] = nil
	l.inbox = l.inbox[1:]
	return next, true
}

// Close deactivates this end and reports the disruption to the peer's
// handler while the peer end is still active.
func (l *Link) Close() {
	if !l.MarkClosed() {
		return
	}
	l.peer.disrupt()
}

func (l *Link) disrupt() {
	if !l.IsActive() {
		return
	}
	if h := l.owner.current(); h != nil {
		h.HandleConnectionDisrupted(l.Identity())
	}
	l.Close()
}
