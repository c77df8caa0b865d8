// Package session wires registry, queue, connection and emitter into one
// handle. A Scope allows at most one open session at a time.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/lockstep/internal/connection"
	"github.com/danmuck/lockstep/internal/emitter"
	"github.com/danmuck/lockstep/internal/function"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/queue"
	"github.com/danmuck/lockstep/internal/registry"
	"github.com/danmuck/lockstep/internal/snapshot"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionExists = errors.New("session: a session is already open in this scope")
	ErrNoSnapshot    = errors.New("session: no snapshot is being recorded")
	ErrNoStrategy    = errors.New("session: connection strategy is required")
	ErrClosed        = errors.New("session: closed")
)

// Scope tracks the open session. The zero value is ready to use.
type Scope struct {
	mu     sync.Mutex
	active *Session
}

func (s *Scope) Active() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scope) claim(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return ErrSessionExists
	}
	s.active = sess
	return nil
}

func (s *Scope) release(sess *Session) {
	s.mu.Lock()
	if s.active == sess {
		s.active = nil
	}
	s.mu.Unlock()
}

type Builder struct {
	scope    *Scope
	strategy connection.Strategy
	name     string
}

func NewBuilder(scope *Scope) *Builder {
	return &Builder{scope: scope}
}

func (b *Builder) WithStrategy(s connection.Strategy) *Builder {
	b.strategy = s
	return b
}

// WithName labels the session in logs and status.
func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

func (b *Builder) Build() (*Session, error) {
	if b.strategy == nil {
		return nil, ErrNoStrategy
	}
	s := &Session{name: b.name, scope: b.scope}
	if b.scope != nil {
		if err := b.scope.claim(s); err != nil {
			return nil, err
		}
	}
	s.registry = registry.New()
	s.queue = queue.New(s.registry)
	s.conn = connection.New(b.strategy, s.queue)
	s.emitter = emitter.New(s.queue, s.registry, s.conn)
	s.conn.OnEvent(s.onEvent)
	s.publish()
	log.Info().Msgf("session.Builder.Build name=%s", s.name)
	return s, nil
}

// Session is driven from one goroutine, except Status which may be read
// from anywhere.
type Session struct {
	name  string
	scope *Scope

	registry *registry.Registry
	queue    *queue.Queue
	conn     *connection.Connection
	emitter  *emitter.Emitter
	snapshot *snapshot.Snapshot

	listeners []func(connection.Event)
	status    atomic.Pointer[Status]
	closed    bool

	// objects is rebuilt only when the registry reports a change.
	objects      []registry.ObjectInfo
	objectsAt    uint64
	objectsFresh bool
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) Emitter() *emitter.Emitter {
	return s.emitter
}

// Role reports false while disconnected.
func (s *Session) Role() (protocol.Role, bool) {
	if s.conn.Connectivity() == connection.Disconnected {
		return protocol.RoleHost, false
	}
	return s.conn.Role(), true
}

func (s *Session) Connectivity() connection.Connectivity {
	return s.conn.Connectivity()
}

func (s *Session) Clients() []connection.Identity {
	return s.conn.Clients()
}

func (s *Session) ConnectedClients() []connection.Identity {
	return s.conn.ActiveClients()
}

func (s *Session) ClientCount() int {
	return s.conn.ClientCount()
}

func (s *Session) ConnectedClientsCount() int {
	return s.conn.ActiveClientCount()
}

// OnConnectionChanged subscribes fn to connection lifecycle events.
func (s *Session) OnConnectionChanged(fn func(connection.Event)) {
	s.listeners = append(s.listeners, fn)
}

func (s *Session) onEvent(e connection.Event) {
	log.Info().Msgf("session.Session event=%s target=%s", e.Type, e.Target)
	for _, fn := range s.listeners {
		fn(e)
	}
}

func (s *Session) EstablishConnection(cfg connection.Config) {
	s.conn.Establish(cfg)
	s.publish()
}

func (s *Session) PollConnection() {
	s.conn.Poll()
	s.publish()
}

// DropConnection closes every link but keeps registrations.
func (s *Session) DropConnection() {
	s.conn.Drop()
	s.publish()
}

// Reset clears registrations and restarts object ids.
func (s *Session) Reset() {
	s.registry.ClearRegistrationsAndResetCounter()
	s.publish()
}

func (s *Session) ProcessQueuedCalls() error {
	defer s.publish()
	return s.queue.ProcessQueuedElements()
}

// Tick runs transport callbacks, drains links, then processes the queue.
func (s *Session) Tick() error {
	if s.closed {
		return ErrClosed
	}
	s.conn.Dispatch()
	s.conn.Poll()
	defer s.publish()
	return s.queue.ProcessQueuedElements()
}

func (s *Session) Register(ref registry.Ref) (bool, error) {
	defer s.publish()
	return s.registry.RegisterObject(ref)
}

func (s *Session) RegisterAll(candidates []registry.Candidate) (int, error) {
	defer s.publish()
	return s.registry.RegisterAll(candidates)
}

func (s *Session) Unregister(obj any) bool {
	defer s.publish()
	return s.registry.UnregisterObject(obj)
}

// ClearAllObjectRegistrations keeps the id counter.
func (s *Session) ClearAllObjectRegistrations() {
	s.registry.ClearRegistrations()
	s.publish()
}

func (s *Session) ObjectID(obj any) (uint64, error) {
	return s.registry.GetRegisteredObjectId(obj)
}

// StartRecordingSnapshot replaces any recording in progress.
func (s *Session) StartRecordingSnapshot() {
	s.snapshot = snapshot.New()
	s.registry.SetRecorder(s.snapshot)
	s.conn.SetRecorder(s.snapshot)
	s.publish()
}

func (s *Session) StopRecordingAndCollectSnapshot() (*snapshot.Snapshot, error) {
	if s.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	snap := s.snapshot
	s.snapshot = nil
	s.registry.SetRecorder(nil)
	s.conn.SetRecorder(nil)
	s.publish()
	return snap, nil
}

// Close drops the connection and releases the scope.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.conn.Drop()
	s.queue.Clear()
	s.closed = true
	if s.scope != nil {
		s.scope.release(s)
	}
	s.publish()
	log.Info().Msgf("session.Session.Close name=%s", s.name)
}

// Status is a read-only view published after every session operation.
type Status struct {
	Name             string                `json:"name"`
	Role             string                `json:"role,omitempty"`
	Connectivity     string                `json:"connectivity"`
	Clients          []connection.Identity `json:"clients"`
	ConnectedClients []connection.Identity `json:"connected_clients"`
	Queued           int                   `json:"queued"`
	Objects          []registry.ObjectInfo `json:"objects"`
	Recording        bool                  `json:"recording"`
	Closed           bool                  `json:"closed"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func (st Status) Ready() bool {
	return !st.Closed && st.Connectivity == connection.Connected.String()
}

func (s *Session) Status() Status {
	return *s.status.Load()
}

func (s *Session) publish() {
	st := &Status{
		Name:             s.name,
		Connectivity:     s.conn.Connectivity().String(),
		Clients:          s.conn.Clients(),
		ConnectedClients: s.conn.ActiveClients(),
		Queued:           s.queue.Len(),
		Objects:          s.registeredObjects(),
		Recording:        s.snapshot != nil,
		Closed:           s.closed,
		UpdatedAt:        time.Now(),
	}
	if role, ok := s.Role(); ok {
		st.Role = role.String()
	}
	s.status.Store(st)
}

func (s *Session) registeredObjects() []registry.ObjectInfo {
	if changes := s.registry.Changes(); !s.objectsFresh || changes != s.objectsAt {
		s.objects = s.registry.Objects()
		s.objectsAt = changes
		s.objectsFresh = true
	}
	return s.objects
}

func Call0(s *Session, target any, d function.Def0) error {
	defer s.publish()
	return emitter.Call0(s.emitter, target, d)
}

func Call1[A any](s *Session, target any, d function.Def1[A], a A) error {
	defer s.publish()
	return emitter.Call1(s.emitter, target, d, a)
}

func Call2[A, B any](s *Session, target any, d function.Def2[A, B], a A, b B) error {
	defer s.publish()
	return emitter.Call2(s.emitter, target, d, a, b)
}

func Call3[A, B, C any](s *Session, target any, d function.Def3[A, B, C], a A, b B, c C) error {
	defer s.publish()
	return emitter.Call3(s.emitter, target, d, a, b, c)
}

func Call4[A, B, C, D any](s *Session, target any, d function.Def4[A, B, C, D], a A, b B, c C, dv D) error {
	defer s.publish()
	return emitter.Call4(s.emitter, target, d, a, b, c, dv)
}
