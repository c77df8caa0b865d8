// Package snapshot records registry and connection activity over a period
// of time for debugging desyncs.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/lockstep/internal/connection"
	"github.com/danmuck/lockstep/internal/protocol/call"
	"gopkg.in/yaml.v3"
)

type ObjectRecord struct {
	At     time.Time `yaml:"at"`
	ID     uint64    `yaml:"id,omitempty"`
	Type   string    `yaml:"type,omitempty"`
	Target string    `yaml:"target,omitempty"`
	Note   string    `yaml:"note,omitempty"`
}

// CallRecord is one call as seen on a link. Peer is the recipient for
// outgoing calls and the sender for incoming ones.
type CallRecord struct {
	At           time.Time `yaml:"at"`
	Peer         string    `yaml:"peer"`
	ObjectID     uint64    `yaml:"object_id"`
	Function     string    `yaml:"function"`
	Transmission string    `yaml:"transmission"`
	PayloadBytes int       `yaml:"payload_bytes"`
}

type EventRecord struct {
	At     time.Time `yaml:"at"`
	Type   string    `yaml:"type"`
	Target string    `yaml:"target,omitempty"`
}

// Snapshot implements both registry.Recorder and connection.Recorder. It is
// safe for concurrent use.
type Snapshot struct {
	mu sync.Mutex

	StartedAt       time.Time      `yaml:"started_at"`
	Registrations   []ObjectRecord `yaml:"registrations"`
	Unregistrations []ObjectRecord `yaml:"unregistrations"`
	Outgoing        []CallRecord   `yaml:"outgoing"`
	Incoming        []CallRecord   `yaml:"incoming"`
	Events          []EventRecord  `yaml:"events"`

	now func() time.Time
}

func New() *Snapshot {
	s := &Snapshot{now: time.Now}
	s.StartedAt = s.now()
	return s
}

func (s *Snapshot) RecordObjectRegistration(id uint64, obj any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Registrations = append(s.Registrations, ObjectRecord{
		At:     s.now(),
		ID:     id,
		Type:   fmt.Sprintf("%T", obj),
		Target: fmt.Sprintf("%p", obj),
	})
}

// RecordObjectUnregistration accepts a nil obj for bulk removals, in which
// case note says what happened.
func (s *Snapshot) RecordObjectUnregistration(id uint64, obj any, note string) {
	rec := ObjectRecord{At: s.now(), ID: id, Note: note}
	if obj != nil {
		rec.Type = fmt.Sprintf("%T", obj)
		rec.Target = fmt.Sprintf("%p", obj)
	}
	s.mu.Lock()
	s.Unregistrations = append(s.Unregistrations, rec)
	s.mu.Unlock()
}

func (s *Snapshot) RecordOutgoingCall(target connection.Identity, c call.Call) {
	rec := s.callRecord(target, c)
	s.mu.Lock()
	s.Outgoing = append(s.Outgoing, rec)
	s.mu.Unlock()
}

func (s *Snapshot) RecordIncomingCall(sender connection.Identity, c call.Call) {
	rec := s.callRecord(sender, c)
	s.mu.Lock()
	s.Incoming = append(s.Incoming, rec)
	s.mu.Unlock()
}

func (s *Snapshot) RecordEvent(e connection.Event) {
	s.mu.Lock()
	s.Events = append(s.Events, EventRecord{At: s.now(), Type: e.Type.String(), Target: string(e.Target)})
	s.mu.Unlock()
}

func (s *Snapshot) callRecord(peer connection.Identity, c call.Call) CallRecord {
	return CallRecord{
		At:           s.now(),
		Peer:         string(peer),
		ObjectID:     c.ObjectID,
		Function:     c.FunctionID.Base64(),
		Transmission: c.Transmission.String(),
		PayloadBytes: len(c.Payload),
	}
}

// Copy returns a detached copy for reading while recording continues.
func (s *Snapshot) Copy() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Snapshot{
		StartedAt:       s.StartedAt,
		Registrations:   slices.Clone(s.Registrations),
		Unregistrations: slices.Clone(s.Unregistrations),
		Outgoing:        slices.Clone(s.Outgoing),
		Incoming:        slices.Clone(s.Incoming),
		Events:          slices.Clone(s.Events),
		now:             s.now,
	}
}

func (s *Snapshot) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s.Copy()); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	return enc.Close()
}

func (s *Snapshot) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := s.WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a snapshot written by WriteYAML.
func Load(r io.Reader) (*Snapshot, error) {
	s := &Snapshot{now: time.Now}
	if err := yaml.NewDecoder(r).Decode(s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	return s, nil
}
