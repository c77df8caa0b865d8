// Package registry assigns stable ids to network objects and indexes their
// functions by (object id, function id). Objects are held weakly.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/danmuck/lockstep/internal/observability"
	"github.com/danmuck/lockstep/internal/protocol/hashing"
	"github.com/danmuck/lockstep/internal/protocol/payload"
	"github.com/rs/zerolog/log"
)

// NullObjectID is reserved for "no object" and never assigned.
const NullObjectID uint64 = 0

var (
	ErrNilObject         = errors.New("registry: object is nil")
	ErrZeroSizedObject   = errors.New("registry: zero-sized objects have no stable identity")
	ErrAlreadyRegistered = errors.New("registry: object already registered")
	ErrFunctionCollision = errors.New("registry: duplicate network function")
	ErrReceiverMismatch  = errors.New("registry: binding receiver does not match object type")
	ErrNotRegistered     = errors.New("registry: object not registered")
	ErrUnknownObject     = errors.New("registry: object id was never issued")
	ErrUnknownFunction   = errors.New("registry: function not registered for object")
	ErrDuplicateKey      = errors.New("registry: duplicate discovery key")
)

// Recorder observes registration changes.
type Recorder interface {
	RecordObjectRegistration(id uint64, obj any)
	RecordObjectUnregistration(id uint64, obj any, note string)
}

type record struct {
	id        uint64
	ref       Ref
	functions map[hashing.Hash]*Entry
}

// Registry is not safe for concurrent use; every call must come from the
// goroutine that ticks the session.
type Registry struct {
	counter  uint64
	changes  uint64
	objects  map[uint64]*record
	addrs    map[uintptr]*record
	recorder Recorder
}

func New() *Registry {
	return &Registry{
		counter: NullObjectID + 1,
		objects: make(map[uint64]*record),
		addrs:   make(map[uintptr]*record),
	}
}

func (r *Registry) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// NextID is the id the next registration will receive.
func (r *Registry) NextID() uint64 {
	return r.counter
}

// Changes counts successful registrations, unregistrations and clears.
// It never decreases.
func (r *Registry) Changes() uint64 {
	return r.changes
}

func (r *Registry) Len() int {
	return len(r.objects)
}

// RegisterObject enrolls ref. It returns false without consuming an id when
// the object neither exposes functions nor marks itself as a network object.
func (r *Registry) RegisterObject(ref Ref) (bool, error) {
	if ref.IsNil() {
		return false, ErrNilObject
	}
	if ref.zeroSized {
		return false, fmt.Errorf("%w: %s", ErrZeroSizedObject, ref.typ)
	}
	obj := ref.Value()
	if obj == nil {
		return false, ErrNilObject
	}
	if existing := r.addrs[ref.addr]; existing != nil {
		if existing.ref.matches(obj) {
			return false, fmt.Errorf("%w: %s id=%d", ErrAlreadyRegistered, ref.typ, existing.id)
		}
		delete(r.addrs, ref.addr)
	}

	id := r.counter
	functions := make(map[hashing.Hash]*Entry, len(ref.bindings))
	for _, b := range ref.bindings {
		if !b.Bound() || b.Receiver() != ref.typ {
			return false, fmt.Errorf("%w: %s on %s", ErrReceiverMismatch, b.Name(), ref.typ)
		}
		if _, ok := functions[b.ID()]; ok {
			return false, fmt.Errorf("%w: %s on %s", ErrFunctionCollision, b.Name(), ref.typ)
		}
		pt, err := payload.TypeOf(b.Params()...)
		if err != nil {
			return false, fmt.Errorf("registry: %s: %w", b.Name(), err)
		}
		functions[b.ID()] = &Entry{
			ObjectID:    id,
			FunctionID:  b.ID(),
			Name:        b.Name(),
			Policy:      b.Policy(),
			PayloadType: pt,
			binding:     b,
			target:      ref,
		}
	}
	if len(functions) == 0 && !ref.object {
		return false, nil
	}

	r.counter++
	r.changes++
	rec := &record{id: id, ref: ref, functions: functions}
	r.objects[id] = rec
	r.addrs[ref.addr] = rec
	if r.recorder != nil {
		r.recorder.RecordObjectRegistration(id, obj)
	}
	observability.SetRegisteredObjects(len(r.objects))
	log.Debug().Msgf("registry.Registry.RegisterObject id=%d type=%s functions=%d", id, ref.typ, len(functions))
	return true, nil
}

// UnregisterObject removes obj and all of its entries.
func (r *Registry) UnregisterObject(obj any) bool {
	rec := r.find(obj)
	if rec == nil {
		return false
	}
	if r.recorder != nil {
		r.recorder.RecordObjectUnregistration(rec.id, obj, "")
	}
	delete(r.objects, rec.id)
	delete(r.addrs, rec.ref.addr)
	r.changes++
	observability.SetRegisteredObjects(len(r.objects))
	log.Debug().Msgf("registry.Registry.UnregisterObject id=%d type=%s", rec.id, rec.ref.typ)
	return true
}

// ClearRegistrations drops every entry but keeps the id counter.
func (r *Registry) ClearRegistrations() {
	r.objects = make(map[uint64]*record)
	r.addrs = make(map[uintptr]*record)
	r.changes++
	if r.recorder != nil {
		r.recorder.RecordObjectUnregistration(NullObjectID, nil, "CLEARED")
	}
	observability.SetRegisteredObjects(0)
}

// ClearRegistrationsAndResetCounter drops every entry and restarts ids, so
// the same registration order reproduces the same ids on every peer.
func (r *Registry) ClearRegistrationsAndResetCounter() {
	r.counter = NullObjectID + 1
	r.ClearRegistrations()
}

// GetRegisteredObjectId returns NullObjectID for a nil obj.
func (r *Registry) GetRegisteredObjectId(obj any) (uint64, error) {
	if isNil(obj) {
		return NullObjectID, nil
	}
	rec := r.find(obj)
	if rec == nil {
		return 0, fmt.Errorf("%w: %T", ErrNotRegistered, obj)
	}
	return rec.id, nil
}

// GetRegisteredObject returns nil without error for an id that was issued
// but is no longer registered or whose object was collected.
func (r *Registry) GetRegisteredObject(id uint64) (any, error) {
	rec, ok := r.objects[id]
	if !ok {
		if id < r.counter {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: id=%d", ErrUnknownObject, id)
	}
	return rec.ref.Value(), nil
}

// GetRegisteredFunctionDelegate returns nil without error for a stale
// object id. An unknown function under a live object signals divergent
// state between peers.
func (r *Registry) GetRegisteredFunctionDelegate(objectID uint64, functionID hashing.Hash) (*Entry, error) {
	rec, ok := r.objects[objectID]
	if !ok || len(rec.functions) == 0 {
		if objectID < r.counter {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: id=%d", ErrUnknownObject, objectID)
	}
	if rec.ref.Value() == nil {
		return nil, nil
	}
	entry, ok := rec.functions[functionID]
	if !ok {
		return nil, fmt.Errorf("%w: object=%d function=%s", ErrUnknownFunction, objectID, functionID)
	}
	return entry, nil
}

// ObjectInfo summarizes one registration.
type ObjectInfo struct {
	ID        uint64   `json:"id" yaml:"id"`
	Type      string   `json:"type" yaml:"type"`
	Functions []string `json:"functions" yaml:"functions"`
	Alive     bool     `json:"alive" yaml:"alive"`
}

// Objects returns deterministic ordering by id.
func (r *Registry) Objects() []ObjectInfo {
	list := make([]ObjectInfo, 0, len(r.objects))
	for _, rec := range r.objects {
		names := make([]string, 0, len(rec.functions))
		for _, e := range rec.functions {
			names = append(names, e.Name)
		}
		sort.Strings(names)
		list = append(list, ObjectInfo{
			ID:        rec.id,
			Type:      rec.ref.typ.String(),
			Functions: names,
			Alive:     rec.ref.Value() != nil,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

func (r *Registry) find(obj any) *record {
	if isNil(obj) {
		return nil
	}
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Pointer {
		return nil
	}
	rec := r.addrs[v.Pointer()]
	if rec == nil || !rec.ref.matches(obj) {
		return nil
	}
	return rec
}

func isNil(obj any) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
