// Package emitter originates calls: it applies authority, sends the call to
// peers, and feeds the local queue as the sender.
package emitter

import (
	"errors"
	"fmt"

	"github.com/danmuck/lockstep/internal/function"
	"github.com/danmuck/lockstep/internal/observability"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/call"
	"github.com/danmuck/lockstep/internal/protocol/hashing"
	"github.com/danmuck/lockstep/internal/protocol/payload"
	"github.com/danmuck/lockstep/internal/queue"
	"github.com/danmuck/lockstep/internal/registry"
	"github.com/rs/zerolog/log"
)

var ErrNoEntry = errors.New("emitter: function is not bound to a live object")

// Sender is the outbound side of a connection.
type Sender interface {
	Send(c call.Call)
	Role() protocol.Role
}

// Enqueuer receives the sender's own copy of each call.
type Enqueuer interface {
	EnqueueDelegate(entry *registry.Entry, inst *payload.Instance, role protocol.Role, isSender bool) error
}

type Emitter struct {
	queue    Enqueuer
	registry queue.Registry
	conn     Sender
}

func New(q Enqueuer, r queue.Registry, conn Sender) *Emitter {
	return &Emitter{queue: q, registry: r, conn: conn}
}

// Call invokes fn on target across the session. A role outside the
// function's authority makes the call a silent no-op.
func (e *Emitter) Call(target any, fn hashing.Hash, args ...any) error {
	objectID, err := e.registry.GetRegisteredObjectId(target)
	if err != nil {
		return err
	}
	entry, err := e.registry.GetRegisteredFunctionDelegate(objectID, fn)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: object=%d function=%s", ErrNoEntry, objectID, fn)
	}

	role := e.conn.Role()
	if !entry.Policy.Authority.Contains(role) {
		observability.RecordCallDropped(observability.DropUnauthorized)
		log.Debug().Msgf("emitter.Emitter.Call unauthorized function=%s role=%s", entry.Name, role)
		return nil
	}

	// Arity and argument types are checked before anything leaves the peer.
	inst, err := entry.PayloadType.CreateInstanceFromArguments(e.registry, args...)
	if err != nil {
		return fmt.Errorf("emitter: %s: %w", entry.Name, err)
	}
	var raw []byte
	if inst != nil {
		if raw, err = entry.PayloadType.Encode(inst); err != nil {
			return fmt.Errorf("emitter: %s: %w", entry.Name, err)
		}
	}
	c, err := call.New(objectID, fn, entry.Policy.Transmission, raw)
	if err != nil {
		return err
	}

	e.conn.Send(c)
	observability.RecordCallSent(c.Transmission.String())
	return e.queue.EnqueueDelegate(entry, inst, role, true)
}

func Call0(e *Emitter, target any, d function.Def0) error {
	return e.Call(target, d.ID())
}

func Call1[A any](e *Emitter, target any, d function.Def1[A], a A) error {
	return e.Call(target, d.ID(), a)
}

func Call2[A, B any](e *Emitter, target any, d function.Def2[A, B], a A, b B) error {
	return e.Call(target, d.ID(), a, b)
}

func Call3[A, B, C any](e *Emitter, target any, d function.Def3[A, B, C], a A, b B, c C) error {
	return e.Call(target, d.ID(), a, b, c)
}

func Call4[A, B, C, D any](e *Emitter, target any, d function.Def4[A, B, C, D], a A, b B, c C, dv D) error {
	return e.Call(target, d.ID(), a, b, c, dv)
}
