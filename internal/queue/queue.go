// Package queue orders function invocations and applies the immediate
// versus deferred execution policy.
package queue

import (
	"fmt"

	"github.com/danmuck/lockstep/internal/observability"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/call"
	"github.com/danmuck/lockstep/internal/protocol/hashing"
	"github.com/danmuck/lockstep/internal/protocol/payload"
	"github.com/danmuck/lockstep/internal/registry"
	"github.com/rs/zerolog/log"
)

// Registry resolves raw calls and object arguments.
type Registry interface {
	payload.Resolver
	GetRegisteredFunctionDelegate(objectID uint64, functionID hashing.Hash) (*registry.Entry, error)
}

// element is either pre-resolved (entry set) or a raw wire call resolved
// only when processed.
type element struct {
	entry    *registry.Entry
	instance *payload.Instance
	call     *call.Call
	role     protocol.Role
	isSender bool
}

func (e element) transmission() protocol.Transmission {
	if e.call != nil {
		return e.call.Transmission
	}
	return e.entry.Policy.Transmission
}

// Queue is a FIFO of pending invocations. It is not safe for concurrent use.
type Queue struct {
	registry Registry
	pending  []element
}

func New(r Registry) *Queue {
	return &Queue{registry: r}
}

func (q *Queue) Len() int {
	return len(q.pending)
}

func (q *Queue) IsEmpty() bool {
	return len(q.pending) == 0
}

// Clear discards pending work without executing it.
func (q *Queue) Clear() {
	q.pending = nil
}

// EnqueueDelegate queues a resolved entry. A peer that is not a recipient
// discards it. The original sender of a non-deferred function runs it
// immediately and receives any failure.
func (q *Queue) EnqueueDelegate(entry *registry.Entry, inst *payload.Instance, role protocol.Role, isSender bool) error {
	if entry == nil {
		return fmt.Errorf("queue: nil entry")
	}
	el := element{entry: entry, instance: inst, role: role, isSender: isSender}
	if !entry.Policy.Recipients.Contains(role, isSender) {
		observability.RecordCallDropped(observability.DropNotRecipient)
		log.Debug().Msgf("queue.Queue.EnqueueDelegate skipped function=%s role=%s sender=%v", entry.Name, role, isSender)
		return nil
	}
	if !entry.Policy.Deferred && isSender {
		return q.execute(el)
	}
	q.pending = append(q.pending, el)
	return nil
}

// EnqueueCall always appends; wire calls never run ahead of the flush.
func (q *Queue) EnqueueCall(c call.Call, role protocol.Role, isSender bool) {
	q.pending = append(q.pending, element{call: &c, role: role, isSender: isSender})
}

// ProcessQueuedElements runs every pending element in order. It stops at
// the first failure that must surface; later elements stay queued.
func (q *Queue) ProcessQueuedElements() error {
	for len(q.pending) > 0 {
		el := q.pending[0]
		q.pending[0] = element{}
		q.pending = q.pending[1:]
		if err := q.execute(el); err != nil {
			return err
		}
	}
	q.pending = nil
	return nil
}

func (q *Queue) execute(el element) error {
	err := q.invoke(el)
	if err == nil {
		return nil
	}
	if el.transmission() == protocol.Unreliable && !el.isSender {
		log.Debug().Msgf("queue.Queue.execute dropped unreliable call err=%v", err)
		observability.RecordCallDropped(observability.DropUnresolved)
		return nil
	}
	return err
}

func (q *Queue) invoke(el element) error {
	entry, inst := el.entry, el.instance
	if el.call != nil {
		var err error
		entry, err = q.registry.GetRegisteredFunctionDelegate(el.call.ObjectID, el.call.FunctionID)
		if err != nil {
			return err
		}
		if entry == nil {
			observability.RecordCallDropped(observability.DropUnresolved)
			log.Debug().Msgf("queue.Queue.invoke stale object=%d function=%s", el.call.ObjectID, el.call.FunctionID)
			return nil
		}
		inst, err = entry.PayloadType.Decode(el.call.Payload)
		if err != nil {
			return fmt.Errorf("queue: %s: %w", entry.Name, err)
		}
	}

	if !entry.Policy.Recipients.Contains(el.role, el.isSender) {
		observability.RecordCallDropped(observability.DropNotRecipient)
		log.Debug().Msgf("queue.Queue.invoke skipped function=%s role=%s sender=%v", entry.Name, el.role, el.isSender)
		return nil
	}

	args, err := entry.PayloadType.RecoverArgumentsFromInstance(q.registry, inst)
	if err != nil {
		return fmt.Errorf("queue: %s: %w", entry.Name, err)
	}
	if err := entry.Invoke(args); err != nil {
		return err
	}
	observability.RecordCallExecuted()
	return nil
}
