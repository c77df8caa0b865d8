package registry

import (
	"github.com/danmuck/lockstep/internal/function"
	"github.com/danmuck/lockstep/internal/protocol/hashing"
	"github.com/danmuck/lockstep/internal/protocol/payload"
)

// Entry is one callable bound to a registered object.
type Entry struct {
	ObjectID    uint64
	FunctionID  hashing.Hash
	Name        string
	Policy      function.Policy
	PayloadType *payload.Type

	binding function.Binding
	target  Ref
}

// Target returns the live receiver, or nil once it has been collected.
func (e *Entry) Target() any {
	return e.target.Value()
}

func (e *Entry) HasTarget() bool {
	return e.Target() != nil
}

// Invoke calls the function with decoded arguments. A collected receiver
// makes the call a no-op.
func (e *Entry) Invoke(args []any) error {
	target := e.Target()
	if target == nil {
		return nil
	}
	return e.binding.Invoke(target, args)
}
