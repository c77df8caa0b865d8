package registry

import (
	"reflect"
	"weak"

	"github.com/danmuck/lockstep/internal/function"
	"github.com/danmuck/lockstep/internal/protocol"
)

// Ref is a weak handle to an object offered for registration. It carries
// the object's static function table but never keeps the object alive.
type Ref struct {
	typ       reflect.Type
	addr      uintptr
	value     func() any
	bindings  []function.Binding
	object    bool
	zeroSized bool
}

// Weak builds a Ref for obj. Function tables must be built from method
// expressions so they hold no reference to obj.
func Weak[T any](obj *T) Ref {
	if obj == nil {
		return Ref{}
	}
	var bindings []function.Binding
	if table, ok := any(obj).(function.Table); ok {
		bindings = table.NetworkFunctions()
	}
	_, isObject := any(obj).(protocol.Object)
	wp := weak.Make(obj)
	return Ref{
		typ:  reflect.TypeFor[*T](),
		addr: reflect.ValueOf(obj).Pointer(),
		value: func() any {
			if p := wp.Value(); p != nil {
				return p
			}
			return nil
		},
		bindings:  bindings,
		object:    isObject,
		zeroSized: reflect.TypeFor[T]().Size() == 0,
	}
}

func (r Ref) IsNil() bool {
	return r.value == nil
}

// Value returns the live object, or nil once it has been collected.
func (r Ref) Value() any {
	if r.value == nil {
		return nil
	}
	return r.value()
}

func (r Ref) Type() reflect.Type {
	return r.typ
}

// Participates reports whether registering r would assign an id.
func (r Ref) Participates() bool {
	return len(r.bindings) > 0 || r.object
}

func (r Ref) matches(obj any) bool {
	v := r.Value()
	return v != nil && v == obj
}
