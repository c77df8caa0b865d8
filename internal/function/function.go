// Package function describes network functions: their identity, their
// replication policy, and the typed closures that invoke them.
package function

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/hashing"
)

var (
	ErrArity          = errors.New("function: argument count mismatch")
	ErrArgumentType   = errors.New("function: argument type mismatch")
	ErrReceiverType   = errors.New("function: receiver type mismatch")
	ErrUnboundBinding = errors.New("function: binding has no invoker")
)

// Policy is the replication descriptor attached to one function.
// The zero value lets every role call, runs on every peer, is reliable,
// and executes immediately on the sender.
type Policy struct {
	Authority    protocol.Authority
	Recipients   protocol.Recipients
	Transmission protocol.Transmission
	Deferred     bool
}

// Def names a network function. The id depends only on the qualified
// name, so every object of the declaring type shares it.
type Def struct {
	Type   string
	Method string
	Policy Policy
}

func (d Def) ID() hashing.Hash {
	return hashing.Function(d.Type, d.Method)
}

func (d Def) Name() string {
	return hashing.Qualify(d.Type, d.Method)
}

// TypeName returns the qualified name of T for use in a Def.
func TypeName[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

type Def0 struct{ Def }

type Def1[A any] struct{ Def }

type Def2[A, B any] struct{ Def }

type Def3[A, B, C any] struct{ Def }

type Def4[A, B, C, D any] struct{ Def }

func New0(typeName, method string, p Policy) Def0 {
	return Def0{Def{Type: typeName, Method: method, Policy: p}}
}

func New1[A any](typeName, method string, p Policy) Def1[A] {
	return Def1[A]{Def{Type: typeName, Method: method, Policy: p}}
}

func New2[A, B any](typeName, method string, p Policy) Def2[A, B] {
	return Def2[A, B]{Def{Type: typeName, Method: method, Policy: p}}
}

func New3[A, B, C any](typeName, method string, p Policy) Def3[A, B, C] {
	return Def3[A, B, C]{Def{Type: typeName, Method: method, Policy: p}}
}

func New4[A, B, C, D any](typeName, method string, p Policy) Def4[A, B, C, D] {
	return Def4[A, B, C, D]{Def{Type: typeName, Method: method, Policy: p}}
}

// Table is implemented by network-participating types that expose
// functions. Bindings must use the implementing pointer type as receiver.
type Table interface {
	NetworkFunctions() []Binding
}

// Binding is one static table row: a Def plus a typed invocation closure.
type Binding struct {
	def      Def
	receiver reflect.Type
	params   []reflect.Type
	invoke   func(target any, args []any)
}

func (b Binding) Def() Def               { return b.def }
func (b Binding) ID() hashing.Hash       { return b.def.ID() }
func (b Binding) Name() string           { return b.def.Name() }
func (b Binding) Policy() Policy         { return b.def.Policy }
func (b Binding) Receiver() reflect.Type { return b.receiver }
func (b Binding) Params() []reflect.Type { return append([]reflect.Type(nil), b.params...) }
func (b Binding) NumParams() int         { return len(b.params) }
func (b Binding) Bound() bool            { return b.invoke != nil }

// Invoke calls the bound method on target with already decoded args.
func (b Binding) Invoke(target any, args []any) error {
	if b.invoke == nil {
		return ErrUnboundBinding
	}
	if len(args) != len(b.params) {
		return fmt.Errorf("%w: %s got %d want %d", ErrArity, b.Name(), len(args), len(b.params))
	}
	if reflect.TypeOf(target) != b.receiver {
		return fmt.Errorf("%w: %s got %T want %s", ErrReceiverType, b.Name(), target, b.receiver)
	}
	for i, arg := range args {
		if arg == nil {
			continue
		}
		if !reflect.TypeOf(arg).AssignableTo(b.params[i]) {
			return fmt.Errorf("%w: %s param %d got %T want %s", ErrArgumentType, b.Name(), i, arg, b.params[i])
		}
	}
	b.invoke(target, args)
	return nil
}

func Method0[T any](d Def0, fn func(*T)) Binding {
	return Binding{
		def:      d.Def,
		receiver: reflect.TypeFor[*T](),
		invoke:   func(target any, _ []any) { fn(target.(*T)) },
	}
}

func Method1[T, A any](d Def1[A], fn func(*T, A)) Binding {
	return Binding{
		def:      d.Def,
		receiver: reflect.TypeFor[*T](),
		params:   []reflect.Type{reflect.TypeFor[A]()},
		invoke: func(target any, args []any) {
			fn(target.(*T), arg[A](args[0]))
		},
	}
}

func Method2[T, A, B any](d Def2[A, B], fn func(*T, A, B)) Binding {
	return Binding{
		def:      d.Def,
		receiver: reflect.TypeFor[*T](),
		params:   []reflect.Type{reflect.TypeFor[A](), reflect.TypeFor[B]()},
		invoke: func(target any, args []any) {
			fn(target.(*T), arg[A](args[0]), arg[B](args[1]))
		},
	}
}

func Method3[T, A, B, C any](d Def3[A, B, C], fn func(*T, A, B, C)) Binding {
	return Binding{
		def:      d.Def,
		receiver: reflect.TypeFor[*T](),
		params:   []reflect.Type{reflect.TypeFor[A](), reflect.TypeFor[B](), reflect.TypeFor[C]()},
		invoke: func(target any, args []any) {
			fn(target.(*T), arg[A](args[0]), arg[B](args[1]), arg[C](args[2]))
		},
	}
}

func Method4[T, A, B, C, D any](d Def4[A, B, C, D], fn func(*T, A, B, C, D)) Binding {
	return Binding{
		def:      d.Def,
		receiver: reflect.TypeFor[*T](),
		params:   []reflect.Type{reflect.TypeFor[A](), reflect.TypeFor[B](), reflect.TypeFor[C](), reflect.TypeFor[D]()},
		invoke: func(target any, args []any) {
			fn(target.(*T), arg[A](args[0]), arg[B](args[1]), arg[C](args[2]), arg[D](args[3]))
		},
	}
}

// Embed lifts bindings declared on an embedded type E onto the outer type T.
// Ids keep the declaring type's name.
func Embed[T, E any](get func(*T) *E, bindings []Binding) []Binding {
	inner := reflect.TypeFor[*E]()
	out := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		if b.receiver != inner || b.invoke == nil {
			out = append(out, b)
			continue
		}
		invoke := b.invoke
		out = append(out, Binding{
			def:      b.def,
			receiver: reflect.TypeFor[*T](),
			params:   b.params,
			invoke: func(target any, args []any) {
				invoke(get(target.(*T)), args)
			},
		})
	}
	return out
}

func arg[A any](v any) A {
	if v == nil {
		var zero A
		return zero
	}
	return v.(A)
}
