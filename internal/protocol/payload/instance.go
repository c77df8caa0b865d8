package payload

import (
	"fmt"
	"reflect"
)

// Placeholder pads unused slots up to MaxParams.
type Placeholder struct{}

// objectRef is a network object argument after id substitution.
type objectRef uint64

// Instance is one fixed-arity argument record. A nil *Instance means the
// call carries no payload.
type Instance struct {
	typ   *Type
	slots [MaxParams]any
}

// Slot returns the raw slot value: a plain value, an object id, or a Placeholder.
func (in *Instance) Slot(i int) any {
	if v, ok := in.slots[i].(objectRef); ok {
		return uint64(v)
	}
	return in.slots[i]
}

func (in *Instance) Type() *Type {
	return in.typ
}

func newInstance(t *Type) *Instance {
	in := &Instance{typ: t}
	for i := range in.slots {
		in.slots[i] = Placeholder{}
	}
	return in
}

// CreateInstanceFromArguments builds the record for args. Network object
// arguments are replaced by their registry id and a nil object becomes id 0.
// A signature without parameters yields a nil instance.
func (t *Type) CreateInstanceFromArguments(r Resolver, args ...any) (*Instance, error) {
	if len(args) != len(t.params) {
		return nil, fmt.Errorf("%w: got %d want %d", ErrArgumentCount, len(args), len(t.params))
	}
	if len(args) == 0 {
		return nil, nil
	}
	in := newInstance(t)
	for i, arg := range args {
		c := t.codecs[i]
		if c.kind == kindObject {
			id, err := objectID(r, c.typ, arg)
			if err != nil {
				return nil, fmt.Errorf("param %d: %w", i, err)
			}
			in.slots[i] = objectRef(id)
			continue
		}
		v, err := coerce(c.typ, arg)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		in.slots[i] = v
	}
	return in, nil
}

// RecoverArgumentsFromInstance reads back the declared parameters, resolving
// object ids to live objects.
func (t *Type) RecoverArgumentsFromInstance(r Resolver, in *Instance) ([]any, error) {
	if len(t.params) == 0 {
		return []any{}, nil
	}
	if in == nil {
		return nil, fmt.Errorf("%w: missing payload for %d params", ErrArgumentCount, len(t.params))
	}
	out := make([]any, len(t.params))
	for i, p := range t.params {
		c := t.codecs[i]
		if c.kind != kindObject {
			out[i] = in.slots[i]
			continue
		}
		ref, ok := in.slots[i].(objectRef)
		if !ok {
			return nil, fmt.Errorf("%w: param %d is not an object id", ErrArgumentType, i)
		}
		if ref == 0 {
			out[i] = reflect.Zero(p).Interface()
			continue
		}
		obj, err := r.GetRegisteredObject(uint64(ref))
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		if obj == nil {
			return nil, fmt.Errorf("%w: param %d id=%d", ErrObjectNotFound, i, ref)
		}
		if !reflect.TypeOf(obj).AssignableTo(p) {
			return nil, fmt.Errorf("%w: param %d id=%d is %T not %s", ErrArgumentType, i, ref, obj, p)
		}
		out[i] = obj
	}
	return out, nil
}

func objectID(r Resolver, p reflect.Type, arg any) (uint64, error) {
	if isNil(arg) {
		return 0, nil
	}
	if !reflect.TypeOf(arg).AssignableTo(p) {
		return 0, fmt.Errorf("%w: %T is not %s", ErrArgumentType, arg, p)
	}
	return r.GetRegisteredObjectId(arg)
}

// coerce returns arg boxed as exactly type p.
func coerce(p reflect.Type, arg any) (any, error) {
	if arg == nil {
		switch p.Kind() {
		case reflect.Slice, reflect.Pointer, reflect.Map, reflect.Interface:
			return reflect.Zero(p).Interface(), nil
		}
		return nil, fmt.Errorf("%w: nil is not %s", ErrArgumentType, p)
	}
	v := reflect.ValueOf(arg)
	if !v.Type().AssignableTo(p) {
		return nil, fmt.Errorf("%w: %T is not %s", ErrArgumentType, arg, p)
	}
	out := reflect.New(p).Elem()
	out.Set(v)
	return out.Interface(), nil
}

func isNil(arg any) bool {
	if arg == nil {
		return true
	}
	v := reflect.ValueOf(arg)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
