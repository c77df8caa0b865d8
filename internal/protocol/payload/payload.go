// Package payload maps a function's declared parameter types onto a
// fixed-arity wire record. Network object arguments travel as registry ids.
package payload

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/danmuck/lockstep/internal/protocol"
)

// MaxParams is the fixed arity of every payload record.
const MaxParams = 4

var (
	ErrTooManyParams   = errors.New("payload: too many parameters")
	ErrUnsupportedType = errors.New("payload: unsupported parameter type")
	ErrArgumentCount   = errors.New("payload: argument count mismatch")
	ErrArgumentType    = errors.New("payload: argument type mismatch")
	ErrObjectNotFound  = errors.New("payload: object not found")
	ErrDecode          = errors.New("payload: decode failed")
)

// Serializable marks an aggregate that may travel by value as JSON.
type Serializable interface {
	NetworkSerializable()
}

// Resolver substitutes network objects with ids and back.
type Resolver interface {
	GetRegisteredObjectId(obj any) (uint64, error)
	GetRegisteredObject(id uint64) (any, error)
}

type kind uint8

const (
	kindObject kind = iota + 1
	kindBinary
	kindJSON
	kindBool
	kindInt
	kindUint
	kindFloat
	kindString
	kindBytes
	kindList
)

var (
	objectType          = reflect.TypeFor[protocol.Object]()
	serializableType    = reflect.TypeFor[Serializable]()
	binaryMarshalerType = reflect.TypeFor[encoding.BinaryMarshaler]()
	binaryUnmarshalType = reflect.TypeFor[encoding.BinaryUnmarshaler]()
)

// codec is the encoding plan for one parameter or list element.
type codec struct {
	kind kind
	typ  reflect.Type
	elem *codec
}

// Type is the payload layout of one function signature.
type Type struct {
	params []reflect.Type
	codecs []*codec
}

// NewType validates params and builds their slot codecs.
func NewType(params []reflect.Type) (*Type, error) {
	if len(params) > MaxParams {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyParams, len(params), MaxParams)
	}
	t := &Type{
		params: append([]reflect.Type(nil), params...),
		codecs: make([]*codec, len(params)),
	}
	for i, p := range params {
		c, err := buildCodec(p, true)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		t.codecs[i] = c
	}
	return t, nil
}

func (t *Type) NumParams() int {
	return len(t.params)
}

func (t *Type) Params() []reflect.Type {
	return append([]reflect.Type(nil), t.params...)
}

func (t *Type) String() string {
	names := make([]string, len(t.params))
	for i, p := range t.params {
		names[i] = p.String()
	}
	return "(" + strings.Join(names, ", ") + ")"
}

func buildCodec(t reflect.Type, allowObject bool) (*codec, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil type", ErrUnsupportedType)
	}
	if t.Implements(objectType) {
		if !allowObject {
			return nil, fmt.Errorf("%w: %s: network objects are not list elements", ErrUnsupportedType, t)
		}
		if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface {
			return nil, fmt.Errorf("%w: %s: network objects must be pointers", ErrUnsupportedType, t)
		}
		return &codec{kind: kindObject, typ: t}, nil
	}
	if t.Kind() != reflect.Interface && t.Implements(binaryMarshalerType) && reflect.PointerTo(t).Implements(binaryUnmarshalType) {
		return &codec{kind: kindBinary, typ: t}, nil
	}
	if t.Kind() != reflect.Interface && (t.Implements(serializableType) || reflect.PointerTo(t).Implements(serializableType)) {
		return &codec{kind: kindJSON, typ: t}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return &codec{kind: kindBool, typ: t}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &codec{kind: kindInt, typ: t}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &codec{kind: kindUint, typ: t}, nil
	case reflect.Float32, reflect.Float64:
		return &codec{kind: kindFloat, typ: t}, nil
	case reflect.String:
		return &codec{kind: kindString, typ: t}, nil
	case reflect.Slice, reflect.Array:
		if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
			return &codec{kind: kindBytes, typ: t}, nil
		}
		elem, err := buildCodec(t.Elem(), false)
		if err != nil {
			return nil, err
		}
		return &codec{kind: kindList, typ: t, elem: elem}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
}
