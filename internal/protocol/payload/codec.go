package payload

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/danmuck/lockstep/internal/protocol/tlv"
)

// Encode writes every slot as one tlv field with id slot+1. Padding slots
// are written as nil fields so the record keeps its fixed arity.
func (t *Type) Encode(in *Instance) ([]byte, error) {
	if in == nil {
		return nil, nil
	}
	fields := make([]tlv.Field, 0, MaxParams)
	for i := 0; i < MaxParams; i++ {
		id := uint16(i + 1)
		if i >= len(t.codecs) {
			fields = append(fields, tlv.NewNil(id))
			continue
		}
		f, err := encodeValue(t.codecs[i], id, in.slots[i])
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		fields = append(fields, f)
	}
	return tlv.EncodeFields(fields), nil
}

// Decode parses a payload produced by Encode. Object slots stay as ids
// until RecoverArgumentsFromInstance.
func (t *Type) Decode(b []byte) (*Instance, error) {
	if len(t.codecs) == 0 {
		return nil, nil
	}
	fields, err := tlv.DecodeFields(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	in := newInstance(t)
	for i, c := range t.codecs {
		f, ok := tlv.GetField(fields, uint16(i+1))
		if !ok {
			return nil, fmt.Errorf("%w: missing param %d", ErrDecode, i)
		}
		v, err := decodeValue(c, f)
		if err != nil {
			return nil, fmt.Errorf("%w: param %d: %w", ErrDecode, i, err)
		}
		in.slots[i] = v
	}
	return in, nil
}

func encodeValue(c *codec, id uint16, slot any) (tlv.Field, error) {
	if c.kind == kindObject {
		ref, ok := slot.(objectRef)
		if !ok {
			return tlv.Field{}, fmt.Errorf("%w: expected object id, got %T", ErrArgumentType, slot)
		}
		return tlv.NewObject(id, uint64(ref)), nil
	}
	if slot == nil {
		return tlv.NewNil(id), nil
	}
	return encodeReflect(c, id, reflect.ValueOf(slot))
}

func encodeReflect(c *codec, id uint16, v reflect.Value) (tlv.Field, error) {
	switch c.kind {
	case kindBool:
		return tlv.NewBool(id, v.Bool()), nil
	case kindInt:
		return tlv.NewI64(id, v.Int()), nil
	case kindUint:
		return tlv.NewU64(id, v.Uint()), nil
	case kindFloat:
		return tlv.NewF64(id, v.Float()), nil
	case kindString:
		return tlv.NewString(id, v.String()), nil
	case kindBytes:
		if v.IsNil() {
			return tlv.NewNil(id), nil
		}
		return tlv.NewBytes(id, v.Bytes()), nil
	case kindList:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return tlv.NewNil(id), nil
		}
		if v.Len() > math.MaxUint16 {
			return tlv.Field{}, fmt.Errorf("%w: list of %d elements", ErrUnsupportedType, v.Len())
		}
		elems := make([]tlv.Field, v.Len())
		for i := 0; i < v.Len(); i++ {
			f, err := encodeReflect(c.elem, uint16(i), v.Index(i))
			if err != nil {
				return tlv.Field{}, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = f
		}
		return tlv.NewList(id, elems), nil
	case kindBinary:
		b, err := v.Interface().(encoding.BinaryMarshaler).MarshalBinary()
		if err != nil {
			return tlv.Field{}, err
		}
		return tlv.Field{ID: id, Type: tlv.TypeBinary, Value: b}, nil
	case kindJSON:
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Slice || v.Kind() == reflect.Map) && v.IsNil() {
			return tlv.NewNil(id), nil
		}
		b, err := json.Marshal(v.Interface())
		if err != nil {
			return tlv.Field{}, err
		}
		return tlv.Field{ID: id, Type: tlv.TypeJSON, Value: b}, nil
	default:
		return tlv.Field{}, fmt.Errorf("%w: %s", ErrUnsupportedType, c.typ)
	}
}

func decodeValue(c *codec, f tlv.Field) (any, error) {
	if c.kind == kindObject {
		if err := tlv.MustType(f, tlv.TypeObject); err != nil {
			return nil, err
		}
		id, err := tlv.U64FromBytes(f.Value)
		if err != nil {
			return nil, err
		}
		return objectRef(id), nil
	}
	v, err := decodeReflect(c, f)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func decodeReflect(c *codec, f tlv.Field) (reflect.Value, error) {
	out := reflect.New(c.typ).Elem()
	if f.Type == tlv.TypeNil {
		switch c.typ.Kind() {
		case reflect.Slice, reflect.Pointer, reflect.Map:
			return out, nil
		}
		return out, fmt.Errorf("nil value for %s", c.typ)
	}

	switch c.kind {
	case kindBool:
		if err := tlv.MustType(f, tlv.TypeBool); err != nil {
			return out, err
		}
		b, err := tlv.BoolFromBytes(f.Value)
		if err != nil {
			return out, err
		}
		out.SetBool(b)
	case kindInt:
		if err := tlv.MustType(f, tlv.TypeI64); err != nil {
			return out, err
		}
		n, err := tlv.I64FromBytes(f.Value)
		if err != nil {
			return out, err
		}
		if out.OverflowInt(n) {
			return out, fmt.Errorf("value %d overflows %s", n, c.typ)
		}
		out.SetInt(n)
	case kindUint:
		if err := tlv.MustType(f, tlv.TypeU64); err != nil {
			return out, err
		}
		n, err := tlv.U64FromBytes(f.Value)
		if err != nil {
			return out, err
		}
		if out.OverflowUint(n) {
			return out, fmt.Errorf("value %d overflows %s", n, c.typ)
		}
		out.SetUint(n)
	case kindFloat:
		if err := tlv.MustType(f, tlv.TypeF64); err != nil {
			return out, err
		}
		n, err := tlv.F64FromBytes(f.Value)
		if err != nil {
			return out, err
		}
		out.SetFloat(n)
	case kindString:
		if err := tlv.MustType(f, tlv.TypeString); err != nil {
			return out, err
		}
		out.SetString(string(f.Value))
	case kindBytes:
		if err := tlv.MustType(f, tlv.TypeBytes); err != nil {
			return out, err
		}
		out.SetBytes(append([]byte{}, f.Value...))
	case kindList:
		if err := tlv.MustType(f, tlv.TypeList); err != nil {
			return out, err
		}
		elems, err := tlv.DecodeFields(f.Value)
		if err != nil {
			return out, err
		}
		if c.typ.Kind() == reflect.Array {
			if len(elems) != c.typ.Len() {
				return out, fmt.Errorf("array length %d want %d", len(elems), c.typ.Len())
			}
		} else {
			out.Set(reflect.MakeSlice(c.typ, len(elems), len(elems)))
		}
		for i, ef := range elems {
			ev, err := decodeReflect(c.elem, ef)
			if err != nil {
				return out, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
	case kindBinary:
		if err := tlv.MustType(f, tlv.TypeBinary); err != nil {
			return out, err
		}
		if err := out.Addr().Interface().(encoding.BinaryUnmarshaler).UnmarshalBinary(f.Value); err != nil {
			return out, err
		}
	case kindJSON:
		if err := tlv.MustType(f, tlv.TypeJSON); err != nil {
			return out, err
		}
		if err := json.Unmarshal(f.Value, out.Addr().Interface()); err != nil {
			return out, err
		}
	default:
		return out, fmt.Errorf("%w: %s", ErrUnsupportedType, c.typ)
	}
	return out, nil
}
