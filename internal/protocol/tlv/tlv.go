package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrInvalidLength    = errors.New("tlv: invalid value length")
)

// Type IDs for payload slots.
const (
	TypeNil    uint8 = 0
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
	TypeI64    uint8 = 8
	TypeF64    uint8 = 9
	TypeList   uint8 = 10
	TypeBinary uint8 = 11
	TypeJSON   uint8 = 12
	TypeObject uint8 = 13
)

// Field is one decoded TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func EncodeField(f Field) []byte {
	buf := make([]byte, HeaderLen+len(f.Value))
	binary.BigEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = f.Type
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Value)))
	copy(buf[7:], f.Value)
	return buf
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += HeaderLen
		if uint32(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func EncodeFields(fields []Field) []byte {
	out := make([]byte, 0)
	for _, f := range fields {
		out = append(out, EncodeField(f)...)
	}
	return out
}

func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func MustType(f Field, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("tlv: field %d type mismatch: got %d want %d", f.ID, f.Type, expected)
	}
	return nil
}

func NewNil(id uint16) Field {
	return Field{ID: id, Type: TypeNil}
}

func NewU64(id uint16, v uint64) Field {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return Field{ID: id, Type: TypeU64, Value: b}
}

func NewI64(id uint16, v int64) Field {
	f := NewU64(id, uint64(v))
	f.Type = TypeI64
	return f
}

func NewF64(id uint16, v float64) Field {
	f := NewU64(id, math.Float64bits(v))
	f.Type = TypeF64
	return f
}

func NewObject(id uint16, objectID uint64) Field {
	f := NewU64(id, objectID)
	f.Type = TypeObject
	return f
}

func NewBool(id uint16, v bool) Field {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	return Field{ID: id, Type: TypeBool, Value: b}
}

func NewString(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func NewBytes(id uint16, v []byte) Field {
	return Field{ID: id, Type: TypeBytes, Value: append([]byte(nil), v...)}
}

// NewList nests element fields. Element ids are their zero-based index.
func NewList(id uint16, elems []Field) Field {
	return Field{ID: id, Type: TypeList, Value: EncodeFields(elems)}
}

func U64FromBytes(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: u64 %d", ErrInvalidLength, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func I64FromBytes(b []byte) (int64, error) {
	v, err := U64FromBytes(b)
	return int64(v), err
}

func F64FromBytes(b []byte) (float64, error) {
	v, err := U64FromBytes(b)
	return math.Float64frombits(v), err
}

func BoolFromBytes(b []byte) (bool, error) {
	if len(b) != 1 {
		return false, fmt.Errorf("%w: bool %d", ErrInvalidLength, len(b))
	}
	return b[0] != 0, nil
}
