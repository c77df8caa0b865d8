package tlv

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		{ID: 1, Type: TypeString, Value: []byte("intent-1")},
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b := EncodeFields(in)
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestScalarConstructorsRoundTrip(t *testing.T) {
	fields := []Field{
		NewI64(1, -12),
		NewF64(2, math.Pi),
		NewBool(3, true),
		NewObject(4, 77),
		NewNil(5),
	}
	out, err := DecodeFields(EncodeFields(fields))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if v, err := I64FromBytes(out[0].Value); err != nil || v != -12 {
		t.Fatalf("unexpected i64=%d err=%v", v, err)
	}
	if v, err := F64FromBytes(out[1].Value); err != nil || v != math.Pi {
		t.Fatalf("unexpected f64=%v err=%v", v, err)
	}
	if v, err := BoolFromBytes(out[2].Value); err != nil || !v {
		t.Fatalf("unexpected bool=%v err=%v", v, err)
	}
	if err := MustType(out[3], TypeObject); err != nil {
		t.Fatalf("object type: %v", err)
	}
	if out[4].Type != TypeNil || len(out[4].Value) != 0 {
		t.Fatalf("unexpected nil field: %+v", out[4])
	}
}

func TestNestedList(t *testing.T) {
	list := NewList(1, []Field{NewString(0, "a"), NewString(1, "b")})
	out, err := DecodeFields(EncodeField(list))
	if err != nil {
		t.Fatalf("decode list: %v", err)
	}
	elems, err := DecodeFields(out[0].Value)
	if err != nil {
		t.Fatalf("decode elems: %v", err)
	}
	if len(elems) != 2 || string(elems[1].Value) != "b" {
		t.Fatalf("unexpected elems: %+v", elems)
	}
}

func TestScalarReadersRejectBadLength(t *testing.T) {
	if _, err := U64FromBytes([]byte{1}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	if _, err := BoolFromBytes(nil); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}
