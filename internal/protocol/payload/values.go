package payload

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Common value types that travel by value. Each encodes as consecutive
// big-endian float32 components.

type Vec2 struct{ X, Y float32 }

type Vec3 struct{ X, Y, Z float32 }

type Vec4 struct{ X, Y, Z, W float32 }

type Quat struct{ X, Y, Z, W float32 }

type Color struct{ R, G, B, A float32 }

type Rect struct{ X, Y, Width, Height float32 }

func (v Vec2) MarshalBinary() ([]byte, error)   { return putFloats(v.X, v.Y), nil }
func (v *Vec2) UnmarshalBinary(b []byte) error  { return getFloats(b, &v.X, &v.Y) }
func (v Vec3) MarshalBinary() ([]byte, error)   { return putFloats(v.X, v.Y, v.Z), nil }
func (v *Vec3) UnmarshalBinary(b []byte) error  { return getFloats(b, &v.X, &v.Y, &v.Z) }
func (v Vec4) MarshalBinary() ([]byte, error)   { return putFloats(v.X, v.Y, v.Z, v.W), nil }
func (v *Vec4) UnmarshalBinary(b []byte) error  { return getFloats(b, &v.X, &v.Y, &v.Z, &v.W) }
func (q Quat) MarshalBinary() ([]byte, error)   { return putFloats(q.X, q.Y, q.Z, q.W), nil }
func (q *Quat) UnmarshalBinary(b []byte) error  { return getFloats(b, &q.X, &q.Y, &q.Z, &q.W) }
func (c Color) MarshalBinary() ([]byte, error)  { return putFloats(c.R, c.G, c.B, c.A), nil }
func (c *Color) UnmarshalBinary(b []byte) error { return getFloats(b, &c.R, &c.G, &c.B, &c.A) }
func (r Rect) MarshalBinary() ([]byte, error)   { return putFloats(r.X, r.Y, r.Width, r.Height), nil }
func (r *Rect) UnmarshalBinary(b []byte) error  { return getFloats(b, &r.X, &r.Y, &r.Width, &r.Height) }

func putFloats(vs ...float32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func getFloats(b []byte, dst ...*float32) error {
	if len(b) != 4*len(dst) {
		return fmt.Errorf("payload: value length %d want %d", len(b), 4*len(dst))
	}
	for i, d := range dst {
		*d = math.Float32frombits(binary.BigEndian.Uint32(b[i*4:]))
	}
	return nil
}
