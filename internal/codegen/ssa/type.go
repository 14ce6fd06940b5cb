package ssa

import "fmt"

// Type is the type of a Value.
type Type byte

const (
	typeInvalid Type = iota

	// TypeI8 represents an integer type with 8 bits.
	TypeI8
	// TypeI16 represents an integer type with 16 bits.
	TypeI16
	// TypeI32 represents an integer type with 32 bits.
	TypeI32
	// TypeI64 represents an integer type with 64 bits.
	TypeI64
	// TypeI128 represents an integer type with 128 bits. It lives in a pair of integer registers.
	TypeI128
	// TypeF32 represents 32-bit floats in the IEEE 754.
	TypeF32
	// TypeF64 represents 64-bit floats in the IEEE 754.
	TypeF64
	// TypeR64 represents a 64-bit reference which must be tracked in stack maps.
	TypeR64

	// TypeI8x16 and the following are the 128-bit vector types.
	TypeI8x16
	TypeI16x8
	TypeI32x4
	TypeI64x2
	TypeF32x4
	TypeF64x2

	typeEnd
)

// Types lists all the valid types.
var Types = []Type{
	TypeI8, TypeI16, TypeI32, TypeI64, TypeI128, TypeF32, TypeF64, TypeR64,
	TypeI8x16, TypeI16x8, TypeI32x4, TypeI64x2, TypeF32x4, TypeF64x2,
}

// String implements fmt.Stringer.
func (t Type) String() (ret string) {
	switch t {
	case typeInvalid:
		return "invalid"
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeI128:
		return "i128"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeR64:
		return "r64"
	case TypeI8x16:
		return "i8x16"
	case TypeI16x8:
		return "i16x8"
	case TypeI32x4:
		return "i32x4"
	case TypeI64x2:
		return "i64x2"
	case TypeF32x4:
		return "f32x4"
	case TypeF64x2:
		return "f64x2"
	default:
		panic(fmt.Sprintf("unknown type %d", t))
	}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if t.String() == s {
			return t, nil
		}
	}
	return typeInvalid, fmt.Errorf("unknown type %q", s)
}

// IsInt returns true if the type is a scalar integer type, including i128.
func (t Type) IsInt() bool {
	return t >= TypeI8 && t <= TypeI128
}

// IsFloat returns true if the type is a scalar floating point type.
func (t Type) IsFloat() bool {
	return t == TypeF32 || t == TypeF64
}

// IsRef returns true if the type is a reference type.
func (t Type) IsRef() bool {
	return t == TypeR64
}

// IsVector returns true if the type is a 128-bit vector type.
func (t Type) IsVector() bool {
	return t >= TypeI8x16 && t <= TypeF64x2
}

// IsIntOrIntVector returns true if the type is an integer or its lanes are integers.
func (t Type) IsIntOrIntVector() bool {
	return t.IsInt() || (t.IsVector() && t.LaneType().IsInt())
}

// IsFloatOrFloatVector returns true if the type is a float or its lanes are floats.
func (t Type) IsFloatOrFloatVector() bool {
	return t.IsFloat() || (t.IsVector() && t.LaneType().IsFloat())
}

// Bits returns the number of bits required to represent the type.
func (t Type) Bits() byte {
	switch t {
	case TypeI8:
		return 8
	case TypeI16:
		return 16
	case TypeI32, TypeF32:
		return 32
	case TypeI64, TypeF64, TypeR64:
		return 64
	case TypeI128:
		return 128
	default:
		if t.IsVector() {
			return 128
		}
		panic(int(t))
	}
}

// Size returns the number of bytes required to represent the type.
func (t Type) Size() byte {
	return t.Bits() / 8
}

// LaneType returns the type of a lane of a vector type, or t itself for scalars.
func (t Type) LaneType() Type {
	switch t {
	case TypeI8x16:
		return TypeI8
	case TypeI16x8:
		return TypeI16
	case TypeI32x4:
		return TypeI32
	case TypeI64x2:
		return TypeI64
	case TypeF32x4:
		return TypeF32
	case TypeF64x2:
		return TypeF64
	default:
		return t
	}
}

// LaneCount returns the number of lanes, which is 1 for scalars.
func (t Type) LaneCount() int {
	if !t.IsVector() {
		return 1
	}
	return 128 / int(t.LaneType().Bits())
}

// VectorOf returns the 128-bit vector type whose lanes are lane.
func VectorOf(lane Type) Type {
	switch lane {
	case TypeI8:
		return TypeI8x16
	case TypeI16:
		return TypeI16x8
	case TypeI32:
		return TypeI32x4
	case TypeI64:
		return TypeI64x2
	case TypeF32:
		return TypeF32x4
	case TypeF64:
		return TypeF64x2
	default:
		return typeInvalid
	}
}

// HalfWidth returns the integer type with half the width, used by i128 splitting and pairwise ops.
func (t Type) HalfWidth() Type {
	switch t {
	case TypeI128:
		return TypeI64
	case TypeI64:
		return TypeI32
	case TypeI32:
		return TypeI16
	case TypeI16:
		return TypeI8
	case TypeI16x8:
		return TypeI8x16
	case TypeI32x4:
		return TypeI16x8
	case TypeI64x2:
		return TypeI32x4
	default:
		return typeInvalid
	}
}

// IntOfBits returns the scalar integer type with the given width.
func IntOfBits(bits byte) Type {
	switch bits {
	case 8:
		return TypeI8
	case 16:
		return TypeI16
	case 32:
		return TypeI32
	case 64:
		return TypeI64
	case 128:
		return TypeI128
	default:
		return typeInvalid
	}
}

func (t Type) invalid() bool {
	return t == typeInvalid
}

// Valid returns true if t is one of Types.
func (t Type) Valid() bool {
	return t > typeInvalid && t < typeEnd
}
