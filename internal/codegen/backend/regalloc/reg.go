package regalloc

import (
	"fmt"
	"math/bits"

	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// VReg represents a register which is assigned to an SSA value. This is used to represent a register in the backend.
// A VReg may or may not be a physical register, and the info of physical register can be obtained by RealReg.
type VReg uint64

// VRegID is the lower 32bit of VReg, which is the pure identifier of VReg without RealReg info.
type VRegID uint32

// RealReg returns the RealReg of this VReg.
func (v VReg) RealReg() RealReg {
	return RealReg(v >> 32)
}

// IsRealReg returns true if this VReg is backed by a physical register.
func (v VReg) IsRealReg() bool {
	return v.RealReg() != RealRegInvalid
}

// FromRealReg returns a VReg from the given RealReg and RegType.
// This is used to represent a specific pre-colored register in the backend.
func FromRealReg(r RealReg, typ RegType) VReg {
	rid := VRegID(r)
	if rid > vRegIDReservedForRealNum {
		panic(fmt.Sprintf("invalid real reg %d", r))
	}
	return VReg(r).SetRealReg(r).SetRegType(typ)
}

// SetRealReg sets the RealReg of this VReg and returns the updated VReg.
func (v VReg) SetRealReg(r RealReg) VReg {
	return VReg(r)<<32 | (v & 0xff_00_ffffffff)
}

// RegType returns the RegType of this VReg.
func (v VReg) RegType() RegType {
	return RegType(v >> 40)
}

// SetRegType sets the RegType of this VReg and returns the updated VReg.
func (v VReg) SetRegType(t RegType) VReg {
	return VReg(t)<<40 | (v & 0x00_ff_ffffffff)
}

// ID returns the VRegID of this VReg.
func (v VReg) ID() VRegID {
	return VRegID(v & 0xffffffff)
}

// Valid returns true if this VReg is Valid.
func (v VReg) Valid() bool {
	return v.ID() != vRegIDInvalid && v.RegType() != RegTypeInvalid
}

// String implements fmt.Stringer.
func (v VReg) String() string {
	if v.IsRealReg() {
		return fmt.Sprintf("r%d", v.ID())
	}
	return fmt.Sprintf("v%d?", v.ID())
}

// RealReg represents a physical register.
type RealReg byte

const RealRegInvalid RealReg = 0

const (
	vRegIDInvalid VRegID = 1 << 31
	// VRegIDNonReservedBegin is the first ID handed out to virtual registers. The IDs below are
	// the ones of FromRealReg.
	VRegIDNonReservedBegin          = vRegIDReservedForRealNum
	vRegIDReservedForRealNum VRegID = 128
	VRegInvalid                     = VReg(vRegIDInvalid)
)

// String implements fmt.Stringer.
func (r RealReg) String() string {
	switch r {
	case RealRegInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("r%d", r)
	}
}

// RegType represents the type of a register.
type RegType byte

const (
	RegTypeInvalid RegType = iota
	RegTypeInt
	RegTypeFloat
	// RegTypeVector is the class of 128-bit vectors. On machines where floats and vectors share
	// one register file, both classes list the same real registers.
	RegTypeVector
	NumRegType
)

// String implements fmt.Stringer.
func (r RegType) String() string {
	switch r {
	case RegTypeInt:
		return "int"
	case RegTypeFloat:
		return "float"
	case RegTypeVector:
		return "vector"
	default:
		return "invalid"
	}
}

// RegTypeOf returns the RegType of the given ssa.Type. Each half of an i128 is an int register.
func RegTypeOf(p ssa.Type) RegType {
	switch {
	case p.IsInt(), p.IsRef():
		return RegTypeInt
	case p.IsFloat():
		return RegTypeFloat
	case p.IsVector():
		return RegTypeVector
	default:
		panic("invalid type")
	}
}

// VRegSet is a set of virtual registers backed by a bitset over the IDs.
type VRegSet struct {
	set bitset
}

// Contains returns true if v is in the set.
func (s *VRegSet) Contains(v VReg) bool {
	return s.set.has(uint(v.ID()))
}

// Insert adds v to the set.
func (s *VRegSet) Insert(v VReg) {
	if v.IsRealReg() {
		panic("BUG: cannot insert real registers in virtual register set")
	}
	s.set.set(uint(v.ID()))
}

// Len returns the number of registers in the set.
func (s *VRegSet) Len() (n int) {
	for _, w := range s.set.bits {
		n += bits.OnesCount64(w)
	}
	return
}

// Reset clears the set.
func (s *VRegSet) Reset() {
	s.set.reset()
}

type bitset struct {
	bits []uint64
}

func (b *bitset) reset() {
	for i := range b.bits {
		b.bits[i] = 0
	}
}

func (b *bitset) has(i uint) bool {
	index, shift := i/64, i%64
	return index < uint(len(b.bits)) && ((b.bits[index] & (1 << shift)) != 0)
}

func (b *bitset) set(i uint) {
	index, shift := i/64, i%64
	if index >= uint(len(b.bits)) {
		b.bits = append(b.bits, make([]uint64, (index+1)-uint(len(b.bits)))...)
	}
	b.bits[index] |= 1 << shift
}
