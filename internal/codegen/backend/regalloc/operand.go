package regalloc

import "fmt"

// OperandKind is how an instruction accesses a register operand.
type OperandKind byte

const (
	// OperandKindUse reads the register.
	OperandKindUse OperandKind = iota
	// OperandKindDef writes the register.
	OperandKindDef
	// OperandKindMod reads and then writes the same register, like the destination of a two-address instruction.
	OperandKindMod
)

// OperandPos is when the access happens relative to the other operands of the instruction.
type OperandPos byte

const (
	// OperandPosLate defs are written after all the uses are read, so they may share a register with a use.
	// This is the default for defs.
	OperandPosLate OperandPos = iota
	// OperandPosEarly defs are written before some use is read, which is the case for multi-instruction
	// sequences. They never share a register with a use.
	OperandPosEarly
)

// OperandConstraint restricts the register chosen for an operand.
type OperandConstraint byte

const (
	// OperandConstraintAny allows any register of the class.
	OperandConstraintAny OperandConstraint = iota
	// OperandConstraintFixed requires Operand.Fixed, e.g. ABI argument registers or the implicit operands of x86 div.
	OperandConstraintFixed
	// OperandConstraintReuse requires the def to be in the same register as the use at Operand.Reuse.
	OperandConstraintReuse
)

// Operand is a register operand of an instruction, together with its constraint.
type Operand struct {
	VReg       VReg
	Kind       OperandKind
	Pos        OperandPos
	Constraint OperandConstraint
	Fixed      RealReg
	Reuse      int
}

// Use returns a use operand of v.
func Use(v VReg) Operand { return Operand{VReg: v, Kind: OperandKindUse} }

// Def returns a late def operand of v.
func Def(v VReg) Operand { return Operand{VReg: v, Kind: OperandKindDef} }

// Mod returns a read-modify-write operand of v.
func Mod(v VReg) Operand { return Operand{VReg: v, Kind: OperandKindMod} }

// ReuseDef returns a def of v which must be allocated to the register of the use operand at index use.
func ReuseDef(v VReg, use int) Operand {
	return Operand{VReg: v, Kind: OperandKindDef, Constraint: OperandConstraintReuse, Reuse: use}
}

// Early returns o as an early def.
func (o Operand) Early() Operand {
	o.Pos = OperandPosEarly
	return o
}

// FixedTo returns o constrained to the real register r.
func (o Operand) FixedTo(r RealReg) Operand {
	o.Constraint = OperandConstraintFixed
	o.Fixed = r
	return o
}

// IsUse returns true if the operand reads the register.
func (o Operand) IsUse() bool { return o.Kind == OperandKindUse || o.Kind == OperandKindMod }

// IsDef returns true if the operand writes the register.
func (o Operand) IsDef() bool { return o.Kind == OperandKindDef || o.Kind == OperandKindMod }

// String implements fmt.Stringer.
func (o Operand) String() string {
	var kind string
	switch o.Kind {
	case OperandKindUse:
		kind = "use"
	case OperandKindDef:
		kind = "def"
	case OperandKindMod:
		kind = "mod"
	}
	if o.Pos == OperandPosEarly {
		kind = "early " + kind
	}
	switch o.Constraint {
	case OperandConstraintFixed:
		return fmt.Sprintf("%s %s @%s", kind, o.VReg, o.Fixed)
	case OperandConstraintReuse:
		return fmt.Sprintf("%s %s reuse(%d)", kind, o.VReg, o.Reuse)
	default:
		return fmt.Sprintf("%s %s", kind, o.VReg)
	}
}
