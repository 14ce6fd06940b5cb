package amd64

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

type operand struct {
	kind  operandKind
	r     regalloc.VReg
	imm32 uint32
	amode amode
}

type operandKind byte

const (
	// operandKindReg is an operand which is a register.
	operandKindReg operandKind = iota + 1

	// operandKindMem is an operand which is a value in memory. This can denote an 8, 16, 32, 64, or 128 bit value.
	operandKindMem

	// operandKindImm32 is a 32-bit immediate, sign-extended to 64 bits by 64-bit instructions.
	operandKindImm32
)

func (o *operand) format(size byte) string {
	switch o.kind {
	case operandKindReg:
		return formatVRegSized(o.r, size)
	case operandKindMem:
		return o.amode.String()
	case operandKindImm32:
		return fmt.Sprintf("$%d", int32(o.imm32))
	default:
		panic("BUG: invalid operand kind")
	}
}

func newOperandReg(r regalloc.VReg) operand {
	return operand{kind: operandKindReg, r: r}
}

func newOperandImm32(imm32 uint32) operand {
	return operand{kind: operandKindImm32, imm32: imm32}
}

func newOperandMem(a amode) operand {
	return operand{kind: operandKindMem, amode: a}
}

// visit calls f with each register read by the operand.
func (o *operand) visit(f func(p *regalloc.VReg, op regalloc.Operand)) {
	switch o.kind {
	case operandKindReg:
		f(&o.r, regalloc.Use(o.r))
	case operandKindMem:
		o.amode.visit(f)
	}
}

// amode is a memory operand (addressing mode).
type amode struct {
	kind  amodeKind
	imm32 uint32
	base  regalloc.VReg

	// For amodeRegRegShift:
	index regalloc.VReg
	shift byte // 0, 1, 2, 3

	// For amodeStackSlot, the offset is only known once the spill slots are all allocated.
	slot ssa.StackSlot

	// trap is the code of a fault of the access, if it may fault.
	trap codegenapi.TrapCode
}

type amodeKind byte

const (
	// amodeImmReg calculates sign-extend-32-to-64(Immediate) + base
	amodeImmReg amodeKind = iota + 1

	// amodeRegRegShift calculates sign-extend-32-to-64(Immediate) + base + (Register2 << Shift)
	amodeRegRegShift

	// amodeStackSlot is imm32 bytes into the explicit stack slot, relative to rsp.
	amodeStackSlot

	// amodeRipRelative is imm32 bytes from the end of the instruction.
	amodeRipRelative
)

func newAmodeImmReg(imm32 uint32, base regalloc.VReg) amode {
	return amode{kind: amodeImmReg, imm32: imm32, base: base}
}

func newAmodeRegRegShift(imm32 uint32, base, index regalloc.VReg, shift byte) amode {
	if shift > 3 {
		panic(fmt.Sprintf("BUG: invalid shift (must be 3>=): %d", shift))
	}
	return amode{kind: amodeRegRegShift, imm32: imm32, base: base, index: index, shift: shift}
}

func newAmodeStackSlot(slot ssa.StackSlot, offset uint32) amode {
	return amode{kind: amodeStackSlot, slot: slot, imm32: offset, base: rspVReg}
}

// String implements fmt.Stringer.
func (a *amode) String() string {
	switch a.kind {
	case amodeImmReg:
		if a.imm32 == 0 {
			return fmt.Sprintf("(%s)", formatVRegSized(a.base, 8))
		}
		return fmt.Sprintf("%d(%s)", int32(a.imm32), formatVRegSized(a.base, 8))
	case amodeRegRegShift:
		shift := 1 << a.shift
		if a.imm32 == 0 {
			return fmt.Sprintf("(%s,%s,%d)", formatVRegSized(a.base, 8), formatVRegSized(a.index, 8), shift)
		}
		return fmt.Sprintf("%d(%s,%s,%d)",
			int32(a.imm32), formatVRegSized(a.base, 8), formatVRegSized(a.index, 8), shift)
	case amodeStackSlot:
		return fmt.Sprintf("%s+%d(%%rsp)", a.slot, a.imm32)
	case amodeRipRelative:
		return fmt.Sprintf("%d(%%rip)", int32(a.imm32))
	default:
		panic("BUG: invalid amode kind")
	}
}

func (a *amode) visit(f func(p *regalloc.VReg, op regalloc.Operand)) {
	switch a.kind {
	case amodeImmReg:
		f(&a.base, regalloc.Use(a.base))
	case amodeRegRegShift:
		f(&a.base, regalloc.Use(a.base))
		f(&a.index, regalloc.Use(a.index))
	}
}
