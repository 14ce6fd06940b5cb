package s390x

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// addressMode is the memory operand of loads and stores: a base, an optional index and a signed 20-bit
// displacement. Larger displacements go through r1 as the index.
type addressMode struct {
	kind addressModeKind
	rn   regalloc.VReg
	rm   regalloc.VReg
	imm  int64
	slot ssa.StackSlot
	trap codegenapi.TrapCode
}

type addressModeKind byte

const (
	// addressModeKindRegImm is rn + imm.
	addressModeKindRegImm addressModeKind = iota + 1

	// addressModeKindRegReg is rn + rm + imm.
	addressModeKindRegReg

	// addressModeKindStackSlot is imm bytes into the stack slot, relative to sp.
	addressModeKindStackSlot

	// addressModeKindIncoming is imm bytes above the stack pointer at the entry of the function, where the
	// register save area and the incoming stack arguments are.
	addressModeKindIncoming
)

func newAmodeRegImm(rn regalloc.VReg, imm int64) addressMode {
	return addressMode{kind: addressModeKindRegImm, rn: rn, rm: regalloc.VRegInvalid, imm: imm}
}

func newAmodeRegReg(rn, rm regalloc.VReg, imm int64) addressMode {
	return addressMode{kind: addressModeKindRegReg, rn: rn, rm: rm, imm: imm}
}

func newAmodeStackSlot(slot ssa.StackSlot, offset int64) addressMode {
	return addressMode{kind: addressModeKindStackSlot, slot: slot, imm: offset, rn: spVReg, rm: regalloc.VRegInvalid}
}

func newAmodeIncoming(offset int64) addressMode {
	return addressMode{kind: addressModeKindIncoming, imm: offset, rn: spVReg, rm: regalloc.VRegInvalid}
}

// String implements fmt.Stringer.
func (a *addressMode) String() string {
	switch a.kind {
	case addressModeKindRegImm:
		return fmt.Sprintf("%d(%s)", a.imm, formatVReg(a.rn))
	case addressModeKindRegReg:
		return fmt.Sprintf("%d(%s,%s)", a.imm, formatVReg(a.rm), formatVReg(a.rn))
	case addressModeKindStackSlot:
		return fmt.Sprintf("%s+%d(%%r15)", a.slot, a.imm)
	case addressModeKindIncoming:
		return fmt.Sprintf("incoming+%d", a.imm)
	default:
		panic("BUG: invalid addressMode kind")
	}
}

func (a *addressMode) visit(f func(p *regalloc.VReg, op regalloc.Operand)) {
	switch a.kind {
	case addressModeKindRegImm:
		f(&a.rn, regalloc.Use(a.rn))
	case addressModeKindRegReg:
		f(&a.rn, regalloc.Use(a.rn))
		f(&a.rm, regalloc.Use(a.rm))
	}
}

// fitsDisp20 reports whether v is a signed 20-bit displacement.
func fitsDisp20(v int64) bool { return v >= -(1<<19) && v < 1<<19 }

// fitsImm16 reports whether v is a signed 16-bit immediate.
func fitsImm16(v int64) bool { return v == int64(int16(v)) }

// fitsImm32 reports whether v is a signed 32-bit immediate.
func fitsImm32(v int64) bool { return v == int64(int32(v)) }
