package arm64

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// addressMode is the memory operand of loads and stores.
type addressMode struct {
	kind addressModeKind
	rn   regalloc.VReg
	// rm is the index of addressModeKindRegReg.
	rm  regalloc.VReg
	imm int64
	// shift is the left shift of rm, either zero or the log2 of the access size.
	shift byte
	// slot is the stack slot of addressModeKindStackSlot, whose offset is final after the register allocation.
	slot ssa.StackSlot
	// trap is the code of a fault of the access, if it may fault.
	trap codegenapi.TrapCode
}

type addressModeKind byte

const (
	// addressModeKindRegImm is rn + imm. The encoder picks the scaled, unscaled or register offset form.
	addressModeKindRegImm addressModeKind = iota + 1

	// addressModeKindRegReg is rn + rm << shift.
	addressModeKindRegReg

	// addressModeKindStackSlot is imm bytes into the stack slot, relative to sp.
	addressModeKindStackSlot

	// addressModeKindPreIndex writes rn + imm back to rn before the access.
	addressModeKindPreIndex

	// addressModeKindPostIndex writes rn + imm back to rn after the access.
	addressModeKindPostIndex
)

func newAmodeRegImm(rn regalloc.VReg, imm int64) addressMode {
	return addressMode{kind: addressModeKindRegImm, rn: rn, imm: imm}
}

func newAmodeRegReg(rn, rm regalloc.VReg, shift byte) addressMode {
	return addressMode{kind: addressModeKindRegReg, rn: rn, rm: rm, shift: shift}
}

func newAmodeStackSlot(slot ssa.StackSlot, offset int64) addressMode {
	return addressMode{kind: addressModeKindStackSlot, slot: slot, imm: offset, rn: spVReg}
}

// String implements fmt.Stringer.
func (a *addressMode) String() string {
	base := formatVRegSized(a.rn, 64)
	switch a.kind {
	case addressModeKindRegImm:
		if a.imm == 0 {
			return fmt.Sprintf("[%s]", base)
		}
		return fmt.Sprintf("[%s, #%d]", base, a.imm)
	case addressModeKindRegReg:
		if a.shift == 0 {
			return fmt.Sprintf("[%s, %s]", base, formatVRegSized(a.rm, 64))
		}
		return fmt.Sprintf("[%s, %s, lsl #%d]", base, formatVRegSized(a.rm, 64), a.shift)
	case addressModeKindStackSlot:
		return fmt.Sprintf("[sp, %s+%d]", a.slot, a.imm)
	case addressModeKindPreIndex:
		return fmt.Sprintf("[%s, #%d]!", base, a.imm)
	case addressModeKindPostIndex:
		return fmt.Sprintf("[%s], #%d", base, a.imm)
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
