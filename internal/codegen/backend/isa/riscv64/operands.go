package riscv64

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// addressMode is the memory operand of loads and stores. RISC-V only has base plus a signed 12-bit offset;
// larger offsets are added to the base in t6 by the encoder.
type addressMode struct {
	kind addressModeKind
	rn   regalloc.VReg
	imm  int64
	// slot is the stack slot of addressModeKindStackSlot, whose offset is final after the register allocation.
	slot ssa.StackSlot
	// trap is the code of a fault of the access, if it may fault.
	trap codegenapi.TrapCode
}

type addressModeKind byte

const (
	// addressModeKindRegImm is rn + imm.
	addressModeKindRegImm addressModeKind = iota + 1

	// addressModeKindStackSlot is imm bytes into the stack slot, relative to sp.
	addressModeKindStackSlot
)

func newAmodeRegImm(rn regalloc.VReg, imm int64) addressMode {
	return addressMode{kind: addressModeKindRegImm, rn: rn, imm: imm}
}

func newAmodeStackSlot(slot ssa.StackSlot, offset int64) addressMode {
	return addressMode{kind: addressModeKindStackSlot, slot: slot, imm: offset, rn: spVReg}
}

// String implements fmt.Stringer.
func (a *addressMode) String() string {
	switch a.kind {
	case addressModeKindRegImm:
		return fmt.Sprintf("%d(%s)", a.imm, formatVReg(a.rn))
	case addressModeKindStackSlot:
		return fmt.Sprintf("%s+%d(sp)", a.slot, a.imm)
	default:
		panic("BUG: invalid addressMode kind")
	}
}

func (a *addressMode) visit(f func(p *regalloc.VReg, op regalloc.Operand)) {
	if a.kind == addressModeKindRegImm {
		f(&a.rn, regalloc.Use(a.rn))
	}
}

// fitsImm12 reports whether v is a signed 12-bit immediate.
func fitsImm12(v int64) bool { return v >= -2048 && v <= 2047 }
