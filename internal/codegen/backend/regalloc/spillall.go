package regalloc

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// allocator is the reference allocator: every virtual register lives in its spill slot, and is only held in a
// register around the single instruction using or defining it. It never produces fast code, but it needs no
// liveness information and exercises every constraint of the operand contract.
type allocator[I Instr] struct {
	info     *RegisterInfo
	f        Function[I]
	ops      []Operand
	assigned []RealReg
	out      []I
	clobber  RegSet
}

// Allocate assigns a real register to every operand of every instruction of f, inserting the reloads and spills
// around them.
func Allocate[I Instr](info *RegisterInfo, f Function[I]) error {
	a := &allocator[I]{info: info, f: f}
	for b := 0; b < f.Blocks(); b++ {
		a.out = nil
		for _, instr := range f.Block(b) {
			if err := a.allocateInstr(instr); err != nil {
				return err
			}
		}
		f.SetBlock(b, a.out)
	}
	f.ClobberedRegisters(a.clobber)
	f.Done()
	return nil
}

func (a *allocator[I]) allocateInstr(instr I) error {
	a.ops = instr.Operands(a.ops[:0])
	if len(a.ops) == 0 {
		a.out = append(a.out, instr)
		return nil
	}
	if instr.IsCopy() && len(a.ops) == 2 && !a.ops[0].VReg.IsRealReg() && !a.ops[1].VReg.IsRealReg() &&
		a.ops[0].Constraint == OperandConstraintAny && a.ops[1].Constraint == OperandConstraintAny {
		// The copy is coalesced into a reload of the source followed by a spill into the destination's slot.
		r, err := a.pick(a.ops[1].VReg.RegType(), 0, instr)
		if err != nil {
			return err
		}
		a.noteClobber(r)
		a.out = append(a.out, a.f.Reload(a.ops[1].VReg, r), a.f.Spill(a.ops[0].VReg, r))
		return nil
	}

	if cap(a.assigned) < len(a.ops) {
		a.assigned = make([]RealReg, len(a.ops))
	}
	a.assigned = a.assigned[:len(a.ops)]
	for i := range a.assigned {
		a.assigned[i] = RealRegInvalid
	}

	// Registers named by the instruction itself are never handed out as scratch.
	reserved := RegSet(0)
	for i, op := range a.ops {
		switch {
		case op.VReg.IsRealReg():
			a.assigned[i] = op.VReg.RealReg()
			reserved = reserved.Add(op.VReg.RealReg())
		case op.Constraint == OperandConstraintFixed:
			a.assigned[i] = op.Fixed
			reserved = reserved.Add(op.Fixed)
		}
	}

	// Uses first. A virtual register read twice is loaded once.
	usedByUses := RegSet(0)
	for i, op := range a.ops {
		if !op.IsUse() || a.assigned[i] != RealRegInvalid {
			continue
		}
		if j := a.sameUse(i); j >= 0 {
			a.assigned[i] = a.assigned[j]
			continue
		}
		r, err := a.pick(op.VReg.RegType(), reserved|usedByUses, instr)
		if err != nil {
			return err
		}
		a.assigned[i] = r
		usedByUses = usedByUses.Add(r)
	}
	for i, op := range a.ops {
		if op.IsUse() {
			usedByUses = usedByUses.Add(a.assigned[i])
		}
	}

	// Then defs. Reused and read-modify-write registers already hold a def.
	usedByDefs := RegSet(0)
	for i, op := range a.ops {
		if op.Kind == OperandKindMod {
			usedByDefs = usedByDefs.Add(a.assigned[i])
		} else if op.Kind == OperandKindDef && op.Constraint == OperandConstraintReuse {
			if op.Reuse >= i || !a.ops[op.Reuse].IsUse() {
				panic(fmt.Sprintf("BUG: operand %d of %s reuses a non-use operand", i, instr))
			}
			a.assigned[i] = a.assigned[op.Reuse]
			usedByDefs = usedByDefs.Add(a.assigned[i])
		} else if op.Kind == OperandKindDef && a.assigned[i] != RealRegInvalid {
			usedByDefs = usedByDefs.Add(a.assigned[i])
		}
	}
	for i, op := range a.ops {
		if op.Kind != OperandKindDef || a.assigned[i] != RealRegInvalid {
			continue
		}
		if instr.IsTerminator() {
			panic(fmt.Sprintf("BUG: terminator %s defines %s", instr, op.VReg))
		}
		avoid := reserved | usedByDefs | instr.Clobbers()
		if op.Pos == OperandPosEarly {
			avoid |= usedByUses
		}
		r, err := a.pick(op.VReg.RegType(), avoid, instr)
		if err != nil {
			return err
		}
		a.assigned[i] = r
		usedByDefs = usedByDefs.Add(r)
	}

	if codegenapi.RegAllocValidationEnabled {
		a.validate(instr)
	}

	// Reloads go right before the instruction.
	for i, op := range a.ops {
		if !op.IsUse() || op.VReg.IsRealReg() {
			continue
		}
		if j := a.sameUse(i); j >= 0 && a.assigned[j] == a.assigned[i] {
			continue
		}
		a.out = append(a.out, a.f.Reload(op.VReg, a.assigned[i]))
	}
	for i, op := range a.ops {
		a.noteClobber(a.assigned[i])
		if !op.VReg.IsRealReg() {
			instr.AssignOperand(i, a.assigned[i])
		}
	}
	a.out = append(a.out, instr)
	// And spills right after.
	for i, op := range a.ops {
		if op.IsDef() && !op.VReg.IsRealReg() {
			a.out = append(a.out, a.f.Spill(op.VReg, a.assigned[i]))
		}
	}
	return nil
}

// sameUse returns the index of an earlier use operand of the same virtual register without a fixed constraint, or -1.
func (a *allocator[I]) sameUse(i int) int {
	op := a.ops[i]
	if op.Constraint != OperandConstraintAny || op.Kind != OperandKindUse {
		return -1
	}
	for j := 0; j < i; j++ {
		o := a.ops[j]
		if o.Kind == OperandKindUse && o.Constraint == OperandConstraintAny && o.VReg.ID() == op.VReg.ID() {
			return j
		}
	}
	return -1
}

func (a *allocator[I]) pick(typ RegType, avoid RegSet, instr I) (RealReg, error) {
	for _, r := range a.info.AllocatableRegisters[typ] {
		if !avoid.Has(r) {
			return r, nil
		}
	}
	return RealRegInvalid, fmt.Errorf("regalloc: no %s register left for %s", typ, instr)
}

func (a *allocator[I]) noteClobber(r RealReg) {
	if a.info.CalleeSavedRegisters.Has(r) {
		a.clobber = a.clobber.Add(r)
	}
}

// validate checks that two different virtual registers live at the same time never share a register.
func (a *allocator[I]) validate(instr I) {
	for i, x := range a.ops {
		if a.assigned[i] == RealRegInvalid {
			panic(fmt.Sprintf("BUG: operand %d of %s is not allocated", i, instr))
		}
		for j := i + 1; j < len(a.ops); j++ {
			y := a.ops[j]
			if a.assigned[i] != a.assigned[j] || x.VReg.ID() == y.VReg.ID() {
				continue
			}
			if x.VReg.IsRealReg() || y.VReg.IsRealReg() {
				continue
			}
			shared := (x.IsUse() && y.IsDef() && y.Pos == OperandPosLate) ||
				(y.IsUse() && x.IsDef() && x.Pos == OperandPosLate) ||
				(x.Constraint == OperandConstraintReuse || y.Constraint == OperandConstraintReuse)
			if !shared {
				panic(fmt.Sprintf("BUG: %s and %s of %s share %s", x.VReg, y.VReg, instr, a.info.RealRegName(a.assigned[i])))
			}
		}
	}
}
