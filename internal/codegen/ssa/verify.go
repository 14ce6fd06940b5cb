package ssa

import (
	"fmt"
)

// ValidationError is returned by Builder.Verify when the function is malformed.
type ValidationError struct {
	// Func is the name of the function.
	Func string
	// Block is the block where the problem was found.
	Block BasicBlockID
	// Inst is the formatted instruction if any.
	Inst string
	// Msg describes the problem.
	Msg string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Inst != "" {
		return fmt.Sprintf("verifier: %s: %s: %s: %s", e.Func, e.Block, e.Inst, e.Msg)
	}
	return fmt.Sprintf("verifier: %s: %s: %s", e.Func, e.Block, e.Msg)
}

// valueDef is the location of a Value definition. index is -1 for block parameters.
type valueDef struct {
	blk   *basicBlock
	index int
}

// Verify implements Builder.Verify.
func (b *builder) Verify() error {
	v := verifier{b: b, defs: make(map[ValueID]valueDef)}
	return v.run()
}

type verifier struct {
	b    *builder
	defs map[ValueID]valueDef
	blk  *basicBlock
	inst *Instruction
}

func (v *verifier) errorf(format string, args ...any) error {
	e := &ValidationError{Func: v.b.name, Msg: fmt.Sprintf(format, args...)}
	if v.blk != nil {
		e.Block = v.blk.id
	}
	if v.inst != nil {
		e.Inst = v.inst.Format(v.b)
	}
	return e
}

func (v *verifier) run() error {
	b := v.b
	entry := b.entryBlk()
	if b.basicBlocksPool.Allocated() == 0 || entry.rootInstr == nil {
		return &ValidationError{Func: b.name, Msg: "function has no instructions"}
	}

	if sig := b.currentSignature; sig != nil {
		v.blk = entry
		if len(entry.params) != len(sig.Params) {
			return v.errorf("entry block has %d params but the signature has %d", len(entry.params), len(sig.Params))
		}
		for i, p := range entry.params {
			if p.typ != sig.Params[i].Type {
				return v.errorf("entry block param %d has type %s but the signature says %s", i, p.typ, sig.Params[i].Type)
			}
		}
	}

	// Collect definitions first so that forward references across blocks are checked by dominance.
	for blk := b.blockIteratorBegin(); blk != nil; blk = b.blockIteratorNext() {
		v.blk = blk
		for _, p := range blk.params {
			if err := v.define(p.value, valueDef{blk: blk, index: -1}); err != nil {
				return err
			}
		}
		index := 0
		for cur := blk.rootInstr; cur != nil; cur = cur.next {
			v.inst = cur
			r, rs := cur.Returns()
			if r.Valid() {
				if err := v.define(r, valueDef{blk: blk, index: index}); err != nil {
					return err
				}
			}
			for _, r := range rs {
				if err := v.define(r, valueDef{blk: blk, index: index}); err != nil {
					return err
				}
			}
			index++
		}
		v.inst = nil
	}

	for blk := b.blockIteratorBegin(); blk != nil; blk = b.blockIteratorNext() {
		v.blk, v.inst = blk, nil
		if blk.rootInstr == nil {
			return v.errorf("block is empty")
		}
		if !blk.currentInstr.opcode.IsTerminator() {
			v.inst = blk.currentInstr
			return v.errorf("block does not end with a terminator")
		}
		index := 0
		for cur := blk.rootInstr; cur != nil; cur = cur.next {
			v.inst = cur
			if cur.opcode.IsTerminator() && cur.next != nil {
				return v.errorf("terminator in the middle of the block")
			}
			if (cur.opcode == OpcodeBrz || cur.opcode == OpcodeBrnz) && (cur.next == nil || cur.next.opcode != OpcodeJump) {
				return v.errorf("conditional branch must be followed by a jump")
			}
			var err error
			cur.forEachArg(func(arg *Value) {
				if err == nil {
					err = v.checkUse(b.resolveAlias(*arg), index)
				}
			})
			if err != nil {
				return err
			}
			if err := v.checkTypes(cur); err != nil {
				return err
			}
			index++
		}
	}
	return nil
}

func (v *verifier) define(value Value, def valueDef) error {
	if _, ok := v.defs[value.ID()]; ok {
		return v.errorf("%s is defined more than once", value.Format(v.b))
	}
	v.defs[value.ID()] = def
	return nil
}

func (v *verifier) checkUse(value Value, index int) error {
	def, ok := v.defs[value.ID()]
	if !ok {
		return v.errorf("use of undefined value %s", value.Format(v.b))
	}
	if def.blk == v.blk {
		if def.index >= index {
			return v.errorf("%s is used before its definition", value.Format(v.b))
		}
		return nil
	}
	if len(v.b.dominators) == 0 || v.blk.reversePostOrder < 0 || def.blk.reversePostOrder < 0 {
		// Dominance is only checked once the dominator tree is available.
		return nil
	}
	if !v.b.isDominatedBy(v.blk, def.blk) {
		return v.errorf("%s is used in %s but defined in %s which does not dominate it",
			value.Format(v.b), v.blk.Name(), def.blk.Name())
	}
	return nil
}

func (v *verifier) checkTypes(i *Instruction) error {
	b := v.b
	switch op := i.opcode; op {
	case OpcodeJump, OpcodeBrz, OpcodeBrnz:
		if op != OpcodeJump && !i.v.Type().IsInt() {
			return v.errorf("branch condition must be an integer")
		}
		target := i.blk.(*basicBlock)
		if len(i.vs) != len(target.params) {
			return v.errorf("%s takes %d arguments but %d are passed", target.Name(), len(target.params), len(i.vs))
		}
		for j, arg := range i.vs {
			if arg.Type() != target.params[j].typ {
				return v.errorf("argument %d to %s has type %s but expects %s", j, target.Name(), arg.Type(), target.params[j].typ)
			}
		}
	case OpcodeBrTable:
		if !i.v.Type().IsInt() {
			return v.errorf("br_table index must be an integer")
		}
		for _, t := range append([]BasicBlock{i.blk}, i.targets...) {
			if t.Params() != 0 {
				return v.errorf("br_table target %s must not have parameters", t.Name())
			}
		}
	case OpcodeReturn:
		if sig := b.currentSignature; sig != nil {
			if len(i.vs) != len(sig.Results) {
				return v.errorf("returns %d values but the signature has %d results", len(i.vs), len(sig.Results))
			}
			for j, r := range i.vs {
				if r.Type() != sig.Results[j].Type {
					return v.errorf("result %d has type %s but the signature says %s", j, r.Type(), sig.Results[j].Type)
				}
			}
		}
	case OpcodeCall, OpcodeCallIndirect, OpcodeReturnCall, OpcodeReturnCallIndirect:
		sig := b.signatures[SignatureID(i.u2)]
		if sig == nil {
			return v.errorf("unknown signature %s", SignatureID(i.u2))
		}
		if op == OpcodeCall || op == OpcodeReturnCall {
			if int(i.u1) >= len(b.funcs) {
				return v.errorf("unknown function %s", FuncRef(i.u1))
			}
		} else if i.v.Type() != TypeI64 {
			return v.errorf("callee must be an i64 pointer")
		}
		if len(i.vs) != len(sig.Params) {
			return v.errorf("passes %d arguments but %s takes %d", len(i.vs), sig.ID, len(sig.Params))
		}
		for j, arg := range i.vs {
			if arg.Type() != sig.Params[j].Type {
				return v.errorf("argument %d has type %s but %s expects %s", j, arg.Type(), sig.ID, sig.Params[j].Type)
			}
		}
		if op == OpcodeReturnCall || op == OpcodeReturnCallIndirect {
			if cur := b.currentSignature; cur != nil {
				if len(cur.Results) != len(sig.Results) {
					return v.errorf("tail call must return the same results as the caller")
				}
				for j := range sig.Results {
					if cur.Results[j].Type != sig.Results[j].Type {
						return v.errorf("tail call must return the same results as the caller")
					}
				}
			}
		}
	case OpcodeIadd, OpcodeIsub, OpcodeImul, OpcodeUmulhi, OpcodeSmulhi, OpcodeUdiv, OpcodeSdiv, OpcodeUrem, OpcodeSrem,
		OpcodeBand, OpcodeBor, OpcodeBxor, OpcodeSmin, OpcodeSmax, OpcodeUmin, OpcodeUmax, OpcodeUaddOverflowTrap:
		x, y := i.Arg2()
		if !x.Type().IsIntOrIntVector() || x.Type() != y.Type() {
			return v.errorf("operands must be integers of the same type, got %s and %s", x.Type(), y.Type())
		}
	case OpcodeIshl, OpcodeUshr, OpcodeSshr, OpcodeRotl, OpcodeRotr:
		x, y := i.Arg2()
		if !x.Type().IsIntOrIntVector() || !y.Type().IsInt() {
			return v.errorf("shift operands must be integers, got %s and %s", x.Type(), y.Type())
		}
	case OpcodeFadd, OpcodeFsub, OpcodeFmul, OpcodeFdiv, OpcodeFcopysign, OpcodeFmin, OpcodeFmax, OpcodeFminPseudo, OpcodeFmaxPseudo:
		x, y := i.Arg2()
		if !x.Type().IsFloatOrFloatVector() || x.Type() != y.Type() {
			return v.errorf("operands must be floats of the same type, got %s and %s", x.Type(), y.Type())
		}
	case OpcodeIcmp:
		x, y := i.Arg2()
		if !x.Type().IsInt() && !x.Type().IsRef() || x.Type() != y.Type() {
			return v.errorf("icmp operands must be integers of the same type, got %s and %s", x.Type(), y.Type())
		}
	case OpcodeFcmp:
		x, y := i.Arg2()
		if !x.Type().IsFloat() || x.Type() != y.Type() {
			return v.errorf("fcmp operands must be floats of the same type, got %s and %s", x.Type(), y.Type())
		}
	case OpcodeSelect, OpcodeSelectSpectreGuard:
		c, x, y := i.Arg3()
		if !c.Type().IsInt() {
			return v.errorf("select condition must be an integer")
		}
		if x.Type() != y.Type() {
			return v.errorf("select operands have different types %s and %s", x.Type(), y.Type())
		}
	case OpcodeLoad, OpcodeUload8, OpcodeSload8, OpcodeUload16, OpcodeSload16, OpcodeUload32, OpcodeSload32:
		if ptr := i.v; ptr.Type() != TypeI64 {
			return v.errorf("address must be i64, got %s", ptr.Type())
		}
		if op != OpcodeLoad && (!i.typ.IsInt() || uint64(i.typ.Size()) <= op.MemAccessBytes(i.typ)) {
			return v.errorf("extending load must produce a wider integer")
		}
	case OpcodeStore, OpcodeIstore8, OpcodeIstore16, OpcodeIstore32:
		if ptr := i.v2; ptr.Type() != TypeI64 {
			return v.errorf("address must be i64, got %s", ptr.Type())
		}
		if op != OpcodeStore && !i.v.Type().IsInt() {
			return v.errorf("truncating store takes an integer")
		}
	case OpcodeStackAddr, OpcodeStackLoad, OpcodeStackStore:
		slot, offset := i.StackSlotData()
		if int(slot) >= len(b.slots) {
			return v.errorf("unknown stack slot %s", slot)
		}
		size := uint64(8)
		switch op {
		case OpcodeStackLoad:
			size = uint64(i.typ.Size())
		case OpcodeStackStore:
			size = uint64(i.v.Type().Size())
		case OpcodeStackAddr:
			size = 0
		}
		if uint64(offset)+size > uint64(b.slots[slot].Size) {
			return v.errorf("access at offset %d of %d bytes is out of %s", offset, size, slot)
		}
	case OpcodeHeapAddr:
		heap, index, _, _ := i.HeapAddrData()
		if int(heap) >= len(b.heaps) {
			return v.errorf("unknown heap %s", heap)
		}
		if index.Type() != b.heaps[heap].IndexType {
			return v.errorf("index of %s must be %s", heap, b.heaps[heap].IndexType)
		}
	case OpcodeTableAddr:
		table, index, _ := i.TableAddrData()
		if int(table) >= len(b.tables) {
			return v.errorf("unknown table %s", table)
		}
		if index.Type() != b.tables[table].IndexType {
			return v.errorf("index of %s must be %s", table, b.tables[table].IndexType)
		}
	case OpcodeGlobalValue:
		if int(i.u1) >= len(b.globals) {
			return v.errorf("unknown global value %s", GlobalValue(i.u1))
		}
	case OpcodeFuncAddr:
		if int(i.u1) >= len(b.funcs) {
			return v.errorf("unknown function %s", FuncRef(i.u1))
		}
	case OpcodeUextend, OpcodeSextend:
		if !i.v.Type().IsInt() || !i.typ.IsInt() || i.v.Type().Bits() >= i.typ.Bits() {
			return v.errorf("%s must widen an integer, got %s to %s", op, i.v.Type(), i.typ)
		}
	case OpcodeIreduce:
		if !i.v.Type().IsInt() || !i.typ.IsInt() || i.v.Type().Bits() <= i.typ.Bits() {
			return v.errorf("ireduce must narrow an integer, got %s to %s", i.v.Type(), i.typ)
		}
	case OpcodeBitcast:
		if i.v.Type().Bits() != i.typ.Bits() {
			return v.errorf("bitcast between types of different sizes %s and %s", i.v.Type(), i.typ)
		}
	case OpcodeIconcat:
		x, y := i.Arg2()
		if x.Type() != TypeI64 || y.Type() != TypeI64 {
			return v.errorf("iconcat takes two i64 halves")
		}
	case OpcodeIsplit:
		if i.v.Type() != TypeI128 {
			return v.errorf("isplit takes an i128")
		}
	case OpcodeSplat:
		if !i.typ.IsVector() || i.typ.LaneType() != i.v.Type() {
			return v.errorf("splat of %s into %s", i.v.Type(), i.typ)
		}
	case OpcodeExtractLane, OpcodeInsertLane:
		if !i.v.Type().IsVector() || int(i.u1) >= i.v.Type().LaneCount() {
			return v.errorf("lane %d is out of %s", i.u1, i.v.Type())
		}
		if op == OpcodeInsertLane && i.v2.Type() != i.v.Type().LaneType() {
			return v.errorf("inserting %s into %s", i.v2.Type(), i.v.Type())
		}
	}
	return nil
}
