package ssa

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// LegalizeOptions configures Builder.Legalize.
type LegalizeOptions struct {
	// SpectreHeap replaces the explicit trap of heap bounds checks with a
	// conditional move of a null address, so that a mispredicted check never
	// forms an out-of-bounds address.
	SpectreHeap bool
	// SpectreTable is the same as SpectreHeap for table accesses.
	SpectreTable bool
}

// Legalize implements Builder.Legalize.
//
// This expands OpcodeHeapAddr and OpcodeTableAddr into explicit bounds checks, and
// OpcodeGlobalValue into chains of loads and additions on top of the vmctx parameter.
// Only global values computing symbol addresses remain after this.
func (b *builder) Legalize(opts LegalizeOptions) error {
	l := legalizer{b: b, opts: opts}
	for blk := b.blockIteratorBegin(); blk != nil; blk = b.blockIteratorNext() {
		l.blk = blk
		for cur := blk.rootInstr; cur != nil; {
			next := cur.next
			var err error
			switch cur.opcode {
			case OpcodeGlobalValue:
				err = l.globalValue(cur)
			case OpcodeHeapAddr:
				err = l.heapAddr(cur)
			case OpcodeTableAddr:
				err = l.tableAddr(cur)
			}
			if err != nil {
				return err
			}
			cur = next
		}
	}
	return nil
}

type legalizer struct {
	b    *builder
	opts LegalizeOptions
	blk  *basicBlock
	// at is the instruction being expanded. New instructions are inserted right before it.
	at *Instruction
}

func (l *legalizer) errorf(format string, args ...any) error {
	return &ValidationError{Func: l.b.name, Block: l.blk.id, Inst: l.at.Format(l.b), Msg: fmt.Sprintf(format, args...)}
}

// insert places instr before the instruction being expanded and returns its result.
func (l *legalizer) insert(instr *Instruction) Value {
	l.blk.insertInstructionBefore(instr, l.at)
	l.b.allocateResults(instr)
	return instr.rValue
}

// replace makes the result of the expanded instruction an alias of v, and removes the instruction.
func (l *legalizer) replace(v Value) {
	l.b.alias(l.at.rValue, v)
	l.blk.removeInstruction(l.at)
}

func (l *legalizer) iconst(typ Type, v uint64) Value {
	return l.insert(l.b.AllocateInstruction().AsIconst(typ, v))
}

func (l *legalizer) binary(op Opcode, x, y Value) Value {
	return l.insert(l.b.AllocateInstruction().AsBinary(op, x, y))
}

func (l *legalizer) globalValue(instr *Instruction) error {
	l.at = instr
	gv := instr.GlobalValueData()
	if l.b.GlobalValueData(gv).Kind == GlobalValueKindSymbol {
		return nil
	}
	v, err := l.expandGlobalValue(gv)
	if err != nil {
		return err
	}
	l.replace(v)
	return nil
}

// expandGlobalValue emits the computation of gv before l.at.
func (l *legalizer) expandGlobalValue(gv GlobalValue) (Value, error) {
	if int(gv) >= len(l.b.globals) {
		return ValueInvalid, l.errorf("unknown global value %s", gv)
	}
	data := l.b.GlobalValueData(gv)
	switch data.Kind {
	case GlobalValueKindVMContext:
		sig := l.b.currentSignature
		idx := -1
		if sig != nil {
			idx = sig.VMContextParam()
		}
		if idx < 0 {
			return ValueInvalid, l.errorf("%s refers to vmctx but the signature has no vmctx parameter", gv)
		}
		return l.b.entryBlk().params[idx].value, nil
	case GlobalValueKindLoad:
		base, err := l.expandGlobalValue(data.Base)
		if err != nil {
			return ValueInvalid, err
		}
		flags := MemFlagsTrusted | MemFlagVMCtx
		if data.ReadOnly {
			flags |= MemFlagReadOnly
		}
		return l.insert(l.b.AllocateInstruction().AsLoad(base, int32(data.Offset), data.Type, flags)), nil
	case GlobalValueKindIAddImm:
		base, err := l.expandGlobalValue(data.Base)
		if err != nil {
			return ValueInvalid, err
		}
		if data.Offset == 0 {
			return base, nil
		}
		return l.binary(OpcodeIadd, base, l.iconst(base.Type(), uint64(data.Offset))), nil
	case GlobalValueKindSymbol:
		return l.insert(l.b.AllocateInstruction().AsGlobalValue(gv, data.Type)), nil
	default:
		panic("BUG")
	}
}

// index64 zero-extends a 32-bit index to the pointer width.
func (l *legalizer) index64(index Value) Value {
	if index.Type() == TypeI64 {
		return index
	}
	return l.insert(l.b.AllocateInstruction().AsUExtend(index, TypeI64))
}

// heapAddr expands OpcodeHeapAddr. The access of `size` bytes at index+offset is in bounds
// when index + offset + size <= bound, computed without wrapping.
func (l *legalizer) heapAddr(instr *Instruction) error {
	l.at = instr
	heap, index, offset, size := instr.HeapAddrData()
	data := l.b.HeapData(heap)
	total := uint64(offset) + uint64(size)
	idx := l.index64(index)

	var oob Value
	switch data.BoundKind {
	case HeapBoundStatic:
		switch {
		case data.IndexType == TypeI32 && uint64(0xffff_ffff)+total <= data.Bound+data.OffsetGuardSize:
			// Any 32-bit index lands in the reservation or its guard region.
			oob = ValueInvalid
		case total > data.Bound:
			oob = l.iconst(TypeI8, 1)
		default:
			oob = l.insert(l.b.AllocateInstruction().AsIcmp(idx, l.iconst(TypeI64, data.Bound-total), IntegerCmpCondUnsignedGreaterThan))
		}
	case HeapBoundDynamic:
		bound, err := l.expandGlobalValue(data.DynamicBound)
		if err != nil {
			return err
		}
		if bound.Type() != TypeI64 {
			bound = l.index64(bound)
		}
		if total <= data.OffsetGuardSize {
			// The access may run into the guard region which faults by itself.
			oob = l.insert(l.b.AllocateInstruction().AsIcmp(idx, bound, IntegerCmpCondUnsignedGreaterThanOrEqual))
		} else {
			var end Value
			if data.IndexType == TypeI32 {
				end = l.binary(OpcodeIadd, idx, l.iconst(TypeI64, total))
			} else {
				end = l.insert(l.b.AllocateInstruction().AsUaddOverflowTrap(idx, l.iconst(TypeI64, total), codegenapi.TrapCodeHeapOutOfBounds))
			}
			oob = l.insert(l.b.AllocateInstruction().AsIcmp(end, bound, IntegerCmpCondUnsignedGreaterThan))
		}
	}

	base, err := l.expandGlobalValue(data.Base)
	if err != nil {
		return err
	}
	addr := l.binary(OpcodeIadd, base, idx)
	if offset != 0 {
		addr = l.binary(OpcodeIadd, addr, l.iconst(TypeI64, uint64(offset)))
	}
	if oob.Valid() {
		addr = l.guard(oob, addr, l.opts.SpectreHeap, codegenapi.TrapCodeHeapOutOfBounds)
	}
	l.replace(addr)
	return nil
}

// tableAddr expands OpcodeTableAddr. The element at index is in bounds when index < bound.
func (l *legalizer) tableAddr(instr *Instruction) error {
	l.at = instr
	table, index, offset := instr.TableAddrData()
	data := l.b.TableData(table)
	idx := l.index64(index)
	bound, err := l.expandGlobalValue(data.Bound)
	if err != nil {
		return err
	}
	if bound.Type() != TypeI64 {
		bound = l.index64(bound)
	}
	oob := l.insert(l.b.AllocateInstruction().AsIcmp(idx, bound, IntegerCmpCondUnsignedGreaterThanOrEqual))

	base, err := l.expandGlobalValue(data.Base)
	if err != nil {
		return err
	}
	scaled := idx
	if data.ElementSize != 1 {
		scaled = l.binary(OpcodeImul, idx, l.iconst(TypeI64, data.ElementSize))
	}
	addr := l.binary(OpcodeIadd, base, scaled)
	if offset != 0 {
		addr = l.binary(OpcodeIadd, addr, l.iconst(TypeI64, uint64(int64(offset))))
	}
	addr = l.guard(oob, addr, l.opts.SpectreTable, codegenapi.TrapCodeTableOutOfBounds)
	l.replace(addr)
	return nil
}

// guard either traps when oob is set, or replaces the address with null under the Spectre mitigation.
func (l *legalizer) guard(oob, addr Value, spectre bool, code codegenapi.TrapCode) Value {
	if spectre {
		zero := l.iconst(TypeI64, 0)
		return l.insert(l.b.AllocateInstruction().AsSelectSpectreGuard(oob, zero, addr))
	}
	l.insert(l.b.AllocateInstruction().AsTrapnz(oob, code))
	return addr
}
