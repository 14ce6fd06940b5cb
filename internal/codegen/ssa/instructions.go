package ssa

import (
	"fmt"
	"math"
	"strings"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// Instruction represents an instruction whose opcode is specified by
// Opcode. Since Go doesn't have union type, we use this flattened type
// for all instructions, and therefore each field has different meaning
// depending on Opcode.
type Instruction struct {
	id         int
	opcode     Opcode
	u1, u2     uint64
	v, v2, v3  Value
	vs         []Value
	typ        Type
	blk        BasicBlock
	targets    []BasicBlock
	prev, next *Instruction

	rValue         Value
	rValues        []Value
	gid            InstructionGroupID
	live           bool
	alreadyLowered bool
}

// Opcode returns the opcode of this instruction.
func (i *Instruction) Opcode() Opcode {
	return i.opcode
}

// GroupID returns the InstructionGroupID of this instruction.
func (i *Instruction) GroupID() InstructionGroupID {
	return i.gid
}

// MarkLowered marks this instruction as already lowered.
func (i *Instruction) MarkLowered() {
	i.alreadyLowered = true
}

// Lowered returns true if this instruction is already lowered.
func (i *Instruction) Lowered() bool {
	return i.alreadyLowered
}

// reset resets this instruction to the initial state.
func (i *Instruction) reset() {
	*i = Instruction{}
	i.v = ValueInvalid
	i.v2 = ValueInvalid
	i.v3 = ValueInvalid
	i.rValue = ValueInvalid
	i.typ = typeInvalid
}

// InstructionGroupID is assigned to each instruction and represents a group of instructions
// where each instruction is interchangeable with others except for the last instruction
// in the group which has side effects. In short, InstructionGroupID is determined by the side effects of instructions.
// That means, if there's an instruction with side effect between two instructions, then these two instructions
// will have different instructionGroupID. Note that each block always ends with branching, which is with side effects,
// therefore, instructions in different blocks always have different InstructionGroupID(s).
//
// The notable application of this is used in lowering SSA-level instruction to a ISA specific instruction,
// where we eagerly try to merge multiple instructions into single operation etc. Such merging cannot be done
// if these instruction have different InstructionGroupID since it will change the semantics of a program.
//
// See passDeadCodeEliminationOpt.
type InstructionGroupID uint32

// Returns Value(s) produced by this instruction if any.
// The `first` is the first return value, and `rest` is the rest of the values.
func (i *Instruction) Returns() (first Value, rest []Value) {
	return i.rValue, i.rValues
}

// Return returns a Value(s) produced by this instruction if any.
// If there's multiple return values, only the first one is returned.
func (i *Instruction) Return() (first Value) {
	return i.rValue
}

// Args returns the arguments to this instruction.
func (i *Instruction) Args() (v1, v2, v3 Value, vs []Value) {
	return i.v, i.v2, i.v3, i.vs
}

// Arg returns the first argument to this instruction.
func (i *Instruction) Arg() Value {
	return i.v
}

// Arg2 returns the first two arguments to this instruction.
func (i *Instruction) Arg2() (Value, Value) {
	return i.v, i.v2
}

// Arg3 returns the first three arguments to this instruction.
func (i *Instruction) Arg3() (Value, Value, Value) {
	return i.v, i.v2, i.v3
}

// Type returns the controlling type of this instruction, which is meaningful for
// constants, memory accesses and conversions.
func (i *Instruction) Type() Type {
	return i.typ
}

// Next returns the next instruction laid out next to itself.
func (i *Instruction) Next() *Instruction {
	return i.next
}

// Prev returns the previous instruction laid out prior to itself.
func (i *Instruction) Prev() *Instruction {
	return i.prev
}

// IsBranching returns true if this instruction is a branching instruction.
func (i *Instruction) IsBranching() bool {
	return i.opcode.IsBranching()
}

// Insert inserts this instruction into the current block of b and returns itself.
func (i *Instruction) Insert(b Builder) *Instruction {
	b.InsertInstruction(i)
	return i
}

// forEachArg calls fn with a pointer to each Value operand of this instruction.
func (i *Instruction) forEachArg(fn func(v *Value)) {
	if i.v.Valid() {
		fn(&i.v)
	}
	if i.v2.Valid() {
		fn(&i.v2)
	}
	if i.v3.Valid() {
		fn(&i.v3)
	}
	for j := range i.vs {
		fn(&i.vs[j])
	}
}

// returnTypesFn provides the info to determine the type of instruction.
// t1 is the type of the first result, ts are the types of the remaining results.
type returnTypesFn func(b *builder, instr *Instruction) (t1 Type, ts []Type)

var (
	returnTypesFnNoReturns returnTypesFn = func(b *builder, instr *Instruction) (t1 Type, ts []Type) { return typeInvalid, nil }
	returnTypesFnSingle    returnTypesFn = func(b *builder, instr *Instruction) (t1 Type, ts []Type) { return instr.typ, nil }
	returnTypesFnV1        returnTypesFn = func(b *builder, instr *Instruction) (t1 Type, ts []Type) { return instr.v.Type(), nil }
	returnTypesFnV2        returnTypesFn = func(b *builder, instr *Instruction) (t1 Type, ts []Type) { return instr.v2.Type(), nil }
	returnTypesFnI8        returnTypesFn = func(b *builder, instr *Instruction) (t1 Type, ts []Type) { return TypeI8, nil }
	returnTypesFnI64       returnTypesFn = func(b *builder, instr *Instruction) (t1 Type, ts []Type) { return TypeI64, nil }
	returnTypesFnCall      returnTypesFn = func(b *builder, instr *Instruction) (t1 Type, ts []Type) {
		sig, ok := b.signatures[SignatureID(instr.u2)]
		if !ok {
			panic("BUG: undeclared signature " + SignatureID(instr.u2).String())
		}
		switch len(sig.Results) {
		case 0:
			t1 = typeInvalid
		case 1:
			t1 = sig.Results[0].Type
		default:
			t1 = sig.Results[0].Type
			ts = make([]Type, len(sig.Results)-1)
			for j := range ts {
				ts[j] = sig.Results[j+1].Type
			}
		}
		return
	}
	returnTypesFnIsplit returnTypesFn = func(b *builder, instr *Instruction) (t1 Type, ts []Type) {
		return TypeI64, []Type{TypeI64}
	}
	returnTypesFnLane returnTypesFn = func(b *builder, instr *Instruction) (t1 Type, ts []Type) {
		return instr.v.Type().LaneType(), nil
	}
)

// instructionReturnTypes provides the function to determine the return types of an instruction.
var instructionReturnTypes = [opcodeEnd]returnTypesFn{
	OpcodeUndefined:          returnTypesFnNoReturns,
	OpcodeJump:               returnTypesFnNoReturns,
	OpcodeBrz:                returnTypesFnNoReturns,
	OpcodeBrnz:               returnTypesFnNoReturns,
	OpcodeBrTable:            returnTypesFnNoReturns,
	OpcodeReturn:             returnTypesFnNoReturns,
	OpcodeTrap:               returnTypesFnNoReturns,
	OpcodeTrapz:              returnTypesFnNoReturns,
	OpcodeTrapnz:             returnTypesFnNoReturns,
	OpcodeCall:               returnTypesFnCall,
	OpcodeCallIndirect:       returnTypesFnCall,
	OpcodeReturnCall:         returnTypesFnNoReturns,
	OpcodeReturnCallIndirect: returnTypesFnNoReturns,
	OpcodeIconst:             returnTypesFnSingle,
	OpcodeF32const:           returnTypesFnSingle,
	OpcodeF64const:           returnTypesFnSingle,
	OpcodeVconst:             returnTypesFnSingle,
	OpcodeGlobalValue:        returnTypesFnSingle,
	OpcodeFuncAddr:           returnTypesFnI64,
	OpcodeStackAddr:          returnTypesFnI64,
	OpcodeHeapAddr:           returnTypesFnI64,
	OpcodeTableAddr:          returnTypesFnI64,
	OpcodeLoad:               returnTypesFnSingle,
	OpcodeUload8:             returnTypesFnSingle,
	OpcodeSload8:             returnTypesFnSingle,
	OpcodeUload16:            returnTypesFnSingle,
	OpcodeSload16:            returnTypesFnSingle,
	OpcodeUload32:            returnTypesFnSingle,
	OpcodeSload32:            returnTypesFnSingle,
	OpcodeStore:              returnTypesFnNoReturns,
	OpcodeIstore8:            returnTypesFnNoReturns,
	OpcodeIstore16:           returnTypesFnNoReturns,
	OpcodeIstore32:           returnTypesFnNoReturns,
	OpcodeStackLoad:          returnTypesFnSingle,
	OpcodeStackStore:         returnTypesFnNoReturns,
	OpcodeIadd:               returnTypesFnV1,
	OpcodeIsub:               returnTypesFnV1,
	OpcodeImul:               returnTypesFnV1,
	OpcodeUmulhi:             returnTypesFnV1,
	OpcodeSmulhi:             returnTypesFnV1,
	OpcodeIneg:               returnTypesFnV1,
	OpcodeIabs:               returnTypesFnV1,
	OpcodeUdiv:               returnTypesFnV1,
	OpcodeSdiv:               returnTypesFnV1,
	OpcodeUrem:               returnTypesFnV1,
	OpcodeSrem:               returnTypesFnV1,
	OpcodeUaddOverflowTrap:   returnTypesFnV1,
	OpcodeBand:               returnTypesFnV1,
	OpcodeBor:                returnTypesFnV1,
	OpcodeBxor:               returnTypesFnV1,
	OpcodeBnot:               returnTypesFnV1,
	OpcodeIshl:               returnTypesFnV1,
	OpcodeUshr:               returnTypesFnV1,
	OpcodeSshr:               returnTypesFnV1,
	OpcodeRotl:               returnTypesFnV1,
	OpcodeRotr:               returnTypesFnV1,
	OpcodeClz:                returnTypesFnV1,
	OpcodeCtz:                returnTypesFnV1,
	OpcodePopcnt:             returnTypesFnV1,
	OpcodeSmin:               returnTypesFnV1,
	OpcodeSmax:               returnTypesFnV1,
	OpcodeUmin:               returnTypesFnV1,
	OpcodeUmax:               returnTypesFnV1,
	OpcodeIcmp:               returnTypesFnI8,
	OpcodeSelect:             returnTypesFnV2,
	OpcodeSelectSpectreGuard: returnTypesFnV2,
	OpcodeFadd:               returnTypesFnV1,
	OpcodeFsub:               returnTypesFnV1,
	OpcodeFmul:               returnTypesFnV1,
	OpcodeFdiv:               returnTypesFnV1,
	OpcodeFneg:               returnTypesFnV1,
	OpcodeFabs:               returnTypesFnV1,
	OpcodeSqrt:               returnTypesFnV1,
	OpcodeFcopysign:          returnTypesFnV1,
	OpcodeFmin:               returnTypesFnV1,
	OpcodeFmax:               returnTypesFnV1,
	OpcodeFminPseudo:         returnTypesFnV1,
	OpcodeFmaxPseudo:         returnTypesFnV1,
	OpcodeCeil:               returnTypesFnV1,
	OpcodeFloor:              returnTypesFnV1,
	OpcodeTrunc:              returnTypesFnV1,
	OpcodeNearest:            returnTypesFnV1,
	OpcodeFcmp:               returnTypesFnI8,
	OpcodeUextend:            returnTypesFnSingle,
	OpcodeSextend:            returnTypesFnSingle,
	OpcodeIreduce:            returnTypesFnSingle,
	OpcodeBitcast:            returnTypesFnSingle,
	OpcodeFcvtToSint:         returnTypesFnSingle,
	OpcodeFcvtToUint:         returnTypesFnSingle,
	OpcodeFcvtFromSint:       returnTypesFnSingle,
	OpcodeFcvtFromUint:       returnTypesFnSingle,
	OpcodeFpromote:           returnTypesFnSingle,
	OpcodeFdemote:            returnTypesFnSingle,
	OpcodeIconcat:            returnTypesFnSingle,
	OpcodeIsplit:             returnTypesFnIsplit,
	OpcodeSplat:              returnTypesFnSingle,
	OpcodeExtractLane:        returnTypesFnLane,
	OpcodeInsertLane:         returnTypesFnV1,
	OpcodeIaddPairwise:       returnTypesFnV1,
}

type sideEffect byte

const (
	// sideEffectNone means the instruction can be removed when its results are unused.
	sideEffectNone sideEffect = iota
	// sideEffectTraps means the instruction may trap, so it must stay even if unused,
	// but it can be freely reordered with other side-effect-free instructions.
	sideEffectTraps
	// sideEffectStrict means the instruction observably changes the state.
	sideEffectStrict
)

// sideEffect returns the side effect class of this instruction.
func (i *Instruction) sideEffect() sideEffect {
	switch i.opcode {
	case OpcodeUndefined, OpcodeJump, OpcodeBrz, OpcodeBrnz, OpcodeBrTable, OpcodeReturn, OpcodeTrap,
		OpcodeCall, OpcodeCallIndirect, OpcodeReturnCall, OpcodeReturnCallIndirect,
		OpcodeStore, OpcodeIstore8, OpcodeIstore16, OpcodeIstore32, OpcodeStackStore:
		return sideEffectStrict
	case OpcodeTrapz, OpcodeTrapnz, OpcodeUdiv, OpcodeSdiv, OpcodeUrem, OpcodeSrem, OpcodeUaddOverflowTrap,
		OpcodeFcvtToSint, OpcodeFcvtToUint, OpcodeHeapAddr, OpcodeTableAddr:
		return sideEffectTraps
	case OpcodeLoad, OpcodeUload8, OpcodeSload8, OpcodeUload16, OpcodeSload16, OpcodeUload32, OpcodeSload32:
		if MemFlags(i.u2).Has(MemFlagNoTrap) {
			return sideEffectNone
		}
		return sideEffectTraps
	default:
		return sideEffectNone
	}
}

// HasSideEffects returns true if this instruction has side effects, which means it
// must not be eliminated regardless whether the result is used or not.
func (i *Instruction) HasSideEffects() bool {
	return i.sideEffect() != sideEffectNone
}

// IsPure returns true if the result depends only on the operands, so that the instruction
// can be deduplicated, moved and rematerialized freely.
func (i *Instruction) IsPure() bool {
	if i.sideEffect() != sideEffectNone {
		return false
	}
	switch i.opcode {
	case OpcodeLoad, OpcodeUload8, OpcodeSload8, OpcodeUload16, OpcodeSload16, OpcodeUload32, OpcodeSload32:
		flags := MemFlags(i.u2)
		return flags.Has(MemFlagReadOnly | MemFlagNoTrap)
	case OpcodeStackLoad, OpcodeUndefined:
		return false
	}
	return true
}

// AsIconst64 initializes this instruction as a 64-bit integer constant instruction with OpcodeIconst.
func (i *Instruction) AsIconst64(v uint64) *Instruction {
	return i.AsIconst(TypeI64, v)
}

// AsIconst32 initializes this instruction as a 32-bit integer constant instruction with OpcodeIconst.
func (i *Instruction) AsIconst32(v uint32) *Instruction {
	return i.AsIconst(TypeI32, uint64(v))
}

// AsIconst initializes this instruction as an integer constant of the given type with OpcodeIconst.
// v is truncated to the width of typ.
func (i *Instruction) AsIconst(typ Type, v uint64) *Instruction {
	i.opcode = OpcodeIconst
	i.typ = typ
	i.u1 = truncate(v, typ.Bits())
	return i
}

// AsF32const initializes this instruction as a 32-bit floating-point constant instruction with OpcodeF32const.
func (i *Instruction) AsF32const(f float32) *Instruction {
	i.opcode = OpcodeF32const
	i.typ = TypeF32
	i.u1 = uint64(math.Float32bits(f))
	return i
}

// AsF64const initializes this instruction as a 64-bit floating-point constant instruction with OpcodeF64const.
func (i *Instruction) AsF64const(f float64) *Instruction {
	i.opcode = OpcodeF64const
	i.typ = TypeF64
	i.u1 = math.Float64bits(f)
	return i
}

// AsVconst initializes this instruction as a vector constant instruction with OpcodeVconst.
func (i *Instruction) AsVconst(typ Type, lo, hi uint64) *Instruction {
	i.opcode = OpcodeVconst
	i.typ = typ
	i.u1, i.u2 = lo, hi
	return i
}

// VconstData returns the lower and upper 64 bits of a OpcodeVconst.
func (i *Instruction) VconstData() (lo, hi uint64) {
	return i.u1, i.u2
}

// Constant returns true if this instruction is a constant instruction.
func (i *Instruction) Constant() bool {
	switch i.opcode {
	case OpcodeIconst, OpcodeF32const, OpcodeF64const:
		return true
	}
	return false
}

// ConstantVal returns the constant value of this instruction.
// How to interpret the return value depends on the opcode.
func (i *Instruction) ConstantVal() (ret uint64) {
	switch i.opcode {
	case OpcodeIconst, OpcodeF32const, OpcodeF64const:
		ret = i.u1
	default:
		panic("BUG: ConstantVal of " + i.opcode.String())
	}
	return
}

// AsGlobalValue initializes this instruction as OpcodeGlobalValue computing gv of the type typ.
func (i *Instruction) AsGlobalValue(gv GlobalValue, typ Type) *Instruction {
	i.opcode = OpcodeGlobalValue
	i.u1 = uint64(gv)
	i.typ = typ
	return i
}

// GlobalValueData returns the GlobalValue of OpcodeGlobalValue.
func (i *Instruction) GlobalValueData() GlobalValue {
	return GlobalValue(i.u1)
}

// AsFuncAddr initializes this instruction as OpcodeFuncAddr.
func (i *Instruction) AsFuncAddr(ref FuncRef) *Instruction {
	i.opcode = OpcodeFuncAddr
	i.u1 = uint64(ref)
	i.typ = TypeI64
	return i
}

// FuncAddrData returns the FuncRef of OpcodeFuncAddr.
func (i *Instruction) FuncAddrData() FuncRef {
	return FuncRef(i.u1)
}

// AsStackAddr initializes this instruction as OpcodeStackAddr.
func (i *Instruction) AsStackAddr(slot StackSlot, offset uint32) *Instruction {
	i.opcode = OpcodeStackAddr
	i.u1 = uint64(slot)
	i.u2 = uint64(offset)
	i.typ = TypeI64
	return i
}

// AsStackLoad initializes this instruction as OpcodeStackLoad.
func (i *Instruction) AsStackLoad(typ Type, slot StackSlot, offset uint32) *Instruction {
	i.opcode = OpcodeStackLoad
	i.u1 = uint64(slot)
	i.u2 = uint64(offset)
	i.typ = typ
	return i
}

// AsStackStore initializes this instruction as OpcodeStackStore.
func (i *Instruction) AsStackStore(x Value, slot StackSlot, offset uint32) *Instruction {
	i.opcode = OpcodeStackStore
	i.v = x
	i.u1 = uint64(slot)
	i.u2 = uint64(offset)
	return i
}

// StackSlotData returns the slot and the offset of OpcodeStackAddr, OpcodeStackLoad and OpcodeStackStore.
func (i *Instruction) StackSlotData() (slot StackSlot, offset uint32) {
	return StackSlot(i.u1), uint32(i.u2)
}

// AsHeapAddr initializes this instruction as OpcodeHeapAddr which checks that [index+offset, index+offset+size)
// is within the heap.
func (i *Instruction) AsHeapAddr(heap Heap, index Value, offset, size uint32) *Instruction {
	i.opcode = OpcodeHeapAddr
	i.u1 = uint64(heap)
	i.v = index
	i.u2 = uint64(offset) | uint64(size)<<32
	i.typ = TypeI64
	return i
}

// HeapAddrData returns the operands of OpcodeHeapAddr.
func (i *Instruction) HeapAddrData() (heap Heap, index Value, offset, size uint32) {
	return Heap(i.u1), i.v, uint32(i.u2), uint32(i.u2 >> 32)
}

// AsTableAddr initializes this instruction as OpcodeTableAddr.
func (i *Instruction) AsTableAddr(table Table, index Value, offset int32) *Instruction {
	i.opcode = OpcodeTableAddr
	i.u1 = uint64(table)
	i.v = index
	i.u2 = uint64(uint32(offset))
	i.typ = TypeI64
	return i
}

// TableAddrData returns the operands of OpcodeTableAddr.
func (i *Instruction) TableAddrData() (table Table, index Value, offset int32) {
	return Table(i.u1), i.v, int32(uint32(i.u2))
}

// AsLoad initializes this instruction as a load instruction with OpcodeLoad.
func (i *Instruction) AsLoad(ptr Value, offset int32, typ Type, flags MemFlags) *Instruction {
	i.opcode = OpcodeLoad
	i.v = ptr
	i.u1 = uint64(uint32(offset))
	i.u2 = uint64(flags)
	i.typ = typ
	return i
}

// AsExtLoad initializes this instruction as a load instruction with one of the sign/zero extending load opcodes.
func (i *Instruction) AsExtLoad(op Opcode, ptr Value, offset int32, typ Type, flags MemFlags) *Instruction {
	switch op {
	case OpcodeUload8, OpcodeSload8, OpcodeUload16, OpcodeSload16, OpcodeUload32, OpcodeSload32:
	default:
		panic("BUG: invalid extending load " + op.String())
	}
	i.AsLoad(ptr, offset, typ, flags)
	i.opcode = op
	return i
}

// LoadData returns the operands of the load instructions.
func (i *Instruction) LoadData() (ptr Value, offset int32, typ Type, flags MemFlags) {
	return i.v, int32(uint32(i.u1)), i.typ, MemFlags(i.u2)
}

// AsStore initializes this instruction as a store instruction with the given store opcode.
func (i *Instruction) AsStore(storeOp Opcode, value, ptr Value, offset int32, flags MemFlags) *Instruction {
	switch storeOp {
	case OpcodeStore, OpcodeIstore8, OpcodeIstore16, OpcodeIstore32:
	default:
		panic("BUG: invalid store " + storeOp.String())
	}
	i.opcode = storeOp
	i.v = value
	i.v2 = ptr
	i.u1 = uint64(uint32(offset))
	i.u2 = uint64(flags)
	return i
}

// StoreData returns the operands of the store instructions.
func (i *Instruction) StoreData() (value, ptr Value, offset int32, flags MemFlags, storeSizeInBits byte) {
	switch i.opcode {
	case OpcodeStore:
		storeSizeInBits = i.v.Type().Bits()
	case OpcodeIstore8:
		storeSizeInBits = 8
	case OpcodeIstore16:
		storeSizeInBits = 16
	case OpcodeIstore32:
		storeSizeInBits = 32
	default:
		panic("BUG: StoreData only available for store instructions")
	}
	return i.v, i.v2, int32(uint32(i.u1)), MemFlags(i.u2), storeSizeInBits
}

// MemFlags returns the flags of a load or a store.
func (i *Instruction) MemFlags() MemFlags {
	if i.opcode.IsLoad() || i.opcode.IsStore() {
		return MemFlags(i.u2)
	}
	return 0
}

// AsBinary initializes this instruction as a two-operand instruction with the given opcode.
func (i *Instruction) AsBinary(op Opcode, x, y Value) *Instruction {
	i.opcode = op
	i.v = x
	i.v2 = y
	i.typ = x.Type()
	return i
}

// AsUnary initializes this instruction as a one-operand instruction with the given opcode.
func (i *Instruction) AsUnary(op Opcode, x Value) *Instruction {
	i.opcode = op
	i.v = x
	i.typ = x.Type()
	return i
}

// AsIadd initializes this instruction as an integer addition instruction with OpcodeIadd.
func (i *Instruction) AsIadd(x, y Value) *Instruction { return i.AsBinary(OpcodeIadd, x, y) }

// AsIsub initializes this instruction as an integer subtraction instruction with OpcodeIsub.
func (i *Instruction) AsIsub(x, y Value) *Instruction { return i.AsBinary(OpcodeIsub, x, y) }

// AsImul initializes this instruction as an integer multiplication instruction with OpcodeImul.
func (i *Instruction) AsImul(x, y Value) *Instruction { return i.AsBinary(OpcodeImul, x, y) }

// AsBand initializes this instruction as an integer bitwise and instruction with OpcodeBand.
func (i *Instruction) AsBand(x, y Value) *Instruction { return i.AsBinary(OpcodeBand, x, y) }

// AsBor initializes this instruction as an integer bitwise or instruction with OpcodeBor.
func (i *Instruction) AsBor(x, y Value) *Instruction { return i.AsBinary(OpcodeBor, x, y) }

// AsBxor initializes this instruction as an integer bitwise xor instruction with OpcodeBxor.
func (i *Instruction) AsBxor(x, y Value) *Instruction { return i.AsBinary(OpcodeBxor, x, y) }

// AsIshl initializes this instruction as an integer shift left instruction with OpcodeIshl.
func (i *Instruction) AsIshl(x, amount Value) *Instruction { return i.AsBinary(OpcodeIshl, x, amount) }

// AsUshr initializes this instruction as an integer unsigned shift right (logical shift right) instruction with OpcodeUshr.
func (i *Instruction) AsUshr(x, amount Value) *Instruction { return i.AsBinary(OpcodeUshr, x, amount) }

// AsSshr initializes this instruction as an integer signed shift right (arithmetic shift right) instruction with OpcodeSshr.
func (i *Instruction) AsSshr(x, amount Value) *Instruction { return i.AsBinary(OpcodeSshr, x, amount) }

// AsFadd initializes this instruction as a floating-point addition instruction with OpcodeFadd.
func (i *Instruction) AsFadd(x, y Value) *Instruction { return i.AsBinary(OpcodeFadd, x, y) }

// AsFsub initializes this instruction as a floating-point subtraction instruction with OpcodeFsub.
func (i *Instruction) AsFsub(x, y Value) *Instruction { return i.AsBinary(OpcodeFsub, x, y) }

// AsFmul initializes this instruction as a floating-point multiplication instruction with OpcodeFmul.
func (i *Instruction) AsFmul(x, y Value) *Instruction { return i.AsBinary(OpcodeFmul, x, y) }

// AsFdiv initializes this instruction as a floating-point division instruction with OpcodeFdiv.
func (i *Instruction) AsFdiv(x, y Value) *Instruction { return i.AsBinary(OpcodeFdiv, x, y) }

// AsClz initializes this instruction as a Count Leading Zeroes instruction with OpcodeClz.
func (i *Instruction) AsClz(x Value) *Instruction { return i.AsUnary(OpcodeClz, x) }

// AsCtz initializes this instruction as a Count Trailing Zeroes instruction with OpcodeCtz.
func (i *Instruction) AsCtz(x Value) *Instruction { return i.AsUnary(OpcodeCtz, x) }

// AsPopcnt initializes this instruction as a Population Count instruction with OpcodePopcnt.
func (i *Instruction) AsPopcnt(x Value) *Instruction { return i.AsUnary(OpcodePopcnt, x) }

// BinaryData returns the operands of a two-operand instruction.
func (i *Instruction) BinaryData() (x, y Value) {
	return i.v, i.v2
}

// UnaryData returns the operand of a one-operand instruction.
func (i *Instruction) UnaryData() Value {
	return i.v
}

// AsUaddOverflowTrap initializes this instruction as OpcodeUaddOverflowTrap.
func (i *Instruction) AsUaddOverflowTrap(x, y Value, code codegenapi.TrapCode) *Instruction {
	i.AsBinary(OpcodeUaddOverflowTrap, x, y)
	i.u1 = uint64(code)
	return i
}

// AsIcmp initializes this instruction as an integer comparison instruction with OpcodeIcmp.
func (i *Instruction) AsIcmp(x, y Value, c IntegerCmpCond) *Instruction {
	i.opcode = OpcodeIcmp
	i.v = x
	i.v2 = y
	i.u1 = uint64(c)
	i.typ = TypeI8
	return i
}

// IcmpData returns the operands and comparison condition of this integer comparison instruction.
func (i *Instruction) IcmpData() (x, y Value, c IntegerCmpCond) {
	return i.v, i.v2, IntegerCmpCond(i.u1)
}

// AsFcmp initializes this instruction as a floating-point comparison instruction with OpcodeFcmp.
func (i *Instruction) AsFcmp(x, y Value, c FloatCmpCond) *Instruction {
	i.opcode = OpcodeFcmp
	i.v = x
	i.v2 = y
	i.u1 = uint64(c)
	i.typ = TypeI8
	return i
}

// FcmpData returns the operands and comparison condition of this floating-point comparison instruction.
func (i *Instruction) FcmpData() (x, y Value, c FloatCmpCond) {
	return i.v, i.v2, FloatCmpCond(i.u1)
}

// AsSelect initializes this instruction as an unconditional select instruction with OpcodeSelect.
func (i *Instruction) AsSelect(c, x, y Value) *Instruction {
	i.opcode = OpcodeSelect
	i.v = c
	i.v2 = x
	i.v3 = y
	i.typ = x.Type()
	return i
}

// AsSelectSpectreGuard initializes this instruction as OpcodeSelectSpectreGuard.
func (i *Instruction) AsSelectSpectreGuard(c, x, y Value) *Instruction {
	i.AsSelect(c, x, y)
	i.opcode = OpcodeSelectSpectreGuard
	return i
}

// SelectData returns the select data for this instruction necessary for backends.
func (i *Instruction) SelectData() (c, x, y Value) {
	return i.v, i.v2, i.v3
}

// AsConversion initializes this instruction as one of the conversion opcodes producing the type `to`.
func (i *Instruction) AsConversion(op Opcode, x Value, to Type) *Instruction {
	switch op {
	case OpcodeUextend, OpcodeSextend, OpcodeIreduce, OpcodeBitcast, OpcodeFcvtToSint, OpcodeFcvtToUint,
		OpcodeFcvtFromSint, OpcodeFcvtFromUint, OpcodeFpromote, OpcodeFdemote, OpcodeSplat:
	default:
		panic("BUG: not a conversion " + op.String())
	}
	i.opcode = op
	i.v = x
	i.typ = to
	return i
}

// AsSExtend initializes this instruction as a sign extension instruction with OpcodeSextend.
func (i *Instruction) AsSExtend(v Value, to Type) *Instruction {
	return i.AsConversion(OpcodeSextend, v, to)
}

// AsUExtend initializes this instruction as an unsigned extension instruction with OpcodeUextend.
func (i *Instruction) AsUExtend(v Value, to Type) *Instruction {
	return i.AsConversion(OpcodeUextend, v, to)
}

// AsIreduce initializes this instruction as a narrowing instruction with OpcodeIreduce.
func (i *Instruction) AsIreduce(v Value, to Type) *Instruction {
	return i.AsConversion(OpcodeIreduce, v, to)
}

// ExtendData returns the bit widths and the signedness of OpcodeSextend and OpcodeUextend.
func (i *Instruction) ExtendData() (from, to byte, signed bool) {
	switch i.opcode {
	case OpcodeSextend:
		signed = true
	case OpcodeUextend:
	default:
		panic("BUG: ExtendData only available for OpcodeSextend and OpcodeUextend")
	}
	return i.v.Type().Bits(), i.typ.Bits(), signed
}

// AsIconcat initializes this instruction as OpcodeIconcat.
func (i *Instruction) AsIconcat(lo, hi Value) *Instruction {
	i.opcode = OpcodeIconcat
	i.v = lo
	i.v2 = hi
	i.typ = TypeI128
	return i
}

// AsIsplit initializes this instruction as OpcodeIsplit.
func (i *Instruction) AsIsplit(x Value) *Instruction {
	i.opcode = OpcodeIsplit
	i.v = x
	i.typ = TypeI64
	return i
}

// AsSplat initializes this instruction as OpcodeSplat producing the vector type typ.
func (i *Instruction) AsSplat(x Value, typ Type) *Instruction {
	return i.AsConversion(OpcodeSplat, x, typ)
}

// AsExtractLane initializes this instruction as OpcodeExtractLane.
func (i *Instruction) AsExtractLane(x Value, lane byte) *Instruction {
	i.opcode = OpcodeExtractLane
	i.v = x
	i.u1 = uint64(lane)
	i.typ = x.Type().LaneType()
	return i
}

// AsInsertLane initializes this instruction as OpcodeInsertLane.
func (i *Instruction) AsInsertLane(x, y Value, lane byte) *Instruction {
	i.opcode = OpcodeInsertLane
	i.v = x
	i.v2 = y
	i.u1 = uint64(lane)
	i.typ = x.Type()
	return i
}

// LaneData returns the lane index of OpcodeExtractLane and OpcodeInsertLane.
func (i *Instruction) LaneData() byte {
	return byte(i.u1)
}

// AsReturn initializes this instruction as a return instruction with OpcodeReturn.
func (i *Instruction) AsReturn(vs []Value) *Instruction {
	i.opcode = OpcodeReturn
	i.vs = vs
	return i
}

// ReturnVals returns the return values of OpcodeReturn.
func (i *Instruction) ReturnVals() []Value {
	return i.vs
}

// AsTrap initializes this instruction as OpcodeTrap.
func (i *Instruction) AsTrap(code codegenapi.TrapCode) *Instruction {
	i.opcode = OpcodeTrap
	i.u1 = uint64(code)
	return i
}

// AsTrapz initializes this instruction as OpcodeTrapz.
func (i *Instruction) AsTrapz(c Value, code codegenapi.TrapCode) *Instruction {
	i.opcode = OpcodeTrapz
	i.v = c
	i.u1 = uint64(code)
	return i
}

// AsTrapnz initializes this instruction as OpcodeTrapnz.
func (i *Instruction) AsTrapnz(c Value, code codegenapi.TrapCode) *Instruction {
	i.opcode = OpcodeTrapnz
	i.v = c
	i.u1 = uint64(code)
	return i
}

// TrapCode returns the trap code of OpcodeTrap, OpcodeTrapz, OpcodeTrapnz and OpcodeUaddOverflowTrap.
func (i *Instruction) TrapCode() codegenapi.TrapCode {
	switch i.opcode {
	case OpcodeTrap, OpcodeTrapz, OpcodeTrapnz, OpcodeUaddOverflowTrap:
		return codegenapi.TrapCode(i.u1)
	}
	panic("BUG: TrapCode only available for trapping instructions")
}

// InvertBrx inverts either OpcodeBrz or OpcodeBrnz to the other.
func (i *Instruction) InvertBrx() {
	switch i.opcode {
	case OpcodeBrz:
		i.opcode = OpcodeBrnz
	case OpcodeBrnz:
		i.opcode = OpcodeBrz
	default:
		panic("BUG")
	}
}

// BranchData returns the branch data for this instruction necessary for backends.
func (i *Instruction) BranchData() (condVal Value, blockArgs []Value, target BasicBlock) {
	switch i.opcode {
	case OpcodeJump:
		condVal = ValueInvalid
	case OpcodeBrz, OpcodeBrnz:
		condVal = i.v
	default:
		panic("BUG")
	}
	blockArgs = i.vs
	target = i.blk
	return
}

// AsJump initializes this instruction as a jump instruction with OpcodeJump.
func (i *Instruction) AsJump(vs []Value, target BasicBlock) *Instruction {
	i.opcode = OpcodeJump
	i.vs = vs
	i.blk = target
	return i
}

// IsFallthroughJump returns true if this instruction is a fallthrough jump.
func (i *Instruction) IsFallthroughJump() bool {
	if i.opcode != OpcodeJump {
		panic("BUG: IsFallthrough only available for OpcodeJump")
	}
	return i.opcode == OpcodeJump && i.u1 != 0
}

// AsFallthroughJump marks this instruction as a fallthrough jump.
func (i *Instruction) AsFallthroughJump() {
	if i.opcode != OpcodeJump {
		panic("BUG: AsFallthroughJump only available for OpcodeJump")
	}
	i.u1 = 1
}

// AsBrz initializes this instruction as a branch-if-zero instruction with OpcodeBrz.
func (i *Instruction) AsBrz(v Value, args []Value, target BasicBlock) *Instruction {
	i.opcode = OpcodeBrz
	i.v = v
	i.vs = args
	i.blk = target
	return i
}

// AsBrnz initializes this instruction as a branch-if-not-zero instruction with OpcodeBrnz.
func (i *Instruction) AsBrnz(v Value, args []Value, target BasicBlock) *Instruction {
	i.opcode = OpcodeBrnz
	i.v = v
	i.vs = args
	i.blk = target
	return i
}

// AsBrTable initializes this instruction as a branch-table instruction with OpcodeBrTable.
// The targets of a branch table take no block arguments.
func (i *Instruction) AsBrTable(index Value, defaultTarget BasicBlock, targets []BasicBlock) *Instruction {
	i.opcode = OpcodeBrTable
	i.v = index
	i.blk = defaultTarget
	i.targets = targets
	return i
}

// BrTableData returns the operands of OpcodeBrTable.
func (i *Instruction) BrTableData() (index Value, defaultTarget BasicBlock, targets []BasicBlock) {
	if i.opcode != OpcodeBrTable {
		panic("BUG: BrTableData only available for OpcodeBrTable")
	}
	return i.v, i.blk, i.targets
}

// AsCall initializes this instruction as a call instruction with OpcodeCall.
func (i *Instruction) AsCall(ref FuncRef, sig *Signature, args []Value) *Instruction {
	i.opcode = OpcodeCall
	i.u1 = uint64(ref)
	i.u2 = uint64(sig.ID)
	i.vs = args
	sig.used = true
	return i
}

// AsReturnCall initializes this instruction as a tail call instruction with OpcodeReturnCall.
func (i *Instruction) AsReturnCall(ref FuncRef, sig *Signature, args []Value) *Instruction {
	i.AsCall(ref, sig, args)
	i.opcode = OpcodeReturnCall
	return i
}

// CallData returns the call data for this instruction necessary for backends.
func (i *Instruction) CallData() (ref FuncRef, sigID SignatureID, args []Value) {
	if i.opcode != OpcodeCall && i.opcode != OpcodeReturnCall {
		panic("BUG: CallData only available for OpcodeCall and OpcodeReturnCall")
	}
	ref = FuncRef(i.u1)
	sigID = SignatureID(i.u2)
	args = i.vs
	return
}

// AsCallIndirect initializes this instruction as a call-indirect instruction with OpcodeCallIndirect.
func (i *Instruction) AsCallIndirect(funcPtr Value, sig *Signature, args []Value) *Instruction {
	i.opcode = OpcodeCallIndirect
	i.vs = args
	i.u2 = uint64(sig.ID)
	i.v = funcPtr
	sig.used = true
	return i
}

// AsReturnCallIndirect initializes this instruction as an indirect tail call with OpcodeReturnCallIndirect.
func (i *Instruction) AsReturnCallIndirect(funcPtr Value, sig *Signature, args []Value) *Instruction {
	i.AsCallIndirect(funcPtr, sig, args)
	i.opcode = OpcodeReturnCallIndirect
	return i
}

// CallIndirectData returns the call indirect data for this instruction necessary for backends.
func (i *Instruction) CallIndirectData() (funcPtr Value, sigID SignatureID, args []Value) {
	if i.opcode != OpcodeCallIndirect && i.opcode != OpcodeReturnCallIndirect {
		panic("BUG: CallIndirectData only available for OpcodeCallIndirect and OpcodeReturnCallIndirect")
	}
	funcPtr = i.v
	sigID = SignatureID(i.u2)
	args = i.vs
	return
}

// AsUndefined initializes this instruction as an undefined instruction with OpcodeUndefined.
func (i *Instruction) AsUndefined() *Instruction {
	i.opcode = OpcodeUndefined
	return i
}

// addArgumentBranchInst adds an argument to this instruction.
func (i *Instruction) addArgumentBranchInst(v Value) {
	switch i.opcode {
	case OpcodeJump, OpcodeBrz, OpcodeBrnz:
		i.vs = append(i.vs, v)
	default:
		panic("BUG: " + i.opcode.String() + " cannot pass block arguments")
	}
}

func formatValues(b Builder, vs []Value) string {
	strs := make([]string, len(vs))
	for idx := range vs {
		strs[idx] = vs[idx].Format(b)
	}
	return strings.Join(strs, ", ")
}

// Format returns a string representation of this instruction with the given builder.
// For debugging purposes.
func (i *Instruction) Format(b Builder) string {
	var instSuffix string
	switch i.opcode {
	case OpcodeUndefined:
	case OpcodeIconst:
		instSuffix = fmt.Sprintf("_%d %#x", i.typ.Bits(), i.u1)
	case OpcodeF32const:
		instSuffix = fmt.Sprintf(" %f", math.Float32frombits(uint32(i.u1)))
	case OpcodeF64const:
		instSuffix = fmt.Sprintf(" %f", math.Float64frombits(i.u1))
	case OpcodeVconst:
		instSuffix = fmt.Sprintf(".%s %016x%016x", i.typ, i.u2, i.u1)
	case OpcodeGlobalValue:
		instSuffix = " " + GlobalValue(i.u1).String()
	case OpcodeFuncAddr:
		instSuffix = " " + FuncRef(i.u1).String()
	case OpcodeStackAddr, OpcodeStackLoad:
		instSuffix = fmt.Sprintf(" %s, %#x", StackSlot(i.u1), uint32(i.u2))
	case OpcodeStackStore:
		instSuffix = fmt.Sprintf(" %s, %s, %#x", i.v.Format(b), StackSlot(i.u1), uint32(i.u2))
	case OpcodeHeapAddr:
		heap, index, offset, size := i.HeapAddrData()
		instSuffix = fmt.Sprintf(" %s, %s, %#x, %d", heap, index.Format(b), offset, size)
	case OpcodeTableAddr:
		table, index, offset := i.TableAddrData()
		instSuffix = fmt.Sprintf(" %s, %s, %#x", table, index.Format(b), offset)
	case OpcodeLoad, OpcodeUload8, OpcodeUload16, OpcodeUload32, OpcodeSload8, OpcodeSload16, OpcodeSload32:
		instSuffix = fmt.Sprintf("%s %s, %#x", formatFlags(MemFlags(i.u2)), i.v.Format(b), int32(uint32(i.u1)))
	case OpcodeStore, OpcodeIstore8, OpcodeIstore16, OpcodeIstore32:
		instSuffix = fmt.Sprintf("%s %s, %s, %#x", formatFlags(MemFlags(i.u2)), i.v.Format(b), i.v2.Format(b), int32(uint32(i.u1)))
	case OpcodeIcmp:
		instSuffix = fmt.Sprintf(" %s, %s, %s", IntegerCmpCond(i.u1), i.v.Format(b), i.v2.Format(b))
	case OpcodeFcmp:
		instSuffix = fmt.Sprintf(" %s, %s, %s", FloatCmpCond(i.u1), i.v.Format(b), i.v2.Format(b))
	case OpcodeSelect, OpcodeSelectSpectreGuard:
		instSuffix = fmt.Sprintf(" %s, %s, %s", i.v.Format(b), i.v2.Format(b), i.v3.Format(b))
	case OpcodeTrap:
		instSuffix = " " + codegenapi.TrapCode(i.u1).String()
	case OpcodeTrapz, OpcodeTrapnz:
		instSuffix = fmt.Sprintf(" %s, %s", i.v.Format(b), codegenapi.TrapCode(i.u1))
	case OpcodeUaddOverflowTrap:
		instSuffix = fmt.Sprintf(" %s, %s, %s", i.v.Format(b), i.v2.Format(b), codegenapi.TrapCode(i.u1))
	case OpcodeExtractLane:
		instSuffix = fmt.Sprintf(" %s, %d", i.v.Format(b), i.u1)
	case OpcodeInsertLane:
		instSuffix = fmt.Sprintf(" %s, %s, %d", i.v.Format(b), i.v2.Format(b), i.u1)
	case OpcodeCall, OpcodeReturnCall:
		instSuffix = fmt.Sprintf(" %s:%s", FuncRef(i.u1), SignatureID(i.u2))
		if len(i.vs) > 0 {
			instSuffix += ", " + formatValues(b, i.vs)
		}
	case OpcodeCallIndirect, OpcodeReturnCallIndirect:
		instSuffix = fmt.Sprintf(" %s:%s", i.v.Format(b), SignatureID(i.u2))
		if len(i.vs) > 0 {
			instSuffix += ", " + formatValues(b, i.vs)
		}
	case OpcodeReturn:
		if len(i.vs) > 0 {
			instSuffix = " " + formatValues(b, i.vs)
		}
	case OpcodeJump:
		if i.IsFallthroughJump() {
			instSuffix = " fallthrough"
		} else {
			instSuffix = " " + i.blk.(*basicBlock).Name()
		}
		if len(i.vs) > 0 {
			instSuffix += ", " + formatValues(b, i.vs)
		}
	case OpcodeBrz, OpcodeBrnz:
		instSuffix = fmt.Sprintf(" %s, %s", i.v.Format(b), i.blk.(*basicBlock).Name())
		if len(i.vs) > 0 {
			instSuffix += ", " + formatValues(b, i.vs)
		}
	case OpcodeBrTable:
		names := make([]string, len(i.targets))
		for idx, t := range i.targets {
			names[idx] = t.(*basicBlock).Name()
		}
		instSuffix = fmt.Sprintf(" %s, %s, [%s]", i.v.Format(b), i.blk.(*basicBlock).Name(), strings.Join(names, ", "))
	default:
		var args []string
		i.forEachArg(func(v *Value) { args = append(args, v.Format(b)) })
		if len(args) > 0 {
			instSuffix = " " + strings.Join(args, ", ")
		}
	}

	instr := i.opcode.String() + instSuffix

	var rvs []string
	if rv := i.rValue; rv.Valid() {
		rvs = append(rvs, rv.formatWithType(b))
	}

	for _, v := range i.rValues {
		rvs = append(rvs, v.formatWithType(b))
	}

	if len(rvs) > 0 {
		return fmt.Sprintf("%s = %s", strings.Join(rvs, ", "), instr)
	} else {
		return instr
	}
}

func formatFlags(f MemFlags) string {
	if f == 0 {
		return ""
	}
	return "." + strings.ReplaceAll(f.String(), " ", ".")
}

// truncate zeroes the bits of v above the given width.
func truncate(v uint64, bits byte) uint64 {
	if bits >= 64 {
		return v
	}
	return v & (1<<bits - 1)
}
