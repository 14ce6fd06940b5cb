package arm64

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

func vecLanewise(op vecOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x, y := instr.Arg2()
		m.insert(m.allocateInstr().asVecRRR(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y),
			arrOf(instr.Type())))
	}
}

func vecUnary(op vecOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		m.insert(m.allocateInstr().asVecMisc(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(instr.Arg()), arrOf(instr.Type())))
	}
}

var (
	typesI64x2    = backend.Types(ssa.TypeI64x2)
	typesVecNoI64 = backend.Types(ssa.TypeI8x16, ssa.TypeI16x8, ssa.TypeI32x4)
)

var vecRules = []backend.Rule[*machine]{
	{Name: "vconst", Opcode: ssa.OpcodeVconst, Types: backend.TypesVector, Lower: (*machine).lowerVconst},
	{Name: "iadd_vec", Opcode: ssa.OpcodeIadd, Types: backend.TypesVecInt, Lower: vecLanewise(vecOpAdd)},
	{Name: "isub_vec", Opcode: ssa.OpcodeIsub, Types: backend.TypesVecInt, Lower: vecLanewise(vecOpSub)},
	{Name: "imul_vec", Opcode: ssa.OpcodeImul, Types: typesVecNoI64, Lower: vecLanewise(vecOpMul)},
	{Name: "imul_i64x2", Opcode: ssa.OpcodeImul, Types: typesI64x2, Lower: (*machine).lowerVecImul64},
	{Name: "bnot_fpu", Opcode: ssa.OpcodeBnot, Types: typesFpu, Lower: (*machine).lowerVecBnot},
	{Name: "ineg_vec", Opcode: ssa.OpcodeIneg, Types: backend.TypesVecInt, Lower: vecUnary(vecOpNeg)},
	{Name: "iabs_vec", Opcode: ssa.OpcodeIabs, Types: backend.TypesVecInt, Lower: vecUnary(vecOpAbs)},
	{Name: "smin_vec", Opcode: ssa.OpcodeSmin, Types: typesVecNoI64, Lower: vecLanewise(vecOpSmin)},
	{Name: "smax_vec", Opcode: ssa.OpcodeSmax, Types: typesVecNoI64, Lower: vecLanewise(vecOpSmax)},
	{Name: "umin_vec", Opcode: ssa.OpcodeUmin, Types: typesVecNoI64, Lower: vecLanewise(vecOpUmin)},
	{Name: "umax_vec", Opcode: ssa.OpcodeUmax, Types: typesVecNoI64, Lower: vecLanewise(vecOpUmax)},
	{Name: "ishl_vec", Opcode: ssa.OpcodeIshl, Types: backend.TypesVecInt, Lower: (*machine).lowerVecShift},
	{Name: "ushr_vec", Opcode: ssa.OpcodeUshr, Types: backend.TypesVecInt, Lower: (*machine).lowerVecShift},
	{Name: "sshr_vec", Opcode: ssa.OpcodeSshr, Types: backend.TypesVecInt, Lower: (*machine).lowerVecShift},
	{Name: "fcvt_from_sint_vec", Opcode: ssa.OpcodeFcvtFromSint, Types: backend.TypesVecFloat, Lower: vecUnary(vecOpScvtf)},
	{Name: "fcvt_from_uint_vec", Opcode: ssa.OpcodeFcvtFromUint, Types: backend.TypesVecFloat, Lower: vecUnary(vecOpUcvtf)},
	{Name: "splat", Opcode: ssa.OpcodeSplat, Types: backend.TypesVector, Lower: (*machine).lowerSplat},
	{Name: "extractlane", Opcode: ssa.OpcodeExtractLane, Types: backend.TypesIntScalar, Lower: (*machine).lowerExtractLane},
	{Name: "extractlane_float", Opcode: ssa.OpcodeExtractLane, Types: backend.TypesFloat, Lower: (*machine).lowerExtractLane},
	{Name: "insertlane", Opcode: ssa.OpcodeInsertLane, Types: backend.TypesVecInt, Lower: (*machine).lowerInsertLane},
	{Name: "insertlane_float", Opcode: ssa.OpcodeInsertLane, Types: backend.TypesVecFloat, Lower: (*machine).lowerInsertLane},
	{Name: "iadd_pairwise", Opcode: ssa.OpcodeIaddPairwise, Types: backend.TypesVecInt, Lower: vecLanewise(vecOpAddp)},
}

func (m *machine) lowerVconst(instr *ssa.Instruction) {
	lo, hi := instr.VconstData()
	m.insert(m.allocateInstr().asLoadFpuConst128(m.c.VRegOf(instr.Return()), lo, hi))
}

// lowerVecImul64 multiplies the two lanes in general purpose registers, since mul has no 2d form.
func (m *machine) lowerVecImul64(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asFpuMov(dst, xr))
	for lane := byte(0); lane < 2; lane++ {
		a, b, p := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asMovFromVec(a, xr, vecArrangement2D, lane, false, true))
		m.insert(m.allocateInstr().asMovFromVec(b, yr, vecArrangement2D, lane, false, true))
		m.insert(m.allocateInstr().asALURRRR(aluOpMAdd, p, a, b, xzrVReg, true))
		m.insert(m.allocateInstr().asMovToVec(dst, p, vecArrangement2D, lane))
	}
}

func (m *machine) lowerVecBnot(instr *ssa.Instruction) {
	m.insert(m.allocateInstr().asVecMisc(vecOpNot, m.c.VRegOf(instr.Return()), m.c.VRegOf(instr.Arg()), vecArrangement16B))
}

// lowerVecShift shifts every lane by the amount modulo the lane width. Right shifts by a register are
// sshl and ushl by the negated amount.
func (m *machine) lowerVecShift(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	typ := instr.Type()
	arr := arrOf(typ)
	bits := typ.LaneType().Bits()
	op := instr.Opcode()
	dst, xr := m.c.VRegOf(instr.Return()), m.c.VRegOf(x)

	if c, ok := m.constOf(amt); ok {
		m.useConst(amt)
		n := uint64(c) & uint64(bits-1)
		switch {
		case op == ssa.OpcodeIshl:
			m.insert(m.allocateInstr().asVecShiftImm(vecOpShl, dst, xr, n, arr))
		case n == 0:
			m.insert(m.allocateInstr().asFpuMov(dst, xr))
		case op == ssa.OpcodeUshr:
			m.insert(m.allocateInstr().asVecShiftImm(vecOpUshr, dst, xr, n, arr))
		default:
			m.insert(m.allocateInstr().asVecShiftImm(vecOpSshr, dst, xr, n, arr))
		}
		return
	}

	n := m.c.AllocateVReg(ssa.TypeI32)
	m.insert(m.allocateInstr().asALUBitmaskImm(aluOpAnd, n, m.amountReg(amt), uint64(bits-1), false))
	if op != ssa.OpcodeIshl {
		m.insert(m.allocateInstr().asALU(aluOpSub, n, xzrVReg, n, false))
	}
	v := m.c.AllocateVReg(ssa.TypeI8x16)
	m.insert(m.allocateInstr().asVecDup(v, n, arr))
	shl := vecOpUshl
	if op == ssa.OpcodeSshr {
		shl = vecOpSshl
	}
	m.insert(m.allocateInstr().asVecRRR(shl, dst, xr, v, arr))
}

func (m *machine) lowerSplat(instr *ssa.Instruction) {
	x := instr.Arg()
	arr := arrOf(instr.Type())
	dst := m.c.VRegOf(instr.Return())
	if x.Type().IsFloat() {
		m.insert(m.allocateInstr().asVecDupElement(dst, m.c.VRegOf(x), arr, 0))
		return
	}
	m.insert(m.allocateInstr().asVecDup(dst, m.c.VRegOf(x), arr))
}

// lowerExtractLane moves integer lanes with umov, and float lanes to the low lane with dup.
func (m *machine) lowerExtractLane(instr *ssa.Instruction) {
	v := instr.Arg()
	lane := instr.LaneData()
	arr := arrOf(v.Type())
	dst := m.c.VRegOf(instr.Return())
	if typ := instr.Type(); typ.IsFloat() {
		m.insert(m.allocateInstr().asVecDupElement(dst, m.c.VRegOf(v), arr, lane))
	} else {
		m.insert(m.allocateInstr().asMovFromVec(dst, m.c.VRegOf(v), arr, lane, false, typ.Bits() == 64))
	}
}

func (m *machine) lowerInsertLane(instr *ssa.Instruction) {
	v, x := instr.Arg2()
	lane := instr.LaneData()
	typ := instr.Type()
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asFpuMov(dst, m.c.VRegOf(v)))
	m.insertLane(dst, m.c.VRegOf(x), typ, lane)
}

func (m *machine) insertLane(dst, x regalloc.VReg, typ ssa.Type, lane byte) {
	if typ.IsFloatOrFloatVector() {
		m.insert(m.allocateInstr().asVecMovElement(dst, x, arrOf(typ), lane, 0))
		return
	}
	m.insert(m.allocateInstr().asMovToVec(dst, x, arrOf(typ), lane))
}
