package riscv64

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

func vecLanewise(op vecOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x, y := instr.Arg2()
		m.insert(m.allocateInstr().asVecRRR(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y),
			laneBitsOf(instr.Type())))
	}
}

func vecUnary(op vecOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		m.insert(m.allocateInstr().asVecMisc(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(instr.Arg()),
			laneBitsOf(instr.Type())))
	}
}

func vecSequence(op vecOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x, y := instr.Arg2()
		m.insert(m.allocateInstr().asVecSeq(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y),
			laneBitsOf(instr.Type())))
	}
}

// vecRules need V. Lane-wise comparisons and the vector roundings have no rule, and fail to lower.
var vecRules = []backend.Rule[*machine]{
	{Name: "vconst", Opcode: ssa.OpcodeVconst, Types: backend.TypesVector, Requires: target.ExtV, Lower: (*machine).lowerVconst},
	{Name: "load_vec", Opcode: ssa.OpcodeLoad, Types: backend.TypesVector, Requires: target.ExtV, Lower: (*machine).lowerLoad},
	{Name: "store_vec", Opcode: ssa.OpcodeStore, Types: backend.TypesVector, Requires: target.ExtV, Lower: (*machine).lowerStore},
	{Name: "stack_load_vec", Opcode: ssa.OpcodeStackLoad, Types: backend.TypesVector, Requires: target.ExtV, Lower: (*machine).lowerStackLoad},
	{Name: "stack_store_vec", Opcode: ssa.OpcodeStackStore, Types: backend.TypesVector, Requires: target.ExtV, Lower: (*machine).lowerStackStore},
	{Name: "select_vec", Opcode: ssa.OpcodeSelect, Types: backend.TypesVector, Requires: target.ExtV, Lower: (*machine).lowerSelect},
	{Name: "bitcast_vec", Opcode: ssa.OpcodeBitcast, Types: backend.TypesVector, Requires: target.ExtV, Lower: (*machine).lowerVecBitcast},

	{Name: "iadd_vec", Opcode: ssa.OpcodeIadd, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: vecLanewise(vecOpAdd)},
	{Name: "isub_vec", Opcode: ssa.OpcodeIsub, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: vecLanewise(vecOpSub)},
	{Name: "imul_vec", Opcode: ssa.OpcodeImul, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: vecLanewise(vecOpMul)},
	{Name: "band_vec", Opcode: ssa.OpcodeBand, Types: backend.TypesVector, Requires: target.ExtV, Lower: vecLanewise(vecOpAnd)},
	{Name: "bor_vec", Opcode: ssa.OpcodeBor, Types: backend.TypesVector, Requires: target.ExtV, Lower: vecLanewise(vecOpOr)},
	{Name: "bxor_vec", Opcode: ssa.OpcodeBxor, Types: backend.TypesVector, Requires: target.ExtV, Lower: vecLanewise(vecOpXor)},
	{Name: "bnot_vec", Opcode: ssa.OpcodeBnot, Types: backend.TypesVector, Requires: target.ExtV, Lower: vecUnary(vecOpNot)},
	{Name: "ineg_vec", Opcode: ssa.OpcodeIneg, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: vecUnary(vecOpNeg)},
	{Name: "iabs_vec", Opcode: ssa.OpcodeIabs, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: (*machine).lowerVecIabs},
	{Name: "smin_vec", Opcode: ssa.OpcodeSmin, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: vecLanewise(vecOpMin)},
	{Name: "smax_vec", Opcode: ssa.OpcodeSmax, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: vecLanewise(vecOpMax)},
	{Name: "umin_vec", Opcode: ssa.OpcodeUmin, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: vecLanewise(vecOpMinu)},
	{Name: "umax_vec", Opcode: ssa.OpcodeUmax, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: vecLanewise(vecOpMaxu)},
	{Name: "iadd_pairwise", Opcode: ssa.OpcodeIaddPairwise, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: vecSequence(vecOpIaddPairwise)},
	{Name: "ishl_vec", Opcode: ssa.OpcodeIshl, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: (*machine).lowerVecShift},
	{Name: "ushr_vec", Opcode: ssa.OpcodeUshr, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: (*machine).lowerVecShift},
	{Name: "sshr_vec", Opcode: ssa.OpcodeSshr, Types: backend.TypesVecInt, Requires: target.ExtV, Lower: (*machine).lowerVecShift},

	{Name: "fadd_vec", Opcode: ssa.OpcodeFadd, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecLanewise(vecOpFadd)},
	{Name: "fsub_vec", Opcode: ssa.OpcodeFsub, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecLanewise(vecOpFsub)},
	{Name: "fmul_vec", Opcode: ssa.OpcodeFmul, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecLanewise(vecOpFmul)},
	{Name: "fdiv_vec", Opcode: ssa.OpcodeFdiv, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecLanewise(vecOpFdiv)},
	{Name: "fcopysign_vec", Opcode: ssa.OpcodeFcopysign, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecLanewise(vecOpFsgnj)},
	{Name: "fmin_vec", Opcode: ssa.OpcodeFmin, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecSequence(vecOpFmin)},
	{Name: "fmax_vec", Opcode: ssa.OpcodeFmax, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecSequence(vecOpFmax)},
	{Name: "fmin_pseudo_vec", Opcode: ssa.OpcodeFminPseudo, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecSequence(vecOpFminPseudo)},
	{Name: "fmax_pseudo_vec", Opcode: ssa.OpcodeFmaxPseudo, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecSequence(vecOpFmaxPseudo)},
	{Name: "sqrt_vec", Opcode: ssa.OpcodeSqrt, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecUnary(vecOpFsqrt)},
	{Name: "fneg_vec", Opcode: ssa.OpcodeFneg, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecUnary(vecOpFneg)},
	{Name: "fabs_vec", Opcode: ssa.OpcodeFabs, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: vecUnary(vecOpFabs)},
	{Name: "fcvt_from_sint_vec", Opcode: ssa.OpcodeFcvtFromSint, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: (*machine).lowerVecFcvtFromInt},
	{Name: "fcvt_from_uint_vec", Opcode: ssa.OpcodeFcvtFromUint, Types: backend.TypesVecFloat, Requires: target.ExtV, Lower: (*machine).lowerVecFcvtFromInt},

	{Name: "splat", Opcode: ssa.OpcodeSplat, Types: backend.TypesVector, Requires: target.ExtV, Lower: (*machine).lowerSplat},
	{Name: "extractlane", Opcode: ssa.OpcodeExtractLane, Types: backend.TypesIntScalar, Requires: target.ExtV, Lower: (*machine).lowerExtractLane},
	{Name: "extractlane_float", Opcode: ssa.OpcodeExtractLane, Types: backend.TypesFloat, Requires: target.ExtV, Lower: (*machine).lowerExtractLane},
	{Name: "insertlane", Opcode: ssa.OpcodeInsertLane, Types: backend.TypesVector, Requires: target.ExtV, Lower: (*machine).lowerInsertLane},
}

func (m *machine) lowerVconst(instr *ssa.Instruction) {
	lo, hi := instr.VconstData()
	m.insert(m.allocateInstr().asLoadVecConst(m.c.VRegOf(instr.Return()), lo, hi))
}

func (m *machine) lowerVecBitcast(instr *ssa.Instruction) {
	x := instr.Arg()
	if !x.Type().IsVector() {
		backend.Unsupported(m.arch(), instr, "bitcast from "+x.Type().String())
	}
	m.insert(m.allocateInstr().asVecMov(m.c.VRegOf(instr.Return()), m.c.VRegOf(x)))
}

// lowerVecIabs computes vmax(x, -x), which leaves the minimum signed lane as is.
func (m *machine) lowerVecIabs(instr *ssa.Instruction) {
	typ := instr.Type()
	lb := laneBitsOf(typ)
	xr := m.c.VRegOf(instr.Arg())
	neg := m.c.AllocateVReg(typ)
	m.insert(m.allocateInstr().asVecMisc(vecOpNeg, neg, xr, lb))
	m.insert(m.allocateInstr().asVecRRR(vecOpMax, m.c.VRegOf(instr.Return()), xr, neg, lb))
}

// lowerVecShift shifts by a scalar register; the .vx forms read only the low log2(SEW) bits of the amount.
func (m *machine) lowerVecShift(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	var op vecOp
	switch instr.Opcode() {
	case ssa.OpcodeIshl:
		op = vecOpSll
	case ssa.OpcodeUshr:
		op = vecOpSrl
	default:
		op = vecOpSra
	}
	m.insert(m.allocateInstr().asVecRRX(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.amountReg(amt),
		laneBitsOf(instr.Type())))
}

// lowerVecFcvtFromInt converts lanes of the same width only: i32x4 to f32x4 and i64x2 to f64x2.
func (m *machine) lowerVecFcvtFromInt(instr *ssa.Instruction) {
	x := instr.Arg()
	lb := laneBitsOf(instr.Type())
	if laneBitsOf(x.Type()) != lb {
		backend.Unsupported(m.arch(), instr, "widening conversion from "+x.Type().String())
	}
	op := vecOpFcvtFromX
	if instr.Opcode() == ssa.OpcodeFcvtFromUint {
		op = vecOpFcvtFromXu
	}
	m.insert(m.allocateInstr().asVecMisc(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), lb))
}

// lowerSplat uses vmv.v.x for integers and vfmv.v.f for floats; i8 and i16 lanes take the low bits.
func (m *machine) lowerSplat(instr *ssa.Instruction) {
	m.insert(m.allocateInstr().asVecSplat(m.c.VRegOf(instr.Return()), m.c.VRegOf(instr.Arg()), laneBitsOf(instr.Type())))
}

func (m *machine) lowerExtractLane(instr *ssa.Instruction) {
	v := instr.Arg()
	m.insert(m.allocateInstr().asVecExtractLane(m.c.VRegOf(instr.Return()), m.c.VRegOf(v), instr.LaneData(),
		laneBitsOf(v.Type())))
}

// lowerInsertLane copies x into the result and slides y up into the lane, leaving the other lanes.
func (m *machine) lowerInsertLane(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asVecMov(dst, m.c.VRegOf(x)))
	m.insert(m.allocateInstr().asVecInsertLane(dst, m.c.VRegOf(y), instr.LaneData(), laneBitsOf(instr.Type())))
}
