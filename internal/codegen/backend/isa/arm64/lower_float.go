package arm64

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

var typesFloatOrVec = backend.TypesFloat | backend.TypesVecFloat

func fpuBinary(op fpuOp, vop vecOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x, y := instr.Arg2()
		typ := instr.Type()
		dst, xr, yr := m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y)
		if typ.IsVector() {
			m.insert(m.allocateInstr().asVecRRR(vop, dst, xr, yr, arrOf(typ)))
			return
		}
		m.insert(m.allocateInstr().asFpuRRR(op, dst, xr, yr, typ.Bits()))
	}
}

func fpuUnary(op fpuOp, vop vecOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		typ := instr.Type()
		dst, src := m.c.VRegOf(instr.Return()), m.c.VRegOf(instr.Arg())
		if typ.IsVector() {
			m.insert(m.allocateInstr().asVecMisc(vop, dst, src, arrOf(typ)))
			return
		}
		m.insert(m.allocateInstr().asFpuRR(op, dst, src, typ.Bits()))
	}
}

var floatRules = []backend.Rule[*machine]{
	{Name: "fadd", Opcode: ssa.OpcodeFadd, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpAdd, vecOpFadd)},
	{Name: "fadd_vec", Opcode: ssa.OpcodeFadd, Types: backend.TypesVecFloat, Lower: fpuBinary(fpuOpAdd, vecOpFadd)},
	{Name: "fsub", Opcode: ssa.OpcodeFsub, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpSub, vecOpFsub)},
	{Name: "fsub_vec", Opcode: ssa.OpcodeFsub, Types: backend.TypesVecFloat, Lower: fpuBinary(fpuOpSub, vecOpFsub)},
	{Name: "fmul", Opcode: ssa.OpcodeFmul, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpMul, vecOpFmul)},
	{Name: "fmul_vec", Opcode: ssa.OpcodeFmul, Types: backend.TypesVecFloat, Lower: fpuBinary(fpuOpMul, vecOpFmul)},
	{Name: "fdiv", Opcode: ssa.OpcodeFdiv, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpDiv, vecOpFdiv)},
	{Name: "fdiv_vec", Opcode: ssa.OpcodeFdiv, Types: backend.TypesVecFloat, Lower: fpuBinary(fpuOpDiv, vecOpFdiv)},
	{Name: "sqrt", Opcode: ssa.OpcodeSqrt, Types: typesFloatOrVec, Lower: fpuUnary(fpuOpSqrt, vecOpFsqrt)},
	{Name: "fneg", Opcode: ssa.OpcodeFneg, Types: typesFloatOrVec, Lower: fpuUnary(fpuOpNeg, vecOpFneg)},
	{Name: "fabs", Opcode: ssa.OpcodeFabs, Types: typesFloatOrVec, Lower: fpuUnary(fpuOpAbs, vecOpFabs)},
	{Name: "fcopysign", Opcode: ssa.OpcodeFcopysign, Types: typesFloatOrVec, Lower: (*machine).lowerFcopysign},
	{Name: "fmin", Opcode: ssa.OpcodeFmin, Types: typesFloatOrVec, Lower: fpuBinary(fpuOpMin, vecOpFmin)},
	{Name: "fmax", Opcode: ssa.OpcodeFmax, Types: typesFloatOrVec, Lower: fpuBinary(fpuOpMax, vecOpFmax)},
	{Name: "fmin_pseudo", Opcode: ssa.OpcodeFminPseudo, Types: typesFloatOrVec, Lower: (*machine).lowerFminFmaxPseudo},
	{Name: "fmax_pseudo", Opcode: ssa.OpcodeFmaxPseudo, Types: typesFloatOrVec, Lower: (*machine).lowerFminFmaxPseudo},
	{Name: "ceil", Opcode: ssa.OpcodeCeil, Types: typesFloatOrVec, Lower: fpuUnary(fpuOpRintP, vecOpFrintp)},
	{Name: "floor", Opcode: ssa.OpcodeFloor, Types: typesFloatOrVec, Lower: fpuUnary(fpuOpRintM, vecOpFrintm)},
	{Name: "trunc", Opcode: ssa.OpcodeTrunc, Types: typesFloatOrVec, Lower: fpuUnary(fpuOpRintZ, vecOpFrintz)},
	{Name: "nearest", Opcode: ssa.OpcodeNearest, Types: typesFloatOrVec, Lower: fpuUnary(fpuOpRintN, vecOpFrintn)},
	{Name: "fcmp", Opcode: ssa.OpcodeFcmp, Types: backend.TypesFloat, Lower: (*machine).lowerFcmp},
	{Name: "fcvt_to_sint", Opcode: ssa.OpcodeFcvtToSint, Types: backend.TypesInt32And64, Lower: (*machine).lowerFcvtToInt},
	{Name: "fcvt_to_uint", Opcode: ssa.OpcodeFcvtToUint, Types: backend.TypesInt32And64, Lower: (*machine).lowerFcvtToInt},
	{Name: "fcvt_from_sint", Opcode: ssa.OpcodeFcvtFromSint, Types: backend.TypesFloat, Lower: (*machine).lowerFcvtFromInt},
	{Name: "fcvt_from_uint", Opcode: ssa.OpcodeFcvtFromUint, Types: backend.TypesFloat, Lower: (*machine).lowerFcvtFromInt},
	{Name: "fpromote", Opcode: ssa.OpcodeFpromote, Types: typesF64, Lower: (*machine).lowerFpromoteDemote},
	{Name: "fdemote", Opcode: ssa.OpcodeFdemote, Types: typesF32, Lower: (*machine).lowerFpromoteDemote},
}

// signMask returns a register with the sign bit of every float lane of typ set.
func (m *machine) signMask(typ ssa.Type) regalloc.VReg {
	switch {
	case typ == ssa.TypeF32:
		r := m.c.AllocateVReg(ssa.TypeF64)
		m.insert(m.allocateInstr().asLoadFpuConst32(r, 1<<31))
		return r
	case typ == ssa.TypeF64:
		r := m.c.AllocateVReg(ssa.TypeF64)
		m.insert(m.allocateInstr().asLoadFpuConst64(r, 1<<63))
		return r
	case typ.LaneType() == ssa.TypeF32:
		r := m.c.AllocateVReg(ssa.TypeI8x16)
		m.insert(m.allocateInstr().asLoadFpuConst128(r, 0x80000000_80000000, 0x80000000_80000000))
		return r
	default:
		r := m.c.AllocateVReg(ssa.TypeI8x16)
		m.insert(m.allocateInstr().asLoadFpuConst128(r, 1<<63, 1<<63))
		return r
	}
}

// lowerFcopysign takes the sign bits of y and the rest of x with bsl on the sign mask.
func (m *machine) lowerFcopysign(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asFpuMov(dst, m.signMask(instr.Type())))
	m.insert(m.allocateInstr().asVecRRR(vecOpBsl, dst, m.c.VRegOf(y), m.c.VRegOf(x), vecArrangement16B))
}

// lowerFminFmaxPseudo computes y < x ? y : x for the minimum and x < y ? y : x for the maximum, so that
// x is picked for NaN and equal inputs.
func (m *machine) lowerFminFmaxPseudo(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	typ := instr.Type()
	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)
	dst := m.c.VRegOf(instr.Return())
	// a < b selects y.
	a, b := yr, xr
	if instr.Opcode() == ssa.OpcodeFmaxPseudo {
		a, b = xr, yr
	}
	if typ.IsVector() {
		m.insert(m.allocateInstr().asVecRRR(vecOpFcmgt, dst, b, a, arrOf(typ)))
		m.insert(m.allocateInstr().asVecRRR(vecOpBsl, dst, yr, xr, vecArrangement16B))
		return
	}
	m.insert(m.allocateInstr().asFpuCmp(a, b, typ.Bits()))
	m.insert(m.allocateInstr().asFpuCSel(dst, yr, xr, mi, typ.Bits()))
}

// lowerFcmpToFlags compares x and y with fcmp, and returns the condition which holds if x c y does.
// An unordered result sets C and V, so every condition has a single code.
func (m *machine) lowerFcmpToFlags(x, y ssa.Value, c ssa.FloatCmpCond) condFlag {
	m.insert(m.allocateInstr().asFpuCmp(m.c.VRegOf(x), m.c.VRegOf(y), x.Type().Bits()))
	switch c {
	case ssa.FloatCmpCondEqual:
		return eq
	case ssa.FloatCmpCondNotEqual:
		return ne
	case ssa.FloatCmpCondLessThan:
		return mi
	case ssa.FloatCmpCondLessThanOrEqual:
		return ls
	case ssa.FloatCmpCondGreaterThan:
		return gt
	case ssa.FloatCmpCondGreaterThanOrEqual:
		return ge
	case ssa.FloatCmpCondOrdered:
		return vc
	case ssa.FloatCmpCondUnordered:
		return vs
	default:
		panic("BUG: invalid float condition")
	}
}

func (m *machine) lowerFcmp(instr *ssa.Instruction) {
	x, y, c := instr.FcmpData()
	cc := m.lowerFcmpToFlags(x, y, c)
	m.insert(m.allocateInstr().asCSet(m.c.VRegOf(instr.Return()), cc, false))
}

// lowerFcvtToInt traps on NaN and out of range inputs, which fcvtz would saturate.
func (m *machine) lowerFcvtToInt(instr *ssa.Instruction) {
	x := instr.Arg()
	signed := instr.Opcode() == ssa.OpcodeFcvtToSint
	m.insert(m.allocateInstr().asFpuToIntSeq(m.c.VRegOf(instr.Return()), m.c.VRegOf(x), signed,
		instr.Type().Bits() == 64, x.Type().Bits()))
}

func (m *machine) lowerFcvtFromInt(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	if typ == ssa.TypeI128 {
		backend.Unsupported(m.arch(), instr, "i128 to float conversion")
	}
	signed := instr.Opcode() == ssa.OpcodeFcvtFromSint
	src := m.c.VRegOf(x)
	if typ.Bits() < 32 {
		src = m.extendTo(src, typ, 32, signed)
	}
	m.insert(m.allocateInstr().asIntToFpu(m.c.VRegOf(instr.Return()), src, signed, typ.Bits() == 64, instr.Type().Bits()))
}

func (m *machine) lowerFpromoteDemote(instr *ssa.Instruction) {
	x := instr.Arg()
	op := fpuOpCvt32To64
	if instr.Opcode() == ssa.OpcodeFdemote {
		op = fpuOpCvt64To32
	}
	m.insert(m.allocateInstr().asFpuRR(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), x.Type().Bits()))
}
