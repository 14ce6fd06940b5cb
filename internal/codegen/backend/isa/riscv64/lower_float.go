package riscv64

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

func fpuBinary(op fpuOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x, y := instr.Arg2()
		m.insert(m.allocateInstr().asFpuRRR(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y),
			instr.Type().Bits()))
	}
}

// fpuSignOp lowers fneg and fabs as sign injections of x into itself.
func fpuSignOp(op fpuOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x := m.c.VRegOf(instr.Arg())
		m.insert(m.allocateInstr().asFpuRRR(op, m.c.VRegOf(instr.Return()), x, x, instr.Type().Bits()))
	}
}

func fpuRound(mode roundMode) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		m.insert(m.allocateInstr().asFpuRoundSeq(mode, m.c.VRegOf(instr.Return()), m.c.VRegOf(instr.Arg()),
			instr.Type().Bits()))
	}
}

func fpuMinMax(op fpuOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x, y := instr.Arg2()
		m.insert(m.allocateInstr().asFminMaxSeq(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y),
			instr.Type().Bits()))
	}
}

var floatRules = []backend.Rule[*machine]{
	{Name: "fadd", Opcode: ssa.OpcodeFadd, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpAdd)},
	{Name: "fsub", Opcode: ssa.OpcodeFsub, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpSub)},
	{Name: "fmul", Opcode: ssa.OpcodeFmul, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpMul)},
	{Name: "fdiv", Opcode: ssa.OpcodeFdiv, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpDiv)},
	{Name: "fcopysign", Opcode: ssa.OpcodeFcopysign, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpSgnj)},
	{Name: "sqrt", Opcode: ssa.OpcodeSqrt, Types: backend.TypesFloat, Lower: (*machine).lowerSqrt},
	{Name: "fneg", Opcode: ssa.OpcodeFneg, Types: backend.TypesFloat, Lower: fpuSignOp(fpuOpSgnjn)},
	{Name: "fabs", Opcode: ssa.OpcodeFabs, Types: backend.TypesFloat, Lower: fpuSignOp(fpuOpSgnjx)},
	{Name: "fmin", Opcode: ssa.OpcodeFmin, Types: backend.TypesFloat, Lower: fpuMinMax(fpuOpMin)},
	{Name: "fmax", Opcode: ssa.OpcodeFmax, Types: backend.TypesFloat, Lower: fpuMinMax(fpuOpMax)},
	{Name: "fmin_pseudo", Opcode: ssa.OpcodeFminPseudo, Types: backend.TypesFloat, Lower: (*machine).lowerFminFmaxPseudo},
	{Name: "fmax_pseudo", Opcode: ssa.OpcodeFmaxPseudo, Types: backend.TypesFloat, Lower: (*machine).lowerFminFmaxPseudo},
	{Name: "ceil", Opcode: ssa.OpcodeCeil, Types: backend.TypesFloat, Lower: fpuRound(roundRUP)},
	{Name: "floor", Opcode: ssa.OpcodeFloor, Types: backend.TypesFloat, Lower: fpuRound(roundRDN)},
	{Name: "trunc", Opcode: ssa.OpcodeTrunc, Types: backend.TypesFloat, Lower: fpuRound(roundRTZ)},
	{Name: "nearest", Opcode: ssa.OpcodeNearest, Types: backend.TypesFloat, Lower: fpuRound(roundRNE)},
	{Name: "fcmp", Opcode: ssa.OpcodeFcmp, Types: backend.TypesFloat, Lower: (*machine).lowerFcmp},
	{Name: "fcvt_to_sint", Opcode: ssa.OpcodeFcvtToSint, Types: backend.TypesInt32And64, Lower: (*machine).lowerFcvtToInt},
	{Name: "fcvt_to_uint", Opcode: ssa.OpcodeFcvtToUint, Types: backend.TypesInt32And64, Lower: (*machine).lowerFcvtToInt},
	{Name: "fcvt_from_sint", Opcode: ssa.OpcodeFcvtFromSint, Types: backend.TypesFloat, Lower: (*machine).lowerFcvtFromInt},
	{Name: "fcvt_from_uint", Opcode: ssa.OpcodeFcvtFromUint, Types: backend.TypesFloat, Lower: (*machine).lowerFcvtFromInt},
	{Name: "fpromote", Opcode: ssa.OpcodeFpromote, Types: typesF64, Lower: (*machine).lowerFpromoteDemote},
	{Name: "fdemote", Opcode: ssa.OpcodeFdemote, Types: typesF32, Lower: (*machine).lowerFpromoteDemote},
}

func (m *machine) lowerSqrt(instr *ssa.Instruction) {
	m.insert(m.allocateInstr().asFpuRR(fpuOpSqrt, m.c.VRegOf(instr.Return()), m.c.VRegOf(instr.Arg()), instr.Type().Bits()))
}

// lowerFminFmaxPseudo computes y < x ? y : x for the minimum and x < y ? y : x for the maximum, so that
// x is picked for NaN and equal inputs.
func (m *machine) lowerFminFmaxPseudo(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	bits := instr.Type().Bits()
	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)
	a, b := yr, xr
	if instr.Opcode() == ssa.OpcodeFmaxPseudo {
		a, b = xr, yr
	}
	t := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asFpuCmp(fpuCmpOpFlt, t, a, b, bits))
	m.insert(m.allocateInstr().asSelectSeq(m.c.VRegOf(instr.Return()), t, yr, xr))
}

// lowerFcmp maps every condition on feq, flt and fle, which are false for NaN operands. The greater
// conditions swap the operands; not equal and unordered invert the result of the opposite test.
func (m *machine) lowerFcmp(instr *ssa.Instruction) {
	x, y, c := instr.FcmpData()
	bits := x.Type().Bits()
	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)
	dst := m.c.VRegOf(instr.Return())
	cmp := func(op fpuCmpOp, rd, a, b regalloc.VReg) {
		m.insert(m.allocateInstr().asFpuCmp(op, rd, a, b, bits))
	}
	ordered := func(rd regalloc.VReg) {
		a, b := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
		cmp(fpuCmpOpFeq, a, xr, xr)
		cmp(fpuCmpOpFeq, b, yr, yr)
		m.insert(m.allocateInstr().asALU(aluOpAnd, rd, a, b))
	}
	not := func(f func(rd regalloc.VReg)) {
		t := m.c.AllocateVReg(ssa.TypeI64)
		f(t)
		m.insert(m.allocateInstr().asALUImm(aluOpXor, dst, t, 1))
	}

	switch c {
	case ssa.FloatCmpCondEqual:
		cmp(fpuCmpOpFeq, dst, xr, yr)
	case ssa.FloatCmpCondNotEqual:
		not(func(rd regalloc.VReg) { cmp(fpuCmpOpFeq, rd, xr, yr) })
	case ssa.FloatCmpCondLessThan:
		cmp(fpuCmpOpFlt, dst, xr, yr)
	case ssa.FloatCmpCondLessThanOrEqual:
		cmp(fpuCmpOpFle, dst, xr, yr)
	case ssa.FloatCmpCondGreaterThan:
		cmp(fpuCmpOpFlt, dst, yr, xr)
	case ssa.FloatCmpCondGreaterThanOrEqual:
		cmp(fpuCmpOpFle, dst, yr, xr)
	case ssa.FloatCmpCondOrdered:
		ordered(dst)
	case ssa.FloatCmpCondUnordered:
		not(ordered)
	default:
		panic("BUG: invalid float condition")
	}
}

// lowerFcvtToInt traps on NaN and out of range inputs, which fcvt would saturate.
func (m *machine) lowerFcvtToInt(instr *ssa.Instruction) {
	x := instr.Arg()
	signed := instr.Opcode() == ssa.OpcodeFcvtToSint
	m.insert(m.allocateInstr().asFpuToIntSeq(m.c.VRegOf(instr.Return()), m.c.VRegOf(x), signed,
		instr.Type().Bits() == 64, x.Type().Bits()))
}

// lowerFcvtFromInt converts i32 with the w forms, which read the low 32 bits, and the narrower integers
// extended to 64 bits.
func (m *machine) lowerFcvtFromInt(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	if typ == ssa.TypeI128 {
		backend.Unsupported(m.arch(), instr, "i128 to float conversion")
	}
	signed := instr.Opcode() == ssa.OpcodeFcvtFromSint
	src := m.c.VRegOf(x)
	if typ.Bits() < 32 {
		src = m.extendTo(src, typ, signed)
	}
	m.insert(m.allocateInstr().asIntToFpu(m.c.VRegOf(instr.Return()), src, signed, typ.Bits() != 32, instr.Type().Bits()))
}

func (m *machine) lowerFpromoteDemote(instr *ssa.Instruction) {
	op, bits := fpuOpCvtToD, byte(64)
	if instr.Opcode() == ssa.OpcodeFdemote {
		op, bits = fpuOpCvtToS, 32
	}
	m.insert(m.allocateInstr().asFpuRR(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(instr.Arg()), bits))
}
