package s390x

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

var (
	typesF32 = backend.Types(ssa.TypeF32)
	typesF64 = backend.Types(ssa.TypeF64)
)

func fpuBinary(op fpuOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x, y := instr.Arg2()
		m.insert(m.allocateInstr().asFpuRRR(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y),
			instr.Type().Bits()))
	}
}

func fpuUnary(op fpuOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		m.insert(m.allocateInstr().asFpuRR(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(instr.Arg()), instr.Type().Bits()))
	}
}

// fpuRoundMode rounds with fiebra and fidbra in the mode of their third operand.
func fpuRoundMode(mode int64) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		m.insert(m.allocateInstr().asFpuRound(m.c.VRegOf(instr.Return()), m.c.VRegOf(instr.Arg()), mode,
			instr.Type().Bits()))
	}
}

func fpuMinMax(op minMaxOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x, y := instr.Arg2()
		m.insert(m.allocateInstr().asFpuMinMaxSeq(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y),
			instr.Type().Bits()))
	}
}

var floatRules = []backend.Rule[*machine]{
	{Name: "f32const", Opcode: ssa.OpcodeF32const, Types: typesF32, Lower: (*machine).lowerFconst},
	{Name: "f64const", Opcode: ssa.OpcodeF64const, Types: typesF64, Lower: (*machine).lowerFconst},

	{Name: "fadd", Opcode: ssa.OpcodeFadd, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpAdd)},
	{Name: "fsub", Opcode: ssa.OpcodeFsub, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpSub)},
	{Name: "fmul", Opcode: ssa.OpcodeFmul, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpMul)},
	{Name: "fdiv", Opcode: ssa.OpcodeFdiv, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpDiv)},
	{Name: "fcopysign", Opcode: ssa.OpcodeFcopysign, Types: backend.TypesFloat, Lower: fpuBinary(fpuOpCopysign)},
	{Name: "sqrt", Opcode: ssa.OpcodeSqrt, Types: backend.TypesFloat, Lower: fpuUnary(fpuOpSqrt)},
	{Name: "fneg", Opcode: ssa.OpcodeFneg, Types: backend.TypesFloat, Lower: fpuUnary(fpuOpNeg)},
	{Name: "fabs", Opcode: ssa.OpcodeFabs, Types: backend.TypesFloat, Lower: fpuUnary(fpuOpAbs)},
	{Name: "fmin", Opcode: ssa.OpcodeFmin, Types: backend.TypesFloat, Lower: fpuMinMax(minMaxOpMin)},
	{Name: "fmax", Opcode: ssa.OpcodeFmax, Types: backend.TypesFloat, Lower: fpuMinMax(minMaxOpMax)},
	{Name: "fmin_pseudo", Opcode: ssa.OpcodeFminPseudo, Types: backend.TypesFloat, Lower: fpuMinMax(minMaxOpPmin)},
	{Name: "fmax_pseudo", Opcode: ssa.OpcodeFmaxPseudo, Types: backend.TypesFloat, Lower: fpuMinMax(minMaxOpPmax)},
	{Name: "ceil", Opcode: ssa.OpcodeCeil, Types: backend.TypesFloat, Lower: fpuRoundMode(roundUp)},
	{Name: "floor", Opcode: ssa.OpcodeFloor, Types: backend.TypesFloat, Lower: fpuRoundMode(roundDown)},
	{Name: "trunc", Opcode: ssa.OpcodeTrunc, Types: backend.TypesFloat, Lower: fpuRoundMode(roundTowardZero)},
	{Name: "nearest", Opcode: ssa.OpcodeNearest, Types: backend.TypesFloat, Lower: fpuRoundMode(roundNearestEven)},
	{Name: "fcmp", Opcode: ssa.OpcodeFcmp, Types: backend.TypesFloat, Lower: (*machine).lowerFcmp},
	{Name: "fcvt_to_sint", Opcode: ssa.OpcodeFcvtToSint, Types: backend.TypesInt32And64, Lower: (*machine).lowerFcvtToInt},
	{Name: "fcvt_to_uint", Opcode: ssa.OpcodeFcvtToUint, Types: backend.TypesInt32And64, Lower: (*machine).lowerFcvtToInt},
	{Name: "fcvt_from_sint", Opcode: ssa.OpcodeFcvtFromSint, Types: backend.TypesFloat, Lower: (*machine).lowerFcvtFromInt},
	{Name: "fcvt_from_uint", Opcode: ssa.OpcodeFcvtFromUint, Types: backend.TypesFloat, Lower: (*machine).lowerFcvtFromInt},
	{Name: "fpromote", Opcode: ssa.OpcodeFpromote, Types: typesF64, Lower: fpuUnary(fpuOpPromote)},
	{Name: "fdemote", Opcode: ssa.OpcodeFdemote, Types: typesF32, Lower: fpuUnary(fpuOpDemote)},
	{Name: "bitcast_float", Opcode: ssa.OpcodeBitcast, Types: backend.TypesFloat, Lower: (*machine).lowerBitcast},
	// The float select branches over a ldr, as there is no conditional load between float registers.
	{Name: "select_float", Opcode: ssa.OpcodeSelect, Types: backend.TypesFloat, Lower: (*machine).lowerSelect},
}

func (m *machine) lowerFconst(instr *ssa.Instruction) {
	m.InsertLoadConstantBlockArg(instr, m.c.VRegOf(instr.Return()))
}

// floatCondOf returns the cond testing c after cebr or cdbr.
func floatCondOf(c ssa.FloatCmpCond) cond {
	switch c {
	case ssa.FloatCmpCondEqual:
		return condFEq
	case ssa.FloatCmpCondNotEqual:
		return condFNe
	case ssa.FloatCmpCondLessThan:
		return condFLt
	case ssa.FloatCmpCondLessThanOrEqual:
		return condFLe
	case ssa.FloatCmpCondGreaterThan:
		return condFGt
	case ssa.FloatCmpCondGreaterThanOrEqual:
		return condFGe
	case ssa.FloatCmpCondOrdered:
		return condFOrd
	case ssa.FloatCmpCondUnordered:
		return condFUno
	default:
		panic("BUG: invalid float condition")
	}
}

// fcmpOperands returns the float compare of x and y with c.
func (m *machine) fcmpOperands(x, y ssa.Value, c ssa.FloatCmpCond) cmpArgs {
	return cmpArgs{c: floatCondOf(c), rn: m.c.VRegOf(x), rm: m.c.VRegOf(y), _32: x.Type() == ssa.TypeF32, fcmp: true}
}

func (m *machine) lowerFcmp(instr *ssa.Instruction) {
	x, y, c := instr.FcmpData()
	m.insert(m.fcmpOperands(x, y, c).on(m.allocateInstr().asSetCC(m.c.VRegOf(instr.Return()))))
}

// lowerFcvtToInt traps on NaN and on the values out of the range of the result.
func (m *machine) lowerFcvtToInt(instr *ssa.Instruction) {
	x := instr.Arg()
	signed := instr.Opcode() == ssa.OpcodeFcvtToSint
	m.insert(m.allocateInstr().asFpuToIntSeq(m.c.VRegOf(instr.Return()), m.c.VRegOf(x), signed,
		instr.Type().Bits() == 64, x.Type().Bits()))
}

// lowerFcvtFromInt converts the integer extended to 64 bits.
func (m *machine) lowerFcvtFromInt(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	if typ == ssa.TypeI128 {
		backend.Unsupported(m.arch(), instr, "i128 to float conversion")
	}
	signed := instr.Opcode() == ssa.OpcodeFcvtFromSint
	src := m.extendTo(m.c.VRegOf(x), typ, signed)
	m.insert(m.allocateInstr().asIntToFpu(m.c.VRegOf(instr.Return()), src, signed, instr.Type().Bits()))
}
