package amd64

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

var typesFloatOrVec = backend.TypesFloat | backend.TypesVecFloat

func rounding(mode uint8) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) { m.lowerRound(mode, instr) }
}

var floatRules = []backend.Rule[*machine]{
	{Name: "fadd", Opcode: ssa.OpcodeFadd, Types: backend.TypesFloat, Lower: xmmBinary(sseOpcodeAddss, sseOpcodeAddsd)},
	{Name: "fadd_vec", Opcode: ssa.OpcodeFadd, Types: backend.TypesVecFloat, Lower: xmmBinary(sseOpcodeAddps, sseOpcodeAddpd)},
	{Name: "fsub", Opcode: ssa.OpcodeFsub, Types: backend.TypesFloat, Lower: xmmBinary(sseOpcodeSubss, sseOpcodeSubsd)},
	{Name: "fsub_vec", Opcode: ssa.OpcodeFsub, Types: backend.TypesVecFloat, Lower: xmmBinary(sseOpcodeSubps, sseOpcodeSubpd)},
	{Name: "fmul", Opcode: ssa.OpcodeFmul, Types: backend.TypesFloat, Lower: xmmBinary(sseOpcodeMulss, sseOpcodeMulsd)},
	{Name: "fmul_vec", Opcode: ssa.OpcodeFmul, Types: backend.TypesVecFloat, Lower: xmmBinary(sseOpcodeMulps, sseOpcodeMulpd)},
	{Name: "fdiv", Opcode: ssa.OpcodeFdiv, Types: backend.TypesFloat, Lower: xmmBinary(sseOpcodeDivss, sseOpcodeDivsd)},
	{Name: "fdiv_vec", Opcode: ssa.OpcodeFdiv, Types: backend.TypesVecFloat, Lower: xmmBinary(sseOpcodeDivps, sseOpcodeDivpd)},
	{Name: "sqrt", Opcode: ssa.OpcodeSqrt, Types: typesFloatOrVec, Lower: (*machine).lowerSqrt},
	{Name: "fneg", Opcode: ssa.OpcodeFneg, Types: typesFloatOrVec, Lower: (*machine).lowerFneg},
	{Name: "fabs", Opcode: ssa.OpcodeFabs, Types: typesFloatOrVec, Lower: (*machine).lowerFabs},
	{Name: "fcopysign", Opcode: ssa.OpcodeFcopysign, Types: typesFloatOrVec, Lower: (*machine).lowerFcopysign},
	{Name: "fmin", Opcode: ssa.OpcodeFmin, Types: backend.TypesFloat, Lower: (*machine).lowerFminFmax},
	{Name: "fmax", Opcode: ssa.OpcodeFmax, Types: backend.TypesFloat, Lower: (*machine).lowerFminFmax},
	{Name: "fmin_pseudo", Opcode: ssa.OpcodeFminPseudo, Types: typesFloatOrVec, Lower: (*machine).lowerFminFmaxPseudo},
	{Name: "fmax_pseudo", Opcode: ssa.OpcodeFmaxPseudo, Types: typesFloatOrVec, Lower: (*machine).lowerFminFmaxPseudo},
	{Name: "ceil", Opcode: ssa.OpcodeCeil, Types: typesFloatOrVec, Requires: target.ExtSSE41, Lower: rounding(roundingCeil)},
	{Name: "floor", Opcode: ssa.OpcodeFloor, Types: typesFloatOrVec, Requires: target.ExtSSE41, Lower: rounding(roundingFloor)},
	{Name: "trunc", Opcode: ssa.OpcodeTrunc, Types: typesFloatOrVec, Requires: target.ExtSSE41, Lower: rounding(roundingTrunc)},
	{Name: "nearest", Opcode: ssa.OpcodeNearest, Types: typesFloatOrVec, Requires: target.ExtSSE41, Lower: rounding(roundingNearest)},
	{Name: "fcmp", Opcode: ssa.OpcodeFcmp, Types: backend.TypesFloat, Lower: (*machine).lowerFcmp},
	{Name: "fcvt_to_sint", Opcode: ssa.OpcodeFcvtToSint, Types: backend.TypesInt32And64, Lower: (*machine).lowerFcvtToInt},
	{Name: "fcvt_to_uint", Opcode: ssa.OpcodeFcvtToUint, Types: backend.TypesInt32And64, Lower: (*machine).lowerFcvtToInt},
	{Name: "fcvt_from_sint", Opcode: ssa.OpcodeFcvtFromSint, Types: backend.TypesFloat, Lower: (*machine).lowerFcvtFromSint},
	{Name: "fcvt_from_uint", Opcode: ssa.OpcodeFcvtFromUint, Types: backend.TypesFloat, Lower: (*machine).lowerFcvtFromUint},
	{Name: "fpromote", Opcode: ssa.OpcodeFpromote, Types: typesF64, Lower: (*machine).lowerFpromoteDemote},
	{Name: "fdemote", Opcode: ssa.OpcodeFdemote, Types: typesF32, Lower: (*machine).lowerFpromoteDemote},
}

// is64 reports whether the float or the lanes of typ are 64 bits wide.
func is64(typ ssa.Type) bool {
	if typ.IsVector() {
		return typ.LaneType().Bits() == 64
	}
	return typ.Bits() == 64
}

func pick(typ ssa.Type, op32, op64 sseOpcode) sseOpcode {
	if is64(typ) {
		return op64
	}
	return op32
}

// lowerXmmBinary computes dst = x op y, folding a load of y for scalars.
func (m *machine) lowerXmmBinary(op32, op64 sseOpcode, instr *ssa.Instruction) {
	x, y := instr.Arg2()
	typ := instr.Type()
	rm := m.getOperand_Reg(y)
	if !typ.IsVector() {
		rm = m.getOperand_Mem_Reg(y)
	}
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(m.c.VRegOf(x), dst))
	m.insert(m.allocateInstr().asXmmRmR(pick(typ, op32, op64), rm, dst))
}

// lowerXmmBitwise never folds loads: the packed forms read all 16 bytes.
func (m *machine) lowerXmmBitwise(op sseOpcode, instr *ssa.Instruction) {
	x, y := instr.Arg2()
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(m.c.VRegOf(x), dst))
	m.insert(m.allocateInstr().asXmmRmR(op, m.getOperand_Reg(y), dst))
}

func (m *machine) lowerSqrt(instr *ssa.Instruction) {
	typ := instr.Type()
	op := pick(typ, sseOpcodeSqrtss, sseOpcodeSqrtsd)
	if typ.IsVector() {
		op = pick(typ, sseOpcodeSqrtps, sseOpcodeSqrtpd)
	}
	m.insert(m.allocateInstr().asXmmUnaryRmR(op, m.getOperand_Reg(instr.Arg()), m.c.VRegOf(instr.Return())))
}

// laneConst returns an xmm register with v in every 32 or 64-bit lane.
func (m *machine) laneConst(v uint64, _64 bool) regalloc.VReg {
	g := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asImm(g, v, _64))
	x := m.c.AllocateVReg(ssa.TypeI64x2)
	op, shuf := sseOpcodeMovd, uint8(0)
	if _64 {
		op, shuf = sseOpcodeMovq, 0x44
	}
	m.insert(m.allocateInstr().asGprToXmm(op, newOperandReg(g), x, _64))
	dst := m.c.AllocateVReg(ssa.TypeI64x2)
	m.insert(m.allocateInstr().asXmmRmRImm(sseOpcodePshufd, shuf, newOperandReg(x), dst))
	return dst
}

func (m *machine) signMask(typ ssa.Type) regalloc.VReg {
	if is64(typ) {
		return m.laneConst(1<<63, true)
	}
	return m.laneConst(1<<31, false)
}

func (m *machine) lowerFneg(instr *ssa.Instruction) {
	typ := instr.Type()
	mask := m.signMask(typ)
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(m.c.VRegOf(instr.Arg()), dst))
	m.insert(m.allocateInstr().asXmmRmR(pick(typ, sseOpcodeXorps, sseOpcodeXorpd), newOperandReg(mask), dst))
}

func (m *machine) lowerFabs(instr *ssa.Instruction) {
	typ := instr.Type()
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(m.signMask(typ), dst))
	m.insert(m.allocateInstr().asXmmRmR(pick(typ, sseOpcodeAndnps, sseOpcodeAndnpd), m.getOperand_Reg(instr.Arg()), dst))
}

// lowerFcopysign computes (y & sign) | (x &^ sign).
func (m *machine) lowerFcopysign(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	typ := instr.Type()
	mask := m.signMask(typ)
	sign := m.c.AllocateVReg(ssa.TypeI64x2)
	m.insert(m.allocateInstr().asXmmMovRR(mask, sign))
	m.insert(m.allocateInstr().asXmmRmR(pick(typ, sseOpcodeAndps, sseOpcodeAndpd), m.getOperand_Reg(y), sign))
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(mask, dst))
	m.insert(m.allocateInstr().asXmmRmR(pick(typ, sseOpcodeAndnps, sseOpcodeAndnpd), m.getOperand_Reg(x), dst))
	m.insert(m.allocateInstr().asXmmRmR(pick(typ, sseOpcodeOrps, sseOpcodeOrpd), newOperandReg(sign), dst))
}

// lowerFminFmax lowers the scalar fmin and fmax, which propagate NaN and order -0.0 below +0.0,
// unlike minss and maxss.
func (m *machine) lowerFminFmax(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(m.c.VRegOf(x), dst))
	m.insert(m.allocateInstr().asXmmMinMaxSeq(instr.Opcode() == ssa.OpcodeFmin, is64(instr.Type()), m.c.VRegOf(y), dst))
}

// lowerFminFmaxPseudo uses that min(a, b) returns b unless a < b, which is exactly y < x ? y : x for
// a = y and b = x. Same for the maximum.
func (m *machine) lowerFminFmaxPseudo(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	typ := instr.Type()
	var op sseOpcode
	switch isMin := instr.Opcode() == ssa.OpcodeFminPseudo; {
	case typ.IsVector() && isMin:
		op = pick(typ, sseOpcodeMinps, sseOpcodeMinpd)
	case typ.IsVector():
		op = pick(typ, sseOpcodeMaxps, sseOpcodeMaxpd)
	case isMin:
		op = pick(typ, sseOpcodeMinss, sseOpcodeMinsd)
	default:
		op = pick(typ, sseOpcodeMaxss, sseOpcodeMaxsd)
	}
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(m.c.VRegOf(y), dst))
	m.insert(m.allocateInstr().asXmmRmR(op, m.getOperand_Reg(x), dst))
}

func (m *machine) lowerRound(mode uint8, instr *ssa.Instruction) {
	typ := instr.Type()
	op := pick(typ, sseOpcodeRoundss, sseOpcodeRoundsd)
	if typ.IsVector() {
		op = pick(typ, sseOpcodeRoundps, sseOpcodeRoundpd)
	}
	m.insert(m.allocateInstr().asXmmRmRImm(op, mode, m.getOperand_Reg(instr.Arg()), m.c.VRegOf(instr.Return())))
}

// lowerFcmpToFlags compares x and y with ucomis, and returns the condition which holds if x c y does.
// If parity is set, the condition also needs the parity flag clear (Eq), or holds when it is set (Ne).
func (m *machine) lowerFcmpToFlags(x, y ssa.Value, c ssa.FloatCmpCond) (cc cond, parity bool) {
	switch c {
	case ssa.FloatCmpCondLessThan, ssa.FloatCmpCondLessThanOrEqual:
		x, y = y, x
	}
	op := pick(x.Type(), sseOpcodeUcomiss, sseOpcodeUcomisd)
	m.insert(m.allocateInstr().asXmmCmpRmR(op, m.getOperand_Mem_Reg(y), m.c.VRegOf(x)))
	switch c {
	case ssa.FloatCmpCondEqual:
		return condZ, true
	case ssa.FloatCmpCondNotEqual:
		return condNZ, true
	case ssa.FloatCmpCondGreaterThan, ssa.FloatCmpCondLessThan:
		return condNBE, false
	case ssa.FloatCmpCondGreaterThanOrEqual, ssa.FloatCmpCondLessThanOrEqual:
		return condNB, false
	case ssa.FloatCmpCondOrdered:
		return condNP, false
	case ssa.FloatCmpCondUnordered:
		return condP, false
	default:
		panic("BUG: invalid float condition")
	}
}

func (m *machine) lowerFcmp(instr *ssa.Instruction) {
	x, y, c := instr.FcmpData()
	cc, parity := m.lowerFcmpToFlags(x, y, c)
	dst := m.c.VRegOf(instr.Return())
	if !parity {
		m.insert(m.allocateInstr().asSetcc(cc, dst))
		return
	}
	p, op := condNP, aluOpAnd
	if cc == condNZ {
		p, op = condP, aluOpOr
	}
	tmp := m.c.AllocateVReg(ssa.TypeI32)
	m.insert(m.allocateInstr().asSetcc(cc, dst))
	m.insert(m.allocateInstr().asSetcc(p, tmp))
	m.insert(m.allocateInstr().asAluRmiR(op, newOperandReg(tmp), dst, false))
}

func (m *machine) lowerFcvtToInt(instr *ssa.Instruction) {
	x := instr.Arg()
	signed := instr.Opcode() == ssa.OpcodeFcvtToSint
	tmp, tmp2 := m.c.AllocateVReg(ssa.TypeF64), m.c.AllocateVReg(ssa.TypeF64)
	m.insert(m.allocateInstr().asCvtFloatToIntSeq(signed, x.Type().Bits(), m.c.VRegOf(x), m.c.VRegOf(instr.Return()),
		tmp, tmp2, instr.Type().Bits() == 64))
}

func (m *machine) lowerFcvtFromSint(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	src := m.c.VRegOf(x)
	if typ.Bits() < 32 {
		src = m.extendTo(src, typ, 4, true)
	}
	op := pick(instr.Type(), sseOpcodeCvtsi2ss, sseOpcodeCvtsi2sd)
	m.insert(m.allocateInstr().asGprToXmm(op, newOperandReg(src), m.c.VRegOf(instr.Return()), typ.Bits() == 64))
}

// lowerFcvtFromUint converts the values below 64 bits as the zero-extended signed 64-bit integer.
func (m *machine) lowerFcvtFromUint(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	dst := m.c.VRegOf(instr.Return())
	f64 := instr.Type() == ssa.TypeF64
	if typ.Bits() == 64 {
		t1, t2 := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asCvtUint64ToFloatSeq(f64, m.c.VRegOf(x), dst, t1, t2))
		return
	}
	src := m.extendTo(m.c.VRegOf(x), typ, 8, false)
	op := sseOpcodeCvtsi2ss
	if f64 {
		op = sseOpcodeCvtsi2sd
	}
	m.insert(m.allocateInstr().asGprToXmm(op, newOperandReg(src), dst, true))
}

func (m *machine) lowerFpromoteDemote(instr *ssa.Instruction) {
	op := sseOpcodeCvtss2sd
	if instr.Opcode() == ssa.OpcodeFdemote {
		op = sseOpcodeCvtsd2ss
	}
	m.insert(m.allocateInstr().asXmmUnaryRmR(op, m.getOperand_Mem_Reg(instr.Arg()), m.c.VRegOf(instr.Return())))
}
