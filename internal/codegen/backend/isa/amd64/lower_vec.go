package amd64

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// laneOps maps the lane widths of I8x16, I16x8, I32x4 and I64x2 to their opcodes, with sseOpcodeInvalid
// where SSE has none.
type laneOps [4]sseOpcode

func (l *laneOps) of(typ ssa.Type) sseOpcode {
	var i int
	switch typ.LaneType().Bits() {
	case 8:
		i = 0
	case 16:
		i = 1
	case 32:
		i = 2
	default:
		i = 3
	}
	return l[i]
}

var (
	paddOps  = laneOps{sseOpcodePaddb, sseOpcodePaddw, sseOpcodePaddd, sseOpcodePaddq}
	psubOps  = laneOps{sseOpcodePsubb, sseOpcodePsubw, sseOpcodePsubd, sseOpcodePsubq}
	pminsOps = laneOps{sseOpcodePminsb, sseOpcodePminsw, sseOpcodePminsd, sseOpcodeInvalid}
	pmaxsOps = laneOps{sseOpcodePmaxsb, sseOpcodePmaxsw, sseOpcodePmaxsd, sseOpcodeInvalid}
	pminuOps = laneOps{sseOpcodePminub, sseOpcodePminuw, sseOpcodePminud, sseOpcodeInvalid}
	pmaxuOps = laneOps{sseOpcodePmaxub, sseOpcodePmaxuw, sseOpcodePmaxud, sseOpcodeInvalid}
	pabsOps  = laneOps{sseOpcodePabsb, sseOpcodePabsw, sseOpcodePabsd, sseOpcodeInvalid}
	psllOps  = laneOps{sseOpcodeInvalid, sseOpcodePsllw, sseOpcodePslld, sseOpcodePsllq}
	psrlOps  = laneOps{sseOpcodeInvalid, sseOpcodePsrlw, sseOpcodePsrld, sseOpcodePsrlq}
	psraOps  = laneOps{sseOpcodeInvalid, sseOpcodePsraw, sseOpcodePsrad, sseOpcodeInvalid}
	pextrOps = laneOps{sseOpcodePextrb, sseOpcodePextrw, sseOpcodePextrd, sseOpcodePextrq}
	pinsrOps = laneOps{sseOpcodePinsrb, sseOpcodePinsrw, sseOpcodePinsrd, sseOpcodePinsrq}
)

func vecLanewise(ops *laneOps) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x, y := instr.Arg2()
		m.lowerVecBinary(ops.of(instr.Type()), x, y, m.c.VRegOf(instr.Return()))
	}
}

func vecShift(ops *laneOps) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) { m.lowerVecShift(ops.of(instr.Type()), instr) }
}

var (
	typesI16x8 = backend.Types(ssa.TypeI16x8)
	typesI32x4 = backend.Types(ssa.TypeI32x4)
	typesI64x2 = backend.Types(ssa.TypeI64x2)
	typesF32x4 = backend.Types(ssa.TypeF32x4)
)

var vecRules = []backend.Rule[*machine]{
	{Name: "vconst", Opcode: ssa.OpcodeVconst, Types: backend.TypesVector, Lower: (*machine).lowerVconst},
	{Name: "iadd_vec", Opcode: ssa.OpcodeIadd, Types: backend.TypesVecInt, Lower: vecLanewise(&paddOps)},
	{Name: "isub_vec", Opcode: ssa.OpcodeIsub, Types: backend.TypesVecInt, Lower: vecLanewise(&psubOps)},
	{Name: "imul_i16x8", Opcode: ssa.OpcodeImul, Types: typesI16x8, Lower: (*machine).lowerVecImul},
	{Name: "imul_i32x4", Opcode: ssa.OpcodeImul, Types: typesI32x4, Requires: target.ExtSSE41, Lower: (*machine).lowerVecImul},
	{Name: "imul_i64x2", Opcode: ssa.OpcodeImul, Types: typesI64x2, Lower: (*machine).lowerVecImul64},
	{Name: "bnot_xmm", Opcode: ssa.OpcodeBnot, Types: typesXmm, Lower: (*machine).lowerVecBnot},
	{Name: "ineg_vec", Opcode: ssa.OpcodeIneg, Types: backend.TypesVecInt, Lower: (*machine).lowerVecIneg},
	{Name: "iabs_vec", Opcode: ssa.OpcodeIabs, Types: typesVecNoI64, Requires: target.ExtSSE41, Lower: (*machine).lowerVecIabs},
	{Name: "smin_vec", Opcode: ssa.OpcodeSmin, Types: typesVecNoI64, Requires: target.ExtSSE41, Lower: vecLanewise(&pminsOps)},
	{Name: "smax_vec", Opcode: ssa.OpcodeSmax, Types: typesVecNoI64, Requires: target.ExtSSE41, Lower: vecLanewise(&pmaxsOps)},
	{Name: "umin_vec", Opcode: ssa.OpcodeUmin, Types: typesVecNoI64, Requires: target.ExtSSE41, Lower: vecLanewise(&pminuOps)},
	{Name: "umax_vec", Opcode: ssa.OpcodeUmax, Types: typesVecNoI64, Requires: target.ExtSSE41, Lower: vecLanewise(&pmaxuOps)},
	{Name: "ishl_vec", Opcode: ssa.OpcodeIshl, Types: typesVecShifts, Lower: vecShift(&psllOps)},
	{Name: "ushr_vec", Opcode: ssa.OpcodeUshr, Types: typesVecShifts, Lower: vecShift(&psrlOps)},
	{Name: "sshr_vec", Opcode: ssa.OpcodeSshr, Types: typesI16x8 | typesI32x4, Lower: vecShift(&psraOps)},
	{Name: "fmin_vec", Opcode: ssa.OpcodeFmin, Types: backend.TypesVecFloat, Lower: (*machine).lowerVecFmin},
	{Name: "fmax_vec", Opcode: ssa.OpcodeFmax, Types: backend.TypesVecFloat, Lower: (*machine).lowerVecFmax},
	{Name: "fcvt_from_sint_vec", Opcode: ssa.OpcodeFcvtFromSint, Types: typesF32x4, Lower: (*machine).lowerVecFcvtFromSint},
	{Name: "splat", Opcode: ssa.OpcodeSplat, Types: backend.TypesVector, Lower: (*machine).lowerSplat},
	{Name: "extractlane", Opcode: ssa.OpcodeExtractLane, Types: backend.TypesIntScalar, Requires: target.ExtSSE41, Lower: (*machine).lowerExtractLane},
	{Name: "extractlane_float", Opcode: ssa.OpcodeExtractLane, Types: backend.TypesFloat, Lower: (*machine).lowerExtractLane},
	{Name: "insertlane", Opcode: ssa.OpcodeInsertLane, Types: backend.TypesVecInt, Requires: target.ExtSSE41, Lower: (*machine).lowerInsertLane},
	{Name: "insertlane_float", Opcode: ssa.OpcodeInsertLane, Types: backend.TypesVecFloat, Requires: target.ExtSSE41, Lower: (*machine).lowerInsertLane},
	{Name: "iadd_pairwise", Opcode: ssa.OpcodeIaddPairwise, Types: typesI16x8 | typesI32x4, Requires: target.ExtSSE41, Lower: (*machine).lowerIaddPairwise},
}

// lowerVecBinary computes dst = x op y.
func (m *machine) lowerVecBinary(op sseOpcode, x, y ssa.Value, dst regalloc.VReg) {
	m.insert(m.allocateInstr().asXmmMovRR(m.c.VRegOf(x), dst))
	m.insert(m.allocateInstr().asXmmRmR(op, m.getOperand_Reg(y), dst))
}

// zeroVec returns an xmm register of zeros, movq clearing the upper half.
func (m *machine) zeroVec() regalloc.VReg {
	g := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asImm(g, 0, true))
	z := m.c.AllocateVReg(ssa.TypeI64x2)
	m.insert(m.allocateInstr().asGprToXmm(sseOpcodeMovq, newOperandReg(g), z, true))
	return z
}

func (m *machine) lowerVconst(instr *ssa.Instruction) {
	lo, hi := instr.VconstData()
	dst := m.c.VRegOf(instr.Return())
	g := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asImm(g, lo, true))
	m.insert(m.allocateInstr().asGprToXmm(sseOpcodeMovq, newOperandReg(g), dst, true))
	if hi == 0 {
		return
	}
	g2 := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asImm(g2, hi, true))
	t := m.c.AllocateVReg(ssa.TypeI64x2)
	m.insert(m.allocateInstr().asGprToXmm(sseOpcodeMovq, newOperandReg(g2), t, true))
	m.insert(m.allocateInstr().asXmmRmR(sseOpcodePunpcklqdq, newOperandReg(t), dst))
}

func (m *machine) lowerVecImul(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	op := sseOpcodePmullw
	if instr.Type() == ssa.TypeI32x4 {
		op = sseOpcodePmulld
	}
	m.lowerVecBinary(op, x, y, m.c.VRegOf(instr.Return()))
}

// lowerVecImul64 builds the low 64 bits of the lane products from 32-bit multiplications:
//
//	x*y = xlo*ylo + (xhi*ylo + xlo*yhi) << 32
func (m *machine) lowerVecImul64(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)

	t1 := m.c.AllocateVReg(ssa.TypeI64x2)
	m.insert(m.allocateInstr().asXmmMovRR(xr, t1))
	m.insert(m.allocateInstr().asXmmRmiReg(sseOpcodePsrlq, newOperandImm32(32), t1))
	m.insert(m.allocateInstr().asXmmRmR(sseOpcodePmuludq, newOperandReg(yr), t1))

	t2 := m.c.AllocateVReg(ssa.TypeI64x2)
	m.insert(m.allocateInstr().asXmmMovRR(yr, t2))
	m.insert(m.allocateInstr().asXmmRmiReg(sseOpcodePsrlq, newOperandImm32(32), t2))
	m.insert(m.allocateInstr().asXmmRmR(sseOpcodePmuludq, newOperandReg(xr), t2))

	m.insert(m.allocateInstr().asXmmRmR(sseOpcodePaddq, newOperandReg(t2), t1))
	m.insert(m.allocateInstr().asXmmRmiReg(sseOpcodePsllq, newOperandImm32(32), t1))

	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(xr, dst))
	m.insert(m.allocateInstr().asXmmRmR(sseOpcodePmuludq, newOperandReg(yr), dst))
	m.insert(m.allocateInstr().asXmmRmR(sseOpcodePaddq, newOperandReg(t1), dst))
}

func (m *machine) lowerVecBnot(instr *ssa.Instruction) {
	ones := m.laneConst(0xffff_ffff, false)
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(m.c.VRegOf(instr.Arg()), dst))
	m.insert(m.allocateInstr().asXmmRmR(sseOpcodePxor, newOperandReg(ones), dst))
}

func (m *machine) lowerVecIneg(instr *ssa.Instruction) {
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(m.zeroVec(), dst))
	m.insert(m.allocateInstr().asXmmRmR(psubOps.of(instr.Type()), m.getOperand_Reg(instr.Arg()), dst))
}

func (m *machine) lowerVecIabs(instr *ssa.Instruction) {
	m.insert(m.allocateInstr().asXmmUnaryRmR(pabsOps.of(instr.Type()), m.getOperand_Reg(instr.Arg()), m.c.VRegOf(instr.Return())))
}

// lowerVecShift shifts every lane by the scalar amount modulo the lane width.
func (m *machine) lowerVecShift(op sseOpcode, instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	bits := instr.Type().LaneType().Bits()
	var a operand
	if c, ok := m.constOf(amt); ok {
		m.useConst(amt)
		a = newOperandImm32(uint32(c) & uint32(bits-1))
	} else {
		masked := m.c.AllocateVReg(ssa.TypeI32)
		m.insert(m.allocateInstr().asMovRR(m.amountReg(amt), masked, false))
		m.insert(m.allocateInstr().asAluRmiR(aluOpAnd, newOperandImm32(uint32(bits-1)), masked, false))
		v := m.c.AllocateVReg(ssa.TypeI64x2)
		m.insert(m.allocateInstr().asGprToXmm(sseOpcodeMovd, newOperandReg(masked), v, false))
		a = newOperandReg(v)
	}
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(m.c.VRegOf(x), dst))
	m.insert(m.allocateInstr().asXmmRmiReg(op, a, dst))
}

// nanMaskShift is the shift turning an all-ones lane into the mantissa bits below the quiet bit.
func nanMaskShift(typ ssa.Type) (sseOpcode, uint32) {
	if is64(typ) {
		return sseOpcodePsrlq, 13
	}
	return sseOpcodePsrld, 10
}

// lowerVecFmin ors min(x, y) and min(y, x): minps returns its second operand when one is NaN or both
// are zeros, so the or gives -0.0 for mixed zeros and a NaN if either is one. NaN lanes are then
// canonicalized.
func (m *machine) lowerVecFmin(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	typ := instr.Type()
	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)
	minOp := pick(typ, sseOpcodeMinps, sseOpcodeMinpd)
	orOp := pick(typ, sseOpcodeOrps, sseOpcodeOrpd)
	cmpOp := pick(typ, sseOpcodeCmpps, sseOpcodeCmppd)

	min1 := m.c.AllocateVReg(typ)
	m.insert(m.allocateInstr().asXmmMovRR(xr, min1))
	m.insert(m.allocateInstr().asXmmRmR(minOp, newOperandReg(yr), min1))
	min2 := m.c.AllocateVReg(typ)
	m.insert(m.allocateInstr().asXmmMovRR(yr, min2))
	m.insert(m.allocateInstr().asXmmRmR(minOp, newOperandReg(xr), min2))
	m.insert(m.allocateInstr().asXmmRmR(orOp, newOperandReg(min2), min1))

	isNaN := m.c.AllocateVReg(typ)
	m.insert(m.allocateInstr().asXmmMovRR(min1, isNaN))
	m.insert(m.allocateInstr().asXmmRmRImm(cmpOp, cmpPredUnord, newOperandReg(min1), isNaN))
	m.insert(m.allocateInstr().asXmmRmR(orOp, newOperandReg(isNaN), min1))
	shiftOp, n := nanMaskShift(typ)
	m.insert(m.allocateInstr().asXmmRmiReg(shiftOp, newOperandImm32(n), isNaN))

	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(isNaN, dst))
	m.insert(m.allocateInstr().asXmmRmR(pick(typ, sseOpcodeAndnps, sseOpcodeAndnpd), newOperandReg(min1), dst))
}

// lowerVecFmax combines max(x, y) and max(y, x) so that mixed zeros give +0.0: with d the xor of both,
// (a | d) - d clears the sign of the zeros and keeps everything else.
func (m *machine) lowerVecFmax(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	typ := instr.Type()
	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)
	maxOp := pick(typ, sseOpcodeMaxps, sseOpcodeMaxpd)
	cmpOp := pick(typ, sseOpcodeCmpps, sseOpcodeCmppd)

	max1 := m.c.AllocateVReg(typ)
	m.insert(m.allocateInstr().asXmmMovRR(xr, max1))
	m.insert(m.allocateInstr().asXmmRmR(maxOp, newOperandReg(yr), max1))
	max2 := m.c.AllocateVReg(typ)
	m.insert(m.allocateInstr().asXmmMovRR(yr, max2))
	m.insert(m.allocateInstr().asXmmRmR(maxOp, newOperandReg(xr), max2))

	diff := m.c.AllocateVReg(typ)
	m.insert(m.allocateInstr().asXmmMovRR(max1, diff))
	m.insert(m.allocateInstr().asXmmRmR(pick(typ, sseOpcodeXorps, sseOpcodeXorpd), newOperandReg(max2), diff))
	m.insert(m.allocateInstr().asXmmRmR(pick(typ, sseOpcodeOrps, sseOpcodeOrpd), newOperandReg(diff), max1))
	positive := m.c.AllocateVReg(typ)
	m.insert(m.allocateInstr().asXmmMovRR(max1, positive))
	m.insert(m.allocateInstr().asXmmRmR(pick(typ, sseOpcodeSubps, sseOpcodeSubpd), newOperandReg(diff), positive))

	isNaN := m.c.AllocateVReg(typ)
	m.insert(m.allocateInstr().asXmmMovRR(max1, isNaN))
	m.insert(m.allocateInstr().asXmmRmRImm(cmpOp, cmpPredUnord, newOperandReg(max1), isNaN))
	shiftOp, n := nanMaskShift(typ)
	m.insert(m.allocateInstr().asXmmRmiReg(shiftOp, newOperandImm32(n), isNaN))

	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asXmmMovRR(isNaN, dst))
	m.insert(m.allocateInstr().asXmmRmR(pick(typ, sseOpcodeAndnps, sseOpcodeAndnpd), newOperandReg(positive), dst))
}

func (m *machine) lowerVecFcvtFromSint(instr *ssa.Instruction) {
	m.insert(m.allocateInstr().asXmmUnaryRmR(sseOpcodeCvtdq2ps, m.getOperand_Reg(instr.Arg()), m.c.VRegOf(instr.Return())))
}

func (m *machine) lowerSplat(instr *ssa.Instruction) {
	x := instr.Arg()
	src := m.c.VRegOf(x)
	dst := m.c.VRegOf(instr.Return())
	pshufd := func(imm uint8, from regalloc.VReg) {
		m.insert(m.allocateInstr().asXmmRmRImm(sseOpcodePshufd, imm, newOperandReg(from), dst))
	}
	switch x.Type() {
	case ssa.TypeF32:
		pshufd(0, src)
	case ssa.TypeF64:
		pshufd(0x44, src)
	case ssa.TypeI64:
		v := m.c.AllocateVReg(ssa.TypeI64x2)
		m.insert(m.allocateInstr().asGprToXmm(sseOpcodeMovq, newOperandReg(src), v, true))
		pshufd(0x44, v)
	default:
		v := m.c.AllocateVReg(ssa.TypeI64x2)
		m.insert(m.allocateInstr().asGprToXmm(sseOpcodeMovd, newOperandReg(src), v, false))
		if bits := x.Type().Bits(); bits < 32 {
			if bits == 8 {
				// Double the byte into the low word.
				m.insert(m.allocateInstr().asXmmRmR(sseOpcodePunpcklbw, newOperandReg(v), v))
			}
			w := m.c.AllocateVReg(ssa.TypeI64x2)
			m.insert(m.allocateInstr().asXmmRmRImm(sseOpcodePshuflw, 0, newOperandReg(v), w))
			v = w
		}
		pshufd(0, v)
	}
}

func (m *machine) lowerExtractLane(instr *ssa.Instruction) {
	x := instr.Arg()
	lane := instr.LaneData()
	src := m.c.VRegOf(x)
	dst := m.c.VRegOf(instr.Return())
	switch typ := instr.Type(); {
	case typ.IsInt():
		m.insert(m.allocateInstr().asPextr(pextrOps.of(x.Type()), lane, src, dst))
	case lane == 0:
		m.insert(m.allocateInstr().asXmmMovRR(src, dst))
	case typ == ssa.TypeF32:
		m.insert(m.allocateInstr().asXmmRmRImm(sseOpcodePshufd, lane, newOperandReg(src), dst))
	default:
		m.insert(m.allocateInstr().asXmmRmRImm(sseOpcodePshufd, 0xee, newOperandReg(src), dst))
	}
}

func (m *machine) lowerInsertLane(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	lane := instr.LaneData()
	typ := instr.Type()
	dst := m.c.VRegOf(instr.Return())
	val := m.c.VRegOf(y)
	m.insert(m.allocateInstr().asXmmMovRR(m.c.VRegOf(x), dst))
	switch {
	case typ.LaneType().IsInt():
		m.insert(m.allocateInstr().asPinsr(pinsrOps.of(typ), lane, newOperandReg(val), dst))
	case typ == ssa.TypeF32x4:
		m.insert(m.allocateInstr().asXmmRmRImm(sseOpcodeInsertps, lane<<4, newOperandReg(val), dst))
	case lane == 0:
		m.insert(m.allocateInstr().asXmmRmR(sseOpcodeMovsd, newOperandReg(val), dst))
	default:
		m.insert(m.allocateInstr().asXmmRmR(sseOpcodeMovlhps, newOperandReg(val), dst))
	}
}

func (m *machine) lowerIaddPairwise(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	op := sseOpcodePhaddw
	if instr.Type() == ssa.TypeI32x4 {
		op = sseOpcodePhaddd
	}
	m.lowerVecBinary(op, x, y, m.c.VRegOf(instr.Return()))
}
