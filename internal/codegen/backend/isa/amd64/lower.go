package amd64

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

var (
	typesF32       = backend.Types(ssa.TypeF32)
	typesF64       = backend.Types(ssa.TypeF64)
	typesI64       = backend.Types(ssa.TypeI64)
	typesMemory    = backend.TypesAll &^ backend.TypeNone
	typesVecNoI64  = backend.Types(ssa.TypeI8x16, ssa.TypeI16x8, ssa.TypeI32x4)
	typesVecShifts = backend.Types(ssa.TypeI16x8, ssa.TypeI32x4, ssa.TypeI64x2)
	typesXmm       = backend.TypesFloat | backend.TypesVector
)

func alu(op aluOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) { m.lowerAlu(op, instr) }
}

func alu128(op, carryOp aluOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) { m.lowerAlu128(op, carryOp, instr) }
}

func shift(op shiftOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) { m.lowerShift(op, instr) }
}

func xmmBitwise(op sseOpcode) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) { m.lowerXmmBitwise(op, instr) }
}

func xmmBinary(op32, op64 sseOpcode) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) { m.lowerXmmBinary(op32, op64, instr) }
}

// rules are the lowering rules of amd64. The vector rules are in lower_vec.go.
var rules = backend.NewRuleTable(target.ArchX86_64, append([]backend.Rule[*machine]{
	{Name: "iconst", Opcode: ssa.OpcodeIconst, Types: backend.TypesIntOrRef, Lower: (*machine).lowerIconst},
	{Name: "f32const", Opcode: ssa.OpcodeF32const, Types: typesF32, Lower: (*machine).lowerFconst},
	{Name: "f64const", Opcode: ssa.OpcodeF64const, Types: typesF64, Lower: (*machine).lowerFconst},

	{Name: "load", Opcode: ssa.OpcodeLoad, Types: typesMemory, Lower: (*machine).lowerLoad},
	{Name: "uload8", Opcode: ssa.OpcodeUload8, Types: backend.TypesIntScalar, Lower: (*machine).lowerExtLoad},
	{Name: "sload8", Opcode: ssa.OpcodeSload8, Types: backend.TypesIntScalar, Lower: (*machine).lowerExtLoad},
	{Name: "uload16", Opcode: ssa.OpcodeUload16, Types: backend.TypesIntScalar, Lower: (*machine).lowerExtLoad},
	{Name: "sload16", Opcode: ssa.OpcodeSload16, Types: backend.TypesIntScalar, Lower: (*machine).lowerExtLoad},
	{Name: "uload32", Opcode: ssa.OpcodeUload32, Types: typesI64, Lower: (*machine).lowerExtLoad},
	{Name: "sload32", Opcode: ssa.OpcodeSload32, Types: typesI64, Lower: (*machine).lowerExtLoad},
	{Name: "store", Opcode: ssa.OpcodeStore, Types: typesMemory, Lower: (*machine).lowerStore},
	{Name: "istore8", Opcode: ssa.OpcodeIstore8, Types: backend.TypesIntScalar, Lower: (*machine).lowerStore},
	{Name: "istore16", Opcode: ssa.OpcodeIstore16, Types: backend.TypesIntScalar, Lower: (*machine).lowerStore},
	{Name: "istore32", Opcode: ssa.OpcodeIstore32, Types: backend.TypesInt32And64, Lower: (*machine).lowerStore},
	{Name: "stack_load", Opcode: ssa.OpcodeStackLoad, Types: typesMemory, Lower: (*machine).lowerStackLoad},
	{Name: "stack_store", Opcode: ssa.OpcodeStackStore, Types: typesMemory, Lower: (*machine).lowerStackStore},
	{Name: "stack_addr", Opcode: ssa.OpcodeStackAddr, Types: typesI64, Lower: (*machine).lowerStackAddr},
	{Name: "global_value", Opcode: ssa.OpcodeGlobalValue, Types: backend.TypesIntOrRef, Lower: (*machine).lowerGlobalValue},
	{Name: "func_addr", Opcode: ssa.OpcodeFuncAddr, Types: typesI64, Lower: (*machine).lowerFuncAddr},

	{Name: "iadd", Opcode: ssa.OpcodeIadd, Types: backend.TypesIntOrRef, Lower: alu(aluOpAdd)},
	{Name: "iadd_i128", Opcode: ssa.OpcodeIadd, Types: backend.TypesI128, Lower: alu128(aluOpAdd, aluOpAdc)},
	{Name: "isub", Opcode: ssa.OpcodeIsub, Types: backend.TypesIntOrRef, Lower: alu(aluOpSub)},
	{Name: "isub_i128", Opcode: ssa.OpcodeIsub, Types: backend.TypesI128, Lower: alu128(aluOpSub, aluOpSbb)},
	{Name: "imul", Opcode: ssa.OpcodeImul, Types: backend.TypesIntScalar, Lower: alu(aluOpImul)},
	{Name: "imul_i128", Opcode: ssa.OpcodeImul, Types: backend.TypesI128, Lower: (*machine).lowerImul128},
	{Name: "band", Opcode: ssa.OpcodeBand, Types: backend.TypesIntOrRef, Lower: alu(aluOpAnd)},
	{Name: "band_i128", Opcode: ssa.OpcodeBand, Types: backend.TypesI128, Lower: alu128(aluOpAnd, aluOpAnd)},
	{Name: "band_xmm", Opcode: ssa.OpcodeBand, Types: typesXmm, Lower: xmmBitwise(sseOpcodePand)},
	{Name: "bor", Opcode: ssa.OpcodeBor, Types: backend.TypesIntOrRef, Lower: alu(aluOpOr)},
	{Name: "bor_i128", Opcode: ssa.OpcodeBor, Types: backend.TypesI128, Lower: alu128(aluOpOr, aluOpOr)},
	{Name: "bor_xmm", Opcode: ssa.OpcodeBor, Types: typesXmm, Lower: xmmBitwise(sseOpcodePor)},
	{Name: "bxor", Opcode: ssa.OpcodeBxor, Types: backend.TypesIntOrRef, Lower: alu(aluOpXor)},
	{Name: "bxor_i128", Opcode: ssa.OpcodeBxor, Types: backend.TypesI128, Lower: alu128(aluOpXor, aluOpXor)},
	{Name: "bxor_xmm", Opcode: ssa.OpcodeBxor, Types: typesXmm, Lower: xmmBitwise(sseOpcodePxor)},
	{Name: "bnot", Opcode: ssa.OpcodeBnot, Types: backend.TypesIntScalar | backend.TypesI128, Lower: (*machine).lowerBnot},
	{Name: "ineg", Opcode: ssa.OpcodeIneg, Types: backend.TypesIntScalar | backend.TypesI128, Lower: (*machine).lowerIneg},
	{Name: "iabs", Opcode: ssa.OpcodeIabs, Types: backend.TypesIntScalar, Lower: (*machine).lowerIabs},
	{Name: "umulhi", Opcode: ssa.OpcodeUmulhi, Types: backend.TypesIntScalar, Lower: (*machine).lowerMulhi},
	{Name: "smulhi", Opcode: ssa.OpcodeSmulhi, Types: backend.TypesIntScalar, Lower: (*machine).lowerMulhi},
	{Name: "udiv", Opcode: ssa.OpcodeUdiv, Types: backend.TypesIntScalar, Lower: (*machine).lowerDivRem},
	{Name: "sdiv", Opcode: ssa.OpcodeSdiv, Types: backend.TypesIntScalar, Lower: (*machine).lowerDivRem},
	{Name: "urem", Opcode: ssa.OpcodeUrem, Types: backend.TypesIntScalar, Lower: (*machine).lowerDivRem},
	{Name: "srem", Opcode: ssa.OpcodeSrem, Types: backend.TypesIntScalar, Lower: (*machine).lowerDivRem},
	{Name: "uadd_overflow_trap", Opcode: ssa.OpcodeUaddOverflowTrap, Types: backend.TypesInt32And64, Lower: (*machine).lowerUaddOverflowTrap},

	{Name: "ishl", Opcode: ssa.OpcodeIshl, Types: backend.TypesIntScalar, Lower: shift(shiftOpShiftLeft)},
	{Name: "ushr", Opcode: ssa.OpcodeUshr, Types: backend.TypesIntScalar, Lower: shift(shiftOpShiftRightLogical)},
	{Name: "sshr", Opcode: ssa.OpcodeSshr, Types: backend.TypesIntScalar, Lower: shift(shiftOpShiftRightArithmetic)},
	{Name: "rotl", Opcode: ssa.OpcodeRotl, Types: backend.TypesIntScalar, Lower: shift(shiftOpRotateLeft)},
	{Name: "rotr", Opcode: ssa.OpcodeRotr, Types: backend.TypesIntScalar, Lower: shift(shiftOpRotateRight)},
	{Name: "ishl_i128", Opcode: ssa.OpcodeIshl, Types: backend.TypesI128, Lower: (*machine).lowerShift128},
	{Name: "ushr_i128", Opcode: ssa.OpcodeUshr, Types: backend.TypesI128, Lower: (*machine).lowerShift128},
	{Name: "sshr_i128", Opcode: ssa.OpcodeSshr, Types: backend.TypesI128, Lower: (*machine).lowerShift128},
	{Name: "rotl_i128", Opcode: ssa.OpcodeRotl, Types: backend.TypesI128, Lower: (*machine).lowerRotate128},
	{Name: "rotr_i128", Opcode: ssa.OpcodeRotr, Types: backend.TypesI128, Lower: (*machine).lowerRotate128},

	{Name: "clz_lzcnt", Opcode: ssa.OpcodeClz, Types: backend.TypesIntScalar, Requires: target.ExtLZCNT, Lower: (*machine).lowerClz},
	{Name: "clz_bsr", Opcode: ssa.OpcodeClz, Types: backend.TypesIntScalar, Lower: (*machine).lowerClz},
	{Name: "clz_i128", Opcode: ssa.OpcodeClz, Types: backend.TypesI128, Requires: target.ExtLZCNT, Lower: (*machine).lowerClzCtz128},
	{Name: "ctz_tzcnt", Opcode: ssa.OpcodeCtz, Types: backend.TypesIntScalar, Requires: target.ExtBMI1, Lower: (*machine).lowerCtz},
	{Name: "ctz_bsf", Opcode: ssa.OpcodeCtz, Types: backend.TypesIntScalar, Lower: (*machine).lowerCtz},
	{Name: "ctz_i128", Opcode: ssa.OpcodeCtz, Types: backend.TypesI128, Requires: target.ExtBMI1, Lower: (*machine).lowerClzCtz128},
	{Name: "popcnt", Opcode: ssa.OpcodePopcnt, Types: backend.TypesIntScalar, Requires: target.ExtPOPCNT, Lower: (*machine).lowerPopcnt},
	{Name: "popcnt_i128", Opcode: ssa.OpcodePopcnt, Types: backend.TypesI128, Requires: target.ExtPOPCNT, Lower: (*machine).lowerPopcnt128},

	{Name: "smin", Opcode: ssa.OpcodeSmin, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "smax", Opcode: ssa.OpcodeSmax, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "umin", Opcode: ssa.OpcodeUmin, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "umax", Opcode: ssa.OpcodeUmax, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "icmp", Opcode: ssa.OpcodeIcmp, Types: backend.TypesIntOrRef | backend.TypesI128, Lower: (*machine).lowerIcmp},
	{Name: "select", Opcode: ssa.OpcodeSelect, Types: backend.TypesIntOrRef | backend.TypesI128, Lower: (*machine).lowerSelect},
	{Name: "select_xmm", Opcode: ssa.OpcodeSelect, Types: typesXmm, Lower: (*machine).lowerSelect},
	{Name: "select_spectre_guard", Opcode: ssa.OpcodeSelectSpectreGuard, Types: backend.TypesIntOrRef | backend.TypesI128, Lower: (*machine).lowerSelect},

	{Name: "uextend", Opcode: ssa.OpcodeUextend, Types: backend.TypesIntScalar | backend.TypesI128, Lower: (*machine).lowerExtend},
	{Name: "sextend", Opcode: ssa.OpcodeSextend, Types: backend.TypesIntScalar | backend.TypesI128, Lower: (*machine).lowerExtend},
	{Name: "ireduce", Opcode: ssa.OpcodeIreduce, Types: backend.TypesIntScalar, Lower: (*machine).lowerIreduce},
	{Name: "bitcast", Opcode: ssa.OpcodeBitcast, Types: backend.TypesIntOrRef | typesXmm, Lower: (*machine).lowerBitcast},
	{Name: "iconcat", Opcode: ssa.OpcodeIconcat, Types: backend.TypesI128, Lower: (*machine).lowerIconcat},
	{Name: "isplit", Opcode: ssa.OpcodeIsplit, Types: typesI64, Lower: (*machine).lowerIsplit},

	{Name: "trap", Opcode: ssa.OpcodeTrap, Types: backend.TypeNone, Lower: (*machine).lowerTrap},
	{Name: "trapz", Opcode: ssa.OpcodeTrapz, Types: backend.TypesIntOrRef | backend.TypesI128, Lower: (*machine).lowerTrapIf},
	{Name: "trapnz", Opcode: ssa.OpcodeTrapnz, Types: backend.TypesIntOrRef | backend.TypesI128, Lower: (*machine).lowerTrapIf},
	{Name: "call", Opcode: ssa.OpcodeCall, Types: backend.TypeNone, Lower: (*machine).lowerCall},
	{Name: "call_indirect", Opcode: ssa.OpcodeCallIndirect, Types: backend.TypeNone, Lower: (*machine).lowerCall},
	{Name: "return_call", Opcode: ssa.OpcodeReturnCall, Types: backend.TypeNone, Lower: (*machine).lowerTailCall},
	{Name: "return_call_indirect", Opcode: ssa.OpcodeReturnCallIndirect, Types: backend.TypeNone, Lower: (*machine).lowerTailCall},
}, append(floatRules, vecRules...)...))

func intCond(c ssa.IntegerCmpCond) cond {
	switch c {
	case ssa.IntegerCmpCondEqual:
		return condZ
	case ssa.IntegerCmpCondNotEqual:
		return condNZ
	case ssa.IntegerCmpCondSignedLessThan:
		return condL
	case ssa.IntegerCmpCondSignedGreaterThanOrEqual:
		return condNL
	case ssa.IntegerCmpCondSignedGreaterThan:
		return condNLE
	case ssa.IntegerCmpCondSignedLessThanOrEqual:
		return condLE
	case ssa.IntegerCmpCondUnsignedLessThan:
		return condB
	case ssa.IntegerCmpCondUnsignedGreaterThanOrEqual:
		return condNB
	case ssa.IntegerCmpCondUnsignedGreaterThan:
		return condNBE
	case ssa.IntegerCmpCondUnsignedLessThanOrEqual:
		return condBE
	default:
		panic("BUG: invalid integer condition")
	}
}

// constOf returns the value of v, sign-extended from its width, if v is an integer constant.
func (m *machine) constOf(v ssa.Value) (int64, bool) {
	typ := v.Type()
	if !(typ.IsInt() || typ.IsRef()) || typ == ssa.TypeI128 {
		return 0, false
	}
	def := m.c.ValueDefinition(v)
	if !def.IsFromInstr() || def.Instr.Opcode() != ssa.OpcodeIconst {
		return 0, false
	}
	shift := 64 - typ.Bits()
	return int64(def.Instr.ConstantVal()<<shift) >> shift, true
}

// useConst marks the constant v as lowered when it was folded into its only user.
func (m *machine) useConst(v ssa.Value) {
	if def := m.c.ValueDefinition(v); m.c.MatchInstr(def, ssa.OpcodeIconst) {
		def.Instr.MarkLowered()
	}
}

func (m *machine) getOperand_Reg(v ssa.Value) operand {
	return newOperandReg(m.c.VRegOf(v))
}

func (m *machine) getOperand_Imm32_Reg(v ssa.Value) operand {
	if c, ok := m.constOf(v); ok && lower32willSignExtendTo64(uint64(c)) {
		m.useConst(v)
		return newOperandImm32(uint32(c))
	}
	return m.getOperand_Reg(v)
}

// getOperand_Mem_Reg folds the load defining v into the user when nothing else reads it.
func (m *machine) getOperand_Mem_Reg(v ssa.Value) operand {
	def := m.c.ValueDefinition(v)
	if !m.c.MatchInstr(def, ssa.OpcodeLoad) {
		return m.getOperand_Reg(v)
	}
	ptr, offset, typ, flags := def.Instr.LoadData()
	switch typ {
	case ssa.TypeI32, ssa.TypeI64, ssa.TypeF32, ssa.TypeF64:
		def.Instr.MarkLowered()
		return newOperandMem(m.lowerToAmode(ptr, offset, flags))
	}
	return m.getOperand_Reg(v)
}

func (m *machine) getOperand_Mem_Imm32_Reg(v ssa.Value) operand {
	if c, ok := m.constOf(v); ok && lower32willSignExtendTo64(uint64(c)) {
		m.useConst(v)
		return newOperandImm32(uint32(c))
	}
	return m.getOperand_Mem_Reg(v)
}

// copyOf moves v into a fresh register of typ, for instructions which modify their operand.
func (m *machine) copyOf(v regalloc.VReg, typ ssa.Type) regalloc.VReg {
	tmp := m.c.AllocateVReg(typ)
	m.InsertMove(tmp, v, typ)
	return tmp
}

// extendTo returns v of typ widened to to bytes.
func (m *machine) extendTo(v regalloc.VReg, typ ssa.Type, to byte, signed bool) regalloc.VReg {
	tmp := m.c.AllocateVReg(ssa.TypeI64)
	mode := extModeOf(typ.Size(), to)
	if signed {
		m.insert(m.allocateInstr().asMovsxRmR(mode, newOperandReg(v), tmp))
	} else {
		m.insert(m.allocateInstr().asMovzxRmR(mode, newOperandReg(v), tmp))
	}
	return tmp
}

func (m *machine) lowerIconst(instr *ssa.Instruction) {
	ret := instr.Return()
	m.insert(m.allocateInstr().asImm(m.c.VRegOf(ret), instr.ConstantVal(), ret.Type().Bits() == 64))
}

func (m *machine) lowerFconst(instr *ssa.Instruction) {
	m.InsertLoadConstantBlockArg(instr, m.c.VRegOf(instr.Return()))
}

// lowerAlu lowers the two operand integer arithmetic: narrow integers use the 32-bit forms, their upper
// bits are undefined.
func (m *machine) lowerAlu(op aluOp, instr *ssa.Instruction) {
	x, y := instr.Arg2()
	if _, ok := m.constOf(x); ok && op != aluOpSub && instr.Opcode().IsCommutative() {
		x, y = y, x
	}
	_64 := x.Type().Bits() == 64
	dst := m.c.VRegOf(instr.Return())
	rm := m.getOperand_Mem_Imm32_Reg(y)
	m.insert(m.allocateInstr().asMovRR(m.c.VRegOf(x), dst, _64))
	m.insert(m.allocateInstr().asAluRmiR(op, rm, dst, _64))
}

func (m *machine) lowerAlu128(op, carryOp aluOp, instr *ssa.Instruction) {
	x, y := instr.Arg2()
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	lo, hi := m.c.VRegsOf(instr.Return())
	m.insert(m.allocateInstr().asMovRR(xlo, lo, true))
	m.insert(m.allocateInstr().asMovRR(xhi, hi, true))
	m.insert(m.allocateInstr().asAluRmiR(op, newOperandReg(ylo), lo, true))
	m.insert(m.allocateInstr().asAluRmiR(carryOp, newOperandReg(yhi), hi, true))
}

// lowerImul128 computes the low 128 bits of the product:
//
//	hi = xlo*yhi + xhi*ylo + (xlo*ylo)>>64
//	lo = xlo*ylo
func (m *machine) lowerImul128(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	lo, hi := m.c.VRegsOf(instr.Return())

	cross := m.copyOf(xlo, ssa.TypeI64)
	m.insert(m.allocateInstr().asAluRmiR(aluOpImul, newOperandReg(yhi), cross, true))
	cross2 := m.copyOf(xhi, ssa.TypeI64)
	m.insert(m.allocateInstr().asAluRmiR(aluOpImul, newOperandReg(ylo), cross2, true))
	m.insert(m.allocateInstr().asAluRmiR(aluOpAdd, newOperandReg(cross2), cross, true))

	plo, phi := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asMulHi(false, xlo, newOperandReg(ylo), plo, phi, true))
	m.insert(m.allocateInstr().asAluRmiR(aluOpAdd, newOperandReg(cross), phi, true))
	m.insert(m.allocateInstr().asMovRR(plo, lo, true))
	m.insert(m.allocateInstr().asMovRR(phi, hi, true))
}

func (m *machine) lowerBnot(instr *ssa.Instruction) {
	x := instr.Arg()
	if x.Type() == ssa.TypeI128 {
		xlo, xhi := m.c.VRegsOf(x)
		lo, hi := m.c.VRegsOf(instr.Return())
		for _, p := range [...][2]regalloc.VReg{{xlo, lo}, {xhi, hi}} {
			m.insert(m.allocateInstr().asMovRR(p[0], p[1], true))
			m.insert(m.allocateInstr().asNot(p[1], true))
		}
		return
	}
	_64 := x.Type().Bits() == 64
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asMovRR(m.c.VRegOf(x), dst, _64))
	m.insert(m.allocateInstr().asNot(dst, _64))
}

func (m *machine) lowerIneg(instr *ssa.Instruction) {
	x := instr.Arg()
	if x.Type() == ssa.TypeI128 {
		// 0 - x with the borrow.
		xlo, xhi := m.c.VRegsOf(x)
		lo, hi := m.c.VRegsOf(instr.Return())
		m.insert(m.allocateInstr().asImm(lo, 0, true))
		m.insert(m.allocateInstr().asImm(hi, 0, true))
		m.insert(m.allocateInstr().asAluRmiR(aluOpSub, newOperandReg(xlo), lo, true))
		m.insert(m.allocateInstr().asAluRmiR(aluOpSbb, newOperandReg(xhi), hi, true))
		return
	}
	_64 := x.Type().Bits() == 64
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asMovRR(m.c.VRegOf(x), dst, _64))
	m.insert(m.allocateInstr().asNeg(dst, _64))
}

// lowerIabs negates x and keeps x itself when the negation is negative.
func (m *machine) lowerIabs(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	_64 := typ.Bits() == 64
	src := m.c.VRegOf(x)
	if typ.Bits() < 32 {
		src = m.extendTo(src, typ, 4, true)
	}
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asMovRR(src, dst, _64))
	m.insert(m.allocateInstr().asNeg(dst, _64))
	m.insert(m.allocateInstr().asCmove(condS, newOperandReg(src), dst, _64))
}

func (m *machine) lowerMulhi(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	signed := instr.Opcode() == ssa.OpcodeSmulhi
	typ := x.Type()
	dst := m.c.VRegOf(instr.Return())
	if typ.Bits() == 64 {
		lo := m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asMulHi(signed, m.c.VRegOf(x), m.getOperand_Mem_Reg(y), lo, dst, true))
		return
	}

	// The full product of the widened operands fits in 64 bits.
	a := m.extendTo(m.c.VRegOf(x), typ, 8, signed)
	b := m.extendTo(m.c.VRegOf(y), typ, 8, signed)
	m.insert(m.allocateInstr().asMovRR(a, dst, true))
	m.insert(m.allocateInstr().asAluRmiR(aluOpImul, newOperandReg(b), dst, true))
	op := shiftOpShiftRightLogical
	if signed {
		op = shiftOpShiftRightArithmetic
	}
	m.insert(m.allocateInstr().asShiftR(op, newOperandImm32(uint32(typ.Bits())), dst, 8))
}

func (m *machine) lowerDivRem(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	op := instr.Opcode()
	rem := op == ssa.OpcodeUrem || op == ssa.OpcodeSrem
	signed := op == ssa.OpcodeSdiv || op == ssa.OpcodeSrem
	typ := x.Type()
	bits := typ.Bits()

	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)
	if bits < 32 {
		xr = m.extendTo(xr, typ, 4, signed)
		yr = m.extendTo(yr, typ, 4, signed)
	}
	other := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asCheckedDivOrRemSeq(rem, signed, xr, yr, m.c.VRegOf(instr.Return()), other, bits == 64, bits))
}

func (m *machine) lowerUaddOverflowTrap(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	_64 := x.Type().Bits() == 64
	dst := m.c.VRegOf(instr.Return())
	rm := m.getOperand_Mem_Imm32_Reg(y)
	m.insert(m.allocateInstr().asMovRR(m.c.VRegOf(x), dst, _64))
	m.insert(m.allocateInstr().asAluRmiR(aluOpAdd, rm, dst, _64))
	m.insert(m.allocateInstr().asTrapIf(condB, instr.TrapCode()))
}

// amountReg returns the register of a shift amount, the low half for i128 amounts.
func (m *machine) amountReg(amt ssa.Value) regalloc.VReg {
	if amt.Type() == ssa.TypeI128 {
		lo, _ := m.c.VRegsOf(amt)
		return lo
	}
	return m.c.VRegOf(amt)
}

// shiftAmount returns the amount modulo bits. The hardware masks 32 and 64-bit shifts by itself, and
// the rotations of any width.
func (m *machine) shiftAmount(amt ssa.Value, bits byte, mask bool) operand {
	if c, ok := m.constOf(amt); ok {
		m.useConst(amt)
		return newOperandImm32(uint32(c) & uint32(bits-1))
	}
	r := m.amountReg(amt)
	if mask {
		tmp := m.c.AllocateVReg(ssa.TypeI32)
		m.insert(m.allocateInstr().asMovRR(r, tmp, false))
		m.insert(m.allocateInstr().asAluRmiR(aluOpAnd, newOperandImm32(uint32(bits-1)), tmp, false))
		r = tmp
	}
	return newOperandReg(r)
}

func (m *machine) lowerShift(op shiftOp, instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	typ := x.Type()
	bits := typ.Bits()
	rotate := op == shiftOpRotateLeft || op == shiftOpRotateRight
	a := m.shiftAmount(amt, bits, bits < 32 && !rotate)
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asMovRR(m.c.VRegOf(x), dst, bits == 64))
	m.insert(m.allocateInstr().asShiftR(op, a, dst, typ.Size()))
}

func shiftOpOf(op ssa.Opcode) shiftOp {
	switch op {
	case ssa.OpcodeIshl:
		return shiftOpShiftLeft
	case ssa.OpcodeUshr:
		return shiftOpShiftRightLogical
	case ssa.OpcodeSshr:
		return shiftOpShiftRightArithmetic
	case ssa.OpcodeRotl:
		return shiftOpRotateLeft
	default:
		return shiftOpRotateRight
	}
}

func (m *machine) lowerShift128(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	xlo, xhi := m.c.VRegsOf(x)
	lo, hi := m.c.VRegsOf(instr.Return())
	m.insert(m.allocateInstr().asMovRR(xlo, lo, true))
	m.insert(m.allocateInstr().asMovRR(xhi, hi, true))
	m.insert(m.allocateInstr().asShift128Seq(shiftOpOf(instr.Opcode()), m.amountReg(amt), lo, hi))
}

// lowerRotate128 ors the shifts of x by n and by -n, both modulo 128.
func (m *machine) lowerRotate128(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	first, second := shiftOpShiftLeft, shiftOpShiftRightLogical
	if instr.Opcode() == ssa.OpcodeRotr {
		first, second = second, first
	}
	n := m.amountReg(amt)
	negN := m.copyOf(n, ssa.TypeI64)
	m.insert(m.allocateInstr().asNeg(negN, true))

	xlo, xhi := m.c.VRegsOf(x)
	lo, hi := m.c.VRegsOf(instr.Return())
	m.insert(m.allocateInstr().asMovRR(xlo, lo, true))
	m.insert(m.allocateInstr().asMovRR(xhi, hi, true))
	m.insert(m.allocateInstr().asShift128Seq(first, n, lo, hi))
	lo2, hi2 := m.copyOf(xlo, ssa.TypeI64), m.copyOf(xhi, ssa.TypeI64)
	m.insert(m.allocateInstr().asShift128Seq(second, negN, lo2, hi2))
	m.insert(m.allocateInstr().asAluRmiR(aluOpOr, newOperandReg(lo2), lo, true))
	m.insert(m.allocateInstr().asAluRmiR(aluOpOr, newOperandReg(hi2), hi, true))
}

// lowerClz uses lzcnt when available. Otherwise bsr gives the index of the highest set bit, with -1
// substituted for zero inputs: the count is bits-1 minus the index.
func (m *machine) lowerClz(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	bits := typ.Bits()
	_64 := bits == 64
	src := m.c.VRegOf(x)
	if bits < 32 {
		src = m.extendTo(src, typ, 4, false)
	}
	dst := m.c.VRegOf(instr.Return())

	if m.ext().Has(target.ExtLZCNT) {
		m.insert(m.allocateInstr().asUnaryRmR(unaryOpLzcnt, newOperandReg(src), dst, _64))
		if bits < 32 {
			m.insert(m.allocateInstr().asAluRmiR(aluOpSub, newOperandImm32(uint32(32-bits)), dst, false))
		}
		return
	}
	idx := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asUnaryRmR(unaryOpBsr, newOperandReg(src), idx, _64))
	minusOne := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asImm(minusOne, ^uint64(0), true))
	m.insert(m.allocateInstr().asCmove(condZ, newOperandReg(minusOne), idx, _64))
	m.insert(m.allocateInstr().asImm(dst, uint64(bits-1), _64))
	m.insert(m.allocateInstr().asAluRmiR(aluOpSub, newOperandReg(idx), dst, _64))
}

// lowerCtz sets the bit right above narrow inputs so that zero counts to their width.
func (m *machine) lowerCtz(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	bits := typ.Bits()
	_64 := bits == 64
	src := m.c.VRegOf(x)
	if bits < 32 {
		src = m.copyOf(src, ssa.TypeI32)
		m.insert(m.allocateInstr().asAluRmiR(aluOpOr, newOperandImm32(1<<bits), src, false))
	}
	dst := m.c.VRegOf(instr.Return())

	if m.ext().Has(target.ExtBMI1) {
		m.insert(m.allocateInstr().asUnaryRmR(unaryOpTzcnt, newOperandReg(src), dst, _64))
		return
	}
	m.insert(m.allocateInstr().asUnaryRmR(unaryOpBsf, newOperandReg(src), dst, _64))
	if bits >= 32 {
		width := m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asImm(width, uint64(bits), false))
		m.insert(m.allocateInstr().asCmove(condZ, newOperandReg(width), dst, _64))
	}
}

func (m *machine) lowerPopcnt(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	src := m.c.VRegOf(x)
	if typ.Bits() < 32 {
		src = m.extendTo(src, typ, 4, false)
	}
	m.insert(m.allocateInstr().asUnaryRmR(unaryOpPopcnt, newOperandReg(src), m.c.VRegOf(instr.Return()), typ.Bits() == 64))
}

func (m *machine) lowerPopcnt128(instr *ssa.Instruction) {
	xlo, xhi := m.c.VRegsOf(instr.Arg())
	lo, hi := m.c.VRegsOf(instr.Return())
	tmp := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asUnaryRmR(unaryOpPopcnt, newOperandReg(xlo), lo, true))
	m.insert(m.allocateInstr().asUnaryRmR(unaryOpPopcnt, newOperandReg(xhi), tmp, true))
	m.insert(m.allocateInstr().asAluRmiR(aluOpAdd, newOperandReg(tmp), lo, true))
	m.insert(m.allocateInstr().asImm(hi, 0, true))
}

// lowerClzCtz128 counts in the significant half, and in the other one plus 64 when the significant
// half is zero.
func (m *machine) lowerClzCtz128(instr *ssa.Instruction) {
	xlo, xhi := m.c.VRegsOf(instr.Arg())
	lo, hi := m.c.VRegsOf(instr.Return())
	op, first, second := unaryOpLzcnt, xhi, xlo
	if instr.Opcode() == ssa.OpcodeCtz {
		op, first, second = unaryOpTzcnt, xlo, xhi
	}
	tmp := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asUnaryRmR(op, newOperandReg(first), lo, true))
	m.insert(m.allocateInstr().asUnaryRmR(op, newOperandReg(second), tmp, true))
	m.insert(m.allocateInstr().asAluRmiR(aluOpAdd, newOperandImm32(64), tmp, true))
	m.insert(m.allocateInstr().asCmpRmiR(false, newOperandReg(first), first, 8))
	m.insert(m.allocateInstr().asCmove(condZ, newOperandReg(tmp), lo, true))
	m.insert(m.allocateInstr().asImm(hi, 0, true))
}

// lowerMinMax keeps x unless the comparison with y picks y.
func (m *machine) lowerMinMax(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	typ := x.Type()
	var c cond
	signed := false
	switch instr.Opcode() {
	case ssa.OpcodeSmin:
		c, signed = condNLE, true
	case ssa.OpcodeSmax:
		c, signed = condL, true
	case ssa.OpcodeUmin:
		c = condNBE
	case ssa.OpcodeUmax:
		c = condB
	}
	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)
	size := typ.Size()
	if size < 4 {
		xr, yr = m.extendTo(xr, typ, 4, signed), m.extendTo(yr, typ, 4, signed)
		size = 4
	}
	dst := m.c.VRegOf(instr.Return())
	m.insert(m.allocateInstr().asMovRR(xr, dst, size == 8))
	m.insert(m.allocateInstr().asCmpRmiR(true, newOperandReg(yr), xr, size))
	m.insert(m.allocateInstr().asCmove(c, newOperandReg(yr), dst, size == 8))
}

func (m *machine) lowerIcmp(instr *ssa.Instruction) {
	c := m.lowerIcmpToFlags(instr)
	m.insert(m.allocateInstr().asSetcc(c, m.c.VRegOf(instr.Return())))
}

// lowerIcmpToFlags sets the flags for the comparison, and returns the condition which holds if it is true.
func (m *machine) lowerIcmpToFlags(instr *ssa.Instruction) cond {
	x, y, c := instr.IcmpData()
	if x.Type() == ssa.TypeI128 {
		return m.lowerIcmp128ToFlags(x, y, c)
	}
	rm := m.getOperand_Mem_Imm32_Reg(y)
	m.insert(m.allocateInstr().asCmpRmiR(true, rm, m.c.VRegOf(x), x.Type().Size()))
	return intCond(c)
}

// lowerIcmp128ToFlags compares the halves: equalities or the differences together, the orderings subtract
// with the borrow so that the sign, overflow and carry flags are the ones of the 128-bit difference.
func (m *machine) lowerIcmp128ToFlags(x, y ssa.Value, c ssa.IntegerCmpCond) cond {
	switch c {
	case ssa.IntegerCmpCondEqual, ssa.IntegerCmpCondNotEqual:
		xlo, xhi := m.c.VRegsOf(x)
		ylo, yhi := m.c.VRegsOf(y)
		lo, hi := m.copyOf(xlo, ssa.TypeI64), m.copyOf(xhi, ssa.TypeI64)
		m.insert(m.allocateInstr().asAluRmiR(aluOpXor, newOperandReg(ylo), lo, true))
		m.insert(m.allocateInstr().asAluRmiR(aluOpXor, newOperandReg(yhi), hi, true))
		m.insert(m.allocateInstr().asAluRmiR(aluOpOr, newOperandReg(hi), lo, true))
		return intCond(c)
	case ssa.IntegerCmpCondSignedGreaterThan:
		x, y, c = y, x, ssa.IntegerCmpCondSignedLessThan
	case ssa.IntegerCmpCondSignedLessThanOrEqual:
		x, y, c = y, x, ssa.IntegerCmpCondSignedGreaterThanOrEqual
	case ssa.IntegerCmpCondUnsignedGreaterThan:
		x, y, c = y, x, ssa.IntegerCmpCondUnsignedLessThan
	case ssa.IntegerCmpCondUnsignedLessThanOrEqual:
		x, y, c = y, x, ssa.IntegerCmpCondUnsignedGreaterThanOrEqual
	}
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	hi := m.copyOf(xhi, ssa.TypeI64)
	m.insert(m.allocateInstr().asCmpRmiR(true, newOperandReg(ylo), xlo, 8))
	m.insert(m.allocateInstr().asAluRmiR(aluOpSbb, newOperandReg(yhi), hi, true))
	return intCond(c)
}

// condFlags sets the flags for the condition value v, which is true when nonzero, fusing its comparison
// when v is used only here.
func (m *machine) condFlags(v ssa.Value) cond {
	def := m.c.ValueDefinition(v)
	if m.c.MatchInstr(def, ssa.OpcodeIcmp) {
		def.Instr.MarkLowered()
		return m.lowerIcmpToFlags(def.Instr)
	}
	if m.c.MatchInstr(def, ssa.OpcodeFcmp) {
		x, y, c := def.Instr.FcmpData()
		if !x.Type().IsVector() && c != ssa.FloatCmpCondEqual && c != ssa.FloatCmpCondNotEqual {
			def.Instr.MarkLowered()
			cc, _ := m.lowerFcmpToFlags(x, y, c)
			return cc
		}
	}
	if v.Type() == ssa.TypeI128 {
		lo, hi := m.c.VRegsOf(v)
		tmp := m.copyOf(lo, ssa.TypeI64)
		m.insert(m.allocateInstr().asAluRmiR(aluOpOr, newOperandReg(hi), tmp, true))
		return condNZ
	}
	r := m.c.VRegOf(v)
	m.insert(m.allocateInstr().asCmpRmiR(false, newOperandReg(r), r, v.Type().Size()))
	return condNZ
}

// lowerSelect moves y into the result, then x if the condition holds. The moves come first since they
// preserve the flags.
func (m *machine) lowerSelect(instr *ssa.Instruction) {
	c, x, y := instr.SelectData()
	typ := instr.Type()
	switch {
	case typ == ssa.TypeI128:
		xlo, xhi := m.c.VRegsOf(x)
		ylo, yhi := m.c.VRegsOf(y)
		lo, hi := m.c.VRegsOf(instr.Return())
		m.insert(m.allocateInstr().asMovRR(ylo, lo, true))
		m.insert(m.allocateInstr().asMovRR(yhi, hi, true))
		cc := m.condFlags(c)
		m.insert(m.allocateInstr().asCmove(cc, newOperandReg(xlo), lo, true))
		m.insert(m.allocateInstr().asCmove(cc, newOperandReg(xhi), hi, true))
	case typ.IsFloat() || typ.IsVector():
		dst := m.c.VRegOf(instr.Return())
		m.insert(m.allocateInstr().asXmmMovRR(m.c.VRegOf(y), dst))
		cc := m.condFlags(c)
		m.insert(m.allocateInstr().asXmmCmove(cc, m.c.VRegOf(x), dst))
	default:
		_64 := typ.Bits() == 64
		dst := m.c.VRegOf(instr.Return())
		m.insert(m.allocateInstr().asMovRR(m.c.VRegOf(y), dst, _64))
		cc := m.condFlags(c)
		m.insert(m.allocateInstr().asCmove(cc, newOperandReg(m.c.VRegOf(x)), dst, _64))
	}
}

func (m *machine) lowerExtend(instr *ssa.Instruction) {
	from, to, signed := instr.ExtendData()
	x := instr.Arg()
	src := m.c.VRegOf(x)
	if to == 128 {
		lo, hi := m.c.VRegsOf(instr.Return())
		if from == 64 {
			m.insert(m.allocateInstr().asMovRR(src, lo, true))
		} else if signed {
			m.insert(m.allocateInstr().asMovsxRmR(extModeOf(from/8, 8), newOperandReg(src), lo))
		} else {
			m.insert(m.allocateInstr().asMovzxRmR(extModeOf(from/8, 8), newOperandReg(src), lo))
		}
		if signed {
			m.insert(m.allocateInstr().asMovRR(lo, hi, true))
			m.insert(m.allocateInstr().asShiftR(shiftOpShiftRightArithmetic, newOperandImm32(63), hi, 8))
		} else {
			m.insert(m.allocateInstr().asImm(hi, 0, true))
		}
		return
	}
	dst := m.c.VRegOf(instr.Return())
	mode := extModeOf(from/8, to/8)
	if signed {
		m.insert(m.allocateInstr().asMovsxRmR(mode, newOperandReg(src), dst))
	} else {
		m.insert(m.allocateInstr().asMovzxRmR(mode, newOperandReg(src), dst))
	}
}

func (m *machine) lowerIreduce(instr *ssa.Instruction) {
	x := instr.Arg()
	dst := m.c.VRegOf(instr.Return())
	if x.Type() == ssa.TypeI128 {
		lo, _ := m.c.VRegsOf(x)
		m.insert(m.allocateInstr().asMovRR(lo, dst, true))
		return
	}
	m.insert(m.allocateInstr().asMovRR(m.c.VRegOf(x), dst, true))
}

func (m *machine) lowerBitcast(instr *ssa.Instruction) {
	x := instr.Arg()
	from, to := x.Type(), instr.Type()
	if from == ssa.TypeI128 || to == ssa.TypeI128 {
		backend.Unsupported(m.arch(), instr, "i128 bitcast")
	}
	src, dst := m.c.VRegOf(x), m.c.VRegOf(instr.Return())
	fromInt, toInt := from.IsInt() || from.IsRef(), to.IsInt() || to.IsRef()
	switch {
	case fromInt && toInt:
		m.insert(m.allocateInstr().asMovRR(src, dst, true))
	case fromInt:
		op := sseOpcodeMovd
		if from.Bits() == 64 {
			op = sseOpcodeMovq
		}
		m.insert(m.allocateInstr().asGprToXmm(op, newOperandReg(src), dst, from.Bits() == 64))
	case toInt:
		op := sseOpcodeMovd
		if to.Bits() == 64 {
			op = sseOpcodeMovq
		}
		m.insert(m.allocateInstr().asXmmToGpr(op, src, dst, to.Bits() == 64))
	default:
		m.insert(m.allocateInstr().asXmmMovRR(src, dst))
	}
}

func (m *machine) lowerIconcat(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	lo, hi := m.c.VRegsOf(instr.Return())
	m.insert(m.allocateInstr().asMovRR(m.c.VRegOf(x), lo, true))
	m.insert(m.allocateInstr().asMovRR(m.c.VRegOf(y), hi, true))
}

func (m *machine) lowerIsplit(instr *ssa.Instruction) {
	xlo, xhi := m.c.VRegsOf(instr.Arg())
	first, rest := instr.Returns()
	m.insert(m.allocateInstr().asMovRR(xlo, m.c.VRegOf(first), true))
	m.insert(m.allocateInstr().asMovRR(xhi, m.c.VRegOf(rest[0]), true))
}

func (m *machine) lowerTrap(instr *ssa.Instruction) {
	m.insert(m.allocateInstr().asUD2(instr.TrapCode()))
}

func (m *machine) lowerTrapIf(instr *ssa.Instruction) {
	cc := m.condFlags(instr.Arg())
	if instr.Opcode() == ssa.OpcodeTrapz {
		cc = cc.invert()
	}
	m.insert(m.allocateInstr().asTrapIf(cc, instr.TrapCode()))
}

// LowerSingleBranch implements backend.Machine.
func (m *machine) LowerSingleBranch(br *ssa.Instruction) {
	switch br.Opcode() {
	case ssa.OpcodeJump:
		_, _, target := br.BranchData()
		if br.IsFallthroughJump() {
			return
		}
		m.insert(m.allocateInstr().asJmp(backend.Label(target.ID())))
	case ssa.OpcodeBrTable:
		index, defaultTarget, targets := br.BrTableData()
		idx := m.c.VRegOf(index)
		var size byte = 4
		switch bits := index.Type().Bits(); {
		case bits < 32:
			idx = m.extendTo(idx, index.Type(), 4, false)
		case bits == 64:
			size = 8
		}
		labels := make([]backend.Label, len(targets))
		for j, t := range targets {
			labels[j] = backend.Label(t.ID())
		}
		i := m.allocateInstr().asJmpTableSequence(idx, labels, backend.Label(defaultTarget.ID()))
		i.size = size
		m.insert(i)
	default:
		panic("BUG: unexpected branch " + br.Opcode().String())
	}
}

// LowerConditionalBranch implements backend.Machine.
func (m *machine) LowerConditionalBranch(b *ssa.Instruction) {
	v, _, target := b.BranchData()
	l := backend.Label(target.ID())
	brz := b.Opcode() == ssa.OpcodeBrz

	def := m.c.ValueDefinition(v)
	if m.c.MatchInstr(def, ssa.OpcodeFcmp) {
		x, y, c := def.Instr.FcmpData()
		if !x.Type().IsVector() {
			def.Instr.MarkLowered()
			m.lowerFcmpBranch(x, y, c, brz, l)
			return
		}
	}
	cc := m.condFlags(v)
	if brz {
		cc = cc.invert()
	}
	m.insert(m.allocateInstr().asJmpIf(cc, l))
}

// lowerFcmpBranch jumps to l if x c y holds, or does not hold when negate. Equality needs the zero flag
// set and the parity flag clear.
func (m *machine) lowerFcmpBranch(x, y ssa.Value, c ssa.FloatCmpCond, negate bool, l backend.Label) {
	cc, parity := m.lowerFcmpToFlags(x, y, c)
	if !parity {
		if negate {
			cc = cc.invert()
		}
		m.insert(m.allocateInstr().asJmpIf(cc, l))
		return
	}
	if (cc == condZ) != negate {
		skipInstr, skip := m.allocateLabel()
		m.insert(m.allocateInstr().asJmpIf(condP, skip))
		m.insert(m.allocateInstr().asJmpIf(condZ, l))
		m.insert(skipInstr)
	} else {
		m.insert(m.allocateInstr().asJmpIf(condP, l))
		m.insert(m.allocateInstr().asJmpIf(condNZ, l))
	}
}
