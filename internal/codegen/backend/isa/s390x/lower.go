package s390x

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

var (
	typesI64     = backend.Types(ssa.TypeI64)
	typesI128    = backend.TypesI128
	typesScalars = backend.TypesIntOrRef | backend.TypesI128
)

func alu(op aluOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) { m.lowerAlu(op, instr) }
}

func bitwise128(op aluOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x, y := instr.Arg2()
		xlo, xhi := m.c.VRegsOf(x)
		ylo, yhi := m.c.VRegsOf(y)
		lo, hi := m.c.VRegsOf(instr.Return())
		m.insert(m.allocateInstr().asALU(op, lo, xlo, ylo))
		m.insert(m.allocateInstr().asALU(op, hi, xhi, yhi))
	}
}

// rules are the lowering rules of s390x. The memory rules are in lower_mem.go, the float ones in
// lower_float.go. Vectors have no rules, so that their instructions fail with an UnsupportedError.
var rules = backend.NewRuleTable(target.ArchS390X, concatRules(intRules, floatRules, memRules))

func concatRules(sets ...[]backend.Rule[*machine]) (out []backend.Rule[*machine]) {
	for _, s := range sets {
		out = append(out, s...)
	}
	return
}

var intRules = []backend.Rule[*machine]{
	{Name: "iconst", Opcode: ssa.OpcodeIconst, Types: backend.TypesIntOrRef, Lower: (*machine).lowerIconst},

	{Name: "iadd", Opcode: ssa.OpcodeIadd, Types: backend.TypesIntOrRef, Lower: alu(aluOpAdd)},
	{Name: "iadd_i128", Opcode: ssa.OpcodeIadd, Types: typesI128, Lower: (*machine).lowerAdd128},
	{Name: "isub", Opcode: ssa.OpcodeIsub, Types: backend.TypesIntOrRef, Lower: alu(aluOpSub)},
	{Name: "isub_i128", Opcode: ssa.OpcodeIsub, Types: typesI128, Lower: (*machine).lowerSub128},
	{Name: "imul", Opcode: ssa.OpcodeImul, Types: backend.TypesIntScalar, Lower: (*machine).lowerImul},
	{Name: "imul_mie2", Opcode: ssa.OpcodeImul, Types: backend.TypesIntScalar, Requires: target.ExtMIE2, Lower: alu(aluOpMul)},
	{Name: "imul_i128", Opcode: ssa.OpcodeImul, Types: typesI128, Lower: (*machine).lowerImul128},
	{Name: "band", Opcode: ssa.OpcodeBand, Types: backend.TypesIntOrRef, Lower: alu(aluOpAnd)},
	{Name: "band_i128", Opcode: ssa.OpcodeBand, Types: typesI128, Lower: bitwise128(aluOpAnd)},
	{Name: "bor", Opcode: ssa.OpcodeBor, Types: backend.TypesIntOrRef, Lower: alu(aluOpOr)},
	{Name: "bor_i128", Opcode: ssa.OpcodeBor, Types: typesI128, Lower: bitwise128(aluOpOr)},
	{Name: "bxor", Opcode: ssa.OpcodeBxor, Types: backend.TypesIntOrRef, Lower: alu(aluOpXor)},
	{Name: "bxor_i128", Opcode: ssa.OpcodeBxor, Types: typesI128, Lower: bitwise128(aluOpXor)},
	{Name: "bnot", Opcode: ssa.OpcodeBnot, Types: backend.TypesIntScalar | typesI128, Lower: (*machine).lowerBnot},
	{Name: "ineg", Opcode: ssa.OpcodeIneg, Types: backend.TypesIntScalar | typesI128, Lower: (*machine).lowerIneg},
	{Name: "iabs", Opcode: ssa.OpcodeIabs, Types: backend.TypesIntScalar, Lower: (*machine).lowerIabs},
	{Name: "umulhi", Opcode: ssa.OpcodeUmulhi, Types: backend.TypesIntScalar, Lower: (*machine).lowerMulhi},
	{Name: "smulhi", Opcode: ssa.OpcodeSmulhi, Types: backend.TypesIntScalar, Lower: (*machine).lowerMulhi},
	{Name: "udiv", Opcode: ssa.OpcodeUdiv, Types: backend.TypesIntScalar, Lower: (*machine).lowerDivRem},
	{Name: "sdiv", Opcode: ssa.OpcodeSdiv, Types: backend.TypesIntScalar, Lower: (*machine).lowerDivRem},
	{Name: "urem", Opcode: ssa.OpcodeUrem, Types: backend.TypesIntScalar, Lower: (*machine).lowerDivRem},
	{Name: "srem", Opcode: ssa.OpcodeSrem, Types: backend.TypesIntScalar, Lower: (*machine).lowerDivRem},
	{Name: "uadd_overflow_trap", Opcode: ssa.OpcodeUaddOverflowTrap, Types: backend.TypesInt32And64, Lower: (*machine).lowerUaddOverflowTrap},

	{Name: "ishl", Opcode: ssa.OpcodeIshl, Types: backend.TypesIntScalar, Lower: (*machine).lowerShift},
	{Name: "ushr", Opcode: ssa.OpcodeUshr, Types: backend.TypesIntScalar, Lower: (*machine).lowerShift},
	{Name: "sshr", Opcode: ssa.OpcodeSshr, Types: backend.TypesIntScalar, Lower: (*machine).lowerShift},
	{Name: "rotl", Opcode: ssa.OpcodeRotl, Types: backend.TypesIntScalar, Lower: (*machine).lowerRotate},
	{Name: "rotr", Opcode: ssa.OpcodeRotr, Types: backend.TypesIntScalar, Lower: (*machine).lowerRotate},
	{Name: "ishl_i128", Opcode: ssa.OpcodeIshl, Types: typesI128, Lower: (*machine).lowerShift128},
	{Name: "ushr_i128", Opcode: ssa.OpcodeUshr, Types: typesI128, Lower: (*machine).lowerShift128},
	{Name: "sshr_i128", Opcode: ssa.OpcodeSshr, Types: typesI128, Lower: (*machine).lowerShift128},
	{Name: "rotl_i128", Opcode: ssa.OpcodeRotl, Types: typesI128, Lower: (*machine).lowerRotate128},
	{Name: "rotr_i128", Opcode: ssa.OpcodeRotr, Types: typesI128, Lower: (*machine).lowerRotate128},

	{Name: "clz", Opcode: ssa.OpcodeClz, Types: backend.TypesIntScalar, Lower: (*machine).lowerBitCount},
	{Name: "clz_i128", Opcode: ssa.OpcodeClz, Types: typesI128, Lower: (*machine).lowerClzCtz128},
	{Name: "ctz", Opcode: ssa.OpcodeCtz, Types: backend.TypesIntScalar, Lower: (*machine).lowerBitCount},
	{Name: "ctz_i128", Opcode: ssa.OpcodeCtz, Types: typesI128, Lower: (*machine).lowerClzCtz128},
	{Name: "popcnt", Opcode: ssa.OpcodePopcnt, Types: backend.TypesIntScalar, Lower: (*machine).lowerBitCount},
	{Name: "popcnt_i128", Opcode: ssa.OpcodePopcnt, Types: typesI128, Lower: (*machine).lowerPopcnt128},

	{Name: "smin", Opcode: ssa.OpcodeSmin, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "smax", Opcode: ssa.OpcodeSmax, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "umin", Opcode: ssa.OpcodeUmin, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "umax", Opcode: ssa.OpcodeUmax, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "icmp", Opcode: ssa.OpcodeIcmp, Types: backend.TypesIntOrRef | typesI128, Lower: (*machine).lowerIcmp},
	{Name: "select", Opcode: ssa.OpcodeSelect, Types: typesScalars, Lower: (*machine).lowerSelect},
	// locgr does not branch, so the guard selects like select.
	{Name: "select_spectre_guard", Opcode: ssa.OpcodeSelectSpectreGuard, Types: typesScalars, Lower: (*machine).lowerSelect},

	{Name: "uextend", Opcode: ssa.OpcodeUextend, Types: backend.TypesIntScalar | typesI128, Lower: (*machine).lowerExtend},
	{Name: "sextend", Opcode: ssa.OpcodeSextend, Types: backend.TypesIntScalar | typesI128, Lower: (*machine).lowerExtend},
	{Name: "ireduce", Opcode: ssa.OpcodeIreduce, Types: backend.TypesIntScalar, Lower: (*machine).lowerIreduce},
	{Name: "bitcast", Opcode: ssa.OpcodeBitcast, Types: backend.TypesIntOrRef, Lower: (*machine).lowerBitcast},
	{Name: "iconcat", Opcode: ssa.OpcodeIconcat, Types: typesI128, Lower: (*machine).lowerIconcat},
	{Name: "isplit", Opcode: ssa.OpcodeIsplit, Types: typesI64, Lower: (*machine).lowerIsplit},

	{Name: "trap", Opcode: ssa.OpcodeTrap, Types: backend.TypeNone, Lower: (*machine).lowerTrap},
	{Name: "trapz", Opcode: ssa.OpcodeTrapz, Types: backend.TypesIntOrRef | typesI128, Lower: (*machine).lowerTrapIf},
	{Name: "trapnz", Opcode: ssa.OpcodeTrapnz, Types: backend.TypesIntOrRef | typesI128, Lower: (*machine).lowerTrapIf},
	{Name: "call", Opcode: ssa.OpcodeCall, Types: backend.TypeNone, Lower: (*machine).lowerCall},
	{Name: "call_indirect", Opcode: ssa.OpcodeCallIndirect, Types: backend.TypeNone, Lower: (*machine).lowerCall},
	{Name: "return_call", Opcode: ssa.OpcodeReturnCall, Types: backend.TypeNone, Lower: (*machine).lowerTailCall},
	{Name: "return_call_indirect", Opcode: ssa.OpcodeReturnCallIndirect, Types: backend.TypeNone, Lower: (*machine).lowerTailCall},
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
	return signExtend(def.Instr.ConstantVal(), typ.Bits()), true
}

// useConst marks the constant v as lowered when it was folded into its only user.
func (m *machine) useConst(v ssa.Value) {
	if def := m.c.ValueDefinition(v); m.c.MatchInstr(def, ssa.OpcodeIconst) {
		def.Instr.MarkLowered()
	}
}

// extendTo returns v of typ extended to 64 bits, or v itself if it is 64 bits wide already.
func (m *machine) extendTo(v regalloc.VReg, typ ssa.Type, signed bool) regalloc.VReg {
	if typ.Bits() >= 64 {
		return v
	}
	tmp := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asExtend(tmp, v, typ.Bits(), signed))
	return tmp
}

func (m *machine) loadConst(v int64) regalloc.VReg {
	r := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asLoadConst(r, v))
	return r
}

func (m *machine) newReg() regalloc.VReg { return m.c.AllocateVReg(ssa.TypeI64) }

func (m *machine) lowerIconst(instr *ssa.Instruction) {
	m.InsertLoadConstantBlockArg(instr, m.c.VRegOf(instr.Return()))
}

// lowerAlu lowers the integer arithmetic and logic with the distinct-operands forms. The upper bits of
// narrow integers are undefined, so the 64-bit forms serve them too. Constant addends fold into lay.
func (m *machine) lowerAlu(op aluOp, instr *ssa.Instruction) {
	x, y := instr.Arg2()
	if _, ok := m.constOf(x); ok && op != aluOpSub {
		x, y = y, x
	}
	dst := m.c.VRegOf(instr.Return())
	xr := m.c.VRegOf(x)
	if c, ok := m.constOf(y); ok && (op == aluOpAdd || op == aluOpSub) {
		if op == aluOpSub {
			c = -c
		}
		if fitsDisp20(c) {
			m.useConst(y)
			m.insert(m.allocateInstr().asAddImm(dst, xr, c))
			return
		}
	}
	m.insert(m.allocateInstr().asALU(op, dst, xr, m.c.VRegOf(y)))
}

// mul64 computes dst = x * y, with msgr on a copy of x without MIE2.
func (m *machine) mul64(dst, x, y regalloc.VReg) {
	if m.ext().Has(target.ExtMIE2) {
		m.insert(m.allocateInstr().asALU(aluOpMul, dst, x, y))
		return
	}
	m.insert(m.allocateInstr().asMov(dst, x))
	m.insert(m.allocateInstr().asALURR(rreOpMsgr, dst, y))
}

func (m *machine) lowerImul(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	m.mul64(m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y))
}

// setLessU sets dst to 1 if x is below y unsigned, the carry and the borrow of the i128 arithmetic.
func (m *machine) setLessU(dst, x, y regalloc.VReg) {
	m.insert(m.allocateInstr().asSetCC(dst).withCompare(condLtU, x, y, 0, false))
}

// lowerAdd128 adds the low halves, and the carry, their sum being below an operand, into the high one.
func (m *machine) lowerAdd128(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	lo, hi := m.c.VRegsOf(instr.Return())
	sum, carry, t := m.newReg(), m.newReg(), m.newReg()
	m.insert(m.allocateInstr().asALU(aluOpAdd, sum, xlo, ylo))
	m.setLessU(carry, sum, xlo)
	m.insert(m.allocateInstr().asALU(aluOpAdd, t, xhi, yhi))
	m.insert(m.allocateInstr().asALU(aluOpAdd, hi, t, carry))
	m.insert(m.allocateInstr().asMov(lo, sum))
}

func (m *machine) lowerSub128(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	lo, hi := m.c.VRegsOf(instr.Return())
	m.sub128(xlo, xhi, ylo, yhi, lo, hi)
}

func (m *machine) sub128(xlo, xhi, ylo, yhi, lo, hi regalloc.VReg) {
	borrow, t := m.newReg(), m.newReg()
	m.setLessU(borrow, xlo, ylo)
	m.insert(m.allocateInstr().asALU(aluOpSub, t, xhi, yhi))
	m.insert(m.allocateInstr().asALU(aluOpSub, hi, t, borrow))
	m.insert(m.allocateInstr().asALU(aluOpSub, lo, xlo, ylo))
}

// lowerImul128 computes the low 128 bits of the product:
//
//	hi = xlo*yhi + xhi*ylo + umulhi(xlo, ylo)
//	lo = xlo*ylo
func (m *machine) lowerImul128(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	lo, hi := m.c.VRegsOf(instr.Return())

	h, a, b, s := m.newReg(), m.newReg(), m.newReg(), m.newReg()
	m.insert(m.allocateInstr().asMulhiSeq(h, xlo, ylo, false))
	m.mul64(a, xlo, yhi)
	m.mul64(b, xhi, ylo)
	m.insert(m.allocateInstr().asALU(aluOpAdd, s, a, b))
	m.insert(m.allocateInstr().asALU(aluOpAdd, hi, s, h))
	m.mul64(lo, xlo, ylo)
}

// lowerBnot is xgrk with all ones.
func (m *machine) lowerBnot(instr *ssa.Instruction) {
	x := instr.Arg()
	ones := m.loadConst(-1)
	if x.Type() == ssa.TypeI128 {
		xlo, xhi := m.c.VRegsOf(x)
		lo, hi := m.c.VRegsOf(instr.Return())
		m.insert(m.allocateInstr().asALU(aluOpXor, lo, xlo, ones))
		m.insert(m.allocateInstr().asALU(aluOpXor, hi, xhi, ones))
		return
	}
	m.insert(m.allocateInstr().asALU(aluOpXor, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), ones))
}

func (m *machine) lowerIneg(instr *ssa.Instruction) {
	x := instr.Arg()
	if x.Type() == ssa.TypeI128 {
		xlo, xhi := m.c.VRegsOf(x)
		lo, hi := m.c.VRegsOf(instr.Return())
		zero := m.loadConst(0)
		m.sub128(zero, zero, xlo, xhi, lo, hi)
		return
	}
	m.insert(m.allocateInstr().asUnary(rreOpLcgr, m.c.VRegOf(instr.Return()), m.c.VRegOf(x)))
}

// lowerIabs takes the absolute value of the sign-extended operand with lpgr.
func (m *machine) lowerIabs(instr *ssa.Instruction) {
	x := instr.Arg()
	src := m.extendTo(m.c.VRegOf(x), x.Type(), true)
	m.insert(m.allocateInstr().asUnary(rreOpLpgr, m.c.VRegOf(instr.Return()), src))
}

func (m *machine) lowerMulhi(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	signed := instr.Opcode() == ssa.OpcodeSmulhi
	typ := x.Type()
	dst := m.c.VRegOf(instr.Return())
	if typ.Bits() == 64 {
		m.insert(m.allocateInstr().asMulhiSeq(dst, m.c.VRegOf(x), m.c.VRegOf(y), signed))
		return
	}

	// The full product of the widened operands fits in 64 bits.
	a := m.extendTo(m.c.VRegOf(x), typ, signed)
	b := m.extendTo(m.c.VRegOf(y), typ, signed)
	p := m.newReg()
	m.mul64(p, a, b)
	op := shiftOpSrlg
	if signed {
		op = shiftOpSrag
	}
	m.insert(m.allocateInstr().asShift(op, dst, p, regalloc.VRegInvalid, int64(typ.Bits())))
}

// lowerDivRem checks the divisor, and the overflow of the signed division, before dividing the operands
// extended to 64 bits. The overflow is then x being the minimum of the type and y being -1.
func (m *machine) lowerDivRem(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	op := instr.Opcode()
	signed := op == ssa.OpcodeSdiv || op == ssa.OpcodeSrem
	typ := x.Type()

	xr := m.extendTo(m.c.VRegOf(x), typ, signed)
	yr := m.extendTo(m.c.VRegOf(y), typ, signed)
	m.insert(m.allocateInstr().asTrapIf(codegenapi.TrapCodeIntegerDivisionByZero).
		withCompare(condEq, yr, regalloc.VRegInvalid, 0, false))

	if op == ssa.OpcodeSdiv {
		// (x ^ min) | (y + 1) is zero only for x == min and y == -1.
		a, b, t := m.newReg(), m.newReg(), m.newReg()
		m.insert(m.allocateInstr().asALU(aluOpXor, a, xr, m.loadConst(int64(-1)<<(typ.Bits()-1))))
		m.insert(m.allocateInstr().asAddImm(b, yr, 1))
		m.insert(m.allocateInstr().asALU(aluOpOr, t, a, b))
		m.insert(m.allocateInstr().asTrapIf(codegenapi.TrapCodeIntegerOverflow).
			withCompare(condEq, t, regalloc.VRegInvalid, 0, false))
	}
	rem := op == ssa.OpcodeUrem || op == ssa.OpcodeSrem
	m.insert(m.allocateInstr().asDivRemSeq(m.c.VRegOf(instr.Return()), xr, yr, signed, rem))
}

// lowerUaddOverflowTrap traps on the carry: a 64-bit sum below an operand, or a 32-bit sum of the
// zero-extended operands above 32 bits.
func (m *machine) lowerUaddOverflowTrap(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	typ := x.Type()
	dst := m.c.VRegOf(instr.Return())
	xr := m.extendTo(m.c.VRegOf(x), typ, false)
	yr := m.extendTo(m.c.VRegOf(y), typ, false)
	m.insert(m.allocateInstr().asALU(aluOpAdd, dst, xr, yr))
	if typ.Bits() == 64 {
		m.insert(m.allocateInstr().asTrapIf(instr.TrapCode()).withCompare(condLtU, dst, xr, 0, false))
		return
	}
	carry := m.newReg()
	m.insert(m.allocateInstr().asShift(shiftOpSrlg, carry, dst, regalloc.VRegInvalid, 32))
	m.insert(m.allocateInstr().asTrapIf(instr.TrapCode()).withCompare(condNe, carry, regalloc.VRegInvalid, 0, false))
}

// amountReg returns the register of a shift amount, the low half for i128 amounts.
func (m *machine) amountReg(amt ssa.Value) regalloc.VReg {
	if amt.Type() == ssa.TypeI128 {
		lo, _ := m.c.VRegsOf(amt)
		return lo
	}
	return m.c.VRegOf(amt)
}

// maskedAmount returns the amount modulo bits. The shifts take the low 6 bits of the amount, which is
// enough for i64 only.
func (m *machine) maskedAmount(amt ssa.Value, bits byte) regalloc.VReg {
	r := m.amountReg(amt)
	if bits >= 64 {
		return r
	}
	tmp := m.newReg()
	m.insert(m.allocateInstr().asALU(aluOpAnd, tmp, r, m.loadConst(int64(bits-1))))
	return tmp
}

// lowerShift uses the 64-bit shifts for i64 and the 32-bit ones otherwise. Narrow right shifts extend
// their source first.
func (m *machine) lowerShift(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	typ := x.Type()
	bits := typ.Bits()
	src := m.c.VRegOf(x)
	var op shiftOp
	switch instr.Opcode() {
	case ssa.OpcodeIshl:
		op = shiftOpSllk
		if bits == 64 {
			op = shiftOpSllg
		}
	case ssa.OpcodeUshr:
		op = shiftOpSrlk
		if bits == 64 {
			op = shiftOpSrlg
		} else if bits < 32 {
			src = m.extendTo(src, typ, false)
		}
	default:
		op = shiftOpSrak
		if bits == 64 {
			op = shiftOpSrag
		} else if bits < 32 {
			src = m.extendTo(src, typ, true)
		}
	}
	dst := m.c.VRegOf(instr.Return())
	if c, ok := m.constOf(amt); ok {
		m.useConst(amt)
		m.insert(m.allocateInstr().asShift(op, dst, src, regalloc.VRegInvalid, c&int64(bits-1)))
		return
	}
	m.insert(m.allocateInstr().asShift(op, dst, src, m.maskedAmount(amt, bits), 0))
}

// lowerRotate uses rllg and rll, rotating left by the negated amount for the right rotations. Narrow
// rotations or the two shifts of the zero-extended x.
func (m *machine) lowerRotate(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	typ := x.Type()
	bits := typ.Bits()
	left := instr.Opcode() == ssa.OpcodeRotl
	dst, src := m.c.VRegOf(instr.Return()), m.c.VRegOf(x)
	if bits < 32 {
		m.rotateNarrow(dst, m.extendTo(src, typ, false), amt, bits, left)
		return
	}

	op := shiftOpRll
	if bits == 64 {
		op = shiftOpRllg
	}
	if c, ok := m.constOf(amt); ok {
		m.useConst(amt)
		n := c & int64(bits-1)
		if !left {
			n = (int64(bits) - n) & int64(bits-1)
		}
		m.insert(m.allocateInstr().asShift(op, dst, src, regalloc.VRegInvalid, n))
		return
	}
	n := m.amountReg(amt)
	if !left {
		neg := m.newReg()
		m.insert(m.allocateInstr().asUnary(rreOpLcgr, neg, n))
		n = neg
	}
	m.insert(m.allocateInstr().asShift(op, dst, src, n, 0))
}

func (m *machine) rotateNarrow(dst, src regalloc.VReg, amt ssa.Value, bits byte, left bool) {
	first, second := shiftOpSrlk, shiftOpSllk
	if left {
		first, second = second, first
	}
	a, b := m.newReg(), m.newReg()
	if c, ok := m.constOf(amt); ok {
		m.useConst(amt)
		n := c & int64(bits-1)
		m.insert(m.allocateInstr().asShift(first, a, src, regalloc.VRegInvalid, n))
		m.insert(m.allocateInstr().asShift(second, b, src, regalloc.VRegInvalid, int64(bits)-n))
	} else {
		n := m.maskedAmount(amt, bits)
		other := m.newReg()
		m.insert(m.allocateInstr().asALU(aluOpSub, other, m.loadConst(int64(bits)), n))
		m.insert(m.allocateInstr().asShift(first, a, src, n, 0))
		m.insert(m.allocateInstr().asShift(second, b, src, other, 0))
	}
	m.insert(m.allocateInstr().asALU(aluOpOr, dst, a, b))
}

// shift128 shifts the pair (xlo, xhi) by amt modulo 128 into (lo, hi). The bits crossing the halves are
// the other half shifted by one, then by 63-amt, so that an amount of zero moves nothing. Amounts of 64
// and more then pick the crossed half on bit 6 of the amount.
func (m *machine) shift128(op ssa.Opcode, xlo, xhi, amt, lo, hi regalloc.VReg) {
	neg := m.newReg()
	m.insert(m.allocateInstr().asUnary(rreOpLcgr, neg, amt))
	near, far, cross, t := m.newReg(), m.newReg(), m.newReg(), m.newReg()

	switch op {
	case ssa.OpcodeIshl:
		m.insert(m.allocateInstr().asShift(shiftOpSllg, near, xlo, amt, 0))
		m.insert(m.allocateInstr().asShift(shiftOpSllg, far, xhi, amt, 0))
		m.insert(m.allocateInstr().asShift(shiftOpSrlg, t, xlo, regalloc.VRegInvalid, 1))
		m.insert(m.allocateInstr().asShift(shiftOpSrlg, cross, t, neg, 63))
	default:
		highOp := shiftOpSrlg
		if op == ssa.OpcodeSshr {
			highOp = shiftOpSrag
		}
		m.insert(m.allocateInstr().asShift(highOp, near, xhi, amt, 0))
		m.insert(m.allocateInstr().asShift(shiftOpSrlg, far, xlo, amt, 0))
		m.insert(m.allocateInstr().asShift(shiftOpSllg, t, xhi, regalloc.VRegInvalid, 1))
		m.insert(m.allocateInstr().asShift(shiftOpSllg, cross, t, neg, 63))
	}
	combined := m.newReg()
	m.insert(m.allocateInstr().asALU(aluOpOr, combined, far, cross))

	var fill regalloc.VReg
	if op == ssa.OpcodeSshr {
		fill = m.newReg()
		m.insert(m.allocateInstr().asShift(shiftOpSrag, fill, xhi, regalloc.VRegInvalid, 63))
	} else {
		fill = m.loadConst(0)
	}
	wide := m.newReg()
	m.insert(m.allocateInstr().asALU(aluOpAnd, wide, amt, m.loadConst(64)))
	sel := func(dst, ifWide, otherwise regalloc.VReg) {
		m.insert(m.allocateInstr().asSelectSeq(dst, ifWide, otherwise).
			withCompare(condNe, wide, regalloc.VRegInvalid, 0, false))
	}
	if op == ssa.OpcodeIshl {
		sel(hi, near, combined)
		sel(lo, fill, near)
	} else {
		sel(lo, near, combined)
		sel(hi, fill, near)
	}
}

func (m *machine) lowerShift128(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	xlo, xhi := m.c.VRegsOf(x)
	lo, hi := m.c.VRegsOf(instr.Return())
	m.shift128(instr.Opcode(), xlo, xhi, m.amountReg(amt), lo, hi)
}

// lowerRotate128 ors the shifts of x by n and by -n, both modulo 128.
func (m *machine) lowerRotate128(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	first, second := ssa.OpcodeIshl, ssa.OpcodeUshr
	if instr.Opcode() == ssa.OpcodeRotr {
		first, second = second, first
	}
	n := m.amountReg(amt)
	negN := m.newReg()
	m.insert(m.allocateInstr().asUnary(rreOpLcgr, negN, n))

	xlo, xhi := m.c.VRegsOf(x)
	lo1, hi1, lo2, hi2 := m.newReg(), m.newReg(), m.newReg(), m.newReg()
	m.shift128(first, xlo, xhi, n, lo1, hi1)
	m.shift128(second, xlo, xhi, negN, lo2, hi2)
	lo, hi := m.c.VRegsOf(instr.Return())
	m.insert(m.allocateInstr().asALU(aluOpOr, lo, lo1, lo2))
	m.insert(m.allocateInstr().asALU(aluOpOr, hi, hi1, hi2))
}

func countOpOf(op ssa.Opcode) countOp {
	switch op {
	case ssa.OpcodeClz:
		return countOpClz
	case ssa.OpcodeCtz:
		return countOpCtz
	default:
		return countOpPopcnt
	}
}

// lowerBitCount counts on 64 bits. Narrow clz counts the zero-extended value minus the extra bits; narrow
// ctz sets the bit right above the width so that zero counts to it.
func (m *machine) lowerBitCount(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	bits := typ.Bits()
	op := countOpOf(instr.Opcode())
	dst, src := m.c.VRegOf(instr.Return()), m.c.VRegOf(x)
	switch {
	case bits == 64:
		m.insert(m.allocateInstr().asBitCountSeq(op, dst, src, 64))
	case op == countOpClz:
		n := m.newReg()
		m.insert(m.allocateInstr().asBitCountSeq(op, n, m.extendTo(src, typ, false), bits))
		m.insert(m.allocateInstr().asAddImm(dst, n, -int64(64-bits)))
	case op == countOpCtz:
		t := m.newReg()
		m.insert(m.allocateInstr().asALU(aluOpOr, t, src, m.loadConst(1<<bits)))
		m.insert(m.allocateInstr().asBitCountSeq(op, dst, t, bits))
	default:
		m.insert(m.allocateInstr().asBitCountSeq(op, dst, m.extendTo(src, typ, false), bits))
	}
}

func (m *machine) count64(op countOp, src regalloc.VReg) regalloc.VReg {
	dst := m.newReg()
	m.insert(m.allocateInstr().asBitCountSeq(op, dst, src, 64))
	return dst
}

func (m *machine) lowerPopcnt128(instr *ssa.Instruction) {
	xlo, xhi := m.c.VRegsOf(instr.Arg())
	lo, hi := m.c.VRegsOf(instr.Return())
	a, b := m.count64(countOpPopcnt, xlo), m.count64(countOpPopcnt, xhi)
	m.insert(m.allocateInstr().asALU(aluOpAdd, lo, a, b))
	m.insert(m.allocateInstr().asLoadConst(hi, 0))
}

// lowerClzCtz128 counts in the significant half, and adds the count of the other one when the first is 64.
func (m *machine) lowerClzCtz128(instr *ssa.Instruction) {
	xlo, xhi := m.c.VRegsOf(instr.Arg())
	lo, hi := m.c.VRegsOf(instr.Return())
	op := countOpOf(instr.Opcode())
	first, second := xhi, xlo
	if op == countOpCtz {
		first, second = xlo, xhi
	}
	c1, c2 := m.count64(op, first), m.count64(op, second)
	sum := m.newReg()
	m.insert(m.allocateInstr().asALU(aluOpAdd, sum, c1, c2))
	m.insert(m.allocateInstr().asSelectSeq(lo, sum, c1).withCompare(condEq, c1, regalloc.VRegInvalid, 64, false))
	m.insert(m.allocateInstr().asLoadConst(hi, 0))
}

// cmpArgs are the operands and the condition of a compare fused into the instruction testing it.
type cmpArgs struct {
	c      cond
	rn, rm regalloc.VReg
	imm    int64
	_32    bool
	fcmp   bool
}

func (a cmpArgs) on(i *instruction) *instruction {
	i.withCompare(a.c, a.rn, a.rm, a.imm, a._32)
	i.fcmp = a.fcmp
	return i
}

// condOf returns the cond testing c.
func condOf(c ssa.IntegerCmpCond) cond {
	switch c {
	case ssa.IntegerCmpCondEqual:
		return condEq
	case ssa.IntegerCmpCondNotEqual:
		return condNe
	case ssa.IntegerCmpCondSignedLessThan:
		return condLt
	case ssa.IntegerCmpCondSignedGreaterThanOrEqual:
		return condGe
	case ssa.IntegerCmpCondSignedGreaterThan:
		return condGt
	case ssa.IntegerCmpCondSignedLessThanOrEqual:
		return condLe
	case ssa.IntegerCmpCondUnsignedLessThan:
		return condLtU
	case ssa.IntegerCmpCondUnsignedGreaterThanOrEqual:
		return condGeU
	case ssa.IntegerCmpCondUnsignedGreaterThan:
		return condGtU
	case ssa.IntegerCmpCondUnsignedLessThanOrEqual:
		return condLeU
	default:
		panic("BUG: invalid integer condition")
	}
}

// cmpOperands returns the compare of x and y with c. A constant y fitting the immediate of the compare
// folds into it.
func (m *machine) cmpOperands(x, y ssa.Value, c ssa.IntegerCmpCond) cmpArgs {
	typ := x.Type()
	bits := typ.Bits()
	bc := condOf(c)
	signed := c.Signed()
	_32 := bits == 32
	xr := m.c.VRegOf(x)
	if bits < 32 {
		xr = m.extendTo(xr, typ, signed)
	}
	if k, ok := m.constOf(y); ok {
		if bits < 32 && !signed {
			k = int64(uint64(k) & (1<<bits - 1))
		}
		if _32 || (signed && fitsImm32(k)) || (!signed && k >= 0 && k < 1<<32) {
			m.useConst(y)
			return cmpArgs{c: bc, rn: xr, rm: regalloc.VRegInvalid, imm: k, _32: _32}
		}
	}
	yr := m.c.VRegOf(y)
	if bits < 32 {
		yr = m.extendTo(yr, typ, signed)
	}
	return cmpArgs{c: bc, rn: xr, rm: yr, _32: _32}
}

// lowerMinMax selects x when it compares below y for the minimum, above for the maximum.
func (m *machine) lowerMinMax(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	op := instr.Opcode()
	var c cond
	switch op {
	case ssa.OpcodeSmin:
		c = condLt
	case ssa.OpcodeSmax:
		c = condGt
	case ssa.OpcodeUmin:
		c = condLtU
	default:
		c = condGtU
	}
	typ := x.Type()
	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)
	if typ.Bits() < 32 {
		xr, yr = m.extendTo(xr, typ, !c.unsigned()), m.extendTo(yr, typ, !c.unsigned())
	}
	m.insert(m.allocateInstr().asSelectSeq(m.c.VRegOf(instr.Return()), xr, yr).
		withCompare(c, xr, yr, 0, typ.Bits() == 32))
}

func (m *machine) lowerIcmp(instr *ssa.Instruction) {
	x, y, c := instr.IcmpData()
	dst := m.c.VRegOf(instr.Return())
	if x.Type() == ssa.TypeI128 {
		m.icmp128(dst, x, y, c)
		return
	}
	m.insert(m.cmpOperands(x, y, c).on(m.allocateInstr().asSetCC(dst)))
}

// strictOf maps the orderings to the strict one of the same direction, unsignedOf to the unsigned one.
var (
	strictOf = map[cond]cond{
		condLt: condLt, condLe: condLt, condGt: condGt, condGe: condGt,
		condLtU: condLtU, condLeU: condLtU, condGtU: condGtU, condGeU: condGtU,
	}
	unsignedOf = map[cond]cond{
		condLt: condLtU, condLe: condLeU, condGt: condGtU, condGe: condGeU,
		condLtU: condLtU, condLeU: condLeU, condGtU: condGtU, condGeU: condGeU,
	}
)

// icmp128 compares the halves: equalities or the differences together, orderings hold if the high halves
// are strictly ordered, or equal with the low halves ordered unsigned.
func (m *machine) icmp128(dst regalloc.VReg, x, y ssa.Value, c ssa.IntegerCmpCond) {
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	bc := condOf(c)
	if bc == condEq || bc == condNe {
		a, b, t := m.newReg(), m.newReg(), m.newReg()
		m.insert(m.allocateInstr().asALU(aluOpXor, a, xlo, ylo))
		m.insert(m.allocateInstr().asALU(aluOpXor, b, xhi, yhi))
		m.insert(m.allocateInstr().asALU(aluOpOr, t, a, b))
		m.insert(m.allocateInstr().asSetCC(dst).withCompare(bc, t, regalloc.VRegInvalid, 0, false))
		return
	}

	hiStrict, hiEq, loOrd, both := m.newReg(), m.newReg(), m.newReg(), m.newReg()
	m.insert(m.allocateInstr().asSetCC(hiStrict).withCompare(strictOf[bc], xhi, yhi, 0, false))
	m.insert(m.allocateInstr().asSetCC(hiEq).withCompare(condEq, xhi, yhi, 0, false))
	m.insert(m.allocateInstr().asSetCC(loOrd).withCompare(unsignedOf[bc], xlo, ylo, 0, false))
	m.insert(m.allocateInstr().asALU(aluOpAnd, both, hiEq, loOrd))
	m.insert(m.allocateInstr().asALU(aluOpOr, dst, hiStrict, both))
}

// truthy returns the compare testing that the condition value v is nonzero. Comparison results are 0 or
// 1 already; i32 uses the 32-bit compare and narrower values are zero-extended.
func (m *machine) truthy(v ssa.Value) cmpArgs {
	typ := v.Type()
	ret := cmpArgs{c: condNe, rm: regalloc.VRegInvalid}
	switch {
	case typ == ssa.TypeI128:
		lo, hi := m.c.VRegsOf(v)
		t := m.newReg()
		m.insert(m.allocateInstr().asALU(aluOpOr, t, lo, hi))
		ret.rn = t
	case typ.Bits() == 32:
		ret.rn, ret._32 = m.c.VRegOf(v), true
	default:
		ret.rn = m.c.VRegOf(v)
		if def := m.c.ValueDefinition(v); !def.IsFromInstr() || !isCompare(def.Instr.Opcode()) {
			ret.rn = m.extendTo(ret.rn, typ, false)
		}
	}
	return ret
}

func isCompare(op ssa.Opcode) bool { return op == ssa.OpcodeIcmp || op == ssa.OpcodeFcmp }

// condOperands returns the compare testing that v is nonzero. A scalar icmp or an fcmp used only here
// fuses into it.
func (m *machine) condOperands(v ssa.Value) cmpArgs {
	def := m.c.ValueDefinition(v)
	if m.c.MatchInstr(def, ssa.OpcodeIcmp) {
		if x, y, c := def.Instr.IcmpData(); x.Type() != ssa.TypeI128 {
			def.Instr.MarkLowered()
			return m.cmpOperands(x, y, c)
		}
	}
	if m.c.MatchInstr(def, ssa.OpcodeFcmp) {
		x, y, c := def.Instr.FcmpData()
		def.Instr.MarkLowered()
		return m.fcmpOperands(x, y, c)
	}
	return m.truthy(v)
}

func (m *machine) lowerSelect(instr *ssa.Instruction) {
	c, x, y := instr.SelectData()
	cmp := m.condOperands(c)
	if instr.Type() == ssa.TypeI128 {
		xlo, xhi := m.c.VRegsOf(x)
		ylo, yhi := m.c.VRegsOf(y)
		lo, hi := m.c.VRegsOf(instr.Return())
		m.insert(cmp.on(m.allocateInstr().asSelectSeq(lo, xlo, ylo)))
		m.insert(cmp.on(m.allocateInstr().asSelectSeq(hi, xhi, yhi)))
		return
	}
	m.insert(cmp.on(m.allocateInstr().asSelectSeq(m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y))))
}

// extendInto extends the low from bits of src into dst, a copy for 64 bits.
func (m *machine) extendInto(dst, src regalloc.VReg, from byte, signed bool) {
	if from >= 64 {
		m.insert(m.allocateInstr().asMov(dst, src))
		return
	}
	m.insert(m.allocateInstr().asExtend(dst, src, from, signed))
}

func (m *machine) lowerExtend(instr *ssa.Instruction) {
	from, to, signed := instr.ExtendData()
	src := m.c.VRegOf(instr.Arg())
	if to == 128 {
		lo, hi := m.c.VRegsOf(instr.Return())
		m.extendInto(lo, src, from, signed)
		if signed {
			m.insert(m.allocateInstr().asShift(shiftOpSrag, hi, lo, regalloc.VRegInvalid, 63))
		} else {
			m.insert(m.allocateInstr().asLoadConst(hi, 0))
		}
		return
	}
	m.extendInto(m.c.VRegOf(instr.Return()), src, from, signed)
}

func (m *machine) lowerIreduce(instr *ssa.Instruction) {
	x := instr.Arg()
	dst := m.c.VRegOf(instr.Return())
	if x.Type() == ssa.TypeI128 {
		lo, _ := m.c.VRegsOf(x)
		m.insert(m.allocateInstr().asMov(dst, lo))
		return
	}
	m.insert(m.allocateInstr().asMov(dst, m.c.VRegOf(x)))
}

// lowerBitcast moves between the register files with ldgr and lgdr. f32 is in the high half of a float
// register.
func (m *machine) lowerBitcast(instr *ssa.Instruction) {
	x := instr.Arg()
	from, to := x.Type(), instr.Type()
	if from == ssa.TypeI128 || from.IsVector() {
		backend.Unsupported(m.arch(), instr, "bitcast from "+from.String())
	}
	src, dst := m.c.VRegOf(x), m.c.VRegOf(instr.Return())
	fromInt, toInt := from.IsInt() || from.IsRef(), to.IsInt() || to.IsRef()
	switch {
	case fromInt && toInt:
		m.insert(m.allocateInstr().asMov(dst, src))
	case fromInt:
		m.insert(m.allocateInstr().asMovToFPU(dst, src, to.Bits()))
	case toInt:
		m.insert(m.allocateInstr().asMovFromFPU(dst, src, from.Bits()))
	default:
		m.insert(m.allocateInstr().asFpuMov(dst, src))
	}
}

func (m *machine) lowerIconcat(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	lo, hi := m.c.VRegsOf(instr.Return())
	m.insert(m.allocateInstr().asMov(lo, m.c.VRegOf(x)))
	m.insert(m.allocateInstr().asMov(hi, m.c.VRegOf(y)))
}

func (m *machine) lowerIsplit(instr *ssa.Instruction) {
	xlo, xhi := m.c.VRegsOf(instr.Arg())
	first, rest := instr.Returns()
	m.insert(m.allocateInstr().asMov(m.c.VRegOf(first), xlo))
	m.insert(m.allocateInstr().asMov(m.c.VRegOf(rest[0]), xhi))
}

func (m *machine) lowerTrap(instr *ssa.Instruction) {
	m.insert(m.allocateInstr().asUDF(instr.TrapCode()))
}

func (m *machine) lowerTrapIf(instr *ssa.Instruction) {
	cmp := m.condOperands(instr.Arg())
	if instr.Opcode() == ssa.OpcodeTrapz {
		cmp.c = cmp.c.invert()
	}
	m.insert(cmp.on(m.allocateInstr().asTrapIf(instr.TrapCode())))
}

// LowerSingleBranch implements backend.Machine.
func (m *machine) LowerSingleBranch(br *ssa.Instruction) {
	switch br.Opcode() {
	case ssa.OpcodeJump:
		_, _, target := br.BranchData()
		if br.IsFallthroughJump() {
			return
		}
		m.insert(m.allocateInstr().asBr(backend.Label(target.ID())))
	case ssa.OpcodeBrTable:
		index, defaultTarget, targets := br.BrTableData()
		idx := m.extendTo(m.c.VRegOf(index), index.Type(), false)
		labels := make([]backend.Label, len(targets))
		for j, t := range targets {
			labels[j] = backend.Label(t.ID())
		}
		m.insert(m.allocateInstr().asBrTableSequence(idx, labels, backend.Label(defaultTarget.ID())))
	default:
		panic("BUG: unexpected branch " + br.Opcode().String())
	}
}

// LowerConditionalBranch implements backend.Machine.
func (m *machine) LowerConditionalBranch(b *ssa.Instruction) {
	v, _, target := b.BranchData()
	cmp := m.condOperands(v)
	if b.Opcode() == ssa.OpcodeBrz {
		cmp.c = cmp.c.invert()
	}
	m.insert(cmp.on(m.allocateInstr().asCondBr(backend.Label(target.ID()))))
}
