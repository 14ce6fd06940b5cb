package riscv64

import (
	"math/bits"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

var (
	typesF32     = backend.Types(ssa.TypeF32)
	typesF64     = backend.Types(ssa.TypeF64)
	typesI64     = backend.Types(ssa.TypeI64)
	typesI128    = backend.TypesI128
	typesScalars = backend.TypesIntOrRef | backend.TypesI128 | backend.TypesFloat
)

func alu(op, op32 aluOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) { m.lowerAlu(op, op32, instr) }
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

// Guards of the Zba and Zbs rules.
var (
	shiftedAddend = &backend.Guard[*machine]{Name: "shifted_addend", Fn: func(m *machine, instr *ssa.Instruction) bool {
		_, _, _, ok := m.shiftedOperand(instr)
		return ok
	}}
	singleBit = &backend.Guard[*machine]{Name: "single_bit", Fn: func(m *machine, instr *ssa.Instruction) bool {
		_, _, _, ok := m.singleBitOperand(instr, false)
		return ok
	}}
	singleClearBit = &backend.Guard[*machine]{Name: "single_clear_bit", Fn: func(m *machine, instr *ssa.Instruction) bool {
		_, _, _, ok := m.singleBitOperand(instr, true)
		return ok
	}}
)

// rules are the lowering rules of riscv64. The memory, float and vector rules are in lower_mem.go,
// lower_float.go and lower_vec.go.
var rules = backend.NewRuleTable(target.ArchRISCV64, concatRules(intRules, memRules, floatRules, vecRules))

func concatRules(sets ...[]backend.Rule[*machine]) (out []backend.Rule[*machine]) {
	for _, s := range sets {
		out = append(out, s...)
	}
	return
}

var intRules = []backend.Rule[*machine]{
	{Name: "iconst", Opcode: ssa.OpcodeIconst, Types: backend.TypesIntOrRef, Lower: (*machine).lowerIconst},
	{Name: "f32const", Opcode: ssa.OpcodeF32const, Types: typesF32, Lower: (*machine).lowerFconst},
	{Name: "f64const", Opcode: ssa.OpcodeF64const, Types: typesF64, Lower: (*machine).lowerFconst},

	{Name: "iadd", Opcode: ssa.OpcodeIadd, Types: backend.TypesIntOrRef, Lower: alu(aluOpAdd, aluOpAddw)},
	{Name: "iadd_shifted", Opcode: ssa.OpcodeIadd, Types: typesI64, Requires: target.ExtZba, Guard: shiftedAddend, Lower: (*machine).lowerShiftedAdd},
	{Name: "iadd_i128", Opcode: ssa.OpcodeIadd, Types: typesI128, Lower: (*machine).lowerAdd128},
	{Name: "isub", Opcode: ssa.OpcodeIsub, Types: backend.TypesIntOrRef, Lower: alu(aluOpSub, aluOpSubw)},
	{Name: "isub_i128", Opcode: ssa.OpcodeIsub, Types: typesI128, Lower: (*machine).lowerSub128},
	{Name: "imul", Opcode: ssa.OpcodeImul, Types: backend.TypesIntScalar, Lower: alu(aluOpMul, aluOpMulw)},
	{Name: "imul_i128", Opcode: ssa.OpcodeImul, Types: typesI128, Lower: (*machine).lowerImul128},
	{Name: "band", Opcode: ssa.OpcodeBand, Types: backend.TypesIntOrRef, Lower: alu(aluOpAnd, aluOpAnd)},
	{Name: "band_bclr", Opcode: ssa.OpcodeBand, Types: typesI64, Requires: target.ExtZbs, Guard: singleClearBit, Lower: (*machine).lowerSingleBit},
	{Name: "band_i128", Opcode: ssa.OpcodeBand, Types: typesI128, Lower: bitwise128(aluOpAnd)},
	{Name: "band_float", Opcode: ssa.OpcodeBand, Types: backend.TypesFloat, Lower: (*machine).lowerFloatBitwise},
	{Name: "bor", Opcode: ssa.OpcodeBor, Types: backend.TypesIntOrRef, Lower: alu(aluOpOr, aluOpOr)},
	{Name: "bor_bset", Opcode: ssa.OpcodeBor, Types: typesI64, Requires: target.ExtZbs, Guard: singleBit, Lower: (*machine).lowerSingleBit},
	{Name: "bor_i128", Opcode: ssa.OpcodeBor, Types: typesI128, Lower: bitwise128(aluOpOr)},
	{Name: "bor_float", Opcode: ssa.OpcodeBor, Types: backend.TypesFloat, Lower: (*machine).lowerFloatBitwise},
	{Name: "bxor", Opcode: ssa.OpcodeBxor, Types: backend.TypesIntOrRef, Lower: alu(aluOpXor, aluOpXor)},
	{Name: "bxor_binv", Opcode: ssa.OpcodeBxor, Types: typesI64, Requires: target.ExtZbs, Guard: singleBit, Lower: (*machine).lowerSingleBit},
	{Name: "bxor_i128", Opcode: ssa.OpcodeBxor, Types: typesI128, Lower: bitwise128(aluOpXor)},
	{Name: "bxor_float", Opcode: ssa.OpcodeBxor, Types: backend.TypesFloat, Lower: (*machine).lowerFloatBitwise},
	{Name: "bnot", Opcode: ssa.OpcodeBnot, Types: backend.TypesIntScalar | typesI128, Lower: (*machine).lowerBnot},
	{Name: "bnot_float", Opcode: ssa.OpcodeBnot, Types: backend.TypesFloat, Lower: (*machine).lowerFloatBitwise},
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
	{Name: "rotl_zbb", Opcode: ssa.OpcodeRotl, Types: backend.TypesInt32And64, Requires: target.ExtZbb, Lower: (*machine).lowerRotateZbb},
	{Name: "rotr_zbb", Opcode: ssa.OpcodeRotr, Types: backend.TypesInt32And64, Requires: target.ExtZbb, Lower: (*machine).lowerRotateZbb},
	{Name: "ishl_i128", Opcode: ssa.OpcodeIshl, Types: typesI128, Lower: (*machine).lowerShift128},
	{Name: "ushr_i128", Opcode: ssa.OpcodeUshr, Types: typesI128, Lower: (*machine).lowerShift128},
	{Name: "sshr_i128", Opcode: ssa.OpcodeSshr, Types: typesI128, Lower: (*machine).lowerShift128},
	{Name: "rotl_i128", Opcode: ssa.OpcodeRotl, Types: typesI128, Lower: (*machine).lowerRotate128},
	{Name: "rotr_i128", Opcode: ssa.OpcodeRotr, Types: typesI128, Lower: (*machine).lowerRotate128},

	{Name: "clz", Opcode: ssa.OpcodeClz, Types: backend.TypesIntScalar, Lower: (*machine).lowerBitCount},
	{Name: "clz_zbb", Opcode: ssa.OpcodeClz, Types: backend.TypesIntScalar, Requires: target.ExtZbb, Lower: (*machine).lowerBitCountZbb},
	{Name: "clz_i128", Opcode: ssa.OpcodeClz, Types: typesI128, Lower: (*machine).lowerClzCtz128},
	{Name: "ctz", Opcode: ssa.OpcodeCtz, Types: backend.TypesIntScalar, Lower: (*machine).lowerBitCount},
	{Name: "ctz_zbb", Opcode: ssa.OpcodeCtz, Types: backend.TypesIntScalar, Requires: target.ExtZbb, Lower: (*machine).lowerBitCountZbb},
	{Name: "ctz_i128", Opcode: ssa.OpcodeCtz, Types: typesI128, Lower: (*machine).lowerClzCtz128},
	{Name: "popcnt", Opcode: ssa.OpcodePopcnt, Types: backend.TypesIntScalar, Lower: (*machine).lowerBitCount},
	{Name: "popcnt_zbb", Opcode: ssa.OpcodePopcnt, Types: backend.TypesIntScalar, Requires: target.ExtZbb, Lower: (*machine).lowerBitCountZbb},
	{Name: "popcnt_i128", Opcode: ssa.OpcodePopcnt, Types: typesI128, Lower: (*machine).lowerPopcnt128},

	{Name: "smin", Opcode: ssa.OpcodeSmin, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "smax", Opcode: ssa.OpcodeSmax, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "umin", Opcode: ssa.OpcodeUmin, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "umax", Opcode: ssa.OpcodeUmax, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "smin_zbb", Opcode: ssa.OpcodeSmin, Types: backend.TypesIntScalar, Requires: target.ExtZbb, Lower: (*machine).lowerMinMaxZbb},
	{Name: "smax_zbb", Opcode: ssa.OpcodeSmax, Types: backend.TypesIntScalar, Requires: target.ExtZbb, Lower: (*machine).lowerMinMaxZbb},
	{Name: "umin_zbb", Opcode: ssa.OpcodeUmin, Types: backend.TypesIntScalar, Requires: target.ExtZbb, Lower: (*machine).lowerMinMaxZbb},
	{Name: "umax_zbb", Opcode: ssa.OpcodeUmax, Types: backend.TypesIntScalar, Requires: target.ExtZbb, Lower: (*machine).lowerMinMaxZbb},
	{Name: "icmp", Opcode: ssa.OpcodeIcmp, Types: backend.TypesIntOrRef | typesI128, Lower: (*machine).lowerIcmp},
	{Name: "select", Opcode: ssa.OpcodeSelect, Types: typesScalars, Lower: (*machine).lowerSelect},
	{Name: "select_spectre_guard", Opcode: ssa.OpcodeSelectSpectreGuard, Types: backend.TypesIntOrRef | typesI128, Lower: (*machine).lowerSelectSpectreGuard},

	{Name: "uextend", Opcode: ssa.OpcodeUextend, Types: backend.TypesIntScalar | typesI128, Lower: (*machine).lowerExtend},
	{Name: "sextend", Opcode: ssa.OpcodeSextend, Types: backend.TypesIntScalar | typesI128, Lower: (*machine).lowerExtend},
	{Name: "ireduce", Opcode: ssa.OpcodeIreduce, Types: backend.TypesIntScalar, Lower: (*machine).lowerIreduce},
	{Name: "bitcast", Opcode: ssa.OpcodeBitcast, Types: backend.TypesIntOrRef | backend.TypesFloat, Lower: (*machine).lowerBitcast},
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

func (m *machine) lowerIconst(instr *ssa.Instruction) {
	m.InsertLoadConstantBlockArg(instr, m.c.VRegOf(instr.Return()))
}

func (m *machine) lowerFconst(instr *ssa.Instruction) {
	m.InsertLoadConstantBlockArg(instr, m.c.VRegOf(instr.Return()))
}

// lowerAlu lowers the integer arithmetic and logic. The upper bits of narrow integers are undefined, so
// the 64-bit forms serve them too; i32 uses the w forms of add, sub and mul. Constants fold into the 12-bit
// immediates.
func (m *machine) lowerAlu(op, op32 aluOp, instr *ssa.Instruction) {
	x, y := instr.Arg2()
	if _, ok := m.constOf(x); ok && op != aluOpSub {
		x, y = y, x
	}
	if x.Type().Bits() == 32 {
		op = op32
	}
	dst := m.c.VRegOf(instr.Return())
	xr := m.c.VRegOf(x)
	if c, ok := m.constOf(y); ok {
		switch op {
		case aluOpAdd, aluOpAddw, aluOpAnd, aluOpOr, aluOpXor:
			if fitsImm12(c) {
				m.useConst(y)
				m.insert(m.allocateInstr().asALUImm(op, dst, xr, c))
				return
			}
		case aluOpSub, aluOpSubw:
			if fitsImm12(-c) {
				add := aluOpAdd
				if op == aluOpSubw {
					add = aluOpAddw
				}
				m.useConst(y)
				m.insert(m.allocateInstr().asALUImm(add, dst, xr, -c))
				return
			}
		}
	}
	m.insert(m.allocateInstr().asALU(op, dst, xr, m.c.VRegOf(y)))
}

// shiftedOperand matches an iadd with an operand shifted left by 1, 2 or 3, the shNadd of Zba.
func (m *machine) shiftedOperand(instr *ssa.Instruction) (shl *ssa.Instruction, other ssa.Value, n int64, ok bool) {
	x, y := instr.Arg2()
	for _, pair := range [2][2]ssa.Value{{y, x}, {x, y}} {
		def := m.c.ValueDefinition(pair[0])
		if !m.c.MatchInstr(def, ssa.OpcodeIshl) {
			continue
		}
		_, amt := def.Instr.Arg2()
		if c, isConst := m.constOf(amt); isConst && c >= 1 && c <= 3 {
			return def.Instr, pair[1], c, true
		}
	}
	return
}

func (m *machine) lowerShiftedAdd(instr *ssa.Instruction) {
	shl, other, n, _ := m.shiftedOperand(instr)
	shifted, amt := shl.Arg2()
	shl.MarkLowered()
	m.useConst(amt)
	op := [...]aluOp{1: aluOpSh1add, 2: aluOpSh2add, 3: aluOpSh3add}[n]
	m.insert(m.allocateInstr().asALU(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(shifted), m.c.VRegOf(other)))
}

// singleBitOperand matches an i64 bitwise op with a constant of one set bit, or one clear bit if clear,
// which does not fit an immediate. It returns the other operand, the constant and the index of the bit.
func (m *machine) singleBitOperand(instr *ssa.Instruction, clear bool) (x, k ssa.Value, bit int, ok bool) {
	x, k = instr.Arg2()
	if _, isConst := m.constOf(x); isConst {
		x, k = k, x
	}
	c, isConst := m.constOf(k)
	if !isConst || fitsImm12(c) {
		return
	}
	v := uint64(c)
	if clear {
		v = ^v
	}
	if bits.OnesCount64(v) != 1 {
		return
	}
	return x, k, bits.TrailingZeros64(v), true
}

// lowerSingleBit sets, clears or flips one bit with bset, bclr or binv.
func (m *machine) lowerSingleBit(instr *ssa.Instruction) {
	var op aluOp
	switch instr.Opcode() {
	case ssa.OpcodeBor:
		op = aluOpBset
	case ssa.OpcodeBxor:
		op = aluOpBinv
	default:
		op = aluOpBclr
	}
	x, k, bit, _ := m.singleBitOperand(instr, op == aluOpBclr)
	m.useConst(k)
	m.insert(m.allocateInstr().asALU(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.loadConst(int64(bit))))
}

// lowerAdd128 adds the low halves, and the carry, their sum being below an operand, into the high one.
func (m *machine) lowerAdd128(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	lo, hi := m.c.VRegsOf(instr.Return())
	sum, carry, t := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(aluOpAdd, sum, xlo, ylo))
	m.insert(m.allocateInstr().asALU(aluOpSltu, carry, sum, xlo))
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
	borrow, t := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(aluOpSltu, borrow, xlo, ylo))
	m.insert(m.allocateInstr().asALU(aluOpSub, t, xhi, yhi))
	m.insert(m.allocateInstr().asALU(aluOpSub, hi, t, borrow))
	m.insert(m.allocateInstr().asALU(aluOpSub, lo, xlo, ylo))
}

// lowerImul128 computes the low 128 bits of the product:
//
//	hi = xlo*yhi + xhi*ylo + mulhu(xlo, ylo)
//	lo = xlo*ylo
func (m *machine) lowerImul128(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	lo, hi := m.c.VRegsOf(instr.Return())

	h, a, b, s := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64),
		m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(aluOpMulhu, h, xlo, ylo))
	m.insert(m.allocateInstr().asALU(aluOpMul, a, xlo, yhi))
	m.insert(m.allocateInstr().asALU(aluOpMul, b, xhi, ylo))
	m.insert(m.allocateInstr().asALU(aluOpAdd, s, a, b))
	m.insert(m.allocateInstr().asALU(aluOpAdd, hi, s, h))
	m.insert(m.allocateInstr().asALU(aluOpMul, lo, xlo, ylo))
}

// lowerBnot is xori with -1.
func (m *machine) lowerBnot(instr *ssa.Instruction) {
	x := instr.Arg()
	if x.Type() == ssa.TypeI128 {
		xlo, xhi := m.c.VRegsOf(x)
		lo, hi := m.c.VRegsOf(instr.Return())
		m.insert(m.allocateInstr().asALUImm(aluOpXor, lo, xlo, -1))
		m.insert(m.allocateInstr().asALUImm(aluOpXor, hi, xhi, -1))
		return
	}
	m.insert(m.allocateInstr().asALUImm(aluOpXor, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), -1))
}

// lowerFloatBitwise runs the bitwise ops of floats on their bits in integer registers.
func (m *machine) lowerFloatBitwise(instr *ssa.Instruction) {
	typ := instr.Type()
	toInt := func(v ssa.Value) regalloc.VReg {
		r := m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asMovFromFPU(r, m.c.VRegOf(v), typ.Bits()))
		return r
	}
	res := m.c.AllocateVReg(ssa.TypeI64)
	switch op := instr.Opcode(); op {
	case ssa.OpcodeBnot:
		m.insert(m.allocateInstr().asALUImm(aluOpXor, res, toInt(instr.Arg()), -1))
	default:
		x, y := instr.Arg2()
		aop := map[ssa.Opcode]aluOp{ssa.OpcodeBand: aluOpAnd, ssa.OpcodeBor: aluOpOr, ssa.OpcodeBxor: aluOpXor}[op]
		m.insert(m.allocateInstr().asALU(aop, res, toInt(x), toInt(y)))
	}
	m.insert(m.allocateInstr().asMovToFPU(m.c.VRegOf(instr.Return()), res, typ.Bits()))
}

func (m *machine) lowerIneg(instr *ssa.Instruction) {
	x := instr.Arg()
	if x.Type() == ssa.TypeI128 {
		xlo, xhi := m.c.VRegsOf(x)
		lo, hi := m.c.VRegsOf(instr.Return())
		m.sub128(zeroVReg, zeroVReg, xlo, xhi, lo, hi)
		return
	}
	op := aluOpSub
	if x.Type().Bits() == 32 {
		op = aluOpSubw
	}
	m.insert(m.allocateInstr().asALU(op, m.c.VRegOf(instr.Return()), zeroVReg, m.c.VRegOf(x)))
}

// lowerIabs xors x with its sign, all ones or zero, and subtracts the sign.
func (m *machine) lowerIabs(instr *ssa.Instruction) {
	x := instr.Arg()
	src := m.extendTo(m.c.VRegOf(x), x.Type(), true)
	sign, t := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALUImm(aluOpSra, sign, src, 63))
	m.insert(m.allocateInstr().asALU(aluOpXor, t, src, sign))
	m.insert(m.allocateInstr().asALU(aluOpSub, m.c.VRegOf(instr.Return()), t, sign))
}

func (m *machine) lowerMulhi(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	signed := instr.Opcode() == ssa.OpcodeSmulhi
	typ := x.Type()
	dst := m.c.VRegOf(instr.Return())
	if typ.Bits() == 64 {
		op := aluOpMulhu
		if signed {
			op = aluOpMulh
		}
		m.insert(m.allocateInstr().asALU(op, dst, m.c.VRegOf(x), m.c.VRegOf(y)))
		return
	}

	// The full product of the widened operands fits in 64 bits.
	a := m.extendTo(m.c.VRegOf(x), typ, signed)
	b := m.extendTo(m.c.VRegOf(y), typ, signed)
	p := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(aluOpMul, p, a, b))
	op := aluOpSrl
	if signed {
		op = aluOpSra
	}
	m.insert(m.allocateInstr().asALUImm(op, dst, p, int64(typ.Bits())))
}

// lowerDivRem checks the divisor, and the overflow of the signed division, since the hardware returns
// all ones and the dividend instead of trapping. Narrow operands are extended to 64 bits first, so the
// overflow is x being the minimum of the type.
func (m *machine) lowerDivRem(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	op := instr.Opcode()
	signed := op == ssa.OpcodeSdiv || op == ssa.OpcodeSrem
	typ := x.Type()

	xr := m.extendTo(m.c.VRegOf(x), typ, signed)
	yr := m.extendTo(m.c.VRegOf(y), typ, signed)
	m.insert(m.allocateInstr().asTrapIf(condEq, yr, zeroVReg, codegenapi.TrapCodeIntegerDivisionByZero))

	if op == ssa.OpcodeSdiv {
		// (x ^ min) | (y + 1) is zero only for x == min and y == -1.
		a, b, t := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asALU(aluOpXor, a, xr, m.loadConst(int64(-1)<<(typ.Bits()-1))))
		m.insert(m.allocateInstr().asALUImm(aluOpAdd, b, yr, 1))
		m.insert(m.allocateInstr().asALU(aluOpOr, t, a, b))
		m.insert(m.allocateInstr().asTrapIf(condEq, t, zeroVReg, codegenapi.TrapCodeIntegerOverflow))
	}

	var aop aluOp
	switch op {
	case ssa.OpcodeUdiv:
		aop = aluOpDivu
	case ssa.OpcodeSdiv:
		aop = aluOpDiv
	case ssa.OpcodeUrem:
		aop = aluOpRemu
	default:
		aop = aluOpRem
	}
	m.insert(m.allocateInstr().asALU(aop, m.c.VRegOf(instr.Return()), xr, yr))
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
		m.insert(m.allocateInstr().asTrapIf(condLtu, dst, xr, instr.TrapCode()))
		return
	}
	carry := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALUImm(aluOpSrl, carry, dst, 32))
	m.insert(m.allocateInstr().asTrapIf(condNe, carry, zeroVReg, instr.TrapCode()))
}

// amountReg returns the register of a shift amount, the low half for i128 amounts.
func (m *machine) amountReg(amt ssa.Value) regalloc.VReg {
	if amt.Type() == ssa.TypeI128 {
		lo, _ := m.c.VRegsOf(amt)
		return lo
	}
	return m.c.VRegOf(amt)
}

// maskedAmount returns the amount modulo bits, for the narrow types the hardware does not mask for.
func (m *machine) maskedAmount(amt ssa.Value, bits byte) regalloc.VReg {
	r := m.amountReg(amt)
	if bits >= 32 {
		return r
	}
	tmp := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALUImm(aluOpAnd, tmp, r, int64(bits-1)))
	return tmp
}

// lowerShift uses the w forms for i32, which only read the low 32 bits and mask the amount modulo 32.
// Narrow right shifts extend their source first.
func (m *machine) lowerShift(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	typ := x.Type()
	bits := typ.Bits()
	src := m.c.VRegOf(x)
	var op aluOp
	switch instr.Opcode() {
	case ssa.OpcodeIshl:
		op = aluOpSll
	case ssa.OpcodeUshr:
		op = aluOpSrl
		if bits < 32 {
			src = m.extendTo(src, typ, false)
		}
	default:
		op = aluOpSra
		if bits < 32 {
			src = m.extendTo(src, typ, true)
		}
	}
	if bits == 32 {
		op = map[aluOp]aluOp{aluOpSll: aluOpSllw, aluOpSrl: aluOpSrlw, aluOpSra: aluOpSraw}[op]
	}
	dst := m.c.VRegOf(instr.Return())
	if c, ok := m.constOf(amt); ok {
		m.useConst(amt)
		m.insert(m.allocateInstr().asALUImm(op, dst, src, c&int64(bits-1)))
		return
	}
	m.insert(m.allocateInstr().asALU(op, dst, src, m.maskedAmount(amt, bits)))
}

// lowerRotate ors the two shifts of x. For 32 and 64 bits the hardware masks the negated amount to the
// complementary shift; narrow rotations zero-extend x and shift it by bits-n.
func (m *machine) lowerRotate(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	typ := x.Type()
	bits := typ.Bits()
	first, second := aluOpSrl, aluOpSll
	if instr.Opcode() == ssa.OpcodeRotl {
		first, second = second, first
	}
	if bits == 32 {
		first = map[aluOp]aluOp{aluOpSll: aluOpSllw, aluOpSrl: aluOpSrlw}[first]
		second = map[aluOp]aluOp{aluOpSll: aluOpSllw, aluOpSrl: aluOpSrlw}[second]
	}
	src := m.c.VRegOf(x)
	if bits < 32 {
		src = m.extendTo(src, typ, false)
	}
	dst := m.c.VRegOf(instr.Return())
	a, b := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)

	if c, ok := m.constOf(amt); ok {
		m.useConst(amt)
		n := c & int64(bits-1)
		other := int64(bits) - n
		if bits >= 32 {
			other &= int64(bits - 1)
		}
		m.insert(m.allocateInstr().asALUImm(first, a, src, n))
		m.insert(m.allocateInstr().asALUImm(second, b, src, other))
	} else {
		n := m.maskedAmount(amt, bits)
		other := m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asALU(aluOpSub, other, zeroVReg, n))
		if bits < 32 {
			m.insert(m.allocateInstr().asALUImm(aluOpAdd, other, other, int64(bits)))
		}
		m.insert(m.allocateInstr().asALU(first, a, src, n))
		m.insert(m.allocateInstr().asALU(second, b, src, other))
	}
	m.insert(m.allocateInstr().asALU(aluOpOr, dst, a, b))
}

// lowerRotateZbb uses ror and rol, and rori by the complementary amount for constant left rotations.
func (m *machine) lowerRotateZbb(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	bits := x.Type().Bits()
	left := instr.Opcode() == ssa.OpcodeRotl
	dst, src := m.c.VRegOf(instr.Return()), m.c.VRegOf(x)
	ror, rol := aluOpRor, aluOpRol
	if bits == 32 {
		ror, rol = aluOpRorw, aluOpRolw
	}
	if c, ok := m.constOf(amt); ok {
		m.useConst(amt)
		n := c & int64(bits-1)
		if left {
			n = (int64(bits) - n) & int64(bits-1)
		}
		m.insert(m.allocateInstr().asALUImm(ror, dst, src, n))
		return
	}
	op := ror
	if left {
		op = rol
	}
	m.insert(m.allocateInstr().asALU(op, dst, src, m.amountReg(amt)))
}

// shift128 shifts the pair (xlo, xhi) by amt modulo 128 into (lo, hi). The bits crossing the halves are
// the other half shifted by 63-amt after a shift by one, so that an amount of zero moves nothing.
// Amounts of 64 and more then pick the crossed half on bit 6 of the amount.
func (m *machine) shift128(op ssa.Opcode, xlo, xhi, amt, lo, hi regalloc.VReg) {
	inv := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALUImm(aluOpXor, inv, amt, -1))
	near, far, cross, t := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64),
		m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)

	switch op {
	case ssa.OpcodeIshl:
		m.insert(m.allocateInstr().asALU(aluOpSll, near, xlo, amt))
		m.insert(m.allocateInstr().asALU(aluOpSll, far, xhi, amt))
		m.insert(m.allocateInstr().asALUImm(aluOpSrl, t, xlo, 1))
		m.insert(m.allocateInstr().asALU(aluOpSrl, cross, t, inv))
	default:
		highOp := aluOpSrl
		if op == ssa.OpcodeSshr {
			highOp = aluOpSra
		}
		m.insert(m.allocateInstr().asALU(highOp, near, xhi, amt))
		m.insert(m.allocateInstr().asALU(aluOpSrl, far, xlo, amt))
		m.insert(m.allocateInstr().asALUImm(aluOpSll, t, xhi, 1))
		m.insert(m.allocateInstr().asALU(aluOpSll, cross, t, inv))
	}
	combined := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(aluOpOr, combined, far, cross))

	fill := zeroVReg
	if op == ssa.OpcodeSshr {
		fill = m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asALUImm(aluOpSra, fill, xhi, 63))
	}
	wide := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALUImm(aluOpAnd, wide, amt, 64))
	if op == ssa.OpcodeIshl {
		m.insert(m.allocateInstr().asSelectSeq(hi, wide, near, combined))
		m.insert(m.allocateInstr().asSelectSeq(lo, wide, zeroVReg, near))
	} else {
		m.insert(m.allocateInstr().asSelectSeq(lo, wide, near, combined))
		m.insert(m.allocateInstr().asSelectSeq(hi, wide, fill, near))
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
	negN := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(aluOpSub, negN, zeroVReg, n))

	xlo, xhi := m.c.VRegsOf(x)
	lo1, hi1 := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	lo2, hi2 := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
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

// lowerBitCount counts in a loop. clz and popcnt need the bits above the width cleared, ctz stops at
// the width anyway.
func (m *machine) lowerBitCount(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	op := countOpOf(instr.Opcode())
	src := m.c.VRegOf(x)
	if op != countOpCtz {
		src = m.extendTo(src, typ, false)
	}
	m.insert(m.allocateInstr().asBitCountSeq(op, m.c.VRegOf(instr.Return()), src, typ.Bits()))
}

// lowerBitCountZbb uses clz, ctz and cpop, and their w forms for i32. Narrow clz counts the zero-extended
// value minus the extra bits; narrow ctz sets the bit right above the width so that zero counts to it.
func (m *machine) lowerBitCountZbb(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	bits := typ.Bits()
	dst, src := m.c.VRegOf(instr.Return()), m.c.VRegOf(x)
	op := instr.Opcode()

	var bop bitOp
	switch op {
	case ssa.OpcodeClz:
		bop = bitOpClz
	case ssa.OpcodeCtz:
		bop = bitOpCtz
	default:
		bop = bitOpCpop
	}
	switch {
	case bits == 64:
		m.insert(m.allocateInstr().asBitRR(bop, dst, src))
	case bits == 32:
		m.insert(m.allocateInstr().asBitRR(map[bitOp]bitOp{bitOpClz: bitOpClzw, bitOpCtz: bitOpCtzw, bitOpCpop: bitOpCpopw}[bop], dst, src))
	case op == ssa.OpcodeCtz:
		t := m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asALU(aluOpOr, t, src, m.loadConst(1<<bits)))
		m.insert(m.allocateInstr().asBitRR(bitOpCtz, dst, t))
	case op == ssa.OpcodeClz:
		n := m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asBitRR(bitOpClz, n, m.extendTo(src, typ, false)))
		m.insert(m.allocateInstr().asALUImm(aluOpAdd, dst, n, -int64(64-bits)))
	default:
		m.insert(m.allocateInstr().asBitRR(bitOpCpop, dst, m.extendTo(src, typ, false)))
	}
}

// count64 counts the bits of the 64-bit src, with Zbb if enabled.
func (m *machine) count64(op countOp, src regalloc.VReg) regalloc.VReg {
	dst := m.c.AllocateVReg(ssa.TypeI64)
	if m.ext().Has(target.ExtZbb) {
		bop := map[countOp]bitOp{countOpClz: bitOpClz, countOpCtz: bitOpCtz, countOpPopcnt: bitOpCpop}[op]
		m.insert(m.allocateInstr().asBitRR(bop, dst, src))
	} else {
		m.insert(m.allocateInstr().asBitCountSeq(op, dst, src, 64))
	}
	return dst
}

func (m *machine) lowerPopcnt128(instr *ssa.Instruction) {
	xlo, xhi := m.c.VRegsOf(instr.Arg())
	lo, hi := m.c.VRegsOf(instr.Return())
	a, b := m.count64(countOpPopcnt, xlo), m.count64(countOpPopcnt, xhi)
	m.insert(m.allocateInstr().asALU(aluOpAdd, lo, a, b))
	m.insert(m.allocateInstr().asLoadConst(hi, 0))
}

// lowerClzCtz128 counts in the significant half, and adds the count of the other one when the first is 64:
// bit 6 of the first count.
func (m *machine) lowerClzCtz128(instr *ssa.Instruction) {
	xlo, xhi := m.c.VRegsOf(instr.Arg())
	lo, hi := m.c.VRegsOf(instr.Return())
	op := countOpOf(instr.Opcode())
	first, second := xhi, xlo
	if op == countOpCtz {
		first, second = xlo, xhi
	}
	c1, c2 := m.count64(op, first), m.count64(op, second)
	full, t := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALUImm(aluOpSrl, full, c1, 6))
	m.insert(m.allocateInstr().asALU(aluOpMul, t, c2, full))
	m.insert(m.allocateInstr().asALU(aluOpAdd, lo, c1, t))
	m.insert(m.allocateInstr().asLoadConst(hi, 0))
}

func minMaxSigned(op ssa.Opcode) bool { return op == ssa.OpcodeSmin || op == ssa.OpcodeSmax }

// lowerMinMax selects x when it compares below y for the minimum, above for the maximum.
func (m *machine) lowerMinMax(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	typ := x.Type()
	op := instr.Opcode()
	signed := minMaxSigned(op)
	xr, yr := m.extendTo(m.c.VRegOf(x), typ, signed), m.extendTo(m.c.VRegOf(y), typ, signed)
	less := aluOpSltu
	if signed {
		less = aluOpSlt
	}
	t := m.c.AllocateVReg(ssa.TypeI64)
	if op == ssa.OpcodeSmin || op == ssa.OpcodeUmin {
		m.insert(m.allocateInstr().asALU(less, t, xr, yr))
	} else {
		m.insert(m.allocateInstr().asALU(less, t, yr, xr))
	}
	m.insert(m.allocateInstr().asSelectSeq(m.c.VRegOf(instr.Return()), t, xr, yr))
}

func (m *machine) lowerMinMaxZbb(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	typ := x.Type()
	op := instr.Opcode()
	signed := minMaxSigned(op)
	xr, yr := m.extendTo(m.c.VRegOf(x), typ, signed), m.extendTo(m.c.VRegOf(y), typ, signed)
	aop := map[ssa.Opcode]aluOp{
		ssa.OpcodeSmin: aluOpMin, ssa.OpcodeSmax: aluOpMax, ssa.OpcodeUmin: aluOpMinu, ssa.OpcodeUmax: aluOpMaxu,
	}[op]
	m.insert(m.allocateInstr().asALU(aop, m.c.VRegOf(instr.Return()), xr, yr))
}

// cmpOperands returns the registers of x and y extended to 64 bits with the signedness of c. A zero
// constant y is the zero register.
func (m *machine) cmpOperands(x, y ssa.Value, c ssa.IntegerCmpCond) (regalloc.VReg, regalloc.VReg) {
	typ := x.Type()
	xr := m.extendTo(m.c.VRegOf(x), typ, c.Signed())
	if k, ok := m.constOf(y); ok && k == 0 {
		m.useConst(y)
		return xr, zeroVReg
	}
	return xr, m.extendTo(m.c.VRegOf(y), typ, c.Signed())
}

// branchCond returns the condition of the branches testing x c y, and whether the operands are swapped.
func branchCond(c ssa.IntegerCmpCond) (cond, bool) {
	switch c {
	case ssa.IntegerCmpCondEqual:
		return condEq, false
	case ssa.IntegerCmpCondNotEqual:
		return condNe, false
	case ssa.IntegerCmpCondSignedLessThan:
		return condLt, false
	case ssa.IntegerCmpCondSignedGreaterThanOrEqual:
		return condGe, false
	case ssa.IntegerCmpCondSignedGreaterThan:
		return condLt, true
	case ssa.IntegerCmpCondSignedLessThanOrEqual:
		return condGe, true
	case ssa.IntegerCmpCondUnsignedLessThan:
		return condLtu, false
	case ssa.IntegerCmpCondUnsignedGreaterThanOrEqual:
		return condGeu, false
	case ssa.IntegerCmpCondUnsignedGreaterThan:
		return condLtu, true
	case ssa.IntegerCmpCondUnsignedLessThanOrEqual:
		return condGeu, true
	default:
		panic("BUG: invalid integer condition")
	}
}

func (m *machine) lowerIcmp(instr *ssa.Instruction) {
	x, y, c := instr.IcmpData()
	dst := m.c.VRegOf(instr.Return())
	if x.Type() == ssa.TypeI128 {
		m.icmp128(dst, x, y, c)
		return
	}
	xr, yr := m.cmpOperands(x, y, c)
	switch c {
	case ssa.IntegerCmpCondEqual, ssa.IntegerCmpCondNotEqual:
		d := xr
		if yr != zeroVReg {
			d = m.c.AllocateVReg(ssa.TypeI64)
			m.insert(m.allocateInstr().asALU(aluOpXor, d, xr, yr))
		}
		m.setZero(dst, d, c == ssa.IntegerCmpCondEqual)
	default:
		m.setLess(dst, xr, yr, c)
	}
}

// setZero sets dst to whether v is zero, seqz, or nonzero, snez.
func (m *machine) setZero(dst, v regalloc.VReg, zero bool) {
	if zero {
		m.insert(m.allocateInstr().asALUImm(aluOpSltu, dst, v, 1))
	} else {
		m.insert(m.allocateInstr().asALU(aluOpSltu, dst, zeroVReg, v))
	}
}

// setLess sets dst to the ordering c of x and y with slt or sltu, swapping the operands for the greater
// conditions and inverting the result for the non strict ones.
func (m *machine) setLess(dst, xr, yr regalloc.VReg, c ssa.IntegerCmpCond) {
	bc, swap := branchCond(c)
	if swap {
		xr, yr = yr, xr
	}
	less := aluOpSlt
	if !c.Signed() {
		less = aluOpSltu
	}
	if bc == condLt || bc == condLtu {
		m.insert(m.allocateInstr().asALU(less, dst, xr, yr))
		return
	}
	t := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(less, t, xr, yr))
	m.insert(m.allocateInstr().asALUImm(aluOpXor, dst, t, 1))
}

// icmp128 compares the halves: equalities or the differences together, orderings compare the high halves
// unless they are equal.
func (m *machine) icmp128(dst regalloc.VReg, x, y ssa.Value, c ssa.IntegerCmpCond) {
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	a, b := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(aluOpXor, a, xlo, ylo))
	m.insert(m.allocateInstr().asALU(aluOpXor, b, xhi, yhi))
	switch c {
	case ssa.IntegerCmpCondEqual, ssa.IntegerCmpCondNotEqual:
		t := m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asALU(aluOpOr, t, a, b))
		m.setZero(dst, t, c == ssa.IntegerCmpCondEqual)
		return
	}

	bc, swap := branchCond(c)
	if swap {
		xlo, xhi, ylo, yhi = ylo, yhi, xlo, xhi
	}
	high := aluOpSlt
	if !c.Signed() {
		high = aluOpSltu
	}
	hiLess, loLess, less := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(high, hiLess, xhi, yhi))
	m.insert(m.allocateInstr().asALU(aluOpSltu, loLess, xlo, ylo))
	m.insert(m.allocateInstr().asSelectSeq(less, b, hiLess, loLess))
	if bc == condLt || bc == condLtu {
		m.insert(m.allocateInstr().asMov(dst, less))
		return
	}
	m.insert(m.allocateInstr().asALUImm(aluOpXor, dst, less, 1))
}

// truthy returns a register which is nonzero if and only if the condition value v is. Comparison results
// are 0 or 1 already; other narrow values are zero-extended.
func (m *machine) truthy(v ssa.Value) regalloc.VReg {
	typ := v.Type()
	if typ == ssa.TypeI128 {
		lo, hi := m.c.VRegsOf(v)
		t := m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asALU(aluOpOr, t, lo, hi))
		return t
	}
	if def := m.c.ValueDefinition(v); def.IsFromInstr() {
		if op := def.Instr.Opcode(); op == ssa.OpcodeIcmp || op == ssa.OpcodeFcmp {
			return m.c.VRegOf(v)
		}
	}
	return m.extendTo(m.c.VRegOf(v), typ, false)
}

// condOperands returns the branch condition and operands testing that v is nonzero. A scalar icmp used
// only here fuses into the branch.
func (m *machine) condOperands(v ssa.Value) (cond, regalloc.VReg, regalloc.VReg) {
	def := m.c.ValueDefinition(v)
	if m.c.MatchInstr(def, ssa.OpcodeIcmp) {
		if x, y, c := def.Instr.IcmpData(); x.Type() != ssa.TypeI128 {
			def.Instr.MarkLowered()
			xr, yr := m.cmpOperands(x, y, c)
			bc, swap := branchCond(c)
			if swap {
				xr, yr = yr, xr
			}
			return bc, xr, yr
		}
	}
	return condNe, m.truthy(v), zeroVReg
}

func (m *machine) lowerSelect(instr *ssa.Instruction) {
	c, x, y := instr.SelectData()
	cr := m.truthy(c)
	if instr.Type() == ssa.TypeI128 {
		xlo, xhi := m.c.VRegsOf(x)
		ylo, yhi := m.c.VRegsOf(y)
		lo, hi := m.c.VRegsOf(instr.Return())
		m.insert(m.allocateInstr().asSelectSeq(lo, cr, xlo, ylo))
		m.insert(m.allocateInstr().asSelectSeq(hi, cr, xhi, yhi))
		return
	}
	m.insert(m.allocateInstr().asSelectSeq(m.c.VRegOf(instr.Return()), cr, m.c.VRegOf(x), m.c.VRegOf(y)))
}

// lowerSelectSpectreGuard selects without a branch: the condition becomes a mask of all ones or zeros, and
// the result is (x & mask) | (y &^ mask).
func (m *machine) lowerSelectSpectreGuard(instr *ssa.Instruction) {
	c, x, y := instr.SelectData()
	one, mask, inv := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	m.setZero(one, m.truthy(c), false)
	m.insert(m.allocateInstr().asALU(aluOpSub, mask, zeroVReg, one))
	m.insert(m.allocateInstr().asALUImm(aluOpXor, inv, mask, -1))
	pick := func(dst, xr, yr regalloc.VReg) {
		a, b := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asALU(aluOpAnd, a, xr, mask))
		m.insert(m.allocateInstr().asALU(aluOpAnd, b, yr, inv))
		m.insert(m.allocateInstr().asALU(aluOpOr, dst, a, b))
	}
	if instr.Type() == ssa.TypeI128 {
		xlo, xhi := m.c.VRegsOf(x)
		ylo, yhi := m.c.VRegsOf(y)
		lo, hi := m.c.VRegsOf(instr.Return())
		pick(lo, xlo, ylo)
		pick(hi, xhi, yhi)
		return
	}
	pick(m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y))
}

func (m *machine) lowerExtend(instr *ssa.Instruction) {
	from, to, signed := instr.ExtendData()
	src := m.c.VRegOf(instr.Arg())
	if to == 128 {
		lo, hi := m.c.VRegsOf(instr.Return())
		m.insert(m.allocateInstr().asExtend(lo, src, from, signed))
		if signed {
			m.insert(m.allocateInstr().asALUImm(aluOpSra, hi, lo, 63))
		} else {
			m.insert(m.allocateInstr().asLoadConst(hi, 0))
		}
		return
	}
	m.insert(m.allocateInstr().asExtend(m.c.VRegOf(instr.Return()), src, from, signed))
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
	c, rn, rm := m.condOperands(instr.Arg())
	if instr.Opcode() == ssa.OpcodeTrapz {
		c = c.invert()
	}
	m.insert(m.allocateInstr().asTrapIf(c, rn, rm, instr.TrapCode()))
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
	c, rn, rm := m.condOperands(v)
	if b.Opcode() == ssa.OpcodeBrz {
		c = c.invert()
	}
	m.insert(m.allocateInstr().asCondBr(c, rn, rm, backend.Label(target.ID())))
}
