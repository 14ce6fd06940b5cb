package arm64

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

var (
	typesF32    = backend.Types(ssa.TypeF32)
	typesF64    = backend.Types(ssa.TypeF64)
	typesI64    = backend.Types(ssa.TypeI64)
	typesMemory = backend.TypesAll &^ backend.TypeNone
	typesFpu    = backend.TypesFloat | backend.TypesVector
)

func alu(op aluOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) { m.lowerAlu(op, instr) }
}

func alu128(op, carryOp aluOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) { m.lowerAlu128(op, carryOp, instr) }
}

func vecBitwise(op vecOp) func(*machine, *ssa.Instruction) {
	return func(m *machine, instr *ssa.Instruction) {
		x, y := instr.Arg2()
		m.insert(m.allocateInstr().asVecRRR(op, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y), vecArrangement16B))
	}
}

// rules are the lowering rules of arm64. The float and vector rules are in lower_float.go and lower_vec.go.
var rules = backend.NewRuleTable(target.ArchAArch64, append([]backend.Rule[*machine]{
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
	{Name: "iadd_i128", Opcode: ssa.OpcodeIadd, Types: backend.TypesI128, Lower: alu128(aluOpAddS, aluOpAdc)},
	{Name: "isub", Opcode: ssa.OpcodeIsub, Types: backend.TypesIntOrRef, Lower: alu(aluOpSub)},
	{Name: "isub_i128", Opcode: ssa.OpcodeIsub, Types: backend.TypesI128, Lower: alu128(aluOpSubS, aluOpSbc)},
	{Name: "imul", Opcode: ssa.OpcodeImul, Types: backend.TypesIntScalar, Lower: (*machine).lowerImul},
	{Name: "imul_i128", Opcode: ssa.OpcodeImul, Types: backend.TypesI128, Lower: (*machine).lowerImul128},
	{Name: "band", Opcode: ssa.OpcodeBand, Types: backend.TypesIntOrRef, Lower: alu(aluOpAnd)},
	{Name: "band_i128", Opcode: ssa.OpcodeBand, Types: backend.TypesI128, Lower: alu128(aluOpAnd, aluOpAnd)},
	{Name: "band_fpu", Opcode: ssa.OpcodeBand, Types: typesFpu, Lower: vecBitwise(vecOpAnd)},
	{Name: "bor", Opcode: ssa.OpcodeBor, Types: backend.TypesIntOrRef, Lower: alu(aluOpOrr)},
	{Name: "bor_i128", Opcode: ssa.OpcodeBor, Types: backend.TypesI128, Lower: alu128(aluOpOrr, aluOpOrr)},
	{Name: "bor_fpu", Opcode: ssa.OpcodeBor, Types: typesFpu, Lower: vecBitwise(vecOpOrr)},
	{Name: "bxor", Opcode: ssa.OpcodeBxor, Types: backend.TypesIntOrRef, Lower: alu(aluOpEor)},
	{Name: "bxor_i128", Opcode: ssa.OpcodeBxor, Types: backend.TypesI128, Lower: alu128(aluOpEor, aluOpEor)},
	{Name: "bxor_fpu", Opcode: ssa.OpcodeBxor, Types: typesFpu, Lower: vecBitwise(vecOpEor)},
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

	{Name: "ishl", Opcode: ssa.OpcodeIshl, Types: backend.TypesIntScalar, Lower: (*machine).lowerShift},
	{Name: "ushr", Opcode: ssa.OpcodeUshr, Types: backend.TypesIntScalar, Lower: (*machine).lowerShift},
	{Name: "sshr", Opcode: ssa.OpcodeSshr, Types: backend.TypesIntScalar, Lower: (*machine).lowerShift},
	{Name: "rotl", Opcode: ssa.OpcodeRotl, Types: backend.TypesIntScalar, Lower: (*machine).lowerRotate},
	{Name: "rotr", Opcode: ssa.OpcodeRotr, Types: backend.TypesIntScalar, Lower: (*machine).lowerRotate},
	{Name: "ishl_i128", Opcode: ssa.OpcodeIshl, Types: backend.TypesI128, Lower: (*machine).lowerShift128},
	{Name: "ushr_i128", Opcode: ssa.OpcodeUshr, Types: backend.TypesI128, Lower: (*machine).lowerShift128},
	{Name: "sshr_i128", Opcode: ssa.OpcodeSshr, Types: backend.TypesI128, Lower: (*machine).lowerShift128},
	{Name: "rotl_i128", Opcode: ssa.OpcodeRotl, Types: backend.TypesI128, Lower: (*machine).lowerRotate128},
	{Name: "rotr_i128", Opcode: ssa.OpcodeRotr, Types: backend.TypesI128, Lower: (*machine).lowerRotate128},

	{Name: "clz", Opcode: ssa.OpcodeClz, Types: backend.TypesIntScalar, Lower: (*machine).lowerClz},
	{Name: "clz_i128", Opcode: ssa.OpcodeClz, Types: backend.TypesI128, Lower: (*machine).lowerClzCtz128},
	{Name: "ctz", Opcode: ssa.OpcodeCtz, Types: backend.TypesIntScalar, Lower: (*machine).lowerCtz},
	{Name: "ctz_i128", Opcode: ssa.OpcodeCtz, Types: backend.TypesI128, Lower: (*machine).lowerClzCtz128},
	{Name: "popcnt", Opcode: ssa.OpcodePopcnt, Types: backend.TypesIntScalar, Lower: (*machine).lowerPopcnt},
	{Name: "popcnt_i128", Opcode: ssa.OpcodePopcnt, Types: backend.TypesI128, Lower: (*machine).lowerPopcnt128},

	{Name: "smin", Opcode: ssa.OpcodeSmin, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "smax", Opcode: ssa.OpcodeSmax, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "umin", Opcode: ssa.OpcodeUmin, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "umax", Opcode: ssa.OpcodeUmax, Types: backend.TypesIntScalar, Lower: (*machine).lowerMinMax},
	{Name: "icmp", Opcode: ssa.OpcodeIcmp, Types: backend.TypesIntOrRef | backend.TypesI128, Lower: (*machine).lowerIcmp},
	{Name: "select", Opcode: ssa.OpcodeSelect, Types: backend.TypesIntOrRef | backend.TypesI128, Lower: (*machine).lowerSelect},
	{Name: "select_fpu", Opcode: ssa.OpcodeSelect, Types: typesFpu, Lower: (*machine).lowerSelect},
	{Name: "select_spectre_guard", Opcode: ssa.OpcodeSelectSpectreGuard, Types: backend.TypesIntOrRef | backend.TypesI128, Lower: (*machine).lowerSelect},

	{Name: "uextend", Opcode: ssa.OpcodeUextend, Types: backend.TypesIntScalar | backend.TypesI128, Lower: (*machine).lowerExtend},
	{Name: "sextend", Opcode: ssa.OpcodeSextend, Types: backend.TypesIntScalar | backend.TypesI128, Lower: (*machine).lowerExtend},
	{Name: "ireduce", Opcode: ssa.OpcodeIreduce, Types: backend.TypesIntScalar, Lower: (*machine).lowerIreduce},
	{Name: "bitcast", Opcode: ssa.OpcodeBitcast, Types: backend.TypesIntOrRef | typesFpu, Lower: (*machine).lowerBitcast},
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

func intCond(c ssa.IntegerCmpCond) condFlag {
	switch c {
	case ssa.IntegerCmpCondEqual:
		return eq
	case ssa.IntegerCmpCondNotEqual:
		return ne
	case ssa.IntegerCmpCondSignedLessThan:
		return lt
	case ssa.IntegerCmpCondSignedGreaterThanOrEqual:
		return ge
	case ssa.IntegerCmpCondSignedGreaterThan:
		return gt
	case ssa.IntegerCmpCondSignedLessThanOrEqual:
		return le
	case ssa.IntegerCmpCondUnsignedLessThan:
		return lo
	case ssa.IntegerCmpCondUnsignedGreaterThanOrEqual:
		return hs
	case ssa.IntegerCmpCondUnsignedGreaterThan:
		return hi
	case ssa.IntegerCmpCondUnsignedLessThanOrEqual:
		return ls
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

// imm12 reports whether c is an immediate of add and sub.
func imm12(c int64) (uint64, bool) {
	if c >= 0 && (c <= 0xfff || (c&0xfff == 0 && c < 1<<24)) {
		return uint64(c), true
	}
	return 0, false
}

// extendTo returns v of typ extended to 32 or 64 bits.
func (m *machine) extendTo(v regalloc.VReg, typ ssa.Type, to byte, signed bool) regalloc.VReg {
	tmp := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asExtend(tmp, v, typ.Bits(), to, signed))
	return tmp
}

func (m *machine) lowerIconst(instr *ssa.Instruction) {
	ret := instr.Return()
	m.insert(m.allocateInstr().asLoadConst(m.c.VRegOf(ret), instr.ConstantVal(), ret.Type().Bits() == 64))
}

func (m *machine) lowerFconst(instr *ssa.Instruction) {
	m.InsertLoadConstantBlockArg(instr, m.c.VRegOf(instr.Return()))
}

// lowerAlu lowers the integer arithmetic and logic: narrow integers use the 32-bit forms, their upper bits
// are undefined. Constants fold into the 12-bit immediates of add and sub and the bitmask immediates of the
// logical ops.
func (m *machine) lowerAlu(op aluOp, instr *ssa.Instruction) {
	x, y := instr.Arg2()
	if _, ok := m.constOf(x); ok && op != aluOpSub {
		x, y = y, x
	}
	_64 := x.Type().Bits() == 64
	dst := m.c.VRegOf(instr.Return())
	xr := m.c.VRegOf(x)
	if c, ok := m.constOf(y); ok {
		switch op {
		case aluOpAdd, aluOpSub:
			if imm, ok := imm12(c); ok {
				m.useConst(y)
				m.insert(m.allocateInstr().asALUImm12(op, dst, xr, imm, _64))
				return
			}
			if imm, ok := imm12(-c); ok {
				flipped := aluOpSub
				if op == aluOpSub {
					flipped = aluOpAdd
				}
				m.useConst(y)
				m.insert(m.allocateInstr().asALUImm12(flipped, dst, xr, imm, _64))
				return
			}
		case aluOpAnd, aluOpOrr, aluOpEor:
			v := uint64(c)
			if !_64 {
				v = uint64(uint32(c))
			}
			if _, _, _, ok := bitmaskImmediate(v, _64); ok {
				m.useConst(y)
				m.insert(m.allocateInstr().asALUBitmaskImm(op, dst, xr, v, _64))
				return
			}
		}
	}
	m.insert(m.allocateInstr().asALU(op, dst, xr, m.c.VRegOf(y), _64))
}

func (m *machine) lowerAlu128(op, carryOp aluOp, instr *ssa.Instruction) {
	x, y := instr.Arg2()
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	lo, hi := m.c.VRegsOf(instr.Return())
	m.insert(m.allocateInstr().asALU(op, lo, xlo, ylo, true))
	m.insert(m.allocateInstr().asALU(carryOp, hi, xhi, yhi, true))
}

func (m *machine) lowerImul(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	m.insert(m.allocateInstr().asALURRRR(aluOpMAdd, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y),
		xzrVReg, x.Type().Bits() == 64))
}

// lowerImul128 computes the low 128 bits of the product:
//
//	hi = xlo*yhi + xhi*ylo + umulh(xlo, ylo)
//	lo = xlo*ylo
func (m *machine) lowerImul128(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	xlo, xhi := m.c.VRegsOf(x)
	ylo, yhi := m.c.VRegsOf(y)
	lo, hi := m.c.VRegsOf(instr.Return())

	t := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(aluOpUMulH, t, xlo, ylo, true))
	t2 := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALURRRR(aluOpMAdd, t2, xlo, yhi, t, true))
	m.insert(m.allocateInstr().asALURRRR(aluOpMAdd, hi, xhi, ylo, t2, true))
	m.insert(m.allocateInstr().asALURRRR(aluOpMAdd, lo, xlo, ylo, xzrVReg, true))
}

// lowerBnot is orn from the zero register.
func (m *machine) lowerBnot(instr *ssa.Instruction) {
	x := instr.Arg()
	if x.Type() == ssa.TypeI128 {
		xlo, xhi := m.c.VRegsOf(x)
		lo, hi := m.c.VRegsOf(instr.Return())
		m.insert(m.allocateInstr().asALU(aluOpOrn, lo, xzrVReg, xlo, true))
		m.insert(m.allocateInstr().asALU(aluOpOrn, hi, xzrVReg, xhi, true))
		return
	}
	m.insert(m.allocateInstr().asALU(aluOpOrn, m.c.VRegOf(instr.Return()), xzrVReg, m.c.VRegOf(x), x.Type().Bits() == 64))
}

func (m *machine) lowerIneg(instr *ssa.Instruction) {
	x := instr.Arg()
	if x.Type() == ssa.TypeI128 {
		// 0 - x with the borrow.
		xlo, xhi := m.c.VRegsOf(x)
		lo, hi := m.c.VRegsOf(instr.Return())
		m.insert(m.allocateInstr().asALU(aluOpSubS, lo, xzrVReg, xlo, true))
		m.insert(m.allocateInstr().asALU(aluOpSbc, hi, xzrVReg, xhi, true))
		return
	}
	m.insert(m.allocateInstr().asALU(aluOpSub, m.c.VRegOf(instr.Return()), xzrVReg, m.c.VRegOf(x), x.Type().Bits() == 64))
}

// lowerIabs compares x with zero and negates it when it is negative.
func (m *machine) lowerIabs(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	_64 := typ.Bits() == 64
	src := m.c.VRegOf(x)
	if typ.Bits() < 32 {
		src = m.extendTo(src, typ, 32, true)
	}
	m.insert(m.allocateInstr().asALUImm12(aluOpSubS, xzrVReg, src, 0, _64))
	m.insert(m.allocateInstr().asCSel(condSelOpCsneg, m.c.VRegOf(instr.Return()), src, src, ge, _64))
}

func (m *machine) lowerMulhi(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	signed := instr.Opcode() == ssa.OpcodeSmulhi
	typ := x.Type()
	dst := m.c.VRegOf(instr.Return())
	if typ.Bits() == 64 {
		op := aluOpUMulH
		if signed {
			op = aluOpSMulH
		}
		m.insert(m.allocateInstr().asALU(op, dst, m.c.VRegOf(x), m.c.VRegOf(y), true))
		return
	}

	// The full product of the widened operands fits in 64 bits.
	a := m.extendTo(m.c.VRegOf(x), typ, 64, signed)
	b := m.extendTo(m.c.VRegOf(y), typ, 64, signed)
	p := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALURRRR(aluOpMAdd, p, a, b, xzrVReg, true))
	op := aluOpLsr
	if signed {
		op = aluOpAsr
	}
	m.insert(m.allocateInstr().asALUShiftImm(op, dst, p, uint64(typ.Bits()), true))
}

// lowerDivRem checks the divisor, and the overflow of the signed division, since the hardware returns
// zero and the dividend instead of trapping. The remainder is x - (x/y)*y.
func (m *machine) lowerDivRem(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	op := instr.Opcode()
	rem := op == ssa.OpcodeUrem || op == ssa.OpcodeSrem
	signed := op == ssa.OpcodeSdiv || op == ssa.OpcodeSrem
	typ := x.Type()
	bits := typ.Bits()
	_64 := bits == 64

	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)
	if bits < 32 {
		xr = m.extendTo(xr, typ, 32, signed)
		yr = m.extendTo(yr, typ, 32, signed)
	}
	m.insert(m.allocateInstr().asTrapIfReg(yr, false, codegenapi.TrapCodeIntegerDivisionByZero, _64))

	if signed && !rem {
		// y == -1 and x == min: x - 1 overflows only for the minimum, moved to bit 31 for narrow types.
		minCheck := xr
		if bits < 32 {
			minCheck = m.c.AllocateVReg(ssa.TypeI32)
			m.insert(m.allocateInstr().asALUShiftImm(aluOpLsl, minCheck, xr, uint64(32-bits), false))
		}
		m.insert(m.allocateInstr().asALUImm12(aluOpAddS, xzrVReg, yr, 1, _64))
		m.insert(m.allocateInstr().asCCmpImm(minCheck, 1, eq, 0, _64))
		m.insert(m.allocateInstr().asTrapIf(vs, codegenapi.TrapCodeIntegerOverflow))
	}

	div := aluOpUDiv
	if signed {
		div = aluOpSDiv
	}
	dst := m.c.VRegOf(instr.Return())
	if !rem {
		m.insert(m.allocateInstr().asALU(div, dst, xr, yr, _64))
		return
	}
	q := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(div, q, xr, yr, _64))
	m.insert(m.allocateInstr().asALURRRR(aluOpMSub, dst, q, yr, xr, _64))
}

func (m *machine) lowerUaddOverflowTrap(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	_64 := x.Type().Bits() == 64
	m.insert(m.allocateInstr().asALU(aluOpAddS, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y), _64))
	m.insert(m.allocateInstr().asTrapIf(hs, instr.TrapCode()))
}

// amountReg returns the register of a shift amount, the low half for i128 amounts.
func (m *machine) amountReg(amt ssa.Value) regalloc.VReg {
	if amt.Type() == ssa.TypeI128 {
		lo, _ := m.c.VRegsOf(amt)
		return lo
	}
	return m.c.VRegOf(amt)
}

// maskedAmount returns the amount modulo bits, for narrow types where the hardware masks modulo 32.
func (m *machine) maskedAmount(amt ssa.Value, bits byte) regalloc.VReg {
	r := m.amountReg(amt)
	if bits >= 32 {
		return r
	}
	tmp := m.c.AllocateVReg(ssa.TypeI32)
	m.insert(m.allocateInstr().asALUBitmaskImm(aluOpAnd, tmp, r, uint64(bits-1), false))
	return tmp
}

// lowerShift shifts narrow integers in 32-bit registers, extending the source of right shifts first.
func (m *machine) lowerShift(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	typ := x.Type()
	bits := typ.Bits()
	_64 := bits == 64
	var op aluOp
	src := m.c.VRegOf(x)
	switch instr.Opcode() {
	case ssa.OpcodeIshl:
		op = aluOpLsl
	case ssa.OpcodeUshr:
		op = aluOpLsr
		if bits < 32 {
			src = m.extendTo(src, typ, 32, false)
		}
	default:
		op = aluOpAsr
		if bits < 32 {
			src = m.extendTo(src, typ, 32, true)
		}
	}
	dst := m.c.VRegOf(instr.Return())
	if c, ok := m.constOf(amt); ok {
		m.useConst(amt)
		m.insert(m.allocateInstr().asALUShiftImm(op, dst, src, uint64(c)&uint64(bits-1), _64))
		return
	}
	m.insert(m.allocateInstr().asALU(op, dst, src, m.maskedAmount(amt, bits), _64))
}

// lowerRotate uses ror for 32 and 64 bits, rotl being ror by the negated amount. Narrow rotations combine the
// two shifts of the zero-extended value.
func (m *machine) lowerRotate(instr *ssa.Instruction) {
	x, amt := instr.Arg2()
	typ := x.Type()
	bits := typ.Bits()
	_64 := bits == 64
	left := instr.Opcode() == ssa.OpcodeRotl
	dst := m.c.VRegOf(instr.Return())

	if bits >= 32 {
		if c, ok := m.constOf(amt); ok {
			m.useConst(amt)
			n := uint64(c) & uint64(bits-1)
			if left {
				n = (uint64(bits) - n) & uint64(bits-1)
			}
			m.insert(m.allocateInstr().asALUShiftImm(aluOpRor, dst, m.c.VRegOf(x), n, _64))
			return
		}
		n := m.amountReg(amt)
		if left {
			neg := m.c.AllocateVReg(ssa.TypeI64)
			m.insert(m.allocateInstr().asALU(aluOpSub, neg, xzrVReg, n, _64))
			n = neg
		}
		m.insert(m.allocateInstr().asALU(aluOpRor, dst, m.c.VRegOf(x), n, _64))
		return
	}

	src := m.extendTo(m.c.VRegOf(x), typ, 32, false)
	first, second := aluOpLsr, aluOpLsl
	if left {
		first, second = second, first
	}
	a, b := m.c.AllocateVReg(ssa.TypeI32), m.c.AllocateVReg(ssa.TypeI32)
	if c, ok := m.constOf(amt); ok {
		m.useConst(amt)
		n := uint64(c) & uint64(bits-1)
		m.insert(m.allocateInstr().asALUShiftImm(first, a, src, n, false))
		m.insert(m.allocateInstr().asALUShiftImm(second, b, src, uint64(bits)-n, false))
	} else {
		n := m.maskedAmount(amt, bits)
		other := m.c.AllocateVReg(ssa.TypeI32)
		m.insert(m.allocateInstr().asALU(aluOpSub, other, xzrVReg, n, false))
		m.insert(m.allocateInstr().asALUImm12(aluOpAdd, other, other, uint64(bits), false))
		m.insert(m.allocateInstr().asALU(first, a, src, n, false))
		m.insert(m.allocateInstr().asALU(second, b, src, other, false))
	}
	m.insert(m.allocateInstr().asALU(aluOpOrr, dst, a, b, false))
}

// shift128 shifts the pair (xlo, xhi) by amt modulo 128 into (lo, hi). The bits crossing the halves are
// the other half shifted by 63-amt after a shift by one, so that an amount of zero moves nothing.
// Amounts of 64 and more then pick the crossed half with csel on bit 6 of the amount.
func (m *machine) shift128(op ssa.Opcode, xlo, xhi, amt, lo, hi regalloc.VReg) {
	inv := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(aluOpOrn, inv, xzrVReg, amt, true))
	near, far, cross, t := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64),
		m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)

	switch op {
	case ssa.OpcodeIshl:
		m.insert(m.allocateInstr().asALU(aluOpLsl, near, xlo, amt, true))
		m.insert(m.allocateInstr().asALU(aluOpLsl, far, xhi, amt, true))
		m.insert(m.allocateInstr().asALUShiftImm(aluOpLsr, t, xlo, 1, true))
		m.insert(m.allocateInstr().asALU(aluOpLsr, cross, t, inv, true))
	default:
		highOp := aluOpLsr
		if op == ssa.OpcodeSshr {
			highOp = aluOpAsr
		}
		m.insert(m.allocateInstr().asALU(highOp, near, xhi, amt, true))
		m.insert(m.allocateInstr().asALU(aluOpLsr, far, xlo, amt, true))
		m.insert(m.allocateInstr().asALUShiftImm(aluOpLsl, t, xhi, 1, true))
		m.insert(m.allocateInstr().asALU(aluOpLsl, cross, t, inv, true))
	}
	combined := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asALU(aluOpOrr, combined, far, cross, true))

	fill := xzrVReg
	if op == ssa.OpcodeSshr {
		fill = m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asALUShiftImm(aluOpAsr, fill, xhi, 63, true))
	}
	m.insert(m.allocateInstr().asALUBitmaskImm(aluOpAndS, xzrVReg, amt, 64, true))
	if op == ssa.OpcodeIshl {
		m.insert(m.allocateInstr().asCSel(condSelOpCsel, hi, near, combined, ne, true))
		m.insert(m.allocateInstr().asCSel(condSelOpCsel, lo, xzrVReg, near, ne, true))
	} else {
		m.insert(m.allocateInstr().asCSel(condSelOpCsel, lo, near, combined, ne, true))
		m.insert(m.allocateInstr().asCSel(condSelOpCsel, hi, fill, near, ne, true))
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
	m.insert(m.allocateInstr().asALU(aluOpSub, negN, xzrVReg, n, true))

	xlo, xhi := m.c.VRegsOf(x)
	lo1, hi1 := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	lo2, hi2 := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	m.shift128(first, xlo, xhi, n, lo1, hi1)
	m.shift128(second, xlo, xhi, negN, lo2, hi2)
	lo, hi := m.c.VRegsOf(instr.Return())
	m.insert(m.allocateInstr().asALU(aluOpOrr, lo, lo1, lo2, true))
	m.insert(m.allocateInstr().asALU(aluOpOrr, hi, hi1, hi2, true))
}

// lowerClz counts narrow integers zero-extended to 32 bits, minus the extra bits.
func (m *machine) lowerClz(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	bits := typ.Bits()
	dst := m.c.VRegOf(instr.Return())
	if bits >= 32 {
		m.insert(m.allocateInstr().asBitRR(bitOpClz, dst, m.c.VRegOf(x), bits == 64))
		return
	}
	src := m.extendTo(m.c.VRegOf(x), typ, 32, false)
	n := m.c.AllocateVReg(ssa.TypeI32)
	m.insert(m.allocateInstr().asBitRR(bitOpClz, n, src, false))
	m.insert(m.allocateInstr().asALUImm12(aluOpSub, dst, n, uint64(32-bits), false))
}

// lowerCtz is clz of the reversed bits. The bit right above narrow inputs is set so that zero counts to
// their width.
func (m *machine) lowerCtz(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	bits := typ.Bits()
	_64 := bits == 64
	src := m.c.VRegOf(x)
	if bits < 32 {
		t := m.c.AllocateVReg(ssa.TypeI32)
		m.insert(m.allocateInstr().asALUBitmaskImm(aluOpOrr, t, src, 1<<bits, false))
		src = t
	}
	rev := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asBitRR(bitOpRbit, rev, src, _64))
	m.insert(m.allocateInstr().asBitRR(bitOpClz, m.c.VRegOf(instr.Return()), rev, _64))
}

// popcnt64 counts the bits of the 32 or 64-bit src into dst with cnt and addv on the vector unit.
func (m *machine) popcnt64(src, dst regalloc.VReg, _64 bool) {
	var bits byte = 32
	if _64 {
		bits = 64
	}
	v := m.c.AllocateVReg(ssa.TypeF64)
	m.insert(m.allocateInstr().asMovToFPU(v, src, bits))
	cnt := m.c.AllocateVReg(ssa.TypeF64)
	m.insert(m.allocateInstr().asVecMisc(vecOpCnt, cnt, v, vecArrangement8B))
	sum := m.c.AllocateVReg(ssa.TypeF64)
	m.insert(m.allocateInstr().asVecLanes(vecOpAddv, sum, cnt, vecArrangement8B))
	m.insert(m.allocateInstr().asMovFromVec(dst, sum, vecArrangement8B, 0, false, false))
}

func (m *machine) lowerPopcnt(instr *ssa.Instruction) {
	x := instr.Arg()
	typ := x.Type()
	src := m.c.VRegOf(x)
	if typ.Bits() < 32 {
		src = m.extendTo(src, typ, 32, false)
	}
	m.popcnt64(src, m.c.VRegOf(instr.Return()), typ.Bits() == 64)
}

func (m *machine) lowerPopcnt128(instr *ssa.Instruction) {
	xlo, xhi := m.c.VRegsOf(instr.Arg())
	lo, hi := m.c.VRegsOf(instr.Return())
	a, b := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	m.popcnt64(xlo, a, true)
	m.popcnt64(xhi, b, true)
	m.insert(m.allocateInstr().asALU(aluOpAdd, lo, a, b, true))
	m.insert(m.allocateInstr().asLoadConst(hi, 0, true))
}

// lowerClzCtz128 counts in the significant half, and adds the count of the other one when the first is 64:
// bit 6 of the first count.
func (m *machine) lowerClzCtz128(instr *ssa.Instruction) {
	xlo, xhi := m.c.VRegsOf(instr.Arg())
	lo, hi := m.c.VRegsOf(instr.Return())
	first, second := xhi, xlo
	if instr.Opcode() == ssa.OpcodeCtz {
		first, second = m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asBitRR(bitOpRbit, first, xlo, true))
		m.insert(m.allocateInstr().asBitRR(bitOpRbit, second, xhi, true))
	}
	c1, c2, full := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asBitRR(bitOpClz, c1, first, true))
	m.insert(m.allocateInstr().asBitRR(bitOpClz, c2, second, true))
	m.insert(m.allocateInstr().asALUShiftImm(aluOpLsr, full, c1, 6, true))
	m.insert(m.allocateInstr().asALURRRR(aluOpMAdd, lo, c2, full, c1, true))
	m.insert(m.allocateInstr().asLoadConst(hi, 0, true))
}

// lowerMinMax selects x when the comparison with y holds.
func (m *machine) lowerMinMax(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	typ := x.Type()
	var c condFlag
	signed := false
	switch instr.Opcode() {
	case ssa.OpcodeSmin:
		c, signed = lt, true
	case ssa.OpcodeSmax:
		c, signed = gt, true
	case ssa.OpcodeUmin:
		c = lo
	case ssa.OpcodeUmax:
		c = hi
	}
	xr, yr := m.c.VRegOf(x), m.c.VRegOf(y)
	if typ.Bits() < 32 {
		xr, yr = m.extendTo(xr, typ, 32, signed), m.extendTo(yr, typ, 32, signed)
	}
	_64 := typ.Bits() == 64
	m.insert(m.allocateInstr().asALU(aluOpSubS, xzrVReg, xr, yr, _64))
	m.insert(m.allocateInstr().asCSel(condSelOpCsel, m.c.VRegOf(instr.Return()), xr, yr, c, _64))
}

func (m *machine) lowerIcmp(instr *ssa.Instruction) {
	c := m.lowerIcmpToFlags(instr)
	m.insert(m.allocateInstr().asCSet(m.c.VRegOf(instr.Return()), c, false))
}

// lowerIcmpToFlags sets the flags for the comparison, and returns the condition which holds if it is true.
// Narrow operands are extended to 32 bits with the signedness of the condition.
func (m *machine) lowerIcmpToFlags(instr *ssa.Instruction) condFlag {
	x, y, c := instr.IcmpData()
	typ := x.Type()
	if typ == ssa.TypeI128 {
		return m.lowerIcmp128ToFlags(x, y, c)
	}
	bits := typ.Bits()
	_64 := bits == 64
	xr := m.c.VRegOf(x)
	if bits < 32 {
		xr = m.extendTo(xr, typ, 32, c.Signed())
	} else if k, ok := m.constOf(y); ok {
		if imm, ok := imm12(k); ok {
			m.useConst(y)
			m.insert(m.allocateInstr().asALUImm12(aluOpSubS, xzrVReg, xr, imm, _64))
			return intCond(c)
		}
		if imm, ok := imm12(-k); ok {
			m.useConst(y)
			m.insert(m.allocateInstr().asALUImm12(aluOpAddS, xzrVReg, xr, imm, _64))
			return intCond(c)
		}
	}
	yr := m.c.VRegOf(y)
	if bits < 32 {
		yr = m.extendTo(yr, typ, 32, c.Signed())
	}
	m.insert(m.allocateInstr().asALU(aluOpSubS, xzrVReg, xr, yr, _64))
	return intCond(c)
}

// lowerIcmp128ToFlags compares the halves: equalities or the differences together, the orderings subtract
// with the borrow so that the flags are the ones of the 128-bit difference.
func (m *machine) lowerIcmp128ToFlags(x, y ssa.Value, c ssa.IntegerCmpCond) condFlag {
	switch c {
	case ssa.IntegerCmpCondEqual, ssa.IntegerCmpCondNotEqual:
		xlo, xhi := m.c.VRegsOf(x)
		ylo, yhi := m.c.VRegsOf(y)
		a, b := m.c.AllocateVReg(ssa.TypeI64), m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asALU(aluOpEor, a, xlo, ylo, true))
		m.insert(m.allocateInstr().asALU(aluOpEor, b, xhi, yhi, true))
		m.insert(m.allocateInstr().asALU(aluOpOrr, a, a, b, true))
		m.insert(m.allocateInstr().asALUImm12(aluOpSubS, xzrVReg, a, 0, true))
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
	m.insert(m.allocateInstr().asALU(aluOpSubS, xzrVReg, xlo, ylo, true))
	m.insert(m.allocateInstr().asALU(aluOpSbcS, xzrVReg, xhi, yhi, true))
	return intCond(c)
}

// fusesCompare reports whether condFlags folds the comparison defining v.
func (m *machine) fusesCompare(v ssa.Value) bool {
	def := m.c.ValueDefinition(v)
	if m.c.MatchInstr(def, ssa.OpcodeIcmp) {
		return true
	}
	if m.c.MatchInstr(def, ssa.OpcodeFcmp) {
		x, _, _ := def.Instr.FcmpData()
		return !x.Type().IsVector()
	}
	return false
}

// condFlags sets the flags for the condition value v, which is true when nonzero, fusing its comparison
// when v is used only here. Every float condition maps to a single condition code after fcmp.
func (m *machine) condFlags(v ssa.Value) condFlag {
	def := m.c.ValueDefinition(v)
	if m.c.MatchInstr(def, ssa.OpcodeIcmp) {
		def.Instr.MarkLowered()
		return m.lowerIcmpToFlags(def.Instr)
	}
	if m.c.MatchInstr(def, ssa.OpcodeFcmp) {
		x, y, c := def.Instr.FcmpData()
		if !x.Type().IsVector() {
			def.Instr.MarkLowered()
			return m.lowerFcmpToFlags(x, y, c)
		}
	}
	typ := v.Type()
	switch {
	case typ == ssa.TypeI128:
		lo, hi := m.c.VRegsOf(v)
		t := m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asALU(aluOpOrr, t, lo, hi, true))
		m.insert(m.allocateInstr().asALUImm12(aluOpSubS, xzrVReg, t, 0, true))
	case typ.Bits() < 32:
		mask := uint64(1)<<typ.Bits() - 1
		m.insert(m.allocateInstr().asALUBitmaskImm(aluOpAndS, xzrVReg, m.c.VRegOf(v), mask, false))
	default:
		m.insert(m.allocateInstr().asALUImm12(aluOpSubS, xzrVReg, m.c.VRegOf(v), 0, typ.Bits() == 64))
	}
	return ne
}

// lowerSelect picks x if the condition holds and y otherwise, with csel, fcsel, or a conditional vector move.
func (m *machine) lowerSelect(instr *ssa.Instruction) {
	c, x, y := instr.SelectData()
	typ := instr.Type()
	switch {
	case typ == ssa.TypeI128:
		xlo, xhi := m.c.VRegsOf(x)
		ylo, yhi := m.c.VRegsOf(y)
		lo, hi := m.c.VRegsOf(instr.Return())
		cc := m.condFlags(c)
		m.insert(m.allocateInstr().asCSel(condSelOpCsel, lo, xlo, ylo, cc, true))
		m.insert(m.allocateInstr().asCSel(condSelOpCsel, hi, xhi, yhi, cc, true))
	case typ.IsVector():
		dst := m.c.VRegOf(instr.Return())
		m.insert(m.allocateInstr().asFpuMov(dst, m.c.VRegOf(y)))
		cc := m.condFlags(c)
		m.insert(m.allocateInstr().asVecCmove(cc, dst, m.c.VRegOf(x)))
	case typ.IsFloat():
		cc := m.condFlags(c)
		m.insert(m.allocateInstr().asFpuCSel(m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y), cc, typ.Bits()))
	default:
		cc := m.condFlags(c)
		m.insert(m.allocateInstr().asCSel(condSelOpCsel, m.c.VRegOf(instr.Return()), m.c.VRegOf(x), m.c.VRegOf(y), cc,
			typ.Bits() == 64))
	}
}

func (m *machine) lowerExtend(instr *ssa.Instruction) {
	from, to, signed := instr.ExtendData()
	src := m.c.VRegOf(instr.Arg())
	if to == 128 {
		lo, hi := m.c.VRegsOf(instr.Return())
		if from == 64 {
			m.insert(m.allocateInstr().asMove64(lo, src))
		} else {
			m.insert(m.allocateInstr().asExtend(lo, src, from, 64, signed))
		}
		if signed {
			m.insert(m.allocateInstr().asALUShiftImm(aluOpAsr, hi, lo, 63, true))
		} else {
			m.insert(m.allocateInstr().asLoadConst(hi, 0, true))
		}
		return
	}
	m.insert(m.allocateInstr().asExtend(m.c.VRegOf(instr.Return()), src, from, to, signed))
}

func (m *machine) lowerIreduce(instr *ssa.Instruction) {
	x := instr.Arg()
	dst := m.c.VRegOf(instr.Return())
	if x.Type() == ssa.TypeI128 {
		lo, _ := m.c.VRegsOf(x)
		m.insert(m.allocateInstr().asMove64(dst, lo))
		return
	}
	m.insert(m.allocateInstr().asMove64(dst, m.c.VRegOf(x)))
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
		m.insert(m.allocateInstr().asMove64(dst, src))
	case fromInt:
		m.insert(m.allocateInstr().asMovToFPU(dst, src, from.Bits()))
	case toInt:
		m.insert(m.allocateInstr().asMovFromFPU(dst, src, to.Bits()))
	default:
		m.insert(m.allocateInstr().asFpuMov(dst, src))
	}
}

func (m *machine) lowerIconcat(instr *ssa.Instruction) {
	x, y := instr.Arg2()
	lo, hi := m.c.VRegsOf(instr.Return())
	m.insert(m.allocateInstr().asMove64(lo, m.c.VRegOf(x)))
	m.insert(m.allocateInstr().asMove64(hi, m.c.VRegOf(y)))
}

func (m *machine) lowerIsplit(instr *ssa.Instruction) {
	xlo, xhi := m.c.VRegsOf(instr.Arg())
	first, rest := instr.Returns()
	m.insert(m.allocateInstr().asMove64(m.c.VRegOf(first), xlo))
	m.insert(m.allocateInstr().asMove64(m.c.VRegOf(rest[0]), xhi))
}

func (m *machine) lowerTrap(instr *ssa.Instruction) {
	m.insert(m.allocateInstr().asUDF(instr.TrapCode()))
}

// lowerTrapIf tests 32 and 64-bit registers with cbz and cbnz, everything else on the flags.
func (m *machine) lowerTrapIf(instr *ssa.Instruction) {
	v := instr.Arg()
	trapz := instr.Opcode() == ssa.OpcodeTrapz
	if bits := v.Type().Bits(); bits >= 32 && bits <= 64 && !m.fusesCompare(v) {
		m.insert(m.allocateInstr().asTrapIfReg(m.c.VRegOf(v), !trapz, instr.TrapCode(), bits == 64))
		return
	}
	cc := m.condFlags(v)
	if trapz {
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
		m.insert(m.allocateInstr().asBr(backend.Label(target.ID())))
	case ssa.OpcodeBrTable:
		index, defaultTarget, targets := br.BrTableData()
		idx := m.c.VRegOf(index)
		if typ := index.Type(); typ.Bits() < 64 {
			idx = m.extendTo(idx, typ, 64, false)
		}
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
	l := backend.Label(target.ID())
	brz := b.Opcode() == ssa.OpcodeBrz

	if bits := v.Type().Bits(); bits >= 32 && bits <= 64 && !m.fusesCompare(v) {
		m.insert(m.allocateInstr().asCondBrReg(m.c.VRegOf(v), !brz, l, bits == 64))
		return
	}
	cc := m.condFlags(v)
	if brz {
		cc = cc.invert()
	}
	m.insert(m.allocateInstr().asCondBr(cc, l))
}
