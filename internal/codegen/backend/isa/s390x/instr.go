package s390x

import (
	"fmt"
	"strings"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

type instruction struct {
	kind instructionKind
	// op is the sub-opcode of the kind: an aluOp, rreOp, shiftOp or countOp.
	op   byte
	cond cond
	// _32 selects the 32-bit compare of the kinds testing cond.
	_32 bool
	// fcmp makes the kinds testing cond compare the float registers rn and rm.
	fcmp   bool
	signed bool

	// ra and rb are the values selectSeq picks when cond holds and when it does not.
	rd, rn, rm, ra, rb regalloc.VReg
	amode              addressMode

	imm int64
	// imm2 is the page size of probeLoop.
	imm2 int64
	bits byte

	label     backend.Label
	targets   []backend.Label
	trap      codegenapi.TrapCode
	sym       string
	colocated bool
	abi       *backend.FunctionABI
	fixed     []fixedOperand
	refs      []regalloc.VReg
	clobbers  regalloc.RegSet
	// unwind is recorded right after the instruction.
	unwind []backend.UnwindInst
}

// fixedOperand is an operand pinned to a register by the calling convention.
type fixedOperand struct {
	v   regalloc.VReg
	r   regalloc.RealReg
	def bool
}

type instructionKind byte

const (
	nop0 instructionKind = iota + 1

	// Defines the register arguments of the function at its entry.
	args

	// br %r14 after the epilogue, popping imm bytes of arguments first.
	ret

	// Materializes a 64-bit constant with lghi, lgfi, or llilf and iihf.
	loadConst

	// Loads the address of sym plus imm from an inline literal with an absolute relocation.
	symbolValue

	// lgr.
	mov

	// Three operand ops of the distinct-operands facility.
	aluRRR

	// Two operand ops reading and writing rd.
	aluRR

	// Unary ops and extensions, rd = op(rn).
	unaryRR

	// lay rd, imm(rn).
	addImm

	// Shifts and rotations by imm plus the low bits of rm.
	shift

	// The high half of the 128-bit product through the r0:r1 pair.
	mulhiSeq

	// Division or remainder through the r0:r1 pair.
	divRemSeq

	// clz, ctz and popcnt with flogr and popcnt.
	bitCountSeq

	// Integer loads, zero or sign-extending to 64 bits.
	uLoad8
	uLoad16
	uLoad32
	sLoad8
	sLoad16
	sLoad32
	load64

	// Integer stores of the low bytes of the register.
	store8
	store16
	store32
	store64

	// Computes the address of amode.
	loadAddr

	// Adds imm to sp.
	adjustSP

	// stmg and lmg of the registers from imm to %r15 in the save area of the caller.
	saveRegs
	restoreRegs

	// Compare and set rd to 0 or 1.
	setCC

	// Compare, and move ra or rb into rd with locgr.
	selectSeq

	// Unconditional jump to a label.
	br

	// Compare and branch to a label.
	condBr

	// Jump-table sequence, as one compound instruction.
	brTableSeq

	// Direct call: brasl, or basr through a literal when not colocated.
	call

	// Indirect call: basr.
	callInd

	// Tail call, replacing the frame of the current function.
	tailCall

	// Touches one byte per page of the frame in a loop.
	probeLoop

	// Touches the byte imm bytes below sp.
	probeStore

	// An invalid opcode, with the trap code recorded.
	udf

	// Compare and trap.
	trapIf

	// A local label in the middle of a block.
	label

	// Float loads and stores: le, ld, ste and std, or their long displacement forms.
	fpuLoad32
	fpuLoad64
	fpuStore32
	fpuStore64

	// ldr.
	fpuMov

	// rd = rn op rm, with ldr and the two operand op, or cpsdr.
	fpuRRR

	// Unary ops and the conversions between f32 and f64, rd = op(rn).
	fpuRR

	// fiebra and fidbra with the rounding mode in imm.
	fpuRound

	// Materializes the bits in imm through r1.
	fpuConst

	// ldgr and lgdr, moving the bits between the register files.
	movToFPU
	movFromFPU

	// Conversions of an integer extended to 64 bits to a float.
	intToFpu

	// Conversions of a float to an integer, trapping on NaN and out of range.
	fpuToIntSeq

	// The IEEE minimum and maximum, and the pseudo minimum and maximum, with compares and branches.
	fpuMinMaxSeq
)

var kindNames = map[instructionKind]string{
	nop0: "nop0", args: "args", ret: "ret", loadConst: "loadConst", symbolValue: "symbolValue", mov: "mov",
	aluRRR: "aluRRR", aluRR: "aluRR", unaryRR: "unaryRR", addImm: "addImm", shift: "shift", mulhiSeq: "mulhiSeq",
	divRemSeq: "divRemSeq", bitCountSeq: "bitCountSeq",
	uLoad8: "uLoad8", uLoad16: "uLoad16", uLoad32: "uLoad32", sLoad8: "sLoad8", sLoad16: "sLoad16",
	sLoad32: "sLoad32", load64: "load64", store8: "store8", store16: "store16", store32: "store32", store64: "store64",
	loadAddr: "loadAddr", adjustSP: "adjustSP", saveRegs: "saveRegs", restoreRegs: "restoreRegs", setCC: "setCC",
	selectSeq: "selectSeq", br: "br", condBr: "condBr", brTableSeq: "brTableSeq", call: "call", callInd: "callInd",
	tailCall: "tailCall", probeLoop: "probeLoop", probeStore: "probeStore", udf: "udf", trapIf: "trapIf",
	label: "label", fpuLoad32: "fpuLoad32", fpuLoad64: "fpuLoad64", fpuStore32: "fpuStore32",
	fpuStore64: "fpuStore64", fpuMov: "fpuMov", fpuRRR: "fpuRRR", fpuRR: "fpuRR", fpuRound: "fpuRound",
	fpuConst: "fpuConst", movToFPU: "movToFPU", movFromFPU: "movFromFPU", intToFpu: "intToFpu",
	fpuToIntSeq: "fpuToIntSeq", fpuMinMaxSeq: "fpuMinMaxSeq",
}

// String implements fmt.Stringer.
func (k instructionKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", k)
}

type aluOp byte

const (
	aluOpAdd aluOp = iota
	aluOpSub
	aluOpAnd
	aluOpOr
	aluOpXor
	// aluOpMul needs MIE2.
	aluOpMul
)

// aluRRROpcodes are the RRF-a opcodes of the aluOps.
var aluRRROpcodes = [...]struct {
	name   string
	opcode uint32
}{
	aluOpAdd: {"agrk", 0xb9e8},
	aluOpSub: {"sgrk", 0xb9e9},
	aluOpAnd: {"ngrk", 0xb9e4},
	aluOpOr:  {"ogrk", 0xb9e6},
	aluOpXor: {"xgrk", 0xb9e7},
	aluOpMul: {"msgrkc", 0xb9ed},
}

func (a aluOp) String() string { return aluRRROpcodes[a].name }

type rreOp byte

const (
	rreOpLcgr rreOp = iota
	rreOpLpgr
	rreOpLgbr
	rreOpLghr
	rreOpLgfr
	rreOpLlgcr
	rreOpLlghr
	rreOpLlgfr
	rreOpMsgr
)

var rreOpcodes = [...]struct {
	name   string
	opcode uint32
}{
	rreOpLcgr:  {"lcgr", 0xb903},
	rreOpLpgr:  {"lpgr", 0xb900},
	rreOpLgbr:  {"lgbr", 0xb906},
	rreOpLghr:  {"lghr", 0xb907},
	rreOpLgfr:  {"lgfr", 0xb914},
	rreOpLlgcr: {"llgcr", 0xb984},
	rreOpLlghr: {"llghr", 0xb985},
	rreOpLlgfr: {"llgfr", 0xb916},
	rreOpMsgr:  {"msgr", 0xb90c},
}

func (r rreOp) String() string { return rreOpcodes[r].name }

// extendOp returns the op extending the low from bits of a register to 64 bits.
func extendOp(from byte, signed bool) rreOp {
	switch {
	case from == 8 && signed:
		return rreOpLgbr
	case from == 8:
		return rreOpLlgcr
	case from == 16 && signed:
		return rreOpLghr
	case from == 16:
		return rreOpLlghr
	case from == 32 && signed:
		return rreOpLgfr
	case from == 32:
		return rreOpLlgfr
	default:
		panic(fmt.Sprintf("BUG: invalid extension from %d bits", from))
	}
}

type fpuOp byte

const (
	fpuOpAdd fpuOp = iota
	fpuOpSub
	fpuOpMul
	fpuOpDiv
	fpuOpCopysign
	fpuOpNeg
	fpuOpAbs
	fpuOpSqrt
	fpuOpPromote
	fpuOpDemote
)

// fpuOpcodes are the RRE opcodes of the fpuOps on f32 and f64. The sign ops work on the sign bit, the
// leftmost of both widths.
var fpuOpcodes = [...]struct {
	name   [2]string
	opcode [2]uint32
}{
	fpuOpAdd:      {[2]string{"aebr", "adbr"}, [2]uint32{0xb30a, 0xb31a}},
	fpuOpSub:      {[2]string{"sebr", "sdbr"}, [2]uint32{0xb30b, 0xb31b}},
	fpuOpMul:      {[2]string{"meebr", "mdbr"}, [2]uint32{0xb317, 0xb31c}},
	fpuOpDiv:      {[2]string{"debr", "ddbr"}, [2]uint32{0xb30d, 0xb31d}},
	fpuOpCopysign: {[2]string{"cpsdr", "cpsdr"}, [2]uint32{0xb372, 0xb372}},
	fpuOpNeg:      {[2]string{"lcdfr", "lcdfr"}, [2]uint32{0xb373, 0xb373}},
	fpuOpAbs:      {[2]string{"lpdfr", "lpdfr"}, [2]uint32{0xb370, 0xb370}},
	fpuOpSqrt:     {[2]string{"sqebr", "sqdbr"}, [2]uint32{0xb314, 0xb315}},
	fpuOpPromote:  {[2]string{"ldebr", "ldebr"}, [2]uint32{0xb304, 0xb304}},
	fpuOpDemote:   {[2]string{"ledbr", "ledbr"}, [2]uint32{0xb344, 0xb344}},
}

func widthIndex(bits byte) int { return b2i(bits == 64) }

func (f fpuOp) name(bits byte) string { return fpuOpcodes[f].name[widthIndex(bits)] }

func (f fpuOp) opcode(bits byte) uint32 { return fpuOpcodes[f].opcode[widthIndex(bits)] }

// Rounding modes of fiebra and fidbra.
const (
	roundNearestEven = 4
	roundTowardZero  = 5
	roundUp          = 6
	roundDown        = 7
)

type minMaxOp byte

const (
	minMaxOpMin minMaxOp = iota
	minMaxOpMax
	minMaxOpPmin
	minMaxOpPmax
)

func (o minMaxOp) String() string {
	return [...]string{minMaxOpMin: "fmin", minMaxOpMax: "fmax", minMaxOpPmin: "fmin_pseudo", minMaxOpPmax: "fmax_pseudo"}[o]
}

type shiftOp byte

const (
	shiftOpSllg shiftOp = iota
	shiftOpSrlg
	shiftOpSrag
	shiftOpRllg
	shiftOpSllk
	shiftOpSrlk
	shiftOpSrak
	shiftOpRll
)

var shiftOpcodes = [...]struct {
	name   string
	opcode uint32
}{
	shiftOpSllg: {"sllg", 0xeb0d},
	shiftOpSrlg: {"srlg", 0xeb0c},
	shiftOpSrag: {"srag", 0xeb0a},
	shiftOpRllg: {"rllg", 0xeb1c},
	shiftOpSllk: {"sllk", 0xebdf},
	shiftOpSrlk: {"srlk", 0xebde},
	shiftOpSrak: {"srak", 0xebdc},
	shiftOpRll:  {"rll", 0xeb1d},
}

func (s shiftOp) String() string { return shiftOpcodes[s].name }

type countOp byte

const (
	countOpClz countOp = iota
	countOpCtz
	countOpPopcnt
)

func (c countOp) String() string {
	return [...]string{countOpClz: "clz", countOpCtz: "ctz", countOpPopcnt: "popcnt"}[c]
}

// cond is a condition on the result of a compare, signed or unsigned.
type cond byte

const (
	condEq cond = iota
	condNe
	condLt
	condGe
	condLe
	condGt
	condLtU
	condGeU
	condLeU
	condGtU

	// The float conditions after cebr or cdbr, which set the code 3 for unordered operands.
	condFEq
	condFNe
	condFLt
	condFUge
	condFLe
	condFUgt
	condFGt
	condFUle
	condFGe
	condFUlt
	condFOrd
	condFUno
)

var condNames = [...]string{
	condEq: "eq", condNe: "ne", condLt: "lt", condGe: "ge", condLe: "le", condGt: "gt",
	condLtU: "ltu", condGeU: "geu", condLeU: "leu", condGtU: "gtu",
	condFEq: "feq", condFNe: "fne", condFLt: "flt", condFUge: "fuge", condFLe: "fle", condFUgt: "fugt",
	condFGt: "fgt", condFUle: "fule", condFGe: "fge", condFUlt: "fult", condFOrd: "ford", condFUno: "funo",
}

// String implements fmt.Stringer.
func (c cond) String() string { return condNames[c] }

// invert returns the negation of c: the conditions come in pairs.
func (c cond) invert() cond { return c ^ 1 }

func (c cond) unsigned() bool { return c >= condLtU && c <= condGtU }

// mask returns the branch mask of c: the bits of the condition codes 0 (equal), 1 (low), 2 (high) and 3
// (unordered), 8, 4, 2 and 1. The mask of ne also takes the code 3, which integer compares never set.
func (c cond) mask() uint32 {
	switch c {
	case condFEq:
		return 8
	case condFNe:
		return 7
	case condFLt:
		return 4
	case condFUge:
		return 11
	case condFLe:
		return 12
	case condFUgt:
		return 3
	case condFGt:
		return 2
	case condFUle:
		return 13
	case condFGe:
		return 10
	case condFUlt:
		return 5
	case condFOrd:
		return 14
	case condFUno:
		return 1
	case condEq:
		return 8
	case condNe:
		return 7
	case condLt, condLtU:
		return 4
	case condGe, condGeU:
		return 10
	case condLe, condLeU:
		return 12
	case condGt, condGtU:
		return 2
	default:
		panic("BUG: invalid cond")
	}
}

// String implements fmt.Stringer.
func (i *instruction) String() string {
	r := formatVReg
	switch i.kind {
	case nop0:
		return "nop0"
	case args:
		return "args " + i.formatFixed()
	case ret:
		if i.imm != 0 {
			return fmt.Sprintf("ret %d %s", i.imm, i.formatFixed())
		}
		return strings.TrimSpace("ret " + i.formatFixed())
	case loadConst:
		return fmt.Sprintf("lgfi %s, %#x", r(i.rd), i.imm)
	case symbolValue:
		return fmt.Sprintf("load_ext_name %s, %s+%d", r(i.rd), i.sym, i.imm)
	case mov:
		return fmt.Sprintf("lgr %s, %s", r(i.rd), r(i.rn))
	case aluRRR:
		return fmt.Sprintf("%s %s, %s, %s", aluOp(i.op), r(i.rd), r(i.rn), r(i.rm))
	case aluRR, unaryRR:
		return fmt.Sprintf("%s %s, %s", rreOp(i.op), r(i.rd), r(i.rn))
	case addImm:
		return fmt.Sprintf("lay %s, %d(%s)", r(i.rd), i.imm, r(i.rn))
	case shift:
		if i.rm.Valid() {
			return fmt.Sprintf("%s %s, %s, %d(%s)", shiftOp(i.op), r(i.rd), r(i.rn), i.imm, r(i.rm))
		}
		return fmt.Sprintf("%s %s, %s, %d", shiftOp(i.op), r(i.rd), r(i.rn), i.imm)
	case mulhiSeq:
		name := "umulhi"
		if i.signed {
			name = "smulhi"
		}
		return fmt.Sprintf("%s %s, %s, %s", name, r(i.rd), r(i.rn), r(i.rm))
	case divRemSeq:
		name := [2][2]string{{"udiv", "urem"}, {"sdiv", "srem"}}[b2i(i.signed)][b2i(i.imm != 0)]
		return fmt.Sprintf("%s %s, %s, %s", name, r(i.rd), r(i.rn), r(i.rm))
	case bitCountSeq:
		return fmt.Sprintf("%s%d %s, %s", countOp(i.op), i.bits, r(i.rd), r(i.rn))
	case uLoad8, uLoad16, uLoad32, sLoad8, sLoad16, sLoad32, load64:
		return fmt.Sprintf("%s %s, %s", memNames[i.kind], r(i.rd), i.amode.String())
	case store8, store16, store32, store64:
		return fmt.Sprintf("%s %s, %s", memNames[i.kind], r(i.rn), i.amode.String())
	case loadAddr:
		return fmt.Sprintf("lay %s, %s", r(i.rd), i.amode.String())
	case adjustSP:
		return fmt.Sprintf("agfi %%r15, %d", i.imm)
	case saveRegs:
		return fmt.Sprintf("stmg %s, %%r15, %d(%%r15)", regNames[r0+regalloc.RealReg(i.imm)], 8*i.imm)
	case restoreRegs:
		return fmt.Sprintf("lmg %s, %%r15, frame+%d(%%r15)", regNames[r0+regalloc.RealReg(i.imm)], 8*i.imm)
	case setCC:
		return fmt.Sprintf("set%s %s, %s", i.cond, r(i.rd), i.formatCompare())
	case selectSeq:
		return fmt.Sprintf("select%s %s, %s, %s, %s", i.cond, r(i.rd), i.formatCompare(), r(i.ra), r(i.rb))
	case br:
		return fmt.Sprintf("j %s", i.label)
	case condBr:
		return fmt.Sprintf("j%s %s, %s", i.cond, i.formatCompare(), i.label)
	case brTableSeq:
		return fmt.Sprintf("br_table %s, %s, %v", r(i.rn), i.label, i.targets)
	case call:
		return strings.TrimSpace(fmt.Sprintf("brasl %%r14, %s %s", i.sym, i.formatFixed()))
	case callInd:
		return strings.TrimSpace(fmt.Sprintf("basr %%r14, %s %s", r(i.rn), i.formatFixed()))
	case tailCall:
		target := i.sym
		if i.rn.Valid() {
			target = r(i.rn)
		}
		return strings.TrimSpace(fmt.Sprintf("return_call %s sp+%d %s", target, i.imm, i.formatFixed()))
	case probeLoop:
		return fmt.Sprintf("probe_loop %d, %d", i.imm, i.imm2)
	case probeStore:
		return fmt.Sprintf("mvi -%d(%%r15), 0", i.imm)
	case udf:
		return fmt.Sprintf("udf %s", i.trap)
	case trapIf:
		return fmt.Sprintf("trap%s %s, %s", i.cond, i.formatCompare(), i.trap)
	case label:
		return i.label.String() + ":"
	case fpuLoad32, fpuLoad64:
		return fmt.Sprintf("%s %s, %s", memNames[i.kind], r(i.rd), i.amode.String())
	case fpuStore32, fpuStore64:
		return fmt.Sprintf("%s %s, %s", memNames[i.kind], r(i.rn), i.amode.String())
	case fpuMov:
		return fmt.Sprintf("ldr %s, %s", r(i.rd), r(i.rn))
	case fpuRRR:
		return fmt.Sprintf("%s %s, %s, %s", fpuOp(i.op).name(i.bits), r(i.rd), r(i.rn), r(i.rm))
	case fpuRR:
		return fmt.Sprintf("%s %s, %s", fpuOp(i.op).name(i.bits), r(i.rd), r(i.rn))
	case fpuRound:
		return fmt.Sprintf("fi%sbra %s, %d, %s", [2]string{"e", "d"}[widthIndex(i.bits)], r(i.rd), i.imm, r(i.rn))
	case fpuConst:
		return fmt.Sprintf("fconst%d %s, %#x", i.bits, r(i.rd), uint64(i.imm))
	case movToFPU:
		return fmt.Sprintf("ldgr%d %s, %s", i.bits, r(i.rd), r(i.rn))
	case movFromFPU:
		return fmt.Sprintf("lgdr%d %s, %s", i.bits, r(i.rd), r(i.rn))
	case intToFpu:
		name := "cvt_sint_to_f"
		if !i.signed {
			name = "cvt_uint_to_f"
		}
		return fmt.Sprintf("%s%d %s, %s", name, i.bits, r(i.rd), r(i.rn))
	case fpuToIntSeq:
		name := "cvt_f%d_to_sint%d"
		if !i.signed {
			name = "cvt_f%d_to_uint%d"
		}
		return fmt.Sprintf(name+" %s, %s", i.bits, 64>>b2i(i._32), r(i.rd), r(i.rn))
	case fpuMinMaxSeq:
		return fmt.Sprintf("%s%d %s, %s, %s", minMaxOp(i.op), i.bits, r(i.rd), r(i.rn), r(i.rm))
	default:
		panic(fmt.Sprintf("BUG: unknown instruction kind %s", i.kind))
	}
}

var memNames = map[instructionKind]string{
	uLoad8: "llgc", uLoad16: "llgh", uLoad32: "llgf", sLoad8: "lgb", sLoad16: "lgh", sLoad32: "lgf", load64: "lg",
	store8: "stcy", store16: "sthy", store32: "sty", store64: "stg",
	fpuLoad32: "le", fpuLoad64: "ld", fpuStore32: "ste", fpuStore64: "std",
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (i *instruction) formatCompare() string {
	w := "64"
	if i._32 {
		w = "32"
	}
	if i.fcmp {
		return fmt.Sprintf("fcmp%s %s, %s", w, formatVReg(i.rn), formatVReg(i.rm))
	}
	if i.rm.Valid() {
		return fmt.Sprintf("cmp%s %s, %s", w, formatVReg(i.rn), formatVReg(i.rm))
	}
	return fmt.Sprintf("cmp%s %s, %d", w, formatVReg(i.rn), i.imm)
}

func (i *instruction) formatFixed() string {
	var b strings.Builder
	for j, f := range i.fixed {
		if j > 0 {
			b.WriteString(", ")
		}
		if f.def {
			b.WriteString("def ")
		}
		fmt.Fprintf(&b, "%s=%s", formatVReg(f.v), regNames[f.r])
	}
	return b.String()
}

// visit calls f with each register operand of the instruction, in a stable order.
func (i *instruction) visit(f func(p *regalloc.VReg, op regalloc.Operand)) {
	fixed := func() {
		for j := range i.fixed {
			fo := &i.fixed[j]
			if fo.def {
				f(&fo.v, regalloc.Def(fo.v).FixedTo(fo.r))
			} else {
				f(&fo.v, regalloc.Use(fo.v).FixedTo(fo.r))
			}
		}
	}
	use := func(p *regalloc.VReg) { f(p, regalloc.Use(*p)) }
	def := func(p *regalloc.VReg) { f(p, regalloc.Def(*p)) }
	compare := func() {
		use(&i.rn)
		if i.rm.Valid() {
			use(&i.rm)
		}
	}

	switch i.kind {
	case args, ret, call:
		fixed()
	case callInd:
		use(&i.rn)
		fixed()
	case tailCall:
		if i.rn.Valid() {
			f(&i.rn, regalloc.Use(i.rn).FixedTo(r1))
		}
		fixed()
	case loadConst, symbolValue:
		def(&i.rd)
	case mov, unaryRR, addImm, bitCountSeq:
		use(&i.rn)
		def(&i.rd)
	case aluRRR, mulhiSeq, divRemSeq:
		use(&i.rn)
		use(&i.rm)
		def(&i.rd)
	case aluRR:
		use(&i.rn)
		f(&i.rd, regalloc.Mod(i.rd))
	case shift:
		use(&i.rn)
		if i.rm.Valid() {
			use(&i.rm)
		}
		def(&i.rd)
	case uLoad8, uLoad16, uLoad32, sLoad8, sLoad16, sLoad32, load64, loadAddr, fpuLoad32, fpuLoad64:
		i.amode.visit(f)
		def(&i.rd)
	case store8, store16, store32, store64, fpuStore32, fpuStore64:
		use(&i.rn)
		i.amode.visit(f)
	case fpuMov, fpuRR, fpuRound, movToFPU, movFromFPU, intToFpu, fpuToIntSeq:
		use(&i.rn)
		def(&i.rd)
	case fpuRRR, fpuMinMaxSeq:
		use(&i.rn)
		use(&i.rm)
		f(&i.rd, regalloc.Def(i.rd).Early())
	case fpuConst:
		def(&i.rd)
	case setCC:
		compare()
		def(&i.rd)
	case selectSeq:
		compare()
		use(&i.ra)
		use(&i.rb)
		f(&i.rd, regalloc.Def(i.rd).Early())
	case condBr, trapIf:
		compare()
	case brTableSeq:
		use(&i.rn)
	case nop0, adjustSP, saveRegs, restoreRegs, br, probeLoop, probeStore, udf, label:
	default:
		panic(fmt.Sprintf("BUG: unknown instruction kind %s", i.kind))
	}
}

// Operands implements regalloc.Instr.
func (i *instruction) Operands(ops []regalloc.Operand) []regalloc.Operand {
	i.visit(func(_ *regalloc.VReg, op regalloc.Operand) {
		ops = append(ops, op)
	})
	return ops
}

// AssignOperand implements regalloc.Instr.
func (i *instruction) AssignOperand(idx int, r regalloc.RealReg) {
	n := 0
	i.visit(func(p *regalloc.VReg, _ regalloc.Operand) {
		if n == idx {
			*p = p.SetRealReg(r)
		}
		n++
	})
}

// Clobbers implements regalloc.Instr.
func (i *instruction) Clobbers() regalloc.RegSet { return i.clobbers }

// IsCopy implements regalloc.Instr.
func (i *instruction) IsCopy() bool { return i.kind == mov || i.kind == fpuMov }

// IsCall implements regalloc.Instr.
func (i *instruction) IsCall() bool { return i.kind == call || i.kind == callInd }

// IsTerminator implements regalloc.Instr.
func (i *instruction) IsTerminator() bool {
	switch i.kind {
	case ret, br, condBr, brTableSeq, tailCall, udf:
		return true
	default:
		return false
	}
}

func (i *instruction) isLoadStore() bool {
	switch i.kind {
	case uLoad8, uLoad16, uLoad32, sLoad8, sLoad16, sLoad32, load64, store8, store16, store32, store64,
		fpuLoad32, fpuLoad64, fpuStore32, fpuStore64:
		return true
	default:
		return false
	}
}

// trapCode returns the code of a fault of the instruction itself or of its memory access.
func (i *instruction) trapCode() codegenapi.TrapCode {
	if i.trap != codegenapi.TrapCodeInvalid {
		return i.trap
	}
	if i.isLoadStore() {
		return i.amode.trap
	}
	return codegenapi.TrapCodeInvalid
}

func (i *instruction) asNop0() *instruction {
	i.kind = nop0
	return i
}

func (i *instruction) asLoadConst(rd regalloc.VReg, v int64) *instruction {
	i.kind = loadConst
	i.rd = rd
	i.imm = v
	return i
}

func (i *instruction) asSymbolValue(sym string, addend int64, rd regalloc.VReg) *instruction {
	i.kind = symbolValue
	i.sym = sym
	i.imm = addend
	i.rd = rd
	return i
}

func (i *instruction) asMov(rd, rn regalloc.VReg) *instruction {
	i.kind = mov
	i.rd, i.rn = rd, rn
	return i
}

func (i *instruction) asALU(op aluOp, rd, rn, rm regalloc.VReg) *instruction {
	i.kind = aluRRR
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	return i
}

// asALURR computes rd = rd op rn.
func (i *instruction) asALURR(op rreOp, rd, rn regalloc.VReg) *instruction {
	i.kind = aluRR
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	return i
}

func (i *instruction) asUnary(op rreOp, rd, rn regalloc.VReg) *instruction {
	i.kind = unaryRR
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	return i
}

func (i *instruction) asExtend(rd, rn regalloc.VReg, from byte, signed bool) *instruction {
	return i.asUnary(extendOp(from, signed), rd, rn)
}

func (i *instruction) asAddImm(rd, rn regalloc.VReg, imm int64) *instruction {
	i.kind = addImm
	i.rd, i.rn = rd, rn
	i.imm = imm
	return i
}

// asShift shifts rn by imm plus rm, if valid.
func (i *instruction) asShift(op shiftOp, rd, rn, rm regalloc.VReg, imm int64) *instruction {
	i.kind = shift
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.imm = imm
	return i
}

func (i *instruction) asMulhiSeq(rd, rn, rm regalloc.VReg, signed bool) *instruction {
	i.kind = mulhiSeq
	i.rd, i.rn, i.rm = rd, rn, rm
	i.signed = signed
	return i
}

func (i *instruction) asDivRemSeq(rd, rn, rm regalloc.VReg, signed, rem bool) *instruction {
	i.kind = divRemSeq
	i.rd, i.rn, i.rm = rd, rn, rm
	i.signed = signed
	if rem {
		i.imm = 1
	}
	return i
}

// asBitCountSeq counts in the zero-extended width low bits of rn.
func (i *instruction) asBitCountSeq(op countOp, rd, rn regalloc.VReg, width byte) *instruction {
	i.kind = bitCountSeq
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.bits = width
	return i
}

func (i *instruction) asLoad(kind instructionKind, rd regalloc.VReg, a addressMode) *instruction {
	i.kind = kind
	i.rd = rd
	i.amode = a
	return i
}

func (i *instruction) asStore(kind instructionKind, rn regalloc.VReg, a addressMode) *instruction {
	i.kind = kind
	i.rn = rn
	i.amode = a
	return i
}

func (i *instruction) asLoadAddr(rd regalloc.VReg, a addressMode) *instruction {
	i.kind = loadAddr
	i.rd = rd
	i.amode = a
	return i
}

func (i *instruction) asAdjustSP(imm int64) *instruction {
	i.kind = adjustSP
	i.imm = imm
	return i
}

// asSaveRegs stores the registers from first to %r15 in their slots of the register save area.
func (i *instruction) asSaveRegs(first regalloc.RealReg) *instruction {
	i.kind = saveRegs
	i.imm = int64(regNumberInEncoding(first))
	return i
}

// asRestoreRegs reloads the registers from first to %r15, the stack pointer of the caller included.
func (i *instruction) asRestoreRegs(first regalloc.RealReg) *instruction {
	i.kind = restoreRegs
	i.imm = int64(regNumberInEncoding(first))
	return i
}

// withCompare sets the operands compared by the kinds testing cond: rn against rm, or against imm if rm
// is invalid.
func (i *instruction) withCompare(c cond, rn, rm regalloc.VReg, imm int64, _32 bool) *instruction {
	i.cond = c
	i.rn, i.rm = rn, rm
	i.imm = imm
	i._32 = _32
	return i
}

// withFloatCompare compares the floats of bits rn and rm, c being one of the float conditions.
func (i *instruction) withFloatCompare(c cond, rn, rm regalloc.VReg, bits byte) *instruction {
	i.cond = c
	i.rn, i.rm = rn, rm
	i.fcmp = true
	i._32 = bits == 32
	return i
}

func (i *instruction) asSetCC(rd regalloc.VReg) *instruction {
	i.kind = setCC
	i.rd = rd
	return i
}

// asSelectSeq sets rd to ra if the compare holds, rb otherwise.
func (i *instruction) asSelectSeq(rd, ra, rb regalloc.VReg) *instruction {
	i.kind = selectSeq
	i.rd, i.ra, i.rb = rd, ra, rb
	return i
}

func (i *instruction) asBr(l backend.Label) *instruction {
	i.kind = br
	i.label = l
	return i
}

func (i *instruction) asCondBr(l backend.Label) *instruction {
	i.kind = condBr
	i.label = l
	return i
}

func (i *instruction) asBrTableSequence(idx regalloc.VReg, targets []backend.Label, defaultTarget backend.Label) *instruction {
	i.kind = brTableSeq
	i.rn = idx
	i.targets = targets
	i.label = defaultTarget
	return i
}

func (i *instruction) asCall(sym string, colocated bool, abi *backend.FunctionABI) *instruction {
	i.kind = call
	i.sym = sym
	i.colocated = colocated
	i.abi = abi
	i.clobbers = regInfo.CallerSavedRegisters
	return i
}

func (i *instruction) asCallIndirect(ptr regalloc.VReg, abi *backend.FunctionABI) *instruction {
	i.kind = callInd
	i.rn = ptr
	i.abi = abi
	i.clobbers = regInfo.CallerSavedRegisters
	return i
}

// asTailCall jumps to the callee once the stack pointer is spAdjust bytes above the one at the entry.
func (i *instruction) asTailCall(sym string, colocated bool, ptr regalloc.VReg, abi *backend.FunctionABI, spAdjust int64) *instruction {
	i.kind = tailCall
	i.sym = sym
	i.colocated = colocated
	i.rn = ptr
	i.abi = abi
	i.imm = spAdjust
	return i
}

func (i *instruction) asProbeLoop(frameSize, pageSize int64) *instruction {
	i.kind = probeLoop
	i.imm = frameSize
	i.imm2 = pageSize
	return i
}

func (i *instruction) asProbeStore(off int64) *instruction {
	i.kind = probeStore
	i.imm = off
	return i
}

func (i *instruction) asRet(popBytes int64) *instruction {
	i.kind = ret
	i.imm = popBytes
	return i
}

func (i *instruction) asArgs() *instruction {
	i.kind = args
	return i
}

func (i *instruction) asUDF(code codegenapi.TrapCode) *instruction {
	i.kind = udf
	i.trap = code
	return i
}

func (i *instruction) asTrapIf(code codegenapi.TrapCode) *instruction {
	i.kind = trapIf
	i.trap = code
	return i
}

func (i *instruction) asLabel(l backend.Label) *instruction {
	i.kind = label
	i.label = l
	return i
}

func (i *instruction) asFpuMov(rd, rn regalloc.VReg) *instruction {
	i.kind = fpuMov
	i.rd, i.rn = rd, rn
	return i
}

func (i *instruction) asFpuRRR(op fpuOp, rd, rn, rm regalloc.VReg, bits byte) *instruction {
	i.kind = fpuRRR
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.bits = bits
	return i
}

// asFpuRR computes rd = op(rn), bits being the width of rn.
func (i *instruction) asFpuRR(op fpuOp, rd, rn regalloc.VReg, bits byte) *instruction {
	i.kind = fpuRR
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.bits = bits
	return i
}

func (i *instruction) asFpuRound(rd, rn regalloc.VReg, mode int64, bits byte) *instruction {
	i.kind = fpuRound
	i.rd, i.rn = rd, rn
	i.imm = mode
	i.bits = bits
	return i
}

// asFpuConst loads the float of bits whose representation is v.
func (i *instruction) asFpuConst(rd regalloc.VReg, v uint64, bits byte) *instruction {
	i.kind = fpuConst
	i.rd = rd
	i.imm = int64(v)
	i.bits = bits
	return i
}

// asMovToFPU moves the low bits of the integer rn into the float rd.
func (i *instruction) asMovToFPU(rd, rn regalloc.VReg, bits byte) *instruction {
	i.kind = movToFPU
	i.rd, i.rn = rd, rn
	i.bits = bits
	return i
}

// asMovFromFPU moves the bits of the float rn into the integer rd, zero-extended.
func (i *instruction) asMovFromFPU(rd, rn regalloc.VReg, bits byte) *instruction {
	i.kind = movFromFPU
	i.rd, i.rn = rd, rn
	i.bits = bits
	return i
}

// asIntToFpu converts the 64-bit integer rn to a float of bits.
func (i *instruction) asIntToFpu(rd, rn regalloc.VReg, signed bool, bits byte) *instruction {
	i.kind = intToFpu
	i.rd, i.rn = rd, rn
	i.signed = signed
	i.bits = bits
	return i
}

// asFpuToIntSeq converts the float of bits rn to an integer of 32 or 64 bits, truncating.
func (i *instruction) asFpuToIntSeq(rd, rn regalloc.VReg, signed, dst64 bool, bits byte) *instruction {
	i.kind = fpuToIntSeq
	i.rd, i.rn = rd, rn
	i.signed = signed
	i._32 = !dst64
	i.bits = bits
	return i
}

func (i *instruction) asFpuMinMaxSeq(op minMaxOp, rd, rn, rm regalloc.VReg, bits byte) *instruction {
	i.kind = fpuMinMaxSeq
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.bits = bits
	return i
}

func (i *instruction) addFixed(v regalloc.VReg, r regalloc.VReg, def bool) {
	i.fixed = append(i.fixed, fixedOperand{v: v, r: r.RealReg(), def: def})
}
