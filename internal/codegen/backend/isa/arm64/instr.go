package arm64

import (
	"fmt"
	"strings"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

type instruction struct {
	kind instructionKind
	// op is the sub-opcode of the kind: an aluOp, bitOp, fpuOp, vecOp or condSelOp.
	op  byte
	cc  condFlag
	_64 bool

	rd, rn, rm, ra regalloc.VReg
	amode          addressMode

	imm uint64
	// imm2 is the high half of the 128-bit literals and the page size of probeLoop.
	imm2 uint64
	// shift is the hw field of the 16-bit moves, the lsl #12 of the 12-bit immediates and the nzcv of ccmp.
	shift byte
	arr   vecArrangement
	lane  byte
	lane2 byte
	// signed is the signedness of the extensions and the conversions.
	signed bool
	// bits is the width of the float of the conversions, and the source width of the extensions.
	bits   byte
	brKind brKind

	label     backend.Label
	targets   []backend.Label
	trap      codegenapi.TrapCode
	sym       string
	colocated bool
	abi       *backend.FunctionABI
	fixed     []fixedOperand
	refs      []regalloc.VReg
	clobbers  regalloc.RegSet
	// unwind is recorded right after the instruction when its Kind is set.
	unwind backend.UnwindInst
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

	// Return, after the epilogue, popping imm bytes of arguments.
	ret

	// Materializes a 32 or 64-bit constant with movz, movn and movk.
	loadConst

	// Loads the address of sym plus imm from an inline literal with an absolute relocation.
	symbolValue

	// Register to register move: mov (w x).
	mov64
	mov32

	// Three register integer ops: add, sub, logical ops, variable shifts, divisions, high multiplications, adc.
	aluRRR

	// add, sub, adds, subs with a 12-bit immediate, optionally shifted by 12.
	aluRRImm12

	// and, orr, eor, ands with a bitmask immediate.
	aluRRBitmaskImm

	// Shifts and rotations by an immediate: lsl, lsr, asr (aliases of ubfm, sbfm) and ror (extr).
	aluRRImmShift

	// madd and msub: rd = ra +/- rn*rm.
	aluRRRR

	// rbit and clz.
	bitRR

	// Sign or zero extension from bits to 32 or 64 bits.
	extend

	// Conditional selects: csel, csinc, csinv, csneg.
	cSel

	// Materializes the condition as 1 (cset) or -1 (csetm).
	cSet

	// Conditional compare with a 5-bit immediate.
	ccmpImm

	// Integer loads, zero or sign-extending to 64 bits.
	uLoad8
	uLoad16
	uLoad32
	uLoad64
	sLoad8
	sLoad16
	sLoad32

	// Float and vector loads.
	fpuLoad32
	fpuLoad64
	fpuLoad128

	// Integer stores.
	store8
	store16
	store32
	store64

	// Float and vector stores.
	fpuStore32
	fpuStore64
	fpuStore128

	// Pair of 64-bit loads and stores of real registers, for the frame record.
	loadP64
	storeP64

	// Computes the address of amode.
	loadAddr

	// Adds or subtracts imm to sp, through x16 when it does not fit an immediate.
	adjustSP

	// Scalar float binary ops.
	fpuRRR

	// Scalar float unary ops, rounding and conversions between float widths.
	fpuRR

	// fcmp.
	fpuCmp

	// fcsel.
	fpuCSel

	// Move between float or vector registers, the whole 128 bits.
	fpuMov

	// fmov from a general purpose register.
	movToFPU

	// fmov to a general purpose register.
	movFromFPU

	// scvtf and ucvtf.
	intToFpu

	// fcvtzs and fcvtzu, trapping on NaN and on values out of the range of the integer.
	fpuToIntSeq

	// Float and vector constants in an inline literal.
	loadFpuConst32
	loadFpuConst64
	loadFpuConst128

	// Vector ops of the three same register class.
	vecRRR

	// Vector ops of the two register miscellaneous class.
	vecMisc

	// Reductions across the lanes: addv, uaddlv.
	vecLanes

	// Vector shifts by an immediate.
	vecShiftImm

	// dup from a general purpose register, and from a lane.
	vecDup
	vecDupElement

	// ins from a general purpose register.
	movToVec

	// umov and smov.
	movFromVec

	// ins from a lane of another vector.
	vecMovElement

	// Vector conditional move, as a branch over a mov.
	vecCmove

	// Unconditional branch to a label.
	br

	// Branch on the flags, or on a register being zero or not.
	condBr

	// Jump-table sequence, as one compound instruction.
	brTableSeq

	// Direct call: bl, or blr through a literal when not colocated.
	call

	// Indirect call: blr.
	callInd

	// Tail call, replacing the frame of the current function.
	tailCall

	// Touches one word per page of the frame in a loop.
	probeLoop

	// Touches the word imm bytes below sp.
	probeStore

	// Permanently undefined, with the trap code as immediate.
	udf

	// Traps on the flags, or on a register being zero or not.
	trapIf

	// A local label in the middle of a block.
	label
)

var kindNames = map[instructionKind]string{
	nop0: "nop0", args: "args", ret: "ret", loadConst: "loadConst", symbolValue: "symbolValue",
	mov64: "mov64", mov32: "mov32", aluRRR: "aluRRR", aluRRImm12: "aluRRImm12",
	aluRRBitmaskImm: "aluRRBitmaskImm", aluRRImmShift: "aluRRImmShift", aluRRRR: "aluRRRR",
	bitRR: "bitRR", extend: "extend", cSel: "cSel", cSet: "cSet", ccmpImm: "ccmpImm",
	uLoad8: "uLoad8", uLoad16: "uLoad16", uLoad32: "uLoad32", uLoad64: "uLoad64",
	sLoad8: "sLoad8", sLoad16: "sLoad16", sLoad32: "sLoad32",
	fpuLoad32: "fpuLoad32", fpuLoad64: "fpuLoad64", fpuLoad128: "fpuLoad128",
	store8: "store8", store16: "store16", store32: "store32", store64: "store64",
	fpuStore32: "fpuStore32", fpuStore64: "fpuStore64", fpuStore128: "fpuStore128",
	loadP64: "loadP64", storeP64: "storeP64", loadAddr: "loadAddr", adjustSP: "adjustSP",
	fpuRRR: "fpuRRR", fpuRR: "fpuRR", fpuCmp: "fpuCmp", fpuCSel: "fpuCSel", fpuMov: "fpuMov",
	movToFPU: "movToFPU", movFromFPU: "movFromFPU", intToFpu: "intToFpu", fpuToIntSeq: "fpuToIntSeq",
	loadFpuConst32: "loadFpuConst32", loadFpuConst64: "loadFpuConst64", loadFpuConst128: "loadFpuConst128",
	vecRRR: "vecRRR", vecMisc: "vecMisc", vecLanes: "vecLanes", vecShiftImm: "vecShiftImm",
	vecDup: "vecDup", vecDupElement: "vecDupElement", movToVec: "movToVec", movFromVec: "movFromVec",
	vecMovElement: "vecMovElement", vecCmove: "vecCmove", br: "br", condBr: "condBr",
	brTableSeq: "brTableSeq", call: "call", callInd: "callInd", tailCall: "tailCall",
	probeLoop: "probeLoop", probeStore: "probeStore", udf: "udf", trapIf: "trapIf", label: "label",
}

// String implements fmt.Stringer.
func (k instructionKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	panic(fmt.Sprintf("BUG: unknown instruction kind %d", k))
}

type aluOp byte

const (
	aluOpAdd aluOp = iota + 1
	aluOpSub
	aluOpAddS
	aluOpSubS
	aluOpAnd
	aluOpAndS
	aluOpOrr
	aluOpEor
	aluOpBic
	aluOpOrn
	aluOpLsl
	aluOpLsr
	aluOpAsr
	aluOpRor
	aluOpSDiv
	aluOpUDiv
	aluOpSMulH
	aluOpUMulH
	aluOpAdc
	aluOpSbc
	aluOpAdcS
	aluOpSbcS
	// aluOpMAdd and aluOpMSub are the ops of aluRRRR.
	aluOpMAdd
	aluOpMSub
)

var aluOpNames = [...]string{
	aluOpAdd: "add", aluOpSub: "sub", aluOpAddS: "adds", aluOpSubS: "subs", aluOpAnd: "and", aluOpAndS: "ands",
	aluOpOrr: "orr", aluOpEor: "eor", aluOpBic: "bic", aluOpOrn: "orn", aluOpLsl: "lsl", aluOpLsr: "lsr",
	aluOpAsr: "asr", aluOpRor: "ror", aluOpSDiv: "sdiv", aluOpUDiv: "udiv", aluOpSMulH: "smulh",
	aluOpUMulH: "umulh", aluOpAdc: "adc", aluOpSbc: "sbc", aluOpAdcS: "adcs", aluOpSbcS: "sbcs",
	aluOpMAdd: "madd", aluOpMSub: "msub",
}

// String implements fmt.Stringer.
func (a aluOp) String() string {
	if int(a) < len(aluOpNames) && aluOpNames[a] != "" {
		return aluOpNames[a]
	}
	panic("BUG: invalid aluOp")
}

type bitOp byte

const (
	bitOpRbit bitOp = iota + 1
	bitOpClz
)

// String implements fmt.Stringer.
func (b bitOp) String() string {
	switch b {
	case bitOpRbit:
		return "rbit"
	case bitOpClz:
		return "clz"
	default:
		panic("BUG: invalid bitOp")
	}
}

// condSelOp is the op of cSel.
type condSelOp byte

const (
	condSelOpCsel condSelOp = iota
	condSelOpCsinc
	condSelOpCsinv
	condSelOpCsneg
)

var condSelOpNames = [...]string{"csel", "csinc", "csinv", "csneg"}

// String implements fmt.Stringer.
func (c condSelOp) String() string { return condSelOpNames[c] }

// fpuOp is the op of fpuRRR and fpuRR.
type fpuOp byte

const (
	fpuOpAdd fpuOp = iota + 1
	fpuOpSub
	fpuOpMul
	fpuOpDiv
	fpuOpMax
	fpuOpMin

	fpuOpAbs
	fpuOpNeg
	fpuOpSqrt
	fpuOpRintN
	fpuOpRintP
	fpuOpRintM
	fpuOpRintZ
	// fpuOpCvt32To64 and fpuOpCvt64To32 convert between the float widths.
	fpuOpCvt32To64
	fpuOpCvt64To32
)

var fpuOpNames = [...]string{
	fpuOpAdd: "fadd", fpuOpSub: "fsub", fpuOpMul: "fmul", fpuOpDiv: "fdiv", fpuOpMax: "fmax", fpuOpMin: "fmin",
	fpuOpAbs: "fabs", fpuOpNeg: "fneg", fpuOpSqrt: "fsqrt", fpuOpRintN: "frintn", fpuOpRintP: "frintp",
	fpuOpRintM: "frintm", fpuOpRintZ: "frintz", fpuOpCvt32To64: "fcvt", fpuOpCvt64To32: "fcvt",
}

// String implements fmt.Stringer.
func (f fpuOp) String() string {
	if int(f) < len(fpuOpNames) && fpuOpNames[f] != "" {
		return fpuOpNames[f]
	}
	panic("BUG: invalid fpuOp")
}

// vecOp is the op of the vector kinds.
type vecOp byte

const (
	vecOpAdd vecOp = iota + 1
	vecOpSub
	vecOpMul
	vecOpSmax
	vecOpSmin
	vecOpUmax
	vecOpUmin
	vecOpAddp
	vecOpSshl
	vecOpUshl
	vecOpCmeq
	vecOpCmgt
	vecOpCmhi
	vecOpCmge
	vecOpCmhs
	vecOpAnd
	vecOpBic
	vecOpOrr
	vecOpOrn
	vecOpEor
	vecOpBsl
	vecOpFadd
	vecOpFsub
	vecOpFmul
	vecOpFdiv
	vecOpFmax
	vecOpFmin
	vecOpFcmeq
	vecOpFcmge
	vecOpFcmgt

	vecOpNeg
	vecOpAbs
	vecOpNot
	vecOpCnt
	vecOpFneg
	vecOpFabs
	vecOpFsqrt
	vecOpFrintn
	vecOpFrintm
	vecOpFrintp
	vecOpFrintz
	vecOpScvtf
	vecOpUcvtf

	vecOpAddv
	vecOpUaddlv

	vecOpShl
	vecOpSshr
	vecOpUshr
)

var vecOpNames = [...]string{
	vecOpAdd: "add", vecOpSub: "sub", vecOpMul: "mul", vecOpSmax: "smax", vecOpSmin: "smin", vecOpUmax: "umax",
	vecOpUmin: "umin", vecOpAddp: "addp", vecOpSshl: "sshl", vecOpUshl: "ushl", vecOpCmeq: "cmeq",
	vecOpCmgt: "cmgt", vecOpCmhi: "cmhi", vecOpCmge: "cmge", vecOpCmhs: "cmhs", vecOpAnd: "and",
	vecOpBic: "bic", vecOpOrr: "orr", vecOpOrn: "orn", vecOpEor: "eor", vecOpBsl: "bsl", vecOpFadd: "fadd",
	vecOpFsub: "fsub", vecOpFmul: "fmul", vecOpFdiv: "fdiv", vecOpFmax: "fmax", vecOpFmin: "fmin",
	vecOpFcmeq: "fcmeq", vecOpFcmge: "fcmge", vecOpFcmgt: "fcmgt", vecOpNeg: "neg", vecOpAbs: "abs",
	vecOpNot: "not", vecOpCnt: "cnt", vecOpFneg: "fneg", vecOpFabs: "fabs", vecOpFsqrt: "fsqrt",
	vecOpFrintn: "frintn", vecOpFrintm: "frintm", vecOpFrintp: "frintp", vecOpFrintz: "frintz",
	vecOpScvtf: "scvtf", vecOpUcvtf: "ucvtf", vecOpAddv: "addv", vecOpUaddlv: "uaddlv", vecOpShl: "shl",
	vecOpSshr: "sshr", vecOpUshr: "ushr",
}

// String implements fmt.Stringer.
func (v vecOp) String() string {
	if int(v) < len(vecOpNames) && vecOpNames[v] != "" {
		return vecOpNames[v]
	}
	panic("BUG: invalid vecOp")
}

// condFlag is an AArch64 condition code.
type condFlag byte

const (
	eq condFlag = iota // equal
	ne                 // not equal
	hs                 // unsigned higher or same
	lo                 // unsigned lower
	mi                 // negative
	pl                 // positive or zero
	vs                 // overflow, unordered after fcmp
	vc                 // no overflow
	hi                 // unsigned higher
	ls                 // unsigned lower or same
	ge                 // signed greater or equal
	lt                 // signed less than
	gt                 // signed greater than
	le                 // signed less or equal
	al                 // always
	nv                 // always
)

var condNames = [...]string{"eq", "ne", "hs", "lo", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le", "al", "nv"}

// String implements fmt.Stringer.
func (c condFlag) String() string { return condNames[c] }

func (c condFlag) invert() condFlag { return c ^ 1 }

// brKind tells what condBr and trapIf test.
type brKind byte

const (
	// brKindFlags tests the condition cc on the flags.
	brKindFlags brKind = iota
	// brKindZero tests rn == 0.
	brKindZero
	// brKindNotZero tests rn != 0.
	brKindNotZero
)

// vecArrangement is the shape of a vector operand, or the element size of a lane operand.
type vecArrangement byte

const (
	vecArrangementNone vecArrangement = iota
	vecArrangement8B
	vecArrangement16B
	vecArrangement4H
	vecArrangement8H
	vecArrangement2S
	vecArrangement4S
	vecArrangement1D
	vecArrangement2D
	vecArrangementB
	vecArrangementH
	vecArrangementS
	vecArrangementD
)

var vecArrangementNames = [...]string{"", "8b", "16b", "4h", "8h", "2s", "4s", "1d", "2d", "b", "h", "s", "d"}

// String implements fmt.Stringer.
func (v vecArrangement) String() string { return vecArrangementNames[v] }

// size returns the size field of the encodings: log2 of the lane bytes.
func (v vecArrangement) size() uint32 {
	switch v {
	case vecArrangement8B, vecArrangement16B, vecArrangementB:
		return 0
	case vecArrangement4H, vecArrangement8H, vecArrangementH:
		return 1
	case vecArrangement2S, vecArrangement4S, vecArrangementS:
		return 2
	default:
		return 3
	}
}

// q returns 1 for the 128-bit arrangements.
func (v vecArrangement) q() uint32 {
	switch v {
	case vecArrangement16B, vecArrangement8H, vecArrangement4S, vecArrangement2D:
		return 1
	default:
		return 0
	}
}

func (v vecArrangement) elem() vecArrangement {
	return vecArrangementB + vecArrangement(v.size())
}

// arrOf returns the full width arrangement of the vector type typ.
func arrOf(typ ssa.Type) vecArrangement {
	switch typ.LaneType().Bits() {
	case 8:
		return vecArrangement16B
	case 16:
		return vecArrangement8H
	case 32:
		return vecArrangement4S
	default:
		return vecArrangement2D
	}
}

// String implements regalloc.Instr.
func (i *instruction) String() string {
	size := byte(32)
	if i._64 {
		size = 64
	}
	r := func(v regalloc.VReg) string { return formatVRegSized(v, size) }
	x := func(v regalloc.VReg) string { return formatVRegSized(v, 64) }
	vec := func(v regalloc.VReg) string { return formatVRegVec(v, i.arr, -1) }

	switch i.kind {
	case nop0:
		return "nop0"
	case args:
		return "args " + i.formatFixed()
	case ret:
		if i.imm != 0 {
			return fmt.Sprintf("ret #%d %s", i.imm, i.formatFixed())
		}
		return strings.TrimSpace("ret " + i.formatFixed())
	case loadConst:
		return fmt.Sprintf("load_const %s, #%#x", r(i.rd), i.imm)
	case symbolValue:
		return fmt.Sprintf("load_ext_name %s, %s+%d", x(i.rd), i.sym, int64(i.imm))
	case mov64:
		return fmt.Sprintf("mov %s, %s", x(i.rd), x(i.rn))
	case mov32:
		return fmt.Sprintf("mov %s, %s", formatVRegSized(i.rd, 32), formatVRegSized(i.rn, 32))
	case aluRRR:
		return fmt.Sprintf("%s %s, %s, %s", aluOp(i.op), r(i.rd), r(i.rn), r(i.rm))
	case aluRRImm12:
		if i.shift != 0 {
			return fmt.Sprintf("%s %s, %s, #%#x, lsl #12", aluOp(i.op), r(i.rd), r(i.rn), i.imm)
		}
		return fmt.Sprintf("%s %s, %s, #%#x", aluOp(i.op), r(i.rd), r(i.rn), i.imm)
	case aluRRBitmaskImm:
		return fmt.Sprintf("%s %s, %s, #%#x", aluOp(i.op), r(i.rd), r(i.rn), i.imm)
	case aluRRImmShift:
		return fmt.Sprintf("%s %s, %s, #%d", aluOp(i.op), r(i.rd), r(i.rn), i.imm)
	case aluRRRR:
		return fmt.Sprintf("%s %s, %s, %s, %s", aluOp(i.op), r(i.rd), r(i.rn), r(i.rm), r(i.ra))
	case bitRR:
		return fmt.Sprintf("%s %s, %s", bitOp(i.op), r(i.rd), r(i.rn))
	case extend:
		name := "uxt"
		if i.signed {
			name = "sxt"
		}
		suffix := map[byte]string{8: "b", 16: "h", 32: "w"}[i.bits]
		if !i.signed && i.bits == 32 {
			return fmt.Sprintf("mov %s, %s", formatVRegSized(i.rd, 32), formatVRegSized(i.rn, 32))
		}
		return fmt.Sprintf("%s%s %s, %s", name, suffix, r(i.rd), formatVRegSized(i.rn, 32))
	case cSel:
		return fmt.Sprintf("%s %s, %s, %s, %s", condSelOp(i.op), r(i.rd), r(i.rn), r(i.rm), i.cc)
	case cSet:
		if i.op == 1 {
			return fmt.Sprintf("csetm %s, %s", r(i.rd), i.cc)
		}
		return fmt.Sprintf("cset %s, %s", r(i.rd), i.cc)
	case ccmpImm:
		return fmt.Sprintf("ccmp %s, #%d, #%#x, %s", r(i.rn), i.imm, i.shift, i.cc)
	case uLoad8, uLoad16, uLoad32, uLoad64, sLoad8, sLoad16, sLoad32:
		names := map[instructionKind]string{
			uLoad8: "ldrb", uLoad16: "ldrh", uLoad32: "ldr", uLoad64: "ldr",
			sLoad8: "ldrsb", sLoad16: "ldrsh", sLoad32: "ldrsw",
		}
		sz := byte(64)
		if i.kind == uLoad8 || i.kind == uLoad16 || i.kind == uLoad32 {
			sz = 32
		}
		return fmt.Sprintf("%s %s, %s", names[i.kind], formatVRegSized(i.rd, sz), i.amode.String())
	case fpuLoad32, fpuLoad64, fpuLoad128:
		return fmt.Sprintf("ldr %s, %s", formatVRegSized(i.rd, i.accessBits()), i.amode.String())
	case store8, store16, store32, store64:
		names := map[instructionKind]string{store8: "strb", store16: "strh", store32: "str", store64: "str"}
		sz := byte(32)
		if i.kind == store64 {
			sz = 64
		}
		return fmt.Sprintf("%s %s, %s", names[i.kind], formatVRegSized(i.rn, sz), i.amode.String())
	case fpuStore32, fpuStore64, fpuStore128:
		return fmt.Sprintf("str %s, %s", formatVRegSized(i.rn, i.accessBits()), i.amode.String())
	case loadP64:
		return fmt.Sprintf("ldp %s, %s, %s", x(i.rd), x(i.rm), i.amode.String())
	case storeP64:
		return fmt.Sprintf("stp %s, %s, %s", x(i.rn), x(i.rm), i.amode.String())
	case loadAddr:
		return fmt.Sprintf("load_addr %s, %s", x(i.rd), i.amode.String())
	case adjustSP:
		return fmt.Sprintf("%s sp, sp, #%#x", aluOp(i.op), i.imm)
	case fpuRRR:
		return fmt.Sprintf("%s %s, %s, %s", fpuOp(i.op), formatVRegSized(i.rd, i.bits),
			formatVRegSized(i.rn, i.bits), formatVRegSized(i.rm, i.bits))
	case fpuRR:
		from, to := i.bits, i.bits
		switch fpuOp(i.op) {
		case fpuOpCvt32To64:
			from, to = 32, 64
		case fpuOpCvt64To32:
			from, to = 64, 32
		}
		return fmt.Sprintf("%s %s, %s", fpuOp(i.op), formatVRegSized(i.rd, to), formatVRegSized(i.rn, from))
	case fpuCmp:
		return fmt.Sprintf("fcmp %s, %s", formatVRegSized(i.rn, i.bits), formatVRegSized(i.rm, i.bits))
	case fpuCSel:
		return fmt.Sprintf("fcsel %s, %s, %s, %s", formatVRegSized(i.rd, i.bits),
			formatVRegSized(i.rn, i.bits), formatVRegSized(i.rm, i.bits), i.cc)
	case fpuMov:
		return fmt.Sprintf("mov %s, %s", formatVRegVec(i.rd, vecArrangement16B, -1), formatVRegVec(i.rn, vecArrangement16B, -1))
	case movToFPU:
		return fmt.Sprintf("fmov %s, %s", formatVRegSized(i.rd, i.bits), formatVRegSized(i.rn, i.bits))
	case movFromFPU:
		return fmt.Sprintf("fmov %s, %s", formatVRegSized(i.rd, i.bits), formatVRegSized(i.rn, i.bits))
	case intToFpu:
		name := "ucvtf"
		if i.signed {
			name = "scvtf"
		}
		return fmt.Sprintf("%s %s, %s", name, formatVRegSized(i.rd, i.bits), r(i.rn))
	case fpuToIntSeq:
		name := "fcvtzu"
		if i.signed {
			name = "fcvtzs"
		}
		return fmt.Sprintf("%s_seq %s, %s", name, r(i.rd), formatVRegSized(i.rn, i.bits))
	case loadFpuConst32:
		return fmt.Sprintf("ldr %s, #8; b 8; data.f32 %#x", formatVRegSized(i.rd, 32), uint32(i.imm))
	case loadFpuConst64:
		return fmt.Sprintf("ldr %s, #8; b 12; data.f64 %#x", formatVRegSized(i.rd, 64), i.imm)
	case loadFpuConst128:
		return fmt.Sprintf("ldr %s, #8; b 20; data.v128 %#016x:%#016x", formatVRegSized(i.rd, 128), i.imm2, i.imm)
	case vecRRR:
		return fmt.Sprintf("%s %s, %s, %s", vecOp(i.op), vec(i.rd), vec(i.rn), vec(i.rm))
	case vecMisc:
		return fmt.Sprintf("%s %s, %s", vecOp(i.op), vec(i.rd), vec(i.rn))
	case vecLanes:
		dst := i.arr.elem()
		if vecOp(i.op) == vecOpUaddlv {
			dst++
		}
		return fmt.Sprintf("%s %s%s, %s", vecOp(i.op), dst, regNumberOf(i.rd), vec(i.rn))
	case vecShiftImm:
		return fmt.Sprintf("%s %s, %s, #%d", vecOp(i.op), vec(i.rd), vec(i.rn), i.imm)
	case vecDup:
		return fmt.Sprintf("dup %s, %s", vec(i.rd), formatVRegSized(i.rn, laneRegBits(i.arr)))
	case vecDupElement:
		return fmt.Sprintf("dup %s, %s", vec(i.rd), formatVRegVec(i.rn, i.arr, int(i.lane)))
	case movToVec:
		return fmt.Sprintf("ins %s, %s", formatVRegVec(i.rd, i.arr, int(i.lane)), formatVRegSized(i.rn, laneRegBits(i.arr)))
	case movFromVec:
		name := "umov"
		if i.signed {
			name = "smov"
		}
		return fmt.Sprintf("%s %s, %s", name, r(i.rd), formatVRegVec(i.rn, i.arr, int(i.lane)))
	case vecMovElement:
		return fmt.Sprintf("ins %s, %s", formatVRegVec(i.rd, i.arr, int(i.lane)), formatVRegVec(i.rn, i.arr, int(i.lane2)))
	case vecCmove:
		return fmt.Sprintf("vec_cmov_%s %s, %s", i.cc, formatVRegVec(i.rd, vecArrangement16B, -1), formatVRegVec(i.rn, vecArrangement16B, -1))
	case br:
		return fmt.Sprintf("b %s", i.label)
	case condBr:
		switch i.brKind {
		case brKindZero:
			return fmt.Sprintf("cbz %s, %s", r(i.rn), i.label)
		case brKindNotZero:
			return fmt.Sprintf("cbnz %s, %s", r(i.rn), i.label)
		default:
			return fmt.Sprintf("b.%s %s", i.cc, i.label)
		}
	case brTableSeq:
		targets := make([]string, len(i.targets))
		for j, t := range i.targets {
			targets[j] = t.String()
		}
		return fmt.Sprintf("br_table_seq %s, [%s], %s", x(i.rn), strings.Join(targets, ", "), i.label)
	case call:
		return strings.TrimSpace(fmt.Sprintf("bl %s %s", i.sym, i.formatFixed()))
	case callInd:
		return strings.TrimSpace(fmt.Sprintf("blr %s %s", x(i.rn), i.formatFixed()))
	case tailCall:
		if i.sym != "" {
			return strings.TrimSpace(fmt.Sprintf("return_call %s %s", i.sym, i.formatFixed()))
		}
		return strings.TrimSpace(fmt.Sprintf("return_call_ind %s %s", x(i.rn), i.formatFixed()))
	case probeLoop:
		return fmt.Sprintf("probe_loop %d, %d", i.imm, i.imm2)
	case probeStore:
		return fmt.Sprintf("probe [sp, #-%d]", i.imm)
	case udf:
		return fmt.Sprintf("udf %s", i.trap)
	case trapIf:
		switch i.brKind {
		case brKindZero:
			return fmt.Sprintf("trap_if_zero %s, %s", r(i.rn), i.trap)
		case brKindNotZero:
			return fmt.Sprintf("trap_if_nonzero %s, %s", r(i.rn), i.trap)
		default:
			return fmt.Sprintf("trap_if_%s %s", i.cc, i.trap)
		}
	case label:
		return i.label.String() + ":"
	default:
		panic(fmt.Sprintf("BUG: unknown instruction kind %d", i.kind))
	}
}

// regNumberOf returns the register number of v for the scalar formats, or the virtual register.
func regNumberOf(v regalloc.VReg) string {
	if v.IsRealReg() {
		return fmt.Sprint(regNumberInEncoding[v.RealReg()])
	}
	return v.String()
}

// laneRegBits is the width of the general purpose register moved to or from a lane.
func laneRegBits(arr vecArrangement) byte {
	if arr.size() == 3 {
		return 64
	}
	return 32
}

// accessBits returns the width of the memory access of loads and stores.
func (i *instruction) accessBits() byte {
	switch i.kind {
	case uLoad8, sLoad8, store8:
		return 8
	case uLoad16, sLoad16, store16:
		return 16
	case uLoad32, sLoad32, store32, fpuLoad32, fpuStore32:
		return 32
	case uLoad64, store64, fpuLoad64, fpuStore64:
		return 64
	case fpuLoad128, fpuStore128:
		return 128
	default:
		panic(fmt.Sprintf("BUG: %s is not a memory access", i.kind))
	}
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
		fmt.Fprintf(&b, "%s=%s", formatVRegSized(f.v, 64), regNames[f.r])
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
	mod := func(p *regalloc.VReg) { f(p, regalloc.Mod(*p)) }

	switch i.kind {
	case args, ret, call:
		fixed()
	case callInd:
		use(&i.rn)
		fixed()
	case tailCall:
		if i.rn.Valid() {
			f(&i.rn, regalloc.Use(i.rn).FixedTo(x9))
		}
		fixed()
	case loadConst, symbolValue, cSet, loadFpuConst32, loadFpuConst64, loadFpuConst128:
		def(&i.rd)
	case mov64, mov32, fpuMov:
		def(&i.rd)
		use(&i.rn)
	case aluRRR, fpuRRR, cSel, fpuCSel:
		use(&i.rn)
		use(&i.rm)
		def(&i.rd)
	case vecRRR:
		use(&i.rn)
		use(&i.rm)
		if vecOp(i.op) == vecOpBsl {
			mod(&i.rd)
		} else {
			def(&i.rd)
		}
	case aluRRImm12, aluRRBitmaskImm, aluRRImmShift, bitRR, extend, fpuRR, movToFPU, movFromFPU, intToFpu,
		fpuToIntSeq, vecMisc, vecLanes, vecShiftImm, vecDup, vecDupElement, movFromVec:
		use(&i.rn)
		def(&i.rd)
	case aluRRRR:
		use(&i.rn)
		use(&i.rm)
		use(&i.ra)
		def(&i.rd)
	case ccmpImm:
		use(&i.rn)
	case fpuCmp:
		use(&i.rn)
		use(&i.rm)
	case uLoad8, uLoad16, uLoad32, uLoad64, sLoad8, sLoad16, sLoad32, fpuLoad32, fpuLoad64, fpuLoad128, loadAddr:
		i.amode.visit(f)
		def(&i.rd)
	case store8, store16, store32, store64, fpuStore32, fpuStore64, fpuStore128:
		use(&i.rn)
		i.amode.visit(f)
	case movToVec, vecMovElement, vecCmove:
		use(&i.rn)
		mod(&i.rd)
	case condBr, trapIf:
		if i.brKind != brKindFlags {
			use(&i.rn)
		}
	case brTableSeq:
		use(&i.rn)
	case nop0, loadP64, storeP64, adjustSP, br, probeLoop, probeStore, udf, label:
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
func (i *instruction) IsCopy() bool { return i.kind == mov64 || i.kind == fpuMov }

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

// trapCode returns the code of a fault of the instruction itself or of its memory access.
func (i *instruction) trapCode() codegenapi.TrapCode {
	if i.trap != codegenapi.TrapCodeInvalid {
		return i.trap
	}
	switch i.kind {
	case uLoad8, uLoad16, uLoad32, uLoad64, sLoad8, sLoad16, sLoad32, fpuLoad32, fpuLoad64, fpuLoad128,
		store8, store16, store32, store64, fpuStore32, fpuStore64, fpuStore128:
		return i.amode.trap
	default:
		return codegenapi.TrapCodeInvalid
	}
}

func (i *instruction) asNop0() *instruction {
	i.kind = nop0
	return i
}

func (i *instruction) asLoadConst(rd regalloc.VReg, v uint64, _64 bool) *instruction {
	i.kind = loadConst
	i.rd = rd
	i.imm = v
	i._64 = _64
	if !_64 {
		i.imm = uint64(uint32(v))
	}
	return i
}

// asSymbolValue materializes the address of sym plus addend with an absolute relocation.
func (i *instruction) asSymbolValue(sym string, addend int64, rd regalloc.VReg) *instruction {
	i.kind = symbolValue
	i.sym = sym
	i.imm = uint64(addend)
	i.rd = rd
	i._64 = true
	return i
}

func (i *instruction) asMove64(rd, rn regalloc.VReg) *instruction {
	i.kind = mov64
	i.rd, i.rn = rd, rn
	i._64 = true
	return i
}

func (i *instruction) asMove32(rd, rn regalloc.VReg) *instruction {
	i.kind = mov32
	i.rd, i.rn = rd, rn
	return i
}

func (i *instruction) asALU(op aluOp, rd, rn, rm regalloc.VReg, _64 bool) *instruction {
	i.kind = aluRRR
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i._64 = _64
	return i
}

// asALUImm12 takes imm either below 4096 or a multiple of 4096 below 1<<24.
func (i *instruction) asALUImm12(op aluOp, rd, rn regalloc.VReg, imm uint64, _64 bool) *instruction {
	i.kind = aluRRImm12
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.imm, i.shift = imm, 0
	if imm > 0xfff {
		i.imm, i.shift = imm>>12, 1
	}
	i._64 = _64
	return i
}

func (i *instruction) asALUBitmaskImm(op aluOp, rd, rn regalloc.VReg, imm uint64, _64 bool) *instruction {
	i.kind = aluRRBitmaskImm
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.imm = imm
	i._64 = _64
	return i
}

func (i *instruction) asALUShiftImm(op aluOp, rd, rn regalloc.VReg, amount uint64, _64 bool) *instruction {
	i.kind = aluRRImmShift
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.imm = amount
	i._64 = _64
	return i
}

func (i *instruction) asALURRRR(op aluOp, rd, rn, rm, ra regalloc.VReg, _64 bool) *instruction {
	i.kind = aluRRRR
	i.op = byte(op)
	i.rd, i.rn, i.rm, i.ra = rd, rn, rm, ra
	i._64 = _64
	return i
}

func (i *instruction) asBitRR(op bitOp, rd, rn regalloc.VReg, _64 bool) *instruction {
	i.kind = bitRR
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i._64 = _64
	return i
}

// asExtend extends the from low bits of rn into to bits.
func (i *instruction) asExtend(rd, rn regalloc.VReg, from, to byte, signed bool) *instruction {
	i.kind = extend
	i.rd, i.rn = rd, rn
	i.bits = from
	i._64 = to == 64
	i.signed = signed
	return i
}

func (i *instruction) asCSel(op condSelOp, rd, rn, rm regalloc.VReg, c condFlag, _64 bool) *instruction {
	i.kind = cSel
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.cc = c
	i._64 = _64
	return i
}

func (i *instruction) asCSet(rd regalloc.VReg, c condFlag, mask bool) *instruction {
	i.kind = cSet
	i.rd = rd
	i.cc = c
	i._64 = true
	i.op = 0
	if mask {
		i.op = 1
	}
	return i
}

// asCCmpImm compares rn with imm if c holds, and sets the flags to nzcv otherwise.
func (i *instruction) asCCmpImm(rn regalloc.VReg, imm uint64, c condFlag, nzcv byte, _64 bool) *instruction {
	i.kind = ccmpImm
	i.rn = rn
	i.imm = imm
	i.cc = c
	i.shift = nzcv
	i._64 = _64
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

func (i *instruction) asLoadPair64(rt, rt2 regalloc.VReg, a addressMode) *instruction {
	i.kind = loadP64
	i.rd, i.rm = rt, rt2
	i.amode = a
	return i
}

func (i *instruction) asStorePair64(rt, rt2 regalloc.VReg, a addressMode) *instruction {
	i.kind = storeP64
	i.rn, i.rm = rt, rt2
	i.amode = a
	return i
}

func (i *instruction) asLoadAddr(rd regalloc.VReg, a addressMode) *instruction {
	i.kind = loadAddr
	i.rd = rd
	i.amode = a
	return i
}

func (i *instruction) asAdjustSP(op aluOp, imm int64) *instruction {
	i.kind = adjustSP
	i.op = byte(op)
	i.imm = uint64(imm)
	return i
}

func (i *instruction) asFpuRRR(op fpuOp, rd, rn, rm regalloc.VReg, bits byte) *instruction {
	i.kind = fpuRRR
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.bits = bits
	return i
}

// asFpuRR takes the width of rn as bits.
func (i *instruction) asFpuRR(op fpuOp, rd, rn regalloc.VReg, bits byte) *instruction {
	i.kind = fpuRR
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.bits = bits
	return i
}

func (i *instruction) asFpuCmp(rn, rm regalloc.VReg, bits byte) *instruction {
	i.kind = fpuCmp
	i.rn, i.rm = rn, rm
	i.bits = bits
	return i
}

func (i *instruction) asFpuCSel(rd, rn, rm regalloc.VReg, c condFlag, bits byte) *instruction {
	i.kind = fpuCSel
	i.rd, i.rn, i.rm = rd, rn, rm
	i.cc = c
	i.bits = bits
	return i
}

func (i *instruction) asFpuMov(rd, rn regalloc.VReg) *instruction {
	i.kind = fpuMov
	i.rd, i.rn = rd, rn
	return i
}

func (i *instruction) asMovToFPU(rd, rn regalloc.VReg, bits byte) *instruction {
	i.kind = movToFPU
	i.rd, i.rn = rd, rn
	i.bits = bits
	return i
}

func (i *instruction) asMovFromFPU(rd, rn regalloc.VReg, bits byte) *instruction {
	i.kind = movFromFPU
	i.rd, i.rn = rd, rn
	i.bits = bits
	return i
}

// asIntToFpu converts the integer of 32 or 64 bits in rn into a float of bits.
func (i *instruction) asIntToFpu(rd, rn regalloc.VReg, signed, src64 bool, bits byte) *instruction {
	i.kind = intToFpu
	i.rd, i.rn = rd, rn
	i.signed = signed
	i._64 = src64
	i.bits = bits
	return i
}

// asFpuToIntSeq converts the float of bits in rn into an integer of 32 or 64 bits.
func (i *instruction) asFpuToIntSeq(rd, rn regalloc.VReg, signed, dst64 bool, bits byte) *instruction {
	i.kind = fpuToIntSeq
	i.rd, i.rn = rd, rn
	i.signed = signed
	i._64 = dst64
	i.bits = bits
	return i
}

func (i *instruction) asLoadFpuConst32(rd regalloc.VReg, v uint64) *instruction {
	i.kind = loadFpuConst32
	i.rd = rd
	i.imm = v
	return i
}

func (i *instruction) asLoadFpuConst64(rd regalloc.VReg, v uint64) *instruction {
	i.kind = loadFpuConst64
	i.rd = rd
	i.imm = v
	return i
}

func (i *instruction) asLoadFpuConst128(rd regalloc.VReg, lo, hi uint64) *instruction {
	i.kind = loadFpuConst128
	i.rd = rd
	i.imm, i.imm2 = lo, hi
	return i
}

func (i *instruction) asVecRRR(op vecOp, rd, rn, rm regalloc.VReg, arr vecArrangement) *instruction {
	i.kind = vecRRR
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.arr = arr
	return i
}

func (i *instruction) asVecMisc(op vecOp, rd, rn regalloc.VReg, arr vecArrangement) *instruction {
	i.kind = vecMisc
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.arr = arr
	return i
}

func (i *instruction) asVecLanes(op vecOp, rd, rn regalloc.VReg, arr vecArrangement) *instruction {
	i.kind = vecLanes
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.arr = arr
	return i
}

func (i *instruction) asVecShiftImm(op vecOp, rd, rn regalloc.VReg, amount uint64, arr vecArrangement) *instruction {
	i.kind = vecShiftImm
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.imm = amount
	i.arr = arr
	return i
}

func (i *instruction) asVecDup(rd, rn regalloc.VReg, arr vecArrangement) *instruction {
	i.kind = vecDup
	i.rd, i.rn = rd, rn
	i.arr = arr
	return i
}

func (i *instruction) asVecDupElement(rd, rn regalloc.VReg, arr vecArrangement, lane byte) *instruction {
	i.kind = vecDupElement
	i.rd, i.rn = rd, rn
	i.arr = arr
	i.lane = lane
	return i
}

func (i *instruction) asMovToVec(rd, rn regalloc.VReg, arr vecArrangement, lane byte) *instruction {
	i.kind = movToVec
	i.rd, i.rn = rd, rn
	i.arr = arr.elem()
	i.lane = lane
	return i
}

// asMovFromVec moves the lane into rd, sign-extended to 32 or 64 bits with smov when signed.
func (i *instruction) asMovFromVec(rd, rn regalloc.VReg, arr vecArrangement, lane byte, signed, _64 bool) *instruction {
	i.kind = movFromVec
	i.rd, i.rn = rd, rn
	i.arr = arr.elem()
	i.lane = lane
	i.signed = signed
	i._64 = _64
	return i
}

func (i *instruction) asVecMovElement(rd, rn regalloc.VReg, arr vecArrangement, dstLane, srcLane byte) *instruction {
	i.kind = vecMovElement
	i.rd, i.rn = rd, rn
	i.arr = arr.elem()
	i.lane, i.lane2 = dstLane, srcLane
	return i
}

func (i *instruction) asVecCmove(c condFlag, rd, rn regalloc.VReg) *instruction {
	i.kind = vecCmove
	i.cc = c
	i.rd, i.rn = rd, rn
	return i
}

func (i *instruction) asBr(l backend.Label) *instruction {
	i.kind = br
	i.label = l
	return i
}

func (i *instruction) asCondBr(c condFlag, l backend.Label) *instruction {
	i.kind = condBr
	i.brKind = brKindFlags
	i.cc = c
	i.label = l
	return i
}

// asCondBrReg branches if rn is zero, or nonzero when nz.
func (i *instruction) asCondBrReg(rn regalloc.VReg, nz bool, l backend.Label, _64 bool) *instruction {
	i.kind = condBr
	i.brKind = brKindZero
	if nz {
		i.brKind = brKindNotZero
	}
	i.rn = rn
	i.label = l
	i._64 = _64
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

func (i *instruction) asTailCall(sym string, colocated bool, ptr regalloc.VReg, abi *backend.FunctionABI, spOffset int64) *instruction {
	i.kind = tailCall
	i.sym = sym
	i.colocated = colocated
	i.rn = ptr
	i.abi = abi
	i.imm = uint64(spOffset)
	return i
}

func (i *instruction) asProbeLoop(frameSize, pageSize int64) *instruction {
	i.kind = probeLoop
	i.imm = uint64(frameSize)
	i.imm2 = uint64(pageSize)
	return i
}

func (i *instruction) asProbeStore(off int64) *instruction {
	i.kind = probeStore
	i.imm = uint64(off)
	return i
}

func (i *instruction) asRet(popBytes uint64) *instruction {
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

func (i *instruction) asTrapIf(c condFlag, code codegenapi.TrapCode) *instruction {
	i.kind = trapIf
	i.brKind = brKindFlags
	i.cc = c
	i.trap = code
	return i
}

// asTrapIfReg traps if rn is zero, or nonzero when nz.
func (i *instruction) asTrapIfReg(rn regalloc.VReg, nz bool, code codegenapi.TrapCode, _64 bool) *instruction {
	i.kind = trapIf
	i.brKind = brKindZero
	if nz {
		i.brKind = brKindNotZero
	}
	i.rn = rn
	i.trap = code
	i._64 = _64
	return i
}

func (i *instruction) asLabel(l backend.Label) *instruction {
	i.kind = label
	i.label = l
	return i
}

func (i *instruction) addFixed(v regalloc.VReg, r regalloc.VReg, def bool) {
	i.fixed = append(i.fixed, fixedOperand{v: v, r: r.RealReg(), def: def})
}
