package riscv64

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
	// op is the sub-opcode of the kind: an aluOp, bitOp, fpuOp, fpuCmpOp or vecOp.
	op   byte
	cond cond
	// _64 selects the 64-bit form of the integer conversions.
	_64 bool

	// ra is the third source of selectSeq, not the return address register.
	rd, rn, rm, ra regalloc.VReg
	amode          addressMode

	imm int64
	// imm2 is the page size of probeLoop and the high half of the vector literals.
	imm2 int64
	// bits is the float width, the lane width of the vector kinds and the source width of the extensions.
	bits   byte
	signed bool
	lane   byte

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

	// Materializes a 64-bit constant with lui, addi and shifts.
	loadConst

	// Materializes the bits of a float constant through t5.
	loadFpuConst

	// Loads the address of sym plus imm from an inline literal with an absolute relocation.
	symbolValue

	// Register to register moves: mv, fmv.d and vmv1r.v.
	mov
	fpuMov
	vecMov

	// Three register integer ops of the base ISA and of the M, Zba, Zbb and Zbs extensions.
	aluRRR

	// Integer ops with a 12-bit signed immediate, or a shift amount.
	aluRRImm12

	// Zbb unary ops.
	bitRR

	// Sign or zero extension from bits to 64 bits.
	extend

	// Integer loads, zero or sign-extending to 64 bits.
	uLoad8
	uLoad16
	uLoad32
	sLoad8
	sLoad16
	sLoad32
	load64

	// Float and vector loads.
	fpuLoad32
	fpuLoad64
	vecLoad

	// Integer stores.
	store8
	store16
	store32
	store64

	// Float and vector stores.
	fpuStore32
	fpuStore64
	vecStore

	// Computes the address of amode.
	loadAddr

	// Adds imm to sp, through t6 when it does not fit an immediate.
	adjustSP

	// Scalar float binary ops, the sign injections included.
	fpuRRR

	// Scalar float unary ops and conversions between float widths.
	fpuRR

	// feq, flt and fle, setting an integer register to 0 or 1.
	fpuCmp

	// fmv.w.x and fmv.d.x.
	movToFPU

	// fmv.x.w and fmv.x.d.
	movFromFPU

	// fcvt from a 32 or 64-bit integer.
	intToFpu

	// fcvt to an integer, trapping on NaN and on values out of the range of the integer.
	fpuToIntSeq

	// ceil, floor, trunc and nearest, keeping NaNs, infinities and the large values as they are.
	fpuRoundSeq

	// fmin and fmax propagating NaN.
	fminMaxSeq

	// clz, ctz and popcnt as loops, for cores without Zbb.
	bitCountSeq

	// Moves ra or rm into rd depending on rn being zero.
	selectSeq

	// Vector ops of two vectors.
	vecRRR

	// Vector ops of a vector and an integer register.
	vecRRX

	// Vector unary ops.
	vecMisc

	// vmv.v.x and vfmv.v.f.
	vecSplat

	// Moves a lane to an integer or a float register.
	vecExtractLane

	// Moves an integer or a float register into a lane.
	vecInsertLane

	// Vector sequences of two vectors, with v0 and v31 as scratch: iadd_pairwise, fmin and fmax
	// canonicalizing NaNs, and the pseudo min and max.
	vecSeq

	// Vector constant in an inline literal.
	loadVecConst

	// Unconditional jump to a label.
	br

	// Compare and branch to a label.
	condBr

	// Jump-table sequence, as one compound instruction.
	brTableSeq

	// Direct call: auipc and jalr, or jalr through a literal when not colocated.
	call

	// Indirect call: jalr.
	callInd

	// Tail call, replacing the frame of the current function.
	tailCall

	// Touches one word per page of the frame in a loop.
	probeLoop

	// Touches the word imm bytes below sp.
	probeStore

	// unimp, with the trap code recorded.
	udf

	// Compare and trap.
	trapIf

	// A local label in the middle of a block.
	label
)

var kindNames = map[instructionKind]string{
	nop0: "nop0", args: "args", ret: "ret", loadConst: "loadConst", loadFpuConst: "loadFpuConst",
	symbolValue: "symbolValue", mov: "mov", fpuMov: "fpuMov", vecMov: "vecMov", aluRRR: "aluRRR",
	aluRRImm12: "aluRRImm12", bitRR: "bitRR", extend: "extend",
	uLoad8: "uLoad8", uLoad16: "uLoad16", uLoad32: "uLoad32", sLoad8: "sLoad8", sLoad16: "sLoad16",
	sLoad32: "sLoad32", load64: "load64", fpuLoad32: "fpuLoad32", fpuLoad64: "fpuLoad64", vecLoad: "vecLoad",
	store8: "store8", store16: "store16", store32: "store32", store64: "store64",
	fpuStore32: "fpuStore32", fpuStore64: "fpuStore64", vecStore: "vecStore",
	loadAddr: "loadAddr", adjustSP: "adjustSP", fpuRRR: "fpuRRR", fpuRR: "fpuRR", fpuCmp: "fpuCmp",
	movToFPU: "movToFPU", movFromFPU: "movFromFPU", intToFpu: "intToFpu", fpuToIntSeq: "fpuToIntSeq",
	fpuRoundSeq: "fpuRoundSeq", fminMaxSeq: "fminMaxSeq", bitCountSeq: "bitCountSeq", selectSeq: "selectSeq",
	vecRRR: "vecRRR", vecRRX: "vecRRX", vecMisc: "vecMisc", vecSplat: "vecSplat",
	vecExtractLane: "vecExtractLane", vecInsertLane: "vecInsertLane", vecSeq: "vecSeq",
	loadVecConst: "loadVecConst",
	br: "br", condBr: "condBr", brTableSeq: "brTableSeq", call: "call", callInd: "callInd",
	tailCall: "tailCall", probeLoop: "probeLoop", probeStore: "probeStore", udf: "udf", trapIf: "trapIf",
	label: "label",
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
	aluOpSll
	aluOpSlt
	aluOpSltu
	aluOpXor
	aluOpSrl
	aluOpSra
	aluOpOr
	aluOpAnd

	aluOpMul
	aluOpMulh
	aluOpMulhu
	aluOpDiv
	aluOpDivu
	aluOpRem
	aluOpRemu

	aluOpAddw
	aluOpSubw
	aluOpSllw
	aluOpSrlw
	aluOpSraw
	aluOpMulw

	// Zbb.
	aluOpAndn
	aluOpOrn
	aluOpXnor
	aluOpMin
	aluOpMinu
	aluOpMax
	aluOpMaxu
	aluOpRol
	aluOpRor
	aluOpRolw
	aluOpRorw

	// Zba.
	aluOpAddUw
	aluOpSh1add
	aluOpSh2add
	aluOpSh3add

	// Zbs.
	aluOpBset
	aluOpBclr
	aluOpBinv
	aluOpBext
)

var aluOpNames = [...]string{
	aluOpAdd: "add", aluOpSub: "sub", aluOpSll: "sll", aluOpSlt: "slt", aluOpSltu: "sltu", aluOpXor: "xor",
	aluOpSrl: "srl", aluOpSra: "sra", aluOpOr: "or", aluOpAnd: "and", aluOpMul: "mul", aluOpMulh: "mulh",
	aluOpMulhu: "mulhu", aluOpDiv: "div", aluOpDivu: "divu", aluOpRem: "rem", aluOpRemu: "remu",
	aluOpAddw: "addw", aluOpSubw: "subw", aluOpSllw: "sllw", aluOpSrlw: "srlw", aluOpSraw: "sraw",
	aluOpMulw: "mulw", aluOpAndn: "andn", aluOpOrn: "orn", aluOpXnor: "xnor", aluOpMin: "min",
	aluOpMinu: "minu", aluOpMax: "max", aluOpMaxu: "maxu", aluOpRol: "rol", aluOpRor: "ror",
	aluOpRolw: "rolw", aluOpRorw: "rorw", aluOpAddUw: "add.uw", aluOpSh1add: "sh1add",
	aluOpSh2add: "sh2add", aluOpSh3add: "sh3add", aluOpBset: "bset", aluOpBclr: "bclr", aluOpBinv: "binv",
	aluOpBext: "bext",
}

// String implements fmt.Stringer.
func (a aluOp) String() string {
	if int(a) < len(aluOpNames) && aluOpNames[a] != "" {
		return aluOpNames[a]
	}
	panic("BUG: invalid aluOp")
}

// immName returns the mnemonic of the immediate form of a.
func (a aluOp) immName() string {
	switch a {
	case aluOpAdd:
		return "addi"
	case aluOpAddw:
		return "addiw"
	case aluOpSlt:
		return "slti"
	case aluOpSltu:
		return "sltiu"
	case aluOpXor:
		return "xori"
	case aluOpOr:
		return "ori"
	case aluOpAnd:
		return "andi"
	case aluOpSll, aluOpSrl, aluOpSra, aluOpRor:
		return a.String() + "i"
	case aluOpSllw, aluOpSrlw, aluOpSraw, aluOpRorw:
		return strings.TrimSuffix(a.String(), "w") + "iw"
	default:
		panic(fmt.Sprintf("BUG: %s has no immediate form", a))
	}
}

type bitOp byte

const (
	bitOpClz bitOp = iota + 1
	bitOpClzw
	bitOpCtz
	bitOpCtzw
	bitOpCpop
	bitOpCpopw
	bitOpSextB
	bitOpSextH
	bitOpZextH
	bitOpRev8
)

var bitOpNames = [...]string{
	bitOpClz: "clz", bitOpClzw: "clzw", bitOpCtz: "ctz", bitOpCtzw: "ctzw", bitOpCpop: "cpop",
	bitOpCpopw: "cpopw", bitOpSextB: "sext.b", bitOpSextH: "sext.h", bitOpZextH: "zext.h", bitOpRev8: "rev8",
}

// String implements fmt.Stringer.
func (b bitOp) String() string {
	if int(b) < len(bitOpNames) && bitOpNames[b] != "" {
		return bitOpNames[b]
	}
	panic("BUG: invalid bitOp")
}

// countOp is the op of bitCountSeq.
type countOp byte

const (
	countOpClz countOp = iota + 1
	countOpCtz
	countOpPopcnt
)

// fpuOp is the op of fpuRRR and fpuRR.
type fpuOp byte

const (
	fpuOpAdd fpuOp = iota + 1
	fpuOpSub
	fpuOpMul
	fpuOpDiv
	fpuOpMin
	fpuOpMax
	fpuOpSgnj
	fpuOpSgnjn
	fpuOpSgnjx

	fpuOpSqrt
	// fpuOpCvtToS and fpuOpCvtToD convert between the float widths.
	fpuOpCvtToS
	fpuOpCvtToD
)

var fpuOpNames = [...]string{
	fpuOpAdd: "fadd", fpuOpSub: "fsub", fpuOpMul: "fmul", fpuOpDiv: "fdiv", fpuOpMin: "fmin",
	fpuOpMax: "fmax", fpuOpSgnj: "fsgnj", fpuOpSgnjn: "fsgnjn", fpuOpSgnjx: "fsgnjx", fpuOpSqrt: "fsqrt",
	fpuOpCvtToS: "fcvt.s.d", fpuOpCvtToD: "fcvt.d.s",
}

// String implements fmt.Stringer.
func (f fpuOp) String() string {
	if int(f) < len(fpuOpNames) && fpuOpNames[f] != "" {
		return fpuOpNames[f]
	}
	panic("BUG: invalid fpuOp")
}

// fpuCmpOp is the op of fpuCmp.
type fpuCmpOp byte

const (
	fpuCmpOpFle fpuCmpOp = iota
	fpuCmpOpFlt
	fpuCmpOpFeq
)

var fpuCmpOpNames = [...]string{"fle", "flt", "feq"}

// String implements fmt.Stringer.
func (f fpuCmpOp) String() string { return fpuCmpOpNames[f] }

// roundMode is the rm field of the float instructions.
type roundMode byte

const (
	roundRNE roundMode = 0
	roundRTZ roundMode = 1
	roundRDN roundMode = 2
	roundRUP roundMode = 3
	roundDyn roundMode = 7
)

// vecOp is the op of the vector kinds.
type vecOp byte

const (
	vecOpAdd vecOp = iota + 1
	vecOpSub
	vecOpRsub
	vecOpMul
	vecOpAnd
	vecOpOr
	vecOpXor
	vecOpMin
	vecOpMinu
	vecOpMax
	vecOpMaxu
	vecOpSll
	vecOpSrl
	vecOpSra
	vecOpFadd
	vecOpFsub
	vecOpFmul
	vecOpFdiv
	vecOpFsgnj
	vecOpFsgnjn
	vecOpFsgnjx

	vecOpNot
	vecOpNeg
	vecOpFneg
	vecOpFabs
	vecOpFsqrt
	vecOpFcvtFromX
	vecOpFcvtFromXu

	vecOpIaddPairwise
	vecOpFmin
	vecOpFmax
	vecOpFminPseudo
	vecOpFmaxPseudo
)

var vecOpNames = [...]string{
	vecOpAdd: "vadd", vecOpSub: "vsub", vecOpRsub: "vrsub", vecOpMul: "vmul", vecOpAnd: "vand", vecOpOr: "vor",
	vecOpXor: "vxor", vecOpMin: "vmin", vecOpMinu: "vminu", vecOpMax: "vmax", vecOpMaxu: "vmaxu",
	vecOpSll: "vsll", vecOpSrl: "vsrl", vecOpSra: "vsra", vecOpFadd: "vfadd", vecOpFsub: "vfsub",
	vecOpFmul: "vfmul", vecOpFdiv: "vfdiv", vecOpFsgnj: "vfsgnj", vecOpFsgnjn: "vfsgnjn",
	vecOpFsgnjx: "vfsgnjx", vecOpNot: "vnot", vecOpNeg: "vneg", vecOpFneg: "vfneg", vecOpFabs: "vfabs",
	vecOpFsqrt: "vfsqrt", vecOpFcvtFromX: "vfcvt.f.x", vecOpFcvtFromXu: "vfcvt.f.xu",
	vecOpIaddPairwise: "iadd_pairwise", vecOpFmin: "vfmin", vecOpFmax: "vfmax", vecOpFminPseudo: "fmin_pseudo",
	vecOpFmaxPseudo: "fmax_pseudo",
}

// String implements fmt.Stringer.
func (v vecOp) String() string {
	if int(v) < len(vecOpNames) && vecOpNames[v] != "" {
		return vecOpNames[v]
	}
	panic("BUG: invalid vecOp")
}

// cond is the funct3 of the branches.
type cond byte

const (
	condEq  cond = 0
	condNe  cond = 1
	condLt  cond = 4
	condGe  cond = 5
	condLtu cond = 6
	condGeu cond = 7
)

// String implements fmt.Stringer.
func (c cond) String() string {
	switch c {
	case condEq:
		return "eq"
	case condNe:
		return "ne"
	case condLt:
		return "lt"
	case condGe:
		return "ge"
	case condLtu:
		return "ltu"
	case condGeu:
		return "geu"
	default:
		panic(fmt.Sprintf("BUG: invalid cond %d", byte(c)))
	}
}

func (c cond) invert() cond { return c ^ 1 }

// String implements regalloc.Instr.
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
		return fmt.Sprintf("li %s, %#x", r(i.rd), i.imm)
	case loadFpuConst:
		return fmt.Sprintf("load_fconst%d %s, %#x", i.bits, r(i.rd), uint64(i.imm))
	case symbolValue:
		return fmt.Sprintf("load_ext_name %s, %s+%d", r(i.rd), i.sym, i.imm)
	case mov:
		return fmt.Sprintf("mv %s, %s", r(i.rd), r(i.rn))
	case fpuMov:
		return fmt.Sprintf("fmv.d %s, %s", r(i.rd), r(i.rn))
	case vecMov:
		return fmt.Sprintf("vmv1r.v %s, %s", r(i.rd), r(i.rn))
	case aluRRR:
		return fmt.Sprintf("%s %s, %s, %s", aluOp(i.op), r(i.rd), r(i.rn), r(i.rm))
	case aluRRImm12:
		return fmt.Sprintf("%s %s, %s, %d", aluOp(i.op).immName(), r(i.rd), r(i.rn), i.imm)
	case bitRR:
		return fmt.Sprintf("%s %s, %s", bitOp(i.op), r(i.rd), r(i.rn))
	case extend:
		name := "zext"
		if i.signed {
			name = "sext"
		}
		return fmt.Sprintf("%s%d %s, %s", name, i.bits, r(i.rd), r(i.rn))
	case uLoad8, uLoad16, uLoad32, sLoad8, sLoad16, sLoad32, load64, fpuLoad32, fpuLoad64, vecLoad:
		return fmt.Sprintf("%s %s, %s", memNames[i.kind], r(i.rd), i.amode.String())
	case store8, store16, store32, store64, fpuStore32, fpuStore64, vecStore:
		return fmt.Sprintf("%s %s, %s", memNames[i.kind], r(i.rn), i.amode.String())
	case loadAddr:
		return fmt.Sprintf("load_addr %s, %s", r(i.rd), i.amode.String())
	case adjustSP:
		return fmt.Sprintf("addi sp, sp, %d", i.imm)
	case fpuRRR:
		return fmt.Sprintf("%s.%s %s, %s, %s", fpuOp(i.op), fmtSuffix(i.bits), r(i.rd), r(i.rn), r(i.rm))
	case fpuRR:
		switch op := fpuOp(i.op); op {
		case fpuOpCvtToS, fpuOpCvtToD:
			return fmt.Sprintf("%s %s, %s", op, r(i.rd), r(i.rn))
		default:
			return fmt.Sprintf("%s.%s %s, %s", op, fmtSuffix(i.bits), r(i.rd), r(i.rn))
		}
	case fpuCmp:
		return fmt.Sprintf("%s.%s %s, %s, %s", fpuCmpOp(i.op), fmtSuffix(i.bits), r(i.rd), r(i.rn), r(i.rm))
	case movToFPU:
		return fmt.Sprintf("fmv.%s.x %s, %s", movSuffix(i.bits), r(i.rd), r(i.rn))
	case movFromFPU:
		return fmt.Sprintf("fmv.x.%s %s, %s", movSuffix(i.bits), r(i.rd), r(i.rn))
	case intToFpu:
		return fmt.Sprintf("fcvt.%s.%s %s, %s", fmtSuffix(i.bits), intSuffix(i.signed, i._64), r(i.rd), r(i.rn))
	case fpuToIntSeq:
		return fmt.Sprintf("fcvt_seq.%s.%s %s, %s", intSuffix(i.signed, i._64), fmtSuffix(i.bits), r(i.rd), r(i.rn))
	case fpuRoundSeq:
		return fmt.Sprintf("fround_seq.%s rm=%d %s, %s", fmtSuffix(i.bits), i.op, r(i.rd), r(i.rn))
	case fminMaxSeq:
		return fmt.Sprintf("%s_seq.%s %s, %s, %s", fpuOp(i.op), fmtSuffix(i.bits), r(i.rd), r(i.rn), r(i.rm))
	case bitCountSeq:
		name := map[countOp]string{countOpClz: "clz", countOpCtz: "ctz", countOpPopcnt: "popcnt"}[countOp(i.op)]
		return fmt.Sprintf("%s_seq%d %s, %s", name, i.bits, r(i.rd), r(i.rn))
	case selectSeq:
		return fmt.Sprintf("select %s, %s, %s, %s", r(i.rd), r(i.rn), r(i.rm), r(i.ra))
	case vecRRR:
		return fmt.Sprintf("%s.vv %s, %s, %s #e%d", vecOp(i.op), r(i.rd), r(i.rn), r(i.rm), i.bits)
	case vecRRX:
		return fmt.Sprintf("%s.vx %s, %s, %s #e%d", vecOp(i.op), r(i.rd), r(i.rn), r(i.rm), i.bits)
	case vecMisc:
		return fmt.Sprintf("%s.v %s, %s #e%d", vecOp(i.op), r(i.rd), r(i.rn), i.bits)
	case vecSplat:
		return fmt.Sprintf("vmv.v.x %s, %s #e%d", r(i.rd), r(i.rn), i.bits)
	case vecExtractLane:
		return fmt.Sprintf("extract_lane %s, %s[%d] #e%d", r(i.rd), r(i.rn), i.lane, i.bits)
	case vecSeq:
		return fmt.Sprintf("%s_seq %s, %s, %s #e%d", vecOp(i.op), r(i.rd), r(i.rn), r(i.rm), i.bits)
	case vecInsertLane:
		return fmt.Sprintf("insert_lane %s[%d], %s #e%d", r(i.rd), i.lane, r(i.rn), i.bits)
	case loadVecConst:
		return fmt.Sprintf("load_vconst %s, %#016x:%#016x", r(i.rd), uint64(i.imm2), uint64(i.imm))
	case br:
		return fmt.Sprintf("j %s", i.label)
	case condBr:
		return fmt.Sprintf("b%s %s, %s, %s", i.cond, r(i.rn), r(i.rm), i.label)
	case brTableSeq:
		targets := make([]string, len(i.targets))
		for j, t := range i.targets {
			targets[j] = t.String()
		}
		return fmt.Sprintf("br_table_seq %s, [%s], %s", r(i.rn), strings.Join(targets, ", "), i.label)
	case call:
		return strings.TrimSpace(fmt.Sprintf("call %s %s", i.sym, i.formatFixed()))
	case callInd:
		return strings.TrimSpace(fmt.Sprintf("jalr %s %s", r(i.rn), i.formatFixed()))
	case tailCall:
		if i.sym != "" {
			return strings.TrimSpace(fmt.Sprintf("return_call %s %s", i.sym, i.formatFixed()))
		}
		return strings.TrimSpace(fmt.Sprintf("return_call_ind %s %s", r(i.rn), i.formatFixed()))
	case probeLoop:
		return fmt.Sprintf("probe_loop %d, %d", i.imm, i.imm2)
	case probeStore:
		return fmt.Sprintf("probe -%d(sp)", i.imm)
	case udf:
		return fmt.Sprintf("unimp %s", i.trap)
	case trapIf:
		return fmt.Sprintf("trap_if_%s %s, %s, %s", i.cond, r(i.rn), r(i.rm), i.trap)
	case label:
		return i.label.String() + ":"
	default:
		panic(fmt.Sprintf("BUG: unknown instruction kind %d", i.kind))
	}
}

var memNames = map[instructionKind]string{
	uLoad8: "lbu", uLoad16: "lhu", uLoad32: "lwu", sLoad8: "lb", sLoad16: "lh", sLoad32: "lw", load64: "ld",
	fpuLoad32: "flw", fpuLoad64: "fld", vecLoad: "vl1r.v",
	store8: "sb", store16: "sh", store32: "sw", store64: "sd", fpuStore32: "fsw", fpuStore64: "fsd",
	vecStore: "vs1r.v",
}

func fmtSuffix(bits byte) string {
	if bits == 32 {
		return "s"
	}
	return "d"
}

func movSuffix(bits byte) string {
	if bits == 32 {
		return "w"
	}
	return "d"
}

func intSuffix(signed, _64 bool) string {
	switch {
	case signed && _64:
		return "l"
	case _64:
		return "lu"
	case signed:
		return "w"
	default:
		return "wu"
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
	early := func(p *regalloc.VReg) { f(p, regalloc.Def(*p).Early()) }

	switch i.kind {
	case args, ret, call:
		fixed()
	case callInd:
		use(&i.rn)
		fixed()
	case tailCall:
		if i.rn.Valid() {
			f(&i.rn, regalloc.Use(i.rn).FixedTo(t0))
		}
		fixed()
	case loadConst, loadFpuConst, symbolValue, loadVecConst:
		def(&i.rd)
	case mov, fpuMov, vecMov, aluRRImm12, bitRR, extend, fpuRR, movToFPU, movFromFPU, intToFpu, fpuToIntSeq,
		bitCountSeq, vecMisc, vecSplat, vecExtractLane:
		use(&i.rn)
		def(&i.rd)
	case aluRRR, fpuRRR, fpuCmp, vecRRR, vecRRX:
		use(&i.rn)
		use(&i.rm)
		def(&i.rd)
	case fpuRoundSeq:
		use(&i.rn)
		early(&i.rd)
	case fminMaxSeq, vecSeq:
		use(&i.rn)
		use(&i.rm)
		early(&i.rd)
	case selectSeq:
		use(&i.rn)
		use(&i.rm)
		use(&i.ra)
		early(&i.rd)
	case vecInsertLane:
		use(&i.rn)
		f(&i.rd, regalloc.Mod(i.rd))
	case uLoad8, uLoad16, uLoad32, sLoad8, sLoad16, sLoad32, load64, fpuLoad32, fpuLoad64, vecLoad, loadAddr:
		i.amode.visit(f)
		def(&i.rd)
	case store8, store16, store32, store64, fpuStore32, fpuStore64, vecStore:
		use(&i.rn)
		i.amode.visit(f)
	case condBr, trapIf:
		use(&i.rn)
		use(&i.rm)
	case brTableSeq:
		use(&i.rn)
	case nop0, adjustSP, br, probeLoop, probeStore, udf, label:
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
func (i *instruction) IsCopy() bool { return i.kind == mov || i.kind == fpuMov || i.kind == vecMov }

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
	case uLoad8, uLoad16, uLoad32, sLoad8, sLoad16, sLoad32, load64, fpuLoad32, fpuLoad64, vecLoad,
		store8, store16, store32, store64, fpuStore32, fpuStore64, vecStore:
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

// asLoadConst materializes v, which the lowering sign-extends from the width of its type.
func (i *instruction) asLoadConst(rd regalloc.VReg, v int64) *instruction {
	i.kind = loadConst
	i.rd = rd
	i.imm = v
	return i
}

func (i *instruction) asLoadFpuConst(rd regalloc.VReg, v uint64, bits byte) *instruction {
	i.kind = loadFpuConst
	i.rd = rd
	i.imm = int64(v)
	i.bits = bits
	return i
}

// asSymbolValue materializes the address of sym plus addend with an absolute relocation.
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

func (i *instruction) asFpuMov(rd, rn regalloc.VReg) *instruction {
	i.kind = fpuMov
	i.rd, i.rn = rd, rn
	return i
}

func (i *instruction) asVecMov(rd, rn regalloc.VReg) *instruction {
	i.kind = vecMov
	i.rd, i.rn = rd, rn
	return i
}

func (i *instruction) asALU(op aluOp, rd, rn, rm regalloc.VReg) *instruction {
	i.kind = aluRRR
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	return i
}

// asALUImm takes a signed 12-bit imm, or the shift amount of the shifts and rotations.
func (i *instruction) asALUImm(op aluOp, rd, rn regalloc.VReg, imm int64) *instruction {
	i.kind = aluRRImm12
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.imm = imm
	return i
}

func (i *instruction) asBitRR(op bitOp, rd, rn regalloc.VReg) *instruction {
	i.kind = bitRR
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	return i
}

// asExtend extends the from low bits of rn into 64 bits.
func (i *instruction) asExtend(rd, rn regalloc.VReg, from byte, signed bool) *instruction {
	i.kind = extend
	i.rd, i.rn = rd, rn
	i.bits = from
	i.signed = signed
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

func (i *instruction) asFpuRRR(op fpuOp, rd, rn, rm regalloc.VReg, bits byte) *instruction {
	i.kind = fpuRRR
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.bits = bits
	return i
}

// asFpuRR takes the width of the result as bits.
func (i *instruction) asFpuRR(op fpuOp, rd, rn regalloc.VReg, bits byte) *instruction {
	i.kind = fpuRR
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.bits = bits
	return i
}

func (i *instruction) asFpuCmp(op fpuCmpOp, rd, rn, rm regalloc.VReg, bits byte) *instruction {
	i.kind = fpuCmp
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.bits = bits
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

func (i *instruction) asFpuRoundSeq(mode roundMode, rd, rn regalloc.VReg, bits byte) *instruction {
	i.kind = fpuRoundSeq
	i.op = byte(mode)
	i.rd, i.rn = rd, rn
	i.bits = bits
	return i
}

func (i *instruction) asFminMaxSeq(op fpuOp, rd, rn, rm regalloc.VReg, bits byte) *instruction {
	i.kind = fminMaxSeq
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.bits = bits
	return i
}

// asBitCountSeq counts the bits of rn, whose bits above the width are zero.
func (i *instruction) asBitCountSeq(op countOp, rd, rn regalloc.VReg, width byte) *instruction {
	i.kind = bitCountSeq
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.bits = width
	return i
}

// asSelectSeq sets rd to x if c is nonzero, to y otherwise.
func (i *instruction) asSelectSeq(rd, c, x, y regalloc.VReg) *instruction {
	i.kind = selectSeq
	i.rd, i.rn, i.rm, i.ra = rd, c, x, y
	return i
}

func (i *instruction) asVecRRR(op vecOp, rd, rn, rm regalloc.VReg, laneBits byte) *instruction {
	i.kind = vecRRR
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.bits = laneBits
	return i
}

func (i *instruction) asVecRRX(op vecOp, rd, rn, rm regalloc.VReg, laneBits byte) *instruction {
	i.kind = vecRRX
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.bits = laneBits
	return i
}

func (i *instruction) asVecMisc(op vecOp, rd, rn regalloc.VReg, laneBits byte) *instruction {
	i.kind = vecMisc
	i.op = byte(op)
	i.rd, i.rn = rd, rn
	i.bits = laneBits
	return i
}

// asVecSeq defines rd only once done with rn and rm, so that it is never one of them.
func (i *instruction) asVecSeq(op vecOp, rd, rn, rm regalloc.VReg, laneBits byte) *instruction {
	i.kind = vecSeq
	i.op = byte(op)
	i.rd, i.rn, i.rm = rd, rn, rm
	i.bits = laneBits
	return i
}

func (i *instruction) asVecSplat(rd, rn regalloc.VReg, laneBits byte) *instruction {
	i.kind = vecSplat
	i.rd, i.rn = rd, rn
	i.bits = laneBits
	return i
}

func (i *instruction) asVecExtractLane(rd, rn regalloc.VReg, lane, laneBits byte) *instruction {
	i.kind = vecExtractLane
	i.rd, i.rn = rd, rn
	i.lane = lane
	i.bits = laneBits
	return i
}

func (i *instruction) asVecInsertLane(rd, rn regalloc.VReg, lane, laneBits byte) *instruction {
	i.kind = vecInsertLane
	i.rd, i.rn = rd, rn
	i.lane = lane
	i.bits = laneBits
	return i
}

func (i *instruction) asLoadVecConst(rd regalloc.VReg, lo, hi uint64) *instruction {
	i.kind = loadVecConst
	i.rd = rd
	i.imm, i.imm2 = int64(lo), int64(hi)
	return i
}

func (i *instruction) asBr(l backend.Label) *instruction {
	i.kind = br
	i.label = l
	return i
}

// asCondBr branches to l if rn c rm holds.
func (i *instruction) asCondBr(c cond, rn, rm regalloc.VReg, l backend.Label) *instruction {
	i.kind = condBr
	i.cond = c
	i.rn, i.rm = rn, rm
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

func (i *instruction) asTailCall(sym string, colocated bool, ptr regalloc.VReg, abi *backend.FunctionABI, spOffset int64) *instruction {
	i.kind = tailCall
	i.sym = sym
	i.colocated = colocated
	i.rn = ptr
	i.abi = abi
	i.imm = spOffset
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

// asTrapIf traps with code if rn c rm holds.
func (i *instruction) asTrapIf(c cond, rn, rm regalloc.VReg, code codegenapi.TrapCode) *instruction {
	i.kind = trapIf
	i.cond = c
	i.rn, i.rm = rn, rm
	i.trap = code
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

// laneBitsOf returns the lane width of the vector type typ.
func laneBitsOf(typ ssa.Type) byte { return byte(typ.LaneType().Bits()) }
