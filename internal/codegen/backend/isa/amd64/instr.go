package amd64

import (
	"fmt"
	"strings"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

type instruction struct {
	kind instructionKind
	// op is the sub-opcode of the kind: an aluOp, shiftOp, unaryOp, extMode or sseOpcode.
	op   byte
	cc   cond
	size byte
	src  operand
	mem  amode
	dst  regalloc.VReg
	dst2 regalloc.VReg
	tmp  [2]regalloc.VReg
	imm  uint64
	// signed is the signedness of divisions, multiplications and conversions.
	signed bool
	// bits is the narrow width of the division checks and float conversions.
	bits      byte
	label     backend.Label
	targets   []backend.Label
	trap      codegenapi.TrapCode
	sym       string
	colocated bool
	// stackArgs is the size of the stack arguments a tail call copies out of the outgoing area.
	stackArgs int64
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

	// Return, after the epilogue.
	ret

	// Constant materialization: movl $imm32, %reg32 or movabsq $imm64, %reg64.
	imm

	// Integer arithmetic: (add sub and or xor adc sbb imul) (32 64) (reg addr imm) reg.
	aluRmiR

	// Instructions on GPR that only read src and define dst: bsr, bsf, lzcnt, tzcnt, popcnt.
	unaryRmR

	// Bitwise not.
	not

	// Integer negation.
	neg

	// Integer quotient and remainder, with the checks for zero and overflow. The dividend is in %rax,
	// the result is in %rax for quotients and in %rdx for remainders.
	checkedDivOrRemSeq

	// The double-width product of a one-operand mul or imul: RDX:RAX := RAX * src.
	mulHi

	// GPR to GPR move: mov (64 32) reg reg.
	movRR

	// Loads and register extensions: movz and movs (bl bq wl wq lq), movl and movq.
	movzxRmR

	// Loads the memory address of mem into dst.
	lea

	// Integer stores: mov (b w l q) reg addr.
	movRM

	// Stores an imm32: movl $imm, addr.
	movImmM

	// Shifts and rotates: (shl shr sar rol ror) (b w l q) (imm %cl) reg.
	shiftR

	// A 128-bit shift of the register pair dst:dst2 by %cl.
	shift128Seq

	// Integer comparisons and tests: (cmp test) (b w l q) (reg addr imm) reg.
	cmpRmiR

	// Materializes the condition code in the destination, zero-extended to 32 bits.
	setcc

	// Integer conditional move.
	cmove

	push64
	pop64

	// XMM binary op: dst := dst op src.
	xmmRmR

	// XMM op with an 8-bit immediate: round, cmp, shuffles and inserts.
	xmmRmRImm

	// XMM shift by an xmm register or an immediate.
	xmmRmiReg

	// XMM unary op whose dst is write only: moves, loads, sqrt, conversions between floats.
	xmmUnaryRmR

	// XMM move between registers.
	xmmMovRR

	// XMM stores.
	xmmMovRM

	// movd, movq and pextr from XMM to a GPR.
	xmmToGpr

	// movd, movq and cvtsi2s from a GPR to XMM.
	gprToXmm

	// pinsr from a GPR to a lane of XMM.
	gprToXmmLane

	// Converts an unsigned int64 to a float.
	cvtUint64ToFloatSeq

	// Converts a float to a signed integer, trapping on NaN and overflow.
	cvtFloatToSintSeq

	// Converts a float to an unsigned integer, trapping on NaN and overflow.
	cvtFloatToUintSeq

	// Scalar min/max with the propagation of NaN and the ordering of signed zeros.
	xmmMinMaxSeq

	// XMM conditional move, as a branch over a movaps.
	xmmCmove

	// Float comparisons: ucomis (s d) (reg addr) reg.
	xmmCmpRmR

	// Direct call.
	call

	// Indirect call: callq reg.
	callIndirect

	// Tail call, replacing the frame of the current function.
	tailCall

	// Calls the probestack helper with the frame size in %rax.
	callProbestack

	// Probes the pages of the frame in a loop.
	probeLoop

	// Jump to a label.
	jmp

	// One-way conditional branch.
	jmpIf

	// Jump-table sequence, as one compound instruction.
	jmpTableSeq

	// Traps if the condition code is set.
	trapIf

	// Always traps.
	ud2

	// A local label in the middle of a block.
	label
)

func (k instructionKind) String() string {
	switch k {
	case nop0:
		return "nop"
	case args:
		return "args"
	case ret:
		return "ret"
	case imm:
		return "imm"
	case aluRmiR:
		return "aluRmiR"
	case unaryRmR:
		return "unaryRmR"
	case not:
		return "not"
	case neg:
		return "neg"
	case checkedDivOrRemSeq:
		return "checkedDivOrRemSeq"
	case mulHi:
		return "mulHi"
	case movRR:
		return "movRR"
	case movzxRmR:
		return "movzxRmR"
	case lea:
		return "lea"
	case movRM:
		return "movRM"
	case movImmM:
		return "movImmM"
	case shiftR:
		return "shiftR"
	case shift128Seq:
		return "shift128Seq"
	case cmpRmiR:
		return "cmpRmiR"
	case setcc:
		return "setcc"
	case cmove:
		return "cmove"
	case push64:
		return "push64"
	case pop64:
		return "pop64"
	case xmmRmR:
		return "xmmRmR"
	case xmmRmRImm:
		return "xmmRmRImm"
	case xmmRmiReg:
		return "xmmRmiReg"
	case xmmUnaryRmR:
		return "xmmUnaryRmR"
	case xmmMovRR:
		return "xmmMovRR"
	case xmmMovRM:
		return "xmmMovRM"
	case xmmToGpr:
		return "xmmToGpr"
	case gprToXmm:
		return "gprToXmm"
	case gprToXmmLane:
		return "gprToXmmLane"
	case cvtUint64ToFloatSeq:
		return "cvtUint64ToFloatSeq"
	case cvtFloatToSintSeq:
		return "cvtFloatToSintSeq"
	case cvtFloatToUintSeq:
		return "cvtFloatToUintSeq"
	case xmmMinMaxSeq:
		return "xmmMinMaxSeq"
	case xmmCmove:
		return "xmmCmove"
	case xmmCmpRmR:
		return "xmmCmpRmR"
	case call:
		return "call"
	case callIndirect:
		return "callIndirect"
	case tailCall:
		return "tailCall"
	case callProbestack:
		return "callProbestack"
	case probeLoop:
		return "probeLoop"
	case jmp:
		return "jmp"
	case jmpIf:
		return "jmpIf"
	case jmpTableSeq:
		return "jmpTableSeq"
	case trapIf:
		return "trapIf"
	case ud2:
		return "ud2"
	case label:
		return "label"
	default:
		panic(fmt.Sprintf("BUG: unknown instruction kind %d", k))
	}
}

type aluOp byte

const (
	aluOpAdd aluOp = iota + 1
	aluOpSub
	aluOpAnd
	aluOpOr
	aluOpXor
	aluOpAdc
	aluOpSbb
	aluOpImul
)

// String implements fmt.Stringer.
func (a aluOp) String() string {
	switch a {
	case aluOpAdd:
		return "add"
	case aluOpSub:
		return "sub"
	case aluOpAnd:
		return "and"
	case aluOpOr:
		return "or"
	case aluOpXor:
		return "xor"
	case aluOpAdc:
		return "adc"
	case aluOpSbb:
		return "sbb"
	case aluOpImul:
		return "imul"
	default:
		panic("BUG: invalid aluOp")
	}
}

type shiftOp byte

const (
	shiftOpRotateLeft           shiftOp = 0
	shiftOpRotateRight          shiftOp = 1
	shiftOpShiftLeft            shiftOp = 4
	shiftOpShiftRightLogical    shiftOp = 5
	shiftOpShiftRightArithmetic shiftOp = 7
)

// String implements fmt.Stringer.
func (s shiftOp) String() string {
	switch s {
	case shiftOpRotateLeft:
		return "rol"
	case shiftOpRotateRight:
		return "ror"
	case shiftOpShiftLeft:
		return "shl"
	case shiftOpShiftRightLogical:
		return "shr"
	case shiftOpShiftRightArithmetic:
		return "sar"
	default:
		panic("BUG: invalid shiftOp")
	}
}

type unaryOp byte

const (
	unaryOpBsr unaryOp = iota + 1
	unaryOpBsf
	unaryOpLzcnt
	unaryOpTzcnt
	unaryOpPopcnt
)

// String implements fmt.Stringer.
func (u unaryOp) String() string {
	switch u {
	case unaryOpBsr:
		return "bsr"
	case unaryOpBsf:
		return "bsf"
	case unaryOpLzcnt:
		return "lzcnt"
	case unaryOpTzcnt:
		return "tzcnt"
	case unaryOpPopcnt:
		return "popcnt"
	default:
		panic("BUG: invalid unaryOp")
	}
}

// extMode is the source and destination widths of movzx and movsx.
type extMode byte

const (
	extModeBL extMode = iota + 1
	extModeBQ
	extModeWL
	extModeWQ
	extModeLQ
	// extModeQQ is a plain 64-bit move or load.
	extModeQQ
)

func (e extMode) srcSize() byte {
	switch e {
	case extModeBL, extModeBQ:
		return 1
	case extModeWL, extModeWQ:
		return 2
	case extModeLQ:
		return 4
	default:
		return 8
	}
}

func (e extMode) dstSize() byte {
	switch e {
	case extModeBL, extModeWL:
		return 4
	default:
		return 8
	}
}

// String implements fmt.Stringer.
func (e extMode) String() string {
	switch e {
	case extModeBL:
		return "bl"
	case extModeBQ:
		return "bq"
	case extModeWL:
		return "wl"
	case extModeWQ:
		return "wq"
	case extModeLQ:
		return "lq"
	case extModeQQ:
		return "qq"
	default:
		panic("BUG: invalid extMode")
	}
}

// extModeOf returns the mode extending from bytes to 4 or 8 bytes.
func extModeOf(from, to byte) extMode {
	switch {
	case from == 1 && to <= 4:
		return extModeBL
	case from == 1:
		return extModeBQ
	case from == 2 && to <= 4:
		return extModeWL
	case from == 2:
		return extModeWQ
	case from == 4:
		return extModeLQ
	default:
		return extModeQQ
	}
}

// cond is an x86 condition code, numbered like the low nibble of jcc.
type cond byte

const (
	condO   cond = iota // overflow
	condNO              // no overflow
	condB               // below (CF = 1)
	condNB              // not below (CF = 0)
	condZ               // zero (ZF = 1)
	condNZ              // not zero (ZF = 0)
	condBE              // below or equal
	condNBE             // above
	condS               // negative
	condNS              // not negative
	condP               // parity (unordered after ucomis)
	condNP              // no parity
	condL               // less
	condNL              // greater or equal
	condLE              // less or equal
	condNLE             // greater
)

var condNames = [...]string{"o", "no", "b", "nb", "z", "nz", "be", "nbe", "s", "ns", "p", "np", "l", "nl", "le", "nle"}

// String implements fmt.Stringer.
func (c cond) String() string { return condNames[c] }

func (c cond) invert() cond { return c ^ 1 }

func suffix(size byte) string {
	switch size {
	case 1:
		return "b"
	case 2:
		return "w"
	case 4:
		return "l"
	default:
		return "q"
	}
}

// String implements regalloc.Instr.
func (i *instruction) String() string {
	switch i.kind {
	case nop0:
		return "nop"
	case args:
		return "args " + i.formatFixed()
	case ret:
		if i.imm != 0 {
			return fmt.Sprintf("ret $%d %s", i.imm, i.formatFixed())
		}
		return strings.TrimSpace("ret " + i.formatFixed())
	case imm:
		if i.sym != "" {
			return fmt.Sprintf("movabsq $%s+%d, %s", i.sym, int64(i.imm), formatVRegSized(i.dst, 8))
		}
		if i.size == 8 {
			return fmt.Sprintf("movabsq $%d, %s", int64(i.imm), formatVRegSized(i.dst, 8))
		}
		return fmt.Sprintf("movl $%d, %s", int32(i.imm), formatVRegSized(i.dst, 4))
	case aluRmiR:
		return fmt.Sprintf("%s%s %s, %s", aluOp(i.op), suffix(i.size), i.src.format(i.size), formatVRegSized(i.dst, i.size))
	case unaryRmR:
		return fmt.Sprintf("%s%s %s, %s", unaryOp(i.op), suffix(i.size), i.src.format(i.size), formatVRegSized(i.dst, i.size))
	case not, neg:
		return fmt.Sprintf("%s%s %s", i.kind, suffix(i.size), formatVRegSized(i.dst, i.size))
	case checkedDivOrRemSeq:
		name := "div"
		if i.signed {
			name = "idiv"
		}
		what := "quo"
		if i.op == 1 {
			what = "rem"
		}
		return fmt.Sprintf("%s_%s_seq%s %s, %s, %s", name, what, suffix(i.size), formatVRegSized(i.src.r, i.size),
			formatVRegSized(i.dst, i.size), formatVRegSized(i.dst2, i.size))
	case mulHi:
		name := "mul"
		if i.signed {
			name = "imul"
		}
		return fmt.Sprintf("%s%s %s, %s, %s", name, suffix(i.size), i.src.format(i.size),
			formatVRegSized(i.dst, i.size), formatVRegSized(i.dst2, i.size))
	case movRR:
		return fmt.Sprintf("mov%s %s, %s", suffix(i.size), i.src.format(i.size), formatVRegSized(i.dst, i.size))
	case movzxRmR:
		mode := extMode(i.op)
		switch {
		case mode == extModeQQ:
			return fmt.Sprintf("movq %s, %s", i.src.format(8), formatVRegSized(i.dst, 8))
		case mode == extModeLQ && !i.signed:
			return fmt.Sprintf("movl %s, %s", i.src.format(4), formatVRegSized(i.dst, 4))
		case i.signed:
			return fmt.Sprintf("movs%s %s, %s", mode, i.src.format(mode.srcSize()), formatVRegSized(i.dst, mode.dstSize()))
		default:
			return fmt.Sprintf("movz%s %s, %s", mode, i.src.format(mode.srcSize()), formatVRegSized(i.dst, mode.dstSize()))
		}
	case lea:
		return fmt.Sprintf("lea %s, %s", i.mem.String(), formatVRegSized(i.dst, 8))
	case movRM:
		return fmt.Sprintf("mov%s %s, %s", suffix(i.size), i.src.format(i.size), i.mem.String())
	case movImmM:
		return fmt.Sprintf("movl $%d, %s", int32(i.imm), i.mem.String())
	case shiftR:
		return fmt.Sprintf("%s%s %s, %s", shiftOp(i.op), suffix(i.size), i.src.format(1), formatVRegSized(i.dst, i.size))
	case shift128Seq:
		return fmt.Sprintf("%s128_seq %s, %s:%s", shiftOp(i.op), i.src.format(1),
			formatVRegSized(i.dst2, 8), formatVRegSized(i.dst, 8))
	case cmpRmiR:
		name := "cmp"
		if i.op == 1 {
			name = "test"
		}
		return fmt.Sprintf("%s%s %s, %s", name, suffix(i.size), i.src.format(i.size), formatVRegSized(i.dst, i.size))
	case setcc:
		return fmt.Sprintf("set%s %s", i.cc, formatVRegSized(i.dst, 4))
	case cmove:
		return fmt.Sprintf("cmov%s%s %s, %s", i.cc, suffix(i.size), i.src.format(i.size), formatVRegSized(i.dst, i.size))
	case push64:
		return fmt.Sprintf("pushq %s", i.src.format(8))
	case pop64:
		return fmt.Sprintf("popq %s", formatVRegSized(i.dst, 8))
	case xmmRmR, xmmUnaryRmR:
		return fmt.Sprintf("%s %s, %s", sseOpcode(i.op), i.src.format(16), formatVRegSized(i.dst, 16))
	case xmmRmRImm, xmmRmiReg:
		if i.kind == xmmRmiReg && i.src.kind == operandKindImm32 {
			return fmt.Sprintf("%s $%d, %s", sseOpcode(i.op), i.src.imm32, formatVRegSized(i.dst, 16))
		}
		if i.kind == xmmRmiReg {
			return fmt.Sprintf("%s %s, %s", sseOpcode(i.op), i.src.format(16), formatVRegSized(i.dst, 16))
		}
		return fmt.Sprintf("%s $%d, %s, %s", sseOpcode(i.op), i.imm, i.src.format(16), formatVRegSized(i.dst, 16))
	case xmmMovRR:
		return fmt.Sprintf("movaps %s, %s", i.src.format(16), formatVRegSized(i.dst, 16))
	case xmmMovRM:
		return fmt.Sprintf("%s %s, %s", sseOpcode(i.op), i.src.format(16), i.mem.String())
	case xmmToGpr:
		if op := sseOpcode(i.op); op.hasImm() {
			return fmt.Sprintf("%s $%d, %s, %s", op, i.imm, i.src.format(16), formatVRegSized(i.dst, i.size))
		}
		return fmt.Sprintf("%s %s, %s", sseOpcode(i.op), i.src.format(16), formatVRegSized(i.dst, i.size))
	case gprToXmm:
		return fmt.Sprintf("%s %s, %s", sseOpcode(i.op), i.src.format(i.size), formatVRegSized(i.dst, 16))
	case gprToXmmLane:
		return fmt.Sprintf("%s $%d, %s, %s", sseOpcode(i.op), i.imm, i.src.format(i.size), formatVRegSized(i.dst, 16))
	case cvtUint64ToFloatSeq:
		return fmt.Sprintf("cvtUint64ToFloatSeq%s %s, %s", suffix(i.size), i.src.format(8), formatVRegSized(i.dst, 16))
	case cvtFloatToSintSeq, cvtFloatToUintSeq:
		return fmt.Sprintf("%s%d%s %s, %s", i.kind, i.bits, suffix(i.size), i.src.format(16), formatVRegSized(i.dst, i.size))
	case xmmMinMaxSeq:
		name := "max"
		if i.op == 1 {
			name = "min"
		}
		return fmt.Sprintf("%s_seq%s %s, %s", name, suffix(i.size), i.src.format(16), formatVRegSized(i.dst, 16))
	case xmmCmove:
		return fmt.Sprintf("xmm_cmov%s %s, %s", i.cc, i.src.format(16), formatVRegSized(i.dst, 16))
	case xmmCmpRmR:
		return fmt.Sprintf("%s %s, %s", sseOpcode(i.op), i.src.format(16), formatVRegSized(i.dst, 16))
	case call:
		return strings.TrimSpace(fmt.Sprintf("call %s %s", i.sym, i.formatFixed()))
	case callIndirect:
		return strings.TrimSpace(fmt.Sprintf("call *%s %s", i.src.format(8), i.formatFixed()))
	case tailCall:
		if i.sym != "" {
			return strings.TrimSpace(fmt.Sprintf("return_call %s %s", i.sym, i.formatFixed()))
		}
		return strings.TrimSpace(fmt.Sprintf("return_call *%s %s", i.src.format(8), i.formatFixed()))
	case callProbestack:
		return fmt.Sprintf("movl $%d, %%eax; call %s", i.imm, backend.ProbestackSymbol)
	case probeLoop:
		return fmt.Sprintf("probe_loop %d, %d", i.imm, i.src.imm32)
	case jmp:
		return fmt.Sprintf("jmp %s", i.label)
	case jmpIf:
		return fmt.Sprintf("j%s %s", i.cc, i.label)
	case jmpTableSeq:
		targets := make([]string, len(i.targets))
		for j, t := range i.targets {
			targets[j] = t.String()
		}
		return fmt.Sprintf("jmp_table_seq %s, [%s], %s", i.src.format(8), strings.Join(targets, ", "), i.label)
	case trapIf:
		return fmt.Sprintf("trap_if_%s %s", i.cc, i.trap)
	case ud2:
		return fmt.Sprintf("ud2 %s", i.trap)
	case label:
		return i.label.String() + ":"
	default:
		panic(fmt.Sprintf("BUG: unknown instruction kind %d", i.kind))
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
		fmt.Fprintf(&b, "%s=%s", formatVRegSized(f.v, 8), regNames[f.r])
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
	switch i.kind {
	case args, ret, call:
		fixed()
	case callIndirect:
		i.src.visit(f)
		fixed()
	case tailCall:
		if i.src.kind == operandKindReg {
			f(&i.src.r, regalloc.Use(i.src.r).FixedTo(rax))
		}
		fixed()
	case imm, setcc:
		f(&i.dst, regalloc.Def(i.dst))
	case aluRmiR, cmove, xmmRmR, gprToXmmLane:
		i.src.visit(f)
		f(&i.dst, regalloc.Mod(i.dst))
	case xmmRmiReg:
		i.src.visit(f)
		f(&i.dst, regalloc.Mod(i.dst))
	case xmmRmRImm:
		i.src.visit(f)
		if sseOpcode(i.op).writesOnly() {
			f(&i.dst, regalloc.Def(i.dst))
		} else {
			f(&i.dst, regalloc.Mod(i.dst))
		}
	case unaryRmR, movzxRmR, xmmUnaryRmR, xmmToGpr, gprToXmm:
		i.src.visit(f)
		f(&i.dst, regalloc.Def(i.dst))
	case movRR, xmmMovRR:
		f(&i.dst, regalloc.Def(i.dst))
		i.src.visit(f)
	case not, neg:
		f(&i.dst, regalloc.Mod(i.dst))
	case checkedDivOrRemSeq:
		f(&i.tmp[0], regalloc.Use(i.tmp[0]).FixedTo(rax))
		i.src.visit(f)
		if i.op == 1 {
			f(&i.dst, regalloc.Def(i.dst).FixedTo(rdx))
			f(&i.dst2, regalloc.Def(i.dst2).FixedTo(rax))
		} else {
			f(&i.dst, regalloc.Def(i.dst).FixedTo(rax))
			f(&i.dst2, regalloc.Def(i.dst2).FixedTo(rdx))
		}
	case mulHi:
		f(&i.tmp[0], regalloc.Use(i.tmp[0]).FixedTo(rax))
		i.src.visit(f)
		f(&i.dst, regalloc.Def(i.dst).FixedTo(rax))
		f(&i.dst2, regalloc.Def(i.dst2).FixedTo(rdx))
	case lea:
		i.mem.visit(f)
		f(&i.dst, regalloc.Def(i.dst))
	case movRM, xmmMovRM:
		i.src.visit(f)
		i.mem.visit(f)
	case movImmM:
		i.mem.visit(f)
	case shiftR:
		if i.src.kind == operandKindReg {
			f(&i.src.r, regalloc.Use(i.src.r).FixedTo(rcx))
		}
		f(&i.dst, regalloc.Mod(i.dst))
	case shift128Seq:
		f(&i.src.r, regalloc.Use(i.src.r).FixedTo(rcx))
		f(&i.dst, regalloc.Mod(i.dst))
		f(&i.dst2, regalloc.Mod(i.dst2))
	case cmpRmiR, xmmCmpRmR:
		i.src.visit(f)
		f(&i.dst, regalloc.Use(i.dst))
	case xmmMinMaxSeq, xmmCmove:
		i.src.visit(f)
		f(&i.dst, regalloc.Mod(i.dst))
	case cvtUint64ToFloatSeq:
		i.src.visit(f)
		f(&i.dst, regalloc.Def(i.dst).Early())
		f(&i.tmp[0], regalloc.Def(i.tmp[0]).Early())
		f(&i.tmp[1], regalloc.Def(i.tmp[1]).Early())
	case cvtFloatToSintSeq, cvtFloatToUintSeq:
		i.src.visit(f)
		f(&i.dst, regalloc.Def(i.dst).Early())
		f(&i.tmp[0], regalloc.Def(i.tmp[0]).Early())
		if i.kind == cvtFloatToUintSeq {
			f(&i.tmp[1], regalloc.Def(i.tmp[1]).Early())
		}
	case jmpTableSeq:
		i.src.visit(f)
	case nop0, push64, pop64, callProbestack, probeLoop, jmp, jmpIf, trapIf, ud2, label:
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
func (i *instruction) IsCopy() bool {
	return (i.kind == movRR && i.size == 8) || i.kind == xmmMovRR
}

// IsCall implements regalloc.Instr.
func (i *instruction) IsCall() bool { return i.kind == call || i.kind == callIndirect }

// IsTerminator implements regalloc.Instr.
func (i *instruction) IsTerminator() bool {
	switch i.kind {
	case ret, jmp, jmpIf, jmpTableSeq, tailCall, ud2:
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
	case lea:
		return codegenapi.TrapCodeInvalid
	case movRM, movImmM, xmmMovRM:
		return i.mem.trap
	}
	if i.src.kind == operandKindMem {
		return i.src.amode.trap
	}
	return codegenapi.TrapCodeInvalid
}

func (i *instruction) asNop0() *instruction {
	i.kind = nop0
	return i
}

func (i *instruction) asImm(dst regalloc.VReg, value uint64, _64 bool) *instruction {
	i.kind = imm
	i.dst = dst
	i.imm = value
	i.size = 4
	if _64 {
		i.size = 8
	}
	return i
}

// asSymbolValue materializes the address of sym plus addend with an absolute relocation.
func (i *instruction) asSymbolValue(sym string, addend int64, dst regalloc.VReg) *instruction {
	i.asImm(dst, uint64(addend), true)
	i.sym = sym
	return i
}

func (i *instruction) asAluRmiR(op aluOp, rm operand, rd regalloc.VReg, _64 bool) *instruction {
	if rm.kind != operandKindReg && rm.kind != operandKindMem && rm.kind != operandKindImm32 {
		panic("BUG: invalid operand for aluRmiR")
	}
	i.kind = aluRmiR
	i.op = byte(op)
	i.src = rm
	i.dst = rd
	i.size = sizeOf64(_64)
	return i
}

func (i *instruction) asUnaryRmR(op unaryOp, rm operand, rd regalloc.VReg, _64 bool) *instruction {
	i.kind = unaryRmR
	i.op = byte(op)
	i.src = rm
	i.dst = rd
	i.size = sizeOf64(_64)
	return i
}

func (i *instruction) asNot(rd regalloc.VReg, _64 bool) *instruction {
	i.kind = not
	i.dst = rd
	i.size = sizeOf64(_64)
	return i
}

func (i *instruction) asNeg(rd regalloc.VReg, _64 bool) *instruction {
	i.kind = neg
	i.dst = rd
	i.size = sizeOf64(_64)
	return i
}

// asCheckedDivOrRemSeq divides x, which must be in a vreg fixed to %rax, by y. bits is the width of the
// operation before it was extended to 32 bits, for the overflow check of narrow signed quotients.
func (i *instruction) asCheckedDivOrRemSeq(rem, signed bool, x, y, rd, other regalloc.VReg, _64 bool, bits byte) *instruction {
	i.kind = checkedDivOrRemSeq
	i.op = 0
	if rem {
		i.op = 1
	}
	i.signed = signed
	i.tmp[0] = x
	i.src = newOperandReg(y)
	i.dst = rd
	i.dst2 = other
	i.size = sizeOf64(_64)
	i.bits = bits
	return i
}

func (i *instruction) asMulHi(signed bool, x regalloc.VReg, y operand, lo, hi regalloc.VReg, _64 bool) *instruction {
	i.kind = mulHi
	i.signed = signed
	i.tmp[0] = x
	i.src = y
	i.dst = lo
	i.dst2 = hi
	i.size = sizeOf64(_64)
	return i
}

func (i *instruction) asMovRR(rm, rd regalloc.VReg, _64 bool) *instruction {
	i.kind = movRR
	i.src = newOperandReg(rm)
	i.dst = rd
	i.size = sizeOf64(_64)
	return i
}

func (i *instruction) asMovzxRmR(mode extMode, src operand, rd regalloc.VReg) *instruction {
	i.kind = movzxRmR
	i.op = byte(mode)
	i.src = src
	i.dst = rd
	i.signed = false
	return i
}

func (i *instruction) asMovsxRmR(mode extMode, src operand, rd regalloc.VReg) *instruction {
	i.kind = movzxRmR
	i.op = byte(mode)
	i.src = src
	i.dst = rd
	i.signed = true
	return i
}

func (i *instruction) asMov64MR(a amode, rd regalloc.VReg) *instruction {
	return i.asMovzxRmR(extModeQQ, newOperandMem(a), rd)
}

func (i *instruction) asLEA(a amode, rd regalloc.VReg) *instruction {
	i.kind = lea
	i.mem = a
	i.dst = rd
	return i
}

func (i *instruction) asMovRM(rm regalloc.VReg, a amode, size byte) *instruction {
	i.kind = movRM
	i.src = newOperandReg(rm)
	i.mem = a
	i.size = size
	return i
}

func (i *instruction) asMovImmM(v uint32, a amode) *instruction {
	i.kind = movImmM
	i.imm = uint64(v)
	i.mem = a
	i.size = 4
	return i
}

func (i *instruction) asShiftR(op shiftOp, amount operand, rd regalloc.VReg, size byte) *instruction {
	if amount.kind != operandKindReg && amount.kind != operandKindImm32 {
		panic("BUG: invalid operand for shiftR")
	}
	i.kind = shiftR
	i.op = byte(op)
	i.src = amount
	i.dst = rd
	i.size = size
	return i
}

func (i *instruction) asShift128Seq(op shiftOp, amount, lo, hi regalloc.VReg) *instruction {
	i.kind = shift128Seq
	i.op = byte(op)
	i.src = newOperandReg(amount)
	i.dst = lo
	i.dst2 = hi
	i.size = 8
	return i
}

func (i *instruction) asCmpRmiR(cmp bool, rm operand, rn regalloc.VReg, size byte) *instruction {
	i.kind = cmpRmiR
	i.op = 0
	if !cmp {
		i.op = 1
	}
	i.src = rm
	i.dst = rn
	i.size = size
	return i
}

func (i *instruction) asSetcc(c cond, rd regalloc.VReg) *instruction {
	i.kind = setcc
	i.cc = c
	i.dst = rd
	return i
}

func (i *instruction) asCmove(c cond, rm operand, rd regalloc.VReg, _64 bool) *instruction {
	i.kind = cmove
	i.cc = c
	i.src = rm
	i.dst = rd
	i.size = sizeOf64(_64)
	return i
}

func (i *instruction) asPush64(r regalloc.VReg) *instruction {
	i.kind = push64
	i.src = newOperandReg(r)
	return i
}

func (i *instruction) asPop64(r regalloc.VReg) *instruction {
	i.kind = pop64
	i.dst = r
	return i
}

func (i *instruction) asXmmRmR(op sseOpcode, rm operand, rd regalloc.VReg) *instruction {
	i.kind = xmmRmR
	i.op = byte(op)
	i.src = rm
	i.dst = rd
	return i
}

func (i *instruction) asXmmRmRImm(op sseOpcode, imm8 uint8, rm operand, rd regalloc.VReg) *instruction {
	i.kind = xmmRmRImm
	i.op = byte(op)
	i.imm = uint64(imm8)
	i.src = rm
	i.dst = rd
	return i
}

func (i *instruction) asXmmRmiReg(op sseOpcode, rm operand, rd regalloc.VReg) *instruction {
	i.kind = xmmRmiReg
	i.op = byte(op)
	i.src = rm
	i.dst = rd
	return i
}

func (i *instruction) asXmmUnaryRmR(op sseOpcode, rm operand, rd regalloc.VReg) *instruction {
	i.kind = xmmUnaryRmR
	i.op = byte(op)
	i.src = rm
	i.dst = rd
	return i
}

func (i *instruction) asXmmMovRR(rm, rd regalloc.VReg) *instruction {
	i.kind = xmmMovRR
	i.src = newOperandReg(rm)
	i.dst = rd
	return i
}

func (i *instruction) asXmmMovRM(op sseOpcode, rm regalloc.VReg, a amode) *instruction {
	i.kind = xmmMovRM
	i.op = byte(op)
	i.src = newOperandReg(rm)
	i.mem = a
	return i
}

func (i *instruction) asXmmToGpr(op sseOpcode, rm, rd regalloc.VReg, _64 bool) *instruction {
	i.kind = xmmToGpr
	i.op = byte(op)
	i.src = newOperandReg(rm)
	i.dst = rd
	i.size = sizeOf64(_64)
	return i
}

// asPextr extracts the lane into the low bits of rd, zero-extended.
func (i *instruction) asPextr(op sseOpcode, lane byte, rm, rd regalloc.VReg) *instruction {
	i.asXmmToGpr(op, rm, rd, op == sseOpcodePextrq)
	i.imm = uint64(lane)
	return i
}

func (i *instruction) asGprToXmm(op sseOpcode, rm operand, rd regalloc.VReg, _64 bool) *instruction {
	i.kind = gprToXmm
	i.op = byte(op)
	i.src = rm
	i.dst = rd
	i.size = sizeOf64(_64)
	return i
}

func (i *instruction) asPinsr(op sseOpcode, lane byte, rm operand, rd regalloc.VReg) *instruction {
	i.kind = gprToXmmLane
	i.op = byte(op)
	i.imm = uint64(lane)
	i.src = rm
	i.dst = rd
	i.size = sizeOf64(op == sseOpcodePinsrq)
	return i
}

func (i *instruction) asCvtUint64ToFloatSeq(_64 bool, src, rd, tmp1, tmp2 regalloc.VReg) *instruction {
	i.kind = cvtUint64ToFloatSeq
	i.size = sizeOf64(_64)
	i.src = newOperandReg(src)
	i.dst = rd
	i.tmp = [2]regalloc.VReg{tmp1, tmp2}
	return i
}

// asCvtFloatToIntSeq converts the float of bits 32 or 64 into an integer of size bytes.
func (i *instruction) asCvtFloatToIntSeq(signed bool, bits byte, src, rd, tmpXmm, tmpXmm2 regalloc.VReg, _64 bool) *instruction {
	if signed {
		i.kind = cvtFloatToSintSeq
	} else {
		i.kind = cvtFloatToUintSeq
	}
	i.signed = signed
	i.bits = bits
	i.src = newOperandReg(src)
	i.dst = rd
	i.tmp = [2]regalloc.VReg{tmpXmm, tmpXmm2}
	i.size = sizeOf64(_64)
	return i
}

func (i *instruction) asXmmMinMaxSeq(isMin, _64 bool, rm, rd regalloc.VReg) *instruction {
	i.kind = xmmMinMaxSeq
	i.op = 0
	if isMin {
		i.op = 1
	}
	i.src = newOperandReg(rm)
	i.dst = rd
	i.size = sizeOf64(_64)
	return i
}

func (i *instruction) asXmmCmove(c cond, rm, rd regalloc.VReg) *instruction {
	i.kind = xmmCmove
	i.cc = c
	i.src = newOperandReg(rm)
	i.dst = rd
	return i
}

func (i *instruction) asXmmCmpRmR(op sseOpcode, rm operand, rd regalloc.VReg) *instruction {
	i.kind = xmmCmpRmR
	i.op = byte(op)
	i.src = rm
	i.dst = rd
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
	i.kind = callIndirect
	i.src = newOperandReg(ptr)
	i.abi = abi
	i.clobbers = regInfo.CallerSavedRegisters
	return i
}

func (i *instruction) asTailCall(sym string, colocated bool, ptr regalloc.VReg, abi *backend.FunctionABI, spOffset int64) *instruction {
	i.kind = tailCall
	i.sym = sym
	i.colocated = colocated
	if ptr.Valid() {
		i.src = newOperandReg(ptr)
	}
	i.abi = abi
	i.imm = uint64(spOffset)
	i.stackArgs = 0
	return i
}

func (i *instruction) asCallProbestack(frameSize int64) *instruction {
	i.kind = callProbestack
	i.imm = uint64(frameSize)
	i.clobbers = regalloc.NewRegSet(rax)
	return i
}

func (i *instruction) asProbeLoop(frameSize, pageSize int64) *instruction {
	i.kind = probeLoop
	i.imm = uint64(frameSize)
	i.src = newOperandImm32(uint32(pageSize))
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

func (i *instruction) asJmp(l backend.Label) *instruction {
	i.kind = jmp
	i.label = l
	return i
}

func (i *instruction) asJmpIf(c cond, l backend.Label) *instruction {
	i.kind = jmpIf
	i.cc = c
	i.label = l
	return i
}

func (i *instruction) asJmpTableSequence(idx regalloc.VReg, targets []backend.Label, defaultTarget backend.Label) *instruction {
	i.kind = jmpTableSeq
	i.src = newOperandReg(idx)
	i.targets = targets
	i.label = defaultTarget
	return i
}

func (i *instruction) asTrapIf(c cond, code codegenapi.TrapCode) *instruction {
	i.kind = trapIf
	i.cc = c
	i.trap = code
	return i
}

func (i *instruction) asUD2(code codegenapi.TrapCode) *instruction {
	i.kind = ud2
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

func sizeOf64(_64 bool) byte {
	if _64 {
		return 8
	}
	return 4
}
