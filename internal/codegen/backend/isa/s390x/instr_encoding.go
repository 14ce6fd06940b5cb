package s390x

import (
	"encoding/binary"
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// labelFixup is a jump or a jump table entry whose label was not encoded yet.
type labelFixup struct {
	at    int
	label backend.Label
	kind  fixupKind
}

type fixupKind byte

const (
	// fixupRIL is the halfword offset of brcl, relative to the instruction at at.
	fixupRIL fixupKind = iota
	// fixupRel32 is a jump table entry, relative to the entry itself.
	fixupRel32
)

// Opcodes of the instructions the sequences use directly.
const (
	opBR     = 0x07 // bcr 15
	opBASR   = 0x0d
	opCR     = 0x19
	opCLR    = 0x15
	opMVI    = 0x92
	opLGR    = 0xb904
	opAGR    = 0xb908
	opSGR    = 0xb909
	opNGR    = 0xb980
	opLCGR   = 0xb903
	opCGR    = 0xb920
	opCLGR   = 0xb921
	opFLOGR  = 0xb983
	opMLGR   = 0xb986
	opDLGR   = 0xb987
	opDSGR   = 0xb90d
	opMGRK   = 0xb9ec
	opPOPCNT = 0xb9e1
	opLOCGR  = 0xb9e2
	opLG     = 0xe304
	opLGF    = 0xe314
	opLAY    = 0xe371
	opSTMG   = 0xeb24
	opLMG    = 0xeb04
	opLGHI   = 0xa79
	opAGHI   = 0xa7b
	opCGHI   = 0xa7f
	opBRC    = 0xa74
	opBRAS   = 0xa75
	opLGFI   = 0xc01
	opLLILF  = 0xc0f
	opIIHF   = 0xc08
	opLARL   = 0xc00
	opBRCL   = 0xc04
	opBRASL  = 0xc05
	opAGFI   = 0xc28
	opCGFI   = 0xc2c
	opCLGFI  = 0xc2e
	opCFI    = 0xc2d
	opCLFI   = 0xc2f
	opLDR    = 0x28
	opOGR    = 0xb981
	opCEBR   = 0xb309
	opCDBR   = 0xb319
	opLDGR   = 0xb3c1
	opLGDR   = 0xb3cd
	opFIEBRA = 0xb357
	opFIDBRA = 0xb35f
)

// memOpcodes are the RXY opcodes of the memory accesses.
var memOpcodes = map[instructionKind]uint32{
	uLoad8:  0xe390,
	uLoad16: 0xe391,
	uLoad32: 0xe316,
	sLoad8:  0xe377,
	sLoad16: 0xe315,
	sLoad32: 0xe314,
	load64:  0xe304,
	store8:  0xe372,
	store16: 0xe370,
	store32: 0xe350,
	store64: 0xe324,
}

// fpuMemOpcodes are the RX opcodes of the float accesses with a 12-bit displacement, and the RXY ones of
// their long displacement forms.
var fpuMemOpcodes = map[instructionKind][2]uint32{
	fpuLoad32:  {0x78, 0xed64},
	fpuLoad64:  {0x68, 0xed65},
	fpuStore32: {0x70, 0xed66},
	fpuStore64: {0x60, 0xed67},
}

// Branch masks: all the condition codes, and all but the code 3.
const (
	maskAlways  = 15
	maskOrdered = 14
)

func (m *machine) encodeInstr(i *instruction) {
	c := m.c
	switch kind := i.kind; kind {
	case nop0, args:
	case label:
		m.ectx.LabelOffsets[i.label] = int64(len(c.Buf()))

	case ret:
		if i.imm != 0 {
			m.emitAddImm(encSP, i.imm)
		}
		m.rr(opBR, maskAlways, encRA)

	case loadConst:
		m.emitConstant(regNum(i.rd), i.imm)

	case symbolValue:
		m.emitLiteralAddr(regNum(i.rd), i.sym, i.imm)

	case mov:
		m.rre(opLGR, regNum(i.rd), regNum(i.rn))

	case aluRRR:
		m.rrf(aluRRROpcodes[aluOp(i.op)].opcode, regNum(i.rm), regNum(i.rd), regNum(i.rn))

	case aluRR, unaryRR:
		m.rre(rreOpcodes[rreOp(i.op)].opcode, regNum(i.rd), regNum(i.rn))

	case addImm:
		m.emitMem(opLAY, regNum(i.rd), regNum(i.rn), 0, i.imm, codegenapi.TrapCodeInvalid)

	case shift:
		var amt uint32
		if i.rm.Valid() {
			amt = regNum(i.rm)
		}
		m.rxy(shiftOpcodes[shiftOp(i.op)].opcode, regNum(i.rd), regNum(i.rn), amt, i.imm)

	case mulhiSeq:
		m.encodeMulhi(i)

	case divRemSeq:
		m.encodeDivRem(i)

	case bitCountSeq:
		m.encodeBitCount(countOp(i.op), regNum(i.rd), regNum(i.rn))

	case uLoad8, uLoad16, uLoad32, sLoad8, sLoad16, sLoad32, load64:
		base, index, disp := m.resolveAmode(&i.amode)
		m.emitMem(memOpcodes[kind], regNum(i.rd), base, index, disp, i.trapCode())

	case store8, store16, store32, store64:
		base, index, disp := m.resolveAmode(&i.amode)
		m.emitMem(memOpcodes[kind], regNum(i.rn), base, index, disp, i.trapCode())

	case loadAddr:
		base, index, disp := m.resolveAmode(&i.amode)
		m.emitMem(opLAY, regNum(i.rd), base, index, disp, codegenapi.TrapCodeInvalid)

	case adjustSP:
		m.emitAddImm(encSP, i.imm)

	case saveRegs:
		m.rxy(opSTMG, uint32(i.imm), encSP, encSP, 8*i.imm)

	case restoreRegs:
		m.emitRestore(uint32(i.imm))

	case setCC:
		m.emitCompare(i)
		rd := regNum(i.rd)
		m.ri(opLGHI, rd, 0)
		m.ri(opLGHI, encR1, 1)
		m.rrf(opLOCGR, i.cond.mask(), rd, encR1)

	case selectSeq:
		m.emitCompare(i)
		rd := regNum(i.rd)
		if i.rd.RegType() == regalloc.RegTypeFloat {
			// ldr rd, rb; brc !cond, .+6; ldr rd, ra
			m.rr(opLDR, rd, regNum(i.rb))
			m.ri(opBRC, i.cond.invert().mask(), 3)
			m.rr(opLDR, rd, regNum(i.ra))
			break
		}
		m.rre(opLGR, rd, regNum(i.rb))
		m.rrf(opLOCGR, i.cond.mask(), rd, regNum(i.ra))

	case br:
		m.addFixup(i.label, fixupRIL)
		m.ril(opBRCL, maskAlways, 0)

	case condBr:
		m.emitCompare(i)
		m.addFixup(i.label, fixupRIL)
		m.ril(opBRCL, i.cond.mask(), 0)

	case brTableSeq:
		m.encodeBrTable(i)

	case call:
		if i.colocated {
			m.emit(0xc0, 0xe5) // brasl %r14
			c.AddRelocation(backend.RelocS390xPLTRel32Dbl, i.sym, 2)
			m.emit(0, 0, 0, 0)
		} else {
			m.emitLiteralAddr(encR1, i.sym, 0)
			m.rr(opBASR, encRA, encR1)
		}
		m.afterCall(i)

	case callInd:
		m.rr(opBASR, encRA, regNum(i.rn))
		m.afterCall(i)

	case tailCall:
		m.encodeTailCall(i)

	case probeLoop:
		m.encodeProbeLoop(i.imm, i.imm2)

	case probeStore:
		if fitsDisp20(-i.imm) {
			m.rxy(opLAY, encR1, 0, encSP, -i.imm)
		} else {
			m.rre(opLGR, encR1, encSP)
			m.emitAddImm(encR1, -i.imm)
		}
		m.si(opMVI, 0, encR1, 0)

	case udf:
		m.udf(i.trap)

	case trapIf:
		m.emitCompare(i)
		// Skip the trap: the branch and the halfword of the trap.
		m.ri(opBRC, i.cond.invert().mask(), 3)
		m.udf(i.trap)

	case fpuLoad32, fpuLoad64:
		base, index, disp := m.resolveAmode(&i.amode)
		m.emitFpuMem(kind, regNum(i.rd), base, index, disp, i.trapCode())

	case fpuStore32, fpuStore64:
		base, index, disp := m.resolveAmode(&i.amode)
		m.emitFpuMem(kind, regNum(i.rn), base, index, disp, i.trapCode())

	case fpuMov:
		m.rr(opLDR, regNum(i.rd), regNum(i.rn))

	case fpuRRR:
		rd, rn, rm := regNum(i.rd), regNum(i.rn), regNum(i.rm)
		op := fpuOp(i.op)
		if op == fpuOpCopysign {
			// cpsdr rd, rm, rn: the magnitude of rn with the sign of rm.
			m.rrf(op.opcode(i.bits), rm, rd, rn)
			break
		}
		if rd != rn {
			m.rr(opLDR, rd, rn)
		}
		m.rre(op.opcode(i.bits), rd, rm)

	case fpuRR:
		m.rre(fpuOp(i.op).opcode(i.bits), regNum(i.rd), regNum(i.rn))

	case fpuRound:
		op := uint32(opFIDBRA)
		if i.bits == 32 {
			op = opFIEBRA
		}
		// The mask 4 of the fourth operand suppresses the inexact exception.
		m.rrfe(op, uint32(i.imm), 4, regNum(i.rd), regNum(i.rn))

	case fpuConst:
		v := uint64(i.imm)
		if i.bits == 32 {
			v <<= 32
		}
		m.emitConstant(encR1, int64(v))
		m.rre(opLDGR, regNum(i.rd), encR1)

	case movToFPU:
		src := regNum(i.rn)
		if i.bits == 32 {
			m.rxy(shiftOpcodes[shiftOpSllg].opcode, encR1, src, 0, 32)
			src = encR1
		}
		m.rre(opLDGR, regNum(i.rd), src)

	case movFromFPU:
		rd := regNum(i.rd)
		m.rre(opLGDR, rd, regNum(i.rn))
		if i.bits == 32 {
			m.rxy(shiftOpcodes[shiftOpSrlg].opcode, rd, rd, 0, 32)
		}

	case intToFpu:
		m.rre(intToFpuOpcode(i.signed, i.bits), regNum(i.rd), regNum(i.rn))

	case fpuToIntSeq:
		m.encodeFpuToInt(i)

	case fpuMinMaxSeq:
		m.encodeFpuMinMax(i)

	default:
		panic(fmt.Sprintf("BUG: cannot encode %s", kind))
	}

	for _, u := range i.unwind {
		u.Offset = uint32(len(c.Buf()))
		c.AddUnwind(u)
	}
}

// emitCompare compares rn with rm, or with imm when rm is invalid, as the cond of i asks: signed or
// unsigned, 32 or 64 bits. Float compares always take two registers.
func (m *machine) emitCompare(i *instruction) {
	rn := regNum(i.rn)
	if i.fcmp {
		m.rre(fcmpOpcode(i._32), rn, regNum(i.rm))
		return
	}
	unsigned := i.cond.unsigned()
	if i.rm.Valid() {
		rm := regNum(i.rm)
		switch {
		case i._32 && unsigned:
			m.rr(opCLR, rn, rm)
		case i._32:
			m.rr(opCR, rn, rm)
		case unsigned:
			m.rre(opCLGR, rn, rm)
		default:
			m.rre(opCGR, rn, rm)
		}
		return
	}
	switch {
	case i._32 && unsigned:
		m.ril(opCLFI, rn, uint32(i.imm))
	case i._32:
		m.ril(opCFI, rn, uint32(int32(i.imm)))
	case unsigned:
		m.ril(opCLGFI, rn, backend.CheckImm[uint32](m.arch(), "unsigned compare immediate", i.imm))
	case fitsImm16(i.imm):
		m.ri(opCGHI, rn, i.imm)
	default:
		m.ril(opCGFI, rn, uint32(backend.CheckImm[int32](m.arch(), "compare immediate", i.imm)))
	}
}

// emitConstant materializes v in rd: lghi for the 16-bit values, lgfi for the 32-bit ones, llilf for the
// unsigned 32-bit ones and llilf with iihf otherwise.
func (m *machine) emitConstant(rd uint32, v int64) {
	switch {
	case fitsImm16(v):
		m.ri(opLGHI, rd, v)
	case fitsImm32(v):
		m.ril(opLGFI, rd, uint32(v))
	case uint64(v)>>32 == 0:
		m.ril(opLLILF, rd, uint32(v))
	default:
		m.ril(opLLILF, rd, uint32(v))
		m.ril(opIIHF, rd, uint32(uint64(v)>>32))
	}
}

// emitAddImm adds imm to the register r with aghi or agfi.
func (m *machine) emitAddImm(r uint32, imm int64) {
	if fitsImm16(imm) {
		m.ri(opAGHI, r, imm)
		return
	}
	m.ril(opAGFI, r, uint32(backend.CheckImm[int32](m.arch(), "stack adjustment", imm)))
}

// emitMem emits the RXY instruction op with the operand register r and the address disp(index, base).
// A displacement beyond 20 bits goes into r1 as the index. The trap site is the instruction itself.
func (m *machine) emitMem(op, r, base, index uint32, disp int64, trap codegenapi.TrapCode) {
	if !fitsDisp20(disp) {
		m.emitConstant(encR1, disp)
		if index != 0 {
			m.rre(opAGR, encR1, index)
		}
		index, disp = encR1, 0
	}
	if trap != codegenapi.TrapCodeInvalid {
		m.c.AddTrapSite(trap)
	}
	m.rxy(op, r, index, base, disp)
}

// emitFpuMem emits the float access of kind with the short RX form when the displacement fits 12 bits.
func (m *machine) emitFpuMem(kind instructionKind, r, base, index uint32, disp int64, trap codegenapi.TrapCode) {
	ops := fpuMemOpcodes[kind]
	if disp < 0 || disp >= 1<<12 {
		m.emitMem(ops[1], r, base, index, disp, trap)
		return
	}
	if trap != codegenapi.TrapCodeInvalid {
		m.c.AddTrapSite(trap)
	}
	m.emit(byte(ops[0]), byte(r<<4|index), byte(base<<4|uint32(disp)>>8), byte(disp))
}

func fcmpOpcode(_32 bool) uint32 {
	if _32 {
		return opCEBR
	}
	return opCDBR
}

// intToFpuOpcode returns cegbr, cdgbr, celgbr or cdlgbr.
func intToFpuOpcode(signed bool, bits byte) uint32 {
	switch {
	case signed && bits == 32:
		return 0xb3a4
	case signed:
		return 0xb3a5
	case bits == 32:
		return 0xb3a0
	default:
		return 0xb3a1
	}
}

// fpuToIntOpcodes are cfebr, cfdbr, cgebr and cgdbr, then their unsigned forms, indexed by the source width
// and the destination width.
var fpuToIntOpcodes = [2][2][2]uint32{
	{{0xb39c, 0xb39d}, {0xb3ac, 0xb3ad}},
	{{0xb398, 0xb399}, {0xb3a8, 0xb3a9}},
}

// encodeFpuToInt traps on NaN, then converts rounding toward zero. The conversion sets the code 3 when the
// truncated value does not fit, which traps too.
func (m *machine) encodeFpuToInt(i *instruction) {
	rd, rn := regNum(i.rd), regNum(i.rn)
	m.rre(fcmpOpcode(i.bits == 32), rn, rn)
	m.ri(opBRC, maskOrdered, 3)
	m.udf(codegenapi.TrapCodeBadConversionToInteger)
	op := fpuToIntOpcodes[b2i(i.signed)][b2i(!i._32)][widthIndex(i.bits)]
	m.rrfe(op, roundTowardZero, 0, rd, rn)
	m.ri(opBRC, maskOrdered, 3)
	m.udf(codegenapi.TrapCodeIntegerOverflow)
}

// encodeFpuMinMax selects with compares and branches. For the IEEE forms a NaN operand makes the result
// the sum of both, a NaN, and equal operands are ored for the minimum and anded for the maximum through
// r0 and r1, so that -0 is below +0. The pseudo forms select rm only if it is strictly beyond rn.
func (m *machine) encodeFpuMinMax(i *instruction) {
	rd, rn, rm := regNum(i.rd), regNum(i.rn), regNum(i.rm)
	cmp := fcmpOpcode(i.bits == 32)
	m.rr(opLDR, rd, rn)
	switch op := minMaxOp(i.op); op {
	case minMaxOpPmin, minMaxOpPmax:
		if op == minMaxOpPmin {
			m.rre(cmp, rm, rn)
		} else {
			m.rre(cmp, rn, rm)
		}
		// Skip the branch and the ldr unless low.
		m.ri(opBRC, condFLt.invert().mask(), 3)
		m.rr(opLDR, rd, rm)
	default:
		keep, logic := condFLt, uint32(opOGR)
		if op == minMaxOpMax {
			keep, logic = condFGt, opNGR
		}
		m.rre(cmp, rn, rm)
		m.ri(opBRC, condFUno.mask(), 9)
		m.ri(opBRC, condFEq.mask(), 11)
		m.ri(opBRC, keep.mask(), 17)
		m.rr(opLDR, rd, rm)
		m.ri(opBRC, maskAlways, 14)
		m.rre(fpuOpAdd.opcode(i.bits), rd, rm)
		m.ri(opBRC, maskAlways, 10)
		m.rre(opLGDR, encR0, rn)
		m.rre(opLGDR, encR1, rm)
		m.rre(logic, encR0, encR1)
		m.rre(opLDGR, rd, encR0)
	}
}

// resolveAmode returns the base, the index and the displacement of a, with the stack slots and the
// incoming area resolved to offsets from sp.
func (m *machine) resolveAmode(a *addressMode) (base, index uint32, disp int64) {
	switch a.kind {
	case addressModeKindRegImm:
		return regNum(a.rn), 0, a.imm
	case addressModeKindRegReg:
		return regNum(a.rn), regNum(a.rm), a.imm
	case addressModeKindStackSlot:
		return encSP, 0, m.frame.StackSlotOffset(a.slot, backend.CheckImm[uint32](m.arch(), "stack slot offset", a.imm))
	case addressModeKindIncoming:
		return encSP, 0, m.frame.Size() + a.imm
	default:
		panic("BUG: invalid addressMode kind")
	}
}

// emitLiteralAddr loads the absolute address of sym plus addend from a literal the bras jumps over.
func (m *machine) emitLiteralAddr(rd uint32, sym string, addend int64) {
	// bras %r1, .+12; .quad sym; lg rd, 0(%r1)
	m.ri(opBRAS, encR1, 6)
	m.c.AddRelocation(backend.RelocAbs8, sym, addend)
	m.emit(0, 0, 0, 0, 0, 0, 0, 0)
	m.rxy(opLG, rd, 0, encR1, 0)
}

// emitRestore reloads the registers from first to %r15 saved by the prologue, which also pops the frame.
func (m *machine) emitRestore(first uint32) {
	size := m.frame.Size()
	off := 8 * int64(first)
	if !fitsDisp20(size + off) {
		m.emitAddImm(encSP, size)
		size = 0
	}
	m.rxy(opLMG, first, encSP, encSP, size+off)
}

// encodeMulhi computes the high half of the 64-bit product in the r0:r1 pair. Without mgrk, the signed
// product is the unsigned one minus y where x is negative and minus x where y is.
func (m *machine) encodeMulhi(i *instruction) {
	rd, x, y := regNum(i.rd), regNum(i.rn), regNum(i.rm)
	switch {
	case i.signed && m.ext().Has(target.ExtMIE2):
		m.rrf(opMGRK, y, encR0, x)
	case i.signed:
		m.rre(opLGR, encR1, x)
		m.rre(opMLGR, encR0, y)
		for _, p := range [2][2]uint32{{x, y}, {y, x}} {
			m.rxy(shiftOpcodes[shiftOpSrag].opcode, encR1, p[0], 0, 63)
			m.rre(opNGR, encR1, p[1])
			m.rre(opSGR, encR0, encR1)
		}
	default:
		m.rre(opLGR, encR1, x)
		m.rre(opMLGR, encR0, y)
	}
	m.rre(opLGR, rd, encR0)
}

// encodeDivRem divides in the r0:r1 pair: the quotient ends in r1 and the remainder in r0. The signed
// remainder by -1 is zero without dividing, which would overflow for the minimum.
func (m *machine) encodeDivRem(i *instruction) {
	rd, x, y := regNum(i.rd), regNum(i.rn), regNum(i.rm)
	rem := i.imm != 0
	switch {
	case i.signed && rem:
		m.ri(opLGHI, encR0, 0)
		m.ri(opCGHI, y, -1)
		// Skip the branch, lgr and dsgr.
		m.ri(opBRC, condEq.mask(), 6)
		m.rre(opLGR, encR1, x)
		m.rre(opDSGR, encR0, y)
	case i.signed:
		m.rre(opLGR, encR1, x)
		m.rre(opDSGR, encR0, y)
	default:
		m.ri(opLGHI, encR0, 0)
		m.rre(opLGR, encR1, x)
		m.rre(opDLGR, encR0, y)
	}
	if rem {
		m.rre(opLGR, rd, encR0)
	} else {
		m.rre(opLGR, rd, encR1)
	}
}

// encodeBitCount counts with flogr, which leaves the number of leading zeros in r0 and sets the code 0
// for a zero operand, and with popcnt, which counts per byte. Narrow operands come zero-extended for clz
// and popcnt, and with the bit above their width set for ctz.
func (m *machine) encodeBitCount(op countOp, rd, rn uint32) {
	switch op {
	case countOpClz:
		m.rre(opFLOGR, encR0, rn)
		m.rre(opLGR, rd, encR0)
	case countOpCtz:
		// The lowest set bit alone: 63 minus its leading zeros, or 64 for zero.
		m.rre(opLCGR, encR1, rn)
		m.rre(opNGR, encR1, rn)
		m.rre(opFLOGR, encR0, encR1)
		m.ri(opBRC, 2, 4)
		m.ri(opLGHI, encR0, -1)
		m.ri(opLGHI, rd, 63)
		m.rre(opSGR, rd, encR0)
	case countOpPopcnt:
		m.rrf(opPOPCNT, 0, encR0, rn)
		for _, sh := range []int64{32, 16, 8} {
			m.rxy(shiftOpcodes[shiftOpSllg].opcode, encR1, encR0, 0, sh)
			m.rre(opAGR, encR0, encR1)
		}
		m.rxy(shiftOpcodes[shiftOpSrlg].opcode, rd, encR0, 0, 56)
	default:
		panic("BUG: invalid countOp")
	}
}

// afterCall records the stack map at the return address, and drops the arguments if the callee did not pop them.
func (m *machine) afterCall(i *instruction) {
	if len(i.refs) > 0 {
		slots := m.stackMapSlots[:0]
		for _, v := range i.refs {
			if m.frame.HasSpillSlot(v) {
				slots = append(slots, uint32(m.frame.SpillSlotOffset(v)))
			}
		}
		m.c.AddStackMap(slots)
		m.stackMapSlots = slots
	}
	if i.abi.CalleePopsArgs() {
		if n := i.abi.AlignedArgStackSize(); n > 0 {
			m.emitAddImm(encSP, -n)
		}
	}
}

// encodeTailCall restores the registers of the caller, the stack pointer at the entry included, moves the
// stack pointer to the one the callee must see and jumps.
func (m *machine) encodeTailCall(i *instruction) {
	if m.needsFrameRecord {
		m.emitRestore(regNumberInEncoding(m.firstSaved))
	}
	if i.imm != 0 {
		m.emitAddImm(encSP, i.imm)
	}
	switch {
	case i.rn.Valid():
		m.rr(opBR, maskAlways, regNum(i.rn))
	case i.colocated:
		m.emit(0xc0, maskAlways<<4|0x4) // brcl 15
		m.c.AddRelocation(backend.RelocS390xPLTRel32Dbl, i.sym, 2)
		m.emit(0, 0, 0, 0)
	default:
		m.emitLiteralAddr(encR1, i.sym, 0)
		m.rr(opBR, maskAlways, encR1)
	}
}

// encodeProbeLoop touches one byte per page from the stack pointer down, then the bottom of the frame.
// r0 is the distance below sp.
func (m *machine) encodeProbeLoop(frameSize, pageSize int64) {
	c := m.c
	m.ri(opLGHI, encR0, 0)
	loop := len(c.Buf())
	m.ril(opAGFI, encR0, uint32(backend.CheckImm[int32](m.arch(), "probe page size", pageSize)))
	m.ril(opCGFI, encR0, uint32(backend.CheckImm[int32](m.arch(), "frame size", frameSize)))
	// jhe exit; lgr %r1, %r15; sgr %r1, %r0; mvi 0(%r1), 0; j loop
	m.ri(opBRC, condGe.mask(), 10)
	m.rre(opLGR, encR1, encSP)
	m.rre(opSGR, encR1, encR0)
	m.si(opMVI, 0, encR1, 0)
	m.ri(opBRC, maskAlways, int64(loop-len(c.Buf()))/2)
	m.rre(opLGR, encR1, encSP)
	m.emitAddImm(encR1, -frameSize)
	m.si(opMVI, 0, encR1, 0)
}

// encodeBrTable bounds the index, loads the offset of the target from the table that follows the sequence,
// and jumps there.
func (m *machine) encodeBrTable(i *instruction) {
	idx := regNum(i.rn)
	m.ril(opCLGFI, idx, backend.CheckImm[uint32](m.arch(), "jump table size", len(i.targets)))
	m.addFixup(i.label, fixupRIL)
	m.ril(opBRCL, condGeU.mask(), 0)

	// larl %r1, table; sllg %r0, idx, 2; agr %r1, %r0; lgf %r0, 0(%r1); agr %r1, %r0; br %r1
	m.ril(opLARL, encR1, 14)
	m.rxy(shiftOpcodes[shiftOpSllg].opcode, encR0, idx, 0, 2)
	m.rre(opAGR, encR1, encR0)
	m.rxy(opLGF, encR0, 0, encR1, 0)
	m.rre(opAGR, encR1, encR0)
	m.rr(opBR, maskAlways, encR1)

	for _, l := range i.targets {
		m.addFixup(l, fixupRel32)
		m.emit(0, 0, 0, 0)
	}
}

// udf emits the invalid opcode zero, which raises an operation exception.
func (m *machine) udf(code codegenapi.TrapCode) {
	m.c.AddTrapSite(code)
	m.emit(0, 0)
}

func (m *machine) addFixup(l backend.Label, kind fixupKind) {
	m.fixups = append(m.fixups, labelFixup{at: len(m.c.Buf()), label: l, kind: kind})
}

func (m *machine) resolveFixups() {
	buf := m.c.Buf()
	for _, f := range m.fixups {
		off := m.ectx.LabelOffsets[f.label]
		if off < 0 {
			panic(fmt.Sprintf("BUG: %s was never encoded", f.label))
		}
		d := off - int64(f.at)
		switch f.kind {
		case fixupRIL:
			binary.BigEndian.PutUint32(buf[f.at+2:], uint32(int32(d/2)))
		case fixupRel32:
			binary.BigEndian.PutUint32(buf[f.at:], uint32(int32(d)))
		}
	}
}

func regNum(v regalloc.VReg) uint32 {
	if !v.IsRealReg() {
		panic(fmt.Sprintf("BUG: %s is not allocated", v))
	}
	return regNumberInEncoding(v.RealReg())
}

func (m *machine) emit(b ...byte) { m.c.EmitBytes(b) }

// rr emits the 2-byte RR format.
func (m *machine) rr(op byte, r1, r2 uint32) {
	m.emit(op, byte(r1<<4|r2))
}

// rre emits the 4-byte RRE format.
func (m *machine) rre(op, r1, r2 uint32) {
	m.emit(byte(op>>8), byte(op), 0, byte(r1<<4|r2))
}

// rrf emits the RRF formats, x being r3 or a mask in the third nibble.
func (m *machine) rrf(op, x, r1, r2 uint32) {
	m.emit(byte(op>>8), byte(op), byte(x<<4), byte(r1<<4|r2))
}

// rrfe emits the RRF-e format of the conversions and the roundings, with the masks m3 and m4.
func (m *machine) rrfe(op, m3, m4, r1, r2 uint32) {
	m.emit(byte(op>>8), byte(op), byte(m3<<4|m4), byte(r1<<4|r2))
}

// rxy emits the RXY and RSY formats: x2 is the index, or r3 for RSY.
func (m *machine) rxy(op, r1, x2, b2 uint32, d int64) {
	dl, dh := uint32(d)&0xfff, uint32(d>>12)&0xff
	m.emit(byte(op>>8), byte(r1<<4|x2), byte(b2<<4|dl>>8), byte(dl), byte(dh), byte(op))
}

// ri emits the RI format with a 12-bit opcode.
func (m *machine) ri(op, r1 uint32, imm int64) {
	i := uint16(backend.CheckImm[int16](m.arch(), "16-bit immediate", imm))
	m.emit(byte(op>>4), byte(r1<<4|op&0xf), byte(i>>8), byte(i))
}

// ril emits the RIL format with a 12-bit opcode.
func (m *machine) ril(op, r1, imm uint32) {
	m.c.EmitBytes(binary.BigEndian.AppendUint32([]byte{byte(op >> 4), byte(r1<<4 | op&0xf)}, imm))
}

// si emits the SI format.
func (m *machine) si(op byte, i2 byte, b1, d1 uint32) {
	m.emit(op, i2, byte(b1<<4|d1>>8), byte(d1))
}
