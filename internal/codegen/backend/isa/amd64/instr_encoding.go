package amd64

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// labelFixup is a rel32 whose label was not encoded yet: at holds the displacement, relative to base.
type labelFixup struct {
	at, base int
	label    backend.Label
}

func (m *machine) encodeInstr(i *instruction) {
	c := m.c
	if code := i.trapCode(); code != codegenapi.TrapCodeInvalid && i.kind != trapIf && i.kind != ud2 {
		c.AddTrapSite(code)
	}

	switch kind := i.kind; kind {
	case nop0, args:
	case label:
		m.ectx.LabelOffsets[i.label] = int64(len(c.Buf()))

	case ret:
		if i.imm != 0 {
			c.EmitByte(0xc2)
			c.EmitByte(byte(i.imm))
			c.EmitByte(byte(i.imm >> 8))
		} else {
			c.EmitByte(0xc3)
		}

	case imm:
		dst := encOf(i.dst)
		switch {
		case i.sym != "":
			rexInfo(0).setW().encode(c, 0, dst)
			c.EmitByte(0xb8 | dst.encoding())
			c.AddRelocation(backend.RelocAbs8, i.sym, int64(i.imm))
			c.Emit8Bytes(0)
		case i.size == 8 && lower32willSignExtendTo64(i.imm):
			// movq $imm32, dst: C7 /0 id, sign-extended.
			encodeRegReg(c, legacyPrefixesNone, 0xc7, 1, 0, dst, rexInfo(0).setW())
			c.Emit4Bytes(uint32(i.imm))
		case i.size == 8 && i.imm>>32 != 0:
			rexInfo(0).setW().encode(c, 0, dst)
			c.EmitByte(0xb8 | dst.encoding())
			c.Emit8Bytes(i.imm)
		default:
			// movl zero-extends to 64 bits.
			rexInfo(0).encode(c, 0, dst)
			c.EmitByte(0xb8 | dst.encoding())
			c.Emit4Bytes(uint32(i.imm))
		}

	case aluRmiR:
		m.encodeAlu(aluOp(i.op), i.src, encOf(i.dst), rexOf(i.size))

	case unaryRmR:
		var prefix legacyPrefixes
		var opcode uint32
		switch unaryOp(i.op) {
		case unaryOpBsr:
			opcode = 0x0fbd
		case unaryOpBsf:
			opcode = 0x0fbc
		case unaryOpLzcnt:
			prefix, opcode = legacyPrefixes0xF3, 0x0fbd
		case unaryOpTzcnt:
			prefix, opcode = legacyPrefixes0xF3, 0x0fbc
		case unaryOpPopcnt:
			prefix, opcode = legacyPrefixes0xF3, 0x0fb8
		}
		m.encodeRM(prefix, opcode, 2, encOf(i.dst), i.src, rexOf(i.size))

	case not, neg:
		ext := regEnc(2)
		if kind == neg {
			ext = 3
		}
		encodeRegReg(c, legacyPrefixesNone, 0xf7, 1, ext, encOf(i.dst), rexOf(i.size))

	case checkedDivOrRemSeq:
		m.encodeDivSeq(i)

	case mulHi:
		ext := regEnc(4)
		if i.signed {
			ext = 5
		}
		m.encodeRM(legacyPrefixesNone, 0xf7, 1, ext, i.src, rexOf(i.size))

	case movRR:
		encodeRegReg(c, legacyPrefixesNone, 0x89, 1, encOf(i.src.r), encOf(i.dst), rexOf(i.size))

	case movzxRmR:
		m.encodeMovzx(i)

	case lea:
		encodeRegMem(c, legacyPrefixesNone, 0x8d, 1, encOf(i.dst), m.resolveAmode(i.mem), rexInfo(0).setW())

	case movRM:
		src := encOf(i.src.r)
		a := m.resolveAmode(i.mem)
		switch i.size {
		case 1:
			encodeRegMem(c, legacyPrefixesNone, 0x88, 1, src, a, rexInfo(0).forByteReg(src))
		case 2:
			encodeRegMem(c, legacyPrefixes0x66, 0x89, 1, src, a, 0)
		case 4:
			encodeRegMem(c, legacyPrefixesNone, 0x89, 1, src, a, 0)
		case 8:
			encodeRegMem(c, legacyPrefixesNone, 0x89, 1, src, a, rexInfo(0).setW())
		default:
			panic(fmt.Sprintf("BUG: invalid store size %d", i.size))
		}

	case movImmM:
		encodeRegMem(c, legacyPrefixesNone, 0xc7, 1, 0, m.resolveAmode(i.mem), 0)
		c.Emit4Bytes(uint32(i.imm))

	case shiftR:
		m.encodeShift(shiftOp(i.op), i.src, encOf(i.dst), i.size)

	case shift128Seq:
		m.encodeShift128(i)

	case cmpRmiR:
		m.encodeCmp(i)

	case setcc:
		dst := encOf(i.dst)
		encodeRegReg(c, legacyPrefixesNone, 0x0f90|uint32(i.cc), 2, 0, dst, rexInfo(0).forByteReg(dst))
		// movzbl dst8, dst32
		encodeRegReg(c, legacyPrefixesNone, 0x0fb6, 2, dst, dst, rexInfo(0).forByteReg(dst))

	case cmove:
		m.encodeRM(legacyPrefixesNone, 0x0f40|uint32(i.cc), 2, encOf(i.dst), i.src, rexOf(i.size))

	case push64:
		r := encOf(i.src.r)
		rexInfo(0).encode(c, 0, r)
		c.EmitByte(0x50 | r.encoding())

	case pop64:
		r := encOf(i.dst)
		rexInfo(0).encode(c, 0, r)
		c.EmitByte(0x58 | r.encoding())

	case xmmRmR, xmmUnaryRmR, xmmCmpRmR:
		m.encodeSSE(sseOpcode(i.op), encOf(i.dst), i.src, false)

	case xmmRmRImm:
		m.encodeSSE(sseOpcode(i.op), encOf(i.dst), i.src, false)
		c.EmitByte(byte(i.imm))

	case xmmRmiReg:
		op := sseOpcode(i.op)
		if i.src.kind == operandKindImm32 {
			info := &sseInfos[op]
			encodeRegReg(c, info.prefix, info.shiftOp, 2, regEnc(info.shiftExt), encOf(i.dst), 0)
			c.EmitByte(byte(i.src.imm32))
		} else {
			m.encodeSSE(op, encOf(i.dst), i.src, false)
		}

	case xmmMovRR:
		m.sseRR(sseOpcodeMovaps, encOf(i.dst), encOf(i.src.r), false)

	case xmmMovRM:
		info := &sseInfos[sseOpcode(i.op)]
		// The store forms are one above the loads: movss, movsd 0F 11 and movdqu 0F 7F.
		opcode := info.opcode + 1
		if sseOpcode(i.op) == sseOpcodeMovdqu {
			opcode = 0x0f7f
		}
		encodeRegMem(c, info.prefix, opcode, info.n, encOf(i.src.r), m.resolveAmode(i.mem), 0)

	case xmmToGpr:
		m.encodeXmmToGpr(i)

	case gprToXmm:
		op := sseOpcode(i.op)
		w := i.size == 8 && (op == sseOpcodeCvtsi2ss || op == sseOpcodeCvtsi2sd)
		m.encodeSSE(op, encOf(i.dst), i.src, w)

	case gprToXmmLane:
		m.encodeSSE(sseOpcode(i.op), encOf(i.dst), i.src, false)
		c.EmitByte(byte(i.imm))

	case cvtUint64ToFloatSeq:
		m.encodeCvtUint64ToFloat(i)

	case cvtFloatToSintSeq:
		m.encodeCvtFloatToSint(i)

	case cvtFloatToUintSeq:
		m.encodeCvtFloatToUint(i)

	case xmmMinMaxSeq:
		m.encodeMinMax(i)

	case xmmCmove:
		skip := m.jcc8(i.cc.invert())
		m.sseRR(sseOpcodeMovaps, encOf(i.dst), encOf(i.src.r), false)
		m.patchRel8(skip)

	case call:
		if i.colocated {
			c.EmitByte(0xe8)
			c.AddRelocation(backend.RelocX86CallPCRel4, i.sym, -4)
			c.Emit4Bytes(0)
		} else {
			m.encodeMovabsSym(tmpGpr, i.sym)
			encodeRegReg(c, legacyPrefixesNone, 0xff, 1, 2, encOf(tmpGpr), 0)
		}
		m.afterCall(i)

	case callIndirect:
		m.encodeRM(legacyPrefixesNone, 0xff, 1, 2, i.src, 0)
		m.afterCall(i)

	case tailCall:
		m.encodeTailCall(i)

	case callProbestack:
		// movl $size, %eax
		c.EmitByte(0xb8)
		c.Emit4Bytes(uint32(i.imm))
		c.EmitByte(0xe8)
		c.AddRelocation(backend.RelocX86CallPCRel4, backend.ProbestackSymbol, -4)
		c.Emit4Bytes(0)

	case probeLoop:
		m.encodeProbeLoop(int64(i.imm), int64(i.src.imm32))

	case jmp:
		c.EmitByte(0xe9)
		m.addFixup(i.label)

	case jmpIf:
		c.EmitByte(0x0f)
		c.EmitByte(0x80 | byte(i.cc))
		m.addFixup(i.label)

	case jmpTableSeq:
		m.encodeJmpTable(i)

	case trapIf:
		skip := m.jcc8(i.cc.invert())
		m.ud2(i.trap)
		m.patchRel8(skip)

	case ud2:
		m.ud2(i.trap)

	default:
		panic(fmt.Sprintf("BUG: cannot encode %s", kind))
	}

	if i.unwind.Kind != 0 {
		u := i.unwind
		u.Offset = uint32(len(c.Buf()))
		c.AddUnwind(u)
	}
}

// encodeRM encodes an instruction whose ModRM.rm is rm, a register or a memory operand.
func (m *machine) encodeRM(prefix legacyPrefixes, opcodes, n uint32, r regEnc, rm operand, rex rexInfo) {
	switch rm.kind {
	case operandKindReg:
		encodeRegReg(m.c, prefix, opcodes, n, r, encOf(rm.r), rex)
	case operandKindMem:
		encodeRegMem(m.c, prefix, opcodes, n, r, m.resolveAmode(rm.amode), rex)
	default:
		panic("BUG: immediate operand in the rm position")
	}
}

func (m *machine) encodeSSE(op sseOpcode, r regEnc, rm operand, w bool) {
	info := &sseInfos[op]
	var rex rexInfo
	if info.rexW || w {
		rex = rex.setW()
	}
	m.encodeRM(info.prefix, info.opcode, info.n, r, rm, rex)
}

func (m *machine) sseRR(op sseOpcode, r, rm regEnc, w bool) {
	info := &sseInfos[op]
	var rex rexInfo
	if info.rexW || w {
		rex = rex.setW()
	}
	encodeRegReg(m.c, info.prefix, info.opcode, info.n, r, rm, rex)
}

// resolveAmode replaces the stack slot addressing with its final offset from rsp.
func (m *machine) resolveAmode(a amode) amode {
	if a.kind != amodeStackSlot {
		return a
	}
	off := m.frame.StackSlotOffset(a.slot, a.imm32)
	return newAmodeImmReg(backend.CheckImm[uint32](m.arch(), "stack slot offset", off), rspVReg)
}

func (m *machine) encodeAlu(op aluOp, src operand, dst regEnc, rex rexInfo) {
	c := m.c
	if op == aluOpImul {
		switch src.kind {
		case operandKindImm32:
			if lower8willSignExtendTo32(src.imm32) {
				encodeRegReg(c, legacyPrefixesNone, 0x6b, 1, dst, dst, rex)
				c.EmitByte(byte(src.imm32))
			} else {
				encodeRegReg(c, legacyPrefixesNone, 0x69, 1, dst, dst, rex)
				c.Emit4Bytes(src.imm32)
			}
		default:
			m.encodeRM(legacyPrefixesNone, 0x0faf, 2, dst, src, rex)
		}
		return
	}

	var opcode uint32
	var ext regEnc
	switch op {
	case aluOpAdd:
		opcode, ext = 0x01, 0
	case aluOpOr:
		opcode, ext = 0x09, 1
	case aluOpAdc:
		opcode, ext = 0x11, 2
	case aluOpSbb:
		opcode, ext = 0x19, 3
	case aluOpAnd:
		opcode, ext = 0x21, 4
	case aluOpSub:
		opcode, ext = 0x29, 5
	case aluOpXor:
		opcode, ext = 0x31, 6
	default:
		panic("BUG: invalid aluOp")
	}
	switch src.kind {
	case operandKindReg:
		encodeRegReg(c, legacyPrefixesNone, opcode, 1, encOf(src.r), dst, rex)
	case operandKindMem:
		encodeRegMem(c, legacyPrefixesNone, opcode+2, 1, dst, m.resolveAmode(src.amode), rex)
	case operandKindImm32:
		if lower8willSignExtendTo32(src.imm32) {
			encodeRegReg(c, legacyPrefixesNone, 0x83, 1, ext, dst, rex)
			c.EmitByte(byte(src.imm32))
		} else {
			encodeRegReg(c, legacyPrefixesNone, 0x81, 1, ext, dst, rex)
			c.Emit4Bytes(src.imm32)
		}
	}
}

func (m *machine) encodeMovzx(i *instruction) {
	dst := encOf(i.dst)
	mode := extMode(i.op)
	var opcode, n uint32
	var rex rexInfo
	switch mode {
	case extModeQQ:
		opcode, n, rex = 0x8b, 1, rexInfo(0).setW()
	case extModeLQ:
		if i.signed {
			// movsxd
			opcode, n, rex = 0x63, 1, rexInfo(0).setW()
		} else {
			opcode, n = 0x8b, 1
		}
	case extModeBL, extModeBQ:
		opcode, n = 0x0fb6, 2
		if i.signed {
			opcode = 0x0fbe
		}
		if mode == extModeBQ {
			rex = rex.setW()
		}
		if i.src.kind == operandKindReg {
			rex = rex.forByteReg(encOf(i.src.r))
		}
	case extModeWL, extModeWQ:
		opcode, n = 0x0fb7, 2
		if i.signed {
			opcode = 0x0fbf
		}
		if mode == extModeWQ {
			rex = rex.setW()
		}
	default:
		panic("BUG: invalid extMode")
	}
	m.encodeRM(legacyPrefixesNone, opcode, n, dst, i.src, rex)
}

func (m *machine) encodeShift(op shiftOp, amount operand, dst regEnc, size byte) {
	prefix := legacyPrefixesNone
	rex := rexOf(size)
	byCl, byImm := uint32(0xd3), uint32(0xc1)
	switch size {
	case 1:
		byCl, byImm = 0xd2, 0xc0
		rex = rex.forByteReg(dst)
	case 2:
		prefix = legacyPrefixes0x66
	}
	switch amount.kind {
	case operandKindReg:
		encodeRegReg(m.c, prefix, byCl, 1, regEnc(op), dst, rex)
	case operandKindImm32:
		encodeRegReg(m.c, prefix, byImm, 1, regEnc(op), dst, rex)
		m.c.EmitByte(byte(amount.imm32))
	default:
		panic("BUG: invalid shift amount")
	}
}

func (m *machine) encodeShift128(i *instruction) {
	c := m.c
	lo, hi := encOf(i.dst), encOf(i.dst2)
	w := rexInfo(0).setW()
	switch shiftOp(i.op) {
	case shiftOpShiftLeft:
		// shld %cl, lo, hi; shl %cl, lo
		encodeRegReg(c, legacyPrefixesNone, 0x0fa5, 2, lo, hi, w)
		encodeRegReg(c, legacyPrefixesNone, 0xd3, 1, regEnc(shiftOpShiftLeft), lo, w)
	case shiftOpShiftRightLogical, shiftOpShiftRightArithmetic:
		// shrd %cl, hi, lo; shr or sar %cl, hi
		encodeRegReg(c, legacyPrefixesNone, 0x0fad, 2, hi, lo, w)
		encodeRegReg(c, legacyPrefixesNone, 0xd3, 1, regEnc(i.op), hi, w)
	default:
		panic("BUG: invalid 128-bit shift")
	}
	// The shifts above only use the low 6 bits of the amount: fix up the amounts of 64 and above.
	// testb $64, %cl
	encodeRegReg(c, legacyPrefixesNone, 0xf6, 1, 0, encOf(rcxVReg), 0)
	c.EmitByte(64)
	skip := m.jcc8(condZ)
	switch shiftOp(i.op) {
	case shiftOpShiftLeft:
		encodeRegReg(c, legacyPrefixesNone, 0x89, 1, lo, hi, w)
		encodeRegReg(c, legacyPrefixesNone, 0x31, 1, lo, lo, w)
	case shiftOpShiftRightLogical:
		encodeRegReg(c, legacyPrefixesNone, 0x89, 1, hi, lo, w)
		encodeRegReg(c, legacyPrefixesNone, 0x31, 1, hi, hi, w)
	case shiftOpShiftRightArithmetic:
		encodeRegReg(c, legacyPrefixesNone, 0x89, 1, hi, lo, w)
		encodeRegReg(c, legacyPrefixesNone, 0xc1, 1, regEnc(shiftOpShiftRightArithmetic), hi, w)
		c.EmitByte(63)
	}
	m.patchRel8(skip)
}

func (m *machine) encodeCmp(i *instruction) {
	c := m.c
	dst := encOf(i.dst)
	isTest := i.op == 1
	prefix := legacyPrefixesNone
	rex := rexOf(i.size)
	if i.size == 2 {
		prefix = legacyPrefixes0x66
	}
	if i.size == 1 {
		rex = rex.forByteReg(dst)
		if i.src.kind == operandKindReg {
			rex = rex.forByteReg(encOf(i.src.r))
		}
	}

	switch i.src.kind {
	case operandKindReg, operandKindMem:
		opcode := uint32(0x39)
		if isTest {
			opcode = 0x85
		}
		if i.size == 1 {
			opcode--
		}
		if i.src.kind == operandKindReg {
			encodeRegReg(c, prefix, opcode, 1, encOf(i.src.r), dst, rex)
			return
		}
		if !isTest {
			// cmp dst, mem is the load direction.
			opcode += 2
		}
		encodeRegMem(c, prefix, opcode, 1, dst, m.resolveAmode(i.src.amode), rex)

	case operandKindImm32:
		v := i.src.imm32
		switch {
		case isTest && i.size == 1:
			encodeRegReg(c, prefix, 0xf6, 1, 0, dst, rex)
			c.EmitByte(byte(v))
		case isTest:
			encodeRegReg(c, prefix, 0xf7, 1, 0, dst, rex)
			m.emitImmOfSize(v, i.size)
		case i.size == 1:
			encodeRegReg(c, prefix, 0x80, 1, 7, dst, rex)
			c.EmitByte(byte(v))
		case lower8willSignExtendTo32(v):
			encodeRegReg(c, prefix, 0x83, 1, 7, dst, rex)
			c.EmitByte(byte(v))
		default:
			encodeRegReg(c, prefix, 0x81, 1, 7, dst, rex)
			m.emitImmOfSize(v, i.size)
		}
	default:
		panic("BUG: invalid cmp operand")
	}
}

func (m *machine) emitImmOfSize(v uint32, size byte) {
	if size == 2 {
		m.c.EmitByte(byte(v))
		m.c.EmitByte(byte(v >> 8))
		return
	}
	m.c.Emit4Bytes(v)
}

func (m *machine) encodeXmmToGpr(i *instruction) {
	op := sseOpcode(i.op)
	src, dst := encOf(i.src.r), encOf(i.dst)
	info := &sseInfos[op]
	var rex rexInfo
	if info.rexW || i.size == 8 {
		rex = rex.setW()
	}
	switch op {
	case sseOpcodeMovd, sseOpcodeMovq:
		// The store direction: 66 0F 7E with the xmm register in ModRM.reg.
		encodeRegReg(m.c, info.prefix, 0x0f7e, 2, src, dst, rex)
	case sseOpcodePextrb, sseOpcodePextrd, sseOpcodePextrq:
		encodeRegReg(m.c, info.prefix, info.opcode, info.n, src, dst, rex)
		m.c.EmitByte(byte(i.imm))
	case sseOpcodePextrw:
		encodeRegReg(m.c, info.prefix, info.opcode, info.n, dst, src, rex)
		m.c.EmitByte(byte(i.imm))
	case sseOpcodeCvttss2si, sseOpcodeCvttsd2si:
		encodeRegReg(m.c, info.prefix, info.opcode, info.n, dst, src, rex)
	default:
		panic(fmt.Sprintf("BUG: invalid xmmToGpr opcode %s", op))
	}
}

func (m *machine) encodeDivSeq(i *instruction) {
	c := m.c
	rex := rexOf(i.size)
	y := encOf(i.src.r)
	eax, edx := encOf(raxVReg), encOf(rdxVReg)

	// test y, y; jnz; ud2
	encodeRegReg(c, legacyPrefixesNone, 0x85, 1, y, y, rex)
	nonZero := m.jcc8(condNZ)
	m.ud2(codegenapi.TrapCodeIntegerDivisionByZero)
	m.patchRel8(nonZero)

	var done []int
	if i.signed {
		// cmp $-1, y
		encodeRegReg(c, legacyPrefixesNone, 0x83, 1, 7, y, rex)
		c.EmitByte(0xff)
		notMinusOne := m.jcc8(condNZ)
		switch {
		case i.op == 1:
			// x % -1 is 0, even for the minimum value.
			encodeRegReg(c, legacyPrefixesNone, 0x31, 1, edx, edx, 0)
			done = append(done, m.jmp8())
		case i.bits == 8 || i.bits == 16:
			// The dividend is sign-extended to 32 bits: check its narrow minimum explicitly.
			encodeRegReg(c, legacyPrefixesNone, 0x81, 1, 7, eax, 0)
			c.Emit4Bytes(uint32(int32(-1) << (i.bits - 1)))
			notMin := m.jcc8(condNZ)
			m.ud2(codegenapi.TrapCodeIntegerOverflow)
			m.patchRel8(notMin)
			encodeRegReg(c, legacyPrefixesNone, 0xf7, 1, 3, eax, 0)
			done = append(done, m.jmp8())
		default:
			// neg overflows exactly for the minimum value.
			encodeRegReg(c, legacyPrefixesNone, 0xf7, 1, 3, eax, rex)
			done = append(done, m.jcc8(condNO))
			m.ud2(codegenapi.TrapCodeIntegerOverflow)
		}
		m.patchRel8(notMinusOne)
		// cdq or cqo
		if i.size == 8 {
			c.EmitByte(rexEncodingW)
		}
		c.EmitByte(0x99)
		encodeRegReg(c, legacyPrefixesNone, 0xf7, 1, 7, y, rex)
	} else {
		encodeRegReg(c, legacyPrefixesNone, 0x31, 1, edx, edx, 0)
		encodeRegReg(c, legacyPrefixesNone, 0xf7, 1, 6, y, rex)
	}
	for _, d := range done {
		m.patchRel8(d)
	}
}

func (m *machine) encodeCvtUint64ToFloat(i *instruction) {
	c := m.c
	w := rexInfo(0).setW()
	src, dst := encOf(i.src.r), encOf(i.dst)
	t1, t2 := encOf(i.tmp[0]), encOf(i.tmp[1])
	cvt, add := sseOpcodeCvtsi2ss, sseOpcodeAddss
	if i.size == 8 {
		cvt, add = sseOpcodeCvtsi2sd, sseOpcodeAddsd
	}

	encodeRegReg(c, legacyPrefixesNone, 0x85, 1, src, src, w)
	big := m.jcc8(condS)
	m.sseRR(cvt, dst, src, true)
	done := m.jmp8()

	m.patchRel8(big)
	// Halve the value keeping the lowest bit for the rounding, convert, and double.
	encodeRegReg(c, legacyPrefixesNone, 0x89, 1, src, t1, w)
	encodeRegReg(c, legacyPrefixesNone, 0xd1, 1, regEnc(shiftOpShiftRightLogical), t1, w)
	encodeRegReg(c, legacyPrefixesNone, 0x89, 1, src, t2, w)
	encodeRegReg(c, legacyPrefixesNone, 0x83, 1, 4, t2, w)
	c.EmitByte(1)
	encodeRegReg(c, legacyPrefixesNone, 0x09, 1, t2, t1, w)
	m.sseRR(cvt, dst, t1, true)
	m.sseRR(add, dst, dst, false)
	m.patchRel8(done)
}

// loadFloatConst materializes the float bits in the xmm register x, through the gpr g.
func (m *machine) loadFloatConst(x, g regEnc, bits byte, v float64) {
	c := m.c
	if bits == 32 {
		rexInfo(0).encode(c, 0, g)
		c.EmitByte(0xb8 | g.encoding())
		c.Emit4Bytes(math.Float32bits(float32(v)))
		m.sseRR(sseOpcodeMovd, x, g, false)
		return
	}
	rexInfo(0).setW().encode(c, 0, g)
	c.EmitByte(0xb8 | g.encoding())
	c.Emit8Bytes(math.Float64bits(v))
	m.sseRR(sseOpcodeMovq, x, g, false)
}

func (m *machine) encodeCvtFloatToSint(i *instruction) {
	c := m.c
	src, dst, tmp := encOf(i.src.r), encOf(i.dst), encOf(i.tmp[0])
	rex := rexOf(i.size)
	cvtt, ucomis := sseOpcodeCvttss2si, sseOpcodeUcomiss
	if i.bits == 64 {
		cvtt, ucomis = sseOpcodeCvttsd2si, sseOpcodeUcomisd
	}

	m.sseRR(cvtt, dst, src, i.size == 8)
	// Only the minimum integer, the "integer indefinite" value, can be an error: cmp $1 overflows on it.
	encodeRegReg(c, legacyPrefixesNone, 0x83, 1, 7, dst, rex)
	c.EmitByte(1)
	done := m.jcc8(condNO)

	m.sseRR(ucomis, src, src, false)
	notNaN := m.jcc8(condNP)
	m.ud2(codegenapi.TrapCodeBadConversionToInteger)
	m.patchRel8(notNaN)

	// The conversion is valid if src truncates to the minimum integer.
	intBits := float64(i.size) * 8
	threshold := -math.Pow(2, intBits-1)
	lowCond := condB
	if i.bits == 64 && i.size == 4 {
		threshold -= 1
		lowCond = condBE
	}
	m.loadFloatConst(tmp, dst, i.bits, threshold)
	m.sseRR(ucomis, src, tmp, false)
	tooLow := m.jcc8(lowCond)
	m.sseRR(sseOpcodeXorps, tmp, tmp, false)
	m.sseRR(ucomis, src, tmp, false)
	tooHigh := m.jcc8(condNB)
	m.sseRR(cvtt, dst, src, i.size == 8)
	valid := m.jmp8()

	m.patchRel8(tooLow)
	m.patchRel8(tooHigh)
	m.ud2(codegenapi.TrapCodeIntegerOverflow)
	m.patchRel8(done)
	m.patchRel8(valid)
}

func (m *machine) encodeCvtFloatToUint(i *instruction) {
	c := m.c
	src, dst := encOf(i.src.r), encOf(i.dst)
	tmp, tmp2 := encOf(i.tmp[0]), encOf(i.tmp[1])
	rex := rexOf(i.size)
	_64 := i.size == 8
	cvtt, ucomis, sub := sseOpcodeCvttss2si, sseOpcodeUcomiss, sseOpcodeSubss
	if i.bits == 64 {
		cvtt, ucomis, sub = sseOpcodeCvttsd2si, sseOpcodeUcomisd, sseOpcodeSubsd
	}

	m.sseRR(ucomis, src, src, false)
	notNaN := m.jcc8(condNP)
	m.ud2(codegenapi.TrapCodeBadConversionToInteger)
	m.patchRel8(notNaN)

	// Values from 2^(N-1) are converted after subtracting 2^(N-1), which is added back to the integer.
	intBits := byte(i.size) * 8
	m.loadFloatConst(tmp, dst, i.bits, math.Pow(2, float64(intBits-1)))
	m.sseRR(ucomis, src, tmp, false)
	big := m.jcc8(condNB)

	m.sseRR(cvtt, dst, src, _64)
	encodeRegReg(c, legacyPrefixesNone, 0x85, 1, dst, dst, rex)
	negative := m.jcc8(condS)
	small := m.jmp8()

	m.patchRel8(big)
	m.sseRR(sseOpcodeMovaps, tmp2, src, false)
	m.sseRR(sub, tmp2, tmp, false)
	m.sseRR(cvtt, dst, tmp2, _64)
	encodeRegReg(c, legacyPrefixesNone, 0x85, 1, dst, dst, rex)
	tooLarge := m.jcc8(condS)
	// btc $N-1, dst
	encodeRegReg(c, legacyPrefixesNone, 0x0fba, 2, 7, dst, rex)
	c.EmitByte(intBits - 1)
	valid := m.jmp8()

	m.patchRel8(negative)
	m.patchRel8(tooLarge)
	m.ud2(codegenapi.TrapCodeIntegerOverflow)
	m.patchRel8(small)
	m.patchRel8(valid)
}

func (m *machine) encodeMinMax(i *instruction) {
	src, dst := encOf(i.src.r), encOf(i.dst)
	isMin := i.op == 1
	ucomis, add, minMax, bitOp := sseOpcodeUcomiss, sseOpcodeAddss, sseOpcodeMaxss, sseOpcodeAndps
	if isMin {
		minMax, bitOp = sseOpcodeMinss, sseOpcodeOrps
	}
	if i.size == 8 {
		ucomis, add, minMax, bitOp = sseOpcodeUcomisd, sseOpcodeAddsd, sseOpcodeMaxsd, sseOpcodeAndpd
		if isMin {
			minMax, bitOp = sseOpcodeMinsd, sseOpcodeOrpd
		}
	}

	m.sseRR(ucomis, dst, src, false)
	notEqual := m.jcc8(condNZ)
	nan := m.jcc8(condP)
	// Equal operands: only the signs of zeros can differ, min ors them and max ands them.
	m.sseRR(bitOp, dst, src, false)
	done1 := m.jmp8()
	m.patchRel8(nan)
	m.sseRR(add, dst, src, false)
	done2 := m.jmp8()
	m.patchRel8(notEqual)
	m.sseRR(minMax, dst, src, false)
	m.patchRel8(done1)
	m.patchRel8(done2)
}

func (m *machine) encodeMovabsSym(dst regalloc.VReg, sym string) {
	d := encOf(dst)
	rexInfo(0).setW().encode(m.c, 0, d)
	m.c.EmitByte(0xb8 | d.encoding())
	m.c.AddRelocation(backend.RelocAbs8, sym, 0)
	m.c.Emit8Bytes(0)
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
			// sub $n, %rsp
			encodeRegReg(m.c, legacyPrefixesNone, 0x81, 1, 5, encOf(rspVReg), rexInfo(0).setW())
			m.c.Emit4Bytes(uint32(n))
		}
	}
}

func (m *machine) encodeTailCall(i *instruction) {
	c := m.c
	w := rexInfo(0).setW()
	for j, r := range m.frame.CalleeSaved() {
		off := uint32(m.frame.CalleeSavedOffset(j))
		encodeRegMem(c, legacyPrefixesNone, 0x8b, 1, regEncodings[r], newAmodeImmReg(off, rspVReg), w)
	}
	spOffset := int64(i.imm)
	// Move the return address right below the new stack arguments, and pop the frame record.
	encodeRegMem(c, legacyPrefixesNone, 0x8b, 1, encOf(tmpGpr), newAmodeImmReg(8, rbpVReg), w)
	encodeRegMem(c, legacyPrefixesNone, 0x8b, 1, encOf(tmpGpr2), newAmodeImmReg(0, rbpVReg), w)
	// The extended argument area starts above the outgoing area, so copying from the top down never
	// overwrites a word not copied yet. push and pop move memory without a register.
	for off := i.stackArgs - 8; off >= 0; off -= 8 {
		src := newAmodeImmReg(uint32(m.frame.OutgoingArgOffset(off)), rspVReg)
		encodeRegMem(c, legacyPrefixesNone, 0xff, 1, 6, src, 0)
		encodeRegMem(c, legacyPrefixesNone, 0x8f, 1, 0, newAmodeImmReg(uint32(spOffset+off), rbpVReg), 0)
	}
	encodeRegMem(c, legacyPrefixesNone, 0x8d, 1, encOf(rspVReg), newAmodeImmReg(uint32(spOffset-8), rbpVReg), w)
	encodeRegMem(c, legacyPrefixesNone, 0x89, 1, encOf(tmpGpr), newAmodeImmReg(0, rspVReg), w)
	encodeRegReg(c, legacyPrefixesNone, 0x89, 1, encOf(tmpGpr2), encOf(rbpVReg), w)

	switch {
	case i.src.kind == operandKindReg:
		encodeRegReg(c, legacyPrefixesNone, 0xff, 1, 4, encOf(i.src.r), 0)
	case i.colocated:
		c.EmitByte(0xe9)
		c.AddRelocation(backend.RelocX86CallPCRel4, i.sym, -4)
		c.Emit4Bytes(0)
	default:
		m.encodeMovabsSym(tmpGpr, i.sym)
		encodeRegReg(c, legacyPrefixesNone, 0xff, 1, 4, encOf(tmpGpr), 0)
	}
}

// encodeProbeLoop touches one word per page from the stack pointer down, then the bottom of the frame.
func (m *machine) encodeProbeLoop(frameSize, pageSize int64) {
	c := m.c
	w := rexInfo(0).setW()
	bottom, cur := encOf(tmpGpr), encOf(tmpGpr2)
	// lea -size(%rsp), %r11; mov %rsp, %r10
	encodeRegMem(c, legacyPrefixesNone, 0x8d, 1, bottom, newAmodeImmReg(uint32(-frameSize), rspVReg), w)
	encodeRegReg(c, legacyPrefixesNone, 0x89, 1, encOf(rspVReg), cur, w)
	loop := len(c.Buf())
	encodeRegReg(c, legacyPrefixesNone, 0x81, 1, 5, cur, w)
	c.Emit4Bytes(uint32(pageSize))
	encodeRegReg(c, legacyPrefixesNone, 0x39, 1, bottom, cur, w)
	exit := m.jcc8(condB)
	encodeRegMem(c, legacyPrefixesNone, 0xc7, 1, 0, newAmodeImmReg(0, tmpGpr2), 0)
	c.Emit4Bytes(0)
	c.EmitByte(0xeb)
	c.EmitByte(byte(int8(loop - (len(c.Buf()) + 1))))
	m.patchRel8(exit)
	encodeRegMem(c, legacyPrefixesNone, 0xc7, 1, 0, newAmodeImmReg(0, tmpGpr), 0)
	c.Emit4Bytes(0)
}

func (m *machine) encodeJmpTable(i *instruction) {
	c := m.c
	w := rexInfo(0).setW()
	idx, index, table := encOf(i.src.r), encOf(tmpGpr), encOf(tmpGpr2)

	// Zero-extend the index, bound it, and jump to the default target beyond the table.
	encodeRegReg(c, legacyPrefixesNone, 0x8b, 1, index, idx, rexOf(i.size))
	encodeRegReg(c, legacyPrefixesNone, 0x81, 1, 7, index, w)
	c.Emit4Bytes(uint32(len(i.targets)))
	c.EmitByte(0x0f)
	c.EmitByte(0x80 | byte(condNB))
	m.addFixup(i.label)

	encodeRegMem(c, legacyPrefixesNone, 0x8d, 1, table, amode{kind: amodeRipRelative}, w)
	leaEnd := len(c.Buf())
	encodeRegMem(c, legacyPrefixesNone, 0x63, 1, index, newAmodeRegRegShift(0, tmpGpr2, tmpGpr, 2), w)
	encodeRegReg(c, legacyPrefixesNone, 0x01, 1, index, table, w)
	encodeRegReg(c, legacyPrefixesNone, 0xff, 1, 4, table, 0)

	start := len(c.Buf())
	binary.LittleEndian.PutUint32(c.Buf()[leaEnd-4:], uint32(start-leaEnd))
	for _, l := range i.targets {
		m.fixups = append(m.fixups, labelFixup{at: len(c.Buf()), base: start, label: l})
		c.Emit4Bytes(0)
	}
}

func (m *machine) ud2(code codegenapi.TrapCode) {
	m.c.AddTrapSite(code)
	m.c.EmitByte(0x0f)
	m.c.EmitByte(0x0b)
}

// jcc8 emits a short conditional jump whose displacement is patched by patchRel8.
func (m *machine) jcc8(cc cond) int {
	m.c.EmitByte(0x70 | byte(cc))
	m.c.EmitByte(0)
	return len(m.c.Buf()) - 1
}

func (m *machine) jmp8() int {
	m.c.EmitByte(0xeb)
	m.c.EmitByte(0)
	return len(m.c.Buf()) - 1
}

// patchRel8 makes the short jump whose displacement is at offset at target the current offset.
func (m *machine) patchRel8(at int) {
	buf := m.c.Buf()
	d := len(buf) - (at + 1)
	if d > math.MaxInt8 {
		panic(fmt.Sprintf("BUG: short jump too far: %d", d))
	}
	buf[at] = byte(d)
}

func (m *machine) addFixup(l backend.Label) {
	at := len(m.c.Buf())
	m.fixups = append(m.fixups, labelFixup{at: at, base: at + 4, label: l})
	m.c.Emit4Bytes(0)
}

func (m *machine) resolveFixups() {
	buf := m.c.Buf()
	for _, f := range m.fixups {
		off := m.ectx.LabelOffsets[f.label]
		if off < 0 {
			panic(fmt.Sprintf("BUG: %s was never encoded", f.label))
		}
		binary.LittleEndian.PutUint32(buf[f.at:], uint32(int32(off-int64(f.base))))
	}
}

func encOf(v regalloc.VReg) regEnc {
	if !v.IsRealReg() {
		panic(fmt.Sprintf("BUG: %s is not allocated", v))
	}
	return regEncodings[v.RealReg()]
}

func rexOf(size byte) rexInfo {
	if size == 8 {
		return rexInfo(0).setW()
	}
	return 0
}

func encodeRegReg(
	c backend.Compiler,
	legPrefixes legacyPrefixes,
	opcodes uint32,
	opcodeNum uint32,
	r regEnc,
	rm regEnc,
	rex rexInfo,
) {
	legPrefixes.encode(c)
	rex.encode(c, r, rm)
	emitOpcodes(c, opcodes, opcodeNum)
	c.EmitByte(encodeModRM(3, r.encoding(), rm.encoding()))
}

func emitOpcodes(c backend.Compiler, opcodes, n uint32) {
	for n > 0 {
		n--
		c.EmitByte(byte((opcodes >> (n << 3)) & 0xff))
	}
}

func encodeModRM(mod byte, reg byte, rm byte) byte {
	return mod<<6 | reg<<3 | rm
}

func encodeSIB(shift byte, encIndex byte, encBase byte) byte {
	return shift<<6 | encIndex<<3 | encBase
}

func encodeRegMem(
	c backend.Compiler, legPrefixes legacyPrefixes, opcodes uint32, opcodeNum uint32, r regEnc, m amode, rex rexInfo,
) {
	legPrefixes.encode(c)

	const (
		modNoDisplacement    = 0b00
		modShortDisplacement = 0b01
		modLongDisplacement  = 0b10

		useSIB = 4 // the encoding of rsp or r12 register.
	)

	switch m.kind {
	case amodeImmReg:
		base := m.base.RealReg()
		baseEnc := regEncodings[base]

		rex.encode(c, r, baseEnc)
		emitOpcodes(c, opcodes, opcodeNum)

		// The SIB byte of a base without index.
		const sibByte = 0x24 // == encodeSIB(0, 4, 4)

		// rbp and r13 have no encoding without displacement: mod 00 with them means rip-relative.
		immZero, baseRbp, baseR13 := m.imm32 == 0, base == rbp, base == r13
		rspOrR12 := base == rsp || base == r12

		switch {
		case immZero && !baseRbp && !baseR13:
			c.EmitByte(encodeModRM(modNoDisplacement, r.encoding(), baseEnc.encoding()))
			if rspOrR12 {
				c.EmitByte(sibByte)
			}
		case lower8willSignExtendTo32(m.imm32):
			c.EmitByte(encodeModRM(modShortDisplacement, r.encoding(), baseEnc.encoding()))
			if rspOrR12 {
				c.EmitByte(sibByte)
			}
			c.EmitByte(byte(m.imm32))
		default:
			c.EmitByte(encodeModRM(modLongDisplacement, r.encoding(), baseEnc.encoding()))
			if rspOrR12 {
				c.EmitByte(sibByte)
			}
			c.Emit4Bytes(m.imm32)
		}

	case amodeRegRegShift:
		base := m.base.RealReg()
		baseEnc := regEncodings[base]
		index := m.index.RealReg()
		indexEnc := regEncodings[index]

		if index == rsp {
			panic("BUG: rsp can't be used as index of addressing mode")
		}

		rex.encodeForIndex(c, r, indexEnc, baseEnc)
		emitOpcodes(c, opcodes, opcodeNum)

		immZero, baseRbp, baseR13 := m.imm32 == 0, base == rbp, base == r13
		switch {
		case immZero && !baseRbp && !baseR13:
			c.EmitByte(encodeModRM(modNoDisplacement, r.encoding(), useSIB))
			c.EmitByte(encodeSIB(m.shift, indexEnc.encoding(), baseEnc.encoding()))
		case lower8willSignExtendTo32(m.imm32):
			c.EmitByte(encodeModRM(modShortDisplacement, r.encoding(), useSIB))
			c.EmitByte(encodeSIB(m.shift, indexEnc.encoding(), baseEnc.encoding()))
			c.EmitByte(byte(m.imm32))
		default:
			c.EmitByte(encodeModRM(modLongDisplacement, r.encoding(), useSIB))
			c.EmitByte(encodeSIB(m.shift, indexEnc.encoding(), baseEnc.encoding()))
			c.Emit4Bytes(m.imm32)
		}

	case amodeRipRelative:
		rex.encode(c, r, 0)
		emitOpcodes(c, opcodes, opcodeNum)
		// [rip + disp32]
		c.EmitByte(encodeModRM(modNoDisplacement, r.encoding(), 0b101))
		c.Emit4Bytes(m.imm32)

	default:
		panic("BUG: unresolved amode")
	}
}

const (
	rexEncodingDefault byte = 0x40
	rexEncodingW            = rexEncodingDefault | 0x08
)

// rexInfo is a bit set to indicate:
//
//	0x01: REX.W is set.
//	0x02: REX prefix must be emitted even if it carries no bit.
type rexInfo byte

func (ri rexInfo) setW() rexInfo {
	return ri | 0x01
}

func (ri rexInfo) always() rexInfo {
	return ri | 0x02
}

// forByteReg forces the REX prefix when r is spl, bpl, sil or dil, which are ah, ch, dh and bh without it.
func (ri rexInfo) forByteReg(r regEnc) rexInfo {
	if r >= 4 && r < 8 {
		return ri.always()
	}
	return ri
}

func (ri rexInfo) encode(c backend.Compiler, encR regEnc, encRM regEnc) {
	var w byte = 0
	if ri&0x01 != 0 {
		w = 0x01
	}
	r := encR.rexBit()
	b := encRM.rexBit()
	rex := rexEncodingDefault | w<<3 | r<<2 | b
	if rex != rexEncodingDefault || ri&0x02 != 0 {
		c.EmitByte(rex)
	}
}

func (ri rexInfo) encodeForIndex(c backend.Compiler, encR regEnc, encIndex regEnc, encBase regEnc) {
	var w byte = 0
	if ri&0x01 != 0 {
		w = 0x01
	}
	r := encR.rexBit()
	x := encIndex.rexBit()
	b := encBase.rexBit()
	rex := rexEncodingDefault | w<<3 | r<<2 | x<<1 | b
	if rex != rexEncodingDefault || ri&0x02 != 0 {
		c.EmitByte(rex)
	}
}

type regEnc byte

func (r regEnc) rexBit() byte {
	return byte(r) >> 3
}

func (r regEnc) encoding() byte {
	return byte(r) & 0x07
}

var regEncodings = [...]regEnc{
	rax:   0b000,
	rcx:   0b001,
	rdx:   0b010,
	rbx:   0b011,
	rsp:   0b100,
	rbp:   0b101,
	rsi:   0b110,
	rdi:   0b111,
	r8:    0b1000,
	r9:    0b1001,
	r10:   0b1010,
	r11:   0b1011,
	r12:   0b1100,
	r13:   0b1101,
	r14:   0b1110,
	r15:   0b1111,
	xmm0:  0b000,
	xmm1:  0b001,
	xmm2:  0b010,
	xmm3:  0b011,
	xmm4:  0b100,
	xmm5:  0b101,
	xmm6:  0b110,
	xmm7:  0b111,
	xmm8:  0b1000,
	xmm9:  0b1001,
	xmm10: 0b1010,
	xmm11: 0b1011,
	xmm12: 0b1100,
	xmm13: 0b1101,
	xmm14: 0b1110,
	xmm15: 0b1111,
}

type legacyPrefixes byte

const (
	legacyPrefixesNone legacyPrefixes = iota
	legacyPrefixes0x66
	legacyPrefixes0xF2
	legacyPrefixes0xF3
)

func (p legacyPrefixes) encode(c backend.Compiler) {
	switch p {
	case legacyPrefixesNone:
	case legacyPrefixes0x66:
		c.EmitByte(0x66)
	case legacyPrefixes0xF2:
		c.EmitByte(0xf2)
	case legacyPrefixes0xF3:
		c.EmitByte(0xf3)
	default:
		panic("BUG: invalid legacy prefix")
	}
}

func lower32willSignExtendTo64(x uint64) bool {
	xs := int64(x)
	return xs == int64(uint64(int32(xs)))
}

func lower8willSignExtendTo32(x uint32) bool {
	xs := int32(x)
	return xs == ((xs << 24) >> 24)
}
