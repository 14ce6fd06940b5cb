package riscv64

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

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
	// fixupJal is the offset of jal, within 1MiB.
	fixupJal fixupKind = iota
	// fixupRel32 is a jump table entry, relative to the entry itself.
	fixupRel32
)

// Register numbers of the specials and the scratch registers in the encodings.
const (
	encZero = 0
	encRA   = 1
	encSP   = 2
	encFP   = 8
	encT5   = 30
	encT6   = 31
	encF31  = 31
	encV0   = 0
	encV31  = 31
)

// Fixed instruction words.
const (
	wordNop    = 0x00000013
	wordRet    = 0x00008067
	wordUnimp  = 0xc0001073
	wordAuipc  = 0x00000017
	wordAuipcR = 0x00000097 // auipc ra, 0
	wordJalrR  = 0x000080e7 // jalr ra, 0(ra)
)

const (
	opLoad    = 0x03
	opLoadFP  = 0x07
	opImm     = 0x13
	opImm32   = 0x1b
	opStore   = 0x23
	opStoreFP = 0x27
	opReg     = 0x33
	opReg32   = 0x3b
	opLui     = 0x37
	opFP      = 0x53
	opVector  = 0x57
	opJalr    = 0x67
)

func (m *machine) encodeInstr(i *instruction) {
	c := m.c
	switch kind := i.kind; kind {
	case nop0, args:
	case label:
		m.ectx.LabelOffsets[i.label] = int64(len(c.Buf()))

	case ret:
		if i.imm != 0 {
			m.emitAddImm(encSP, encSP, i.imm)
		}
		c.Emit4Bytes(wordRet)

	case loadConst:
		m.emitConstant(regNum(i.rd), i.imm)

	case loadFpuConst:
		v := i.imm
		if i.bits == 32 {
			v = int64(int32(v))
		}
		m.emitConstant(encT5, v)
		c.Emit4Bytes(encodeMovToFPU(regNum(i.rd), encT5, i.bits))

	case symbolValue:
		m.emitLiteralAddr(regNum(i.rd), i.sym, i.imm)

	case mov:
		c.Emit4Bytes(encodeI(opImm, 0, regNum(i.rd), regNum(i.rn), 0))

	case fpuMov:
		c.Emit4Bytes(encodeFpuMov(regNum(i.rd), regNum(i.rn)))

	case vecMov:
		c.Emit4Bytes(encodeVecMov(regNum(i.rd), regNum(i.rn)))

	case aluRRR:
		e := aluEncodings[aluOp(i.op)]
		c.Emit4Bytes(encodeR(e.op, e.f3, e.f7, regNum(i.rd), regNum(i.rn), regNum(i.rm)))

	case aluRRImm12:
		c.Emit4Bytes(encodeALUImm(aluOp(i.op), regNum(i.rd), regNum(i.rn), i.imm))

	case bitRR:
		c.Emit4Bytes(encodeBitRR(bitOp(i.op), regNum(i.rd), regNum(i.rn)))

	case extend:
		m.encodeExtend(regNum(i.rd), regNum(i.rn), i.bits, i.signed)

	case uLoad8, uLoad16, uLoad32, sLoad8, sLoad16, sLoad32, load64, fpuLoad32, fpuLoad64, vecLoad:
		a := m.resolveAmode(i.amode)
		m.emitLoadStore(i.kind, regNum(i.rd), regNum(a.rn), a.imm, i.trapCode())

	case store8, store16, store32, store64, fpuStore32, fpuStore64, vecStore:
		a := m.resolveAmode(i.amode)
		m.emitLoadStore(i.kind, regNum(i.rn), regNum(a.rn), a.imm, i.trapCode())

	case loadAddr:
		a := m.resolveAmode(i.amode)
		m.emitAddImm(regNum(i.rd), regNum(a.rn), a.imm)

	case adjustSP:
		m.emitAddImm(encSP, encSP, i.imm)

	case fpuRRR:
		c.Emit4Bytes(encodeFpuRRR(fpuOp(i.op), regNum(i.rd), regNum(i.rn), regNum(i.rm), i.bits))

	case fpuRR:
		c.Emit4Bytes(encodeFpuRR(fpuOp(i.op), regNum(i.rd), regNum(i.rn), i.bits))

	case fpuCmp:
		c.Emit4Bytes(encodeFpuCmp(fpuCmpOp(i.op), regNum(i.rd), regNum(i.rn), regNum(i.rm), i.bits))

	case movToFPU:
		c.Emit4Bytes(encodeMovToFPU(regNum(i.rd), regNum(i.rn), i.bits))

	case movFromFPU:
		c.Emit4Bytes(encodeR(opFP, 0, 0x70|fmtOf(i.bits), regNum(i.rd), regNum(i.rn), 0))

	case intToFpu:
		c.Emit4Bytes(encodeR(opFP, uint32(roundDyn), 0x68|fmtOf(i.bits), regNum(i.rd), regNum(i.rn),
			cvtIntField(i.signed, i._64)))

	case fpuToIntSeq:
		m.encodeFpuToInt(i)

	case fpuRoundSeq:
		m.encodeFpuRound(i)

	case fminMaxSeq:
		rd, rn, rm, f := regNum(i.rd), regNum(i.rn), regNum(i.rm), i.bits
		c.Emit4Bytes(encodeFpuCmp(fpuCmpOpFeq, encT5, rn, rn, f))
		c.Emit4Bytes(encodeFpuCmp(fpuCmpOpFeq, encT6, rm, rm, f))
		c.Emit4Bytes(encodeR(opReg, 7, 0, encT5, encT5, encT6))
		c.Emit4Bytes(encodeFpuRRR(fpuOpAdd, rd, rn, rm, f))
		c.Emit4Bytes(encodeB(condEq, encT5, encZero, 8))
		c.Emit4Bytes(encodeFpuRRR(fpuOp(i.op), rd, rn, rm, f))

	case bitCountSeq:
		m.encodeBitCount(countOp(i.op), regNum(i.rd), regNum(i.rn), int64(i.bits))

	case selectSeq:
		rd := regNum(i.rd)
		move := func(rn uint32) uint32 {
			switch i.rd.RegType() {
			case regalloc.RegTypeFloat:
				return encodeFpuMov(rd, rn)
			case regalloc.RegTypeVector:
				return encodeVecMov(rd, rn)
			default:
				return encodeI(opImm, 0, rd, rn, 0)
			}
		}
		c.Emit4Bytes(move(regNum(i.rm)))
		c.Emit4Bytes(encodeB(condNe, regNum(i.rn), encZero, 8))
		c.Emit4Bytes(move(regNum(i.ra)))

	case vecRRR:
		e := vecEncodings[vecOp(i.op)]
		c.Emit4Bytes(encodeVsetivli(vlOf(i.bits), i.bits, false))
		c.Emit4Bytes(encodeV(e.funct6, e.cat, regNum(i.rd), regNum(i.rn), regNum(i.rm)))

	case vecRRX:
		e := vecEncodings[vecOp(i.op)]
		c.Emit4Bytes(encodeVsetivli(vlOf(i.bits), i.bits, false))
		c.Emit4Bytes(encodeV(e.funct6, vecCatIVX, regNum(i.rd), regNum(i.rn), regNum(i.rm)))

	case vecMisc:
		c.Emit4Bytes(encodeVsetivli(vlOf(i.bits), i.bits, false))
		c.Emit4Bytes(encodeVecMisc(vecOp(i.op), regNum(i.rd), regNum(i.rn)))

	case vecSplat:
		cat := uint32(vecCatIVX)
		if i.rn.RegType() == regalloc.RegTypeFloat {
			cat = vecCatFVF
		}
		c.Emit4Bytes(encodeVsetivli(vlOf(i.bits), i.bits, false))
		c.Emit4Bytes(encodeV(0b010111, cat, regNum(i.rd), 0, regNum(i.rn)))

	case vecExtractLane:
		src := regNum(i.rn)
		c.Emit4Bytes(encodeVsetivli(vlOf(i.bits), i.bits, false))
		if i.lane != 0 {
			c.Emit4Bytes(encodeV(0b001111, vecCatIVI, encV31, src, uint32(i.lane)))
			src = encV31
		}
		cat := uint32(vecCatMVV)
		if i.rd.RegType() == regalloc.RegTypeFloat {
			cat = vecCatFVV
		}
		c.Emit4Bytes(encodeV(0b010000, cat, regNum(i.rd), src, 0))

	case vecInsertLane:
		cat := uint32(vecCatMVX)
		if i.rn.RegType() == regalloc.RegTypeFloat {
			cat = vecCatFVF
		}
		c.Emit4Bytes(encodeVsetivli(uint32(i.lane)+1, i.bits, true))
		c.Emit4Bytes(encodeV(0b010000, cat, encV31, 0, regNum(i.rn)))
		c.Emit4Bytes(encodeV(0b001110, vecCatIVI, regNum(i.rd), encV31, uint32(i.lane)))

	case vecSeq:
		m.encodeVecSeq(vecOp(i.op), regNum(i.rd), regNum(i.rn), regNum(i.rm), i.bits)

	case loadVecConst:
		// auipc t6, 0; addi t6, t6, 20; vsetivli; vle8.v; j 20; 16 bytes
		c.Emit4Bytes(wordAuipc | encT6<<7)
		c.Emit4Bytes(encodeI(opImm, 0, encT6, encT6, 20))
		c.Emit4Bytes(encodeVsetivli(16, 8, false))
		c.Emit4Bytes(encodeVLoadStore(false, regNum(i.rd), encT6))
		c.Emit4Bytes(encodeJ(encZero, 20))
		c.Emit8Bytes(uint64(i.imm))
		c.Emit8Bytes(uint64(i.imm2))

	case br:
		m.addFixup(i.label, fixupJal)
		c.Emit4Bytes(encodeJ(encZero, 0))

	case condBr:
		c.Emit4Bytes(encodeB(i.cond.invert(), regNum(i.rn), regNum(i.rm), 8))
		m.addFixup(i.label, fixupJal)
		c.Emit4Bytes(encodeJ(encZero, 0))

	case brTableSeq:
		m.encodeBrTable(i)

	case call:
		if i.colocated {
			c.AddRelocation(backend.RelocRiscvCallPlt, i.sym, 0)
			c.Emit4Bytes(wordAuipcR)
			c.Emit4Bytes(wordJalrR)
		} else {
			m.emitLiteralAddr(encT5, i.sym, 0)
			c.Emit4Bytes(encodeI(opJalr, 0, encRA, encT5, 0))
		}
		m.afterCall(i)

	case callInd:
		c.Emit4Bytes(encodeI(opJalr, 0, encRA, regNum(i.rn), 0))
		m.afterCall(i)

	case tailCall:
		m.encodeTailCall(i)

	case probeLoop:
		m.encodeProbeLoop(i.imm, i.imm2)

	case probeStore:
		m.emitConstant(encT6, i.imm)
		c.Emit4Bytes(encodeR(opReg, 0, 0x20, encT6, encSP, encT6))
		c.Emit4Bytes(encodeS(opStore, 3, encT6, encZero, 0))

	case udf:
		m.udf(i.trap)

	case trapIf:
		c.Emit4Bytes(encodeB(i.cond.invert(), regNum(i.rn), regNum(i.rm), 8))
		m.udf(i.trap)

	default:
		panic(fmt.Sprintf("BUG: cannot encode %s", kind))
	}

	if i.unwind.Kind != 0 {
		u := i.unwind
		u.Offset = uint32(len(c.Buf()))
		c.AddUnwind(u)
	}
}

type aluEncoding struct{ op, f3, f7 uint32 }

var aluEncodings = map[aluOp]aluEncoding{
	aluOpAdd:    {opReg, 0, 0},
	aluOpSub:    {opReg, 0, 0x20},
	aluOpSll:    {opReg, 1, 0},
	aluOpSlt:    {opReg, 2, 0},
	aluOpSltu:   {opReg, 3, 0},
	aluOpXor:    {opReg, 4, 0},
	aluOpSrl:    {opReg, 5, 0},
	aluOpSra:    {opReg, 5, 0x20},
	aluOpOr:     {opReg, 6, 0},
	aluOpAnd:    {opReg, 7, 0},
	aluOpMul:    {opReg, 0, 1},
	aluOpMulh:   {opReg, 1, 1},
	aluOpMulhu:  {opReg, 3, 1},
	aluOpDiv:    {opReg, 4, 1},
	aluOpDivu:   {opReg, 5, 1},
	aluOpRem:    {opReg, 6, 1},
	aluOpRemu:   {opReg, 7, 1},
	aluOpAddw:   {opReg32, 0, 0},
	aluOpSubw:   {opReg32, 0, 0x20},
	aluOpSllw:   {opReg32, 1, 0},
	aluOpSrlw:   {opReg32, 5, 0},
	aluOpSraw:   {opReg32, 5, 0x20},
	aluOpMulw:   {opReg32, 0, 1},
	aluOpAndn:   {opReg, 7, 0x20},
	aluOpOrn:    {opReg, 6, 0x20},
	aluOpXnor:   {opReg, 4, 0x20},
	aluOpMin:    {opReg, 4, 5},
	aluOpMinu:   {opReg, 5, 5},
	aluOpMax:    {opReg, 6, 5},
	aluOpMaxu:   {opReg, 7, 5},
	aluOpRol:    {opReg, 1, 0x30},
	aluOpRor:    {opReg, 5, 0x30},
	aluOpRolw:   {opReg32, 1, 0x30},
	aluOpRorw:   {opReg32, 5, 0x30},
	aluOpAddUw:  {opReg32, 0, 4},
	aluOpSh1add: {opReg, 2, 0x10},
	aluOpSh2add: {opReg, 4, 0x10},
	aluOpSh3add: {opReg, 6, 0x10},
	aluOpBset:   {opReg, 1, 0x14},
	aluOpBclr:   {opReg, 1, 0x24},
	aluOpBinv:   {opReg, 1, 0x34},
	aluOpBext:   {opReg, 5, 0x24},
}

// encodeALUImm encodes the immediate form of op. The shifts take their amount modulo the register width.
func encodeALUImm(op aluOp, rd, rn uint32, imm int64) uint32 {
	switch op {
	case aluOpAdd:
		return encodeI(opImm, 0, rd, rn, imm)
	case aluOpAddw:
		return encodeI(opImm32, 0, rd, rn, imm)
	case aluOpSlt:
		return encodeI(opImm, 2, rd, rn, imm)
	case aluOpSltu:
		return encodeI(opImm, 3, rd, rn, imm)
	case aluOpXor:
		return encodeI(opImm, 4, rd, rn, imm)
	case aluOpOr:
		return encodeI(opImm, 6, rd, rn, imm)
	case aluOpAnd:
		return encodeI(opImm, 7, rd, rn, imm)
	case aluOpSll:
		return encodeI(opImm, 1, rd, rn, imm&63)
	case aluOpSrl:
		return encodeI(opImm, 5, rd, rn, imm&63)
	case aluOpSra:
		return encodeI(opImm, 5, rd, rn, 0x400|imm&63)
	case aluOpRor:
		return encodeI(opImm, 5, rd, rn, 0x600|imm&63)
	case aluOpSllw:
		return encodeI(opImm32, 1, rd, rn, imm&31)
	case aluOpSrlw:
		return encodeI(opImm32, 5, rd, rn, imm&31)
	case aluOpSraw:
		return encodeI(opImm32, 5, rd, rn, 0x400|imm&31)
	case aluOpRorw:
		return encodeI(opImm32, 5, rd, rn, 0x600|imm&31)
	default:
		panic(fmt.Sprintf("BUG: %s has no immediate form", op))
	}
}

func encodeBitRR(op bitOp, rd, rn uint32) uint32 {
	switch op {
	case bitOpClz:
		return encodeI(opImm, 1, rd, rn, 0x600)
	case bitOpClzw:
		return encodeI(opImm32, 1, rd, rn, 0x600)
	case bitOpCtz:
		return encodeI(opImm, 1, rd, rn, 0x601)
	case bitOpCtzw:
		return encodeI(opImm32, 1, rd, rn, 0x601)
	case bitOpCpop:
		return encodeI(opImm, 1, rd, rn, 0x602)
	case bitOpCpopw:
		return encodeI(opImm32, 1, rd, rn, 0x602)
	case bitOpSextB:
		return encodeI(opImm, 1, rd, rn, 0x604)
	case bitOpSextH:
		return encodeI(opImm, 1, rd, rn, 0x605)
	case bitOpZextH:
		return encodeR(opReg32, 4, 4, rd, rn, 0)
	case bitOpRev8:
		return encodeI(opImm, 5, rd, rn, 0x6b8)
	default:
		panic("BUG: invalid bitOp")
	}
}

// encodeExtend picks the shortest form the extensions of the target allow, a pair of shifts otherwise.
func (m *machine) encodeExtend(rd, rn uint32, from byte, signed bool) {
	c := m.c
	ext := m.ext()
	zbb, zba := ext.Has(target.ExtZbb), ext.Has(target.ExtZba)
	switch {
	case from == 64:
		c.Emit4Bytes(encodeI(opImm, 0, rd, rn, 0))
	case signed && from == 32:
		c.Emit4Bytes(encodeI(opImm32, 0, rd, rn, 0))
	case signed && from == 8 && zbb:
		c.Emit4Bytes(encodeBitRR(bitOpSextB, rd, rn))
	case signed && from == 16 && zbb:
		c.Emit4Bytes(encodeBitRR(bitOpSextH, rd, rn))
	case !signed && from == 8:
		c.Emit4Bytes(encodeI(opImm, 7, rd, rn, 0xff))
	case !signed && from == 16 && zbb:
		c.Emit4Bytes(encodeBitRR(bitOpZextH, rd, rn))
	case !signed && from == 32 && zba:
		c.Emit4Bytes(encodeR(opReg32, 0, 4, rd, rn, encZero))
	default:
		sh := int64(64 - int(from))
		c.Emit4Bytes(encodeALUImm(aluOpSll, rd, rn, sh))
		if signed {
			c.Emit4Bytes(encodeALUImm(aluOpSra, rd, rd, sh))
		} else {
			c.Emit4Bytes(encodeALUImm(aluOpSrl, rd, rd, sh))
		}
	}
}

// memEncodings are the opcodes and the funct3 of the loads and stores.
var memEncodings = map[instructionKind][2]uint32{
	sLoad8:     {opLoad, 0},
	sLoad16:    {opLoad, 1},
	sLoad32:    {opLoad, 2},
	load64:     {opLoad, 3},
	uLoad8:     {opLoad, 4},
	uLoad16:    {opLoad, 5},
	uLoad32:    {opLoad, 6},
	fpuLoad32:  {opLoadFP, 2},
	fpuLoad64:  {opLoadFP, 3},
	store8:     {opStore, 0},
	store16:    {opStore, 1},
	store32:    {opStore, 2},
	store64:    {opStore, 3},
	fpuStore32: {opStoreFP, 2},
	fpuStore64: {opStoreFP, 3},
}

// emitLoadStore accesses the register rt at base+off, adding the offsets out of the immediate range to the
// base in t6 first. Vectors are accessed as 16 bytes through their address in t6. The trap site is the access
// itself.
func (m *machine) emitLoadStore(kind instructionKind, rt, base uint32, off int64, trap codegenapi.TrapCode) {
	c := m.c
	if kind == vecLoad || kind == vecStore {
		m.emitAddImm(encT6, base, off)
		c.Emit4Bytes(encodeVsetivli(16, 8, false))
		if trap != codegenapi.TrapCodeInvalid {
			c.AddTrapSite(trap)
		}
		c.Emit4Bytes(encodeVLoadStore(kind == vecStore, rt, encT6))
		return
	}

	if !fitsImm12(off) {
		m.emitConstant(encT6, off)
		c.Emit4Bytes(encodeR(opReg, 0, 0, encT6, encT6, base))
		base, off = encT6, 0
	}
	e, ok := memEncodings[kind]
	if !ok {
		panic(fmt.Sprintf("BUG: %s is not a memory access", kind))
	}
	if trap != codegenapi.TrapCodeInvalid {
		c.AddTrapSite(trap)
	}
	if e[0] == opStore || e[0] == opStoreFP {
		c.Emit4Bytes(encodeS(e[0], e[1], base, rt, off))
	} else {
		c.Emit4Bytes(encodeI(e[0], e[1], rt, base, off))
	}
}

// resolveAmode replaces the stack slot addressing with its final offset from sp.
func (m *machine) resolveAmode(a addressMode) addressMode {
	if a.kind != addressModeKindStackSlot {
		return a
	}
	off := m.frame.StackSlotOffset(a.slot, backend.CheckImm[uint32](m.arch(), "stack slot offset", a.imm))
	r := newAmodeRegImm(spVReg, off)
	r.trap = a.trap
	return r
}

// emitAddImm emits rd = rn + imm, through a scratch register other than rn when imm does not fit 12 bits.
func (m *machine) emitAddImm(rd, rn uint32, imm int64) {
	if fitsImm12(imm) {
		m.c.Emit4Bytes(encodeI(opImm, 0, rd, rn, imm))
		return
	}
	tmp := uint32(encT6)
	if rn == encT6 {
		tmp = encT5
	}
	m.emitConstant(tmp, imm)
	m.c.Emit4Bytes(encodeR(opReg, 0, 0, rd, rn, tmp))
}

// emitConstant materializes v in rd: addi for the 12-bit values, lui and addiw for the 32-bit ones, and the
// upper bits shifted into place followed by an addi of the low 12 bits otherwise.
func (m *machine) emitConstant(rd uint32, v int64) {
	c := m.c
	switch {
	case fitsImm12(v):
		c.Emit4Bytes(encodeI(opImm, 0, rd, encZero, v))
	case v == int64(int32(v)):
		hi := (v + 0x800) >> 12
		lo := v - hi<<12
		c.Emit4Bytes(encodeU(opLui, rd, uint32(hi)&0xfffff))
		if lo != 0 {
			c.Emit4Bytes(encodeI(opImm32, 0, rd, rd, lo))
		}
	default:
		lo := v << 52 >> 52
		hi := (v - lo) >> 12
		tz := bits.TrailingZeros64(uint64(hi))
		m.emitConstant(rd, hi>>tz)
		c.Emit4Bytes(encodeALUImm(aluOpSll, rd, rd, int64(12+tz)))
		if lo != 0 {
			c.Emit4Bytes(encodeI(opImm, 0, rd, rd, lo))
		}
	}
}

// emitLiteralAddr loads the absolute address of sym plus addend from an 8-byte aligned literal after the load.
func (m *machine) emitLiteralAddr(rd uint32, sym string, addend int64) {
	c := m.c
	if (len(c.Buf())+12)%8 != 0 {
		c.Emit4Bytes(wordNop)
	}
	// auipc rd, 0; ld rd, 12(rd); j 12
	c.Emit4Bytes(wordAuipc | rd<<7)
	c.Emit4Bytes(encodeI(opLoad, 3, rd, rd, 12))
	c.Emit4Bytes(encodeJ(encZero, 12))
	c.AddRelocation(backend.RelocAbs8, sym, addend)
	c.Emit8Bytes(0)
}

// fpuToIntBounds returns the exclusive low bound, or the inclusive one when lowInclusive, and the exclusive
// high bound of the floats converting to the integer without overflow.
func fpuToIntBounds(signed, dst64 bool, bits byte) (low float64, lowInclusive bool, high float64) {
	intBits := 32.0
	if dst64 {
		intBits = 64
	}
	if !signed {
		return -1, false, math.Pow(2, intBits)
	}
	low = -math.Pow(2, intBits-1)
	if !dst64 && bits == 64 {
		return low - 1, false, -low
	}
	return low, true, -low
}

// floatBits returns the bits of v as a float of bits, sign-extended from 32 bits for the shorter literal.
func floatBits(v float64, bits byte) int64 {
	if bits == 32 {
		return int64(int32(math.Float32bits(float32(v))))
	}
	return int64(math.Float64bits(v))
}

// encodeFpuToInt checks the source for NaN and for the range of the integer before the conversion,
// which rounds towards zero.
func (m *machine) encodeFpuToInt(i *instruction) {
	c := m.c
	rn, f := regNum(i.rn), i.bits

	c.Emit4Bytes(encodeFpuCmp(fpuCmpOpFeq, encT5, rn, rn, f))
	c.Emit4Bytes(encodeB(condNe, encT5, encZero, 8))
	m.udf(codegenapi.TrapCodeBadConversionToInteger)

	low, lowInclusive, high := fpuToIntBounds(i.signed, i._64, f)
	lowCmp := fpuCmpOpFlt
	if lowInclusive {
		lowCmp = fpuCmpOpFle
	}
	m.emitConstant(encT5, floatBits(low, f))
	c.Emit4Bytes(encodeMovToFPU(encF31, encT5, f))
	c.Emit4Bytes(encodeFpuCmp(lowCmp, encT5, encF31, rn, f))
	c.Emit4Bytes(encodeB(condNe, encT5, encZero, 8))
	m.udf(codegenapi.TrapCodeIntegerOverflow)

	m.emitConstant(encT5, floatBits(high, f))
	c.Emit4Bytes(encodeMovToFPU(encF31, encT5, f))
	c.Emit4Bytes(encodeFpuCmp(fpuCmpOpFlt, encT5, rn, encF31, f))
	c.Emit4Bytes(encodeB(condNe, encT5, encZero, 8))
	m.udf(codegenapi.TrapCodeIntegerOverflow)

	c.Emit4Bytes(encodeR(opFP, uint32(roundRTZ), 0x60|fmtOf(f), regNum(i.rd), rn, cvtIntField(i.signed, i._64)))
}

// encodeFpuRound rounds through a conversion to a 64-bit integer, which is exact below 2^52 (2^23 for f32).
// NaNs are quieted, and the larger values, the infinities included, are already integral.
func (m *machine) encodeFpuRound(i *instruction) {
	c := m.c
	rd, rn, f := regNum(i.rd), regNum(i.rn), i.bits
	rm := uint32(i.op)
	limit := int64(0x4330000000000000)
	if f == 32 {
		limit = 0x4b000000
	}
	m.emitConstant(encT5, limit)
	c.Emit4Bytes(encodeMovToFPU(encF31, encT5, f))
	c.Emit4Bytes(encodeFpuCmp(fpuCmpOpFeq, encT5, rn, rn, f))
	c.Emit4Bytes(encodeFpuRRR(fpuOpAdd, rd, rn, rn, f))
	c.Emit4Bytes(encodeB(condEq, encT5, encZero, 32))
	c.Emit4Bytes(encodeFpuRRR(fpuOpSgnjx, rd, rn, rn, f))
	c.Emit4Bytes(encodeFpuCmp(fpuCmpOpFlt, encT5, rd, encF31, f))
	c.Emit4Bytes(encodeFpuRRR(fpuOpSgnj, rd, rn, rn, f))
	c.Emit4Bytes(encodeB(condEq, encT5, encZero, 16))
	c.Emit4Bytes(encodeR(opFP, rm, 0x60|fmtOf(f), encT5, rn, cvtIntField(true, true)))
	c.Emit4Bytes(encodeR(opFP, rm, 0x68|fmtOf(f), rd, encT5, cvtIntField(true, true)))
	c.Emit4Bytes(encodeFpuRRR(fpuOpSgnj, rd, rd, rn, f))
}

// encodeBitCount counts in loops over a copy of rn in t5.
func (m *machine) encodeBitCount(op countOp, rd, rn uint32, width int64) {
	c := m.c
	c.Emit4Bytes(encodeI(opImm, 0, encT5, rn, 0))
	switch op {
	case countOpClz:
		c.Emit4Bytes(encodeI(opImm, 0, rd, encZero, width))
		c.Emit4Bytes(encodeB(condEq, encT5, encZero, 16))
		c.Emit4Bytes(encodeALUImm(aluOpSrl, encT5, encT5, 1))
		c.Emit4Bytes(encodeI(opImm, 0, rd, rd, -1))
		c.Emit4Bytes(encodeJ(encZero, -12))
	case countOpCtz:
		c.Emit4Bytes(encodeI(opImm, 0, rd, encZero, 0))
		c.Emit4Bytes(encodeI(opImm, 0, encT6, encZero, width))
		c.Emit4Bytes(encodeB(condEq, rd, encT6, 24))
		c.Emit4Bytes(encodeI(opImm, 7, encT6, encT5, 1))
		c.Emit4Bytes(encodeB(condNe, encT6, encZero, 16))
		c.Emit4Bytes(encodeI(opImm, 0, rd, rd, 1))
		c.Emit4Bytes(encodeALUImm(aluOpSrl, encT5, encT5, 1))
		c.Emit4Bytes(encodeJ(encZero, -24))
	case countOpPopcnt:
		c.Emit4Bytes(encodeI(opImm, 0, rd, encZero, 0))
		c.Emit4Bytes(encodeB(condEq, encT5, encZero, 20))
		c.Emit4Bytes(encodeI(opImm, 0, encT6, encT5, -1))
		c.Emit4Bytes(encodeR(opReg, 7, 0, encT5, encT5, encT6))
		c.Emit4Bytes(encodeI(opImm, 0, rd, rd, 1))
		c.Emit4Bytes(encodeJ(encZero, -16))
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
			m.emitAddImm(encSP, encSP, -n)
		}
	}
}

func (m *machine) encodeTailCall(i *instruction) {
	c := m.c
	m.emitCalleeSavedAccesses(true)
	// The new stack pointer is computed from the frame pointer before the frame record is popped.
	m.emitAddImm(encT6, encFP, i.imm)
	c.Emit4Bytes(encodeI(opLoad, 3, encRA, encFP, 8))
	c.Emit4Bytes(encodeI(opLoad, 3, encFP, encFP, 0))
	c.Emit4Bytes(encodeI(opImm, 0, encSP, encT6, 0))

	switch {
	case i.rn.Valid():
		c.Emit4Bytes(encodeI(opJalr, 0, encZero, regNum(i.rn), 0))
	case i.colocated:
		c.AddRelocation(backend.RelocRiscvCallPlt, i.sym, 0)
		c.Emit4Bytes(wordAuipc | encT6<<7)
		c.Emit4Bytes(encodeI(opJalr, 0, encZero, encT6, 0))
	default:
		m.emitLiteralAddr(encT5, i.sym, 0)
		c.Emit4Bytes(encodeI(opJalr, 0, encZero, encT5, 0))
	}
}

// emitCalleeSavedAccesses reloads, or saves when not load, the callee saved registers at their slots.
func (m *machine) emitCalleeSavedAccesses(load bool) {
	for j, r := range m.frame.CalleeSaved() {
		m.emitLoadStore(calleeSavedAccess(r, load), regNumberInEncoding[r], encSP, m.frame.CalleeSavedOffset(j),
			codegenapi.TrapCodeInvalid)
	}
}

// encodeProbeLoop touches one word per page from the stack pointer down, then the bottom of the frame.
// t5 is the distance below sp.
func (m *machine) encodeProbeLoop(frameSize, pageSize int64) {
	c := m.c
	c.Emit4Bytes(encodeI(opImm, 0, encT5, encZero, 0))
	loop := len(c.Buf())
	m.emitConstant(encT6, pageSize)
	c.Emit4Bytes(encodeR(opReg, 0, 0, encT5, encT5, encT6))
	m.emitConstant(encT6, frameSize)
	// bge t5, t6, exit; sub t6, sp, t5; sd zero, 0(t6); j loop
	c.Emit4Bytes(encodeB(condGe, encT5, encT6, 16))
	c.Emit4Bytes(encodeR(opReg, 0, 0x20, encT6, encSP, encT5))
	c.Emit4Bytes(encodeS(opStore, 3, encT6, encZero, 0))
	c.Emit4Bytes(encodeJ(encZero, int64(loop-len(c.Buf()))))
	m.emitConstant(encT6, frameSize)
	c.Emit4Bytes(encodeR(opReg, 0, 0x20, encT6, encSP, encT6))
	c.Emit4Bytes(encodeS(opStore, 3, encT6, encZero, 0))
}

// encodeBrTable bounds the index, loads the offset of the target from the table that follows the sequence,
// and jumps there.
func (m *machine) encodeBrTable(i *instruction) {
	c := m.c
	idx := regNum(i.rn)
	m.emitConstant(encT6, int64(len(i.targets)))
	c.Emit4Bytes(encodeB(condLtu, idx, encT6, 8))
	m.addFixup(i.label, fixupJal)
	c.Emit4Bytes(encodeJ(encZero, 0))

	// auipc t5, 0; slli t6, idx, 2; add t5, t5, t6; lw t6, 24(t5); add t5, t5, t6; jr 24(t5)
	c.Emit4Bytes(wordAuipc | encT5<<7)
	c.Emit4Bytes(encodeALUImm(aluOpSll, encT6, idx, 2))
	c.Emit4Bytes(encodeR(opReg, 0, 0, encT5, encT5, encT6))
	c.Emit4Bytes(encodeI(opLoad, 2, encT6, encT5, 24))
	c.Emit4Bytes(encodeR(opReg, 0, 0, encT5, encT5, encT6))
	c.Emit4Bytes(encodeI(opJalr, 0, encZero, encT5, 24))

	for _, l := range i.targets {
		m.addFixup(l, fixupRel32)
		c.Emit4Bytes(0)
	}
}

func (m *machine) udf(code codegenapi.TrapCode) {
	m.c.AddTrapSite(code)
	m.c.Emit4Bytes(wordUnimp)
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
		case fixupJal:
			if d < -(1<<20) || d >= 1<<20 {
				panic(fmt.Sprintf("BUG: jump to %s out of range: %d", f.label, d))
			}
			word := binary.LittleEndian.Uint32(buf[f.at:])
			binary.LittleEndian.PutUint32(buf[f.at:], word|encodeJ(encZero, d))
		case fixupRel32:
			binary.LittleEndian.PutUint32(buf[f.at:], uint32(int32(d)))
		}
	}
}

func regNum(v regalloc.VReg) uint32 {
	if !v.IsRealReg() {
		panic(fmt.Sprintf("BUG: %s is not allocated", v))
	}
	return regNumberInEncoding[v.RealReg()]
}

func encodeR(op, f3, f7, rd, rs1, rs2 uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encodeI(op, f3, rd, rs1 uint32, imm int64) uint32 {
	return uint32(imm&0xfff)<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encodeS(op, f3, rs1, rs2 uint32, imm int64) uint32 {
	o := uint32(imm)
	return (o>>5&0x7f)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (o&0x1f)<<7 | op
}

func encodeB(c cond, rs1, rs2 uint32, off int64) uint32 {
	o := uint32(off)
	return (o>>12&1)<<31 | (o>>5&0x3f)<<25 | rs2<<20 | rs1<<15 | uint32(c)<<12 | (o>>1&0xf)<<8 | (o>>11&1)<<7 | 0x63
}

func encodeJ(rd uint32, off int64) uint32 {
	o := uint32(off)
	return (o>>20&1)<<31 | (o>>1&0x3ff)<<21 | (o>>11&1)<<20 | (o>>12&0xff)<<12 | rd<<7 | 0x6f
}

func encodeU(op, rd, imm20 uint32) uint32 {
	return imm20<<12 | rd<<7 | op
}

// fmtOf is the fmt field of the float instructions.
func fmtOf(bits byte) uint32 {
	if bits == 32 {
		return 0
	}
	return 1
}

// cvtIntField is the rs2 field of the conversions between floats and integers.
func cvtIntField(signed, _64 bool) uint32 {
	switch {
	case signed && _64:
		return 2
	case _64:
		return 3
	case signed:
		return 0
	default:
		return 1
	}
}

var fpuRRRFunct5 = map[fpuOp]uint32{
	fpuOpAdd: 0x00, fpuOpSub: 0x01, fpuOpMul: 0x02, fpuOpDiv: 0x03,
	fpuOpSgnj: 0x04, fpuOpSgnjn: 0x04, fpuOpSgnjx: 0x04, fpuOpMin: 0x05, fpuOpMax: 0x05,
}

func encodeFpuRRR(op fpuOp, rd, rn, rm uint32, bits byte) uint32 {
	f5, ok := fpuRRRFunct5[op]
	if !ok {
		panic(fmt.Sprintf("BUG: %s is not a binary float op", op))
	}
	f3 := uint32(roundDyn)
	switch op {
	case fpuOpSgnj, fpuOpMin:
		f3 = 0
	case fpuOpSgnjn, fpuOpMax:
		f3 = 1
	case fpuOpSgnjx:
		f3 = 2
	}
	return encodeR(opFP, f3, f5<<2|fmtOf(bits), rd, rn, rm)
}

func encodeFpuRR(op fpuOp, rd, rn uint32, bits byte) uint32 {
	switch op {
	case fpuOpSqrt:
		return encodeR(opFP, uint32(roundDyn), 0x2c|fmtOf(bits), rd, rn, 0)
	case fpuOpCvtToS:
		return encodeR(opFP, uint32(roundDyn), 0x20, rd, rn, 1)
	case fpuOpCvtToD:
		return encodeR(opFP, 0, 0x21, rd, rn, 0)
	default:
		panic(fmt.Sprintf("BUG: %s is not a unary float op", op))
	}
}

func encodeFpuCmp(op fpuCmpOp, rd, rn, rm uint32, bits byte) uint32 {
	return encodeR(opFP, uint32(op), 0x50|fmtOf(bits), rd, rn, rm)
}

func encodeFpuMov(rd, rn uint32) uint32 { return encodeFpuRRR(fpuOpSgnj, rd, rn, rn, 64) }

func encodeMovToFPU(rd, rn uint32, bits byte) uint32 {
	return encodeR(opFP, 0, 0x78|fmtOf(bits), rd, rn, 0)
}

// Operand categories of the vector arithmetic instructions, the funct3 field.
const (
	vecCatIVV = 0
	vecCatFVV = 1
	vecCatMVV = 2
	vecCatIVI = 3
	vecCatIVX = 4
	vecCatFVF = 5
	vecCatMVX = 6
)

type vecEncoding struct{ funct6, cat uint32 }

var vecEncodings = map[vecOp]vecEncoding{
	vecOpAdd:    {0b000000, vecCatIVV},
	vecOpSub:    {0b000010, vecCatIVV},
	vecOpRsub:   {0b000011, vecCatIVV},
	vecOpMul:    {0b100101, vecCatMVV},
	vecOpAnd:    {0b001001, vecCatIVV},
	vecOpOr:     {0b001010, vecCatIVV},
	vecOpXor:    {0b001011, vecCatIVV},
	vecOpMinu:   {0b000100, vecCatIVV},
	vecOpMin:    {0b000101, vecCatIVV},
	vecOpMaxu:   {0b000110, vecCatIVV},
	vecOpMax:    {0b000111, vecCatIVV},
	vecOpSll:    {0b100101, vecCatIVV},
	vecOpSrl:    {0b101000, vecCatIVV},
	vecOpSra:    {0b101001, vecCatIVV},
	vecOpFadd:   {0b000000, vecCatFVV},
	vecOpFsub:   {0b000010, vecCatFVV},
	vecOpFmul:   {0b100100, vecCatFVV},
	vecOpFdiv:   {0b100000, vecCatFVV},
	vecOpFsgnj:  {0b001000, vecCatFVV},
	vecOpFsgnjn: {0b001001, vecCatFVV},
	vecOpFsgnjx: {0b001010, vecCatFVV},
}

// encodeV encodes an unmasked vector arithmetic instruction: vd = vs2 op vs1, where vs1 may be a scalar
// register or an immediate depending on cat.
func encodeV(funct6, cat, vd, vs2, vs1 uint32) uint32 {
	return funct6<<26 | 1<<25 | vs2<<20 | (vs1&0x1f)<<15 | cat<<12 | vd<<7 | opVector
}

func encodeVecMisc(op vecOp, rd, rn uint32) uint32 {
	switch op {
	case vecOpNot:
		return encodeV(0b001011, vecCatIVI, rd, rn, 0x1f)
	case vecOpNeg:
		return encodeV(0b000011, vecCatIVX, rd, rn, encZero)
	case vecOpFneg:
		return encodeV(0b001001, vecCatFVV, rd, rn, rn)
	case vecOpFabs:
		return encodeV(0b001010, vecCatFVV, rd, rn, rn)
	case vecOpFsqrt:
		return encodeV(0b010011, vecCatFVV, rd, rn, 0)
	case vecOpFcvtFromX:
		return encodeV(0b010010, vecCatFVV, rd, rn, 3)
	case vecOpFcvtFromXu:
		return encodeV(0b010010, vecCatFVV, rd, rn, 2)
	default:
		panic(fmt.Sprintf("BUG: %s is not a unary vector op", op))
	}
}

// encodeVm is encodeV of an instruction masked by v0.
func encodeVm(funct6, cat, vd, vs2, vs1 uint32) uint32 {
	return encodeV(funct6, cat, vd, vs2, vs1) &^ (1 << 25)
}

// encodeVecSeq emits the sequences of vecSeq. rd differs from rn and rm.
func (m *machine) encodeVecSeq(op vecOp, rd, rn, rm uint32, laneBits byte) {
	c := m.c
	n := vlOf(laneBits)
	c.Emit4Bytes(encodeVsetivli(n, laneBits, false))
	switch op {
	case vecOpIaddPairwise:
		// v0 is the mask of the even lanes. Each even lane of a vector plus the one above is a pair sum,
		// packed with vcompress: those of rm into the upper half of v31, then those of rn into the lower
		// half, with the tail undisturbed.
		c.Emit4Bytes(encodeV(0b010100, vecCatMVV, encV31, 0, 0b10001))
		c.Emit4Bytes(encodeV(0b001001, vecCatIVI, encV31, encV31, 1))
		c.Emit4Bytes(encodeV(0b011000, vecCatIVI, encV0, encV31, 0))
		c.Emit4Bytes(encodeV(0b001111, vecCatIVI, encV31, rm, 1))
		c.Emit4Bytes(encodeV(0b000000, vecCatIVV, encV31, encV31, rm))
		c.Emit4Bytes(encodeV(0b010111, vecCatMVV, rd, encV31, encV0))
		c.Emit4Bytes(encodeV(0b001110, vecCatIVI, encV31, rd, n/2))
		c.Emit4Bytes(encodeV(0b001111, vecCatIVI, rd, rn, 1))
		c.Emit4Bytes(encodeV(0b000000, vecCatIVV, rd, rd, rn))
		c.Emit4Bytes(encodeVsetivli(n, laneBits, true))
		c.Emit4Bytes(encodeV(0b010111, vecCatMVV, encV31, rd, encV0))
		c.Emit4Bytes(encodeVecMov(rd, encV31))
	case vecOpFmin, vecOpFmax:
		// vfmin and vfmax return the other operand of a NaN, which is replaced by the canonical NaN in the
		// lanes where either operand is unordered.
		c.Emit4Bytes(encodeV(0b011000, vecCatFVV, encV0, rn, rn))
		c.Emit4Bytes(encodeV(0b011000, vecCatFVV, encV31, rm, rm))
		c.Emit4Bytes(encodeV(0b011101, vecCatMVV, encV0, encV0, encV31))
		funct6 := uint32(0b000100)
		if op == vecOpFmax {
			funct6 = 0b000110
		}
		c.Emit4Bytes(encodeV(funct6, vecCatFVV, rd, rn, rm))
		if laneBits == 32 {
			c.Emit4Bytes(encodeU(opLui, encT5, 0x7fc00))
		} else {
			c.Emit4Bytes(encodeU(opLui, encT5, 0x7ff80))
			c.Emit4Bytes(encodeI(opImm, 1, encT5, encT5, 32))
		}
		c.Emit4Bytes(encodeVm(0b010111, vecCatIVX, rd, rd, encT5))
	case vecOpFminPseudo, vecOpFmaxPseudo:
		// rd = rm where v0 else rn, with v0 = rm < rn for the min and rn < rm for the max.
		if op == vecOpFminPseudo {
			c.Emit4Bytes(encodeV(0b011011, vecCatFVV, encV0, rm, rn))
		} else {
			c.Emit4Bytes(encodeV(0b011011, vecCatFVV, encV0, rn, rm))
		}
		c.Emit4Bytes(encodeVm(0b010111, vecCatIVV, rd, rn, rm))
	default:
		panic(fmt.Sprintf("BUG: %s is not a vector sequence", op))
	}
}

// encodeVecMov is vmv1r.v, which ignores vl and vtype.
func encodeVecMov(rd, rn uint32) uint32 {
	return encodeV(0b100111, vecCatIVI, rd, rn, 0)
}

// encodeVsetivli sets vl to avl elements of sew bits, with LMUL 1, the inactive elements agnostic and the
// tail undisturbed when tu.
func encodeVsetivli(avl uint32, sew byte, tu bool) uint32 {
	vtype := uint32(bits.TrailingZeros8(sew/8))<<3 | 0x80
	if !tu {
		vtype |= 0x40
	}
	return 0xc0000000 | vtype<<20 | avl<<15 | 7<<12 | encZero<<7 | opVector
}

// encodeVLoadStore is vle8.v or vse8.v of vd at the address in rs1.
func encodeVLoadStore(store bool, vd, rs1 uint32) uint32 {
	op := uint32(opLoadFP)
	if store {
		op = opStoreFP
	}
	return 1<<25 | rs1<<15 | vd<<7 | op
}

// vlOf is the number of lanes of laneBits in a 128-bit vector.
func vlOf(laneBits byte) uint32 { return 128 / uint32(laneBits) }
