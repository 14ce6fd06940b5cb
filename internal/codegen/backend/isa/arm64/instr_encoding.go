package arm64

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// labelFixup is a branch or a jump table entry whose label was not encoded yet.
type labelFixup struct {
	at, base int
	label    backend.Label
	kind     fixupKind
}

type fixupKind byte

const (
	// fixupImm26 is the word offset of b and bl.
	fixupImm26 fixupKind = iota
	// fixupImm19 is the word offset of b.cond, cbz and cbnz.
	fixupImm19
	// fixupRel32 is a jump table entry, relative to the start of the table.
	fixupRel32
)

// Register numbers of the scratch registers and the specials in the encodings.
const (
	encX16 = 16
	encX17 = 17
	encFP  = 29
	encLR  = 30
	encV31 = 31
	// encZR is xzr or sp, depending on the instruction.
	encZR = 31
)

func (m *machine) encodeInstr(i *instruction) {
	c := m.c
	switch kind := i.kind; kind {
	case nop0, args:
	case label:
		m.ectx.LabelOffsets[i.label] = int64(len(c.Buf()))

	case ret:
		if i.imm != 0 {
			m.emitAddImm(encZR, encZR, int64(i.imm))
		}
		c.Emit4Bytes(0xd65f03c0)

	case loadConst:
		m.emitConstant(regNum(i.rd), i.imm, i._64)

	case symbolValue:
		m.emitLiteralAddr(regNum(i.rd), i.sym, int64(i.imm))

	case mov64:
		rd, rn := i.rd.RealReg(), i.rn.RealReg()
		if rd == sp || rn == sp {
			c.Emit4Bytes(encodeAddSubImm(false, false, true, 0, 0, regNum(i.rn), regNum(i.rd)))
		} else {
			c.Emit4Bytes(encodeLogicalShifted(aluOpOrr, true, regNum(i.rn), encZR, regNum(i.rd), 0))
		}

	case mov32:
		c.Emit4Bytes(encodeLogicalShifted(aluOpOrr, false, regNum(i.rn), encZR, regNum(i.rd), 0))

	case aluRRR:
		c.Emit4Bytes(encodeALURRR(aluOp(i.op), regNum(i.rd), regNum(i.rn), regNum(i.rm), i._64))

	case aluRRImm12:
		op := aluOp(i.op)
		sub := op == aluOpSub || op == aluOpSubS
		s := op == aluOpAddS || op == aluOpSubS
		c.Emit4Bytes(encodeAddSubImm(sub, s, i._64, uint32(i.imm), uint32(i.shift), regNum(i.rn), regNum(i.rd)))

	case aluRRBitmaskImm:
		n, immr, imms, ok := bitmaskImmediate(i.imm, i._64)
		if !ok {
			panic(fmt.Sprintf("BUG: %#x is not a bitmask immediate", i.imm))
		}
		c.Emit4Bytes(encodeLogicalImm(aluOp(i.op), i._64, n, immr, imms, regNum(i.rn), regNum(i.rd)))

	case aluRRImmShift:
		c.Emit4Bytes(encodeShiftImm(aluOp(i.op), regNum(i.rd), regNum(i.rn), uint32(i.imm), i._64))

	case aluRRRR:
		var o0 uint32
		if aluOp(i.op) == aluOpMSub {
			o0 = 1
		}
		c.Emit4Bytes(sf(i._64)<<31 | 0b11011<<24 | regNum(i.rm)<<16 | o0<<15 | regNum(i.ra)<<10 |
			regNum(i.rn)<<5 | regNum(i.rd))

	case bitRR:
		var opcode uint32
		if bitOp(i.op) == bitOpClz {
			opcode = 0b000100
		}
		c.Emit4Bytes(sf(i._64)<<31 | 0b1011010110<<21 | opcode<<10 | regNum(i.rn)<<5 | regNum(i.rd))

	case extend:
		c.Emit4Bytes(encodeExtend(regNum(i.rd), regNum(i.rn), i.bits, i._64, i.signed))

	case cSel:
		op, o2 := uint32(i.op)>>1, uint32(i.op)&1
		c.Emit4Bytes(sf(i._64)<<31 | op<<30 | 0b11010100<<21 | regNum(i.rm)<<16 | uint32(i.cc)<<12 | o2<<10 |
			regNum(i.rn)<<5 | regNum(i.rd))

	case cSet:
		// csinc rd, xzr, xzr, !cc or csinv rd, xzr, xzr, !cc.
		inv := uint32(i.cc.invert())
		if i.op == 1 {
			c.Emit4Bytes(0xda9f03e0 | inv<<12 | regNum(i.rd))
		} else {
			c.Emit4Bytes(0x9a9f07e0 | inv<<12 | regNum(i.rd))
		}

	case ccmpImm:
		c.Emit4Bytes(sf(i._64)<<31 | 0b1111010010<<21 | uint32(i.imm&0x1f)<<16 | uint32(i.cc)<<12 | 1<<11 |
			regNum(i.rn)<<5 | uint32(i.shift&0xf))

	case uLoad8, uLoad16, uLoad32, uLoad64, sLoad8, sLoad16, sLoad32, fpuLoad32, fpuLoad64, fpuLoad128:
		m.encodeLoadStore(i, regNum(i.rd))

	case store8, store16, store32, store64, fpuStore32, fpuStore64, fpuStore128:
		m.encodeLoadStore(i, regNum(i.rn))

	case loadP64:
		c.Emit4Bytes(encodePair(true, regNum(i.rd), regNum(i.rm), i.amode))

	case storeP64:
		c.Emit4Bytes(encodePair(false, regNum(i.rn), regNum(i.rm), i.amode))

	case loadAddr:
		m.encodeLoadAddr(i)

	case adjustSP:
		imm := int64(i.imm)
		if aluOp(i.op) == aluOpSub {
			imm = -imm
		}
		m.emitAddImm(encZR, encZR, imm)

	case fpuRRR:
		c.Emit4Bytes(0x1e200800 | ftype(i.bits)<<22 | regNum(i.rm)<<16 | fpuRRROpcodes[i.op]<<12 |
			regNum(i.rn)<<5 | regNum(i.rd))

	case fpuRR:
		c.Emit4Bytes(encodeFpuRR(fpuOp(i.op), regNum(i.rd), regNum(i.rn), i.bits))

	case fpuCmp:
		c.Emit4Bytes(0x1e202000 | ftype(i.bits)<<22 | regNum(i.rm)<<16 | regNum(i.rn)<<5)

	case fpuCSel:
		c.Emit4Bytes(0x1e200c00 | ftype(i.bits)<<22 | regNum(i.rm)<<16 | uint32(i.cc)<<12 | regNum(i.rn)<<5 |
			regNum(i.rd))

	case fpuMov:
		c.Emit4Bytes(encodeVecMov(regNum(i.rd), regNum(i.rn)))

	case movToFPU:
		c.Emit4Bytes(encodeMovToFPU(regNum(i.rd), regNum(i.rn), i.bits))

	case movFromFPU:
		if i.bits == 64 {
			c.Emit4Bytes(0x9e660000 | regNum(i.rn)<<5 | regNum(i.rd))
		} else {
			c.Emit4Bytes(0x1e260000 | regNum(i.rn)<<5 | regNum(i.rd))
		}

	case intToFpu:
		w := uint32(0x1e230000)
		if i.signed {
			w = 0x1e220000
		}
		c.Emit4Bytes(w | ftype(i.bits)<<22 | sf(i._64)<<31 | regNum(i.rn)<<5 | regNum(i.rd))

	case fpuToIntSeq:
		m.encodeFpuToInt(i)

	case loadFpuConst32:
		// ldr s, #8; b #8; .word
		c.Emit4Bytes(0x1c000040 | regNum(i.rd))
		c.Emit4Bytes(0x14000002)
		c.Emit4Bytes(uint32(i.imm))

	case loadFpuConst64:
		c.Emit4Bytes(0x5c000040 | regNum(i.rd))
		c.Emit4Bytes(0x14000003)
		c.Emit8Bytes(i.imm)

	case loadFpuConst128:
		c.Emit4Bytes(0x9c000040 | regNum(i.rd))
		c.Emit4Bytes(0x14000005)
		c.Emit8Bytes(i.imm)
		c.Emit8Bytes(i.imm2)

	case vecRRR:
		c.Emit4Bytes(encodeVecRRR(vecOp(i.op), regNum(i.rd), regNum(i.rn), regNum(i.rm), i.arr))

	case vecMisc:
		c.Emit4Bytes(encodeVecMisc(vecOp(i.op), regNum(i.rd), regNum(i.rn), i.arr))

	case vecLanes:
		u, opcode := uint32(0), uint32(0b11011)
		if vecOp(i.op) == vecOpUaddlv {
			u, opcode = 1, 0b00011
		}
		c.Emit4Bytes(i.arr.q()<<30 | u<<29 | 0b01110<<24 | i.arr.size()<<22 | 0b11000<<17 | opcode<<12 |
			0b10<<10 | regNum(i.rn)<<5 | regNum(i.rd))

	case vecShiftImm:
		c.Emit4Bytes(encodeVecShiftImm(vecOp(i.op), regNum(i.rd), regNum(i.rn), uint32(i.imm), i.arr))

	case vecDup:
		c.Emit4Bytes(i.arr.q()<<30 | 0x0e000c00 | uint32(1)<<i.arr.size()<<16 | regNum(i.rn)<<5 | regNum(i.rd))

	case vecDupElement:
		c.Emit4Bytes(i.arr.q()<<30 | 0x0e000400 | laneImm5(i.arr, i.lane)<<16 | regNum(i.rn)<<5 | regNum(i.rd))

	case movToVec:
		c.Emit4Bytes(0x4e001c00 | laneImm5(i.arr, i.lane)<<16 | regNum(i.rn)<<5 | regNum(i.rd))

	case movFromVec:
		var w, q uint32
		if i.signed {
			w, q = 0x0e002c00, sf(i._64)
		} else {
			w = 0x0e003c00
			if i.arr.size() == 3 {
				q = 1
			}
		}
		c.Emit4Bytes(q<<30 | w | laneImm5(i.arr, i.lane)<<16 | regNum(i.rn)<<5 | regNum(i.rd))

	case vecMovElement:
		c.Emit4Bytes(0x6e000400 | laneImm5(i.arr, i.lane)<<16 | (uint32(i.lane2)<<i.arr.size())<<11 |
			regNum(i.rn)<<5 | regNum(i.rd))

	case vecCmove:
		c.Emit4Bytes(encodeBCond(i.cc.invert(), 8))
		c.Emit4Bytes(encodeVecMov(regNum(i.rd), regNum(i.rn)))

	case br:
		m.addFixup(i.label, fixupImm26)
		c.Emit4Bytes(0x14000000)

	case condBr:
		m.addFixup(i.label, fixupImm19)
		switch i.brKind {
		case brKindFlags:
			c.Emit4Bytes(encodeBCond(i.cc, 0))
		default:
			c.Emit4Bytes(encodeCBZ(i.brKind == brKindNotZero, regNum(i.rn), 0, i._64))
		}

	case brTableSeq:
		m.encodeBrTable(i)

	case call:
		if i.colocated {
			c.AddRelocation(backend.RelocArm64Call, i.sym, 0)
			c.Emit4Bytes(0x94000000)
		} else {
			m.emitLiteralAddr(encX16, i.sym, 0)
			c.Emit4Bytes(0xd63f0000 | encX16<<5)
		}
		m.afterCall(i)

	case callInd:
		c.Emit4Bytes(0xd63f0000 | regNum(i.rn)<<5)
		m.afterCall(i)

	case tailCall:
		m.encodeTailCall(i)

	case probeLoop:
		m.encodeProbeLoop(int64(i.imm), int64(i.imm2))

	case probeStore:
		m.emitConstant(encX17, i.imm, true)
		// sub x17, sp, x17; str xzr, [x17]
		c.Emit4Bytes(0xcb206000 | encX17<<16 | encZR<<5 | encX17)
		c.Emit4Bytes(0xf900023f)

	case udf:
		m.udf(i.trap)

	case trapIf:
		switch i.brKind {
		case brKindFlags:
			c.Emit4Bytes(encodeBCond(i.cc.invert(), 8))
		case brKindZero:
			c.Emit4Bytes(encodeCBZ(true, regNum(i.rn), 8, i._64))
		case brKindNotZero:
			c.Emit4Bytes(encodeCBZ(false, regNum(i.rn), 8, i._64))
		}
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

// loadStoreOps are bits 22 to 31 of the loads and stores, in their unscaled immediate form.
var loadStoreOps = map[instructionKind]uint32{
	uLoad8:      0b0011100001,
	sLoad8:      0b0011100010,
	uLoad16:     0b0111100001,
	sLoad16:     0b0111100010,
	uLoad32:     0b1011100001,
	sLoad32:     0b1011100010,
	uLoad64:     0b1111100001,
	fpuLoad32:   0b1011110001,
	fpuLoad64:   0b1111110001,
	fpuLoad128:  0b0011110011,
	store8:      0b0011100000,
	store16:     0b0111100000,
	store32:     0b1011100000,
	store64:     0b1111100000,
	fpuStore32:  0b1011110000,
	fpuStore64:  0b1111110000,
	fpuStore128: 0b0011110010,
}

// encodeLoadStore encodes the access of the register rt, materializing the offsets out of the immediate
// ranges in x17 first. The trap site is the access itself.
func (m *machine) encodeLoadStore(i *instruction, rt uint32) {
	op := loadStoreOps[i.kind] << 22
	size := int64(i.accessBits() / 8)
	a := m.resolveAmode(i.amode)

	var word uint32
	switch a.kind {
	case addressModeKindRegImm:
		rn, imm := regNum(a.rn), a.imm
		switch {
		case imm >= 0 && imm%size == 0 && imm/size < 4096:
			word = op | 1<<24 | uint32(imm/size)<<10 | rn<<5 | rt
		case imm >= -256 && imm <= 255:
			word = op | (uint32(imm)&0x1ff)<<12 | rn<<5 | rt
		default:
			m.emitConstant(encX17, uint64(imm), true)
			word = op | 1<<21 | encX17<<16 | 0b011<<13 | 0b10<<10 | rn<<5 | rt
		}
	case addressModeKindRegReg:
		var s uint32
		if a.shift != 0 {
			if int64(1)<<a.shift != size {
				panic(fmt.Sprintf("BUG: invalid index shift %d for a %d-byte access", a.shift, size))
			}
			s = 1
		}
		word = op | 1<<21 | regNum(a.rm)<<16 | 0b011<<13 | s<<12 | 0b10<<10 | regNum(a.rn)<<5 | rt
	default:
		panic("BUG: invalid addressMode for a load or store")
	}

	if code := i.trapCode(); code != codegenapi.TrapCodeInvalid {
		m.c.AddTrapSite(code)
	}
	m.c.Emit4Bytes(word)
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

func (m *machine) encodeLoadAddr(i *instruction) {
	rd := regNum(i.rd)
	a := m.resolveAmode(i.amode)
	switch a.kind {
	case addressModeKindRegImm:
		m.emitAddImm(rd, regNum(a.rn), a.imm)
	case addressModeKindRegReg:
		m.c.Emit4Bytes(0x8b000000 | regNum(a.rm)<<16 | uint32(a.shift)<<10 | regNum(a.rn)<<5 | rd)
	default:
		panic("BUG: invalid addressMode for load_addr")
	}
}

// emitAddImm emits rd = rn + imm, where both may be sp, through x16 when imm does not fit 12 bits.
func (m *machine) emitAddImm(rd, rn uint32, imm int64) {
	switch {
	case imm >= 0 && imm <= 0xfff:
		m.c.Emit4Bytes(encodeAddSubImm(false, false, true, uint32(imm), 0, rn, rd))
	case imm < 0 && -imm <= 0xfff:
		m.c.Emit4Bytes(encodeAddSubImm(true, false, true, uint32(-imm), 0, rn, rd))
	default:
		m.emitConstant(encX16, uint64(imm), true)
		// add rd, rn, x16, uxtx
		m.c.Emit4Bytes(0x8b206000 | encX16<<16 | rn<<5 | rd)
	}
}

// emitConstant materializes v in the register rd: a single orr when v is a bitmask immediate, a movz or a movn
// followed by a movk per remaining half word otherwise.
func (m *machine) emitConstant(rd uint32, v uint64, _64 bool) {
	c := m.c
	if !_64 {
		v = uint64(uint32(v))
	}
	if n, immr, imms, ok := bitmaskImmediate(v, _64); ok {
		c.Emit4Bytes(encodeLogicalImm(aluOpOrr, _64, n, immr, imms, encZR, rd))
		return
	}

	halves := 2
	if _64 {
		halves = 4
	}
	hw := func(j int) uint32 { return uint32(v>>(16*j)) & 0xffff }
	var zeros, ones int
	for j := 0; j < halves; j++ {
		switch hw(j) {
		case 0:
			zeros++
		case 0xffff:
			ones++
		}
	}
	inverted := ones > zeros

	first := true
	for j := 0; j < halves; j++ {
		h := hw(j)
		if (inverted && h == 0xffff) || (!inverted && h == 0) {
			continue
		}
		switch {
		case !first:
			c.Emit4Bytes(encodeMoveWide(0b11, rd, h, uint32(j), _64))
		case inverted:
			c.Emit4Bytes(encodeMoveWide(0b00, rd, ^h&0xffff, uint32(j), _64))
		default:
			c.Emit4Bytes(encodeMoveWide(0b10, rd, h, uint32(j), _64))
		}
		first = false
	}
	if first {
		if inverted {
			c.Emit4Bytes(encodeMoveWide(0b00, rd, 0, 0, _64))
		} else {
			c.Emit4Bytes(encodeMoveWide(0b10, rd, 0, 0, _64))
		}
	}
}

// emitLiteralAddr loads the absolute address of sym plus addend from a literal right after the load.
func (m *machine) emitLiteralAddr(rd uint32, sym string, addend int64) {
	c := m.c
	// ldr xd, #8; b #12
	c.Emit4Bytes(0x58000040 | rd)
	c.Emit4Bytes(0x14000003)
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

func floatBits(v float64, bits byte) uint64 {
	if bits == 32 {
		return uint64(math.Float32bits(float32(v)))
	}
	return math.Float64bits(v)
}

// encodeFpuToInt checks the source for NaN and for the range of the integer before the conversion.
func (m *machine) encodeFpuToInt(i *instruction) {
	c := m.c
	rn, ft := regNum(i.rn), ftype(i.bits)
	fcmp := func(rm uint32) { c.Emit4Bytes(0x1e202000 | ft<<22 | rm<<16 | rn<<5) }

	fcmp(rn)
	c.Emit4Bytes(encodeBCond(vc, 8))
	m.udf(codegenapi.TrapCodeBadConversionToInteger)

	low, lowInclusive, high := fpuToIntBounds(i.signed, i._64, i.bits)
	lowCond := gt
	if lowInclusive {
		lowCond = ge
	}
	for _, b := range []struct {
		v    float64
		cond condFlag
	}{{low, lowCond}, {high, lt}} {
		m.emitConstant(encX16, floatBits(b.v, i.bits), i.bits == 64)
		c.Emit4Bytes(encodeMovToFPU(encV31, encX16, i.bits))
		fcmp(encV31)
		c.Emit4Bytes(encodeBCond(b.cond, 8))
		m.udf(codegenapi.TrapCodeIntegerOverflow)
	}

	w := uint32(0x1e390000)
	if i.signed {
		w = 0x1e380000
	}
	c.Emit4Bytes(w | ft<<22 | sf(i._64)<<31 | rn<<5 | regNum(i.rd))
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
			m.emitAddImm(encZR, encZR, -n)
		}
	}
}

func (m *machine) encodeTailCall(i *instruction) {
	c := m.c
	for j, r := range m.frame.CalleeSaved() {
		m.c.Emit4Bytes(encodeCalleeSavedAccess(true, r, m.frame.CalleeSavedOffset(j)))
	}
	// The new stack pointer is computed from the frame pointer before the frame record is popped.
	m.emitAddImm(encX17, encFP, int64(i.imm))
	c.Emit4Bytes(0xa9407bbd) // ldp fp, lr, [fp]
	c.Emit4Bytes(encodeAddSubImm(false, false, true, 0, 0, encX17, encZR))

	switch {
	case i.rn.Valid():
		c.Emit4Bytes(0xd61f0000 | regNum(i.rn)<<5)
	case i.colocated:
		c.AddRelocation(backend.RelocArm64Call, i.sym, 0)
		c.Emit4Bytes(0x14000000)
	default:
		m.emitLiteralAddr(encX16, i.sym, 0)
		c.Emit4Bytes(0xd61f0000 | encX16<<5)
	}
}

// encodeCalleeSavedAccess loads or stores the callee saved register r at off from sp. Only the low 64 bits
// of the vector registers are callee saved.
func encodeCalleeSavedAccess(load bool, r regalloc.RealReg, off int64) uint32 {
	op := loadStoreOps[store64]
	if load {
		op = loadStoreOps[uLoad64]
	}
	if r >= v0 && r <= v31 {
		op = loadStoreOps[fpuStore64]
		if load {
			op = loadStoreOps[fpuLoad64]
		}
	}
	if off%8 != 0 || off/8 >= 4096 {
		panic(fmt.Sprintf("BUG: invalid callee saved offset %d", off))
	}
	return op<<22 | 1<<24 | uint32(off/8)<<10 | encZR<<5 | regNumberInEncoding[r]
}

// encodeProbeLoop touches one word per page from the stack pointer down, then the bottom of the frame.
func (m *machine) encodeProbeLoop(frameSize, pageSize int64) {
	c := m.c
	m.emitConstant(encX16, uint64(frameSize), true)
	// sub x16, sp, x16; mov x17, sp
	c.Emit4Bytes(0xcb206000 | encX16<<16 | encZR<<5 | encX16)
	c.Emit4Bytes(encodeAddSubImm(false, false, true, 0, 0, encZR, encX17))

	loop := len(c.Buf())
	switch {
	case pageSize <= 0xfff:
		c.Emit4Bytes(encodeAddSubImm(true, false, true, uint32(pageSize), 0, encX17, encX17))
	case pageSize%4096 == 0 && pageSize>>12 <= 0xfff:
		c.Emit4Bytes(encodeAddSubImm(true, false, true, uint32(pageSize>>12), 1, encX17, encX17))
	default:
		panic(fmt.Sprintf("BUG: invalid probe page size %d", pageSize))
	}
	// cmp x17, x16; b.ls exit; str xzr, [x17]; b loop
	c.Emit4Bytes(0xeb000000 | encX16<<16 | encX17<<5 | encZR)
	c.Emit4Bytes(encodeBCond(ls, 12))
	c.Emit4Bytes(0xf900023f)
	c.Emit4Bytes(0x14000000 | uint32((loop-len(c.Buf()))/4)&0x3ffffff)
	// str xzr, [x16]
	c.Emit4Bytes(0xf900021f)
}

// encodeBrTable bounds the index, loads the offset of the target from the table that follows the sequence,
// and jumps there.
func (m *machine) encodeBrTable(i *instruction) {
	c := m.c
	idx := regNum(i.rn)
	n := len(i.targets)
	if n <= 0xfff {
		c.Emit4Bytes(encodeAddSubImm(true, true, true, uint32(n), 0, idx, encZR))
	} else {
		m.emitConstant(encX16, uint64(n), true)
		c.Emit4Bytes(0xeb000000 | encX16<<16 | idx<<5 | encZR)
	}
	m.addFixup(i.label, fixupImm19)
	c.Emit4Bytes(encodeBCond(hs, 0))

	// adr x17, table; ldrsw x16, [x17, idx, lsl #2]; add x17, x17, x16; br x17
	c.Emit4Bytes(encodeAdr(encX17, 16))
	c.Emit4Bytes(0xb8a07800 | idx<<16 | encX17<<5 | encX16)
	c.Emit4Bytes(0x8b000000 | encX16<<16 | encX17<<5 | encX17)
	c.Emit4Bytes(0xd61f0000 | encX17<<5)

	start := len(c.Buf())
	for _, l := range i.targets {
		m.fixups = append(m.fixups, labelFixup{at: len(c.Buf()), base: start, label: l, kind: fixupRel32})
		c.Emit4Bytes(0)
	}
}

func (m *machine) udf(code codegenapi.TrapCode) {
	m.c.AddTrapSite(code)
	m.c.Emit4Bytes(uint32(code) & 0xffff)
}

func (m *machine) addFixup(l backend.Label, kind fixupKind) {
	at := len(m.c.Buf())
	m.fixups = append(m.fixups, labelFixup{at: at, base: at, label: l, kind: kind})
}

func (m *machine) resolveFixups() {
	buf := m.c.Buf()
	for _, f := range m.fixups {
		off := m.ectx.LabelOffsets[f.label]
		if off < 0 {
			panic(fmt.Sprintf("BUG: %s was never encoded", f.label))
		}
		d := off - int64(f.base)
		word := binary.LittleEndian.Uint32(buf[f.at:])
		switch f.kind {
		case fixupImm26:
			if d < -(1<<27) || d >= 1<<27 {
				panic(fmt.Sprintf("BUG: branch to %s out of range: %d", f.label, d))
			}
			word |= uint32(d>>2) & 0x3ffffff
		case fixupImm19:
			if d < -(1<<20) || d >= 1<<20 {
				panic(fmt.Sprintf("BUG: conditional branch to %s out of range: %d", f.label, d))
			}
			word |= (uint32(d>>2) & 0x7ffff) << 5
		case fixupRel32:
			word = uint32(int32(d))
		}
		binary.LittleEndian.PutUint32(buf[f.at:], word)
	}
}

func regNum(v regalloc.VReg) uint32 {
	if !v.IsRealReg() {
		panic(fmt.Sprintf("BUG: %s is not allocated", v))
	}
	return regNumberInEncoding[v.RealReg()]
}

func sf(_64 bool) uint32 {
	if _64 {
		return 1
	}
	return 0
}

func ftype(bits byte) uint32 {
	if bits == 64 {
		return 1
	}
	return 0
}

func encodeBCond(c condFlag, off int32) uint32 {
	return 0x54000000 | (uint32(off>>2)&0x7ffff)<<5 | uint32(c)
}

// encodeCBZ encodes cbz, or cbnz when nz.
func encodeCBZ(nz bool, rt uint32, off int32, _64 bool) uint32 {
	var n uint32
	if nz {
		n = 1
	}
	return 0x34000000 | n<<24 | sf(_64)<<31 | (uint32(off>>2)&0x7ffff)<<5 | rt
}

func encodeAdr(rd uint32, off int32) uint32 {
	u := uint32(off)
	return (u&3)<<29 | 1<<28 | ((u>>2)&0x7ffff)<<5 | rd
}

func encodeAddSubImm(sub, s, _64 bool, imm12, shift, rn, rd uint32) uint32 {
	var op, sb uint32
	if sub {
		op = 1
	}
	if s {
		sb = 1
	}
	if imm12 > 0xfff {
		panic(fmt.Sprintf("BUG: immediate %#x does not fit 12 bits", imm12))
	}
	return sf(_64)<<31 | op<<30 | sb<<29 | 0b10001<<24 | shift<<22 | imm12<<10 | rn<<5 | rd
}

func encodeMoveWide(opc, rd, imm16, hw uint32, _64 bool) uint32 {
	return sf(_64)<<31 | opc<<29 | 0b100101<<23 | hw<<21 | imm16<<5 | rd
}

// logicalOpc returns the opc and N fields of the logical ops.
func logicalOpc(op aluOp) (opc, n uint32) {
	switch op {
	case aluOpAnd:
		return 0b00, 0
	case aluOpOrr:
		return 0b01, 0
	case aluOpEor:
		return 0b10, 0
	case aluOpAndS:
		return 0b11, 0
	case aluOpBic:
		return 0b00, 1
	case aluOpOrn:
		return 0b01, 1
	default:
		panic(fmt.Sprintf("BUG: %s is not a logical op", op))
	}
}

func encodeLogicalShifted(op aluOp, _64 bool, rm, rn, rd, amount uint32) uint32 {
	opc, n := logicalOpc(op)
	return sf(_64)<<31 | opc<<29 | 0b01010<<24 | n<<21 | rm<<16 | amount<<10 | rn<<5 | rd
}

func encodeLogicalImm(op aluOp, _64 bool, n, immr, imms, rn, rd uint32) uint32 {
	opc, _ := logicalOpc(op)
	return sf(_64)<<31 | opc<<29 | 0b100100<<23 | n<<22 | immr<<16 | imms<<10 | rn<<5 | rd
}

// encodeALURRR encodes the three register integer ops. None of them takes sp.
func encodeALURRR(op aluOp, rd, rn, rm uint32, _64 bool) uint32 {
	s := sf(_64)
	switch op {
	case aluOpAdd, aluOpSub, aluOpAddS, aluOpSubS:
		var o, sb uint32
		if op == aluOpSub || op == aluOpSubS {
			o = 1
		}
		if op == aluOpAddS || op == aluOpSubS {
			sb = 1
		}
		return s<<31 | o<<30 | sb<<29 | 0b01011<<24 | rm<<16 | rn<<5 | rd
	case aluOpAnd, aluOpAndS, aluOpOrr, aluOpEor, aluOpBic, aluOpOrn:
		return encodeLogicalShifted(op, _64, rm, rn, rd, 0)
	case aluOpLsl, aluOpLsr, aluOpAsr, aluOpRor, aluOpSDiv, aluOpUDiv:
		opcode := map[aluOp]uint32{
			aluOpUDiv: 0b000010, aluOpSDiv: 0b000011, aluOpLsl: 0b001000,
			aluOpLsr: 0b001001, aluOpAsr: 0b001010, aluOpRor: 0b001011,
		}[op]
		return s<<31 | 0b11010110<<21 | rm<<16 | opcode<<10 | rn<<5 | rd
	case aluOpSMulH:
		return 0x9b407c00 | rm<<16 | rn<<5 | rd
	case aluOpUMulH:
		return 0x9bc07c00 | rm<<16 | rn<<5 | rd
	case aluOpAdc, aluOpSbc, aluOpAdcS, aluOpSbcS:
		var o, sb uint32
		if op == aluOpSbc || op == aluOpSbcS {
			o = 1
		}
		if op == aluOpAdcS || op == aluOpSbcS {
			sb = 1
		}
		return s<<31 | o<<30 | sb<<29 | 0b11010000<<21 | rm<<16 | rn<<5 | rd
	default:
		panic(fmt.Sprintf("BUG: invalid three register op %s", op))
	}
}

// encodeShiftImm encodes lsl, lsr and asr as the bitfield moves, and ror as extr.
func encodeShiftImm(op aluOp, rd, rn, amount uint32, _64 bool) uint32 {
	s := sf(_64)
	width := uint32(32)
	if _64 {
		width = 64
	}
	if amount >= width {
		panic(fmt.Sprintf("BUG: shift amount %d out of range", amount))
	}
	var opc, immr, imms uint32
	switch op {
	case aluOpLsl:
		opc, immr, imms = 0b10, (width-amount)%width, width-1-amount
	case aluOpLsr:
		opc, immr, imms = 0b10, amount, width-1
	case aluOpAsr:
		opc, immr, imms = 0b00, amount, width-1
	case aluOpRor:
		return s<<31 | 0b00100111<<23 | s<<22 | rn<<16 | amount<<10 | rn<<5 | rd
	default:
		panic(fmt.Sprintf("BUG: %s is not a shift", op))
	}
	return s<<31 | opc<<29 | 0b100110<<23 | s<<22 | immr<<16 | imms<<10 | rn<<5 | rd
}

// encodeExtend encodes sxt* and uxt* as the bitfield moves, and the zero extension of 32 bits as mov w.
func encodeExtend(rd, rn uint32, from byte, _64, signed bool) uint32 {
	if !signed {
		if from == 32 {
			return encodeLogicalShifted(aluOpOrr, false, rn, encZR, rd, 0)
		}
		// ubfm wd, wn, #0, #from-1 clears the upper 32 bits as well.
		return 0b10<<29 | 0b100110<<23 | (uint32(from)-1)<<10 | rn<<5 | rd
	}
	s := sf(_64)
	return s<<31 | 0b100110<<23 | s<<22 | (uint32(from)-1)<<10 | rn<<5 | rd
}

func encodePair(load bool, rt, rt2 uint32, a addressMode) uint32 {
	var mode uint32
	switch a.kind {
	case addressModeKindPreIndex:
		mode = 0b011
	case addressModeKindPostIndex:
		mode = 0b001
	case addressModeKindRegImm:
		mode = 0b010
	default:
		panic("BUG: invalid addressMode for a pair")
	}
	var l uint32
	if load {
		l = 1
	}
	return 0b10<<30 | 0b101<<27 | mode<<23 | l<<22 | (uint32(a.imm/8)&0x7f)<<15 | rt2<<10 | regNum(a.rn)<<5 | rt
}

var fpuRRROpcodes = [...]uint32{
	fpuOpAdd: 0b0010,
	fpuOpSub: 0b0011,
	fpuOpMul: 0b0000,
	fpuOpDiv: 0b0001,
	fpuOpMax: 0b0100,
	fpuOpMin: 0b0101,
}

// encodeFpuRR takes the width of rn as bits.
func encodeFpuRR(op fpuOp, rd, rn uint32, bits byte) uint32 {
	ft := ftype(bits)
	var opcode uint32
	switch op {
	case fpuOpAbs:
		opcode = 0b000001
	case fpuOpNeg:
		opcode = 0b000010
	case fpuOpSqrt:
		opcode = 0b000011
	case fpuOpCvt64To32:
		opcode, ft = 0b000100, 1
	case fpuOpCvt32To64:
		opcode, ft = 0b000101, 0
	case fpuOpRintN:
		opcode = 0b001000
	case fpuOpRintP:
		opcode = 0b001001
	case fpuOpRintM:
		opcode = 0b001010
	case fpuOpRintZ:
		opcode = 0b001011
	default:
		panic(fmt.Sprintf("BUG: invalid unary float op %s", op))
	}
	return 0x1e204000 | ft<<22 | opcode<<15 | rn<<5 | rd
}

func encodeMovToFPU(rd, rn uint32, bits byte) uint32 {
	if bits == 64 {
		return 0x9e670000 | rn<<5 | rd
	}
	return 0x1e270000 | rn<<5 | rd
}

// encodeVecMov is orr vd.16b, vn.16b, vn.16b.
func encodeVecMov(rd, rn uint32) uint32 {
	return 0x4ea01c00 | rn<<16 | rn<<5 | rd
}

// vecEncoding is the U bit and the opcode of a vector op. Logical ops have a fixed size field, float ops
// take hi<<1 | sz as the size field, the others take the size of the arrangement.
type vecEncoding struct {
	u, opcode uint32
	fixed     bool
	size      uint32
	float     bool
	hi        uint32
}

var vecRRREncodings = map[vecOp]vecEncoding{
	vecOpAdd:   {opcode: 0b10000},
	vecOpSub:   {u: 1, opcode: 0b10000},
	vecOpMul:   {opcode: 0b10011},
	vecOpSmax:  {opcode: 0b01100},
	vecOpSmin:  {opcode: 0b01101},
	vecOpUmax:  {u: 1, opcode: 0b01100},
	vecOpUmin:  {u: 1, opcode: 0b01101},
	vecOpAddp:  {opcode: 0b10111},
	vecOpSshl:  {opcode: 0b01000},
	vecOpUshl:  {u: 1, opcode: 0b01000},
	vecOpCmeq:  {u: 1, opcode: 0b10001},
	vecOpCmgt:  {opcode: 0b00110},
	vecOpCmhi:  {u: 1, opcode: 0b00110},
	vecOpCmge:  {opcode: 0b00111},
	vecOpCmhs:  {u: 1, opcode: 0b00111},
	vecOpAnd:   {opcode: 0b00011, fixed: true, size: 0b00},
	vecOpBic:   {opcode: 0b00011, fixed: true, size: 0b01},
	vecOpOrr:   {opcode: 0b00011, fixed: true, size: 0b10},
	vecOpOrn:   {opcode: 0b00011, fixed: true, size: 0b11},
	vecOpEor:   {u: 1, opcode: 0b00011, fixed: true, size: 0b00},
	vecOpBsl:   {u: 1, opcode: 0b00011, fixed: true, size: 0b01},
	vecOpFadd:  {opcode: 0b11010, float: true},
	vecOpFsub:  {opcode: 0b11010, float: true, hi: 1},
	vecOpFmul:  {u: 1, opcode: 0b11011, float: true},
	vecOpFdiv:  {u: 1, opcode: 0b11111, float: true},
	vecOpFmax:  {opcode: 0b11110, float: true},
	vecOpFmin:  {opcode: 0b11110, float: true, hi: 1},
	vecOpFcmeq: {opcode: 0b11100, float: true},
	vecOpFcmge: {u: 1, opcode: 0b11100, float: true},
	vecOpFcmgt: {u: 1, opcode: 0b11100, float: true, hi: 1},
}

var vecMiscEncodings = map[vecOp]vecEncoding{
	vecOpNeg:    {u: 1, opcode: 0b01011},
	vecOpAbs:    {opcode: 0b01011},
	vecOpNot:    {u: 1, opcode: 0b00101, fixed: true},
	vecOpCnt:    {opcode: 0b00101, fixed: true},
	vecOpFneg:   {u: 1, opcode: 0b01111, float: true, hi: 1},
	vecOpFabs:   {opcode: 0b01111, float: true, hi: 1},
	vecOpFsqrt:  {u: 1, opcode: 0b11111, float: true, hi: 1},
	vecOpFrintn: {opcode: 0b11000, float: true},
	vecOpFrintm: {opcode: 0b11001, float: true},
	vecOpFrintp: {opcode: 0b11000, float: true, hi: 1},
	vecOpFrintz: {opcode: 0b11001, float: true, hi: 1},
	vecOpScvtf:  {opcode: 0b11101, float: true},
	vecOpUcvtf:  {u: 1, opcode: 0b11101, float: true},
}

func (e vecEncoding) sizeField(arr vecArrangement) uint32 {
	switch {
	case e.fixed:
		return e.size
	case e.float:
		var sz uint32
		if arr.size() == 3 {
			sz = 1
		}
		return e.hi<<1 | sz
	default:
		return arr.size()
	}
}

func encodeVecRRR(op vecOp, rd, rn, rm uint32, arr vecArrangement) uint32 {
	e, ok := vecRRREncodings[op]
	if !ok {
		panic(fmt.Sprintf("BUG: %s is not a three register vector op", op))
	}
	return arr.q()<<30 | e.u<<29 | 0b01110<<24 | e.sizeField(arr)<<22 | 1<<21 | rm<<16 | e.opcode<<11 | 1<<10 |
		rn<<5 | rd
}

func encodeVecMisc(op vecOp, rd, rn uint32, arr vecArrangement) uint32 {
	e, ok := vecMiscEncodings[op]
	if !ok {
		panic(fmt.Sprintf("BUG: %s is not a two register vector op", op))
	}
	return arr.q()<<30 | e.u<<29 | 0b01110<<24 | e.sizeField(arr)<<22 | 0b10000<<17 | e.opcode<<12 | 0b10<<10 |
		rn<<5 | rd
}

func encodeVecShiftImm(op vecOp, rd, rn, amount uint32, arr vecArrangement) uint32 {
	esize := uint32(8) << arr.size()
	var u, opcode, immhb uint32
	switch op {
	case vecOpShl:
		if amount >= esize {
			panic(fmt.Sprintf("BUG: shift amount %d out of range", amount))
		}
		opcode, immhb = 0b01010, esize+amount
	case vecOpSshr, vecOpUshr:
		if amount == 0 || amount > esize {
			panic(fmt.Sprintf("BUG: shift amount %d out of range", amount))
		}
		immhb = 2*esize - amount
		if op == vecOpUshr {
			u = 1
		}
	default:
		panic(fmt.Sprintf("BUG: %s is not a vector shift", op))
	}
	return arr.q()<<30 | u<<29 | 0b011110<<23 | immhb<<16 | opcode<<11 | 1<<10 | rn<<5 | rd
}

// laneImm5 is the imm5 field selecting the lane of the element size of arr.
func laneImm5(arr vecArrangement, lane byte) uint32 {
	size := arr.size()
	return uint32(lane)<<(size+1) | 1<<size
}

// bitmaskImmediate returns the N, immr and imms fields encoding c as the immediate of the logical ops: a
// rotated run of ones, replicated over the register.
func bitmaskImmediate(c uint64, _64 bool) (n, immr, imms uint32, ok bool) {
	if !_64 {
		c = uint64(uint32(c)) | uint64(uint32(c))<<32
	}
	if c == 0 || c == math.MaxUint64 {
		return 0, 0, 0, false
	}

	// The element size is the smallest period of c.
	e := uint32(64)
	for e > 2 {
		half := e / 2
		mask := uint64(1)<<half - 1
		if c&mask != (c>>half)&mask {
			break
		}
		e = half
	}
	mask := uint64(math.MaxUint64) >> (64 - e)
	elt := c & mask
	k := uint32(bits.OnesCount64(elt))
	ones := uint64(1)<<k - 1

	for r := uint32(0); r < e; r++ {
		rot := (elt>>r | elt<<(e-r)) & mask
		if rot == ones {
			immr = (e - r) % e
			imms = (^(2*e - 1) & 0x3f) | (k - 1)
			if e == 64 {
				n = 1
			}
			return n, immr, imms, true
		}
	}
	return 0, 0, 0, false
}
