package backend

import (
	"encoding/binary"
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/target"
	"github.com/mickey951112/wasmtime/internal/leb128"
)

// UnwindKind is the kind of an UnwindInst.
type UnwindKind byte

const (
	// UnwindPushFrameRegs records that the frame record was pushed: the CFA is now CFAOffset bytes above
	// the stack pointer.
	UnwindPushFrameRegs UnwindKind = iota + 1
	// UnwindDefineNewFrame records that the frame pointer Reg now defines the CFA at Reg+CFAOffset.
	UnwindDefineNewFrame
	// UnwindStackAlloc records that Size bytes were allocated below the stack pointer.
	UnwindStackAlloc
	// UnwindSaveReg records that Reg was saved RegOffset bytes below the CFA.
	UnwindSaveReg
)

// UnwindInst is an architecture-neutral description of one prologue step. Registers are DWARF numbers.
type UnwindInst struct {
	Kind UnwindKind `msgpack:"kind"`
	// Offset is the code offset right after the instruction the record describes.
	Offset    uint32 `msgpack:"off"`
	CFAOffset uint32 `msgpack:"cfa_off,omitempty"`
	Size      uint32 `msgpack:"size,omitempty"`
	Reg       uint16 `msgpack:"reg,omitempty"`
	RegOffset uint32 `msgpack:"reg_off,omitempty"`
}

// String implements fmt.Stringer.
func (u *UnwindInst) String() string {
	switch u.Kind {
	case UnwindPushFrameRegs:
		return fmt.Sprintf("%#x: push_frame_regs cfa=sp+%d", u.Offset, u.CFAOffset)
	case UnwindDefineNewFrame:
		return fmt.Sprintf("%#x: define_new_frame cfa=r%d+%d", u.Offset, u.Reg, u.CFAOffset)
	case UnwindStackAlloc:
		return fmt.Sprintf("%#x: stack_alloc %d", u.Offset, u.Size)
	case UnwindSaveReg:
		return fmt.Sprintf("%#x: save_reg r%d at cfa-%d", u.Offset, u.Reg, u.RegOffset)
	default:
		return fmt.Sprintf("%#x: invalid", u.Offset)
	}
}

const (
	dwCFAAdvanceLoc      = 0x40
	dwCFAOffset          = 0x80
	dwCFANop             = 0x00
	dwCFAAdvanceLoc1     = 0x02
	dwCFAAdvanceLoc2     = 0x03
	dwCFAAdvanceLoc4     = 0x04
	dwCFAOffsetExtended  = 0x05
	dwCFADefCFA          = 0x0c
	dwCFADefCFAOffset    = 0x0e
	cfiDataAlignment     = -8
	cfiCIEVersion        = 1
	cfiFDEAddressSize    = 8
	cfiRecordAlignment   = 8
	cfiLengthFieldLength = 4
)

// cieInfo is the per-architecture part of the CIE.
type cieInfo struct {
	codeAlign  uint64
	raReg      uint64
	spReg      uint64
	initialCFA uint64
	// raSavedAt is the CFA offset of the return address at entry, 0 if it is in a register.
	raSavedAt uint64
}

func cieInfoOf(arch target.Arch) cieInfo {
	switch arch {
	case target.ArchX86_64:
		return cieInfo{codeAlign: 1, raReg: 16, spReg: 7, initialCFA: 8, raSavedAt: 8}
	case target.ArchAArch64:
		return cieInfo{codeAlign: 4, raReg: 30, spReg: 31}
	case target.ArchRISCV64:
		return cieInfo{codeAlign: 4, raReg: 1, spReg: 2}
	case target.ArchS390X:
		return cieInfo{codeAlign: 1, raReg: 14, spReg: 15, initialCFA: 160}
	default:
		panic(fmt.Sprintf("BUG: no CIE for %s", arch))
	}
}

// EncodeCFI returns the System V eh_frame bytes for a function of codeLen bytes described by insts:
// one CIE followed by one FDE whose initial location is zero, to be relocated by the object writer.
func EncodeCFI(arch target.Arch, insts []UnwindInst, codeLen int) []byte {
	info := cieInfoOf(arch)

	var cie []byte
	cie = binary.LittleEndian.AppendUint32(cie, 0) // CIE id.
	cie = append(cie, cfiCIEVersion, 0)            // Version and the empty augmentation string.
	cie = leb128.AppendUint64(cie, info.codeAlign)
	cie = leb128.AppendInt64(cie, cfiDataAlignment)
	cie = leb128.AppendUint64(cie, info.raReg)
	cie = appendDefCFA(cie, info.spReg, info.initialCFA)
	if info.raSavedAt != 0 {
		cie = appendCFAOffset(cie, info.raReg, info.raSavedAt)
	}
	out := appendCFIRecord(nil, cie)

	var fde []byte
	// The CIE pointer is the distance from this field back to the start of the CIE.
	fde = binary.LittleEndian.AppendUint32(fde, uint32(len(out)+cfiLengthFieldLength))
	fde = binary.LittleEndian.AppendUint64(fde, 0)
	fde = binary.LittleEndian.AppendUint64(fde, uint64(codeLen))

	cfaReg, cfaOffset := info.spReg, info.initialCFA
	var loc uint32
	for i := range insts {
		u := &insts[i]
		if u.Offset < loc {
			panic(fmt.Sprintf("BUG: unwind records out of order at %#x", u.Offset))
		}
		fde = appendAdvanceLoc(fde, u.Offset-loc, info.codeAlign)
		loc = u.Offset
		switch u.Kind {
		case UnwindPushFrameRegs:
			cfaOffset = uint64(u.CFAOffset)
			fde = append(fde, dwCFADefCFAOffset)
			fde = leb128.AppendUint64(fde, cfaOffset)
		case UnwindDefineNewFrame:
			cfaReg, cfaOffset = uint64(u.Reg), uint64(u.CFAOffset)
			fde = appendDefCFA(fde, cfaReg, cfaOffset)
		case UnwindStackAlloc:
			// Once the frame pointer defines the CFA, allocations do not move it.
			if cfaReg == info.spReg {
				cfaOffset += uint64(u.Size)
				fde = append(fde, dwCFADefCFAOffset)
				fde = leb128.AppendUint64(fde, cfaOffset)
			}
		case UnwindSaveReg:
			fde = appendCFAOffset(fde, uint64(u.Reg), uint64(u.RegOffset))
		default:
			panic("BUG: invalid unwind record")
		}
	}
	return appendCFIRecord(out, fde)
}

func appendCFIRecord(out, body []byte) []byte {
	n := len(body) + cfiLengthFieldLength
	pad := (cfiRecordAlignment - n%cfiRecordAlignment) % cfiRecordAlignment
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)+pad))
	out = append(out, body...)
	for i := 0; i < pad; i++ {
		out = append(out, dwCFANop)
	}
	return out
}

func appendDefCFA(b []byte, reg, offset uint64) []byte {
	b = append(b, dwCFADefCFA)
	b = leb128.AppendUint64(b, reg)
	return leb128.AppendUint64(b, offset)
}

// appendCFAOffset records reg as saved at CFA-offset.
func appendCFAOffset(b []byte, reg, offset uint64) []byte {
	if offset%-cfiDataAlignment != 0 {
		panic(fmt.Sprintf("BUG: save offset %d is not a multiple of 8", offset))
	}
	factored := offset / -cfiDataAlignment
	if reg < 64 {
		b = append(b, dwCFAOffset|byte(reg))
	} else {
		b = append(b, dwCFAOffsetExtended)
		b = leb128.AppendUint64(b, reg)
	}
	return leb128.AppendUint64(b, factored)
}

func appendAdvanceLoc(b []byte, delta uint32, codeAlign uint64) []byte {
	if delta == 0 {
		return b
	}
	if uint64(delta)%codeAlign != 0 {
		panic(fmt.Sprintf("BUG: unwind advance %d is not aligned to %d", delta, codeAlign))
	}
	d := uint64(delta) / codeAlign
	switch {
	case d < 64:
		return append(b, dwCFAAdvanceLoc|byte(d))
	case d <= 0xff:
		return append(b, dwCFAAdvanceLoc1, byte(d))
	case d <= 0xffff:
		b = append(b, dwCFAAdvanceLoc2)
		return binary.LittleEndian.AppendUint16(b, uint16(d))
	default:
		b = append(b, dwCFAAdvanceLoc4)
		return binary.LittleEndian.AppendUint32(b, uint32(d))
	}
}
