package backend

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// FunctionAlignment is the alignment of each function in a linked image.
const FunctionAlignment = 16

// Layout returns the offset of each function of fs laid out one after the other, and the size of the image.
func Layout(fs []*CompiledFunction) (offsets []int64, size int64) {
	offsets = make([]int64, len(fs))
	for i, f := range fs {
		size = alignUp(size, FunctionAlignment)
		offsets[i] = size
		size += int64(len(f.Code))
	}
	return
}

// LinkError is a relocation which cannot be resolved or does not fit its field.
type LinkError struct {
	Func  string
	Reloc RelocationInfo
	Msg   string
}

// Error implements error.
func (e *LinkError) Error() string {
	return fmt.Sprintf("linking %s: %s %s at %#x: %s", e.Func, e.Reloc.Kind, e.Reloc.Name, e.Reloc.Offset, e.Msg)
}

// Link lays fs out as Layout does at the address base and patches their relocations. A relocation refers to
// one of fs by name, or else to an entry of symbols. All the functions must be of the same architecture.
func Link(fs []*CompiledFunction, base uint64, symbols map[string]uint64) ([]byte, error) {
	offsets, size := Layout(fs)
	image := make([]byte, size)
	addrs := make(map[string]uint64, len(fs)+len(symbols))
	for name, addr := range symbols {
		addrs[name] = addr
	}
	for i, f := range fs {
		if f.Arch != fs[0].Arch {
			return nil, fmt.Errorf("linking %s: %s code with %s code", f.Name, f.Arch, fs[0].Arch)
		}
		addrs[f.Name] = base + uint64(offsets[i])
		copy(image[offsets[i]:], f.Code)
	}

	for i, f := range fs {
		code := image[offsets[i] : offsets[i]+int64(len(f.Code))]
		for _, r := range f.Relocs {
			s, ok := addrs[r.Name]
			if !ok {
				return nil, &LinkError{Func: f.Name, Reloc: r, Msg: "undefined symbol"}
			}
			p := base + uint64(offsets[i]+r.Offset)
			if msg := patchReloc(f.Arch, code, r, s, p); msg != "" {
				return nil, &LinkError{Func: f.Name, Reloc: r, Msg: msg}
			}
		}
	}
	return image, nil
}

// patchReloc writes the value of r into code for the symbol at s, the patched field being at address p.
func patchReloc(arch target.Arch, code []byte, r RelocationInfo, s, p uint64) string {
	var order binary.ByteOrder = binary.LittleEndian
	if arch == target.ArchS390X {
		order = binary.BigEndian
	}
	at := code[r.Offset:]
	delta := int64(s) + r.Addend - int64(p)
	switch r.Kind {
	case RelocAbs8:
		order.PutUint64(at, uint64(int64(s)+r.Addend))
	case RelocX86CallPCRel4:
		if delta < math.MinInt32 || delta > math.MaxInt32 {
			return "out of range"
		}
		order.PutUint32(at, uint32(int32(delta)))
	case RelocArm64Call:
		if delta%4 != 0 || delta < -(1<<27) || delta >= 1<<27 {
			return "out of range"
		}
		order.PutUint32(at, order.Uint32(at)|uint32(delta>>2)&(1<<26-1))
	case RelocRiscvCallPlt:
		hi := (delta + 0x800) >> 12
		lo := delta - hi<<12
		if hi < -(1<<19) || hi >= 1<<19 {
			return "out of range"
		}
		order.PutUint32(at, order.Uint32(at)|uint32(hi&0xfffff)<<12)
		order.PutUint32(at[4:], order.Uint32(at[4:])|uint32(lo&0xfff)<<20)
	case RelocS390xPLTRel32Dbl:
		if delta%2 != 0 || delta>>1 < math.MinInt32 || delta>>1 > math.MaxInt32 {
			return "out of range"
		}
		order.PutUint32(at, uint32(int32(delta>>1)))
	default:
		return "unknown relocation kind"
	}
	return ""
}
