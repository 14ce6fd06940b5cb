package backend

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// RelocKind is how a relocation is patched into the code.
type RelocKind byte

const (
	// RelocAbs8 is the absolute 64-bit address of the symbol plus addend.
	RelocAbs8 RelocKind = iota + 1
	// RelocX86CallPCRel4 is the 32-bit PC-relative displacement of an x86 call, addend -4.
	RelocX86CallPCRel4
	// RelocArm64Call is the 26-bit word offset of an arm64 bl.
	RelocArm64Call
	// RelocRiscvCallPlt is an auipc+jalr pair.
	RelocRiscvCallPlt
	// RelocS390xPLTRel32Dbl is the halfword offset of a brasl, addend 2.
	RelocS390xPLTRel32Dbl
)

// String implements fmt.Stringer.
func (k RelocKind) String() string {
	switch k {
	case RelocAbs8:
		return "Abs8"
	case RelocX86CallPCRel4:
		return "X86CallPCRel4"
	case RelocArm64Call:
		return "Arm64Call"
	case RelocRiscvCallPlt:
		return "RiscvCallPlt"
	case RelocS390xPLTRel32Dbl:
		return "S390xPLTRel32Dbl"
	default:
		return fmt.Sprintf("reloc(%d)", k)
	}
}

// RelocationInfo is a reference from the code to a symbol, resolved by the linker.
type RelocationInfo struct {
	// Offset is the offset of the patched bytes in the code.
	Offset int64     `msgpack:"off"`
	Kind   RelocKind `msgpack:"kind"`
	// Name is the name of the referenced function or symbol.
	Name   string `msgpack:"name"`
	Addend int64  `msgpack:"addend"`
}

// TrapSite maps the offset of a faulting instruction to its trap code.
type TrapSite struct {
	Offset int64                `msgpack:"off"`
	Code   codegenapi.TrapCode `msgpack:"code"`
}

// StackMap lists the frame slots holding live references at the return address of a call.
type StackMap struct {
	// Offset is the offset of the return address, right after the call instruction.
	Offset int64 `msgpack:"off"`
	// FrameSize is the size of the frame below the frame record.
	FrameSize int64 `msgpack:"frame"`
	// Slots are offsets from the stack pointer at the call, in bytes.
	Slots []uint32 `msgpack:"slots"`
}

// CompiledFunction is the final machine code of one function with its side tables.
type CompiledFunction struct {
	Name      string           `msgpack:"name"`
	Arch      target.Arch      `msgpack:"arch"`
	Code      []byte           `msgpack:"code"`
	Relocs    []RelocationInfo `msgpack:"relocs"`
	TrapSites []TrapSite       `msgpack:"traps"`
	StackMaps []StackMap       `msgpack:"stack_maps"`
	Unwind    []UnwindInst     `msgpack:"unwind"`
	// CFI is the System V eh_frame bytes (a CIE followed by one FDE) describing Unwind.
	CFI       []byte `msgpack:"cfi"`
	FrameSize int64  `msgpack:"frame_size"`
}

// Marshal returns the msgpack encoding of f.
func (f *CompiledFunction) Marshal() ([]byte, error) {
	return msgpack.Marshal(f)
}

// UnmarshalCompiledFunction decodes the result of CompiledFunction.Marshal.
func UnmarshalCompiledFunction(b []byte) (*CompiledFunction, error) {
	f := &CompiledFunction{}
	if err := msgpack.Unmarshal(b, f); err != nil {
		return nil, fmt.Errorf("decoding compiled function: %w", err)
	}
	return f, nil
}

// Format returns the human readable form of f: the code as hex, 16 bytes per line, then the side tables.
func (f *CompiledFunction) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "function %s (%s, %d bytes, frame %d):\n", f.Name, f.Arch, len(f.Code), f.FrameSize)
	for i := 0; i < len(f.Code); i += 16 {
		end := min(i+16, len(f.Code))
		fmt.Fprintf(&b, "\t%04x: %s\n", i, hex.EncodeToString(f.Code[i:end]))
	}
	for _, r := range f.Relocs {
		fmt.Fprintf(&b, "\treloc %#x: %s %s%+d\n", r.Offset, r.Kind, r.Name, r.Addend)
	}
	for _, t := range f.TrapSites {
		fmt.Fprintf(&b, "\ttrap %#x: %s\n", t.Offset, t.Code)
	}
	for _, s := range f.StackMaps {
		fmt.Fprintf(&b, "\tstack_map %#x: %v\n", s.Offset, s.Slots)
	}
	for _, u := range f.Unwind {
		fmt.Fprintf(&b, "\tunwind %s\n", u.String())
	}
	return b.String()
}
