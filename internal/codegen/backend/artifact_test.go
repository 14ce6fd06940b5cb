package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

func TestCompiledFunction_Marshal(t *testing.T) {
	f := &CompiledFunction{
		Name:      "add",
		Arch:      target.ArchAArch64,
		Code:      []byte{0x00, 0x00, 0x01, 0x8b, 0xc0, 0x03, 0x5f, 0xd6},
		Relocs:    []RelocationInfo{{Offset: 4, Kind: RelocArm64Call, Name: "callee"}},
		TrapSites: []TrapSite{{Offset: 0, Code: 2}},
		StackMaps: []StackMap{{Offset: 8, FrameSize: 32, Slots: []uint32{0, 16}}},
		Unwind:    []UnwindInst{{Kind: UnwindPushFrameRegs, Offset: 4, CFAOffset: 16}},
		FrameSize: 32,
	}
	f.CFI = EncodeCFI(f.Arch, f.Unwind, len(f.Code))

	b, err := f.Marshal()
	require.NoError(t, err)
	actual, err := UnmarshalCompiledFunction(b)
	require.NoError(t, err)
	require.Equal(t, f, actual)

	_, err = UnmarshalCompiledFunction([]byte{0xc1})
	require.Error(t, err)
}

func TestCompiledFunction_Format(t *testing.T) {
	f := &CompiledFunction{
		Name:      "f",
		Arch:      target.ArchX86_64,
		Code:      make([]byte, 20),
		Relocs:    []RelocationInfo{{Offset: 1, Kind: RelocX86CallPCRel4, Name: "g", Addend: -4}},
		StackMaps: []StackMap{{Offset: 5, Slots: []uint32{8}}},
		Unwind:    []UnwindInst{{Kind: UnwindStackAlloc, Offset: 4, Size: 16}},
		FrameSize: 16,
	}
	require.Equal(t, `function f (x86_64, 20 bytes, frame 16):
	0000: 00000000000000000000000000000000
	0010: 00000000
	reloc 0x1: X86CallPCRel4 g-4
	stack_map 0x5: [8]
	unwind 0x4: stack_alloc 16
`, f.Format())
}
