package backend

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

func TestLayout(t *testing.T) {
	offsets, size := Layout([]*CompiledFunction{{Code: make([]byte, 5)}, {Code: make([]byte, 16)}, {Code: make([]byte, 1)}})
	require.Equal(t, []int64{0, 16, 32}, offsets)
	require.Equal(t, int64(33), size)

	offsets, size = Layout(nil)
	require.Empty(t, offsets)
	require.Zero(t, size)
}

func mustHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestLink(t *testing.T) {
	const base = 0x10000
	for _, tc := range []struct {
		name    string
		arch    target.Arch
		code    string
		reloc   RelocationInfo
		symbols map[string]uint64
		// exp is the linked code of the first function.
		exp string
	}{
		{
			name:  "x86 call",
			arch:  target.ArchX86_64,
			code:  "e800000000c3",
			reloc: RelocationInfo{Offset: 1, Kind: RelocX86CallPCRel4, Name: "g", Addend: -4},
			exp:   "e80b000000c3",
		},
		{
			name:    "x86 backwards call",
			arch:    target.ArchX86_64,
			code:    "e800000000c3",
			reloc:   RelocationInfo{Offset: 1, Kind: RelocX86CallPCRel4, Name: "back", Addend: -4},
			symbols: map[string]uint64{"back": base - 0x10},
			exp:     "e8ebffffffc3",
		},
		{
			name:    "x86 movabs",
			arch:    target.ArchX86_64,
			code:    "48b80000000000000000",
			reloc:   RelocationInfo{Offset: 2, Kind: RelocAbs8, Name: "sym", Addend: 8},
			symbols: map[string]uint64{"sym": 0x2000},
			exp:     "48b80820000000000000",
		},
		{
			name:  "arm64 bl",
			arch:  target.ArchAArch64,
			code:  "00000094",
			reloc: RelocationInfo{Offset: 0, Kind: RelocArm64Call, Name: "g"},
			exp:   "04000094",
		},
		{
			name:    "arm64 backwards b",
			arch:    target.ArchAArch64,
			code:    "00000014",
			reloc:   RelocationInfo{Offset: 0, Kind: RelocArm64Call, Name: "back"},
			symbols: map[string]uint64{"back": base - 4},
			exp:     "ffffff17",
		},
		{
			name:  "riscv64 near call",
			arch:  target.ArchRISCV64,
			code:  "97000000e7800000",
			reloc: RelocationInfo{Offset: 0, Kind: RelocRiscvCallPlt, Name: "g"},
			exp:   "97000000e7800001",
		},
		{
			name:    "riscv64 negative low part",
			arch:    target.ArchRISCV64,
			code:    "97000000e7800000",
			reloc:   RelocationInfo{Offset: 0, Kind: RelocRiscvCallPlt, Name: "far"},
			symbols: map[string]uint64{"far": base + 0x1800},
			exp:     "97200000e7800080",
		},
		{
			name:  "s390x brasl",
			arch:  target.ArchS390X,
			code:  "c0e500000000",
			reloc: RelocationInfo{Offset: 2, Kind: RelocS390xPLTRel32Dbl, Name: "g", Addend: 2},
			exp:   "c0e500000008",
		},
		{
			name:    "s390x absolute",
			arch:    target.ArchS390X,
			code:    "0000000000000000",
			reloc:   RelocationInfo{Offset: 0, Kind: RelocAbs8, Name: "sym"},
			symbols: map[string]uint64{"sym": 0x0102030405060708},
			exp:     "0102030405060708",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := []*CompiledFunction{
				{Name: "f", Arch: tc.arch, Code: mustHex(t, tc.code), Relocs: []RelocationInfo{tc.reloc}},
				{Name: "g", Arch: tc.arch, Code: []byte{0xc3}},
			}
			image, err := Link(fs, base, tc.symbols)
			require.NoError(t, err)
			require.Len(t, image, 17)
			require.Equal(t, tc.exp, hex.EncodeToString(image[:len(fs[0].Code)]))
			require.Equal(t, byte(0xc3), image[16])
			// The input code is left untouched.
			require.Equal(t, tc.code, hex.EncodeToString(fs[0].Code))
		})
	}
}

func TestLink_errors(t *testing.T) {
	call := func(arch target.Arch, kind RelocKind, name string) *CompiledFunction {
		return &CompiledFunction{Name: "f", Arch: arch, Code: make([]byte, 8), Relocs: []RelocationInfo{{Kind: kind, Name: name}}}
	}

	_, err := Link([]*CompiledFunction{call(target.ArchX86_64, RelocX86CallPCRel4, "missing")}, 0, nil)
	var le *LinkError
	require.True(t, errors.As(err, &le))
	require.Equal(t, "undefined symbol", le.Msg)
	require.Contains(t, err.Error(), "missing")

	_, err = Link([]*CompiledFunction{call(target.ArchAArch64, RelocArm64Call, "far")}, 0, map[string]uint64{"far": 1 << 28})
	require.True(t, errors.As(err, &le))
	require.Equal(t, "out of range", le.Msg)

	_, err = Link([]*CompiledFunction{call(target.ArchX86_64, RelocX86CallPCRel4, "far")}, 0, map[string]uint64{"far": 1 << 40})
	require.True(t, errors.As(err, &le))
	require.Equal(t, "out of range", le.Msg)

	_, err = Link([]*CompiledFunction{call(target.ArchX86_64, RelocAbs8, "g"), {Name: "g", Arch: target.ArchAArch64}}, 0, nil)
	require.EqualError(t, err, "linking g: aarch64 code with x86_64 code")
}
