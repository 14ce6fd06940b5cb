package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

func TestEncodeCFI(t *testing.T) {
	t.Run("x86_64 frame record", func(t *testing.T) {
		insts := []UnwindInst{
			{Kind: UnwindPushFrameRegs, Offset: 1, CFAOffset: 16},
			{Kind: UnwindSaveReg, Offset: 1, Reg: 6, RegOffset: 16},
			{Kind: UnwindDefineNewFrame, Offset: 4, Reg: 6, CFAOffset: 16},
		}
		exp := []byte{
			// CIE.
			0x14, 0, 0, 0, // length
			0, 0, 0, 0, // CIE id
			1, 0, // version, augmentation
			1, 0x78, 16, // code align 1, data align -8, ra r16
			0x0c, 7, 8, // def_cfa rsp+8
			0x90, 1, // ra at cfa-8
			0, 0, 0, 0, 0, 0,
			// FDE.
			0x24, 0, 0, 0, // length
			0x1c, 0, 0, 0, // CIE pointer
			0, 0, 0, 0, 0, 0, 0, 0, // initial location
			16, 0, 0, 0, 0, 0, 0, 0, // code length
			0x41, 0x0e, 16, // advance 1, def_cfa_offset 16
			0x86, 2, // rbp at cfa-16
			0x43, 0x0c, 6, 16, // advance 3, def_cfa rbp+16
			0, 0, 0, 0, 0, 0, 0,
		}
		require.Equal(t, exp, EncodeCFI(target.ArchX86_64, insts, 16))
	})

	t.Run("aarch64 ignores allocations below the frame pointer", func(t *testing.T) {
		insts := []UnwindInst{
			{Kind: UnwindPushFrameRegs, Offset: 4, CFAOffset: 16},
			{Kind: UnwindSaveReg, Offset: 4, Reg: 29, RegOffset: 16},
			{Kind: UnwindSaveReg, Offset: 4, Reg: 30, RegOffset: 8},
			{Kind: UnwindDefineNewFrame, Offset: 8, Reg: 29, CFAOffset: 16},
			{Kind: UnwindStackAlloc, Offset: 12, Size: 32},
		}
		exp := []byte{
			// CIE.
			0x0c, 0, 0, 0,
			0, 0, 0, 0,
			1, 0,
			4, 0x78, 30,
			0x0c, 31, 0,
			// FDE.
			0x24, 0, 0, 0,
			0x14, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0,
			20, 0, 0, 0, 0, 0, 0, 0,
			0x41, 0x0e, 16,
			0x9d, 2,
			0x9e, 1,
			0x41, 0x0c, 29, 16,
			0x41, // The stack allocation only advances the location.
			0, 0, 0, 0,
		}
		require.Equal(t, exp, EncodeCFI(target.ArchAArch64, insts, 20))
	})

	t.Run("stack allocation without a frame pointer", func(t *testing.T) {
		cfi := EncodeCFI(target.ArchX86_64, []UnwindInst{{Kind: UnwindStackAlloc, Offset: 4, Size: 40}}, 8)
		// The FDE instructions follow the 24 bytes of the CIE and the 24 bytes of the FDE header.
		require.Equal(t, []byte{0x44, 0x0e, 48}, cfi[48:51])
	})

	t.Run("misaligned", func(t *testing.T) {
		require.Panics(t, func() {
			EncodeCFI(target.ArchAArch64, []UnwindInst{{Kind: UnwindStackAlloc, Offset: 3, Size: 16}}, 8)
		})
	})

	t.Run("out of order", func(t *testing.T) {
		require.Panics(t, func() {
			EncodeCFI(target.ArchRISCV64, []UnwindInst{
				{Kind: UnwindStackAlloc, Offset: 8, Size: 16},
				{Kind: UnwindStackAlloc, Offset: 4, Size: 16},
			}, 8)
		})
	})
}

func TestAppendAdvanceLoc(t *testing.T) {
	for _, tc := range []struct {
		delta     uint32
		codeAlign uint64
		exp       []byte
	}{
		{delta: 0, codeAlign: 1, exp: nil},
		{delta: 63, codeAlign: 1, exp: []byte{0x7f}},
		{delta: 64, codeAlign: 1, exp: []byte{0x02, 64}},
		{delta: 0x400, codeAlign: 4, exp: []byte{0x03, 0x00, 0x01}},
		{delta: 0x10000, codeAlign: 1, exp: []byte{0x04, 0, 0, 1, 0}},
	} {
		require.Equal(t, tc.exp, appendAdvanceLoc(nil, tc.delta, tc.codeAlign))
	}
}
