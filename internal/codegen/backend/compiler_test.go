package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

func TestCompiler_MatchInstr(t *testing.T) {
	builder := ssa.NewBuilder()
	blk := builder.AllocateBasicBlock()
	builder.SetCurrentBlock(blk)
	iconst := builder.AllocateInstruction().AsIconst32(1).Insert(builder)

	desc := target.NewDescriptor(target.ArchAArch64)
	c := newCompiler(context.Background(), &mockMachine{}, builder, &desc)

	for _, tc := range []struct {
		name string
		def  SSAValueDefinition
		op   ssa.Opcode
		exp  bool
	}{
		{name: "single use", def: SSAValueDefinition{Instr: iconst, RefCount: 1}, op: ssa.OpcodeIconst, exp: true},
		{name: "multiple uses", def: SSAValueDefinition{Instr: iconst, RefCount: 2}, op: ssa.OpcodeIconst},
		{name: "other opcode", def: SSAValueDefinition{Instr: iconst, RefCount: 1}, op: ssa.OpcodeIadd},
		{name: "block param", def: SSAValueDefinition{BlkParamVReg: regalloc.VReg(1)}, op: ssa.OpcodeIconst},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.exp, c.MatchInstr(&tc.def, tc.op))
			exp := ssa.OpcodeInvalid
			if tc.exp {
				exp = tc.op
			}
			require.Equal(t, exp, c.MatchInstrOneOf(&tc.def, []ssa.Opcode{ssa.OpcodeF32const, tc.op}))
		})
	}

	// Another group cannot be merged into the current one.
	c.setCurrentGroupID(iconst.GroupID() + 1)
	require.False(t, c.MatchInstr(&SSAValueDefinition{Instr: iconst, RefCount: 1}, ssa.OpcodeIconst))
}

func TestCompiler_GetFunctionABI(t *testing.T) {
	m := &mockMachine{
		argResultInts:   []regalloc.RealReg{1, 2},
		argResultFloats: []regalloc.RealReg{17},
	}
	desc := target.NewDescriptor(target.ArchX86_64)
	c := newCompiler(context.Background(), m, ssa.NewBuilder(), &desc)

	sig := &ssa.Signature{
		Params:  []ssa.AbiParam{ssa.Param(ssa.TypeI64), ssa.Param(ssa.TypeF64)},
		Results: []ssa.AbiParam{ssa.Param(ssa.TypeI32)},
	}
	abi := c.GetFunctionABI(sig)
	require.Same(t, abi, c.GetFunctionABI(sig))
	require.Equal(t, []regalloc.VReg{
		regalloc.FromRealReg(1, regalloc.RegTypeInt),
		regalloc.FromRealReg(17, regalloc.RegTypeFloat),
	}, abi.ArgRealRegs)

	c.Reset()
	require.NotSame(t, abi, c.GetFunctionABI(sig))
}

func TestCompiler_emit(t *testing.T) {
	desc := target.NewDescriptor(target.ArchX86_64)
	c := newCompiler(context.Background(), &mockMachine{}, ssa.NewBuilder(), &desc)

	c.EmitByte(0xe8)
	c.AddRelocation(RelocX86CallPCRel4, "callee", -4)
	c.Emit4Bytes(0)
	c.AddStackMap([]uint32{8, 16})
	c.AddTrapSite(7)
	c.Emit8Bytes(0x0102030405060708)
	c.EmitBytes([]byte{0xc3})

	require.Equal(t, []byte{0xe8, 0, 0, 0, 0, 8, 7, 6, 5, 4, 3, 2, 1, 0xc3}, c.Buf())
	require.Equal(t, []RelocationInfo{{Offset: 1, Kind: RelocX86CallPCRel4, Name: "callee", Addend: -4}}, c.relocations)
	require.Equal(t, []StackMap{{Offset: 5, Slots: []uint32{8, 16}}}, c.stackMaps)
	require.Equal(t, []TrapSite{{Offset: 5, Code: 7}}, c.trapSites)

	c.ResetBuf()
	require.Empty(t, c.Buf())
	require.Empty(t, c.relocations)
	require.Empty(t, c.stackMaps)
}
