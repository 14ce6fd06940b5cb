package riscv64

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
	"github.com/mickey951112/wasmtime/internal/codegen/testcases"
)

func compileCase(t *testing.T, name string, ext target.Extensions, opt target.OptLevel) (*backend.CompiledFunction, error) {
	tc, ok := testcases.Lookup(name)
	require.True(t, ok)
	d := target.NewDescriptor(target.ArchRISCV64)
	d.Extensions = ext
	d.Flags.OptLevel = opt
	b := tc.NewBuilder()
	require.NoError(t, backend.PrepareSSA(b, &d))
	return backend.NewCompiler(context.Background(), NewBackend(), b, &d).Compile(context.Background())
}

func TestMachine_compileCatalog(t *testing.T) {
	for _, ext := range []target.Extensions{0, target.ArchRISCV64.ValidExtensions()} {
		for _, opt := range []target.OptLevel{target.OptLevelNone, target.OptLevelSpeed} {
			for _, tc := range testcases.All() {
				tc := tc
				t.Run(ext.String()+"/"+opt.String()+"/"+tc.Name, func(t *testing.T) {
					f, err := compileCase(t, tc.Name, ext, opt)
					if tc.Name == "vector_add" && !ext.Has(target.ExtV) {
						var ue *backend.UnsupportedError
						require.True(t, errors.As(err, &ue), "%v", err)
						require.Equal(t, target.ArchRISCV64, ue.Arch)
						return
					}
					require.NoError(t, err)
					require.Equal(t, tc.Name, f.Name)
					require.Equal(t, target.ArchRISCV64, f.Arch)
					require.NotEmpty(t, f.Code)
					require.Zero(t, len(f.Code)%4)
					require.NotEmpty(t, f.CFI)
				})
			}
		}
	}
}

func TestMachine_trapSites(t *testing.T) {
	f, err := compileCase(t, "div_traps", 0, target.OptLevelNone)
	require.NoError(t, err)
	require.NotEmpty(t, f.TrapSites)
	for _, s := range f.TrapSites {
		require.Less(t, s.Offset, int64(len(f.Code)))
		require.Zero(t, s.Offset%4)
	}
}

func TestMachine_bitManipShortensCode(t *testing.T) {
	base, err := compileCase(t, "ext_args", 0, target.OptLevelNone)
	require.NoError(t, err)
	withZbb, err := compileCase(t, "ext_args", target.ExtZbb, target.OptLevelNone)
	require.NoError(t, err)
	require.Less(t, len(withZbb.Code), len(base.Code))
}

func TestRules_order(t *testing.T) {
	names := func(op ssa.Opcode) (ret []string) {
		for _, r := range rules.Rules(op) {
			ret = append(ret, r.Name)
		}
		return
	}
	require.Equal(t, []string{"clz_zbb", "clz_i128", "clz"}, names(ssa.OpcodeClz))
	require.Equal(t, []string{"iadd_shifted", "iadd_vec", "iadd_i128", "iadd"}, names(ssa.OpcodeIadd))
	require.Equal(t, []string{"band_bclr", "band_vec", "band_i128", "band_float", "band"}, names(ssa.OpcodeBand))
}

func TestMachine_vecSequences(t *testing.T) {
	for _, tc := range []struct {
		op   ssa.Opcode
		typ  ssa.Type
		rule string
	}{
		{op: ssa.OpcodeIaddPairwise, typ: ssa.TypeI8x16, rule: "iadd_pairwise"},
		{op: ssa.OpcodeIaddPairwise, typ: ssa.TypeI32x4, rule: "iadd_pairwise"},
		{op: ssa.OpcodeFmin, typ: ssa.TypeF32x4, rule: "fmin_vec"},
		{op: ssa.OpcodeFmax, typ: ssa.TypeF64x2, rule: "fmax_vec"},
		{op: ssa.OpcodeFminPseudo, typ: ssa.TypeF64x2, rule: "fmin_pseudo_vec"},
		{op: ssa.OpcodeFmaxPseudo, typ: ssa.TypeF32x4, rule: "fmax_pseudo_vec"},
	} {
		tc := tc
		t.Run(tc.rule+"/"+tc.typ.String(), func(t *testing.T) {
			var found bool
			for _, r := range rules.Rules(tc.op) {
				found = found || r.Name == tc.rule
			}
			require.True(t, found)

			compile := func(ext target.Extensions) (*backend.CompiledFunction, error) {
				b := ssa.NewBuilder()
				b.Init(&ssa.Signature{Params: []ssa.AbiParam{ssa.Param(tc.typ), ssa.Param(tc.typ)}, Results: []ssa.AbiParam{ssa.Param(tc.typ)}})
				entry := b.AllocateBasicBlock()
				x, y := entry.AddParam(b, tc.typ), entry.AddParam(b, tc.typ)
				b.SetCurrentBlock(entry)
				v := b.AllocateInstruction().AsBinary(tc.op, x, y).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]ssa.Value{v}).Insert(b)
				b.Seal(entry)
				d := target.NewDescriptor(target.ArchRISCV64)
				d.Extensions = ext
				require.NoError(t, backend.PrepareSSA(b, &d))
				return backend.NewCompiler(context.Background(), NewBackend(), b, &d).Compile(context.Background())
			}

			f, err := compile(target.ExtV)
			require.NoError(t, err)
			require.NotEmpty(t, f.Code)

			_, err = compile(0)
			var ue *backend.UnsupportedError
			require.True(t, errors.As(err, &ue), "%v", err)
		})
	}
}
