package arm64

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
	"github.com/mickey951112/wasmtime/internal/codegen/testcases"
)

func TestMachine_compileCatalog(t *testing.T) {
	for _, ext := range []target.Extensions{0, target.ArchAArch64.ValidExtensions()} {
		for _, opt := range []target.OptLevel{target.OptLevelNone, target.OptLevelSpeed} {
			for _, tc := range testcases.All() {
				tc := tc
				t.Run(ext.String()+"/"+opt.String()+"/"+tc.Name, func(t *testing.T) {
					d := target.NewDescriptor(target.ArchAArch64)
					d.Extensions = ext
					d.Flags.OptLevel = opt
					b := tc.NewBuilder()
					require.NoError(t, backend.PrepareSSA(b, &d))

					c := backend.NewCompiler(context.Background(), NewBackend(), b, &d)
					f, err := c.Compile(context.Background())
					require.NoError(t, err)
					require.Equal(t, tc.Name, f.Name)
					require.Equal(t, target.ArchAArch64, f.Arch)
					require.NotEmpty(t, f.Code)
					require.Zero(t, len(f.Code)%4)
					require.NotEmpty(t, f.CFI)
				})
			}
		}
	}
}

func TestMachine_trapSites(t *testing.T) {
	tc, ok := testcases.Lookup("div_traps")
	require.True(t, ok)
	d := target.NewDescriptor(target.ArchAArch64)
	b := tc.NewBuilder()
	require.NoError(t, backend.PrepareSSA(b, &d))
	f, err := backend.NewCompiler(context.Background(), NewBackend(), b, &d).Compile(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, f.TrapSites)
	for _, s := range f.TrapSites {
		require.Less(t, s.Offset, int64(len(f.Code)))
		require.Zero(t, s.Offset%4)
	}
}

func TestRules_order(t *testing.T) {
	names := func(op ssa.Opcode) (ret []string) {
		for _, r := range rules.Rules(op) {
			ret = append(ret, r.Name)
		}
		return
	}
	require.Equal(t, []string{"clz_i128", "clz"}, names(ssa.OpcodeClz))
	require.Equal(t, []string{"imul_i128", "imul_i64x2", "imul_vec", "imul"}, names(ssa.OpcodeImul))
}
