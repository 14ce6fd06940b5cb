package testcases

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

func checkRuns(t *testing.T, tc *TestCase, b ssa.Builder) {
	for _, run := range tc.Runs {
		results, err := NewInterpreter(b).Run(run.Args...)
		if run.Trap != codegenapi.TrapCodeInvalid {
			var trap *ssa.TrapError
			require.True(t, errors.As(err, &trap), "expected trap %s, got %v", run.Trap, err)
			require.Equal(t, run.Trap, trap.Code)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, run.Results, results, "args %v", run.Args)
	}
}

func TestCatalog_interpret(t *testing.T) {
	for _, tc := range All() {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			require.NotEmpty(t, tc.Runs)
			b := tc.NewBuilder()
			require.NoError(t, b.Verify())
			checkRuns(t, tc, b)
		})
	}
}

func TestCatalog_prepared(t *testing.T) {
	for _, opt := range []target.OptLevel{target.OptLevelNone, target.OptLevelSpeed} {
		for _, tc := range All() {
			tc := tc
			t.Run(opt.String()+"/"+tc.Name, func(t *testing.T) {
				d := target.NewDescriptor(target.ArchX86_64)
				d.Flags.OptLevel = opt
				b := tc.NewBuilder()
				require.NoError(t, backend.PrepareSSA(b, &d))
				checkRuns(t, tc, b)
			})
		}
	}
}

func TestLookup(t *testing.T) {
	tc, ok := Lookup("probe_loop")
	require.True(t, ok)
	require.Equal(t, "probe_loop", tc.Name)

	_, ok = Lookup("nope")
	require.False(t, ok)

	all := All()
	for i := 1; i < len(all); i++ {
		require.Less(t, all[i-1].Name, all[i].Name)
	}
}

func TestBuildCallee(t *testing.T) {
	sig := &ssa.Signature{
		Params:  []ssa.AbiParam{ssa.Param(ssa.TypeI32), ssa.Param(ssa.TypeI64), ssa.Param(ssa.TypeF64), ssa.Param(ssa.TypeI8)},
		Results: []ssa.AbiParam{ssa.Param(ssa.TypeI64)},
	}
	b := ssa.NewBuilder()
	BuildCallee(b, sig)
	require.NoError(t, b.Verify())

	args := vals(i32(0xffff_ffff), i64(1), f64(2.5), ssa.DataValueI8(3))
	exp, err := Callee("callee", args)
	require.NoError(t, err)
	require.Equal(t, vals(i64(0x1_0000_0003)), exp)
	actual, err := NewInterpreter(b).Run(args...)
	require.NoError(t, err)
	require.Equal(t, exp, actual)
}
