package wasmtime

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

func builders(t *testing.T, names ...string) []ssa.Builder {
	ret := make([]ssa.Builder, len(names))
	for i, name := range names {
		tc, ok := testcases.Lookup(name)
		require.True(t, ok, name)
		ret[i] = tc.NewBuilder()
	}
	return ret
}

func TestCompile(t *testing.T) {
	names := []string{"add_sub", "div_traps", "i128", "call", "tail_call", "probe_unroll", "heap_static"}
	for _, arch := range target.Arches {
		for _, opt := range []target.OptLevel{target.OptLevelNone, target.OptLevelSpeed} {
			t.Run(arch.String()+"/"+opt.String(), func(t *testing.T) {
				cfg := NewTargetConfig(arch).WithOptLevel(opt).WithParallelism(2)
				fs, err := Compile(context.Background(), cfg, builders(t, names...))
				require.NoError(t, err)
				require.Len(t, fs, len(names))
				for i, f := range fs {
					require.Equal(t, names[i], f.Name)
					require.Equal(t, arch, f.Arch)
					require.NotEmpty(t, f.Code)
				}
			})
		}
	}
}

func TestCompile_errors(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		cfg := NewTargetConfig(target.ArchS390X).WithExtensions(target.ExtAVX)
		_, err := Compile(context.Background(), cfg, builders(t, "add_sub"))
		var ce *CompileError
		require.True(t, errors.As(err, &ce))
		require.Equal(t, StageConfig, ce.Stage)
		require.Empty(t, ce.Func)
	})
	t.Run("unsupported", func(t *testing.T) {
		cfg := NewTargetConfig(target.ArchS390X)
		_, err := Compile(context.Background(), cfg, builders(t, "add_sub", "vector_add"))
		var ce *CompileError
		require.True(t, errors.As(err, &ce), "%v", err)
		require.Equal(t, "vector_add", ce.Func)
		require.Equal(t, backend.StageLower, ce.Stage)
		var ue *backend.UnsupportedError
		require.True(t, errors.As(err, &ue))
		require.Equal(t, target.ArchS390X, ue.Arch)
	})
	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Compile(ctx, NewTargetConfig(target.ArchAArch64), builders(t, "add_sub"))
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestCompile_deterministic(t *testing.T) {
	cfg := NewTargetConfig(target.ArchAArch64).WithOptLevel(target.OptLevelSpeed)
	first, err := Compile(context.Background(), cfg, builders(t, "loop_licm", "select"))
	require.NoError(t, err)
	second, err := Compile(context.Background(), cfg, builders(t, "loop_licm", "select"))
	require.NoError(t, err)
	for i := range first {
		require.Equal(t, first[i].Code, second[i].Code)
		require.Equal(t, first[i].CFI, second[i].CFI)
	}
}

func TestNewBackend(t *testing.T) {
	for _, arch := range target.Arches {
		m, err := NewBackend(arch)
		require.NoError(t, err)
		require.NotNil(t, m)
	}
	_, err := NewBackend(target.ArchInvalid)
	require.Error(t, err)
}
