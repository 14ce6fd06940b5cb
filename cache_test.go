package wasmtime

import (
	"context"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

func TestCache_inMemory(t *testing.T) {
	c := NewCache()
	cfg := NewTargetConfig(target.ArchX86_64).WithCache(c)

	first, err := Compile(context.Background(), cfg, builders(t, "arith_i64"))
	require.NoError(t, err)
	hits, misses := c.Stats()
	require.Equal(t, uint64(0), hits)
	require.Equal(t, uint64(1), misses)

	second, err := Compile(context.Background(), cfg, builders(t, "arith_i64"))
	require.NoError(t, err)
	require.Same(t, first[0], second[0])
	hits, _ = c.Stats()
	require.Equal(t, uint64(1), hits)

	// Another target is another key.
	_, err = Compile(context.Background(), cfg.WithOptLevel(target.OptLevelSpeed), builders(t, "arith_i64"))
	require.NoError(t, err)
	_, misses = c.Stats()
	require.Equal(t, uint64(2), misses)
}

func TestCache_WithCompilationCacheDirName(t *testing.T) {
	dir := t.TempDir()

	c := NewCache()
	require.NoError(t, c.(*cache).withCompilationCacheDirName(dir, "v1"))
	cfg := NewTargetConfig(target.ArchRISCV64)
	first, err := Compile(context.Background(), cfg.WithCache(c), builders(t, "div_traps"))
	require.NoError(t, err)

	entries, err := os.ReadDir(path.Join(dir, "wasmtime-clif-v1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// A fresh cache on the same directory reads the entry back.
	c2 := NewCache()
	require.NoError(t, c2.(*cache).withCompilationCacheDirName(dir, "v1"))
	second, err := Compile(context.Background(), cfg.WithCache(c2), builders(t, "div_traps"))
	require.NoError(t, err)
	hits, _ := c2.Stats()
	require.Equal(t, uint64(1), hits)
	require.Equal(t, first[0].Name, second[0].Name)
	require.Equal(t, first[0].Code, second[0].Code)
	require.Equal(t, first[0].TrapSites, second[0].TrapSites)

	// A cache of another version misses.
	c3 := NewCache()
	require.NoError(t, c3.(*cache).withCompilationCacheDirName(dir, "v2"))
	_, err = Compile(context.Background(), cfg.WithCache(c3), builders(t, "div_traps"))
	require.NoError(t, err)
	hits, _ = c3.Stats()
	require.Zero(t, hits)
}

func TestCache_notDir(t *testing.T) {
	f := path.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o600))
	require.EqualError(t, NewCache().WithCompilationCacheDirName(f), f+" is not dir")
}
