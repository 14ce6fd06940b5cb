package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func runMain(t *testing.T, args ...string) (exitCode int, stdOut, stdErr string) {
	var o, e bytes.Buffer
	exitCode = doMain(append([]string{"--color=off"}, args...), &o, &e)
	return exitCode, o.String(), e.String()
}

func TestList(t *testing.T) {
	code, out, _ := runMain(t, "list")
	require.Zero(t, code)
	require.Contains(t, out, "probe_unroll")
	require.Contains(t, out, "tail_call")
}

func TestTargets(t *testing.T) {
	code, out, _ := runMain(t, "targets")
	require.Zero(t, code)
	for _, arch := range []string{"x86_64", "aarch64", "riscv64", "s390x"} {
		require.Contains(t, out, arch)
	}
	require.Contains(t, out, "mie2")
}

func TestStages(t *testing.T) {
	for _, tc := range []struct {
		args []string
		exp  string
	}{
		{args: []string{"ssa", "add_sub"}, exp: "function add_sub"},
		{args: []string{"opt", "--set", "opt_level=speed", "loop_licm"}, exp: "function loop_licm"},
		{args: []string{"vcode", "-t", "aarch64", "add_sub"}, exp: "; aarch64"},
		{args: []string{"vcode", "-t", "s390x", "--regalloc", "div_traps"}, exp: "; s390x"},
	} {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			code, out, stdErr := runMain(t, tc.args...)
			require.Zero(t, code, stdErr)
			require.Contains(t, out, tc.exp)
		})
	}
}

func TestRun(t *testing.T) {
	code, out, stdErr := runMain(t, "run", "add_sub", "div_traps")
	require.Zero(t, code, stdErr)
	require.Contains(t, out, "ok   add_sub")
	require.Contains(t, out, "ok   div_traps")

	code, out, stdErr = runMain(t, "run", "--prepared", "--set", "opt_level=speed", "probe_unroll")
	require.Zero(t, code, stdErr)
	require.Contains(t, out, "ok   probe_unroll")

	code, _, stdErr = runMain(t, "run", "--args", "1", "add_sub", "select")
	require.Equal(t, 1, code)
	require.Contains(t, stdErr, "--args requires exactly one function")
}

func TestCompile(t *testing.T) {
	perfmap := filepath.Join(t.TempDir(), "perf.map")
	code, out, stdErr := runMain(t, "compile", "-t", "s390x", "--ext", "mie2", "--perfmap", perfmap, "add_sub", "arith_i64")
	require.Zero(t, code, stdErr)
	require.Contains(t, out, "function add_sub (s390x")
	require.Contains(t, out, "function arith_i64 (s390x")

	b, err := os.ReadFile(perfmap)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "0 "), lines[0])
	require.True(t, strings.HasSuffix(lines[0], " add_sub"), lines[0])
	require.True(t, strings.HasSuffix(lines[1], " arith_i64"), lines[1])
}

func TestCompile_cacheDir(t *testing.T) {
	dir := t.TempDir()
	code, first, stdErr := runMain(t, "compile", "--cache-dir", dir, "call")
	require.Zero(t, code, stdErr)
	code, second, stdErr := runMain(t, "compile", "--cache-dir", dir, "call")
	require.Zero(t, code, stdErr)
	require.Equal(t, first, second)
}

func TestErrors(t *testing.T) {
	for _, tc := range []struct {
		args []string
		exp  string
	}{
		{args: []string{"compile", "-t", "s390x", "vector_add"}, exp: "unsupported"},
		{args: []string{"compile", "-t", "mips"}, exp: `unsupported architecture "mips"`},
		{args: []string{"compile", "--set", "opt_level"}, exp: "expected key=value"},
		{args: []string{"compile", "--set", "opt_level=fast"}, exp: `invalid opt level "fast"`},
		{args: []string{"compile", "-t", "s390x", "--ext", "avx"}, exp: "not available on s390x"},
		{args: []string{"ssa", "no_such_function"}, exp: `unknown function "no_such_function"`},
	} {
		t.Run(fmt.Sprint(tc.args), func(t *testing.T) {
			code, _, stdErr := runMain(t, tc.args...)
			require.Equal(t, 1, code)
			require.Contains(t, stdErr, tc.exp)
		})
	}
}

func TestTargetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riscv.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
arch = "riscv64"
extensions = ["zbb"]

[flags]
enable_verifier = true
`), 0o600))
	code, out, stdErr := runMain(t, "compile", "-t", path, "ext_args")
	require.Zero(t, code, stdErr)
	require.Contains(t, out, "function ext_args (riscv64")
}
