package target

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArch(t *testing.T) {
	for _, tc := range []struct {
		in  string
		exp Arch
	}{
		{in: "x86_64", exp: ArchX86_64},
		{in: "x86_64-unknown-linux-gnu", exp: ArchX86_64},
		{in: "amd64", exp: ArchX86_64},
		{in: "aarch64", exp: ArchAArch64},
		{in: "arm64", exp: ArchAArch64},
		{in: "riscv64gc-unknown-linux-gnu", exp: ArchRISCV64},
		{in: "s390x", exp: ArchS390X},
	} {
		t.Run(tc.in, func(t *testing.T) {
			a, err := ParseArch(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.exp, a)
		})
	}

	_, err := ParseArch("mips")
	require.EqualError(t, err, `unsupported architecture "mips"`)
}

func TestParseExtension(t *testing.T) {
	ext, err := ParseExtension(ArchRISCV64, "v")
	require.NoError(t, err)
	require.Equal(t, ExtV, ext)

	_, err = ParseExtension(ArchX86_64, "v")
	require.EqualError(t, err, `extension "v" is not available on x86_64`)

	_, err = ParseExtension(ArchX86_64, "sse5")
	require.EqualError(t, err, `unknown extension "sse5"`)

	set := ExtSSE41 | ExtPOPCNT
	require.True(t, set.Has(ExtPOPCNT))
	require.False(t, set.Has(ExtPOPCNT|ExtLZCNT))
	require.Equal(t, 2, set.Count())
	require.Equal(t, "sse41,popcnt", set.String())
}

func TestDecode(t *testing.T) {
	const file = `
arch = "x86_64"
extensions = ["sse41", "popcnt", "lzcnt"]
[flags]
enable_probestack = true
probestack_strategy = "inline"
probestack_size_log2 = 16
enable_heap_access_spectre_mitigation = false
preserve_frame_pointers = true
opt_level = "speed"
egraph_iteration_limit = 8
`
	d, err := Decode(strings.NewReader(file))
	require.NoError(t, err)
	require.Equal(t, ArchX86_64, d.Arch)
	require.Equal(t, ExtSSE41|ExtPOPCNT|ExtLZCNT, d.Extensions)
	require.True(t, d.Flags.EnableProbestack)
	require.Equal(t, ProbestackInline, d.Flags.ProbestackStrategy)
	require.Equal(t, int64(65536), d.Flags.ProbestackSize())
	require.False(t, d.Flags.EnableHeapAccessSpectreMitigation)
	// Keys absent from the file keep their defaults.
	require.True(t, d.Flags.EnableTableAccessSpectreMitigation)
	require.True(t, d.Flags.PreserveFramePointers)
	require.Equal(t, OptLevelSpeed, d.Flags.OptLevel)
	require.Equal(t, 8, d.Flags.EGraphIterationLimit)

	var buf bytes.Buffer
	require.NoError(t, d.Encode(&buf))
	again, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, d, again)
}

func TestDecode_errors(t *testing.T) {
	for _, tc := range []struct {
		name, file, expErr string
	}{
		{name: "no arch", file: `extensions = []`, expErr: "target has no arch"},
		{name: "unknown key", file: "arch = \"s390x\"\n[flags]\nenable_probestak = true", expErr: "unknown target keys: flags.enable_probestak"},
		{name: "foreign extension", file: "arch = \"aarch64\"\nextensions = [\"avx\"]", expErr: `extension "avx" is not available on aarch64`},
		{name: "page size", file: "arch = \"riscv64\"\n[flags]\nprobestack_size_log2 = 20", expErr: "probestack_size_log2 must be in [12, 16] but was 20"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.file))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expErr)
		})
	}
}

func TestFlags_Set(t *testing.T) {
	f := DefaultFlags()
	require.NoError(t, f.Set("enable_probestack", "true"))
	require.NoError(t, f.Set("probestack_size_log2", "16"))
	require.NoError(t, f.Set("opt_level", "speed_and_size"))
	require.True(t, f.EnableProbestack)
	require.Equal(t, uint8(16), f.ProbestackSizeLog2)
	require.Equal(t, OptLevelSpeedAndSize, f.OptLevel)
	require.EqualError(t, f.Set("no_such_flag", "1"), `unknown flag "no_such_flag"`)
	require.Error(t, f.Set("enable_verifier", "maybe"))
}
