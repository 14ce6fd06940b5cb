package wasmtime

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

func TestTargetConfig_immutable(t *testing.T) {
	base := NewTargetConfig(target.ArchX86_64)
	for _, tc := range []struct {
		name   string
		with   func(*TargetConfig) *TargetConfig
		expect func(*target.Descriptor)
	}{
		{
			name: "WithExtensions",
			with: func(c *TargetConfig) *TargetConfig { return c.WithExtensions(target.ExtSSE41 | target.ExtPOPCNT) },
			expect: func(d *target.Descriptor) {
				d.Extensions = target.ExtSSE41 | target.ExtPOPCNT
			},
		},
		{
			name:   "WithAllExtensions",
			with:   (*TargetConfig).WithAllExtensions,
			expect: func(d *target.Descriptor) { d.Extensions = target.ArchX86_64.ValidExtensions() },
		},
		{
			name:   "WithOptLevel",
			with:   func(c *TargetConfig) *TargetConfig { return c.WithOptLevel(target.OptLevelSpeed) },
			expect: func(d *target.Descriptor) { d.Flags.OptLevel = target.OptLevelSpeed },
		},
		{
			name: "WithProbestack",
			with: func(c *TargetConfig) *TargetConfig { return c.WithProbestack(target.ProbestackInline, 16) },
			expect: func(d *target.Descriptor) {
				d.Flags.EnableProbestack = true
				d.Flags.ProbestackStrategy = target.ProbestackInline
				d.Flags.ProbestackSizeLog2 = 16
			},
		},
		{
			name: "WithSpectreMitigation",
			with: func(c *TargetConfig) *TargetConfig { return c.WithSpectreMitigation(false, true) },
			expect: func(d *target.Descriptor) {
				d.Flags.EnableHeapAccessSpectreMitigation = false
			},
		},
		{
			name:   "WithPreserveFramePointers",
			with:   func(c *TargetConfig) *TargetConfig { return c.WithPreserveFramePointers(true) },
			expect: func(d *target.Descriptor) { d.Flags.PreserveFramePointers = true },
		},
		{
			name:   "WithEGraphIterationLimit",
			with:   func(c *TargetConfig) *TargetConfig { return c.WithEGraphIterationLimit(3) },
			expect: func(d *target.Descriptor) { d.Flags.EGraphIterationLimit = 3 },
		},
		{
			name:   "WithVerifier",
			with:   func(c *TargetConfig) *TargetConfig { return c.WithVerifier(false) },
			expect: func(d *target.Descriptor) { d.Flags.EnableVerifier = false },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			exp := target.NewDescriptor(target.ArchX86_64)
			tc.expect(&exp)
			c := tc.with(base)
			require.Equal(t, exp, c.Descriptor())
			// The receiver is unchanged.
			require.Equal(t, target.NewDescriptor(target.ArchX86_64), base.Descriptor())
		})
	}
}

func TestTargetConfig_WithFlag(t *testing.T) {
	base := NewTargetConfig(target.ArchAArch64)
	c, err := base.WithFlag("opt_level", "speed_and_size")
	require.NoError(t, err)
	require.Equal(t, target.OptLevelSpeedAndSize, c.Descriptor().Flags.OptLevel)
	require.Equal(t, target.OptLevelNone, base.Descriptor().Flags.OptLevel)

	_, err = base.WithFlag("no_such_flag", "1")
	require.EqualError(t, err, `unknown flag "no_such_flag"`)
}

func TestTargetConfig_Validate(t *testing.T) {
	require.NoError(t, NewTargetConfig(target.ArchS390X).WithExtensions(target.ExtMIE2).Validate())
	require.Error(t, NewTargetConfig(target.ArchS390X).WithExtensions(target.ExtAVX).Validate())
	require.Error(t, NewTargetConfig(target.ArchRISCV64).WithEGraphIterationLimit(0).Validate())
}

func TestNewTargetConfigFromTriple(t *testing.T) {
	c, err := NewTargetConfigFromTriple("riscv64gc-unknown-linux-gnu")
	require.NoError(t, err)
	require.Equal(t, target.ArchRISCV64, c.Arch())

	_, err = NewTargetConfigFromTriple("mips-unknown-linux-gnu")
	require.Error(t, err)
}

func TestDecodeTargetConfig(t *testing.T) {
	c, err := DecodeTargetConfig(strings.NewReader(`
arch = "x86_64"
extensions = ["sse41", "popcnt", "lzcnt"]

[flags]
enable_probestack = true
probestack_strategy = "inline"
probestack_size_log2 = 12
preserve_frame_pointers = true
opt_level = "speed"
`))
	require.NoError(t, err)
	d := c.Descriptor()
	require.Equal(t, target.ArchX86_64, d.Arch)
	require.Equal(t, target.ExtSSE41|target.ExtPOPCNT|target.ExtLZCNT, d.Extensions)
	require.True(t, d.Flags.EnableProbestack)
	require.Equal(t, target.ProbestackInline, d.Flags.ProbestackStrategy)
	require.True(t, d.Flags.PreserveFramePointers)
	require.Equal(t, target.OptLevelSpeed, d.Flags.OptLevel)

	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))
	back, err := DecodeTargetConfig(&buf)
	require.NoError(t, err)
	require.Equal(t, d, back.Descriptor())

	_, err = DecodeTargetConfig(strings.NewReader("arch = \"s390x\"\nextensions = [\"lse\"]\n"))
	require.Error(t, err)
}
