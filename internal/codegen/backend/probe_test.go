package backend

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

func TestPlanProbes(t *testing.T) {
	desc := func(arch target.Arch, enabled bool, strategy target.ProbestackStrategy) *target.Descriptor {
		d := target.NewDescriptor(arch)
		d.Flags.EnableProbestack = enabled
		d.Flags.ProbestackStrategy = strategy
		return &d
	}
	for _, tc := range []struct {
		name      string
		d         *target.Descriptor
		frameSize int64
		exp       ProbeStrategy
		count     int64
	}{
		{name: "disabled", d: desc(target.ArchX86_64, false, target.ProbestackInline), frameSize: 1 << 20, exp: ProbeNone},
		{name: "small frame", d: desc(target.ArchX86_64, true, target.ProbestackInline), frameSize: 4095, exp: ProbeNone},
		{name: "one page", d: desc(target.ArchAArch64, true, target.ProbestackInline), frameSize: 4096, exp: ProbeNone},
		{name: "over one page", d: desc(target.ArchAArch64, true, target.ProbestackInline), frameSize: 4097, exp: ProbeUnrolled, count: 2},
		{name: "x86 outline", d: desc(target.ArchX86_64, true, target.ProbestackOutline), frameSize: 9000, exp: ProbeOutline, count: 3},
		{name: "x86 unrolled", d: desc(target.ArchX86_64, true, target.ProbestackInline), frameSize: 4 * 4096, exp: ProbeUnrolled, count: 4},
		{name: "x86 loop", d: desc(target.ArchX86_64, true, target.ProbestackInline), frameSize: 4*4096 + 1, exp: ProbeLoop, count: 5},
		// Only x86_64 has the helper.
		{name: "riscv outline", d: desc(target.ArchRISCV64, true, target.ProbestackOutline), frameSize: 3 * 4096, exp: ProbeUnrolled, count: 3},
		{name: "s390x loop", d: desc(target.ArchS390X, true, target.ProbestackInline), frameSize: 4 * 4096, exp: ProbeLoop, count: 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := PlanProbes(tc.d, tc.frameSize)
			require.Equal(t, tc.exp, p.Strategy)
			require.Equal(t, tc.count, p.Count)
			require.Equal(t, int64(4096), p.PageSize)
		})
	}
}

func TestProbePlan_Offsets(t *testing.T) {
	d := target.NewDescriptor(target.ArchAArch64)
	d.Flags.EnableProbestack = true
	p := PlanProbes(&d, 9000)
	require.Equal(t, ProbeUnrolled, p.Strategy)
	require.Equal(t, []int64{4096, 8192, 9000}, p.Offsets())

	require.Empty(t, PlanProbes(&d, 100).Offsets())
}

func TestProbePlan_Offsets_random(t *testing.T) {
	for seed := int64(0); seed < 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		d := target.NewDescriptor(target.Arches[rng.Intn(len(target.Arches))])
		d.Flags.EnableProbestack = true
		d.Flags.ProbestackSizeLog2 = uint8(12 + rng.Intn(5))
		page := d.Flags.ProbestackSize()
		frameSize := 1 + rng.Int63n(20*page)

		p := PlanProbes(&d, frameSize)
		if frameSize <= page {
			require.Equal(t, ProbeNone, p.Strategy, "seed %d", seed)
			require.Empty(t, p.Offsets(), "seed %d", seed)
			continue
		}
		require.NotEqual(t, ProbeNone, p.Strategy, "seed %d", seed)
		offsets := p.Offsets()
		require.Len(t, offsets, int(p.Count), "seed %d", seed)
		// No page of the frame is skipped, and the bottom of the frame is touched.
		prev := int64(0)
		for _, off := range offsets {
			require.Greater(t, off, prev, "seed %d", seed)
			require.LessOrEqual(t, off-prev, page, "seed %d", seed)
			prev = off
		}
		require.Equal(t, frameSize, prev, "seed %d", seed)
	}
}
