package backend

import "github.com/mickey951112/wasmtime/internal/codegen/target"

// ProbeStrategy is how the prologue touches the pages of a large frame.
type ProbeStrategy byte

const (
	// ProbeNone means that the frame needs no probing.
	ProbeNone ProbeStrategy = iota
	// ProbeUnrolled stores to each page with one instruction per page.
	ProbeUnrolled
	// ProbeLoop stores to each page in a loop.
	ProbeLoop
	// ProbeOutline calls the __probestack helper.
	ProbeOutline
)

// ProbestackSymbol is the runtime helper called by ProbeOutline with the frame size in rax.
const ProbestackSymbol = "__probestack"

// ProbePlan describes the probes of a frame.
type ProbePlan struct {
	Strategy  ProbeStrategy
	PageSize  int64
	FrameSize int64
	// Count is the number of pages touched.
	Count int64
}

// ProbeUnrollThreshold returns the largest number of probes emitted unrolled on arch.
func ProbeUnrollThreshold(arch target.Arch) int64 {
	if arch == target.ArchX86_64 {
		return 4
	}
	return 3
}

// PlanProbes decides how a frame of frameSize bytes, allocated in one step below the stack pointer,
// is probed.
func PlanProbes(d *target.Descriptor, frameSize int64) ProbePlan {
	page := d.Flags.ProbestackSize()
	p := ProbePlan{PageSize: page, FrameSize: frameSize}
	if !d.Flags.EnableProbestack || frameSize <= page {
		return p
	}
	p.Count = (frameSize + page - 1) / page
	switch {
	case d.Arch == target.ArchX86_64 && d.Flags.ProbestackStrategy == target.ProbestackOutline:
		p.Strategy = ProbeOutline
	case p.Count <= ProbeUnrollThreshold(d.Arch):
		p.Strategy = ProbeUnrolled
	default:
		p.Strategy = ProbeLoop
	}
	return p
}

// Offsets returns the distances below the old stack pointer touched by an unrolled probe sequence,
// one per page, the last one being the bottom of the frame.
func (p ProbePlan) Offsets() []int64 {
	ret := make([]int64, 0, p.Count)
	for i := int64(1); i <= p.Count; i++ {
		ret = append(ret, min(i*p.PageSize, p.FrameSize))
	}
	return ret
}
