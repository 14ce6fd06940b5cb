package s390x

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// PostRegAlloc implements backend.Machine. It inserts the prologue at the top of the entry block and the
// epilogue in front of every ret, now that the frame size and the callee saved registers are known.
// There is no frame pointer: the CFA stays relative to sp.
func (m *machine) PostRegAlloc() {
	d := m.c.Target()
	m.needsFrameRecord = m.frame.NeedsFrameRecord(d.Flags.PreserveFramePointers, m.hasCalls, m.abi) || m.clobbered != 0
	if !m.needsFrameRecord {
		return
	}
	m.firstSaved = r14
	for r := r6; r <= r13; r++ {
		if m.clobbered.Has(r) {
			m.firstSaved = r
			break
		}
	}

	blocks := m.ectx.VCodeBlocks()
	for _, blk := range blocks {
		var out []*instruction
		for _, i := range blk.Instrs {
			if i.kind == ret {
				out = append(out, m.allocateInstr().asRestoreRegs(m.firstSaved))
			}
			out = append(out, i)
		}
		blk.Instrs = out
	}

	entry := blocks[0]
	entry.Instrs = append(m.appendPrologue(nil), entry.Instrs...)
}

// appendPrologue appends
//
//	stmg first, %r15, 8*first(%r15)
//	(probes)
//	aghi %r15, -size
//
// The registers go to their slots in the save area of the caller, at 8 times their number above the
// stack pointer at the entry.
func (m *machine) appendPrologue(out []*instruction) []*instruction {
	save := m.allocateInstr().asSaveRegs(m.firstSaved)
	for r := m.firstSaved; r <= r14; r++ {
		save.unwind = append(save.unwind, backend.UnwindInst{
			Kind:      backend.UnwindSaveReg,
			Reg:       dwarfReg(r),
			RegOffset: stackBias - 8*regNumberInEncoding(r),
		})
	}
	out = append(out, save)

	size := m.frame.Size()
	if size == 0 {
		return out
	}
	plan := backend.PlanProbes(m.c.Target(), size)
	switch plan.Strategy {
	case backend.ProbeUnrolled:
		for _, off := range plan.Offsets() {
			out = append(out, m.allocateInstr().asProbeStore(off))
		}
	case backend.ProbeLoop, backend.ProbeOutline:
		out = append(out, m.allocateInstr().asProbeLoop(size, plan.PageSize))
	}
	codegenapi.Trace(codegenapi.TopicABI, "frame", "size", size, "probes", plan.Count, "strategy", int(plan.Strategy),
		"first_saved", regNames[m.firstSaved])

	sub := m.allocateInstr().asAdjustSP(-size)
	sub.unwind = append(sub.unwind, backend.UnwindInst{Kind: backend.UnwindStackAlloc, Size: uint32(size)})
	return append(out, sub)
}
