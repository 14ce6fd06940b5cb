package riscv64

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// PostRegAlloc implements backend.Machine. It inserts the prologue at the top of the entry block and the
// epilogue in front of every ret, now that the frame size and the callee saved registers are known.
func (m *machine) PostRegAlloc() {
	d := m.c.Target()
	m.needsFrameRecord = m.frame.NeedsFrameRecord(d.Flags.PreserveFramePointers, m.hasCalls, m.abi)
	if !m.needsFrameRecord {
		return
	}

	blocks := m.ectx.VCodeBlocks()
	for _, blk := range blocks {
		var out []*instruction
		for _, i := range blk.Instrs {
			if i.kind == ret {
				out = m.appendEpilogue(out)
			}
			out = append(out, i)
		}
		blk.Instrs = out
	}

	entry := blocks[0]
	entry.Instrs = append(m.appendPrologue(nil), entry.Instrs...)
}

func calleeSavedVReg(r regalloc.RealReg) regalloc.VReg {
	if isFloatReg(r) {
		return regalloc.FromRealReg(r, regalloc.RegTypeFloat)
	}
	return regalloc.FromRealReg(r, regalloc.RegTypeInt)
}

// calleeSavedAccess returns the kind of the load or the store of the callee saved register r.
func calleeSavedAccess(r regalloc.RealReg, load bool) instructionKind {
	switch {
	case isFloatReg(r) && load:
		return fpuLoad64
	case isFloatReg(r):
		return fpuStore64
	case load:
		return load64
	default:
		return store64
	}
}

// appendPrologue appends
//
//	addi sp, sp, -16
//	sd ra, 8(sp)
//	sd fp, 0(sp)
//	mv fp, sp
//	(probes)
//	addi sp, sp, -size
//	sd reg, off(sp)   for each callee saved register
func (m *machine) appendPrologue(out []*instruction) []*instruction {
	size := m.frame.Size()

	push := m.allocateInstr().asAdjustSP(-frameRecordSize)
	push.unwind = backend.UnwindInst{Kind: backend.UnwindPushFrameRegs, CFAOffset: frameRecordSize}
	saveRA := m.allocateInstr().asStore(store64, raVReg, newAmodeRegImm(spVReg, 8))
	saveRA.unwind = backend.UnwindInst{Kind: backend.UnwindSaveReg, Reg: dwarfReg(ra), RegOffset: 8}
	saveFP := m.allocateInstr().asStore(store64, fpVReg, newAmodeRegImm(spVReg, 0))
	saveFP.unwind = backend.UnwindInst{Kind: backend.UnwindSaveReg, Reg: dwarfReg(fp), RegOffset: 16}
	mov := m.allocateInstr().asMov(fpVReg, spVReg)
	mov.unwind = backend.UnwindInst{Kind: backend.UnwindDefineNewFrame, Reg: dwarfReg(fp), CFAOffset: frameRecordSize}
	out = append(out, push, saveRA, saveFP, mov)
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
	codegenapi.Trace(codegenapi.TopicABI, "frame", "size", size, "probes", plan.Count, "strategy", int(plan.Strategy))

	sub := m.allocateInstr().asAdjustSP(-size)
	sub.unwind = backend.UnwindInst{Kind: backend.UnwindStackAlloc, Size: uint32(size)}
	out = append(out, sub)

	for j, r := range m.frame.CalleeSaved() {
		off := m.frame.CalleeSavedOffset(j)
		st := m.allocateInstr().asStore(calleeSavedAccess(r, false), calleeSavedVReg(r), newAmodeRegImm(spVReg, off))
		st.unwind = backend.UnwindInst{Kind: backend.UnwindSaveReg, Reg: dwarfReg(r), RegOffset: uint32(frameRecordSize + size - off)}
		out = append(out, st)
	}
	return out
}

// appendEpilogue appends
//
//	ld reg, off(sp)   for each callee saved register
//	mv sp, fp
//	ld ra, 8(sp)
//	ld fp, 0(sp)
//	addi sp, sp, 16
func (m *machine) appendEpilogue(out []*instruction) []*instruction {
	for j, r := range m.frame.CalleeSaved() {
		off := m.frame.CalleeSavedOffset(j)
		out = append(out, m.allocateInstr().asLoad(calleeSavedAccess(r, true), calleeSavedVReg(r), newAmodeRegImm(spVReg, off)))
	}
	return append(out,
		m.allocateInstr().asMov(spVReg, fpVReg),
		m.allocateInstr().asLoad(load64, raVReg, newAmodeRegImm(spVReg, 8)),
		m.allocateInstr().asLoad(load64, fpVReg, newAmodeRegImm(spVReg, 0)),
		m.allocateInstr().asAdjustSP(frameRecordSize),
	)
}
