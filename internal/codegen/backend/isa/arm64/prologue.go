package arm64

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

// calleeSavedVReg returns the register to save for r: the low 64 bits of the vector registers.
func calleeSavedVReg(r regalloc.RealReg) regalloc.VReg {
	if r >= v0 && r <= v31 {
		return regalloc.FromRealReg(r, regalloc.RegTypeFloat)
	}
	return regalloc.FromRealReg(r, regalloc.RegTypeInt)
}

// appendPrologue appends
//
//	stp fp, lr, [sp, #-16]!
//	mov fp, sp
//	(probes)
//	sub sp, sp, #size
//	str reg, [sp, #off]   for each callee saved register
func (m *machine) appendPrologue(out []*instruction) []*instruction {
	size := m.frame.Size()

	stp := m.allocateInstr().asStorePair64(fpVReg, lrVReg,
		addressMode{kind: addressModeKindPreIndex, rn: spVReg, imm: -frameRecordSize})
	stp.unwind = backend.UnwindInst{Kind: backend.UnwindPushFrameRegs, CFAOffset: frameRecordSize}
	mov := m.allocateInstr().asMove64(fpVReg, spVReg)
	mov.unwind = backend.UnwindInst{Kind: backend.UnwindDefineNewFrame, Reg: dwarfReg(fp), CFAOffset: frameRecordSize}
	out = append(out, stp, mov)
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

	sub := m.allocateInstr().asAdjustSP(aluOpSub, size)
	sub.unwind = backend.UnwindInst{Kind: backend.UnwindStackAlloc, Size: uint32(size)}
	out = append(out, sub)

	for j, r := range m.frame.CalleeSaved() {
		off := m.frame.CalleeSavedOffset(j)
		st := m.allocateInstr().asStore(calleeSavedStore(r), calleeSavedVReg(r), newAmodeRegImm(spVReg, off))
		st.unwind = backend.UnwindInst{Kind: backend.UnwindSaveReg, Reg: dwarfReg(r), RegOffset: uint32(frameRecordSize + size - off)}
		out = append(out, st)
	}
	return out
}

func calleeSavedStore(r regalloc.RealReg) instructionKind {
	if r >= v0 && r <= v31 {
		return fpuStore64
	}
	return store64
}

func calleeSavedLoad(r regalloc.RealReg) instructionKind {
	if r >= v0 && r <= v31 {
		return fpuLoad64
	}
	return uLoad64
}

// appendEpilogue appends
//
//	ldr reg, [sp, #off]   for each callee saved register
//	mov sp, fp
//	ldp fp, lr, [sp], #16
func (m *machine) appendEpilogue(out []*instruction) []*instruction {
	for j, r := range m.frame.CalleeSaved() {
		off := m.frame.CalleeSavedOffset(j)
		out = append(out, m.allocateInstr().asLoad(calleeSavedLoad(r), calleeSavedVReg(r), newAmodeRegImm(spVReg, off)))
	}
	return append(out,
		m.allocateInstr().asMove64(spVReg, fpVReg),
		m.allocateInstr().asLoadPair64(fpVReg, lrVReg,
			addressMode{kind: addressModeKindPostIndex, rn: spVReg, imm: frameRecordSize}),
	)
}
