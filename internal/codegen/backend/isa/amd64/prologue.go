package amd64

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

// appendPrologue appends
//
//	push %rbp
//	mov %rsp, %rbp
//	(probes)
//	sub $size, %rsp
//	mov %reg, off(%rsp)   for each callee saved register
func (m *machine) appendPrologue(out []*instruction) []*instruction {
	size := m.frame.Size()

	push := m.allocateInstr().asPush64(rbpVReg)
	push.unwind = backend.UnwindInst{Kind: backend.UnwindPushFrameRegs, CFAOffset: 16}
	mov := m.allocateInstr().asMovRR(rspVReg, rbpVReg, true)
	mov.unwind = backend.UnwindInst{Kind: backend.UnwindDefineNewFrame, Reg: dwarfRegs[rbp], CFAOffset: 16}
	out = append(out, push, mov)
	if size == 0 {
		return out
	}

	plan := backend.PlanProbes(m.c.Target(), size)
	switch plan.Strategy {
	case backend.ProbeUnrolled:
		for _, off := range plan.Offsets() {
			a := newAmodeImmReg(uint32(-backend.CheckImm[int32](m.arch(), "probe offset", off)), rspVReg)
			out = append(out, m.allocateInstr().asMovImmM(0, a))
		}
	case backend.ProbeLoop:
		out = append(out, m.allocateInstr().asProbeLoop(size, plan.PageSize))
	case backend.ProbeOutline:
		out = append(out, m.allocateInstr().asCallProbestack(size))
	}
	codegenapi.Trace(codegenapi.TopicABI, "frame", "size", size, "probes", plan.Count, "strategy", int(plan.Strategy))

	imm := uint32(backend.CheckImm[int32](m.arch(), "frame size", size))
	sub := m.allocateInstr().asAluRmiR(aluOpSub, newOperandImm32(imm), rspVReg, true)
	sub.unwind = backend.UnwindInst{Kind: backend.UnwindStackAlloc, Size: uint32(size)}
	out = append(out, sub)

	for j, r := range m.frame.CalleeSaved() {
		off := m.frame.CalleeSavedOffset(j)
		st := m.allocateInstr().asMovRM(regalloc.FromRealReg(r, regalloc.RegTypeInt), newAmodeImmReg(uint32(off), rspVReg), 8)
		st.unwind = backend.UnwindInst{Kind: backend.UnwindSaveReg, Reg: dwarfRegs[r], RegOffset: uint32(16 + size - off)}
		out = append(out, st)
	}
	return out
}

// appendEpilogue appends
//
//	mov off(%rsp), %reg   for each callee saved register
//	mov %rbp, %rsp
//	pop %rbp
func (m *machine) appendEpilogue(out []*instruction) []*instruction {
	for j, r := range m.frame.CalleeSaved() {
		off := m.frame.CalleeSavedOffset(j)
		out = append(out, m.allocateInstr().asMov64MR(newAmodeImmReg(uint32(off), rspVReg), regalloc.FromRealReg(r, regalloc.RegTypeInt)))
	}
	return append(out,
		m.allocateInstr().asMovRR(rbpVReg, rspVReg, true),
		m.allocateInstr().asPop64(rbpVReg),
	)
}
