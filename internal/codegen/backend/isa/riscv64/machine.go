// Package riscv64 is the RISC-V 64 backend: lowering for RV64GC with the optional V, Zba, Zbb and Zbs
// extensions, the LP64D calling convention and the encoding.
package riscv64

import (
	"context"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// NewBackend returns a new backend for riscv64.
func NewBackend() backend.Machine {
	m := &machine{
		ectx:      backend.NewExecutableContextT[*instruction](),
		instrPool: codegenapi.NewPool[instruction](),
	}
	m.Reset()
	return m
}

// machine implements backend.Machine for riscv64.
type machine struct {
	c         backend.Compiler
	ectx      *backend.ExecutableContextT[*instruction]
	instrPool codegenapi.Pool[instruction]
	frame     backend.Frame

	abi     *backend.FunctionABI
	retPtr  regalloc.VReg
	retVals []fixedOperand

	hasCalls         bool
	needsFrameRecord bool

	fixups        []labelFixup
	stackMapSlots []uint32
}

// Arch implements backend.Machine.
func (m *machine) Arch() target.Arch { return target.ArchRISCV64 }

func (m *machine) arch() target.Arch { return target.ArchRISCV64 }

// SetCompiler implements backend.Machine.
func (m *machine) SetCompiler(c backend.Compiler) { m.c = c }

// Reset implements backend.Machine.
func (m *machine) Reset() {
	m.instrPool.Reset()
	m.ectx.Reset()
	m.frame.Reset()
	m.abi = nil
	m.retPtr = regalloc.VRegInvalid
	m.retVals = m.retVals[:0]
	m.hasCalls = false
	m.needsFrameRecord = false
	m.fixups = m.fixups[:0]
	m.stackMapSlots = m.stackMapSlots[:0]
}

// RegisterInfo implements backend.Machine.
func (m *machine) RegisterInfo() *regalloc.RegisterInfo { return regInfo }

// ArgsResultsRegs implements backend.Machine.
func (m *machine) ArgsResultsRegs() *backend.ABIRegs { return abiRegs }

func (m *machine) ext() target.Extensions { return m.c.Target().Extensions }

func (m *machine) allocateInstr() *instruction {
	i := m.instrPool.Allocate()
	i.rd, i.rn, i.rm, i.ra = regalloc.VRegInvalid, regalloc.VRegInvalid, regalloc.VRegInvalid, regalloc.VRegInvalid
	return i
}

func (m *machine) insert(i *instruction) {
	m.ectx.AddPending(i)
}

func (m *machine) allocateLabel() (*instruction, backend.Label) {
	l := m.ectx.AllocateLabel()
	return m.allocateInstr().asLabel(l), l
}

// StartLoweringFunction implements backend.Machine.
func (m *machine) StartLoweringFunction(maxBlockID ssa.BasicBlockID) {
	m.ectx.StartLoweringFunction(maxBlockID)
	b := m.c.SSABuilder()
	m.abi = m.c.GetFunctionABI(b.Signature())
	m.frame.SetStackSlots(b)
	if m.abi.RetPtr {
		m.retPtr = m.c.AllocateVReg(ssa.TypeI64)
	}
}

// StartBlock implements backend.Machine.
func (m *machine) StartBlock(blk ssa.BasicBlock) { m.ectx.StartBlock(blk) }

// FlushPendingInstructions implements backend.Machine.
func (m *machine) FlushPendingInstructions() { m.ectx.FlushPendingInstructions() }

// EndBlock implements backend.Machine.
func (m *machine) EndBlock() { m.ectx.EndBlock() }

// EndLoweringFunction implements backend.Machine.
func (m *machine) EndLoweringFunction() {}

// LowerInstr implements backend.Machine.
func (m *machine) LowerInstr(instr *ssa.Instruction) {
	rules.Lower(m, m.ext(), instr)
}

// InsertMove implements backend.Machine.
func (m *machine) InsertMove(dst, src regalloc.VReg, typ ssa.Type) {
	switch {
	case typ.IsInt() || typ.IsRef():
		m.insert(m.allocateInstr().asMov(dst, src))
	case typ.IsFloat():
		m.insert(m.allocateInstr().asFpuMov(dst, src))
	case typ.IsVector():
		m.insert(m.allocateInstr().asVecMov(dst, src))
	default:
		panic("BUG: invalid type for a move: " + typ.String())
	}
}

// InsertLoadConstantBlockArg implements backend.Machine.
func (m *machine) InsertLoadConstantBlockArg(instr *ssa.Instruction, vr regalloc.VReg) {
	v := instr.ConstantVal()
	switch instr.Opcode() {
	case ssa.OpcodeIconst:
		m.insert(m.allocateInstr().asLoadConst(vr, signExtend(v, instr.Return().Type().Bits())))
	case ssa.OpcodeF32const:
		m.insert(m.allocateInstr().asLoadFpuConst(vr, v, 32))
	case ssa.OpcodeF64const:
		m.insert(m.allocateInstr().asLoadFpuConst(vr, v, 64))
	default:
		panic("BUG: not a constant " + instr.Opcode().String())
	}
}

// Format implements backend.Machine.
func (m *machine) Format() string {
	return m.ectx.Format((*instruction).String)
}

// RegAlloc implements backend.Machine.
func (m *machine) RegAlloc() error {
	return regalloc.Allocate[*instruction](regInfo, m)
}

// Blocks implements regalloc.Function.
func (m *machine) Blocks() int { return m.ectx.Blocks() }

// Block implements regalloc.Function.
func (m *machine) Block(i int) []*instruction { return m.ectx.Block(i) }

// SetBlock implements regalloc.Function.
func (m *machine) SetBlock(i int, instrs []*instruction) { m.ectx.SetBlock(i, instrs) }

// Reload implements regalloc.Function.
func (m *machine) Reload(v regalloc.VReg, r regalloc.RealReg) *instruction {
	a := newAmodeRegImm(spVReg, m.spillSlot(v))
	i := m.allocateInstr()
	switch typ := v.RegType(); typ {
	case regalloc.RegTypeInt:
		i.asLoad(load64, regalloc.FromRealReg(r, typ), a)
	case regalloc.RegTypeFloat:
		i.asLoad(fpuLoad64, regalloc.FromRealReg(r, typ), a)
	default:
		i.asLoad(vecLoad, regalloc.FromRealReg(r, typ), a)
	}
	return i
}

// Spill implements regalloc.Function.
func (m *machine) Spill(v regalloc.VReg, r regalloc.RealReg) *instruction {
	a := newAmodeRegImm(spVReg, m.spillSlot(v))
	i := m.allocateInstr()
	switch typ := v.RegType(); typ {
	case regalloc.RegTypeInt:
		i.asStore(store64, regalloc.FromRealReg(r, typ), a)
	case regalloc.RegTypeFloat:
		i.asStore(fpuStore64, regalloc.FromRealReg(r, typ), a)
	default:
		i.asStore(vecStore, regalloc.FromRealReg(r, typ), a)
	}
	return i
}

func (m *machine) spillSlot(v regalloc.VReg) int64 {
	return int64(backend.CheckImm[uint32](m.arch(), "spill slot offset", m.frame.SpillSlotOffset(v)))
}

// ClobberedRegisters implements regalloc.Function.
func (m *machine) ClobberedRegisters(rs regalloc.RegSet) { m.frame.SetCalleeSaved(rs) }

// Done implements regalloc.Function.
func (m *machine) Done() {}

// FrameSize implements backend.Machine.
func (m *machine) FrameSize() int64 { return m.frame.Size() }

// Encode implements backend.Machine.
func (m *machine) Encode(ctx context.Context) error {
	m.ectx.ResetLabelOffsets()
	m.fixups = m.fixups[:0]
	for _, blk := range m.ectx.VCodeBlocks() {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.ectx.LabelOffsets[blk.Label] = int64(len(m.c.Buf()))
		for _, i := range blk.Instrs {
			m.encodeInstr(i)
		}
	}
	m.resolveFixups()
	codegenapi.Trace(codegenapi.TopicEmit, "encoded", "func", m.c.SSABuilder().Name(), "bytes", len(m.c.Buf()))
	return nil
}

// signExtend sign-extends the low bits of v.
func signExtend(v uint64, bits byte) int64 {
	if bits >= 64 {
		return int64(v)
	}
	sh := 64 - bits
	return int64(v<<sh) >> sh
}
