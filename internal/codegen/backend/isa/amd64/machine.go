// Package amd64 is the x86-64 backend: lowering, the System V and tail calling conventions, and the encoding.
package amd64

import (
	"context"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// NewBackend returns a new backend for amd64.
func NewBackend() backend.Machine {
	m := &machine{
		ectx:      backend.NewExecutableContextT[*instruction](),
		instrPool: codegenapi.NewPool[instruction](),
	}
	m.Reset()
	return m
}

// machine implements backend.Machine for amd64.
type machine struct {
	c         backend.Compiler
	ectx      *backend.ExecutableContextT[*instruction]
	instrPool codegenapi.Pool[instruction]
	frame     backend.Frame

	// abi is the ABI of the function being compiled.
	abi *backend.FunctionABI
	// retPtr holds the return area pointer when some results are returned in memory.
	retPtr regalloc.VReg
	// retVals are the fixed uses of the next ret, set by LowerReturns.
	retVals []fixedOperand

	hasCalls         bool
	needsFrameRecord bool

	fixups        []labelFixup
	stackMapSlots []uint32
}

// Arch implements backend.Machine.
func (m *machine) Arch() target.Arch { return target.ArchX86_64 }

func (m *machine) arch() target.Arch { return target.ArchX86_64 }

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
	return m.instrPool.Allocate()
}

func (m *machine) insert(i *instruction) {
	m.ectx.AddPending(i)
}

// allocateLabel returns a label local to the block being lowered, with the instruction marking its position.
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
		m.insert(m.allocateInstr().asMovRR(src, dst, true))
	case typ.IsFloat() || typ.IsVector():
		m.insert(m.allocateInstr().asXmmMovRR(src, dst))
	default:
		panic("BUG: invalid type for a move: " + typ.String())
	}
}

// InsertLoadConstantBlockArg implements backend.Machine. The flags may be live here, so the constant is
// always materialized with a mov.
func (m *machine) InsertLoadConstantBlockArg(instr *ssa.Instruction, vr regalloc.VReg) {
	v := instr.ConstantVal()
	switch instr.Opcode() {
	case ssa.OpcodeIconst:
		m.insert(m.allocateInstr().asImm(vr, v, instr.Return().Type().Bits() == 64))
	case ssa.OpcodeF32const:
		tmp := m.c.AllocateVReg(ssa.TypeI32)
		m.insert(m.allocateInstr().asImm(tmp, v, false))
		m.insert(m.allocateInstr().asGprToXmm(sseOpcodeMovd, newOperandReg(tmp), vr, false))
	case ssa.OpcodeF64const:
		tmp := m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asImm(tmp, v, true))
		m.insert(m.allocateInstr().asGprToXmm(sseOpcodeMovq, newOperandReg(tmp), vr, true))
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
	a := newAmodeImmReg(m.spillSlot(v), rspVReg)
	i := m.allocateInstr()
	switch v.RegType() {
	case regalloc.RegTypeInt:
		i.asMov64MR(a, regalloc.FromRealReg(r, regalloc.RegTypeInt))
	case regalloc.RegTypeFloat:
		i.asXmmUnaryRmR(sseOpcodeMovsd, newOperandMem(a), regalloc.FromRealReg(r, regalloc.RegTypeFloat))
	default:
		i.asXmmUnaryRmR(sseOpcodeMovdqu, newOperandMem(a), regalloc.FromRealReg(r, regalloc.RegTypeVector))
	}
	return i
}

// Spill implements regalloc.Function.
func (m *machine) Spill(v regalloc.VReg, r regalloc.RealReg) *instruction {
	a := newAmodeImmReg(m.spillSlot(v), rspVReg)
	i := m.allocateInstr()
	switch v.RegType() {
	case regalloc.RegTypeInt:
		i.asMovRM(regalloc.FromRealReg(r, regalloc.RegTypeInt), a, 8)
	case regalloc.RegTypeFloat:
		i.asXmmMovRM(sseOpcodeMovsd, regalloc.FromRealReg(r, regalloc.RegTypeFloat), a)
	default:
		i.asXmmMovRM(sseOpcodeMovdqu, regalloc.FromRealReg(r, regalloc.RegTypeVector), a)
	}
	return i
}

func (m *machine) spillSlot(v regalloc.VReg) uint32 {
	return backend.CheckImm[uint32](m.arch(), "spill slot offset", m.frame.SpillSlotOffset(v))
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
