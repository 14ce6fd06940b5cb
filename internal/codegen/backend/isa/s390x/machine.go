// Package s390x is the z/Architecture backend for z196 and later with the optional miscellaneous
// instruction extensions 2, the ELF ABI and the big-endian encoding. Integers and scalar floats are
// lowered, vectors are not.
package s390x

import (
	"context"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// NewBackend returns a new backend for s390x.
func NewBackend() backend.Machine {
	m := &machine{
		ectx:      backend.NewExecutableContextT[*instruction](),
		instrPool: codegenapi.NewPool[instruction](),
	}
	m.Reset()
	return m
}

// machine implements backend.Machine for s390x.
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
	// clobbered are the callee saved registers the function writes, and firstSaved the lowest register
	// the prologue stores.
	clobbered  regalloc.RegSet
	firstSaved regalloc.RealReg

	fixups        []labelFixup
	stackMapSlots []uint32
}

// Arch implements backend.Machine.
func (m *machine) Arch() target.Arch { return target.ArchS390X }

func (m *machine) arch() target.Arch { return target.ArchS390X }

// SetCompiler implements backend.Machine.
func (m *machine) SetCompiler(c backend.Compiler) { m.c = c }

// Reset implements backend.Machine.
func (m *machine) Reset() {
	m.instrPool.Reset()
	m.ectx.Reset()
	m.frame.Reset()
	m.frame.OutgoingBase = 0
	m.abi = nil
	m.retPtr = regalloc.VRegInvalid
	m.retVals = m.retVals[:0]
	m.hasCalls = false
	m.needsFrameRecord = false
	m.clobbered = regalloc.RegSet(0)
	m.firstSaved = r14
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
	i.rd, i.rn, i.rm, i.ra, i.rb = regalloc.VRegInvalid, regalloc.VRegInvalid, regalloc.VRegInvalid,
		regalloc.VRegInvalid, regalloc.VRegInvalid
	return i
}

func (m *machine) insert(i *instruction) {
	m.ectx.AddPending(i)
}

// unsupportedType aborts the lowering of a function moving vectors around, which have no registers here.
func (m *machine) unsupportedType(typ ssa.Type) {
	panic(&backend.UnsupportedError{Arch: m.arch(), Type: typ, Reason: "vector values are not supported"})
}

// StartLoweringFunction implements backend.Machine.
func (m *machine) StartLoweringFunction(maxBlockID ssa.BasicBlockID) {
	m.ectx.StartLoweringFunction(maxBlockID)
	b := m.c.SSABuilder()
	sig := b.Signature()
	for _, ps := range [2][]ssa.AbiParam{sig.Params, sig.Results} {
		for _, p := range ps {
			if p.Type.IsVector() {
				m.unsupportedType(p.Type)
			}
		}
	}
	m.abi = m.c.GetFunctionABI(sig)
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
	case typ.IsVector():
		m.unsupportedType(typ)
	case typ.IsFloat():
		m.insert(m.allocateInstr().asFpuMov(dst, src))
	default:
		m.insert(m.allocateInstr().asMov(dst, src))
	}
}

// InsertLoadConstantBlockArg implements backend.Machine.
func (m *machine) InsertLoadConstantBlockArg(instr *ssa.Instruction, vr regalloc.VReg) {
	switch instr.Opcode() {
	case ssa.OpcodeIconst:
		m.insert(m.allocateInstr().asLoadConst(vr, signExtend(instr.ConstantVal(), instr.Return().Type().Bits())))
	case ssa.OpcodeF32const:
		m.insert(m.allocateInstr().asFpuConst(vr, instr.ConstantVal(), 32))
	case ssa.OpcodeF64const:
		m.insert(m.allocateInstr().asFpuConst(vr, instr.ConstantVal(), 64))
	default:
		m.unsupportedType(instr.Return().Type())
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
	kind := load64
	if v.RegType() == regalloc.RegTypeFloat {
		kind = fpuLoad64
	}
	return m.allocateInstr().asLoad(kind, regalloc.FromRealReg(r, v.RegType()), newAmodeRegImm(spVReg, m.spillSlot(v)))
}

// Spill implements regalloc.Function.
func (m *machine) Spill(v regalloc.VReg, r regalloc.RealReg) *instruction {
	kind := store64
	if v.RegType() == regalloc.RegTypeFloat {
		kind = fpuStore64
	}
	return m.allocateInstr().asStore(kind, regalloc.FromRealReg(r, v.RegType()), newAmodeRegImm(spVReg, m.spillSlot(v)))
}

func (m *machine) spillSlot(v regalloc.VReg) int64 {
	return int64(backend.CheckImm[uint32](m.arch(), "spill slot offset", m.frame.SpillSlotOffset(v)))
}

// ClobberedRegisters implements regalloc.Function. The callee saved registers are stored by the stmg of
// the prologue in the save area of the caller, so they take no room in the frame.
func (m *machine) ClobberedRegisters(rs regalloc.RegSet) { m.clobbered = rs }

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
