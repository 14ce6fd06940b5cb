package backend

import (
	"context"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// mockMachine implements Machine for testing.
type mockMachine struct {
	startLoweringFunction  func(id ssa.BasicBlockID)
	startBlock             func(block ssa.BasicBlock)
	lowerSingleBranch      func(b *ssa.Instruction)
	lowerConditionalBranch func(b *ssa.Instruction)
	lowerInstr             func(instruction *ssa.Instruction)
	lowerParams            func(params []ssa.Value)
	lowerReturns           func(rets []ssa.Value)
	endBlock               func()
	insertMove             func(dst, src regalloc.VReg)
	insertLoadConstant     func(instr *ssa.Instruction, vr regalloc.VReg)
	format                 func() string
	argResultInts          []regalloc.RealReg
	argResultFloats        []regalloc.RealReg
	rinfo                  *regalloc.RegisterInfo
}

// Arch implements Machine.Arch.
func (m mockMachine) Arch() target.Arch { return target.ArchX86_64 }

// SetCompiler implements Machine.SetCompiler.
func (m mockMachine) SetCompiler(Compiler) {}

// Reset implements Machine.Reset.
func (m mockMachine) Reset() {}

// StartLoweringFunction implements Machine.StartLoweringFunction.
func (m mockMachine) StartLoweringFunction(id ssa.BasicBlockID) {
	if m.startLoweringFunction != nil {
		m.startLoweringFunction(id)
	}
}

// StartBlock implements Machine.StartBlock.
func (m mockMachine) StartBlock(block ssa.BasicBlock) {
	if m.startBlock != nil {
		m.startBlock(block)
	}
}

// LowerSingleBranch implements Machine.LowerSingleBranch.
func (m mockMachine) LowerSingleBranch(b *ssa.Instruction) {
	if m.lowerSingleBranch != nil {
		m.lowerSingleBranch(b)
	}
}

// LowerConditionalBranch implements Machine.LowerConditionalBranch.
func (m mockMachine) LowerConditionalBranch(b *ssa.Instruction) {
	if m.lowerConditionalBranch != nil {
		m.lowerConditionalBranch(b)
	}
}

// LowerInstr implements Machine.LowerInstr.
func (m mockMachine) LowerInstr(instruction *ssa.Instruction) {
	if m.lowerInstr != nil {
		m.lowerInstr(instruction)
	}
}

// FlushPendingInstructions implements Machine.FlushPendingInstructions.
func (m mockMachine) FlushPendingInstructions() {}

// LowerParams implements Machine.LowerParams.
func (m mockMachine) LowerParams(params []ssa.Value) {
	if m.lowerParams != nil {
		m.lowerParams(params)
	}
}

// LowerReturns implements Machine.LowerReturns.
func (m mockMachine) LowerReturns(rets []ssa.Value) {
	if m.lowerReturns != nil {
		m.lowerReturns(rets)
	}
}

// InsertReturn implements Machine.InsertReturn.
func (m mockMachine) InsertReturn() {}

// InsertMove implements Machine.InsertMove.
func (m mockMachine) InsertMove(dst, src regalloc.VReg, _ ssa.Type) { m.insertMove(dst, src) }

// InsertLoadConstantBlockArg implements Machine.InsertLoadConstantBlockArg.
func (m mockMachine) InsertLoadConstantBlockArg(instr *ssa.Instruction, vr regalloc.VReg) {
	m.insertLoadConstant(instr, vr)
}

// EndBlock implements Machine.EndBlock.
func (m mockMachine) EndBlock() {
	if m.endBlock != nil {
		m.endBlock()
	}
}

// EndLoweringFunction implements Machine.EndLoweringFunction.
func (m mockMachine) EndLoweringFunction() {}

// Format implements Machine.Format.
func (m mockMachine) Format() string {
	if m.format != nil {
		return m.format()
	}
	return ""
}

// RegAlloc implements Machine.RegAlloc.
func (m mockMachine) RegAlloc() error { return nil }

// PostRegAlloc implements Machine.PostRegAlloc.
func (m mockMachine) PostRegAlloc() {}

// Encode implements Machine.Encode.
func (m mockMachine) Encode(context.Context) error { return nil }

// FrameSize implements Machine.FrameSize.
func (m mockMachine) FrameSize() int64 { return 0 }

// RegisterInfo implements Machine.RegisterInfo.
func (m mockMachine) RegisterInfo() *regalloc.RegisterInfo {
	if m.rinfo != nil {
		return m.rinfo
	}
	return &regalloc.RegisterInfo{}
}

// ArgsResultsRegs implements Machine.ArgsResultsRegs.
func (m mockMachine) ArgsResultsRegs() *ABIRegs {
	return &ABIRegs{
		ArgInts: m.argResultInts, ArgFloats: m.argResultFloats,
		RetInts: m.argResultInts, RetFloats: m.argResultFloats,
	}
}

var _ Machine = mockMachine{}
