package backend

import (
	"context"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

type (
	// Machine is a backend for a specific ISA machine.
	Machine interface {
		// Arch returns the architecture of the machine.
		Arch() target.Arch

		// SetCompiler sets the compilation context used for the lifetime of Machine.
		// This is only called once per Machine, i.e. before the first compilation.
		SetCompiler(Compiler)

		// Reset resets the machine state for the next compilation.
		Reset()

		// StartLoweringFunction is called when the compilation of the given function is started.
		// The maxBlockID is the maximum ssa.BasicBlockID in the function.
		StartLoweringFunction(maxBlockID ssa.BasicBlockID)

		// StartBlock is called when the compilation of the given block is started.
		// The order of this being called is the reverse post order of the ssa.BasicBlock(s) as we iterate with
		// ssa.Builder BlockIteratorReversePostOrderBegin and BlockIteratorReversePostOrderEnd.
		StartBlock(ssa.BasicBlock)

		// LowerSingleBranch is called when the compilation of the given single branch is started:
		// a jump or a br_table.
		LowerSingleBranch(b *ssa.Instruction)

		// LowerConditionalBranch is called when the compilation of the given conditional branch is started.
		LowerConditionalBranch(b *ssa.Instruction)

		// LowerInstr is called for each instruction in the given block except for the ones marked as already lowered
		// via Compiler.MarkLowered. The order is reverse, i.e. from the last instruction to the first one.
		//
		// Note: this can lower multiple instructions (which produce the inputs) at once whenever it's possible
		// for optimization.
		LowerInstr(*ssa.Instruction)

		// FlushPendingInstructions moves the instructions of the last LowerInstr into the current block.
		FlushPendingInstructions()

		// LowerParams lowers the given parameters of the entry block from the ABI locations.
		LowerParams(params []ssa.Value)

		// LowerReturns lowers the given returns into the ABI locations.
		LowerReturns(returns []ssa.Value)

		// InsertReturn inserts the return instruction to return from the current function.
		InsertReturn()

		// InsertMove inserts a move instruction from src to dst whose type is typ.
		InsertMove(dst, src regalloc.VReg, typ ssa.Type)

		// InsertLoadConstantBlockArg inserts the instruction(s) to load the constant value into the given regalloc.VReg.
		InsertLoadConstantBlockArg(instr *ssa.Instruction, vr regalloc.VReg)

		// EndBlock is called when the compilation of the current block is finished.
		EndBlock()

		// EndLoweringFunction is called when the lowering of the function is finished.
		EndLoweringFunction()

		// Format returns the string representation of the currently compiled machine code.
		// This is only for testing purpose.
		Format() string

		// RegAlloc does the register allocation after lowering.
		RegAlloc() error

		// PostRegAlloc does the post register allocation, e.g. setting up prologue/epilogue, redundant move elimination, etc.
		PostRegAlloc()

		// Encode encodes the machine instructions to the Compiler, resolving the branches.
		Encode(ctx context.Context) error

		// FrameSize returns the size of the frame below the frame record, known after PostRegAlloc.
		FrameSize() int64

		// RegisterInfo returns the register information of the machine.
		RegisterInfo() *regalloc.RegisterInfo

		// ArgsResultsRegs returns the registers used for arguments and return values.
		ArgsResultsRegs() *ABIRegs
	}
)
