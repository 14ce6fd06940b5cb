// Package regalloc defines the contract between the lowered machine code and a register allocator,
// and provides the reference allocator used by the compiler.
package regalloc

import "fmt"

// These interfaces are implemented by ISA-specific backends to abstract away the details, and allow the register
// allocators to work on any ISA.

type (
	// Function is the top-level interface to do register allocation over the blocks of a lowered function.
	Function[I Instr] interface {
		// Blocks returns the number of blocks.
		Blocks() int
		// Block returns the instructions of the i-th block.
		Block(i int) []I
		// SetBlock replaces the instructions of the i-th block once they are allocated.
		SetBlock(i int, instrs []I)
		// Reload returns an instruction loading v from its spill slot into r.
		Reload(v VReg, r RealReg) I
		// Spill returns an instruction storing r into the spill slot of v, allocating the slot if needed.
		Spill(v VReg, r RealReg) I
		// ClobberedRegisters tells the callee-saved registers written by the function.
		ClobberedRegisters(RegSet)
		// Done tells the implementation that register allocation is done, and it can finalize the stack.
		Done()
	}

	// Instr is an instruction in a block, abstracting away the underlying ISA.
	Instr interface {
		fmt.Stringer

		// Operands appends the register operands of this instruction to ops, in a stable order.
		Operands(ops []Operand) []Operand
		// AssignOperand replaces the register of the idx-th operand, as returned by Operands, with r.
		AssignOperand(idx int, r RealReg)
		// Clobbers returns the real registers overwritten by the instruction besides its operands.
		Clobbers() RegSet
		// IsCopy returns true if this instruction is a move instruction between two registers of the same class.
		// If true, the first operand is the destination and the second the source.
		IsCopy() bool
		// IsCall returns true if this instruction is a call instruction.
		IsCall() bool
		// IsTerminator returns true for the branches, returns and traps ending a block. Terminators must not
		// define virtual registers.
		IsTerminator() bool
	}

	// RegisterInfo holds the statically-known ISA-specific register information.
	RegisterInfo struct {
		// AllocatableRegisters lists, per class, the registers the allocator may use to hold a virtual register
		// around one instruction. The order matters: the first element is the most preferred one.
		AllocatableRegisters [NumRegType][]RealReg
		CalleeSavedRegisters RegSet
		CallerSavedRegisters RegSet
		RealRegToVReg        []VReg
		// RealRegName returns the name of the given RealReg for debugging.
		RealRegName func(r RealReg) string
	}
)
