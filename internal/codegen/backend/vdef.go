package backend

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// SSAValueDefinition represents a definition of an SSA value.
type SSAValueDefinition struct {
	// BlkParamVReg is valid if Instr == nil.
	BlkParamVReg regalloc.VReg

	// Instr is not nil if the value is produced by an instruction.
	Instr *ssa.Instruction
	// N is the index of the return value in the instr's return values list.
	N int
	// RefCount is the number of references to the result.
	RefCount int
}

// IsFromInstr returns true if the value is produced by an instruction.
func (d *SSAValueDefinition) IsFromInstr() bool {
	return d.Instr != nil
}

// IsFromBlockParam returns true if the value is a block parameter.
func (d *SSAValueDefinition) IsFromBlockParam() bool {
	return d.Instr == nil
}
