package ssa

import "math"

// cost is the extraction cost of a value in the egraph. The optimizer picks the cheapest
// node of each equivalence class, so the numbers only need to be consistent with each other:
//
//   - block parameters and the results of side-effecting instructions are free (0),
//   - constants and the symbolic addresses (GlobalValue, FuncAddr, StackAddr) cost 1,
//   - ALU operations and selects cost 2,
//   - multiplications and pure loads cost 3,
//   - moves across the register classes (bitcasts between int and float, conversions) cost 3,
//   - float divisions and square roots cost 6.
//
// The cost of a node is its operation cost plus the cost of its arguments, saturating at costInfinity.
type cost uint32

const costInfinity = cost(math.MaxUint32)

// add returns c+o, saturating at costInfinity.
func (c cost) add(o cost) cost {
	s := uint64(c) + uint64(o)
	if s >= uint64(costInfinity) {
		return costInfinity
	}
	return cost(s)
}

// opCost returns the cost of the operation itself, excluding the arguments.
func opCost(instr *Instruction) cost {
	switch instr.opcode {
	case OpcodeIconst, OpcodeF32const, OpcodeF64const, OpcodeVconst,
		OpcodeGlobalValue, OpcodeFuncAddr, OpcodeStackAddr:
		return 1
	case OpcodeImul, OpcodeUmulhi, OpcodeSmulhi,
		OpcodeLoad, OpcodeUload8, OpcodeSload8, OpcodeUload16, OpcodeSload16, OpcodeUload32, OpcodeSload32:
		return 3
	case OpcodeFdiv, OpcodeSqrt:
		return 6
	case OpcodeFcvtFromSint, OpcodeFcvtFromUint, OpcodeFcvtToSint, OpcodeFcvtToUint:
		return 3
	case OpcodeBitcast:
		if from := instr.v.Type(); from.IsInt() != instr.typ.IsInt() {
			return 3
		}
		return 2
	default:
		return 2
	}
}
