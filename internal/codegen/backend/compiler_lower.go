package backend

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// lowerBlocks lowers each block in the ssa.Builder.
func (c *compiler) lowerBlocks() {
	builder := c.ssaBuilder
	for blk := builder.BlockIteratorReversePostOrderBegin(); blk != nil; blk = builder.BlockIteratorReversePostOrderNext() {
		c.lowerBlock(blk)
	}
}

func (c *compiler) lowerBlock(blk ssa.BasicBlock) {
	mach := c.mach
	mach.StartBlock(blk)

	// We traverse the instructions in reverse order because we might want to lower multiple
	// instructions together.
	cur := blk.Tail()

	// First gather the branching instructions at the end of the blocks.
	var br0, br1 *ssa.Instruction
	if cur.IsBranching() {
		br0 = cur
		cur = cur.Prev()
		if cur != nil && cur.IsBranching() {
			br1 = cur
			cur = cur.Prev()
		}
	}

	if br0 != nil {
		c.lowerBranches(br0, br1)
	}

	if br1 != nil && br0 == nil {
		panic("BUG? when a branch is within a block, it must be followed by an unconditional branch")
	}

	// Now start lowering the non-branching instructions.
	for ; cur != nil; cur = cur.Prev() {
		c.setCurrentGroupID(cur.GroupID())
		if cur.Lowered() {
			continue
		}

		switch cur.Opcode() {
		case ssa.OpcodeReturn:
			rets := cur.ReturnVals()
			if len(rets) > 0 {
				c.mach.LowerReturns(rets)
			}
			c.mach.InsertReturn()
		default:
			mach.LowerInstr(cur)
		}
		mach.FlushPendingInstructions()
	}

	// Finally, if this is the entry block, we have to insert copies of arguments from the real location to the VReg.
	if blk.EntryBlock() {
		c.lowerFunctionArguments(blk)
	}

	mach.EndBlock()
}

// lowerBranches is called right after StartBlock and before any LowerInstr call if
// there are branches to the given block. br0 is the very end of the block and b1 is the before the br0 if it exists.
// At least br0 is not nil, but br1 can be nil if there's no branching before br0.
//
// See ssa.Instruction IsBranching, and the comment on ssa.BasicBlock.
func (c *compiler) lowerBranches(br0, br1 *ssa.Instruction) {
	mach := c.mach

	c.setCurrentGroupID(br0.GroupID())
	c.mach.LowerSingleBranch(br0)
	mach.FlushPendingInstructions()
	if br1 != nil {
		c.setCurrentGroupID(br1.GroupID())
		c.mach.LowerConditionalBranch(br1)
		mach.FlushPendingInstructions()
	}

	// The moves of the block arguments are placed before both branches. When there are two branches,
	// the edges with arguments are not critical: their target has this block as sole predecessor, so
	// writing its parameters on the other path is harmless.
	for _, br := range [...]*ssa.Instruction{br1, br0} {
		if br == nil || br.Opcode() == ssa.OpcodeBrTable {
			continue
		}
		_, args, target := br.BranchData()
		if len(args) == 0 {
			continue
		}
		if br1 != nil && target.Preds() > 1 {
			panic("BUG: critical edge split failed")
		}
		c.lowerBlockArguments(args, target)
	}
	mach.FlushPendingInstructions()
}

func (c *compiler) lowerFunctionArguments(entry ssa.BasicBlock) {
	mach := c.mach

	c.tmpVals = c.tmpVals[:0]
	for i := 0; i < entry.Params(); i++ {
		c.tmpVals = append(c.tmpVals, entry.Param(i))
	}
	mach.LowerParams(c.tmpVals)
	mach.FlushPendingInstructions()
}

// lowerBlockArguments lowers how to pass arguments to the given successor block.
func (c *compiler) lowerBlockArguments(args []ssa.Value, succ ssa.BasicBlock) {
	mach := c.mach

	if len(args) != succ.Params() {
		panic("BUG: mismatched number of arguments")
	}

	c.varEdges = c.varEdges[:0]
	c.varEdgeTypes = c.varEdgeTypes[:0]
	c.constEdges = c.constEdges[:0]
	for i := 0; i < len(args); i++ {
		dst := succ.Param(i)
		src := args[i]

		srcDef := c.ssaValueDefinitions[src.ID()]
		if srcDef.IsFromInstr() && srcDef.Instr.Constant() {
			c.constEdges = append(c.constEdges, struct {
				cInst *ssa.Instruction
				dst   regalloc.VReg
			}{cInst: srcDef.Instr, dst: c.VRegOf(dst)})
		} else if src.Type() == ssa.TypeI128 {
			srcLo, srcHi := c.VRegsOf(src)
			dstLo, dstHi := c.VRegsOf(dst)
			c.varEdges = append(c.varEdges, [2]regalloc.VReg{srcLo, dstLo}, [2]regalloc.VReg{srcHi, dstHi})
			c.varEdgeTypes = append(c.varEdgeTypes, ssa.TypeI64, ssa.TypeI64)
		} else {
			// Even when the src=dst, insert the move so that we can keep such registers keep-alive.
			c.varEdges = append(c.varEdges, [2]regalloc.VReg{c.VRegOf(src), c.VRegOf(dst)})
			c.varEdgeTypes = append(c.varEdgeTypes, src.Type())
		}
	}

	// Check if there's an overlap among the dsts and srcs in varEdges.
	c.vRegIDs = c.vRegIDs[:0]
	for _, edge := range c.varEdges {
		src := edge[0].ID()
		if int(src) >= len(c.vRegSet) {
			c.vRegSet = append(c.vRegSet, make([]bool, src+1)...)
		}
		c.vRegSet[src] = true
		c.vRegIDs = append(c.vRegIDs, src)
	}
	separated := true
	for _, edge := range c.varEdges {
		dst := edge[1].ID()
		if int(dst) >= len(c.vRegSet) {
			c.vRegSet = append(c.vRegSet, make([]bool, dst+1)...)
		} else {
			if c.vRegSet[dst] {
				separated = false
				break
			}
		}
	}
	for _, id := range c.vRegIDs {
		c.vRegSet[id] = false // reset for the next use.
	}

	if separated {
		// If there's no overlap, we can simply move the source to destination.
		for i, edge := range c.varEdges {
			src, dst := edge[0], edge[1]
			mach.InsertMove(dst, src, c.varEdgeTypes[i])
		}
	} else {
		// Otherwise, we allocate a temporary registers and move the source to the temporary register,
		//
		// First move all of them to temporary registers.
		for i := range c.varEdges {
			src := c.varEdges[i][0]
			typ := c.varEdgeTypes[i]
			temp := c.AllocateVReg(typ)
			mach.InsertMove(temp, src, typ)
			c.varEdges[i][0] = temp
		}

		// Then move the temporary registers to the destination.
		for i, edge := range c.varEdges {
			temp := edge[0]
			dst := edge[1]
			mach.InsertMove(dst, temp, c.varEdgeTypes[i])
		}
	}

	// Finally, move the constants.
	for _, edge := range c.constEdges {
		cInst, dst := edge.cInst, edge.dst
		mach.InsertLoadConstantBlockArg(cInst, dst)
	}
}
