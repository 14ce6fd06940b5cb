package backend

import (
	"fmt"
	"math"
	"strings"

	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// Label is the target of a branch in the lowered code. The labels of the blocks coming from
// the SSA function are their block IDs; the backend allocates the others above them.
type Label uint32

// LabelInvalid is the zero-value of Label.
const LabelInvalid Label = math.MaxUint32

// String implements fmt.Stringer.
func (l Label) String() string {
	if l == LabelInvalid {
		return "L?"
	}
	return fmt.Sprintf("L%d", l)
}

// VCodeBlock is a block of the lowered code.
type VCodeBlock[I any] struct {
	Label Label
	// SSABlock is nil for the blocks created by the backend.
	SSABlock ssa.BasicBlock
	Instrs   []I
}

// ExecutableContextT holds the lowered instructions of a function block by block, in the final
// layout order. It implements the block access part of regalloc.Function.
//
// Within a block, instructions are lowered bottom-up: each lowered SSA instruction appends its
// machine instructions with AddPending in forward order, FlushPendingInstructions then prepends them
// to what has been lowered so far.
type ExecutableContextT[I any] struct {
	blocks    []*VCodeBlock[I]
	cur       *VCodeBlock[I]
	pending   []I
	nextLabel Label
	// LabelOffsets holds the code offset of every label while encoding, -1 if not encoded yet.
	LabelOffsets []int64
}

// NewExecutableContextT returns a new ExecutableContextT.
func NewExecutableContextT[I any]() *ExecutableContextT[I] {
	return &ExecutableContextT[I]{}
}

// Reset clears the state for the next function.
func (e *ExecutableContextT[I]) Reset() {
	e.blocks = e.blocks[:0]
	e.cur = nil
	e.pending = e.pending[:0]
	e.nextLabel = 0
	e.LabelOffsets = e.LabelOffsets[:0]
}

// StartLoweringFunction prepares for a function whose SSA block IDs are below maxBlockID.
func (e *ExecutableContextT[I]) StartLoweringFunction(maxBlockID ssa.BasicBlockID) {
	e.nextLabel = Label(maxBlockID)
}

// AllocateLabel returns a fresh label which is not the one of any SSA block.
func (e *ExecutableContextT[I]) AllocateLabel() Label {
	l := e.nextLabel
	e.nextLabel++
	return l
}

// Labels returns the number of labels in use.
func (e *ExecutableContextT[I]) Labels() int {
	return int(e.nextLabel)
}

// StartBlock starts the lowering of blk.
func (e *ExecutableContextT[I]) StartBlock(blk ssa.BasicBlock) {
	e.cur = &VCodeBlock[I]{Label: Label(blk.ID()), SSABlock: blk}
	e.blocks = append(e.blocks, e.cur)
}

// AddPending appends instr to the sequence being lowered for the current SSA instruction.
func (e *ExecutableContextT[I]) AddPending(instr I) {
	e.pending = append(e.pending, instr)
}

// FlushPendingInstructions moves the pending instructions in front of the already lowered ones.
func (e *ExecutableContextT[I]) FlushPendingInstructions() {
	for i := len(e.pending) - 1; i >= 0; i-- {
		e.cur.Instrs = append(e.cur.Instrs, e.pending[i])
	}
	e.pending = e.pending[:0]
}

// EndBlock finishes the current block.
func (e *ExecutableContextT[I]) EndBlock() {
	if len(e.pending) != 0 {
		panic("BUG: pending instructions at the end of a block")
	}
	is := e.cur.Instrs
	for i, j := 0, len(is)-1; i < j; i, j = i+1, j-1 {
		is[i], is[j] = is[j], is[i]
	}
	e.cur = nil
}

// VCodeBlocks returns the blocks in layout order.
func (e *ExecutableContextT[I]) VCodeBlocks() []*VCodeBlock[I] {
	return e.blocks
}

// Blocks implements regalloc.Function.
func (e *ExecutableContextT[I]) Blocks() int {
	return len(e.blocks)
}

// Block implements regalloc.Function.
func (e *ExecutableContextT[I]) Block(i int) []I {
	return e.blocks[i].Instrs
}

// SetBlock implements regalloc.Function.
func (e *ExecutableContextT[I]) SetBlock(i int, instrs []I) {
	e.blocks[i].Instrs = instrs
}

// ResetLabelOffsets marks every label as not encoded.
func (e *ExecutableContextT[I]) ResetLabelOffsets() {
	if n := e.Labels(); cap(e.LabelOffsets) < n {
		e.LabelOffsets = make([]int64, n)
	} else {
		e.LabelOffsets = e.LabelOffsets[:n]
	}
	for i := range e.LabelOffsets {
		e.LabelOffsets[i] = -1
	}
}

// Format returns the listing of the lowered code. Instructions whose text ends with a colon
// are labels and are not indented.
func (e *ExecutableContextT[I]) Format(str func(I) string) string {
	var b strings.Builder
	for _, blk := range e.blocks {
		if blk.SSABlock != nil {
			fmt.Fprintf(&b, "%s (SSA Block: %s):\n", blk.Label, blk.SSABlock.Name())
		} else {
			fmt.Fprintf(&b, "%s:\n", blk.Label)
		}
		for _, instr := range blk.Instrs {
			s := str(instr)
			if s == "" {
				continue
			}
			if strings.HasSuffix(s, ":") {
				b.WriteString(s)
			} else {
				b.WriteByte('\t')
				b.WriteString(s)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
