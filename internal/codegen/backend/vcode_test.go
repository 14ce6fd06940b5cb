package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

func TestExecutableContextT(t *testing.T) {
	b := ssa.NewBuilder()
	blk0 := b.AllocateBasicBlock()
	blk1 := b.AllocateBasicBlock()

	e := NewExecutableContextT[string]()
	e.StartLoweringFunction(2)
	require.Equal(t, Label(2), e.AllocateLabel())

	// Instructions are lowered bottom-up, each one expanding to a forward sequence.
	e.StartBlock(blk0)
	e.AddPending("ret")
	e.FlushPendingInstructions()
	e.AddPending("mov")
	e.AddPending("add")
	e.FlushPendingInstructions()
	e.EndBlock()

	e.StartBlock(blk1)
	e.AddPending("L2:")
	e.AddPending("")
	e.AddPending("jmp")
	e.FlushPendingInstructions()
	e.EndBlock()

	require.Equal(t, 2, e.Blocks())
	require.Equal(t, []string{"mov", "add", "ret"}, e.Block(0))
	require.Equal(t, 3, e.Labels())
	require.Equal(t, `L0 (SSA Block: blk0):
	mov
	add
	ret
L1 (SSA Block: blk1):
L2:
	jmp
`, e.Format(func(s string) string { return s }))

	e.SetBlock(0, []string{"ret"})
	require.Equal(t, []string{"ret"}, e.VCodeBlocks()[0].Instrs)

	e.ResetLabelOffsets()
	require.Equal(t, []int64{-1, -1, -1}, e.LabelOffsets)

	e.Reset()
	require.Zero(t, e.Blocks())
}

func TestLabel_String(t *testing.T) {
	require.Equal(t, "L10", Label(10).String())
	require.Equal(t, "L?", LabelInvalid.String())
}
