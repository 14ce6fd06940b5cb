package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

func TestFrame_layout(t *testing.T) {
	b := ssa.NewBuilder()
	b.Init(&ssa.Signature{})
	s0 := b.CreateStackSlot(ssa.StackSlotData{Size: 4})
	s1 := b.CreateStackSlot(ssa.StackSlotData{Size: 16, AlignLog2: 4})

	var f Frame
	f.Reset()
	require.True(t, f.IsLeaf())

	f.ReserveOutgoing(20)
	f.ReserveOutgoing(8)
	require.Equal(t, int64(32), f.Outgoing())
	require.Equal(t, int64(8), f.OutgoingArgOffset(8))

	intV := regalloc.VReg(200).SetRegType(regalloc.RegTypeInt)
	vecV := regalloc.VReg(201).SetRegType(regalloc.RegTypeVector)
	otherV := regalloc.VReg(202).SetRegType(regalloc.RegTypeFloat)
	require.False(t, f.HasSpillSlot(intV))
	require.Equal(t, int64(32), f.SpillSlotOffset(intV))
	require.Equal(t, int64(48), f.SpillSlotOffset(vecV))
	require.Equal(t, int64(32), f.SpillSlotOffset(intV))
	require.Equal(t, int64(64), f.SpillSlotOffset(otherV))
	require.True(t, f.HasSpillSlot(intV))

	// Spills occupy [32, 72) rounded up to 80.
	f.SetStackSlots(b)
	require.Equal(t, int64(80), f.StackSlotOffset(s0, 0))
	require.Equal(t, int64(96+4), f.StackSlotOffset(s1, 4))

	f.SetCalleeSaved(regalloc.NewRegSet(3, 5))
	require.Equal(t, []regalloc.RealReg{3, 5}, f.CalleeSaved())
	require.Equal(t, int64(112), f.CalleeSavedOffset(0))
	require.Equal(t, int64(120), f.CalleeSavedOffset(1))
	require.Equal(t, int64(128), f.Size())
	require.False(t, f.IsLeaf())

	f.Reset()
	require.Zero(t, f.Size())
	require.False(t, f.HasSpillSlot(intV))
}

func TestFrame_outgoingBase(t *testing.T) {
	f := Frame{OutgoingBase: 160}
	f.Reset()
	require.Equal(t, int64(168), f.OutgoingArgOffset(8))
	v := regalloc.VReg(300).SetRegType(regalloc.RegTypeInt)
	require.Equal(t, int64(160), f.SpillSlotOffset(v))
	require.Equal(t, int64(176), f.Size())
}

func TestFrame_NeedsFrameRecord(t *testing.T) {
	noStack := &FunctionABI{}
	stackArgs := &FunctionABI{ArgStackSize: 8}

	var leaf Frame
	leaf.Reset()
	require.False(t, leaf.NeedsFrameRecord(false, false, noStack))
	require.True(t, leaf.NeedsFrameRecord(true, false, noStack))
	require.True(t, leaf.NeedsFrameRecord(false, true, noStack))
	require.True(t, leaf.NeedsFrameRecord(false, false, stackArgs))

	var framed Frame
	framed.Reset()
	framed.ReserveOutgoing(8)
	require.True(t, framed.NeedsFrameRecord(false, false, noStack))
}
