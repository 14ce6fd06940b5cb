package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

func TestComputeLiveRefs(t *testing.T) {
	calleeSig := &ssa.Signature{ID: 1, Results: []ssa.AbiParam{ssa.Param(ssa.TypeR64)}}

	t.Run("refs across calls", func(t *testing.T) {
		b := ssa.NewBuilder()
		b.Init(&ssa.Signature{
			Params:  []ssa.AbiParam{ssa.Param(ssa.TypeR64), ssa.Param(ssa.TypeR64), ssa.Param(ssa.TypeI64)},
			Results: []ssa.AbiParam{ssa.Param(ssa.TypeR64), ssa.Param(ssa.TypeR64)},
		})
		b.DeclareSignature(calleeSig)
		callee := b.DeclareFunction(ssa.ExtFuncData{Name: "callee", Sig: calleeSig.ID})

		entry := b.AllocateBasicBlock()
		r0, r1 := entry.AddParam(b, ssa.TypeR64), entry.AddParam(b, ssa.TypeR64)
		addr := entry.AddParam(b, ssa.TypeI64)
		b.SetCurrentBlock(entry)
		// r1 is dead after the first call, r0 is live across both.
		first := b.AllocateInstruction().AsCall(callee, calleeSig, nil).Insert(b)
		b.AllocateInstruction().AsStore(ssa.OpcodeStore, r1, addr, 0, 0).Insert(b)
		second := b.AllocateInstruction().AsCall(callee, calleeSig, nil).Insert(b)
		b.AllocateInstruction().AsReturn([]ssa.Value{r0, first.Return()}).Insert(b)
		b.Seal(entry)
		require.NoError(t, b.Verify())
		require.NoError(t, b.RunPasses(ssa.PassOptions{}))

		live := computeLiveRefs(b)
		require.Equal(t, []ssa.Value{r0, r1}, live[first])
		// The result of the first call is live across the second, its own result is not.
		require.Equal(t, []ssa.Value{r0, first.Return()}, live[second])
	})

	t.Run("no refs", func(t *testing.T) {
		b := ssa.NewBuilder()
		b.Init(&ssa.Signature{Params: []ssa.AbiParam{ssa.Param(ssa.TypeI64)}})
		entry := b.AllocateBasicBlock()
		x := entry.AddParam(b, ssa.TypeI64)
		b.SetCurrentBlock(entry)
		b.AllocateInstruction().AsIadd(x, x).Insert(b)
		b.AllocateInstruction().AsReturn(nil).Insert(b)
		b.Seal(entry)
		require.NoError(t, b.RunPasses(ssa.PassOptions{}))
		require.Nil(t, computeLiveRefs(b))
	})
}
