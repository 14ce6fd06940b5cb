package ssa

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilder_Verify(t *testing.T) {
	i32Sig := &Signature{Params: []AbiParam{Param(TypeI32)}, Results: []AbiParam{Param(TypeI32)}}
	for _, tc := range []struct {
		name   string
		sig    *Signature
		setup  func(b *builder)
		expErr string
	}{
		{
			name: "valid",
			sig:  i32Sig,
			setup: func(b *builder) {
				entry := b.allocateBasicBlock()
				x := entry.AddParam(b, TypeI32)
				b.SetCurrentBlock(entry)
				b.AllocateInstruction().AsReturn([]Value{x}).Insert(b)
			},
		},
		{
			name: "no instructions",
			sig:  i32Sig,
			setup: func(b *builder) {
				b.allocateBasicBlock().AddParam(b, TypeI32)
			},
			expErr: "function has no instructions",
		},
		{
			name: "entry params",
			sig:  i32Sig,
			setup: func(b *builder) {
				entry := b.allocateBasicBlock()
				b.SetCurrentBlock(entry)
				b.AllocateInstruction().AsReturn(nil).Insert(b)
			},
			expErr: "entry block has 0 params but the signature has 1",
		},
		{
			name: "entry param type",
			sig:  i32Sig,
			setup: func(b *builder) {
				entry := b.allocateBasicBlock()
				x := entry.AddParam(b, TypeI64)
				b.SetCurrentBlock(entry)
				b.AllocateInstruction().AsReturn([]Value{x}).Insert(b)
			},
			expErr: "entry block param 0 has type i64 but the signature says i32",
		},
		{
			name: "missing terminator",
			sig:  i32Sig,
			setup: func(b *builder) {
				entry := b.allocateBasicBlock()
				entry.AddParam(b, TypeI32)
				b.SetCurrentBlock(entry)
				b.AllocateInstruction().AsIconst32(1).Insert(b)
			},
			expErr: "block does not end with a terminator",
		},
		{
			name: "conditional branch without jump",
			sig:  i32Sig,
			setup: func(b *builder) {
				entry, other := b.allocateBasicBlock(), b.allocateBasicBlock()
				x := entry.AddParam(b, TypeI32)
				b.SetCurrentBlock(entry)
				b.AllocateInstruction().AsBrz(x, nil, other).Insert(b)
				b.AllocateInstruction().AsReturn([]Value{x}).Insert(b)
				b.SetCurrentBlock(other)
				b.AllocateInstruction().AsReturn([]Value{x}).Insert(b)
			},
			expErr: "conditional branch must be followed by a jump",
		},
		{
			name: "undefined value",
			sig:  i32Sig,
			setup: func(b *builder) {
				entry := b.allocateBasicBlock()
				entry.AddParam(b, TypeI32)
				b.SetCurrentBlock(entry)
				b.AllocateInstruction().AsReturn([]Value{Value(42).setType(TypeI32)}).Insert(b)
			},
			expErr: "use of undefined value v42",
		},
		{
			name: "operand types",
			sig:  &Signature{Params: []AbiParam{Param(TypeI32), Param(TypeI64)}, Results: []AbiParam{Param(TypeI32)}},
			setup: func(b *builder) {
				entry := b.allocateBasicBlock()
				x, y := entry.AddParam(b, TypeI32), entry.AddParam(b, TypeI64)
				b.SetCurrentBlock(entry)
				sum := b.AllocateInstruction().AsIadd(x, y).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]Value{sum}).Insert(b)
			},
			expErr: "operands must be integers of the same type, got i32 and i64",
		},
		{
			name: "result count",
			sig:  i32Sig,
			setup: func(b *builder) {
				entry := b.allocateBasicBlock()
				x := entry.AddParam(b, TypeI32)
				b.SetCurrentBlock(entry)
				b.AllocateInstruction().AsReturn([]Value{x, x}).Insert(b)
			},
			expErr: "returns 2 values but the signature has 1 results",
		},
		{
			name: "block arguments",
			sig:  i32Sig,
			setup: func(b *builder) {
				entry, next := b.allocateBasicBlock(), b.allocateBasicBlock()
				x := entry.AddParam(b, TypeI32)
				next.AddParam(b, TypeI64)
				b.SetCurrentBlock(entry)
				b.AllocateInstruction().AsJump([]Value{x}, next).Insert(b)
				b.SetCurrentBlock(next)
				b.AllocateInstruction().AsReturn([]Value{x}).Insert(b)
			},
			expErr: "argument 0 to blk1 has type i32 but expects i64",
		},
		{
			name: "widening extend",
			sig:  &Signature{Params: []AbiParam{Param(TypeI64)}, Results: []AbiParam{Param(TypeI32)}},
			setup: func(b *builder) {
				entry := b.allocateBasicBlock()
				x := entry.AddParam(b, TypeI64)
				b.SetCurrentBlock(entry)
				ext := b.AllocateInstruction().AsUExtend(x, TypeI32).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]Value{ext}).Insert(b)
			},
			expErr: "Uextend must widen an integer, got i64 to i32",
		},
		{
			name: "stack slot bounds",
			sig:  i32Sig,
			setup: func(b *builder) {
				slot := b.CreateStackSlot(StackSlotData{Size: 4})
				entry := b.allocateBasicBlock()
				x := entry.AddParam(b, TypeI32)
				b.SetCurrentBlock(entry)
				b.AllocateInstruction().AsStackStore(x, slot, 2).Insert(b)
				b.AllocateInstruction().AsReturn([]Value{x}).Insert(b)
			},
			expErr: "access at offset 2 of 4 bytes is out of ss0",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder().(*builder)
			b.Init(tc.sig)
			b.SetName("f")
			tc.setup(b)
			err := b.Verify()
			if tc.expErr == "" {
				require.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), err)
			require.Equal(t, "f", ve.Func)
			require.Contains(t, ve.Msg, tc.expErr)
		})
	}
}

func TestBuilder_Verify_dominance(t *testing.T) {
	b := NewBuilder().(*builder)
	b.Init(&Signature{Params: []AbiParam{Param(TypeI32)}, Results: []AbiParam{Param(TypeI32)}})
	entry, left, right := b.allocateBasicBlock(), b.allocateBasicBlock(), b.allocateBasicBlock()
	x := entry.AddParam(b, TypeI32)

	b.SetCurrentBlock(entry)
	b.AllocateInstruction().AsBrz(x, nil, left).Insert(b)
	b.AllocateInstruction().AsJump(nil, right).Insert(b)

	b.SetCurrentBlock(left)
	y := b.AllocateInstruction().AsIadd(x, x).Insert(b).Return()
	b.AllocateInstruction().AsReturn([]Value{y}).Insert(b)

	// right is not dominated by left, where y is defined.
	b.SetCurrentBlock(right)
	b.AllocateInstruction().AsReturn([]Value{y}).Insert(b)
	for _, blk := range []*basicBlock{entry, left, right} {
		b.Seal(blk)
	}

	// Without the dominator tree only the local order is checked.
	require.NoError(t, b.Verify())

	passCalculateImmediateDominators(b)
	err := b.Verify()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, BasicBlockID(2), ve.Block)
	require.Equal(t, "v1 is used in blk2 but defined in blk1 which does not dominate it", ve.Msg)
	require.Equal(t, "Return v1", ve.Inst)
	require.Equal(t, "verifier: : blk2: Return v1: v1 is used in blk2 but defined in blk1 which does not dominate it", err.Error())
}
