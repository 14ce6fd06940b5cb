package ssa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMayAlias(t *testing.T) {
	b := NewBuilder().(*builder)
	b.Init(&Signature{Params: []AbiParam{Param(TypeI64), Param(TypeI64), Param(TypeI32)}})
	entry := b.allocateBasicBlock()
	p, q, x := entry.AddParam(b, TypeI64), entry.AddParam(b, TypeI64), entry.AddParam(b, TypeI32)
	ss0 := b.CreateStackSlot(StackSlotData{Size: 16})
	ss1 := b.CreateStackSlot(StackSlotData{Size: 16})

	load := func(ptr Value, off int32, flags MemFlags) *Instruction {
		return b.AllocateInstruction().AsLoad(ptr, off, TypeI32, flags)
	}
	store := func(ptr Value, off int32, flags MemFlags) *Instruction {
		return b.AllocateInstruction().AsStore(OpcodeStore, x, ptr, off, flags)
	}

	for _, tc := range []struct {
		name string
		x, y *Instruction
		exp  bool
	}{
		{name: "disjoint offsets", x: load(p, 0, MemFlagHeap), y: store(p, 4, MemFlagHeap), exp: false},
		{name: "overlapping offsets", x: load(p, 0, MemFlagHeap), y: store(p, 2, MemFlagHeap), exp: true},
		{name: "narrow store", x: load(p, 0, MemFlagHeap), y: b.AllocateInstruction().AsStore(OpcodeIstore8, x, p, 3, MemFlagHeap), exp: true},
		{name: "narrow store past the load", x: load(p, 0, MemFlagHeap), y: b.AllocateInstruction().AsStore(OpcodeIstore8, x, p, 4, MemFlagHeap), exp: false},
		{name: "different bases", x: load(p, 0, MemFlagHeap), y: store(q, 64, MemFlagHeap), exp: true},
		{name: "heap and vmctx", x: load(p, 0, MemFlagHeap), y: store(p, 0, MemFlagVMCtx), exp: false},
		{name: "heap and table", x: load(p, 0, MemFlagTable), y: store(p, 0, MemFlagHeap), exp: false},
		{name: "unknown category", x: load(p, 0, MemFlagHeap), y: store(p, 0, 0), exp: true},
		{name: "readonly", x: load(p, 0, MemFlagReadOnly|MemFlagVMCtx), y: store(p, 0, 0), exp: false},
		{name: "two loads", x: load(p, 0, MemFlagHeap), y: load(p, 0, MemFlagHeap), exp: true},
		{
			name: "stack slots",
			x:    b.AllocateInstruction().AsStackLoad(TypeI32, ss0, 0),
			y:    b.AllocateInstruction().AsStackStore(x, ss1, 0),
			exp:  false,
		},
		{
			name: "same stack slot",
			x:    b.AllocateInstruction().AsStackLoad(TypeI64, ss0, 0),
			y:    b.AllocateInstruction().AsStackStore(x, ss0, 4),
			exp:  true,
		},
		{
			name: "same stack slot disjoint",
			x:    b.AllocateInstruction().AsStackLoad(TypeI32, ss0, 0),
			y:    b.AllocateInstruction().AsStackStore(x, ss0, 4),
			exp:  false,
		},
		{name: "not memory", x: load(p, 0, MemFlagHeap), y: b.AllocateInstruction().AsIadd(x, x), exp: false},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.exp, MayAlias(tc.x, tc.y))
			require.Equal(t, tc.exp, MayAlias(tc.y, tc.x))
		})
	}
}

func TestBuilder_RunPasses_redundantLoads(t *testing.T) {
	sig := &Signature{Params: []AbiParam{Param(TypeI64), Param(TypeI32)}, Results: []AbiParam{Param(TypeI32)}}
	calleeSig := &Signature{ID: 1}

	for _, tc := range []struct {
		name string
		// setup builds the function with p as the address and x as an i32 parameter.
		setup    func(b *builder, p, x Value)
		expLoads int
		contains string
	}{
		{
			name: "same address twice",
			setup: func(b *builder, p, _ Value) {
				l1 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				l2 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				sum := b.AllocateInstruction().AsIadd(l1, l2).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]Value{sum}).Insert(b)
			},
			expLoads: 1,
			contains: "Iadd v2, v2",
		},
		{
			name: "different offsets",
			setup: func(b *builder, p, _ Value) {
				l1 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				l2 := b.AllocateInstruction().AsLoad(p, 4, TypeI32, MemFlagHeap).Insert(b).Return()
				sum := b.AllocateInstruction().AsIadd(l1, l2).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]Value{sum}).Insert(b)
			},
			expLoads: 2,
		},
		{
			name: "store to load forwarding",
			setup: func(b *builder, p, x Value) {
				b.AllocateInstruction().AsStore(OpcodeStore, x, p, 8, MemFlagHeap).Insert(b)
				l := b.AllocateInstruction().AsLoad(p, 8, TypeI32, MemFlagHeap).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]Value{l}).Insert(b)
			},
			expLoads: 0,
			contains: "Return v1",
		},
		{
			name: "store to another category",
			setup: func(b *builder, p, x Value) {
				l1 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				b.AllocateInstruction().AsStore(OpcodeStore, x, p, 0, MemFlagVMCtx).Insert(b)
				l2 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				sum := b.AllocateInstruction().AsIadd(l1, l2).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]Value{sum}).Insert(b)
			},
			expLoads: 1,
		},
		{
			name: "store without category",
			setup: func(b *builder, p, x Value) {
				l1 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				b.AllocateInstruction().AsStore(OpcodeStore, x, p, 0, 0).Insert(b)
				l2 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				sum := b.AllocateInstruction().AsIadd(l1, l2).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]Value{sum}).Insert(b)
			},
			expLoads: 2,
		},
		{
			name: "call in between",
			setup: func(b *builder, p, _ Value) {
				b.DeclareSignature(calleeSig)
				f := b.DeclareFunction(ExtFuncData{Name: "g", Sig: calleeSig.ID})
				l1 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				b.AllocateInstruction().AsCall(f, calleeSig, nil).Insert(b)
				l2 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				sum := b.AllocateInstruction().AsIadd(l1, l2).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]Value{sum}).Insert(b)
			},
			expLoads: 2,
		},
		{
			name: "dominating block",
			setup: func(b *builder, p, _ Value) {
				next := b.allocateBasicBlock()
				l1 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				b.AllocateInstruction().AsJump(nil, next).Insert(b)
				b.SetCurrentBlock(next)
				l2 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				sum := b.AllocateInstruction().AsIadd(l1, l2).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]Value{sum}).Insert(b)
				b.Seal(next)
			},
			expLoads: 1,
		},
		{
			name: "store on one path",
			setup: func(b *builder, p, x Value) {
				left, right, merge := b.allocateBasicBlock(), b.allocateBasicBlock(), b.allocateBasicBlock()
				l1 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				b.AllocateInstruction().AsBrz(x, nil, left).Insert(b)
				b.AllocateInstruction().AsJump(nil, right).Insert(b)

				b.SetCurrentBlock(left)
				b.AllocateInstruction().AsStore(OpcodeStore, x, p, 0, MemFlagHeap).Insert(b)
				b.AllocateInstruction().AsJump(nil, merge).Insert(b)

				b.SetCurrentBlock(right)
				b.AllocateInstruction().AsJump(nil, merge).Insert(b)

				b.SetCurrentBlock(merge)
				l2 := b.AllocateInstruction().AsLoad(p, 0, TypeI32, MemFlagHeap).Insert(b).Return()
				sum := b.AllocateInstruction().AsIadd(l1, l2).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]Value{sum}).Insert(b)
				b.Seal(left)
				b.Seal(right)
				b.Seal(merge)
			},
			expLoads: 2,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder().(*builder)
			b.Init(sig)
			entry := b.allocateBasicBlock()
			p, x := entry.AddParam(b, TypeI64), entry.AddParam(b, TypeI32)
			b.SetCurrentBlock(entry)
			b.Seal(entry)
			tc.setup(b, p, x)

			require.NoError(t, b.RunPasses(PassOptions{Optimize: true}))
			require.NoError(t, b.Verify())
			after := b.Format()
			require.Equal(t, tc.expLoads, strings.Count(after, "= Load"), after)
			if tc.contains != "" {
				require.Contains(t, after, tc.contains)
			}
		})
	}
}
