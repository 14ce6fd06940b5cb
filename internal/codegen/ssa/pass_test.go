package ssa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilder_passes(t *testing.T) {
	for _, tc := range []struct {
		name string
		// pass is the optimization pass to run.
		pass,
		// postPass is run after the pass is executed, and can be used to test a pass that depends on another pass.
		postPass func(b *builder)
		// setup creates the SSA function in the given *builder.
		// `verifier` is executed after executing pass, and can be used to
		// do the additional verification of the state of SSA function in addition to `after` text result.
		setup func(*builder) (verifier func(t *testing.T))
		// before is the expected SSA function after `setup` is executed.
		before,
		// after is the expected output after optimization pass.
		after string
	}{
		{
			name: "dead block",
			pass: passDeadBlockEliminationOpt,
			setup: func(b *builder) func(*testing.T) {
				entry := b.AllocateBasicBlock()
				value := entry.AddParam(b, TypeI32)

				middle1, middle2 := b.AllocateBasicBlock(), b.AllocateBasicBlock()
				end := b.AllocateBasicBlock()

				b.SetCurrentBlock(entry)
				{
					brz := b.AllocateInstruction()
					brz.AsBrz(value, nil, middle1)
					b.InsertInstruction(brz)

					jmp := b.AllocateInstruction()
					jmp.AsJump(nil, middle2)
					b.InsertInstruction(jmp)
				}

				b.SetCurrentBlock(middle1)
				{
					jmp := b.AllocateInstruction()
					jmp.AsJump(nil, end)
					b.InsertInstruction(jmp)
				}

				b.SetCurrentBlock(middle2)
				{
					jmp := b.AllocateInstruction()
					jmp.AsJump(nil, end)
					b.InsertInstruction(jmp)
				}

				{
					unreachable := b.AllocateBasicBlock()
					b.SetCurrentBlock(unreachable)
					jmp := b.AllocateInstruction()
					jmp.AsJump(nil, end)
					b.InsertInstruction(jmp)
				}

				b.SetCurrentBlock(end)
				{
					jmp := b.AllocateInstruction()
					jmp.AsJump(nil, middle1)
					b.InsertInstruction(jmp)
				}

				b.Seal(entry)
				b.Seal(middle1)
				b.Seal(middle2)
				b.Seal(end)
				return nil
			},
			before: `
blk0: (v0:i32)
	Brz v0, blk1
	Jump blk2

blk1: () <-- (blk0,blk3)
	Jump blk3

blk2: () <-- (blk0)
	Jump blk3

blk3: () <-- (blk1,blk2,blk4)
	Jump blk1

blk4: ()
	Jump blk3
`,
			after: `
blk0: (v0:i32)
	Brz v0, blk1
	Jump blk2

blk1: () <-- (blk0,blk3)
	Jump blk3

blk2: () <-- (blk0)
	Jump blk3

blk3: () <-- (blk1,blk2)
	Jump blk1
`,
		},
		{
			name: "redundant phis",
			pass: passRedundantPhiEliminationOpt,
			setup: func(b *builder) func(*testing.T) {
				entry, loopHeader, end := b.AllocateBasicBlock(), b.AllocateBasicBlock(), b.AllocateBasicBlock()

				loopHeader.AddParam(b, TypeI32)
				var1 := b.DeclareVariable(TypeI32)

				b.SetCurrentBlock(entry)
				{
					iConst := b.AllocateInstruction().AsIconst32(0xff).Insert(b).Return()
					b.DefineVariable(var1, iConst, entry)
					b.AllocateInstruction().AsJump([]Value{iConst}, loopHeader).Insert(b)
				}
				b.Seal(entry)

				b.SetCurrentBlock(loopHeader)
				{
					// At this point, loop is not sealed, so PHI will be added to this header. However, the only
					// input to the PHI is iConst above, so there must be an alias to iConst from the PHI value.
					value := b.FindValue(var1)
					tmp := b.AllocateInstruction().AsIconst32(0xff).Insert(b).Return()
					b.AllocateInstruction().AsBrz(value, []Value{tmp}, loopHeader).Insert(b)
					b.AllocateInstruction().AsJump(nil, end).Insert(b)
				}
				b.Seal(loopHeader)

				b.SetCurrentBlock(end)
				b.AllocateInstruction().AsReturn(nil).Insert(b)
				return func(t *testing.T) {
					require.Equal(t, ValueID(1), b.resolveAlias(Value(2)).ID())
				}
			},
			before: `
blk0: ()
	v1:i32 = Iconst_32 0xff
	Jump blk1, v1, v1

blk1: (v0:i32, v2:i32) <-- (blk0,blk1)
	v3:i32 = Iconst_32 0xff
	Brz v2, blk1, v3, v2
	Jump blk2

blk2: () <-- (blk1)
	Return
`,
			after: `
blk0: ()
	v1:i32 = Iconst_32 0xff
	Jump blk1, v1

blk1: (v0:i32) <-- (blk0,blk1)
	v3:i32 = Iconst_32 0xff
	Brz v2, blk1, v3
	Jump blk2

blk2: () <-- (blk1)
	Return
`,
		},
		{
			name: "dead code",
			pass: passDeadCodeEliminationOpt,
			setup: func(b *builder) func(*testing.T) {
				entry, end := b.AllocateBasicBlock(), b.AllocateBasicBlock()

				b.SetCurrentBlock(entry)
				iconstRefThriceInst := b.AllocateInstruction().AsIconst32(3).Insert(b)
				refThriceVal := iconstRefThriceInst.Return()

				// This has side effect.
				store := b.AllocateInstruction().AsStore(OpcodeStore, refThriceVal, refThriceVal, 0, 0).Insert(b)

				iconstDeadInst := b.AllocateInstruction().AsIconst32(0).Insert(b)
				iconstRefOnceInst := b.AllocateInstruction().AsIconst32(1).Insert(b)
				refOnceVal := iconstRefOnceInst.Return()

				jmp := b.AllocateInstruction().AsJump(nil, end).Insert(b)

				b.SetCurrentBlock(end)
				aliasedRefOnceVal := b.allocateValue(refOnceVal.Type())
				b.alias(aliasedRefOnceVal, refOnceVal)

				add := b.AllocateInstruction().AsIadd(aliasedRefOnceVal, refThriceVal).Insert(b)
				addRes := add.Return()

				ret := b.AllocateInstruction().AsReturn([]Value{addRes}).Insert(b)
				return func(t *testing.T) {
					// Group IDs.
					const gid0, gid1, gid2 InstructionGroupID = 0, 1, 2
					require.Equal(t, gid0, iconstRefThriceInst.gid)
					require.Equal(t, gid0, store.gid)
					require.Equal(t, gid1, iconstDeadInst.gid)
					require.Equal(t, gid1, iconstRefOnceInst.gid)
					require.Equal(t, gid1, jmp.gid)
					// Different blocks have different gids.
					require.Equal(t, gid2, add.gid)
					require.Equal(t, gid2, ret.gid)

					// Dead or Alive...
					require.False(t, iconstDeadInst.live)
					require.True(t, iconstRefOnceInst.live)
					require.True(t, iconstRefThriceInst.live)
					require.True(t, add.live)
					require.True(t, jmp.live)
					require.True(t, ret.live)

					require.Equal(t, 1, b.valueRefCounts[refOnceVal.ID()])
					require.Equal(t, 1, b.valueRefCounts[addRes.ID()])
					require.Equal(t, 3, b.valueRefCounts[refThriceVal.ID()])
				}
			},
			before: `
blk0: ()
	v0:i32 = Iconst_32 0x3
	Store v0, v0, 0x0
	v1:i32 = Iconst_32 0x0
	v2:i32 = Iconst_32 0x1
	Jump blk1

blk1: () <-- (blk0)
	v4:i32 = Iadd v3, v0
	Return v4
`,
			after: `
blk0: ()
	v0:i32 = Iconst_32 0x3
	Store v0, v0, 0x0
	v2:i32 = Iconst_32 0x1
	Jump blk1

blk1: () <-- (blk0)
	v4:i32 = Iadd v2, v0
	Return v4
`,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder().(*builder)
			verifier := tc.setup(b)
			require.Equal(t, tc.before, b.Format())
			tc.pass(b)
			if verifier != nil {
				verifier(t)
			}
			if tc.postPass != nil {
				tc.postPass(b)
			}
			require.Equal(t, tc.after, b.Format())
		})
	}
}

func TestBuilder_RunPasses_optimize(t *testing.T) {
	for _, tc := range []struct {
		name          string
		sig           *Signature
		setup         func(b *builder)
		before, after string
	}{
		{
			name: "gvn and identities",
			sig: &Signature{
				Params:  []AbiParam{Param(TypeI32), Param(TypeI32)},
				Results: []AbiParam{Param(TypeI32)},
			},
			setup: func(b *builder) {
				entry := b.allocateBasicBlock()
				x, y := entry.AddParam(b, TypeI32), entry.AddParam(b, TypeI32)
				b.SetCurrentBlock(entry)
				sum := b.AllocateInstruction().AsIadd(x, y).Insert(b).Return()
				sum2 := b.AllocateInstruction().AsIadd(y, x).Insert(b).Return()
				diff := b.AllocateInstruction().AsIsub(sum, sum2).Insert(b).Return()
				b.AllocateInstruction().AsReturn([]Value{diff}).Insert(b)
				b.Seal(entry)
			},
			before: `
blk0: (v0:i32, v1:i32)
	v2:i32 = Iadd v0, v1
	v3:i32 = Iadd v1, v0
	v4:i32 = Isub v2, v3
	Return v4
`,
			after: `
blk0: (v0:i32, v1:i32)
	v5:i32 = Iconst_32 0x0
	Return v5
`,
		},
		{
			name: "nop shifts and adds",
			sig: &Signature{
				Params:  []AbiParam{Param(TypeI32), Param(TypeI64)},
				Results: []AbiParam{Param(TypeI32), Param(TypeI64), Param(TypeI32), Param(TypeI32)},
			},
			setup: func(b *builder) {
				entry := b.allocateBasicBlock()
				i32Param, i64Param := entry.AddParam(b, TypeI32), entry.AddParam(b, TypeI64)
				b.SetCurrentBlock(entry)

				moduloZeroI32 := b.AllocateInstruction().AsIconst32(32 * 245).Insert(b).Return()
				nopIshl := b.AllocateInstruction().AsIshl(i32Param, moduloZeroI32).Insert(b).Return()
				moduloZeroI64 := b.AllocateInstruction().AsIconst64(64 * 245).Insert(b).Return()
				nopUshr := b.AllocateInstruction().AsUshr(i64Param, moduloZeroI64).Insert(b).Return()
				// Non zero shift amount should not be eliminated.
				nonZeroI32 := b.AllocateInstruction().AsIconst32(32*245 + 1).Insert(b).Return()
				nonZeroIshl := b.AllocateInstruction().AsIshl(i32Param, nonZeroI32).Insert(b).Return()
				zero32 := b.AllocateInstruction().AsIconst32(0).Insert(b).Return()
				nopIadd := b.AllocateInstruction().AsIadd(i32Param, zero32).Insert(b).Return()

				b.AllocateInstruction().AsReturn([]Value{nopIshl, nopUshr, nonZeroIshl, nopIadd}).Insert(b)
				b.Seal(entry)
			},
			before: `
blk0: (v0:i32, v1:i64)
	v2:i32 = Iconst_32 0x1ea0
	v3:i32 = Ishl v0, v2
	v4:i64 = Iconst_64 0x3d40
	v5:i64 = Ushr v1, v4
	v6:i32 = Iconst_32 0x1ea1
	v7:i32 = Ishl v0, v6
	v8:i32 = Iconst_32 0x0
	v9:i32 = Iadd v0, v8
	Return v3, v5, v7, v9
`,
			after: `
blk0: (v0:i32, v1:i64)
	v6:i32 = Iconst_32 0x1ea1
	v7:i32 = Ishl v0, v6
	Return v0, v1, v7, v0
`,
		},
		{
			name: "loop invariant hoisting",
			sig: &Signature{
				Params:  []AbiParam{Param(TypeI32), Param(TypeI32)},
				Results: []AbiParam{Param(TypeI32)},
			},
			setup: func(b *builder) {
				entry, loop, exit := b.allocateBasicBlock(), b.allocateBasicBlock(), b.allocateBasicBlock()
				n, k := entry.AddParam(b, TypeI32), entry.AddParam(b, TypeI32)
				counter := loop.AddParam(b, TypeI32)

				b.SetCurrentBlock(entry)
				b.AllocateInstruction().AsJump([]Value{n}, loop).Insert(b)

				b.SetCurrentBlock(loop)
				square := b.AllocateInstruction().AsImul(k, k).Insert(b).Return()
				one := b.AllocateInstruction().AsIconst32(1).Insert(b).Return()
				dec := b.AllocateInstruction().AsIsub(counter, one).Insert(b).Return()
				next := b.AllocateInstruction().AsIadd(dec, square).Insert(b).Return()
				b.AllocateInstruction().AsBrnz(next, []Value{next}, loop).Insert(b)
				b.AllocateInstruction().AsJump(nil, exit).Insert(b)

				b.SetCurrentBlock(exit)
				b.AllocateInstruction().AsReturn([]Value{next}).Insert(b)

				b.Seal(entry)
				b.Seal(loop)
				b.Seal(exit)
			},
			before: `
blk0: (v0:i32, v1:i32)
	Jump blk1, v0

blk1: (v2:i32) <-- (blk0,blk1)
	v3:i32 = Imul v1, v1
	v4:i32 = Iconst_32 0x1
	v5:i32 = Isub v2, v4
	v6:i32 = Iadd v5, v3
	Brnz v6, blk1, v6
	Jump blk2

blk2: () <-- (blk1)
	Return v6
`,
			// The multiplication only depends on the entry parameters, so it is computed once before the loop.
			// The constant stays next to its user in the loop.
			after: `
blk0: (v0:i32, v1:i32)
	v3:i32 = Imul v1, v1
	Jump blk1, v0

blk1: (v2:i32) <-- (blk0,blk1)
	v4:i32 = Iconst_32 0x1
	v5:i32 = Isub v2, v4
	v6:i32 = Iadd v5, v3
	Brnz v6, blk1, v6
	Jump blk2

blk2: () <-- (blk1)
	Return v6
`,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder().(*builder)
			b.Init(tc.sig)
			tc.setup(b)
			require.Equal(t, tc.before, b.Format())
			require.NoError(t, b.RunPasses(PassOptions{Optimize: true}))
			require.Equal(t, tc.after, b.Format())

			// Optimizing the optimized function is a no-op.
			require.NoError(t, b.RunPasses(PassOptions{Optimize: true}))
			require.Equal(t, tc.after, b.Format())
		})
	}
}

func TestBuilder_RunPasses_withoutOptimize(t *testing.T) {
	b := NewBuilder().(*builder)
	b.Init(&Signature{Params: []AbiParam{Param(TypeI32)}, Results: []AbiParam{Param(TypeI32)}})
	entry := b.allocateBasicBlock()
	x := entry.AddParam(b, TypeI32)
	b.SetCurrentBlock(entry)
	zero := b.AllocateInstruction().AsIconst32(0).Insert(b).Return()
	sum := b.AllocateInstruction().AsIadd(x, zero).Insert(b).Return()
	b.AllocateInstruction().AsReturn([]Value{sum}).Insert(b)
	b.Seal(entry)

	require.NoError(t, b.RunPasses(PassOptions{}))
	require.Equal(t, `
blk0: (v0:i32)
	v1:i32 = Iconst_32 0x0
	v2:i32 = Iadd v0, v1
	Return v2
`, b.Format())
	require.Equal(t, 1, b.ValueRefCounts()[x.ID()])
	require.Equal(t, OpcodeIadd, b.InstructionOfValue(sum).Opcode())
	require.Nil(t, b.InstructionOfValue(x))
}
