package ssa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// edgesCase maps a block to its successors. Blocks are allocated for every ID from 0 to the largest one mentioned.
type edgesCase map[BasicBlockID][]BasicBlockID

// constructGraphFromEdges builds a function whose CFG is exactly `edges`. The entry block takes an i32
// which is used as the condition of every branch, so that the blocks have no other instructions.
func constructGraphFromEdges(edges edgesCase) *builder {
	b := NewBuilder().(*builder)
	b.Init(&Signature{Params: []AbiParam{Param(TypeI32)}})

	var maxID BasicBlockID
	for from, tos := range edges {
		if from > maxID {
			maxID = from
		}
		for _, to := range tos {
			if to > maxID {
				maxID = to
			}
		}
	}

	blocks := make([]*basicBlock, maxID+1)
	for i := range blocks {
		blocks[i] = b.allocateBasicBlock()
	}
	cond := blocks[0].AddParam(b, TypeI32)

	for id, blk := range blocks {
		b.SetCurrentBlock(blk)
		succs := edges[BasicBlockID(id)]
		switch len(succs) {
		case 0:
			b.AllocateInstruction().AsReturn(nil).Insert(b)
		case 1:
			b.AllocateInstruction().AsJump(nil, blocks[succs[0]]).Insert(b)
		case 2:
			b.AllocateInstruction().AsBrz(cond, nil, blocks[succs[0]]).Insert(b)
			b.AllocateInstruction().AsJump(nil, blocks[succs[1]]).Insert(b)
		default:
			targets := make([]BasicBlock, 0, len(succs)-1)
			for _, s := range succs[1:] {
				targets = append(targets, blocks[s])
			}
			b.AllocateInstruction().AsBrTable(cond, blocks[succs[0]], targets).Insert(b)
		}
	}
	for _, blk := range blocks {
		b.Seal(blk)
	}
	return b
}

func formatBlocks(blks []BasicBlock) string {
	names := make([]string, len(blks))
	for i, blk := range blks {
		names[i] = blk.Name()
	}
	return strings.Join(names, " ")
}

func TestBuilder_passCalculateImmediateDominators(t *testing.T) {
	for _, tc := range []struct {
		name     string
		edges    edgesCase
		expDoms  map[BasicBlockID]BasicBlockID
		expLoops map[BasicBlockID]struct{}
	}{
		{
			name: "linear",
			// 0 -> 1 -> 2 -> 3 -> 4
			edges: edgesCase{
				0: {1},
				1: {2},
				2: {3},
				3: {4},
			},
			expDoms: map[BasicBlockID]BasicBlockID{
				1: 0,
				2: 1,
				3: 2,
				4: 3,
			},
		},
		{
			name: "diamond",
			//  0
			// / \
			// 1   2
			// \ /
			//  3
			edges: edgesCase{
				0: {1, 2},
				1: {3},
				2: {3},
			},
			expDoms: map[BasicBlockID]BasicBlockID{
				1: 0,
				2: 0,
				3: 0,
			},
		},
		{
			name: "loop",
			// 0 -> 1 -> 2
			//      ^    |
			//      |    v
			//      |--- 3
			edges: edgesCase{
				0: {1},
				1: {2},
				2: {3},
				3: {1},
			},
			expDoms: map[BasicBlockID]BasicBlockID{
				1: 0,
				2: 1,
				3: 2,
			},
			expLoops: map[BasicBlockID]struct{}{1: {}},
		},
		{
			name: "larger diamond",
			//     0
			//   / | \
			//  1  2  3
			//   \ | /
			//     4
			edges: edgesCase{
				0: {1, 2, 3},
				1: {4},
				2: {4},
				3: {4},
			},
			expDoms: map[BasicBlockID]BasicBlockID{
				1: 0,
				2: 0,
				3: 0,
				4: 0,
			},
		},
		{
			name: "branches with merge",
			//   0
			// /  \
			// 1   2
			// \   /
			// 3 > 4
			edges: edgesCase{
				0: {1, 2},
				1: {3},
				2: {4},
				3: {4},
			},
			expDoms: map[BasicBlockID]BasicBlockID{
				1: 0,
				2: 0,
				3: 1,
				4: 0,
			},
		},
		{
			name: "cross branches",
			//   0
			//  / \
			// 1   2
			// |\ /|
			// | X |
			// |/ \|
			// 3   4
			edges: edgesCase{
				0: {1, 2},
				1: {3, 4},
				2: {3, 4},
			},
			expDoms: map[BasicBlockID]BasicBlockID{
				1: 0,
				2: 0,
				3: 0,
				4: 0,
			},
		},
		{
			// A cycle with two entries has no header dominating it, so it is not a natural loop.
			name: "cycle with multiple entries",
			//     0
			//    / \
			//   v   v
			//   1 <> 2
			//   ^    |
			//   |    v
			//   4 <- 3
			edges: edgesCase{
				0: {1, 2},
				1: {2},
				2: {1, 3},
				3: {4},
				4: {1},
			},
			expDoms: map[BasicBlockID]BasicBlockID{
				1: 0,
				2: 0,
				3: 2,
				4: 3,
			},
		},
		{
			name: "loop back edges",
			//     0
			//     v
			//     1 --> 2 --> 3 --> 4
			//     ^           |     |
			//     v           v     v
			//     8 <-------- 6 <-- 5
			edges: edgesCase{
				0: {1},
				1: {2, 8},
				2: {3},
				3: {4, 6},
				4: {5},
				5: {6},
				6: {8},
				8: {1},
			},
			expDoms: map[BasicBlockID]BasicBlockID{
				1: 0,
				2: 1,
				3: 2,
				4: 3,
				5: 4,
				6: 3,
				8: 1,
			},
			expLoops: map[BasicBlockID]struct{}{1: {}},
		},
		{
			name: "multiple exits with a loop",
			//     0
			//     v
			//     1
			//    / \
			//   v   v
			//   2<--3
			//   |
			//   v
			//   4<->5
			//   |
			//   v
			//   6
			edges: edgesCase{
				0: {1},
				1: {2, 3},
				2: {4},
				3: {2},
				4: {5, 6},
				5: {4},
			},
			expDoms: map[BasicBlockID]BasicBlockID{
				1: 0,
				2: 1,
				3: 1,
				4: 2,
				5: 4,
				6: 4,
			},
			expLoops: map[BasicBlockID]struct{}{4: {}},
		},
		{
			name: "two independent loops",
			//      0
			//      |
			//      v
			//      1 --> 2 --> 3
			//      ^           |
			//      v           v
			//      4 <---------5
			//      |
			//      v
			//      6 --> 7 --> 8
			//      ^           |
			//      v           v
			//      9 <---------10
			edges: edgesCase{
				0:  {1},
				1:  {2, 4},
				2:  {3},
				3:  {5},
				4:  {1, 6},
				5:  {4},
				6:  {7, 9},
				7:  {8},
				8:  {10},
				9:  {6},
				10: {9},
			},
			expDoms: map[BasicBlockID]BasicBlockID{
				1:  0,
				2:  1,
				3:  2,
				4:  1,
				5:  3,
				6:  4,
				7:  6,
				8:  7,
				9:  6,
				10: 8,
			},
			expLoops: map[BasicBlockID]struct{}{1: {}, 6: {}},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			b := constructGraphFromEdges(tc.edges)
			passCalculateImmediateDominators(b)

			for blockID, expDomID := range tc.expDoms {
				dom := b.dominators[blockID]
				require.NotNil(t, dom, "block %d has no dominator", blockID)
				require.Equal(t, expDomID, dom.id, "block %d expecting %d, but got %s", blockID, expDomID, dom)
			}

			for blk := b.blockIteratorBegin(); blk != nil; blk = b.blockIteratorNext() {
				_, expLoop := tc.expLoops[blk.id]
				require.Equal(t, expLoop, blk.loopHeader, blk.String())
			}

			// The numbering of the dominator tree must agree with walking up the idom chain.
			for _, n := range b.reversePostOrderedBasicBlocks {
				for _, d := range b.reversePostOrderedBasicBlocks {
					require.Equal(t, b.isDominatedBy(n, d), dominates(d, n), "%s dom %s", d, n)
				}
			}
		})
	}
}

// diamondWithLoop is the CFG below. The entry diamond (1, 3, 2, 4) leads to the outer loop headed
// by 7 whose body starts with another diamond (5, 6, 8) and contains the inner loop headed by 10.
//
//	0 -> 1 -> 3 -> 4 -> 7 -> 5 -> 8 -> 10 <-> 9 -> 11 -> 12
//	     |         ^    |         ^              |
//	     v         |    v         |              |
//	     2 --------+    6 --------+              |
//	                    ^------------------------+
var diamondWithLoop = edgesCase{
	0:  {1},
	1:  {3, 2},
	2:  {4},
	3:  {4},
	4:  {7},
	5:  {8},
	6:  {8},
	7:  {5, 6},
	8:  {10},
	9:  {10, 11},
	10: {9},
	11: {7, 12},
}

func TestBuilder_dominatorTree_diamondWithLoop(t *testing.T) {
	b := constructGraphFromEdges(diamondWithLoop)
	passCalculateImmediateDominators(b)

	rpo := make([]BasicBlock, len(b.reversePostOrderedBasicBlocks))
	for i, blk := range b.reversePostOrderedBasicBlocks {
		rpo[i] = blk
	}
	require.Equal(t, "blk0 blk1 blk3 blk2 blk4 blk7 blk5 blk6 blk8 blk10 blk9 blk11 blk12", formatBlocks(rpo))
	require.Equal(t, "blk0 blk1 blk3 blk2 blk4 blk7 blk5 blk6 blk8 blk10 blk9 blk11 blk12", formatBlocks(b.DominatorTreePreorder()))

	expDoms := map[BasicBlockID]BasicBlockID{
		1: 0, 2: 1, 3: 1, 4: 1, 7: 4, 5: 7, 6: 7, 8: 7, 10: 8, 9: 10, 11: 9, 12: 11,
	}
	for id, exp := range expDoms {
		blk := b.basicBlocksPool.View(int(id))
		require.Equal(t, exp, b.Idom(blk).ID(), blk.Name())
	}
	require.Nil(t, b.Idom(b.entryBlk()))

	require.Equal(t, "blk7 depth=1\nblk10 in blk7 depth=2\n", b.FormatLoopForest())
	for id, depth := range map[BasicBlockID]int{0: 0, 4: 0, 7: 1, 5: 1, 11: 1, 10: 2, 9: 2, 12: 0} {
		require.Equal(t, depth, b.LoopDepth(b.basicBlocksPool.View(int(id))), "blk%d", id)
	}

	blk := func(id BasicBlockID) *basicBlock { return b.basicBlocksPool.View(int(id)) }
	require.True(t, b.Dominates(blk(4), blk(12)))
	require.True(t, b.Dominates(blk(7), blk(7)))
	require.False(t, b.Dominates(blk(3), blk(4)))
	require.False(t, b.Dominates(blk(5), blk(8)))
	require.True(t, b.loopContains(0, blk(9)))
	require.False(t, b.loopContains(1, blk(11)))
}

func TestBuilder_passCalculateImmediateDominators_unreachable(t *testing.T) {
	// 3 is unreachable and jumps into the reachable 2.
	b := constructGraphFromEdges(edgesCase{
		0: {1},
		1: {2},
		3: {2},
	})
	passDeadBlockEliminationOpt(b)
	passCalculateImmediateDominators(b)

	require.True(t, b.basicBlocksPool.View(3).invalid)
	require.Equal(t, "blk0 blk1 blk2", formatBlocks(b.DominatorTreePreorder()))
	require.Equal(t, BasicBlockID(1), b.dominators[2].id)
	require.Equal(t, 1, b.basicBlocksPool.View(2).Preds())
	require.Equal(t, "", b.FormatLoopForest())
}
