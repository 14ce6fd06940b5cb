package ssa

import (
	"strconv"
	"strings"
)

// passCalculateImmediateDominators calculates immediate dominators for each basic block.
// The result is stored in b.dominators. This make it possible for the following passes to
// use builder.isDominatedBy to check if a block is dominated by another block.
//
// At the last of pass, this function also builds the dominator tree and the loop nesting forest.
func passCalculateImmediateDominators(b *builder) {
	reversePostOrder := b.reversePostOrderedBasicBlocks[:0]
	exploreStack := b.blkStack[:0]
	b.clearBlkVisited()

	entryBlk := b.entryBlk()

	// Store the reverse postorder from the entrypoint into reversePostOrder slice.
	// This calculation of reverse postorder is not described in the paper,
	// so we use heuristic to calculate it so that we could potentially handle arbitrary
	// complex CFGs under the assumption that success is sorted in program's natural order.
	// That means blk.success[i] always appears before blk.success[i+1] in the source program,
	// which is a reasonable assumption as long as SSA Builder is properly used.
	//
	// First we push blocks in postorder iteratively visit successors of the entry block.
	exploreStack = append(exploreStack, entryBlk)
	const visitStateUnseen, visitStateSeen, visitStateDone = 0, 1, 2
	b.blkVisited[entryBlk] = visitStateSeen
	for len(exploreStack) > 0 {
		tail := len(exploreStack) - 1
		blk := exploreStack[tail]
		exploreStack = exploreStack[:tail]
		switch b.blkVisited[blk] {
		case visitStateUnseen:
			// This is likely a bug in the frontend.
			panic("BUG: unsupported CFG")
		case visitStateSeen:
			// This is the first time to pop this block, and we have to see the successors first.
			// So push this block again to the stack.
			exploreStack = append(exploreStack, blk)
			// And push the successors to the stack if necessary.
			for _, succ := range blk.success {
				if succ.invalid {
					continue
				}
				if b.blkVisited[succ] == visitStateUnseen {
					b.blkVisited[succ] = visitStateSeen
					exploreStack = append(exploreStack, succ)
				}
			}
			// Finally, we could pop this block once we pop all of its successors.
			b.blkVisited[blk] = visitStateDone
		case visitStateDone:
			// Note: at this point we push blk in postorder despite its name.
			reversePostOrder = append(reversePostOrder, blk)
		}
	}
	// At this point, reversePostOrder has postorder actually, so we reverse it.
	for i := len(reversePostOrder)/2 - 1; i >= 0; i-- {
		j := len(reversePostOrder) - 1 - i
		reversePostOrder[i], reversePostOrder[j] = reversePostOrder[j], reversePostOrder[i]
	}

	for i, blk := range reversePostOrder {
		blk.reversePostOrder = i
	}

	// Reuse the dominators slice if possible from the previous computation of function.
	b.dominators = b.dominators[:cap(b.dominators)]
	if len(b.dominators) < b.basicBlocksPool.Allocated() {
		// Generously reserve space in the slice because the slice will be reused future allocation.
		b.dominators = append(b.dominators, make([]*basicBlock, b.basicBlocksPool.Allocated())...)
	}
	for i := range b.dominators {
		b.dominators[i] = nil
	}
	calculateDominators(reversePostOrder, b.dominators)

	// Reuse the slices for the future use.
	b.blkStack = exploreStack

	// For the following passes.
	b.reversePostOrderedBasicBlocks = reversePostOrder

	subPassDominatorTree(b)
	// Ready to detect loops!
	subPassLoopDetection(b)
}

// calculateDominators calculates the immediate dominator of each node in the CFG, and store the result in `doms`.
// The algorithm is based on the one described in the paper "A Simple, Fast Dominance Algorithm"
// https://www.cs.rice.edu/~keith/EMBED/dom.pdf which is a faster/simple alternative to the well known Lengauer-Tarjan algorithm.
//
// The following code almost matches the pseudocode in the paper with one exception (see the code comment below).
//
// The result slice `doms` must be pre-allocated with the size larger than the size of dfsBlocks.
func calculateDominators(reversePostOrderedBlks []*basicBlock, doms []*basicBlock) {
	entry, reversePostOrderedBlks := reversePostOrderedBlks[0], reversePostOrderedBlks[1: /* skips entry point */]
	for _, blk := range reversePostOrderedBlks {
		doms[blk.id] = nil
	}
	doms[entry.id] = entry

	changed := true
	for changed {
		changed = false
		for _, blk := range reversePostOrderedBlks {
			var u *basicBlock
			for i := range blk.preds {
				pred := blk.preds[i].blk
				// Skip if this pred is not reachable yet. Note that this is not described in the paper,
				// but it is necessary to handle nested loops etc.
				if doms[pred.id] == nil {
					continue
				}

				if u == nil {
					u = pred
					continue
				} else {
					u = intersect(doms, u, pred)
				}
			}
			if doms[blk.id] != u {
				doms[blk.id] = u
				changed = true
			}
		}
	}
}

// intersect returns the common dominator of blk1 and blk2.
//
// This is the `intersect` function in the paper.
func intersect(doms []*basicBlock, blk1 *basicBlock, blk2 *basicBlock) *basicBlock {
	finger1, finger2 := blk1, blk2
	for finger1 != finger2 {
		// Move the 'finger1' upwards to its immediate dominator.
		for finger1.reversePostOrder > finger2.reversePostOrder {
			finger1 = doms[finger1.id]
		}
		// Move the 'finger2' upwards to its immediate dominator.
		for finger2.reversePostOrder > finger1.reversePostOrder {
			finger2 = doms[finger2.id]
		}
	}
	return finger1
}

// commonDominator returns the nearest block which dominates both blk1 and blk2.
func (b *builder) commonDominator(blk1, blk2 *basicBlock) *basicBlock {
	return intersect(b.dominators, blk1, blk2)
}

// subPassDominatorTree builds the children lists of the dominator tree, and numbers
// the blocks in the pre/post order of a depth-first traversal of it.
// Children are ordered in reverse post-order, so the traversal is deterministic.
func subPassDominatorTree(b *builder) {
	for _, blk := range b.reversePostOrderedBasicBlocks {
		blk.domChildren = blk.domChildren[:0]
	}
	for _, blk := range b.reversePostOrderedBasicBlocks[1:] {
		idom := b.dominators[blk.id]
		idom.domChildren = append(idom.domChildren, blk)
	}

	preorder := b.domPreorder[:0]
	type frame struct {
		blk  *basicBlock
		next int
	}
	var pre, post int
	entry := b.entryBlk()
	entry.domPreorder = pre
	pre++
	preorder = append(preorder, entry)
	stack := []frame{{blk: entry}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next == len(top.blk.domChildren) {
			top.blk.domPostorder = post
			post++
			stack = stack[:len(stack)-1]
			continue
		}
		child := top.blk.domChildren[top.next]
		top.next++
		child.domPreorder = pre
		pre++
		preorder = append(preorder, child)
		stack = append(stack, frame{blk: child})
	}
	b.domPreorder = preorder
}

// dominates returns true if d dominates n, using the numbering of the dominator tree.
func dominates(d, n *basicBlock) bool {
	return d.domPreorder <= n.domPreorder && n.domPostorder <= d.domPostorder
}

// loop is a natural loop in the loop nesting forest.
type loop struct {
	header *basicBlock
	// parent is the index of the enclosing loop in builder.loops, or -1.
	parent int
	// depth is 1 for outermost loops.
	depth int
}

// subPassLoopDetection detects loops in the function using the immediate dominators,
// and builds the loop nesting forest.
//
// This is run at the last of passCalculateImmediateDominators.
func subPassLoopDetection(b *builder) {
	b.loops = b.loops[:0]
	for _, blk := range b.reversePostOrderedBasicBlocks {
		blk.loopHeader = false
		blk.loop = -1
	}

	// Headers are visited in reverse post-order, so an enclosing loop is always created before the inner ones.
	for _, blk := range b.reversePostOrderedBasicBlocks {
		for i := range blk.preds {
			pred := blk.preds[i].blk
			if pred.invalid {
				continue
			}
			if b.isDominatedBy(pred, blk) {
				blk.loopHeader = true
			}
		}
		if !blk.loopHeader {
			continue
		}

		index := len(b.loops)
		parent := blk.loop
		depth := 1
		if parent >= 0 {
			depth = b.loops[parent].depth + 1
		}
		b.loops = append(b.loops, loop{header: blk, parent: parent, depth: depth})

		// The body is the header plus every block reaching a back-edge source without passing through the header.
		b.clearBlkVisited()
		b.blkVisited[blk] = 0
		work := b.blkStack[:0]
		for i := range blk.preds {
			pred := blk.preds[i].blk
			if !pred.invalid && b.isDominatedBy(pred, blk) {
				if _, ok := b.blkVisited[pred]; !ok {
					b.blkVisited[pred] = 0
					work = append(work, pred)
				}
			}
		}
		for len(work) > 0 {
			cur := work[len(work)-1]
			work = work[:len(work)-1]
			for i := range cur.preds {
				pred := cur.preds[i].blk
				if pred.invalid {
					continue
				}
				if _, ok := b.blkVisited[pred]; !ok {
					b.blkVisited[pred] = 0
					work = append(work, pred)
				}
			}
		}
		b.blkStack = work

		for member := range b.blkVisited {
			// Only claim blocks whose innermost loop so far encloses this loop, which keeps sibling loops apart.
			if member.loop == parent {
				member.loop = index
			}
		}
	}
}

// loopContains returns true if the loop at index l contains the block.
func (b *builder) loopContains(l int, blk *basicBlock) bool {
	for cur := blk.loop; cur >= 0; cur = b.loops[cur].parent {
		if cur == l {
			return true
		}
	}
	return false
}

// FormatLoopForest returns the debug representation of the loop nesting forest,
// one loop per line with its header, parent header and depth.
func (b *builder) FormatLoopForest() string {
	var sb strings.Builder
	for _, l := range b.loops {
		sb.WriteString(l.header.Name())
		if l.parent >= 0 {
			sb.WriteString(" in ")
			sb.WriteString(b.loops[l.parent].header.Name())
		}
		sb.WriteString(" depth=")
		sb.WriteString(strconv.Itoa(l.depth))
		sb.WriteByte('\n')
	}
	return sb.String()
}
