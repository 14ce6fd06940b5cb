package ssa

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// extract picks the cheapest node of each class by iterating the costs to a fixpoint.
// Subsumed nodes are only picked when a class has nothing else, and ties keep the earlier node.
func (g *egraph) extract() {
	g.grow()
	n := len(g.parent)
	g.bestCost = make([]cost, n)
	g.bestNode = make([]int32, n)
	bestSubsumed := make([]bool, n)
	for i := range g.bestCost {
		g.bestCost[i] = costInfinity
		g.bestNode[i] = -1
		if g.leaf[i].Valid() {
			g.bestCost[i] = 0
		}
	}

	for changed := true; changed; {
		changed = false
		for idx := range g.nodes {
			nd := &g.nodes[idx]
			root := g.find(nd.instr.rValue).ID()
			if g.leaf[root].Valid() {
				continue
			}
			c := opCost(nd.instr)
			nd.instr.forEachArg(func(v *Value) {
				c = c.add(g.bestCost[g.find(*v).ID()])
			})
			cur := g.bestNode[root]
			better := cur < 0 ||
				(bestSubsumed[root] && !nd.subsumed) ||
				(bestSubsumed[root] == nd.subsumed && c < g.bestCost[root])
			if better && (cur != int32(idx) || c != g.bestCost[root]) {
				g.bestCost[root], g.bestNode[root], bestSubsumed[root] = c, int32(idx), nd.subsumed
				changed = true
			}
		}
	}
}

// isRemat returns true if the class is a constant, which is cheaper to recompute in each block
// than to keep alive across blocks.
func (g *egraph) isRemat(cls Value) bool {
	root := g.find(cls).ID()
	if g.leaf[root].Valid() || g.bestNode[root] < 0 {
		return false
	}
	switch g.nodes[g.bestNode[root]].instr.opcode {
	case OpcodeIconst, OpcodeF32const, OpcodeF64const, OpcodeVconst:
		return true
	}
	return false
}

// loopChain returns the loops containing blk, outermost first.
func (g *egraph) loopChain(blk *basicBlock) []int {
	if chain, ok := g.loopChains[blk]; ok {
		return chain
	}
	var chain []int
	for l := blk.loop; l >= 0; l = g.b.loops[l].parent {
		chain = append(chain, l)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	g.loopChains[blk] = chain
	return chain
}

// loopLevel returns how many loops of the chain contain the block.
func (g *egraph) loopLevel(chain []int, blk *basicBlock) int {
	if blk == nil {
		return 0
	}
	level := 0
	for i, l := range chain {
		if g.b.loopContains(l, blk) {
			level = i + 1
		}
	}
	return level
}

// elaborate puts the chosen nodes back into the blocks. The skeleton is walked in the dominator tree
// preorder, and each argument is computed right before its first user unless a dominating definition
// is available.
func (g *egraph) elaborate() error {
	for _, blk := range g.b.domPreorder {
		for cur := blk.rootInstr; cur != nil; cur = cur.next {
			at := cur
			if cur.opcode.IsBranching() {
				// Nothing may come between the branches at the end of a block.
				at = blk.firstTerminator()
			}
			var err error
			cur.forEachArg(func(v *Value) {
				if err == nil {
					*v, err = g.elaborateValue(*v, blk, at)
				}
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// elaborateValue returns a value of the class of v available right before `at` in blk.
func (g *egraph) elaborateValue(v Value, blk *basicBlock, at *Instruction) (Value, error) {
	cls := g.find(v)
	root := cls.ID()
	if leaf := g.leaf[root]; leaf.Valid() {
		return leaf, nil
	}
	idx := g.bestNode[root]
	if idx < 0 {
		return ValueInvalid, &InternalError{Pass: "egraph", Err: fmt.Errorf("no node to extract for %s", v.Format(g.b))}
	}
	nd := &g.nodes[idx]

	if g.isRemat(cls) {
		key := rematKey{blk: blk.id, cls: root}
		if val, ok := g.remat[key]; ok {
			return val, nil
		}
		val := g.place(nd, blk, at, nil)
		g.remat[key] = val
		return val, nil
	}

	for _, a := range g.avail[root] {
		if dominates(a.blk, blk) {
			return a.value, nil
		}
	}

	if g.elaborating[root] {
		return ValueInvalid, &InternalError{Pass: "egraph", Err: fmt.Errorf("cycle while elaborating %s", nd.instr.Format(g.b))}
	}
	g.elaborating[root] = true
	defer delete(g.elaborating, root)

	var args [3]Value
	argc := 0
	for _, a := range [...]Value{nd.instr.v, nd.instr.v2, nd.instr.v3} {
		if !a.Valid() {
			break
		}
		args[argc] = a
		argc++
	}

	// The node can be placed in the outermost loop where all of its arguments are available.
	chain := g.loopChain(blk)
	level := 0
	for i := 0; i < argc; i++ {
		if g.isRemat(args[i]) {
			continue
		}
		ev, err := g.elaborateValue(args[i], blk, at)
		if err != nil {
			return ValueInvalid, err
		}
		args[i] = ev
		if l := g.loopLevel(chain, g.defBlk[ev.ID()]); l > level {
			level = l
		}
	}

	target, targetAt := blk, at
	for l := level; l < len(chain); l++ {
		header := g.b.loops[chain[l]].header
		if idom := g.b.dominators[header.id]; idom != nil && header != g.b.entryBlk() {
			if term := idom.firstTerminator(); term != nil {
				target, targetAt = idom, term
				break
			}
		}
	}

	for i := 0; i < argc; i++ {
		if !g.isRemat(args[i]) {
			continue
		}
		ev, err := g.elaborateValue(args[i], target, targetAt)
		if err != nil {
			return ValueInvalid, err
		}
		args[i] = ev
	}

	val := g.place(nd, target, targetAt, args[:argc])
	g.avail[root] = append(g.avail[root], availValue{value: val, blk: target})
	if target != blk && codegenapi.Tracing(codegenapi.TopicLICM) {
		codegenapi.Trace(codegenapi.TopicLICM, "hoisted", "value", val.Format(g.b), "from", blk.Name(), "to", target.Name())
	}
	return val, nil
}

// place inserts an instruction computing the node right before `at` in blk. The original instructions
// are reused first, preferring the one which was already in blk.
func (g *egraph) place(nd *enode, blk *basicBlock, at *Instruction, args []Value) Value {
	var instr *Instruction
	for _, cand := range append([]*Instruction{nd.instr}, nd.dups...) {
		if g.placed[cand] {
			continue
		}
		if instr == nil || (g.origBlk[cand] == blk && g.origBlk[instr] != blk) {
			instr = cand
		}
	}
	if instr == nil {
		src := nd.instr
		instr = g.b.AllocateInstruction()
		instr.opcode, instr.typ, instr.u1, instr.u2 = src.opcode, src.typ, src.u1, src.u2
		g.b.allocateResults(instr)
		g.grow()
	}
	g.placed[instr] = true

	instr.v, instr.v2, instr.v3 = ValueInvalid, ValueInvalid, ValueInvalid
	switch len(args) {
	case 3:
		instr.v3 = args[2]
		fallthrough
	case 2:
		instr.v2 = args[1]
		fallthrough
	case 1:
		instr.v = args[0]
	}

	if at != nil {
		blk.insertInstructionBefore(instr, at)
	} else {
		blk.appendInstruction(instr)
	}
	g.defBlk[instr.rValue.ID()] = blk
	return instr.rValue
}
