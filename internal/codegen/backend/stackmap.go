package backend

import (
	"sort"

	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// refSet is a set of reference values. Functions hold few references, so a small map is enough.
type refSet map[ssa.ValueID]ssa.Value

func (s refSet) equal(o refSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if _, ok := o[id]; !ok {
			return false
		}
	}
	return true
}

func (s refSet) clone() refSet {
	ret := make(refSet, len(s))
	for id, v := range s {
		ret[id] = v
	}
	return ret
}

// computeLiveRefs returns, for each call of the function, the reference typed values which are live
// after the call returns, excluding the results of the call itself. The values are sorted by ID.
//
// This is a backward liveness dataflow over the SSA blocks: block parameters are defined at the top of
// their block and branch arguments are used by the branch.
func computeLiveRefs(b ssa.Builder) map[*ssa.Instruction][]ssa.Value {
	var blocks []ssa.BasicBlock
	anyRef := false
	for blk := b.BlockIteratorReversePostOrderBegin(); blk != nil; blk = b.BlockIteratorReversePostOrderNext() {
		blocks = append(blocks, blk)
		for i := 0; i < blk.Params(); i++ {
			anyRef = anyRef || blk.Param(i).Type().IsRef()
		}
		for cur := blk.Root(); cur != nil && !anyRef; cur = cur.Next() {
			r, rs := cur.Returns()
			anyRef = r.Valid() && r.Type().IsRef()
			for _, v := range rs {
				anyRef = anyRef || v.Type().IsRef()
			}
		}
	}
	if !anyRef {
		return nil
	}

	liveIn := make(map[ssa.BasicBlockID]refSet, len(blocks))
	liveOut := func(blk ssa.BasicBlock) refSet {
		out := refSet{}
		for i := 0; i < blk.Succs(); i++ {
			for id, v := range liveIn[blk.Succ(i).ID()] {
				out[id] = v
			}
		}
		return out
	}

	for changed := true; changed; {
		changed = false
		for i := len(blocks) - 1; i >= 0; i-- {
			blk := blocks[i]
			live := liveOut(blk)
			for cur := blk.Tail(); cur != nil; cur = cur.Prev() {
				transferRefs(live, cur)
			}
			for j := 0; j < blk.Params(); j++ {
				delete(live, blk.Param(j).ID())
			}
			if prev, ok := liveIn[blk.ID()]; !ok || !prev.equal(live) {
				liveIn[blk.ID()] = live
				changed = true
			}
		}
	}

	ret := make(map[*ssa.Instruction][]ssa.Value)
	for _, blk := range blocks {
		live := liveOut(blk)
		for cur := blk.Tail(); cur != nil; cur = cur.Prev() {
			if cur.Opcode() == ssa.OpcodeCall || cur.Opcode() == ssa.OpcodeCallIndirect {
				after := live.clone()
				r, rs := cur.Returns()
				if r.Valid() {
					delete(after, r.ID())
				}
				for _, v := range rs {
					delete(after, v.ID())
				}
				if len(after) > 0 {
					vs := make([]ssa.Value, 0, len(after))
					for _, v := range after {
						vs = append(vs, v)
					}
					sort.Slice(vs, func(i, j int) bool { return vs[i].ID() < vs[j].ID() })
					ret[cur] = vs
				}
			}
			transferRefs(live, cur)
		}
	}
	return ret
}

// transferRefs updates the set of live references from after instr to before it.
func transferRefs(live refSet, instr *ssa.Instruction) {
	r, rs := instr.Returns()
	if r.Valid() {
		delete(live, r.ID())
	}
	for _, v := range rs {
		delete(live, v.ID())
	}
	v1, v2, v3, vs := instr.Args()
	for _, v := range [...]ssa.Value{v1, v2, v3} {
		if v.Valid() && v.Type().IsRef() {
			live[v.ID()] = v
		}
	}
	for _, v := range vs {
		if v.Type().IsRef() {
			live[v.ID()] = v
		}
	}
}
