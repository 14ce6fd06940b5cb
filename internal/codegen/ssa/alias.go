package ssa

import (
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// aliasCategory partitions the memory into disjoint regions by the flags of the accesses.
// Accesses without a category flag may touch any region.
type aliasCategory byte

const (
	aliasCategoryHeap aliasCategory = iota
	aliasCategoryTable
	aliasCategoryVMCtx
	aliasCategoryStack
	aliasCategoryOther
	aliasCategoryCount
)

// memoryCategory returns the category of a load or a store, and whether it reads memory
// which no store in the function writes.
func memoryCategory(instr *Instruction) (cat aliasCategory, readonly bool) {
	switch instr.opcode {
	case OpcodeStackLoad, OpcodeStackStore:
		return aliasCategoryStack, false
	}
	flags := instr.MemFlags()
	readonly = flags.Has(MemFlagReadOnly)
	switch {
	case flags.Has(MemFlagHeap):
		cat = aliasCategoryHeap
	case flags.Has(MemFlagTable):
		cat = aliasCategoryTable
	case flags.Has(MemFlagVMCtx):
		cat = aliasCategoryVMCtx
	default:
		cat = aliasCategoryOther
	}
	return
}

// memoryRange returns the address operand, the offset and the size of the access.
func memoryRange(instr *Instruction) (addr Value, slot StackSlot, offset int64, size uint64) {
	switch instr.opcode {
	case OpcodeStackLoad:
		s, off := instr.StackSlotData()
		return ValueInvalid, s, int64(off), uint64(instr.typ.Size())
	case OpcodeStackStore:
		s, off := instr.StackSlotData()
		return ValueInvalid, s, int64(off), uint64(instr.v.Type().Size())
	}
	if instr.opcode.IsLoad() {
		ptr, off, typ, _ := instr.LoadData()
		return ptr, 0, int64(off), instr.opcode.MemAccessBytes(typ)
	}
	value, ptr, off, _, _ := instr.StoreData()
	return ptr, 0, int64(off), instr.opcode.MemAccessBytes(value.Type())
}

// MayAlias returns false if the two memory accesses are known to never touch the same bytes.
func MayAlias(x, y *Instruction) bool {
	xMem := x.opcode.IsLoad() || x.opcode.IsStore()
	yMem := y.opcode.IsLoad() || y.opcode.IsStore()
	if !xMem || !yMem {
		return false
	}
	xc, xro := memoryCategory(x)
	yc, yro := memoryCategory(y)
	if (xro && y.opcode.IsStore()) || (yro && x.opcode.IsStore()) {
		return false
	}
	if xc != yc && xc != aliasCategoryOther && yc != aliasCategoryOther {
		return false
	}
	xa, xs, xo, xn := memoryRange(x)
	ya, ys, yo, yn := memoryRange(y)
	if xc == aliasCategoryStack && yc == aliasCategoryStack {
		return xs == ys && xo < yo+int64(yn) && yo < xo+int64(xn)
	}
	if xa.Valid() && xa == ya {
		return xo < yo+int64(yn) && yo < xo+int64(xn)
	}
	return true
}

// lastStores holds, per category, the identity of the last instruction which may have written it:
// zero for the function entry, the ID of a store or a call, or the negative merge point of a block
// where different stores meet.
type lastStores [aliasCategoryCount]int32

func mergePoint(blk *basicBlock) int32 { return -int32(blk.id) - 1 }

// update applies the effect of the instruction.
func (s *lastStores) update(instr *Instruction) {
	switch {
	case instr.opcode.IsCall():
		for c := range s {
			s[c] = int32(instr.id)
		}
	case instr.opcode.IsStore():
		cat, _ := memoryCategory(instr)
		if cat == aliasCategoryOther {
			for c := range s {
				s[c] = int32(instr.id)
			}
			return
		}
		s[cat] = int32(instr.id)
		s[aliasCategoryOther] = int32(instr.id)
	}
}

// aliasAnalysis is the last-store analysis used for the redundant load elimination and
// the store-to-load forwarding.
type aliasAnalysis struct {
	entry, exit []lastStores
	known       []bool
	memo        map[loadKey][]availValue
}

type loadKey struct {
	last   int32
	cat    aliasCategory
	addr   ValueID
	slot   StackSlot
	offset int64
	typ    Type
	op     Opcode
}

func newAliasAnalysis(b *builder) *aliasAnalysis {
	n := b.basicBlocksPool.Allocated()
	a := &aliasAnalysis{
		entry: make([]lastStores, n),
		exit:  make([]lastStores, n),
		known: make([]bool, n),
		memo:  make(map[loadKey][]availValue),
	}
	entryBlk := b.entryBlk()
	for changed := true; changed; {
		changed = false
		for _, blk := range b.reversePostOrderedBasicBlocks {
			var in lastStores
			if blk != entryBlk {
				first := true
				for i := range blk.preds {
					pred := blk.preds[i].blk
					if pred.invalid || !a.known[pred.id] {
						continue
					}
					out := a.exit[pred.id]
					if first {
						in, first = out, false
						continue
					}
					for c := range in {
						if in[c] != out[c] {
							in[c] = mergePoint(blk)
						}
					}
				}
			}
			out := in
			for cur := blk.rootInstr; cur != nil; cur = cur.next {
				out.update(cur)
			}
			if !a.known[blk.id] || a.entry[blk.id] != in || a.exit[blk.id] != out {
				a.known[blk.id] = true
				a.entry[blk.id], a.exit[blk.id] = in, out
				changed = true
			}
		}
	}
	return a
}

func (a *aliasAnalysis) entryState(blk *basicBlock) lastStores {
	return a.entry[blk.id]
}

func (g *egraph) loadKeyOf(instr *Instruction, last int32, cat aliasCategory, typ Type, op Opcode) loadKey {
	addr, slot, offset, _ := memoryRange(instr)
	k := loadKey{last: last, cat: cat, slot: slot, offset: offset, typ: typ, op: op, addr: valueIDInvalid}
	if addr.Valid() {
		k.addr = g.find(addr).ID()
	}
	return k
}

// redundantLoad returns true if the load reads a value known from a dominating load or store
// with no store to its category in between. The result is merged into the class of that value.
func (g *egraph) redundantLoad(instr *Instruction, blk *basicBlock, state *lastStores) bool {
	if !instr.opcode.IsLoad() {
		return false
	}
	cat, readonly := memoryCategory(instr)
	last := state[cat]
	if readonly {
		last = 0
	}
	key := g.loadKeyOf(instr, last, cat, instr.typ, instr.opcode)
	for _, known := range g.alias.memo[key] {
		if dominates(known.blk, blk) {
			if codegenapi.Tracing(codegenapi.TopicAlias) {
				codegenapi.Trace(codegenapi.TopicAlias, "redundant load", "inst", instr.Format(g.b), "value", known.value.Format(g.b))
			}
			g.union(known.value, instr.rValue)
			return true
		}
	}
	return false
}

// recordMemory updates the state past the skeleton instruction and remembers the values of its loads
// and full-width stores.
func (g *egraph) recordMemory(instr *Instruction, blk *basicBlock, state *lastStores) {
	state.update(instr)
	switch {
	case instr.opcode.IsLoad():
		cat, readonly := memoryCategory(instr)
		last := state[cat]
		if readonly {
			last = 0
		}
		key := g.loadKeyOf(instr, last, cat, instr.typ, instr.opcode)
		g.alias.memo[key] = append(g.alias.memo[key], availValue{value: instr.rValue, blk: blk})
	case instr.opcode == OpcodeStore, instr.opcode == OpcodeStackStore:
		cat, _ := memoryCategory(instr)
		loadOp := OpcodeLoad
		if instr.opcode == OpcodeStackStore {
			loadOp = OpcodeStackLoad
		}
		key := g.loadKeyOf(instr, state[cat], cat, instr.v.Type(), loadOp)
		g.alias.memo[key] = append(g.alias.memo[key], availValue{value: instr.v, blk: blk})
	}
}
