package ssa

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// passEGraphOpt runs the egraph optimizer with the default rewrite rules.
//
// Pure instructions are taken out of the blocks and put into an egraph where equal values share
// an equivalence class: hash-consing gives global value numbering, and the rewrite rules, constant folding
// and the alias analysis add more equalities. Then the cheapest node of each class is elaborated back
// into the blocks right before its first use, or hoisted out of the loops it doesn't depend on.
// The instructions with side effects (the skeleton) are never moved.
func passEGraphOpt(b *builder, limit int) error {
	return passEGraphOptWithRules(b, limit, defaultRuleSet)
}

func passEGraphOptWithRules(b *builder, limit int, rules *ruleSet) error {
	g := newEGraph(b, limit, rules)
	if err := g.build(); err != nil {
		return err
	}
	if err := g.rebuild(); err != nil {
		return err
	}
	g.extract()
	if err := g.elaborate(); err != nil {
		return err
	}
	// The removed instructions must not be found anymore. passDeadCodeEliminationOpt fills this again.
	for i := range b.valueIDToInstruction {
		b.valueIDToInstruction[i] = nil
	}
	return nil
}

// enode is a node of the egraph. The arguments of instr refer to classes through the union-find.
type enode struct {
	instr *Instruction
	// dups are the other original instructions which turned out to compute the same node.
	dups []*Instruction
	// subsumed is set when a subsuming rule replaced this node, which excludes it from extraction
	// unless nothing else is left in its class.
	subsumed bool
}

type nodeKey struct {
	op         Opcode
	typ        Type
	u1, u2     uint64
	a0, a1, a2 ValueID
}

type availValue struct {
	value Value
	blk   *basicBlock
}

type rematKey struct {
	blk BasicBlockID
	cls ValueID
}

type egraph struct {
	b     *builder
	limit int
	rules *ruleSet

	// parent is the union-find forest over the value IDs, where ValueInvalid marks a root.
	// The root of a class identifies it.
	parent []Value
	// classNodes holds the indexes into nodes of each class root, in creation order.
	classNodes [][]int32
	// leaf is the block parameter or the skeleton result in each class root, if any.
	leaf []Value
	// defBlk is the block defining each leaf and each elaborated value.
	defBlk []*basicBlock

	nodes []enode
	// memo maps the key of each node, with its arguments canonicalized, to the node.
	memo map[nodeKey]int32
	// uses holds the nodes taking each class root as an argument. A union re-keys the users of the
	// merged class so that memo never misses a node equal to an existing one.
	uses [][]int32
	// pending are the nodes whose keys must be recomputed, and repairing is set while doing so.
	pending   []int32
	repairing bool
	// origBlk is the block each original pure instruction was taken out of.
	origBlk map[*Instruction]*basicBlock

	alias *aliasAnalysis

	bestCost    []cost
	bestNode    []int32
	avail       map[ValueID][]availValue
	remat       map[rematKey]Value
	placed      map[*Instruction]bool
	elaborating map[ValueID]bool
	loopChains  map[*basicBlock][]int
	bindings    ruleBindings
}

func newEGraph(b *builder, limit int, rules *ruleSet) *egraph {
	g := &egraph{
		b:           b,
		limit:       limit,
		rules:       rules,
		memo:        make(map[nodeKey]int32),
		origBlk:     make(map[*Instruction]*basicBlock),
		avail:       make(map[ValueID][]availValue),
		remat:       make(map[rematKey]Value),
		placed:      make(map[*Instruction]bool),
		elaborating: make(map[ValueID]bool),
		loopChains:  make(map[*basicBlock][]int),
	}
	g.grow()
	return g
}

// grow extends the per-value slices to cover every allocated value.
func (g *egraph) grow() {
	for n := int(g.b.nextValueID); len(g.parent) < n; {
		g.parent = append(g.parent, ValueInvalid)
		g.classNodes = append(g.classNodes, nil)
		g.uses = append(g.uses, nil)
		g.leaf = append(g.leaf, ValueInvalid)
		g.defBlk = append(g.defBlk, nil)
	}
}

// find returns the root of the class of v, compressing the path on the way.
func (g *egraph) find(v Value) Value {
	root := v
	for p := g.parent[root.ID()]; p.Valid(); p = g.parent[root.ID()] {
		root = p
	}
	for v.ID() != root.ID() {
		next := g.parent[v.ID()]
		g.parent[v.ID()] = root
		v = next
	}
	return root
}

// union merges the class of other into the class of keep, whose root stays the root.
func (g *egraph) union(keep, other Value) {
	a, c := g.find(keep), g.find(other)
	if a.ID() == c.ID() {
		return
	}
	g.parent[c.ID()] = a
	g.classNodes[a.ID()] = append(g.classNodes[a.ID()], g.classNodes[c.ID()]...)
	g.classNodes[c.ID()] = nil
	if !g.leaf[a.ID()].Valid() {
		g.leaf[a.ID()] = g.leaf[c.ID()]
	}
	g.pending = append(g.pending, g.uses[c.ID()]...)
	g.uses[a.ID()] = append(g.uses[a.ID()], g.uses[c.ID()]...)
	g.uses[c.ID()] = nil
	if codegenapi.EGraphLoggingEnabled {
		fmt.Printf("egraph: union %s <- %s\n", a.Format(g.b), c.Format(g.b))
	}
	if !g.repairing {
		g.repair()
	}
}

// repair re-keys the pending nodes after unions. A node whose new key is already taken by a node of
// another class is congruent to it, so both classes are merged, which may queue more nodes.
func (g *egraph) repair() {
	g.repairing = true
	for len(g.pending) > 0 {
		idx := g.pending[len(g.pending)-1]
		g.pending = g.pending[:len(g.pending)-1]
		instr := g.nodes[idx].instr
		key := g.keyOf(instr)
		prev, ok := g.memo[key]
		if !ok {
			g.memo[key] = idx
			continue
		}
		if prev == idx {
			continue
		}
		if a, c := g.find(g.nodes[prev].instr.rValue), g.find(instr.rValue); a.ID() != c.ID() {
			g.union(a, c)
		}
	}
	g.repairing = false
}

func (g *egraph) markLeaf(v Value, blk *basicBlock) {
	g.grow()
	g.leaf[v.ID()] = v
	g.defBlk[v.ID()] = blk
}

// isEGraphNode returns true if the instruction can live in the egraph rather than in the skeleton.
func isEGraphNode(instr *Instruction) bool {
	return instr.IsPure() && instr.rValue.Valid() && len(instr.rValues) == 0 && instr.opcode != OpcodeIsplit
}

func (g *egraph) keyOf(instr *Instruction) nodeKey {
	k := nodeKey{op: instr.opcode, typ: instr.typ, u1: instr.u1, u2: instr.u2, a0: valueIDInvalid, a1: valueIDInvalid, a2: valueIDInvalid}
	if instr.v.Valid() {
		k.a0 = g.find(instr.v).ID()
	}
	if instr.v2.Valid() {
		k.a1 = g.find(instr.v2).ID()
	}
	if instr.v3.Valid() {
		k.a2 = g.find(instr.v3).ID()
	}
	if instr.opcode.IsCommutative() && k.a0 > k.a1 {
		k.a0, k.a1 = k.a1, k.a0
	}
	return k
}

// build moves the pure instructions into the egraph, visiting the blocks in the dominator tree preorder
// so that the arguments are always inserted before their users.
func (g *egraph) build() error {
	b := g.b
	g.alias = newAliasAnalysis(b)
	for _, blk := range b.domPreorder {
		for i := range blk.params {
			g.markLeaf(blk.params[i].value, blk)
		}
		state := g.alias.entryState(blk)
		for cur := blk.rootInstr; cur != nil; {
			next := cur.next
			b.resolveArgumentAlias(cur)
			g.grow()
			if isEGraphNode(cur) {
				blk.removeInstruction(cur)
				g.origBlk[cur] = blk
				if _, err := g.insert(cur, 0, true); err != nil {
					return err
				}
			} else if g.redundantLoad(cur, blk, &state) {
				blk.removeInstruction(cur)
			} else {
				r, rs := cur.Returns()
				if r.Valid() {
					g.markLeaf(r, blk)
				}
				for _, v := range rs {
					g.markLeaf(v, blk)
				}
				g.recordMemory(cur, blk, &state)
			}
			cur = next
		}
	}
	return nil
}

// insert hash-conses the instruction and applies the rewrites to the new node.
// depth is the number of rewrites which led to this node.
func (g *egraph) insert(instr *Instruction, depth int, original bool) (Value, error) {
	g.grow()
	key := g.keyOf(instr)
	if idx, ok := g.memo[key]; ok {
		existing := g.find(g.nodes[idx].instr.rValue)
		g.union(existing, instr.rValue)
		if original {
			g.nodes[idx].dups = append(g.nodes[idx].dups, instr)
		}
		return g.find(existing), nil
	}
	if depth > g.limit {
		return ValueInvalid, &InternalError{Pass: "egraph", Err: fmt.Errorf("%w: %s", ErrEGraphIterationLimit, instr.Format(g.b))}
	}

	idx := int32(len(g.nodes))
	g.nodes = append(g.nodes, enode{instr: instr})
	g.memo[key] = idx
	r := instr.rValue
	g.classNodes[r.ID()] = append(g.classNodes[r.ID()], idx)
	for _, a := range [...]ValueID{key.a0, key.a1, key.a2} {
		if a != valueIDInvalid {
			g.uses[a] = append(g.uses[a], idx)
		}
	}
	if codegenapi.EGraphLoggingEnabled {
		fmt.Printf("egraph: node %d: %s\n", idx, instr.Format(g.b))
	}

	if err := g.rewrite(idx, depth); err != nil {
		return ValueInvalid, err
	}
	return g.find(r), nil
}

func (g *egraph) rewrite(idx int32, depth int) error {
	instr := g.nodes[idx].instr
	cls := instr.rValue

	if v, err := g.fold(instr, depth+1); err != nil {
		return err
	} else if v.Valid() {
		g.union(cls, v)
		return nil
	}

	if v, err := g.builtinRewrite(instr, depth+1); err != nil {
		return err
	} else if v.Valid() {
		g.union(cls, v)
	}

	for _, r := range g.rules.byOp[instr.opcode] {
		if !r.when.accepts(instr.typ) {
			continue
		}
		g.bindings.reset()
		if !g.matchNode(r.lhs, instr, &g.bindings, func() bool { return true }) {
			continue
		}
		// Building the right hand side may match other rules, so the bindings must be copied.
		bs := ruleBindings{
			names:  append([]string(nil), g.bindings.names...),
			values: append([]Value(nil), g.bindings.values...),
		}
		v, err := g.buildRHS(r.rhs, instr, &bs, depth+1, true)
		if err != nil {
			return err
		}
		if !v.Valid() {
			continue
		}
		if r.subsume {
			g.nodes[idx].subsumed = true
		}
		if g.find(v).ID() == g.find(cls).ID() {
			continue
		}
		if codegenapi.Tracing(codegenapi.TopicEGraph) {
			codegenapi.Trace(codegenapi.TopicEGraph, "rewrite", "rule", r.name, "from", cls.Format(g.b), "to", v.Format(g.b))
		}
		g.union(cls, v)
	}
	return nil
}

// constantOf returns the constant in the class of v, if any.
func (g *egraph) constantOf(v Value) (DataValue, bool) {
	for _, idx := range g.classNodes[g.find(v).ID()] {
		instr := g.nodes[idx].instr
		switch instr.opcode {
		case OpcodeIconst, OpcodeF32const, OpcodeF64const, OpcodeVconst:
			return DataValue{Type: instr.typ, Lo: instr.u1, Hi: instr.u2}, true
		}
	}
	return DataValue{}, false
}

// fold evaluates the instruction if all of its arguments are constants.
func (g *egraph) fold(instr *Instruction, depth int) (Value, error) {
	switch instr.opcode {
	case OpcodeIconst, OpcodeF32const, OpcodeF64const, OpcodeVconst,
		OpcodeGlobalValue, OpcodeFuncAddr, OpcodeStackAddr:
		return ValueInvalid, nil
	}
	if instr.opcode.IsLoad() {
		return ValueInvalid, nil
	}

	var args [3]DataValue
	n := 0
	var ok bool
	for _, v := range [...]Value{instr.v, instr.v2, instr.v3} {
		if !v.Valid() {
			break
		}
		if args[n], ok = g.constantOf(v); !ok {
			return ValueInvalid, nil
		}
		n++
	}
	result, err := evalOp(instr.opcode, instr.typ, instr.u1, instr.u2, args[:n])
	if err != nil {
		return ValueInvalid, nil
	}
	return g.insertDataValue(result, depth)
}

// insertDataValue inserts the constant instruction producing d.
func (g *egraph) insertDataValue(d DataValue, depth int) (Value, error) {
	instr := g.b.AllocateInstruction()
	switch {
	case d.Type == TypeF32:
		if math.IsNaN(float64(d.F32())) {
			return ValueInvalid, nil
		}
		instr.AsF32const(d.F32())
	case d.Type == TypeF64:
		if math.IsNaN(d.F64()) {
			return ValueInvalid, nil
		}
		instr.AsF64const(d.F64())
	case d.Type.IsVector():
		instr.AsVconst(d.Type, d.Lo, d.Hi)
	case d.Type.IsInt() && d.Type != TypeI128:
		instr.AsIconst(d.Type, d.Lo)
	default:
		return ValueInvalid, nil
	}
	g.b.allocateResults(instr)
	return g.insert(instr, depth, false)
}

// insertConstant inserts the integer constant c of the type. Vector constants are splats.
func (g *egraph) insertConstant(typ Type, c int64, depth int) (Value, error) {
	switch {
	case typ.IsVector():
		if !typ.LaneType().IsInt() {
			return ValueInvalid, nil
		}
		d := DataValue{Type: typ}
		for i := 0; i < typ.LaneCount(); i++ {
			d = d.withLane(i, uint64(c))
		}
		return g.insertDataValue(d, depth)
	case typ.IsInt():
		return g.insertDataValue(DataValue{Type: typ, Lo: truncate(uint64(c), typ.Bits())}, depth)
	}
	return ValueInvalid, nil
}

// builtinRewrite applies the rewrites which need arithmetic on the constants.
func (g *egraph) builtinRewrite(instr *Instruction, depth int) (Value, error) {
	switch instr.opcode {
	case OpcodeImul:
		if !instr.typ.IsInt() || instr.typ == TypeI128 {
			return ValueInvalid, nil
		}
		for _, pair := range [2][2]Value{{instr.v, instr.v2}, {instr.v2, instr.v}} {
			c, ok := g.constantOf(pair[1])
			if !ok || c.Lo == 0 || c.Lo&(c.Lo-1) != 0 {
				continue
			}
			shift := g.b.AllocateInstruction().AsIconst(instr.typ, uint64(bits.TrailingZeros64(c.Lo)))
			g.b.allocateResults(shift)
			amount, err := g.insert(shift, depth, false)
			if err != nil {
				return ValueInvalid, err
			}
			ishl := g.b.AllocateInstruction().AsIshl(g.find(pair[0]), amount)
			g.b.allocateResults(ishl)
			return g.insert(ishl, depth, false)
		}
	case OpcodeIshl, OpcodeUshr, OpcodeSshr, OpcodeRotl, OpcodeRotr:
		c, ok := g.constantOf(instr.v2)
		if !ok || !c.Type.IsInt() {
			return ValueInvalid, nil
		}
		if laneBits := instr.typ.LaneType().Bits(); c.Lo%uint64(laneBits) == 0 {
			return g.find(instr.v), nil
		}
	case OpcodeIreduce:
		for _, idx := range g.classNodes[g.find(instr.v).ID()] {
			inner := g.nodes[idx].instr
			if inner.opcode != OpcodeUextend && inner.opcode != OpcodeSextend {
				continue
			}
			x := inner.v
			switch {
			case x.Type() == instr.typ:
				return g.find(x), nil
			case x.Type().Bits() < instr.typ.Bits():
				ext := g.b.AllocateInstruction().AsConversion(inner.opcode, g.find(x), instr.typ)
				g.b.allocateResults(ext)
				return g.insert(ext, depth, false)
			}
		}
	}
	return ValueInvalid, nil
}

// rebuild restores the congruence closure: nodes whose arguments became equal by later unions are merged
// until no merge happens. This terminates since every round reduces the number of classes.
func (g *egraph) rebuild() error {
	for round := 0; ; round++ {
		if round > g.limit {
			return &InternalError{Pass: "egraph", Err: fmt.Errorf("%w: congruence rebuild did not converge", ErrEGraphIterationLimit)}
		}
		merged := false
		memo := make(map[nodeKey]int32, len(g.nodes))
		for idx := range g.nodes {
			instr := g.nodes[idx].instr
			key := g.keyOf(instr)
			if prev, ok := memo[key]; ok {
				a, c := g.find(g.nodes[prev].instr.rValue), g.find(instr.rValue)
				if a.ID() != c.ID() {
					g.union(a, c)
					merged = true
				}
				continue
			}
			memo[key] = int32(idx)
		}
		g.memo = memo
		if !merged {
			return nil
		}
	}
}
