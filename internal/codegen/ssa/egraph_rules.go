package ssa

import (
	"fmt"
	"strconv"
	"strings"
)

// defaultRewriteRules are the algebraic rewrites applied by the egraph optimizer. Each line is
//
//	name: (Op args...) => rhs [when int|intvec|float] [subsume]
//
// where args and rhs are nested patterns, lower-case identifiers are variables and #N are integer
// constants. Icmp and Fcmp take their condition as the first token. `when` restricts the type of the
// matched instruction. A subsuming rule removes the matched node from extraction.
const defaultRewriteRules = `
bor_self: (Bor x x) => x subsume
band_self: (Band x x) => x subsume
bxor_self: (Bxor x x) => #0 when intvec subsume
isub_self: (Isub x x) => #0 when intvec subsume
select_same: (Select c x x) => x subsume
icmp_self_eq: (Icmp eq x x) => #1 subsume
icmp_self_neq: (Icmp neq x x) => #0 subsume
icmp_self_lt_s: (Icmp lt_s x x) => #0 subsume
icmp_self_ge_s: (Icmp ge_s x x) => #1 subsume
icmp_self_gt_s: (Icmp gt_s x x) => #0 subsume
icmp_self_le_s: (Icmp le_s x x) => #1 subsume
icmp_self_lt_u: (Icmp lt_u x x) => #0 subsume
icmp_self_ge_u: (Icmp ge_u x x) => #1 subsume
icmp_self_gt_u: (Icmp gt_u x x) => #0 subsume
icmp_self_le_u: (Icmp le_u x x) => #1 subsume

iadd_zero: (Iadd x #0) => x subsume
isub_zero: (Isub x #0) => x subsume
imul_one: (Imul x #1) => x subsume
imul_zero: (Imul x #0) => #0 when intvec subsume
band_zero: (Band x #0) => #0 when intvec subsume
band_ones: (Band x #-1) => x subsume
bor_zero: (Bor x #0) => x subsume
bor_ones: (Bor x #-1) => #-1 when intvec subsume
bxor_zero: (Bxor x #0) => x subsume
bxor_ones: (Bxor x #-1) => (Bnot x) when intvec

bnot_bnot: (Bnot (Bnot x)) => x subsume
ineg_ineg: (Ineg (Ineg x)) => x subsume
fneg_fneg: (Fneg (Fneg x)) => x subsume
fabs_fabs: (Fabs (Fabs x)) => (Fabs x) subsume
fabs_fneg: (Fabs (Fneg x)) => (Fabs x) subsume

isub_from_zero: (Isub #0 x) => (Ineg x) when intvec
ineg_isub: (Ineg (Isub x y)) => (Isub y x)
iadd_ineg: (Iadd x (Ineg y)) => (Isub x y)
isub_ineg: (Isub x (Ineg y)) => (Iadd x y)
iadd_isub_cancel: (Iadd (Isub x y) y) => x subsume
isub_iadd_cancel: (Isub (Iadd x y) y) => x subsume
bxor_cancel: (Bxor (Bxor x y) y) => x subsume

uextend_uextend: (Uextend (Uextend x)) => (Uextend x) subsume
sextend_sextend: (Sextend (Sextend x)) => (Sextend x) subsume
sextend_uextend: (Sextend (Uextend x)) => (Uextend x) subsume

smin_lt: (Select (Icmp lt_s x y) x y) => (Smin x y) when int
smin_le: (Select (Icmp le_s x y) x y) => (Smin x y) when int
smax_gt: (Select (Icmp gt_s x y) x y) => (Smax x y) when int
smax_ge: (Select (Icmp ge_s x y) x y) => (Smax x y) when int
umin_lt: (Select (Icmp lt_u x y) x y) => (Umin x y) when int
umin_le: (Select (Icmp le_u x y) x y) => (Umin x y) when int
umax_gt: (Select (Icmp gt_u x y) x y) => (Umax x y) when int
umax_ge: (Select (Icmp ge_u x y) x y) => (Umax x y) when int
select_neq_zero: (Select (Icmp neq c #0) x y) => (Select c x y)
select_eq_zero: (Select (Icmp eq c #0) x y) => (Select c y x)

fmin_pseudo_lt: (Select (Fcmp lt y x) y x) => (FminPseudo x y) when float
fmin_pseudo_gt: (Select (Fcmp gt x y) y x) => (FminPseudo x y) when float
fmax_pseudo_lt: (Select (Fcmp lt x y) y x) => (FmaxPseudo x y) when float
fmax_pseudo_gt: (Select (Fcmp gt y x) y x) => (FmaxPseudo x y) when float
`

var defaultRuleSet = mustParseRules(defaultRewriteRules)

// ruleTypeClass restricts the type of the instructions a rule applies to.
type ruleTypeClass byte

const (
	ruleTypeAny ruleTypeClass = iota
	ruleTypeInt
	ruleTypeIntVec
	ruleTypeFloat
)

func (c ruleTypeClass) accepts(t Type) bool {
	switch c {
	case ruleTypeInt:
		return t.IsInt()
	case ruleTypeIntVec:
		return t.IsIntOrIntVector()
	case ruleTypeFloat:
		return t.IsFloatOrFloatVector()
	default:
		return true
	}
}

type rulePatternKind byte

const (
	rulePatternVar rulePatternKind = iota
	rulePatternConst
	rulePatternOp
)

// rulePattern is a node of the left or right hand side of a rewriteRule.
type rulePattern struct {
	kind rulePatternKind
	name string
	c    int64
	op   Opcode
	// cond is the IntegerCmpCond or FloatCmpCond of Icmp and Fcmp.
	cond uint64
	args []*rulePattern
}

// String returns the rule-language representation of the pattern.
func (p *rulePattern) String() string {
	switch p.kind {
	case rulePatternVar:
		return p.name
	case rulePatternConst:
		return "#" + strconv.FormatInt(p.c, 10)
	}
	var sb strings.Builder
	sb.WriteByte('(')
	sb.WriteString(p.op.String())
	switch p.op {
	case OpcodeIcmp:
		sb.WriteString(" " + IntegerCmpCond(p.cond).String())
	case OpcodeFcmp:
		sb.WriteString(" " + FloatCmpCond(p.cond).String())
	}
	for _, a := range p.args {
		sb.WriteByte(' ')
		sb.WriteString(a.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

func (p *rulePattern) size() int {
	n := 1
	for _, a := range p.args {
		n += a.size()
	}
	return n
}

func (p *rulePattern) contains(o *rulePattern) bool {
	if p.String() == o.String() {
		return true
	}
	for _, a := range p.args {
		if a.contains(o) {
			return true
		}
	}
	return false
}

func (p *rulePattern) collectVars(vars map[string]bool) {
	if p.kind == rulePatternVar {
		vars[p.name] = true
	}
	for _, a := range p.args {
		a.collectVars(vars)
	}
}

// rewriteRule is a parsed line of the rule language.
type rewriteRule struct {
	name     string
	lhs, rhs *rulePattern
	when     ruleTypeClass
	subsume  bool
}

// ruleSet indexes the rules by the opcode of their left hand side.
type ruleSet struct {
	rules []*rewriteRule
	byOp  [NumOpcodes][]*rewriteRule
}

func mustParseRules(src string) *ruleSet {
	rs, err := parseRules(src)
	if err != nil {
		panic("BUG: " + err.Error())
	}
	return rs
}

// parseRules parses and validates the rules in src.
func parseRules(src string) (*ruleSet, error) {
	rs := &ruleSet{}
	subsumers := map[string]string{}
	for lineNo, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		r, err := parseRule(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
		}
		if r.subsume {
			key := r.lhs.String()
			if prev, ok := subsumers[key]; ok {
				return nil, fmt.Errorf("rule %s: %s already subsumes %s", r.name, prev, key)
			}
			subsumers[key] = r.name
		}
		rs.rules = append(rs.rules, r)
		rs.byOp[r.lhs.op] = append(rs.byOp[r.lhs.op], r)
	}
	return rs, nil
}

func parseRule(line string) (*rewriteRule, error) {
	colon := strings.Index(line, ":")
	if colon <= 0 {
		return nil, fmt.Errorf("missing rule name in %q", line)
	}
	r := &rewriteRule{name: strings.TrimSpace(line[:colon])}
	sides := strings.Split(line[colon+1:], "=>")
	if len(sides) != 2 {
		return nil, fmt.Errorf("rule %s: expected exactly one =>", r.name)
	}

	lhsTokens := tokenizeRule(sides[0])
	lhs, rest, err := parsePattern(lhsTokens)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.name, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("rule %s: trailing tokens %v", r.name, rest)
	}
	rhs, rest, err := parsePattern(tokenizeRule(sides[1]))
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.name, err)
	}
	for len(rest) > 0 {
		switch rest[0] {
		case "subsume":
			r.subsume = true
			rest = rest[1:]
		case "when":
			if len(rest) < 2 {
				return nil, fmt.Errorf("rule %s: missing type class after when", r.name)
			}
			switch rest[1] {
			case "int":
				r.when = ruleTypeInt
			case "intvec":
				r.when = ruleTypeIntVec
			case "float":
				r.when = ruleTypeFloat
			default:
				return nil, fmt.Errorf("rule %s: unknown type class %q", r.name, rest[1])
			}
			rest = rest[2:]
		default:
			return nil, fmt.Errorf("rule %s: unexpected %q", r.name, rest[0])
		}
	}
	r.lhs, r.rhs = lhs, rhs
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.name, err)
	}
	return r, nil
}

func (r *rewriteRule) validate() error {
	if r.lhs.kind != rulePatternOp {
		return fmt.Errorf("left hand side must be an instruction, got %s", r.lhs)
	}
	bound := map[string]bool{}
	r.lhs.collectVars(bound)
	used := map[string]bool{}
	r.rhs.collectVars(used)
	for name := range used {
		if !bound[name] {
			return fmt.Errorf("variable %s is not bound by %s", name, r.lhs)
		}
	}
	if r.subsume {
		if r.rhs.size() >= r.lhs.size() {
			return fmt.Errorf("subsuming rule must shrink the expression: %s => %s", r.lhs, r.rhs)
		}
		if r.rhs.contains(r.lhs) {
			return fmt.Errorf("subsuming rule must not reproduce %s", r.lhs)
		}
	}
	return nil
}

func tokenizeRule(s string) []string {
	s = strings.ReplaceAll(s, "(", " ( ")
	s = strings.ReplaceAll(s, ")", " ) ")
	return strings.Fields(s)
}

func parsePattern(tokens []string) (*rulePattern, []string, error) {
	if len(tokens) == 0 {
		return nil, nil, fmt.Errorf("unexpected end of pattern")
	}
	tok := tokens[0]
	switch {
	case tok == ")":
		return nil, nil, fmt.Errorf("unexpected )")
	case tok == "(":
		if len(tokens) < 2 {
			return nil, nil, fmt.Errorf("unexpected end of pattern")
		}
		op, err := ParseOpcode(tokens[1])
		if err != nil {
			return nil, nil, err
		}
		arity, ok := ruleOpcodeArity(op)
		if !ok {
			return nil, nil, fmt.Errorf("%s cannot be used in rewrite rules", op)
		}
		p := &rulePattern{kind: rulePatternOp, op: op}
		rest := tokens[2:]
		if op == OpcodeIcmp || op == OpcodeFcmp {
			if len(rest) == 0 {
				return nil, nil, fmt.Errorf("missing condition of %s", op)
			}
			if p.cond, ok = parseCmpCond(op, rest[0]); !ok {
				return nil, nil, fmt.Errorf("unknown condition %q of %s", rest[0], op)
			}
			rest = rest[1:]
		}
		for len(rest) > 0 && rest[0] != ")" {
			var arg *rulePattern
			arg, rest, err = parsePattern(rest)
			if err != nil {
				return nil, nil, err
			}
			p.args = append(p.args, arg)
		}
		if len(rest) == 0 {
			return nil, nil, fmt.Errorf("missing ) after %s", op)
		}
		if len(p.args) != arity {
			return nil, nil, fmt.Errorf("%s takes %d arguments but got %d", op, arity, len(p.args))
		}
		return p, rest[1:], nil
	case strings.HasPrefix(tok, "#"):
		c, err := strconv.ParseInt(tok[1:], 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid constant %q", tok)
		}
		return &rulePattern{kind: rulePatternConst, c: c}, tokens[1:], nil
	default:
		if tok == "when" || tok == "subsume" {
			return nil, nil, fmt.Errorf("unexpected %q", tok)
		}
		return &rulePattern{kind: rulePatternVar, name: tok}, tokens[1:], nil
	}
}

func parseCmpCond(op Opcode, s string) (uint64, bool) {
	if op == OpcodeIcmp {
		for c := IntegerCmpCondEqual; c <= IntegerCmpCondUnsignedLessThanOrEqual; c++ {
			if c.String() == s {
				return uint64(c), true
			}
		}
		return 0, false
	}
	for c := FloatCmpCondEqual; c <= FloatCmpCondUnordered; c++ {
		if c.String() == s {
			return uint64(c), true
		}
	}
	return 0, false
}

// ruleOpcodeArity returns the number of operands of the opcodes which rules can match and build.
func ruleOpcodeArity(op Opcode) (int, bool) {
	switch op {
	case OpcodeSelect:
		return 3, true
	case OpcodeIadd, OpcodeIsub, OpcodeImul, OpcodeUmulhi, OpcodeSmulhi, OpcodeBand, OpcodeBor, OpcodeBxor,
		OpcodeIshl, OpcodeUshr, OpcodeSshr, OpcodeRotl, OpcodeRotr, OpcodeSmin, OpcodeSmax, OpcodeUmin, OpcodeUmax,
		OpcodeIcmp, OpcodeFcmp, OpcodeFadd, OpcodeFsub, OpcodeFmul, OpcodeFdiv, OpcodeFcopysign, OpcodeFmin,
		OpcodeFmax, OpcodeFminPseudo, OpcodeFmaxPseudo:
		return 2, true
	case OpcodeIneg, OpcodeIabs, OpcodeBnot, OpcodeClz, OpcodeCtz, OpcodePopcnt, OpcodeFneg, OpcodeFabs, OpcodeSqrt,
		OpcodeCeil, OpcodeFloor, OpcodeTrunc, OpcodeNearest, OpcodeUextend, OpcodeSextend, OpcodeIreduce:
		return 1, true
	}
	return 0, false
}

// ruleBindings holds the variables bound while matching a left hand side.
type ruleBindings struct {
	names  []string
	values []Value
}

func (r *ruleBindings) lookup(name string) (Value, bool) {
	for i, n := range r.names {
		if n == name {
			return r.values[i], true
		}
	}
	return ValueInvalid, false
}

func (r *ruleBindings) bind(name string, v Value) {
	r.names = append(r.names, name)
	r.values = append(r.values, v)
}

func (r *ruleBindings) truncate(n int) {
	r.names, r.values = r.names[:n], r.values[:n]
}

func (r *ruleBindings) reset() { r.truncate(0) }

// matchNode matches the pattern whose root is an instruction against the node itself, and calls k
// on each way the arguments match until k returns true. The bindings are kept when it returns true.
func (g *egraph) matchNode(p *rulePattern, n *Instruction, bs *ruleBindings, k func() bool) bool {
	if n.opcode != p.op {
		return false
	}
	if (p.op == OpcodeIcmp || p.op == OpcodeFcmp) && n.u1 != p.cond {
		return false
	}
	var args [3]Value
	args[0], args[1], args[2] = n.v, n.v2, n.v3
	mark := len(bs.names)
	if g.matchArgs(p.args, args[:len(p.args)], bs, k) {
		return true
	}
	bs.truncate(mark)
	if len(p.args) == 2 && p.op.IsCommutative() {
		args[0], args[1] = args[1], args[0]
		if g.matchArgs(p.args, args[:2], bs, k) {
			return true
		}
		bs.truncate(mark)
	}
	return false
}

func (g *egraph) matchArgs(ps []*rulePattern, args []Value, bs *ruleBindings, k func() bool) bool {
	if len(ps) == 0 {
		return k()
	}
	return g.matchClass(ps[0], args[0], bs, func() bool {
		return g.matchArgs(ps[1:], args[1:], bs, k)
	})
}

// matchClass matches the pattern against the nodes of the class of v.
func (g *egraph) matchClass(p *rulePattern, v Value, bs *ruleBindings, k func() bool) bool {
	v = g.find(v)
	switch p.kind {
	case rulePatternVar:
		if bound, ok := bs.lookup(p.name); ok {
			return g.find(bound).ID() == v.ID() && k()
		}
		mark := len(bs.names)
		bs.bind(p.name, v)
		if k() {
			return true
		}
		bs.truncate(mark)
		return false
	case rulePatternConst:
		c, ok := g.constantOf(v)
		return ok && constantMatches(c, p.c) && k()
	default:
		for _, idx := range g.classNodes[v.ID()] {
			if g.matchNode(p, g.nodes[idx].instr, bs, k) {
				return true
			}
		}
		return false
	}
}

// constantMatches returns true if every lane of the integer constant d equals c.
func constantMatches(d DataValue, c int64) bool {
	switch {
	case d.Type.IsVector():
		if !d.Type.LaneType().IsInt() {
			return false
		}
		laneBits := d.Type.LaneType().Bits()
		for i := 0; i < d.Type.LaneCount(); i++ {
			if d.lane(i) != truncate(uint64(c), laneBits) {
				return false
			}
		}
		return true
	case d.Type == TypeI128:
		hi := uint64(0)
		if c < 0 {
			hi = ^uint64(0)
		}
		return d.Lo == uint64(c) && d.Hi == hi
	case d.Type.IsInt():
		return d.Lo == truncate(uint64(c), d.Type.Bits())
	default:
		return false
	}
}

// buildRHS inserts the right hand side into the egraph and returns its class.
// ValueInvalid means the right hand side cannot be built for the matched type.
func (g *egraph) buildRHS(p *rulePattern, root *Instruction, bs *ruleBindings, depth int, isRoot bool) (Value, error) {
	switch p.kind {
	case rulePatternVar:
		v, _ := bs.lookup(p.name)
		return g.find(v), nil
	case rulePatternConst:
		typ := root.rValue.Type()
		return g.insertConstant(typ, p.c, depth)
	}

	var args [3]Value
	for i, a := range p.args {
		v, err := g.buildRHS(a, root, bs, depth, false)
		if err != nil || !v.Valid() {
			return v, err
		}
		args[i] = v
	}

	instr := g.b.AllocateInstruction()
	instr.opcode = p.op
	instr.u1 = p.cond
	switch len(p.args) {
	case 3:
		instr.v, instr.v2, instr.v3 = args[0], args[1], args[2]
	case 2:
		instr.v, instr.v2 = args[0], args[1]
	case 1:
		instr.v = args[0]
	}
	switch {
	case isRoot:
		instr.typ = root.typ
	case p.op == OpcodeIcmp || p.op == OpcodeFcmp:
		instr.typ = TypeI8
	case p.op == OpcodeSelect:
		instr.typ = args[1].Type()
	case p.op == OpcodeUextend || p.op == OpcodeSextend || p.op == OpcodeIreduce:
		// Conversions change the type, which only the root position determines.
		return ValueInvalid, nil
	default:
		instr.typ = args[0].Type()
	}
	g.b.allocateResults(instr)
	return g.insert(instr, depth, false)
}
