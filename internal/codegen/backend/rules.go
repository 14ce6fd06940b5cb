package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// TypeSet is a set of ssa.Type. The zero type is a member of its own: it stands for the instructions
// without a controlling type, like jumps and calls.
type TypeSet uint32

// Types returns the set of the given types.
func Types(ts ...ssa.Type) (s TypeSet) {
	for _, t := range ts {
		s |= 1 << t
	}
	return
}

// TypeNone is the set of instructions without a controlling type.
const TypeNone TypeSet = 1

var (
	TypesInt32And64 = Types(ssa.TypeI32, ssa.TypeI64)
	TypesIntScalar  = Types(ssa.TypeI8, ssa.TypeI16, ssa.TypeI32, ssa.TypeI64)
	TypesIntOrRef   = TypesIntScalar | Types(ssa.TypeR64)
	TypesFloat      = Types(ssa.TypeF32, ssa.TypeF64)
	TypesVecInt     = Types(ssa.TypeI8x16, ssa.TypeI16x8, ssa.TypeI32x4, ssa.TypeI64x2)
	TypesVecFloat   = Types(ssa.TypeF32x4, ssa.TypeF64x2)
	TypesVector     = TypesVecInt | TypesVecFloat
	TypesI128       = Types(ssa.TypeI128)
	TypesAll        = TypeNone | TypesIntOrRef | TypesI128 | TypesFloat | TypesVector
)

// Has returns true if t is in the set.
func (s TypeSet) Has(t ssa.Type) bool { return s&(1<<t) != 0 }

// SubsetOf returns true if every type of s is in o.
func (s TypeSet) SubsetOf(o TypeSet) bool { return s&^o == 0 }

// Count returns the number of types in the set.
func (s TypeSet) Count() (n int) {
	for ; s != 0; s &= s - 1 {
		n++
	}
	return
}

// String implements fmt.Stringer.
func (s TypeSet) String() string {
	var names []string
	if s.Has(0) {
		names = append(names, "none")
	}
	for _, t := range ssa.Types {
		if s.Has(t) {
			names = append(names, t.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Guard is a named predicate over the instruction matched by a Rule. Guards are compared by identity
// when checking the rule table for overlaps, so a guard must be declared once and shared.
type Guard[M any] struct {
	Name string
	Fn   func(m M, instr *ssa.Instruction) bool
}

// Rule is one lowering rule: it applies to Opcode with a controlling type in Types when the enabled
// extensions include Requires and Guard, if any, accepts the instruction.
type Rule[M any] struct {
	Name     string
	Opcode   ssa.Opcode
	Types    TypeSet
	Requires target.Extensions
	Guard    *Guard[M]
	Priority int
	Lower    func(m M, instr *ssa.Instruction)
}

// narrower returns true if r can only match where o matches too, and is not the same shape as o.
func (r *Rule[M]) narrower(o *Rule[M]) bool {
	if !r.Types.SubsetOf(o.Types) || !r.Requires.Has(o.Requires) {
		return false
	}
	switch {
	case r.Guard == o.Guard:
		return r.Types != o.Types || r.Requires != o.Requires
	case o.Guard == nil:
		return true
	default:
		// r has no guard or another guard than o: nothing says r is the more specific one.
		return false
	}
}

// RuleTable is the per-opcode ordered list of the rules of one architecture.
type RuleTable[M any] struct {
	arch     target.Arch
	byOpcode [ssa.NumOpcodes][]*Rule[M]
}

// NewRuleTable builds the table from rules, and panics if two rules overlap. Tables are built during
// package initialization so that an ambiguous rule set never makes it past the tests.
func NewRuleTable[M any](arch target.Arch, rules []Rule[M]) *RuleTable[M] {
	if err := CheckOverlaps(rules); err != nil {
		panic(fmt.Sprintf("%s rule table: %v", arch, err))
	}
	t := &RuleTable[M]{arch: arch}
	for i := range rules {
		r := &rules[i]
		if r.Lower == nil {
			panic(fmt.Sprintf("%s rule table: rule %s has no lowering", arch, r.Name))
		}
		t.byOpcode[r.Opcode] = append(t.byOpcode[r.Opcode], r)
	}
	for _, rs := range t.byOpcode {
		sort.SliceStable(rs, func(i, j int) bool {
			a, b := rs[i], rs[j]
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			if (a.Guard != nil) != (b.Guard != nil) {
				return a.Guard != nil
			}
			if ac, bc := a.Requires.Count(), b.Requires.Count(); ac != bc {
				return ac > bc
			}
			return a.Types.Count() < b.Types.Count()
		})
	}
	return t
}

// CheckOverlaps returns an error naming the first pair of rules of the same opcode and priority
// which could both match one instruction while neither is strictly narrower than the other.
func CheckOverlaps[M any](rules []Rule[M]) error {
	for i := range rules {
		a := &rules[i]
		for j := i + 1; j < len(rules); j++ {
			b := &rules[j]
			if a.Opcode != b.Opcode || a.Priority != b.Priority || a.Types&b.Types == 0 {
				continue
			}
			if a.narrower(b) || b.narrower(a) {
				continue
			}
			return fmt.Errorf("rules %s and %s overlap", a.Name, b.Name)
		}
	}
	return nil
}

// Rules returns the rules of the opcode in match order.
func (t *RuleTable[M]) Rules(op ssa.Opcode) []*Rule[M] {
	return t.byOpcode[op]
}

// Match returns the first rule applicable to instr, or nil.
func (t *RuleTable[M]) Match(m M, ext target.Extensions, instr *ssa.Instruction) *Rule[M] {
	typ := ControllingType(instr)
	for _, r := range t.byOpcode[instr.Opcode()] {
		if !r.Types.Has(typ) || !ext.Has(r.Requires) {
			continue
		}
		if r.Guard != nil && !r.Guard.Fn(m, instr) {
			continue
		}
		return r
	}
	return nil
}

// Lower lowers instr with the first applicable rule. If there is none, the lowering of the function
// is aborted with an UnsupportedError.
func (t *RuleTable[M]) Lower(m M, ext target.Extensions, instr *ssa.Instruction) {
	r := t.Match(m, ext, instr)
	if r == nil {
		reason := "no rule matches"
		if len(t.byOpcode[instr.Opcode()]) == 0 {
			reason = "no rule for the opcode"
		}
		Unsupported(t.arch, instr, reason)
	}
	r.Lower(m, instr)
}

// ControllingType returns the type rules are selected by: the stored type for stores, the operand type
// of comparisons, the condition type of conditional branches and traps, the result type otherwise.
func ControllingType(instr *ssa.Instruction) ssa.Type {
	switch op := instr.Opcode(); {
	case op.IsStore():
		v, _, _, _ := instr.Args()
		return v.Type()
	case op == ssa.OpcodeIcmp || op == ssa.OpcodeFcmp:
		x, _ := instr.Arg2()
		return x.Type()
	case op == ssa.OpcodeBrz || op == ssa.OpcodeBrnz || op == ssa.OpcodeTrapz || op == ssa.OpcodeTrapnz ||
		op == ssa.OpcodeBrTable:
		return instr.Arg().Type()
	case op.IsCall() || op == ssa.OpcodeReturn || op == ssa.OpcodeJump || op == ssa.OpcodeTrap:
		return 0
	default:
		return instr.Type()
	}
}
