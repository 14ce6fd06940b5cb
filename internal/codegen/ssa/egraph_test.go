package ssa

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRules(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		rs, err := parseRules(defaultRewriteRules)
		require.NoError(t, err)
		require.NotEmpty(t, rs.rules)
		require.Len(t, rs.byOp[OpcodeIcmp], 10)
		for _, r := range rs.rules {
			require.NotEmpty(t, r.name)
			require.Equal(t, rulePatternOp, r.lhs.kind, r.name)
		}
	})

	t.Run("comments and when", func(t *testing.T) {
		rs, err := parseRules(`
// keep
a: (Iadd x #0) => x subsume
b: (Select (Icmp lt_s x y) x y) => (Smin x y) when int
`)
		require.NoError(t, err)
		require.Len(t, rs.rules, 2)
		require.True(t, rs.rules[0].subsume)
		require.Equal(t, ruleTypeInt, rs.rules[1].when)
		require.Equal(t, "(Select (Icmp lt_s x y) x y)", rs.rules[1].lhs.String())
	})

	for _, tc := range []struct {
		name, src, expErr string
	}{
		{name: "missing name", src: "(Iadd x y) => x", expErr: "missing rule name"},
		{name: "two arrows", src: "r: (Iadd x y) => x => y", expErr: "expected exactly one =>"},
		{name: "variable root", src: "r: x => x", expErr: "left hand side must be an instruction"},
		{name: "unbound", src: "r: (Iadd x y) => z", expErr: "variable z is not bound"},
		{name: "arity", src: "r: (Iadd x) => x", expErr: "Iadd takes 2 arguments but got 1"},
		{name: "unknown class", src: "r: (Iadd x y) => x when bool", expErr: `unknown type class "bool"`},
		{name: "unknown condition", src: "r: (Icmp foo x y) => x", expErr: `unknown condition "foo"`},
		{name: "unbalanced", src: "r: (Iadd x (Ineg y) => x", expErr: "missing )"},
		{name: "bad constant", src: "r: (Iadd x #z) => x", expErr: `invalid constant "#z"`},
		{name: "subsume grows", src: "r: (Iadd x y) => (Iadd y x) subsume", expErr: "must shrink"},
		{
			name:   "two subsumers",
			src:    "a: (Bor x x) => x subsume\nb: (Bor x x) => x subsume",
			expErr: "a already subsumes",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseRules(tc.src)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expErr)
		})
	}
}

// preparePasses runs the passes which the egraph optimizer depends on.
func preparePasses(b *builder) {
	passSortSuccessors(b)
	passDeadBlockEliminationOpt(b)
	passRedundantPhiEliminationOpt(b)
	passCalculateImmediateDominators(b)
}

func TestEGraph_iterationLimit(t *testing.T) {
	rules, err := parseRules("grow: (Ineg x) => (Ineg (Iadd x #1))")
	require.NoError(t, err)

	b := NewBuilder().(*builder)
	b.Init(&Signature{Params: []AbiParam{Param(TypeI32)}, Results: []AbiParam{Param(TypeI32)}})
	entry := b.allocateBasicBlock()
	x := entry.AddParam(b, TypeI32)
	b.SetCurrentBlock(entry)
	neg := b.AllocateInstruction().AsUnary(OpcodeIneg, x).Insert(b).Return()
	b.AllocateInstruction().AsReturn([]Value{neg}).Insert(b)
	b.Seal(entry)
	preparePasses(b)

	err = passEGraphOptWithRules(b, 4, rules)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrEGraphIterationLimit))
	var ie *InternalError
	require.True(t, errors.As(err, &ie))
	require.Equal(t, "egraph", ie.Pass)
}

func TestEGraph_rewritesPreserveSemantics(t *testing.T) {
	inputs := []uint32{0, 1, 2, 7, 0x7fff_ffff, 0x8000_0000, 0xffff_ffff}
	for _, tc := range []struct {
		name string
		// body returns the result computed from the two i32 parameters.
		body        func(b *builder, x, y Value) Value
		contains    []string
		notContains []string
	}{
		{
			name: "select to smin",
			body: func(b *builder, x, y Value) Value {
				c := b.AllocateInstruction().AsIcmp(x, y, IntegerCmpCondSignedLessThan).Insert(b).Return()
				return b.AllocateInstruction().AsSelect(c, x, y).Insert(b).Return()
			},
			contains:    []string{"Smin v0, v1"},
			notContains: []string{"Select", "Icmp"},
		},
		{
			name: "select to umax",
			body: func(b *builder, x, y Value) Value {
				c := b.AllocateInstruction().AsIcmp(x, y, IntegerCmpCondUnsignedGreaterThanOrEqual).Insert(b).Return()
				return b.AllocateInstruction().AsSelect(c, x, y).Insert(b).Return()
			},
			contains:    []string{"Umax v0, v1"},
			notContains: []string{"Select"},
		},
		{
			name: "select on eq zero swaps the arms",
			body: func(b *builder, x, y Value) Value {
				zero := b.AllocateInstruction().AsIconst32(0).Insert(b).Return()
				c := b.AllocateInstruction().AsIcmp(x, zero, IntegerCmpCondEqual).Insert(b).Return()
				return b.AllocateInstruction().AsSelect(c, y, x).Insert(b).Return()
			},
			contains:    []string{"Select v0, v0, v1"},
			notContains: []string{"Icmp"},
		},
		{
			name: "constant folding",
			body: func(b *builder, x, _ Value) Value {
				c3 := b.AllocateInstruction().AsIconst32(3).Insert(b).Return()
				c4 := b.AllocateInstruction().AsIconst32(4).Insert(b).Return()
				m := b.AllocateInstruction().AsImul(c3, c4).Insert(b).Return()
				return b.AllocateInstruction().AsIadd(x, m).Insert(b).Return()
			},
			contains:    []string{"Iconst_32 0xc", "Iadd v0, "},
			notContains: []string{"Imul"},
		},
		{
			name: "multiply by power of two",
			body: func(b *builder, x, _ Value) Value {
				c8 := b.AllocateInstruction().AsIconst32(8).Insert(b).Return()
				return b.AllocateInstruction().AsImul(x, c8).Insert(b).Return()
			},
			contains:    []string{"Iconst_32 0x3", "Ishl v0, "},
			notContains: []string{"Imul"},
		},
		{
			name: "add then subtract",
			body: func(b *builder, x, y Value) Value {
				sum := b.AllocateInstruction().AsIadd(x, y).Insert(b).Return()
				return b.AllocateInstruction().AsIsub(sum, y).Insert(b).Return()
			},
			contains:    []string{"Return v0"},
			notContains: []string{"Iadd", "Isub"},
		},
		{
			name: "xor with all ones",
			body: func(b *builder, x, _ Value) Value {
				ones := b.AllocateInstruction().AsIconst32(0xffff_ffff).Insert(b).Return()
				return b.AllocateInstruction().AsBxor(x, ones).Insert(b).Return()
			},
			contains:    []string{"Bnot v0"},
			notContains: []string{"Bxor"},
		},
		{
			name: "double negation",
			body: func(b *builder, x, y Value) Value {
				n := b.AllocateInstruction().AsUnary(OpcodeIneg, x).Insert(b).Return()
				nn := b.AllocateInstruction().AsUnary(OpcodeIneg, n).Insert(b).Return()
				return b.AllocateInstruction().AsIadd(nn, y).Insert(b).Return()
			},
			contains:    []string{"Iadd v0, v1"},
			notContains: []string{"Ineg"},
		},
		{
			name: "subtract from zero",
			body: func(b *builder, x, _ Value) Value {
				zero := b.AllocateInstruction().AsIconst32(0).Insert(b).Return()
				return b.AllocateInstruction().AsIsub(zero, x).Insert(b).Return()
			},
			contains:    []string{"Ineg v0"},
			notContains: []string{"Isub"},
		},
		{
			name: "self comparison",
			body: func(b *builder, x, _ Value) Value {
				c := b.AllocateInstruction().AsIcmp(x, x, IntegerCmpCondUnsignedLessThanOrEqual).Insert(b).Return()
				return b.AllocateInstruction().AsUExtend(c, TypeI32).Insert(b).Return()
			},
			contains:    []string{"Iconst_32 0x1"},
			notContains: []string{"Icmp", "Uextend"},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder().(*builder)
			b.Init(&Signature{Params: []AbiParam{Param(TypeI32), Param(TypeI32)}, Results: []AbiParam{Param(TypeI32)}})
			entry := b.allocateBasicBlock()
			x, y := entry.AddParam(b, TypeI32), entry.AddParam(b, TypeI32)
			b.SetCurrentBlock(entry)
			ret := tc.body(b, x, y)
			b.AllocateInstruction().AsReturn([]Value{ret}).Insert(b)
			b.Seal(entry)
			require.NoError(t, b.Verify())

			var expected []DataValue
			for _, i := range inputs {
				for _, j := range inputs {
					r, err := NewInterpreter(b).Run(DataValueI32(i), DataValueI32(j))
					require.NoError(t, err)
					expected = append(expected, r[0])
				}
			}

			require.NoError(t, b.RunPasses(PassOptions{Optimize: true}))
			require.NoError(t, b.Verify())
			after := b.Format()
			for _, s := range tc.contains {
				require.Contains(t, after, s)
			}
			for _, s := range tc.notContains {
				require.NotContains(t, after, s)
			}

			var actual []DataValue
			for _, i := range inputs {
				for _, j := range inputs {
					r, err := NewInterpreter(b).Run(DataValueI32(i), DataValueI32(j))
					require.NoError(t, err)
					actual = append(actual, r[0])
				}
			}
			require.Equal(t, expected, actual)
		})
	}
}

func TestEGraph_floatPseudoMinMax(t *testing.T) {
	b := NewBuilder().(*builder)
	b.Init(&Signature{Params: []AbiParam{Param(TypeF64), Param(TypeF64)}, Results: []AbiParam{Param(TypeF64)}})
	entry := b.allocateBasicBlock()
	x, y := entry.AddParam(b, TypeF64), entry.AddParam(b, TypeF64)
	b.SetCurrentBlock(entry)
	// y < x ? y : x
	c := b.AllocateInstruction().AsFcmp(y, x, FloatCmpCondLessThan).Insert(b).Return()
	sel := b.AllocateInstruction().AsSelect(c, y, x).Insert(b).Return()
	b.AllocateInstruction().AsReturn([]Value{sel}).Insert(b)
	b.Seal(entry)

	require.NoError(t, b.RunPasses(PassOptions{Optimize: true}))
	require.Contains(t, b.Format(), "FminPseudo v0, v1")
	require.False(t, strings.Contains(b.Format(), "Fcmp"))

	for _, tc := range [][3]float64{{1, 2, 1}, {2, 1, 1}, {-0.0, 0.0, -0.0}} {
		r, err := NewInterpreter(b).Run(DataValueF64(tc[0]), DataValueF64(tc[1]))
		require.NoError(t, err)
		require.Equal(t, tc[2], r[0].F64())
	}
}

func TestEGraph_negatedZeroConverges(t *testing.T) {
	b := NewBuilder().(*builder)
	b.Init(&Signature{Params: []AbiParam{Param(TypeI64)}, Results: []AbiParam{Param(TypeI64)}})
	entry := b.allocateBasicBlock()
	x := entry.AddParam(b, TypeI64)
	b.SetCurrentBlock(entry)
	zero := b.AllocateInstruction().AsIconst64(0).Insert(b).Return()
	neg := b.AllocateInstruction().AsUnary(OpcodeIneg, zero).Insert(b).Return()
	sum := b.AllocateInstruction().AsIadd(x, neg).Insert(b).Return()
	b.AllocateInstruction().AsReturn([]Value{sum}).Insert(b)
	b.Seal(entry)

	require.NoError(t, b.RunPasses(PassOptions{Optimize: true}))
	require.NoError(t, b.Verify())
	for _, in := range []uint64{0, 1, 1 << 63, ^uint64(0)} {
		r, err := NewInterpreter(b).Run(DataValueI64(in))
		require.NoError(t, err)
		require.Equal(t, in, r[0].Lo)
	}
}

// randomIntFunction builds a function of two i64 parameters out of n random pure integer
// instructions, returning the last value.
func randomIntFunction(rng *rand.Rand, n int) *builder {
	b := NewBuilder().(*builder)
	b.Init(&Signature{Params: []AbiParam{Param(TypeI64), Param(TypeI64)}, Results: []AbiParam{Param(TypeI64)}})
	entry := b.allocateBasicBlock()
	vs := []Value{entry.AddParam(b, TypeI64), entry.AddParam(b, TypeI64)}
	b.SetCurrentBlock(entry)

	consts := []uint64{0, 1, 2, 3, 8, 63, 64, 1 << 63, ^uint64(0)}
	binary := []Opcode{
		OpcodeIadd, OpcodeIsub, OpcodeImul, OpcodeBand, OpcodeBor, OpcodeBxor,
		OpcodeIshl, OpcodeUshr, OpcodeSshr,
	}
	conds := []IntegerCmpCond{
		IntegerCmpCondEqual, IntegerCmpCondNotEqual, IntegerCmpCondSignedLessThan,
		IntegerCmpCondUnsignedLessThan, IntegerCmpCondSignedGreaterThanOrEqual,
	}
	pick := func() Value { return vs[rng.Intn(len(vs))] }
	for i := 0; i < n; i++ {
		instr := b.AllocateInstruction()
		switch k := rng.Intn(10); {
		case k < 2:
			instr.AsIconst64(consts[rng.Intn(len(consts))])
		case k < 4:
			op := OpcodeIneg
			if rng.Intn(2) == 0 {
				op = OpcodeBnot
			}
			instr.AsUnary(op, pick())
		case k < 9:
			instr.AsBinary(binary[rng.Intn(len(binary))], pick(), pick())
		default:
			c := b.AllocateInstruction().AsIcmp(pick(), pick(), conds[rng.Intn(len(conds))]).Insert(b).Return()
			instr.AsSelect(c, pick(), pick())
		}
		vs = append(vs, instr.Insert(b).Return())
	}
	b.AllocateInstruction().AsReturn([]Value{vs[len(vs)-1]}).Insert(b)
	b.Seal(entry)
	return b
}

func TestEGraph_randomRewriteSoundness(t *testing.T) {
	inputs := []uint64{0, 1, 5, 64, 0x7fff_ffff_ffff_ffff, 1 << 63, ^uint64(0)}
	for seed := int64(0); seed < 500; seed++ {
		rng := rand.New(rand.NewSource(seed))
		b := randomIntFunction(rng, 4+rng.Intn(16))
		require.NoError(t, b.Verify(), "seed %d", seed)
		before := b.Format()

		var expected []uint64
		for _, x := range inputs {
			for _, y := range inputs {
				r, err := NewInterpreter(b).Run(DataValueI64(x), DataValueI64(y))
				require.NoError(t, err)
				expected = append(expected, r[0].Lo)
			}
		}

		require.NoError(t, b.RunPasses(PassOptions{Optimize: true}), "seed %d:\n%s", seed, before)
		require.NoError(t, b.Verify(), "seed %d", seed)

		var actual []uint64
		for _, x := range inputs {
			for _, y := range inputs {
				r, err := NewInterpreter(b).Run(DataValueI64(x), DataValueI64(y))
				require.NoError(t, err)
				actual = append(actual, r[0].Lo)
			}
		}
		require.Equal(t, expected, actual, fmt.Sprintf("seed %d:\n%s\n=>\n%s", seed, before, b.Format()))
	}
}
