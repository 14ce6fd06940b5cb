package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

type ruleMachine struct {
	smallImm bool
	lowered  []string
}

func lowerWith(name string) func(m *ruleMachine, _ *ssa.Instruction) {
	return func(m *ruleMachine, _ *ssa.Instruction) { m.lowered = append(m.lowered, name) }
}

var guardSmallImm = &Guard[*ruleMachine]{
	Name: "small_imm",
	Fn:   func(m *ruleMachine, _ *ssa.Instruction) bool { return m.smallImm },
}

func TestCheckOverlaps(t *testing.T) {
	other := &Guard[*ruleMachine]{Name: "other", Fn: func(*ruleMachine, *ssa.Instruction) bool { return true }}
	for _, tc := range []struct {
		name   string
		rules  []Rule[*ruleMachine]
		expErr string
	}{
		{
			name: "same shape",
			rules: []Rule[*ruleMachine]{
				{Name: "a", Opcode: ssa.OpcodeIadd, Types: TypesInt32And64},
				{Name: "b", Opcode: ssa.OpcodeIadd, Types: Types(ssa.TypeI64, ssa.TypeI8)},
			},
			expErr: "rules a and b overlap",
		},
		{
			name: "two guards",
			rules: []Rule[*ruleMachine]{
				{Name: "a", Opcode: ssa.OpcodeIadd, Types: TypesInt32And64, Guard: guardSmallImm},
				{Name: "b", Opcode: ssa.OpcodeIadd, Types: TypesInt32And64, Guard: other},
			},
			expErr: "rules a and b overlap",
		},
		{
			name: "guarded",
			rules: []Rule[*ruleMachine]{
				{Name: "a", Opcode: ssa.OpcodeIadd, Types: TypesInt32And64},
				{Name: "b", Opcode: ssa.OpcodeIadd, Types: TypesInt32And64, Guard: guardSmallImm},
			},
		},
		{
			name: "narrower types",
			rules: []Rule[*ruleMachine]{
				{Name: "a", Opcode: ssa.OpcodeIadd, Types: TypesIntScalar},
				{Name: "b", Opcode: ssa.OpcodeIadd, Types: Types(ssa.TypeI64)},
			},
		},
		{
			name: "more extensions",
			rules: []Rule[*ruleMachine]{
				{Name: "a", Opcode: ssa.OpcodePopcnt, Types: TypesInt32And64},
				{Name: "b", Opcode: ssa.OpcodePopcnt, Types: TypesInt32And64, Requires: target.ExtPOPCNT},
			},
		},
		{
			name: "other priority",
			rules: []Rule[*ruleMachine]{
				{Name: "a", Opcode: ssa.OpcodeIadd, Types: TypesInt32And64},
				{Name: "b", Opcode: ssa.OpcodeIadd, Types: TypesInt32And64, Priority: 1},
			},
		},
		{
			name: "disjoint",
			rules: []Rule[*ruleMachine]{
				{Name: "a", Opcode: ssa.OpcodeIadd, Types: TypesIntScalar},
				{Name: "b", Opcode: ssa.OpcodeIadd, Types: TypesVecInt},
				{Name: "c", Opcode: ssa.OpcodeIsub, Types: TypesIntScalar},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckOverlaps(tc.rules)
			if tc.expErr == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, tc.expErr)
			}
		})
	}
}

func TestRuleTable(t *testing.T) {
	table := NewRuleTable(target.ArchX86_64, []Rule[*ruleMachine]{
		{Name: "add", Opcode: ssa.OpcodeIadd, Types: TypesIntScalar, Lower: lowerWith("add")},
		{Name: "add_imm", Opcode: ssa.OpcodeIadd, Types: TypesIntScalar, Guard: guardSmallImm, Lower: lowerWith("add_imm")},
		{Name: "popcnt_soft", Opcode: ssa.OpcodePopcnt, Types: TypesInt32And64, Lower: lowerWith("popcnt_soft")},
		{
			Name: "popcnt", Opcode: ssa.OpcodePopcnt, Types: TypesInt32And64, Requires: target.ExtPOPCNT,
			Lower: lowerWith("popcnt"),
		},
	})
	require.Equal(t, "add_imm", table.Rules(ssa.OpcodeIadd)[0].Name)
	require.Equal(t, "popcnt", table.Rules(ssa.OpcodePopcnt)[0].Name)

	b := ssa.NewBuilder()
	blk := b.AllocateBasicBlock()
	b.SetCurrentBlock(blk)
	x := blk.AddParam(b, ssa.TypeI64)
	f := blk.AddParam(b, ssa.TypeF32)
	add := b.AllocateInstruction().AsIadd(x, x).Insert(b)
	popcnt := b.AllocateInstruction().AsPopcnt(x).Insert(b)
	fadd := b.AllocateInstruction().AsFadd(f, f).Insert(b)
	vadd := b.AllocateInstruction().AsIadd(
		blk.AddParam(b, ssa.TypeI32x4), blk.AddParam(b, ssa.TypeI32x4)).Insert(b)

	m := &ruleMachine{}
	table.Lower(m, 0, add)
	m.smallImm = true
	table.Lower(m, 0, add)
	table.Lower(m, 0, popcnt)
	table.Lower(m, target.ExtPOPCNT|target.ExtSSE41, popcnt)
	require.Equal(t, []string{"add", "add_imm", "popcnt_soft", "popcnt"}, m.lowered)

	for _, tc := range []struct {
		instr  *ssa.Instruction
		expErr string
	}{
		{instr: fadd, expErr: "x86_64: unsupported Fadd.f32: no rule for the opcode"},
		{instr: vadd, expErr: "x86_64: unsupported Iadd.i32x4: no rule matches"},
	} {
		err := func() (err error) {
			defer func() { err = recoverCompileError("lower", recover()) }()
			table.Lower(m, 0, tc.instr)
			return nil
		}()
		var ue *UnsupportedError
		require.True(t, errors.As(err, &ue))
		require.EqualError(t, err, tc.expErr)
	}

	require.Panics(t, func() {
		NewRuleTable(target.ArchS390X, []Rule[*ruleMachine]{
			{Name: "a", Opcode: ssa.OpcodeIadd, Types: TypesIntScalar, Lower: lowerWith("a")},
			{Name: "b", Opcode: ssa.OpcodeIadd, Types: TypesIntScalar, Lower: lowerWith("b")},
		})
	})
}

func TestControllingType(t *testing.T) {
	b := ssa.NewBuilder()
	blk := b.AllocateBasicBlock()
	b.SetCurrentBlock(blk)
	ptr := blk.AddParam(b, ssa.TypeI64)
	v := blk.AddParam(b, ssa.TypeF64)
	i := blk.AddParam(b, ssa.TypeI32)

	store := b.AllocateInstruction().AsStore(ssa.OpcodeStore, v, ptr, 0, 0).Insert(b)
	icmp := b.AllocateInstruction().AsIcmp(i, i, ssa.IntegerCmpCondEqual).Insert(b)
	ext := b.AllocateInstruction().AsUExtend(i, ssa.TypeI64).Insert(b)
	trap := b.AllocateInstruction().AsTrapz(i, 1).Insert(b)

	require.Equal(t, ssa.TypeF64, ControllingType(store))
	require.Equal(t, ssa.TypeI32, ControllingType(icmp))
	require.Equal(t, ssa.TypeI64, ControllingType(ext))
	require.Equal(t, ssa.TypeI32, ControllingType(trap))
}

func TestTypeSet(t *testing.T) {
	s := Types(ssa.TypeI32, ssa.TypeF64) | TypeNone
	require.True(t, s.Has(ssa.TypeI32))
	require.False(t, s.Has(ssa.TypeI64))
	require.True(t, Types(ssa.TypeI32).SubsetOf(s))
	require.Equal(t, 3, s.Count())
	require.Equal(t, "{none,i32,f64}", s.String())
}
