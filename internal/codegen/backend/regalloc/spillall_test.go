package regalloc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockInstr struct {
	ops        []Operand
	assigned   []RealReg
	clobbers   RegSet
	copy, term bool
	text       string
}

func (m *mockInstr) Operands(ops []Operand) []Operand { return append(ops, m.ops...) }

func (m *mockInstr) AssignOperand(idx int, r RealReg) {
	if m.assigned == nil {
		m.assigned = make([]RealReg, len(m.ops))
	}
	m.assigned[idx] = r
}

func (m *mockInstr) Clobbers() RegSet   { return m.clobbers }
func (m *mockInstr) IsCopy() bool       { return m.copy }
func (m *mockInstr) IsCall() bool       { return m.clobbers != 0 }
func (m *mockInstr) IsTerminator() bool { return m.term }

func (m *mockInstr) String() string {
	if m.text != "" {
		return m.text
	}
	var regs []string
	for i, op := range m.ops {
		r := op.VReg.RealReg()
		if !op.VReg.IsRealReg() {
			r = m.assigned[i]
		}
		regs = append(regs, r.String())
	}
	return "op " + strings.Join(regs, ",")
}

type mockFunction struct {
	blocks    [][]*mockInstr
	clobbered RegSet
	done      bool
}

func (f *mockFunction) Blocks() int                      { return len(f.blocks) }
func (f *mockFunction) Block(i int) []*mockInstr         { return f.blocks[i] }
func (f *mockFunction) SetBlock(i int, is []*mockInstr)  { f.blocks[i] = is }
func (f *mockFunction) ClobberedRegisters(rs RegSet)     { f.clobbered = rs }
func (f *mockFunction) Done()                            { f.done = true }
func (f *mockFunction) Reload(v VReg, r RealReg) *mockInstr {
	return &mockInstr{text: fmt.Sprintf("reload %s <- v%d", r, v.ID())}
}

func (f *mockFunction) Spill(v VReg, r RealReg) *mockInstr {
	return &mockInstr{text: fmt.Sprintf("spill v%d <- %s", v.ID(), r)}
}

func (f *mockFunction) listing() []string {
	var ret []string
	for _, b := range f.blocks {
		for _, i := range b {
			ret = append(ret, i.String())
		}
	}
	return ret
}

var testRegInfo = &RegisterInfo{
	AllocatableRegisters: [NumRegType][]RealReg{
		RegTypeInt:    {1, 2, 3},
		RegTypeFloat:  {10, 11},
		RegTypeVector: {10, 11},
	},
	CalleeSavedRegisters: NewRegSet(2, 3),
	CallerSavedRegisters: NewRegSet(1, 4, 5, 10, 11),
	RealRegName:          func(r RealReg) string { return r.String() },
}

func iv(id VRegID) VReg { return VReg(id).SetRegType(RegTypeInt) }
func fv(id VRegID) VReg { return VReg(id).SetRegType(RegTypeFloat) }

func TestAllocate(t *testing.T) {
	for _, tc := range []struct {
		name          string
		instrs        []*mockInstr
		exp           []string
		expClobbered  RegSet
	}{
		{
			name:   "def then use",
			instrs: []*mockInstr{{ops: []Operand{Def(iv(200))}}, {ops: []Operand{Use(iv(200))}, term: true}},
			exp:    []string{"op r1", "spill v200 <- r1", "reload r1 <- v200", "op r1"},
		},
		{
			name:   "late def shares a use register",
			instrs: []*mockInstr{{ops: []Operand{Def(iv(202)), Use(iv(200)), Use(iv(201))}}},
			exp: []string{
				"reload r1 <- v200", "reload r2 <- v201",
				"op r1,r1,r2",
				"spill v202 <- r1",
			},
			expClobbered: NewRegSet(2),
		},
		{
			name:   "early def avoids the uses",
			instrs: []*mockInstr{{ops: []Operand{Def(iv(202)).Early(), Use(iv(200))}}},
			exp:    []string{"reload r1 <- v200", "op r2,r1", "spill v202 <- r2"},
			expClobbered: NewRegSet(2),
		},
		{
			name:   "same vreg used twice is loaded once",
			instrs: []*mockInstr{{ops: []Operand{Use(iv(200)), Use(iv(200))}}},
			exp:    []string{"reload r1 <- v200", "op r1,r1"},
		},
		{
			name:   "reuse def",
			instrs: []*mockInstr{{ops: []Operand{Use(iv(200)), Use(iv(201)), ReuseDef(iv(202), 0)}}},
			exp: []string{
				"reload r1 <- v200", "reload r2 <- v201",
				"op r1,r2,r1",
				"spill v202 <- r1",
			},
			expClobbered: NewRegSet(2),
		},
		{
			name:   "mod",
			instrs: []*mockInstr{{ops: []Operand{Mod(iv(200)), Use(iv(201))}}},
			exp:    []string{"reload r1 <- v200", "reload r2 <- v201", "op r1,r2", "spill v200 <- r1"},
			expClobbered: NewRegSet(2),
		},
		{
			name:   "fixed operands are not scratch",
			instrs: []*mockInstr{{ops: []Operand{Use(iv(200)).FixedTo(1), Use(iv(201)), Def(iv(202)).FixedTo(4)}}},
			exp: []string{
				"reload r1 <- v200", "reload r2 <- v201",
				"op r1,r2,r4",
				"spill v202 <- r4",
			},
			expClobbered: NewRegSet(2),
		},
		{
			name:   "real register operands",
			instrs: []*mockInstr{{ops: []Operand{Def(FromRealReg(1, RegTypeInt)), Use(iv(200))}}},
			exp:    []string{"reload r2 <- v200", "op r1,r2"},
			expClobbered: NewRegSet(2),
		},
		{
			name:   "classes",
			instrs: []*mockInstr{{ops: []Operand{Def(fv(202)), Use(iv(200)), Use(fv(201))}}},
			exp:    []string{"reload r1 <- v200", "reload r10 <- v201", "op r10,r1,r10", "spill v202 <- r10"},
		},
		{
			name: "copy is coalesced",
			instrs: []*mockInstr{{ops: []Operand{Def(iv(201)), Use(iv(200))}, copy: true}},
			exp:    []string{"reload r1 <- v200", "spill v201 <- r1"},
		},
		{
			name: "call defs avoid clobbers",
			instrs: []*mockInstr{{
				ops:      []Operand{Use(iv(200)), Def(iv(201))},
				clobbers: NewRegSet(1, 4, 5),
			}},
			exp:          []string{"reload r1 <- v200", "op r1,r2", "spill v201 <- r2"},
			expClobbered: NewRegSet(2),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := &mockFunction{blocks: [][]*mockInstr{tc.instrs}}
			require.NoError(t, Allocate[*mockInstr](testRegInfo, f))
			require.Equal(t, tc.exp, f.listing())
			require.Equal(t, tc.expClobbered, f.clobbered)
			require.True(t, f.done)
		})
	}
}

func TestAllocate_errors(t *testing.T) {
	t.Run("out of registers", func(t *testing.T) {
		f := &mockFunction{blocks: [][]*mockInstr{{{
			text: "op4",
			ops:  []Operand{Use(iv(200)), Use(iv(201)), Use(iv(202)), Use(iv(203))},
		}}}}
		err := Allocate[*mockInstr](testRegInfo, f)
		require.EqualError(t, err, "regalloc: no int register left for op4")
	})
	t.Run("terminator def", func(t *testing.T) {
		f := &mockFunction{blocks: [][]*mockInstr{{{text: "br", ops: []Operand{Def(iv(200))}, term: true}}}}
		require.Panics(t, func() { _ = Allocate[*mockInstr](testRegInfo, f) })
	})
}
