package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

func TestRegTypeOf(t *testing.T) {
	require.Equal(t, RegTypeInt, RegTypeOf(ssa.TypeI32))
	require.Equal(t, RegTypeInt, RegTypeOf(ssa.TypeI64))
	require.Equal(t, RegTypeInt, RegTypeOf(ssa.TypeI128))
	require.Equal(t, RegTypeInt, RegTypeOf(ssa.TypeR64))
	require.Equal(t, RegTypeFloat, RegTypeOf(ssa.TypeF32))
	require.Equal(t, RegTypeFloat, RegTypeOf(ssa.TypeF64))
	require.Equal(t, RegTypeVector, RegTypeOf(ssa.TypeI32x4))
}

func TestVReg_String(t *testing.T) {
	require.Equal(t, "v0?", VReg(0).String())
	require.Equal(t, "v100?", VReg(100).String())
	require.Equal(t, "r5", FromRealReg(5, RegTypeInt).String())
}

func TestFromRealReg(t *testing.T) {
	r := FromRealReg(5, RegTypeFloat)
	require.Equal(t, RealReg(5), r.RealReg())
	require.Equal(t, VRegID(5), r.ID())
	require.Equal(t, RegTypeFloat, r.RegType())
	require.True(t, r.IsRealReg())
	require.True(t, r.Valid())
	require.False(t, VRegInvalid.Valid())
}

func TestVRegSet(t *testing.T) {
	var s VRegSet
	s.Insert(VReg(130).SetRegType(RegTypeInt))
	s.Insert(VReg(1000).SetRegType(RegTypeFloat))
	require.True(t, s.Contains(VReg(130)))
	require.True(t, s.Contains(VReg(1000)))
	require.False(t, s.Contains(VReg(131)))
	require.Equal(t, 2, s.Len())
	s.Reset()
	require.Equal(t, 0, s.Len())
	require.Panics(t, func() { s.Insert(FromRealReg(1, RegTypeInt)) })
}

func TestRegSet(t *testing.T) {
	rs := NewRegSet(1, 3, 63)
	require.True(t, rs.Has(3))
	require.False(t, rs.Has(2))
	require.True(t, rs.Union(NewRegSet(2)).Has(2))
	var got []RealReg
	rs.Range(func(r RealReg) { got = append(got, r) })
	require.Equal(t, []RealReg{1, 3, 63}, got)
	info := &RegisterInfo{RealRegName: func(r RealReg) string { return "x" + r.String()[1:] }}
	require.Equal(t, "x1, x3, x63", rs.Format(info))
}

func TestOperand_String(t *testing.T) {
	v := VReg(200).SetRegType(RegTypeInt)
	require.Equal(t, "use v200?", Use(v).String())
	require.Equal(t, "early def v200?", Def(v).Early().String())
	require.Equal(t, "mod v200?", Mod(v).String())
	require.Equal(t, "def v200? reuse(1)", ReuseDef(v, 1).String())
	require.Equal(t, "use v200? @r7", Use(v).FixedTo(7).String())
	require.True(t, Mod(v).IsUse())
	require.True(t, Mod(v).IsDef())
}
