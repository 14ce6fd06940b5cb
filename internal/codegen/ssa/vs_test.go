package ssa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValue(t *testing.T) {
	v := Value(1234).setType(TypeI128)
	require.Equal(t, ValueID(1234), v.ID())
	require.Equal(t, TypeI128, v.Type())
	require.True(t, v.Valid())
	require.False(t, ValueInvalid.Valid())
}

func TestType(t *testing.T) {
	for _, tc := range []struct {
		typ       Type
		bits      byte
		lane      Type
		laneCount int
		isVector  bool
	}{
		{typ: TypeI8, bits: 8, lane: TypeI8, laneCount: 1},
		{typ: TypeI128, bits: 128, lane: TypeI128, laneCount: 1},
		{typ: TypeF64, bits: 64, lane: TypeF64, laneCount: 1},
		{typ: TypeR64, bits: 64, lane: TypeR64, laneCount: 1},
		{typ: TypeI8x16, bits: 128, lane: TypeI8, laneCount: 16, isVector: true},
		{typ: TypeI64x2, bits: 128, lane: TypeI64, laneCount: 2, isVector: true},
		{typ: TypeF32x4, bits: 128, lane: TypeF32, laneCount: 4, isVector: true},
	} {
		t.Run(tc.typ.String(), func(t *testing.T) {
			require.Equal(t, tc.bits, tc.typ.Bits())
			require.Equal(t, tc.lane, tc.typ.LaneType())
			require.Equal(t, tc.laneCount, tc.typ.LaneCount())
			require.Equal(t, tc.isVector, tc.typ.IsVector())
			parsed, err := ParseType(tc.typ.String())
			require.NoError(t, err)
			require.Equal(t, tc.typ, parsed)
			if tc.isVector {
				require.Equal(t, tc.typ, VectorOf(tc.lane))
			}
		})
	}
}
