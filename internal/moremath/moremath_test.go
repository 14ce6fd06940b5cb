package moremath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMin(t *testing.T) {
	require.Equal(t, -1.1, Min(-1.1, 123))
	require.Equal(t, -1.1, Min(-1.1, math.Inf(1)))
	require.Equal(t, math.Inf(-1), Min(math.Inf(-1), 123))
	require.True(t, math.Signbit(Min(0, math.Copysign(0, -1))))
	require.True(t, math.Signbit(Min(math.Copysign(0, -1), 0)))

	// NaN cannot be compared with themselves, so we have to use IsNaN
	require.True(t, math.IsNaN(Min(math.NaN(), 1.0)))
	require.True(t, math.IsNaN(Min(1.0, math.NaN())))
	require.True(t, math.IsNaN(Min(math.Inf(-1), math.NaN())))
	require.True(t, math.IsNaN(Min(math.Inf(1), math.NaN())))
	require.True(t, math.IsNaN(Min(math.NaN(), math.NaN())))
}

func TestMax(t *testing.T) {
	require.Equal(t, 123.1, Max(-1.1, 123.1))
	require.Equal(t, math.Inf(1), Max(-1.1, math.Inf(1)))
	require.Equal(t, 123.1, Max(math.Inf(-1), 123.1))
	require.False(t, math.Signbit(Max(0, math.Copysign(0, -1))))
	require.False(t, math.Signbit(Max(math.Copysign(0, -1), 0)))

	require.True(t, math.IsNaN(Max(math.NaN(), 1.0)))
	require.True(t, math.IsNaN(Max(1.0, math.NaN())))
	require.True(t, math.IsNaN(Max(math.Inf(-1), math.NaN())))
	require.True(t, math.IsNaN(Max(math.Inf(1), math.NaN())))
	require.True(t, math.IsNaN(Max(math.NaN(), math.NaN())))
}

func TestTruncFitsInt(t *testing.T) {
	for _, tc := range []struct {
		f      float64
		bits   byte
		signed bool
		exp    bool
	}{
		{f: 0, bits: 32, signed: true, exp: true},
		{f: -2147483648, bits: 32, signed: true, exp: true},
		{f: -2147483649, bits: 32, signed: true, exp: false},
		{f: 2147483647.9, bits: 32, signed: true, exp: true},
		{f: 2147483648, bits: 32, signed: true, exp: false},
		{f: -0.9, bits: 32, signed: false, exp: true},
		{f: -1, bits: 32, signed: false, exp: false},
		{f: 4294967295, bits: 32, signed: false, exp: true},
		{f: 4294967296, bits: 32, signed: false, exp: false},
		{f: 9223372036854775807, bits: 64, signed: true, exp: false},
		{f: math.NaN(), bits: 64, signed: true, exp: false},
		{f: math.Inf(-1), bits: 64, signed: true, exp: false},
	} {
		require.Equal(t, tc.exp, TruncFitsInt(tc.f, tc.bits, tc.signed), "%v/%d/%t", tc.f, tc.bits, tc.signed)
	}
}
