package codegenapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrapCode_String(t *testing.T) {
	for _, tc := range []struct {
		code TrapCode
		exp  string
	}{
		{code: TrapCodeHeapOutOfBounds, exp: "heap_oob"},
		{code: TrapCodeIntegerDivisionByZero, exp: "int_divz"},
		{code: TrapCodeUnreachable, exp: "unreachable"},
		{code: TrapCodeStackOverflow, exp: "stk_ovf"},
		{code: TrapCodeUser0 + 3, exp: "user3"},
	} {
		t.Run(tc.exp, func(t *testing.T) {
			require.Equal(t, tc.exp, tc.code.String())
			parsed, err := ParseTrapCode(tc.exp)
			require.NoError(t, err)
			require.Equal(t, tc.code, parsed)
		})
	}

	_, err := ParseTrapCode("nope")
	require.EqualError(t, err, `unknown trap code "nope"`)
}
