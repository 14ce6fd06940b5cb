package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallSysV(t *testing.T) {
	if !Supported() {
		_, err := CallSysV([]byte{0xc3})
		require.Error(t, err)
		t.Skip(errUnsupported)
	}

	for _, tc := range []struct {
		name string
		code []byte
		args []uint64
		exp  uint64
	}{
		{
			name: "lea rax, [rdi+rsi]",
			code: []byte{0x48, 0x8d, 0x04, 0x37, 0xc3},
			args: []uint64{40, 2},
			exp:  42,
		},
		{
			name: "last register argument",
			code: []byte{0x4c, 0x89, 0xc8, 0xc3}, // mov rax, r9
			args: []uint64{1, 2, 3, 4, 5, 6},
			exp:  6,
		},
		{
			// mov rax, [rsp+8]; add rax, [rsp+16]; add rax, rdi
			name: "stack arguments",
			code: []byte{0x48, 0x8b, 0x44, 0x24, 0x08, 0x48, 0x03, 0x44, 0x24, 0x10, 0x48, 0x01, 0xf8, 0xc3},
			args: []uint64{1, 2, 3, 4, 5, 6, 700, 8000},
			exp:  8701,
		},
		{
			// mov rax, rsp; and rax, 15; ret
			name: "aligned stack",
			code: []byte{0x48, 0x89, 0xe0, 0x48, 0x83, 0xe0, 0x0f, 0xc3},
			args: []uint64{1, 2, 3, 4, 5, 6, 7},
			// The return address was pushed on a 16-byte aligned stack.
			exp: 8,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code, err := MmapCodeSegment(tc.code)
			require.NoError(t, err)
			defer func() { require.NoError(t, MunmapCodeSegment(code)) }()

			actual, err := CallSysV(code, tc.args...)
			require.NoError(t, err)
			require.Equal(t, tc.exp, actual)
		})
	}
}
