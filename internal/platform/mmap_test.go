package platform

import (
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

var testCode, _ = io.ReadAll(io.LimitReader(rand.Reader, 8*1024))

func requireSupported(t *testing.T) {
	if !mmapSupported {
		t.Skip(errUnsupported)
	}
}

func TestMmapCodeSegment(t *testing.T) {
	requireSupported(t)

	newCode, err := MmapCodeSegment(testCode)
	require.NoError(t, err)
	// Verify that the mmap is the same as the original.
	require.Equal(t, testCode, newCode)
	require.NoError(t, MunmapCodeSegment(newCode))

	t.Run("panic on zero length", func(t *testing.T) {
		require.PanicsWithError(t, "BUG: MmapCodeSegment with zero length", func() {
			_, _ = MmapCodeSegment(make([]byte, 0))
		})
	})
}

func TestMunmapCodeSegment(t *testing.T) {
	requireSupported(t)

	// Errors if never mapped
	require.Error(t, MunmapCodeSegment(testCode))

	newCode, err := MmapCodeSegment(testCode)
	require.NoError(t, err)
	// First munmap should succeed.
	require.NoError(t, MunmapCodeSegment(newCode))
	// Double munmap should fail.
	require.Error(t, MunmapCodeSegment(newCode))

	t.Run("panic on zero length", func(t *testing.T) {
		require.PanicsWithError(t, "BUG: MunmapCodeSegment with zero length", func() {
			_ = MunmapCodeSegment(make([]byte, 0))
		})
	})
}
