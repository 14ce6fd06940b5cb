package codegenapi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPerfmap_Flush(t *testing.T) {
	var pm Perfmap
	pm.AddEntry(0, 0x20, "f0")
	pm.AddEntry(0x20, 0x1f0, "probe_unroll")
	require.Equal(t, 2, pm.Len())

	var buf bytes.Buffer
	require.NoError(t, pm.Flush(&buf, 0x1000))
	require.Equal(t, "1000 20 f0\n1020 1f0 probe_unroll\n", buf.String())
	require.Equal(t, 0, pm.Len())
}
