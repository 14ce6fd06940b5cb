package codegenapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	p := NewPool[int]()
	require.Equal(t, 0, p.Allocated())

	var ptrs []*int
	for i := 0; i < poolPageSize*2+3; i++ {
		v := p.Allocate()
		*v = i
		ptrs = append(ptrs, v)
	}
	require.Equal(t, poolPageSize*2+3, p.Allocated())
	for i, ptr := range ptrs {
		require.Equal(t, i, *ptr)
		require.Equal(t, ptr, p.View(i))
	}

	p.Reset()
	require.Equal(t, 0, p.Allocated())
	v := p.Allocate()
	require.Equal(t, 0, *v)
}
