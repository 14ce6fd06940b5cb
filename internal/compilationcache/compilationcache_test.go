package compilationcache

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

type artifact struct {
	Name  string  `msgpack:"name"`
	Code  []byte  `msgpack:"code"`
	Traps []int64 `msgpack:"traps"`
}

func TestNewKey(t *testing.T) {
	require.Equal(t, NewKey("a", "b"), NewKey("a", "b"))
	require.NotEqual(t, NewKey("ab", "c"), NewKey("a", "bc"))
	require.NotEqual(t, NewKey("a"), NewKey("a", ""))
	require.NotEqual(t, Key{}, NewKey())
}

func TestStoreLoad(t *testing.T) {
	fc := newFileCache(t.TempDir())
	key := NewKey("function %f", "arch=s390x")

	_, ok, err := Load[artifact](fc, key)
	require.NoError(t, err)
	require.False(t, ok)

	exp := artifact{Name: "f", Code: []byte{0x07, 0xfe}, Traps: []int64{4, 10}}
	require.NoError(t, Store(fc, key, exp))

	actual, ok, err := Load[artifact](fc, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, exp, actual)

	// Get must have released the lock.
	require.True(t, fc.mux.TryLock())
	fc.mux.Unlock()
}

func TestLoad_corrupted(t *testing.T) {
	fc := newFileCache(t.TempDir())
	key := NewKey("broken")
	require.NoError(t, os.WriteFile(fc.path(key), []byte{0xc1, 0xc1}, 0o600))

	_, ok, err := Load[artifact](fc, key)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = os.Stat(fc.path(key))
	require.ErrorIs(t, err, os.ErrNotExist)
}
