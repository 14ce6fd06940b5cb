package compilationcache

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is the interface for compilation caches. It stores the compiled artifacts across processes,
// since the compilation of a large module is time-consuming.
//
// Since these methods are concurrently accessed, the implementations must be Goroutine-safe.
//
// See NewFileCache for the example implementation.
type Cache interface {
	// Get returns the content stored by Add as-is. Returns ok=true if the content was found on the
	// cache. In the case of not-found, this returns ok=false with err=nil. The caller closes content.
	Get(key Key) (content io.ReadCloser, ok bool, err error)
	// Add stores the content under key, replacing any previous entry.
	Add(key Key, content io.Reader) (err error)
	// Delete purges the entry, typically because it can no longer be decoded.
	// Deleting a missing entry is not an error.
	Delete(key Key) (err error)
}

// Key represents the 256-bit unique identifier assigned to each cache content.
type Key = [sha256.Size]byte

// schemaVersion is bumped whenever the encoding of an entry changes, so that stale entries miss.
const schemaVersion uint16 = 1

// NewKey hashes the parts into a Key. Each part is length prefixed, so that ("ab", "c") and
// ("a", "bc") differ.
func NewKey(parts ...string) Key {
	h := sha256.New()
	fmt.Fprintf(h, "v%d", schemaVersion)
	for _, p := range parts {
		fmt.Fprintf(h, "\x00%d:%s", len(p), p)
	}
	var k Key
	h.Sum(k[:0])
	return k
}

type entry[T any] struct {
	Schema uint16 `msgpack:"schema"`
	Value  T      `msgpack:"value"`
}

// Store encodes v with msgpack and adds it to c.
func Store[T any](c Cache, key Key, v T) error {
	b, err := msgpack.Marshal(&entry[T]{Schema: schemaVersion, Value: v})
	if err != nil {
		return fmt.Errorf("compilationcache: encoding %x: %w", key[:4], err)
	}
	return c.Add(key, bytes.NewReader(b))
}

// Load decodes the entry of key into a T. Entries which do not decode, or were written with another
// schema, are deleted and reported as a miss.
func Load[T any](c Cache, key Key) (v T, ok bool, err error) {
	content, ok, err := c.Get(key)
	if err != nil || !ok {
		return v, false, err
	}
	var e entry[T]
	decErr := msgpack.NewDecoder(content).Decode(&e)
	if err = content.Close(); err != nil {
		return v, false, err
	}
	if decErr != nil || e.Schema != schemaVersion {
		return v, false, c.Delete(key)
	}
	return e.Value, true, nil
}
