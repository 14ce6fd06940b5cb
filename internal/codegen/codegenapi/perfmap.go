package codegenapi

import (
	"fmt"
	"io"
	"strconv"
)

// Perfmap holds perfmap entries to be flushed into a perf map file (/tmp/perf-<pid>.map).
type Perfmap struct {
	entries []perfmapEntry
}

type perfmapEntry struct {
	addr int64
	size uint64
	name string
}

// AddEntry adds a new entry to the perfmap. Each entry contains the address,
// the size and the name of the function.
func (f *Perfmap) AddEntry(addr int64, size uint64, name string) {
	f.entries = append(f.entries, perfmapEntry{addr, size, name})
}

// Clear drops all entries.
func (f *Perfmap) Clear() {
	f.entries = f.entries[:0]
}

// Len returns the number of pending entries.
func (f *Perfmap) Len() int {
	return len(f.entries)
}

// Flush writes all the entries relocated by offset into w and clears them.
func (f *Perfmap) Flush(w io.Writer, offset uintptr) error {
	defer f.Clear()
	for _, e := range f.entries {
		if _, err := fmt.Fprintf(w, "%x %s %s\n",
			uintptr(e.addr)+offset,
			strconv.FormatUint(e.size, 16),
			e.name,
		); err != nil {
			return err
		}
	}
	return nil
}
