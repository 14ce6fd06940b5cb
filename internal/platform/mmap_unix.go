//go:build unix

package platform

import "golang.org/x/sys/unix"

const mmapSupported = true

// MmapMemory returns a private read-write region of size bytes, outside of the Go heap.
func MmapMemory(size int) ([]byte, error) {
	// Anonymous as this is not an actual file, but a memory,
	// Private as this is in-process memory region.
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}

// MprotectRX makes b, a region returned by MmapMemory, read-execute.
func MprotectRX(b []byte) error {
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC)
}
