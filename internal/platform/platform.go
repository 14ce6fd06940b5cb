// Package platform maps machine code into executable memory and calls into it, so that the code generated
// for the host architecture can be run in tests.
package platform

import (
	"errors"
	"fmt"
	"runtime"
)

var errUnsupported = fmt.Errorf("executing native code unsupported on GOOS=%s GOARCH=%s", runtime.GOOS, runtime.GOARCH)

// Supported reports whether CallSysV can run code on this host.
func Supported() bool {
	return mmapSupported && runtime.GOARCH == "amd64"
}

// MmapCodeSegment copies the code into a new read-execute region and returns the byte slice of the region.
//
// See https://man7.org/linux/man-pages/man2/mmap.2.html for mmap API and flags.
func MmapCodeSegment(code []byte) ([]byte, error) {
	if len(code) == 0 {
		panic(errors.New("BUG: MmapCodeSegment with zero length"))
	}
	b, err := MmapMemory(len(code))
	if err != nil {
		return nil, err
	}
	copy(b, code)
	if err = MprotectRX(b); err != nil {
		_ = munmap(b)
		return nil, err
	}
	return b, nil
}

// MunmapCodeSegment unmaps the given memory region.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic(errors.New("BUG: MunmapCodeSegment with zero length"))
	}
	return munmap(code)
}
