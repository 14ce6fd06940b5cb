//go:build !amd64

package platform

func callSysV(fn, sp uintptr, regs *[6]uint64) uint64 {
	panic(errUnsupported)
}
