package platform

// callSysV is implemented in call_amd64.s as a Go Assembler function. It switches the stack pointer to sp,
// calls fn with regs in rdi, rsi, rdx, rcx, r8 and r9, then restores the Go stack and returns rax.
//
//go:noescape
func callSysV(fn, sp uintptr, regs *[6]uint64) uint64
