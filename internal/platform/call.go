package platform

import (
	"encoding/binary"
	"unsafe"
)

// NativeStackSize is the size of the stack CallSysV runs the code on.
const NativeStackSize = 1 << 20

// CallSysV calls the function at the start of code, a region returned by MmapCodeSegment, with the System V
// calling convention. args go to the six integer argument registers and then on the stack. The result is
// the value of rax at return. The code runs on a stack of its own, NativeStackSize bytes large.
func CallSysV(code []byte, args ...uint64) (uint64, error) {
	if !Supported() {
		return 0, errUnsupported
	}
	stack, err := MmapMemory(NativeStackSize)
	if err != nil {
		return 0, err
	}
	defer func() { _ = munmap(stack) }()

	var regs [6]uint64
	n := copy(regs[:], args)
	onStack := args[n:]
	// The stack pointer is 16-byte aligned at the call, with the first stack argument at it.
	sp := (len(stack) - 8*len(onStack)) &^ 15
	for i, a := range onStack {
		binary.LittleEndian.PutUint64(stack[sp+8*i:], a)
	}
	ret := callSysV(uintptr(unsafe.Pointer(&code[0])), uintptr(unsafe.Pointer(&stack[sp])), &regs)
	return ret, nil
}
