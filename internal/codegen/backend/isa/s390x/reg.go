package s390x

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
)

// The general purpose registers, then the floating point ones. Vectors have no registers here since they
// are not lowered.
const (
	r0 = regalloc.RealRegInvalid + 1 + iota
	r1
	r2
	r3
	r4
	r5
	r6
	r7
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15
	f0
	f1
	f2
	f3
	f4
	f5
	f6
	f7
	f8
	f9
	f10
	f11
	f12
	f13
	f14
	f15
)

var (
	r0VReg  = regalloc.FromRealReg(r0, regalloc.RegTypeInt)
	r1VReg  = regalloc.FromRealReg(r1, regalloc.RegTypeInt)
	r14VReg = regalloc.FromRealReg(r14, regalloc.RegTypeInt)
	spVReg  = regalloc.FromRealReg(r15, regalloc.RegTypeInt)
)

// r0 and r1 are the scratch pair of the sequences: the even-odd pair of the divisions and multiplications,
// the literal pointer and the large offsets. r0 never serves as a base or an index, where it reads as zero.
// r14 holds the return address and r15 is the stack pointer.
const (
	encR0 = 0
	encR1 = 1
	encRA = 14
	encSP = 15
)

var regNames = [...]string{
	r0: "%r0", r1: "%r1", r2: "%r2", r3: "%r3", r4: "%r4", r5: "%r5", r6: "%r6", r7: "%r7",
	r8: "%r8", r9: "%r9", r10: "%r10", r11: "%r11", r12: "%r12", r13: "%r13", r14: "%r14", r15: "%r15",
	f0: "%f0", f1: "%f1", f2: "%f2", f3: "%f3", f4: "%f4", f5: "%f5", f6: "%f6", f7: "%f7",
	f8: "%f8", f9: "%f9", f10: "%f10", f11: "%f11", f12: "%f12", f13: "%f13", f14: "%f14", f15: "%f15",
}

func regNumberInEncoding(r regalloc.RealReg) uint32 {
	if r >= f0 {
		return uint32(r - f0)
	}
	return uint32(r - r0)
}

// dwarfReg returns the DWARF number of r, which is its number for the general purpose registers.
func dwarfReg(r regalloc.RealReg) uint16 { return uint16(regNumberInEncoding(r)) }

func formatVReg(r regalloc.VReg) string {
	if !r.IsRealReg() {
		return r.String()
	}
	return regNames[r.RealReg()]
}

// regInfo follows the ELF ABI: r2-r5 are volatile, r6-r13 are saved by the callee in the save area of its
// caller. f0-f7 are volatile. f8-f15 are callee saved in the frame, and left alone so that the prologue
// only saves general purpose registers.
var regInfo = &regalloc.RegisterInfo{
	AllocatableRegisters: [regalloc.NumRegType][]regalloc.RealReg{
		regalloc.RegTypeInt:   {r2, r3, r4, r5, r6, r7, r8, r9, r10, r11, r12, r13},
		regalloc.RegTypeFloat: {f1, f3, f5, f7, f0, f2, f4, f6},
	},
	CalleeSavedRegisters: regalloc.NewRegSet(r6, r7, r8, r9, r10, r11, r12, r13),
	CallerSavedRegisters: regalloc.NewRegSet(r2, r3, r4, r5, f0, f1, f2, f3, f4, f5, f6, f7),
	RealRegToVReg: func() []regalloc.VReg {
		ret := make([]regalloc.VReg, f15+1)
		for r := r0; r <= r15; r++ {
			ret[r] = regalloc.FromRealReg(r, regalloc.RegTypeInt)
		}
		for r := f0; r <= f15; r++ {
			ret[r] = regalloc.FromRealReg(r, regalloc.RegTypeFloat)
		}
		return ret
	}(),
	RealRegName: func(r regalloc.RealReg) string {
		if int(r) < len(regNames) && regNames[r] != "" {
			return regNames[r]
		}
		return fmt.Sprintf("r%d", r)
	},
}

// abiRegs are the argument and result registers. r6 is callee saved, so the tail calling convention does
// not pass arguments in it: the callee would restore the argument instead of the value of the caller.
// Floats go in the even registers f0 to f6 both ways.
var abiRegs = &backend.ABIRegs{
	ArgInts:     []regalloc.RealReg{r2, r3, r4, r5, r6},
	ArgFloats:   []regalloc.RealReg{f0, f2, f4, f6},
	RetInts:     []regalloc.RealReg{r2, r3},
	RetFloats:   []regalloc.RealReg{f0, f2, f4, f6},
	TailArgInts: []regalloc.RealReg{r2, r3, r4, r5},
}
