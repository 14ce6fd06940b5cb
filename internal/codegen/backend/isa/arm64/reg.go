package arm64

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
)

// Arm64-specific registers.
//
// See https://developer.arm.com/documentation/dui0801/a/Overview-of-AArch64-state/Predeclared-core-register-names-in-AArch64-state
const (
	// General purpose registers. Note that we do not distinguish wn and xn registers
	// because they are the same from the perspective of register allocator, and
	// the size can be determined by the type of the instruction.

	x0 = regalloc.RealRegInvalid + 1 + iota
	x1
	x2
	x3
	x4
	x5
	x6
	x7
	x8
	x9
	x10
	x11
	x12
	x13
	x14
	x15
	x16
	x17
	x18
	x19
	x20
	x21
	x22
	x23
	x24
	x25
	x26
	x27
	x28
	x29
	x30

	// Vector registers. Note that we do not distinguish vn and dn, ... registers
	// because they are the same from the perspective of register allocator, and
	// the size can be determined by the type of the instruction.

	v0
	v1
	v2
	v3
	v4
	v5
	v6
	v7
	v8
	v9
	v10
	v11
	v12
	v13
	v14
	v15
	v16
	v17
	v18
	v19
	v20
	v21
	v22
	v23
	v24
	v25
	v26
	v27
	v28
	v29
	v30
	v31

	// Special registers. They are numbered above the register sets, so that the allocator never
	// counts them as clobbered.

	xzr
	sp
	lr = x30
	fp = x29
)

var (
	x0VReg  = regalloc.FromRealReg(x0, regalloc.RegTypeInt)
	x1VReg  = regalloc.FromRealReg(x1, regalloc.RegTypeInt)
	x9VReg  = regalloc.FromRealReg(x9, regalloc.RegTypeInt)
	x16VReg = regalloc.FromRealReg(x16, regalloc.RegTypeInt)
	x17VReg = regalloc.FromRealReg(x17, regalloc.RegTypeInt)
	fpVReg  = regalloc.FromRealReg(fp, regalloc.RegTypeInt)
	lrVReg  = regalloc.FromRealReg(lr, regalloc.RegTypeInt)
	xzrVReg = regalloc.FromRealReg(xzr, regalloc.RegTypeInt)
	spVReg  = regalloc.FromRealReg(sp, regalloc.RegTypeInt)

	v0VReg  = regalloc.FromRealReg(v0, regalloc.RegTypeFloat)
	v31VReg = regalloc.FromRealReg(v31, regalloc.RegTypeFloat)
)

// tmpReg and tmpReg2 are the intra-procedure-call scratch registers ip0 and ip1, never allocated. The prologue,
// the probes, the large offsets, the literals and the tail calls use them. tmpVec is the scratch vector register
// of the float conversions.
var (
	tmpReg  = x16VReg
	tmpReg2 = x17VReg
	tmpVec  = v31VReg
)

var regNames = [...]string{
	x0:  "x0",
	x1:  "x1",
	x2:  "x2",
	x3:  "x3",
	x4:  "x4",
	x5:  "x5",
	x6:  "x6",
	x7:  "x7",
	x8:  "x8",
	x9:  "x9",
	x10: "x10",
	x11: "x11",
	x12: "x12",
	x13: "x13",
	x14: "x14",
	x15: "x15",
	x16: "x16",
	x17: "x17",
	x18: "x18",
	x19: "x19",
	x20: "x20",
	x21: "x21",
	x22: "x22",
	x23: "x23",
	x24: "x24",
	x25: "x25",
	x26: "x26",
	x27: "x27",
	x28: "x28",
	x29: "fp",
	x30: "lr",
	v0:  "v0",
	v1:  "v1",
	v2:  "v2",
	v3:  "v3",
	v4:  "v4",
	v5:  "v5",
	v6:  "v6",
	v7:  "v7",
	v8:  "v8",
	v9:  "v9",
	v10: "v10",
	v11: "v11",
	v12: "v12",
	v13: "v13",
	v14: "v14",
	v15: "v15",
	v16: "v16",
	v17: "v17",
	v18: "v18",
	v19: "v19",
	v20: "v20",
	v21: "v21",
	v22: "v22",
	v23: "v23",
	v24: "v24",
	v25: "v25",
	v26: "v26",
	v27: "v27",
	v28: "v28",
	v29: "v29",
	v30: "v30",
	v31: "v31",
	xzr: "xzr",
	sp:  "sp",
}

// regNumberInEncoding is the register field of the instructions: xzr and sp are both 31, told apart by the
// instruction.
var regNumberInEncoding = func() (ret [sp + 1]uint32) {
	for r := x0; r <= x30; r++ {
		ret[r] = uint32(r - x0)
	}
	for r := v0; r <= v31; r++ {
		ret[r] = uint32(r - v0)
	}
	ret[xzr], ret[sp] = 31, 31
	return
}()

// dwarfReg returns the DWARF number of r: x0-x30 are 0-30, sp is 31 and v0-v31 are 64-95.
func dwarfReg(r regalloc.RealReg) uint16 {
	switch {
	case r >= v0 && r <= v31:
		return 64 + uint16(r-v0)
	case r == sp:
		return 31
	default:
		return uint16(r - x0)
	}
}

func formatVRegSized(r regalloc.VReg, size byte) string {
	if !r.IsRealReg() {
		return r.String()
	}
	rr := r.RealReg()
	name := regNames[rr]
	switch {
	case rr == sp:
		return name
	case rr == xzr:
		if size == 32 {
			return "wzr"
		}
		return name
	case rr >= v0:
		switch size {
		case 32:
			return "s" + name[1:]
		case 64:
			return "d" + name[1:]
		default:
			return "q" + name[1:]
		}
	case size == 32:
		return fmt.Sprintf("w%d", rr-x0)
	default:
		return name
	}
}

func formatVRegVec(r regalloc.VReg, arr vecArrangement, lane int) string {
	name := r.String()
	if r.IsRealReg() {
		name = regNames[r.RealReg()]
	}
	if lane >= 0 {
		return fmt.Sprintf("%s.%s[%d]", name, arr.elem(), lane)
	}
	return name + "." + arr.String()
}

// regInfo is the register information of AAPCS64. The caller saved registers come first so that the callee
// saved ones are only written, and thus saved in the prologue, under pressure. x16, x17 and v31 are scratch,
// x18 is the platform register.
var regInfo = &regalloc.RegisterInfo{
	AllocatableRegisters: [regalloc.NumRegType][]regalloc.RealReg{
		regalloc.RegTypeInt: {
			x0, x1, x2, x3, x4, x5, x6, x7, x8, x9, x10, x11, x12, x13, x14, x15,
			x19, x20, x21, x22, x23, x24, x25, x26, x27, x28,
		},
		regalloc.RegTypeFloat: {
			v0, v1, v2, v3, v4, v5, v6, v7,
			v16, v17, v18, v19, v20, v21, v22, v23, v24, v25, v26, v27, v28, v29, v30,
			v8, v9, v10, v11, v12, v13, v14, v15,
		},
		regalloc.RegTypeVector: {
			v0, v1, v2, v3, v4, v5, v6, v7,
			v16, v17, v18, v19, v20, v21, v22, v23, v24, v25, v26, v27, v28, v29, v30,
		},
	},
	// Only the low 64 bits of v8-v15 are preserved across calls, so full vectors never live in them.
	CalleeSavedRegisters: regalloc.NewRegSet(
		x19, x20, x21, x22, x23, x24, x25, x26, x27, x28,
		v8, v9, v10, v11, v12, v13, v14, v15,
	),
	CallerSavedRegisters: regalloc.NewRegSet(
		x0, x1, x2, x3, x4, x5, x6, x7, x8, x9, x10, x11, x12, x13, x14, x15, x16, x17,
		v0, v1, v2, v3, v4, v5, v6, v7,
		v16, v17, v18, v19, v20, v21, v22, v23, v24, v25, v26, v27, v28, v29, v30, v31,
	),
	RealRegToVReg: func() []regalloc.VReg {
		ret := make([]regalloc.VReg, sp+1)
		for r := x0; r <= x30; r++ {
			ret[r] = regalloc.FromRealReg(r, regalloc.RegTypeInt)
		}
		for r := v0; r <= v31; r++ {
			ret[r] = regalloc.FromRealReg(r, regalloc.RegTypeFloat)
		}
		ret[xzr], ret[sp] = xzrVReg, spVReg
		return ret
	}(),
	RealRegName: func(r regalloc.RealReg) string {
		if int(r) < len(regNames) && regNames[r] != "" {
			return regNames[r]
		}
		return fmt.Sprintf("r%d", r)
	},
}

// abiRegs are the AAPCS64 argument and result registers, shared by every calling convention.
var abiRegs = &backend.ABIRegs{
	ArgInts:            []regalloc.RealReg{x0, x1, x2, x3, x4, x5, x6, x7},
	ArgFloats:          []regalloc.RealReg{v0, v1, v2, v3, v4, v5, v6, v7},
	RetInts:            []regalloc.RealReg{x0, x1},
	RetFloats:          []regalloc.RealReg{v0, v1},
	VectorsInFloatRegs: true,
}
