package riscv64

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
)

// RISC-V registers, by their ABI names.
//
// The register sets of the allocator hold 64 registers, so only the allocatable ones are numbered below 64:
// the integer registers but the specials, f0-f30 and eight vector registers. The specials, the scratch
// registers and the vector mask register come after them.
const (
	t0 = regalloc.RealRegInvalid + 1 + iota
	t1
	t2
	s1
	a0
	a1
	a2
	a3
	a4
	a5
	a6
	a7
	s2
	s3
	s4
	s5
	s6
	s7
	s8
	s9
	s10
	s11
	t3
	t4

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
	f16
	f17
	f18
	f19
	f20
	f21
	f22
	f23
	f24
	f25
	f26
	f27
	f28
	f29
	f30

	v1
	v2
	v3
	v4
	v5
	v6
	v7
	v8

	// Special registers, never allocated.

	zero
	ra
	sp
	gp
	tp
	fp
	t5
	t6
	f31
	v0
	v31
)

var (
	zeroVReg = regalloc.FromRealReg(zero, regalloc.RegTypeInt)
	raVReg   = regalloc.FromRealReg(ra, regalloc.RegTypeInt)
	spVReg   = regalloc.FromRealReg(sp, regalloc.RegTypeInt)
	fpVReg   = regalloc.FromRealReg(fp, regalloc.RegTypeInt)
	t0VReg   = regalloc.FromRealReg(t0, regalloc.RegTypeInt)
	t5VReg   = regalloc.FromRealReg(t5, regalloc.RegTypeInt)
	t6VReg   = regalloc.FromRealReg(t6, regalloc.RegTypeInt)
	f31VReg  = regalloc.FromRealReg(f31, regalloc.RegTypeFloat)
	v0VReg   = regalloc.FromRealReg(v0, regalloc.RegTypeVector)
	v31VReg  = regalloc.FromRealReg(v31, regalloc.RegTypeVector)
)

// t5 and t6 are the integer scratch registers of the sequences, the large offsets and the literals. f31 is the
// float scratch of the conversions and the roundings, v31 the vector scratch of the lane moves.
var (
	tmpReg   = t5VReg
	tmpReg2  = t6VReg
	tmpFloat = f31VReg
	tmpVec   = v31VReg
)

var regNames = [...]string{
	t0: "t0", t1: "t1", t2: "t2", s1: "s1",
	a0: "a0", a1: "a1", a2: "a2", a3: "a3", a4: "a4", a5: "a5", a6: "a6", a7: "a7",
	s2: "s2", s3: "s3", s4: "s4", s5: "s5", s6: "s6", s7: "s7", s8: "s8", s9: "s9", s10: "s10", s11: "s11",
	t3: "t3", t4: "t4",
	f0: "ft0", f1: "ft1", f2: "ft2", f3: "ft3", f4: "ft4", f5: "ft5", f6: "ft6", f7: "ft7",
	f8: "fs0", f9: "fs1", f10: "fa0", f11: "fa1", f12: "fa2", f13: "fa3", f14: "fa4", f15: "fa5", f16: "fa6",
	f17: "fa7", f18: "fs2", f19: "fs3", f20: "fs4", f21: "fs5", f22: "fs6", f23: "fs7", f24: "fs8", f25: "fs9",
	f26: "fs10", f27: "fs11", f28: "ft8", f29: "ft9", f30: "ft10", f31: "ft11",
	v1: "v1", v2: "v2", v3: "v3", v4: "v4", v5: "v5", v6: "v6", v7: "v7", v8: "v8",
	zero: "zero", ra: "ra", sp: "sp", gp: "gp", tp: "tp", fp: "fp", t5: "t5", t6: "t6", v0: "v0", v31: "v31",
}

// regNumberInEncoding is the register field of the instructions.
var regNumberInEncoding = func() (ret [v31 + 1]uint32) {
	ints := map[regalloc.RealReg]uint32{
		zero: 0, ra: 1, sp: 2, gp: 3, tp: 4, t0: 5, t1: 6, t2: 7, fp: 8, s1: 9,
		a0: 10, a1: 11, a2: 12, a3: 13, a4: 14, a5: 15, a6: 16, a7: 17,
		s2: 18, s3: 19, s4: 20, s5: 21, s6: 22, s7: 23, s8: 24, s9: 25, s10: 26, s11: 27,
		t3: 28, t4: 29, t5: 30, t6: 31,
	}
	for r, n := range ints {
		ret[r] = n
	}
	for r := f0; r <= f30; r++ {
		ret[r] = uint32(r - f0)
	}
	ret[f31] = 31
	for r := v1; r <= v8; r++ {
		ret[r] = uint32(r-v1) + 1
	}
	ret[v0], ret[v31] = 0, 31
	return
}()

func isFloatReg(r regalloc.RealReg) bool { return (r >= f0 && r <= f30) || r == f31 }

func isVectorReg(r regalloc.RealReg) bool { return (r >= v1 && r <= v8) || r == v0 || r == v31 }

// dwarfReg returns the DWARF number of r: x0-x31 are 0-31, f0-f31 are 32-63 and v0-v31 are 96-127.
func dwarfReg(r regalloc.RealReg) uint16 {
	n := uint16(regNumberInEncoding[r])
	switch {
	case isFloatReg(r):
		return 32 + n
	case isVectorReg(r):
		return 96 + n
	default:
		return n
	}
}

func formatVReg(r regalloc.VReg) string {
	if !r.IsRealReg() {
		return r.String()
	}
	return regNames[r.RealReg()]
}

// regInfo is the register information of the LP64D calling convention. The caller saved registers come first
// so that the callee saved ones are only written under pressure. t5, t6, ft11 and v31 are scratch, and the
// vector registers are all caller saved.
var regInfo = &regalloc.RegisterInfo{
	AllocatableRegisters: [regalloc.NumRegType][]regalloc.RealReg{
		regalloc.RegTypeInt: {
			a0, a1, a2, a3, a4, a5, a6, a7, t0, t1, t2, t3, t4,
			s1, s2, s3, s4, s5, s6, s7, s8, s9, s10, s11,
		},
		regalloc.RegTypeFloat: {
			f10, f11, f12, f13, f14, f15, f16, f17,
			f0, f1, f2, f3, f4, f5, f6, f7, f28, f29, f30,
			f8, f9, f18, f19, f20, f21, f22, f23, f24, f25, f26, f27,
		},
		regalloc.RegTypeVector: {v1, v2, v3, v4, v5, v6, v7, v8},
	},
	CalleeSavedRegisters: regalloc.NewRegSet(
		s1, s2, s3, s4, s5, s6, s7, s8, s9, s10, s11,
		f8, f9, f18, f19, f20, f21, f22, f23, f24, f25, f26, f27,
	),
	CallerSavedRegisters: regalloc.NewRegSet(
		a0, a1, a2, a3, a4, a5, a6, a7, t0, t1, t2, t3, t4,
		f0, f1, f2, f3, f4, f5, f6, f7, f10, f11, f12, f13, f14, f15, f16, f17, f28, f29, f30,
		v1, v2, v3, v4, v5, v6, v7, v8,
	),
	RealRegToVReg: func() []regalloc.VReg {
		ret := make([]regalloc.VReg, v31+1)
		for r := t0; r <= t4; r++ {
			ret[r] = regalloc.FromRealReg(r, regalloc.RegTypeInt)
		}
		for r := f0; r <= f30; r++ {
			ret[r] = regalloc.FromRealReg(r, regalloc.RegTypeFloat)
		}
		for r := v1; r <= v8; r++ {
			ret[r] = regalloc.FromRealReg(r, regalloc.RegTypeVector)
		}
		for _, r := range []regalloc.RealReg{zero, ra, sp, gp, tp, fp, t5, t6} {
			ret[r] = regalloc.FromRealReg(r, regalloc.RegTypeInt)
		}
		ret[f31] = f31VReg
		ret[v0], ret[v31] = v0VReg, v31VReg
		return ret
	}(),
	RealRegName: func(r regalloc.RealReg) string {
		if int(r) < len(regNames) && regNames[r] != "" {
			return regNames[r]
		}
		return fmt.Sprintf("r%d", r)
	},
}

// abiRegs are the LP64D argument and result registers. Vectors have no argument registers in the base
// calling convention, so they are passed in memory.
var abiRegs = &backend.ABIRegs{
	ArgInts:   []regalloc.RealReg{a0, a1, a2, a3, a4, a5, a6, a7},
	ArgFloats: []regalloc.RealReg{f10, f11, f12, f13, f14, f15, f16, f17},
	RetInts:   []regalloc.RealReg{a0, a1},
	RetFloats: []regalloc.RealReg{f10, f11},
}
