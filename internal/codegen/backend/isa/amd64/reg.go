package amd64

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
)

// Amd64-specific registers.
const (
	// rax is a gp register.
	rax = regalloc.RealRegInvalid + 1 + iota
	// rcx is a gp register.
	rcx
	// rdx is a gp register.
	rdx
	// rbx is a gp register.
	rbx
	// rsp is a gp register.
	rsp
	// rbp is a gp register.
	rbp
	// rsi is a gp register.
	rsi
	// rdi is a gp register.
	rdi
	// r8 is a gp register.
	r8
	// r9 is a gp register.
	r9
	// r10 is a gp register.
	r10
	// r11 is a gp register.
	r11
	// r12 is a gp register.
	r12
	// r13 is a gp register.
	r13
	// r14 is a gp register.
	r14
	// r15 is a gp register.
	r15

	// xmm0 is a vector register.
	xmm0
	// xmm1 is a vector register.
	xmm1
	// xmm2 is a vector register.
	xmm2
	// xmm3 is a vector register.
	xmm3
	// xmm4 is a vector register.
	xmm4
	// xmm5 is a vector register.
	xmm5
	// xmm6 is a vector register.
	xmm6
	// xmm7 is a vector register.
	xmm7
	// xmm8 is a vector register.
	xmm8
	// xmm9 is a vector register.
	xmm9
	// xmm10 is a vector register.
	xmm10
	// xmm11 is a vector register.
	xmm11
	// xmm12 is a vector register.
	xmm12
	// xmm13 is a vector register.
	xmm13
	// xmm14 is a vector register.
	xmm14
	// xmm15 is a vector register.
	xmm15
)

var (
	raxVReg = regalloc.FromRealReg(rax, regalloc.RegTypeInt)
	rcxVReg = regalloc.FromRealReg(rcx, regalloc.RegTypeInt)
	rdxVReg = regalloc.FromRealReg(rdx, regalloc.RegTypeInt)
	rbxVReg = regalloc.FromRealReg(rbx, regalloc.RegTypeInt)
	rspVReg = regalloc.FromRealReg(rsp, regalloc.RegTypeInt)
	rbpVReg = regalloc.FromRealReg(rbp, regalloc.RegTypeInt)
	rsiVReg = regalloc.FromRealReg(rsi, regalloc.RegTypeInt)
	rdiVReg = regalloc.FromRealReg(rdi, regalloc.RegTypeInt)
	r8VReg  = regalloc.FromRealReg(r8, regalloc.RegTypeInt)
	r9VReg  = regalloc.FromRealReg(r9, regalloc.RegTypeInt)
	r10VReg = regalloc.FromRealReg(r10, regalloc.RegTypeInt)
	r11VReg = regalloc.FromRealReg(r11, regalloc.RegTypeInt)
	r12VReg = regalloc.FromRealReg(r12, regalloc.RegTypeInt)
	r13VReg = regalloc.FromRealReg(r13, regalloc.RegTypeInt)
	r14VReg = regalloc.FromRealReg(r14, regalloc.RegTypeInt)
	r15VReg = regalloc.FromRealReg(r15, regalloc.RegTypeInt)

	xmm0VReg  = regalloc.FromRealReg(xmm0, regalloc.RegTypeFloat)
	xmm1VReg  = regalloc.FromRealReg(xmm1, regalloc.RegTypeFloat)
	xmm2VReg  = regalloc.FromRealReg(xmm2, regalloc.RegTypeFloat)
	xmm15VReg = regalloc.FromRealReg(xmm15, regalloc.RegTypeFloat)
)

// tmpGpr and tmpGpr2 are never allocated. The prologue, the probes, the jump tables and the tail calls
// use them as scratch.
var (
	tmpGpr  = r11VReg
	tmpGpr2 = r10VReg
)

var regNames = [...]string{
	rax:   "rax",
	rcx:   "rcx",
	rdx:   "rdx",
	rbx:   "rbx",
	rsp:   "rsp",
	rbp:   "rbp",
	rsi:   "rsi",
	rdi:   "rdi",
	r8:    "r8",
	r9:    "r9",
	r10:   "r10",
	r11:   "r11",
	r12:   "r12",
	r13:   "r13",
	r14:   "r14",
	r15:   "r15",
	xmm0:  "xmm0",
	xmm1:  "xmm1",
	xmm2:  "xmm2",
	xmm3:  "xmm3",
	xmm4:  "xmm4",
	xmm5:  "xmm5",
	xmm6:  "xmm6",
	xmm7:  "xmm7",
	xmm8:  "xmm8",
	xmm9:  "xmm9",
	xmm10: "xmm10",
	xmm11: "xmm11",
	xmm12: "xmm12",
	xmm13: "xmm13",
	xmm14: "xmm14",
	xmm15: "xmm15",
}

// dwarfRegs maps the registers to their DWARF numbers.
var dwarfRegs = [...]uint16{
	rax: 0, rdx: 1, rcx: 2, rbx: 3, rsi: 4, rdi: 5, rbp: 6, rsp: 7,
	r8: 8, r9: 9, r10: 10, r11: 11, r12: 12, r13: 13, r14: 14, r15: 15,
}

func formatVRegSized(r regalloc.VReg, size byte) string {
	if !r.IsRealReg() {
		return "%" + r.String()
	}
	rr := r.RealReg()
	name := regNames[rr]
	if rr >= xmm0 || size == 8 {
		return "%" + name
	}
	if rr >= r8 {
		switch size {
		case 4:
			return "%" + name + "d"
		case 2:
			return "%" + name + "w"
		default:
			return "%" + name + "b"
		}
	}
	switch size {
	case 4:
		return "%e" + name[1:]
	case 2:
		return "%" + name[1:]
	default:
		switch rr {
		case rax, rcx, rdx, rbx:
			return "%" + name[1:2] + "l"
		default:
			return "%" + name[1:] + "l"
		}
	}
}

// regInfo is the register information of the System V ABI. The caller saved registers come first so that the
// callee saved ones are only written, and thus saved in the prologue, under pressure.
var regInfo = &regalloc.RegisterInfo{
	AllocatableRegisters: [regalloc.NumRegType][]regalloc.RealReg{
		regalloc.RegTypeInt: {
			rax, rcx, rdx, rsi, rdi, r8, r9, rbx, r12, r13, r14, r15,
		},
		regalloc.RegTypeFloat: {
			xmm0, xmm1, xmm2, xmm3, xmm4, xmm5, xmm6, xmm7, xmm8, xmm9, xmm10, xmm11, xmm12, xmm13, xmm14, xmm15,
		},
		regalloc.RegTypeVector: {
			xmm0, xmm1, xmm2, xmm3, xmm4, xmm5, xmm6, xmm7, xmm8, xmm9, xmm10, xmm11, xmm12, xmm13, xmm14, xmm15,
		},
	},
	CalleeSavedRegisters: regalloc.NewRegSet(rbx, rbp, r12, r13, r14, r15),
	CallerSavedRegisters: regalloc.NewRegSet(
		rax, rcx, rdx, rsi, rdi, r8, r9, r10, r11,
		xmm0, xmm1, xmm2, xmm3, xmm4, xmm5, xmm6, xmm7, xmm8, xmm9, xmm10, xmm11, xmm12, xmm13, xmm14, xmm15,
	),
	RealRegToVReg: []regalloc.VReg{
		rax: raxVReg, rcx: rcxVReg, rdx: rdxVReg, rbx: rbxVReg, rsp: rspVReg, rbp: rbpVReg, rsi: rsiVReg, rdi: rdiVReg,
		r8: r8VReg, r9: r9VReg, r10: r10VReg, r11: r11VReg, r12: r12VReg, r13: r13VReg, r14: r14VReg, r15: r15VReg,
		xmm0: xmm0VReg, xmm1: xmm1VReg, xmm2: xmm2VReg, xmm15: xmm15VReg,
	},
	RealRegName: func(r regalloc.RealReg) string {
		if int(r) < len(regNames) && regNames[r] != "" {
			return regNames[r]
		}
		return fmt.Sprintf("r%d", r)
	},
}

// abiRegs are the System V argument and result registers. They are shared by every calling convention.
var abiRegs = &backend.ABIRegs{
	ArgInts:            []regalloc.RealReg{rdi, rsi, rdx, rcx, r8, r9},
	ArgFloats:          []regalloc.RealReg{xmm0, xmm1, xmm2, xmm3, xmm4, xmm5, xmm6, xmm7},
	RetInts:            []regalloc.RealReg{rax, rdx},
	RetFloats:          []regalloc.RealReg{xmm0, xmm1},
	VectorsInFloatRegs: true,
}
