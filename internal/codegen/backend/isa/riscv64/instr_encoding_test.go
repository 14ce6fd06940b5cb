package riscv64

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twitchyliquid64/golang-asm/obj"
	asmriscv "github.com/twitchyliquid64/golang-asm/obj/riscv"

	"github.com/mickey951112/wasmtime/internal/asm/golang_asm"
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

var (
	a0VReg  = regalloc.FromRealReg(a0, regalloc.RegTypeInt)
	a1VReg  = regalloc.FromRealReg(a1, regalloc.RegTypeInt)
	a2VReg  = regalloc.FromRealReg(a2, regalloc.RegTypeInt)
	fa0VReg = regalloc.FromRealReg(f10, regalloc.RegTypeFloat)
	fa1VReg = regalloc.FromRealReg(f11, regalloc.RegTypeFloat)
	fa2VReg = regalloc.FromRealReg(f12, regalloc.RegTypeFloat)
	v1VReg  = regalloc.FromRealReg(v1, regalloc.RegTypeVector)
	v2VReg  = regalloc.FromRealReg(v2, regalloc.RegTypeVector)
	v3VReg  = regalloc.FromRealReg(v3, regalloc.RegTypeVector)
)

func newSetupForEncoding(ext target.Extensions) (*machine, backend.Compiler) {
	d := target.NewDescriptor(target.ArchRISCV64)
	d.Extensions = ext
	m := NewBackend().(*machine)
	c := backend.NewCompiler(context.Background(), m, ssa.NewBuilder(), &d)
	return m, c
}

func TestMachine_encodeInstr(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(i *instruction)
		want  string
	}{
		{name: "ret", setup: func(i *instruction) { i.asRet(0) }, want: "67800000"},
		{name: "mv a0, a1", setup: func(i *instruction) { i.asMov(a0VReg, a1VReg) }, want: "13850500"},
		{name: "add a0, a1, a2", setup: func(i *instruction) { i.asALU(aluOpAdd, a0VReg, a1VReg, a2VReg) }, want: "3385c500"},
		{name: "subw a0, a1, a2", setup: func(i *instruction) { i.asALU(aluOpSubw, a0VReg, a1VReg, a2VReg) }, want: "3b85c540"},
		{name: "mul a0, a1, a2", setup: func(i *instruction) { i.asALU(aluOpMul, a0VReg, a1VReg, a2VReg) }, want: "3385c502"},
		{name: "divu a0, a1, a2", setup: func(i *instruction) { i.asALU(aluOpDivu, a0VReg, a1VReg, a2VReg) }, want: "33d5c502"},
		{name: "sltu a0, a1, a2", setup: func(i *instruction) { i.asALU(aluOpSltu, a0VReg, a1VReg, a2VReg) }, want: "33b5c500"},
		{name: "andn a0, a1, a2", setup: func(i *instruction) { i.asALU(aluOpAndn, a0VReg, a1VReg, a2VReg) }, want: "33f5c540"},
		{name: "sh2add a0, a1, a2", setup: func(i *instruction) { i.asALU(aluOpSh2add, a0VReg, a1VReg, a2VReg) }, want: "33c5c520"},
		{name: "bset a0, a1, a2", setup: func(i *instruction) { i.asALU(aluOpBset, a0VReg, a1VReg, a2VReg) }, want: "3395c528"},
		{name: "addi a0, a1, -16", setup: func(i *instruction) { i.asALUImm(aluOpAdd, a0VReg, a1VReg, -16) }, want: "138505ff"},
		{name: "srai a0, a1, 63", setup: func(i *instruction) { i.asALUImm(aluOpSra, a0VReg, a1VReg, 63) }, want: "13d5f543"},
		{name: "sraiw a0, a1, 31", setup: func(i *instruction) { i.asALUImm(aluOpSraw, a0VReg, a1VReg, 31) }, want: "1bd5f541"},
		{name: "rori a0, a1, 8", setup: func(i *instruction) { i.asALUImm(aluOpRor, a0VReg, a1VReg, 8) }, want: "13d58560"},
		{name: "clz a0, a1", setup: func(i *instruction) { i.asBitRR(bitOpClz, a0VReg, a1VReg) }, want: "13950560"},
		{name: "cpopw a0, a1", setup: func(i *instruction) { i.asBitRR(bitOpCpopw, a0VReg, a1VReg) }, want: "1b952560"},
		{name: "rev8 a0, a1", setup: func(i *instruction) { i.asBitRR(bitOpRev8, a0VReg, a1VReg) }, want: "13d5856b"},
		{name: "zext.h a0, a1", setup: func(i *instruction) { i.asBitRR(bitOpZextH, a0VReg, a1VReg) }, want: "3bc50508"},
		{name: "sext.b a0, a1", setup: func(i *instruction) { i.asBitRR(bitOpSextB, a0VReg, a1VReg) }, want: "13954560"},
		{name: "sext.w a0, a1", setup: func(i *instruction) { i.asExtend(a0VReg, a1VReg, 32, true) }, want: "1b850500"},
		{name: "zext.b a0, a1", setup: func(i *instruction) { i.asExtend(a0VReg, a1VReg, 8, false) }, want: "13f5f50f"},
		{
			name:  "zext.w a0, a1 by shifts",
			setup: func(i *instruction) { i.asExtend(a0VReg, a1VReg, 32, false) },
			want:  "13950502" + "13550502",
		},
		{
			name:  "ld a0, 8(a1)",
			setup: func(i *instruction) { i.asLoad(load64, a0VReg, newAmodeRegImm(a1VReg, 8)) },
			want:  "03b58500",
		},
		{
			name:  "lbu a0, 0(a1)",
			setup: func(i *instruction) { i.asLoad(uLoad8, a0VReg, newAmodeRegImm(a1VReg, 0)) },
			want:  "03c50500",
		},
		{
			name:  "sw a0, -4(a1)",
			setup: func(i *instruction) { i.asStore(store32, a0VReg, newAmodeRegImm(a1VReg, -4)) },
			want:  "23aea5fe",
		},
		{
			name:  "sd ra, 8(sp)",
			setup: func(i *instruction) { i.asStore(store64, raVReg, newAmodeRegImm(spVReg, 8)) },
			want:  "23341100",
		},
		{name: "addi sp, sp, -16", setup: func(i *instruction) { i.asAdjustSP(-16) }, want: "130101ff"},
		{
			name:  "fadd.d fa0, fa1, fa2",
			setup: func(i *instruction) { i.asFpuRRR(fpuOpAdd, fa0VReg, fa1VReg, fa2VReg, 64) },
			want:  "53f5c502",
		},
		{
			name:  "fneg.s fa0, fa1",
			setup: func(i *instruction) { i.asFpuRRR(fpuOpSgnjn, fa0VReg, fa1VReg, fa1VReg, 32) },
			want:  "5395b520",
		},
		{
			name:  "fmin.d fa0, fa1, fa2",
			setup: func(i *instruction) { i.asFpuRRR(fpuOpMin, fa0VReg, fa1VReg, fa2VReg, 64) },
			want:  "5385c52a",
		},
		{name: "fsqrt.d fa0, fa1", setup: func(i *instruction) { i.asFpuRR(fpuOpSqrt, fa0VReg, fa1VReg, 64) }, want: "53f5055a"},
		{name: "fcvt.s.d fa0, fa1", setup: func(i *instruction) { i.asFpuRR(fpuOpCvtToS, fa0VReg, fa1VReg, 32) }, want: "53f51540"},
		{name: "fcvt.d.s fa0, fa1", setup: func(i *instruction) { i.asFpuRR(fpuOpCvtToD, fa0VReg, fa1VReg, 64) }, want: "53850542"},
		{
			name:  "feq.d a0, fa1, fa2",
			setup: func(i *instruction) { i.asFpuCmp(fpuCmpOpFeq, a0VReg, fa1VReg, fa2VReg, 64) },
			want:  "53a5c5a2",
		},
		{
			name:  "flt.s a0, fa1, fa2",
			setup: func(i *instruction) { i.asFpuCmp(fpuCmpOpFlt, a0VReg, fa1VReg, fa2VReg, 32) },
			want:  "5395c5a0",
		},
		{name: "fmv.d.x fa0, a1", setup: func(i *instruction) { i.asMovToFPU(fa0VReg, a1VReg, 64) }, want: "538505f2"},
		{name: "fmv.x.w a0, fa1", setup: func(i *instruction) { i.asMovFromFPU(a0VReg, fa1VReg, 32) }, want: "538505e0"},
		{name: "fcvt.d.l fa0, a1", setup: func(i *instruction) { i.asIntToFpu(fa0VReg, a1VReg, true, true, 64) }, want: "53f525d2"},
		{name: "fcvt.s.wu fa0, a1", setup: func(i *instruction) { i.asIntToFpu(fa0VReg, a1VReg, false, false, 32) }, want: "53f515d0"},
		{name: "fmv.d fa0, fa1", setup: func(i *instruction) { i.asFpuMov(fa0VReg, fa1VReg) }, want: "5385b522"},
		{
			name:  "vadd.vv v1, v2, v3 e32",
			setup: func(i *instruction) { i.asVecRRR(vecOpAdd, v1VReg, v2VReg, v3VReg, 32) },
			want:  "577002cd" + "d7802102",
		},
		{
			name:  "vfadd.vv v1, v2, v3 e64",
			setup: func(i *instruction) { i.asVecRRR(vecOpFadd, v1VReg, v2VReg, v3VReg, 64) },
			want:  "577081cd" + "d7902102",
		},
		{
			name:  "vsll.vx v1, v2, a0 e16",
			setup: func(i *instruction) { i.asVecRRX(vecOpSll, v1VReg, v2VReg, a0VReg, 16) },
			want:  "577084cc" + "d7402596",
		},
		{
			name:  "vnot.v v1, v2",
			setup: func(i *instruction) { i.asVecMisc(vecOpNot, v1VReg, v2VReg, 8) },
			want:  "577008cc" + "d7b02f2e",
		},
		{
			name:  "vfsqrt.v v1, v2 e32",
			setup: func(i *instruction) { i.asVecMisc(vecOpFsqrt, v1VReg, v2VReg, 32) },
			want:  "577002cd" + "d710204e",
		},
		{
			name:  "vfcvt.f.x.v v1, v2 e64",
			setup: func(i *instruction) { i.asVecMisc(vecOpFcvtFromX, v1VReg, v2VReg, 64) },
			want:  "577081cd" + "d790214a",
		},
		{name: "vmv1r.v v1, v2", setup: func(i *instruction) { i.asVecMov(v1VReg, v2VReg) }, want: "d730209e"},
		{
			name:  "vmv.v.x v1, a0 e32",
			setup: func(i *instruction) { i.asVecSplat(v1VReg, a0VReg, 32) },
			want:  "577002cd" + "d740055e",
		},
		{
			name:  "extract lane 1 of i32x4",
			setup: func(i *instruction) { i.asVecExtractLane(a0VReg, v2VReg, 1, 32) },
			want:  "577002cd" + "d7bf203e" + "5725f043",
		},
		{
			name:  "vle8.v v1, (a1)",
			setup: func(i *instruction) { i.asLoad(vecLoad, v1VReg, newAmodeRegImm(a1VReg, 0)) },
			want:  "938f0500" + "577008cc" + "87800f02",
		},
		{
			name:  "fmin_pseudo f32x4",
			setup: func(i *instruction) { i.asVecSeq(vecOpFminPseudo, v1VReg, v2VReg, v3VReg, 32) },
			want:  "577002cd" + "5710316e" + "d780215c",
		},
		{
			name:  "fmax_pseudo f64x2",
			setup: func(i *instruction) { i.asVecSeq(vecOpFmaxPseudo, v1VReg, v2VReg, v3VReg, 64) },
			want:  "577081cd" + "5790216e" + "d780215c",
		},
		{
			name:  "fmin f64x2",
			setup: func(i *instruction) { i.asVecSeq(vecOpFmin, v1VReg, v2VReg, v3VReg, 64) },
			// vmfeq.vv v0, v2, v2; vmfeq.vv v31, v3, v3; vmnand.mm v0, v0, v31; vfmin.vv v1, v2, v3;
			// lui t5, 0x7ff80; slli t5, t5, 32; vmerge.vxm v1, v1, t5, v0
			want: "577081cd" + "57102162" + "d79f3162" + "57a00f76" + "d7902112" + "370ff87f" + "131f0f02" + "d7401f5c",
		},
		{
			name:  "fmax f32x4",
			setup: func(i *instruction) { i.asVecSeq(vecOpFmax, v1VReg, v2VReg, v3VReg, 32) },
			want:  "577002cd" + "57102162" + "d79f3162" + "57a00f76" + "d790211a" + "370fc07f" + "d7401f5c",
		},
		{
			name:  "iadd_pairwise i32x4",
			setup: func(i *instruction) { i.asVecSeq(vecOpIaddPairwise, v1VReg, v2VReg, v3VReg, 32) },
			// vid.v v31; vand.vi v31, v31, 1; vmseq.vi v0, v31, 0; vslidedown.vi v31, v3, 1;
			// vadd.vv v31, v31, v3; vcompress.vm v1, v31, v0; vslideup.vi v31, v1, 2;
			// vslidedown.vi v1, v2, 1; vadd.vv v1, v1, v2; vsetivli tu; vcompress.vm v31, v1, v0; vmv1r.v v1, v31
			want: "577002cd" + "d7af0852" + "d7bff027" + "5730f063" + "d7bf303e" + "d78ff103" + "d720f05f" +
				"d7bf113a" + "d7b0203e" + "d7001102" + "577002c9" + "d72f105e" + "d730f09f",
		},
		{name: "li a0, 5", setup: func(i *instruction) { i.asLoadConst(a0VReg, 5) }, want: "13055000"},
		{name: "li a0, -1", setup: func(i *instruction) { i.asLoadConst(a0VReg, -1) }, want: "1305f0ff"},
		{name: "li a0, 0x12345", setup: func(i *instruction) { i.asLoadConst(a0VReg, 0x12345) }, want: "37250100" + "1b055534"},
		{
			name:  "li a0, 0x1_0000_0001",
			setup: func(i *instruction) { i.asLoadConst(a0VReg, 0x1_0000_0001) },
			want:  "13051000" + "13150502" + "13051500",
		},
		{name: "unimp", setup: func(i *instruction) { i.asUDF(codegenapi.TrapCodeUnreachable) }, want: "731000c0"},
		{
			name:  "trap if a0 == 0",
			setup: func(i *instruction) { i.asTrapIf(condEq, a0VReg, zeroVReg, codegenapi.TrapCodeIntegerDivisionByZero) },
			want:  "63140500" + "731000c0",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			m, c := newSetupForEncoding(0)
			i := m.allocateInstr()
			tc.setup(i)
			m.encodeInstr(i)
			require.Equal(t, tc.want, hex.EncodeToString(c.Buf()))
		})
	}
}

func TestMachine_encodeExtend_extensions(t *testing.T) {
	for _, tc := range []struct {
		name   string
		ext    target.Extensions
		from   byte
		signed bool
		want   string
	}{
		{name: "zext.w", ext: target.ExtZba, from: 32, want: "3b850508"},
		{name: "zext.h", ext: target.ExtZbb, from: 16, want: "3bc50508"},
		{name: "sext.b", ext: target.ExtZbb, from: 8, signed: true, want: "13954560"},
		{name: "sext.b by shifts", from: 8, signed: true, want: "13958503" + "13558543"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			m, c := newSetupForEncoding(tc.ext)
			m.encodeInstr(m.allocateInstr().asExtend(a0VReg, a1VReg, tc.from, tc.signed))
			require.Equal(t, tc.want, hex.EncodeToString(c.Buf()))
		})
	}
}

func TestMachine_encodeInstr_trapSite(t *testing.T) {
	m, c := newSetupForEncoding(0)
	a := newAmodeRegImm(a1VReg, 0)
	a.trap = codegenapi.TrapCodeHeapOutOfBounds
	m.encodeInstr(m.allocateInstr().asLoad(uLoad32, a0VReg, a))
	require.Equal(t, 4, len(c.Buf()))
}

func TestFitsImm12(t *testing.T) {
	for _, tc := range []struct {
		v  int64
		ok bool
	}{
		{v: 0, ok: true},
		{v: 2047, ok: true},
		{v: -2048, ok: true},
		{v: 2048},
		{v: -2049},
	} {
		require.Equal(t, tc.ok, fitsImm12(tc.v), "%d", tc.v)
	}
}

// TestMachine_encodeInstr_goasm checks the encoder against the Go assembler, which takes the second source
// register in Reg and the first in From.
func TestMachine_encodeInstr_goasm(t *testing.T) {
	reg := golang_asm.Reg
	for _, tc := range []struct {
		name  string
		setup func(i *instruction)
		as    obj.As
		from  obj.Addr
		reg   int16
		to    obj.Addr
	}{
		{
			name:  "add",
			setup: func(i *instruction) { i.asALU(aluOpAdd, a0VReg, a1VReg, a2VReg) },
			as:    asmriscv.AADD, from: reg(asmriscv.REG_X12), reg: asmriscv.REG_X11, to: reg(asmriscv.REG_X10),
		},
		{
			name:  "subw",
			setup: func(i *instruction) { i.asALU(aluOpSubw, a0VReg, a1VReg, a2VReg) },
			as:    asmriscv.ASUBW, from: reg(asmriscv.REG_X12), reg: asmriscv.REG_X11, to: reg(asmriscv.REG_X10),
		},
		{
			name:  "sltu",
			setup: func(i *instruction) { i.asALU(aluOpSltu, a0VReg, a1VReg, a2VReg) },
			as:    asmriscv.ASLTU, from: reg(asmriscv.REG_X12), reg: asmriscv.REG_X11, to: reg(asmriscv.REG_X10),
		},
		{
			name:  "xor",
			setup: func(i *instruction) { i.asALU(aluOpXor, a0VReg, a1VReg, a2VReg) },
			as:    asmriscv.AXOR, from: reg(asmriscv.REG_X12), reg: asmriscv.REG_X11, to: reg(asmriscv.REG_X10),
		},
		{
			name:  "mul",
			setup: func(i *instruction) { i.asALU(aluOpMul, a0VReg, a1VReg, a2VReg) },
			as:    asmriscv.AMUL, from: reg(asmriscv.REG_X12), reg: asmriscv.REG_X11, to: reg(asmriscv.REG_X10),
		},
		{
			name:  "divu",
			setup: func(i *instruction) { i.asALU(aluOpDivu, a0VReg, a1VReg, a2VReg) },
			as:    asmriscv.ADIVU, from: reg(asmriscv.REG_X12), reg: asmriscv.REG_X11, to: reg(asmriscv.REG_X10),
		},
		{
			name:  "addi",
			setup: func(i *instruction) { i.asALUImm(aluOpAdd, a0VReg, a1VReg, -16) },
			as:    asmriscv.AADDI, from: golang_asm.Const(-16), reg: asmriscv.REG_X11, to: reg(asmriscv.REG_X10),
		},
		{
			name:  "srai",
			setup: func(i *instruction) { i.asALUImm(aluOpSra, a0VReg, a1VReg, 63) },
			as:    asmriscv.ASRAI, from: golang_asm.Const(63), reg: asmriscv.REG_X11, to: reg(asmriscv.REG_X10),
		},
		{
			name:  "ld",
			setup: func(i *instruction) { i.asLoad(load64, a0VReg, newAmodeRegImm(a1VReg, 8)) },
			as:    asmriscv.ALD, from: golang_asm.Mem(asmriscv.REG_X11, 8), to: reg(asmriscv.REG_X10),
		},
		{
			name:  "fsgnj.d",
			setup: func(i *instruction) { i.asFpuRRR(fpuOpSgnj, fa0VReg, fa1VReg, fa2VReg, 64) },
			as:    asmriscv.AFSGNJD, from: reg(asmriscv.REG_F12), reg: asmriscv.REG_F11, to: reg(asmriscv.REG_F10),
		},
		{
			name:  "feq.d",
			setup: func(i *instruction) { i.asFpuCmp(fpuCmpOpFeq, a0VReg, fa1VReg, fa2VReg, 64) },
			as:    asmriscv.AFEQD, from: reg(asmriscv.REG_F12), reg: asmriscv.REG_F11, to: reg(asmriscv.REG_X10),
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			a, err := golang_asm.NewAssembler("riscv64")
			require.NoError(t, err)
			if tc.reg != 0 {
				a.Op3(tc.as, tc.from, tc.reg, tc.to)
			} else {
				a.Op(tc.as, tc.from, tc.to)
			}
			want := a.Assemble()
			require.GreaterOrEqual(t, len(want), 4)

			m, c := newSetupForEncoding(0)
			i := m.allocateInstr()
			tc.setup(i)
			m.encodeInstr(i)
			require.Equal(t, hex.EncodeToString(want[:4]), hex.EncodeToString(c.Buf()))
		})
	}
}
