package arm64

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twitchyliquid64/golang-asm/obj"
	asmarm64 "github.com/twitchyliquid64/golang-asm/obj/arm64"

	"github.com/mickey951112/wasmtime/internal/asm/golang_asm"
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

var (
	x2VReg = regalloc.FromRealReg(x2, regalloc.RegTypeInt)
	v1VReg = regalloc.FromRealReg(v1, regalloc.RegTypeFloat)
	v2VReg = regalloc.FromRealReg(v2, regalloc.RegTypeFloat)
)

func newSetupForEncoding() (*machine, backend.Compiler) {
	d := target.NewDescriptor(target.ArchAArch64)
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
		{name: "ret", setup: func(i *instruction) { i.asRet(0) }, want: "c0035fd6"},
		{name: "mov x0, x1", setup: func(i *instruction) { i.asMove64(x0VReg, x1VReg) }, want: "e00301aa"},
		{name: "mov x0, sp", setup: func(i *instruction) { i.asMove64(x0VReg, spVReg) }, want: "e0030091"},
		{name: "movz x0, #0x1234", setup: func(i *instruction) { i.asLoadConst(x0VReg, 0x1234, true) }, want: "804682d2"},
		{name: "orr x0, xzr, #0xff", setup: func(i *instruction) { i.asLoadConst(x0VReg, 0xff, true) }, want: "e01f40b2"},
		{
			name:  "movn x0, #0xedcb",
			setup: func(i *instruction) { i.asLoadConst(x0VReg, 0xffff_ffff_ffff_1234, true) },
			want:  "60b99d92",
		},
		{
			name:  "add x0, x1, x2",
			setup: func(i *instruction) { i.asALU(aluOpAdd, x0VReg, x1VReg, x2VReg, true) },
			want:  "2000028b",
		},
		{
			name:  "sub w0, w1, w2",
			setup: func(i *instruction) { i.asALU(aluOpSub, x0VReg, x1VReg, x2VReg, false) },
			want:  "2000024b",
		},
		{
			name:  "udiv x0, x1, x2",
			setup: func(i *instruction) { i.asALU(aluOpUDiv, x0VReg, x1VReg, x2VReg, true) },
			want:  "2008c29a",
		},
		{
			name:  "add x0, x1, #16",
			setup: func(i *instruction) { i.asALUImm12(aluOpAdd, x0VReg, x1VReg, 16, true) },
			want:  "20400091",
		},
		{
			name:  "cmp x0, #1",
			setup: func(i *instruction) { i.asALUImm12(aluOpSubS, xzrVReg, x0VReg, 1, true) },
			want:  "1f0400f1",
		},
		{
			name:  "and x0, x1, #0xff",
			setup: func(i *instruction) { i.asALUBitmaskImm(aluOpAnd, x0VReg, x1VReg, 0xff, true) },
			want:  "201c4092",
		},
		{
			name:  "and w0, w1, #0xff",
			setup: func(i *instruction) { i.asALUBitmaskImm(aluOpAnd, x0VReg, x1VReg, 0xff, false) },
			want:  "201c0012",
		},
		{
			name:  "lsl x0, x1, #3",
			setup: func(i *instruction) { i.asALUShiftImm(aluOpLsl, x0VReg, x1VReg, 3, true) },
			want:  "20f07dd3",
		},
		{
			name:  "asr w0, w1, #31",
			setup: func(i *instruction) { i.asALUShiftImm(aluOpAsr, x0VReg, x1VReg, 31, false) },
			want:  "207c1f13",
		},
		{
			name:  "ror x0, x1, #8",
			setup: func(i *instruction) { i.asALUShiftImm(aluOpRor, x0VReg, x1VReg, 8, true) },
			want:  "2020c193",
		},
		{
			name:  "mul x0, x1, x2",
			setup: func(i *instruction) { i.asALURRRR(aluOpMAdd, x0VReg, x1VReg, x2VReg, xzrVReg, true) },
			want:  "207c029b",
		},
		{name: "clz x0, x1", setup: func(i *instruction) { i.asBitRR(bitOpClz, x0VReg, x1VReg, true) }, want: "2010c0da"},
		{name: "rbit w0, w1", setup: func(i *instruction) { i.asBitRR(bitOpRbit, x0VReg, x1VReg, false) }, want: "2000c05a"},
		{name: "rbit x0, x1", setup: func(i *instruction) { i.asBitRR(bitOpRbit, x0VReg, x1VReg, true) }, want: "2000c0da"},
		{name: "sxtw x0, w1", setup: func(i *instruction) { i.asExtend(x0VReg, x1VReg, 32, 64, true) }, want: "207c4093"},
		{name: "uxtb w0, w1", setup: func(i *instruction) { i.asExtend(x0VReg, x1VReg, 8, 32, false) }, want: "201c0053"},
		{
			name:  "csel x0, x1, x2, eq",
			setup: func(i *instruction) { i.asCSel(condSelOpCsel, x0VReg, x1VReg, x2VReg, eq, true) },
			want:  "2000829a",
		},
		{name: "cset x0, ne", setup: func(i *instruction) { i.asCSet(x0VReg, ne, false) }, want: "e0079f9a"},
		{
			name:  "ldr x0, [x1, #8]",
			setup: func(i *instruction) { i.asLoad(uLoad64, x0VReg, newAmodeRegImm(x1VReg, 8)) },
			want:  "200440f9",
		},
		{
			name: "stp fp, lr, [sp, #-16]!",
			setup: func(i *instruction) {
				i.asStorePair64(fpVReg, lrVReg, addressMode{kind: addressModeKindPreIndex, rn: spVReg, imm: -16})
			},
			want: "fd7bbfa9",
		},
		{
			name:  "fadd d0, d1, d2",
			setup: func(i *instruction) { i.asFpuRRR(fpuOpAdd, v0VReg, v1VReg, v2VReg, 64) },
			want:  "2028621e",
		},
		{name: "fcmp s0, s1", setup: func(i *instruction) { i.asFpuCmp(v0VReg, v1VReg, 32) }, want: "0020211e"},
		{name: "fmov d0, x1", setup: func(i *instruction) { i.asMovToFPU(v0VReg, x1VReg, 64) }, want: "2000679e"},
		{
			name:  "add v0.4s, v1.4s, v2.4s",
			setup: func(i *instruction) { i.asVecRRR(vecOpAdd, v0VReg, v1VReg, v2VReg, vecArrangement4S) },
			want:  "2084a24e",
		},
		{
			name:  "cnt v0.8b, v1.8b",
			setup: func(i *instruction) { i.asVecMisc(vecOpCnt, v0VReg, v1VReg, vecArrangement8B) },
			want:  "2058200e",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			m, c := newSetupForEncoding()
			i := m.allocateInstr()
			tc.setup(i)
			m.encodeInstr(i)
			require.Equal(t, tc.want, hex.EncodeToString(c.Buf()))
		})
	}
}

func TestMachine_encodeInstr_trapSite(t *testing.T) {
	m, c := newSetupForEncoding()
	a := newAmodeRegImm(x1VReg, 0)
	a.trap = codegenapi.TrapCodeHeapOutOfBounds
	m.encodeInstr(m.allocateInstr().asLoad(uLoad32, x0VReg, a))
	require.Equal(t, 4, len(c.Buf()))
}

func TestBitmaskImmediate(t *testing.T) {
	for _, tc := range []struct {
		c             uint64
		_64           bool
		n, immr, imms uint32
		ok            bool
	}{
		{c: 0xff, _64: true, n: 1, immr: 0, imms: 7, ok: true},
		{c: 0xff, _64: false, n: 0, immr: 0, imms: 7, ok: true},
		{c: 0x5555_5555_5555_5555, _64: true, n: 0, immr: 0, imms: 0x3c, ok: true},
		{c: 0x0000_ffff_0000_0000, _64: true, n: 1, immr: 32, imms: 15, ok: true},
		{c: 0xffff_0000, _64: false, n: 0, immr: 16, imms: 15, ok: true},
		{c: 1 << 63, _64: true, n: 1, immr: 1, imms: 0, ok: true},
		{c: 0, _64: true},
		{c: ^uint64(0), _64: true},
		{c: 0xffff_ffff, _64: false},
		{c: 0x12345, _64: true},
	} {
		n, immr, imms, ok := bitmaskImmediate(tc.c, tc._64)
		require.Equal(t, tc.ok, ok, "%#x", tc.c)
		if ok {
			require.Equal(t, []uint32{tc.n, tc.immr, tc.imms}, []uint32{n, immr, imms}, "%#x", tc.c)
		}
	}
}

func TestImm12(t *testing.T) {
	for _, tc := range []struct {
		c  int64
		ok bool
	}{
		{c: 0, ok: true},
		{c: 0xfff, ok: true},
		{c: 0x1000, ok: true},
		{c: 0xfff000, ok: true},
		{c: 0x1001},
		{c: 0x1000000},
		{c: -1},
	} {
		_, ok := imm12(tc.c)
		require.Equal(t, tc.ok, ok, "%#x", tc.c)
	}
}

// TestMachine_encodeInstr_goasm checks the encoder against the Go assembler. The Go assembler pads the
// function, so only the first word is compared. The bit manipulation, move and FPU instructions are
// left to TestMachine_encodeInstr, since the assembler drops them from a function made of them alone.
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
			setup: func(i *instruction) { i.asALU(aluOpAdd, x0VReg, x1VReg, x2VReg, true) },
			as:    asmarm64.AADD, from: reg(asmarm64.REG_R2), reg: asmarm64.REG_R1, to: reg(asmarm64.REG_R0),
		},
		{
			name:  "subw",
			setup: func(i *instruction) { i.asALU(aluOpSub, x0VReg, x1VReg, x2VReg, false) },
			as:    asmarm64.ASUBW, from: reg(asmarm64.REG_R2), reg: asmarm64.REG_R1, to: reg(asmarm64.REG_R0),
		},
		{
			name:  "eor",
			setup: func(i *instruction) { i.asALU(aluOpEor, x0VReg, x1VReg, x2VReg, true) },
			as:    asmarm64.AEOR, from: reg(asmarm64.REG_R2), reg: asmarm64.REG_R1, to: reg(asmarm64.REG_R0),
		},
		{
			name:  "udiv",
			setup: func(i *instruction) { i.asALU(aluOpUDiv, x0VReg, x1VReg, x2VReg, true) },
			as:    asmarm64.AUDIV, from: reg(asmarm64.REG_R2), reg: asmarm64.REG_R1, to: reg(asmarm64.REG_R0),
		},
		{
			name:  "lslv",
			setup: func(i *instruction) { i.asALU(aluOpLsl, x0VReg, x1VReg, x2VReg, true) },
			as:    asmarm64.ALSL, from: reg(asmarm64.REG_R2), reg: asmarm64.REG_R1, to: reg(asmarm64.REG_R0),
		},
		{
			name:  "umulh",
			setup: func(i *instruction) { i.asALU(aluOpUMulH, x0VReg, x1VReg, x2VReg, true) },
			as:    asmarm64.AUMULH, from: reg(asmarm64.REG_R2), reg: asmarm64.REG_R1, to: reg(asmarm64.REG_R0),
		},
		{
			name:  "mul",
			setup: func(i *instruction) { i.asALURRRR(aluOpMAdd, x0VReg, x1VReg, x2VReg, xzrVReg, true) },
			as:    asmarm64.AMUL, from: reg(asmarm64.REG_R2), reg: asmarm64.REG_R1, to: reg(asmarm64.REG_R0),
		},
		{
			name:  "add imm",
			setup: func(i *instruction) { i.asALUImm12(aluOpAdd, x0VReg, x1VReg, 16, true) },
			as:    asmarm64.AADD, from: golang_asm.Const(16), reg: asmarm64.REG_R1, to: reg(asmarm64.REG_R0),
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			a, err := golang_asm.NewAssembler("arm64")
			require.NoError(t, err)
			if tc.reg != 0 {
				a.Op3(tc.as, tc.from, tc.reg, tc.to)
			} else {
				a.Op(tc.as, tc.from, tc.to)
			}
			want := a.Assemble()
			require.GreaterOrEqual(t, len(want), 4)

			m, c := newSetupForEncoding()
			i := m.allocateInstr()
			tc.setup(i)
			m.encodeInstr(i)
			require.Equal(t, hex.EncodeToString(want[:4]), hex.EncodeToString(c.Buf()))
		})
	}
}

func TestInstruction_String_vecLanes(t *testing.T) {
	for _, tc := range []struct {
		op     vecOp
		prefix string
	}{
		{op: vecOpAddv, prefix: "addv s0, "},
		{op: vecOpUaddlv, prefix: "uaddlv d0, "},
	} {
		i := &instruction{}
		i.asVecLanes(tc.op, v0VReg, v1VReg, vecArrangement4S)
		s := i.String()
		require.True(t, strings.HasPrefix(s, tc.prefix), s)
		require.NotContains(t, s, "%!")
	}
}
