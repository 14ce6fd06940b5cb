package s390x

import (
	"context"
	"encoding/hex"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twitchyliquid64/golang-asm/obj"
	asms390x "github.com/twitchyliquid64/golang-asm/obj/s390x"

	"github.com/mickey951112/wasmtime/internal/asm/golang_asm"
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

var (
	r2VReg = regalloc.FromRealReg(r2, regalloc.RegTypeInt)
	r3VReg = regalloc.FromRealReg(r3, regalloc.RegTypeInt)
	r4VReg = regalloc.FromRealReg(r4, regalloc.RegTypeInt)
	r5VReg = regalloc.FromRealReg(r5, regalloc.RegTypeInt)
	f2VReg = regalloc.FromRealReg(f2, regalloc.RegTypeFloat)
	f3VReg = regalloc.FromRealReg(f3, regalloc.RegTypeFloat)
	f4VReg = regalloc.FromRealReg(f4, regalloc.RegTypeFloat)
)

func newSetupForEncoding(ext target.Extensions) (*machine, backend.Compiler) {
	d := target.NewDescriptor(target.ArchS390X)
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
		{name: "br %r14", setup: func(i *instruction) { i.asRet(0) }, want: "07fe"},
		{name: "aghi %r15,16; br %r14", setup: func(i *instruction) { i.asRet(16) }, want: "a7fb0010" + "07fe"},
		{name: "lgr %r2,%r3", setup: func(i *instruction) { i.asMov(r2VReg, r3VReg) }, want: "b9040023"},
		{name: "agrk %r1,%r2,%r3", setup: func(i *instruction) { i.asALU(aluOpAdd, r1VReg, r2VReg, r3VReg) }, want: "b9e83012"},
		{name: "sgrk %r2,%r3,%r4", setup: func(i *instruction) { i.asALU(aluOpSub, r2VReg, r3VReg, r4VReg) }, want: "b9e94023"},
		{name: "msgrkc %r2,%r3,%r4", setup: func(i *instruction) { i.asALU(aluOpMul, r2VReg, r3VReg, r4VReg) }, want: "b9ed4023"},
		{name: "msgr %r2,%r3", setup: func(i *instruction) { i.asALURR(rreOpMsgr, r2VReg, r3VReg) }, want: "b90c0023"},
		{name: "lcgr %r2,%r3", setup: func(i *instruction) { i.asUnary(rreOpLcgr, r2VReg, r3VReg) }, want: "b9030023"},
		{name: "lgbr %r2,%r3", setup: func(i *instruction) { i.asExtend(r2VReg, r3VReg, 8, true) }, want: "b9060023"},
		{name: "llgfr %r2,%r3", setup: func(i *instruction) { i.asExtend(r2VReg, r3VReg, 32, false) }, want: "b9160023"},
		{name: "lay %r2,-8(%r3)", setup: func(i *instruction) { i.asAddImm(r2VReg, r3VReg, -8) }, want: "e3203ff8ff71"},
		{name: "lg %r2,8(%r15)", setup: func(i *instruction) { i.asLoad(load64, r2VReg, newAmodeRegImm(spVReg, 8)) }, want: "e320f0080004"},
		{name: "llgc %r2,0(%r4,%r3)", setup: func(i *instruction) { i.asLoad(uLoad8, r2VReg, newAmodeRegReg(r3VReg, r4VReg, 0)) }, want: "e32430000090"},
		{name: "stg %r2,8(%r3)", setup: func(i *instruction) { i.asStore(store64, r2VReg, newAmodeRegImm(r3VReg, 8)) }, want: "e32030080024"},
		{name: "sty %r2,0(%r3)", setup: func(i *instruction) { i.asStore(store32, r2VReg, newAmodeRegImm(r3VReg, 0)) }, want: "e32030000050"},
		{
			name:  "lg with a displacement beyond 20 bits",
			setup: func(i *instruction) { i.asLoad(load64, r2VReg, newAmodeRegImm(r3VReg, 1<<20)) },
			// lgfi %r1,0x100000; lg %r2,0(%r1,%r3)
			want: "c01100100000" + "e32130000004",
		},
		{name: "stmg %r6,%r15,48(%r15)", setup: func(i *instruction) { i.asSaveRegs(r6) }, want: "eb6ff0300024"},
		{name: "lmg %r6,%r15,48(%r15)", setup: func(i *instruction) { i.asRestoreRegs(r6) }, want: "eb6ff0300004"},
		{name: "aghi %r15,-160", setup: func(i *instruction) { i.asAdjustSP(-160) }, want: "a7fbff60"},
		{name: "agfi %r15,-65536", setup: func(i *instruction) { i.asAdjustSP(-65536) }, want: "c2f8ffff0000"},
		{name: "lghi %r2,1", setup: func(i *instruction) { i.asLoadConst(r2VReg, 1) }, want: "a7290001"},
		{name: "lgfi %r2,-100000", setup: func(i *instruction) { i.asLoadConst(r2VReg, -100000) }, want: "c021fffe7960"},
		{name: "llilf %r2,0xffffffff", setup: func(i *instruction) { i.asLoadConst(r2VReg, 0xffff_ffff) }, want: "c02fffffffff"},
		{name: "llilf; iihf", setup: func(i *instruction) { i.asLoadConst(r2VReg, 0x1234_0000_0001) }, want: "c02f00000001" + "c02800001234"},
		{name: "sllg %r2,%r3,5", setup: func(i *instruction) { i.asShift(shiftOpSllg, r2VReg, r3VReg, regalloc.VRegInvalid, 5) }, want: "eb230005000d"},
		{name: "srag %r2,%r3,0(%r4)", setup: func(i *instruction) { i.asShift(shiftOpSrag, r2VReg, r3VReg, r4VReg, 0) }, want: "eb234000000a"},
		{name: "rll %r2,%r3,7", setup: func(i *instruction) { i.asShift(shiftOpRll, r2VReg, r3VReg, regalloc.VRegInvalid, 7) }, want: "eb230007001d"},
		{
			name:  "cgr; lghi; lghi; locgr",
			setup: func(i *instruction) { i.asSetCC(r4VReg).withCompare(condEq, r2VReg, r3VReg, 0, false) },
			want:  "b9200023" + "a7490000" + "a7190001" + "b9e28041",
		},
		{
			name:  "clr; lghi; lghi; locgr",
			setup: func(i *instruction) { i.asSetCC(r4VReg).withCompare(condLtU, r2VReg, r3VReg, 0, true) },
			want:  "1523" + "a7490000" + "a7190001" + "b9e24041",
		},
		{
			name:  "cghi; lgr; locgr",
			setup: func(i *instruction) { i.asSelectSeq(r2VReg, r3VReg, r4VReg).withCompare(condLt, r5VReg, regalloc.VRegInvalid, 0, false) },
			want:  "a75f0000" + "b9040024" + "b9e24023",
		},
		{
			name:  "cgfi %r2,100000",
			setup: func(i *instruction) { i.asSetCC(r3VReg).withCompare(condGt, r2VReg, regalloc.VRegInvalid, 100000, false) },
			want:  "c22c000186a0" + "a7390000" + "a7190001" + "b9e22031",
		},
		{
			name:  "cghi; brc; trap",
			setup: func(i *instruction) { i.asTrapIf(codegenapi.TrapCodeIntegerDivisionByZero).withCompare(condEq, r2VReg, regalloc.VRegInvalid, 0, false) },
			want:  "a72f0000" + "a7740003" + "0000",
		},
		{name: "basr %r14,%r2", setup: func(i *instruction) { i.asCallIndirect(r2VReg, &backend.FunctionABI{Sig: &ssa.Signature{}}) }, want: "0de2"},
		{
			name:  "probe at -4096",
			setup: func(i *instruction) { i.asProbeStore(4096) },
			// lay %r1,-4096(%r15); mvi 0(%r1),0
			want: "e310f000ff71" + "92001000",
		},
		{
			name:  "symbol address from a literal",
			setup: func(i *instruction) { i.asSymbolValue("counter", 0, r2VReg) },
			// bras %r1,.+12; .quad counter; lg %r2,0(%r1)
			want: "a7150006" + "0000000000000000" + "e32010000004",
		},
		{name: "udf", setup: func(i *instruction) { i.asUDF(codegenapi.TrapCodeUnreachable) }, want: "0000"},
		{name: "ldr %f2,%f3", setup: func(i *instruction) { i.asFpuMov(f2VReg, f3VReg) }, want: "2823"},
		{name: "adbr %f2,%f3", setup: func(i *instruction) { i.asFpuRRR(fpuOpAdd, f2VReg, f2VReg, f3VReg, 64) }, want: "b31a0023"},
		{name: "ldr; aebr", setup: func(i *instruction) { i.asFpuRRR(fpuOpAdd, f2VReg, f3VReg, f4VReg, 32) }, want: "2823" + "b30a0024"},
		{name: "ldr; ddbr", setup: func(i *instruction) { i.asFpuRRR(fpuOpDiv, f2VReg, f3VReg, f4VReg, 64) }, want: "2823" + "b31d0024"},
		{name: "cpsdr %f2,%f4,%f3", setup: func(i *instruction) { i.asFpuRRR(fpuOpCopysign, f2VReg, f3VReg, f4VReg, 64) }, want: "b3724023"},
		{name: "sqebr %f2,%f3", setup: func(i *instruction) { i.asFpuRR(fpuOpSqrt, f2VReg, f3VReg, 32) }, want: "b3140023"},
		{name: "ledbr %f2,%f3", setup: func(i *instruction) { i.asFpuRR(fpuOpDemote, f2VReg, f3VReg, 64) }, want: "b3440023"},
		{name: "fidbra %f2,6,%f3,4", setup: func(i *instruction) { i.asFpuRound(f2VReg, f3VReg, roundUp, 64) }, want: "b35f6423"},
		{name: "fiebra %f2,5,%f3,4", setup: func(i *instruction) { i.asFpuRound(f2VReg, f3VReg, roundTowardZero, 32) }, want: "b3575423"},
		{name: "ld %f2,8(%r15)", setup: func(i *instruction) { i.asLoad(fpuLoad64, f2VReg, newAmodeRegImm(spVReg, 8)) }, want: "6820f008"},
		{name: "ste %f2,0(%r4,%r3)", setup: func(i *instruction) { i.asStore(fpuStore32, f2VReg, newAmodeRegReg(r3VReg, r4VReg, 0)) }, want: "70243000"},
		{name: "ley %f2,-8(%r3)", setup: func(i *instruction) { i.asLoad(fpuLoad32, f2VReg, newAmodeRegImm(r3VReg, -8)) }, want: "ed203ff8ff64"},
		{name: "stdy %f2,4096(%r3)", setup: func(i *instruction) { i.asStore(fpuStore64, f2VReg, newAmodeRegImm(r3VReg, 4096)) }, want: "ed2030000167"},
		{
			name:  "f64 constant",
			setup: func(i *instruction) { i.asFpuConst(f2VReg, math.Float64bits(1), 64) },
			// llilf %r1,0; iihf %r1,0x3ff00000; ldgr %f2,%r1
			want: "c01f00000000" + "c0183ff00000" + "b3c10021",
		},
		{
			name:  "f32 constant",
			setup: func(i *instruction) { i.asFpuConst(f2VReg, uint64(math.Float32bits(1)), 32) },
			want:  "c01f00000000" + "c0183f800000" + "b3c10021",
		},
		{name: "ldgr %f2,%r3", setup: func(i *instruction) { i.asMovToFPU(f2VReg, r3VReg, 64) }, want: "b3c10023"},
		{name: "sllg; ldgr", setup: func(i *instruction) { i.asMovToFPU(f2VReg, r3VReg, 32) }, want: "eb130020000d" + "b3c10021"},
		{name: "lgdr; srlg", setup: func(i *instruction) { i.asMovFromFPU(r2VReg, f3VReg, 32) }, want: "b3cd0023" + "eb220020000c"},
		{name: "cdgbr %f2,%r3", setup: func(i *instruction) { i.asIntToFpu(f2VReg, r3VReg, true, 64) }, want: "b3a50023"},
		{name: "celgbr %f2,%r3", setup: func(i *instruction) { i.asIntToFpu(f2VReg, r3VReg, false, 32) }, want: "b3a00023"},
		{
			name:  "f64 to i32",
			setup: func(i *instruction) { i.asFpuToIntSeq(r2VReg, f3VReg, true, false, 64) },
			// cdbr %f3,%f3; jno .+6; trap; cfdbr %r2,5,%f3; jno .+6; trap
			want: "b3190033" + "a7e40003" + "0000" + "b3995023" + "a7e40003" + "0000",
		},
		{
			name:  "f32 to u64",
			setup: func(i *instruction) { i.asFpuToIntSeq(r2VReg, f3VReg, false, true, 32) },
			want:  "b3090033" + "a7e40003" + "0000" + "b3ac5023" + "a7e40003" + "0000",
		},
		{
			name:  "cdbr; lghi; lghi; locgr",
			setup: func(i *instruction) { i.asSetCC(r4VReg).withFloatCompare(condFLt, f2VReg, f3VReg, 64) },
			want:  "b3190023" + "a7490000" + "a7190001" + "b9e24041",
		},
		{
			name:  "cebr; jno; trap",
			setup: func(i *instruction) { i.asTrapIf(codegenapi.TrapCodeUnreachable).withFloatCompare(condFUno, f2VReg, f3VReg, 32) },
			want:  "b3090023" + "a7e40003" + "0000",
		},
		{
			name:  "float select",
			setup: func(i *instruction) { i.asSelectSeq(f2VReg, f3VReg, f4VReg).withCompare(condEq, r5VReg, regalloc.VRegInvalid, 0, false) },
			// cghi %r5,0; ldr %f2,%f4; jne .+6; ldr %f2,%f3
			want: "a75f0000" + "2824" + "a7740003" + "2823",
		},
		{
			name:  "fmax_pseudo",
			setup: func(i *instruction) { i.asFpuMinMaxSeq(minMaxOpPmax, f2VReg, f3VReg, f4VReg, 64) },
			// ldr %f2,%f3; cdbr %f3,%f4; jnl .+6; ldr %f2,%f4
			want: "2823" + "b3190034" + "a7b40003" + "2824",
		},
		{
			name:  "fmin_pseudo",
			setup: func(i *instruction) { i.asFpuMinMaxSeq(minMaxOpPmin, f2VReg, f3VReg, f4VReg, 32) },
			want:  "2823" + "b3090043" + "a7b40003" + "2824",
		},
		{
			name:  "fmin",
			setup: func(i *instruction) { i.asFpuMinMaxSeq(minMaxOpMin, f2VReg, f3VReg, f4VReg, 32) },
			want: "2823" + "b3090034" +
				"a7140009" + "a784000b" + "a7440011" + // jo nan; je eq; jl done
				"2824" + "a7f4000e" + // ldr %f2,%f4; j done
				"b30a0024" + "a7f4000a" + // nan: aebr %f2,%f4; j done
				"b3cd0003" + "b3cd0014" + "b9810001" + "b3c10020", // eq: lgdr; lgdr; ogr; ldgr
		},
		{
			name:  "fmax",
			setup: func(i *instruction) { i.asFpuMinMaxSeq(minMaxOpMax, f2VReg, f3VReg, f4VReg, 64) },
			want: "2823" + "b3190034" +
				"a7140009" + "a784000b" + "a7240011" +
				"2824" + "a7f4000e" +
				"b31a0024" + "a7f4000a" +
				"b3cd0003" + "b3cd0014" + "b9800001" + "b3c10020",
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

func TestMachine_encodeBitCount(t *testing.T) {
	for _, tc := range []struct {
		name string
		op   countOp
		want string
	}{
		// flogr %r0,%r3; lgr %r2,%r0
		{name: "clz", op: countOpClz, want: "b9830003" + "b9040020"},
		// lcgr %r1,%r3; ngr %r1,%r3; flogr %r0,%r1; brc 2,.+8; lghi %r0,-1; lghi %r2,63; sgr %r2,%r0
		{name: "ctz", op: countOpCtz, want: "b9030013" + "b9800013" + "b9830001" + "a7240004" + "a709ffff" + "a729003f" + "b9090020"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			m, c := newSetupForEncoding(0)
			m.encodeInstr(m.allocateInstr().asBitCountSeq(tc.op, r2VReg, r3VReg, 64))
			require.Equal(t, tc.want, hex.EncodeToString(c.Buf()))
		})
	}
}

func TestFitsDisp20(t *testing.T) {
	for _, tc := range []struct {
		v  int64
		ok bool
	}{
		{v: 0, ok: true},
		{v: 1<<19 - 1, ok: true},
		{v: -(1 << 19), ok: true},
		{v: 1 << 19},
		{v: -(1 << 19) - 1},
	} {
		require.Equal(t, tc.ok, fitsDisp20(tc.v), "%d", tc.v)
	}
}

func TestCond(t *testing.T) {
	for _, c := range []cond{condEq, condNe, condLt, condGe, condLe, condGt, condLtU, condGeU, condLeU, condGtU} {
		// Integer compares never set CC3, so only CC0 to CC2 must be covered.
		require.Equal(t, ^c.mask()&0xe, c.invert().mask()&0xe, c.String())
		require.Zero(t, c.mask()&c.invert().mask(), c.String())
		require.Equal(t, c.unsigned(), c.invert().unsigned(), c.String())
	}
	for c := condFEq; c <= condFUno; c++ {
		// Float compares set all four codes: the inverse takes exactly the others.
		require.Equal(t, ^c.mask()&0xf, c.invert().mask(), c.String())
		require.Equal(t, c, c.invert().invert(), c.String())
		require.False(t, c.unsigned(), c.String())
	}
	require.Equal(t, uint32(1), condFUno.mask())
	require.Equal(t, uint32(14), condFOrd.mask())
}

// TestMachine_encodeInstr_goasm checks the encoder against the Go assembler, where `OP from, reg, to`
// computes to = reg OP from. The s390x assembler skips a lone instruction, so each one is assembled twice
// and only the leading instruction of the output is compared.
func TestMachine_encodeInstr_goasm(t *testing.T) {
	reg := golang_asm.Reg
	for _, tc := range []struct {
		name  string
		setup func(i *instruction)
		as    obj.As
		from  obj.Addr
		reg   int16
		to    obj.Addr
		// size is the length of the instruction starting the sequence emitted by setup, when the sequence
		// holds more than it.
		size int
	}{
		{
			name:  "lgr",
			setup: func(i *instruction) { i.asMov(r2VReg, r3VReg) },
			as:    asms390x.AMOVD, from: reg(asms390x.REG_R3), to: reg(asms390x.REG_R2),
		},
		{
			name:  "agrk",
			setup: func(i *instruction) { i.asALU(aluOpAdd, r2VReg, r3VReg, r4VReg) },
			as:    asms390x.AADD, from: reg(asms390x.REG_R4), reg: asms390x.REG_R3, to: reg(asms390x.REG_R2),
		},
		{
			name:  "sgrk",
			setup: func(i *instruction) { i.asALU(aluOpSub, r2VReg, r3VReg, r4VReg) },
			as:    asms390x.ASUB, from: reg(asms390x.REG_R4), reg: asms390x.REG_R3, to: reg(asms390x.REG_R2),
		},
		{
			name:  "ngrk",
			setup: func(i *instruction) { i.asALU(aluOpAnd, r2VReg, r4VReg, r3VReg) },
			as:    asms390x.AAND, from: reg(asms390x.REG_R4), reg: asms390x.REG_R3, to: reg(asms390x.REG_R2),
		},
		{
			name:  "xgrk",
			setup: func(i *instruction) { i.asALU(aluOpXor, r2VReg, r4VReg, r3VReg) },
			as:    asms390x.AXOR, from: reg(asms390x.REG_R4), reg: asms390x.REG_R3, to: reg(asms390x.REG_R2),
		},
		{
			name:  "sllg",
			setup: func(i *instruction) { i.asShift(shiftOpSllg, r2VReg, r3VReg, regalloc.VRegInvalid, 5) },
			as:    asms390x.ASLD, from: golang_asm.Const(5), reg: asms390x.REG_R3, to: reg(asms390x.REG_R2),
		},
		{
			name:  "lcgr",
			setup: func(i *instruction) { i.asUnary(rreOpLcgr, r2VReg, r3VReg) },
			as:    asms390x.ANEG, from: reg(asms390x.REG_R3), to: reg(asms390x.REG_R2),
		},
		{
			name:  "llgcr",
			setup: func(i *instruction) { i.asExtend(r2VReg, r3VReg, 8, false) },
			as:    asms390x.AMOVBZ, from: reg(asms390x.REG_R3), to: reg(asms390x.REG_R2),
		},
		{
			name:  "lgfr",
			setup: func(i *instruction) { i.asExtend(r2VReg, r3VReg, 32, true) },
			as:    asms390x.AMOVW, from: reg(asms390x.REG_R3), to: reg(asms390x.REG_R2),
		},
		{
			name:  "lg",
			setup: func(i *instruction) { i.asLoad(load64, r2VReg, newAmodeRegImm(r3VReg, 8)) },
			as:    asms390x.AMOVD, from: golang_asm.Mem(asms390x.REG_R3, 8), to: reg(asms390x.REG_R2),
		},
		{
			name:  "stg",
			setup: func(i *instruction) { i.asStore(store64, r2VReg, newAmodeRegImm(r3VReg, 8)) },
			as:    asms390x.AMOVD, from: reg(asms390x.REG_R2), to: golang_asm.Mem(asms390x.REG_R3, 8),
		},
		{
			name:  "cgr",
			setup: func(i *instruction) { i.asSetCC(r4VReg).withCompare(condEq, r2VReg, r3VReg, 0, false) },
			as:    asms390x.ACMP, from: reg(asms390x.REG_R2), to: reg(asms390x.REG_R3),
			size:  4,
		},
		{
			name:  "clgr",
			setup: func(i *instruction) { i.asSetCC(r4VReg).withCompare(condLtU, r2VReg, r3VReg, 0, false) },
			as:    asms390x.ACMPU, from: reg(asms390x.REG_R2), to: reg(asms390x.REG_R3),
			size:  4,
		},
		{
			name:  "cghi",
			setup: func(i *instruction) { i.asSetCC(r4VReg).withCompare(condLt, r2VReg, regalloc.VRegInvalid, 100, false) },
			as:    asms390x.ACMP, from: reg(asms390x.REG_R2), to: golang_asm.Const(100),
			size:  4,
		},
		{
			name:  "ldr",
			setup: func(i *instruction) { i.asFpuMov(f2VReg, f3VReg) },
			as:    asms390x.AFMOVD, from: reg(asms390x.REG_F3), to: reg(asms390x.REG_F2),
		},
		{
			name:  "adbr",
			setup: func(i *instruction) { i.asFpuRRR(fpuOpAdd, f2VReg, f2VReg, f3VReg, 64) },
			as:    asms390x.AFADD, from: reg(asms390x.REG_F3), to: reg(asms390x.REG_F2),
		},
		{
			name:  "sebr",
			setup: func(i *instruction) { i.asFpuRRR(fpuOpSub, f2VReg, f2VReg, f3VReg, 32) },
			as:    asms390x.AFSUBS, from: reg(asms390x.REG_F3), to: reg(asms390x.REG_F2),
		},
		{
			name:  "mdbr",
			setup: func(i *instruction) { i.asFpuRRR(fpuOpMul, f2VReg, f2VReg, f4VReg, 64) },
			as:    asms390x.AFMUL, from: reg(asms390x.REG_F4), to: reg(asms390x.REG_F2),
		},
		{
			name:  "sqdbr",
			setup: func(i *instruction) { i.asFpuRR(fpuOpSqrt, f2VReg, f3VReg, 64) },
			as:    asms390x.AFSQRT, from: reg(asms390x.REG_F3), to: reg(asms390x.REG_F2),
		},
		{
			name:  "lcdfr",
			setup: func(i *instruction) { i.asFpuRR(fpuOpNeg, f2VReg, f3VReg, 64) },
			as:    asms390x.AFNEG, from: reg(asms390x.REG_F3), to: reg(asms390x.REG_F2),
		},
		{
			name:  "ldebr",
			setup: func(i *instruction) { i.asFpuRR(fpuOpPromote, f2VReg, f3VReg, 32) },
			as:    asms390x.ALDEBR, from: reg(asms390x.REG_F3), to: reg(asms390x.REG_F2),
		},
		{
			name:  "ldgr",
			setup: func(i *instruction) { i.asMovToFPU(f2VReg, r3VReg, 64) },
			as:    asms390x.ALDGR, from: reg(asms390x.REG_R3), to: reg(asms390x.REG_F2),
		},
		{
			name:  "lgdr",
			setup: func(i *instruction) { i.asMovFromFPU(r2VReg, f3VReg, 64) },
			as:    asms390x.ALGDR, from: reg(asms390x.REG_F3), to: reg(asms390x.REG_R2),
		},
		{
			name:  "cdgbr",
			setup: func(i *instruction) { i.asIntToFpu(f2VReg, r3VReg, true, 64) },
			as:    asms390x.ACDGBRA, from: reg(asms390x.REG_R3), to: reg(asms390x.REG_F2),
		},
		{
			name:  "cdbr",
			setup: func(i *instruction) { i.asSetCC(r4VReg).withFloatCompare(condFEq, f2VReg, f3VReg, 64) },
			as:    asms390x.AFCMPU, from: reg(asms390x.REG_F2), to: reg(asms390x.REG_F3),
			size:  4,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			a, err := golang_asm.NewAssembler("s390x")
			require.NoError(t, err)
			for n := 0; n < 2; n++ {
				if tc.reg != 0 {
					a.Op3(tc.as, tc.from, tc.reg, tc.to)
				} else {
					a.Op(tc.as, tc.from, tc.to)
				}
			}
			both := a.Assemble()

			m, c := newSetupForEncoding(0)
			i := m.allocateInstr()
			tc.setup(i)
			m.encodeInstr(i)
			got := c.Buf()
			size := len(got)
			if tc.size != 0 {
				require.GreaterOrEqual(t, len(got), tc.size)
				size = tc.size
			}
			require.GreaterOrEqual(t, len(both), size)
			require.Equal(t, hex.EncodeToString(both[:size]), hex.EncodeToString(got[:size]))
		})
	}
}
