package amd64

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/mickey951112/wasmtime/internal/asm/golang_asm"
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

func newSetupForEncoding() (*machine, backend.Compiler) {
	d := target.NewDescriptor(target.ArchX86_64)
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
		{name: "ret", setup: func(i *instruction) { i.asRet(0) }, want: "c3"},
		{name: "ret 16", setup: func(i *instruction) { i.asRet(16) }, want: "c21000"},
		{name: "movl $1234567, ecx", setup: func(i *instruction) { i.asImm(rcxVReg, 1234567, false) }, want: "b987d61200"},
		{name: "movq $-1, rax", setup: func(i *instruction) { i.asImm(raxVReg, ^uint64(0), true) }, want: "48c7c0ffffffff"},
		{name: "movabs $1<<32, r8", setup: func(i *instruction) { i.asImm(r8VReg, 0x1_0000_0000, true) }, want: "49b80000000001000000"},
		{name: "movq rcx, rax", setup: func(i *instruction) { i.asMovRR(rcxVReg, raxVReg, true) }, want: "4889c8"},
		{name: "movl r9d, edx", setup: func(i *instruction) { i.asMovRR(r9VReg, rdxVReg, false) }, want: "4489ca"},
		{
			name:  "addq $1, rax",
			setup: func(i *instruction) { i.asAluRmiR(aluOpAdd, newOperandImm32(1), raxVReg, true) },
			want:  "4883c001",
		},
		{
			name:  "subl ebx, esi",
			setup: func(i *instruction) { i.asAluRmiR(aluOpSub, newOperandReg(rbxVReg), rsiVReg, false) },
			want:  "29de",
		},
		{
			name:  "xorq $0x1000, r12",
			setup: func(i *instruction) { i.asAluRmiR(aluOpXor, newOperandImm32(0x1000), r12VReg, true) },
			want:  "4981f400100000",
		},
		{
			name:  "imulq rcx, rax",
			setup: func(i *instruction) { i.asAluRmiR(aluOpImul, newOperandReg(rcxVReg), raxVReg, true) },
			want:  "480fafc1",
		},
		{name: "negq rax", setup: func(i *instruction) { i.asNeg(raxVReg, true) }, want: "48f7d8"},
		{name: "notl ecx", setup: func(i *instruction) { i.asNot(rcxVReg, false) }, want: "f7d1"},
		{
			name:  "shlq $3, rax",
			setup: func(i *instruction) { i.asShiftR(shiftOpShiftLeft, newOperandImm32(3), raxVReg, 8) },
			want:  "48c1e003",
		},
		{
			name:  "sarl cl, edx",
			setup: func(i *instruction) { i.asShiftR(shiftOpShiftRightArithmetic, newOperandReg(rcxVReg), rdxVReg, 4) },
			want:  "d3fa",
		},
		{
			name:  "cmpq rcx, rax",
			setup: func(i *instruction) { i.asCmpRmiR(true, newOperandReg(rcxVReg), raxVReg, 8) },
			want:  "4839c8",
		},
		{
			name:  "testl eax, eax",
			setup: func(i *instruction) { i.asCmpRmiR(false, newOperandReg(raxVReg), raxVReg, 4) },
			want:  "85c0",
		},
		{
			name:  "cmpb $5, dil",
			setup: func(i *instruction) { i.asCmpRmiR(true, newOperandImm32(5), rdiVReg, 1) },
			want:  "4080ff05",
		},
		{name: "setz al", setup: func(i *instruction) { i.asSetcc(condZ, raxVReg) }, want: "0f94c00fb6c0"},
		{name: "setl sil", setup: func(i *instruction) { i.asSetcc(condL, rsiVReg) }, want: "400f9cc6400fb6f6"},
		{
			name:  "cmovneq rcx, rax",
			setup: func(i *instruction) { i.asCmove(condNZ, newOperandReg(rcxVReg), raxVReg, true) },
			want:  "480f45c1",
		},
		{name: "push rbp", setup: func(i *instruction) { i.asPush64(rbpVReg) }, want: "55"},
		{name: "pop r12", setup: func(i *instruction) { i.asPop64(r12VReg) }, want: "415c"},
		{
			name:  "movq 8(rsp), rax",
			setup: func(i *instruction) { i.asMov64MR(newAmodeImmReg(8, rspVReg), raxVReg) },
			want:  "488b442408",
		},
		{
			name:  "movl ecx, (rdi)",
			setup: func(i *instruction) { i.asMovRM(rcxVReg, newAmodeImmReg(0, rdiVReg), 4) },
			want:  "890f",
		},
		{
			name:  "movq rax, 0(rbp)",
			setup: func(i *instruction) { i.asMovRM(raxVReg, newAmodeImmReg(0, rbpVReg), 8) },
			want:  "48894500",
		},
		{
			name:  "movb sil, (rax)",
			setup: func(i *instruction) { i.asMovRM(rsiVReg, newAmodeImmReg(0, raxVReg), 1) },
			want:  "408830",
		},
		{
			name:  "leaq 16(rax,rcx,8), rdx",
			setup: func(i *instruction) { i.asLEA(newAmodeRegRegShift(16, raxVReg, rcxVReg, 3), rdxVReg) },
			want:  "488d54c810",
		},
		{
			name:  "addsd xmm1, xmm0",
			setup: func(i *instruction) { i.asXmmRmR(sseOpcodeAddsd, newOperandReg(xmm1VReg), xmm0VReg) },
			want:  "f20f58c1",
		},
		{
			name:  "addss xmm15, xmm2",
			setup: func(i *instruction) { i.asXmmRmR(sseOpcodeAddss, newOperandReg(xmm15VReg), xmm2VReg) },
			want:  "f3410f58d7",
		},
		{
			name:  "pxor xmm0, xmm0",
			setup: func(i *instruction) { i.asXmmRmR(sseOpcodePxor, newOperandReg(xmm0VReg), xmm0VReg) },
			want:  "660fefc0",
		},
		{
			name:  "movq rax, xmm1",
			setup: func(i *instruction) { i.asGprToXmm(sseOpcodeMovq, newOperandReg(raxVReg), xmm1VReg, true) },
			want:  "66480f6ec8",
		},
		{
			name:  "movq xmm1, rax",
			setup: func(i *instruction) { i.asXmmToGpr(sseOpcodeMovq, xmm1VReg, raxVReg, true) },
			want:  "66480f7ec8",
		},
		{name: "ud2", setup: func(i *instruction) { i.asUD2(codegenapi.TrapCodeUnreachable) }, want: "0f0b"},
		{
			name:  "jnz +2; ud2",
			setup: func(i *instruction) { i.asTrapIf(condZ, codegenapi.TrapCodeHeapOutOfBounds) },
			want:  "75020f0b",
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

// TestMachine_encodeInstr_goasm checks the encoder against the Go assembler on the instructions both
// encode the same way.
func TestMachine_encodeInstr_goasm(t *testing.T) {
	reg := golang_asm.Reg
	for _, tc := range []struct {
		name     string
		setup    func(i *instruction)
		as       obj.As
		from, to obj.Addr
	}{
		{name: "ret", setup: func(i *instruction) { i.asRet(0) }, as: obj.ARET},
		{
			name:  "negq",
			setup: func(i *instruction) { i.asNeg(raxVReg, true) },
			as:    x86.ANEGQ, to: reg(x86.REG_AX),
		},
		{
			name:  "notl",
			setup: func(i *instruction) { i.asNot(rcxVReg, false) },
			as:    x86.ANOTL, to: reg(x86.REG_CX),
		},
		{
			name:  "pushq",
			setup: func(i *instruction) { i.asPush64(rbpVReg) },
			as:    x86.APUSHQ, from: reg(x86.REG_BP),
		},
		{
			name:  "popq",
			setup: func(i *instruction) { i.asPop64(r12VReg) },
			as:    x86.APOPQ, to: reg(x86.REG_R12),
		},
		{
			name:  "movq reg, reg",
			setup: func(i *instruction) { i.asMovRR(rcxVReg, raxVReg, true) },
			as:    x86.AMOVQ, from: reg(x86.REG_CX), to: reg(x86.REG_AX),
		},
		{
			name:  "shlq imm",
			setup: func(i *instruction) { i.asShiftR(shiftOpShiftLeft, newOperandImm32(3), raxVReg, 8) },
			as:    x86.ASHLQ, from: golang_asm.Const(3), to: reg(x86.REG_AX),
		},
		{
			name:  "addq imm8",
			setup: func(i *instruction) { i.asAluRmiR(aluOpAdd, newOperandImm32(1), raxVReg, true) },
			as:    x86.AADDQ, from: golang_asm.Const(1), to: reg(x86.REG_AX),
		},
		{
			name:  "xorq imm32",
			setup: func(i *instruction) { i.asAluRmiR(aluOpXor, newOperandImm32(0x1000), r12VReg, true) },
			as:    x86.AXORQ, from: golang_asm.Const(0x1000), to: reg(x86.REG_R12),
		},
		{
			name:  "imulq",
			setup: func(i *instruction) { i.asAluRmiR(aluOpImul, newOperandReg(rcxVReg), raxVReg, true) },
			as:    x86.AIMULQ, from: reg(x86.REG_CX), to: reg(x86.REG_AX),
		},
		{
			name:  "movq load",
			setup: func(i *instruction) { i.asMov64MR(newAmodeImmReg(8, rspVReg), raxVReg) },
			as:    x86.AMOVQ, from: golang_asm.Mem(x86.REG_SP, 8), to: reg(x86.REG_AX),
		},
		{
			name:  "movl store",
			setup: func(i *instruction) { i.asMovRM(rcxVReg, newAmodeImmReg(0, rdiVReg), 4) },
			as:    x86.AMOVL, from: reg(x86.REG_CX), to: golang_asm.Mem(x86.REG_DI, 0),
		},
		{
			name:  "leaq",
			setup: func(i *instruction) { i.asLEA(newAmodeRegRegShift(16, raxVReg, rcxVReg, 3), rdxVReg) },
			as:    x86.ALEAQ, from: golang_asm.MemIndex(x86.REG_AX, x86.REG_CX, 8, 16), to: reg(x86.REG_DX),
		},
		{
			name:  "cmovqne",
			setup: func(i *instruction) { i.asCmove(condNZ, newOperandReg(rcxVReg), raxVReg, true) },
			as:    x86.ACMOVQNE, from: reg(x86.REG_CX), to: reg(x86.REG_AX),
		},
		{
			name:  "addsd",
			setup: func(i *instruction) { i.asXmmRmR(sseOpcodeAddsd, newOperandReg(xmm1VReg), xmm0VReg) },
			as:    x86.AADDSD, from: reg(x86.REG_X1), to: reg(x86.REG_X0),
		},
		{
			name:  "pxor",
			setup: func(i *instruction) { i.asXmmRmR(sseOpcodePxor, newOperandReg(xmm0VReg), xmm0VReg) },
			as:    x86.APXOR, from: reg(x86.REG_X0), to: reg(x86.REG_X0),
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			want, err := golang_asm.AssembleOne("amd64", tc.as, tc.from, tc.to)
			require.NoError(t, err)

			m, c := newSetupForEncoding()
			i := m.allocateInstr()
			tc.setup(i)
			m.encodeInstr(i)
			require.Equal(t, hex.EncodeToString(want), hex.EncodeToString(c.Buf()))
		})
	}
}
