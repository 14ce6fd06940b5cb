package s390x

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
	"github.com/mickey951112/wasmtime/internal/codegen/testcases"
)

func compileCase(t *testing.T, name string, ext target.Extensions, opt target.OptLevel) (*backend.CompiledFunction, error) {
	tc, ok := testcases.Lookup(name)
	require.True(t, ok)
	d := target.NewDescriptor(target.ArchS390X)
	d.Extensions = ext
	d.Flags.OptLevel = opt
	b := tc.NewBuilder()
	require.NoError(t, backend.PrepareSSA(b, &d))
	return backend.NewCompiler(context.Background(), NewBackend(), b, &d).Compile(context.Background())
}

// vectorCases are the cases moving vectors, which have no lowering here.
var vectorCases = map[string]bool{"vector_add": true}

func TestMachine_compileCatalog(t *testing.T) {
	for _, ext := range []target.Extensions{0, target.ArchS390X.ValidExtensions()} {
		for _, opt := range []target.OptLevel{target.OptLevelNone, target.OptLevelSpeed} {
			for _, tc := range testcases.All() {
				tc := tc
				t.Run(ext.String()+"/"+opt.String()+"/"+tc.Name, func(t *testing.T) {
					f, err := compileCase(t, tc.Name, ext, opt)
					if vectorCases[tc.Name] {
						var ue *backend.UnsupportedError
						require.True(t, errors.As(err, &ue), "%v", err)
						require.Equal(t, target.ArchS390X, ue.Arch)
						return
					}
					require.NoError(t, err)
					require.Equal(t, tc.Name, f.Name)
					require.Equal(t, target.ArchS390X, f.Arch)
					require.NotEmpty(t, f.Code)
					require.Zero(t, len(f.Code)%2)
					require.NotEmpty(t, f.CFI)
				})
			}
		}
	}
}

func TestMachine_trapSites(t *testing.T) {
	f, err := compileCase(t, "div_traps", 0, target.OptLevelNone)
	require.NoError(t, err)
	require.NotEmpty(t, f.TrapSites)
	for _, s := range f.TrapSites {
		require.Less(t, s.Offset, int64(len(f.Code)))
		require.Zero(t, s.Offset%2)
	}
}

func TestMachine_mie2ShortensCode(t *testing.T) {
	base, err := compileCase(t, "arith_i64", 0, target.OptLevelNone)
	require.NoError(t, err)
	withMIE2, err := compileCase(t, "arith_i64", target.ExtMIE2, target.OptLevelNone)
	require.NoError(t, err)
	require.Less(t, len(withMIE2.Code), len(base.Code))
}

func TestRules_order(t *testing.T) {
	names := func(op ssa.Opcode) (ret []string) {
		for _, r := range rules.Rules(op) {
			ret = append(ret, r.Name)
		}
		return
	}
	require.Equal(t, []string{"imul_mie2", "imul_i128", "imul"}, names(ssa.OpcodeImul))
	require.Equal(t, []string{"iadd_i128", "iadd"}, names(ssa.OpcodeIadd))
	require.Equal(t, []string{"fadd"}, names(ssa.OpcodeFadd))
	require.Equal(t, []string{"select_float", "select"}, names(ssa.OpcodeSelect))
}

func TestMachine_floats(t *testing.T) {
	for _, tc := range []struct {
		rule     string
		op       ssa.Opcode
		from, to ssa.Type
		binary   bool
		// opcode is the hex of the first two bytes of an instruction the rule emits.
		opcode string
	}{
		{rule: "fadd", op: ssa.OpcodeFadd, from: ssa.TypeF64, to: ssa.TypeF64, binary: true, opcode: "b31a"},
		{rule: "fsub", op: ssa.OpcodeFsub, from: ssa.TypeF32, to: ssa.TypeF32, binary: true, opcode: "b30b"},
		{rule: "fmul", op: ssa.OpcodeFmul, from: ssa.TypeF64, to: ssa.TypeF64, binary: true, opcode: "b31c"},
		{rule: "fdiv", op: ssa.OpcodeFdiv, from: ssa.TypeF32, to: ssa.TypeF32, binary: true, opcode: "b30d"},
		{rule: "fcopysign", op: ssa.OpcodeFcopysign, from: ssa.TypeF64, to: ssa.TypeF64, binary: true, opcode: "b372"},
		{rule: "fmin", op: ssa.OpcodeFmin, from: ssa.TypeF32, to: ssa.TypeF32, binary: true, opcode: "b309"},
		{rule: "fmax_pseudo", op: ssa.OpcodeFmaxPseudo, from: ssa.TypeF64, to: ssa.TypeF64, binary: true, opcode: "b319"},
		{rule: "sqrt", op: ssa.OpcodeSqrt, from: ssa.TypeF64, to: ssa.TypeF64, opcode: "b315"},
		{rule: "fneg", op: ssa.OpcodeFneg, from: ssa.TypeF32, to: ssa.TypeF32, opcode: "b373"},
		{rule: "ceil", op: ssa.OpcodeCeil, from: ssa.TypeF64, to: ssa.TypeF64, opcode: "b35f"},
		{rule: "nearest", op: ssa.OpcodeNearest, from: ssa.TypeF32, to: ssa.TypeF32, opcode: "b357"},
		{rule: "fpromote", op: ssa.OpcodeFpromote, from: ssa.TypeF32, to: ssa.TypeF64, opcode: "b304"},
		{rule: "fdemote", op: ssa.OpcodeFdemote, from: ssa.TypeF64, to: ssa.TypeF32, opcode: "b344"},
		{rule: "fcvt_from_sint", op: ssa.OpcodeFcvtFromSint, from: ssa.TypeI32, to: ssa.TypeF64, opcode: "b3a5"},
		{rule: "fcvt_from_uint", op: ssa.OpcodeFcvtFromUint, from: ssa.TypeI64, to: ssa.TypeF32, opcode: "b3a0"},
		{rule: "fcvt_to_uint", op: ssa.OpcodeFcvtToUint, from: ssa.TypeF32, to: ssa.TypeI64, opcode: "b3ac"},
		{rule: "bitcast", op: ssa.OpcodeBitcast, from: ssa.TypeF64, to: ssa.TypeI64, opcode: "b3cd"},
		{rule: "bitcast_float", op: ssa.OpcodeBitcast, from: ssa.TypeI32, to: ssa.TypeF32, opcode: "b3c1"},
	} {
		tc := tc
		t.Run(tc.rule+"/"+tc.from.String(), func(t *testing.T) {
			var found bool
			for _, r := range rules.Rules(tc.op) {
				found = found || r.Name == tc.rule
			}
			require.True(t, found)

			b := ssa.NewBuilder()
			params := []ssa.AbiParam{ssa.Param(tc.from)}
			if tc.binary {
				params = append(params, ssa.Param(tc.from))
			}
			b.Init(&ssa.Signature{Params: params, Results: []ssa.AbiParam{ssa.Param(tc.to)}})
			entry := b.AllocateBasicBlock()
			x := entry.AddParam(b, tc.from)
			b.SetCurrentBlock(entry)
			i := b.AllocateInstruction()
			switch {
			case tc.binary:
				i.AsBinary(tc.op, x, entry.AddParam(b, tc.from))
			case tc.from == tc.to:
				i.AsUnary(tc.op, x)
			default:
				i.AsConversion(tc.op, x, tc.to)
			}
			v := i.Insert(b).Return()
			b.AllocateInstruction().AsReturn([]ssa.Value{v}).Insert(b)
			b.Seal(entry)

			d := target.NewDescriptor(target.ArchS390X)
			require.NoError(t, backend.PrepareSSA(b, &d))
			f, err := backend.NewCompiler(context.Background(), NewBackend(), b, &d).Compile(context.Background())
			require.NoError(t, err)
			require.Contains(t, hex.EncodeToString(f.Code), tc.opcode)
		})
	}
}

// TestMachine_floatSpills keeps more floats live across a call than there are float registers, so that
// they are spilled with std and reloaded with ld.
func TestMachine_floatSpills(t *testing.T) {
	const n = 12
	b := ssa.NewBuilder()
	b.Init(&ssa.Signature{Params: []ssa.AbiParam{ssa.Param(ssa.TypeF64)}, Results: []ssa.AbiParam{ssa.Param(ssa.TypeF64)}})
	callee := &ssa.Signature{ID: 1}
	b.DeclareSignature(callee)
	ref := b.DeclareFunction(ssa.ExtFuncData{Name: "callee", Sig: callee.ID, Colocated: true})
	entry := b.AllocateBasicBlock()
	x := entry.AddParam(b, ssa.TypeF64)
	b.SetCurrentBlock(entry)
	vs := make([]ssa.Value, n)
	for k := range vs {
		c := b.AllocateInstruction().AsF64const(float64(k)).Insert(b).Return()
		vs[k] = b.AllocateInstruction().AsFadd(x, c).Insert(b).Return()
	}
	b.AllocateInstruction().AsCall(ref, callee, nil).Insert(b)
	sum := vs[0]
	for _, v := range vs[1:] {
		sum = b.AllocateInstruction().AsFmul(sum, v).Insert(b).Return()
	}
	b.AllocateInstruction().AsReturn([]ssa.Value{sum}).Insert(b)
	b.Seal(entry)

	d := target.NewDescriptor(target.ArchS390X)
	require.NoError(t, backend.PrepareSSA(b, &d))
	f, err := backend.NewCompiler(context.Background(), NewBackend(), b, &d).Compile(context.Background())
	require.NoError(t, err)
	code := hex.EncodeToString(f.Code)
	// std %fN,d(%r15) and ld %fN,d(%r15)
	require.Regexp(t, "60[0-9a-f]0f", code)
	require.Regexp(t, "68[0-9a-f]0f", code)
}

func TestABI_floats(t *testing.T) {
	f32, f64, i64 := ssa.Param(ssa.TypeF32), ssa.Param(ssa.TypeF64), ssa.Param(ssa.TypeI64)
	var a backend.FunctionABI
	a.Init(&ssa.Signature{Params: []ssa.AbiParam{f64, i64, f32, f64, f64, f64, f32}, Results: []ssa.AbiParam{f64, f32}}, abiRegs)
	for i, exp := range []regalloc.RealReg{f0, r2, f2, f4, f6} {
		require.Equal(t, backend.ABIArgKindReg, a.Args[i].Kind, i)
		require.Equal(t, exp, a.Args[i].Reg.RealReg(), i)
	}
	require.Equal(t, backend.ABIArgKindStack, a.Args[5].Kind)
	require.Equal(t, backend.ABIArgKindStack, a.Args[6].Kind)
	require.Equal(t, int64(8), a.Args[6].Offset)
	require.Equal(t, int64(12), slotOffset(&a.Args[6]))
	require.Equal(t, int64(0), slotOffset(&a.Args[5]))
	require.Equal(t, f0, a.Rets[0].Reg.RealReg())
	require.Equal(t, f2, a.Rets[1].Reg.RealReg())

	// A call passing floats on the stack and in registers lowers and encodes.
	b := ssa.NewBuilder()
	b.Init(&ssa.Signature{Params: []ssa.AbiParam{f64, f32}, Results: []ssa.AbiParam{f64}})
	callee := &ssa.Signature{ID: 1, Params: a.Sig.Params, Results: a.Sig.Results}
	b.DeclareSignature(callee)
	ref := b.DeclareFunction(ssa.ExtFuncData{Name: "callee", Sig: callee.ID, Colocated: true})
	entry := b.AllocateBasicBlock()
	x, y := entry.AddParam(b, ssa.TypeF64), entry.AddParam(b, ssa.TypeF32)
	b.SetCurrentBlock(entry)
	n := b.AllocateInstruction().AsIconst(ssa.TypeI64, 7).Insert(b).Return()
	call := b.AllocateInstruction().AsCall(ref, callee, []ssa.Value{x, n, y, x, x, x, y}).Insert(b)
	r, _ := call.Returns()
	b.AllocateInstruction().AsReturn([]ssa.Value{r}).Insert(b)
	b.Seal(entry)

	d := target.NewDescriptor(target.ArchS390X)
	require.NoError(t, backend.PrepareSSA(b, &d))
	f, err := backend.NewCompiler(context.Background(), NewBackend(), b, &d).Compile(context.Background())
	require.NoError(t, err)
	// ste of the last argument right-justified in its slot at 160+12(%r15).
	require.Regexp(t, "70[0-9a-f]0f0ac", hex.EncodeToString(f.Code))
}
