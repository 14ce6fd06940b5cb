package backend

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

func TestFunctionABI_Init(t *testing.T) {
	regs := &ABIRegs{
		ArgInts: []regalloc.RealReg{1, 2, 3}, ArgFloats: []regalloc.RealReg{17, 18},
		RetInts: []regalloc.RealReg{1}, RetFloats: []regalloc.RealReg{17},
	}
	intReg := func(r regalloc.RealReg) regalloc.VReg { return regalloc.FromRealReg(r, regalloc.RegTypeInt) }
	floatReg := func(r regalloc.RealReg) regalloc.VReg { return regalloc.FromRealReg(r, regalloc.RegTypeFloat) }

	for _, tc := range []struct {
		name    string
		sig     *ssa.Signature
		regs    *ABIRegs
		args    []ABIArg
		rets    []ABIArg
		argSize int64
		retSize int64
	}{
		{
			name: "registers only",
			sig: &ssa.Signature{
				Params:  []ssa.AbiParam{ssa.Param(ssa.TypeI32), ssa.Param(ssa.TypeF64), ssa.Param(ssa.TypeR64)},
				Results: []ssa.AbiParam{ssa.Param(ssa.TypeF32)},
			},
			args: []ABIArg{
				{Index: 0, Kind: ABIArgKindReg, Reg: intReg(1), Reg2: regalloc.VRegInvalid, Type: ssa.TypeI32},
				{Index: 1, Kind: ABIArgKindReg, Reg: floatReg(17), Reg2: regalloc.VRegInvalid, Type: ssa.TypeF64},
				{Index: 2, Kind: ABIArgKindReg, Reg: intReg(2), Reg2: regalloc.VRegInvalid, Type: ssa.TypeR64},
			},
			rets: []ABIArg{
				{Index: 0, Kind: ABIArgKindReg, Reg: floatReg(17), Reg2: regalloc.VRegInvalid, Type: ssa.TypeF32},
			},
		},
		{
			name: "stack args and i128",
			sig: &ssa.Signature{
				Params: []ssa.AbiParam{
					ssa.Param(ssa.TypeI64), ssa.Param(ssa.TypeI128), ssa.Param(ssa.TypeI32),
					{Type: ssa.TypeI8, Extension: ssa.ArgumentExtensionSext}, ssa.Param(ssa.TypeI128),
				},
			},
			args: []ABIArg{
				{Index: 0, Kind: ABIArgKindReg, Reg: intReg(1), Reg2: regalloc.VRegInvalid, Type: ssa.TypeI64},
				{Index: 1, Kind: ABIArgKindReg, Reg: intReg(2), Reg2: intReg(3), Type: ssa.TypeI128},
				{Index: 2, Kind: ABIArgKindStack, Offset: 0, Reg: regalloc.VRegInvalid, Reg2: regalloc.VRegInvalid, Type: ssa.TypeI32},
				{
					Index: 3, Kind: ABIArgKindStack, Offset: 8, Reg: regalloc.VRegInvalid, Reg2: regalloc.VRegInvalid,
					Type: ssa.TypeI8, Extension: ssa.ArgumentExtensionSext,
				},
				{Index: 4, Kind: ABIArgKindStack, Offset: 16, Reg: regalloc.VRegInvalid, Reg2: regalloc.VRegInvalid, Type: ssa.TypeI128},
			},
			argSize: 32,
		},
		{
			name: "multiple results use the return area",
			sig: &ssa.Signature{
				Params:  []ssa.AbiParam{ssa.Param(ssa.TypeI64)},
				Results: []ssa.AbiParam{ssa.Param(ssa.TypeI64), ssa.Param(ssa.TypeI32), ssa.Param(ssa.TypeF64)},
			},
			args: []ABIArg{
				{Index: 0, Kind: ABIArgKindReg, Reg: intReg(1), Reg2: regalloc.VRegInvalid, Type: ssa.TypeI64},
				{Index: 1, Kind: ABIArgKindReg, Reg: intReg(2), Reg2: regalloc.VRegInvalid, Type: ssa.TypeI64},
			},
			rets: []ABIArg{
				{Index: 0, Kind: ABIArgKindReg, Reg: intReg(1), Reg2: regalloc.VRegInvalid, Type: ssa.TypeI64},
				{Index: 1, Kind: ABIArgKindStack, Offset: 0, Reg: regalloc.VRegInvalid, Reg2: regalloc.VRegInvalid, Type: ssa.TypeI32},
				{Index: 2, Kind: ABIArgKindReg, Reg: floatReg(17), Reg2: regalloc.VRegInvalid, Type: ssa.TypeF64},
			},
			retSize: 8,
		},
		{
			name: "vectors without float registers",
			sig: &ssa.Signature{
				Params: []ssa.AbiParam{ssa.Param(ssa.TypeI64), ssa.Param(ssa.TypeI32x4)},
			},
			args: []ABIArg{
				{Index: 0, Kind: ABIArgKindReg, Reg: intReg(1), Reg2: regalloc.VRegInvalid, Type: ssa.TypeI64},
				{Index: 1, Kind: ABIArgKindStack, Offset: 0, Reg: regalloc.VRegInvalid, Reg2: regalloc.VRegInvalid, Type: ssa.TypeI32x4},
			},
			argSize: 16,
		},
		{
			name: "vectors in float registers",
			sig: &ssa.Signature{
				Params: []ssa.AbiParam{ssa.Param(ssa.TypeI32x4)},
			},
			regs: &ABIRegs{ArgFloats: []regalloc.RealReg{17}, VectorsInFloatRegs: true},
			args: []ABIArg{
				{
					Index: 0, Kind: ABIArgKindReg, Reg: regalloc.FromRealReg(17, regalloc.RegTypeVector),
					Reg2: regalloc.VRegInvalid, Type: ssa.TypeI32x4,
				},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := regs
			if tc.regs != nil {
				r = tc.regs
			}
			var abi FunctionABI
			abi.Init(tc.sig, r)
			require.Equal(t, tc.args, abi.Args)
			require.Equal(t, tc.rets, abi.Rets)
			require.Equal(t, tc.argSize, abi.ArgStackSize)
			require.Equal(t, tc.retSize, abi.RetStackSize)
			require.Equal(t, tc.retSize > 0, abi.RetPtr)
			if abi.RetPtr {
				require.Equal(t, &abi.Args[len(abi.Args)-1], abi.RetPtrArg())
			} else {
				require.Nil(t, abi.RetPtrArg())
			}
		})
	}
}

func TestFunctionABI_tailCalls(t *testing.T) {
	regs := &ABIRegs{ArgInts: []regalloc.RealReg{1}}
	sig := func(conv ssa.CallConv, params int) *ssa.Signature {
		s := &ssa.Signature{CallConv: conv}
		for i := 0; i < params; i++ {
			s.Params = append(s.Params, ssa.Param(ssa.TypeI64))
		}
		return s
	}

	var cur, callee FunctionABI
	cur.Init(sig(ssa.CallConvTail, 4), regs)
	require.True(t, cur.CalleePopsArgs())
	require.Equal(t, int64(24), cur.ArgStackSize)
	require.Equal(t, int64(32), cur.AlignedArgStackSize())

	callee.Init(sig(ssa.CallConvTail, 2), regs)
	require.Equal(t, int64(16), callee.AlignedArgStackSize())
	// The callee's arguments end where the current function's ones end.
	require.Equal(t, int64(16+32-16), TailCallSPOffset(&cur, &callee, 16))

	cur.Init(sig(ssa.CallConvSystemV, 4), regs)
	require.False(t, cur.CalleePopsArgs())
	require.Equal(t, int64(0), TailCallSPOffset(&cur, &callee, 16))
}

// checkABIArgs checks the locations of args against the registers they may use: each register class is
// used in order from its first register, and the stack slots are aligned and disjoint.
func checkABIArgs(t *testing.T, args []ABIArg, params []ssa.AbiParam, ints, floats []regalloc.RealReg, stackSize int64, seed int64) {
	usedInts, usedFloats := []regalloc.RealReg{}, []regalloc.RealReg{}
	var end int64
	for i := range args {
		arg := &args[i]
		require.Equal(t, i, arg.Index, "seed %d", seed)
		require.Equal(t, params[i].Type, arg.Type, "seed %d", seed)
		if arg.Kind == ABIArgKindReg {
			if arg.Reg.RegType() == regalloc.RegTypeInt {
				usedInts = append(usedInts, arg.Reg.RealReg())
				if arg.Reg2.Valid() {
					usedInts = append(usedInts, arg.Reg2.RealReg())
				}
			} else {
				usedFloats = append(usedFloats, arg.Reg.RealReg())
			}
			continue
		}
		size := int64(8)
		if arg.Type == ssa.TypeI128 || arg.Type.IsVector() {
			size = 16
		}
		require.Zero(t, arg.Offset%size, "seed %d: %s", seed, arg.String())
		require.GreaterOrEqual(t, arg.Offset, end, "seed %d: %s", seed, arg.String())
		end = arg.Offset + size
	}
	require.Equal(t, end, stackSize, "seed %d", seed)
	require.Equal(t, ints[:len(usedInts)], usedInts, "seed %d", seed)
	require.Equal(t, floats[:len(usedFloats)], usedFloats, "seed %d", seed)
}

func TestFunctionABI_Init_random(t *testing.T) {
	types := []ssa.Type{
		ssa.TypeI8, ssa.TypeI16, ssa.TypeI32, ssa.TypeI64, ssa.TypeI128,
		ssa.TypeR64, ssa.TypeF32, ssa.TypeF64, ssa.TypeI32x4, ssa.TypeF64x2,
	}
	regRange := func(first regalloc.RealReg, n int) []regalloc.RealReg {
		ret := make([]regalloc.RealReg, n)
		for i := range ret {
			ret[i] = first + regalloc.RealReg(i)
		}
		return ret
	}
	var abi FunctionABI
	for seed := int64(0); seed < 300; seed++ {
		rng := rand.New(rand.NewSource(seed))
		regs := &ABIRegs{
			ArgInts: regRange(1, rng.Intn(9)), ArgFloats: regRange(32, rng.Intn(9)),
			RetInts: regRange(1, 1+rng.Intn(2)), RetFloats: regRange(32, 1+rng.Intn(2)),
			VectorsInFloatRegs: rng.Intn(2) == 0,
		}
		sig := &ssa.Signature{}
		for i := rng.Intn(16); i > 0; i-- {
			sig.Params = append(sig.Params, ssa.Param(types[rng.Intn(len(types))]))
		}
		for i := rng.Intn(5); i > 0; i-- {
			sig.Results = append(sig.Results, ssa.Param(types[rng.Intn(len(types))]))
		}

		// abi is reused across seeds, as the compiler does.
		abi.Init(sig, regs)
		checkABIArgs(t, abi.Rets, sig.Results, regs.RetInts, regs.RetFloats, abi.RetStackSize, seed)
		require.Equal(t, abi.RetStackSize > 0, abi.RetPtr, "seed %d", seed)
		params := sig.Params
		if abi.RetPtr {
			params = append(params[:len(params):len(params)], ssa.Param(ssa.TypeI64))
		}
		require.Len(t, abi.Args, len(params), "seed %d", seed)
		checkABIArgs(t, abi.Args, params, regs.ArgInts, regs.ArgFloats, abi.ArgStackSize, seed)

		var fresh FunctionABI
		fresh.Init(sig, regs)
		require.Equal(t, fresh.Args, abi.Args, "seed %d", seed)
		require.Equal(t, fresh.Rets, abi.Rets, "seed %d", seed)
	}
}
