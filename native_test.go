package wasmtime

import (
	"context"
	"encoding/hex"
	"math/rand"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
	"github.com/mickey951112/wasmtime/internal/codegen/testcases"
	"github.com/mickey951112/wasmtime/internal/platform"
)

// nativeConfig is the x86_64 configuration of the functions run on the host: probes are inline, as there
// is no __probestack to call.
func nativeConfig(opt target.OptLevel) *TargetConfig {
	return NewTargetConfig(target.ArchX86_64).WithOptLevel(opt).WithProbestack(target.ProbestackInline, 12)
}

// calleeBuilder returns the function called by the function in b, the callee signature being declared
// with the ID 1.
func calleeBuilder(b ssa.Builder) ssa.Builder {
	sig := *b.ResolveSignature(1)
	sig.ID = 0
	ret := ssa.NewBuilder()
	testcases.BuildCallee(ret, &sig)
	return ret
}

// runNative links fs at the address where they are mapped, and calls the function named entry with args.
func runNative(t *testing.T, fs []*CompiledFunction, entry string, args ...uint64) uint64 {
	offsets, size := backend.Layout(fs)
	mem, err := platform.MmapMemory(int(size))
	require.NoError(t, err)
	defer func() { require.NoError(t, platform.MunmapCodeSegment(mem)) }()

	image, err := backend.Link(fs, uint64(uintptr(unsafe.Pointer(&mem[0]))), nil)
	require.NoError(t, err)
	copy(mem, image)
	require.NoError(t, platform.MprotectRX(mem))

	for i, f := range fs {
		if f.Name == entry {
			ret, err := platform.CallSysV(mem[offsets[i]:], args...)
			require.NoError(t, err)
			return ret
		}
	}
	t.Fatalf("no function %s", entry)
	return 0
}

func TestNative_testcases(t *testing.T) {
	if !platform.Supported() {
		t.Skip("native code cannot run on this host")
	}
	for _, tc := range []struct {
		name   string
		callee bool
	}{
		{name: "add_sub"},
		{name: "arith_i64"},
		{name: "select"},
		{name: "loop_licm"},
		{name: "br_table"},
		{name: "stack_slots"},
		{name: "probe_unroll"},
		{name: "probe_loop"},
		{name: "call", callee: true},
		{name: "call_indirect", callee: true},
		{name: "many_args", callee: true},
		{name: "tail_call", callee: true},
		{name: "tail_call_stack_args", callee: true},
	} {
		c, ok := testcases.Lookup(tc.name)
		require.True(t, ok, tc.name)
		for _, opt := range []target.OptLevel{target.OptLevelNone, target.OptLevelSpeed} {
			t.Run(opt.String()+"/"+tc.name, func(t *testing.T) {
				bs := []ssa.Builder{c.NewBuilder()}
				if tc.callee {
					bs = append(bs, calleeBuilder(bs[0]))
				}
				fs, err := Compile(context.Background(), nativeConfig(opt), bs)
				require.NoError(t, err)

				typ := c.Sig.Results[0].Type
				mask := ^uint64(0)
				if typ.Bits() < 64 {
					mask = 1<<typ.Bits() - 1
				}
				for _, run := range c.Runs {
					args := make([]uint64, len(run.Args))
					for i, a := range run.Args {
						args[i] = a.Lo
					}
					actual := runNative(t, fs, c.Name, args...)
					require.Equal(t, run.Results[0].Lo, actual&mask, "args %v", run.Args)
				}
			})
		}
	}
}

// buildGrowingTailCall initializes b with a function of two parameters tail calling callee with ten, so
// that the callee's stack arguments do not fit in the caller's argument area.
func buildGrowingTailCall(b ssa.Builder) {
	i64 := ssa.Param(ssa.TypeI64)
	b.Init(&ssa.Signature{CallConv: ssa.CallConvTail, Params: []ssa.AbiParam{i64, i64}, Results: []ssa.AbiParam{i64}})
	b.SetName("grow")
	callee := &ssa.Signature{ID: 1, CallConv: ssa.CallConvTail, Results: []ssa.AbiParam{i64}}
	for i := 0; i < 10; i++ {
		callee.Params = append(callee.Params, i64)
	}
	b.DeclareSignature(callee)
	ref := b.DeclareFunction(ssa.ExtFuncData{Name: "callee", Sig: callee.ID, Colocated: true})

	entry := b.AllocateBasicBlock()
	x, y := entry.AddParam(b, ssa.TypeI64), entry.AddParam(b, ssa.TypeI64)
	b.SetCurrentBlock(entry)
	args := []ssa.Value{x}
	for i := 1; i < 9; i++ {
		args = append(args, b.AllocateInstruction().AsIconst(ssa.TypeI64, uint64(i+1)<<8).Insert(b).Return())
	}
	args = append(args, y)
	b.AllocateInstruction().AsReturnCall(ref, callee, args).Insert(b)
	b.Seal(entry)
}

func TestCompile_growingTailCall(t *testing.T) {
	b := ssa.NewBuilder()
	buildGrowingTailCall(b)
	require.NoError(t, b.Verify())
	fs, err := Compile(context.Background(), nativeConfig(target.OptLevelNone), []ssa.Builder{b, calleeBuilder(b)})
	require.NoError(t, err)

	// The stack arguments are moved from the outgoing area, push [rsp+disp8], to the extended argument
	// area, pop [rbp+disp8].
	code := hex.EncodeToString(fs[0].Code)
	require.True(t, strings.Contains(code, "ff7424"), code)
	require.True(t, strings.Contains(code, "8f45"), code)

	if !platform.Supported() {
		return
	}
	for _, xy := range [][2]uint64{{0, 0}, {1, 2}, {^uint64(0), 1 << 40}} {
		// The constant arguments sum to (2+3+...+9)<<8.
		exp := xy[0] + xy[1] + 44<<8
		require.Equal(t, exp, runNative(t, fs, "grow", xy[0], xy[1]))
	}
}

// buildForwardingCall initializes b with a function of the signature sig, returning what callee returns
// for its parameters in reverse order.
func buildForwardingCall(b ssa.Builder, sig *ssa.Signature) {
	b.Init(sig)
	b.SetName("forward")
	callee := &ssa.Signature{ID: 1, Results: sig.Results}
	for i := len(sig.Params) - 1; i >= 0; i-- {
		callee.Params = append(callee.Params, sig.Params[i])
	}
	b.DeclareSignature(callee)
	ref := b.DeclareFunction(ssa.ExtFuncData{Name: "callee", Sig: callee.ID, Colocated: true})

	entry := b.AllocateBasicBlock()
	var args []ssa.Value
	for _, p := range sig.Params {
		args = append([]ssa.Value{entry.AddParam(b, p.Type)}, args...)
	}
	b.SetCurrentBlock(entry)
	r := b.AllocateInstruction().AsCall(ref, callee, args).Insert(b).Return()
	b.AllocateInstruction().AsReturn([]ssa.Value{r}).Insert(b)
	b.Seal(entry)
}

func TestNative_randomSignatures(t *testing.T) {
	types := []ssa.Type{ssa.TypeI8, ssa.TypeI16, ssa.TypeI32, ssa.TypeI64}
	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		sig := &ssa.Signature{Results: []ssa.AbiParam{ssa.Param(ssa.TypeI64)}}
		args := []ssa.DataValue{}
		for i := rng.Intn(15); i > 0; i-- {
			typ := types[rng.Intn(len(types))]
			sig.Params = append(sig.Params, ssa.Param(typ))
			args = append(args, ssa.DataValueOf(typ, rng.Uint64()))
		}
		b := ssa.NewBuilder()
		buildForwardingCall(b, sig)
		require.NoError(t, b.Verify(), "seed %d", seed)
		exp, err := testcases.Callee("callee", args)
		require.NoError(t, err)
		actual, err := testcases.NewInterpreter(b).Run(args...)
		require.NoError(t, err, "seed %d", seed)
		require.Equal(t, exp, actual, "seed %d", seed)

		for _, arch := range target.Arches {
			b := ssa.NewBuilder()
			buildForwardingCall(b, sig)
			cfg := NewTargetConfig(arch).WithOptLevel(target.OptLevelSpeed)
			fs, err := Compile(context.Background(), cfg, []ssa.Builder{b, calleeBuilder(b)})
			require.NoError(t, err, "seed %d %s", seed, arch)
			if arch != target.ArchX86_64 || !platform.Supported() {
				continue
			}
			raw := make([]uint64, len(args))
			for i, a := range args {
				raw[i] = a.Lo
			}
			require.Equal(t, exp[0].Lo, runNative(t, fs, "forward", raw...), "seed %d: %v", seed, sig)
		}
	}
}
