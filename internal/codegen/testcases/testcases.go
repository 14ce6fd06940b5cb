// Package testcases is a catalog of small IR functions exercising the optimizer and the backends.
// Each case carries interpreter runs which define its expected behavior.
package testcases

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// Addresses of the memory mapped by NewInterpreter for the heap cases.
const (
	VMCtxAddr = 0x1000
	HeapAddr  = 0x10_0000
	HeapSize  = 0x1_0000
	// SymbolAddr is the address of the "counter" symbol, which holds the 64-bit value 42.
	SymbolAddr = 0x2000
)

// TestCase is a named IR function.
type TestCase struct {
	Name string
	Desc string
	// Sig is the signature of the function.
	Sig   *ssa.Signature
	build func(f *fn)
	// Runs are the expected results of the function on the interpreter.
	Runs []Run
}

// Run is one execution of a TestCase.
type Run struct {
	Args    []ssa.DataValue
	Results []ssa.DataValue
	// Trap is the expected trap, in which case Results is ignored.
	Trap codegenapi.TrapCode
}

// Build initializes b with the function of the test case.
func (tc *TestCase) Build(b ssa.Builder) {
	b.Init(tc.Sig)
	b.SetName(tc.Name)
	tc.build(&fn{b: b})
}

// NewBuilder returns a new builder holding the function of the test case.
func (tc *TestCase) NewBuilder() ssa.Builder {
	b := ssa.NewBuilder()
	tc.Build(b)
	return b
}

// NewInterpreter returns an interpreter of the function in b with the memory, the symbols and
// the callees the test cases rely on.
func NewInterpreter(b ssa.Builder) *ssa.Interpreter {
	vmctx := make([]byte, 16)
	binary.LittleEndian.PutUint64(vmctx[0:], HeapAddr)
	binary.LittleEndian.PutUint64(vmctx[8:], HeapSize)
	heap := make([]byte, HeapSize)
	for i := range heap {
		heap[i] = byte(i)
	}
	counter := make([]byte, 8)
	binary.LittleEndian.PutUint64(counter, 42)

	in := ssa.NewInterpreter(b)
	in.MapMemory(VMCtxAddr, vmctx)
	in.MapMemory(HeapAddr, heap)
	in.MapMemory(SymbolAddr, counter)
	in.DefineSymbol("counter", SymbolAddr)
	in.SetCallHandler(Callee)
	return in
}

// Callee implements the functions called by the test cases: every callee returns the wrapping sum
// of its integer arguments of at most 64 bits as an i64.
func Callee(_ string, args []ssa.DataValue) ([]ssa.DataValue, error) {
	var sum uint64
	for _, a := range args {
		if a.Type.IsInt() && a.Type.Bits() <= 64 {
			sum += a.Lo
		}
	}
	return []ssa.DataValue{ssa.DataValueI64(sum)}, nil
}

// BuildCallee initializes b with a function named callee of the signature sig, which computes what Callee
// does. sig must return one i64.
func BuildCallee(b ssa.Builder, sig *ssa.Signature) {
	b.Init(sig)
	b.SetName("callee")
	f := &fn{b: b}
	entry, p := f.entry()
	sum := f.iconst(ssa.TypeI64, 0)
	for i, v := range p {
		switch typ := sig.Params[i].Type; {
		case typ == ssa.TypeI64:
		case typ.IsInt() && typ.Bits() < 64:
			v = f.insert(f.instr().AsUExtend(v, ssa.TypeI64))
		default:
			continue
		}
		sum = f.binary(ssa.OpcodeIadd, sum, v)
	}
	f.ret(sum)
	f.sealAll(entry)
}

var catalog = map[string]*TestCase{}

func register(cases ...*TestCase) {
	for _, tc := range cases {
		if _, ok := catalog[tc.Name]; ok {
			panic("BUG: duplicated test case " + tc.Name)
		}
		catalog[tc.Name] = tc
	}
}

// All returns all the test cases sorted by name.
func All() []*TestCase {
	ret := make([]*TestCase, 0, len(catalog))
	for _, tc := range catalog {
		ret = append(ret, tc)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

// Lookup returns the test case of the name.
func Lookup(name string) (*TestCase, bool) {
	tc, ok := catalog[name]
	return tc, ok
}

func sig(params []ssa.Type, results ...ssa.Type) *ssa.Signature {
	s := &ssa.Signature{}
	for _, p := range params {
		s.Params = append(s.Params, ssa.Param(p))
	}
	for _, r := range results {
		s.Results = append(s.Results, ssa.Param(r))
	}
	return s
}

func types(ts ...ssa.Type) []ssa.Type { return ts }

func repeat(t ssa.Type, n int) []ssa.Type {
	ret := make([]ssa.Type, n)
	for i := range ret {
		ret[i] = t
	}
	return ret
}

func i32(v uint32) ssa.DataValue { return ssa.DataValueI32(v) }
func i64(v uint64) ssa.DataValue { return ssa.DataValueI64(v) }
func f64(v float64) ssa.DataValue { return ssa.DataValueF64(v) }

func i32x4(a, b, c, d uint32) ssa.DataValue {
	return ssa.DataValue{Type: ssa.TypeI32x4, Lo: uint64(a) | uint64(b)<<32, Hi: uint64(c) | uint64(d)<<32}
}

func vals(vs ...ssa.DataValue) []ssa.DataValue { return vs }

// fn is a thin helper over ssa.Builder to keep the bodies below short.
type fn struct {
	b ssa.Builder
}

// entry allocates the entry block with the parameters of the signature, and makes it current.
func (f *fn) entry() (ssa.BasicBlock, []ssa.Value) {
	blk := f.b.AllocateBasicBlock()
	var params []ssa.Value
	for _, p := range f.b.Signature().Params {
		params = append(params, blk.AddParam(f.b, p.Type))
	}
	f.b.SetCurrentBlock(blk)
	return blk, params
}

func (f *fn) insert(i *ssa.Instruction) ssa.Value { return i.Insert(f.b).Return() }

func (f *fn) instr() *ssa.Instruction { return f.b.AllocateInstruction() }

func (f *fn) iconst(typ ssa.Type, v uint64) ssa.Value { return f.insert(f.instr().AsIconst(typ, v)) }

func (f *fn) binary(op ssa.Opcode, x, y ssa.Value) ssa.Value {
	return f.insert(f.instr().AsBinary(op, x, y))
}

func (f *fn) icmp(c ssa.IntegerCmpCond, x, y ssa.Value) ssa.Value {
	return f.insert(f.instr().AsIcmp(x, y, c))
}

func (f *fn) ret(vs ...ssa.Value) { f.instr().AsReturn(vs).Insert(f.b) }

func (f *fn) jump(target ssa.BasicBlock, args ...ssa.Value) { f.instr().AsJump(args, target).Insert(f.b) }

// sealAll seals the blocks once all the branches are inserted.
func (f *fn) sealAll(blks ...ssa.BasicBlock) {
	for _, blk := range blks {
		f.b.Seal(blk)
	}
}

func init() {
	register(
		&TestCase{
			Name: "consts",
			Desc: "constants of every scalar type",
			Sig:  sig(nil, ssa.TypeI32, ssa.TypeI64, ssa.TypeF32, ssa.TypeF64),
			build: func(f *fn) {
				entry, _ := f.entry()
				f.ret(
					f.iconst(ssa.TypeI32, 1),
					f.iconst(ssa.TypeI64, 0x1234_5678_9abc),
					f.insert(f.instr().AsF32const(32)),
					f.insert(f.instr().AsF64const(64)),
				)
				f.sealAll(entry)
			},
			Runs: []Run{{Results: vals(i32(1), i64(0x1234_5678_9abc), ssa.DataValueF32(32), f64(64))}},
		},
		&TestCase{
			Name: "add_sub",
			Desc: "i32 arithmetic with small and large immediates",
			Sig:  sig(types(ssa.TypeI32, ssa.TypeI32), ssa.TypeI32),
			build: func(f *fn) {
				entry, p := f.entry()
				sum := f.binary(ssa.OpcodeIadd, p[0], p[1])
				sum = f.binary(ssa.OpcodeIsub, sum, f.iconst(ssa.TypeI32, 6))
				sum = f.binary(ssa.OpcodeIadd, sum, f.iconst(ssa.TypeI32, 0x1_0000))
				f.ret(sum)
				f.sealAll(entry)
			},
			Runs: []Run{
				{Args: vals(i32(10), i32(3)), Results: vals(i32(0x1_0007))},
				{Args: vals(i32(0), i32(0)), Results: vals(i32(0xfffa))},
			},
		},
		&TestCase{
			Name: "arith_i64",
			Desc: "i64 multiply, bitwise and shifts",
			Sig:  sig(types(ssa.TypeI64, ssa.TypeI64), ssa.TypeI64),
			build: func(f *fn) {
				entry, p := f.entry()
				x, y := p[0], p[1]
				prod := f.binary(ssa.OpcodeImul, x, y)
				and := f.binary(ssa.OpcodeBand, x, y)
				shr := f.binary(ssa.OpcodeUshr, prod, f.iconst(ssa.TypeI64, 1))
				f.ret(f.binary(ssa.OpcodeBxor, f.binary(ssa.OpcodeIadd, shr, and), f.binary(ssa.OpcodeIshl, y, x)))
				f.sealAll(entry)
			},
			Runs: []Run{
				// (18>>1) + (6&3) = 11, 3<<6 = 192, 11^192 = 203.
				{Args: vals(i64(6), i64(3)), Results: vals(i64(203))},
			},
		},
		&TestCase{
			Name: "div_traps",
			Desc: "signed division trapping on zero and overflow",
			Sig:  sig(types(ssa.TypeI32, ssa.TypeI32), ssa.TypeI32, ssa.TypeI32),
			build: func(f *fn) {
				entry, p := f.entry()
				f.ret(f.binary(ssa.OpcodeSdiv, p[0], p[1]), f.binary(ssa.OpcodeUrem, p[0], p[1]))
				f.sealAll(entry)
			},
			Runs: []Run{
				{Args: vals(i32(7), i32(2)), Results: vals(i32(3), i32(1))},
				{Args: vals(i32(0xffff_fff9), i32(2)), Results: vals(i32(0xffff_fffd), i32(1))},
				{Args: vals(i32(1), i32(0)), Trap: codegenapi.TrapCodeIntegerDivisionByZero},
				{Args: vals(i32(0x8000_0000), i32(0xffff_ffff)), Trap: codegenapi.TrapCodeIntegerOverflow},
			},
		},
		&TestCase{
			Name: "select",
			Desc: "signed minimum through icmp and select",
			Sig:  sig(types(ssa.TypeI32, ssa.TypeI32), ssa.TypeI32),
			build: func(f *fn) {
				entry, p := f.entry()
				c := f.icmp(ssa.IntegerCmpCondSignedLessThan, p[0], p[1])
				f.ret(f.insert(f.instr().AsSelect(c, p[0], p[1])))
				f.sealAll(entry)
			},
			Runs: []Run{
				{Args: vals(i32(3), i32(5)), Results: vals(i32(3))},
				{Args: vals(i32(0xffff_ffff), i32(2)), Results: vals(i32(0xffff_ffff))},
			},
		},
		&TestCase{
			Name: "loop_licm",
			Desc: "counted loop with a loop invariant multiplication in its body",
			Sig:  sig(types(ssa.TypeI32, ssa.TypeI64), ssa.TypeI64),
			build: func(f *fn) {
				entry, p := f.entry()
				n, k := p[0], p[1]
				header, body, exit := f.b.AllocateBasicBlock(), f.b.AllocateBasicBlock(), f.b.AllocateBasicBlock()
				i := header.AddParam(f.b, ssa.TypeI32)
				acc := header.AddParam(f.b, ssa.TypeI64)
				r := exit.AddParam(f.b, ssa.TypeI64)
				f.jump(header, f.iconst(ssa.TypeI32, 0), f.iconst(ssa.TypeI64, 0))

				f.b.SetCurrentBlock(header)
				c := f.icmp(ssa.IntegerCmpCondSignedLessThan, i, n)
				f.instr().AsBrz(c, []ssa.Value{acc}, exit).Insert(f.b)
				f.jump(body)

				f.b.SetCurrentBlock(body)
				inv := f.binary(ssa.OpcodeImul, k, f.iconst(ssa.TypeI64, 3))
				next := f.binary(ssa.OpcodeIadd, i, f.iconst(ssa.TypeI32, 1))
				f.jump(header, next, f.binary(ssa.OpcodeIadd, acc, inv))

				f.b.SetCurrentBlock(exit)
				f.ret(r)
				f.sealAll(entry, header, body, exit)
			},
			Runs: []Run{
				{Args: vals(i32(4), i64(2)), Results: vals(i64(24))},
				{Args: vals(i32(0), i64(5)), Results: vals(i64(0))},
			},
		},
		&TestCase{
			Name: "br_table",
			Desc: "jump table with a default target",
			Sig:  sig(types(ssa.TypeI32), ssa.TypeI32),
			build: func(f *fn) {
				entry, p := f.entry()
				def := f.b.AllocateBasicBlock()
				targets := []ssa.BasicBlock{f.b.AllocateBasicBlock(), f.b.AllocateBasicBlock(), f.b.AllocateBasicBlock()}
				f.instr().AsBrTable(p[0], def, targets).Insert(f.b)
				for i, t := range targets {
					f.b.SetCurrentBlock(t)
					f.ret(f.iconst(ssa.TypeI32, uint64(i+1)*10))
				}
				f.b.SetCurrentBlock(def)
				f.ret(f.iconst(ssa.TypeI32, 99))
				f.sealAll(entry, def)
				f.sealAll(targets...)
			},
			Runs: []Run{
				{Args: vals(i32(0)), Results: vals(i32(10))},
				{Args: vals(i32(2)), Results: vals(i32(30))},
				{Args: vals(i32(7)), Results: vals(i32(99))},
			},
		},
		&TestCase{
			Name: "fcmp_branch",
			Desc: "branch on an ordered float comparison",
			Sig:  sig(types(ssa.TypeF64, ssa.TypeF64), ssa.TypeI32),
			build: func(f *fn) {
				entry, p := f.entry()
				then, els := f.b.AllocateBasicBlock(), f.b.AllocateBasicBlock()
				c := f.insert(f.instr().AsFcmp(p[0], p[1], ssa.FloatCmpCondLessThan))
				f.instr().AsBrnz(c, nil, then).Insert(f.b)
				f.jump(els)
				f.b.SetCurrentBlock(then)
				f.ret(f.iconst(ssa.TypeI32, 1))
				f.b.SetCurrentBlock(els)
				f.ret(f.iconst(ssa.TypeI32, 0))
				f.sealAll(entry, then, els)
			},
			Runs: []Run{
				{Args: vals(f64(1), f64(2)), Results: vals(i32(1))},
				{Args: vals(f64(2), f64(1)), Results: vals(i32(0))},
				{Args: vals(f64(math.NaN()), f64(1)), Results: vals(i32(0))},
			},
		},
		&TestCase{
			Name: "fminmax",
			Desc: "IEEE fmin and fmax",
			Sig:  sig(types(ssa.TypeF64, ssa.TypeF64), ssa.TypeF64, ssa.TypeF64),
			build: func(f *fn) {
				entry, p := f.entry()
				f.ret(f.binary(ssa.OpcodeFmin, p[0], p[1]), f.binary(ssa.OpcodeFmax, p[0], p[1]))
				f.sealAll(entry)
			},
			Runs: []Run{{Args: vals(f64(1.5), f64(-2)), Results: vals(f64(-2), f64(1.5))}},
		},
		&TestCase{
			Name: "fcvt_to_sint",
			Desc: "float to int conversion trapping on NaN and overflow",
			Sig:  sig(types(ssa.TypeF64), ssa.TypeI32),
			build: func(f *fn) {
				entry, p := f.entry()
				f.ret(f.insert(f.instr().AsConversion(ssa.OpcodeFcvtToSint, p[0], ssa.TypeI32)))
				f.sealAll(entry)
			},
			Runs: []Run{
				{Args: vals(f64(3.7)), Results: vals(i32(3))},
				{Args: vals(f64(-3.7)), Results: vals(i32(0xffff_fffd))},
				{Args: vals(f64(math.NaN())), Trap: codegenapi.TrapCodeBadConversionToInteger},
				{Args: vals(f64(1e10)), Trap: codegenapi.TrapCodeIntegerOverflow},
			},
		},
		&TestCase{
			Name: "ext_args",
			Desc: "narrow parameters with extension attributes",
			Sig: &ssa.Signature{
				Params: []ssa.AbiParam{
					{Type: ssa.TypeI8, Extension: ssa.ArgumentExtensionSext},
					{Type: ssa.TypeI16, Extension: ssa.ArgumentExtensionUext},
				},
				Results: []ssa.AbiParam{ssa.Param(ssa.TypeI64)},
			},
			build: func(f *fn) {
				entry, p := f.entry()
				x := f.insert(f.instr().AsSExtend(p[0], ssa.TypeI64))
				y := f.insert(f.instr().AsUExtend(p[1], ssa.TypeI64))
				f.ret(f.binary(ssa.OpcodeIadd, x, y))
				f.sealAll(entry)
			},
			Runs: []Run{{Args: vals(ssa.DataValueI8(0xff), ssa.DataValueI16(0xffff)), Results: vals(i64(0xfffe))}},
		},
		&TestCase{
			Name: "i128",
			Desc: "i128 parameters, arithmetic and result in register pairs",
			Sig:  sig(types(ssa.TypeI128, ssa.TypeI128), ssa.TypeI128, ssa.TypeI8),
			build: func(f *fn) {
				entry, p := f.entry()
				sum := f.binary(ssa.OpcodeIadd, p[0], p[1])
				f.ret(sum, f.icmp(ssa.IntegerCmpCondUnsignedLessThan, sum, p[0]))
				f.sealAll(entry)
			},
			Runs: []Run{
				{Args: vals(ssa.DataValueI128(math.MaxUint64, 0), ssa.DataValueI128(1, 0)), Results: vals(ssa.DataValueI128(0, 1), ssa.DataValueI8(0))},
				{Args: vals(ssa.DataValueI128(1, math.MaxUint64), ssa.DataValueI128(0, 1)), Results: vals(ssa.DataValueI128(1, 0), ssa.DataValueI8(1))},
			},
		},
		&TestCase{
			Name: "vector_add",
			Desc: "lane-wise i32x4 addition",
			Sig:  sig(types(ssa.TypeI32x4, ssa.TypeI32x4), ssa.TypeI32x4),
			build: func(f *fn) {
				entry, p := f.entry()
				f.ret(f.binary(ssa.OpcodeIadd, p[0], p[1]))
				f.sealAll(entry)
			},
			Runs: []Run{{
				Args:    vals(i32x4(1, 2, 3, 0xffff_ffff), i32x4(10, 20, 30, 1)),
				Results: vals(i32x4(11, 22, 33, 0)),
			}},
		},
		&TestCase{
			Name: "stack_slots",
			Desc: "stores to and loads from an explicit stack slot",
			Sig:  sig(types(ssa.TypeI64, ssa.TypeI32), ssa.TypeI64),
			build: func(f *fn) {
				entry, p := f.entry()
				slot := f.b.CreateStackSlot(ssa.StackSlotData{Size: 16, AlignLog2: 3})
				f.instr().AsStackStore(p[0], slot, 0).Insert(f.b)
				f.instr().AsStackStore(p[1], slot, 8).Insert(f.b)
				lo := f.insert(f.instr().AsStackLoad(ssa.TypeI64, slot, 0))
				hi := f.insert(f.instr().AsExtLoad(ssa.OpcodeUload32, f.insert(f.instr().AsStackAddr(slot, 8)), 0, ssa.TypeI64, 0))
				f.ret(f.binary(ssa.OpcodeIadd, lo, hi))
				f.sealAll(entry)
			},
			Runs: []Run{{Args: vals(i64(5), i32(0xffff_ffff)), Results: vals(i64(0x1_0000_0004))}},
		},
		probeCase("probe_unroll", "a 9000-byte frame, probed without a loop", 9000),
		probeCase("probe_loop", "a frame of sixteen guard pages, probed in a loop", 16*4096),
		heapCase("heap_static", "heap access with a static bound", ssa.HeapData{
			BoundKind: ssa.HeapBoundStatic, Bound: HeapSize, IndexType: ssa.TypeI32,
		}),
		heapCase("heap_dynamic", "heap access with a bound loaded from the vmctx", ssa.HeapData{
			BoundKind: ssa.HeapBoundDynamic, IndexType: ssa.TypeI32,
		}),
		heapCase("heap_dynamic_guard", "heap access with a dynamic bound and a guard region", ssa.HeapData{
			BoundKind: ssa.HeapBoundDynamic, IndexType: ssa.TypeI32, OffsetGuardSize: 0x1000,
		}),
		&TestCase{
			Name: "global_symbol",
			Desc: "load through a symbol global value",
			Sig:  sig(nil, ssa.TypeI64),
			build: func(f *fn) {
				entry, _ := f.entry()
				gv := f.b.DeclareGlobalValue(ssa.GlobalValueData{Kind: ssa.GlobalValueKindSymbol, Symbol: "counter", Type: ssa.TypeI64})
				addr := f.insert(f.instr().AsGlobalValue(gv, ssa.TypeI64))
				f.ret(f.insert(f.instr().AsLoad(addr, 0, ssa.TypeI64, ssa.MemFlagsTrusted)))
				f.sealAll(entry)
			},
			Runs: []Run{{Results: vals(i64(42))}},
		},
		&TestCase{
			Name: "call",
			Desc: "direct call of a colocated function",
			Sig:  sig(types(ssa.TypeI64, ssa.TypeI64), ssa.TypeI64),
			build: func(f *fn) {
				entry, p := f.entry()
				callee := sig(types(ssa.TypeI64, ssa.TypeI64), ssa.TypeI64)
				callee.ID = 1
				f.b.DeclareSignature(callee)
				ref := f.b.DeclareFunction(ssa.ExtFuncData{Name: "callee", Sig: callee.ID, Colocated: true})
				r := f.insert(f.instr().AsCall(ref, callee, []ssa.Value{p[1], p[0]}))
				f.ret(f.binary(ssa.OpcodeIadd, r, f.iconst(ssa.TypeI64, 1)))
				f.sealAll(entry)
			},
			Runs: []Run{{Args: vals(i64(2), i64(3)), Results: vals(i64(6))}},
		},
		&TestCase{
			Name: "call_indirect",
			Desc: "indirect call through a function address",
			Sig:  sig(types(ssa.TypeI32), ssa.TypeI64),
			build: func(f *fn) {
				entry, p := f.entry()
				callee := sig(types(ssa.TypeI32), ssa.TypeI64)
				callee.ID = 1
				f.b.DeclareSignature(callee)
				ref := f.b.DeclareFunction(ssa.ExtFuncData{Name: "callee", Sig: callee.ID})
				ptr := f.insert(f.instr().AsFuncAddr(ref))
				f.ret(f.insert(f.instr().AsCallIndirect(ptr, callee, []ssa.Value{p[0]})))
				f.sealAll(entry)
			},
			Runs: []Run{{Args: vals(i32(9)), Results: vals(i64(9))}},
		},
		&TestCase{
			Name: "many_args",
			Desc: "call with arguments passed on the stack",
			Sig:  sig(repeat(ssa.TypeI64, 10), ssa.TypeI64),
			build: func(f *fn) {
				entry, p := f.entry()
				callee := sig(repeat(ssa.TypeI64, 10), ssa.TypeI64)
				callee.ID = 1
				f.b.DeclareSignature(callee)
				ref := f.b.DeclareFunction(ssa.ExtFuncData{Name: "callee", Sig: callee.ID, Colocated: true})
				args := make([]ssa.Value, len(p))
				for i := range p {
					args[i] = p[len(p)-1-i]
				}
				r := f.insert(f.instr().AsCall(ref, callee, args))
				f.ret(f.binary(ssa.OpcodeIsub, r, p[9]))
				f.sealAll(entry)
			},
			Runs: []Run{{
				Args:    vals(i64(1), i64(2), i64(3), i64(4), i64(5), i64(6), i64(7), i64(8), i64(9), i64(10)),
				Results: vals(i64(45)),
			}},
		},
		&TestCase{
			Name: "many_results",
			Desc: "results beyond the return registers, returned through memory",
			Sig:  sig(nil, repeat(ssa.TypeI64, 6)...),
			build: func(f *fn) {
				entry, _ := f.entry()
				rs := make([]ssa.Value, 6)
				for i := range rs {
					rs[i] = f.iconst(ssa.TypeI64, uint64(i+1))
				}
				f.ret(rs...)
				f.sealAll(entry)
			},
			Runs: []Run{{Results: vals(i64(1), i64(2), i64(3), i64(4), i64(5), i64(6))}},
		},
		&TestCase{
			Name: "tail_call",
			Desc: "return_call with register arguments",
			Sig:  &ssa.Signature{CallConv: ssa.CallConvTail, Params: []ssa.AbiParam{ssa.Param(ssa.TypeI64), ssa.Param(ssa.TypeI64)}, Results: []ssa.AbiParam{ssa.Param(ssa.TypeI64)}},
			build: func(f *fn) {
				entry, p := f.entry()
				callee := &ssa.Signature{ID: 1, CallConv: ssa.CallConvTail, Params: []ssa.AbiParam{ssa.Param(ssa.TypeI64)}, Results: []ssa.AbiParam{ssa.Param(ssa.TypeI64)}}
				f.b.DeclareSignature(callee)
				ref := f.b.DeclareFunction(ssa.ExtFuncData{Name: "callee", Sig: callee.ID, Colocated: true})
				f.instr().AsReturnCall(ref, callee, []ssa.Value{f.binary(ssa.OpcodeImul, p[0], p[1])}).Insert(f.b)
				f.sealAll(entry)
			},
			Runs: []Run{{Args: vals(i64(6), i64(7)), Results: vals(i64(42))}},
		},
		&TestCase{
			Name: "tail_call_stack_args",
			Desc: "return_call reusing the incoming stack argument area",
			Sig:  &ssa.Signature{CallConv: ssa.CallConvTail, Params: sig(repeat(ssa.TypeI64, 10)).Params, Results: []ssa.AbiParam{ssa.Param(ssa.TypeI64)}},
			build: func(f *fn) {
				entry, p := f.entry()
				callee := &ssa.Signature{ID: 1, CallConv: ssa.CallConvTail, Params: sig(repeat(ssa.TypeI64, 10)).Params, Results: []ssa.AbiParam{ssa.Param(ssa.TypeI64)}}
				f.b.DeclareSignature(callee)
				ref := f.b.DeclareFunction(ssa.ExtFuncData{Name: "callee", Sig: callee.ID, Colocated: true})
				args := make([]ssa.Value, len(p))
				for i := range p {
					args[i] = p[len(p)-1-i]
				}
				f.instr().AsReturnCall(ref, callee, args).Insert(f.b)
				f.sealAll(entry)
			},
			Runs: []Run{{
				Args:    vals(i64(1), i64(2), i64(3), i64(4), i64(5), i64(6), i64(7), i64(8), i64(9), i64(10)),
				Results: vals(i64(55)),
			}},
		},
		&TestCase{
			Name: "refs_across_call",
			Desc: "reference values live across a call, recorded in a stack map",
			Sig:  sig(types(ssa.TypeR64, ssa.TypeI64), ssa.TypeR64, ssa.TypeI64),
			build: func(f *fn) {
				entry, p := f.entry()
				callee := sig(types(ssa.TypeI64), ssa.TypeI64)
				callee.ID = 1
				f.b.DeclareSignature(callee)
				ref := f.b.DeclareFunction(ssa.ExtFuncData{Name: "callee", Sig: callee.ID, Colocated: true})
				r := f.insert(f.instr().AsCall(ref, callee, []ssa.Value{p[1]}))
				f.ret(p[0], r)
				f.sealAll(entry)
			},
			Runs: []Run{{
				Args:    vals(ssa.DataValue{Type: ssa.TypeR64, Lo: 0xdead}, i64(3)),
				Results: vals(ssa.DataValue{Type: ssa.TypeR64, Lo: 0xdead}, i64(3)),
			}},
		},
	)
}

// probeCase builds a function whose frame holds a stack slot of size bytes.
func probeCase(name, desc string, size uint32) *TestCase {
	return &TestCase{
		Name: name,
		Desc: desc,
		Sig:  sig(types(ssa.TypeI64), ssa.TypeI64),
		build: func(f *fn) {
			entry, p := f.entry()
			slot := f.b.CreateStackSlot(ssa.StackSlotData{Size: size, AlignLog2: 3})
			f.instr().AsStackStore(p[0], slot, size-8).Insert(f.b)
			f.ret(f.insert(f.instr().AsStackLoad(ssa.TypeI64, slot, size-8)))
			f.sealAll(entry)
		},
		Runs: []Run{{Args: vals(i64(77)), Results: vals(i64(77))}, {Args: vals(i64(1)), Results: vals(i64(1))}},
	}
}

var vmctxSig = &ssa.Signature{
	Params:  []ssa.AbiParam{{Type: ssa.TypeI64, Purpose: ssa.ArgumentPurposeVMContext}, ssa.Param(ssa.TypeI32)},
	Results: []ssa.AbiParam{ssa.Param(ssa.TypeI32)},
}

// heapCase builds a function loading the i32 at index+4 of the heap. The vmctx holds the heap base at
// offset 0 and its size at offset 8. The heap bytes are their own addresses modulo 256.
func heapCase(name, desc string, data ssa.HeapData) *TestCase {
	return &TestCase{
		Name: name,
		Desc: desc,
		Sig:  vmctxSig,
		build: func(f *fn) {
			d := data
			vmctx := f.b.DeclareGlobalValue(ssa.GlobalValueData{Kind: ssa.GlobalValueKindVMContext, Type: ssa.TypeI64})
			d.Base = f.b.DeclareGlobalValue(ssa.GlobalValueData{Kind: ssa.GlobalValueKindLoad, Base: vmctx, Type: ssa.TypeI64, ReadOnly: true})
			if d.BoundKind == ssa.HeapBoundDynamic {
				d.DynamicBound = f.b.DeclareGlobalValue(ssa.GlobalValueData{Kind: ssa.GlobalValueKindLoad, Base: vmctx, Offset: 8, Type: ssa.TypeI64})
			}
			heap := f.b.DeclareHeap(d)

			entry, p := f.entry()
			addr := f.insert(f.instr().AsHeapAddr(heap, p[1], 4, 4))
			f.ret(f.insert(f.instr().AsLoad(addr, 0, ssa.TypeI32, ssa.MemFlagHeap)))
			f.sealAll(entry)
		},
		Runs: []Run{
			{Args: vals(i64(VMCtxAddr), i32(0)), Results: vals(i32(0x07060504))},
			{Args: vals(i64(VMCtxAddr), i32(HeapSize - 8)), Results: vals(i32(0xfffefdfc))},
			{Args: vals(i64(VMCtxAddr), i32(HeapSize - 7)), Trap: codegenapi.TrapCodeHeapOutOfBounds},
			{Args: vals(i64(VMCtxAddr), i32(0xffff_fffc)), Trap: codegenapi.TrapCodeHeapOutOfBounds},
		},
	}
}
