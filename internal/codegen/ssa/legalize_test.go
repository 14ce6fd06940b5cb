package ssa

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

const (
	testVMCtxAddr = 0x1_0000
	testHeapAddr  = 0x2_0000
	testHeapSize  = 64
)

var testVMCtxSignature = &Signature{
	Params:  []AbiParam{{Type: TypeI64, Purpose: ArgumentPurposeVMContext}, Param(TypeI32)},
	Results: []AbiParam{Param(TypeI32)},
}

// buildHeapLoad builds a function loading an i32 from the heap at index+4. The vmctx holds the
// heap base at offset 0 and the heap size at offset 8.
func buildHeapLoad(data HeapData) *builder {
	b := NewBuilder().(*builder)
	b.Init(testVMCtxSignature)
	vmctx := b.DeclareGlobalValue(GlobalValueData{Kind: GlobalValueKindVMContext, Type: TypeI64})
	data.Base = b.DeclareGlobalValue(GlobalValueData{Kind: GlobalValueKindLoad, Base: vmctx, Type: TypeI64, ReadOnly: true})
	if data.BoundKind == HeapBoundDynamic {
		data.DynamicBound = b.DeclareGlobalValue(GlobalValueData{Kind: GlobalValueKindLoad, Base: vmctx, Offset: 8, Type: TypeI64})
	}
	heap := b.DeclareHeap(data)

	entry := b.allocateBasicBlock()
	entry.AddParam(b, TypeI64)
	index := entry.AddParam(b, TypeI32)
	b.SetCurrentBlock(entry)
	addr := b.AllocateInstruction().AsHeapAddr(heap, index, 4, 4).Insert(b).Return()
	v := b.AllocateInstruction().AsLoad(addr, 0, TypeI32, MemFlagHeap).Insert(b).Return()
	b.AllocateInstruction().AsReturn([]Value{v}).Insert(b)
	b.Seal(entry)
	return b
}

func newHeapInterpreter(b *builder) *Interpreter {
	vmctx := make([]byte, 16)
	binary.LittleEndian.PutUint64(vmctx[0:], testHeapAddr)
	binary.LittleEndian.PutUint64(vmctx[8:], testHeapSize)
	heap := make([]byte, testHeapSize)
	for i := range heap {
		heap[i] = byte(i)
	}
	in := NewInterpreter(b)
	in.MapMemory(testVMCtxAddr, vmctx)
	in.MapMemory(testHeapAddr, heap)
	return in
}

// runHeapLoad returns the loaded value, or the trap code.
func runHeapLoad(t *testing.T, b *builder, index uint32) (uint32, codegenapi.TrapCode) {
	r, err := newHeapInterpreter(b).Run(DataValueI64(testVMCtxAddr), DataValueI32(index))
	if err != nil {
		var trap *TrapError
		require.True(t, errors.As(err, &trap), err.Error())
		return 0, trap.Code
	}
	return uint32(r[0].Lo), codegenapi.TrapCodeInvalid
}

func TestBuilder_Legalize_heapBoundsChecks(t *testing.T) {
	indexes := []uint32{0, 1, 55, 56, 57, 60, 64, 0x7fff_ffff, 0xffff_fffc, 0xffff_ffff}
	for _, tc := range []struct {
		name    string
		heap    HeapData
		spectre bool
		expOps  []string
	}{
		{
			name:   "dynamic",
			heap:   HeapData{BoundKind: HeapBoundDynamic, IndexType: TypeI32},
			expOps: []string{"Icmp gt_u", "Trapnz"},
		},
		{
			name:    "dynamic spectre",
			heap:    HeapData{BoundKind: HeapBoundDynamic, IndexType: TypeI32},
			spectre: true,
			expOps:  []string{"Icmp gt_u", "SelectSpectreGuard"},
		},
		{
			name:   "dynamic with guard",
			heap:   HeapData{BoundKind: HeapBoundDynamic, IndexType: TypeI32, OffsetGuardSize: 0x1000},
			expOps: []string{"Icmp ge_u", "Trapnz"},
		},
		{
			name:   "static",
			heap:   HeapData{BoundKind: HeapBoundStatic, Bound: testHeapSize, IndexType: TypeI32},
			expOps: []string{"Icmp gt_u", "Trapnz"},
		},
		{
			name:    "static spectre",
			heap:    HeapData{BoundKind: HeapBoundStatic, Bound: testHeapSize, IndexType: TypeI32},
			spectre: true,
			expOps:  []string{"Icmp gt_u", "SelectSpectreGuard"},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			reference := buildHeapLoad(tc.heap)
			legalized := buildHeapLoad(tc.heap)
			require.NoError(t, legalized.Legalize(LegalizeOptions{SpectreHeap: tc.spectre}))
			require.NoError(t, legalized.Verify())

			after := legalized.Format()
			require.NotContains(t, after, "HeapAddr")
			for _, op := range tc.expOps {
				require.Contains(t, after, op)
			}

			optimized := buildHeapLoad(tc.heap)
			require.NoError(t, optimized.Legalize(LegalizeOptions{SpectreHeap: tc.spectre}))
			require.NoError(t, optimized.RunPasses(PassOptions{Optimize: true}))

			for _, index := range indexes {
				expV, expTrap := runHeapLoad(t, reference, index)
				// The guard region is not mapped, so an access into it traps as well.
				v, trap := runHeapLoad(t, legalized, index)
				require.Equal(t, expTrap, trap, "index %#x", index)
				require.Equal(t, expV, v, "index %#x", index)

				v, trap = runHeapLoad(t, optimized, index)
				require.Equal(t, expTrap, trap, "index %#x", index)
				require.Equal(t, expV, v, "index %#x", index)
			}
		})
	}

	t.Run("reference semantics", func(t *testing.T) {
		b := buildHeapLoad(HeapData{BoundKind: HeapBoundDynamic, IndexType: TypeI32})
		v, trap := runHeapLoad(t, b, 0)
		require.Equal(t, codegenapi.TrapCodeInvalid, trap)
		require.Equal(t, uint32(0x07060504), v)
		v, trap = runHeapLoad(t, b, 56)
		require.Equal(t, codegenapi.TrapCodeInvalid, trap)
		require.Equal(t, uint32(0x3f3e3d3c), v)
		_, trap = runHeapLoad(t, b, 57)
		require.Equal(t, codegenapi.TrapCodeHeapOutOfBounds, trap)
	})
}

// buildHeapAccess builds a function loading the i32 at index+offset of the heap, the index being of the
// index type of data.
func buildHeapAccess(data HeapData, offset uint32) *builder {
	b := NewBuilder().(*builder)
	b.Init(&Signature{
		Params:  []AbiParam{{Type: TypeI64, Purpose: ArgumentPurposeVMContext}, Param(data.IndexType)},
		Results: []AbiParam{Param(TypeI32)},
	})
	vmctx := b.DeclareGlobalValue(GlobalValueData{Kind: GlobalValueKindVMContext, Type: TypeI64})
	data.Base = b.DeclareGlobalValue(GlobalValueData{Kind: GlobalValueKindLoad, Base: vmctx, Type: TypeI64, ReadOnly: true})
	if data.BoundKind == HeapBoundDynamic {
		data.DynamicBound = b.DeclareGlobalValue(GlobalValueData{Kind: GlobalValueKindLoad, Base: vmctx, Offset: 8, Type: TypeI64})
	}
	heap := b.DeclareHeap(data)

	entry := b.allocateBasicBlock()
	entry.AddParam(b, TypeI64)
	index := entry.AddParam(b, data.IndexType)
	b.SetCurrentBlock(entry)
	addr := b.AllocateInstruction().AsHeapAddr(heap, index, offset, 4).Insert(b).Return()
	v := b.AllocateInstruction().AsLoad(addr, 0, TypeI32, MemFlagHeap).Insert(b).Return()
	b.AllocateInstruction().AsReturn([]Value{v}).Insert(b)
	b.Seal(entry)
	return b
}

func TestBuilder_Legalize_heapBoundsChecks_random(t *testing.T) {
	for seed := int64(0); seed < 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		data := HeapData{IndexType: TypeI32, BoundKind: HeapBoundDynamic}
		if rng.Intn(2) == 0 {
			data.IndexType = TypeI64
		}
		if rng.Intn(2) == 0 {
			data.BoundKind, data.Bound = HeapBoundStatic, testHeapSize
		}
		if rng.Intn(2) == 0 {
			data.OffsetGuardSize = 0x1000
		}
		offset := uint32(rng.Intn(80))
		opts := LegalizeOptions{SpectreHeap: rng.Intn(2) == 0}

		legalized := buildHeapAccess(data, offset)
		require.NoError(t, legalized.Legalize(opts), "seed %d", seed)
		require.NoError(t, legalized.Verify(), "seed %d", seed)
		optimized := buildHeapAccess(data, offset)
		require.NoError(t, optimized.Legalize(opts), "seed %d", seed)
		require.NoError(t, optimized.RunPasses(PassOptions{Optimize: true}), "seed %d", seed)

		for i := 0; i < 16; i++ {
			var index uint64
			switch rng.Intn(3) {
			case 0:
				index = uint64(rng.Intn(96))
			case 1:
				index = -uint64(1 + rng.Intn(96))
			default:
				index = rng.Uint64()
			}
			index = truncate(index, data.IndexType.Bits())

			// Every access is either entirely within the heap, or traps.
			end := index + uint64(offset) + 4
			inBounds := end >= index && end <= testHeapSize
			for _, b := range []*builder{legalized, optimized} {
				r, err := newHeapInterpreter(b).Run(DataValueI64(testVMCtxAddr), DataValueOf(data.IndexType, index))
				if !inBounds {
					var trap *TrapError
					require.True(t, errors.As(err, &trap), "seed %d index %#x: %v", seed, index, err)
					require.Equal(t, codegenapi.TrapCodeHeapOutOfBounds, trap.Code)
					continue
				}
				require.NoError(t, err, "seed %d index %#x", seed, index)
				start := byte(index + uint64(offset))
				exp := uint32(start) | uint32(start+1)<<8 | uint32(start+2)<<16 | uint32(start+3)<<24
				require.Equal(t, exp, uint32(r[0].Lo), "seed %d index %#x", seed, index)
			}
		}
	}
}

func TestBuilder_Legalize_staticGuardElision(t *testing.T) {
	b := buildHeapLoad(HeapData{BoundKind: HeapBoundStatic, Bound: 4 << 30, OffsetGuardSize: 2 << 30, IndexType: TypeI32})
	require.NoError(t, b.Legalize(LegalizeOptions{}))
	// Any 32-bit index plus the offset stays within the reservation and its guard, so there is no check.
	// The result of the HeapAddr v2 is now an alias of v8.
	require.Contains(t, b.Format(), `
blk0: (v0:i64, v1:i32)
	v4:i64 = Uextend v1
	v5:i64 = Load.notrap.aligned.readonly.vmctx v0, 0x0
	v6:i64 = Iadd v5, v4
	v7:i64 = Iconst_64 0x4
	v8:i64 = Iadd v6, v7
	v3:i32 = Load.heap v2, 0x0
	Return v3
`)
	require.Equal(t, b.resolveAlias(Value(2)).ID(), ValueID(8))
}

func TestBuilder_Legalize_staticAlwaysOutOfBounds(t *testing.T) {
	b := buildHeapLoad(HeapData{BoundKind: HeapBoundStatic, Bound: 4, IndexType: TypeI32})
	require.NoError(t, b.Legalize(LegalizeOptions{}))
	require.Contains(t, b.Format(), "Iconst_8 0x1")
	for _, index := range []uint32{0, 1} {
		_, trap := runHeapLoad(t, b, index)
		require.Equal(t, codegenapi.TrapCodeHeapOutOfBounds, trap)
	}
}

func TestBuilder_Legalize_table(t *testing.T) {
	build := func() *builder {
		b := NewBuilder().(*builder)
		b.Init(&Signature{
			Params:  []AbiParam{{Type: TypeI64, Purpose: ArgumentPurposeVMContext}, Param(TypeI32)},
			Results: []AbiParam{Param(TypeI64)},
		})
		vmctx := b.DeclareGlobalValue(GlobalValueData{Kind: GlobalValueKindVMContext, Type: TypeI64})
		base := b.DeclareGlobalValue(GlobalValueData{Kind: GlobalValueKindLoad, Base: vmctx, Type: TypeI64})
		bound := b.DeclareGlobalValue(GlobalValueData{Kind: GlobalValueKindLoad, Base: vmctx, Offset: 8, Type: TypeI32})
		table := b.DeclareTable(TableData{Base: base, Bound: bound, ElementSize: 8, IndexType: TypeI32})

		entry := b.allocateBasicBlock()
		entry.AddParam(b, TypeI64)
		index := entry.AddParam(b, TypeI32)
		b.SetCurrentBlock(entry)
		addr := b.AllocateInstruction().AsTableAddr(table, index, 0).Insert(b).Return()
		v := b.AllocateInstruction().AsLoad(addr, 0, TypeI64, MemFlagTable).Insert(b).Return()
		b.AllocateInstruction().AsReturn([]Value{v}).Insert(b)
		b.Seal(entry)
		return b
	}

	run := func(b *builder, index uint32) ([]DataValue, error) {
		vmctx := make([]byte, 16)
		binary.LittleEndian.PutUint64(vmctx[0:], testHeapAddr)
		binary.LittleEndian.PutUint32(vmctx[8:], 4)
		elems := make([]byte, 32)
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint64(elems[i*8:], uint64(100+i))
		}
		in := NewInterpreter(b)
		in.MapMemory(testVMCtxAddr, vmctx)
		in.MapMemory(testHeapAddr, elems)
		return in.Run(DataValueI64(testVMCtxAddr), DataValueI32(index))
	}

	b := build()
	require.NoError(t, b.Legalize(LegalizeOptions{}))
	require.NotContains(t, b.Format(), "TableAddr")
	require.Contains(t, b.Format(), "Icmp ge_u")
	require.Contains(t, b.Format(), "Imul")

	for i := uint32(0); i < 4; i++ {
		r, err := run(b, i)
		require.NoError(t, err)
		require.Equal(t, uint64(100+i), r[0].Lo)
	}
	for _, i := range []uint32{4, 0xffff_ffff} {
		_, err := run(b, i)
		var trap *TrapError
		require.True(t, errors.As(err, &trap))
		require.Equal(t, codegenapi.TrapCodeTableOutOfBounds, trap.Code)
	}

	spectre := build()
	require.NoError(t, spectre.Legalize(LegalizeOptions{SpectreTable: true}))
	require.Contains(t, spectre.Format(), "SelectSpectreGuard")
	require.NotContains(t, spectre.Format(), "Trapnz")
}

func TestBuilder_Legalize_missingVMContext(t *testing.T) {
	b := NewBuilder().(*builder)
	b.Init(&Signature{Params: []AbiParam{Param(TypeI32)}, Results: []AbiParam{Param(TypeI32)}})
	vmctx := b.DeclareGlobalValue(GlobalValueData{Kind: GlobalValueKindVMContext, Type: TypeI64})
	heap := b.DeclareHeap(HeapData{Base: vmctx, BoundKind: HeapBoundStatic, Bound: 0x1000, IndexType: TypeI32})
	entry := b.allocateBasicBlock()
	index := entry.AddParam(b, TypeI32)
	b.SetCurrentBlock(entry)
	addr := b.AllocateInstruction().AsHeapAddr(heap, index, 0, 4).Insert(b).Return()
	v := b.AllocateInstruction().AsLoad(addr, 0, TypeI32, MemFlagHeap).Insert(b).Return()
	b.AllocateInstruction().AsReturn([]Value{v}).Insert(b)
	b.Seal(entry)

	err := b.Legalize(LegalizeOptions{})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Contains(t, ve.Msg, "no vmctx parameter")
	require.Equal(t, BasicBlockID(0), ve.Block)
}
