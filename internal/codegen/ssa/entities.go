package ssa

import (
	"fmt"
	"strings"
)

// FuncRef is a reference to a function declared in the currently-compiled function.
type FuncRef uint32

// String implements fmt.Stringer.
func (r FuncRef) String() string {
	return fmt.Sprintf("fn%d", r)
}

// ExtFuncData describes an external function referenced by Call or FuncAddr.
type ExtFuncData struct {
	// Name is the symbol of the function, resolved by the linker or by the embedder.
	Name string
	// Sig is the signature of the function.
	Sig SignatureID
	// Colocated means the callee is placed within a direct call range of the caller.
	Colocated bool
}

// GlobalValue references a global value declared in the currently-compiled function.
type GlobalValue uint32

// String implements fmt.Stringer.
func (g GlobalValue) String() string {
	return fmt.Sprintf("gv%d", g)
}

// GlobalValueKind is the way a global value is computed.
type GlobalValueKind byte

const (
	// GlobalValueKindVMContext is the vmctx parameter of the function.
	GlobalValueKindVMContext GlobalValueKind = iota
	// GlobalValueKindLoad loads the value from Base + Offset.
	GlobalValueKindLoad
	// GlobalValueKindIAddImm adds Offset to Base.
	GlobalValueKindIAddImm
	// GlobalValueKindSymbol is the address of Symbol plus Offset, resolved with a relocation.
	GlobalValueKindSymbol
)

// GlobalValueData describes how to compute a GlobalValue.
type GlobalValueData struct {
	Kind GlobalValueKind
	// Base is the global value this one is derived from (Load and IAddImm).
	Base GlobalValue
	// Offset is the byte offset for Load, the addend for IAddImm and Symbol.
	Offset int64
	// Type is the type of the computed value.
	Type Type
	// ReadOnly on Load means the loaded memory never changes during the function.
	ReadOnly bool
	// Symbol names the symbol of GlobalValueKindSymbol.
	Symbol string
}

// String implements fmt.Stringer.
func (d *GlobalValueData) String() string {
	switch d.Kind {
	case GlobalValueKindVMContext:
		return "vmctx"
	case GlobalValueKindLoad:
		ro := ""
		if d.ReadOnly {
			ro = " readonly"
		}
		return fmt.Sprintf("load.%s notrap aligned%s %s%+d", d.Type, ro, d.Base, d.Offset)
	case GlobalValueKindIAddImm:
		return fmt.Sprintf("iadd_imm.%s %s, %d", d.Type, d.Base, d.Offset)
	case GlobalValueKindSymbol:
		return fmt.Sprintf("symbol %s%+d", d.Symbol, d.Offset)
	default:
		panic("BUG")
	}
}

// Heap references a heap declared in the currently-compiled function.
type Heap uint32

// String implements fmt.Stringer.
func (h Heap) String() string {
	return fmt.Sprintf("heap%d", h)
}

// HeapBoundKind is whether the size of a heap is known at compile time.
type HeapBoundKind byte

const (
	// HeapBoundStatic heaps have a fixed reservation of Bound bytes.
	HeapBoundStatic HeapBoundKind = iota
	// HeapBoundDynamic heaps read their current size from a global value on every access.
	HeapBoundDynamic
)

// HeapData describes a linear memory accessed through HeapAddr.
type HeapData struct {
	// Base is the global value holding the base address.
	Base GlobalValue
	// MinSize is the minimum accessible size in bytes.
	MinSize uint64
	// OffsetGuardSize is the size of the unmapped region right after the bound.
	OffsetGuardSize uint64
	// BoundKind is the kind of the bound.
	BoundKind HeapBoundKind
	// Bound is the reserved size of a static heap.
	Bound uint64
	// DynamicBound is the global value holding the current size of a dynamic heap, in bytes.
	DynamicBound GlobalValue
	// IndexType is the type of the index operand, i32 or i64.
	IndexType Type
}

// String implements fmt.Stringer.
func (d *HeapData) String() string {
	var s strings.Builder
	if d.BoundKind == HeapBoundStatic {
		fmt.Fprintf(&s, "static %s, min %#x, bound %#x", d.Base, d.MinSize, d.Bound)
	} else {
		fmt.Fprintf(&s, "dynamic %s, min %#x, bound %s", d.Base, d.MinSize, d.DynamicBound)
	}
	fmt.Fprintf(&s, ", offset_guard %#x, index_type %s", d.OffsetGuardSize, d.IndexType)
	return s.String()
}

// Table references a table declared in the currently-compiled function.
type Table uint32

// String implements fmt.Stringer.
func (t Table) String() string {
	return fmt.Sprintf("table%d", t)
}

// TableData describes an array of fixed-size elements accessed through TableAddr.
type TableData struct {
	// Base is the global value holding the base address.
	Base GlobalValue
	// Bound is the global value holding the number of elements.
	Bound GlobalValue
	// ElementSize is the size of one element in bytes.
	ElementSize uint64
	// IndexType is the type of the index operand, i32 or i64.
	IndexType Type
}

// String implements fmt.Stringer.
func (d *TableData) String() string {
	return fmt.Sprintf("dynamic %s, bound %s, element_size %d, index_type %s", d.Base, d.Bound, d.ElementSize, d.IndexType)
}

// StackSlot references a stack slot declared in the currently-compiled function.
type StackSlot uint32

// String implements fmt.Stringer.
func (s StackSlot) String() string {
	return fmt.Sprintf("ss%d", s)
}

// StackSlotData describes an explicitly sized area in the frame.
type StackSlotData struct {
	// Size in bytes.
	Size uint32
	// AlignLog2 is the log2 of the required alignment.
	AlignLog2 uint8
}

// String implements fmt.Stringer.
func (d *StackSlotData) String() string {
	if d.AlignLog2 == 0 {
		return fmt.Sprintf("explicit_slot %d", d.Size)
	}
	return fmt.Sprintf("explicit_slot %d, align = %d", d.Size, 1<<d.AlignLog2)
}

// MemFlags are the flags attached to memory accessing instructions.
type MemFlags uint8

const (
	// MemFlagNoTrap means the access never traps.
	MemFlagNoTrap MemFlags = 1 << iota
	// MemFlagAligned means the address is naturally aligned.
	MemFlagAligned
	// MemFlagReadOnly means no store in the function writes to this location.
	MemFlagReadOnly
	// MemFlagHeap marks an access into a heap.
	MemFlagHeap
	// MemFlagTable marks an access into a table.
	MemFlagTable
	// MemFlagVMCtx marks an access into the vmctx structure.
	MemFlagVMCtx
)

// MemFlagsTrusted is the typical flags of accesses into memory owned by the runtime.
const MemFlagsTrusted = MemFlagNoTrap | MemFlagAligned

// Has returns true if all the flags in o are set.
func (m MemFlags) Has(o MemFlags) bool {
	return m&o == o
}

// String implements fmt.Stringer.
func (m MemFlags) String() string {
	var names []string
	for _, f := range []struct {
		flag MemFlags
		name string
	}{
		{MemFlagNoTrap, "notrap"},
		{MemFlagAligned, "aligned"},
		{MemFlagReadOnly, "readonly"},
		{MemFlagHeap, "heap"},
		{MemFlagTable, "table"},
		{MemFlagVMCtx, "vmctx"},
	} {
		if m.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, " ")
}
