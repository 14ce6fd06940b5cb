package backend

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// Frame is the layout of a function's stack frame below the frame record. All the offsets returned are
// relative to the stack pointer once the frame is allocated. From the bottom:
//
//	[OutgoingBase]        fixed area the ABI reserves at the bottom of every frame (s390x)
//	outgoing arguments    the largest stack argument area and return area of the calls
//	spill slots           one per spilled virtual register
//	stack slots           the explicit slots of the function
//	callee saved          the callee saved registers written by the function
//	---------------       16-byte aligned size
//	frame record          saved frame pointer (and return address on most machines)
//	incoming arguments
type Frame struct {
	OutgoingBase int64

	outgoing   int64
	spillSize  int64
	spillSlots map[regalloc.VRegID]int64

	stackSlots    []int64
	stackSlotSize int64

	calleeSaved []regalloc.RealReg
}

// Reset prepares the frame for the next function.
func (f *Frame) Reset() {
	f.outgoing = 0
	f.spillSize = 0
	if f.spillSlots == nil {
		f.spillSlots = make(map[regalloc.VRegID]int64)
	} else {
		clear(f.spillSlots)
	}
	f.stackSlots = f.stackSlots[:0]
	f.stackSlotSize = 0
	f.calleeSaved = f.calleeSaved[:0]
}

// SetStackSlots lays out the explicit stack slots of b.
func (f *Frame) SetStackSlots(b ssa.Builder) {
	for i := 0; i < b.StackSlots(); i++ {
		d := b.StackSlotData(ssa.StackSlot(i))
		align := int64(1) << d.AlignLog2
		f.stackSlotSize = alignUp(f.stackSlotSize, align)
		f.stackSlots = append(f.stackSlots, f.stackSlotSize)
		f.stackSlotSize += int64(d.Size)
	}
}

// ReserveOutgoing makes the outgoing area at least size bytes large.
func (f *Frame) ReserveOutgoing(size int64) {
	f.outgoing = max(f.outgoing, alignUp(size, 16))
}

// Outgoing returns the size of the outgoing area.
func (f *Frame) Outgoing() int64 { return f.outgoing }

// OutgoingArgOffset returns the offset of the outgoing argument at off.
func (f *Frame) OutgoingArgOffset(off int64) int64 {
	return f.OutgoingBase + off
}

// SpillSlotOffset returns the offset of the spill slot of v, allocating it on first use.
func (f *Frame) SpillSlotOffset(v regalloc.VReg) int64 {
	off, ok := f.spillSlots[v.ID()]
	if !ok {
		size := int64(8)
		if v.RegType() == regalloc.RegTypeVector {
			size = 16
		}
		f.spillSize = alignUp(f.spillSize, size)
		off = f.spillSize
		f.spillSize += size
		f.spillSlots[v.ID()] = off
	}
	return f.spillBase() + off
}

// HasSpillSlot returns true if v has been spilled.
func (f *Frame) HasSpillSlot(v regalloc.VReg) bool {
	_, ok := f.spillSlots[v.ID()]
	return ok
}

// StackSlotOffset returns the offset of the byte at offset within the stack slot.
func (f *Frame) StackSlotOffset(slot ssa.StackSlot, offset uint32) int64 {
	if int(slot) >= len(f.stackSlots) {
		panic(fmt.Sprintf("BUG: undeclared %s", slot))
	}
	return f.stackSlotBase() + f.stackSlots[slot] + int64(offset)
}

// SetCalleeSaved records the callee saved registers to preserve, in ascending order.
func (f *Frame) SetCalleeSaved(rs regalloc.RegSet) {
	f.calleeSaved = f.calleeSaved[:0]
	rs.Range(func(r regalloc.RealReg) {
		f.calleeSaved = append(f.calleeSaved, r)
	})
}

// CalleeSaved returns the callee saved registers to preserve with their offsets.
func (f *Frame) CalleeSaved() []regalloc.RealReg { return f.calleeSaved }

// CalleeSavedOffset returns the offset of the save slot of the i-th callee saved register.
func (f *Frame) CalleeSavedOffset(i int) int64 {
	return f.calleeSavedBase() + int64(i)*8
}

// Size returns the size of the frame below the frame record.
func (f *Frame) Size() int64 {
	return alignUp(f.calleeSavedBase()+int64(len(f.calleeSaved))*8, 16)
}

// IsLeaf returns true if the frame is empty, so that the function needs no stack allocation.
func (f *Frame) IsLeaf() bool {
	return f.Size() == 0
}

func (f *Frame) spillBase() int64 {
	return f.OutgoingBase + f.outgoing
}

func (f *Frame) stackSlotBase() int64 {
	return f.spillBase() + alignUp(f.spillSize, 16)
}

func (f *Frame) calleeSavedBase() int64 {
	return f.stackSlotBase() + alignUp(f.stackSlotSize, 16)
}

func alignUp(v, align int64) int64 {
	return (v + align - 1) &^ (align - 1)
}

// TailCallSPOffset returns the offset from the frame pointer of the stack pointer the callee of a tail call
// must see as its caller's, so that its stack arguments occupy the top of the area the current function
// returns to. frameRecordSize is the size of the frame record above the frame pointer.
func TailCallSPOffset(cur, callee *FunctionABI, frameRecordSize int64) int64 {
	ret := frameRecordSize
	if cur.CalleePopsArgs() {
		ret += cur.AlignedArgStackSize()
	}
	return ret - callee.AlignedArgStackSize()
}

// NeedsFrameRecord returns true if the function must push a frame record. Only leaves without a frame and
// without stack arguments can omit it, unless frame pointers are preserved.
func (f *Frame) NeedsFrameRecord(preserveFramePointers, hasCalls bool, abi *FunctionABI) bool {
	return preserveFramePointers || hasCalls || !f.IsLeaf() || abi.ArgStackSize > 0
}
