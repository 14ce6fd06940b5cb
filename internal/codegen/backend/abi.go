package backend

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// ABIRegs are the registers a machine uses for passing arguments and results, in order.
type ABIRegs struct {
	ArgInts, ArgFloats []regalloc.RealReg
	RetInts, RetFloats []regalloc.RealReg
	// VectorsInFloatRegs is true if vectors share the argument registers of floats. Otherwise
	// vector arguments and results are always passed in memory.
	VectorsInFloatRegs bool
	// TailArgInts, if set, replaces ArgInts for signatures of the tail calling convention.
	TailArgInts []regalloc.RealReg
}

type (
	// FunctionABI is the location of the arguments and the results of a signature.
	FunctionABI struct {
		Sig *ssa.Signature

		// Args has one entry per parameter of Sig, followed by the hidden return area pointer if RetPtr.
		Args, Rets                 []ABIArg
		ArgStackSize, RetStackSize int64
		// RetPtr is true if some results do not fit in registers. They are then stored by the callee
		// into the memory pointed by the hidden last argument.
		RetPtr bool

		ArgRealRegs []regalloc.VReg
		RetRealRegs []regalloc.VReg
	}

	// ABIArg represents either argument or return value's location.
	ABIArg struct {
		// Index is the index of the argument.
		Index int
		// Kind is the kind of the argument.
		Kind ABIArgKind
		// Reg is valid if Kind == ABIArgKindReg.
		// This VReg must be based on RealReg.
		Reg regalloc.VReg
		// Reg2 holds the high half of an i128 passed in registers.
		Reg2 regalloc.VReg
		// Offset is valid if Kind == ABIArgKindStack.
		// This is the offset from the beginning of either arg stack area or the return area.
		Offset int64
		// Type is the type of the argument.
		Type ssa.Type
		// Extension is how a narrow integer is widened to the register width.
		Extension ssa.ArgumentExtension
	}

	// ABIArgKind is the kind of ABI argument.
	ABIArgKind byte
)

const (
	// ABIArgKindReg represents an argument passed in a register.
	ABIArgKindReg ABIArgKind = iota
	// ABIArgKindStack represents an argument passed in the stack.
	ABIArgKindStack
)

// String implements fmt.Stringer.
func (a *ABIArg) String() string {
	switch {
	case a.Kind == ABIArgKindStack:
		return fmt.Sprintf("args[%d]: stack+%#x %s", a.Index, a.Offset, a.Type)
	case a.Reg2.Valid():
		return fmt.Sprintf("args[%d]: %s:%s %s", a.Index, a.Reg, a.Reg2, a.Type)
	default:
		return fmt.Sprintf("args[%d]: %s %s", a.Index, a.Reg, a.Type)
	}
}

// String implements fmt.Stringer.
func (a ABIArgKind) String() string {
	switch a {
	case ABIArgKindReg:
		return "reg"
	case ABIArgKindStack:
		return "stack"
	default:
		panic("BUG")
	}
}

// Init initializes the FunctionABI for the given signature.
func (a *FunctionABI) Init(sig *ssa.Signature, regs *ABIRegs) {
	a.Sig = sig
	a.Rets = resize(a.Rets, len(sig.Results))
	a.RetStackSize = setABIArgs(a.Rets, sig.Results, regs.RetInts, regs.RetFloats, regs.VectorsInFloatRegs)
	a.RetPtr = a.RetStackSize > 0

	argsNum := len(sig.Params)
	if a.RetPtr {
		argsNum++
	}
	a.Args = resize(a.Args, argsNum)
	params := sig.Params
	if a.RetPtr {
		params = append(params[:len(params):len(params)], ssa.Param(ssa.TypeI64))
	}
	argInts := regs.ArgInts
	if sig.CallConv == ssa.CallConvTail && regs.TailArgInts != nil {
		argInts = regs.TailArgInts
	}
	a.ArgStackSize = setABIArgs(a.Args, params, argInts, regs.ArgFloats, regs.VectorsInFloatRegs)

	// Gather the real registers usages in arg/return.
	a.RetRealRegs = appendRealRegs(a.RetRealRegs[:0], a.Rets)
	a.ArgRealRegs = appendRealRegs(a.ArgRealRegs[:0], a.Args)
}

// RetPtrArg returns the location of the hidden return area pointer, or nil.
func (a *FunctionABI) RetPtrArg() *ABIArg {
	if !a.RetPtr {
		return nil
	}
	return &a.Args[len(a.Args)-1]
}

// CalleePopsArgs is true if the callee removes its stack arguments when returning.
func (a *FunctionABI) CalleePopsArgs() bool {
	return a.Sig.CallConv == ssa.CallConvTail
}

// AlignedArgStackSize returns the size of the stack arguments rounded up to 16 bytes.
func (a *FunctionABI) AlignedArgStackSize() int64 {
	return (a.ArgStackSize + 15) &^ 15
}

// AlignedRetStackSize returns the size of the return area rounded up to 16 bytes.
func (a *FunctionABI) AlignedRetStackSize() int64 {
	return (a.RetStackSize + 15) &^ 15
}

func resize(s []ABIArg, n int) []ABIArg {
	if cap(s) < n {
		return make([]ABIArg, n)
	}
	s = s[:n]
	for i := range s {
		s[i] = ABIArg{}
	}
	return s
}

func appendRealRegs(dst []regalloc.VReg, args []ABIArg) []regalloc.VReg {
	for i := range args {
		arg := &args[i]
		if arg.Kind == ABIArgKindReg {
			dst = append(dst, arg.Reg)
			if arg.Reg2.Valid() {
				dst = append(dst, arg.Reg2)
			}
		}
	}
	return dst
}

// setABIArgs sets the ABI arguments in the given slice. This assumes that len(s) >= len(types).
func setABIArgs(s []ABIArg, params []ssa.AbiParam, ints, floats []regalloc.RealReg, vectorsInFloats bool) (stackSize int64) {
	il, fl := len(ints), len(floats)

	var stackOffset int64
	stack := func(arg *ABIArg, size int64) {
		arg.Kind = ABIArgKindStack
		stackOffset = (stackOffset + size - 1) &^ (size - 1)
		arg.Offset = stackOffset
		stackOffset += size
	}
	intParamIndex, floatParamIndex := 0, 0
	for i, p := range params {
		arg := &s[i]
		arg.Index = i
		arg.Type = p.Type
		arg.Extension = p.Extension
		arg.Reg, arg.Reg2 = regalloc.VRegInvalid, regalloc.VRegInvalid
		switch typ := p.Type; {
		case typ == ssa.TypeI128:
			if intParamIndex+1 < il {
				arg.Kind = ABIArgKindReg
				arg.Reg = regalloc.FromRealReg(ints[intParamIndex], regalloc.RegTypeInt)
				arg.Reg2 = regalloc.FromRealReg(ints[intParamIndex+1], regalloc.RegTypeInt)
				intParamIndex += 2
			} else {
				stack(arg, 16)
			}
		case typ.IsInt() || typ.IsRef():
			if intParamIndex < il {
				arg.Kind = ABIArgKindReg
				arg.Reg = regalloc.FromRealReg(ints[intParamIndex], regalloc.RegTypeInt)
				intParamIndex++
			} else {
				stack(arg, 8) // Align 8 bytes.
			}
		case typ.IsVector():
			if vectorsInFloats && floatParamIndex < fl {
				arg.Kind = ABIArgKindReg
				arg.Reg = regalloc.FromRealReg(floats[floatParamIndex], regalloc.RegTypeVector)
				floatParamIndex++
			} else {
				stack(arg, 16)
			}
		default:
			if floatParamIndex < fl {
				arg.Kind = ABIArgKindReg
				arg.Reg = regalloc.FromRealReg(floats[floatParamIndex], regalloc.RegTypeFloat)
				floatParamIndex++
			} else {
				stack(arg, 8)
			}
		}
	}
	return stackOffset
}
