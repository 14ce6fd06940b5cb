package ssa

import "fmt"

// Opcode represents a SSA instruction.
type Opcode uint32

// Each opcode comment shows the operands as `name (type constraint)` followed by the results.
const (
	OpcodeInvalid Opcode = iota

	// OpcodeUndefined is a placeholder for an undefined opcode. This can be used for debugging to intentionally
	// cause a crash at certain point.
	OpcodeUndefined

	// OpcodeJump takes the list of args to the `block` and unconditionally jumps to it.
	OpcodeJump

	// OpcodeBrz branches into `blk` with `args` if the value `c` equals zero: `Brz c, blk, args`.
	OpcodeBrz

	// OpcodeBrnz branches into `blk` with `args` if the value `c` is not zero: `Brnz c, blk, args`.
	OpcodeBrnz

	// OpcodeBrTable takes the index value `index`, and branches into `labelX`. If the `index` is out of range,
	// it branches into the default block: `BrTable index, default, [label1, label2, ... labelN]`.
	OpcodeBrTable

	// OpcodeReturn returns from the function: `return rvalues`.
	OpcodeReturn

	// OpcodeTrap exits the execution immediately with the trap code.
	OpcodeTrap

	// OpcodeTrapz traps if the value `c` is zero: `Trapz c, code`.
	OpcodeTrapz

	// OpcodeTrapnz traps if the value `c` is not zero: `Trapnz c, code`.
	OpcodeTrapnz

	// OpcodeCall calls a function specified by the symbol FN with arguments `args`: `returnvals = Call FN, args...`.
	OpcodeCall

	// OpcodeCallIndirect calls a function specified by `callee` which is a function address: `returnvals = CallIndirect SIG, callee, args`.
	OpcodeCallIndirect

	// OpcodeReturnCall tail-calls FN: `ReturnCall FN, args...`. The callee's results are the caller's results.
	OpcodeReturnCall

	// OpcodeReturnCallIndirect tail-calls the function address `callee`: `ReturnCallIndirect SIG, callee, args`.
	OpcodeReturnCallIndirect

	// OpcodeIconst represents the integer const.
	OpcodeIconst

	// OpcodeF32const represents the single-precision const.
	OpcodeF32const

	// OpcodeF64const represents the double-precision const.
	OpcodeF64const

	// OpcodeVconst represents the 128-bit vector const.
	OpcodeVconst

	// OpcodeGlobalValue computes the value of a global value: `v = GlobalValue GV`.
	OpcodeGlobalValue

	// OpcodeFuncAddr takes the address of a function: `addr = FuncAddr FN`.
	OpcodeFuncAddr

	// OpcodeStackAddr takes the address of a stack slot plus offset: `addr = StackAddr SS, Offset`.
	OpcodeStackAddr

	// OpcodeHeapAddr bounds checks `index` against the heap and returns the native address of index + Offset:
	// `addr = HeapAddr HEAP, index, Offset, Size`.
	OpcodeHeapAddr

	// OpcodeTableAddr bounds checks `index` against the table and returns the address of the element plus Offset:
	// `addr = TableAddr TABLE, index, Offset`.
	OpcodeTableAddr

	// OpcodeLoad loads a Type value from the [base + offset] address: `v = Load base, offset`.
	OpcodeLoad

	// OpcodeUload8 loads the 8-bit value from the [base + offset] address, zero-extended: `v = Uload8 base, offset`.
	OpcodeUload8

	// OpcodeSload8 loads the 8-bit value from the [base + offset] address, sign-extended: `v = Sload8 base, offset`.
	OpcodeSload8

	// OpcodeUload16 loads the 16-bit value from the [base + offset] address, zero-extended: `v = Uload16 base, offset`.
	OpcodeUload16

	// OpcodeSload16 loads the 16-bit value from the [base + offset] address, sign-extended: `v = Sload16 base, offset`.
	OpcodeSload16

	// OpcodeUload32 loads the 32-bit value from the [base + offset] address, zero-extended: `v = Uload32 base, offset`.
	OpcodeUload32

	// OpcodeSload32 loads the 32-bit value from the [base + offset] address, sign-extended: `v = Sload32 base, offset`.
	OpcodeSload32

	// OpcodeStore stores the value `x` into the [base + offset] address: `Store x, base, offset`.
	OpcodeStore

	// OpcodeIstore8 stores the low 8 bits of `x`: `Istore8 x, base, offset`.
	OpcodeIstore8

	// OpcodeIstore16 stores the low 16 bits of `x`: `Istore16 x, base, offset`.
	OpcodeIstore16

	// OpcodeIstore32 stores the low 32 bits of `x`: `Istore32 x, base, offset`.
	OpcodeIstore32

	// OpcodeStackLoad loads a value from a stack slot: `v = StackLoad SS, Offset`.
	OpcodeStackLoad

	// OpcodeStackStore stores a value into a stack slot: `StackStore x, SS, Offset`.
	OpcodeStackStore

	// OpcodeIadd performs an integer addition: `v = Iadd x, y`.
	OpcodeIadd

	// OpcodeIsub performs an integer subtraction: `v = Isub x, y`.
	OpcodeIsub

	// OpcodeImul performs an integer multiplication: `v = Imul x, y`.
	OpcodeImul

	// OpcodeUmulhi returns the high half of the unsigned double-width product: `v = Umulhi x, y`.
	OpcodeUmulhi

	// OpcodeSmulhi returns the high half of the signed double-width product: `v = Smulhi x, y`.
	OpcodeSmulhi

	// OpcodeIneg negates the integer: `v = Ineg x`.
	OpcodeIneg

	// OpcodeIabs computes the absolute value of the integer: `v = Iabs x`.
	OpcodeIabs

	// OpcodeUdiv performs the unsigned integer division `v = Udiv x, y`. Traps on division by zero.
	OpcodeUdiv

	// OpcodeSdiv performs the signed integer division `v = Sdiv x, y`. Traps on division by zero and overflow.
	OpcodeSdiv

	// OpcodeUrem computes the remainder of the unsigned integer division `v = Urem x, y`.
	OpcodeUrem

	// OpcodeSrem computes the remainder of the signed integer division `v = Srem x, y`. INT_MIN % -1 is zero.
	OpcodeSrem

	// OpcodeUaddOverflowTrap adds two unsigned integers and traps on overflow: `v = UaddOverflowTrap x, y, code`.
	OpcodeUaddOverflowTrap

	// OpcodeBand performs a binary and: `v = Band x, y`.
	OpcodeBand

	// OpcodeBor performs a binary or: `v = Bor x, y`.
	OpcodeBor

	// OpcodeBxor performs a binary xor: `v = Bxor x, y`.
	OpcodeBxor

	// OpcodeBnot performs a binary not: `v = Bnot x`.
	OpcodeBnot

	// OpcodeIshl does logical shift left: `v = Ishl x, y`. The amount is taken modulo the lane width.
	OpcodeIshl

	// OpcodeUshr does logical shift right: `v = Ushr x, y`.
	OpcodeUshr

	// OpcodeSshr does arithmetic shift right: `v = Sshr x, y`.
	OpcodeSshr

	// OpcodeRotl rotates the given integer value to the left: `v = Rotl x, y`.
	OpcodeRotl

	// OpcodeRotr rotates the given integer value to the right: `v = Rotr x, y`.
	OpcodeRotr

	// OpcodeClz counts the number of leading zeros: `v = Clz x`.
	OpcodeClz

	// OpcodeCtz counts the number of trailing zeros: `v = Ctz x`.
	OpcodeCtz

	// OpcodePopcnt counts the number of 1-bits: `v = Popcnt x`.
	OpcodePopcnt

	// OpcodeSmin returns the signed minimum: `v = Smin x, y`.
	OpcodeSmin

	// OpcodeSmax returns the signed maximum: `v = Smax x, y`.
	OpcodeSmax

	// OpcodeUmin returns the unsigned minimum: `v = Umin x, y`.
	OpcodeUmin

	// OpcodeUmax returns the unsigned maximum: `v = Umax x, y`.
	OpcodeUmax

	// OpcodeIcmp compares two integer values with the given condition: `v = Icmp Cond, x, y`. The result is i8 0 or 1.
	OpcodeIcmp

	// OpcodeSelect chooses between two values based on a condition `c`: `v = Select c, x, y`.
	OpcodeSelect

	// OpcodeSelectSpectreGuard is Select which must not be lowered to a branch: `v = SelectSpectreGuard c, x, y`.
	OpcodeSelectSpectreGuard

	// OpcodeFadd performs a floating point addition: `v = Fadd x, y`.
	OpcodeFadd

	// OpcodeFsub performs a floating point subtraction: `v = Fsub x, y`.
	OpcodeFsub

	// OpcodeFmul performs a floating point multiplication: `v = Fmul x, y`.
	OpcodeFmul

	// OpcodeFdiv performs a floating point division: `v = Fdiv x, y`.
	OpcodeFdiv

	// OpcodeFneg negates the given floating point value: `v = Fneg x`.
	OpcodeFneg

	// OpcodeFabs takes the absolute value: `v = Fabs x`.
	OpcodeFabs

	// OpcodeSqrt takes the square root: `v = Sqrt x`.
	OpcodeSqrt

	// OpcodeFcopysign copies the sign of the second value to the first: `v = Fcopysign x, y`.
	OpcodeFcopysign

	// OpcodeFmin takes the minimum of two values. NaN propagates and -0.0 is less than +0.0: `v = Fmin x, y`.
	OpcodeFmin

	// OpcodeFmax takes the maximum of two values. NaN propagates and +0.0 is greater than -0.0: `v = Fmax x, y`.
	OpcodeFmax

	// OpcodeFminPseudo computes `y < x ? y : x`: `v = FminPseudo x, y`.
	OpcodeFminPseudo

	// OpcodeFmaxPseudo computes `x < y ? y : x`: `v = FmaxPseudo x, y`.
	OpcodeFmaxPseudo

	// OpcodeCeil rounds towards positive infinity: `v = Ceil x`.
	OpcodeCeil

	// OpcodeFloor rounds towards negative infinity: `v = Floor x`.
	OpcodeFloor

	// OpcodeTrunc rounds towards zero: `v = Trunc x`.
	OpcodeTrunc

	// OpcodeNearest rounds to the nearest integer, ties to even: `v = Nearest x`.
	OpcodeNearest

	// OpcodeFcmp compares two floating point values with the given condition: `v = Fcmp Cond, x, y`.
	OpcodeFcmp

	// OpcodeUextend zero-extends the given integer: `v = Uextend x`.
	OpcodeUextend

	// OpcodeSextend sign-extends the given integer: `v = Sextend x`.
	OpcodeSextend

	// OpcodeIreduce narrows the given integer: `v = Ireduce x`.
	OpcodeIreduce

	// OpcodeBitcast reinterprets the bits of the value as another type of the same width: `v = Bitcast x`.
	OpcodeBitcast

	// OpcodeFcvtToSint converts a floating point value to a signed integer, trapping on NaN and overflow: `v = FcvtToSint x`.
	OpcodeFcvtToSint

	// OpcodeFcvtToUint converts a floating point value to an unsigned integer, trapping on NaN and overflow: `v = FcvtToUint x`.
	OpcodeFcvtToUint

	// OpcodeFcvtFromSint converts a signed integer to a floating point value: `v = FcvtFromSint x`.
	OpcodeFcvtFromSint

	// OpcodeFcvtFromUint converts an unsigned integer to a floating point value: `v = FcvtFromUint x`.
	OpcodeFcvtFromUint

	// OpcodeFpromote promotes f32 to f64: `v = Fpromote x`.
	OpcodeFpromote

	// OpcodeFdemote demotes f64 to f32: `v = Fdemote x`.
	OpcodeFdemote

	// OpcodeIconcat builds an i128 from two i64 halves: `v = Iconcat lo, hi`.
	OpcodeIconcat

	// OpcodeIsplit splits an i128 into two i64 halves: `lo, hi = Isplit x`.
	OpcodeIsplit

	// OpcodeSplat broadcasts the scalar to all lanes: `v = Splat x`.
	OpcodeSplat

	// OpcodeExtractLane extracts the lane: `v = ExtractLane x, Lane`.
	OpcodeExtractLane

	// OpcodeInsertLane replaces the lane: `v = InsertLane x, y, Lane`.
	OpcodeInsertLane

	// OpcodeIaddPairwise adds adjacent lanes of the concatenation of x and y: `v = IaddPairwise x, y`.
	OpcodeIaddPairwise

	// opcodeEnd marks the end of the opcode list.
	opcodeEnd
)

var opcodeNames = [opcodeEnd]string{
	OpcodeInvalid:            "invalid",
	OpcodeUndefined:          "Undefined",
	OpcodeJump:               "Jump",
	OpcodeBrz:                "Brz",
	OpcodeBrnz:               "Brnz",
	OpcodeBrTable:            "BrTable",
	OpcodeReturn:             "Return",
	OpcodeTrap:               "Trap",
	OpcodeTrapz:              "Trapz",
	OpcodeTrapnz:             "Trapnz",
	OpcodeCall:               "Call",
	OpcodeCallIndirect:       "CallIndirect",
	OpcodeReturnCall:         "ReturnCall",
	OpcodeReturnCallIndirect: "ReturnCallIndirect",
	OpcodeIconst:             "Iconst",
	OpcodeF32const:           "F32const",
	OpcodeF64const:           "F64const",
	OpcodeVconst:             "Vconst",
	OpcodeGlobalValue:        "GlobalValue",
	OpcodeFuncAddr:           "FuncAddr",
	OpcodeStackAddr:          "StackAddr",
	OpcodeHeapAddr:           "HeapAddr",
	OpcodeTableAddr:          "TableAddr",
	OpcodeLoad:               "Load",
	OpcodeUload8:             "Uload8",
	OpcodeSload8:             "Sload8",
	OpcodeUload16:            "Uload16",
	OpcodeSload16:            "Sload16",
	OpcodeUload32:            "Uload32",
	OpcodeSload32:            "Sload32",
	OpcodeStore:              "Store",
	OpcodeIstore8:            "Istore8",
	OpcodeIstore16:           "Istore16",
	OpcodeIstore32:           "Istore32",
	OpcodeStackLoad:          "StackLoad",
	OpcodeStackStore:         "StackStore",
	OpcodeIadd:               "Iadd",
	OpcodeIsub:               "Isub",
	OpcodeImul:               "Imul",
	OpcodeUmulhi:             "Umulhi",
	OpcodeSmulhi:             "Smulhi",
	OpcodeIneg:               "Ineg",
	OpcodeIabs:               "Iabs",
	OpcodeUdiv:               "Udiv",
	OpcodeSdiv:               "Sdiv",
	OpcodeUrem:               "Urem",
	OpcodeSrem:               "Srem",
	OpcodeUaddOverflowTrap:   "UaddOverflowTrap",
	OpcodeBand:               "Band",
	OpcodeBor:                "Bor",
	OpcodeBxor:               "Bxor",
	OpcodeBnot:               "Bnot",
	OpcodeIshl:               "Ishl",
	OpcodeUshr:               "Ushr",
	OpcodeSshr:               "Sshr",
	OpcodeRotl:               "Rotl",
	OpcodeRotr:               "Rotr",
	OpcodeClz:                "Clz",
	OpcodeCtz:                "Ctz",
	OpcodePopcnt:             "Popcnt",
	OpcodeSmin:               "Smin",
	OpcodeSmax:               "Smax",
	OpcodeUmin:               "Umin",
	OpcodeUmax:               "Umax",
	OpcodeIcmp:               "Icmp",
	OpcodeSelect:             "Select",
	OpcodeSelectSpectreGuard: "SelectSpectreGuard",
	OpcodeFadd:               "Fadd",
	OpcodeFsub:               "Fsub",
	OpcodeFmul:               "Fmul",
	OpcodeFdiv:               "Fdiv",
	OpcodeFneg:               "Fneg",
	OpcodeFabs:               "Fabs",
	OpcodeSqrt:               "Sqrt",
	OpcodeFcopysign:          "Fcopysign",
	OpcodeFmin:               "Fmin",
	OpcodeFmax:               "Fmax",
	OpcodeFminPseudo:         "FminPseudo",
	OpcodeFmaxPseudo:         "FmaxPseudo",
	OpcodeCeil:               "Ceil",
	OpcodeFloor:              "Floor",
	OpcodeTrunc:              "Trunc",
	OpcodeNearest:            "Nearest",
	OpcodeFcmp:               "Fcmp",
	OpcodeUextend:            "Uextend",
	OpcodeSextend:            "Sextend",
	OpcodeIreduce:            "Ireduce",
	OpcodeBitcast:            "Bitcast",
	OpcodeFcvtToSint:         "FcvtToSint",
	OpcodeFcvtToUint:         "FcvtToUint",
	OpcodeFcvtFromSint:       "FcvtFromSint",
	OpcodeFcvtFromUint:       "FcvtFromUint",
	OpcodeFpromote:           "Fpromote",
	OpcodeFdemote:            "Fdemote",
	OpcodeIconcat:            "Iconcat",
	OpcodeIsplit:             "Isplit",
	OpcodeSplat:              "Splat",
	OpcodeExtractLane:        "ExtractLane",
	OpcodeInsertLane:         "InsertLane",
	OpcodeIaddPairwise:       "IaddPairwise",
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if o < opcodeEnd {
		if name := opcodeNames[o]; name != "" {
			return name
		}
	}
	return fmt.Sprintf("opcode(%d)", uint32(o))
}

// ParseOpcode is the inverse of Opcode.String.
func ParseOpcode(s string) (Opcode, error) {
	for i := OpcodeUndefined; i < opcodeEnd; i++ {
		if opcodeNames[i] == s {
			return i, nil
		}
	}
	return OpcodeInvalid, fmt.Errorf("unknown opcode %q", s)
}

// NumOpcodes is the number of opcodes including OpcodeInvalid, which is useful for opcode-indexed tables.
const NumOpcodes = int(opcodeEnd)

// IsBranching returns true if the opcode transfers control to another block or out of the function.
func (o Opcode) IsBranching() bool {
	switch o {
	case OpcodeJump, OpcodeBrz, OpcodeBrnz, OpcodeBrTable:
		return true
	}
	return false
}

// IsTerminator returns true if the opcode can only appear at the end of a block.
func (o Opcode) IsTerminator() bool {
	switch o {
	case OpcodeJump, OpcodeBrTable, OpcodeReturn, OpcodeTrap, OpcodeReturnCall, OpcodeReturnCallIndirect:
		return true
	}
	return false
}

// IsCall returns true for the call family, including tail calls.
func (o Opcode) IsCall() bool {
	switch o {
	case OpcodeCall, OpcodeCallIndirect, OpcodeReturnCall, OpcodeReturnCallIndirect:
		return true
	}
	return false
}

// IsLoad returns true for the instructions reading memory.
func (o Opcode) IsLoad() bool {
	switch o {
	case OpcodeLoad, OpcodeUload8, OpcodeSload8, OpcodeUload16, OpcodeSload16, OpcodeUload32, OpcodeSload32, OpcodeStackLoad:
		return true
	}
	return false
}

// IsStore returns true for the instructions writing memory.
func (o Opcode) IsStore() bool {
	switch o {
	case OpcodeStore, OpcodeIstore8, OpcodeIstore16, OpcodeIstore32, OpcodeStackStore:
		return true
	}
	return false
}

// IsCommutative returns true if swapping the two operands never changes the result.
func (o Opcode) IsCommutative() bool {
	switch o {
	case OpcodeIadd, OpcodeImul, OpcodeUmulhi, OpcodeSmulhi, OpcodeBand, OpcodeBor, OpcodeBxor,
		OpcodeSmin, OpcodeSmax, OpcodeUmin, OpcodeUmax, OpcodeFadd, OpcodeFmul:
		return true
	}
	return false
}

// MemAccessBytes returns the number of bytes a load or store of the given value type touches.
func (o Opcode) MemAccessBytes(typ Type) uint64 {
	switch o {
	case OpcodeUload8, OpcodeSload8, OpcodeIstore8:
		return 1
	case OpcodeUload16, OpcodeSload16, OpcodeIstore16:
		return 2
	case OpcodeUload32, OpcodeSload32, OpcodeIstore32:
		return 4
	default:
		return uint64(typ.Size())
	}
}
