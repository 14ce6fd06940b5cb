package ssa

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/moremath"
)

// DataValue is a value computed by the interpreter and the constant folder.
// Scalars live in Lo, floats as their IEEE 754 bits. i128 and vectors keep
// the upper 64 bits in Hi, and vector lanes are laid out in little-endian order.
type DataValue struct {
	Type   Type
	Lo, Hi uint64
}

// DataValueI8 returns an i8 DataValue.
func DataValueI8(v uint8) DataValue { return DataValue{Type: TypeI8, Lo: uint64(v)} }

// DataValueI16 returns an i16 DataValue.
func DataValueI16(v uint16) DataValue { return DataValue{Type: TypeI16, Lo: uint64(v)} }

// DataValueI32 returns an i32 DataValue.
func DataValueI32(v uint32) DataValue { return DataValue{Type: TypeI32, Lo: uint64(v)} }

// DataValueI64 returns an i64 DataValue.
func DataValueI64(v uint64) DataValue { return DataValue{Type: TypeI64, Lo: v} }

// DataValueI128 returns an i128 DataValue.
func DataValueI128(lo, hi uint64) DataValue { return DataValue{Type: TypeI128, Lo: lo, Hi: hi} }

// DataValueF32 returns an f32 DataValue.
func DataValueF32(f float32) DataValue {
	return DataValue{Type: TypeF32, Lo: uint64(math.Float32bits(f))}
}

// DataValueF64 returns an f64 DataValue.
func DataValueF64(f float64) DataValue { return DataValue{Type: TypeF64, Lo: math.Float64bits(f)} }

// DataValueOf returns the DataValue of the given type holding the low bits of v.
func DataValueOf(typ Type, v uint64) DataValue {
	if typ.Bits() < 64 {
		v = truncate(v, typ.Bits())
	}
	return DataValue{Type: typ, Lo: v}
}

// F32 returns the value as float32.
func (d DataValue) F32() float32 { return math.Float32frombits(uint32(d.Lo)) }

// F64 returns the value as float64.
func (d DataValue) F64() float64 { return math.Float64frombits(d.Lo) }

// Bool returns true if the value is not zero.
func (d DataValue) Bool() bool { return d.Lo != 0 || d.Hi != 0 }

// String implements fmt.Stringer.
func (d DataValue) String() string {
	switch {
	case d.Type == TypeF32:
		return fmt.Sprintf("%s %v", d.Type, d.F32())
	case d.Type == TypeF64:
		return fmt.Sprintf("%s %v", d.Type, d.F64())
	case d.Type == TypeI128 || d.Type.IsVector():
		return fmt.Sprintf("%s %#016x%016x", d.Type, d.Hi, d.Lo)
	default:
		return fmt.Sprintf("%s %#x", d.Type, d.Lo)
	}
}

// lane returns the i-th lane of a vector value.
func (d DataValue) lane(i int) uint64 {
	laneBits := d.Type.LaneType().Bits()
	off := uint(i) * uint(laneBits)
	var word uint64
	if off >= 64 {
		word, off = d.Hi, off-64
	} else {
		word = d.Lo
	}
	return truncate(word>>off, laneBits)
}

// withLane returns a copy with the i-th lane replaced.
func (d DataValue) withLane(i int, v uint64) DataValue {
	laneBits := d.Type.LaneType().Bits()
	off := uint(i) * uint(laneBits)
	mask := uint64(math.MaxUint64)
	if laneBits < 64 {
		mask = uint64(1)<<laneBits - 1
	}
	v &= mask
	if off >= 64 {
		off -= 64
		d.Hi = d.Hi&^(mask<<off) | v<<off
	} else {
		d.Lo = d.Lo&^(mask<<off) | v<<off
	}
	return d
}

// TrapError is returned when the evaluated code traps.
type TrapError struct {
	Code codegenapi.TrapCode
}

// Error implements error.
func (e *TrapError) Error() string { return "trap: " + e.Code.String() }

var errUnsupported = fmt.Errorf("unsupported operation")

// evalOp computes a single-result instruction on constant operands. The arguments are the
// fields of the instruction. A trapping operation returns *TrapError.
func evalOp(op Opcode, typ Type, u1, u2 uint64, args []DataValue) (DataValue, error) {
	switch op {
	case OpcodeIconst:
		return DataValueOf(typ, u1), nil
	case OpcodeF32const, OpcodeF64const:
		return DataValue{Type: typ, Lo: u1}, nil
	case OpcodeVconst:
		return DataValue{Type: typ, Lo: u1, Hi: u2}, nil
	case OpcodeSelect, OpcodeSelectSpectreGuard:
		if args[0].Bool() {
			return args[1], nil
		}
		return args[2], nil
	case OpcodeIcmp:
		x, y := args[0], args[1]
		var r bool
		if x.Type == TypeI128 {
			r = evalIcmp128(IntegerCmpCond(u1), x, y)
		} else {
			r = IntegerCmpCond(u1).EvalBits(x.Lo, y.Lo, x.Type.Bits())
		}
		return boolValue(r), nil
	case OpcodeFcmp:
		x, y := args[0], args[1]
		if x.Type == TypeF32 {
			return boolValue(FloatCmpCond(u1).Eval(float64(x.F32()), float64(y.F32()))), nil
		}
		return boolValue(FloatCmpCond(u1).Eval(x.F64(), y.F64())), nil
	case OpcodeBitcast:
		return DataValue{Type: typ, Lo: args[0].Lo, Hi: args[0].Hi}, nil
	case OpcodeSplat:
		ret := DataValue{Type: typ}
		for i := 0; i < typ.LaneCount(); i++ {
			ret = ret.withLane(i, args[0].Lo)
		}
		return ret, nil
	case OpcodeExtractLane:
		return DataValue{Type: typ, Lo: args[0].lane(int(u1))}, nil
	case OpcodeInsertLane:
		return args[0].withLane(int(u1), args[1].Lo), nil
	case OpcodeIaddPairwise:
		x, y := args[0], args[1]
		n := x.Type.LaneCount()
		ret := DataValue{Type: x.Type}
		bitsOf := x.Type.LaneType().Bits()
		for i := 0; i < n/2; i++ {
			ret = ret.withLane(i, truncate(x.lane(2*i)+x.lane(2*i+1), bitsOf))
			ret = ret.withLane(n/2+i, truncate(y.lane(2*i)+y.lane(2*i+1), bitsOf))
		}
		return ret, nil
	case OpcodeIconcat:
		return DataValueI128(args[0].Lo, args[1].Lo), nil
	case OpcodeUextend, OpcodeSextend, OpcodeIreduce:
		return evalExtend(op, args[0], typ), nil
	case OpcodeFcvtToSint, OpcodeFcvtToUint, OpcodeFcvtFromSint, OpcodeFcvtFromUint, OpcodeFpromote, OpcodeFdemote:
		return evalConversion(op, args[0], typ)
	}

	if len(args) > 0 && args[0].Type.IsVector() {
		return evalLanewise(op, u1, args)
	}
	if len(args) > 0 && args[0].Type == TypeI128 {
		return evalI128(op, args)
	}

	switch len(args) {
	case 1:
		x := args[0]
		if x.Type.IsFloat() {
			return evalFloatUnary(op, x)
		}
		r, err := evalIntUnary(op, x.Type.Bits(), x.Lo)
		return DataValue{Type: x.Type, Lo: r}, err
	case 2:
		x, y := args[0], args[1]
		if x.Type.IsFloat() {
			return evalFloatBinary(op, x, y)
		}
		r, err := evalIntBinary(op, u1, x.Type.Bits(), x.Lo, y.Lo)
		return DataValue{Type: x.Type, Lo: r}, err
	}
	return DataValue{}, errUnsupported
}

func boolValue(b bool) DataValue {
	if b {
		return DataValueI8(1)
	}
	return DataValueI8(0)
}

func evalExtend(op Opcode, x DataValue, to Type) DataValue {
	from := x.Type.Bits()
	switch op {
	case OpcodeUextend:
		return DataValue{Type: to, Lo: truncate(x.Lo, from)}
	case OpcodeSextend:
		v := signExtend(x.Lo, from)
		if to == TypeI128 {
			return DataValueI128(uint64(v), uint64(v>>63))
		}
		return DataValueOf(to, uint64(v))
	default:
		return DataValueOf(to, x.Lo)
	}
}

func evalIntUnary(op Opcode, width byte, x uint64) (uint64, error) {
	x = truncate(x, width)
	var r uint64
	switch op {
	case OpcodeIneg:
		r = -x
	case OpcodeIabs:
		if v := signExtend(x, width); v < 0 {
			r = uint64(-v)
		} else {
			r = x
		}
	case OpcodeBnot:
		r = ^x
	case OpcodeClz:
		r = uint64(bits.LeadingZeros64(x) - (64 - int(width)))
	case OpcodeCtz:
		if x == 0 {
			r = uint64(width)
		} else {
			r = uint64(bits.TrailingZeros64(x))
		}
	case OpcodePopcnt:
		r = uint64(bits.OnesCount64(x))
	default:
		return 0, errUnsupported
	}
	return truncate(r, width), nil
}

func evalIntBinary(op Opcode, u1 uint64, width byte, x, y uint64) (uint64, error) {
	x, y = truncate(x, width), truncate(y, width)
	sx, sy := signExtend(x, width), signExtend(y, width)
	var r uint64
	switch op {
	case OpcodeIadd:
		r = x + y
	case OpcodeIsub:
		r = x - y
	case OpcodeImul:
		r = x * y
	case OpcodeUmulhi:
		if width == 64 {
			r, _ = bits.Mul64(x, y)
		} else {
			r = (x * y) >> width
		}
	case OpcodeSmulhi:
		if width == 64 {
			hi, _ := bits.Mul64(x, y)
			// Correct the unsigned high half for negative operands.
			if sx < 0 {
				hi -= y
			}
			if sy < 0 {
				hi -= x
			}
			r = hi
		} else {
			r = uint64((sx * sy) >> width)
		}
	case OpcodeUdiv, OpcodeUrem:
		if y == 0 {
			return 0, &TrapError{Code: codegenapi.TrapCodeIntegerDivisionByZero}
		}
		if op == OpcodeUdiv {
			r = x / y
		} else {
			r = x % y
		}
	case OpcodeSdiv, OpcodeSrem:
		if y == 0 {
			return 0, &TrapError{Code: codegenapi.TrapCodeIntegerDivisionByZero}
		}
		minValue := int64(-1) << (width - 1)
		if sy == -1 && sx == minValue {
			if op == OpcodeSdiv {
				return 0, &TrapError{Code: codegenapi.TrapCodeIntegerOverflow}
			}
			r = 0
		} else if op == OpcodeSdiv {
			r = uint64(sx / sy)
		} else {
			r = uint64(sx % sy)
		}
	case OpcodeUaddOverflowTrap:
		sum, carry := bits.Add64(x, y, 0)
		if carry != 0 || (width < 64 && sum>>width != 0) {
			return 0, &TrapError{Code: codegenapi.TrapCode(u1)}
		}
		r = sum
	case OpcodeBand:
		r = x & y
	case OpcodeBor:
		r = x | y
	case OpcodeBxor:
		r = x ^ y
	case OpcodeIshl:
		r = x << (y % uint64(width))
	case OpcodeUshr:
		r = x >> (y % uint64(width))
	case OpcodeSshr:
		r = uint64(sx >> (y % uint64(width)))
	case OpcodeRotl, OpcodeRotr:
		amount := int(y % uint64(width))
		if op == OpcodeRotr {
			amount = -amount
		}
		switch width {
		case 8:
			r = uint64(bits.RotateLeft8(uint8(x), amount))
		case 16:
			r = uint64(bits.RotateLeft16(uint16(x), amount))
		case 32:
			r = uint64(bits.RotateLeft32(uint32(x), amount))
		default:
			r = bits.RotateLeft64(x, amount)
		}
	case OpcodeSmin:
		if sx < sy {
			r = x
		} else {
			r = y
		}
	case OpcodeSmax:
		if sx > sy {
			r = x
		} else {
			r = y
		}
	case OpcodeUmin:
		if x < y {
			r = x
		} else {
			r = y
		}
	case OpcodeUmax:
		if x > y {
			r = x
		} else {
			r = y
		}
	default:
		return 0, errUnsupported
	}
	return truncate(r, width), nil
}

func evalFloatUnary(op Opcode, x DataValue) (DataValue, error) {
	if x.Type == TypeF32 {
		f := x.F32()
		var r float32
		switch op {
		case OpcodeFneg:
			return DataValue{Type: TypeF32, Lo: x.Lo ^ (1 << 31)}, nil
		case OpcodeFabs:
			return DataValue{Type: TypeF32, Lo: x.Lo &^ (1 << 31)}, nil
		case OpcodeSqrt:
			r = float32(math.Sqrt(float64(f)))
		case OpcodeCeil:
			r = float32(math.Ceil(float64(f)))
		case OpcodeFloor:
			r = float32(math.Floor(float64(f)))
		case OpcodeTrunc:
			r = float32(math.Trunc(float64(f)))
		case OpcodeNearest:
			r = float32(math.RoundToEven(float64(f)))
		default:
			return DataValue{}, errUnsupported
		}
		return DataValueF32(r), nil
	}
	f := x.F64()
	var r float64
	switch op {
	case OpcodeFneg:
		return DataValue{Type: TypeF64, Lo: x.Lo ^ (1 << 63)}, nil
	case OpcodeFabs:
		return DataValue{Type: TypeF64, Lo: x.Lo &^ (1 << 63)}, nil
	case OpcodeSqrt:
		r = math.Sqrt(f)
	case OpcodeCeil:
		r = math.Ceil(f)
	case OpcodeFloor:
		r = math.Floor(f)
	case OpcodeTrunc:
		r = math.Trunc(f)
	case OpcodeNearest:
		r = math.RoundToEven(f)
	default:
		return DataValue{}, errUnsupported
	}
	return DataValueF64(r), nil
}

func evalFloatBinary(op Opcode, x, y DataValue) (DataValue, error) {
	if op == OpcodeFcopysign {
		signBit := uint64(1) << 63
		if x.Type == TypeF32 {
			signBit = 1 << 31
		}
		return DataValue{Type: x.Type, Lo: x.Lo&^signBit | y.Lo&signBit}, nil
	}
	if x.Type == TypeF32 {
		a, b := x.F32(), y.F32()
		var r float32
		switch op {
		case OpcodeFadd:
			r = a + b
		case OpcodeFsub:
			r = a - b
		case OpcodeFmul:
			r = a * b
		case OpcodeFdiv:
			r = a / b
		case OpcodeFmin:
			r = float32(moremath.Min(float64(a), float64(b)))
		case OpcodeFmax:
			r = float32(moremath.Max(float64(a), float64(b)))
		case OpcodeFminPseudo:
			if b < a {
				return y, nil
			}
			return x, nil
		case OpcodeFmaxPseudo:
			if a < b {
				return y, nil
			}
			return x, nil
		default:
			return DataValue{}, errUnsupported
		}
		return DataValueF32(r), nil
	}
	a, b := x.F64(), y.F64()
	var r float64
	switch op {
	case OpcodeFadd:
		r = a + b
	case OpcodeFsub:
		r = a - b
	case OpcodeFmul:
		r = a * b
	case OpcodeFdiv:
		r = a / b
	case OpcodeFmin:
		r = moremath.Min(a, b)
	case OpcodeFmax:
		r = moremath.Max(a, b)
	case OpcodeFminPseudo:
		if b < a {
			return y, nil
		}
		return x, nil
	case OpcodeFmaxPseudo:
		if a < b {
			return y, nil
		}
		return x, nil
	default:
		return DataValue{}, errUnsupported
	}
	return DataValueF64(r), nil
}

func evalConversion(op Opcode, x DataValue, to Type) (DataValue, error) {
	switch op {
	case OpcodeFpromote:
		return DataValueF64(float64(x.F32())), nil
	case OpcodeFdemote:
		return DataValueF32(float32(x.F64())), nil
	case OpcodeFcvtFromSint:
		v := signExtend(x.Lo, x.Type.Bits())
		if to == TypeF32 {
			return DataValueF32(float32(v)), nil
		}
		return DataValueF64(float64(v)), nil
	case OpcodeFcvtFromUint:
		v := truncate(x.Lo, x.Type.Bits())
		if to == TypeF32 {
			return DataValueF32(float32(v)), nil
		}
		return DataValueF64(float64(v)), nil
	}

	var f float64
	if x.Type == TypeF32 {
		f = float64(x.F32())
	} else {
		f = x.F64()
	}
	if math.IsNaN(f) {
		return DataValue{}, &TrapError{Code: codegenapi.TrapCodeBadConversionToInteger}
	}
	signed := op == OpcodeFcvtToSint
	if !moremath.TruncFitsInt(f, to.Bits(), signed) {
		return DataValue{}, &TrapError{Code: codegenapi.TrapCodeIntegerOverflow}
	}
	f = math.Trunc(f)
	if signed {
		return DataValueOf(to, uint64(int64(f))), nil
	}
	return DataValueOf(to, uint64(f)), nil
}

func evalLanewise(op Opcode, u1 uint64, args []DataValue) (DataValue, error) {
	x := args[0]
	laneType := x.Type.LaneType()
	ret := DataValue{Type: x.Type}
	switch op {
	case OpcodeBand:
		return DataValue{Type: x.Type, Lo: x.Lo & args[1].Lo, Hi: x.Hi & args[1].Hi}, nil
	case OpcodeBor:
		return DataValue{Type: x.Type, Lo: x.Lo | args[1].Lo, Hi: x.Hi | args[1].Hi}, nil
	case OpcodeBxor:
		return DataValue{Type: x.Type, Lo: x.Lo ^ args[1].Lo, Hi: x.Hi ^ args[1].Hi}, nil
	case OpcodeBnot:
		return DataValue{Type: x.Type, Lo: ^x.Lo, Hi: ^x.Hi}, nil
	}
	for i := 0; i < x.Type.LaneCount(); i++ {
		laneArgs := make([]DataValue, len(args))
		for j, a := range args {
			if a.Type.IsVector() {
				laneArgs[j] = DataValue{Type: laneType, Lo: a.lane(i)}
			} else {
				// Shift amounts are scalars shared by all the lanes.
				laneArgs[j] = a
			}
		}
		var r DataValue
		var err error
		switch len(laneArgs) {
		case 1:
			if laneType.IsFloat() {
				r, err = evalFloatUnary(op, laneArgs[0])
			} else {
				var v uint64
				v, err = evalIntUnary(op, laneType.Bits(), laneArgs[0].Lo)
				r = DataValue{Type: laneType, Lo: v}
			}
		case 2:
			if laneType.IsFloat() {
				r, err = evalFloatBinary(op, laneArgs[0], laneArgs[1])
			} else {
				var v uint64
				v, err = evalIntBinary(op, u1, laneType.Bits(), laneArgs[0].Lo, laneArgs[1].Lo)
				r = DataValue{Type: laneType, Lo: v}
			}
		default:
			err = errUnsupported
		}
		if err != nil {
			return DataValue{}, err
		}
		ret = ret.withLane(i, r.Lo)
	}
	return ret, nil
}

func evalIcmp128(c IntegerCmpCond, x, y DataValue) bool {
	var lt, eq bool
	eq = x.Lo == y.Lo && x.Hi == y.Hi
	if c.Signed() {
		xh, yh := int64(x.Hi), int64(y.Hi)
		lt = xh < yh || (xh == yh && x.Lo < y.Lo)
	} else {
		lt = x.Hi < y.Hi || (x.Hi == y.Hi && x.Lo < y.Lo)
	}
	switch c {
	case IntegerCmpCondEqual:
		return eq
	case IntegerCmpCondNotEqual:
		return !eq
	case IntegerCmpCondSignedLessThan, IntegerCmpCondUnsignedLessThan:
		return lt
	case IntegerCmpCondSignedLessThanOrEqual, IntegerCmpCondUnsignedLessThanOrEqual:
		return lt || eq
	case IntegerCmpCondSignedGreaterThan, IntegerCmpCondUnsignedGreaterThan:
		return !lt && !eq
	default:
		return !lt
	}
}

func evalI128(op Opcode, args []DataValue) (DataValue, error) {
	x := args[0]
	switch op {
	case OpcodeBnot:
		return DataValueI128(^x.Lo, ^x.Hi), nil
	case OpcodeIneg:
		lo, borrow := bits.Sub64(0, x.Lo, 0)
		hi, _ := bits.Sub64(0, x.Hi, borrow)
		return DataValueI128(lo, hi), nil
	}
	if len(args) != 2 {
		return DataValue{}, errUnsupported
	}
	y := args[1]
	switch op {
	case OpcodeIadd:
		lo, carry := bits.Add64(x.Lo, y.Lo, 0)
		hi, _ := bits.Add64(x.Hi, y.Hi, carry)
		return DataValueI128(lo, hi), nil
	case OpcodeIsub:
		lo, borrow := bits.Sub64(x.Lo, y.Lo, 0)
		hi, _ := bits.Sub64(x.Hi, y.Hi, borrow)
		return DataValueI128(lo, hi), nil
	case OpcodeImul:
		hi, lo := bits.Mul64(x.Lo, y.Lo)
		hi += x.Lo*y.Hi + x.Hi*y.Lo
		return DataValueI128(lo, hi), nil
	case OpcodeBand:
		return DataValueI128(x.Lo&y.Lo, x.Hi&y.Hi), nil
	case OpcodeBor:
		return DataValueI128(x.Lo|y.Lo, x.Hi|y.Hi), nil
	case OpcodeBxor:
		return DataValueI128(x.Lo^y.Lo, x.Hi^y.Hi), nil
	case OpcodeIshl, OpcodeUshr, OpcodeSshr:
		amount := uint(y.Lo % 128)
		lo, hi := x.Lo, x.Hi
		switch op {
		case OpcodeIshl:
			if amount >= 64 {
				hi, lo = lo<<(amount-64), 0
			} else if amount > 0 {
				hi, lo = hi<<amount|lo>>(64-amount), lo<<amount
			}
		case OpcodeUshr:
			if amount >= 64 {
				lo, hi = hi>>(amount-64), 0
			} else if amount > 0 {
				lo, hi = lo>>amount|hi<<(64-amount), hi>>amount
			}
		case OpcodeSshr:
			sign := uint64(int64(hi) >> 63)
			if amount >= 64 {
				lo, hi = uint64(int64(hi)>>(amount-64)), sign
			} else if amount > 0 {
				lo, hi = lo>>amount|hi<<(64-amount), uint64(int64(hi)>>amount)
			}
		}
		return DataValueI128(lo, hi), nil
	}
	return DataValue{}, errUnsupported
}
