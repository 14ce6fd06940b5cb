package ssa

import "math"

// IntegerCmpCond represents a condition for integer comparison.
type IntegerCmpCond byte

const (
	// IntegerCmpCondInvalid represents an invalid condition.
	IntegerCmpCondInvalid IntegerCmpCond = iota
	// IntegerCmpCondEqual represents "==".
	IntegerCmpCondEqual
	// IntegerCmpCondNotEqual represents "!=".
	IntegerCmpCondNotEqual
	// IntegerCmpCondSignedLessThan represents Signed "<".
	IntegerCmpCondSignedLessThan
	// IntegerCmpCondSignedGreaterThanOrEqual represents Signed ">=".
	IntegerCmpCondSignedGreaterThanOrEqual
	// IntegerCmpCondSignedGreaterThan represents Signed ">".
	IntegerCmpCondSignedGreaterThan
	// IntegerCmpCondSignedLessThanOrEqual represents Signed "<=".
	IntegerCmpCondSignedLessThanOrEqual
	// IntegerCmpCondUnsignedLessThan represents Unsigned "<".
	IntegerCmpCondUnsignedLessThan
	// IntegerCmpCondUnsignedGreaterThanOrEqual represents Unsigned ">=".
	IntegerCmpCondUnsignedGreaterThanOrEqual
	// IntegerCmpCondUnsignedGreaterThan represents Unsigned ">".
	IntegerCmpCondUnsignedGreaterThan
	// IntegerCmpCondUnsignedLessThanOrEqual represents Unsigned "<=".
	IntegerCmpCondUnsignedLessThanOrEqual
)

// String implements fmt.Stringer.
func (i IntegerCmpCond) String() string {
	switch i {
	case IntegerCmpCondEqual:
		return "eq"
	case IntegerCmpCondNotEqual:
		return "neq"
	case IntegerCmpCondSignedLessThan:
		return "lt_s"
	case IntegerCmpCondSignedGreaterThanOrEqual:
		return "ge_s"
	case IntegerCmpCondSignedGreaterThan:
		return "gt_s"
	case IntegerCmpCondSignedLessThanOrEqual:
		return "le_s"
	case IntegerCmpCondUnsignedLessThan:
		return "lt_u"
	case IntegerCmpCondUnsignedGreaterThanOrEqual:
		return "ge_u"
	case IntegerCmpCondUnsignedGreaterThan:
		return "gt_u"
	case IntegerCmpCondUnsignedLessThanOrEqual:
		return "le_u"
	default:
		panic("invalid integer comparison condition")
	}
}

// Signed returns true if the condition is signed integer comparison.
func (i IntegerCmpCond) Signed() bool {
	switch i {
	case IntegerCmpCondSignedLessThan, IntegerCmpCondSignedGreaterThanOrEqual,
		IntegerCmpCondSignedGreaterThan, IntegerCmpCondSignedLessThanOrEqual:
		return true
	default:
		return false
	}
}

// Swap returns the condition which holds for (y, x) exactly when i holds for (x, y).
func (i IntegerCmpCond) Swap() IntegerCmpCond {
	switch i {
	case IntegerCmpCondSignedLessThan:
		return IntegerCmpCondSignedGreaterThan
	case IntegerCmpCondSignedGreaterThan:
		return IntegerCmpCondSignedLessThan
	case IntegerCmpCondSignedLessThanOrEqual:
		return IntegerCmpCondSignedGreaterThanOrEqual
	case IntegerCmpCondSignedGreaterThanOrEqual:
		return IntegerCmpCondSignedLessThanOrEqual
	case IntegerCmpCondUnsignedLessThan:
		return IntegerCmpCondUnsignedGreaterThan
	case IntegerCmpCondUnsignedGreaterThan:
		return IntegerCmpCondUnsignedLessThan
	case IntegerCmpCondUnsignedLessThanOrEqual:
		return IntegerCmpCondUnsignedGreaterThanOrEqual
	case IntegerCmpCondUnsignedGreaterThanOrEqual:
		return IntegerCmpCondUnsignedLessThanOrEqual
	default:
		return i
	}
}

// Invert returns the logical negation of the condition.
func (i IntegerCmpCond) Invert() IntegerCmpCond {
	switch i {
	case IntegerCmpCondEqual:
		return IntegerCmpCondNotEqual
	case IntegerCmpCondNotEqual:
		return IntegerCmpCondEqual
	case IntegerCmpCondSignedLessThan:
		return IntegerCmpCondSignedGreaterThanOrEqual
	case IntegerCmpCondSignedGreaterThanOrEqual:
		return IntegerCmpCondSignedLessThan
	case IntegerCmpCondSignedGreaterThan:
		return IntegerCmpCondSignedLessThanOrEqual
	case IntegerCmpCondSignedLessThanOrEqual:
		return IntegerCmpCondSignedGreaterThan
	case IntegerCmpCondUnsignedLessThan:
		return IntegerCmpCondUnsignedGreaterThanOrEqual
	case IntegerCmpCondUnsignedGreaterThanOrEqual:
		return IntegerCmpCondUnsignedLessThan
	case IntegerCmpCondUnsignedGreaterThan:
		return IntegerCmpCondUnsignedLessThanOrEqual
	case IntegerCmpCondUnsignedLessThanOrEqual:
		return IntegerCmpCondUnsignedGreaterThan
	default:
		panic("invalid integer comparison condition")
	}
}

// EvalBits evaluates the condition on x and y which hold integers of the given width in their low bits.
func (i IntegerCmpCond) EvalBits(x, y uint64, bits byte) bool {
	if bits < 64 {
		mask := uint64(1)<<bits - 1
		x, y = x&mask, y&mask
	}
	sx, sy := signExtend(x, bits), signExtend(y, bits)
	switch i {
	case IntegerCmpCondEqual:
		return x == y
	case IntegerCmpCondNotEqual:
		return x != y
	case IntegerCmpCondSignedLessThan:
		return sx < sy
	case IntegerCmpCondSignedGreaterThanOrEqual:
		return sx >= sy
	case IntegerCmpCondSignedGreaterThan:
		return sx > sy
	case IntegerCmpCondSignedLessThanOrEqual:
		return sx <= sy
	case IntegerCmpCondUnsignedLessThan:
		return x < y
	case IntegerCmpCondUnsignedGreaterThanOrEqual:
		return x >= y
	case IntegerCmpCondUnsignedGreaterThan:
		return x > y
	case IntegerCmpCondUnsignedLessThanOrEqual:
		return x <= y
	default:
		panic("invalid integer comparison condition")
	}
}

// signExtend sign-extends the low `bits` bits of v into int64.
func signExtend(v uint64, bits byte) int64 {
	if bits >= 64 {
		return int64(v)
	}
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

// FloatCmpCond represents a condition for floating point comparison.
type FloatCmpCond byte

const (
	// FloatCmpCondInvalid represents an invalid condition.
	FloatCmpCondInvalid FloatCmpCond = iota
	// FloatCmpCondEqual represents "==". False if either operand is NaN.
	FloatCmpCondEqual
	// FloatCmpCondNotEqual represents "!=". True if either operand is NaN.
	FloatCmpCondNotEqual
	// FloatCmpCondLessThan represents "<". False if either operand is NaN.
	FloatCmpCondLessThan
	// FloatCmpCondLessThanOrEqual represents "<=". False if either operand is NaN.
	FloatCmpCondLessThanOrEqual
	// FloatCmpCondGreaterThan represents ">". False if either operand is NaN.
	FloatCmpCondGreaterThan
	// FloatCmpCondGreaterThanOrEqual represents ">=". False if either operand is NaN.
	FloatCmpCondGreaterThanOrEqual
	// FloatCmpCondOrdered is true if neither operand is NaN.
	FloatCmpCondOrdered
	// FloatCmpCondUnordered is true if either operand is NaN.
	FloatCmpCondUnordered
)

// String implements fmt.Stringer.
func (f FloatCmpCond) String() string {
	switch f {
	case FloatCmpCondEqual:
		return "eq"
	case FloatCmpCondNotEqual:
		return "neq"
	case FloatCmpCondLessThan:
		return "lt"
	case FloatCmpCondLessThanOrEqual:
		return "le"
	case FloatCmpCondGreaterThan:
		return "gt"
	case FloatCmpCondGreaterThanOrEqual:
		return "ge"
	case FloatCmpCondOrdered:
		return "ord"
	case FloatCmpCondUnordered:
		return "uno"
	default:
		panic("invalid float comparison condition")
	}
}

// Swap returns the condition which holds for (y, x) exactly when f holds for (x, y).
func (f FloatCmpCond) Swap() FloatCmpCond {
	switch f {
	case FloatCmpCondLessThan:
		return FloatCmpCondGreaterThan
	case FloatCmpCondGreaterThan:
		return FloatCmpCondLessThan
	case FloatCmpCondLessThanOrEqual:
		return FloatCmpCondGreaterThanOrEqual
	case FloatCmpCondGreaterThanOrEqual:
		return FloatCmpCondLessThanOrEqual
	default:
		return f
	}
}

// Eval evaluates the condition.
func (f FloatCmpCond) Eval(x, y float64) bool {
	unordered := math.IsNaN(x) || math.IsNaN(y)
	switch f {
	case FloatCmpCondEqual:
		return x == y
	case FloatCmpCondNotEqual:
		return x != y
	case FloatCmpCondLessThan:
		return x < y
	case FloatCmpCondLessThanOrEqual:
		return x <= y
	case FloatCmpCondGreaterThan:
		return x > y
	case FloatCmpCondGreaterThanOrEqual:
		return x >= y
	case FloatCmpCondOrdered:
		return !unordered
	case FloatCmpCondUnordered:
		return unordered
	default:
		panic("invalid float comparison condition")
	}
}
