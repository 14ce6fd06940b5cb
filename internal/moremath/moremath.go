package moremath

import "math"

// Min returns the IEEE 754-2019 minimum of x and y. Unlike math.Min, a NaN operand always produces
// NaN, even if the other operand is -Inf.
func Min(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, -1) || math.IsInf(y, -1):
		return math.Inf(-1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return x
		}
		return y
	}
	if x < y {
		return x
	}
	return y
}

// Max returns the IEEE 754-2019 maximum of x and y. A NaN operand always produces NaN, even if the
// other operand is +Inf.
func Max(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, 1) || math.IsInf(y, 1):
		return math.Inf(1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return y
		}
		return x
	}
	if x > y {
		return x
	}
	return y
}

// TruncFitsInt reports whether f truncated toward zero is representable as an integer of the given
// width and signedness. NaN never fits.
func TruncFitsInt(f float64, bits byte, signed bool) bool {
	if math.IsNaN(f) {
		return false
	}
	f = math.Trunc(f)
	if signed {
		limit := math.Ldexp(1, int(bits)-1)
		return f >= -limit && f < limit
	}
	return f > -1 && f < math.Ldexp(1, int(bits))
}
