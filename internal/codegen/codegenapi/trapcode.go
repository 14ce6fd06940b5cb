package codegenapi

import "fmt"

// TrapCode identifies why a compiled function stopped at a trap instruction.
// The embedder maps the faulting address back to the code via the trap sites of a compiled function.
type TrapCode uint32

const (
	TrapCodeInvalid TrapCode = iota
	TrapCodeStackOverflow
	TrapCodeHeapOutOfBounds
	TrapCodeHeapMisaligned
	TrapCodeTableOutOfBounds
	TrapCodeIndirectCallToNull
	TrapCodeBadSignature
	TrapCodeIntegerOverflow
	TrapCodeIntegerDivisionByZero
	TrapCodeBadConversionToInteger
	TrapCodeUnreachable
	TrapCodeInterrupt

	// TrapCodeUser0 is the first code available to embedders. Codes above it print as user<N>.
	TrapCodeUser0 TrapCode = 0x100
)

var trapCodeNames = [...]string{
	TrapCodeInvalid:                "invalid",
	TrapCodeStackOverflow:          "stk_ovf",
	TrapCodeHeapOutOfBounds:        "heap_oob",
	TrapCodeHeapMisaligned:         "heap_misaligned",
	TrapCodeTableOutOfBounds:       "table_oob",
	TrapCodeIndirectCallToNull:     "icall_null",
	TrapCodeBadSignature:           "bad_sig",
	TrapCodeIntegerOverflow:        "int_ovf",
	TrapCodeIntegerDivisionByZero:  "int_divz",
	TrapCodeBadConversionToInteger: "bad_toint",
	TrapCodeUnreachable:            "unreachable",
	TrapCodeInterrupt:              "interrupt",
}

// String implements fmt.Stringer.
func (t TrapCode) String() string {
	if t >= TrapCodeUser0 {
		return fmt.Sprintf("user%d", t-TrapCodeUser0)
	}
	if int(t) < len(trapCodeNames) {
		return trapCodeNames[t]
	}
	return fmt.Sprintf("trap(%d)", uint32(t))
}

// ParseTrapCode is the inverse of TrapCode.String.
func ParseTrapCode(s string) (TrapCode, error) {
	for i, name := range trapCodeNames {
		if name == s && i != int(TrapCodeInvalid) {
			return TrapCode(i), nil
		}
	}
	var n uint32
	if _, err := fmt.Sscanf(s, "user%d", &n); err == nil {
		return TrapCodeUser0 + TrapCode(n), nil
	}
	return TrapCodeInvalid, fmt.Errorf("unknown trap code %q", s)
}
