package ssa

import (
	"fmt"
	"strings"
)

// SignatureID is a unique identifier used to lookup.
type SignatureID int

// String implements fmt.Stringer.
func (s SignatureID) String() string {
	return fmt.Sprintf("sig%d", s)
}

// CallConv is the calling convention of a Signature.
type CallConv byte

const (
	// CallConvFast is the unstable convention used between functions of one compilation unit.
	// It shares the register assignment of CallConvSystemV.
	CallConvFast CallConv = iota
	// CallConvSystemV is the platform's C calling convention.
	CallConvSystemV
	// CallConvTail is the callee-pops convention which supports return_call with stack arguments.
	CallConvTail
)

// String implements fmt.Stringer.
func (c CallConv) String() string {
	switch c {
	case CallConvFast:
		return "fast"
	case CallConvSystemV:
		return "system_v"
	case CallConvTail:
		return "tail"
	default:
		return fmt.Sprintf("callconv(%d)", c)
	}
}

// ParseCallConv is the inverse of CallConv.String.
func ParseCallConv(s string) (CallConv, error) {
	for c := CallConvFast; c <= CallConvTail; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown calling convention %q", s)
}

// ArgumentExtension tells the ABI how a narrow integer is widened to a full register.
type ArgumentExtension byte

const (
	ArgumentExtensionNone ArgumentExtension = iota
	ArgumentExtensionUext
	ArgumentExtensionSext
)

// ArgumentPurpose is a special meaning attached to a parameter.
type ArgumentPurpose byte

const (
	ArgumentPurposeNormal ArgumentPurpose = iota
	// ArgumentPurposeVMContext marks the parameter holding the vmctx pointer. GlobalValueKindVMContext resolves to it.
	ArgumentPurposeVMContext
)

// AbiParam is a parameter or a result of a Signature.
type AbiParam struct {
	Type      Type
	Extension ArgumentExtension
	Purpose   ArgumentPurpose
}

// Param returns an AbiParam of the type without attributes.
func Param(t Type) AbiParam {
	return AbiParam{Type: t}
}

// String implements fmt.Stringer.
func (p AbiParam) String() string {
	s := p.Type.String()
	switch p.Extension {
	case ArgumentExtensionUext:
		s += " uext"
	case ArgumentExtensionSext:
		s += " sext"
	}
	if p.Purpose == ArgumentPurposeVMContext {
		s += " vmctx"
	}
	return s
}

// Signature is a function prototype.
type Signature struct {
	// ID is a unique identifier for this signature used to lookup.
	ID SignatureID
	// CallConv is the calling convention of this signature.
	CallConv CallConv
	// Params and Results are the types of the parameters and results of the function.
	Params, Results []AbiParam

	// used is true if this is used by the currently-compiled function.
	// Debugging only.
	used bool
}

// ParamTypes returns the types of the parameters.
func (s *Signature) ParamTypes() []Type {
	ret := make([]Type, len(s.Params))
	for i := range s.Params {
		ret[i] = s.Params[i].Type
	}
	return ret
}

// ResultTypes returns the types of the results.
func (s *Signature) ResultTypes() []Type {
	ret := make([]Type, len(s.Results))
	for i := range s.Results {
		ret[i] = s.Results[i].Type
	}
	return ret
}

// VMContextParam returns the index of the vmctx parameter, or -1.
func (s *Signature) VMContextParam() int {
	for i := range s.Params {
		if s.Params[i].Purpose == ArgumentPurposeVMContext {
			return i
		}
	}
	return -1
}

// String implements fmt.Stringer.
func (s *Signature) String() string {
	str := strings.Builder{}
	str.WriteString(s.ID.String())
	str.WriteString(": (")
	for i, p := range s.Params {
		if i > 0 {
			str.WriteString(", ")
		}
		str.WriteString(p.String())
	}
	str.WriteString(")")
	if len(s.Results) > 0 {
		str.WriteString(" -> ")
		for i, p := range s.Results {
			if i > 0 {
				str.WriteString(", ")
			}
			str.WriteString(p.String())
		}
	}
	str.WriteString(" ")
	str.WriteString(s.CallConv.String())
	return str.String()
}
