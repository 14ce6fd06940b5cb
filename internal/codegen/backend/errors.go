package backend

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// UnsupportedError is returned when no lowering rule of the target matches an instruction.
type UnsupportedError struct {
	Arch   target.Arch
	Opcode ssa.Opcode
	Type   ssa.Type
	Reason string
}

// Error implements error.
func (e *UnsupportedError) Error() string {
	msg := fmt.Sprintf("%s: unsupported %s", e.Arch, e.Opcode)
	if e.Type.Valid() {
		msg += "." + e.Type.String()
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ImmediateRangeError is returned when an immediate or an offset does not fit the encoding of the target.
type ImmediateRangeError struct {
	Arch  target.Arch
	What  string
	Value int64
	Err   error
}

// Error implements error.
func (e *ImmediateRangeError) Error() string {
	return fmt.Sprintf("%s: %s %d out of range: %v", e.Arch, e.What, e.Value, e.Err)
}

// Unwrap returns the conversion error.
func (e *ImmediateRangeError) Unwrap() error { return e.Err }

// InternalError is a bug of the compiler caught at runtime, like a panic during lowering.
type InternalError struct {
	Stage string
	Err   error
}

// Error implements error.
func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error during %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *InternalError) Unwrap() error { return e.Err }

// Unsupported aborts the lowering of the current function with an UnsupportedError.
func Unsupported(arch target.Arch, instr *ssa.Instruction, reason string) {
	panic(&UnsupportedError{Arch: arch, Opcode: instr.Opcode(), Type: ControllingType(instr), Reason: reason})
}

// CheckImm narrows the immediate v to Out, aborting the lowering with an ImmediateRangeError if it does not fit.
func CheckImm[Out safecast.Integer, In safecast.Integer](arch target.Arch, what string, v In) Out {
	ret, err := safecast.Conv[Out](v)
	if err != nil {
		panic(&ImmediateRangeError{Arch: arch, What: what, Value: int64(v), Err: err})
	}
	return ret
}

// recoverCompileError converts the panics of lowering into errors. The typed errors above are returned as is,
// anything else is a bug.
func recoverCompileError(stage string, r any) error {
	switch e := r.(type) {
	case *UnsupportedError:
		return e
	case *ImmediateRangeError:
		return e
	case error:
		var ie *InternalError
		if errors.As(e, &ie) {
			return ie
		}
		return &InternalError{Stage: stage, Err: e}
	default:
		return &InternalError{Stage: stage, Err: fmt.Errorf("%v", r)}
	}
}
