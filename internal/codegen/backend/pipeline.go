package backend

import (
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// Stage names of the compilation pipeline, in order.
const (
	StageVerify   = "verify"
	StageLegalize = "legalize"
	StageOptimize = "optimize"
	StageLayout   = "layout"
	StageLower    = "lower"
	StageRegAlloc = "regalloc"
	StageEmit     = "emit"
)

// StageError is an error of one pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// PrepareSSA runs the target independent stages on the function held by b: verification, legalization,
// the passes and the block layout. After this, b is ready for Compiler.Compile.
func PrepareSSA(b ssa.Builder, d *target.Descriptor) error {
	f := &d.Flags
	if f.EnableVerifier {
		if err := b.Verify(); err != nil {
			return &StageError{Stage: StageVerify, Err: err}
		}
	}
	if err := b.Legalize(ssa.LegalizeOptions{
		SpectreHeap:  f.EnableHeapAccessSpectreMitigation,
		SpectreTable: f.EnableTableAccessSpectreMitigation,
	}); err != nil {
		return &StageError{Stage: StageLegalize, Err: err}
	}
	if err := b.RunPasses(ssa.PassOptions{
		Optimize:             f.OptLevel != target.OptLevelNone,
		EGraphIterationLimit: f.EGraphIterationLimit,
	}); err != nil {
		return &StageError{Stage: StageOptimize, Err: err}
	}
	b.LayoutBlocks()
	codegenapi.Trace(codegenapi.TopicSSA, "prepared", "func", b.Name(), "blocks", b.Blocks())
	return nil
}
