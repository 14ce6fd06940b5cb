// Package wasmtime compiles IR functions into machine code for x86-64, AArch64, RISC-V64 and s390x.
//
// The functions are built with the ssa.Builder of this module, then handed to Compile together with a
// TargetConfig:
//
//	cfg := wasmtime.NewTargetConfig(target.ArchAArch64).WithOptLevel(target.OptLevelSpeed)
//	compiled, err := wasmtime.Compile(ctx, cfg, []ssa.Builder{b})
package wasmtime

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/isa/amd64"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/isa/arm64"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/isa/riscv64"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/isa/s390x"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
	"github.com/mickey951112/wasmtime/internal/compilationcache"
)

// CompiledFunction is the machine code of one function with its relocations, trap sites, stack maps and
// unwind information. Functions returned from a Cache are shared and must not be modified.
type CompiledFunction = backend.CompiledFunction

// StageConfig is the CompileError.Stage of an invalid TargetConfig. The other stages are the ones of the
// pipeline: "verify", "legalize", "optimize", "lower", "regalloc" and "emit".
const StageConfig = "config"

// CompileError is the error of compiling one function.
//
// Err is one of *ssa.ValidationError, *backend.UnsupportedError, *backend.ImmediateRangeError or
// *backend.InternalError, which errors.As finds through Unwrap.
type CompileError struct {
	// Func is the name of the function, empty for configuration errors.
	Func  string
	Stage string
	Err   error
}

// Error implements error.
func (e *CompileError) Error() string {
	if e.Func == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("compiling %s: %s: %v", e.Func, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error { return e.Err }

// NewBackend returns a new backend.Machine of arch. A Machine compiles one function at a time.
func NewBackend(arch target.Arch) (backend.Machine, error) {
	switch arch {
	case target.ArchX86_64:
		return amd64.NewBackend(), nil
	case target.ArchAArch64:
		return arm64.NewBackend(), nil
	case target.ArchRISCV64:
		return riscv64.NewBackend(), nil
	case target.ArchS390X:
		return s390x.NewBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported architecture %s", arch)
	}
}

// Compile compiles the functions held by fns, concurrently up to TargetConfig.WithParallelism. The
// results are in the order of fns. The builders are consumed: the passes rewrite their functions.
//
// If any function fails, the first error in the order of completion is returned as a *CompileError and
// no result is returned. ctx is checked before each function; a started function always completes.
func Compile(ctx context.Context, cfg *TargetConfig, fns []ssa.Builder) ([]*CompiledFunction, error) {
	d := cfg.desc
	if err := d.Validate(); err != nil {
		return nil, &CompileError{Stage: StageConfig, Err: err}
	}

	ret := make([]*CompiledFunction, len(fns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.parallelism)
	for i, b := range fns {
		i, b := i, b
		g.Go(func() (err error) {
			if err = gctx.Err(); err != nil {
				return err
			}
			ret[i], err = compileFunction(gctx, cfg, &d, b)
			return
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ret, nil
}

// compileFunction runs the pipeline on the function of b, or returns it from the cache of cfg.
func compileFunction(ctx context.Context, cfg *TargetConfig, d *target.Descriptor, b ssa.Builder) (*CompiledFunction, error) {
	name := b.Name()
	c := cfg.cache
	var key compilationcache.Key
	if c != nil {
		key = compilationcache.NewKey(b.Format(), d.String())
		f, ok, err := c.get(key)
		if err != nil {
			return nil, &CompileError{Func: name, Stage: "cache", Err: err}
		}
		if ok {
			return f, nil
		}
	}

	if codegenapi.PrintSSA {
		fmt.Printf("[[[SSA for %s]]]%s\n", name, b.Format())
	}
	if err := backend.PrepareSSA(b, d); err != nil {
		return nil, wrapCompileError(name, err)
	}

	mach, err := NewBackend(d.Arch)
	if err != nil {
		return nil, &CompileError{Func: name, Stage: StageConfig, Err: err}
	}
	f, err := backend.NewCompiler(ctx, mach, b, d).Compile(ctx)
	if err != nil {
		return nil, wrapCompileError(name, err)
	}

	if c != nil {
		if err := c.add(key, f); err != nil {
			return nil, &CompileError{Func: name, Stage: "cache", Err: err}
		}
	}
	return f, nil
}

// wrapCompileError attributes err to the pipeline stage which produced it.
func wrapCompileError(name string, err error) error {
	var (
		se *backend.StageError
		ie *backend.InternalError
		ue *backend.UnsupportedError
	)
	switch {
	case errors.As(err, &se):
		return &CompileError{Func: name, Stage: se.Stage, Err: se.Err}
	case errors.As(err, &ie):
		return &CompileError{Func: name, Stage: ie.Stage, Err: err}
	case errors.As(err, &ue):
		return &CompileError{Func: name, Stage: backend.StageLower, Err: err}
	default:
		return &CompileError{Func: name, Stage: backend.StageEmit, Err: err}
	}
}
