package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"tlog.app/go/tlog"

	"github.com/mickey951112/wasmtime"
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
	"github.com/mickey951112/wasmtime/internal/codegen/testcases"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, tc := range testcases.All() {
				nameColor.Fprintf(w, "%-24s", tc.Name)
				fmt.Fprintf(w, " %s\n", tc.Desc)
			}
			return nil
		},
	}
}

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the supported architectures and their ISA extensions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, arch := range target.Arches {
				nameColor.Fprintf(w, "%-8s", arch)
				fmt.Fprintf(w, " %d-byte pointers, extensions: %s\n",
					arch.PointerBytes(), strings.Join(arch.ValidExtensions().Names(), " "))
			}
			return nil
		},
	}
}

func newSSACmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ssa [function...]",
		Short: "Print the IR of functions as built",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config()
			if err != nil {
				return err
			}
			cases, bs, err := builders(args)
			if err != nil {
				return err
			}
			if cfg.Descriptor().Flags.EnableVerifier {
				for _, b := range bs {
					if err := b.Verify(); err != nil {
						return err
					}
				}
			}
			printBuilders(cmd.OutOrStdout(), cases, bs)
			return nil
		},
	}
}

func newOptCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "opt [function...]",
		Short: "Print the IR of functions after legalization, the passes and the block layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config()
			if err != nil {
				return err
			}
			cases, bs, err := builders(args)
			if err != nil {
				return err
			}
			d := cfg.Descriptor()
			for _, b := range bs {
				if err := backend.PrepareSSA(b, &d); err != nil {
					return fmt.Errorf("%s: %w", b.Name(), err)
				}
			}
			printBuilders(cmd.OutOrStdout(), cases, bs)
			return nil
		},
	}
}

func newVCodeCmd(o *options) *cobra.Command {
	var regalloc bool
	cmd := &cobra.Command{
		Use:   "vcode [function...]",
		Short: "Print the lowered machine instructions of functions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config()
			if err != nil {
				return err
			}
			cases, bs, err := builders(args)
			if err != nil {
				return err
			}
			d := cfg.Descriptor()
			w := cmd.OutOrStdout()
			for i, b := range bs {
				if err := backend.PrepareSSA(b, &d); err != nil {
					return fmt.Errorf("%s: %w", b.Name(), err)
				}
				mach, err := wasmtime.NewBackend(d.Arch)
				if err != nil {
					return err
				}
				c := backend.NewCompiler(cmd.Context(), mach, b, &d)
				if err := c.Lower(); err != nil {
					return fmt.Errorf("%s: %w", b.Name(), err)
				}
				if regalloc {
					if err := c.RegAlloc(); err != nil {
						return fmt.Errorf("%s: %w", b.Name(), err)
					}
				}
				nameColor.Fprintf(w, "function %s", cases[i].Name)
				dimColor.Fprintf(w, " ; %s\n", d.Arch)
				fmt.Fprintln(w, c.Format())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&regalloc, "regalloc", false, "print the instructions after register allocation")
	return cmd
}

func newCompileCmd(o *options) *cobra.Command {
	var (
		perfmap  string
		cacheDir string
		jobs     int
	)
	cmd := &cobra.Command{
		Use:   "compile [function...]",
		Short: "Compile functions into machine code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config()
			if err != nil {
				return err
			}
			if jobs > 0 {
				cfg = cfg.WithParallelism(jobs)
			}
			var cache wasmtime.Cache
			if cacheDir != "" {
				cache = wasmtime.NewCache()
				if err := cache.WithCompilationCacheDirName(cacheDir); err != nil {
					return err
				}
				cfg = cfg.WithCache(cache)
			}

			_, bs, err := builders(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			fs, err := wasmtime.Compile(ctx, cfg, bs)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, f := range fs {
				fmt.Fprint(w, f.Format())
			}
			if cache != nil {
				hits, misses := cache.Stats()
				tlog.Printw("cache", "dir", cacheDir, "hits", hits, "misses", misses)
			}
			if perfmap != "" {
				return writePerfmap(perfmap, fs)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&perfmap, "perfmap", "", "write the perf map of the functions laid out from address 0 to this file")
	f.StringVar(&cacheDir, "cache-dir", "", "persist compiled functions into this directory")
	f.IntVarP(&jobs, "jobs", "j", 0, "number of functions compiled concurrently, GOMAXPROCS by default")
	return cmd
}

// writePerfmap lays the functions out as the linker does and writes their perf map entries.
func writePerfmap(path string, fs []*wasmtime.CompiledFunction) error {
	var pm codegenapi.Perfmap
	offsets, _ := backend.Layout(fs)
	for i, f := range fs {
		pm.AddEntry(offsets[i], uint64(len(f.Code)), f.Name)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pm.Flush(file, 0); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func newRunCmd(o *options) *cobra.Command {
	var (
		prepared bool
		argList  []string
	)
	cmd := &cobra.Command{
		Use:   "run [function...]",
		Short: "Interpret functions and check the results of their runs",
		Long: "Interpret functions and check the results of their runs. With --args, interpret one function " +
			"with the given arguments and print the results instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config()
			if err != nil {
				return err
			}
			if argList != nil && len(args) != 1 {
				return errors.New("--args requires exactly one function")
			}
			cases, bs, err := builders(args)
			if err != nil {
				return err
			}
			d := cfg.Descriptor()
			w := cmd.OutOrStdout()
			failures := 0
			for i, b := range bs {
				tc := cases[i]
				if prepared {
					if err := backend.PrepareSSA(b, &d); err != nil {
						return fmt.Errorf("%s: %w", b.Name(), err)
					}
				}
				if argList != nil {
					return runWithArgs(w, tc, b, argList)
				}
				failed := checkRuns(w, tc, b)
				if failed == 0 {
					okColor.Fprintf(w, "ok")
					fmt.Fprintf(w, "   %s (%d runs)\n", tc.Name, len(tc.Runs))
				}
				failures += failed
			}
			if failures > 0 {
				return fmt.Errorf("%d runs failed", failures)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&prepared, "prepared", false, "interpret the functions after legalization and the passes for --target")
	f.StringSliceVar(&argList, "args", nil, "comma separated arguments, parsed by the parameter types")
	return cmd
}

// checkRuns interprets the runs of tc on b and reports the ones which do not match.
func checkRuns(w io.Writer, tc *testcases.TestCase, b ssa.Builder) (failed int) {
	for _, run := range tc.Runs {
		results, err := testcases.NewInterpreter(b).Run(run.Args...)
		var got string
		if run.Trap != codegenapi.TrapCodeInvalid {
			var trap *ssa.TrapError
			if errors.As(err, &trap) && trap.Code == run.Trap {
				continue
			}
			got = fmt.Sprintf("expected trap %s, got %v %v", run.Trap, results, err)
		} else if err != nil {
			got = fmt.Sprintf("expected %v, got %v", run.Results, err)
		} else if !slices.Equal(run.Results, results) {
			got = fmt.Sprintf("expected %v, got %v", run.Results, results)
		} else {
			continue
		}
		failed++
		errColor.Fprintf(w, "FAIL")
		fmt.Fprintf(w, " %s%v: %s\n", tc.Name, run.Args, got)
	}
	return
}

func runWithArgs(w io.Writer, tc *testcases.TestCase, b ssa.Builder, argList []string) error {
	params := tc.Sig.ParamTypes()
	if len(argList) != len(params) {
		return fmt.Errorf("%s takes %d arguments but got %d", tc.Name, len(params), len(argList))
	}
	args := make([]ssa.DataValue, len(params))
	for i, typ := range params {
		v, err := parseDataValue(typ, argList[i])
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	results, err := testcases.NewInterpreter(b).Run(args...)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintln(w, r)
	}
	return nil
}

// parseDataValue parses s as a value of typ. Integers accept the prefixes of strconv.ParseInt.
func parseDataValue(typ ssa.Type, s string) (ssa.DataValue, error) {
	switch {
	case typ == ssa.TypeF32:
		f, err := strconv.ParseFloat(s, 32)
		return ssa.DataValueF32(float32(f)), err
	case typ == ssa.TypeF64:
		f, err := strconv.ParseFloat(s, 64)
		return ssa.DataValueF64(f), err
	case typ.IsInt() || typ.IsRef():
		if strings.HasPrefix(s, "-") {
			v, err := strconv.ParseInt(s, 0, 64)
			return ssa.DataValueOf(typ, uint64(v)), err
		}
		v, err := strconv.ParseUint(s, 0, 64)
		return ssa.DataValueOf(typ, v), err
	default:
		return ssa.DataValue{}, fmt.Errorf("cannot parse %s arguments", typ)
	}
}

func printBuilders(w io.Writer, cases []*testcases.TestCase, bs []ssa.Builder) {
	for i, b := range bs {
		nameColor.Fprintf(w, "function %s", cases[i].Name)
		dimColor.Fprintf(w, " ; %s\n", cases[i].Desc)
		fmt.Fprintln(w, b.Format())
	}
}
