// Command wasmtime-clif inspects and compiles the built-in IR functions: it prints them at each stage of
// the pipeline, interprets them and writes their machine code.
package main

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"tlog.app/go/tlog"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	root := newRootCmd(stdOut, stdErr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		errColor.Fprintf(stdErr, "error: ")
		_, _ = io.WriteString(stdErr, err.Error()+"\n")
		return 1
	}
	return 0
}

var (
	errColor  = color.New(color.FgRed, color.Bold)
	okColor   = color.New(color.FgGreen)
	nameColor = color.New(color.FgCyan, color.Bold)
	dimColor  = color.New(color.Faint)
)

// options are the persistent flags shared by the subcommands.
type options struct {
	target string
	ext    []string
	set    []string
	trace  string
	color  string
}

func newRootCmd(stdOut, stdErr io.Writer) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "wasmtime-clif",
		Short:         "Inspect and compile IR functions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			switch o.color {
			case "on":
				color.NoColor = false
			case "off":
				color.NoColor = true
			}
			if o.trace != "" {
				codegenapi.SetTraceTopics(o.trace)
				tlog.Printw("tracing", "topics", o.trace)
			}
			return nil
		},
	}
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	pf := root.PersistentFlags()
	pf.StringVarP(&o.target, "target", "t", "x86_64", "target triple, or the path of a TOML target file")
	pf.StringSliceVar(&o.ext, "ext", nil, "ISA extensions to enable, or \"all\"")
	pf.StringArrayVar(&o.set, "set", nil, "set a flag, as key=value (repeatable)")
	pf.StringVar(&o.trace, "trace", "", "comma separated trace topics: ssa,egraph,alias,licm,lower,abi,emit,cache")
	pf.StringVar(&o.color, "color", "auto", "colorize output (auto|on|off)")

	root.AddCommand(
		newListCmd(),
		newTargetsCmd(),
		newSSACmd(o),
		newOptCmd(o),
		newVCodeCmd(o),
		newCompileCmd(o),
		newRunCmd(o),
	)
	return root
}
