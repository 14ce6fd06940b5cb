package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mickey951112/wasmtime"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
	"github.com/mickey951112/wasmtime/internal/codegen/testcases"
)

// config resolves --target, --ext and --set into a TargetConfig.
func (o *options) config() (*wasmtime.TargetConfig, error) {
	var (
		cfg *wasmtime.TargetConfig
		err error
	)
	if st, statErr := os.Stat(o.target); statErr == nil && !st.IsDir() {
		cfg, err = wasmtime.LoadTargetConfig(o.target)
	} else {
		cfg, err = wasmtime.NewTargetConfigFromTriple(o.target)
	}
	if err != nil {
		return nil, err
	}

	for _, name := range o.ext {
		if name == "all" {
			cfg = cfg.WithAllExtensions()
			continue
		}
		ext, err := target.ParseExtension(cfg.Arch(), name)
		if err != nil {
			return nil, err
		}
		cfg = cfg.WithExtensions(ext)
	}

	for _, kv := range o.set {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--set %q: expected key=value", kv)
		}
		if cfg, err = cfg.WithFlag(key, value); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

// builders returns the builders of the named test cases, or of all of them if names is empty.
func builders(names []string) ([]*testcases.TestCase, []ssa.Builder, error) {
	var cases []*testcases.TestCase
	if len(names) == 0 {
		cases = testcases.All()
	}
	for _, name := range names {
		tc, ok := testcases.Lookup(name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown function %q, see `wasmtime-clif list`", name)
		}
		cases = append(cases, tc)
	}
	bs := make([]ssa.Builder, len(cases))
	for i, tc := range cases {
		bs[i] = tc.NewBuilder()
	}
	return cases, bs, nil
}
