package wasmtime

import (
	"fmt"
	"io"
	"runtime"

	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// TargetConfig controls code generation, with the default implementation as NewTargetConfig.
//
// All With* methods return a new TargetConfig, so a shared configuration is never mutated:
//
//	base := wasmtime.NewTargetConfig(target.ArchX86_64).WithOptLevel(target.OptLevelSpeed)
//	fast := base.WithVerifier(false)
type TargetConfig struct {
	desc        target.Descriptor
	cache       Cache
	parallelism int
}

// NewTargetConfig returns the default configuration of arch: no ISA extensions and the default flags.
func NewTargetConfig(arch target.Arch) *TargetConfig {
	return &TargetConfig{desc: target.NewDescriptor(arch), parallelism: runtime.GOMAXPROCS(0)}
}

// NewTargetConfigFromTriple is like NewTargetConfig, but parses the architecture out of a target triple
// such as "x86_64-unknown-linux-gnu" or "s390x".
func NewTargetConfigFromTriple(triple string) (*TargetConfig, error) {
	arch, err := target.ParseArch(triple)
	if err != nil {
		return nil, err
	}
	return NewTargetConfig(arch), nil
}

// DecodeTargetConfig reads a TOML target file, for example
//
//	arch = "x86_64"
//	extensions = ["sse41", "popcnt"]
//	[flags]
//	opt_level = "speed"
func DecodeTargetConfig(r io.Reader) (*TargetConfig, error) {
	d, err := target.Decode(r)
	if err != nil {
		return nil, err
	}
	ret := NewTargetConfig(d.Arch)
	ret.desc = d
	return ret, nil
}

// LoadTargetConfig reads the TOML target file at path. See DecodeTargetConfig.
func LoadTargetConfig(path string) (*TargetConfig, error) {
	d, err := target.Load(path)
	if err != nil {
		return nil, err
	}
	ret := NewTargetConfig(d.Arch)
	ret.desc = d
	return ret, nil
}

// clone ensures all fields are copied even if nil.
func (c *TargetConfig) clone() *TargetConfig {
	ret := *c
	return &ret
}

// Arch returns the architecture compiled for.
func (c *TargetConfig) Arch() target.Arch {
	return c.desc.Arch
}

// Descriptor returns a copy of the target descriptor handed to the backend.
func (c *TargetConfig) Descriptor() target.Descriptor {
	return c.desc
}

// Validate returns an error if the configuration cannot be compiled for, e.g. an extension of another
// architecture was enabled.
func (c *TargetConfig) Validate() error {
	return c.desc.Validate()
}

// Encode writes the configuration as a TOML target file which DecodeTargetConfig reads back.
func (c *TargetConfig) Encode(w io.Writer) error {
	return c.desc.Encode(w)
}

// String returns the canonical form of the descriptor, which is also hashed into cache keys.
func (c *TargetConfig) String() string {
	return c.desc.String()
}

// WithExtensions enables the given ISA extensions in addition to the ones already enabled.
func (c *TargetConfig) WithExtensions(ext target.Extensions) *TargetConfig {
	ret := c.clone()
	ret.desc.Extensions |= ext
	return ret
}

// WithoutExtensions disables the given ISA extensions.
func (c *TargetConfig) WithoutExtensions(ext target.Extensions) *TargetConfig {
	ret := c.clone()
	ret.desc.Extensions &^= ext
	return ret
}

// WithAllExtensions enables every extension known for the architecture.
func (c *TargetConfig) WithAllExtensions() *TargetConfig {
	return c.WithExtensions(c.desc.Arch.ValidExtensions())
}

// WithOptLevel sets the optimization level. OptLevelNone skips the egraph pass.
func (c *TargetConfig) WithOptLevel(level target.OptLevel) *TargetConfig {
	ret := c.clone()
	ret.desc.Flags.OptLevel = level
	return ret
}

// WithProbestack enables stack probes for frames of at least 1<<sizeLog2 bytes.
func (c *TargetConfig) WithProbestack(strategy target.ProbestackStrategy, sizeLog2 uint8) *TargetConfig {
	ret := c.clone()
	ret.desc.Flags.EnableProbestack = true
	ret.desc.Flags.ProbestackStrategy = strategy
	ret.desc.Flags.ProbestackSizeLog2 = sizeLog2
	return ret
}

// WithoutProbestack disables stack probes.
func (c *TargetConfig) WithoutProbestack() *TargetConfig {
	ret := c.clone()
	ret.desc.Flags.EnableProbestack = false
	return ret
}

// WithSpectreMitigation toggles the select based guards of heap and table accesses.
func (c *TargetConfig) WithSpectreMitigation(heap, table bool) *TargetConfig {
	ret := c.clone()
	ret.desc.Flags.EnableHeapAccessSpectreMitigation = heap
	ret.desc.Flags.EnableTableAccessSpectreMitigation = table
	return ret
}

// WithPreserveFramePointers forces a frame record in every function.
func (c *TargetConfig) WithPreserveFramePointers(enabled bool) *TargetConfig {
	ret := c.clone()
	ret.desc.Flags.PreserveFramePointers = enabled
	return ret
}

// WithEGraphIterationLimit bounds the rewrite iterations per e-class. Exceeding it is an internal error.
func (c *TargetConfig) WithEGraphIterationLimit(limit int) *TargetConfig {
	ret := c.clone()
	ret.desc.Flags.EGraphIterationLimit = limit
	return ret
}

// WithVerifier toggles the IR verifier run before legalization.
func (c *TargetConfig) WithVerifier(enabled bool) *TargetConfig {
	ret := c.clone()
	ret.desc.Flags.EnableVerifier = enabled
	return ret
}

// WithFlag sets a flag from its TOML key and textual value, as in `--set opt_level=speed`.
func (c *TargetConfig) WithFlag(key, value string) (*TargetConfig, error) {
	ret := c.clone()
	if err := ret.desc.Flags.Set(key, value); err != nil {
		return nil, err
	}
	return ret, nil
}

// WithCache stores and looks up compiled functions in cache. A nil cache disables caching.
func (c *TargetConfig) WithCache(cache Cache) *TargetConfig {
	ret := c.clone()
	ret.cache = cache
	return ret
}

// WithParallelism bounds the number of functions compiled concurrently by Compile. The default is
// GOMAXPROCS.
func (c *TargetConfig) WithParallelism(n int) *TargetConfig {
	if n < 1 {
		panic(fmt.Sprintf("invalid parallelism %d", n))
	}
	ret := c.clone()
	ret.parallelism = n
	return ret
}
