package target

import (
	"fmt"
	"strconv"
)

// ProbestackStrategy selects how large frames touch their pages.
type ProbestackStrategy byte

const (
	// ProbestackOutline calls the __probestack runtime helper. Only x86_64 has such a helper;
	// other architectures fall back to ProbestackInline.
	ProbestackOutline ProbestackStrategy = iota
	// ProbestackInline emits the probes into the prologue, either unrolled or as a loop.
	ProbestackInline
)

// String implements fmt.Stringer.
func (s ProbestackStrategy) String() string {
	if s == ProbestackInline {
		return "inline"
	}
	return "outline"
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProbestackStrategy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "outline":
		*s = ProbestackOutline
	case "inline":
		*s = ProbestackInline
	default:
		return fmt.Errorf("invalid probestack strategy %q", text)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s ProbestackStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OptLevel is the optimization level.
type OptLevel byte

const (
	OptLevelNone OptLevel = iota
	OptLevelSpeed
	OptLevelSpeedAndSize
)

// String implements fmt.Stringer.
func (o OptLevel) String() string {
	switch o {
	case OptLevelSpeed:
		return "speed"
	case OptLevelSpeedAndSize:
		return "speed_and_size"
	default:
		return "none"
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *OptLevel) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*o = OptLevelNone
	case "speed":
		*o = OptLevelSpeed
	case "speed_and_size":
		*o = OptLevelSpeedAndSize
	default:
		return fmt.Errorf("invalid opt level %q", text)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (o OptLevel) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Flags are the code generation settings shared by all architectures.
type Flags struct {
	EnableProbestack   bool               `toml:"enable_probestack" msgpack:"probestack"`
	ProbestackStrategy ProbestackStrategy `toml:"probestack_strategy" msgpack:"probestack_strategy"`
	// ProbestackSizeLog2 is the log2 of the guard page size. Frames larger than that are probed.
	ProbestackSizeLog2 uint8 `toml:"probestack_size_log2" msgpack:"probestack_size_log2"`

	EnableHeapAccessSpectreMitigation  bool `toml:"enable_heap_access_spectre_mitigation" msgpack:"spectre_heap"`
	EnableTableAccessSpectreMitigation bool `toml:"enable_table_access_spectre_mitigation" msgpack:"spectre_table"`

	// PreserveFramePointers forces a frame record even in leaf functions without a frame.
	PreserveFramePointers bool     `toml:"preserve_frame_pointers" msgpack:"preserve_fp"`
	OptLevel              OptLevel `toml:"opt_level" msgpack:"opt_level"`
	EGraphIterationLimit  int      `toml:"egraph_iteration_limit" msgpack:"egraph_iteration_limit"`
	EnableVerifier        bool     `toml:"enable_verifier" msgpack:"verifier"`
}

// DefaultFlags returns the default Flags.
func DefaultFlags() Flags {
	return Flags{
		ProbestackStrategy:                 ProbestackOutline,
		ProbestackSizeLog2:                 12,
		EnableHeapAccessSpectreMitigation:  true,
		EnableTableAccessSpectreMitigation: true,
		EGraphIterationLimit:               16,
		EnableVerifier:                     true,
	}
}

// ProbestackSize returns the guard page size in bytes.
func (f *Flags) ProbestackSize() int64 {
	return 1 << f.ProbestackSizeLog2
}

// Validate returns an error if the flags are inconsistent.
func (f *Flags) Validate() error {
	if f.ProbestackSizeLog2 < 12 || f.ProbestackSizeLog2 > 16 {
		return fmt.Errorf("probestack_size_log2 must be in [12, 16] but was %d", f.ProbestackSizeLog2)
	}
	if f.EGraphIterationLimit <= 0 {
		return fmt.Errorf("egraph_iteration_limit must be positive but was %d", f.EGraphIterationLimit)
	}
	return nil
}

// Set sets the flag of the given TOML key from its textual value, as used by `--set key=value`.
func (f *Flags) Set(key, value string) error {
	parseBool := func(dst *bool) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("flag %s: %w", key, err)
		}
		*dst = b
		return nil
	}
	switch key {
	case "enable_probestack":
		return parseBool(&f.EnableProbestack)
	case "probestack_strategy":
		return f.ProbestackStrategy.UnmarshalText([]byte(value))
	case "probestack_size_log2":
		n, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return fmt.Errorf("flag %s: %w", key, err)
		}
		f.ProbestackSizeLog2 = uint8(n)
	case "enable_heap_access_spectre_mitigation":
		return parseBool(&f.EnableHeapAccessSpectreMitigation)
	case "enable_table_access_spectre_mitigation":
		return parseBool(&f.EnableTableAccessSpectreMitigation)
	case "preserve_frame_pointers":
		return parseBool(&f.PreserveFramePointers)
	case "opt_level":
		return f.OptLevel.UnmarshalText([]byte(value))
	case "egraph_iteration_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("flag %s: %w", key, err)
		}
		f.EGraphIterationLimit = n
	case "enable_verifier":
		return parseBool(&f.EnableVerifier)
	default:
		return fmt.Errorf("unknown flag %q", key)
	}
	return nil
}
