// Package target describes the machine a function is compiled for: the architecture,
// the enabled ISA extensions and the code generation flags.
package target

import (
	"fmt"
	"strings"
)

// Arch is the closed set of supported instruction set architectures.
type Arch byte

const (
	ArchInvalid Arch = iota
	ArchX86_64
	ArchAArch64
	ArchRISCV64
	ArchS390X
)

// Arches lists all the supported architectures.
var Arches = []Arch{ArchX86_64, ArchAArch64, ArchRISCV64, ArchS390X}

// String implements fmt.Stringer. The result is the target triple prefix.
func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchAArch64:
		return "aarch64"
	case ArchRISCV64:
		return "riscv64"
	case ArchS390X:
		return "s390x"
	default:
		return fmt.Sprintf("arch(%d)", a)
	}
}

// ParseArch parses a target triple, or its architecture part. Go's GOARCH names are accepted as well.
func ParseArch(s string) (Arch, error) {
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	switch s {
	case "x86_64", "amd64":
		return ArchX86_64, nil
	case "aarch64", "arm64":
		return ArchAArch64, nil
	case "riscv64", "riscv64gc":
		return ArchRISCV64, nil
	case "s390x":
		return ArchS390X, nil
	default:
		return ArchInvalid, fmt.Errorf("unsupported architecture %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Arch) MarshalText() ([]byte, error) {
	if a == ArchInvalid || a > ArchS390X {
		return nil, fmt.Errorf("invalid architecture %d", a)
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Arch) UnmarshalText(text []byte) (err error) {
	*a, err = ParseArch(string(text))
	return
}

// PointerBytes returns the size of a pointer.
func (a Arch) PointerBytes() int {
	return 8
}

// Extension is one optional ISA feature.
type Extension uint32

// Extensions is a set of Extension.
type Extensions = Extension

const (
	// ExtSSE41 enables SSE4.1 (x86_64): roundss/roundsd, pinsr/pextr for all widths.
	ExtSSE41 Extension = 1 << iota
	// ExtPOPCNT enables the popcnt instruction (x86_64).
	ExtPOPCNT
	// ExtLZCNT enables lzcnt (x86_64).
	ExtLZCNT
	// ExtBMI1 enables tzcnt and andn (x86_64).
	ExtBMI1
	// ExtBMI2 enables shlx/shrx/sarx (x86_64).
	ExtBMI2
	// ExtAVX enables VEX-encoded vector instructions (x86_64).
	ExtAVX
	// ExtLSE enables the large system extension atomics (aarch64).
	ExtLSE
	// ExtPAuth enables pointer authentication (aarch64).
	ExtPAuth
	// ExtV enables the vector extension (riscv64).
	ExtV
	// ExtZba enables address generation bit manipulation (riscv64).
	ExtZba
	// ExtZbb enables basic bit manipulation: clz, ctz, cpop, min/max (riscv64).
	ExtZbb
	// ExtZbs enables single bit instructions (riscv64).
	ExtZbs
	// ExtVXRS enables the vector facility (s390x).
	ExtVXRS
	// ExtMIE2 enables the miscellaneous instruction extensions facility 2 (s390x).
	ExtMIE2

	extEnd
)

var extensionNames = [...]struct {
	ext  Extension
	arch Arch
	name string
}{
	{ExtSSE41, ArchX86_64, "sse41"},
	{ExtPOPCNT, ArchX86_64, "popcnt"},
	{ExtLZCNT, ArchX86_64, "lzcnt"},
	{ExtBMI1, ArchX86_64, "bmi1"},
	{ExtBMI2, ArchX86_64, "bmi2"},
	{ExtAVX, ArchX86_64, "avx"},
	{ExtLSE, ArchAArch64, "lse"},
	{ExtPAuth, ArchAArch64, "pauth"},
	{ExtV, ArchRISCV64, "v"},
	{ExtZba, ArchRISCV64, "zba"},
	{ExtZbb, ArchRISCV64, "zbb"},
	{ExtZbs, ArchRISCV64, "zbs"},
	{ExtVXRS, ArchS390X, "vxrs"},
	{ExtMIE2, ArchS390X, "mie2"},
}

// Has returns true if all the extensions in o are enabled.
func (e Extension) Has(o Extension) bool {
	return e&o == o
}

// Count returns the number of extensions in the set.
func (e Extension) Count() (n int) {
	for ; e != 0; e &= e - 1 {
		n++
	}
	return
}

// Names returns the names of the extensions in the set, in declaration order.
func (e Extension) Names() []string {
	var ret []string
	for _, n := range extensionNames {
		if e.Has(n.ext) {
			ret = append(ret, n.name)
		}
	}
	return ret
}

// String implements fmt.Stringer.
func (e Extension) String() string {
	if e == 0 {
		return "none"
	}
	return strings.Join(e.Names(), ",")
}

// ParseExtension returns the Extension of the given name, which must belong to the arch.
func ParseExtension(arch Arch, name string) (Extension, error) {
	for _, n := range extensionNames {
		if n.name == name {
			if n.arch != arch {
				return 0, fmt.Errorf("extension %q is not available on %s", name, arch)
			}
			return n.ext, nil
		}
	}
	return 0, fmt.Errorf("unknown extension %q", name)
}

// ValidExtensions returns all the extensions that the arch understands.
func (a Arch) ValidExtensions() (ret Extensions) {
	for _, n := range extensionNames {
		if n.arch == a {
			ret |= n.ext
		}
	}
	return
}
