package target

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Descriptor is everything the backend needs to know about the machine. It is immutable once built
// and shared read-only between concurrent compilations.
type Descriptor struct {
	Arch       Arch       `msgpack:"arch"`
	Extensions Extensions `msgpack:"ext"`
	Flags      Flags      `msgpack:"flags"`
}

// NewDescriptor returns the Descriptor of the arch with no extensions and DefaultFlags.
func NewDescriptor(arch Arch) Descriptor {
	return Descriptor{Arch: arch, Flags: DefaultFlags()}
}

// Validate returns an error if the descriptor cannot be compiled for.
func (d *Descriptor) Validate() error {
	if d.Arch == ArchInvalid || d.Arch > ArchS390X {
		return fmt.Errorf("invalid architecture %d", d.Arch)
	}
	if invalid := d.Extensions &^ d.Arch.ValidExtensions(); invalid != 0 {
		return fmt.Errorf("extensions %#x are not available on %s", uint32(invalid), d.Arch)
	}
	return d.Flags.Validate()
}

// String returns the canonical textual form, which is also the form hashed into cache keys.
func (d *Descriptor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "arch=%s ext=%s", d.Arch, d.Extensions)
	f := &d.Flags
	fmt.Fprintf(&b, " probestack=%t/%s/%d", f.EnableProbestack, f.ProbestackStrategy, f.ProbestackSizeLog2)
	fmt.Fprintf(&b, " spectre=%t/%t", f.EnableHeapAccessSpectreMitigation, f.EnableTableAccessSpectreMitigation)
	fmt.Fprintf(&b, " preserve_fp=%t opt=%s egraph_limit=%d verifier=%t",
		f.PreserveFramePointers, f.OptLevel, f.EGraphIterationLimit, f.EnableVerifier)
	return b.String()
}

// descriptorFile is the TOML form of Descriptor.
type descriptorFile struct {
	Arch       Arch     `toml:"arch"`
	Extensions []string `toml:"extensions"`
	Flags      Flags    `toml:"flags"`
}

// Decode reads a TOML target file. Keys which are not understood are an error, so that
// a typo never silently falls back to a default.
func Decode(r io.Reader) (Descriptor, error) {
	f := descriptorFile{Flags: DefaultFlags()}
	md, err := toml.NewDecoder(r).Decode(&f)
	if err != nil {
		return Descriptor{}, fmt.Errorf("decoding target: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Descriptor{}, fmt.Errorf("unknown target keys: %s", strings.Join(keys, ", "))
	}
	if f.Arch == ArchInvalid {
		return Descriptor{}, fmt.Errorf("target has no arch")
	}

	d := Descriptor{Arch: f.Arch, Flags: f.Flags}
	for _, name := range f.Extensions {
		ext, err := ParseExtension(d.Arch, name)
		if err != nil {
			return Descriptor{}, err
		}
		d.Extensions |= ext
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Load reads the TOML target file at path.
func Load(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, err
	}
	defer f.Close()
	d, err := Decode(f)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Encode writes the descriptor as a TOML target file which Decode reads back.
func (d *Descriptor) Encode(w io.Writer) error {
	f := descriptorFile{Arch: d.Arch, Extensions: d.Extensions.Names(), Flags: d.Flags}
	return toml.NewEncoder(w).Encode(f)
}
