// Package golang_asm assembles instructions with golang-asm, the Go toolchain's assembler as a library.
// The backends' encoders are tested against it.
package golang_asm

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/objabi"
)

// Assembler accumulates instructions in Go assembler syntax: the source operand comes first.
type Assembler struct {
	b *goasm.Builder
}

// NewAssembler returns an Assembler of the GOARCH.
func NewAssembler(arch string) (*Assembler, error) {
	if arch == "amd64" {
		// No padding of jumps against the Intel erratum, so that the bytes are comparable.
		objabi.GOAMD64 = "disable"
	}
	b, err := goasm.NewBuilder(arch, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to create a new assembly builder: %w", err)
	}
	return &Assembler{b: b}, nil
}

func (a *Assembler) add(as obj.As, from, to obj.Addr) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.From = from
	p.To = to
	a.b.AddInstruction(p)
	return p
}

// Reg is a register operand.
func Reg(r int16) obj.Addr { return obj.Addr{Type: obj.TYPE_REG, Reg: r} }

// Const is an immediate operand.
func Const(v int64) obj.Addr { return obj.Addr{Type: obj.TYPE_CONST, Offset: v} }

// Mem is the memory operand off(base).
func Mem(base int16, off int64) obj.Addr { return obj.Addr{Type: obj.TYPE_MEM, Reg: base, Offset: off} }

// MemIndex is the memory operand off(base)(index*scale).
func MemIndex(base, index int16, scale int16, off int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_MEM, Reg: base, Index: index, Scale: scale, Offset: off}
}

// None is the absent operand.
func None() obj.Addr { return obj.Addr{} }

// Op adds the instruction `as from, to`.
func (a *Assembler) Op(as obj.As, from, to obj.Addr) {
	a.add(as, from, to)
}

// Op3 adds a three operand instruction, whose second source is the register reg.
func (a *Assembler) Op3(as obj.As, from obj.Addr, reg int16, to obj.Addr) {
	p := a.add(as, from, to)
	p.Reg = reg
}

// Assemble returns the machine code of the added instructions.
func (a *Assembler) Assemble() []byte {
	return a.b.Assemble()
}

// AssembleOne is a shorthand to encode a single instruction.
func AssembleOne(arch string, as obj.As, from, to obj.Addr) ([]byte, error) {
	a, err := NewAssembler(arch)
	if err != nil {
		return nil, err
	}
	a.Op(as, from, to)
	return a.Assemble(), nil
}
