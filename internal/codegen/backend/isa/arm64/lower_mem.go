package arm64

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// memTrap returns the trap code of a fault of an access with the given flags.
func memTrap(flags ssa.MemFlags) codegenapi.TrapCode {
	if flags.Has(ssa.MemFlagNoTrap) {
		return codegenapi.TrapCodeInvalid
	}
	return codegenapi.TrapCodeHeapOutOfBounds
}

// lowerToAmode converts ptr+offset into an addressing mode of an access of size bytes. An iadd of a constant
// folds into the offset, an iadd of two registers into the register offset form when there is no offset,
// with the index shift when it scales by the size.
func (m *machine) lowerToAmode(ptr ssa.Value, offset int32, flags ssa.MemFlags, size byte) (a addressMode) {
	def := m.c.ValueDefinition(ptr)
	if ptr.Type() != ssa.TypeI64 || !m.c.MatchInstr(def, ssa.OpcodeIadd) {
		a = newAmodeRegImm(m.c.VRegOf(ptr), int64(offset))
		a.trap = memTrap(flags)
		return
	}

	x, y := def.Instr.Arg2()
	if _, ok := m.constOf(x); ok {
		x, y = y, x
	}
	switch c, ok := m.constOf(y); {
	case ok:
		m.useConst(y)
		a = newAmodeRegImm(m.c.VRegOf(x), int64(offset)+c)
	case offset == 0:
		index, shift := m.c.VRegOf(y), byte(0)
		if yd := m.c.ValueDefinition(y); m.c.MatchInstr(yd, ssa.OpcodeIshl) && size > 1 {
			v, amt := yd.Instr.Arg2()
			if k, ok := m.constOf(amt); ok && k == int64(log2(size)) {
				m.useConst(amt)
				index, shift = m.c.VRegOf(v), byte(k)
				yd.Instr.MarkLowered()
			}
		}
		a = newAmodeRegReg(m.c.VRegOf(x), index, shift)
	default:
		a = newAmodeRegImm(m.c.VRegOf(ptr), int64(offset))
		a.trap = memTrap(flags)
		return
	}
	def.Instr.MarkLowered()
	a.trap = memTrap(flags)
	return
}

func log2(size byte) byte {
	var n byte
	for size > 1 {
		size >>= 1
		n++
	}
	return n
}

func loadKind(typ ssa.Type) instructionKind {
	switch {
	case typ == ssa.TypeF32:
		return fpuLoad32
	case typ == ssa.TypeF64:
		return fpuLoad64
	case typ.IsVector():
		return fpuLoad128
	}
	switch typ.Size() {
	case 1:
		return uLoad8
	case 2:
		return uLoad16
	case 4:
		return uLoad32
	default:
		return uLoad64
	}
}

func storeKind(typ ssa.Type, size byte) instructionKind {
	switch {
	case typ == ssa.TypeF32:
		return fpuStore32
	case typ == ssa.TypeF64:
		return fpuStore64
	case typ.IsVector():
		return fpuStore128
	}
	switch size {
	case 1:
		return store8
	case 2:
		return store16
	case 4:
		return store32
	default:
		return store64
	}
}

// insertLoad loads a value of typ at a into dst. Integers narrower than 64 bits are zero-extended.
func (m *machine) insertLoad(typ ssa.Type, a addressMode, dst regalloc.VReg) {
	m.insert(m.allocateInstr().asLoad(loadKind(typ), dst, a))
}

// insertStore stores the size low bytes of src at a.
func (m *machine) insertStore(typ ssa.Type, src regalloc.VReg, a addressMode, size byte) {
	m.insert(m.allocateInstr().asStore(storeKind(typ, size), src, a))
}

// loadValue loads v of its type at a, both halves for i128.
func (m *machine) loadValue(v ssa.Value, a addressMode) {
	if v.Type() == ssa.TypeI128 {
		lo, hi := m.c.VRegsOf(v)
		m.insertLoad(ssa.TypeI64, a, lo)
		m.insertLoad(ssa.TypeI64, m.upperHalf(a), hi)
		return
	}
	m.insertLoad(v.Type(), a, m.c.VRegOf(v))
}

// storeValue stores v of its type at a, both halves for i128.
func (m *machine) storeValue(v ssa.Value, a addressMode) {
	typ := v.Type()
	if typ == ssa.TypeI128 {
		lo, hi := m.c.VRegsOf(v)
		m.insertStore(ssa.TypeI64, lo, a, 8)
		m.insertStore(ssa.TypeI64, hi, m.upperHalf(a), 8)
		return
	}
	m.insertStore(typ, m.c.VRegOf(v), a, typ.Size())
}

// upperHalf returns the address 8 bytes past a. The register offset form has no immediate, so its sum
// is computed first.
func (m *machine) upperHalf(a addressMode) addressMode {
	if a.kind != addressModeKindRegReg {
		a.imm += 8
		return a
	}
	base := m.c.AllocateVReg(ssa.TypeI64)
	m.insert(m.allocateInstr().asLoadAddr(base, a))
	up := newAmodeRegImm(base, 8)
	up.trap = a.trap
	return up
}

func (m *machine) lowerLoad(instr *ssa.Instruction) {
	ptr, offset, typ, flags := instr.LoadData()
	size := typ.Size()
	if typ == ssa.TypeI128 {
		size = 8
	}
	m.loadValue(instr.Return(), m.lowerToAmode(ptr, offset, flags, size))
}

func (m *machine) lowerExtLoad(instr *ssa.Instruction) {
	ptr, offset, _, flags := instr.LoadData()
	var kind instructionKind
	var size byte
	switch instr.Opcode() {
	case ssa.OpcodeUload8:
		kind, size = uLoad8, 1
	case ssa.OpcodeSload8:
		kind, size = sLoad8, 1
	case ssa.OpcodeUload16:
		kind, size = uLoad16, 2
	case ssa.OpcodeSload16:
		kind, size = sLoad16, 2
	case ssa.OpcodeUload32:
		kind, size = uLoad32, 4
	case ssa.OpcodeSload32:
		kind, size = sLoad32, 4
	}
	a := m.lowerToAmode(ptr, offset, flags, size)
	m.insert(m.allocateInstr().asLoad(kind, m.c.VRegOf(instr.Return()), a))
}

func (m *machine) lowerStore(instr *ssa.Instruction) {
	value, ptr, offset, flags, bits := instr.StoreData()
	size := bits / 8
	if value.Type() == ssa.TypeI128 {
		size = 8
	}
	a := m.lowerToAmode(ptr, offset, flags, size)
	if instr.Opcode() == ssa.OpcodeStore {
		m.storeValue(value, a)
		return
	}
	m.insertStore(ssa.TypeI64, m.c.VRegOf(value), a, size)
}

func (m *machine) lowerStackAddr(instr *ssa.Instruction) {
	slot, offset := instr.StackSlotData()
	m.insert(m.allocateInstr().asLoadAddr(m.c.VRegOf(instr.Return()), newAmodeStackSlot(slot, int64(offset))))
}

func (m *machine) lowerStackLoad(instr *ssa.Instruction) {
	slot, offset := instr.StackSlotData()
	m.loadValue(instr.Return(), newAmodeStackSlot(slot, int64(offset)))
}

func (m *machine) lowerStackStore(instr *ssa.Instruction) {
	slot, offset := instr.StackSlotData()
	m.storeValue(instr.Arg(), newAmodeStackSlot(slot, int64(offset)))
}

func (m *machine) lowerGlobalValue(instr *ssa.Instruction) {
	gv := m.c.SSABuilder().GlobalValueData(instr.GlobalValueData())
	if gv.Kind != ssa.GlobalValueKindSymbol {
		backend.Unsupported(m.arch(), instr, "global value is not legalized")
	}
	m.insert(m.allocateInstr().asSymbolValue(gv.Symbol, gv.Offset, m.c.VRegOf(instr.Return())))
}

func (m *machine) lowerFuncAddr(instr *ssa.Instruction) {
	fd := m.c.SSABuilder().FunctionData(instr.FuncAddrData())
	m.insert(m.allocateInstr().asSymbolValue(fd.Name, 0, m.c.VRegOf(instr.Return())))
}
