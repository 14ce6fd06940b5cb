package amd64

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

// lowerToAmode converts ptr+offset into an addressing mode, folding an iadd of the pointer computation
// and a small left shift of its index.
func (m *machine) lowerToAmode(ptr ssa.Value, offset int32, flags ssa.MemFlags) (a amode) {
	def := m.c.ValueDefinition(ptr)
	if ptr.Type() != ssa.TypeI64 || !m.c.MatchInstr(def, ssa.OpcodeIadd) {
		a = newAmodeImmReg(uint32(offset), m.c.VRegOf(ptr))
		a.trap = memTrap(flags)
		return
	}

	x, y := def.Instr.Arg2()
	if _, ok := m.constOf(x); ok {
		x, y = y, x
	}
	if c, ok := m.constOf(y); ok && lower32willSignExtendTo64(uint64(int64(offset)+c)) {
		m.useConst(y)
		a = newAmodeImmReg(uint32(int64(offset)+c), m.c.VRegOf(x))
	} else {
		index, shift := m.c.VRegOf(y), byte(0)
		if yd := m.c.ValueDefinition(y); m.c.MatchInstr(yd, ssa.OpcodeIshl) {
			v, amt := yd.Instr.Arg2()
			if k, ok := m.constOf(amt); ok && k >= 0 && k <= 3 {
				m.useConst(amt)
				index, shift = m.c.VRegOf(v), byte(k)
				yd.Instr.MarkLowered()
			}
		}
		a = newAmodeRegRegShift(uint32(offset), m.c.VRegOf(x), index, shift)
	}
	def.Instr.MarkLowered()
	a.trap = memTrap(flags)
	return
}

// insertLoad loads a value of typ at a into dst. Integers narrower than 64 bits are zero-extended.
func (m *machine) insertLoad(typ ssa.Type, a amode, dst regalloc.VReg) {
	i := m.allocateInstr()
	switch {
	case typ == ssa.TypeF32:
		i.asXmmUnaryRmR(sseOpcodeMovss, newOperandMem(a), dst)
	case typ == ssa.TypeF64:
		i.asXmmUnaryRmR(sseOpcodeMovsd, newOperandMem(a), dst)
	case typ.IsVector():
		i.asXmmUnaryRmR(sseOpcodeMovdqu, newOperandMem(a), dst)
	case typ.Size() == 8:
		i.asMov64MR(a, dst)
	default:
		i.asMovzxRmR(extModeOf(typ.Size(), 4), newOperandMem(a), dst)
	}
	m.insert(i)
}

// insertStore stores the size low bytes of src at a.
func (m *machine) insertStore(typ ssa.Type, src regalloc.VReg, a amode, size byte) {
	i := m.allocateInstr()
	switch {
	case typ == ssa.TypeF32:
		i.asXmmMovRM(sseOpcodeMovss, src, a)
	case typ == ssa.TypeF64:
		i.asXmmMovRM(sseOpcodeMovsd, src, a)
	case typ.IsVector():
		i.asXmmMovRM(sseOpcodeMovdqu, src, a)
	default:
		i.asMovRM(src, a, size)
	}
	m.insert(i)
}

// loadValue loads v of its type at a, both halves for i128.
func (m *machine) loadValue(v ssa.Value, a amode) {
	if v.Type() == ssa.TypeI128 {
		lo, hi := m.c.VRegsOf(v)
		m.insert(m.allocateInstr().asMov64MR(a, lo))
		a.imm32 += 8
		m.insert(m.allocateInstr().asMov64MR(a, hi))
		return
	}
	m.insertLoad(v.Type(), a, m.c.VRegOf(v))
}

// storeValue stores v of its type at a, both halves for i128.
func (m *machine) storeValue(v ssa.Value, a amode) {
	typ := v.Type()
	if typ == ssa.TypeI128 {
		lo, hi := m.c.VRegsOf(v)
		m.insert(m.allocateInstr().asMovRM(lo, a, 8))
		a.imm32 += 8
		m.insert(m.allocateInstr().asMovRM(hi, a, 8))
		return
	}
	m.insertStore(typ, m.c.VRegOf(v), a, typ.Size())
}

func (m *machine) lowerLoad(instr *ssa.Instruction) {
	ptr, offset, _, flags := instr.LoadData()
	m.loadValue(instr.Return(), m.lowerToAmode(ptr, offset, flags))
}

func (m *machine) lowerExtLoad(instr *ssa.Instruction) {
	ptr, offset, typ, flags := instr.LoadData()
	var from byte
	var signed bool
	switch instr.Opcode() {
	case ssa.OpcodeUload8:
		from = 1
	case ssa.OpcodeSload8:
		from, signed = 1, true
	case ssa.OpcodeUload16:
		from = 2
	case ssa.OpcodeSload16:
		from, signed = 2, true
	case ssa.OpcodeUload32:
		from = 4
	case ssa.OpcodeSload32:
		from, signed = 4, true
	}
	a := m.lowerToAmode(ptr, offset, flags)
	dst := m.c.VRegOf(instr.Return())
	mode := extModeOf(from, typ.Size())
	if signed {
		m.insert(m.allocateInstr().asMovsxRmR(mode, newOperandMem(a), dst))
	} else {
		m.insert(m.allocateInstr().asMovzxRmR(mode, newOperandMem(a), dst))
	}
}

func (m *machine) lowerStore(instr *ssa.Instruction) {
	value, ptr, offset, flags, bits := instr.StoreData()
	a := m.lowerToAmode(ptr, offset, flags)
	if instr.Opcode() == ssa.OpcodeStore {
		m.storeValue(value, a)
		return
	}
	m.insert(m.allocateInstr().asMovRM(m.c.VRegOf(value), a, bits/8))
}

func (m *machine) lowerStackAddr(instr *ssa.Instruction) {
	slot, offset := instr.StackSlotData()
	m.insert(m.allocateInstr().asLEA(newAmodeStackSlot(slot, offset), m.c.VRegOf(instr.Return())))
}

func (m *machine) lowerStackLoad(instr *ssa.Instruction) {
	slot, offset := instr.StackSlotData()
	m.loadValue(instr.Return(), newAmodeStackSlot(slot, offset))
}

func (m *machine) lowerStackStore(instr *ssa.Instruction) {
	slot, offset := instr.StackSlotData()
	m.storeValue(instr.Arg(), newAmodeStackSlot(slot, offset))
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
