package s390x

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// typesMemory are the types of the loads and stores.
var typesMemory = backend.TypesIntOrRef | backend.TypesI128 | backend.TypesFloat

var memRules = []backend.Rule[*machine]{
	{Name: "load", Opcode: ssa.OpcodeLoad, Types: typesMemory, Lower: (*machine).lowerLoad},
	{Name: "uload8", Opcode: ssa.OpcodeUload8, Types: backend.TypesIntScalar, Lower: (*machine).lowerExtLoad},
	{Name: "sload8", Opcode: ssa.OpcodeSload8, Types: backend.TypesIntScalar, Lower: (*machine).lowerExtLoad},
	{Name: "uload16", Opcode: ssa.OpcodeUload16, Types: backend.TypesIntScalar, Lower: (*machine).lowerExtLoad},
	{Name: "sload16", Opcode: ssa.OpcodeSload16, Types: backend.TypesIntScalar, Lower: (*machine).lowerExtLoad},
	{Name: "uload32", Opcode: ssa.OpcodeUload32, Types: typesI64, Lower: (*machine).lowerExtLoad},
	{Name: "sload32", Opcode: ssa.OpcodeSload32, Types: typesI64, Lower: (*machine).lowerExtLoad},
	{Name: "store", Opcode: ssa.OpcodeStore, Types: typesMemory, Lower: (*machine).lowerStore},
	{Name: "istore8", Opcode: ssa.OpcodeIstore8, Types: backend.TypesIntScalar, Lower: (*machine).lowerStore},
	{Name: "istore16", Opcode: ssa.OpcodeIstore16, Types: backend.TypesIntScalar, Lower: (*machine).lowerStore},
	{Name: "istore32", Opcode: ssa.OpcodeIstore32, Types: backend.TypesInt32And64, Lower: (*machine).lowerStore},
	{Name: "stack_load", Opcode: ssa.OpcodeStackLoad, Types: typesMemory, Lower: (*machine).lowerStackLoad},
	{Name: "stack_store", Opcode: ssa.OpcodeStackStore, Types: typesMemory, Lower: (*machine).lowerStackStore},
	{Name: "stack_addr", Opcode: ssa.OpcodeStackAddr, Types: typesI64, Lower: (*machine).lowerStackAddr},
	{Name: "global_value", Opcode: ssa.OpcodeGlobalValue, Types: backend.TypesIntOrRef, Lower: (*machine).lowerGlobalValue},
	{Name: "func_addr", Opcode: ssa.OpcodeFuncAddr, Types: typesI64, Lower: (*machine).lowerFuncAddr},
}

func memTrap(flags ssa.MemFlags) codegenapi.TrapCode {
	if flags.Has(ssa.MemFlagNoTrap) {
		return codegenapi.TrapCodeInvalid
	}
	return codegenapi.TrapCodeHeapOutOfBounds
}

// lowerToAmode converts ptr+offset into an addressing mode. An iadd of a constant folds into the
// displacement, an iadd of two registers becomes the base and the index.
func (m *machine) lowerToAmode(ptr ssa.Value, offset int32, flags ssa.MemFlags) (a addressMode) {
	a = newAmodeRegImm(m.c.VRegOf(ptr), int64(offset))
	if def := m.c.ValueDefinition(ptr); ptr.Type() == ssa.TypeI64 && m.c.MatchInstr(def, ssa.OpcodeIadd) {
		x, y := def.Instr.Arg2()
		if _, ok := m.constOf(x); ok {
			x, y = y, x
		}
		def.Instr.MarkLowered()
		if c, ok := m.constOf(y); ok {
			m.useConst(y)
			a = newAmodeRegImm(m.c.VRegOf(x), int64(offset)+c)
		} else {
			a = newAmodeRegReg(m.c.VRegOf(x), m.c.VRegOf(y), int64(offset))
		}
	}
	a.trap = memTrap(flags)
	return
}

func loadKind(typ ssa.Type) instructionKind {
	switch typ {
	case ssa.TypeF32:
		return fpuLoad32
	case ssa.TypeF64:
		return fpuLoad64
	}
	switch typ.Size() {
	case 1:
		return uLoad8
	case 2:
		return uLoad16
	case 4:
		return uLoad32
	default:
		return load64
	}
}

func storeKind(size byte) instructionKind {
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
	if typ.IsVector() {
		m.unsupportedType(typ)
	}
	m.insert(m.allocateInstr().asLoad(loadKind(typ), dst, a))
}

// insertStore stores the size low bytes of src at a.
func (m *machine) insertStore(src regalloc.VReg, a addressMode, size byte) {
	m.insert(m.allocateInstr().asStore(storeKind(size), src, a))
}

// loadValue loads v of its type at a. i128 is big-endian in memory: the high half comes first.
func (m *machine) loadValue(v ssa.Value, a addressMode) {
	if v.Type() == ssa.TypeI128 {
		lo, hi := m.c.VRegsOf(v)
		m.insertLoad(ssa.TypeI64, a, hi)
		a.imm += 8
		m.insertLoad(ssa.TypeI64, a, lo)
		return
	}
	m.insertLoad(v.Type(), a, m.c.VRegOf(v))
}

// storeValue stores v of its type at a, the high half first for i128.
func (m *machine) storeValue(v ssa.Value, a addressMode) {
	typ := v.Type()
	if typ == ssa.TypeI128 {
		lo, hi := m.c.VRegsOf(v)
		m.insertStore(hi, a, 8)
		a.imm += 8
		m.insertStore(lo, a, 8)
		return
	}
	switch {
	case typ.IsVector():
		m.unsupportedType(typ)
	case typ == ssa.TypeF32:
		m.insert(m.allocateInstr().asStore(fpuStore32, m.c.VRegOf(v), a))
		return
	case typ == ssa.TypeF64:
		m.insert(m.allocateInstr().asStore(fpuStore64, m.c.VRegOf(v), a))
		return
	}
	m.insertStore(m.c.VRegOf(v), a, typ.Size())
}

func (m *machine) lowerLoad(instr *ssa.Instruction) {
	ptr, offset, _, flags := instr.LoadData()
	m.loadValue(instr.Return(), m.lowerToAmode(ptr, offset, flags))
}

func (m *machine) lowerExtLoad(instr *ssa.Instruction) {
	ptr, offset, _, flags := instr.LoadData()
	var kind instructionKind
	switch instr.Opcode() {
	case ssa.OpcodeUload8:
		kind = uLoad8
	case ssa.OpcodeSload8:
		kind = sLoad8
	case ssa.OpcodeUload16:
		kind = uLoad16
	case ssa.OpcodeSload16:
		kind = sLoad16
	case ssa.OpcodeUload32:
		kind = uLoad32
	case ssa.OpcodeSload32:
		kind = sLoad32
	}
	m.insert(m.allocateInstr().asLoad(kind, m.c.VRegOf(instr.Return()), m.lowerToAmode(ptr, offset, flags)))
}

func (m *machine) lowerStore(instr *ssa.Instruction) {
	value, ptr, offset, flags, bits := instr.StoreData()
	a := m.lowerToAmode(ptr, offset, flags)
	if instr.Opcode() == ssa.OpcodeStore {
		m.storeValue(value, a)
		return
	}
	m.insertStore(m.c.VRegOf(value), a, bits/8)
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
