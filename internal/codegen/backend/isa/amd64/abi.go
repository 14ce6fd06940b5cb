package amd64

import (
	"github.com/mickey951112/wasmtime/internal/codegen/backend"
	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
)

// frameRecordSize is the return address plus the saved %rbp.
const frameRecordSize = 16

// LowerParams implements backend.Machine. Register parameters are defined by a single args pseudo
// instruction, stack parameters are loaded from above the frame record.
func (m *machine) LowerParams(params []ssa.Value) {
	a := m.abi
	argsInstr := m.allocateInstr().asArgs()
	for i, p := range params {
		arg := &a.Args[i]
		if arg.Kind != backend.ABIArgKindReg {
			continue
		}
		if p.Type() == ssa.TypeI128 {
			lo, hi := m.c.VRegsOf(p)
			argsInstr.addFixed(lo, arg.Reg, true)
			argsInstr.addFixed(hi, arg.Reg2, true)
		} else {
			argsInstr.addFixed(m.c.VRegOf(p), arg.Reg, true)
		}
	}
	rp := a.RetPtrArg()
	if rp != nil && rp.Kind == backend.ABIArgKindReg {
		argsInstr.addFixed(m.retPtr, rp.Reg, true)
	}
	m.insert(argsInstr)

	for i, p := range params {
		if arg := &a.Args[i]; arg.Kind == backend.ABIArgKindStack {
			m.loadValue(p, m.incomingArg(arg.Offset))
		}
	}
	if rp != nil && rp.Kind == backend.ABIArgKindStack {
		m.insertLoad(ssa.TypeI64, m.incomingArg(rp.Offset), m.retPtr)
	}
}

func (m *machine) incomingArg(off int64) amode {
	return newAmodeImmReg(backend.CheckImm[uint32](m.arch(), "stack argument offset", frameRecordSize+off), rbpVReg)
}

// LowerReturns implements backend.Machine.
func (m *machine) LowerReturns(rets []ssa.Value) {
	for i, v := range rets {
		r := &m.abi.Rets[i]
		if r.Kind == backend.ABIArgKindStack {
			m.storeValue(v, newAmodeImmReg(backend.CheckImm[uint32](m.arch(), "return offset", r.Offset), m.retPtr))
			continue
		}
		if v.Type() == ssa.TypeI128 {
			lo, hi := m.c.VRegsOf(v)
			m.retVals = append(m.retVals,
				fixedOperand{v: lo, r: r.Reg.RealReg()},
				fixedOperand{v: hi, r: r.Reg2.RealReg()})
			continue
		}
		vr := m.extendArg(m.c.VRegOf(v), v.Type(), r.Extension)
		m.retVals = append(m.retVals, fixedOperand{v: vr, r: r.Reg.RealReg()})
	}
}

// InsertReturn implements backend.Machine.
func (m *machine) InsertReturn() {
	var pop uint64
	if m.abi.CalleePopsArgs() {
		pop = uint64(m.abi.AlignedArgStackSize())
	}
	i := m.allocateInstr().asRet(pop)
	i.fixed = append(i.fixed[:0], m.retVals...)
	m.retVals = m.retVals[:0]
	m.insert(i)
}

// extendArg widens a narrow integer to 64 bits as the extension attribute asks.
func (m *machine) extendArg(v regalloc.VReg, typ ssa.Type, ext ssa.ArgumentExtension) regalloc.VReg {
	if ext == ssa.ArgumentExtensionNone || !typ.IsInt() || typ.Bits() >= 64 {
		return v
	}
	tmp := m.c.AllocateVReg(ssa.TypeI64)
	mode := extModeOf(typ.Size(), 8)
	if ext == ssa.ArgumentExtensionSext {
		m.insert(m.allocateInstr().asMovsxRmR(mode, newOperandReg(v), tmp))
	} else {
		m.insert(m.allocateInstr().asMovzxRmR(mode, newOperandReg(v), tmp))
	}
	return tmp
}

// placeArgs pins the register arguments of a call to their registers, and stores the stack ones
// at the address stackAt returns.
func (m *machine) placeArgs(ci *instruction, abi *backend.FunctionABI, args []ssa.Value, stackAt func(off int64) amode) {
	for i, v := range args {
		arg := &abi.Args[i]
		typ := v.Type()
		switch {
		case arg.Kind == backend.ABIArgKindStack && arg.Extension != ssa.ArgumentExtensionNone && typ.IsInt() && typ.Bits() < 64:
			m.insert(m.allocateInstr().asMovRM(m.extendArg(m.c.VRegOf(v), typ, arg.Extension), stackAt(arg.Offset), 8))
		case arg.Kind == backend.ABIArgKindStack:
			m.storeValue(v, stackAt(arg.Offset))
		case typ == ssa.TypeI128:
			lo, hi := m.c.VRegsOf(v)
			ci.addFixed(lo, arg.Reg, false)
			ci.addFixed(hi, arg.Reg2, false)
		default:
			ci.addFixed(m.extendArg(m.c.VRegOf(v), typ, arg.Extension), arg.Reg, false)
		}
	}
}

// callTarget resolves the callee and the arguments of the call family.
func (m *machine) callTarget(instr *ssa.Instruction) (fd *ssa.ExtFuncData, ptr regalloc.VReg, abi *backend.FunctionABI, args []ssa.Value) {
	b := m.c.SSABuilder()
	var sigID ssa.SignatureID
	ptr = regalloc.VRegInvalid
	switch instr.Opcode() {
	case ssa.OpcodeCall, ssa.OpcodeReturnCall:
		var ref ssa.FuncRef
		ref, sigID, args = instr.CallData()
		fd = b.FunctionData(ref)
	default:
		var p ssa.Value
		p, sigID, args = instr.CallIndirectData()
		ptr = m.c.VRegOf(p)
	}
	abi = m.c.GetFunctionABI(b.ResolveSignature(sigID))
	return
}

func (m *machine) lowerCall(instr *ssa.Instruction) {
	m.hasCalls = true
	fd, ptr, abi, args := m.callTarget(instr)
	argSize := abi.AlignedArgStackSize()
	m.frame.ReserveOutgoing(argSize + abi.AlignedRetStackSize())
	outgoing := func(off int64) amode {
		return newAmodeImmReg(backend.CheckImm[uint32](m.arch(), "outgoing argument offset", m.frame.OutgoingArgOffset(off)), rspVReg)
	}

	ci := m.allocateInstr()
	if fd != nil {
		ci.asCall(fd.Name, fd.Colocated, abi)
	} else {
		ci.asCallIndirect(ptr, abi)
	}
	m.placeArgs(ci, abi, args, outgoing)
	if rp := abi.RetPtrArg(); rp != nil {
		area := m.c.AllocateVReg(ssa.TypeI64)
		m.insert(m.allocateInstr().asLEA(outgoing(argSize), area))
		if rp.Kind == backend.ABIArgKindReg {
			ci.addFixed(area, rp.Reg, false)
		} else {
			m.insert(m.allocateInstr().asMovRM(area, outgoing(rp.Offset), 8))
		}
	}

	var results []ssa.Value
	if first, rest := instr.Returns(); first.Valid() {
		results = append(append(results, first), rest...)
	}
	for i, v := range results {
		r := &abi.Rets[i]
		if r.Kind != backend.ABIArgKindReg {
			continue
		}
		if v.Type() == ssa.TypeI128 {
			lo, hi := m.c.VRegsOf(v)
			ci.addFixed(lo, r.Reg, true)
			ci.addFixed(hi, r.Reg2, true)
		} else {
			ci.addFixed(m.c.VRegOf(v), r.Reg, true)
		}
	}
	for _, v := range m.c.LiveRefsAcross(instr) {
		ci.refs = append(ci.refs, m.c.VRegOf(v))
	}
	m.insert(ci)

	for i, v := range results {
		if r := &abi.Rets[i]; r.Kind == backend.ABIArgKindStack {
			m.loadValue(v, outgoing(argSize+r.Offset))
		}
	}
}

// lowerTailCall reuses the incoming argument area of the current function for the stack arguments
// of the callee, which returns directly to the caller of the current function. When the callee needs more
// stack argument space than the current function was given, the area is extended downwards over the
// frame: the arguments are first stored into the outgoing area, then copied up once the frame is gone.
func (m *machine) lowerTailCall(instr *ssa.Instruction) {
	m.hasCalls = true
	fd, ptr, abi, args := m.callTarget(instr)
	if abi.ArgStackSize > 0 && !abi.CalleePopsArgs() {
		backend.Unsupported(m.arch(), instr, "tail call with stack arguments needs the tail calling convention")
	}
	if abi.RetPtr && !m.abi.RetPtr {
		backend.Unsupported(m.arch(), instr, "tail call returning in memory from a function returning in registers")
	}
	spOff := backend.TailCallSPOffset(m.abi, abi, frameRecordSize)

	ti := m.allocateInstr()
	if fd != nil {
		ti.asTailCall(fd.Name, fd.Colocated, regalloc.VRegInvalid, abi, spOff)
	} else {
		ti.asTailCall("", false, ptr, abi, spOff)
	}
	stackAt := func(off int64) amode {
		return newAmodeImmReg(backend.CheckImm[uint32](m.arch(), "tail call argument offset", spOff+off), rbpVReg)
	}
	if spOff < frameRecordSize {
		size := abi.AlignedArgStackSize()
		m.frame.ReserveOutgoing(size)
		ti.stackArgs = size
		stackAt = func(off int64) amode {
			return newAmodeImmReg(backend.CheckImm[uint32](m.arch(), "outgoing argument offset", m.frame.OutgoingArgOffset(off)), rspVReg)
		}
	}
	m.placeArgs(ti, abi, args, stackAt)
	if rp := abi.RetPtrArg(); rp != nil {
		if rp.Kind == backend.ABIArgKindReg {
			ti.addFixed(m.retPtr, rp.Reg, false)
		} else {
			m.insert(m.allocateInstr().asMovRM(m.retPtr, stackAt(rp.Offset), 8))
		}
	}
	m.insert(ti)
}
