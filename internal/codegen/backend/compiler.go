package backend

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

// NewCompiler returns a new Compiler that can generate a machine code of the function in builder for the target.
func NewCompiler(ctx context.Context, mach Machine, builder ssa.Builder, t *target.Descriptor) Compiler {
	return newCompiler(ctx, mach, builder, t)
}

func newCompiler(_ context.Context, mach Machine, builder ssa.Builder, t *target.Descriptor) *compiler {
	c := &compiler{
		mach: mach, ssaBuilder: builder,
		target:     t,
		nextVRegID: regalloc.VRegIDNonReservedBegin,
		abis:       make(map[*ssa.Signature]*FunctionABI),
	}
	mach.SetCompiler(c)
	return c
}

// Compiler is the backend of the compilation of one function. It drives the Machine through the stages
// and holds the state shared between the stages: the virtual registers of the SSA values and the side
// tables of the generated code.
type Compiler interface {
	// SSABuilder returns the ssa.Builder used by this compiler.
	SSABuilder() ssa.Builder

	// Target returns the description of the compiled-for machine.
	Target() *target.Descriptor

	// Compile executes the following steps:
	// 	1. Lower()
	// 	2. RegAlloc()
	// 	3. Finalize()
	//
	// Each step can be called individually for testing purpose, therefore they are exposed in this interface too.
	//
	// The returned CompiledFunction owns its buffers.
	Compile(ctx context.Context) (*CompiledFunction, error)

	// Lower lowers the given ssa.Instruction to the machine-specific instructions.
	Lower() error

	// RegAlloc performs the register allocation after Lower is called.
	RegAlloc() error

	// Finalize performs the finalization of the compilation, including machine code emission.
	// This must be called after RegAlloc.
	Finalize(ctx context.Context) (*CompiledFunction, error)

	// Format returns the debug string of the current state of the compiler.
	Format() string

	// Buf returns the buffer of the encoded machine code. This is only used for testing purpose.
	Buf() []byte

	// ResetBuf clears the buffer and the side tables.
	ResetBuf()

	// EmitByte appends a byte to the buffer. Used during the code emission.
	EmitByte(b byte)

	// Emit4Bytes appends 4 bytes to the buffer in little endian. Used during the code emission.
	Emit4Bytes(b uint32)

	// Emit8Bytes appends 8 bytes to the buffer in little endian. Used during the code emission.
	Emit8Bytes(b uint64)

	// EmitBytes appends the bytes to the buffer. Used during the code emission.
	EmitBytes(b []byte)

	// AddRelocation appends a relocation for the bytes at the current offset of the buffer.
	AddRelocation(kind RelocKind, name string, addend int64)

	// AddTrapSite records that the instruction at the current offset of the buffer may trap with code.
	AddTrapSite(code codegenapi.TrapCode)

	// AddUnwind appends an unwind record.
	AddUnwind(u UnwindInst)

	// AddStackMap records the stack slots holding live references at the current offset,
	// which is the return address of a call.
	AddStackMap(slots []uint32)

	// AllocateVReg allocates a new virtual register of the given type.
	AllocateVReg(typ ssa.Type) regalloc.VReg

	// VRegOf returns the virtual register of the given ssa.Value. For i128 values, this is the low half.
	VRegOf(value ssa.Value) regalloc.VReg

	// VRegsOf returns both halves of the virtual registers of an i128 value.
	VRegsOf(value ssa.Value) (lo, hi regalloc.VReg)

	// ValueDefinition returns the definition of the given value.
	ValueDefinition(ssa.Value) *SSAValueDefinition

	// MatchInstr returns true if the given definition is from an instruction with the given opcode, the current group ID,
	// and a refcount of 1. That means, the instruction can be merged/swapped within the current instruction group.
	MatchInstr(def *SSAValueDefinition, opcode ssa.Opcode) bool

	// MatchInstrOneOf is the same as MatchInstr but for multiple opcodes. If it matches one of ssa.Opcode,
	// this returns the opcode. Otherwise, this returns ssa.OpcodeInvalid.
	//
	// Note: caller should be careful to avoid excessive allocation on opcodes slice.
	MatchInstrOneOf(def *SSAValueDefinition, opcodes []ssa.Opcode) ssa.Opcode

	// GetFunctionABI returns the ABI information for the given signature.
	GetFunctionABI(sig *ssa.Signature) *FunctionABI

	// LiveRefsAcross returns the reference typed values live after the call returns.
	LiveRefsAcross(call *ssa.Instruction) []ssa.Value
}

// compiler implements Compiler.
type compiler struct {
	mach       Machine
	currentGID ssa.InstructionGroupID
	ssaBuilder ssa.Builder
	target     *target.Descriptor
	// nextVRegID is the next virtual register ID to be allocated.
	nextVRegID regalloc.VRegID
	// ssaValueToVRegs maps ssa.ValueID to regalloc.VReg.
	ssaValueToVRegs []regalloc.VReg
	// ssaValueToHiVRegs holds the high halves of i128 values.
	ssaValueToHiVRegs []regalloc.VReg
	// ssaValueDefinitions maps ssa.ValueID to its definition.
	ssaValueDefinitions []SSAValueDefinition
	varEdges     [][2]regalloc.VReg
	varEdgeTypes []ssa.Type
	constEdges   []struct {
		cInst *ssa.Instruction
		dst   regalloc.VReg
	}
	vRegSet  []bool
	vRegIDs  []regalloc.VRegID
	tmpVals  []ssa.Value
	abis     map[*ssa.Signature]*FunctionABI
	liveRefs map[*ssa.Instruction][]ssa.Value

	buf         []byte
	relocations []RelocationInfo
	trapSites   []TrapSite
	unwind      []UnwindInst
	stackMaps   []StackMap
}

// SSABuilder implements Compiler.SSABuilder.
func (c *compiler) SSABuilder() ssa.Builder {
	return c.ssaBuilder
}

// Target implements Compiler.Target.
func (c *compiler) Target() *target.Descriptor {
	return c.target
}

// Compile implements Compiler.Compile.
func (c *compiler) Compile(ctx context.Context) (*CompiledFunction, error) {
	if err := c.Lower(); err != nil {
		return nil, err
	}
	if err := c.RegAlloc(); err != nil {
		return nil, err
	}
	return c.Finalize(ctx)
}

// Lower implements Compiler.Lower.
func (c *compiler) Lower() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverCompileError("lower", r)
		}
	}()
	c.assignVirtualRegisters()
	c.liveRefs = computeLiveRefs(c.ssaBuilder)
	c.mach.StartLoweringFunction(c.ssaBuilder.MaxBlockID())
	c.lowerBlocks()
	c.mach.EndLoweringFunction()

	if codegenapi.PrintSSAToBackendIRLowering {
		fmt.Printf("[[[after lowering for %s ]]]%s\n", c.ssaBuilder.Name(), c.Format())
	}
	codegenapi.Trace(codegenapi.TopicLower, "lowered", "func", c.ssaBuilder.Name(),
		"arch", c.target.Arch, "vregs", int(c.nextVRegID-regalloc.VRegIDNonReservedBegin))
	return nil
}

// RegAlloc implements Compiler.RegAlloc.
func (c *compiler) RegAlloc() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverCompileError("regalloc", r)
		}
	}()
	if err := c.mach.RegAlloc(); err != nil {
		return &InternalError{Stage: "regalloc", Err: err}
	}
	if codegenapi.PrintRegisterAllocated {
		fmt.Printf("[[[after regalloc for %s]]]%s\n", c.ssaBuilder.Name(), c.Format())
	}
	return nil
}

// Finalize implements Compiler.Finalize.
func (c *compiler) Finalize(ctx context.Context) (f *CompiledFunction, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, err = nil, recoverCompileError("emit", r)
		}
	}()
	c.mach.PostRegAlloc()
	if codegenapi.PrintFinalizedMachineCode {
		fmt.Printf("[[[after finalize for %s]]]%s\n", c.ssaBuilder.Name(), c.Format())
	}

	c.ResetBuf()
	if err := c.mach.Encode(ctx); err != nil {
		return nil, err
	}
	if codegenapi.PrintMachineCodeHexPerFunction {
		fmt.Printf("[[[machine code for %s]]]%x\n", c.ssaBuilder.Name(), c.buf)
	}

	frameSize := c.mach.FrameSize()
	f = &CompiledFunction{
		Name:      c.ssaBuilder.Name(),
		Arch:      c.target.Arch,
		Code:      append([]byte(nil), c.buf...),
		Relocs:    append([]RelocationInfo(nil), c.relocations...),
		TrapSites: append([]TrapSite(nil), c.trapSites...),
		Unwind:    append([]UnwindInst(nil), c.unwind...),
		FrameSize: frameSize,
	}
	for _, sm := range c.stackMaps {
		sm.FrameSize = frameSize
		f.StackMaps = append(f.StackMaps, sm)
	}
	f.CFI = EncodeCFI(c.target.Arch, f.Unwind, len(f.Code))
	codegenapi.Trace(codegenapi.TopicEmit, "encoded", "func", f.Name, "arch", f.Arch,
		"bytes", len(f.Code), "relocs", len(f.Relocs), "traps", len(f.TrapSites))
	return f, nil
}

// setCurrentGroupID sets the current instruction group ID.
func (c *compiler) setCurrentGroupID(gid ssa.InstructionGroupID) {
	c.currentGID = gid
}

// assignVirtualRegisters assigns a virtual register to each ssa.ValueID Valid in the ssa.Builder.
func (c *compiler) assignVirtualRegisters() {
	builder := c.ssaBuilder
	refCounts := builder.ValueRefCounts()

	need := builder.NumValues()
	c.ssaValueToVRegs = resizeVRegs(c.ssaValueToVRegs, need)
	c.ssaValueToHiVRegs = resizeVRegs(c.ssaValueToHiVRegs, need)
	if cap(c.ssaValueDefinitions) < need {
		c.ssaValueDefinitions = make([]SSAValueDefinition, need)
	} else {
		c.ssaValueDefinitions = c.ssaValueDefinitions[:need]
		for i := range c.ssaValueDefinitions {
			c.ssaValueDefinitions[i] = SSAValueDefinition{}
		}
	}
	refCount := func(id ssa.ValueID) int {
		if int(id) < len(refCounts) {
			return refCounts[id]
		}
		return 0
	}

	for blk := builder.BlockIteratorReversePostOrderBegin(); blk != nil; blk = builder.BlockIteratorReversePostOrderNext() {
		// First we assign a virtual register to each parameter.
		for i := 0; i < blk.Params(); i++ {
			p := blk.Param(i)
			pid := p.ID()
			vreg := c.assignVRegsOf(p)
			c.ssaValueDefinitions[pid] = SSAValueDefinition{BlkParamVReg: vreg, RefCount: refCount(pid)}
		}

		// Assigns each value to a virtual register produced by instructions.
		for cur := blk.Root(); cur != nil; cur = cur.Next() {
			r, rs := cur.Returns()
			if r.Valid() {
				id := r.ID()
				c.assignVRegsOf(r)
				c.ssaValueDefinitions[id] = SSAValueDefinition{Instr: cur, N: 0, RefCount: refCount(id)}
			}
			for i, r := range rs {
				id := r.ID()
				c.assignVRegsOf(r)
				c.ssaValueDefinitions[id] = SSAValueDefinition{Instr: cur, N: i + 1, RefCount: refCount(id)}
			}
		}
	}
}

func (c *compiler) assignVRegsOf(v ssa.Value) regalloc.VReg {
	id := v.ID()
	if v.Type() == ssa.TypeI128 {
		c.ssaValueToVRegs[id] = c.AllocateVReg(ssa.TypeI64)
		c.ssaValueToHiVRegs[id] = c.AllocateVReg(ssa.TypeI64)
	} else {
		c.ssaValueToVRegs[id] = c.AllocateVReg(v.Type())
	}
	return c.ssaValueToVRegs[id]
}

func resizeVRegs(s []regalloc.VReg, n int) []regalloc.VReg {
	if cap(s) < n {
		s = make([]regalloc.VReg, n)
	}
	s = s[:n]
	for i := range s {
		s[i] = regalloc.VRegInvalid
	}
	return s
}

// AllocateVReg implements Compiler.AllocateVReg.
func (c *compiler) AllocateVReg(typ ssa.Type) regalloc.VReg {
	regType := regalloc.RegTypeOf(typ)
	r := regalloc.VReg(c.nextVRegID).SetRegType(regType)
	c.nextVRegID++
	return r
}

// Reset clears the state for the next function compiled with the same compiler.
func (c *compiler) Reset() {
	c.mach.Reset()
	c.nextVRegID = regalloc.VRegIDNonReservedBegin
	clear(c.abis)
	c.liveRefs = nil
	c.ResetBuf()
}

// Format implements Compiler.Format.
func (c *compiler) Format() string {
	return c.mach.Format()
}

// ValueDefinition implements Compiler.ValueDefinition.
func (c *compiler) ValueDefinition(value ssa.Value) *SSAValueDefinition {
	return &c.ssaValueDefinitions[value.ID()]
}

// VRegOf implements Compiler.VRegOf.
func (c *compiler) VRegOf(value ssa.Value) regalloc.VReg {
	return c.ssaValueToVRegs[value.ID()]
}

// VRegsOf implements Compiler.VRegsOf.
func (c *compiler) VRegsOf(value ssa.Value) (lo, hi regalloc.VReg) {
	id := value.ID()
	if value.Type() != ssa.TypeI128 {
		panic(fmt.Sprintf("BUG: VRegsOf on %s", value.Type()))
	}
	return c.ssaValueToVRegs[id], c.ssaValueToHiVRegs[id]
}

// MatchInstr implements Compiler.MatchInstr.
func (c *compiler) MatchInstr(def *SSAValueDefinition, opcode ssa.Opcode) bool {
	instr := def.Instr
	return def.IsFromInstr() &&
		instr.Opcode() == opcode &&
		instr.GroupID() == c.currentGID &&
		def.RefCount < 2
}

// MatchInstrOneOf implements Compiler.MatchInstrOneOf.
func (c *compiler) MatchInstrOneOf(def *SSAValueDefinition, opcodes []ssa.Opcode) ssa.Opcode {
	instr := def.Instr
	if !def.IsFromInstr() {
		return ssa.OpcodeInvalid
	}

	if instr.GroupID() != c.currentGID {
		return ssa.OpcodeInvalid
	}

	if def.RefCount >= 2 {
		return ssa.OpcodeInvalid
	}

	opcode := instr.Opcode()
	for _, op := range opcodes {
		if opcode == op {
			return opcode
		}
	}
	return ssa.OpcodeInvalid
}

// GetFunctionABI implements Compiler.GetFunctionABI.
func (c *compiler) GetFunctionABI(sig *ssa.Signature) *FunctionABI {
	if abi, ok := c.abis[sig]; ok {
		return abi
	}
	abi := &FunctionABI{}
	abi.Init(sig, c.mach.ArgsResultsRegs())
	c.abis[sig] = abi
	if codegenapi.Tracing(codegenapi.TopicABI) {
		codegenapi.Trace(codegenapi.TopicABI, "signature", "sig", sig.String(),
			"arg_stack", abi.ArgStackSize, "ret_stack", abi.RetStackSize, "ret_ptr", abi.RetPtr)
	}
	return abi
}

// LiveRefsAcross implements Compiler.LiveRefsAcross.
func (c *compiler) LiveRefsAcross(call *ssa.Instruction) []ssa.Value {
	return c.liveRefs[call]
}

// Buf implements Compiler.Buf.
func (c *compiler) Buf() []byte {
	return c.buf
}

// ResetBuf implements Compiler.ResetBuf.
func (c *compiler) ResetBuf() {
	c.buf = c.buf[:0]
	c.relocations = c.relocations[:0]
	c.trapSites = c.trapSites[:0]
	c.unwind = c.unwind[:0]
	c.stackMaps = c.stackMaps[:0]
}

// EmitByte implements Compiler.EmitByte.
func (c *compiler) EmitByte(b byte) {
	c.buf = append(c.buf, b)
}

// Emit4Bytes implements Compiler.Emit4Bytes.
func (c *compiler) Emit4Bytes(b uint32) {
	c.buf = binary.LittleEndian.AppendUint32(c.buf, b)
}

// Emit8Bytes implements Compiler.Emit8Bytes.
func (c *compiler) Emit8Bytes(b uint64) {
	c.buf = binary.LittleEndian.AppendUint64(c.buf, b)
}

// EmitBytes implements Compiler.EmitBytes.
func (c *compiler) EmitBytes(b []byte) {
	c.buf = append(c.buf, b...)
}

// AddRelocation implements Compiler.AddRelocation.
func (c *compiler) AddRelocation(kind RelocKind, name string, addend int64) {
	c.relocations = append(c.relocations, RelocationInfo{
		Offset: int64(len(c.buf)),
		Kind:   kind,
		Name:   name,
		Addend: addend,
	})
}

// AddTrapSite implements Compiler.AddTrapSite.
func (c *compiler) AddTrapSite(code codegenapi.TrapCode) {
	c.trapSites = append(c.trapSites, TrapSite{Offset: int64(len(c.buf)), Code: code})
}

// AddUnwind implements Compiler.AddUnwind.
func (c *compiler) AddUnwind(u UnwindInst) {
	c.unwind = append(c.unwind, u)
}

// AddStackMap implements Compiler.AddStackMap.
func (c *compiler) AddStackMap(slots []uint32) {
	c.stackMaps = append(c.stackMaps, StackMap{
		Offset: int64(len(c.buf)),
		Slots:  append([]uint32(nil), slots...),
	})
}
