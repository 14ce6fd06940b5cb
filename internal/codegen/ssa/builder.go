package ssa

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// Builder is used to builds SSA consisting of Basic Blocks per function.
type Builder interface {
	// Init must be called to reuse this builder for the next function.
	Init(typ *Signature)

	// Name returns the symbol name of the currently-compiled function.
	Name() string

	// SetName sets the symbol name of the currently-compiled function.
	SetName(name string)

	// Signature returns the Signature of the currently-compiled function.
	Signature() *Signature

	// Blocks returns the number of BasicBlocks(s) existing in the currently-compiled function.
	Blocks() int

	// MaxBlockID returns the upper bound (exclusive) of the IDs of the allocated blocks,
	// including the ones created by LayoutBlocks.
	MaxBlockID() BasicBlockID

	// NumValues returns the upper bound (exclusive) of the IDs of the allocated values.
	NumValues() int

	// AllocateBasicBlock creates a basic block in SSA function.
	AllocateBasicBlock() BasicBlock

	// EntryBlock returns the entry BasicBlock of the currently-compiled function.
	EntryBlock() BasicBlock

	// CurrentBlock returns the currently handled BasicBlock which is set by the latest call to SetCurrentBlock.
	CurrentBlock() BasicBlock

	// SetCurrentBlock sets the instruction insertion target to the BasicBlock `b`.
	SetCurrentBlock(b BasicBlock)

	// DeclareVariable declares a Variable of the given Type.
	DeclareVariable(Type) Variable

	// DefineVariable defines a variable in the `block` with value.
	// The defining instruction will be inserted into the `block`.
	DefineVariable(variable Variable, value Value, block BasicBlock)

	// DefineVariableInCurrentBB is the same as DefineVariable except the definition is
	// inserted into the current BasicBlock. Alias to DefineVariable(x, y, CurrentBlock()).
	DefineVariableInCurrentBB(variable Variable, value Value)

	// AllocateInstruction returns a new Instruction.
	AllocateInstruction() *Instruction

	// InsertInstruction executes BasicBlock.InsertInstruction for the currently handled basic block.
	InsertInstruction(raw *Instruction)

	// allocateValue allocates an unused Value.
	allocateValue(typ Type) Value

	// FindValue searches the latest definition of the given Variable and returns the result.
	FindValue(variable Variable) Value

	// Seal declares that we've known all the predecessors to this block and were added via AddPred.
	// After calling this, AddPred will be forbidden.
	Seal(blk BasicBlock)

	// AnnotateValue is for debugging purpose.
	AnnotateValue(value Value, annotation string)

	// DeclareSignature appends the *Signature to be referenced by various instructions (e.g. OpcodeCall).
	DeclareSignature(signature *Signature)

	// UsedSignatures returns the slice of Signatures which are used/referenced by the currently-compiled function.
	UsedSignatures() []*Signature

	// ResolveSignature returns the Signature which corresponds to SignatureID.
	ResolveSignature(id SignatureID) *Signature

	// DeclareFunction declares an external function referenced by OpcodeCall and OpcodeFuncAddr.
	DeclareFunction(data ExtFuncData) FuncRef

	// FunctionData returns the declaration of the FuncRef.
	FunctionData(ref FuncRef) *ExtFuncData

	// DeclareGlobalValue declares a GlobalValue.
	DeclareGlobalValue(data GlobalValueData) GlobalValue

	// GlobalValueData returns the declaration of the GlobalValue.
	GlobalValueData(gv GlobalValue) *GlobalValueData

	// DeclareHeap declares a Heap accessed via OpcodeHeapAddr.
	DeclareHeap(data HeapData) Heap

	// HeapData returns the declaration of the Heap.
	HeapData(h Heap) *HeapData

	// DeclareTable declares a Table accessed via OpcodeTableAddr.
	DeclareTable(data TableData) Table

	// TableData returns the declaration of the Table.
	TableData(t Table) *TableData

	// CreateStackSlot declares an explicit stack slot in the frame.
	CreateStackSlot(data StackSlotData) StackSlot

	// StackSlotData returns the declaration of the StackSlot.
	StackSlotData(s StackSlot) *StackSlotData

	// StackSlots returns the number of stack slots declared.
	StackSlots() int

	// Verify checks that the function is well-formed, and returns *ValidationError otherwise.
	Verify() error

	// Legalize expands the instructions which are not handled by the optimizer and backends, like heap accesses.
	Legalize(opts LegalizeOptions) error

	// RunPasses runs various passes on the constructed SSA function.
	RunPasses(opts PassOptions) error

	// Format returns the debugging string of the SSA function.
	Format() string

	// BlockIteratorBegin initializes the state to iterate over all the valid BasicBlock(s) compiled.
	// Combined with BlockIteratorNext, we can use this like:
	//
	// 	for blk := builder.BlockIteratorBegin(); blk != nil; blk = builder.BlockIteratorNext() {
	// 		// ...
	//	}
	//
	// The returned blocks are ordered in the order of AllocateBasicBlock being called.
	BlockIteratorBegin() BasicBlock

	// BlockIteratorNext advances the state for iteration initialized by BlockIteratorBegin.
	// Returns nil if there's no unseen BasicBlock.
	BlockIteratorNext() BasicBlock

	// ValueRefCounts returns the map of ValueID to its reference count.
	// The returned slice must not be modified.
	ValueRefCounts() []int

	// InstructionOfValue returns the instruction which produces the given Value, or nil
	// if the Value is a block parameter. This is available after RunPasses.
	InstructionOfValue(v Value) *Instruction

	// LayoutBlocks layouts the BasicBlock(s) so that backend can easily generate the code.
	// During its process, it splits the critical edges in the function.
	// This must be called after RunPasses. Otherwise, it panics.
	//
	// The resulting order is available via BlockIteratorReversePostOrderBegin and BlockIteratorReversePostOrderNext.
	LayoutBlocks()

	// BlockIteratorReversePostOrderBegin is almost the same as BlockIteratorBegin except it returns the BasicBlock in the reverse post-order.
	// This is available after RunPasses is run.
	BlockIteratorReversePostOrderBegin() BasicBlock

	// BlockIteratorReversePostOrderNext is almost the same as BlockIteratorPostOrderNext except it returns the BasicBlock in the reverse post-order.
	// This is available after RunPasses is run.
	BlockIteratorReversePostOrderNext() BasicBlock

	// Idom returns the immediate dominator of the block, or nil for the entry block.
	Idom(blk BasicBlock) BasicBlock

	// Dominates returns true if `d` dominates `n`. Every block dominates itself.
	Dominates(d, n BasicBlock) bool

	// LoopDepth returns the number of loops containing the block.
	LoopDepth(blk BasicBlock) int

	// DominatorTreePreorder returns the reachable blocks in the preorder of the dominator tree.
	DominatorTreePreorder() []BasicBlock
}

// NewBuilder returns a new Builder implementation.
func NewBuilder() Builder {
	return &builder{
		instructionsPool:               codegenapi.NewPool[Instruction](),
		basicBlocksPool:                codegenapi.NewPool[basicBlock](),
		valueAnnotations:               make(map[ValueID]string),
		signatures:                     make(map[SignatureID]*Signature),
		blkVisited:                     make(map[*basicBlock]int),
		valueIDAliases:                 make(map[ValueID]Value),
		redundantParameterIndexToValue: make(map[int]Value),
	}
}

// builder implements Builder interface.
type builder struct {
	basicBlocksPool  codegenapi.Pool[basicBlock]
	instructionsPool codegenapi.Pool[Instruction]
	signatures       map[SignatureID]*Signature
	currentSignature *Signature
	name             string

	funcs   []ExtFuncData
	globals []GlobalValueData
	heaps   []HeapData
	tables  []TableData
	slots   []StackSlotData

	// reversePostOrderedBasicBlocks are the BasicBlock(s) ordered in the reverse post-order after passCalculateImmediateDominators.
	reversePostOrderedBasicBlocks []*basicBlock
	currentBB                     *basicBlock

	// variables track the types for Variable with the index regarded Variable.
	variables []Type
	// nextValueID is used by builder.AllocateValue.
	nextValueID ValueID
	// nextVariable is used by builder.AllocateVariable.
	nextVariable Variable

	valueIDAliases   map[ValueID]Value
	valueAnnotations map[ValueID]string

	// valueRefCounts is used to lower the SSA in backend, and will be calculated
	// by the last SSA-level optimization pass.
	valueRefCounts []int

	// dominators stores the immediate dominator of each BasicBlock.
	// The index is blockID of the BasicBlock.
	dominators []*basicBlock
	// domPreorder is the preorder of the dominator tree.
	domPreorder []*basicBlock
	// loops is the loop nesting forest. Parents always precede their children.
	loops []loop

	// The followings are used for optimization passes.
	instStack                      []*Instruction
	blkVisited                     map[*basicBlock]int
	valueIDToInstruction           []*Instruction
	blkStack                       []*basicBlock
	blkStack2                      []*basicBlock
	ints                           []int
	redundantParameterIndexToValue map[int]Value

	// blockIterCur is used to implement blockIteratorBegin and blockIteratorNext.
	blockIterCur int

	// donePasses is true if RunPasses is called.
	donePasses bool
	// doneBlockLayout is true if LayoutBlocks is called.
	doneBlockLayout bool
}

// Init implements Builder.Init.
func (b *builder) Init(s *Signature) {
	b.currentSignature = s
	b.name = ""
	b.instructionsPool.Reset()
	b.donePasses = false
	b.doneBlockLayout = false
	for _, sig := range b.signatures {
		sig.used = false
	}
	b.funcs = b.funcs[:0]
	b.globals = b.globals[:0]
	b.heaps = b.heaps[:0]
	b.tables = b.tables[:0]
	b.slots = b.slots[:0]
	b.loops = b.loops[:0]
	b.domPreorder = b.domPreorder[:0]

	b.ints = b.ints[:0]
	b.blkStack = b.blkStack[:0]
	b.blkStack2 = b.blkStack2[:0]
	b.dominators = b.dominators[:0]

	for i := 0; i < b.basicBlocksPool.Allocated(); i++ {
		blk := b.basicBlocksPool.View(i)
		blk.reset()
		delete(b.blkVisited, blk)
	}
	b.basicBlocksPool.Reset()

	for i := Variable(0); i < b.nextVariable; i++ {
		b.variables[i] = typeInvalid
	}

	for v := ValueID(0); v < b.nextValueID; v++ {
		delete(b.valueAnnotations, v)
		delete(b.valueIDAliases, v)
		if int(v) < len(b.valueRefCounts) {
			b.valueRefCounts[v] = 0
		}
		if int(v) < len(b.valueIDToInstruction) {
			b.valueIDToInstruction[v] = nil
		}
	}
	b.nextValueID = 0
	b.reversePostOrderedBasicBlocks = b.reversePostOrderedBasicBlocks[:0]
}

// Name implements Builder.Name.
func (b *builder) Name() string {
	return b.name
}

// SetName implements Builder.SetName.
func (b *builder) SetName(name string) {
	b.name = name
}

// Signature implements Builder.Signature.
func (b *builder) Signature() *Signature {
	return b.currentSignature
}

// AnnotateValue implements Builder.AnnotateValue.
func (b *builder) AnnotateValue(value Value, a string) {
	b.valueAnnotations[value.ID()] = a
}

// AllocateInstruction implements Builder.AllocateInstruction.
func (b *builder) AllocateInstruction() *Instruction {
	instr := b.instructionsPool.Allocate()
	instr.reset()
	instr.id = b.instructionsPool.Allocated()
	return instr
}

// DeclareSignature implements Builder.AnnotateValue.
func (b *builder) DeclareSignature(s *Signature) {
	b.signatures[s.ID] = s
	s.used = false
}

// UsedSignatures implements Builder.UsedSignatures.
func (b *builder) UsedSignatures() (ret []*Signature) {
	for _, sig := range b.signatures {
		if sig.used {
			ret = append(ret, sig)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})

	return
}

// ResolveSignature implements Builder.ResolveSignature.
func (b *builder) ResolveSignature(id SignatureID) *Signature {
	return b.signatures[id]
}

// DeclareFunction implements Builder.DeclareFunction.
func (b *builder) DeclareFunction(data ExtFuncData) FuncRef {
	b.funcs = append(b.funcs, data)
	return FuncRef(len(b.funcs) - 1)
}

// FunctionData implements Builder.FunctionData.
func (b *builder) FunctionData(ref FuncRef) *ExtFuncData {
	return &b.funcs[ref]
}

// DeclareGlobalValue implements Builder.DeclareGlobalValue.
func (b *builder) DeclareGlobalValue(data GlobalValueData) GlobalValue {
	if data.Type.invalid() {
		data.Type = TypeI64
	}
	b.globals = append(b.globals, data)
	return GlobalValue(len(b.globals) - 1)
}

// GlobalValueData implements Builder.GlobalValueData.
func (b *builder) GlobalValueData(gv GlobalValue) *GlobalValueData {
	return &b.globals[gv]
}

// DeclareHeap implements Builder.DeclareHeap.
func (b *builder) DeclareHeap(data HeapData) Heap {
	if data.IndexType.invalid() {
		data.IndexType = TypeI32
	}
	b.heaps = append(b.heaps, data)
	return Heap(len(b.heaps) - 1)
}

// HeapData implements Builder.HeapData.
func (b *builder) HeapData(h Heap) *HeapData {
	return &b.heaps[h]
}

// DeclareTable implements Builder.DeclareTable.
func (b *builder) DeclareTable(data TableData) Table {
	if data.IndexType.invalid() {
		data.IndexType = TypeI32
	}
	b.tables = append(b.tables, data)
	return Table(len(b.tables) - 1)
}

// TableData implements Builder.TableData.
func (b *builder) TableData(t Table) *TableData {
	return &b.tables[t]
}

// CreateStackSlot implements Builder.CreateStackSlot.
func (b *builder) CreateStackSlot(data StackSlotData) StackSlot {
	b.slots = append(b.slots, data)
	return StackSlot(len(b.slots) - 1)
}

// StackSlotData implements Builder.StackSlotData.
func (b *builder) StackSlotData(s StackSlot) *StackSlotData {
	return &b.slots[s]
}

// StackSlots implements Builder.StackSlots.
func (b *builder) StackSlots() int {
	return len(b.slots)
}

// AllocateBasicBlock implements Builder.AllocateBasicBlock.
func (b *builder) AllocateBasicBlock() BasicBlock {
	return b.allocateBasicBlock()
}

// allocateBasicBlock allocates a new basicBlock.
func (b *builder) allocateBasicBlock() *basicBlock {
	id := BasicBlockID(b.basicBlocksPool.Allocated())
	blk := b.basicBlocksPool.Allocate()
	blk.id = id
	blk.reversePostOrder = -1
	blk.loop = -1
	blk.lastDefinitions = make(map[Variable]Value)
	return blk
}

// EntryBlock implements Builder.EntryBlock.
func (b *builder) EntryBlock() BasicBlock {
	return b.entryBlk()
}

// InsertInstruction implements Builder.InsertInstruction.
func (b *builder) InsertInstruction(instr *Instruction) {
	b.currentBB.InsertInstruction(instr)
	b.allocateResults(instr)
}

// allocateResults allocates the result values of the instruction.
func (b *builder) allocateResults(instr *Instruction) {
	resultTypesFn := instructionReturnTypes[instr.opcode]
	if resultTypesFn == nil {
		panic("BUG: no result types for " + instr.Format(b))
	}

	t1, ts := resultTypesFn(b, instr)
	if t1.invalid() {
		return
	}

	r1 := b.allocateValue(t1)
	instr.rValue = r1

	tsl := len(ts)
	if tsl == 0 {
		return
	}

	instr.rValues = make([]Value, tsl)
	for i := 0; i < tsl; i++ {
		instr.rValues[i] = b.allocateValue(ts[i])
	}
}

// DefineVariable implements Builder.DefineVariable.
func (b *builder) DefineVariable(variable Variable, value Value, block BasicBlock) {
	if b.variables[variable].invalid() {
		panic("BUG: trying to define variable " + variable.String() + " but is not declared yet")
	}

	bb := block.(*basicBlock)
	bb.lastDefinitions[variable] = value
}

// DefineVariableInCurrentBB implements Builder.DefineVariableInCurrentBB.
func (b *builder) DefineVariableInCurrentBB(variable Variable, value Value) {
	b.DefineVariable(variable, value, b.currentBB)
}

// SetCurrentBlock implements Builder.SetCurrentBlock.
func (b *builder) SetCurrentBlock(bb BasicBlock) {
	b.currentBB = bb.(*basicBlock)
}

// CurrentBlock implements Builder.CurrentBlock.
func (b *builder) CurrentBlock() BasicBlock {
	return b.currentBB
}

// DeclareVariable implements Builder.DeclareVariable.
func (b *builder) DeclareVariable(typ Type) Variable {
	v := b.allocateVariable()
	iv := int(v)
	if l := len(b.variables); l <= iv {
		b.variables = append(b.variables, make([]Type, 2*(l+1))...)
	}
	b.variables[v] = typ
	return v
}

// allocateVariable allocates a new variable.
func (b *builder) allocateVariable() (ret Variable) {
	ret = b.nextVariable
	b.nextVariable++
	return
}

// allocateValue implements Builder.AllocateValue.
func (b *builder) allocateValue(typ Type) (v Value) {
	v = Value(b.nextValueID)
	v = v.setType(typ)
	b.nextValueID++
	return
}

// FindValue implements Builder.FindValue.
func (b *builder) FindValue(variable Variable) Value {
	typ := b.definedVariableType(variable)
	return b.findValue(typ, variable, b.currentBB)
}

// findValue recursively tries to find the latest definition of a `variable`. The algorithm is described in
// the section 2 of the paper https://link.springer.com/content/pdf/10.1007/978-3-642-37051-9_6.pdf.
func (b *builder) findValue(typ Type, variable Variable, blk *basicBlock) Value {
	if val, ok := blk.lastDefinitions[variable]; ok {
		// The value is already defined in this block!
		return val
	} else if !blk.sealed { // Incomplete CFG as in the paper.
		// If this is not sealed, that means it might have additional unknown predecessor later on.
		// So we temporarily define the placeholder value here (not add as a parameter yet!),
		// and record it as unknown.
		// The unknown values are resolved when we call seal this block via BasicBlock.Seal().
		value := b.allocateValue(typ)
		blk.lastDefinitions[variable] = value
		blk.unknownValues = append(blk.unknownValues, unknownValue{variable: variable, value: value})
		return value
	}

	if pred := blk.singlePred; pred != nil {
		// If this block is sealed and have only one predecessor,
		// we can use the value in that block without ambiguity on definition.
		return b.findValue(typ, variable, pred)
	}

	// If this block has multiple predecessors, we have to gather the definitions,
	// and treat them as an argument to this block. So the first thing we do now is
	// define a new parameter to this block which may or may not be redundant, but
	// later we eliminate trivial params in an optimization pass.
	paramValue := blk.AddParam(b, typ)
	b.DefineVariable(variable, paramValue, blk)
	// After the new param is added, we have to manipulate the original branching instructions
	// in predecessors so that they would pass the definition of `variable` as the argument to
	// the newly added PHI.
	for i := range blk.preds {
		pred := &blk.preds[i]
		// Find the definition in the predecessor recursively.
		value := b.findValue(typ, variable, pred.blk)
		pred.branch.addArgumentBranchInst(value)
	}
	return paramValue
}

// Seal implements Builder.Seal.
func (b *builder) Seal(raw BasicBlock) {
	blk := raw.(*basicBlock)
	if len(blk.preds) == 1 {
		blk.singlePred = blk.preds[0].blk
	}
	blk.sealed = true

	for _, unknown := range blk.unknownValues {
		typ := b.definedVariableType(unknown.variable)
		blk.addParamOn(typ, unknown.value)
		for i := range blk.preds {
			pred := &blk.preds[i]
			predValue := b.findValue(typ, unknown.variable, pred.blk)
			pred.branch.addArgumentBranchInst(predValue)
		}
	}
}

// definedVariableType returns the type of the given variable. If the variable is not defined yet, it panics.
func (b *builder) definedVariableType(variable Variable) Type {
	typ := b.variables[variable]
	if typ.invalid() {
		panic(fmt.Sprintf("%s is not defined yet", variable))
	}
	return typ
}

// Format implements Builder.Format.
func (b *builder) Format() string {
	str := strings.Builder{}
	usedSigs := b.UsedSignatures()
	if len(usedSigs) > 0 {
		str.WriteByte('\n')
		str.WriteString("signatures:\n")
		for _, sig := range usedSigs {
			str.WriteByte('\t')
			str.WriteString(sig.String())
			str.WriteByte('\n')
		}
	}
	if len(b.funcs)+len(b.globals)+len(b.heaps)+len(b.tables)+len(b.slots) > 0 {
		str.WriteByte('\n')
		for i := range b.slots {
			fmt.Fprintf(&str, "\t%s = %s\n", StackSlot(i), &b.slots[i])
		}
		for i := range b.globals {
			fmt.Fprintf(&str, "\t%s = %s\n", GlobalValue(i), &b.globals[i])
		}
		for i := range b.heaps {
			fmt.Fprintf(&str, "\t%s = %s\n", Heap(i), &b.heaps[i])
		}
		for i := range b.tables {
			fmt.Fprintf(&str, "\t%s = %s\n", Table(i), &b.tables[i])
		}
		for i := range b.funcs {
			f := &b.funcs[i]
			colocated := ""
			if f.Colocated {
				colocated = "colocated "
			}
			fmt.Fprintf(&str, "\t%s = %s%%%s %s\n", FuncRef(i), colocated, f.Name, f.Sig)
		}
	}

	var iterBegin, iterNext func() *basicBlock
	if b.doneBlockLayout {
		iterBegin, iterNext = b.blockIteratorReversePostOrderBegin, b.blockIteratorReversePostOrderNext
	} else {
		iterBegin, iterNext = b.blockIteratorBegin, b.blockIteratorNext
	}
	for bb := iterBegin(); bb != nil; bb = iterNext() {
		str.WriteByte('\n')
		str.WriteString(bb.FormatHeader(b))
		str.WriteByte('\n')

		for cur := bb.Root(); cur != nil; cur = cur.Next() {
			str.WriteByte('\t')
			str.WriteString(cur.Format(b))
			str.WriteByte('\n')
		}
	}
	return str.String()
}

// BlockIteratorNext implements Builder.BlockIteratorNext.
func (b *builder) BlockIteratorNext() BasicBlock {
	if blk := b.blockIteratorNext(); blk == nil {
		return nil // BasicBlock((*basicBlock)(nil)) != BasicBlock(nil)
	} else {
		return blk
	}
}

// BlockIteratorNext implements Builder.BlockIteratorNext.
func (b *builder) blockIteratorNext() *basicBlock {
	index := b.blockIterCur
	for {
		if index == b.basicBlocksPool.Allocated() {
			return nil
		}
		ret := b.basicBlocksPool.View(index)
		index++
		if !ret.invalid {
			b.blockIterCur = index
			return ret
		}
	}
}

// BlockIteratorBegin implements Builder.BlockIteratorBegin.
func (b *builder) BlockIteratorBegin() BasicBlock {
	return b.blockIteratorBegin()
}

// BlockIteratorBegin implements Builder.BlockIteratorBegin.
func (b *builder) blockIteratorBegin() *basicBlock {
	b.blockIterCur = 0
	return b.blockIteratorNext()
}

// BlockIteratorReversePostOrderBegin implements Builder.BlockIteratorReversePostOrderBegin.
func (b *builder) BlockIteratorReversePostOrderBegin() BasicBlock {
	return b.blockIteratorReversePostOrderBegin()
}

// BlockIteratorBegin implements Builder.BlockIteratorBegin.
func (b *builder) blockIteratorReversePostOrderBegin() *basicBlock {
	b.blockIterCur = 0
	return b.blockIteratorReversePostOrderNext()
}

// BlockIteratorReversePostOrderNext implements Builder.BlockIteratorReversePostOrderNext.
func (b *builder) BlockIteratorReversePostOrderNext() BasicBlock {
	if blk := b.blockIteratorReversePostOrderNext(); blk == nil {
		return nil // BasicBlock((*basicBlock)(nil)) != BasicBlock(nil)
	} else {
		return blk
	}
}

// BlockIteratorNext implements Builder.BlockIteratorNext.
func (b *builder) blockIteratorReversePostOrderNext() *basicBlock {
	if b.blockIterCur >= len(b.reversePostOrderedBasicBlocks) {
		return nil
	} else {
		ret := b.reversePostOrderedBasicBlocks[b.blockIterCur]
		b.blockIterCur++
		return ret
	}
}

// ValueRefCounts implements Builder.ValueRefCounts.
func (b *builder) ValueRefCounts() []int {
	return b.valueRefCounts
}

// InstructionOfValue implements Builder.InstructionOfValue.
func (b *builder) InstructionOfValue(v Value) *Instruction {
	if id := int(v.ID()); id < len(b.valueIDToInstruction) {
		return b.valueIDToInstruction[id]
	}
	return nil
}

// alias records the alias of the given values. The alias(es) will be
// eliminated in the optimization pass via resolveArgumentAlias.
func (b *builder) alias(dst, src Value) {
	b.valueIDAliases[dst.ID()] = src
}

// resolveArgumentAlias resolves the alias of the arguments of the given instruction.
func (b *builder) resolveArgumentAlias(instr *Instruction) {
	instr.forEachArg(func(v *Value) {
		*v = b.resolveAlias(*v)
	})
}

// resolveAlias resolves the alias of the given value.
func (b *builder) resolveAlias(v Value) Value {
	// Some aliases are chained, so we need to resolve them recursively.
	for {
		if src, ok := b.valueIDAliases[v.ID()]; ok {
			v = src
		} else {
			break
		}
	}
	return v
}

// entryBlk returns the entry block of the function.
func (b *builder) entryBlk() *basicBlock {
	return b.basicBlocksPool.View(0)
}

// isDominatedBy returns true if the given block `n` is dominated by the given block `d`.
// Before calling this, the builder must pass by passCalculateImmediateDominators.
func (b *builder) isDominatedBy(n *basicBlock, d *basicBlock) bool {
	if len(b.dominators) == 0 {
		panic("BUG: passCalculateImmediateDominators must be called before calling isDominatedBy")
	}
	ent := b.entryBlk()
	doms := b.dominators
	for n != d && n != ent {
		n = doms[n.id]
	}
	return n == d
}

// Idom implements Builder.Idom.
func (b *builder) Idom(blk BasicBlock) BasicBlock {
	bb := blk.(*basicBlock)
	if bb.EntryBlock() || int(bb.id) >= len(b.dominators) || b.dominators[bb.id] == nil {
		return nil
	}
	return b.dominators[bb.id]
}

// Dominates implements Builder.Dominates.
func (b *builder) Dominates(d, n BasicBlock) bool {
	return b.isDominatedBy(n.(*basicBlock), d.(*basicBlock))
}

// LoopDepth implements Builder.LoopDepth.
func (b *builder) LoopDepth(blk BasicBlock) int {
	l := blk.(*basicBlock).loop
	if l < 0 {
		return 0
	}
	return b.loops[l].depth
}

// DominatorTreePreorder implements Builder.DominatorTreePreorder.
func (b *builder) DominatorTreePreorder() []BasicBlock {
	ret := make([]BasicBlock, len(b.domPreorder))
	for i, blk := range b.domPreorder {
		ret[i] = blk
	}
	return ret
}

// Blocks implements Builder.Blocks.
func (b *builder) Blocks() int {
	return len(b.reversePostOrderedBasicBlocks)
}

// MaxBlockID implements Builder.MaxBlockID.
func (b *builder) MaxBlockID() BasicBlockID {
	return BasicBlockID(b.basicBlocksPool.Allocated())
}

// NumValues implements Builder.NumValues.
func (b *builder) NumValues() int {
	return int(b.nextValueID)
}
