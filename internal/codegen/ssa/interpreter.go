package ssa

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// CallHandler runs the callee named by a Call or CallIndirect on behalf of an Interpreter.
type CallHandler func(name string, args []DataValue) ([]DataValue, error)

// ErrStepLimit is returned by Interpreter.Run when the function runs longer than the step limit.
var ErrStepLimit = errors.New("interpreter step limit exceeded")

const (
	interpreterNullPageSize  = 4096
	interpreterStackBase     = 0x7fff_0000_0000
	interpreterFuncAddrBase  = 0x7ffe_0000_0000
	interpreterDefaultLimit  = 1_000_000
	interpreterFuncAddrAlign = 16
)

type memoryRegion struct {
	base uint64
	data []byte
}

// Interpreter executes the function held by a Builder. It defines the reference semantics
// which the optimized and the compiled code must agree with.
type Interpreter struct {
	b       *builder
	regions []memoryRegion
	symbols map[string]uint64
	calls   CallHandler
	limit   int

	values []DataValue
	steps  int
}

// NewInterpreter returns an Interpreter of the function in b.
func NewInterpreter(b Builder) *Interpreter {
	return &Interpreter{b: b.(*builder), symbols: map[string]uint64{}, limit: interpreterDefaultLimit}
}

// MapMemory makes data accessible at [base, base+len(data)). Accesses outside of the
// mapped regions trap with heap_oob.
func (in *Interpreter) MapMemory(base uint64, data []byte) {
	in.regions = append(in.regions, memoryRegion{base: base, data: data})
}

// DefineSymbol sets the address of the symbol referenced by the global values.
func (in *Interpreter) DefineSymbol(name string, addr uint64) {
	in.symbols[name] = addr
}

// SetCallHandler sets the handler of the calls.
func (in *Interpreter) SetCallHandler(h CallHandler) {
	in.calls = h
}

// SetStepLimit bounds the number of executed instructions.
func (in *Interpreter) SetStepLimit(n int) {
	in.limit = n
}

// Run executes the function with the arguments, and returns the results.
// A trap is reported as *TrapError.
func (in *Interpreter) Run(args ...DataValue) ([]DataValue, error) {
	b := in.b
	in.steps = 0
	in.values = make([]DataValue, b.nextValueID)

	// The stack slots live in a fresh region for this call.
	var frameSize uint64
	slotBase := make([]uint64, len(b.slots))
	for i := range b.slots {
		s := &b.slots[i]
		align := uint64(1) << s.AlignLog2
		frameSize = (frameSize + align - 1) &^ (align - 1)
		slotBase[i] = interpreterStackBase + frameSize
		frameSize += uint64(s.Size)
	}
	frame := make([]byte, frameSize)
	regions := in.regions
	in.regions = append(in.regions[:len(in.regions):len(in.regions)], memoryRegion{base: interpreterStackBase, data: frame})
	defer func() { in.regions = regions }()

	entry := b.entryBlk()
	if len(args) != len(entry.params) {
		return nil, fmt.Errorf("expected %d arguments but got %d", len(entry.params), len(args))
	}
	for i := range entry.params {
		in.values[entry.params[i].value.ID()] = args[i]
	}
	return in.runFrom(entry, slotBase)
}

func (in *Interpreter) value(v Value) DataValue {
	return in.values[in.b.resolveAlias(v).ID()]
}

func (in *Interpreter) setValue(v Value, d DataValue) {
	in.values[v.ID()] = d
}

func (in *Interpreter) runFrom(blk *basicBlock, slotBase []uint64) ([]DataValue, error) {
	for {
		var next *basicBlock
		var nextArgs []Value
	instructions:
		for cur := blk.rootInstr; cur != nil; cur = cur.next {
			in.steps++
			if in.steps > in.limit {
				return nil, ErrStepLimit
			}
			switch op := cur.opcode; op {
			case OpcodeJump:
				_, nextArgs, _ = cur.BranchData()
				next = cur.blk.(*basicBlock)
				break instructions
			case OpcodeBrz, OpcodeBrnz:
				c, args, target := cur.BranchData()
				if in.value(c).Bool() == (op == OpcodeBrnz) {
					next, nextArgs = target.(*basicBlock), args
					break instructions
				}
			case OpcodeBrTable:
				index, def, targets := cur.BrTableData()
				i := in.value(index).Lo
				if i < uint64(len(targets)) {
					next = targets[i].(*basicBlock)
				} else {
					next = def.(*basicBlock)
				}
				break instructions
			case OpcodeReturn:
				return in.collect(cur.ReturnVals()), nil
			case OpcodeTrap:
				return nil, &TrapError{Code: cur.TrapCode()}
			case OpcodeTrapz, OpcodeTrapnz:
				if in.value(cur.v).Bool() == (op == OpcodeTrapnz) {
					return nil, &TrapError{Code: cur.TrapCode()}
				}
			case OpcodeCall, OpcodeCallIndirect, OpcodeReturnCall, OpcodeReturnCallIndirect:
				results, err := in.call(cur)
				if err != nil {
					return nil, err
				}
				if op == OpcodeReturnCall || op == OpcodeReturnCallIndirect {
					return results, nil
				}
				in.setResults(cur, results)
			case OpcodeUndefined:
				return nil, fmt.Errorf("reached undefined instruction in %s", blk.Name())
			default:
				if err := in.exec(cur, slotBase); err != nil {
					return nil, err
				}
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%s ended without a terminator", blk.Name())
		}
		// Block arguments are assigned in parallel.
		vals := in.collect(nextArgs)
		for i := range next.params {
			in.setValue(next.params[i].value, vals[i])
		}
		blk = next
	}
}

func (in *Interpreter) collect(vs []Value) []DataValue {
	ret := make([]DataValue, len(vs))
	for i, v := range vs {
		ret[i] = in.value(v)
	}
	return ret
}

func (in *Interpreter) setResults(instr *Instruction, results []DataValue) {
	r, rs := instr.Returns()
	if r.Valid() && len(results) > 0 {
		in.setValue(r, results[0])
	}
	for i, v := range rs {
		in.setValue(v, results[i+1])
	}
}

func (in *Interpreter) call(instr *Instruction) ([]DataValue, error) {
	var name string
	var args []Value
	switch instr.opcode {
	case OpcodeCall, OpcodeReturnCall:
		var ref FuncRef
		ref, _, args = instr.CallData()
		name = in.b.FunctionData(ref).Name
	default:
		var ptr Value
		ptr, _, args = instr.CallIndirectData()
		addr := in.value(ptr).Lo
		if addr == 0 {
			return nil, &TrapError{Code: codegenapi.TrapCodeIndirectCallToNull}
		}
		ref := (addr - interpreterFuncAddrBase) / interpreterFuncAddrAlign
		if addr < interpreterFuncAddrBase || int(ref) >= len(in.b.funcs) {
			return nil, fmt.Errorf("call to unknown address %#x", addr)
		}
		name = in.b.FunctionData(FuncRef(ref)).Name
	}
	if in.calls == nil {
		return nil, fmt.Errorf("no call handler for %s", name)
	}
	return in.calls(name, in.collect(args))
}

func (in *Interpreter) exec(instr *Instruction, slotBase []uint64) error {
	b := in.b
	switch op := instr.opcode; {
	case op == OpcodeGlobalValue:
		d, err := in.globalValue(instr.GlobalValueData())
		if err != nil {
			return err
		}
		in.setValue(instr.rValue, DataValueOf(instr.typ, d))
	case op == OpcodeFuncAddr:
		in.setValue(instr.rValue, DataValueI64(interpreterFuncAddrBase+uint64(instr.FuncAddrData())*interpreterFuncAddrAlign))
	case op == OpcodeStackAddr:
		slot, off := instr.StackSlotData()
		in.setValue(instr.rValue, DataValueI64(slotBase[slot]+uint64(off)))
	case op == OpcodeStackLoad:
		slot, off := instr.StackSlotData()
		d, err := in.load(OpcodeLoad, instr.typ, slotBase[slot]+uint64(off))
		if err != nil {
			return err
		}
		in.setValue(instr.rValue, d)
	case op == OpcodeStackStore:
		slot, off := instr.StackSlotData()
		return in.store(OpcodeStore, in.value(instr.v), slotBase[slot]+uint64(off))
	case op.IsLoad():
		ptr, off, typ, _ := instr.LoadData()
		d, err := in.load(op, typ, in.value(ptr).Lo+uint64(int64(off)))
		if err != nil {
			return err
		}
		in.setValue(instr.rValue, d)
	case op.IsStore():
		value, ptr, off, _, _ := instr.StoreData()
		return in.store(op, in.value(value), in.value(ptr).Lo+uint64(int64(off)))
	case op == OpcodeHeapAddr:
		heap, index, offset, size := instr.HeapAddrData()
		data := b.HeapData(heap)
		base, err := in.globalValue(data.Base)
		if err != nil {
			return err
		}
		bound := data.Bound
		if data.BoundKind == HeapBoundDynamic {
			if bound, err = in.globalValue(data.DynamicBound); err != nil {
				return err
			}
		}
		idx := truncate(in.value(index).Lo, index.Type().Bits())
		end := idx + uint64(offset) + uint64(size)
		if end < idx || end > bound {
			return &TrapError{Code: codegenapi.TrapCodeHeapOutOfBounds}
		}
		in.setValue(instr.rValue, DataValueI64(base+idx+uint64(offset)))
	case op == OpcodeTableAddr:
		table, index, offset := instr.TableAddrData()
		data := b.TableData(table)
		base, err := in.globalValue(data.Base)
		if err != nil {
			return err
		}
		bound, err := in.globalValue(data.Bound)
		if err != nil {
			return err
		}
		idx := truncate(in.value(index).Lo, index.Type().Bits())
		if idx >= bound {
			return &TrapError{Code: codegenapi.TrapCodeTableOutOfBounds}
		}
		in.setValue(instr.rValue, DataValueI64(base+idx*data.ElementSize+uint64(int64(offset))))
	case op == OpcodeIsplit:
		x := in.value(instr.v)
		in.setValue(instr.rValue, DataValueI64(x.Lo))
		in.setValue(instr.rValues[0], DataValueI64(x.Hi))
	default:
		var args [3]DataValue
		n := 0
		for _, v := range [...]Value{instr.v, instr.v2, instr.v3} {
			if !v.Valid() {
				break
			}
			args[n] = in.value(v)
			n++
		}
		d, err := evalOp(op, instr.typ, instr.u1, instr.u2, args[:n])
		if err != nil {
			if errors.Is(err, errUnsupported) {
				return fmt.Errorf("cannot interpret %s: %w", instr.Format(b), err)
			}
			return err
		}
		in.setValue(instr.rValue, d)
	}
	return nil
}

func (in *Interpreter) globalValue(gv GlobalValue) (uint64, error) {
	b := in.b
	data := b.GlobalValueData(gv)
	switch data.Kind {
	case GlobalValueKindVMContext:
		i := b.currentSignature.VMContextParam()
		if i < 0 {
			return 0, fmt.Errorf("%s requires a vmctx parameter", gv)
		}
		return in.values[b.entryBlk().params[i].value.ID()].Lo, nil
	case GlobalValueKindLoad:
		base, err := in.globalValue(data.Base)
		if err != nil {
			return 0, err
		}
		d, err := in.load(OpcodeLoad, data.Type, base+uint64(data.Offset))
		return d.Lo, err
	case GlobalValueKindIAddImm:
		base, err := in.globalValue(data.Base)
		return base + uint64(data.Offset), err
	default:
		addr, ok := in.symbols[data.Symbol]
		if !ok {
			return 0, fmt.Errorf("undefined symbol %s", data.Symbol)
		}
		return addr + uint64(data.Offset), nil
	}
}

// memory returns the mapped bytes of [addr, addr+size).
func (in *Interpreter) memory(addr, size uint64) ([]byte, error) {
	if addr < interpreterNullPageSize || addr+size < addr {
		return nil, &TrapError{Code: codegenapi.TrapCodeHeapOutOfBounds}
	}
	for _, r := range in.regions {
		if addr >= r.base && addr+size <= r.base+uint64(len(r.data)) {
			return r.data[addr-r.base : addr-r.base+size], nil
		}
	}
	return nil, &TrapError{Code: codegenapi.TrapCodeHeapOutOfBounds}
}

func (in *Interpreter) load(op Opcode, typ Type, addr uint64) (DataValue, error) {
	size := op.MemAccessBytes(typ)
	mem, err := in.memory(addr, size)
	if err != nil {
		return DataValue{}, err
	}
	var buf [16]byte
	copy(buf[:], mem)
	lo, hi := binary.LittleEndian.Uint64(buf[:8]), binary.LittleEndian.Uint64(buf[8:])
	switch op {
	case OpcodeSload8:
		lo = uint64(int8(lo))
	case OpcodeSload16:
		lo = uint64(int16(lo))
	case OpcodeSload32:
		lo = uint64(int32(lo))
	}
	if typ == TypeI128 || typ.IsVector() {
		return DataValue{Type: typ, Lo: lo, Hi: hi}, nil
	}
	return DataValueOf(typ, lo), nil
}

func (in *Interpreter) store(op Opcode, d DataValue, addr uint64) error {
	size := op.MemAccessBytes(d.Type)
	mem, err := in.memory(addr, size)
	if err != nil {
		return err
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], d.Lo)
	binary.LittleEndian.PutUint64(buf[8:], d.Hi)
	copy(mem, buf[:size])
	return nil
}
