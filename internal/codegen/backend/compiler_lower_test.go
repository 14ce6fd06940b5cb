package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickey951112/wasmtime/internal/codegen/backend/regalloc"
	"github.com/mickey951112/wasmtime/internal/codegen/ssa"
	"github.com/mickey951112/wasmtime/internal/codegen/target"
)

type move struct{ src, dst regalloc.VReg }

func recordMoves(moves *[]move) func(dst, src regalloc.VReg) {
	return func(dst, src regalloc.VReg) {
		*moves = append(*moves, move{src: src, dst: dst})
	}
}

func TestCompiler_lowerBlockArguments(t *testing.T) {
	desc := target.NewDescriptor(target.ArchX86_64)
	for _, tc := range []struct {
		name  string
		setup func(builder ssa.Builder) (c *compiler, args []ssa.Value, succ ssa.BasicBlock, verify func(t *testing.T))
	}{
		{
			name: "all consts",
			setup: func(builder ssa.Builder) (*compiler, []ssa.Value, ssa.BasicBlock, func(t *testing.T)) {
				entryBlk := builder.AllocateBasicBlock()
				builder.SetCurrentBlock(entryBlk)
				i1 := builder.AllocateInstruction().AsIconst32(1).Insert(builder)
				i2 := builder.AllocateInstruction().AsIconst64(2).Insert(builder)
				f1 := builder.AllocateInstruction().AsF32const(3.0).Insert(builder)
				f2 := builder.AllocateInstruction().AsF64const(4.0).Insert(builder)

				succ := builder.AllocateBasicBlock()
				succ.AddParam(builder, ssa.TypeI32)
				succ.AddParam(builder, ssa.TypeI64)
				succ.AddParam(builder, ssa.TypeF32)
				succ.AddParam(builder, ssa.TypeF64)

				type constLoad struct {
					instr  *ssa.Instruction
					target regalloc.VReg
				}
				var loads []constLoad
				m := &mockMachine{
					insertLoadConstant: func(instr *ssa.Instruction, vr regalloc.VReg) {
						loads = append(loads, constLoad{instr: instr, target: vr})
					},
					insertMove: func(dst, src regalloc.VReg) { t.Fatal("unexpected move") },
				}

				c := newCompiler(context.Background(), m, builder, &desc)
				c.ssaValueToVRegs = []regalloc.VReg{0, 1, 2, 3, 4, 5, 6, 7}
				c.ssaValueDefinitions = []SSAValueDefinition{{Instr: i1}, {Instr: i2}, {Instr: f1}, {Instr: f2}, {}, {}, {}, {}}
				return c, []ssa.Value{i1.Return(), i2.Return(), f1.Return(), f2.Return()}, succ, func(t *testing.T) {
					require.Len(t, loads, 4)
					require.Equal(t, i1, loads[0].instr)
					require.Equal(t, regalloc.VReg(4), loads[0].target)
					require.Equal(t, i2, loads[1].instr)
					require.Equal(t, regalloc.VReg(5), loads[1].target)
					require.Equal(t, f1, loads[2].instr)
					require.Equal(t, regalloc.VReg(6), loads[2].target)
					require.Equal(t, f2, loads[3].instr)
					require.Equal(t, regalloc.VReg(7), loads[3].target)
				}
			},
		},
		{
			name: "overlap",
			setup: func(builder ssa.Builder) (*compiler, []ssa.Value, ssa.BasicBlock, func(t *testing.T)) {
				blk := builder.AllocateBasicBlock()
				v1 := blk.AddParam(builder, ssa.TypeI32)
				v2 := blk.AddParam(builder, ssa.TypeI32)
				v3 := blk.AddParam(builder, ssa.TypeF32)

				var moves []move
				m := &mockMachine{insertMove: recordMoves(&moves)}
				c := newCompiler(context.Background(), m, builder, &desc)
				c.ssaValueToVRegs = []regalloc.VReg{0, 1, 2}
				c.ssaValueDefinitions = make([]SSAValueDefinition, 3)
				c.nextVRegID = 100 // Temporary reg should start with 100.
				return c, []ssa.Value{v2, v1, v3 /* Swaps v1, v2 and pass v3 as-is. */}, blk, func(t *testing.T) {
					require.Equal(t, []move{
						// Save the values to the temporary registers.
						{src: 1, dst: 100}, {src: 0, dst: 101}, {src: 2, dst: 102},
						// Then move back to the original place.
						{src: 100, dst: 0}, {src: 101, dst: 1}, {src: 102, dst: 2},
					}, idsOf(moves))
				}
			},
		},
		{
			name: "no overlap",
			setup: func(builder ssa.Builder) (*compiler, []ssa.Value, ssa.BasicBlock, func(t *testing.T)) {
				blk := builder.AllocateBasicBlock()
				builder.SetCurrentBlock(blk)
				i32 := blk.AddParam(builder, ssa.TypeI32)
				add := builder.AllocateInstruction().AsIadd(i32, i32).Insert(builder)

				var moves []move
				m := &mockMachine{insertMove: recordMoves(&moves)}
				c := newCompiler(context.Background(), m, builder, &desc)
				c.ssaValueToVRegs = []regalloc.VReg{0, 1}
				c.ssaValueDefinitions = []SSAValueDefinition{{}, {Instr: add}}
				return c, []ssa.Value{add.Return()}, blk, func(t *testing.T) {
					require.Equal(t, []move{{src: 1, dst: 0}}, idsOf(moves))
				}
			},
		},
		{
			name: "i128 swap",
			setup: func(builder ssa.Builder) (*compiler, []ssa.Value, ssa.BasicBlock, func(t *testing.T)) {
				blk := builder.AllocateBasicBlock()
				p0 := blk.AddParam(builder, ssa.TypeI128)
				p1 := blk.AddParam(builder, ssa.TypeI128)

				var moves []move
				m := &mockMachine{insertMove: recordMoves(&moves)}
				c := newCompiler(context.Background(), m, builder, &desc)
				c.ssaValueToVRegs = []regalloc.VReg{0, 1}
				c.ssaValueToHiVRegs = []regalloc.VReg{2, 3}
				c.ssaValueDefinitions = make([]SSAValueDefinition, 2)
				c.nextVRegID = 100
				return c, []ssa.Value{p1, p0}, blk, func(t *testing.T) {
					require.Equal(t, []move{
						{src: 1, dst: 100}, {src: 3, dst: 101}, {src: 0, dst: 102}, {src: 2, dst: 103},
						{src: 100, dst: 0}, {src: 101, dst: 2}, {src: 102, dst: 1}, {src: 103, dst: 3},
					}, idsOf(moves))
				}
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			builder := ssa.NewBuilder()
			c, args, succ, verify := tc.setup(builder)
			c.lowerBlockArguments(args, succ)
			verify(t)
		})
	}
}

// idsOf strips the register types so that the moves compare by ID.
func idsOf(moves []move) []move {
	ret := make([]move, len(moves))
	for i, m := range moves {
		ret[i] = move{src: regalloc.VReg(m.src.ID()), dst: regalloc.VReg(m.dst.ID())}
	}
	return ret
}
