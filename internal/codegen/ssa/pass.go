package ssa

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
)

// DefaultEGraphIterationLimit is the default bound on the rewrite iterations of the optimizer.
const DefaultEGraphIterationLimit = 16

// PassOptions configures RunPasses.
type PassOptions struct {
	// Optimize enables the egraph optimizer: GVN, rewrites, alias analysis and LICM.
	Optimize bool
	// EGraphIterationLimit bounds the rewrite depth and the congruence rebuild rounds.
	// Zero means DefaultEGraphIterationLimit.
	EGraphIterationLimit int
}

// RunPasses implements Builder.RunPasses.
//
// The order here matters; some pass depends on the previous ones.
//
// Note that passes suffixed with "Opt" are the optimization passes, meaning that they edit the instructions and blocks
// while the other passes are not, like passCalculateImmediateDominators does not edit them, but only calculates the additional information.
func (b *builder) RunPasses(opts PassOptions) error {
	passSortSuccessors(b)
	passDeadBlockEliminationOpt(b)
	passRedundantPhiEliminationOpt(b)
	// The result of passCalculateImmediateDominators will be used by various passes below.
	passCalculateImmediateDominators(b)

	if opts.Optimize {
		limit := opts.EGraphIterationLimit
		if limit <= 0 {
			limit = DefaultEGraphIterationLimit
		}
		if err := passEGraphOpt(b, limit); err != nil {
			return err
		}
	}

	passDeadCodeEliminationOpt(b)
	b.donePasses = true

	if codegenapi.SSAValidationEnabled {
		if err := b.Verify(); err != nil {
			return &InternalError{Pass: "verify", Err: err}
		}
	}
	return nil
}

// InternalError is returned when an SSA pass detects a broken invariant.
type InternalError struct {
	Pass string
	Err  error
}

// Error implements error.
func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error in %s: %v", e.Pass, e.Err)
}

// Unwrap returns the underlying error.
func (e *InternalError) Unwrap() error { return e.Err }

// ErrEGraphIterationLimit is wrapped by the InternalError returned when the optimizer
// does not reach a fixpoint within PassOptions.EGraphIterationLimit.
var ErrEGraphIterationLimit = errors.New("egraph iteration limit exceeded")

// passDeadBlockEliminationOpt searches the unreachable blocks, and sets the basicBlock.invalid flag true if so.
// The edges from the unreachable blocks are removed from the reachable ones.
func passDeadBlockEliminationOpt(b *builder) {
	entryBlk := b.entryBlk()
	b.clearBlkVisited()
	b.blkStack = append(b.blkStack, entryBlk)
	for len(b.blkStack) > 0 {
		reachableBlk := b.blkStack[len(b.blkStack)-1]
		b.blkStack = b.blkStack[:len(b.blkStack)-1]
		b.blkVisited[reachableBlk] = 0 // the value won't be used in this pass.

		if !reachableBlk.sealed {
			panic(fmt.Sprintf("%s is not sealed", reachableBlk))
		}

		if codegenapi.SSAValidationEnabled {
			reachableBlk.validate(b)
		}

		for _, succ := range reachableBlk.success {
			if _, ok := b.blkVisited[succ]; ok {
				continue
			}
			b.blkStack = append(b.blkStack, succ)
		}
	}

	for blk := b.blockIteratorBegin(); blk != nil; blk = b.blockIteratorNext() {
		if _, ok := b.blkVisited[blk]; !ok {
			blk.invalid = true
		}
	}

	for blk := b.blockIteratorBegin(); blk != nil; blk = b.blockIteratorNext() {
		var cur int
		for _, pred := range blk.preds {
			if !pred.blk.invalid {
				blk.preds[cur] = pred
				cur++
			}
		}
		blk.preds = blk.preds[:cur]
	}
}

// passRedundantPhiEliminationOpt eliminates the redundant PHIs (in our terminology, parameters of a block).
// Removing a parameter might make another one redundant, so this runs until the fixed point.
func passRedundantPhiEliminationOpt(b *builder) {
	redundantParameterIndexes := b.ints[:0] // reuse the slice from previous iterations.

	for changed := true; changed; {
		changed = false
		_ = b.blockIteratorBegin() // skip entry block!
		// Below, we intentionally use the named iteration variable name, as this comes with inevitable nested for loops!
		for blk := b.blockIteratorNext(); blk != nil; blk = b.blockIteratorNext() {
			paramNum := len(blk.params)

			for paramIndex := 0; paramIndex < paramNum; paramIndex++ {
				phiValue := blk.params[paramIndex].value
				redundant := true

				nonSelfReferencingValue := ValueInvalid
				for predIndex := range blk.preds {
					pred := b.resolveAlias(blk.preds[predIndex].branch.vs[paramIndex])
					if pred == phiValue {
						// This is self-referencing: PHI from the same PHI.
						continue
					}

					if !nonSelfReferencingValue.Valid() {
						nonSelfReferencingValue = pred
						continue
					}

					if nonSelfReferencingValue != pred {
						redundant = false
						break
					}
				}

				if !nonSelfReferencingValue.Valid() {
					// This shouldn't happen, and must be a bug in builder.go.
					panic("BUG: params added but only self-referencing")
				}

				if redundant {
					b.redundantParameterIndexToValue[paramIndex] = nonSelfReferencingValue
					redundantParameterIndexes = append(redundantParameterIndexes, paramIndex)
				}
			}

			if len(b.redundantParameterIndexToValue) == 0 {
				continue
			}
			changed = true

			// Remove the redundant PHIs from the argument list of branching instructions.
			for predIndex := range blk.preds {
				var cur int
				predBlk := blk.preds[predIndex]
				branchInst := predBlk.branch
				for argIndex, value := range branchInst.vs {
					if _, ok := b.redundantParameterIndexToValue[argIndex]; !ok {
						branchInst.vs[cur] = value
						cur++
					}
				}
				branchInst.vs = branchInst.vs[:cur]
			}

			// Still need to have the definition of the value of the PHI (previously as the parameter).
			for _, redundantParamIndex := range redundantParameterIndexes {
				phiValue := blk.params[redundantParamIndex].value
				onlyValue := b.redundantParameterIndexToValue[redundantParamIndex]
				// Create an alias in this block from the only phi argument to the phi value.
				b.alias(phiValue, onlyValue)
			}

			// Finally, Remove the param from the blk.
			var cur int
			for paramIndex := 0; paramIndex < paramNum; paramIndex++ {
				param := blk.params[paramIndex]
				if _, ok := b.redundantParameterIndexToValue[paramIndex]; !ok {
					blk.params[cur] = param
					cur++
				}
			}
			blk.params = blk.params[:cur]

			// Clears the map for the next iteration.
			for _, paramIndex := range redundantParameterIndexes {
				delete(b.redundantParameterIndexToValue, paramIndex)
			}
			redundantParameterIndexes = redundantParameterIndexes[:0]
		}
	}

	// Reuse the slice for the future passes.
	b.ints = redundantParameterIndexes
}

// passDeadCodeEliminationOpt traverses all the instructions, and calculates the reference count of each Value, and
// eliminates all the unnecessary instructions whose ref count is zero.
// The results are stored at builder.valueRefCounts. This also assigns a InstructionGroupID to each Instruction
// during the process. This is the last SSA-level optimization pass and after this,
// the SSA function is ready to be used by backends.
func passDeadCodeEliminationOpt(b *builder) {
	nvid := int(b.nextValueID)
	if nvid >= len(b.valueRefCounts) {
		b.valueRefCounts = append(b.valueRefCounts, make([]int, nvid-len(b.valueRefCounts)+1)...)
	}
	for i := range b.valueRefCounts {
		b.valueRefCounts[i] = 0
	}
	ensureValueIdToInstructionInit(b)

	// First, we gather all the instructions with side effects.
	liveInstructions := b.instStack[:0]
	// During the process, we will assign InstructionGroupID to each instruction, which is not
	// relevant to dead code elimination, but we need in the backend.
	var gid InstructionGroupID
	for blk := b.blockIteratorBegin(); blk != nil; blk = b.blockIteratorNext() {
		for cur := blk.rootInstr; cur != nil; cur = cur.next {
			cur.gid = gid
			cur.live = false
			switch cur.sideEffect() {
			case sideEffectTraps:
				// The trappable should always be alive.
				liveInstructions = append(liveInstructions, cur)
			case sideEffectStrict:
				liveInstructions = append(liveInstructions, cur)
				// The strict side effect should create different instruction groups.
				gid++
			}
		}
	}

	// Find all the instructions referenced by live instructions transitively.
	for len(liveInstructions) > 0 {
		tail := len(liveInstructions) - 1
		live := liveInstructions[tail]
		liveInstructions = liveInstructions[:tail]
		if live.live {
			// If it's already marked alive, this is referenced multiple times,
			// so we can skip it.
			continue
		}
		live.live = true

		// Before we walk, we need to resolve the alias first.
		b.resolveArgumentAlias(live)

		live.forEachArg(func(v *Value) {
			if producingInst := b.valueIDToInstruction[v.ID()]; producingInst != nil {
				liveInstructions = append(liveInstructions, producingInst)
			}
		})
	}

	// Now that all the live instructions are flagged as live=true, we eliminate all dead instructions.
	for blk := b.blockIteratorBegin(); blk != nil; blk = b.blockIteratorNext() {
		for cur := blk.rootInstr; cur != nil; cur = cur.next {
			if !cur.live {
				blk.removeInstruction(cur)
				r1, rs := cur.Returns()
				if r1.Valid() {
					b.valueIDToInstruction[r1.ID()] = nil
				}
				for _, r := range rs {
					b.valueIDToInstruction[r.ID()] = nil
				}
				continue
			}

			// If the value alive, we can be sure that arguments are used definitely.
			// Hence, we can increment the value reference counts.
			cur.forEachArg(func(v *Value) {
				b.incRefCount(v.ID(), cur)
			})
		}
	}

	b.instStack = liveInstructions // we reuse the stack for the next iteration.
}

func (b *builder) incRefCount(id ValueID, from *Instruction) {
	if codegenapi.SSALoggingEnabled {
		fmt.Printf("v%d referenced from %v\n", id, from.Format(b))
	}
	b.valueRefCounts[id]++
}

// clearBlkVisited clears the b.blkVisited map so that we can reuse it for multiple places.
func (b *builder) clearBlkVisited() {
	b.blkStack2 = b.blkStack2[:0]
	for key := range b.blkVisited {
		b.blkStack2 = append(b.blkStack2, key)
	}
	for _, blk := range b.blkStack2 {
		delete(b.blkVisited, blk)
	}
	b.blkStack2 = b.blkStack2[:0]
}

func ensureValueIdToInstructionInit(b *builder) {
	if nvid := int(b.nextValueID); nvid >= len(b.valueIDToInstruction) {
		b.valueIDToInstruction = append(b.valueIDToInstruction, make([]*Instruction, nvid-len(b.valueIDToInstruction)+1)...)
	}

	for blk := b.blockIteratorBegin(); blk != nil; blk = b.blockIteratorNext() {
		for cur := blk.rootInstr; cur != nil; cur = cur.next {
			r1, rs := cur.Returns()
			if r1.Valid() {
				b.valueIDToInstruction[r1.ID()] = cur
			}
			for _, r := range rs {
				b.valueIDToInstruction[r.ID()] = cur
			}
		}
	}
}

// passSortSuccessors sorts the successors of each block in the natural program order.
func passSortSuccessors(b *builder) {
	for i := 0; i < b.basicBlocksPool.Allocated(); i++ {
		blk := b.basicBlocksPool.View(i)
		sort.SliceStable(blk.success, func(i, j int) bool {
			iBlk, jBlk := blk.success[i], blk.success[j]
			iRoot, jRoot := iBlk.rootInstr, jBlk.rootInstr
			if iRoot == nil || jRoot == nil { // For testing.
				return false
			}
			return iRoot.id < jRoot.id
		})
	}
}
