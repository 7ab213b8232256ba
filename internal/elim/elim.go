// Package elim removes redundant reloads of frame slots through the
// conversion's scratch register. The conversion inserts spill loads and
// stores freely; after linearization many of them reload a slot whose
// value is still sitting in the scratch register on every path.
package elim

import (
	"github.com/bits-and-blooms/bitset"

	"singlepath/internal/ir"
)

// Run deletes the redundant unconditional slot loads into scratch and all
// seed loads, and returns how many instructions were removed. numSlots is
// the number of tracked frame slots; slots outside [0, numSlots) are left
// alone.
//
// A forward dataflow over the layout computes, per program point, the slot
// whose value the scratch register is known to hold on every incoming
// path. A load of a slot already held is redundant. Stores do not change
// what the register holds; any load resets the fact to its own slot.
func Run(f *ir.Func, scratch ir.Reg, numSlots int) int {
	if numSlots <= 0 {
		return removeSeeds(f)
	}

	isCandidate := func(in *ir.Instr) (int, bool) {
		if in.Kind != ir.InstrLoadSlot || !in.Guard.Unconditional() {
			return 0, false
		}
		ls := &in.LoadSlot
		if ls.Dst != scratch || ls.Slot < 0 || int(ls.Slot) >= numSlots {
			return 0, false
		}
		return int(ls.Slot), true
	}

	order := f.RPO()
	n := uint(numSlots)
	// exits start full: a back-edge must not constrain the meet before
	// its block has been computed, or facts held around a loop are lost
	exit := make(map[ir.BlockID]*bitset.BitSet, len(order))
	for _, b := range order {
		e := bitset.New(n)
		e.SetAll()
		exit[b] = e
	}
	preds := f.Predecessors()

	for changed := true; changed; {
		changed = false
		for _, b := range order {
			live := bitset.New(n)
			if len(preds[b]) > 0 {
				live.SetAll()
				for _, p := range preds[b] {
					if pe, ok := exit[p]; ok {
						live.InPlaceIntersection(pe)
					}
				}
			}
			blk := f.Block(b)
			for i := range blk.Instrs {
				if slot, ok := isCandidate(&blk.Instrs[i]); ok {
					live.ClearAll()
					live.Set(uint(slot))
				}
			}
			if !live.Equal(exit[b]) {
				exit[b] = live
				changed = true
			}
		}
	}

	// second pass: walk each block once more with the converged entry
	// state and drop the loads that found their slot already held
	removed := 0
	for _, b := range order {
		live := bitset.New(n)
		if len(preds[b]) > 0 {
			live.SetAll()
			for _, p := range preds[b] {
				if pe, ok := exit[p]; ok {
					live.InPlaceIntersection(pe)
				}
			}
		}
		blk := f.Block(b)
		kept := blk.Instrs[:0]
		for i := range blk.Instrs {
			in := blk.Instrs[i]
			slot, ok := isCandidate(&in)
			if !ok {
				kept = append(kept, in)
				continue
			}
			redundant := live.Test(uint(slot))
			live.ClearAll()
			live.Set(uint(slot))
			if redundant || in.LoadSlot.Seed {
				removed++
				continue
			}
			kept = append(kept, in)
		}
		blk.Instrs = kept
	}
	return removed
}

// removeSeeds drops the dataflow seed loads when there is nothing to
// analyze.
func removeSeeds(f *ir.Func) int {
	removed := 0
	for i := range f.Blocks {
		blk := &f.Blocks[i]
		kept := blk.Instrs[:0]
		for _, in := range blk.Instrs {
			if in.Kind == ir.InstrLoadSlot && in.LoadSlot.Seed {
				removed++
				continue
			}
			kept = append(kept, in)
		}
		blk.Instrs = kept
	}
	return removed
}
