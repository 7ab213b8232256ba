// Package reduce rewrites a function with a computed predicate allocation
// into branch-free single-path form: every instruction is guarded by its
// block predicate, predicate definitions are materialized at the defining
// edges, and the control-flow graph is flattened into one layout chain
// where only counted loop back-edges remain.
package reduce

import (
	"fmt"
	"sort"

	"singlepath/internal/frame"
	"singlepath/internal/ir"
	"singlepath/internal/regalloc"
	"singlepath/internal/scopes"
)

type reducer struct {
	f     *ir.Func
	tree  *scopes.Tree
	ra    *regalloc.Result
	ft    *frame.Table
	stats *Stats

	// prTmp is the scratch predicate register: never allocated, used for
	// combined guards, the loop-repeat condition and the call guard.
	prTmp ir.PredReg
}

// Run converts the function in place and reports what was done. The
// allocation must have been computed with a budget of
// len(f.AvailPreds)-1: the last available predicate register is reserved
// as scratch.
func Run(f *ir.Func, tree *scopes.Tree, ra *regalloc.Result, ft *frame.Table) (*Stats, error) {
	if len(f.AvailPreds) < 2 {
		return nil, fmt.Errorf("reduce: %s: need at least two free predicate registers, have %d",
			f.Name, len(f.AvailPreds))
	}
	r := &reducer{
		f:     f,
		tree:  tree,
		ra:    ra,
		ft:    ft,
		stats: &Stats{},
		prTmp: f.AvailPreds[len(f.AvailPreds)-1],
	}

	for s := range tree.Scopes {
		if !tree.IsRoot(scopes.ScopeID(s)) && tree.Scopes[s].Bound <= 0 {
			return nil, fmt.Errorf("reduce: %s: loop at bb%d has no trip-count bound",
				f.Name, tree.Scopes[s].Header)
		}
	}

	for _, s := range tree.PreOrder() {
		r.applyGuards(s)
	}
	for _, s := range tree.PreOrder() {
		r.insertSpillLoads(s)
	}
	for _, s := range tree.PreOrder() {
		if err := r.insertDefs(s); err != nil {
			return nil, err
		}
		r.insertStackInits(s)
	}

	// loop live-outs must be read off the edges before linearization
	// removes them
	liveOuts := r.collectLiveOuts()

	r.linearize(liveOuts)
	r.mergeBlocks()
	return r.stats, nil
}

// physPred maps a unified register index to the physical register.
func (r *reducer) physPred(idx int) ir.PredReg {
	return r.f.AvailPreds[idx]
}

// useRegs maps each predicate used in the block to its physical register
// under the given scope's allocation.
func (r *reducer) useRegs(s scopes.ScopeID, b ir.BlockID) map[scopes.PredID]ir.PredReg {
	out := make(map[scopes.PredID]ir.PredReg)
	for pred, idx := range r.ra.Infos[s].UseRegs(b) {
		out[pred] = r.physPred(idx)
	}
	return out
}

// guardReg resolves a predicate to the register guarding with it, falling
// back to the always-true register for predicates without a location (the
// top-level guard of a root function).
func guardReg(regs map[scopes.PredID]ir.PredReg, p scopes.PredID) ir.PredReg {
	if reg, ok := regs[p]; ok {
		return reg
	}
	return ir.PTrue
}

// firstTerminator returns the index of the first instruction of the
// trailing branch sequence.
func firstTerminator(blk *ir.Block) int {
	i := len(blk.Instrs)
	for i > 0 && blk.Instrs[i-1].Kind == ir.InstrBranch {
		i--
	}
	return i
}

// afterFrameSetup returns the index of the first instruction past the
// unconditional prologue.
func afterFrameSetup(blk *ir.Block) int {
	i := 0
	for i < len(blk.Instrs) && blk.Instrs[i].FrameSetup {
		i++
	}
	return i
}

// insertAt splices instrs into the block before index i.
func insertAt(blk *ir.Block, i int, instrs ...ir.Instr) {
	blk.Instrs = append(blk.Instrs[:i], append(instrs, blk.Instrs[i:]...)...)
}

// sortedPreds returns the map keys in ascending order, for deterministic
// emission.
func sortedPreds[V any](m map[scopes.PredID]V) []scopes.PredID {
	out := make([]scopes.PredID, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// collectLiveOuts gathers, per loop scope, the physical predicate
// registers live into any block the loop exits to. Those bits must
// survive the predicate-file restore after the loop.
func (r *reducer) collectLiveOuts() map[scopes.ScopeID][]ir.PredReg {
	out := make(map[scopes.ScopeID][]ir.PredReg)
	for s := range r.tree.Scopes {
		sid := scopes.ScopeID(s)
		if r.tree.IsRoot(sid) {
			continue
		}
		seen := make(map[ir.PredReg]bool)
		var regs []ir.PredReg
		for _, succ := range r.tree.SucceedingBlocks(sid, r.f) {
			for _, p := range r.f.Block(succ).LiveIns {
				if !seen[p] {
					seen[p] = true
					regs = append(regs, p)
				}
			}
		}
		sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
		out[sid] = regs
	}
	return out
}
