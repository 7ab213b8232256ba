package reduce

import (
	"singlepath/internal/ir"
	"singlepath/internal/scopes"
)

// walker flattens the scope tree into a single layout chain. Every block
// is appended behind the previous one; loop scopes get a preheader on
// entry and a latch (plus a predicate-file restore when needed) on exit.
type walker struct {
	r        *reducer
	last     ir.BlockID
	layout   []ir.BlockID
	liveOuts map[scopes.ScopeID][]ir.PredReg
}

func (r *reducer) linearize(liveOuts map[scopes.ScopeID][]ir.PredReg) {
	w := &walker{r: r, last: ir.NoBlock, liveOuts: liveOuts}
	r.tree.Walk(w.enter, w.next, w.exit)
	r.f.Layout = w.layout
}

// next appends a block to the chain: its branches and successor edges are
// dropped, and the previous block falls through into it.
func (w *walker) next(b ir.BlockID) {
	blk := w.r.f.Block(b)
	blk.Succs = nil
	for n := len(blk.Instrs); n > 0 && blk.Instrs[n-1].Kind == ir.InstrBranch; n-- {
		blk.Instrs = blk.Instrs[:n-1]
		w.r.stats.RemovedBranches++
	}
	if w.last != ir.NoBlock {
		prev := w.r.f.Block(w.last)
		prev.Succs = append(prev.Succs, b)
	}
	w.layout = append(w.layout, b)
	w.last = b
}

// enter builds the loop preheader: save the predicate file if the loop
// cannot share registers with its parent, materialize the header
// predicate in the loop's own register, and initialize the loop counter.
func (w *walker) enter(s scopes.ScopeID) {
	r := w.r
	sc := &r.tree.Scopes[s]
	ri := r.ra.Infos[s]

	pre := r.f.AddBlock()
	blk := r.f.Block(pre)

	if ri.NeedsScopeSpill {
		fi := r.ft.PredFileFI(sc.Depth)
		blk.Instrs = append(blk.Instrs,
			ir.Instr{Kind: ir.InstrPredSave,
				PredSave: ir.PredSaveInstr{Dst: ir.RScratch}},
			// seed for the load eliminator: the slot now matches the
			// scratch register
			ir.Instr{Kind: ir.InstrLoadSlot,
				LoadSlot: ir.LoadSlotInstr{Dst: ir.RScratch, Slot: fi, Seed: true}},
			ir.Instr{Kind: ir.InstrStoreSlot,
				StoreSlot: ir.StoreSlotInstr{Slot: fi, Src: ir.RScratch}},
		)
		r.stats.InsertedInstrs += 3
	}

	w.headerPredLoadOrCopy(s, blk)

	if sc.Bound > 0 {
		fi := r.ft.LoopCntFI(sc.Depth)
		blk.Instrs = append(blk.Instrs,
			ir.Instr{Kind: ir.InstrLoadImm,
				LoadImm: ir.LoadImmInstr{Dst: ir.RScratch, Value: uint32(sc.Bound)}},
			ir.Instr{Kind: ir.InstrLoadSlot,
				LoadSlot: ir.LoadSlotInstr{Dst: ir.RScratch, Slot: fi, Seed: true}},
			ir.Instr{Kind: ir.InstrStoreSlot,
				StoreSlot: ir.StoreSlotInstr{Slot: fi, Src: ir.RScratch}},
		)
		r.stats.InsertedInstrs += 2
		r.stats.LoopCounters++
	}

	w.next(pre)
}

// headerPredLoadOrCopy gets the header predicate from wherever the parent
// scope keeps it into the register this scope assigned it.
func (w *walker) headerPredLoadOrCopy(s scopes.ScopeID, blk *ir.Block) {
	r := w.r
	sc := &r.tree.Scopes[s]
	h := sc.Header
	ri := r.ra.Infos[s]
	rp := r.ra.Infos[sc.Parent]

	parentLoads := rp.LoadLocs(h)
	parentRegs := rp.UseRegs(h)
	childRegs := ri.UseRegs(h)

	for _, pred := range r.tree.Infos[h].Guards {
		idx, ok := childRegs[pred]
		if !ok {
			continue
		}
		childReg := r.physPred(idx)
		if loc, ok := parentLoads[pred]; ok {
			seq := r.predicateLoad(loc, childReg)
			blk.Instrs = append(blk.Instrs, seq...)
			r.stats.InsertedInstrs += len(seq)
			continue
		}
		parentReg := ir.PTrue
		if pidx, ok := parentRegs[pred]; ok {
			parentReg = r.physPred(pidx)
		}
		if childReg != parentReg {
			blk.Instrs = append(blk.Instrs, ir.Instr{
				Kind:     ir.InstrPredMove,
				PredMove: ir.PredMoveInstr{Dst: childReg, Src: parentReg},
			})
			r.stats.InsertedInstrs++
		}
	}
}

// exit builds the loop latch: reload the header predicate if the body
// displaced it, decrement the counter, and branch back while it is
// positive. A loop that saved the predicate file restores it in a
// post-loop block, preserving condition registers set inside the loop.
func (w *walker) exit(s scopes.ScopeID) {
	r := w.r
	if r.tree.IsRoot(s) {
		return
	}
	sc := &r.tree.Scopes[s]
	ri := r.ra.Infos[s]

	latch := r.f.AddBlock()
	// weave in first; filling the branch afterwards keeps it from being
	// stripped
	w.next(latch)
	blk := r.f.Block(latch)

	hdrLoads := ri.LoadLocs(sc.Header)
	regs := ri.UseRegs(sc.Header)
	n := 0
	for _, pred := range sortedPreds(hdrLoads) {
		idx, ok := regs[pred]
		if !ok {
			continue
		}
		seq := r.predicateLoad(hdrLoads[pred], r.physPred(idx))
		blk.Instrs = append(blk.Instrs, seq...)
		n += len(seq)
	}
	if hl := ri.HeaderReloadLoc(); hl != nil {
		if idx, ok := regs[r.tree.HeaderPred(s)]; ok {
			seq := r.predicateLoad(*hl, r.physPred(idx))
			blk.Instrs = append(blk.Instrs, seq...)
			n += len(seq)
		}
	}

	fi := r.ft.LoopCntFI(sc.Depth)
	blk.Instrs = append(blk.Instrs,
		ir.Instr{Kind: ir.InstrLoadSlot,
			LoadSlot: ir.LoadSlotInstr{Dst: ir.RScratch, Slot: fi}},
		ir.Instr{Kind: ir.InstrSubImm,
			SubImm: ir.SubImmInstr{Dst: ir.RScratch, Src: ir.RScratch, Value: 1}},
		ir.Instr{Kind: ir.InstrCmpLt,
			CmpLt: ir.CmpLtInstr{Dst: r.prTmp, LHS: ir.RZero, RHS: ir.RScratch}},
		ir.Instr{Kind: ir.InstrStoreSlot,
			StoreSlot: ir.StoreSlotInstr{Slot: fi, Src: ir.RScratch}},
		ir.Instr{Kind: ir.InstrBranch,
			Guard:  ir.Guard{Reg: r.prTmp},
			Branch: ir.BranchInstr{Target: sc.Header}},
	)
	blk.Succs = append(blk.Succs, sc.Header)
	r.stats.InsertedInstrs += n + 5

	if ri.NeedsScopeSpill {
		post := r.f.AddBlock()
		pblk := r.f.Block(post)
		pfi := r.ft.PredFileFI(sc.Depth)
		pblk.Instrs = append(pblk.Instrs, ir.Instr{
			Kind:     ir.InstrLoadSlot,
			LoadSlot: ir.LoadSlotInstr{Dst: ir.RScratch, Slot: pfi},
		})
		for _, reg := range w.liveOuts[s] {
			pblk.Instrs = append(pblk.Instrs, ir.Instr{
				Kind: ir.InstrBitCopy,
				BitCopy: ir.BitCopyInstr{
					Dst: ir.RScratch, Src: ir.RScratch,
					Bit: uint32(reg), Cond: reg},
			})
		}
		pblk.Instrs = append(pblk.Instrs, ir.Instr{
			Kind:        ir.InstrPredRestore,
			PredRestore: ir.PredRestoreInstr{Src: ir.RScratch},
		})
		r.stats.InsertedInstrs += 2 + len(w.liveOuts[s])
		w.next(post)
	}
}
