package reduce

import (
	"singlepath/internal/ir"
	"singlepath/internal/regalloc"
	"singlepath/internal/scopes"
)

// applyGuards predicates the instructions of the blocks owned by scope s.
// Subheader blocks are predicated when their own scope is processed. Runs
// on pristine blocks: per-instruction predicate annotations index the
// original instruction order.
func (r *reducer) applyGuards(s scopes.ScopeID) {
	sc := &r.tree.Scopes[s]

	for _, b := range sc.Blocks {
		if r.tree.ScopeOf(b) == s {
			r.guardBlock(s, b)
		}
	}

	// a converted callee receives its top-level guard from the caller in
	// the scratch predicate register
	if r.tree.IsRoot(s) && !r.f.Root {
		h := sc.Header
		regs := r.useRegs(s, h)
		hdrReg := guardReg(regs, r.tree.HeaderPred(s))
		blk := r.f.Block(h)
		insertAt(blk, afterFrameSetup(blk), ir.Instr{
			Kind:     ir.InstrPredMove,
			PredMove: ir.PredMoveInstr{Dst: hdrReg, Src: r.prTmp},
		})
		r.stats.InsertedInstrs++
	}
}

func (r *reducer) guardBlock(s scopes.ScopeID, b ir.BlockID) {
	blk := r.f.Block(b)
	regs := r.useRegs(s, b)

	term := firstTerminator(blk)
	out := make([]ir.Instr, 0, len(blk.Instrs)+4)
	for idx := 0; idx < term; idx++ {
		in := blk.Instrs[idx]
		if in.Exempt() {
			out = append(out, in)
			continue
		}
		pred := r.tree.InstrPred(b, idx)
		reg := guardReg(regs, pred)

		if in.Kind == ir.InstrCall {
			out = r.guardCall(out, in, reg)
			continue
		}
		if in.Kind == ir.InstrOpaque && !in.Opaque.Predicable {
			out = append(out, in)
			continue
		}
		if reg == ir.PTrue {
			out = append(out, in)
			continue
		}
		if !in.Guard.Unconditional() {
			if in.Guard.Reg == reg && !in.Guard.Neg {
				out = append(out, in)
				continue
			}
			// combine with the pre-existing guard
			out = append(out, ir.Instr{
				Kind: ir.InstrPredAnd,
				PredAnd: ir.PredAndInstr{
					Dst:     r.prTmp,
					Src1:    reg,
					Src2:    in.Guard.Reg,
					Src2Neg: in.Guard.Neg,
				},
			})
			in.Guard = ir.Guard{Reg: r.prTmp}
			out = append(out, in)
			r.stats.InsertedInstrs++
			continue
		}
		in.Guard = ir.Guard{Reg: reg}
		out = append(out, in)
	}
	out = append(out, blk.Instrs[term:]...)
	blk.Instrs = out
}

// guardCall routes the call guard through the scratch predicate register
// and saves the caller-saved temporary around the call, which always
// executes.
func (r *reducer) guardCall(out []ir.Instr, call ir.Instr, reg ir.PredReg) []ir.Instr {
	out = append(out, ir.Instr{
		Kind:     ir.InstrPredMove,
		PredMove: ir.PredMoveInstr{Dst: r.prTmp, Src: reg},
	})
	n := 1
	spill := r.ft.CallSpillFI()
	if spill != ir.NoFrame {
		out = append(out, ir.Instr{
			Kind:      ir.InstrStoreSlot,
			StoreSlot: ir.StoreSlotInstr{Slot: spill, Src: ir.RCallTmp},
		})
		n++
	}
	out = append(out, call)
	if spill != ir.NoFrame {
		out = append(out, ir.Instr{
			Kind:     ir.InstrLoadSlot,
			LoadSlot: ir.LoadSlotInstr{Dst: ir.RCallTmp, Slot: spill},
		})
		n++
	}
	r.stats.InsertedInstrs += n
	return out
}

// insertSpillLoads emits the spill and reload traffic the allocation
// demands at the entries of scope s's blocks. The scope's own header is
// handled by the preheader and the latch instead.
func (r *reducer) insertSpillLoads(s scopes.ScopeID) {
	ri := r.ra.Infos[s]
	for _, b := range r.tree.Scopes[s].Blocks {
		if !r.tree.IsHeader(s, b) && ri.HasSpillLoad(b) {
			r.insertUseSpillLoad(ri, b)
		}
	}
}

// insertUseSpillLoad emits, at the block entry, the eviction spill and the
// reload for every predicate the allocation moved for this block. The
// spilled bit is still sitting in the register the reload is about to
// overwrite, so the spill must come first.
func (r *reducer) insertUseSpillLoad(ri *regalloc.RAInfo, b ir.BlockID) {
	spills := ri.SpillLocs(b)
	loads := ri.LoadLocs(b)
	regs := ri.UseRegs(b)

	blk := r.f.Block(b)
	var seq []ir.Instr
	for _, pred := range sortedPreds(loads) {
		reg := r.physPred(regs[pred])
		if slot, ok := spills[pred]; ok {
			fi, bit := r.ft.SpillSlot(slot)
			seq = append(seq,
				ir.Instr{Kind: ir.InstrLoadSlot,
					LoadSlot: ir.LoadSlotInstr{Dst: ir.RScratch, Slot: fi}},
				ir.Instr{Kind: ir.InstrBitCopy,
					BitCopy: ir.BitCopyInstr{Dst: ir.RScratch, Src: ir.RScratch, Bit: bit, Cond: reg}},
				ir.Instr{Kind: ir.InstrStoreSlot,
					StoreSlot: ir.StoreSlotInstr{Slot: fi, Src: ir.RScratch}},
			)
		}
		seq = append(seq, r.predicateLoad(loads[pred], reg)...)
	}
	insertAt(blk, 0, seq...)
	r.stats.InsertedInstrs += len(seq)
}

// predicateLoad materializes a predicate into target from wherever the
// allocation left it.
func (r *reducer) predicateLoad(from regalloc.Location, target ir.PredReg) []ir.Instr {
	if from.IsRegister() {
		return []ir.Instr{{
			Kind:     ir.InstrPredMove,
			PredMove: ir.PredMoveInstr{Dst: target, Src: r.physPred(from.Index)},
		}}
	}
	fi, bit := r.ft.SpillSlot(from.Index)
	return []ir.Instr{
		{Kind: ir.InstrLoadSlot,
			LoadSlot: ir.LoadSlotInstr{Dst: ir.RScratch, Slot: fi}},
		{Kind: ir.InstrBitTest,
			BitTest: ir.BitTestInstr{Dst: target, Src: ir.RScratch, Bit: bit}},
	}
}
