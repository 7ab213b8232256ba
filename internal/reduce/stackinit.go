package reduce

import (
	"sort"

	"singlepath/internal/ir"
	"singlepath/internal/scopes"
)

// insertStackInits clears, at the scope header, the spill bits of every
// predicate the scope defines on the stack. A stack-resident predicate is
// accumulated with guarded bit writes, so its bit must start out false on
// every entry of the scope.
func (r *reducer) insertStackInits(s scopes.ScopeID) {
	ri := r.ra.Infos[s]
	sc := &r.tree.Scopes[s]
	hdr := r.tree.HeaderPred(s)

	masks := make(map[ir.FrameIndex]uint32)
	for _, p := range sc.Preds {
		if p == hdr {
			continue
		}
		loc, ok := ri.DefLoc(p)
		if !ok || !loc.IsStack() {
			continue
		}
		fi, bit := r.ft.SpillSlot(loc.Index)
		masks[fi] |= 1 << bit
	}
	if len(masks) == 0 {
		return
	}

	fis := make([]ir.FrameIndex, 0, len(masks))
	for fi := range masks {
		fis = append(fis, fi)
	}
	sort.Slice(fis, func(i, j int) bool { return fis[i] < fis[j] })

	blk := r.f.Block(sc.Header)
	at := 0
	if r.tree.IsRoot(s) {
		at = afterFrameSetup(blk)
	}
	var seq []ir.Instr
	for _, fi := range fis {
		seq = append(seq,
			ir.Instr{Kind: ir.InstrLoadSlot,
				LoadSlot: ir.LoadSlotInstr{Dst: ir.RScratch, Slot: fi}},
			ir.Instr{Kind: ir.InstrAndImm,
				AndImm: ir.AndImmInstr{Dst: ir.RScratch, Src: ir.RScratch, Mask: ^masks[fi]}},
			ir.Instr{Kind: ir.InstrStoreSlot,
				StoreSlot: ir.StoreSlotInstr{Slot: fi, Src: ir.RScratch}},
		)
	}
	insertAt(blk, at, seq...)
	r.stats.InsertedInstrs += len(seq)
}
