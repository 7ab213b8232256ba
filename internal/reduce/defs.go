package reduce

import (
	"fmt"

	"singlepath/internal/ir"
	"singlepath/internal/regalloc"
	"singlepath/internal/scopes"
)

// predDef is one predicate definition ready for emission: either a simple
// definition of one location, or a pair of register definitions that use
// each other's target as guard and must be emitted as an exchange.
type predDef struct {
	swap bool

	// simple form
	pred  scopes.PredID
	loc   regalloc.Location // unified definition location
	guard ir.PredReg
	cond  scopes.Cond
	first bool
	child scopes.ScopeID // owning child when defined at a subheader

	// swap form
	reg1, reg2   ir.PredReg
	cond1, cond2 scopes.Cond
}

// targets returns the physical registers the definition writes.
func (r *reducer) targets(d predDef) []ir.PredReg {
	if d.swap {
		return []ir.PredReg{d.reg1, d.reg2}
	}
	if d.loc.IsRegister() {
		return []ir.PredReg{r.physPred(d.loc.Index)}
	}
	return nil
}

// overwritesGuardOf reports whether emitting d before o would clobber a
// guard register o still needs.
func (r *reducer) overwritesGuardOf(d, o predDef) bool {
	var guards []ir.PredReg
	if o.swap {
		guards = []ir.PredReg{o.reg1, o.reg2}
	} else {
		guards = []ir.PredReg{o.guard}
	}
	for _, t := range r.targets(d) {
		for _, g := range guards {
			if t == g {
				return true
			}
		}
	}
	return false
}

func (r *reducer) sameTarget(a, b predDef) bool {
	return !a.swap && !b.swap && a.loc == b.loc
}

// mergeableSwap reports whether x and y define each other's guard
// register: emitting either first destroys the other's guard.
func (r *reducer) mergeableSwap(x, y predDef) bool {
	return !x.swap && !y.swap &&
		r.overwritesGuardOf(x, y) && r.overwritesGuardOf(y, x)
}

// insertDefs materializes the predicate definitions of scope s at the
// ends of their source blocks, ordered so no definition overwrites the
// guard of a later one.
func (r *reducer) insertDefs(s scopes.ScopeID) error {
	ri := r.ra.Infos[s]
	sc := &r.tree.Scopes[s]

	for _, b := range sc.Blocks {
		child := r.tree.Subheader(s, b)
		regs := r.useRegs(r.tree.ScopeOf(b), b)

		var defs []predDef
		for _, d := range r.tree.Infos[b].Defs {
			if !r.tree.HasPred(s, d.Pred) {
				continue
			}
			if child != scopes.NoScope && r.tree.HasPred(child, d.Pred) {
				// belongs to the child scope's pass
				continue
			}
			loc, ok := ri.DefLoc(d.Pred)
			if !ok {
				return fmt.Errorf("reduce: %s: predicate p%d defined in bb%d has no location",
					r.f.Name, d.Pred, b)
			}
			defs = append(defs, predDef{
				pred:  d.Pred,
				loc:   loc,
				guard: guardReg(regs, d.Guard),
				cond:  d.Cond,
				first: ri.IsFirstDef(r.tree, b, d.Pred),
				child: child,
			})
		}
		if len(defs) == 0 {
			continue
		}

		sorted := r.sortDefs(defs)

		var seq []ir.Instr
		for _, d := range sorted {
			seq = append(seq, r.emitDef(d)...)
		}
		blk := r.f.Block(b)
		insertAt(blk, firstTerminator(blk), seq...)
		r.stats.InsertedInstrs += len(seq)
	}
	return nil
}

// sortDefs orders definitions so that guards are read before they are
// overwritten. Two definitions that clobber each other's guard merge into
// a swap, which goes last.
func (r *reducer) sortDefs(defs []predDef) []predDef {
	var sorted []predDef
	for _, x := range defs {
		pos := -1
		for i := 0; i < len(sorted); i++ {
			y := sorted[i]
			if y.swap {
				if r.overwritesGuardOf(y, x) {
					pos = i
				}
				continue
			}
			if r.mergeableSwap(x, y) {
				sorted = append(sorted[:i], sorted[i+1:]...)
				x = predDef{
					swap: true,
					reg1: r.targets(y)[0], cond1: y.cond,
					reg2: r.targets(x)[0], cond2: x.cond,
				}
				pos = -1
				break
			}
			if r.overwritesGuardOf(y, x) && pos == -1 {
				pos = i
				if r.sameTarget(x, y) {
					sorted[i].first = false
				}
			} else if r.sameTarget(x, y) {
				if pos == -1 {
					x.first = false
				} else {
					sorted[i].first = false
				}
			}
		}
		if pos == -1 {
			sorted = append(sorted, x)
		} else {
			sorted = append(sorted[:pos], append([]predDef{x}, sorted[pos:]...)...)
		}
	}
	return sorted
}

func (r *reducer) emitDef(d predDef) []ir.Instr {
	if d.swap {
		pxor := func(a, b ir.PredReg) ir.Instr {
			return ir.Instr{Kind: ir.InstrPredXor,
				PredXor: ir.PredXorInstr{Dst: a, Src1: a, Src2: b}}
		}
		pand := func(reg ir.PredReg, c scopes.Cond) ir.Instr {
			return ir.Instr{Kind: ir.InstrPredAnd,
				PredAnd: ir.PredAndInstr{Dst: reg, Src1: reg, Src2: c.Reg, Src2Neg: c.Neg}}
		}
		// exchange the two registers, then each guard sits in its own
		// target
		return []ir.Instr{
			pxor(d.reg1, d.reg2),
			pxor(d.reg2, d.reg1),
			pxor(d.reg1, d.reg2),
			pand(d.reg1, d.cond1),
			pand(d.reg2, d.cond2),
		}
	}

	if d.loc.IsRegister() {
		target := r.physPred(d.loc.Index)
		if d.child != scopes.NoScope && r.ra.Infos[d.child].NeedsScopeSpill {
			// the child loop saves the predicate file across its body;
			// set the bit in the saved copy instead of the register
			fi := r.ft.PredFileFI(r.tree.Scopes[d.child].Depth)
			return r.bitDef(fi, uint32(target), d)
		}
		if !d.first || d.child != scopes.NoScope {
			// partial update under the guard
			return []ir.Instr{{
				Kind:  ir.InstrPredMove,
				Guard: ir.Guard{Reg: d.guard},
				PredMove: ir.PredMoveInstr{
					Dst: target, Src: d.cond.Reg, SrcNeg: d.cond.Neg},
			}}
		}
		// first definition assigns totally
		return []ir.Instr{{
			Kind: ir.InstrPredAnd,
			PredAnd: ir.PredAndInstr{
				Dst: target, Src1: d.guard, Src2: d.cond.Reg, Src2Neg: d.cond.Neg},
		}}
	}

	fi, bit := r.ft.SpillSlot(d.loc.Index)
	return r.bitDef(fi, bit, d)
}

// bitDef sets one bit of a frame slot word to the definition's condition,
// under its guard.
func (r *reducer) bitDef(fi ir.FrameIndex, bit uint32, d predDef) []ir.Instr {
	return []ir.Instr{
		{Kind: ir.InstrLoadSlot,
			LoadSlot: ir.LoadSlotInstr{Dst: ir.RScratch, Slot: fi}},
		{Kind: ir.InstrBitCopy,
			Guard: ir.Guard{Reg: d.guard},
			BitCopy: ir.BitCopyInstr{
				Dst: ir.RScratch, Src: ir.RScratch, Bit: bit,
				Cond: d.cond.Reg, CondNeg: d.cond.Neg}},
		{Kind: ir.InstrStoreSlot,
			StoreSlot: ir.StoreSlotInstr{Slot: fi, Src: ir.RScratch}},
	}
}
