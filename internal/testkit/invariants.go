// Package testkit provides the invariant checks the conversion tests
// share.
package testkit

import (
	"fmt"

	"singlepath/internal/ir"
	"singlepath/internal/regalloc"
	"singlepath/internal/scopes"
)

// CheckSinglePath runs the structural invariants of a converted function:
// 1) the layout is a chain: every block flows into its layout successor,
// and every other surviving edge is a back-edge to an earlier block
// 2) every surviving branch is guarded and targets an earlier block
// 3) every slot access stays within the declared frame-object range
func CheckSinglePath(f *ir.Func, numSlots int) error {
	if f == nil {
		return fmt.Errorf("nil function")
	}
	pos := make(map[ir.BlockID]int, len(f.Layout))
	for i, id := range f.Layout {
		pos[id] = i
	}

	for i, id := range f.Layout {
		blk := f.Block(id)

		for _, s := range blk.Succs {
			sp, ok := pos[s]
			if !ok {
				return fmt.Errorf("bb%d: successor bb%d is not in the layout", id, s)
			}
			if sp == i+1 {
				continue
			}
			if sp > i {
				return fmt.Errorf("bb%d: forward edge to bb%d survives conversion", id, s)
			}
			if !hasGuardedBranch(blk, s) {
				return fmt.Errorf("bb%d: back-edge to bb%d has no guarded branch", id, s)
			}
		}
		if i < len(f.Layout)-1 {
			next := f.Layout[i+1]
			if !hasSucc(blk, next) {
				return fmt.Errorf("bb%d: does not flow into its layout successor bb%d", id, next)
			}
		}

		for k := range blk.Instrs {
			in := &blk.Instrs[k]
			switch in.Kind {
			case ir.InstrBranch:
				if in.Guard.Unconditional() {
					return fmt.Errorf("bb%d: unconditional branch to bb%d survives", id, in.Branch.Target)
				}
				if tp, ok := pos[in.Branch.Target]; !ok || tp > i {
					return fmt.Errorf("bb%d: branch to bb%d is not a back-edge", id, in.Branch.Target)
				}
			case ir.InstrLoadSlot:
				if s := int(in.LoadSlot.Slot); s < 0 || s >= numSlots {
					return fmt.Errorf("bb%d: load from slot %d outside [0, %d)", id, s, numSlots)
				}
			case ir.InstrStoreSlot:
				if s := int(in.StoreSlot.Slot); s < 0 || s >= numSlots {
					return fmt.Errorf("bb%d: store to slot %d outside [0, %d)", id, s, numSlots)
				}
			}
		}
	}
	return nil
}

func hasSucc(blk *ir.Block, id ir.BlockID) bool {
	for _, s := range blk.Succs {
		if s == id {
			return true
		}
	}
	return false
}

func hasGuardedBranch(blk *ir.Block, target ir.BlockID) bool {
	for i := range blk.Instrs {
		in := &blk.Instrs[i]
		if in.Kind == ir.InstrBranch && in.Branch.Target == target && !in.Guard.Unconditional() {
			return true
		}
	}
	return false
}

// CheckAllocation verifies a computed allocation against its budget:
// every unified register index is within [0, maxRegs), no two predicates
// of one block share a register, and every predicate with a use in a
// block has a definition location.
func CheckAllocation(tree *scopes.Tree, res *regalloc.Result, maxRegs int) error {
	for s := range tree.Scopes {
		ri := res.Infos[s]
		for _, b := range tree.Scopes[s].Blocks {
			taken := make(map[int]scopes.PredID)
			for p, reg := range ri.UseRegs(b) {
				if reg < 0 || reg >= maxRegs {
					return fmt.Errorf("scope %d: bb%d: p%d assigned register %d outside budget %d",
						s, b, p, reg, maxRegs)
				}
				if other, dup := taken[reg]; dup {
					return fmt.Errorf("scope %d: bb%d: p%d and p%d share register %d",
						s, b, p, other, reg)
				}
				taken[reg] = p
				if _, ok := ri.DefLoc(p); !ok {
					return fmt.Errorf("scope %d: bb%d: p%d used without a definition location",
						s, b, p)
				}
			}
		}
	}
	return nil
}
