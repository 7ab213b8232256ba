// Package regalloc assigns every guard predicate of a function a location:
// one of the allocatable predicate registers, or a bit in a packed stack
// spill word when the registers run out. Allocation is per scope; a final
// unification pass lets loops share the register file with their parents
// when everything fits, so entering the loop needs no save of the
// predicate registers.
package regalloc

import (
	"fmt"
	"sort"

	"singlepath/internal/ir"
	"singlepath/internal/scopes"
)

// Result is the allocation for a whole function.
type Result struct {
	// Infos is indexed by scope id.
	Infos []*RAInfo

	// SpillLocs is the total number of packed stack-spill bits claimed
	// across all scopes.
	SpillLocs int

	// NumPredicates is one past the highest predicate id in use.
	NumPredicates int

	// NoSpillScopes counts the loop scopes that share the register file
	// with their parent and skip the predicate-file save.
	NoSpillScopes int
}

// UseBeforeDefError reports a guard predicate read before any definition
// reaches it.
type UseBeforeDefError struct {
	Fn    string
	Pred  scopes.PredID
	Block ir.BlockID
}

func (e *UseBeforeDefError) Error() string {
	return fmt.Sprintf("regalloc: %s: predicate p%d used in bb%d before definition",
		e.Fn, e.Pred, e.Block)
}

// Compute allocates locations for every scope of the function. maxRegs is
// the number of predicate registers available to the allocator.
func Compute(f *ir.Func, tree *scopes.Tree, maxRegs int) (*Result, error) {
	if maxRegs < 1 {
		return nil, fmt.Errorf("regalloc: %s: no allocatable predicate registers", f.Name)
	}

	res := &Result{Infos: make([]*RAInfo, len(tree.Scopes))}

	// children before parents, so ChildMaxCum is known when the parent
	// is built
	for _, s := range tree.PostOrder() {
		ri := &RAInfo{
			Scope:           s,
			MaxRegs:         maxRegs,
			LRs:             make(map[scopes.PredID]*LiveRange),
			DefLocs:         make(map[scopes.PredID]Location),
			UseLocs:         make(map[ir.BlockID]map[scopes.PredID]*UseLoc),
			NeedsScopeSpill: true,
		}
		createLiveRanges(f, tree, ri)
		if err := assignLocations(f, tree, ri); err != nil {
			return nil, err
		}
		for _, c := range tree.Scopes[s].Children {
			if cum := res.Infos[c].CumLocs(); cum > ri.ChildMaxCum {
				ri.ChildMaxCum = cum
			}
		}
		res.Infos[s] = ri
	}

	// parents before children: decide which loops share the parent's
	// registers and hand out the packed spill bits depth-first
	spillLocCnt := 0
	for _, s := range tree.PreOrder() {
		ri := res.Infos[s]
		if tree.IsRoot(s) {
			// no back-edge, nothing to save across
			ri.NeedsScopeSpill = false
		} else {
			parent := res.Infos[tree.Scopes[s].Parent]
			if parent.FirstReg+parent.NumLocs+ri.CumLocs() <= maxRegs {
				ri.FirstReg = parent.FirstReg + parent.NumLocs
				ri.NeedsScopeSpill = false
				res.NoSpillScopes++
			}
		}
		ri.FirstSlot = spillLocCnt
		spillLocCnt += ri.NeededSpillSlots()
	}
	res.SpillLocs = spillLocCnt

	for s := range tree.Scopes {
		for _, p := range tree.Scopes[s].Preds {
			if int(p)+1 > res.NumPredicates {
				res.NumPredicates = int(p) + 1
			}
		}
	}
	return res, nil
}

// skipPred reports whether the predicate needs no location: the top-level
// guard of a root function is the always-true register.
func skipPred(f *ir.Func, tree *scopes.Tree, s scopes.ScopeID, p scopes.PredID) bool {
	return f.Root && tree.IsRoot(s) && p == tree.HeaderPred(tree.Root())
}

// createLiveRanges records, per scope predicate, the block positions where
// it is read (block guards and definition guards) and written (definition
// targets). The header predicate of a loop gets an extra use one past the
// last block: the loop-repeat decision.
func createLiveRanges(f *ir.Func, tree *scopes.Tree, ri *RAInfo) {
	sc := &tree.Scopes[ri.Scope]
	n := len(sc.Blocks)
	for _, p := range sc.Preds {
		if skipPred(f, tree, ri.Scope, p) {
			continue
		}
		ri.LRs[p] = newLiveRange(n)
	}

	addUse := func(p scopes.PredID, pos int) {
		if lr, ok := ri.LRs[p]; ok {
			lr.AddUse(pos)
		}
	}
	for i, b := range sc.Blocks {
		info := &tree.Infos[b]
		for _, p := range info.Guards {
			addUse(p, i)
		}
		for _, p := range info.InstrPred {
			addUse(p, i)
		}
		for _, d := range info.Defs {
			addUse(d.Guard, i)
			if lr, ok := ri.LRs[d.Pred]; ok {
				lr.AddDef(i)
			}
		}
	}
	if !tree.IsRoot(ri.Scope) {
		addUse(tree.HeaderPred(ri.Scope), n)
	}
}

// assignLocations walks the scope's blocks in topological order, keeping a
// current location per live predicate. Uses must find their predicate in a
// register; a stack-resident predicate is brought in, evicting the
// register-resident predicate with the furthest next use when none is
// free. Definitions claim fresh locations, nearest next use first.
func assignLocations(f *ir.Func, tree *scopes.Tree, ri *RAInfo) error {
	sc := &tree.Scopes[ri.Scope]
	pool := newFreePool(ri.MaxRegs)
	cur := make(map[scopes.PredID]Location)

	// The header predicate enters the scope already materialized: the
	// parent (or the calling convention, for a non-root function's top
	// level) puts it into the scope's first register.
	hdr := scopes.NoPred
	if p := tree.HeaderPred(ri.Scope); p != scopes.NoPred && !skipPred(f, tree, ri.Scope, p) {
		hdr = p
		loc := pool.take()
		cur[hdr] = loc
		ri.DefLocs[hdr] = loc
	}
	hdrEntry, hadHdr := cur[hdr]

	for i, b := range sc.Blocks {
		// use phase
		for _, p := range sc.Preds {
			lr, ok := ri.LRs[p]
			if !ok || !lr.IsUse(i) {
				continue
			}
			loc, live := cur[p]
			if !live {
				return &UseBeforeDefError{Fn: f.Name, Pred: p, Block: b}
			}
			ul := ri.useLoc(b, p)
			if loc.IsRegister() {
				ul.Reg = loc.Index
				continue
			}
			// stack-resident: bring it into a register
			reg, err := materialize(ri, pool, cur, i, b, p, loc)
			if err != nil {
				return fmt.Errorf("regalloc: %s: %w", f.Name, err)
			}
			ul.Reg = reg.Index
		}

		// retire predicates with no further uses or definitions
		for _, p := range sc.Preds {
			lr, ok := ri.LRs[p]
			if !ok {
				continue
			}
			loc, live := cur[p]
			if live && lr.LastUse(i) && !lr.IsDef(i) && !lr.HasDefAfter(i) {
				pool.release(loc)
				delete(cur, p)
			}
		}

		// definition phase: fresh locations, nearest next use first
		var defs []scopes.PredID
		for _, d := range tree.Infos[b].Defs {
			if _, ok := ri.LRs[d.Pred]; ok {
				defs = append(defs, d.Pred)
			}
		}
		sort.SliceStable(defs, func(x, y int) bool {
			return ri.LRs[defs[x]].HasNextUseBefore(i, ri.LRs[defs[y]])
		})
		for _, p := range defs {
			if _, live := cur[p]; live {
				// redefinition merges into the existing location
				continue
			}
			loc := pool.take()
			cur[p] = loc
			ri.DefLocs[p] = loc
		}
	}

	// Loop-repeat use: the header predicate must be back in its entry
	// register before the back-edge. If the scan left it elsewhere, the
	// latch reloads it.
	if hadHdr && !tree.IsRoot(ri.Scope) {
		end, live := cur[hdr]
		if !live {
			return &UseBeforeDefError{Fn: f.Name, Pred: hdr, Block: sc.Header}
		}
		if end != hdrEntry {
			l := end
			ri.HeaderReload = &l
		}
	}

	ri.NumLocs = pool.numLocs
	return nil
}

// materialize moves a stack-resident predicate into a register before
// position i, evicting another predicate when no register is free. An
// evicted predicate that was never read since its definition is not
// spilled: its definition location is redirected to the vacated slot
// instead.
func materialize(ri *RAInfo, pool *freePool, cur map[scopes.PredID]Location,
	i int, b ir.BlockID, p scopes.PredID, from Location) (Location, error) {

	ul := ri.useLoc(b, p)
	if pool.hasRegister() {
		reg := pool.take()
		l := from
		ul.Load = &l
		pool.release(from)
		cur[p] = reg
		return reg, nil
	}

	victim, ok := furthestNextUse(ri, cur, i, p)
	if !ok {
		return Location{}, fmt.Errorf("bb%d: no evictable predicate register for p%d", b, p)
	}
	reg := cur[victim]
	slot := pool.take()
	if slot.IsRegister() {
		return Location{}, fmt.Errorf("bb%d: expected stack slot for evicted p%d", b, victim)
	}
	if !ri.LRs[victim].AnyUseBefore(i) {
		// never read since its definition: define straight to the stack
		ri.DefLocs[victim] = slot
	} else {
		s := slot.Index
		ul.Spill = &s
	}
	cur[victim] = slot

	l := from
	ul.Load = &l
	pool.release(from)
	cur[p] = reg
	return reg, nil
}

// furthestNextUse picks the register-resident predicate whose next use is
// furthest away, skipping the one being materialized. A predicate read at
// position i itself keeps its register; when every resident predicate is
// read here the block's guards exceed the budget and there is no victim.
func furthestNextUse(ri *RAInfo, cur map[scopes.PredID]Location,
	i int, skip scopes.PredID) (scopes.PredID, bool) {

	sc := ri.LRs
	var cands []scopes.PredID
	for p, loc := range cur {
		if p != skip && loc.IsRegister() && !sc[p].IsUse(i) {
			cands = append(cands, p)
		}
	}
	if len(cands) == 0 {
		return scopes.NoPred, false
	}
	sort.Slice(cands, func(x, y int) bool { return cands[x] < cands[y] })
	sort.SliceStable(cands, func(x, y int) bool {
		return sc[cands[y]].HasNextUseBefore(i, sc[cands[x]])
	})
	return cands[0], true
}

func (r *RAInfo) useLoc(b ir.BlockID, p scopes.PredID) *UseLoc {
	m := r.UseLocs[b]
	if m == nil {
		m = make(map[scopes.PredID]*UseLoc)
		r.UseLocs[b] = m
	}
	ul := m[p]
	if ul == nil {
		ul = &UseLoc{}
		m[p] = ul
	}
	return ul
}
