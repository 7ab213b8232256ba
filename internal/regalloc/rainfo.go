package regalloc

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"singlepath/internal/ir"
	"singlepath/internal/scopes"
)

// UseLoc describes how one block gets at one predicate it is guarded by.
type UseLoc struct {
	// Reg is the scope-local register index the predicate occupies while
	// the block runs.
	Reg int

	// Load, when set, is where the predicate value must be fetched from
	// before the block (or before the loop repeats, for header
	// predicates): a stack-spill bit or a differing register.
	Load *Location

	// Spill, when set, is the stack-spill bit an evicted predicate must be
	// written to before Reg can be reused.
	Spill *int
}

// RAInfo is the allocation result for one scope: immutable once Compute
// returns.
type RAInfo struct {
	Scope   scopes.ScopeID
	MaxRegs int

	// LRs maps each scope predicate to its live range.
	LRs map[scopes.PredID]*LiveRange

	// DefLocs is each predicate's definition location.
	DefLocs map[scopes.PredID]Location

	// UseLocs maps block -> predicate -> use location.
	UseLocs map[ir.BlockID]map[scopes.PredID]*UseLoc

	// NumLocs is the total number of locations this scope uses itself.
	NumLocs int

	// ChildMaxCum is the largest cumulative location count of any child.
	ChildMaxCum int

	// FirstReg is the first register index this scope may use; lower
	// indices belong to ancestors.
	FirstReg int

	// FirstSlot is the first stack-spill bit this scope may use.
	FirstSlot int

	// NeedsScopeSpill is true when the predicate register file must be
	// saved and restored across this scope's back-edge.
	NeedsScopeSpill bool

	// HeaderReload, when set, is the scope-local location the header
	// predicate ends the body in. The latch moves it back to the entry
	// register before the back-edge.
	HeaderReload *Location
}

// HeaderReloadLoc returns the unified location the latch reloads the
// header predicate from, or nil when it never leaves its entry register.
func (r *RAInfo) HeaderReloadLoc() *Location {
	if r.HeaderReload == nil {
		return nil
	}
	l := r.unifyLoc(*r.HeaderReload)
	return &l
}

// CumLocs is the maximum number of locations used by this scope and any
// descendant chain below it.
func (r *RAInfo) CumLocs() int { return r.NumLocs + r.ChildMaxCum }

// NeededSpillSlots is how many packed stack-spill bits the scope claims.
func (r *RAInfo) NeededSpillSlots() int {
	if r.NumLocs < r.MaxRegs {
		return 0
	}
	return r.NumLocs - r.MaxRegs
}

func (r *RAInfo) unifyReg(idx int) int   { return idx + r.FirstReg }
func (r *RAInfo) unifyStack(idx int) int { return idx + r.FirstSlot }

func (r *RAInfo) unifyLoc(l Location) Location {
	if l.Kind == Register {
		return Location{Kind: Register, Index: r.unifyReg(l.Index)}
	}
	return Location{Kind: Stack, Index: r.unifyStack(l.Index)}
}

// UseRegs returns the unified register index each predicate of the block
// occupies.
func (r *RAInfo) UseRegs(b ir.BlockID) map[scopes.PredID]int {
	out := make(map[scopes.PredID]int)
	for pred, ul := range r.UseLocs[b] {
		out[pred] = r.unifyReg(ul.Reg)
	}
	return out
}

// LoadLocs returns, per predicate, the unified location a block must load
// the predicate from before use.
func (r *RAInfo) LoadLocs(b ir.BlockID) map[scopes.PredID]Location {
	out := make(map[scopes.PredID]Location)
	for pred, ul := range r.UseLocs[b] {
		if ul.Load != nil {
			out[pred] = r.unifyLoc(*ul.Load)
		}
	}
	return out
}

// SpillLocs returns, per predicate, the unified stack-spill bit a block
// must spill the evicted predicate to.
func (r *RAInfo) SpillLocs(b ir.BlockID) map[scopes.PredID]int {
	out := make(map[scopes.PredID]int)
	for pred, ul := range r.UseLocs[b] {
		if ul.Spill != nil {
			out[pred] = r.unifyStack(*ul.Spill)
		}
	}
	return out
}

// HasSpillLoad reports whether the block needs any spill or load fixups.
func (r *RAInfo) HasSpillLoad(b ir.BlockID) bool {
	for _, ul := range r.UseLocs[b] {
		if ul.Load != nil || ul.Spill != nil {
			return true
		}
	}
	return false
}

// DefLoc returns the unified definition location of a predicate.
func (r *RAInfo) DefLoc(pred scopes.PredID) (Location, bool) {
	l, ok := r.DefLocs[pred]
	if !ok {
		return Location{}, false
	}
	return r.unifyLoc(l), true
}

// IsFirstDef reports whether block b holds the first definition of pred in
// the scope's topological order.
func (r *RAInfo) IsFirstDef(tree *scopes.Tree, b ir.BlockID, pred scopes.PredID) bool {
	blocks := tree.Scopes[r.Scope].Blocks
	for i, blk := range blocks {
		if blk == b {
			lr, ok := r.LRs[pred]
			return ok && !lr.HasDefBefore(i)
		}
	}
	return false
}

// Dump writes the allocation tables for inspection.
func (r *RAInfo) Dump(w io.Writer, tree *scopes.Tree, indent int) {
	pad := strings.Repeat(" ", indent)
	sc := &tree.Scopes[r.Scope]
	fmt.Fprintf(w, "%s[bb%d] depth=%d\n", pad, sc.Header, sc.Depth)

	preds := make([]scopes.PredID, 0, len(r.LRs))
	for p := range r.LRs {
		preds = append(preds, p)
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i] < preds[j] })
	for _, p := range preds {
		fmt.Fprintf(w, "%s  LR(p%d) = [%s]\n", pad, p, r.LRs[p])
	}

	for i, b := range sc.Blocks {
		fmt.Fprintf(w, "%s  %d| bb%d uses{", pad, i, b)
		for _, p := range preds {
			ul, ok := r.UseLocs[b][p]
			if !ok {
				continue
			}
			fmt.Fprintf(w, " p%d:reg%d", p, ul.Reg)
			if ul.Load != nil {
				fmt.Fprintf(w, " load=%s", *ul.Load)
			}
			if ul.Spill != nil {
				fmt.Fprintf(w, " spill=%d", *ul.Spill)
			}
		}
		fmt.Fprintf(w, " }\n")
	}

	fmt.Fprintf(w, "%s  defs:", pad)
	for _, p := range preds {
		if l, ok := r.DefLocs[p]; ok {
			fmt.Fprintf(w, " p%d=%s", p, l)
		}
	}
	fmt.Fprintf(w, "\n%s  numLocs=%d cumLocs=%d firstReg=%d firstSlot=%d scopeSpill=%v\n",
		pad, r.NumLocs, r.CumLocs(), r.FirstReg, r.FirstSlot, r.NeedsScopeSpill)
}
