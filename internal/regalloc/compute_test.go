package regalloc_test

import (
	"errors"
	"testing"

	"singlepath/internal/diag"
	"singlepath/internal/ir"
	"singlepath/internal/regalloc"
	"singlepath/internal/scopes"
	"singlepath/internal/spfile"
	"singlepath/internal/testkit"
)

func parse(t *testing.T, src string) (*ir.Func, *scopes.Tree) {
	t.Helper()
	bag := diag.NewBag(16)
	fn, tree, err := spfile.Parse(src, "test", bag)
	if err != nil {
		t.Fatalf("parse failed: %v (%d diagnostics)", err, bag.Len())
	}
	return fn, tree
}

func compute(t *testing.T, src string) (*ir.Func, *scopes.Tree, *regalloc.Result, int) {
	t.Helper()
	fn, tree := parse(t, src)
	budget := len(fn.AvailPreds) - 1
	res, err := regalloc.Compute(fn, tree, budget)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if err := testkit.CheckAllocation(tree, res, budget); err != nil {
		t.Fatalf("allocation invariants violated: %v", err)
	}
	return fn, tree, res, budget
}

const diamondSrc = `
name = "diamond"
root = true
pred-regs = 6
entry = 0

[[block]]
id = 0
guards = [0]
succs = [1, 2]
instrs = [{text = "cmp"}]
defs = [
	{pred = 1, guard = 0, cond = "p3"},
	{pred = 2, guard = 0, cond = "!p3"},
]

[[block]]
id = 1
guards = [1]
succs = [3]
instrs = [{text = "then"}]

[[block]]
id = 2
guards = [2]
succs = [3]
instrs = [{text = "else"}]

[[block]]
id = 3
guards = [0]
instrs = [{op = "ret"}]

[[scope]]
header = 0
blocks = [0, 1, 2, 3]
preds = [0, 1, 2]
parent = -1
`

// An if/else with two live predicates fits a budget of three registers
// without touching the stack.
func TestComputeDiamondStaysInRegisters(t *testing.T) {
	fn, tree, res, _ := compute(t, diamondSrc)

	if got := len(fn.AvailPreds); got != 4 {
		t.Fatalf("AvailPreds = %d, want 4", got)
	}
	if res.SpillLocs != 0 {
		t.Errorf("SpillLocs = %d, want 0", res.SpillLocs)
	}
	ri := res.Infos[tree.Root()]
	if ri.NumLocs != 2 {
		t.Errorf("NumLocs = %d, want 2", ri.NumLocs)
	}

	wantRegs := []struct {
		block ir.BlockID
		pred  scopes.PredID
		reg   int
	}{
		{1, 1, 0},
		{2, 2, 1},
	}
	for _, w := range wantRegs {
		regs := ri.UseRegs(w.block)
		if got, ok := regs[w.pred]; !ok || got != w.reg {
			t.Errorf("UseRegs(bb%d)[p%d] = %d (ok=%v), want %d", w.block, w.pred, got, ok, w.reg)
		}
	}
	for b := ir.BlockID(0); b < 4; b++ {
		if ri.HasSpillLoad(b) {
			t.Errorf("bb%d: unexpected spill/load fixups: loads=%v spills=%v",
				b, ri.LoadLocs(b), ri.SpillLocs(b))
		}
	}

	// the top-level guard of a root function has no location
	if _, ok := ri.DefLoc(0); ok {
		t.Errorf("p0 got a location; the root guard is the always-true register")
	}
}

const countdownNoDefsSrc = `
name = "countdown"
root = true
pred-regs = 6
entry = 0

[[block]]
id = 0
guards = [0]
succs = [1]
instrs = [{text = "init"}]
defs = [{pred = 1, guard = 0, cond = "p3"}]

[[block]]
id = 1
guards = [1]
succs = [1, 2]
instrs = [{text = "body"}]

[[block]]
id = 2
guards = [0]
instrs = [{op = "ret"}]

[[scope]]
header = 0
blocks = [0, 1, 2]
preds = [0, 1]
parent = -1

[[scope]]
header = 1
blocks = [1]
preds = [1]
parent = 0
bound = 3
`

// A loop whose scope records no definitions claims no spill words and
// shares the parent's register file.
func TestComputeLoopWithoutDefsSkipsScopeSpill(t *testing.T) {
	_, _, res, _ := compute(t, countdownNoDefsSrc)

	loop := res.Infos[1]
	if loop.NeededSpillSlots() != 0 {
		t.Errorf("NeededSpillSlots = %d, want 0", loop.NeededSpillSlots())
	}
	if loop.NeedsScopeSpill {
		t.Errorf("NeedsScopeSpill = true, want false")
	}
	if loop.FirstReg != 1 {
		t.Errorf("FirstReg = %d, want 1", loop.FirstReg)
	}
	if res.NoSpillScopes != 1 {
		t.Errorf("NoSpillScopes = %d, want 1", res.NoSpillScopes)
	}
	if res.SpillLocs != 0 {
		t.Errorf("SpillLocs = %d, want 0", res.SpillLocs)
	}
	if loop.HeaderReloadLoc() != nil {
		t.Errorf("HeaderReload = %v, want none", *loop.HeaderReloadLoc())
	}
}

const countdownTightSrc = `
name = "countdown"
root = true
pred-regs = 4
entry = 0

[[block]]
id = 0
guards = [0]
succs = [1]
instrs = [{text = "init"}]
defs = [{pred = 1, guard = 0, cond = "p3"}]

[[block]]
id = 1
guards = [1]
succs = [1, 2]
instrs = [{text = "body"}]

[[block]]
id = 2
guards = [0]
instrs = [{op = "ret"}]

[[scope]]
header = 0
blocks = [0, 1, 2]
preds = [0, 1]
parent = -1

[[scope]]
header = 1
blocks = [1]
preds = [1]
parent = 0
bound = 3
`

// With a budget of one register the loop cannot share the file with its
// parent and keeps the predicate-file save.
func TestComputeLoopKeepsScopeSpillWhenTight(t *testing.T) {
	_, _, res, budget := compute(t, countdownTightSrc)

	if budget != 1 {
		t.Fatalf("budget = %d, want 1", budget)
	}
	loop := res.Infos[1]
	if !loop.NeedsScopeSpill {
		t.Errorf("NeedsScopeSpill = false, want true")
	}
	if loop.FirstReg != 0 {
		t.Errorf("FirstReg = %d, want 0", loop.FirstReg)
	}
	if res.NoSpillScopes != 0 {
		t.Errorf("NoSpillScopes = %d, want 0", res.NoSpillScopes)
	}
}

const evictSrc = `
name = "evict"
root = true
pred-regs = 4
entry = 0

[[block]]
id = 0
guards = [0]
succs = [1]
instrs = [{text = "cmp"}]
defs = [
	{pred = 1, guard = 0, cond = "p3"},
	{pred = 2, guard = 0, cond = "!p3"},
]

[[block]]
id = 1
guards = [2]
succs = [2]
instrs = [{text = "a"}]

[[block]]
id = 2
guards = [1]
succs = [3]
instrs = [{text = "b"}]

[[block]]
id = 3
guards = [2]
instrs = [{op = "ret"}]

[[scope]]
header = 0
blocks = [0, 1, 2, 3]
preds = [0, 1, 2]
parent = -1
`

// With one register and overlapping live ranges, bringing in a
// stack-resident predicate evicts the register holder with the furthest
// next use and records the spill on the incoming block.
func TestComputeEvictionSpillsFurthestNextUse(t *testing.T) {
	_, _, res, budget := compute(t, evictSrc)

	if budget != 1 {
		t.Fatalf("budget = %d, want 1", budget)
	}
	ri := res.Infos[0]

	if res.SpillLocs != 2 {
		t.Errorf("SpillLocs = %d, want 2", res.SpillLocs)
	}

	loads := ri.LoadLocs(2)
	if got, ok := loads[1]; !ok || got != (regalloc.Location{Kind: regalloc.Stack, Index: 0}) {
		t.Errorf("LoadLocs(bb2)[p1] = %v (ok=%v), want stack(0)", got, ok)
	}
	spills := ri.SpillLocs(2)
	if got, ok := spills[1]; !ok || got != 1 {
		t.Errorf("SpillLocs(bb2)[p1] = %d (ok=%v), want 1", got, ok)
	}

	// the evicted predicate comes back from its new slot at its next use
	loads = ri.LoadLocs(3)
	if got, ok := loads[2]; !ok || got != (regalloc.Location{Kind: regalloc.Stack, Index: 1}) {
		t.Errorf("LoadLocs(bb3)[p2] = %v (ok=%v), want stack(1)", got, ok)
	}
}

const crowdedBlockSrc = `
name = "crowded"
root = true
pred-regs = 4
entry = 0

[[block]]
id = 0
guards = [0]
succs = [1]
instrs = [{text = "cmp"}]
defs = [
	{pred = 1, guard = 0, cond = "p3"},
	{pred = 2, guard = 0, cond = "!p3"},
]

[[block]]
id = 1
guards = [1, 2]
instrs = [{op = "ret"}]

[[scope]]
header = 0
blocks = [0, 1]
preds = [0, 1, 2]
parent = -1
`

// A block guarded by two predicates needs both in registers at once;
// with a single register there is no victim to evict and the function
// must be rejected rather than handing the same register to both.
func TestComputeRejectsCrowdedGuards(t *testing.T) {
	fn, tree := parse(t, crowdedBlockSrc)
	if _, err := regalloc.Compute(fn, tree, 1); err == nil {
		t.Fatal("Compute packed two simultaneously live guards into one register")
	}
	if _, err := regalloc.Compute(fn, tree, 2); err != nil {
		t.Fatalf("Compute failed with a register per guard: %v", err)
	}
}

const storeForwardSrc = `
name = "fwd"
root = true
pred-regs = 6
entry = 0

[[block]]
id = 0
guards = [0]
succs = [1]
instrs = [{text = "cmp"}]
defs = [
	{pred = 1, guard = 0, cond = "p3"},
	{pred = 2, guard = 0, cond = "p4"},
]

[[block]]
id = 1
guards = [2]
succs = [2]
instrs = [{text = "a"}]
defs = [{pred = 3, guard = 2, cond = "p3"}]

[[block]]
id = 2
guards = [3]
succs = [3]
instrs = [{text = "b"}]

[[block]]
id = 3
guards = [1, 2]
instrs = [{op = "ret"}]

[[scope]]
header = 0
blocks = [0, 1, 2, 3]
preds = [0, 1, 2, 3]
parent = -1
`

// An evicted predicate that was never read since its definition is not
// spilled at the eviction point: its definition is redirected to the
// vacated stack slot instead.
func TestComputeStoreForwardsUnreadEviction(t *testing.T) {
	_, tree, res, budget := compute(t, storeForwardSrc)

	if budget != 2 {
		t.Fatalf("budget = %d, want 2", budget)
	}
	ri := res.Infos[0]

	if got, ok := ri.DefLoc(1); !ok || got != (regalloc.Location{Kind: regalloc.Stack, Index: 1}) {
		t.Errorf("DefLoc(p1) = %v (ok=%v), want stack(1)", got, ok)
	}
	for _, b := range tree.Scopes[0].Blocks {
		if len(ri.SpillLocs(b)) != 0 {
			t.Errorf("bb%d: spill recorded %v; the definition should go straight to the stack",
				b, ri.SpillLocs(b))
		}
	}
	if got, ok := ri.LoadLocs(2)[3]; !ok || got != (regalloc.Location{Kind: regalloc.Stack, Index: 0}) {
		t.Errorf("LoadLocs(bb2)[p3] = %v (ok=%v), want stack(0)", got, ok)
	}
	if got, ok := ri.LoadLocs(3)[1]; !ok || got != (regalloc.Location{Kind: regalloc.Stack, Index: 1}) {
		t.Errorf("LoadLocs(bb3)[p1] = %v (ok=%v), want stack(1)", got, ok)
	}
}

const useBeforeDefSrc = `
name = "broken"
root = true
pred-regs = 4
entry = 0

[[block]]
id = 0
guards = [0]
succs = [1]
instrs = [{text = "a"}]

[[block]]
id = 1
guards = [1]
instrs = [{op = "ret"}]

[[scope]]
header = 0
blocks = [0, 1]
preds = [0, 1]
parent = -1
`

func TestComputeReportsUseBeforeDef(t *testing.T) {
	fn, tree := parse(t, useBeforeDefSrc)
	_, err := regalloc.Compute(fn, tree, len(fn.AvailPreds)-1)
	if err == nil {
		t.Fatal("Compute succeeded on a guard with no reaching definition")
	}
	var ub *regalloc.UseBeforeDefError
	if !errors.As(err, &ub) {
		t.Fatalf("error = %v, want UseBeforeDefError", err)
	}
	if ub.Pred != 1 || ub.Block != 1 {
		t.Errorf("UseBeforeDefError = p%d/bb%d, want p1/bb1", ub.Pred, ub.Block)
	}
}

func TestComputeRejectsEmptyBudget(t *testing.T) {
	fn, tree := parse(t, diamondSrc)
	if _, err := regalloc.Compute(fn, tree, 0); err == nil {
		t.Fatal("Compute accepted a zero register budget")
	}
}
