// Package scopes models the scope tree a single-path function is
// decomposed into: the whole function at the root plus one scope per
// natural loop. The tree is an arena of scope records addressed by index;
// traversal order is computed over the arena, never via callbacks on the
// records themselves.
package scopes

import "singlepath/internal/ir"

// PredID names a logical guard predicate. Predicates are numbered per
// function by the scope-tree collaborator; a predicate may be a member of
// both a loop scope (as its header predicate) and the enclosing scope (at
// the subheader position).
type PredID int32

const NoPred PredID = -1

// ScopeID indexes a scope in the tree arena.
type ScopeID int32

const NoScope ScopeID = -1

// Cond is an edge condition: a physical predicate register holding the
// branch decision, optionally negated. Condition registers are assigned by
// the generic allocator and are not allocatable here.
type Cond struct {
	Reg ir.PredReg
	Neg bool
}

// Definition records that a block defines a target predicate on one of its
// outgoing edges: Pred becomes (Guard AND Cond).
type Definition struct {
	Pred  PredID
	Guard PredID
	Cond  Cond
}

// BlockInfo carries the per-block annotations of the scope tree.
type BlockInfo struct {
	// Guards are the predicates that must all hold for the block to
	// execute.
	Guards []PredID

	// InstrPred optionally tags each instruction with its own guard
	// predicate. When empty, every instruction uses Guards[0].
	InstrPred []PredID

	// Defs are the predicate definitions on the block's outgoing edges.
	Defs []Definition
}

// Scope is one node of the tree. The root scope covers the whole function;
// every other scope is a natural loop.
type Scope struct {
	Parent   ScopeID
	Children []ScopeID
	Depth    int

	Header ir.BlockID

	// Blocks lists the member blocks in topological order, header first.
	// Headers of nested loops appear as members (subheaders); their loop
	// bodies do not.
	Blocks []ir.BlockID

	// Preds are the logical predicates of this scope.
	Preds []PredID

	// Bound is the static loop trip count, or < 0 when none is known.
	// The root scope never has a bound.
	Bound int
}

// Tree is the scope tree over one function. Scopes[0] is the root.
type Tree struct {
	Scopes []Scope

	// Infos is indexed by block id.
	Infos []BlockInfo

	scopeOf []ScopeID
}

// NewTree builds a tree and derives the block-to-scope ownership map.
// A subheader belongs to its own (child) scope.
func NewTree(scopes []Scope, infos []BlockInfo) *Tree {
	t := &Tree{Scopes: scopes, Infos: infos}
	t.scopeOf = make([]ScopeID, len(infos))
	for i := range t.scopeOf {
		t.scopeOf[i] = NoScope
	}
	for sid := range scopes {
		for _, b := range scopes[sid].Blocks {
			t.scopeOf[b] = ScopeID(sid)
		}
	}
	// children claim their headers from the parent
	for sid := range scopes {
		t.scopeOf[scopes[sid].Header] = ScopeID(sid)
	}
	return t
}

// Root returns the id of the root scope.
func (t *Tree) Root() ScopeID { return 0 }

// IsRoot reports whether s is the function-level scope.
func (t *Tree) IsRoot(s ScopeID) bool { return s == 0 }

// ScopeOf returns the scope owning block b.
func (t *Tree) ScopeOf(b ir.BlockID) ScopeID { return t.scopeOf[b] }

// IsHeader reports whether b is the header of s.
func (t *Tree) IsHeader(s ScopeID, b ir.BlockID) bool {
	return t.Scopes[s].Header == b
}

// Subheader returns the child of s whose header is b, or NoScope.
func (t *Tree) Subheader(s ScopeID, b ir.BlockID) ScopeID {
	for _, c := range t.Scopes[s].Children {
		if t.Scopes[c].Header == b {
			return c
		}
	}
	return NoScope
}

// HasPred reports whether pred is a member of scope s.
func (t *Tree) HasPred(s ScopeID, pred PredID) bool {
	for _, p := range t.Scopes[s].Preds {
		if p == pred {
			return true
		}
	}
	return false
}

// HeaderPred returns the guard predicate of the scope's header block.
func (t *Tree) HeaderPred(s ScopeID) PredID {
	g := t.Infos[t.Scopes[s].Header].Guards
	if len(g) == 0 {
		return NoPred
	}
	return g[0]
}

// InstrPred returns the guard predicate of instruction idx in block b.
func (t *Tree) InstrPred(b ir.BlockID, idx int) PredID {
	info := &t.Infos[b]
	if idx < len(info.InstrPred) {
		return info.InstrPred[idx]
	}
	if len(info.Guards) == 0 {
		return NoPred
	}
	return info.Guards[0]
}

// PostOrder returns all scopes, children before parents.
func (t *Tree) PostOrder() []ScopeID {
	order := make([]ScopeID, 0, len(t.Scopes))
	var visit func(s ScopeID)
	visit = func(s ScopeID) {
		for _, c := range t.Scopes[s].Children {
			visit(c)
		}
		order = append(order, s)
	}
	visit(t.Root())
	return order
}

// PreOrder returns all scopes, parents before children, siblings in
// declaration order.
func (t *Tree) PreOrder() []ScopeID {
	order := make([]ScopeID, 0, len(t.Scopes))
	var visit func(s ScopeID)
	visit = func(s ScopeID) {
		order = append(order, s)
		for _, c := range t.Scopes[s].Children {
			visit(c)
		}
	}
	visit(t.Root())
	return order
}

// Walk folds over the tree in emission order: enter fires when a loop
// scope begins (never for the root), block fires for every member block in
// topological order, exit fires when a scope ends (including the root).
func (t *Tree) Walk(enter func(ScopeID), block func(ir.BlockID), exit func(ScopeID)) {
	var walk func(s ScopeID)
	walk = func(s ScopeID) {
		if !t.IsRoot(s) {
			enter(s)
		}
		for _, b := range t.Scopes[s].Blocks {
			if child := t.Subheader(s, b); child != NoScope {
				walk(child)
			} else {
				block(b)
			}
		}
		exit(s)
	}
	walk(t.Root())
}

// SucceedingBlocks returns the blocks outside scope s that member blocks
// of s have edges to, in member order.
func (t *Tree) SucceedingBlocks(s ScopeID, f *ir.Func) []ir.BlockID {
	inScope := make(map[ir.BlockID]bool, len(t.Scopes[s].Blocks))
	for _, b := range t.Scopes[s].Blocks {
		inScope[b] = true
	}
	var out []ir.BlockID
	seen := make(map[ir.BlockID]bool)
	for _, b := range t.Scopes[s].Blocks {
		for _, succ := range f.Block(b).Succs {
			if !inScope[succ] && !seen[succ] {
				seen[succ] = true
				out = append(out, succ)
			}
		}
	}
	return out
}
