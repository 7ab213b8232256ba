package regalloc

import (
	"fmt"
	"sort"
)

// LocKind distinguishes register from stack-spill locations.
type LocKind uint8

const (
	Register LocKind = iota
	Stack
)

// Location is a predicate location: a register or a packed stack-spill
// bit. Indices are scope-local until unification.
type Location struct {
	Kind  LocKind
	Index int
}

func (l Location) IsRegister() bool { return l.Kind == Register }
func (l Location) IsStack() bool    { return l.Kind == Stack }

func (l Location) String() string {
	if l.Kind == Register {
		return fmt.Sprintf("reg(%d)", l.Index)
	}
	return fmt.Sprintf("stack(%d)", l.Index)
}

// freePool hands out predicate locations for one scope. Released
// locations are reused lowest-index first, registers before stack slots;
// when the pool is dry a fresh location is minted, a register while the
// budget lasts, a stack slot afterwards.
type freePool struct {
	regs    []int
	stacks  []int
	numLocs int
	maxRegs int
}

func newFreePool(maxRegs int) *freePool {
	return &freePool{maxRegs: maxRegs}
}

// take returns the next available location.
func (p *freePool) take() Location {
	if len(p.regs) > 0 {
		idx := p.regs[0]
		p.regs = p.regs[1:]
		return Location{Kind: Register, Index: idx}
	}
	if len(p.stacks) > 0 {
		idx := p.stacks[0]
		p.stacks = p.stacks[1:]
		return Location{Kind: Stack, Index: idx}
	}
	idx := p.numLocs
	p.numLocs++
	if idx < p.maxRegs {
		return Location{Kind: Register, Index: idx}
	}
	return Location{Kind: Stack, Index: idx - p.maxRegs}
}

// hasRegister reports whether the next take that wants a register will get
// one.
func (p *freePool) hasRegister() bool {
	return len(p.regs) > 0 || p.numLocs < p.maxRegs
}

// release returns a location to the pool.
func (p *freePool) release(l Location) {
	if l.Kind == Register {
		p.regs = insertSorted(p.regs, l.Index)
	} else {
		p.stacks = insertSorted(p.stacks, l.Index)
	}
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
