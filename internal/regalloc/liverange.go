package regalloc

import (
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// LiveRange tracks where one predicate is used and defined inside a scope.
// Positions index the scope's blocks in topological order; one extra
// position past the last block is the loop-repeat position, used only by
// the header predicate.
type LiveRange struct {
	uses *bitset.BitSet
	defs *bitset.BitSet
}

func newLiveRange(numBlocks int) *LiveRange {
	n := uint(numBlocks) + 1
	return &LiveRange{
		uses: bitset.New(n),
		defs: bitset.New(n),
	}
}

func (lr *LiveRange) AddUse(pos int) { lr.uses.Set(uint(pos)) }
func (lr *LiveRange) AddDef(pos int) { lr.defs.Set(uint(pos)) }

func (lr *LiveRange) IsUse(pos int) bool { return lr.uses.Test(uint(pos)) }
func (lr *LiveRange) IsDef(pos int) bool { return lr.defs.Test(uint(pos)) }

// LastUse reports whether no use remains after pos.
func (lr *LiveRange) LastUse(pos int) bool {
	_, ok := lr.uses.NextSet(uint(pos) + 1)
	return !ok
}

// HasDefBefore reports whether the predicate is defined strictly before
// pos.
func (lr *LiveRange) HasDefBefore(pos int) bool {
	i, ok := lr.defs.NextSet(0)
	return ok && int(i) < pos
}

// HasDefAfter reports whether the predicate is defined strictly after pos.
func (lr *LiveRange) HasDefAfter(pos int) bool {
	_, ok := lr.defs.NextSet(uint(pos) + 1)
	return ok
}

// AnyUseBefore reports whether the predicate is used at or before pos.
func (lr *LiveRange) AnyUseBefore(pos int) bool {
	i, ok := lr.uses.NextSet(0)
	return ok && int(i) <= pos
}

// HasNextUseBefore reports whether, scanning forward from pos, this range
// hits a use strictly before other does. Both ranges must cover the same
// scope.
func (lr *LiveRange) HasNextUseBefore(pos int, other *LiveRange) bool {
	for i := uint(pos); i < lr.uses.Len(); i++ {
		if other.uses.Test(i) {
			return false
		}
		if lr.uses.Test(i) {
			return true
		}
	}
	return false
}

// String renders the range: '-' neither, 'u' use, 'd' def, 'x' both.
func (lr *LiveRange) String() string {
	kind := [4]byte{'-', 'u', 'd', 'x'}
	var sb strings.Builder
	for i := uint(0); i < lr.uses.Len(); i++ {
		k := 0
		if lr.uses.Test(i) {
			k |= 1
		}
		if lr.defs.Test(i) {
			k |= 2
		}
		sb.WriteByte(kind[k])
	}
	return sb.String()
}
