// Package frame collects the frame-layout requests the conversion makes:
// loop-counter words, predicate-file save bytes, packed predicate spill
// words, and the call-site scratch slot. Offsets are assigned later by the
// frame layout collaborator; here objects are only numbered.
package frame

import (
	"fmt"

	"singlepath/internal/ir"
	"singlepath/internal/scopes"
)

const (
	// WordSize is the natural word size in bytes. Alignment requests above
	// it are not supported.
	WordSize = 4
	// WordBits is the number of predicate spill bits per packed word.
	WordBits = 32
)

// Object is one reserved frame object.
type Object struct {
	Size  uint32
	Align uint32
}

// Table numbers the frame objects reserved for one function.
type Table struct {
	objects []Object

	loopCnt    []ir.FrameIndex // per nesting depth, starting at depth 1
	predFile   []ir.FrameIndex // per nesting depth, starting at depth 1
	spillWords []ir.FrameIndex
	callSpill  ir.FrameIndex
}

// Prepare reserves the frame objects a function needs, sized from the
// scope tree: one loop-counter word and one predicate-file byte per
// nesting depth, packed spill words for predicates exceeding the register
// budget, and a scratch save slot when the function makes calls.
func Prepare(f *ir.Func, tree *scopes.Tree) (*Table, error) {
	t := &Table{callSpill: ir.NoFrame}

	// maximum predicate count per nesting depth
	var required []int
	for s := range tree.Scopes {
		d := tree.Scopes[s].Depth
		for d >= len(required) {
			required = append(required, 0)
		}
		if n := len(tree.Scopes[s].Preds); n > required[d] {
			required[d] = n
		}
	}

	for d := 1; d < len(required); d++ {
		fi, err := t.reserve(WordSize, WordSize)
		if err != nil {
			return nil, err
		}
		t.loopCnt = append(t.loopCnt, fi)
	}
	for d := 1; d < len(required); d++ {
		fi, err := t.reserve(1, 1)
		if err != nil {
			return nil, err
		}
		t.predFile = append(t.predFile, fi)
	}

	// one temporary bit per overflowing depth covers location exchanges
	budget := len(f.AvailPreds) - 1
	bits := 0
	for _, preds := range required {
		if over := preds - budget; over > 0 {
			bits += over + 1
		}
	}
	if err := t.EnsureSpillBits(bits); err != nil {
		return nil, err
	}

	if f.HasCalls() {
		fi, err := t.reserve(WordSize, WordSize)
		if err != nil {
			return nil, err
		}
		t.callSpill = fi
	}
	return t, nil
}

func (t *Table) reserve(size, align uint32) (ir.FrameIndex, error) {
	if align > WordSize {
		return ir.NoFrame, fmt.Errorf("frame: alignment %d exceeds word size", align)
	}
	fi := ir.FrameIndex(len(t.objects))
	t.objects = append(t.objects, Object{Size: size, Align: align})
	return fi, nil
}

// EnsureSpillBits grows the packed spill pool until it holds at least
// bits predicate bits.
func (t *Table) EnsureSpillBits(bits int) error {
	for len(t.spillWords)*WordBits < bits {
		fi, err := t.reserve(WordSize, WordSize)
		if err != nil {
			return err
		}
		t.spillWords = append(t.spillWords, fi)
	}
	return nil
}

// LoopCntFI returns the loop-counter slot for a scope at the given
// nesting depth (depth >= 1).
func (t *Table) LoopCntFI(depth int) ir.FrameIndex {
	return t.loopCnt[depth-1]
}

// PredFileFI returns the predicate-file save slot for the given depth
// (depth >= 1).
func (t *Table) PredFileFI(depth int) ir.FrameIndex {
	return t.predFile[depth-1]
}

// SpillSlot maps a unified stack-slot index to its packed word and bit
// position.
func (t *Table) SpillSlot(loc int) (ir.FrameIndex, uint32) {
	return t.spillWords[loc/WordBits], uint32(loc % WordBits)
}

// CallSpillFI returns the call-site scratch save slot.
func (t *Table) CallSpillFI() ir.FrameIndex {
	return t.callSpill
}

// SpillWordCount returns how many packed spill words are reserved.
func (t *Table) SpillWordCount() int { return len(t.spillWords) }

// NumObjects returns the total number of reserved frame objects. Together
// with the zero origin this is the slot range the redundant-load
// eliminator tracks.
func (t *Table) NumObjects() int { return len(t.objects) }

// Objects returns the reserved objects for the frame layout collaborator.
func (t *Table) Objects() []Object { return t.objects }
