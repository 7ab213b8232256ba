package ir

// BlockID indexes a block inside its function.
type BlockID int32

const NoBlock BlockID = -1

type Block struct {
	ID     BlockID
	Instrs []Instr

	// Succs lists the successor edges. After linearization only loop
	// back-edges remain; everything else is fall-through in layout order.
	Succs []BlockID

	// LiveIns names physical predicate registers that are live into this
	// block from outside the conversion (condition registers assigned by
	// the generic allocator). The postloop restore merges them back into
	// the predicate file.
	LiveIns []PredReg
}

// HasSucc reports whether b has an edge to id.
func (b *Block) HasSucc(id BlockID) bool {
	for _, s := range b.Succs {
		if s == id {
			return true
		}
	}
	return false
}

// RemoveSucc deletes the edge to id, if present.
func (b *Block) RemoveSucc(id BlockID) {
	for i, s := range b.Succs {
		if s == id {
			b.Succs = append(b.Succs[:i], b.Succs[i+1:]...)
			return
		}
	}
}
