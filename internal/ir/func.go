package ir

// Func is one function undergoing single-path conversion.
type Func struct {
	Name string

	// Root is true for the entry point of the single-path region. A
	// non-root function is a converted callee and receives its top-level
	// guard from the caller in the temporary predicate register.
	Root bool

	// PredRegCount is the total number of physical predicate registers of
	// the target, including the always-true register.
	PredRegCount int

	// AvailPreds lists the predicate registers free for allocation, in
	// ascending order. Condition and live-out registers are excluded.
	AvailPreds []PredReg

	Entry  BlockID
	Blocks []Block

	// Layout is the physical emission order of blocks. Fall-through goes
	// to the next block in layout order.
	Layout []BlockID
}

// Block returns the block with the given id.
func (f *Func) Block(id BlockID) *Block {
	return &f.Blocks[id]
}

// HasCalls reports whether any block contains a call instruction.
func (f *Func) HasCalls() bool {
	for i := range f.Blocks {
		for j := range f.Blocks[i].Instrs {
			if f.Blocks[i].Instrs[j].Kind == InstrCall {
				return true
			}
		}
	}
	return false
}

// Predecessors computes the predecessor lists of all blocks.
func (f *Func) Predecessors() [][]BlockID {
	preds := make([][]BlockID, len(f.Blocks))
	for i := range f.Blocks {
		for _, s := range f.Blocks[i].Succs {
			preds[s] = append(preds[s], f.Blocks[i].ID)
		}
	}
	return preds
}

// DFSOrder returns the blocks reachable from the entry in depth-first
// preorder, following successor edges in order.
func (f *Func) DFSOrder() []BlockID {
	order := make([]BlockID, 0, len(f.Blocks))
	seen := make([]bool, len(f.Blocks))
	var visit func(id BlockID)
	visit = func(id BlockID) {
		if id < 0 || int(id) >= len(f.Blocks) || seen[id] {
			return
		}
		seen[id] = true
		order = append(order, id)
		for _, s := range f.Blocks[id].Succs {
			visit(s)
		}
	}
	visit(f.Entry)
	return order
}

// RPO returns the blocks reachable from the entry in reverse postorder.
func (f *Func) RPO() []BlockID {
	post := make([]BlockID, 0, len(f.Blocks))
	seen := make([]bool, len(f.Blocks))
	var visit func(id BlockID)
	visit = func(id BlockID) {
		if id < 0 || int(id) >= len(f.Blocks) || seen[id] {
			return
		}
		seen[id] = true
		for _, s := range f.Blocks[id].Succs {
			visit(s)
		}
		post = append(post, id)
	}
	visit(f.Entry)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// NumInstrs counts the instructions of all blocks.
func (f *Func) NumInstrs() int {
	n := 0
	for i := range f.Blocks {
		n += len(f.Blocks[i].Instrs)
	}
	return n
}

// AddBlock appends a fresh empty block and returns its id. The block is
// not placed in the layout; the caller decides where it goes.
func (f *Func) AddBlock() BlockID {
	id := BlockID(len(f.Blocks))
	f.Blocks = append(f.Blocks, Block{ID: id})
	return id
}
