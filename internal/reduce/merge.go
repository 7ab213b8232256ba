package reduce

// mergeBlocks splices every block with a single predecessor into that
// predecessor, walking the linearized chain in depth-first order. Loop
// headers keep their own block: they have two predecessors, the
// fall-through and the back-edge.
func (r *reducer) mergeBlocks() {
	order := r.f.DFSOrder()
	if len(order) == 0 {
		return
	}
	preds := r.f.Predecessors()
	merged := make([]bool, len(r.f.Blocks))

	base := order[0]
	for i := 1; i < len(order); i++ {
		b := order[i]
		if len(preds[b]) != 1 {
			base = b
			continue
		}
		bb := r.f.Block(b)
		bs := r.f.Block(base)
		bs.Instrs = append(bs.Instrs, bb.Instrs...)
		bs.RemoveSucc(b)
		bs.Succs = append(bs.Succs, bb.Succs...)
		bb.Instrs = nil
		bb.Succs = nil
		merged[b] = true
		r.stats.MergedBlocks++

		if len(bs.Succs) > 1 {
			// a back-edge ends the run; restart behind it
			i++
			if i < len(order) {
				base = order[i]
			}
		}
	}

	layout := r.f.Layout[:0]
	for _, b := range r.f.Layout {
		if !merged[b] {
			layout = append(layout, b)
		}
	}
	r.f.Layout = layout
}
