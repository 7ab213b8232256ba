// Package driver runs the single-path conversion pipeline over function
// description files: load, frame preparation, predicate allocation,
// conversion to branch-free form, and redundant-load elimination. Problems
// surface as diagnostics; a Result with a nil Fn means the input never
// produced a usable function.
package driver

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"singlepath/internal/diag"
	"singlepath/internal/elim"
	"singlepath/internal/frame"
	"singlepath/internal/ir"
	"singlepath/internal/observ"
	"singlepath/internal/reduce"
	"singlepath/internal/regalloc"
	"singlepath/internal/scopes"
	"singlepath/internal/spfile"
)

// Digest is a content hash of an input description.
type Digest [sha256.Size]byte

// Result carries everything the pipeline produced for one input file.
type Result struct {
	Path       string
	SourceHash Digest

	Fn    *ir.Func
	Tree  *scopes.Tree
	Alloc *regalloc.Result
	Frame *frame.Table

	Stats        *reduce.Stats
	RemovedLoads int

	Bag    *diag.Bag
	Timing observ.Report
}

// OK reports whether the function converted without errors.
func (r *Result) OK() bool {
	return r.Fn != nil && !r.Bag.HasErrors()
}

// Convert runs the whole pipeline on one description file. The returned
// Result is never nil; check OK before using the converted function.
func Convert(path string, maxDiagnostics int) *Result {
	res := &Result{Path: path, Bag: diag.NewBag(maxDiagnostics)}
	timer := observ.NewTimer()
	defer func() { res.Timing = timer.Report() }()

	ph := timer.Begin("load")
	data, err := os.ReadFile(path)
	if err != nil {
		res.Bag.Add(diag.Errorf(diag.FileBadFormat, "", "%s: %v", path, err))
		timer.End(ph, "")
		return res
	}
	res.SourceHash = sha256.Sum256(data)
	fn, tree, err := spfile.Parse(string(data), path, res.Bag)
	if err != nil {
		timer.End(ph, "")
		return res
	}
	timer.End(ph, fn.Name)
	res.Fn, res.Tree = fn, tree

	ph = timer.Begin("frame")
	ft, err := frame.Prepare(fn, tree)
	if err != nil {
		res.Bag.Add(diag.Errorf(diag.ConvBadAlignment, fn.Name, "%v", err))
		timer.End(ph, "")
		return res
	}
	res.Frame = ft
	timer.End(ph, fmt.Sprintf("%d objects", ft.NumObjects()))

	ph = timer.Begin("regalloc")
	alloc, err := regalloc.Compute(fn, tree, len(fn.AvailPreds)-1)
	if err != nil {
		var ub *regalloc.UseBeforeDefError
		if errors.As(err, &ub) {
			res.Bag.Add(diag.Errorf(diag.ConvUseBeforeDef, fn.Name,
				"predicate p%d used in bb%d before definition", ub.Pred, ub.Block))
		} else {
			res.Bag.Add(diag.Errorf(diag.ConvBadRegConstraint, fn.Name, "%v", err))
		}
		timer.End(ph, "")
		return res
	}
	res.Alloc = alloc
	timer.End(ph, fmt.Sprintf("%d predicates, %d spill bits", alloc.NumPredicates, alloc.SpillLocs))

	// the allocator may claim more packed spill bits than the frame
	// estimate reserved
	if err := ft.EnsureSpillBits(alloc.SpillLocs); err != nil {
		res.Bag.Add(diag.Errorf(diag.ConvBadAlignment, fn.Name, "%v", err))
		return res
	}

	ph = timer.Begin("reduce")
	stats, err := reduce.Run(fn, tree, alloc, ft)
	if err != nil {
		res.Bag.Add(diag.Errorf(diag.ConvUnsupportedDef, fn.Name, "%v", err))
		timer.End(ph, "")
		return res
	}
	res.Stats = stats
	timer.End(ph, fmt.Sprintf("+%d instrs, -%d branches", stats.InsertedInstrs, stats.RemovedBranches))

	ph = timer.Begin("elim")
	res.RemovedLoads = elim.Run(fn, ir.RScratch, ft.NumObjects())
	timer.End(ph, fmt.Sprintf("-%d loads", res.RemovedLoads))

	return res
}
