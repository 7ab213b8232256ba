// Package spfile loads a function description from TOML: the blocks and
// edges of the control-flow graph, the scope tree the decomposition
// collaborator produced, and the per-block guard and definition
// annotations. The loader validates shape only; semantic invariants are
// checked by the conversion phases.
package spfile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"fortio.org/safecast"

	"singlepath/internal/diag"
	"singlepath/internal/ir"
	"singlepath/internal/scopes"
)

// maxPredRegs is the predicate-file width: the file is saved and restored
// through a single byte, one bit per register.
const maxPredRegs = 8

type fileDef struct {
	Pred  int64  `toml:"pred"`
	Guard int64  `toml:"guard"`
	Cond  string `toml:"cond"`
}

type fileInstr struct {
	Op         string `toml:"op"`
	Text       string `toml:"text"`
	Callee     string `toml:"callee"`
	Guard      string `toml:"guard"`
	FrameSetup bool   `toml:"frame-setup"`
	Unpred     bool   `toml:"unpredicable"`
}

type fileBlock struct {
	ID         int64       `toml:"id"`
	Guards     []int64     `toml:"guards"`
	InstrPreds []int64     `toml:"instr-preds"`
	LiveIns    []int64     `toml:"live-ins"`
	Succs      []int64     `toml:"succs"`
	Instrs     []fileInstr `toml:"instrs"`
	Defs       []fileDef   `toml:"defs"`
}

type fileScope struct {
	Header int64   `toml:"header"`
	Blocks []int64 `toml:"blocks"`
	Preds  []int64 `toml:"preds"`
	Bound  int64   `toml:"bound"`
	Parent int64   `toml:"parent"`
}

type file struct {
	Name     string      `toml:"name"`
	Root     bool        `toml:"root"`
	PredRegs int64       `toml:"pred-regs"`
	Entry    int64       `toml:"entry"`
	Blocks   []fileBlock `toml:"block"`
	Scopes   []fileScope `toml:"scope"`
}

// Load reads and validates a function description. Validation problems
// are collected in bag; a non-nil error means the function is unusable.
func Load(path string, bag *diag.Bag) (*ir.Func, *scopes.Tree, error) {
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		bag.Add(diag.Errorf(diag.FileBadFormat, "", "%s: %v", path, err))
		return nil, nil, fmt.Errorf("spfile: %s: failed to parse TOML: %w", path, err)
	}
	return build(&f, bag)
}

// Parse decodes a function description from memory; name labels
// diagnostics.
func Parse(data string, name string, bag *diag.Bag) (*ir.Func, *scopes.Tree, error) {
	var f file
	if _, err := toml.Decode(data, &f); err != nil {
		bag.Add(diag.Errorf(diag.FileBadFormat, name, "%v", err))
		return nil, nil, fmt.Errorf("spfile: %s: failed to parse TOML: %w", name, err)
	}
	return build(&f, bag)
}

func build(f *file, bag *diag.Bag) (*ir.Func, *scopes.Tree, error) {
	before := bag.Len()

	if f.Name == "" {
		bag.Add(diag.Errorf(diag.FileBadFormat, "", "function has no name"))
	}
	if f.PredRegs < 2 || f.PredRegs > maxPredRegs {
		bag.Add(diag.Errorf(diag.FileBadFormat, f.Name,
			"pred-regs must be in [2, %d], got %d", maxPredRegs, f.PredRegs))
	}
	if len(f.Blocks) == 0 {
		bag.Add(diag.Errorf(diag.FileBadFormat, f.Name, "function has no blocks"))
	}
	if len(f.Scopes) == 0 {
		bag.Add(diag.Errorf(diag.FileBadScope, f.Name, "function has no scopes"))
	}
	if bag.HasErrors() && bag.Len() > before {
		return nil, nil, fmt.Errorf("spfile: %s: invalid description", f.Name)
	}

	fn := &ir.Func{
		Name:         f.Name,
		Root:         f.Root,
		PredRegCount: int(f.PredRegs),
	}

	numBlocks := len(f.Blocks)
	blockOK := func(id int64) bool { return id >= 0 && id < int64(numBlocks) }

	// registers claimed by conditions and live-ins are not allocatable
	reserved := make(map[ir.PredReg]bool)

	fn.Blocks = make([]ir.Block, numBlocks)
	infos := make([]scopes.BlockInfo, numBlocks)
	for i, b := range f.Blocks {
		if b.ID != int64(i) {
			bag.Add(diag.Errorf(diag.FileBadBlock, f.Name,
				"block %d declared out of order (id %d)", i, b.ID))
			continue
		}
		blk := &fn.Blocks[i]
		blk.ID = ir.BlockID(i)

		for _, s := range b.Succs {
			if !blockOK(s) {
				bag.Add(diag.Errorf(diag.FileBadBlock, f.Name,
					"bb%d: successor %d out of range", i, s))
				continue
			}
			blk.Succs = append(blk.Succs, ir.BlockID(s))
		}
		for _, li := range b.LiveIns {
			reg, err := safecast.Conv[uint8](li)
			if err != nil || int64(reg) >= f.PredRegs {
				bag.Add(diag.Errorf(diag.FileBadBlock, f.Name,
					"bb%d: live-in register %d out of range", i, li))
				continue
			}
			blk.LiveIns = append(blk.LiveIns, ir.PredReg(reg))
			reserved[ir.PredReg(reg)] = true
		}

		for k, in := range b.Instrs {
			instr, err := buildInstr(f, i, k, in, reserved, bag)
			if err != nil {
				continue
			}
			blk.Instrs = append(blk.Instrs, instr)
		}

		// synthesize the branches the decomposition abstracted away: every
		// successor except the layout fall-through ends the block as a
		// branch
		for _, s := range blk.Succs {
			if s != ir.BlockID(i+1) {
				blk.Instrs = append(blk.Instrs, ir.Instr{
					Kind:   ir.InstrBranch,
					Branch: ir.BranchInstr{Target: s},
				})
			}
		}

		info := &infos[i]
		for _, g := range b.Guards {
			info.Guards = append(info.Guards, scopes.PredID(g))
		}
		if len(b.InstrPreds) > 0 && len(b.InstrPreds) != len(b.Instrs) {
			bag.Add(diag.Errorf(diag.FileBadBlock, f.Name,
				"bb%d: instr-preds has %d entries for %d instructions",
				i, len(b.InstrPreds), len(b.Instrs)))
		}
		for _, p := range b.InstrPreds {
			info.InstrPred = append(info.InstrPred, scopes.PredID(p))
		}
		for _, d := range b.Defs {
			cond, err := parseCond(d.Cond, f.PredRegs)
			if err != nil {
				bag.Add(diag.Errorf(diag.ConvBadRegConstraint, f.Name,
					"bb%d: %v", i, err))
				continue
			}
			reserved[cond.Reg] = true
			info.Defs = append(info.Defs, scopes.Definition{
				Pred:  scopes.PredID(d.Pred),
				Guard: scopes.PredID(d.Guard),
				Cond:  cond,
			})
		}
	}

	if !blockOK(f.Entry) {
		bag.Add(diag.Errorf(diag.FileBadFormat, f.Name,
			"entry block %d out of range", f.Entry))
	} else {
		fn.Entry = ir.BlockID(f.Entry)
	}
	for i := range fn.Blocks {
		fn.Layout = append(fn.Layout, ir.BlockID(i))
	}

	// everything except the always-true register and the reserved ones is
	// free for predicate allocation
	for reg := ir.PredReg(1); int64(reg) < f.PredRegs; reg++ {
		if !reserved[reg] {
			fn.AvailPreds = append(fn.AvailPreds, reg)
		}
	}

	scs := make([]scopes.Scope, len(f.Scopes))
	for i, s := range f.Scopes {
		sc := &scs[i]
		if i == 0 {
			if s.Parent >= 0 {
				bag.Add(diag.Errorf(diag.FileBadScope, f.Name,
					"scope 0 must be the root scope"))
			}
			sc.Parent = scopes.NoScope
		} else {
			if s.Parent < 0 || s.Parent >= int64(i) {
				bag.Add(diag.Errorf(diag.FileBadScope, f.Name,
					"scope %d: parent %d must precede it", i, s.Parent))
				continue
			}
			sc.Parent = scopes.ScopeID(s.Parent)
			sc.Depth = scs[s.Parent].Depth + 1
			scs[s.Parent].Children = append(scs[s.Parent].Children, scopes.ScopeID(i))
		}
		if !blockOK(s.Header) {
			bag.Add(diag.Errorf(diag.FileBadScope, f.Name,
				"scope %d: header %d out of range", i, s.Header))
			continue
		}
		sc.Header = ir.BlockID(s.Header)
		if len(s.Blocks) == 0 || s.Blocks[0] != s.Header {
			bag.Add(diag.Errorf(diag.FileBadScope, f.Name,
				"scope %d: block list must start with the header", i))
		}
		for _, b := range s.Blocks {
			if !blockOK(b) {
				bag.Add(diag.Errorf(diag.FileBadScope, f.Name,
					"scope %d: member %d out of range", i, b))
				continue
			}
			sc.Blocks = append(sc.Blocks, ir.BlockID(b))
		}
		for _, p := range s.Preds {
			sc.Preds = append(sc.Preds, scopes.PredID(p))
		}
		sc.Bound = int(s.Bound)
		if i > 0 && s.Bound <= 0 {
			bag.Add(diag.Errorf(diag.FileBadScope, f.Name,
				"scope %d: loop needs a positive trip-count bound", i))
		}
	}

	if bag.HasErrors() && bag.Len() > before {
		return nil, nil, fmt.Errorf("spfile: %s: invalid description", f.Name)
	}
	return fn, scopes.NewTree(scs, infos), nil
}

func buildInstr(f *file, blockIdx, instrIdx int, in fileInstr,
	reserved map[ir.PredReg]bool, bag *diag.Bag) (ir.Instr, error) {

	instr := ir.Instr{FrameSetup: in.FrameSetup}
	switch in.Op {
	case "", "body":
		instr.Kind = ir.InstrOpaque
		instr.Opaque = ir.OpaqueInstr{Text: in.Text, Predicable: !in.Unpred}
	case "call":
		instr.Kind = ir.InstrCall
		instr.Call = ir.CallInstr{Callee: in.Callee}
	case "ret":
		instr.Kind = ir.InstrRet
	case "stackctl":
		instr.Kind = ir.InstrStackCtrl
	default:
		d := diag.Errorf(diag.FileBadBlock, f.Name,
			"bb%d: instruction %d has unknown op %q", blockIdx, instrIdx, in.Op)
		bag.Add(d)
		return ir.Instr{}, fmt.Errorf("%s", d.Message)
	}
	if in.Guard != "" {
		cond, err := parseCond(in.Guard, f.PredRegs)
		if err != nil {
			d := diag.Errorf(diag.ConvBadRegConstraint, f.Name,
				"bb%d: instruction %d: %v", blockIdx, instrIdx, err)
			bag.Add(d)
			return ir.Instr{}, fmt.Errorf("%s", d.Message)
		}
		reserved[cond.Reg] = true
		instr.Guard = ir.Guard{Reg: cond.Reg, Neg: cond.Neg}
	}
	return instr, nil
}

// parseCond parses a condition register constraint: "p3" or "!p3".
func parseCond(s string, predRegs int64) (scopes.Cond, error) {
	var c scopes.Cond
	rest := s
	if strings.HasPrefix(rest, "!") {
		c.Neg = true
		rest = rest[1:]
	}
	if !strings.HasPrefix(rest, "p") {
		return c, fmt.Errorf("malformed condition register %q", s)
	}
	n, err := strconv.ParseUint(rest[1:], 10, 8)
	if err != nil || int64(n) >= predRegs {
		return c, fmt.Errorf("malformed condition register %q", s)
	}
	if n == 0 {
		// the always-true register carries no branch condition
		return c, fmt.Errorf("condition register %q is the always-true register", s)
	}
	c.Reg = ir.PredReg(n)
	return c, nil
}
