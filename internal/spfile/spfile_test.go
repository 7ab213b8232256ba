package spfile

import (
	"testing"

	"singlepath/internal/diag"
	"singlepath/internal/ir"
)

const validSrc = `
name = "loop"
root = true
pred-regs = 8
entry = 0

[[block]]
id = 0
guards = [0]
succs = [1]
instrs = [
	{text = "prologue", frame-setup = true},
	{text = "init"},
]
defs = [{pred = 1, guard = 0, cond = "p3"}]

[[block]]
id = 1
guards = [1]
succs = [1, 2]
instrs = [{op = "call", callee = "step"}]
defs = [{pred = 1, guard = 1, cond = "!p4"}]

[[block]]
id = 2
guards = [0]
live-ins = [5]
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
bound = 7
`

func TestParseValid(t *testing.T) {
	bag := diag.NewBag(16)
	fn, tree, err := Parse(validSrc, "loop.toml", bag)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if bag.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", bag.Items())
	}

	if fn.Name != "loop" || !fn.Root || fn.PredRegCount != 8 {
		t.Errorf("header = %q/%v/%d, want loop/true/8", fn.Name, fn.Root, fn.PredRegCount)
	}
	if len(fn.Blocks) != 3 || fn.Entry != 0 {
		t.Fatalf("blocks = %d entry = %d, want 3/0", len(fn.Blocks), fn.Entry)
	}

	// p3 and p4 are claimed by conditions, p5 by a live-in
	wantAvail := []ir.PredReg{1, 2, 6, 7}
	if len(fn.AvailPreds) != len(wantAvail) {
		t.Fatalf("AvailPreds = %v, want %v", fn.AvailPreds, wantAvail)
	}
	for i, r := range wantAvail {
		if fn.AvailPreds[i] != r {
			t.Fatalf("AvailPreds = %v, want %v", fn.AvailPreds, wantAvail)
		}
	}

	// the back-edge is materialized as a branch, the fall-throughs are not
	b1 := fn.Block(1)
	last := b1.Instrs[len(b1.Instrs)-1]
	if last.Kind != ir.InstrBranch || last.Branch.Target != 1 {
		t.Errorf("bb1 does not end in a back-branch: %+v", last)
	}
	for _, in := range fn.Block(0).Instrs {
		if in.Kind == ir.InstrBranch {
			t.Errorf("bb0 got a branch for its fall-through edge")
		}
	}
	if !fn.Block(0).Instrs[0].FrameSetup {
		t.Errorf("frame-setup flag lost")
	}
	if fn.Block(1).Instrs[0].Kind != ir.InstrCall || fn.Block(1).Instrs[0].Call.Callee != "step" {
		t.Errorf("call lost: %+v", fn.Block(1).Instrs[0])
	}

	if len(tree.Scopes) != 2 {
		t.Fatalf("scopes = %d, want 2", len(tree.Scopes))
	}
	loop := tree.Scopes[1]
	if loop.Parent != 0 || loop.Depth != 1 || loop.Bound != 7 {
		t.Errorf("loop scope = parent %d depth %d bound %d, want 0/1/7",
			loop.Parent, loop.Depth, loop.Bound)
	}
	if tree.ScopeOf(1) != 1 {
		t.Errorf("ScopeOf(bb1) = %d, want 1 (subheaders belong to their loop)", tree.ScopeOf(1))
	}
	d := tree.Infos[1].Defs[0]
	if d.Pred != 1 || d.Guard != 1 || d.Cond.Reg != 4 || !d.Cond.Neg {
		t.Errorf("bb1 def = %+v, want p1 = p1 & !p4", d)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code diag.Code
	}{
		{
			name: "not toml",
			src:  "= bogus",
			code: diag.FileBadFormat,
		},
		{
			name: "missing name",
			src: `
pred-regs = 4
entry = 0
[[block]]
id = 0
[[scope]]
header = 0
blocks = [0]
parent = -1
`,
			code: diag.FileBadFormat,
		},
		{
			name: "pred-regs out of range",
			src: `
name = "f"
pred-regs = 1
entry = 0
[[block]]
id = 0
[[scope]]
header = 0
blocks = [0]
parent = -1
`,
			code: diag.FileBadFormat,
		},
		{
			name: "pred-regs beyond the predicate-file width",
			src: `
name = "f"
pred-regs = 16
entry = 0
[[block]]
id = 0
[[scope]]
header = 0
blocks = [0]
parent = -1
`,
			code: diag.FileBadFormat,
		},
		{
			name: "successor out of range",
			src: `
name = "f"
pred-regs = 4
entry = 0
[[block]]
id = 0
succs = [7]
[[scope]]
header = 0
blocks = [0]
parent = -1
`,
			code: diag.FileBadBlock,
		},
		{
			name: "unknown op",
			src: `
name = "f"
pred-regs = 4
entry = 0
[[block]]
id = 0
instrs = [{op = "jmp"}]
[[scope]]
header = 0
blocks = [0]
parent = -1
`,
			code: diag.FileBadBlock,
		},
		{
			name: "condition is the always-true register",
			src: `
name = "f"
pred-regs = 4
entry = 0
[[block]]
id = 0
defs = [{pred = 1, guard = 0, cond = "p0"}]
[[scope]]
header = 0
blocks = [0]
preds = [0, 1]
parent = -1
`,
			code: diag.ConvBadRegConstraint,
		},
		{
			name: "scope zero not root",
			src: `
name = "f"
pred-regs = 4
entry = 0
[[block]]
id = 0
[[scope]]
header = 0
blocks = [0]
parent = 0
`,
			code: diag.FileBadScope,
		},
		{
			name: "parent after child",
			src: `
name = "f"
pred-regs = 4
entry = 0
[[block]]
id = 0
succs = [1]
[[block]]
id = 1
succs = [1]
[[scope]]
header = 0
blocks = [0, 1]
parent = -1
[[scope]]
header = 1
blocks = [1]
parent = 2
bound = 3
`,
			code: diag.FileBadScope,
		},
		{
			name: "loop without bound",
			src: `
name = "f"
pred-regs = 4
entry = 0
[[block]]
id = 0
succs = [1]
[[block]]
id = 1
succs = [1]
[[scope]]
header = 0
blocks = [0, 1]
parent = -1
[[scope]]
header = 1
blocks = [1]
parent = 0
`,
			code: diag.FileBadScope,
		},
		{
			name: "block list does not start with header",
			src: `
name = "f"
pred-regs = 4
entry = 0
[[block]]
id = 0
succs = [1]
[[block]]
id = 1
[[scope]]
header = 0
blocks = [1, 0]
parent = -1
`,
			code: diag.FileBadScope,
		},
		{
			name: "instr-preds length mismatch",
			src: `
name = "f"
pred-regs = 4
entry = 0
[[block]]
id = 0
instrs = [{text = "a"}, {text = "b"}]
instr-preds = [0]
[[scope]]
header = 0
blocks = [0]
parent = -1
`,
			code: diag.FileBadBlock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bag := diag.NewBag(16)
			_, _, err := Parse(tt.src, tt.name, bag)
			if err == nil {
				t.Fatalf("Parse accepted invalid input")
			}
			if !bag.HasErrors() {
				t.Fatalf("no diagnostics collected")
			}
			found := false
			for _, d := range bag.Items() {
				if d.Code == tt.code {
					found = true
				}
			}
			if !found {
				t.Errorf("no diagnostic with code %s; got %v", tt.code, bag.Items())
			}
		})
	}
}
