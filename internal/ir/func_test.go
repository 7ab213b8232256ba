package ir

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// graph builds a function from successor lists, entry at block 0.
func graph(succs ...[]BlockID) *Func {
	f := &Func{Name: "g"}
	for _, ss := range succs {
		id := f.AddBlock()
		f.Blocks[id].Succs = ss
		f.Layout = append(f.Layout, id)
	}
	return f
}

func TestTraversalsOnDiamondWithLoop(t *testing.T) {
	// bb0 -> {bb1, bb2} -> bb3 -> {bb1, bb4}; bb5 is unreachable
	f := graph(
		[]BlockID{1, 2},
		[]BlockID{3},
		[]BlockID{3},
		[]BlockID{1, 4},
		nil,
		[]BlockID{0},
	)

	if diff := cmp.Diff([]BlockID{0, 1, 3, 4, 2}, f.DFSOrder()); diff != "" {
		t.Errorf("DFSOrder (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]BlockID{0, 2, 1, 3, 4}, f.RPO()); diff != "" {
		t.Errorf("RPO (-want +got):\n%s", diff)
	}

	// Predecessors covers the whole block table, so the unreachable
	// bb5 still shows up as a predecessor of the entry.
	preds := f.Predecessors()
	want := [][]BlockID{{5}, {0, 3}, {0}, {1, 2}, {3}, nil}
	if diff := cmp.Diff(want, preds); diff != "" {
		t.Errorf("Predecessors (-want +got):\n%s", diff)
	}
}

func TestHasCallsAndNumInstrs(t *testing.T) {
	f := graph([]BlockID{1}, nil)
	f.Blocks[0].Instrs = []Instr{
		{Kind: InstrOpaque, Opaque: OpaqueInstr{Text: "a"}},
		{Kind: InstrOpaque, Opaque: OpaqueInstr{Text: "b"}},
	}
	if f.HasCalls() {
		t.Errorf("HasCalls = true for a call-free function")
	}
	f.Blocks[1].Instrs = []Instr{{Kind: InstrCall, Call: CallInstr{Callee: "h"}}}
	if !f.HasCalls() {
		t.Errorf("HasCalls = false with a call present")
	}
	if got := f.NumInstrs(); got != 3 {
		t.Errorf("NumInstrs = %d, want 3", got)
	}
}

func TestFormatInstrGuards(t *testing.T) {
	tests := []struct {
		in   Instr
		want string
	}{
		{
			in:   Instr{Kind: InstrOpaque, Opaque: OpaqueInstr{Text: "add r1 = r2, r3"}},
			want: "add r1 = r2, r3",
		},
		{
			in: Instr{Kind: InstrOpaque, Guard: Guard{Reg: 2, Neg: true},
				Opaque: OpaqueInstr{Text: "nop"}},
			want: "(!p2) nop",
		},
		{
			in: Instr{Kind: InstrPredAnd,
				PredAnd: PredAndInstr{Dst: 1, Src1: 2, Src2: 3, Src2Neg: true}},
			want: "pand p1 = p2, !p3",
		},
		{
			in: Instr{Kind: InstrBranch, Guard: Guard{Reg: 4},
				Branch: BranchInstr{Target: 7}},
			want: "(p4) br bb7",
		},
		{
			in: Instr{Kind: InstrLoadSlot,
				LoadSlot: LoadSlotInstr{Dst: RScratch, Slot: 3}},
			want: "lws r26 = [fi3]",
		},
		{
			in: Instr{Kind: InstrCmpLt,
				CmpLt: CmpLtInstr{Dst: 5, LHS: RZero, RHS: RScratch}},
			want: "cmplt p5 = r0, r26",
		},
	}
	for _, tt := range tests {
		if got := FormatInstr(&tt.in); got != tt.want {
			t.Errorf("FormatInstr = %q, want %q", got, tt.want)
		}
	}
}

func TestDumpFuncFollowsLayout(t *testing.T) {
	f := graph([]BlockID{1}, nil)
	f.Blocks[0].Instrs = []Instr{{Kind: InstrOpaque, Opaque: OpaqueInstr{Text: "init"}}}
	f.Blocks[1].Instrs = []Instr{{Kind: InstrRet}}

	var sb strings.Builder
	if err := DumpFunc(&sb, f); err != nil {
		t.Fatalf("DumpFunc failed: %v", err)
	}
	out := sb.String()
	for _, part := range []string{"func g entry=bb0 blocks=2", "bb0:", "-> bb1", "init", "ret"} {
		if !strings.Contains(out, part) {
			t.Errorf("dump missing %q:\n%s", part, out)
		}
	}
	if i, j := strings.Index(out, "bb0:"), strings.Index(out, "bb1:"); i > j {
		t.Errorf("blocks dumped out of layout order:\n%s", out)
	}
}
