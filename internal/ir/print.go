package ir

import (
	"fmt"
	"io"
)

// DumpFunc writes a human-readable representation of a function, in layout
// order. Blocks not in the layout (unreachable after merging) are skipped.
func DumpFunc(w io.Writer, f *Func) error {
	if w == nil || f == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "func %s entry=bb%d blocks=%d\n",
		f.Name, f.Entry, len(f.Layout)); err != nil {
		return err
	}
	for _, id := range f.Layout {
		b := &f.Blocks[id]
		fmt.Fprintf(w, "bb%d:", b.ID)
		if len(b.Succs) > 0 {
			fmt.Fprint(w, "  ->")
			for _, s := range b.Succs {
				fmt.Fprintf(w, " bb%d", s)
			}
		}
		fmt.Fprintln(w)
		for i := range b.Instrs {
			if _, err := fmt.Fprintf(w, "  %s\n", FormatInstr(&b.Instrs[i])); err != nil {
				return err
			}
		}
	}
	return nil
}

// FormatInstr renders a single instruction.
func FormatInstr(in *Instr) string {
	body := formatBody(in)
	if in.Guard.Unconditional() {
		return body
	}
	return fmt.Sprintf("(%s) %s", formatPred(in.Guard.Reg, in.Guard.Neg), body)
}

func formatBody(in *Instr) string {
	switch in.Kind {
	case InstrOpaque:
		return in.Opaque.Text
	case InstrCall:
		return "call " + in.Call.Callee
	case InstrRet:
		return "ret"
	case InstrStackCtrl:
		return "stackctl " + in.Opaque.Text
	case InstrPredMove:
		return fmt.Sprintf("pmov %s = %s",
			formatPred(in.PredMove.Dst, false),
			formatPred(in.PredMove.Src, in.PredMove.SrcNeg))
	case InstrPredAnd:
		return fmt.Sprintf("pand %s = %s, %s",
			formatPred(in.PredAnd.Dst, false),
			formatPred(in.PredAnd.Src1, in.PredAnd.Src1Neg),
			formatPred(in.PredAnd.Src2, in.PredAnd.Src2Neg))
	case InstrPredXor:
		return fmt.Sprintf("pxor %s = %s, %s",
			formatPred(in.PredXor.Dst, false),
			formatPred(in.PredXor.Src1, false),
			formatPred(in.PredXor.Src2, false))
	case InstrLoadImm:
		return fmt.Sprintf("li r%d = %d", in.LoadImm.Dst, in.LoadImm.Value)
	case InstrSubImm:
		return fmt.Sprintf("sub r%d = r%d, %d", in.SubImm.Dst, in.SubImm.Src, in.SubImm.Value)
	case InstrAndImm:
		return fmt.Sprintf("and r%d = r%d, %#x", in.AndImm.Dst, in.AndImm.Src, in.AndImm.Mask)
	case InstrCmpLt:
		return fmt.Sprintf("cmplt %s = r%d, r%d",
			formatPred(in.CmpLt.Dst, false), in.CmpLt.LHS, in.CmpLt.RHS)
	case InstrLoadSlot:
		return fmt.Sprintf("lws r%d = [fi%d]", in.LoadSlot.Dst, in.LoadSlot.Slot)
	case InstrStoreSlot:
		return fmt.Sprintf("sws [fi%d] = r%d", in.StoreSlot.Slot, in.StoreSlot.Src)
	case InstrBitCopy:
		return fmt.Sprintf("bcopy r%d = r%d, %d, %s",
			in.BitCopy.Dst, in.BitCopy.Src, in.BitCopy.Bit,
			formatPred(in.BitCopy.Cond, in.BitCopy.CondNeg))
	case InstrBitTest:
		return fmt.Sprintf("btest %s = r%d, %d",
			formatPred(in.BitTest.Dst, false), in.BitTest.Src, in.BitTest.Bit)
	case InstrPredSave:
		return fmt.Sprintf("mfs r%d = s0", in.PredSave.Dst)
	case InstrPredRestore:
		return fmt.Sprintf("mts s0 = r%d", in.PredRestore.Src)
	case InstrBranch:
		return fmt.Sprintf("br bb%d", in.Branch.Target)
	default:
		return fmt.Sprintf("<unknown kind %d>", in.Kind)
	}
}

func formatPred(p PredReg, neg bool) string {
	if neg {
		return fmt.Sprintf("!p%d", p)
	}
	return fmt.Sprintf("p%d", p)
}
