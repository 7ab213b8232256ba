package ir

// InstrKind enumerates instruction kinds.
type InstrKind uint8

const (
	// InstrOpaque is an instruction the conversion does not interpret. It
	// only rewrites its guard.
	InstrOpaque InstrKind = iota
	// InstrCall is a function call. Calls cannot be guarded directly; the
	// guard is routed through the temporary predicate register.
	InstrCall
	// InstrRet returns from the function. Exempt from predication.
	InstrRet
	// InstrStackCtrl is a stack-control primitive. Exempt from predication.
	InstrStackCtrl
	// InstrPredMove copies a predicate register: (guard) Dst = Src.
	InstrPredMove
	// InstrPredAnd combines two predicates: Dst = Src1 & Src2. Always
	// executes unconditionally.
	InstrPredAnd
	// InstrPredXor xors two predicate registers into the first.
	InstrPredXor
	// InstrLoadImm loads an immediate into a register.
	InstrLoadImm
	// InstrSubImm subtracts an immediate: Dst = Src - Value.
	InstrSubImm
	// InstrAndImm masks a register: Dst = Src & Mask.
	InstrAndImm
	// InstrCmpLt sets a predicate register: Dst = LHS < RHS.
	InstrCmpLt
	// InstrLoadSlot loads a frame slot word into a register.
	InstrLoadSlot
	// InstrStoreSlot stores a register into a frame slot word.
	InstrStoreSlot
	// InstrBitCopy copies a predicate into one bit of a register:
	// Dst.bit[Bit] = Cond.
	InstrBitCopy
	// InstrBitTest extracts one bit of a register into a predicate:
	// Dst = Src.bit[Bit].
	InstrBitTest
	// InstrPredSave copies the whole predicate register file into a
	// general register.
	InstrPredSave
	// InstrPredRestore writes a general register back into the predicate
	// register file.
	InstrPredRestore
	// InstrBranch transfers control to Target when the guard holds.
	InstrBranch
)

// Instr is a single machine instruction. Exactly the variant named by Kind
// is meaningful.
type Instr struct {
	Kind  InstrKind
	Guard Guard

	// FrameSetup marks prologue/epilogue bookkeeping that must execute
	// unconditionally and is exempt from predication.
	FrameSetup bool

	Opaque      OpaqueInstr
	Call        CallInstr
	PredMove    PredMoveInstr
	PredAnd     PredAndInstr
	PredXor     PredXorInstr
	LoadImm     LoadImmInstr
	SubImm      SubImmInstr
	AndImm      AndImmInstr
	CmpLt       CmpLtInstr
	LoadSlot    LoadSlotInstr
	StoreSlot   StoreSlotInstr
	BitCopy     BitCopyInstr
	BitTest     BitTestInstr
	PredSave    PredSaveInstr
	PredRestore PredRestoreInstr
	Branch      BranchInstr
}

// OpaqueInstr carries the textual form of an uninterpreted instruction.
type OpaqueInstr struct {
	Text string
	// Predicable is false for the rare instructions whose encoding has no
	// guard field; those execute unconditionally.
	Predicable bool
}

// CallInstr names the callee.
type CallInstr struct {
	Callee string
}

// PredMoveInstr copies Src (optionally negated) into Dst.
type PredMoveInstr struct {
	Dst    PredReg
	Src    PredReg
	SrcNeg bool
}

// PredAndInstr computes Dst = Src1 & Src2 with per-operand negation.
type PredAndInstr struct {
	Dst     PredReg
	Src1    PredReg
	Src1Neg bool
	Src2    PredReg
	Src2Neg bool
}

// PredXorInstr computes Dst = Src1 ^ Src2.
type PredXorInstr struct {
	Dst  PredReg
	Src1 PredReg
	Src2 PredReg
}

// LoadImmInstr loads Value into Dst.
type LoadImmInstr struct {
	Dst   Reg
	Value uint32
}

// SubImmInstr computes Dst = Src - Value.
type SubImmInstr struct {
	Dst   Reg
	Src   Reg
	Value uint32
}

// AndImmInstr computes Dst = Src & Mask.
type AndImmInstr struct {
	Dst  Reg
	Src  Reg
	Mask uint32
}

// CmpLtInstr sets Dst = LHS < RHS.
type CmpLtInstr struct {
	Dst PredReg
	LHS Reg
	RHS Reg
}

// LoadSlotInstr loads the frame slot word at Slot into Dst. Seed marks
// loads inserted only so the redundant-load dataflow sees the slot as
// resident; they are always removed afterwards.
type LoadSlotInstr struct {
	Dst  Reg
	Slot FrameIndex
	Seed bool
}

// StoreSlotInstr stores Src into the frame slot word at Slot.
type StoreSlotInstr struct {
	Slot FrameIndex
	Src  Reg
}

// BitCopyInstr sets bit Bit of Dst to the value of Cond (negated if
// CondNeg), leaving the other bits of Src intact.
type BitCopyInstr struct {
	Dst     Reg
	Src     Reg
	Bit     uint32
	Cond    PredReg
	CondNeg bool
}

// BitTestInstr sets Dst to bit Bit of Src.
type BitTestInstr struct {
	Dst PredReg
	Src Reg
	Bit uint32
}

// PredSaveInstr copies the predicate register file into Dst.
type PredSaveInstr struct {
	Dst Reg
}

// PredRestoreInstr writes Src into the predicate register file.
type PredRestoreInstr struct {
	Src Reg
}

// BranchInstr jumps to Target when the instruction's guard holds.
type BranchInstr struct {
	Target BlockID
}

// Exempt reports whether the instruction is spared from predication:
// returns, stack control, and frame setup always execute.
func (in *Instr) Exempt() bool {
	return in.Kind == InstrRet || in.Kind == InstrStackCtrl || in.FrameSetup
}
