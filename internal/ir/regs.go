package ir

// PredReg indexes a physical predicate register. PTrue is the hardwired
// always-true predicate and is never allocatable.
type PredReg uint8

const (
	PTrue     PredReg = 0
	NoPredReg PredReg = 0xff
)

// Reg indexes a general-purpose register. The conversion only touches a
// handful of fixed registers; everything else stays inside opaque
// instructions.
type Reg uint8

const (
	// RZero always reads zero.
	RZero Reg = 0
	// RCallTmp is caller-saved and clobbered by the call sequence; it is
	// explicitly saved and restored around predicated call sites.
	RCallTmp Reg = 9
	// RScratch carries all spill traffic inserted by the conversion.
	RScratch Reg = 26
)

// FrameIndex names a frame object reserved through a frame table. The
// actual offsets are assigned by the frame layout collaborator.
type FrameIndex int32

const NoFrame FrameIndex = -1

// Guard is the predicate operand of an instruction. The zero value
// (PTrue, not negated) means the instruction executes unconditionally.
type Guard struct {
	Reg PredReg
	Neg bool
}

// Unconditional reports whether the guard always holds.
func (g Guard) Unconditional() bool {
	return g.Reg == PTrue && !g.Neg
}
