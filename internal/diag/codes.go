package diag

import "fmt"

// Code identifies a diagnostic category.
type Code uint16

const (
	UnknownCode Code = 0

	// Input file problems.
	FileBadFormat Code = 1000
	FileBadBlock  Code = 1001
	FileBadScope  Code = 1002

	// User-facing conversion problems.
	ConvBadRegConstraint Code = 2000
	ConvBadAlignment     Code = 2001

	// Internal invariant violations; always fatal for the function.
	ConvUseBeforeDef   Code = 3000
	ConvUnsupportedDef Code = 3001
)

func (c Code) String() string {
	return fmt.Sprintf("SP%04d", uint16(c))
}
