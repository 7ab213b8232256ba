package diag

import "fmt"

// Diagnostic is one reported problem. Conversion diagnostics have no
// source spans; they are keyed to the function they abort.
type Diagnostic struct {
	Severity Severity
	Code     Code
	Fn       string
	Message  string
}

// Errorf builds an error-severity diagnostic for a function.
func Errorf(code Code, fn, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: SevError,
		Code:     code,
		Fn:       fn,
		Message:  fmt.Sprintf(format, args...),
	}
}
