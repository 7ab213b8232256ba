package diag

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	errColor  = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	infoColor = color.New(color.FgCyan)
)

// Report writes the bag's diagnostics to w, one line each.
func Report(w io.Writer, b *Bag) {
	for _, d := range b.Items() {
		var sev string
		switch d.Severity {
		case SevError:
			sev = errColor.Sprint("error")
		case SevWarning:
			sev = warnColor.Sprint("warning")
		default:
			sev = infoColor.Sprint("info")
		}
		if d.Fn != "" {
			fmt.Fprintf(w, "%s[%s] %s: %s\n", sev, d.Code, d.Fn, d.Message)
		} else {
			fmt.Fprintf(w, "%s[%s]: %s\n", sev, d.Code, d.Message)
		}
	}
}
