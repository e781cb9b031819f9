package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	noColorFlag bool
	verboseFlag bool
)

// Init configures color and verbosity for all UI helpers.
func Init(noColor, verbose bool) {
	noColorFlag = noColor
	verboseFlag = verbose

	if noColor {
		color.NoColor = true
	}
}

// Detail prints an indented per-item line, only in verbose mode.
func Detail(format string, args ...interface{}) {
	if !verboseFlag {
		return
	}
	fmt.Fprintf(os.Stdout, "  %s\n", fmt.Sprintf(format, args...))
}
