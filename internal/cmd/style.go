package cmd

import (
	"os"

	"github.com/muesli/termenv"
)

// styled renders CLI output through termenv, which downgrades to plain
// text when stdout is not a terminal or NO_COLOR is set.
var styled = termenv.NewOutput(os.Stdout)

func bold(s string) string   { return styled.String(s).Bold().String() }
func dim(s string) string    { return styled.String(s).Faint().String() }
func green(s string) string  { return styled.String(s).Foreground(termenv.ANSIGreen).String() }
func yellow(s string) string { return styled.String(s).Foreground(termenv.ANSIYellow).String() }
func red(s string) string    { return styled.String(s).Foreground(termenv.ANSIRed).String() }
func gray(s string) string   { return styled.String(s).Foreground(termenv.ANSIWhite).String() }
