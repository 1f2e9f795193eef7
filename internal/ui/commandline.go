package ui

import (
	"fmt"

	"github.com/gdamore/tcell"
	"github.com/rivo/tview"
)

// commandWords is the autocomplete vocabulary: every long and short command
// form session.Dispatcher accepts, kept here rather than imported from
// internal/session so this package has no hard dependency on it (a
// CommandLine can be driven by any func(string) handler, including a test
// double with no Session behind it at all).
var commandWords = []string{
	"var", "arg", "continue", "c", "frame", "run", "r", "stepi", "step", "s",
	"stepout", "so", "next", "n", "symbol", "break", "b", "backtrace", "bt",
	"memory", "m", "register", "reg", "help", "h", "quit", "q",
}

// CommandLine is an autocompleting input field that hands each entered line
// to a Submit callback and appends the result to a scrolling log view,
// grounded on the teacher's ui/util.go getAutocompleteFunc.
type CommandLine struct {
	*tview.InputField
	Log *tview.TextView

	// Submit runs one command line and returns the text to log, or an
	// error to log in red.
	Submit func(line string) (string, error)
}

// NewCommandLine returns a CommandLine with autocomplete over commandWords.
func NewCommandLine(log *tview.TextView) *CommandLine {
	field := tview.NewInputField().
		SetLabel("(riftdbg) ").
		SetAutocompleteFunc(getAutocompleteFunc(commandWords))

	cl := &CommandLine{InputField: field, Log: log}

	field.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		line := field.GetText()
		if line == "" {
			return
		}
		field.SetText("")

		if cl.Submit == nil {
			return
		}

		out, err := cl.Submit(line)
		if err != nil {
			fmt.Fprintf(log, "[red]%s[%s]\n", err, currentTheme.TextColor)
			return
		}
		if out != "" {
			fmt.Fprintf(log, "%s\n", colorize(out))
		}
	})

	return cl
}
