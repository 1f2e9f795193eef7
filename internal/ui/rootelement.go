package ui

import (
	"fmt"
	"strconv"

	"github.com/rivo/tview"

	"github.com/riftdbg/rift/internal/session"
)

// RootElement is the root UI element: a PageHandler laid out as source /
// registers / backtrace panels above a command log and input line. It
// implements session.EventHook so a Dispatcher can report trap/signal/exit
// events straight into the panels.
type RootElement struct {
	*PageHandler

	sess       *session.Session
	dispatcher *session.Dispatcher
	backtrace  *tview.TextView
	registers  *tview.TextView
	status     *tview.TextView
	log        *tview.TextView
	input      *CommandLine
}

// NewRootElement returns a RootElement driving sess through a Dispatcher. It
// applies no theme itself: the panels take the tview.Styles set by the last
// Theme.Apply call, or tview's defaults if none was made.
func NewRootElement(sess *session.Session) *RootElement {
	root := &RootElement{
		PageHandler: NewPageHandler(),
		sess:        sess,
		backtrace:   newPanel("Backtrace"),
		registers:   newPanel("Registers"),
		status:      newPanel("Status"),
		log:         newPanel("Log"),
	}

	root.input = NewCommandLine(root.log)
	root.dispatcher = session.NewDispatcher(sess, root)
	root.input.Submit = root.runCommand

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tview.NewFlex().
			AddItem(root.status, 0, 2, false).
			AddItem(root.registers, 0, 1, false).
			AddItem(root.backtrace, 0, 1, false),
			0, 3, false).
		AddItem(root.log, 0, 2, false).
		AddItem(root.input, 1, 0, true)

	root.AddPage("main", layout, true, true)

	return root
}

func newPanel(title string) *tview.TextView {
	panel := tview.NewTextView().SetDynamicColors(true)
	panel.SetBorder(true).SetTitle(title)
	return panel
}

func (r *RootElement) runCommand(line string) (string, error) {
	quit, err := r.dispatcher.Dispatch(line)
	if quit {
		r.requestQuit()
		return "", err
	}
	r.refreshPanels()
	return "", err
}

func (r *RootElement) refreshPanels() {
	evt := r.sess.LastEvent()

	r.backtrace.Clear()
	for i, f := range evt.Backtrace {
		fmt.Fprintf(r.backtrace, "#%d  %#x  %s (%s:%d)\n", i, f.PC, f.Function, f.File, f.Line)
	}

	r.registers.Clear()
	for name, val := range evt.Registers {
		fmt.Fprintf(r.registers, "%s = %s\n", name, val)
	}
}

// OnTrap implements session.EventHook.
func (r *RootElement) OnTrap(pc uintptr, place string) {
	if place == "" {
		place = "<no line info>"
	}
	fmt.Fprintf(r.status, "[%s]stopped at %#x (%s)[%s]\n", currentTheme.HighlightTextColor, pc, place, currentTheme.TextColor)
}

// OnSignal implements session.EventHook.
func (r *RootElement) OnSignal(sig string) {
	fmt.Fprintf(r.status, "[red]signal: %s[%s]\n", sig, currentTheme.TextColor)
}

// OnExit implements session.EventHook.
func (r *RootElement) OnExit(code int32) {
	fmt.Fprintf(r.status, "[%s]debuggee exited with code %s[%s]\n", currentTheme.HighlightTextColor, strconv.Itoa(int(code)), currentTheme.TextColor)
}
