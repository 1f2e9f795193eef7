package ui

import (
	"github.com/gdamore/tcell"
	"github.com/rivo/tview"
)

// PageHandler is a tview.Pages wrapper carrying the one piece of shared
// state every panel needs: a Quit channel closed by the command line's
// `quit`/`q`, watched by main's run loop to stop the tview.Application.
// Mirrors the teacher's RootElement embedding a (never-defined) PageHandler
// the same way.
type PageHandler struct {
	*tview.Pages
	Quit chan struct{}
}

// NewPageHandler returns an empty PageHandler.
func NewPageHandler() *PageHandler {
	return &PageHandler{
		Pages: tview.NewPages(),
		Quit:  make(chan struct{}),
	}
}

// InputCapture returns the global key handler: Ctrl-C requests quit from any
// focused primitive, mirroring a terminal's usual interrupt affordance
// alongside the `quit` command.
func (p *PageHandler) InputCapture() func(event *tcell.EventKey) *tcell.EventKey {
	return func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			p.requestQuit()
			return nil
		}
		return event
	}
}

func (p *PageHandler) requestQuit() {
	select {
	case <-p.Quit:
	default:
		close(p.Quit)
	}
}
