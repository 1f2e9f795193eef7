// Package ui renders a riftdbg session as a terminal UI built on
// github.com/rivo/tview and github.com/gdamore/tcell, consuming
// session.EventHook and session.Dispatcher rather than the ptrace/DWARF
// internals directly. Grounded on the teacher's ui/rootelement.go and
// ui/util.go plus cmd/raztracer/app.go and cmd/raztracer/main.go's
// PageHandler/Theme usage -- the teacher's own ui package never defined
// either type, so this is a from-scratch completion of that scaffold in the
// teacher's evident style (a global currentTheme, colorize() wrapping text
// in tview color tags, Theme.Apply() pushing colors into tview.Styles).
package ui

import (
	"github.com/gdamore/tcell"
	"github.com/rivo/tview"
)

// Theme is a named palette applied globally to every tview primitive via
// tview.Styles, the same mechanism the teacher's (unwritten) Theme.Apply
// was evidently meant to drive given cmd/raztracer/main.go's --theme flag.
type Theme struct {
	Name               string
	PrimitiveBackground tcell.Color
	TextColor           string
	HighlightTextColor  string
	BorderColor         tcell.Color
	TitleColor          tcell.Color
}

// currentTheme is read by colorize and by the status and log writers
// (OnTrap, OnSignal, OnExit, CommandLine); the panel constructors do not
// read it.
var currentTheme = &LightTheme

// LightTheme is the default palette: dark text on a light background.
var LightTheme = Theme{
	Name:                "light",
	PrimitiveBackground: tcell.ColorWhite,
	TextColor:           "black",
	HighlightTextColor:  "blue",
	BorderColor:         tcell.ColorGray,
	TitleColor:          tcell.ColorBlack,
}

// DarkTheme is light text on a dark background, for terminals with a dark
// default background.
var DarkTheme = Theme{
	Name:                "dark",
	PrimitiveBackground: tcell.ColorBlack,
	TextColor:           "white",
	HighlightTextColor:  "yellow",
	BorderColor:         tcell.ColorGray,
	TitleColor:          tcell.ColorWhite,
}

// Apply pushes t's colors into tview's global style table, affecting every
// primitive created after the call.
func (t *Theme) Apply() {
	currentTheme = t
	tview.Styles.PrimitiveBackgroundColor = t.PrimitiveBackground
	tview.Styles.BorderColor = t.BorderColor
	tview.Styles.TitleColor = t.TitleColor
	tview.Styles.PrimaryTextColor = tcell.GetColor(t.TextColor)
}

// ThemeByName resolves a --theme flag value to a Theme, defaulting to light
// for an unrecognized name.
func ThemeByName(name string) *Theme {
	switch name {
	case "dark":
		return &DarkTheme
	default:
		return &LightTheme
	}
}
