package ui

import (
	"fmt"
	"strings"
)

// colorize wraps text in the current theme's highlight color tag, reverting
// to the theme's normal text color afterward. Grounded on the teacher's
// ui/util.go colorize, unchanged.
func colorize(text string) string {
	normal := currentTheme.TextColor
	highlight := currentTheme.HighlightTextColor
	return fmt.Sprintf("[%s]%s[%s]", highlight, text, normal)
}

// getAutocompleteFunc returns a tview autocomplete callback offering every
// word in words with currentText as a case-insensitive prefix. Grounded on
// the teacher's ui/util.go getAutocompleteFunc, unchanged.
func getAutocompleteFunc(words []string) func(string) []string {
	return func(currentText string) (results []string) {
		if len(currentText) == 0 {
			return
		}

		for _, word := range words {
			if strings.HasPrefix(strings.ToLower(word), strings.ToLower(currentText)) {
				results = append(results, word)
			}
		}

		return
	}
}
