package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the kiln ASCII art banner.
func PrintBanner(version string) {
	p := termenv.ColorProfile()
	// Ember gradient, top to bottom
	lines := []struct {
		text, color string
	}{
		{"  _    _ _       ", "#fde047"},
		{" | | _(_) |_ __  ", "#fbbf24"},
		{" | |/ / | | '_ \\ ", "#f97316"},
		{" |   <| | | | | |", "#ef4444"},
		{" |_|\\_\\_|_|_| |_|", "#b91c1c"},
	}

	fmt.Println()
	for _, l := range lines {
		fmt.Println(termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Println(termenv.String(" v" + version).Faint())
	fmt.Println()
}
