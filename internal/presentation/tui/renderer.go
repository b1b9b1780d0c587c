package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/kiln"
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
	)

	return func(markdown string) (string, error) {
		if err != nil {
			return markdown, nil
		}
		return r.Render(markdown)
	}
}

// TaskTable renders the task list as a markdown table.
func TaskTable(tasks []kiln.TaskInfo) string {
	var sb strings.Builder
	sb.WriteString("| Task | Kind | Runs | Description |\n")
	sb.WriteString("|---|---|---|---|\n")
	for _, t := range tasks {
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s |\n",
			t.Name, t.Kind, cell(strings.Join(t.Children, ", ")), cell(t.Description))
	}
	return sb.String()
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}
