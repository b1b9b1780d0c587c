package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/kiln"
	"github.com/aretw0/kiln/pkg/domain"
)

// GraphOverlay contains last-run status to visualize on the graph.
type GraphOverlay struct {
	Succeeded []string
	Failed    []string
}

// GenerateMermaid produces a Mermaid flowchart from the task registry.
// It applies semantic styling:
// - Leaf (pipeline, tool, clean): [Rectangle]
// - Series: [[Subroutine]], edges numbered in execution order
// - Parallel: {{Hexagon}}, dotted edges
func GenerateMermaid(tasks []kiln.TaskInfo, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, t := range tasks {
		safeID := sanitizeMermaidID(t.Name)

		opener, closer := "[", "]"
		switch t.Kind {
		case domain.TaskSeries:
			opener, closer = "[[", "]]"
		case domain.TaskParallel:
			opener, closer = "{{", "}}"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, t.Name, closer))

		for i, child := range t.Children {
			safeTo := sanitizeMermaidID(child)
			if t.Kind == domain.TaskParallel {
				sb.WriteString(fmt.Sprintf("    %s -.-> %s\n", safeID, safeTo))
				continue
			}
			sb.WriteString(fmt.Sprintf("    %s -- \"%d\" --> %s\n", safeID, i+1, safeTo))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds
		sb.WriteString("    classDef succeeded fill:#dcfce7,stroke:#15803d,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#fee2e2,stroke:#b91c1c,stroke-width:4px,color:#000;\n")
		for _, name := range overlay.Succeeded {
			sb.WriteString(fmt.Sprintf("    class %s succeeded;\n", sanitizeMermaidID(name)))
		}
		for _, name := range overlay.Failed {
			sb.WriteString(fmt.Sprintf("    class %s failed;\n", sanitizeMermaidID(name)))
		}
	}

	return sb.String()
}

// OverlayFromOutcome collects the status of every task in an outcome tree.
func OverlayFromOutcome(out domain.Outcome) *GraphOverlay {
	overlay := &GraphOverlay{}
	seen := make(map[string]bool)
	out.Walk(func(o domain.Outcome) {
		if seen[o.Task] {
			return
		}
		seen[o.Task] = true
		if o.Succeeded() {
			overlay.Succeeded = append(overlay.Succeeded, o.Task)
		} else {
			overlay.Failed = append(overlay.Failed, o.Task)
		}
	})
	return overlay
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
