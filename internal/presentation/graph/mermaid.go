package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/coachflow/pkg/domain"
)

// GraphOverlay contains dynamic state data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFor builds the overlay of a workflow state. A nil state yields nil.
func OverlayFor(state *domain.WorkflowState) *GraphOverlay {
	if state == nil {
		return nil
	}
	return &GraphOverlay{VisitedNodes: state.Visited(), CurrentNode: state.CurrentNode}
}

// GenerateMermaid produces a Mermaid flowchart syntax string from a graph definition.
// It applies semantic styling:
// - Entry: ((Circle))
// - Inference: [[Subroutine]]
// - Input: [/Parallelogram/]
// - Terminal: ([Stadium])
// - Default: [Rectangle]
// It also applies overlay styles (Visited/Current) if provided.
func GenerateMermaid(g *domain.GraphDefinition, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range g.Nodes {
		safeID := sanitizeMermaidID(node.Name)

		opener, closer := "[", "]"
		switch {
		case node.Name == g.Entry:
			opener, closer = "((", "))"
		case node.Kind == domain.KindInference:
			opener, closer = "[[", "]]"
		case node.Kind == domain.KindInput:
			opener, closer = "[/", "/]"
		case node.Kind == domain.KindTerminal:
			opener, closer = "([", "])"
		}

		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, node.Name, closer)

		for _, e := range g.Outgoing(node.Name) {
			safeTo := sanitizeMermaidID(e.To)
			arrow := "-->"
			if cond := e.ConditionName(); cond != "" {
				arrow = fmt.Sprintf("-- \"%s\" -->", strings.ReplaceAll(cond, "\"", "'"))
			}
			fmt.Fprintf(&sb, "    %s %s %s\n", safeID, arrow, safeTo)
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}

		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
