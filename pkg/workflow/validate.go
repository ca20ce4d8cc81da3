package workflow

import (
	"fmt"
	"strings"

	"github.com/aretw0/coachflow/pkg/domain"
)

// Validate checks a graph for broken links, unreachable nodes and nodes that
// cannot reach a terminal. Every non-terminal node must also carry an
// unconditional fallback edge so that transition resolution never dead-ends.
func Validate(g *domain.GraphDefinition) error {
	var errs []string

	if _, ok := g.Node(g.Entry); !ok {
		errs = append(errs, fmt.Sprintf("entry node '%s' is not defined", g.Entry))
	}
	if len(g.Terminals) == 0 {
		errs = append(errs, "graph has no terminal node")
	}

	forward := make(map[string][]string)
	backward := make(map[string][]string)
	for _, e := range g.Edges {
		if _, ok := g.Node(e.From); !ok {
			errs = append(errs, fmt.Sprintf("edge from unknown node '%s'", e.From))
		}
		if _, ok := g.Node(e.To); !ok {
			errs = append(errs, fmt.Sprintf("missing node: '%s' (from '%s')", e.To, e.From))
		}
		forward[e.From] = append(forward[e.From], e.To)
		backward[e.To] = append(backward[e.To], e.From)
	}

	for _, n := range g.Nodes {
		if g.IsTerminal(n.Name) {
			if len(forward[n.Name]) > 0 {
				errs = append(errs, fmt.Sprintf("terminal node '%s' has outgoing edges", n.Name))
			}
			continue
		}
		if !hasFallback(g, n.Name) {
			errs = append(errs, fmt.Sprintf("node '%s' has no unconditional transition", n.Name))
		}
	}

	reachable := crawl([]string{g.Entry}, forward)
	canFinish := crawl(g.Terminals, backward)
	for _, n := range g.Nodes {
		if !reachable[n.Name] {
			errs = append(errs, fmt.Sprintf("node '%s' is unreachable from '%s'", n.Name, g.Entry))
		}
		if !canFinish[n.Name] {
			errs = append(errs, fmt.Sprintf("node '%s' cannot reach a terminal node", n.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("graph %s: found %d errors:\n- %s", g.Type, len(errs), strings.Join(errs, "\n- "))
	}
	return nil
}

func hasFallback(g *domain.GraphDefinition, name string) bool {
	for _, e := range g.Outgoing(name) {
		if e.Condition == nil {
			return true
		}
	}
	return false
}

// crawl runs a breadth-first search from roots over adj.
func crawl(roots []string, adj map[string][]string) map[string]bool {
	visited := make(map[string]bool)
	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, next := range adj[current] {
			if !visited[next] {
				queue = append(queue, next)
			}
		}
	}
	return visited
}
