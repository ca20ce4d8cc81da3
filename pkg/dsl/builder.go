package dsl

import (
	"errors"
	"fmt"

	"github.com/aretw0/coachflow/pkg/domain"
)

// Builder manages the graph construction.
type Builder struct {
	typ   domain.WorkflowType
	entry string
	order []string
	nodes map[string]*NodeBuilder
}

// New creates a new graph builder for the given workflow type.
func New(t domain.WorkflowType) *Builder {
	return &Builder{
		typ:   t,
		nodes: make(map[string]*NodeBuilder),
	}
}

// Entry designates the node where every workflow starts.
func (b *Builder) Entry(name string) *Builder {
	b.entry = name
	return b
}

// Add creates a new node in the graph.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(name string) *NodeBuilder {
	if nb, ok := b.nodes[name]; ok {
		return nb
	}
	nb := &NodeBuilder{
		spec:    domain.NodeSpec{Name: name, Kind: domain.KindLogic},
		builder: b,
	}
	b.nodes[name] = nb
	b.order = append(b.order, name)
	return nb
}

// Build compiles the graph definition. Nodes and edges keep declaration order.
func (b *Builder) Build() (*domain.GraphDefinition, error) {
	if b.entry == "" {
		if len(b.order) == 0 {
			return nil, errors.New("graph has no nodes")
		}
		b.entry = b.order[0]
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("entry node %q is not defined", b.entry)
	}

	g := &domain.GraphDefinition{Type: b.typ, Entry: b.entry}
	for _, name := range b.order {
		nb := b.nodes[name]
		g.Nodes = append(g.Nodes, nb.spec)
		if nb.spec.Kind == domain.KindTerminal {
			g.Terminals = append(g.Terminals, name)
			if len(nb.edges) > 0 {
				return nil, fmt.Errorf("terminal node %q has outgoing edges", name)
			}
		}
		for _, e := range nb.edges {
			if _, ok := b.nodes[e.To]; !ok {
				return nil, fmt.Errorf("edge %s -> %s targets an undefined node", e.From, e.To)
			}
			g.Edges = append(g.Edges, e)
		}
	}
	if len(g.Terminals) == 0 {
		return nil, errors.New("graph has no terminal node")
	}
	return g, nil
}

// MustBuild is like Build but panics on error. Intended for static graphs defined in code.
func (b *Builder) MustBuild() *domain.GraphDefinition {
	g, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("dsl: %v", err))
	}
	return g
}
