package dsl

import "github.com/aretw0/coachflow/pkg/domain"

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	spec    domain.NodeSpec
	edges   []domain.Edge
	builder *Builder
}

// Describe sets a human readable description.
func (n *NodeBuilder) Describe(text string) *NodeBuilder {
	n.spec.Description = text
	return n
}

// Logic marks the node as a pure context transformation (soft step).
func (n *NodeBuilder) Logic() *NodeBuilder {
	n.spec.Kind = domain.KindLogic
	return n
}

// Inference marks the node as making at most one provider call.
func (n *NodeBuilder) Inference() *NodeBuilder {
	n.spec.Kind = domain.KindInference
	return n
}

// Input marks the node as a pause point (hard step): the workflow may halt after it.
func (n *NodeBuilder) Input() *NodeBuilder {
	n.spec.Kind = domain.KindInput
	return n
}

// Go adds an unconditional transition to the target node.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	n.edges = append(n.edges, domain.Edge{From: n.spec.Name, To: target})
	return n
}

// Branch adds a conditional transition to the target node.
// Conditional edges are evaluated in declaration order before unconditional ones.
func (n *NodeBuilder) Branch(name string, eval func(domain.WorkflowContext) bool, target string) *NodeBuilder {
	n.edges = append(n.edges, domain.Edge{
		From:      n.spec.Name,
		To:        target,
		Condition: &domain.Condition{Name: name, Eval: eval},
	})
	return n
}

// Terminal marks the node as a terminal node (end of the flow).
func (n *NodeBuilder) Terminal() *NodeBuilder {
	n.spec.Kind = domain.KindTerminal
	n.edges = nil
	return n
}

// Spec returns the underlying node spec.
func (n *NodeBuilder) Spec() domain.NodeSpec {
	return n.spec
}
