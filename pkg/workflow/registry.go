package workflow

import (
	"fmt"
	"sync"

	"github.com/aretw0/coachflow/pkg/domain"
)

type entry struct {
	graph *domain.GraphDefinition
	nodes map[string]Node
}

// Registry binds each workflow type to its graph and node implementations.
// It is built once at process start and passed to the Orchestrator.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.WorkflowType]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[domain.WorkflowType]*entry)}
}

// Register validates g and binds it with nodes. Every graph node must have
// exactly one implementation.
func (r *Registry) Register(g *domain.GraphDefinition, nodes ...Node) error {
	if err := Validate(g); err != nil {
		return err
	}

	impl := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, ok := g.Node(n.Name()); !ok {
			return fmt.Errorf("graph %s: node '%s' is not part of the graph", g.Type, n.Name())
		}
		if _, dup := impl[n.Name()]; dup {
			return fmt.Errorf("graph %s: node '%s' registered twice", g.Type, n.Name())
		}
		impl[n.Name()] = n
	}
	for _, spec := range g.Nodes {
		if _, ok := impl[spec.Name]; !ok {
			return fmt.Errorf("graph %s: node '%s' has no implementation", g.Type, spec.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[g.Type] = &entry{graph: g, nodes: impl}
	return nil
}

// Graph returns the graph registered for t.
func (r *Registry) Graph(t domain.WorkflowType) (*domain.GraphDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	if !ok {
		return nil, false
	}
	return e.graph, true
}

// Types lists the registered workflow types.
func (r *Registry) Types() []domain.WorkflowType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.WorkflowType, 0, len(r.entries))
	for _, t := range []domain.WorkflowType{domain.WorkflowConversational, domain.WorkflowAnalysis} {
		if _, ok := r.entries[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) lookup(t domain.WorkflowType) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	if !ok {
		return nil, &domain.ValidationError{Field: "workflow_type", Reason: fmt.Sprintf("unknown workflow type %q", t)}
	}
	return e, nil
}
