package domain

import "encoding/json"

// Node names of the built-in graphs.
const (
	NodeGreeting           = "greeting"
	NodeQuestionGeneration = "question_generation"
	NodeResponseAnalysis   = "response_analysis"
	NodeInsightExtraction  = "insight_extraction"
	NodeFollowUpDecision   = "follow_up_decision"
	NodeCompletion         = "completion"

	NodeInputValidation    = "input_validation"
	NodeAnalysisExecution  = "analysis_execution"
	NodeResponseFormatting = "response_formatting"
)

// NodeKind classifies a node for validation and visualization.
type NodeKind string

const (
	// KindLogic transforms context without external calls.
	KindLogic NodeKind = "logic"
	// KindInference makes at most one provider call.
	KindInference NodeKind = "inference"
	// KindInput may pause the workflow for user input after it runs.
	KindInput NodeKind = "input"
	// KindTerminal ends the workflow.
	KindTerminal NodeKind = "terminal"
)

// NodeSpec is the static description of a graph node.
type NodeSpec struct {
	Name        string   `json:"name"`
	Kind        NodeKind `json:"kind"`
	Description string   `json:"description,omitempty"`
}

// Condition is a named predicate over the workflow context.
type Condition struct {
	Name string
	Eval func(WorkflowContext) bool
}

// Edge is a directed transition. An edge without a condition is unconditional.
type Edge struct {
	From      string     `json:"from"`
	To        string     `json:"to"`
	Condition *Condition `json:"-"`
}

// ConditionName returns the condition label, or "" for unconditional edges.
func (e Edge) ConditionName() string {
	if e.Condition == nil {
		return ""
	}
	return e.Condition.Name
}

// MarshalJSON encodes the condition by name.
func (e Edge) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		From      string `json:"from"`
		To        string `json:"to"`
		Condition string `json:"condition,omitempty"`
	}{e.From, e.To, e.ConditionName()})
}

// GraphDefinition is a static, code-defined workflow graph.
type GraphDefinition struct {
	Type      WorkflowType `json:"type"`
	Entry     string       `json:"entry"`
	Nodes     []NodeSpec   `json:"nodes"`
	Edges     []Edge       `json:"edges"`
	Terminals []string     `json:"terminals"`
}

// Node looks up a node by name.
func (g *GraphDefinition) Node(name string) (NodeSpec, bool) {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// Outgoing returns the edges leaving the named node in declaration order.
func (g *GraphDefinition) Outgoing(name string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == name {
			out = append(out, e)
		}
	}
	return out
}

// IsTerminal reports whether name is a terminal node.
func (g *GraphDefinition) IsTerminal(name string) bool {
	for _, t := range g.Terminals {
		if t == name {
			return true
		}
	}
	return false
}
