package workflow

import (
	"strings"
	"testing"

	"github.com/aretw0/coachflow/pkg/domain"
)

func TestValidate_BuiltinGraphs(t *testing.T) {
	for _, g := range []*domain.GraphDefinition{ConversationalGraph(), AnalysisGraph()} {
		if err := Validate(g); err != nil {
			t.Errorf("graph %s should be valid: %v", g.Type, err)
		}
	}
}

func TestValidate_Errors(t *testing.T) {
	never := &domain.Condition{Name: "never", Eval: func(domain.WorkflowContext) bool { return false }}

	tests := []struct {
		name  string
		graph *domain.GraphDefinition
		want  string
	}{
		{
			name: "broken link",
			graph: &domain.GraphDefinition{
				Entry:     "a",
				Nodes:     []domain.NodeSpec{{Name: "a"}, {Name: "end"}},
				Edges:     []domain.Edge{{From: "a", To: "ghost"}, {From: "a", To: "end"}},
				Terminals: []string{"end"},
			},
			want: "missing node: 'ghost'",
		},
		{
			name: "unreachable",
			graph: &domain.GraphDefinition{
				Entry:     "a",
				Nodes:     []domain.NodeSpec{{Name: "a"}, {Name: "island"}, {Name: "end"}},
				Edges:     []domain.Edge{{From: "a", To: "end"}, {From: "island", To: "end"}},
				Terminals: []string{"end"},
			},
			want: "'island' is unreachable",
		},
		{
			name: "trapped cycle",
			graph: &domain.GraphDefinition{
				Entry: "a",
				Nodes: []domain.NodeSpec{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "end"}},
				Edges: []domain.Edge{
					{From: "a", To: "end", Condition: never},
					{From: "a", To: "b"},
					{From: "b", To: "c"},
					{From: "c", To: "b"},
				},
				Terminals: []string{"end"},
			},
			want: "'b' cannot reach a terminal node",
		},
		{
			name: "no fallback",
			graph: &domain.GraphDefinition{
				Entry:     "a",
				Nodes:     []domain.NodeSpec{{Name: "a"}, {Name: "end"}},
				Edges:     []domain.Edge{{From: "a", To: "end", Condition: never}},
				Terminals: []string{"end"},
			},
			want: "'a' has no unconditional transition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.graph)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestResolveNext_ConditionalFirst(t *testing.T) {
	g := ConversationalGraph()
	wc := domain.NewWorkflowContext(domain.WorkflowConversational)

	if got := resolveNext(g, domain.NodeFollowUpDecision, wc); got != domain.NodeQuestionGeneration {
		t.Errorf("expected loop back to %s, got %s", domain.NodeQuestionGeneration, got)
	}

	wc.Conversation.Decision = domain.DecisionFinalize
	if got := resolveNext(g, domain.NodeFollowUpDecision, wc); got != domain.NodeCompletion {
		t.Errorf("expected %s, got %s", domain.NodeCompletion, got)
	}
}
