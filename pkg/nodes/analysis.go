package nodes

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/aretw0/coachflow/internal/sanitizer"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/templates"
	"github.com/aretw0/coachflow/pkg/workflow"
)

// Analysis returns the nodes of the analysis graph.
func Analysis(cfg Config) []workflow.Node {
	return []workflow.Node{
		&inputValidation{minLength: cfg.MinInputLength},
		&analysisExecution{cfg: cfg},
		&analysisInsights{cfg: cfg},
		&responseFormatting{},
		&analysisCompletion{},
	}
}

func analysisParams(a *domain.AnalysisContext) map[string]any {
	params := maps.Clone(a.Params)
	if params == nil {
		params = make(map[string]any)
	}
	params["topic"] = a.Topic
	params["input"] = a.Input
	return params
}

type inputValidation struct {
	minLength int
}

func (n *inputValidation) Name() string { return domain.NodeInputValidation }

// Run tags the context with an error instead of failing, so the graph can
// short-circuit to completion without any model call.
func (n *inputValidation) Run(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
	a := wc.Analysis
	if a == nil {
		return workflow.Result{}, missingContext(n.Name())
	}

	reject := func(field, msg string) (workflow.Result, error) {
		a.Error = &domain.ContextError{Code: domain.CodeValidation, Field: field, Message: msg}
		return workflow.Result{Context: wc}, nil
	}

	if strings.TrimSpace(a.Topic) == "" {
		return reject("topic", "topic is required")
	}

	clean, err := sanitizer.Clean("input", a.Input)
	if err != nil {
		return reject("input", err.Error())
	}
	if limit := n.minLength; limit > 0 && utf8.RuneCountInString(clean) < limit {
		return reject("input", fmt.Sprintf("input must be at least %d characters", limit))
	}

	a.Input = clean
	a.Error = nil
	return workflow.Result{Context: wc}, nil
}

type analysisExecution struct {
	cfg Config
}

func (n *analysisExecution) Name() string { return domain.NodeAnalysisExecution }

// Run renders the topic's analysis template and stores the raw model answer.
func (n *analysisExecution) Run(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
	a := wc.Analysis
	if a == nil {
		return workflow.Result{}, missingContext(n.Name())
	}

	tpl, err := resolve(ctx, svc, a.Topic, PhaseAnalysis)
	if err != nil {
		return workflow.Result{}, err
	}

	prompt := render(svc, tpl, enrich(ctx, svc, analysisParams(a), a.UserID, a.TenantID))
	user := prompt.User
	if !slices.Contains(templates.Placeholders(tpl.SystemPrompt+"\n"+tpl.UserPromptPattern), "input") {
		user = strings.TrimSpace(user + "\n\n" + a.Input)
	}

	res, err := infer(ctx, svc, n.cfg.request(tpl, prompt.System, []domain.ChatMessage{{Role: domain.RoleUser, Content: user}}))
	if err != nil {
		return workflow.Result{}, err
	}
	a.Usage.Add(res)
	a.Provider, a.Model = res.Provider, res.Model
	a.Raw = strings.TrimSpace(res.Text)
	return workflow.Result{Context: wc}, nil
}

type analysisInsights struct {
	cfg Config
}

func (n *analysisInsights) Name() string { return domain.NodeInsightExtraction }

// Run extracts structured insights from the raw analysis.
func (n *analysisInsights) Run(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
	a := wc.Analysis
	if a == nil {
		return workflow.Result{}, missingContext(n.Name())
	}

	system := fill(insightSystemPrompt, analysisParams(a))
	res, err := infer(ctx, svc, n.cfg.request(nil, system, []domain.ChatMessage{{Role: domain.RoleUser, Content: a.Raw}}))
	if err != nil {
		return workflow.Result{}, err
	}
	a.Usage.Add(res)

	parsed := ParseCandidates(res.Text)
	a.Insights.Merge(parsed.Candidates)
	if parsed.Summary != "" {
		a.Result = &domain.AnalysisResult{Summary: parsed.Summary}
	}
	return workflow.Result{Context: wc}, nil
}

type responseFormatting struct{}

func (n *responseFormatting) Name() string { return domain.NodeResponseFormatting }

// Run builds the caller-facing result and its markdown rendering.
func (n *responseFormatting) Run(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
	a := wc.Analysis
	if a == nil {
		return workflow.Result{}, missingContext(n.Name())
	}

	summary := ""
	if a.Result != nil {
		summary = a.Result.Summary
	}
	if summary == "" {
		summary, _, _ = strings.Cut(a.Raw, "\n\n")
		summary = strings.TrimSpace(summary)
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# %s\n\n%s\n", a.Topic, summary)
	if len(a.Insights) > 0 {
		md.WriteString("\n## Insights\n\n")
		for _, in := range a.Insights {
			fmt.Fprintf(&md, "- **%s** (%.0f%%)", in.Label, in.Confidence*100)
			if in.Evidence != "" {
				fmt.Fprintf(&md, ": %s", in.Evidence)
			}
			md.WriteString("\n")
		}
	}

	a.Result = &domain.AnalysisResult{
		Topic:    a.Topic,
		Summary:  summary,
		Insights: a.Insights.Clone(),
		Markdown: md.String(),
	}
	return workflow.Result{Context: wc}, nil
}

type analysisCompletion struct{}

func (n *analysisCompletion) Name() string { return domain.NodeCompletion }

func (n *analysisCompletion) Run(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
	if wc.Analysis == nil {
		return workflow.Result{}, missingContext(n.Name())
	}
	return workflow.Result{Context: wc}, nil
}
