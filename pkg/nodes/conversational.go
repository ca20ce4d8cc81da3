package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/workflow"
)

// Conversational returns the nodes of the conversational graph.
func Conversational(cfg Config) []workflow.Node {
	return []workflow.Node{
		&greeting{},
		&questionGeneration{cfg: cfg},
		&responseAnalysis{cfg: cfg},
		&insightExtraction{cfg: cfg},
		&followUpDecision{policy: cfg.Policy},
		&completion{},
	}
}

// baseParams are the parameters every conversational prompt can reference.
func baseParams(c *domain.ConversationContext) map[string]any {
	params := maps.Clone(c.Params)
	if params == nil {
		params = make(map[string]any)
	}
	params["topic"] = c.Topic
	params["phase"] = string(c.Phase)
	params["candidates"] = c.Candidates.Labels()
	params["questions_asked"] = c.QuestionsAsked
	params["last_answer"] = c.LastInput
	return params
}

func transcript(turns []domain.Turn) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(turns)+1)
	for _, t := range turns {
		msgs = append(msgs, domain.ChatMessage{Role: t.Role, Content: t.Content})
	}
	return msgs
}

func record(c *domain.ConversationContext, res *domain.InferenceResult) {
	c.Usage.Add(res)
	c.Provider = res.Provider
	c.Model = res.Model
}

type greeting struct{}

func (n *greeting) Name() string { return domain.NodeGreeting }

// Run opens the conversation without a model call. A "greeting" template of
// the topic supplies the text when present.
func (n *greeting) Run(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
	c := wc.Conversation
	if c == nil {
		return workflow.Result{}, missingContext(n.Name())
	}

	params := baseParams(c)
	params["user_name_suffix"] = ""
	if name, ok := params["user_name"].(string); ok && name != "" {
		params["user_name_suffix"] = " " + name
	}

	text := fill(defaultGreeting, params)
	if tpl := optional(ctx, svc, c.Topic, PhaseGreeting); tpl != nil && tpl.UserPromptPattern != "" {
		text = render(svc, tpl, enrich(ctx, svc, params, c.UserID, c.TenantID)).User
	}

	c.Greeting = strings.TrimSpace(text)
	c.Phase = domain.PhaseDiscovery
	c.Turns = append(c.Turns, domain.Turn{Role: domain.RoleAssistant, Content: c.Greeting})
	return workflow.Result{Context: wc, Output: c.Greeting}, nil
}

type questionGeneration struct {
	cfg Config
}

func (n *questionGeneration) Name() string { return domain.NodeQuestionGeneration }

// Run asks the model for the next question of the current phase and pauses.
func (n *questionGeneration) Run(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
	c := wc.Conversation
	if c == nil {
		return workflow.Result{}, missingContext(n.Name())
	}

	tpl, err := resolve(ctx, svc, c.Topic, string(c.Phase))
	if err != nil {
		return workflow.Result{}, err
	}

	params := enrich(ctx, svc, baseParams(c), c.UserID, c.TenantID)
	prompt := render(svc, tpl, params)
	user := prompt.User
	if user == "" {
		user = fill(defaultQuestionPrompt, params)
	}

	msgs := append(transcript(c.Turns), domain.ChatMessage{Role: domain.RoleUser, Content: user})
	res, err := infer(ctx, svc, n.cfg.request(tpl, prompt.System, msgs))
	if err != nil {
		return workflow.Result{}, err
	}
	record(c, res)

	question := strings.TrimSpace(res.Text)
	c.PendingQuestion = question
	c.QuestionsAsked++
	c.Turns = append(c.Turns, domain.Turn{Role: domain.RoleAssistant, Content: question})

	return workflow.Result{Context: wc, Pause: true, Output: question}, nil
}

type responseAnalysis struct {
	cfg Config
}

func (n *responseAnalysis) Name() string { return domain.NodeResponseAnalysis }

// Run extracts candidates from the latest answer.
func (n *responseAnalysis) Run(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
	c := wc.Conversation
	if c == nil {
		return workflow.Result{}, missingContext(n.Name())
	}

	question := ""
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == domain.RoleAssistant {
			question = c.Turns[i].Content
			break
		}
	}

	prompt := fmt.Sprintf("Question: %s\nAnswer: %s\nKnown candidates: %s",
		question, c.LastInput, strings.Join(c.Candidates.Labels(), ", "))
	system := fill(analysisSystemPrompt, baseParams(c))

	res, err := infer(ctx, svc, n.cfg.request(nil, system, []domain.ChatMessage{{Role: domain.RoleUser, Content: prompt}}))
	if err != nil {
		return workflow.Result{}, err
	}
	record(c, res)

	parsed := ParseCandidates(res.Text)
	c.Candidates.Merge(parsed.Candidates)
	if parsed.Ready {
		c.Ready = true
	}
	return workflow.Result{Context: wc}, nil
}

type insightExtraction struct {
	cfg Config
}

func (n *insightExtraction) Name() string { return domain.NodeInsightExtraction }

// Run consolidates the candidate set, ranks it by confidence and updates the phase.
func (n *insightExtraction) Run(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
	c := wc.Conversation
	if c == nil {
		return workflow.Result{}, missingContext(n.Name())
	}

	if len(c.Candidates) > 0 {
		current, err := json.Marshal(c.Candidates)
		if err != nil {
			return workflow.Result{}, fmt.Errorf("failed to encode candidates: %w", err)
		}
		prompt := fmt.Sprintf("Candidates:\n%s\n\nLatest answer: %s", current, c.LastInput)
		system := fill(consolidationSystemPrompt, baseParams(c))

		res, err := infer(ctx, svc, n.cfg.request(nil, system, []domain.ChatMessage{{Role: domain.RoleUser, Content: prompt}}))
		if err != nil {
			return workflow.Result{}, err
		}
		record(c, res)

		c.Candidates.Merge(ParseCandidates(res.Text).Candidates)
		sort.SliceStable(c.Candidates, func(i, j int) bool {
			return c.Candidates[i].Confidence > c.Candidates[j].Confidence
		})
	}

	c.Phase = PhaseFor(c)
	return workflow.Result{Context: wc}, nil
}

type followUpDecision struct {
	policy Policy
}

func (n *followUpDecision) Name() string { return domain.NodeFollowUpDecision }

// Run records the decision; the graph's conditional edge routes on it.
func (n *followUpDecision) Run(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
	c := wc.Conversation
	if c == nil {
		return workflow.Result{}, missingContext(n.Name())
	}
	c.Decision, c.DecisionReason = n.policy.Decide(c)
	c.Phase = PhaseFor(c)
	svc.Logger.Debug("follow-up decision", "decision", c.Decision, "reason", c.DecisionReason)
	return workflow.Result{Context: wc}, nil
}

type completion struct{}

func (n *completion) Name() string { return domain.NodeCompletion }

// Run writes the closing message. A "completion" template of the topic
// supplies the text when present.
func (n *completion) Run(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
	c := wc.Conversation
	if c == nil {
		return workflow.Result{}, missingContext(n.Name())
	}

	labels := c.Candidates.Labels()
	text := "Thank you for this conversation."
	if len(labels) > 0 {
		text = fmt.Sprintf("Thank you for this conversation. Here is what we identified together: %s.", strings.Join(labels, ", "))
	}
	if tpl := optional(ctx, svc, c.Topic, PhaseCompletion); tpl != nil && tpl.UserPromptPattern != "" {
		params := baseParams(c)
		params["values"] = labels
		text = render(svc, tpl, params).User
	}

	c.Closing = strings.TrimSpace(text)
	c.Phase = domain.PhaseConfirm
	c.Turns = append(c.Turns, domain.Turn{Role: domain.RoleAssistant, Content: c.Closing})
	return workflow.Result{Context: wc, Output: c.Closing}, nil
}
