package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/workflow"
)

const extractionSystemPrompt = `You write the final summary of a coaching conversation about %s.
For every confirmed value give a one sentence definition and two or three observable behaviors.
Respond with JSON only: {"summary": "...", "values": [{"label": "...", "definition": "...", "behaviors": ["..."], "confidence": 0.0}]}`

// Extractor runs the final extraction pass of a completed conversation.
type Extractor struct {
	inference    workflow.Inferer
	providerHint string
	modelHint    string
	maxTokens    int
	logger       *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExtractionHints routes the extraction call to a preferred provider and model.
func WithExtractionHints(provider, model string) ExtractorOption {
	return func(e *Extractor) {
		e.providerHint = provider
		e.modelHint = model
	}
}

// WithExtractorLogger sets a custom structured logger.
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor creates an Extractor. A nil inference service derives the
// extraction from the candidate set alone.
func NewExtractor(inference workflow.Inferer, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		inference: inference,
		maxTokens: 2048,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract summarises the session's candidates. Model failures fall back to
// the candidate set so completion never depends on provider availability.
func (e *Extractor) Extract(ctx context.Context, sess *domain.ConversationSession) *domain.Extraction {
	out := &domain.Extraction{SessionID: sess.ID, Topic: sess.Topic}

	var candidates domain.CandidateSet
	if sess.Workflow != nil && sess.Workflow.Context.Conversation != nil {
		candidates = sess.Workflow.Context.Conversation.Candidates
	}

	if e.inference != nil && len(candidates) > 0 {
		err := e.infer(ctx, sess, candidates, out)
		if err == nil {
			return out
		}
		e.logger.Warn("Extraction fell back to candidates", "session_id", sess.ID, "err", err)
	}

	labels := candidates.Labels()
	for _, c := range candidates {
		out.Values = append(out.Values, domain.ConfirmedValue{
			Label:      c.Label,
			Definition: c.Evidence,
			Behaviors:  []string{},
			Confidence: c.Confidence,
		})
	}
	if out.Values == nil {
		out.Values = []domain.ConfirmedValue{}
	}
	out.Summary = "Confirmed values: " + strings.Join(labels, ", ") + "."
	return out
}

func (e *Extractor) infer(ctx context.Context, sess *domain.ConversationSession, candidates domain.CandidateSet, out *domain.Extraction) error {
	list, err := json.Marshal(candidates)
	if err != nil {
		return err
	}
	res, err := e.inference.Infer(ctx, domain.InferenceRequest{
		ProviderHint: e.providerHint,
		ModelHint:    e.modelHint,
		SystemPrompt: fmt.Sprintf(extractionSystemPrompt, sess.Topic),
		Messages: []domain.ChatMessage{{
			Role:    domain.RoleUser,
			Content: "Confirmed candidates:\n" + string(list),
		}},
		Temperature: 0.2,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return err
	}

	parsed, err := parseExtraction(res.Text)
	if err != nil {
		return err
	}
	out.Summary = parsed.Summary
	out.Values = parsed.Values
	out.Provider = res.Provider
	out.Model = res.Model
	return nil
}

type extractionPayload struct {
	Summary string                  `json:"summary"`
	Values  []domain.ConfirmedValue `json:"values"`
}

func parseExtraction(text string) (*extractionPayload, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("extraction response is not JSON")
	}
	var p extractionPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("failed to decode extraction: %w", err)
	}
	if len(p.Values) == 0 {
		return nil, fmt.Errorf("extraction has no values")
	}
	for i := range p.Values {
		if p.Values[i].Behaviors == nil {
			p.Values[i].Behaviors = []string{}
		}
	}
	return &p, nil
}
