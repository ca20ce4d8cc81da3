package workflow

import (
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/dsl"
)

// Condition names used by the built-in graphs.
const (
	CondReadyToFinalize = "ready_to_finalize"
	CondInvalidInput    = "invalid_input"
)

// ConversationalGraph is the multi-turn coaching loop:
// greeting → question_generation → response_analysis → insight_extraction →
// follow_up_decision → (question_generation | completion).
func ConversationalGraph() *domain.GraphDefinition {
	b := dsl.New(domain.WorkflowConversational).Entry(domain.NodeGreeting)

	b.Add(domain.NodeGreeting).Logic().
		Describe("Opens the conversation").
		Go(domain.NodeQuestionGeneration)
	b.Add(domain.NodeQuestionGeneration).Input().
		Describe("Asks the next coaching question and waits for the answer").
		Go(domain.NodeResponseAnalysis)
	b.Add(domain.NodeResponseAnalysis).Inference().
		Describe("Extracts candidates from the latest answer").
		Go(domain.NodeInsightExtraction)
	b.Add(domain.NodeInsightExtraction).Inference().
		Describe("Consolidates and ranks candidates").
		Go(domain.NodeFollowUpDecision)
	b.Add(domain.NodeFollowUpDecision).Logic().
		Describe("Decides whether to keep asking or finalize").
		Branch(CondReadyToFinalize, readyToFinalize, domain.NodeCompletion).
		Go(domain.NodeQuestionGeneration)
	b.Add(domain.NodeCompletion).Terminal().
		Describe("Closes the conversation")

	return b.MustBuild()
}

// AnalysisGraph is the single-shot linear pipeline. input_validation is the
// only node that may short-circuit to completion.
func AnalysisGraph() *domain.GraphDefinition {
	b := dsl.New(domain.WorkflowAnalysis).Entry(domain.NodeInputValidation)

	b.Add(domain.NodeInputValidation).Logic().
		Describe("Rejects malformed input").
		Branch(CondInvalidInput, invalidInput, domain.NodeCompletion).
		Go(domain.NodeAnalysisExecution)
	b.Add(domain.NodeAnalysisExecution).Inference().
		Describe("Runs the topic analysis prompt").
		Go(domain.NodeInsightExtraction)
	b.Add(domain.NodeInsightExtraction).Inference().
		Describe("Extracts structured insights").
		Go(domain.NodeResponseFormatting)
	b.Add(domain.NodeResponseFormatting).Logic().
		Describe("Builds the caller-facing result").
		Go(domain.NodeCompletion)
	b.Add(domain.NodeCompletion).Terminal()

	return b.MustBuild()
}

func readyToFinalize(wc domain.WorkflowContext) bool {
	return wc.Conversation != nil && wc.Conversation.Decision == domain.DecisionFinalize
}

func invalidInput(wc domain.WorkflowContext) bool {
	return wc.Analysis != nil && wc.Analysis.Error != nil
}

// GraphFor returns the built-in graph of the given type.
func GraphFor(t domain.WorkflowType) (*domain.GraphDefinition, bool) {
	switch t {
	case domain.WorkflowConversational:
		return ConversationalGraph(), true
	case domain.WorkflowAnalysis:
		return AnalysisGraph(), true
	}
	return nil, false
}
