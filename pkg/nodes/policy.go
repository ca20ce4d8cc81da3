package nodes

import (
	"fmt"

	"github.com/aretw0/coachflow/pkg/domain"
)

// Policy bounds the conversational question loop.
type Policy struct {
	// MinCandidates is the number of candidates required before an explicit
	// ready signal may finalize.
	MinCandidates int `mapstructure:"min_candidates"`
	// TargetCandidates finalizes without a ready signal.
	TargetCandidates int `mapstructure:"target_candidates"`
	// MaxTurns is the safety valve: the loop ends after this many questions.
	MaxTurns int `mapstructure:"max_turns"`
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{MinCandidates: 3, TargetCandidates: 10, MaxTurns: 12}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MinCandidates <= 0 {
		p.MinCandidates = d.MinCandidates
	}
	if p.TargetCandidates <= 0 {
		p.TargetCandidates = d.TargetCandidates
	}
	if p.MaxTurns <= 0 {
		p.MaxTurns = d.MaxTurns
	}
	return p
}

// Decide returns whether the conversation should continue or finalize, and why.
func (p Policy) Decide(c *domain.ConversationContext) (domain.Decision, string) {
	p = p.withDefaults()
	n := len(c.Candidates)
	switch {
	case c.Ready && n >= p.MinCandidates:
		return domain.DecisionFinalize, fmt.Sprintf("user is ready with %d candidates", n)
	case n >= p.TargetCandidates:
		return domain.DecisionFinalize, fmt.Sprintf("reached %d candidates", n)
	case c.QuestionsAsked >= p.MaxTurns:
		return domain.DecisionFinalize, fmt.Sprintf("reached the limit of %d questions", p.MaxTurns)
	case c.Ready:
		return domain.DecisionContinue, fmt.Sprintf("ready but only %d of %d candidates", n, p.MinCandidates)
	}
	return domain.DecisionContinue, fmt.Sprintf("%d candidates so far", n)
}

// PhaseFor derives the coaching phase from the accumulated candidates.
func PhaseFor(c *domain.ConversationContext) domain.Phase {
	n := len(c.Candidates)
	switch {
	case c.Ready:
		return domain.PhaseBehaviors
	case n < 3:
		return domain.PhaseDiscovery
	case n < 6:
		return domain.PhaseDisambiguation
	case n < 9:
		return domain.PhasePrioritize
	}
	return domain.PhaseValidate
}
