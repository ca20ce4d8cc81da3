package scripted

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

// Coach is a Responder that plays every step of the built-in graphs offline.
// Answers are read as comma separated candidate values; a ready signal asks to
// finalize. It is what `coachflow chat --offline` talks to.
func Coach(req ports.ProviderRequest) (string, bool) {
	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}

	switch {
	case strings.Contains(req.SystemPrompt, "analyse one answer"):
		return answerCandidates(last), true
	case strings.Contains(req.SystemPrompt, "consolidate candidate values"):
		return `{"candidates":[]}`, true
	case strings.Contains(req.SystemPrompt, "extract structured insights"):
		return insights(last), true
	case strings.Contains(req.SystemPrompt, "final summary"):
		return extraction(last), true
	case len(req.Messages) > 1:
		asked := 0
		for _, m := range req.Messages {
			if m.Role == domain.RoleAssistant {
				asked++
			}
		}
		return fmt.Sprintf("Question %d: what else matters to you, and why?", asked), true
	}
	first, _, _ := strings.Cut(strings.TrimSpace(last), "\n")
	return "Analysis: " + first + "\n\nThe input shows clear priorities.", true
}

type jsonCandidate struct {
	Label      string  `json:"label"`
	Evidence   string  `json:"evidence,omitempty"`
	Confidence float64 `json:"confidence"`
}

func answerCandidates(prompt string) string {
	answer := ""
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(line, "Answer:"); ok {
			answer = strings.TrimSpace(rest)
		}
	}

	out := struct {
		Candidates []jsonCandidate `json:"candidates"`
		Ready      bool            `json:"ready"`
	}{Candidates: []jsonCandidate{}}

	if domain.IsReadySignal(answer) {
		out.Ready = true
	} else {
		for _, part := range strings.FieldsFunc(answer, func(r rune) bool { return r == ',' || r == ';' }) {
			label := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "and "))
			if label != "" {
				out.Candidates = append(out.Candidates, jsonCandidate{Label: label, Evidence: answer, Confidence: 0.6})
			}
		}
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func insights(raw string) string {
	out := struct {
		Summary  string          `json:"summary"`
		Insights []jsonCandidate `json:"insights"`
	}{Insights: []jsonCandidate{}}

	for i, sentence := range strings.Split(raw, ".") {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if out.Summary == "" {
			out.Summary = sentence + "."
		}
		if i >= 3 {
			break
		}
		words := strings.Fields(sentence)
		if len(words) > 4 {
			words = words[:4]
		}
		out.Insights = append(out.Insights, jsonCandidate{Label: strings.Join(words, " "), Evidence: sentence, Confidence: 0.7})
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func extraction(prompt string) string {
	var cands []jsonCandidate
	if start := strings.Index(prompt, "["); start >= 0 {
		if end := strings.LastIndex(prompt, "]"); end > start {
			_ = json.Unmarshal([]byte(prompt[start:end+1]), &cands)
		}
	}

	type value struct {
		Label      string   `json:"label"`
		Definition string   `json:"definition"`
		Behaviors  []string `json:"behaviors"`
		Confidence float64  `json:"confidence"`
	}
	out := struct {
		Summary string  `json:"summary"`
		Values  []value `json:"values"`
	}{Values: []value{}}

	labels := make([]string, 0, len(cands))
	for _, c := range cands {
		labels = append(labels, c.Label)
		out.Values = append(out.Values, value{
			Label:      c.Label,
			Definition: "Acting with " + strings.ToLower(c.Label) + ".",
			Behaviors:  []string{"Names " + strings.ToLower(c.Label) + " when making decisions"},
			Confidence: c.Confidence,
		})
	}
	out.Summary = "Confirmed values: " + strings.Join(labels, ", ") + "."
	b, _ := json.Marshal(out)
	return string(b)
}
