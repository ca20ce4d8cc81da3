package nodes

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/coachflow/pkg/domain"
)

// defaultConfidence is assigned to candidates parsed from free text.
const defaultConfidence = 0.5

type candidatePayload struct {
	Candidates []candidateJSON `json:"candidates"`
	Insights   []candidateJSON `json:"insights"`
	Ready      bool            `json:"ready"`
	Summary    string          `json:"summary"`
}

type candidateJSON struct {
	Label      string   `json:"label"`
	Evidence   string   `json:"evidence"`
	Confidence *float64 `json:"confidence"`
}

// Parsed is the structured reading of a model reply.
type Parsed struct {
	Candidates []domain.Candidate
	Ready      bool
	Summary    string
}

var bulletRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)

// ParseCandidates reads a model reply. It prefers the first JSON object in the
// text and falls back to bulleted lines of the form "Label: evidence".
func ParseCandidates(text string) Parsed {
	if p, ok := parseJSON(text); ok {
		return p
	}

	var out Parsed
	for _, line := range strings.Split(text, "\n") {
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		label, evidence := m[1], ""
		for _, sep := range []string{":", " - ", " \u2014 "} {
			if i := strings.Index(m[1], sep); i > 0 {
				label, evidence = m[1][:i], strings.TrimSpace(m[1][i+len(sep):])
				break
			}
		}
		label = strings.Trim(strings.TrimSpace(label), "*_\"")
		if label == "" {
			continue
		}
		out.Candidates = append(out.Candidates, domain.Candidate{
			Label:      label,
			Evidence:   evidence,
			Confidence: defaultConfidence,
		})
	}
	return out
}

func parseJSON(text string) (Parsed, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Parsed{}, false
	}

	var payload candidatePayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return Parsed{}, false
	}

	out := Parsed{Ready: payload.Ready, Summary: strings.TrimSpace(payload.Summary)}
	for _, c := range append(payload.Candidates, payload.Insights...) {
		conf := defaultConfidence
		if c.Confidence != nil {
			conf = clamp(*c.Confidence)
		}
		out.Candidates = append(out.Candidates, domain.Candidate{
			Label:      strings.TrimSpace(c.Label),
			Evidence:   strings.TrimSpace(c.Evidence),
			Confidence: conf,
		})
	}
	return out, true
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	// Round to keep persisted contexts stable across float formatting.
	r, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 3, 64), 64)
	return r
}
