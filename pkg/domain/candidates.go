package domain

import "strings"

// Candidate is a value surfaced during coaching, with the evidence that supports it.
type Candidate struct {
	Label      string  `json:"label"`
	Evidence   string  `json:"evidence,omitempty"`
	Confidence float64 `json:"confidence"`
}

// CandidateSet is an insertion-ordered set of candidates keyed by normalized label.
type CandidateSet []Candidate

func labelKey(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// Index returns the position of the candidate with the given label, or -1.
func (s CandidateSet) Index(label string) int {
	key := labelKey(label)
	for i, c := range s {
		if labelKey(c.Label) == key {
			return i
		}
	}
	return -1
}

// Add inserts c, or merges it into the existing entry with the same label.
// A merge keeps the original position and label, raises the confidence to the
// maximum of both and fills in missing evidence. It reports whether c was new.
func (s *CandidateSet) Add(c Candidate) bool {
	c.Label = strings.TrimSpace(c.Label)
	if c.Label == "" {
		return false
	}
	if i := s.Index(c.Label); i >= 0 {
		existing := &(*s)[i]
		if c.Confidence > existing.Confidence {
			existing.Confidence = c.Confidence
		}
		if existing.Evidence == "" {
			existing.Evidence = c.Evidence
		}
		return false
	}
	*s = append(*s, c)
	return true
}

// Merge adds every candidate of other and returns how many were new.
func (s *CandidateSet) Merge(other []Candidate) int {
	added := 0
	for _, c := range other {
		if s.Add(c) {
			added++
		}
	}
	return added
}

// Labels returns the labels in insertion order.
func (s CandidateSet) Labels() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Label
	}
	return out
}

// Clone returns an independent copy.
func (s CandidateSet) Clone() CandidateSet {
	if s == nil {
		return nil
	}
	return append(CandidateSet(nil), s...)
}
