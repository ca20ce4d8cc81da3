package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

// Mask replaces values of sensitive keys.
const Mask = "***"

type piiMiddleware struct {
	next     ports.ConversationStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks workflow parameters whose
// keys match any of the patterns before they reach the store.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.ConversationStore) ports.ConversationStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Put(ctx context.Context, session *domain.ConversationSession, expectedVersion int64) error {
	// Mask a copy; the caller keeps working with the original.
	cloned := session.Snapshot()
	if w := cloned.Workflow; w != nil {
		switch {
		case w.Context.Conversation != nil:
			w.Context.Conversation.Params = deepCopyMap(w.Context.Conversation.Params)
			maskMap(w.Context.Conversation.Params, m.patterns)
		case w.Context.Analysis != nil:
			w.Context.Analysis.Params = deepCopyMap(w.Context.Analysis.Params)
			maskMap(w.Context.Analysis.Params, m.patterns)
		}
	}

	if err := m.next.Put(ctx, cloned, expectedVersion); err != nil {
		return err
	}
	session.Version = cloned.Version
	return nil
}

func (m *piiMiddleware) Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	return m.next.Get(ctx, sessionID)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}

		if subMap, ok := v.(map[string]any); ok && !masked {
			maskMap(subMap, patterns)
		}
	}
}
