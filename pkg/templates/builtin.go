package templates

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/coachflow/pkg/domain"
)

//go:embed builtin.yaml
var builtinYAML []byte

type builtinEntry struct {
	Topic      string            `yaml:"topic"`
	Phase      string            `yaml:"phase"`
	System     string            `yaml:"system"`
	User       string            `yaml:"user"`
	Parameters []string          `yaml:"parameters"`
	Metadata   map[string]string `yaml:"metadata"`
}

// Builtin returns the templates shipped with the binary, each as latest
// version 1 of its (topic, phase).
func Builtin() ([]domain.PromptTemplate, error) {
	return parseBuiltin(builtinYAML, time.Unix(0, 0).UTC())
}

func parseBuiltin(data []byte, createdAt time.Time) ([]domain.PromptTemplate, error) {
	var entries []builtinEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse builtin templates: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	out := make([]domain.PromptTemplate, 0, len(entries))
	for i, e := range entries {
		if e.Topic == "" || e.Phase == "" {
			return nil, fmt.Errorf("builtin template %d: topic and phase are required", i)
		}
		tpl := domain.PromptTemplate{
			Topic:              e.Topic,
			Phase:              e.Phase,
			Version:            1,
			IsLatest:           true,
			SystemPrompt:       strings.TrimSpace(e.System),
			UserPromptPattern:  strings.TrimSpace(e.User),
			DeclaredParameters: e.Parameters,
			Metadata:           e.Metadata,
			CreatedAt:          createdAt,
		}
		if seen[tpl.Key()] {
			return nil, fmt.Errorf("builtin template %s/%s declared twice", e.Topic, e.Phase)
		}
		seen[tpl.Key()] = true
		out = append(out, tpl)
	}
	return out, nil
}
