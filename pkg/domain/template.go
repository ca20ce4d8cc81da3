package domain

import (
	"fmt"
	"time"
)

// LatestVersion asks a template lookup for the version flagged as latest.
const LatestVersion = 0

// PromptTemplate is an immutable, versioned prompt definition for one topic/phase.
type PromptTemplate struct {
	Topic              string            `json:"topic" yaml:"topic"`
	Phase              string            `json:"phase" yaml:"phase"`
	Version            int               `json:"version" yaml:"version"`
	IsLatest           bool              `json:"is_latest" yaml:"is_latest"`
	SystemPrompt       string            `json:"system_prompt" yaml:"system_prompt"`
	UserPromptPattern  string            `json:"user_prompt_pattern" yaml:"user_prompt_pattern"`
	DeclaredParameters []string          `json:"declared_parameters" yaml:"declared_parameters"`
	Metadata           map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at" yaml:"created_at"`
}

// Key is the composite identifier of the template record.
func (t *PromptTemplate) Key() string {
	return TemplateKey(t.Topic, t.Phase, t.Version)
}

// TemplateKey builds the composite identifier for (topic, phase, version).
func TemplateKey(topic, phase string, version int) string {
	if version == LatestVersion {
		return fmt.Sprintf("%s/%s@latest", topic, phase)
	}
	return fmt.Sprintf("%s/%s@v%d", topic, phase, version)
}

// TemplateVersion is the listing entry returned by template stores.
type TemplateVersion struct {
	Version   int       `json:"version"`
	IsLatest  bool      `json:"is_latest"`
	CreatedAt time.Time `json:"created_at"`
}

// BusinessContext is supplementary data about the user's business used to enrich prompts.
type BusinessContext struct {
	Vision     string         `json:"vision,omitempty"`
	Mission    string         `json:"mission,omitempty"`
	Goals      []string       `json:"goals,omitempty"`
	CoreValues []string       `json:"core_values,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}
