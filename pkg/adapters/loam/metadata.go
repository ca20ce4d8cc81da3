package loam

// TemplateMetadata is the frontmatter of a template document.
// The document body is the system prompt.
type TemplateMetadata struct {
	Topic              string         `json:"topic" mapstructure:"topic"`
	Phase              string         `json:"phase" mapstructure:"phase"`
	Version            int            `json:"version" mapstructure:"version"`
	Latest             bool           `json:"latest" mapstructure:"latest"`
	UserPrompt         string         `json:"user_prompt" mapstructure:"user_prompt"`
	DeclaredParameters []string       `json:"parameters" mapstructure:"parameters"`
	CreatedAt          string         `json:"created_at,omitempty" mapstructure:"created_at"`
	// Metadata may nest; nested keys are flattened with '.'.
	Metadata map[string]any `json:"metadata,omitempty" mapstructure:"metadata"`
}
