package domain

// ModelPrice is the published price of a model in currency units per million tokens.
type ModelPrice struct {
	InputPerMTok  float64 `json:"input_per_mtok" mapstructure:"input_per_mtok" yaml:"input_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok" mapstructure:"output_per_mtok" yaml:"output_per_mtok"`
}

// Estimate returns the cost of a call with the given token counts.
func (p ModelPrice) Estimate(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.InputPerMTok/1e6 + float64(outputTokens)*p.OutputPerMTok/1e6
}

// ProviderDescriptor is the configuration-time record of one LLM provider.
type ProviderDescriptor struct {
	Name         string                `json:"name" mapstructure:"name"`
	Kind         string                `json:"kind" mapstructure:"kind"`
	Priority     int                   `json:"priority" mapstructure:"priority"`
	DefaultModel string                `json:"default_model" mapstructure:"default_model"`
	Models       map[string]ModelPrice `json:"models" mapstructure:"models"`
	// LatencyMS is the typical latency of a call, used for reporting only.
	LatencyMS int  `json:"latency_ms" mapstructure:"latency_ms"`
	Healthy   bool `json:"healthy" mapstructure:"healthy"`
}

// Supports reports whether model is in the provider's capability set.
func (d ProviderDescriptor) Supports(model string) bool {
	_, ok := d.Models[model]
	return ok
}

// ChatMessage is one message sent to a provider.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// InferenceRequest is the provider-neutral input of Manager.Infer.
type InferenceRequest struct {
	ProviderHint string
	ModelHint    string
	SystemPrompt string
	Messages     []ChatMessage
	Temperature  float64
	MaxTokens    int
}

// InferenceResult is the provider-neutral output of a successful inference.
type InferenceResult struct {
	Text         string  `json:"text"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Cost         float64 `json:"cost"`
	// Attempts lists the providers that failed before this one succeeded.
	Attempts []ProviderAttempt `json:"attempts,omitempty"`
}

// ProviderAttempt records one failed provider in a fallback chain.
type ProviderAttempt struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

// ProviderStatus is the health report of one provider.
type ProviderStatus struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}
