package nodes

// Built-in instructions of the structured-output steps. Topic-specific wording
// lives in templates; these only fix the output format the parsers expect.
const (
	analysisSystemPrompt = `You analyse one answer of a coaching conversation about {{topic}}.
Identify candidate values expressed in the answer.
Reply with JSON only: {"candidates":[{"label":"...","evidence":"...","confidence":0.0}],"ready":false}
Set "ready" to true only if the user explicitly asks to wrap up.`

	consolidationSystemPrompt = `You consolidate candidate values gathered in a coaching conversation about {{topic}}.
Merge duplicates, keep the user's wording and score each candidate's confidence from 0 to 1.
Reply with JSON only: {"candidates":[{"label":"...","evidence":"...","confidence":0.0}]}`

	insightSystemPrompt = `You extract structured insights from an analysis about {{topic}}.
Reply with JSON only: {"summary":"...","insights":[{"label":"...","evidence":"...","confidence":0.0}]}`

	defaultGreeting = "Hi{{user_name_suffix}}! Let's explore your {{topic}} together."

	defaultQuestionPrompt = "Ask one short, open coaching question about {{topic}} for the {{phase}} phase."
)
