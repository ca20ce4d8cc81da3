// Package workflow owns the graph-walk algorithm of coachflow.
//
// An Orchestrator starts and resumes workflows of a registered type. Each call
// steps through nodes sequentially, persisting the WorkflowState after every
// node, until a node asks to pause for user input or a terminal node runs.
// Transitions are resolved here from the static GraphDefinition, never inside
// node bodies: conditional edges are evaluated first, in declaration order,
// then the first unconditional edge.
package workflow
