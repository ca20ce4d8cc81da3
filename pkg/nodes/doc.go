// Package nodes implements the node library of the two built-in graphs.
//
// Nodes are pure with respect to the workflow context: given the same context
// and deterministic collaborators they produce the same updated context, so
// the orchestrator can re-execute a node after an interrupted call.
// Inference nodes call the provider manager at most once per run.
package nodes
