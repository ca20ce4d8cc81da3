/*
Package dsl provides a fluent builder for constructing workflow graphs in Go code.

Graphs are static: they are defined once at process start and derived
deterministically from the workflow type. Conditions are named predicates over
the typed workflow context so they can be rendered and validated.

Example usage:

	b := dsl.New(domain.WorkflowAnalysis).Entry("validate")

	b.Add("validate").Logic().Go("run")
	b.Add("run").Inference().Go("done")
	b.Add("done").Terminal()

	graph, err := b.Build()
*/
package dsl
