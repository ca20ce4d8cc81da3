// Package providers hides vendor differences behind a single Infer entry point
// with an ordered fallback chain, model capability checks and cost estimation.
package providers
