// Package templates resolves, renders and enriches versioned prompt templates.
//
// The Resolver fronts a ports.TemplateStore with a ristretto cache. Explicit
// versions are immutable and cached without expiry; "latest" lookups are cached
// with a TTL and dropped on an explicit invalidation signal, which the
// Publisher emits on every publish and Watch emits on backend changes.
package templates
