/*
Package ports defines the driven ports (interfaces) of the coaching workflow engine.

These interfaces decouple the core logic from external implementations, allowing
the engine to work with various storage backends, template sources and LLM vendors.

# Key Interfaces

  - ConversationStore: persists sessions with optimistic-concurrency writes.
  - WorkflowStore: persists workflow states for the orchestrator.
  - TemplateStore / TemplatePublisher: versioned prompt templates.
  - BusinessDataClient: optional business context used for enrichment.
  - ProviderAdapter: one LLM vendor.
  - ArchiveSink: receives completed sessions.
  - DistributedLocker: provides distributed locking for handling concurrent session access.
*/
package ports
