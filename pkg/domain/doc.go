/*
Package domain contains the core domain models of the coaching workflow engine.

It defines the entities threaded through every layer: the workflow state and its
typed contexts, conversation sessions, prompt templates, provider descriptors and
the static graph definitions. This package is kept pure and free of external
dependencies like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - WorkflowState: the execution cursor of one workflow (current node, status, context, history).
  - WorkflowContext: a typed union with one schema per workflow type.
  - ConversationSession: the durable identity of a multi-turn dialogue, embedding its WorkflowState.
  - PromptTemplate: an immutable, versioned prompt for one topic/phase.
  - GraphDefinition: named nodes, conditional edges and terminal nodes of a workflow type.
*/
package domain
