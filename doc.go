/*
Package coachflow is a conversational-coaching workflow engine. It drives
multi-turn coaching dialogues (personal values, goals) and single-shot
analyses (SWOT, mission review) through declarative workflow graphs whose
inference steps are backed by versioned prompt templates and a prioritized
pool of LLM providers with fallback.

# Concept

A workflow graph is a set of nodes joined by plain and conditional edges.
The orchestrator runs nodes until the graph pauses for user input or reaches
a terminal node, persisting its state after every step so a conversation can
resume in another process. Sessions wrap the conversational graph with a
lifecycle (active, paused, completed) and a final structured extraction.

# Layout

  - pkg/workflow: graph registry, validation and the orchestrator.
  - pkg/nodes: the node library for the conversational and analysis graphs.
  - pkg/providers: provider manager with ordered fallback and health status.
  - pkg/templates: template resolution, rendering, enrichment and publishing.
  - pkg/session: session manager, per-session locking and extraction.
  - pkg/dispatch: static route table mapping endpoints to topics.
  - pkg/adapters: storage, provider, transport and archive adapters.

# Usage

The coachflow command wires everything from coachflow.yaml:

	coachflow serve                # HTTP API
	coachflow chat values --offline
	coachflow graph conversational
	coachflow mcp                  # Model Context Protocol over stdio
*/
package coachflow
