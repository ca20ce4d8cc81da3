/*
Package observability provides tools for monitoring the coaching workflow engine.

It turns the engine's lifecycle hooks into Prometheus metrics and structured
log lines. Tracing spans are emitted by the orchestrator and the provider
manager through the global OpenTelemetry tracer provider.
*/
package observability
