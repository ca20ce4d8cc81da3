// Package dispatch maps inbound endpoints to topics and workflow kinds.
//
// A route binds (method, path) to a topic and a handler kind. Single-shot
// routes run the analysis graph to completion in one call; conversational
// routes open a coaching session. Adding an endpoint is a table entry plus
// a prompt template for its topic.
package dispatch
