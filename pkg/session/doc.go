/*
Package session implements the conversation-level Session Manager.

A ConversationSession is the durable identity of a multi-turn coaching dialogue.
It embeds the WorkflowState of its conversational graph in the same persisted
record, so one conditional write covers both. The Manager serializes calls per
session with a reference-counted in-process lock, optionally backed by a
distributed lock across replicas, and drives the workflow Orchestrator for
every message.
*/
package session
