package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionNotFound is returned when a session or workflow ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrVersionConflict is returned when a conditional write sees a different record version.
var ErrVersionConflict = errors.New("version conflict")

// ErrModelNotSupported is recorded when a provider is skipped because it lacks the requested model.
var ErrModelNotSupported = errors.New("model not supported by provider")

// ErrProviderUnhealthy is recorded when a provider is skipped because its health flag is down.
var ErrProviderUnhealthy = errors.New("provider unhealthy")

// Stable error codes surfaced to callers.
const (
	CodeNotFound           = "not_found"
	CodeInvalidState       = "invalid_state"
	CodeTemplateNotFound   = "template_not_found"
	CodeAllProvidersFailed = "all_providers_failed"
	CodeValidation         = "validation_failed"
	CodeNotReady           = "not_ready"
	CodeConflict           = "conflict"
	CodeWorkflowFailed     = "workflow_failed"
	CodeInternal           = "internal"
)

type coder interface {
	Code() string
}

// ErrorCode maps err to its stable code. Unknown errors map to CodeInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	if errors.Is(err, ErrSessionNotFound) {
		return CodeNotFound
	}
	if errors.Is(err, ErrVersionConflict) {
		return CodeConflict
	}
	return CodeInternal
}

// NotFoundError reports an unknown session, workflow, template or version.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }
func (e *NotFoundError) Code() string  { return CodeNotFound }

// Is lets errors.Is match session and workflow lookups against ErrSessionNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrSessionNotFound && (e.Kind == "session" || e.Kind == "workflow")
}

// InvalidStateError reports an operation that is not valid for the current status.
type InvalidStateError struct {
	Op     string
	Status string
	Want   []string
}

func (e *InvalidStateError) Error() string {
	if len(e.Want) == 0 {
		return fmt.Sprintf("cannot %s in status %q", e.Op, e.Status)
	}
	return fmt.Sprintf("cannot %s in status %q (want %s)", e.Op, e.Status, strings.Join(e.Want, " or "))
}
func (e *InvalidStateError) Code() string { return CodeInvalidState }

// TemplateNotFoundError reports a missing topic, phase or version.
type TemplateNotFoundError struct {
	Topic   string
	Phase   string
	Version int
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template %s not found", TemplateKey(e.Topic, e.Phase, e.Version))
}
func (e *TemplateNotFoundError) Code() string { return CodeTemplateNotFound }

// AllProvidersFailedError carries the ordered list of failed provider attempts.
type AllProvidersFailedError struct {
	Attempts []ProviderAttempt
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Message))
	}
	return fmt.Sprintf("all %d providers failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}
func (e *AllProvidersFailedError) Code() string { return CodeAllProvidersFailed }

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
func (e *ValidationError) Code() string  { return CodeValidation }
func (e *ValidationError) Unwrap() error { return e.Err }

// NotReadyError reports an attempt to complete a workflow that has not reached its terminal node.
type NotReadyError struct {
	SessionID   string
	CurrentNode string
	Status      WorkflowStatus
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("session %q is not ready to complete (node %q, status %q)", e.SessionID, e.CurrentNode, e.Status)
}
func (e *NotReadyError) Code() string { return CodeNotReady }

// ConflictError reports a failed conditional write.
type ConflictError struct {
	Kind     string
	ID       string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q: expected version %d, found %d", e.Kind, e.ID, e.Expected, e.Actual)
}
func (e *ConflictError) Code() string  { return CodeConflict }
func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

// WorkflowFailedError wraps the unrecoverable error that failed a node.
type WorkflowFailedError struct {
	WorkflowID string
	Node       string
	Err        error
}

func (e *WorkflowFailedError) Error() string {
	return fmt.Sprintf("workflow %q failed at %s: %v", e.WorkflowID, e.Node, e.Err)
}
func (e *WorkflowFailedError) Unwrap() error { return e.Err }

// Code returns the code of the underlying error when it has one.
func (e *WorkflowFailedError) Code() string {
	var c coder
	if errors.As(e.Err, &c) {
		return c.Code()
	}
	return CodeWorkflowFailed
}
