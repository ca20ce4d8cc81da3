package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

// DefaultMaxStepsPerCall bounds the node executions of a single Start or Resume call.
const DefaultMaxStepsPerCall = 64

// ErrStepLimit is recorded when a call exceeds its node execution budget.
var ErrStepLimit = errors.New("step limit exceeded")

// Turn is the outcome of a Start, Resume or Continue call.
type Turn struct {
	State *domain.WorkflowState
	// Outputs are the user-facing texts emitted by the nodes run in this call, in order.
	Outputs []string
	// Delta is the change from the state loaded at the beginning of the call.
	Delta *domain.StateDiff
}

// Reply joins the outputs into a single message.
func (t *Turn) Reply() string {
	return strings.Join(t.Outputs, "\n\n")
}

// Orchestrator runs registered graphs against persisted workflow states.
type Orchestrator struct {
	registry *Registry
	store    ports.WorkflowStore
	stores   map[domain.WorkflowType]ports.WorkflowStore
	services Services
	hooks    domain.LifecycleHooks
	clock    clock.PassiveClock
	maxSteps int
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithStoreFor persists workflows of type t in store instead of the default store.
func WithStoreFor(t domain.WorkflowType, store ports.WorkflowStore) Option {
	return func(o *Orchestrator) {
		o.stores[t] = store
	}
}

// WithServices sets the collaborators handed to nodes.
func WithServices(svc Services) Option {
	return func(o *Orchestrator) {
		o.services = svc
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(o *Orchestrator) {
		o.hooks = o.hooks.Merge(hooks)
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithMaxStepsPerCall bounds the number of node executions per call.
func WithMaxStepsPerCall(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator creates an orchestrator over registry persisting into store.
func NewOrchestrator(registry *Registry, store ports.WorkflowStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		store:    store,
		stores:   make(map[domain.WorkflowType]ports.WorkflowStore),
		clock:    clock.RealClock{},
		maxSteps: DefaultMaxStepsPerCall,
		logger:   logging.NewNop(),
		tracer:   otel.Tracer("github.com/aretw0/coachflow/pkg/workflow"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.services.Logger == nil {
		o.services.Logger = o.logger
	}
	return o
}

// Registry returns the graph registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

func (o *Orchestrator) storeFor(t domain.WorkflowType) ports.WorkflowStore {
	if s, ok := o.stores[t]; ok {
		return s
	}
	return o.store
}

// Start creates a new workflow of type t at the graph's entry node and runs it
// until it pauses for input or completes.
func (o *Orchestrator) Start(ctx context.Context, t domain.WorkflowType, in domain.StartInput) (*Turn, error) {
	e, err := o.registry.lookup(t)
	if err != nil {
		return nil, err
	}

	id := in.WorkflowID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, span := o.tracer.Start(ctx, "workflow.start", trace.WithAttributes(
		attribute.String("workflow.id", id),
		attribute.String("workflow.type", string(t)),
	))
	defer span.End()

	state := domain.NewWorkflowState(id, t, e.graph.Entry, o.clock.Now())
	state.Context.Seed(in)

	o.logger.Debug("workflow started", "workflow_id", id, "workflow_type", t)

	in.WorkflowID = id
	input, _ := json.Marshal(in)
	turn, err := o.run(ctx, e, nil, state, input)
	recordSpan(span, err)
	return turn, err
}

// Resume merges in into a paused workflow and continues stepping from its current node.
// It fails with NotFoundError if the workflow is unknown and with
// InvalidStateError unless the workflow is waiting for input.
func (o *Orchestrator) Resume(ctx context.Context, t domain.WorkflowType, workflowID string, in domain.UserInput) (*Turn, error) {
	e, err := o.registry.lookup(t)
	if err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "workflow.resume", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("workflow.type", string(t)),
	))
	defer span.End()

	loaded, err := o.load(ctx, t, workflowID)
	if err != nil {
		recordSpan(span, err)
		return nil, err
	}
	if loaded.Status != domain.StatusWaitingForInput {
		err := &domain.InvalidStateError{
			Op:     "resume workflow",
			Status: string(loaded.Status),
			Want:   []string{string(domain.StatusWaitingForInput)},
		}
		recordSpan(span, err)
		return nil, err
	}

	state := loaded.Snapshot()
	state.Context.Merge(in)
	state.Status = domain.StatusRunning

	input, _ := json.Marshal(in)
	turn, err := o.run(ctx, e, loaded, state, input)
	recordSpan(span, err)
	return turn, err
}

// Continue re-enters a workflow left in running status, as happens when a
// previous call was interrupted between two nodes. The last completed node is
// not replayed.
func (o *Orchestrator) Continue(ctx context.Context, t domain.WorkflowType, workflowID string) (*Turn, error) {
	e, err := o.registry.lookup(t)
	if err != nil {
		return nil, err
	}
	loaded, err := o.load(ctx, t, workflowID)
	if err != nil {
		return nil, err
	}
	if loaded.Status != domain.StatusRunning {
		return nil, &domain.InvalidStateError{
			Op:     "continue workflow",
			Status: string(loaded.Status),
			Want:   []string{string(domain.StatusRunning)},
		}
	}
	return o.run(ctx, e, loaded, loaded.Snapshot(), nil)
}

// Get loads the persisted state of a workflow.
func (o *Orchestrator) Get(ctx context.Context, t domain.WorkflowType, workflowID string) (*domain.WorkflowState, error) {
	if _, err := o.registry.lookup(t); err != nil {
		return nil, err
	}
	return o.load(ctx, t, workflowID)
}

func (o *Orchestrator) load(ctx context.Context, t domain.WorkflowType, workflowID string) (*domain.WorkflowState, error) {
	state, err := o.storeFor(t).LoadWorkflow(ctx, workflowID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, &domain.NotFoundError{Kind: "workflow", ID: workflowID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	return state, nil
}

// run steps through nodes until a pause point or a terminal node.
// state is owned by run; loaded is the persisted state the call started from.
func (o *Orchestrator) run(ctx context.Context, e *entry, loaded, state *domain.WorkflowState, input json.RawMessage) (*Turn, error) {
	store := o.storeFor(state.Type)
	turn := &Turn{State: state}

	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := state.CurrentNode
		spec, _ := e.graph.Node(name)
		node, ok := e.nodes[name]
		if !ok {
			return nil, o.fail(ctx, store, state, name, fmt.Errorf("node '%s' is not part of graph %s", name, state.Type))
		}
		if steps >= o.maxSteps {
			return nil, o.fail(ctx, store, state, name, fmt.Errorf("%w: %d nodes", ErrStepLimit, o.maxSteps))
		}

		res, dur, err := o.execute(ctx, state, spec, node)
		if err != nil {
			if ctx.Err() != nil {
				// The caller went away; the node will be re-executed on the next call.
				return nil, ctx.Err()
			}
			return nil, o.fail(ctx, store, state, name, err)
		}

		before := state.Context
		state.Context = res.Context
		entry := domain.HistoryEntry{
			Node:      name,
			Input:     input,
			Timestamp: o.clock.Now(),
		}
		if delta := domain.ContextDelta(&before, res.Context); delta != nil {
			entry.Output, _ = json.Marshal(delta)
		}
		state.History = append(state.History, entry)
		input = nil
		if res.Output != "" {
			turn.Outputs = append(turn.Outputs, res.Output)
		}

		o.logger.Debug("node executed", "workflow_id", state.ID, "node", name, "duration", dur)

		if e.graph.IsTerminal(name) {
			state.Status = domain.StatusCompleted
			if err := o.save(ctx, store, state); err != nil {
				return nil, err
			}
			o.emitWorkflow(ctx, o.hooks.OnWorkflowDone, domain.EventWorkflowDone, state)
			o.logger.Info("workflow completed", "workflow_id", state.ID, "workflow_type", state.Type)
			break
		}

		next := res.Next
		if next == "" {
			next = resolveNext(e.graph, name, state.Context)
		}
		if _, ok := e.graph.Node(next); !ok {
			return nil, o.fail(ctx, store, state, name, fmt.Errorf("no valid transition from '%s' (got '%s')", name, next))
		}
		state.CurrentNode = next

		if res.Pause {
			state.Status = domain.StatusWaitingForInput
			if err := o.save(ctx, store, state); err != nil {
				return nil, err
			}
			o.emitWorkflow(ctx, o.hooks.OnWorkflowPaused, domain.EventWorkflowPaused, state)
			break
		}

		if err := o.save(ctx, store, state); err != nil {
			return nil, err
		}
	}

	turn.Delta = domain.Diff(loaded, state)
	return turn, nil
}

func (o *Orchestrator) execute(ctx context.Context, state *domain.WorkflowState, spec domain.NodeSpec, node Node) (Result, time.Duration, error) {
	ctx, span := o.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("workflow.id", state.ID),
		attribute.String("workflow.node", spec.Name),
		attribute.String("workflow.node_kind", string(spec.Kind)),
	))
	defer span.End()

	if o.hooks.OnNodeEnter != nil {
		o.hooks.OnNodeEnter(ctx, o.nodeEvent(domain.EventNodeEnter, state, spec, 0, nil))
	}

	start := o.clock.Now()
	res, err := node.Run(ctx, state.Context.Clone(), o.services)
	dur := o.clock.Since(start)

	if o.hooks.OnNodeLeave != nil {
		o.hooks.OnNodeLeave(ctx, o.nodeEvent(domain.EventNodeLeave, state, spec, dur, err))
	}
	recordSpan(span, err)
	return res, dur, err
}

// resolveNext evaluates conditional edges in declaration order, then falls
// back to the first unconditional edge.
func resolveNext(g *domain.GraphDefinition, name string, wc domain.WorkflowContext) string {
	edges := g.Outgoing(name)
	for _, edge := range edges {
		if edge.Condition != nil && edge.Condition.Eval != nil && edge.Condition.Eval(wc) {
			return edge.To
		}
	}
	for _, edge := range edges {
		if edge.Condition == nil {
			return edge.To
		}
	}
	return ""
}

// fail marks the workflow failed, records cause in history and returns the
// caller-facing error. The cursor stays on the failing node.
func (o *Orchestrator) fail(ctx context.Context, store ports.WorkflowStore, state *domain.WorkflowState, node string, cause error) error {
	state.Status = domain.StatusFailed
	state.History = append(state.History, domain.HistoryEntry{
		Node:      node,
		Error:     cause.Error(),
		Timestamp: o.clock.Now(),
	})

	o.logger.Error("workflow failed", "workflow_id", state.ID, "node", node, "err", cause)

	if err := o.save(ctx, store, state); err != nil {
		o.logger.Warn("failed to persist failed workflow", "workflow_id", state.ID, "err", err)
	}
	o.emitWorkflow(ctx, o.hooks.OnWorkflowDone, domain.EventWorkflowDone, state)

	return &domain.WorkflowFailedError{WorkflowID: state.ID, Node: node, Err: cause}
}

func (o *Orchestrator) save(ctx context.Context, store ports.WorkflowStore, state *domain.WorkflowState) error {
	state.UpdatedAt = o.clock.Now()
	if err := store.SaveWorkflow(ctx, state); err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", state.ID, err)
	}
	return nil
}

func (o *Orchestrator) nodeEvent(typ domain.EventType, state *domain.WorkflowState, spec domain.NodeSpec, dur time.Duration, err error) *domain.NodeEvent {
	return &domain.NodeEvent{
		EventBase: domain.EventBase{
			Timestamp:  o.clock.Now(),
			Type:       typ,
			WorkflowID: state.ID,
		},
		WorkflowType: state.Type,
		Node:         spec.Name,
		Kind:         spec.Kind,
		Duration:     dur,
		Err:          err,
	}
}

func (o *Orchestrator) emitWorkflow(ctx context.Context, hook func(context.Context, *domain.WorkflowEvent), typ domain.EventType, state *domain.WorkflowState) {
	if hook == nil {
		return
	}
	hook(ctx, &domain.WorkflowEvent{
		EventBase: domain.EventBase{
			Timestamp:  o.clock.Now(),
			Type:       typ,
			WorkflowID: state.ID,
		},
		WorkflowType: state.Type,
		Status:       state.Status,
		Node:         state.CurrentNode,
	})
}

func recordSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
