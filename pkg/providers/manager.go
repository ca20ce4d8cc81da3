package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

type provider struct {
	desc    domain.ProviderDescriptor
	adapter ports.ProviderAdapter
}

// Manager is the registry of configured providers. It is constructed once at
// process start and shared by every session.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]*provider
	defaultP  string

	hooks         domain.LifecycleHooks
	clock         clock.PassiveClock
	healthTimeout time.Duration
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Option configures the Manager.
type Option func(*Manager)

// WithDefault names the provider tried right after a usable hint.
func WithDefault(name string) Option {
	return func(m *Manager) {
		m.defaultP = name
	}
}

// WithLifecycleHooks registers observability hooks (OnProviderAttempt).
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(m *Manager) {
		m.hooks = m.hooks.Merge(hooks)
	}
}

// WithClock sets the clock used for attempt durations.
func WithClock(c clock.PassiveClock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithHealthTimeout bounds each provider health check in Status.
func WithHealthTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.healthTimeout = d
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		providers:     make(map[string]*provider),
		clock:         clock.RealClock{},
		healthTimeout: 5 * time.Second,
		logger:        logging.NewNop(),
		tracer:        otel.Tracer("github.com/aretw0/coachflow/pkg/providers"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a provider. The descriptor name must match the adapter name.
func (m *Manager) Register(desc domain.ProviderDescriptor, adapter ports.ProviderAdapter) error {
	if desc.Name == "" {
		desc.Name = adapter.Name()
	}
	if desc.Name != adapter.Name() {
		return fmt.Errorf("provider descriptor %q does not match adapter %q", desc.Name, adapter.Name())
	}
	if desc.DefaultModel == "" {
		return fmt.Errorf("provider %q has no default model", desc.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.providers[desc.Name]; dup {
		return fmt.Errorf("provider %q registered twice", desc.Name)
	}
	m.providers[desc.Name] = &provider{desc: desc, adapter: adapter}
	return nil
}

// Descriptors returns the registered descriptors in priority order.
func (m *Manager) Descriptors() []domain.ProviderDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ProviderDescriptor, 0, len(m.providers))
	for _, p := range m.byPriority() {
		out = append(out, p.desc)
	}
	return out
}

// SetHealthy overrides the health flag of a provider.
func (m *Manager) SetHealthy(name string, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.providers[name]; ok {
		p.desc.Healthy = healthy
	}
}

// candidate is one planned attempt of the fallback chain. desc is a copy taken
// under the manager lock; health is re-read through m.healthy at attempt time.
type candidate struct {
	desc    domain.ProviderDescriptor
	adapter ports.ProviderAdapter
	model   string
}

// plan orders the fallback chain: the hint if it is healthy and capable of the
// model hint, then the default provider, then the rest in priority order.
// Each provider appears at most once.
func (m *Manager) plan(req domain.InferenceRequest) []candidate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []candidate
	seen := make(map[string]bool)
	add := func(p *provider) {
		if p == nil || seen[p.desc.Name] {
			return
		}
		seen[p.desc.Name] = true
		model := req.ModelHint
		if model == "" {
			model = p.desc.DefaultModel
		}
		out = append(out, candidate{desc: p.desc, adapter: p.adapter, model: model})
	}

	if hint, ok := m.providers[req.ProviderHint]; ok {
		model := req.ModelHint
		if model == "" {
			model = hint.desc.DefaultModel
		}
		if hint.desc.Healthy && hint.desc.Supports(model) && hint.adapter.Supports(model) {
			add(hint)
		}
	}
	add(m.providers[m.defaultP])
	for _, p := range m.byPriority() {
		add(p)
	}
	return out
}

func (m *Manager) byPriority() []*provider {
	list := make([]*provider, 0, len(m.providers))
	for _, p := range m.providers {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].desc.Priority != list[j].desc.Priority {
			return list[i].desc.Priority < list[j].desc.Priority
		}
		return list[i].desc.Name < list[j].desc.Name
	})
	return list
}

// Infer runs the fallback chain until a provider succeeds. A provider that is
// unhealthy or lacks the model is recorded as a failed attempt without a call.
// When every candidate fails it returns *domain.AllProvidersFailedError listing
// one attempt per configured provider, in order.
func (m *Manager) Infer(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResult, error) {
	chain := m.plan(req)
	if len(chain) == 0 {
		return nil, &domain.AllProvidersFailedError{}
	}

	var attempts []domain.ProviderAttempt
	for _, c := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := m.attempt(ctx, c, req)
		if err == nil {
			res.Attempts = attempts
			return res, nil
		}

		m.logger.Warn("provider attempt failed",
			"provider", c.desc.Name,
			"model", c.model,
			"err", err,
		)
		attempts = append(attempts, domain.ProviderAttempt{
			Provider: c.desc.Name,
			Model:    c.model,
			Err:      err,
			Message:  err.Error(),
		})
	}
	return nil, &domain.AllProvidersFailedError{Attempts: attempts}
}

func (m *Manager) attempt(ctx context.Context, c candidate, req domain.InferenceRequest) (*domain.InferenceResult, error) {
	desc := c.desc
	event := &domain.ProviderEvent{
		EventBase: domain.EventBase{Type: domain.EventProviderAttempt},
		Provider:  desc.Name,
		Model:     c.model,
	}

	var skip error
	switch {
	case !m.healthy(desc.Name):
		skip = domain.ErrProviderUnhealthy
	case !desc.Supports(c.model) || !c.adapter.Supports(c.model):
		skip = fmt.Errorf("%w: %s", domain.ErrModelNotSupported, c.model)
	}
	if skip != nil {
		event.Timestamp = m.clock.Now()
		event.Skipped = true
		event.Err = skip
		m.emit(ctx, event)
		return nil, skip
	}

	ctx, span := m.tracer.Start(ctx, "provider.infer", trace.WithAttributes(
		attribute.String("provider.name", desc.Name),
		attribute.String("provider.model", c.model),
	))
	defer span.End()

	start := m.clock.Now()
	resp, err := c.adapter.Infer(ctx, ports.ProviderRequest{
		Model:        c.model,
		SystemPrompt: req.SystemPrompt,
		Messages:     req.Messages,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
	if err == nil && resp == nil {
		err = errors.New("provider returned no response")
	}
	event.Timestamp = m.clock.Now()
	event.Duration = m.clock.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		event.Err = err
		m.emit(ctx, event)
		return nil, err
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	price, ok := desc.Models[model]
	if !ok {
		price = desc.Models[c.model]
	}
	res := &domain.InferenceResult{
		Text:         resp.Text,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		TotalTokens:  resp.InputTokens + resp.OutputTokens,
		Provider:     desc.Name,
		Model:        model,
		Cost:         price.Estimate(resp.InputTokens, resp.OutputTokens),
	}

	event.InputTokens = res.InputTokens
	event.OutputTokens = res.OutputTokens
	event.Cost = res.Cost
	m.emit(ctx, event)
	span.SetAttributes(
		attribute.Int("provider.input_tokens", res.InputTokens),
		attribute.Int("provider.output_tokens", res.OutputTokens),
	)
	return res, nil
}

func (m *Manager) healthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[name]
	return ok && p.desc.Healthy
}

func (m *Manager) emit(ctx context.Context, e *domain.ProviderEvent) {
	if m.hooks.OnProviderAttempt != nil {
		m.hooks.OnProviderAttempt(ctx, e)
	}
}

// Status checks every provider concurrently and refreshes the health flags.
// It never blocks Infer: health flags are swapped under the lock only after all
// checks have returned.
func (m *Manager) Status(ctx context.Context) []domain.ProviderStatus {
	m.mu.RLock()
	list := make([]provider, 0, len(m.providers))
	for _, p := range m.byPriority() {
		list = append(list, *p)
	}
	m.mu.RUnlock()

	out := make([]domain.ProviderStatus, len(list))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range list {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, m.healthTimeout)
			defer cancel()

			start := m.clock.Now()
			err := p.adapter.Health(cctx)
			st := domain.ProviderStatus{
				Name:      p.desc.Name,
				Priority:  p.desc.Priority,
				Healthy:   err == nil,
				LatencyMS: m.clock.Since(start).Milliseconds(),
			}
			if err != nil {
				st.Error = err.Error()
			}
			out[i] = st
			// Health failures are reported, not propagated, so siblings keep running.
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	for _, st := range out {
		if p, ok := m.providers[st.Name]; ok {
			if p.desc.Healthy != st.Healthy {
				m.logger.Info("provider health changed", "provider", st.Name, "healthy", st.Healthy)
			}
			p.desc.Healthy = st.Healthy
		}
	}
	m.mu.Unlock()
	return out
}
