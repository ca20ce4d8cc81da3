package templates

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

// Enrichment parameter names.
const (
	ParamVision     = "vision"
	ParamMission    = "mission"
	ParamGoals      = "goals"
	ParamCoreValues = "core_values"
)

// Enricher merges business context into prompt parameters.
type Enricher struct {
	client  ports.BusinessDataClient
	cache   *expirable.LRU[string, *domain.BusinessContext]
	timeout time.Duration
	logger  *slog.Logger
}

// EnricherOption configures the Enricher.
type EnricherOption func(*Enricher)

// WithTimeout bounds each call to the business-data collaborator.
func WithTimeout(d time.Duration) EnricherOption {
	return func(e *Enricher) {
		e.timeout = d
	}
}

// WithCache caches successful lookups per user and tenant.
func WithCache(size int, ttl time.Duration) EnricherOption {
	return func(e *Enricher) {
		if size > 0 {
			e.cache = expirable.NewLRU[string, *domain.BusinessContext](size, nil, ttl)
		}
	}
}

// WithEnricherLogger sets a custom structured logger.
func WithEnricherLogger(logger *slog.Logger) EnricherOption {
	return func(e *Enricher) {
		e.logger = logger
	}
}

// NewEnricher creates an enricher. A nil client disables enrichment.
func NewEnricher(client ports.BusinessDataClient, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		client:  client,
		timeout: 2 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich returns a copy of base extended with business context under keys
// base does not already have. Caller values always win. Enrichment failures
// are logged and base is returned alone.
func (e *Enricher) Enrich(ctx context.Context, base map[string]any, userID, tenantID string) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	if e == nil || e.client == nil || (userID == "" && tenantID == "") {
		return out
	}

	bc, err := e.lookup(ctx, userID, tenantID)
	if err != nil {
		e.logger.Warn("enrichment skipped", "user_id", userID, "tenant_id", tenantID, "err", err)
		return out
	}
	if bc == nil {
		return out
	}

	setIfAbsent(out, ParamVision, bc.Vision)
	setIfAbsent(out, ParamMission, bc.Mission)
	if len(bc.Goals) > 0 {
		setIfAbsent(out, ParamGoals, bc.Goals)
	}
	if len(bc.CoreValues) > 0 {
		setIfAbsent(out, ParamCoreValues, bc.CoreValues)
	}
	for k, v := range bc.Extra {
		setIfAbsent(out, k, v)
	}
	return out
}

func (e *Enricher) lookup(ctx context.Context, userID, tenantID string) (*domain.BusinessContext, error) {
	key := tenantID + "|" + userID
	if e.cache != nil {
		if bc, ok := e.cache.Get(key); ok {
			return bc, nil
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	bc, err := e.client.GetContext(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Add(key, bc)
	}
	return bc, nil
}

func setIfAbsent(m map[string]any, key string, v any) {
	if s, ok := v.(string); ok && s == "" {
		return
	}
	if _, exists := m[key]; !exists {
		m[key] = v
	}
}
