// Package app assembles coachflow from its configuration: stores, template
// repository, inference providers, workflow engine, session manager and
// dispatcher. Commands and servers share one App.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/aretw0/coachflow/internal/config"
	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/adapters/anthropic"
	"github.com/aretw0/coachflow/pkg/adapters/businessdata"
	"github.com/aretw0/coachflow/pkg/adapters/gemini"
	"github.com/aretw0/coachflow/pkg/adapters/kafka"
	"github.com/aretw0/coachflow/pkg/adapters/loam"
	"github.com/aretw0/coachflow/pkg/adapters/memory"
	"github.com/aretw0/coachflow/pkg/adapters/openai"
	"github.com/aretw0/coachflow/pkg/adapters/postgres"
	"github.com/aretw0/coachflow/pkg/adapters/redis"
	"github.com/aretw0/coachflow/pkg/adapters/scripted"
	"github.com/aretw0/coachflow/pkg/adapters/sqldb"
	"github.com/aretw0/coachflow/pkg/dispatch"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/nodes"
	"github.com/aretw0/coachflow/pkg/observability"
	"github.com/aretw0/coachflow/pkg/persistence/middleware"
	"github.com/aretw0/coachflow/pkg/ports"
	"github.com/aretw0/coachflow/pkg/providers"
	"github.com/aretw0/coachflow/pkg/session"
	"github.com/aretw0/coachflow/pkg/templates"
	"github.com/aretw0/coachflow/pkg/workflow"
)

// OfflineProvider is the name of the scripted provider registered in offline mode.
const OfflineProvider = "offline"

// DefaultPIIPatterns select the parameter keys masked before persistence.
var DefaultPIIPatterns = []string{`(?i)e-?mail`, `(?i)phone`, `(?i)ssn`, `(?i)cpf`, `(?i)address`}

// App holds every wired component.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Sessions   *session.Manager
	Engine     *workflow.Orchestrator
	Registry   *workflow.Registry
	Providers  *providers.Manager
	Analyzer   *dispatch.Analyzer
	Dispatcher *dispatch.Dispatcher
	Metrics    *observability.Metrics
	// Analyses holds single-shot analysis workflows, bounded by the workflow config.
	Analyses *memory.WorkflowStore

	Store     ports.ConversationStore
	Templates ports.TemplateStore
	Resolver  *templates.Resolver
	// Publisher is nil when the template repository is read-only.
	Publisher *templates.Publisher

	closers []func() error
}

type options struct {
	offline  bool
	registry *prometheus.Registry
	adapters []registration
}

type registration struct {
	desc    domain.ProviderDescriptor
	adapter ports.ProviderAdapter
}

// Option configures New.
type Option func(*options)

// WithOffline replaces the configured providers with the scripted coach.
func WithOffline() Option {
	return func(o *options) { o.offline = true }
}

// WithPrometheusRegistry registers metrics on reg instead of a fresh registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithProvider registers an extra provider adapter.
func WithProvider(desc domain.ProviderDescriptor, adapter ports.ProviderAdapter) Option {
	return func(o *options) { o.adapters = append(o.adapters, registration{desc, adapter}) }
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Format == "json" {
		return logging.NewJSON(level), nil
	}
	return logging.New(level), nil
}

// New wires an App. On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (a *App, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.Metrics = observability.NewMetrics(o.registry)
	hooks := a.Metrics.Hooks().Merge(observability.LoggingHooks(logger))

	store, redisClient, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store, err = a.wrapStore(store)
	if err != nil {
		return nil, err
	}

	if err := a.openTemplates(ctx); err != nil {
		return nil, err
	}

	a.Providers = providers.NewManager(
		providers.WithDefault(cfg.Providers.Default),
		providers.WithLifecycleHooks(hooks),
		providers.WithLogger(logger),
	)
	if err := a.registerProviders(ctx, o); err != nil {
		return nil, err
	}

	nodeCfg := cfg.NodeConfig()
	if o.offline {
		nodeCfg.ProviderHint = OfflineProvider
		nodeCfg.ModelHint = ""
	}
	a.Registry = workflow.NewRegistry()
	if err := nodes.Register(a.Registry, nodeCfg); err != nil {
		return nil, fmt.Errorf("failed to register workflow nodes: %w", err)
	}

	a.Analyses = memory.NewWorkflowStore(
		memory.WithCapacity(cfg.Workflow.AnalysisCapacity),
		memory.WithRetention(cfg.Workflow.AnalysisRetention),
	)
	a.Engine = workflow.NewOrchestrator(a.Registry, a.Analyses,
		workflow.WithStoreFor(domain.WorkflowConversational, session.NewWorkflowStore(a.Store)),
		workflow.WithServices(workflow.Services{
			Inference: a.Providers,
			Templates: a.Resolver,
			Enricher:  a.newEnricher(),
			Logger:    logger,
		}),
		workflow.WithLifecycleHooks(hooks),
		workflow.WithMaxStepsPerCall(cfg.Workflow.MaxStepsPerCall),
		workflow.WithLogger(logger),
	)

	sessionOpts := []session.Option{
		session.WithExtractor(session.NewExtractor(a.Providers,
			session.WithExtractionHints(nodeCfg.ProviderHint, nodeCfg.ModelHint),
			session.WithExtractorLogger(logger),
		)),
		session.WithLockTTL(cfg.Locking.TTL),
		session.WithLogger(logger),
	}
	if cfg.Locking.Distributed {
		if redisClient == nil {
			return nil, errors.New("distributed locking requires the redis store")
		}
		sessionOpts = append(sessionOpts, session.WithLocker(redis.NewLocker(redisClient, cfg.Store.Redis.Prefix)))
	}
	if cfg.Archive.Driver == "kafka" {
		sink, err := kafka.NewArchiveSink(cfg.Archive.Brokers, cfg.Archive.Topic, kafka.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		sessionOpts = append(sessionOpts, session.WithArchive(sink))
	}
	a.Sessions = session.NewManager(a.Store, a.Engine, sessionOpts...)

	table, err := a.routeTable()
	if err != nil {
		return nil, err
	}
	a.Analyzer = dispatch.NewAnalyzer(a.Engine, logger)
	a.Dispatcher = dispatch.NewDispatcher(table, a.Sessions, a.Analyzer)

	return a, nil
}

// Close releases every backend connection.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context) (ports.ConversationStore, *goredis.Client, error) {
	sc := a.Config.Store
	switch sc.Driver {
	case "", "memory":
		return memory.NewStore(), nil, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: sc.Redis.Addr, Password: sc.Redis.Password, DB: sc.Redis.DB})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", sc.Redis.Addr, err)
		}
		return redis.NewFromClient(client, redis.WithPrefix(sc.Redis.Prefix), redis.WithTTL(sc.TTL)), client, nil
	case "sqlite", "postgres":
		dsn := sc.DSN
		if dsn == "" && sc.Driver == "sqlite" {
			dsn = "coachflow.db"
		}
		s, err := sqldb.Open(ctx, sqldb.Dialect(sc.Driver), dsn, sqldb.WithLogger(a.Logger))
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

func (a *App) wrapStore(store ports.ConversationStore) (ports.ConversationStore, error) {
	sc := a.Config.Store
	var mws []middleware.Middleware
	if sc.MaskPII {
		mws = append(mws, middleware.NewPIIMiddleware(DefaultPIIPatterns))
	}
	if sc.EncryptionKey != "" {
		active, err := middleware.ParseKey(sc.EncryptionKey)
		if err != nil {
			return nil, err
		}
		enc := middleware.EncryptionConfig{ActiveKey: active}
		for _, k := range sc.FallbackKeys {
			key, err := middleware.ParseKey(k)
			if err != nil {
				return nil, fmt.Errorf("fallback key: %w", err)
			}
			enc.FallbackKeys = append(enc.FallbackKeys, key)
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(enc))
	}
	return middleware.Chain(store, mws...), nil
}

func (a *App) openTemplates(ctx context.Context) error {
	tc := a.Config.Templates
	builtin, err := templates.Builtin()
	if err != nil {
		return err
	}

	var (
		publisher ports.TemplatePublisher
		watchable ports.Watchable
	)
	switch tc.Driver {
	case "", "memory":
		s := memory.NewTemplateStore(builtin...)
		a.Templates, publisher = s, s
	case "loam":
		s, err := loam.Open(tc.Dir, loam.WithLogger(a.Logger))
		if err != nil {
			return err
		}
		a.Templates = s
		if tc.Watch {
			watchable = s
		}
	case "postgres":
		s, err := postgres.Connect(ctx, tc.DSN, postgres.WithLogger(a.Logger))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { s.Close(); return nil })
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		existing, err := s.List(ctx)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			if err := s.Seed(ctx, builtin...); err != nil {
				return err
			}
		}
		a.Templates, publisher = s, s
	default:
		return fmt.Errorf("unknown templates driver %q", tc.Driver)
	}

	a.Resolver, err = templates.NewResolver(a.Templates,
		templates.WithLatestTTL(tc.LatestTTL),
		templates.WithLogger(a.Logger),
	)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { a.Resolver.Close(); return nil })

	if watchable != nil {
		watchCtx, cancel := context.WithCancel(context.Background())
		a.closers = append(a.closers, func() error { cancel(); return nil })
		go func() {
			if err := a.Resolver.Watch(watchCtx, watchable); err != nil {
				a.Logger.Warn("template watch stopped", "error", err)
			}
		}()
	}
	if publisher != nil {
		a.Publisher = templates.NewPublisher(publisher, a.Resolver, a.Logger)
	}
	return nil
}

func (a *App) registerProviders(ctx context.Context, o *options) error {
	if o.offline {
		desc := scripted.Descriptor(OfflineProvider, 0, "scripted-coach")
		if err := a.Providers.Register(desc, scripted.New(OfflineProvider, scripted.WithResponder(scripted.Coach))); err != nil {
			return err
		}
	} else {
		for _, pc := range a.Config.Providers.List {
			adapter, err := newAdapter(ctx, pc)
			if err != nil {
				return fmt.Errorf("provider %s: %w", pc.Name, err)
			}
			if err := a.Providers.Register(descriptor(pc), adapter); err != nil {
				return err
			}
		}
	}
	for _, r := range o.adapters {
		if err := a.Providers.Register(r.desc, r.adapter); err != nil {
			return err
		}
	}
	return nil
}

func descriptor(pc config.ProviderConfig) domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		Name:         pc.Name,
		Kind:         pc.Kind,
		Priority:     pc.Priority,
		DefaultModel: pc.DefaultModel,
		Models:       pc.Models,
		LatencyMS:    pc.LatencyMS,
		Healthy:      true,
	}
}

func newAdapter(ctx context.Context, pc config.ProviderConfig) (ports.ProviderAdapter, error) {
	key := ""
	if pc.APIKeyEnv != "" {
		key = os.Getenv(pc.APIKeyEnv)
	}
	models := make([]string, 0, len(pc.Models))
	for m := range pc.Models {
		models = append(models, m)
	}

	switch pc.Kind {
	case "anthropic":
		return anthropic.New(anthropic.Config{Name: pc.Name, APIKey: key, BaseURL: pc.BaseURL, Models: models})
	case "openai":
		return openai.New(openai.Config{Name: pc.Name, APIKey: key, BaseURL: pc.BaseURL, Models: models})
	case "gemini":
		return gemini.New(ctx, gemini.Config{Name: pc.Name, APIKey: key, BaseURL: pc.BaseURL, Models: models})
	case "scripted":
		return scripted.New(pc.Name, scripted.WithResponder(scripted.Coach), scripted.WithModels(models...)), nil
	}
	return nil, fmt.Errorf("unknown provider kind %q", pc.Kind)
}

func (a *App) newEnricher() *templates.Enricher {
	bc := a.Config.BusinessData
	opts := []templates.EnricherOption{
		templates.WithTimeout(bc.Timeout),
		templates.WithCache(bc.CacheSize, bc.CacheTTL),
		templates.WithEnricherLogger(a.Logger),
	}
	if bc.BaseURL == "" {
		return templates.NewEnricher(nil, opts...)
	}

	clientOpts := []businessdata.Option{businessdata.WithTimeout(bc.Timeout)}
	if bc.TokenEnv != "" {
		clientOpts = append(clientOpts, businessdata.WithBearerToken(os.Getenv(bc.TokenEnv)))
	}
	return templates.NewEnricher(businessdata.NewClient(bc.BaseURL, clientOpts...), opts...)
}

func (a *App) routeTable() (*dispatch.Table, error) {
	if path := a.Config.Dispatch.RoutesFile; path != "" {
		return dispatch.LoadRoutes(path)
	}
	return dispatch.NewTable(dispatch.DefaultRoutes()...)
}
