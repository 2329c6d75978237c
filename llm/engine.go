package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plumehq/plume/catalog"
	"github.com/plumehq/plume/conversation"
	"github.com/plumehq/plume/provider"
	"github.com/plumehq/plume/runner"
)

// Engine is the single entry point for LLM operations. It owns the
// provider set, the model catalog, the request executor, and the
// conversation store; the rest of the application reaches those only
// through it. Construct one with New and pass it to whoever needs it.
type Engine struct {
	providers *provider.Registry
	catalog   *catalog.Registry
	runner    *runner.Runner
	convos    *conversation.Store
	usage     *usageTable
	log       *slog.Logger
}

// Option configures an Engine at construction.
type Option func(*engineConfig)

type rateLimit struct {
	rps   float64
	burst int
}

type engineConfig struct {
	providers      []provider.Provider
	enabled        catalog.EnabledSet
	logger         *slog.Logger
	maxAttempts    int
	backoffBase    time.Duration
	backoffCap     time.Duration
	attemptTimeout time.Duration
	maxConcurrent  int
	rateLimits     map[string]rateLimit
}

// WithProviders sets the backend adapters the engine may route to.
func WithProviders(providers ...provider.Provider) Option {
	return func(c *engineConfig) {
		c.providers = append(c.providers, providers...)
	}
}

// WithEnabledModels sets the user's enabled-model set. Without it every
// cataloged model is enabled.
func WithEnabledModels(set catalog.EnabledSet) Option {
	return func(c *engineConfig) {
		c.enabled = set
	}
}

// WithLogger sets the logger shared by the engine's subsystems.
func WithLogger(log *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = log
	}
}

// WithMaxAttempts sets the retry ceiling per operation, including the
// first attempt.
func WithMaxAttempts(n int) Option {
	return func(c *engineConfig) {
		c.maxAttempts = n
	}
}

// WithBackoff sets the base delay and the delay cap for retry backoff.
func WithBackoff(base, cap time.Duration) Option {
	return func(c *engineConfig) {
		c.backoffBase = base
		c.backoffCap = cap
	}
}

// WithAttemptTimeout bounds a single non-streaming attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *engineConfig) {
		c.attemptTimeout = d
	}
}

// WithMaxConcurrent bounds how many operations run at once.
func WithMaxConcurrent(n int) Option {
	return func(c *engineConfig) {
		c.maxConcurrent = n
	}
}

// WithProviderRateLimit paces request admission for one provider.
func WithProviderRateLimit(providerName string, rps float64, burst int) Option {
	return func(c *engineConfig) {
		if c.rateLimits == nil {
			c.rateLimits = make(map[string]rateLimit)
		}
		c.rateLimits[providerName] = rateLimit{rps: rps, burst: burst}
	}
}

// New creates an Engine from explicit dependencies. There is no
// package-level engine; everything the engine uses is handed to it
// here.
func New(opts ...Option) *Engine {
	cfg := &engineConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	log := cfg.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		providers: provider.NewRegistry(cfg.providers...),
		catalog:   catalog.NewRegistry(cfg.enabled, catalog.WithLogger(log)),
		runner: runner.New(runner.Config{
			MaxAttempts:    cfg.maxAttempts,
			BackoffBase:    cfg.backoffBase,
			BackoffCap:     cfg.backoffCap,
			AttemptTimeout: cfg.attemptTimeout,
			MaxConcurrent:  cfg.maxConcurrent,
			Logger:         log,
		}),
		convos: conversation.NewStore(),
		usage:  newUsageTable(),
		log:    log,
	}

	for name, rl := range cfg.rateLimits {
		e.runner.SetRateLimit(name, rl.rps, rl.burst)
	}

	return e
}

// RefreshModels fetches model listings from every provider that can
// enumerate its models and installs them in the catalog. Until the
// first successful refresh (or SeedModels) every call fails its
// eligibility check.
func (e *Engine) RefreshModels(ctx context.Context) error {
	return e.catalog.Refresh(ctx, e.providers.Listers()...)
}

// SeedModels installs model descriptors directly, as an alternative to
// a network refresh.
func (e *Engine) SeedModels(models ...catalog.Model) {
	e.catalog.Seed(models...)
}

// Models returns every cataloged model descriptor.
func (e *Engine) Models() []catalog.Model {
	return e.catalog.Models()
}

// EligibleModels returns the enabled models whose capabilities satisfy
// the requirement, in catalog order.
func (e *Engine) EligibleModels(req catalog.Requirement) []catalog.Model {
	return e.catalog.Eligible(req)
}

// History returns a copy of a conversation's messages.
func (e *Engine) History(id uuid.UUID) ([]Message, error) {
	return e.convos.History(id)
}

// ClearConversation destroys a conversation. Unknown ids are a no-op.
func (e *Engine) ClearConversation(id uuid.UUID) {
	e.convos.Clear(id)
}

// Cancel aborts the in-flight operation with the given id. It reports
// whether an operation was actually cancelled; unknown or completed ids
// return false.
func (e *Engine) Cancel(operationID string) bool {
	return e.runner.Cancel(operationID)
}

// ActiveOperations returns the ids of operations currently in flight.
func (e *Engine) ActiveOperations() []string {
	return e.runner.Active()
}

// UsageByModel returns cumulative token usage per model id, fed from
// every successful response including streamed ones.
func (e *Engine) UsageByModel() map[string]provider.Usage {
	return e.usage.snapshot()
}

// Logger returns the logger the engine was constructed with, so
// packages composing on top of the engine log to the same place.
func (e *Engine) Logger() *slog.Logger {
	return e.log
}

// usageTable accumulates token usage per model.
type usageTable struct {
	mu      sync.Mutex
	byModel map[string]provider.Usage
}

func newUsageTable() *usageTable {
	return &usageTable{byModel: make(map[string]provider.Usage)}
}

func (u *usageTable) add(model string, usage provider.Usage) {
	if model == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	total := u.byModel[model]
	total.Add(usage)
	u.byModel[model] = total
}

func (u *usageTable) snapshot() map[string]provider.Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]provider.Usage, len(u.byModel))
	for model, usage := range u.byModel {
		out[model] = usage
	}
	return out
}
