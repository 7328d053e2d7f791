// Package orchestrator composes selection, dispatch, synthesis and session
// tracking behind a single Execute call.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osakka/agentorch/internal/dispatch"
	"github.com/osakka/agentorch/internal/router"
	"github.com/osakka/agentorch/internal/session"
	"github.com/osakka/agentorch/internal/synthesis"
	"github.com/osakka/agentorch/pkg/cache"
	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/concurrency"
	"github.com/osakka/agentorch/pkg/errors"
	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/metrics"
)

// Config carries every tunable the orchestrator consumes. Nothing here is
// read from the environment.
type Config struct {
	CacheTTL        time.Duration
	CacheMaxEntries int
	MaxWorkers      int
	TaskTimeout     time.Duration
	SessionCapacity int
	Mode            dispatch.Mode

	Rules               []router.Rule
	DefaultCapabilities []string

	CandidateTargets []string
	DefaultTargets   []string
	MaxTargets       int

	// NoCache names capabilities whose results must never be reused.
	NoCache []string

	// BreakerFailures consecutive failures short-circuit a capability for
	// BreakerReset. Zero disables breaking.
	BreakerFailures int
	BreakerReset    time.Duration
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		CacheTTL:            cache.DefaultTTL,
		CacheMaxEntries:     cache.DefaultMaxEntries,
		MaxWorkers:          dispatch.DefaultMaxWorkers,
		TaskTimeout:         dispatch.DefaultTaskTimeout,
		SessionCapacity:     session.DefaultCapacity,
		Mode:                dispatch.ModeParallel,
		Rules:               router.DefaultRules,
		DefaultCapabilities: router.DefaultFallback,
		CandidateTargets:    DefaultCandidateTargets,
		DefaultTargets:      DefaultTargets,
		MaxTargets:          DefaultMaxTargets,
	}
}

// Failure is one capability that did not succeed
type Failure struct {
	Capability string               `json:"capability"`
	Outcome    capabilities.Outcome `json:"outcome"`
	Message    string               `json:"message"`
}

// ExecutionReport is the complete answer to one query. Failed capabilities
// are listed in Failures as well as in the batch.
type ExecutionReport struct {
	ID           string                `json:"id"`
	Query        string                `json:"query"`
	Capabilities []string              `json:"capabilities_selected"`
	Targets      []string              `json:"targets"`
	Batch        *dispatch.BatchResult `json:"batch_result"`
	Summary      synthesis.Summary     `json:"summary"`
	Failures     []Failure             `json:"failures"`
	Records      []session.Record      `json:"session_records"`
	StartedAt    time.Time             `json:"started_at"`
	Duration     time.Duration         `json:"duration_ns"`
}

// Option overrides a collaborator built from Config
type Option func(*Orchestrator)

// WithCache injects the result cache.
func WithCache(c *cache.ResultCache[capabilities.Payload]) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithTracker injects the session tracker.
func WithTracker(t *session.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithSelector injects the selector, replacing Config.Rules.
func WithSelector(s *router.Selector) Option {
	return func(o *Orchestrator) { o.selector = s }
}

// WithArgBuilder sets the argument builder for one capability.
func WithArgBuilder(capability string, b ArgBuilder) Option {
	return func(o *Orchestrator) { o.builders[capability] = b }
}

// WithRecorder registers fn to receive every record the tracker accepts,
// in tracker order. fn runs on the calling goroutine, and calls to the
// recorders are serialized.
func WithRecorder(fn func(session.Record)) Option {
	return func(o *Orchestrator) { o.recorders = append(o.recorders, fn) }
}

// Orchestrator owns one registry, cache, selector and tracker. It is safe
// for concurrent use.
type Orchestrator struct {
	config     Config
	registry   *capabilities.Registry
	cache      *cache.ResultCache[capabilities.Payload]
	selector   *router.Selector
	dispatcher *dispatch.Dispatcher
	engine     *synthesis.Engine
	tracker    *session.Tracker
	builders   map[string]ArgBuilder
	noCache    map[string]bool
	recorders  []func(session.Record)

	// trackMu keeps recorder delivery in tracker order
	trackMu sync.Mutex

	logger  logging.Logger
	metrics metrics.Metrics
}

// New wires an orchestrator around registry. Every capability the selector
// can route to must be registered.
func New(registry *capabilities.Registry, config Config, logger logging.Logger, m metrics.Metrics, opts ...Option) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.Configuration("registry", "registry is required")
	}
	if m == nil {
		m = metrics.NewNop()
	}
	defaults := DefaultConfig()
	if len(config.CandidateTargets) == 0 {
		config.CandidateTargets = defaults.CandidateTargets
	}
	if len(config.DefaultTargets) == 0 {
		config.DefaultTargets = defaults.DefaultTargets
	}
	if config.MaxTargets <= 0 {
		config.MaxTargets = defaults.MaxTargets
	}
	mode, err := dispatch.ParseMode(string(config.Mode))
	if err != nil {
		return nil, err
	}
	config.Mode = mode

	o := &Orchestrator{
		config:   config,
		registry: registry,
		builders: DefaultArgBuilders(),
		noCache:  make(map[string]bool, len(config.NoCache)),
		logger:   logger.WithComponent("orchestrator"),
		metrics:  m,
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, name := range config.NoCache {
		o.noCache[name] = true
	}

	if o.cache == nil {
		if o.cache, err = cache.New[capabilities.Payload](config.CacheTTL, cache.WithMaxEntries(config.CacheMaxEntries)); err != nil {
			return nil, err
		}
	}
	if o.tracker == nil {
		o.tracker = session.NewTracker(config.SessionCapacity, logger)
	}
	if o.selector == nil {
		rules, fallback := config.Rules, config.DefaultCapabilities
		if len(rules) == 0 {
			rules = defaults.Rules
		}
		if len(fallback) == 0 {
			fallback = defaults.DefaultCapabilities
		}
		if o.selector, err = router.NewSelector(rules, fallback); err != nil {
			return nil, err
		}
	}
	if err := o.selector.CheckAgainst(registry.Has, registry.List()); err != nil {
		return nil, fmt.Errorf("selector routes to an unregistered capability: %w", err)
	}

	o.dispatcher = dispatch.New(registry, o.cache, dispatch.Config{
		MaxWorkers:  config.MaxWorkers,
		TaskTimeout: config.TaskTimeout,
		Breaker: concurrency.BreakerConfig{
			MaxFailures:  config.BreakerFailures,
			ResetTimeout: config.BreakerReset,
		},
	}, logger, m)
	o.engine = synthesis.NewEngine(o.categoryOf, logger)

	o.logger.Info("orchestrator_initialized",
		"capabilities", registry.Len(),
		"mode", config.Mode,
		"max_workers", o.dispatcher.Config().MaxWorkers,
		"task_timeout", o.dispatcher.Config().TaskTimeout.String(),
		"cache_ttl", o.cache.TTL().String(),
		"session_capacity", o.tracker.Capacity())
	return o, nil
}

func (o *Orchestrator) categoryOf(name string) capabilities.Category {
	d, err := o.registry.Describe(name)
	if err != nil {
		return ""
	}
	return d.Category
}

// ExecuteOption adjusts a single Execute call
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	mode    dispatch.Mode
	targets []string
	context map[string]interface{}
}

// WithMode overrides the configured dispatch mode.
func WithMode(mode dispatch.Mode) ExecuteOption {
	return func(e *executeOptions) { e.mode = mode }
}

// WithTargets skips target extraction.
func WithTargets(targets ...string) ExecuteOption {
	return func(e *executeOptions) { e.targets = targets }
}

// WithRequestContext passes values every invoked capability can read via
// capabilities.RequestContext.
func WithRequestContext(values map[string]interface{}) ExecuteOption {
	return func(e *executeOptions) { e.context = values }
}

// Execute selects capabilities for query, dispatches them, synthesizes the
// results and records the session. Capability failures are reported in the
// returned report; an error means the batch could not be dispatched at all.
func (o *Orchestrator) Execute(ctx context.Context, query string, opts ...ExecuteOption) (*ExecutionReport, error) {
	eo := executeOptions{mode: o.config.Mode}
	for _, opt := range opts {
		opt(&eo)
	}

	start := time.Now()
	report := &ExecutionReport{
		ID:        uuid.NewString(),
		Query:     query,
		StartedAt: start,
	}
	logger := o.logger.WithContext(ctx)

	report.Capabilities = o.selector.Select(query)
	report.Targets = eo.targets
	if len(report.Targets) == 0 {
		report.Targets = ExtractTargets(query, o.config.CandidateTargets, o.config.DefaultTargets, o.config.MaxTargets)
	}

	requests := make([]capabilities.InvocationRequest, len(report.Capabilities))
	for i, name := range report.Capabilities {
		requests[i] = o.request(name, query, report.Targets, eo.context)
	}

	batch, err := o.dispatcher.Dispatch(ctx, requests, eo.mode, o.config.MaxWorkers)
	if err != nil {
		logger.Error("execution_failed",
			"execution_id", report.ID,
			"error", err,
			"capabilities", report.Capabilities)
		o.metrics.Inc("orchestrator_executions_total", "status", "failed")
		return nil, err
	}
	report.Batch = batch
	report.Summary = o.engine.Synthesize(batch, report.Targets...)

	for _, req := range requests {
		report.Records = append(report.Records, o.track(req.Capability, req.Args, batch.Results[req.Capability].OK()))
	}
	for _, r := range batch.Failures() {
		report.Failures = append(report.Failures, Failure{Capability: r.Capability, Outcome: r.Outcome, Message: r.Message})
	}
	report.Duration = time.Since(start)

	o.metrics.Inc("orchestrator_executions_total", "status", "completed")
	logger.Info("execution_completed",
		"execution_id", report.ID,
		"capabilities", report.Capabilities,
		"targets", report.Targets,
		"mode", batch.Mode,
		"success_count", batch.SuccessCount,
		"total", batch.Total,
		"sentiment", report.Summary.OverallSentiment,
		"confidence", report.Summary.Confidence,
		"duration_ms", report.Duration.Milliseconds())
	return report, nil
}

func (o *Orchestrator) request(name, query string, targets []string, values map[string]interface{}) capabilities.InvocationRequest {
	args := capabilities.Args{}
	if b, ok := o.builders[name]; ok {
		args = b(query, targets)
	}
	return capabilities.InvocationRequest{
		Capability: name,
		Args:       args,
		Context:    values,
		SkipCache:  o.noCache[name],
	}
}

// Invoke runs one capability through the cache and dispatcher and records
// it in the session. Unknown names return an error.
func (o *Orchestrator) Invoke(ctx context.Context, name string, args capabilities.Args) (capabilities.InvocationResult, error) {
	batch, err := o.dispatcher.Dispatch(ctx, []capabilities.InvocationRequest{{
		Capability: name,
		Args:       args,
		SkipCache:  o.noCache[name],
	}}, dispatch.ModeSequential, 1)
	if err != nil {
		return capabilities.InvocationResult{}, err
	}
	result := batch.Results[name]
	o.track(name, args, result.OK())
	return result, nil
}

func (o *Orchestrator) track(name string, args capabilities.Args, success bool) session.Record {
	digest := session.RequestDigest(name, args)
	if len(o.recorders) == 0 {
		return o.tracker.Record(name, digest, success)
	}

	o.trackMu.Lock()
	defer o.trackMu.Unlock()
	rec := o.tracker.Record(name, digest, success)
	for _, fn := range o.recorders {
		fn(rec)
	}
	return rec
}

// Dispatcher returns the batch dispatcher.
func (o *Orchestrator) Dispatcher() *dispatch.Dispatcher { return o.dispatcher }

// Registry returns the capability registry.
func (o *Orchestrator) Registry() *capabilities.Registry { return o.registry }

// Cache returns the result cache.
func (o *Orchestrator) Cache() *cache.ResultCache[capabilities.Payload] { return o.cache }

// Tracker returns the session tracker.
func (o *Orchestrator) Tracker() *session.Tracker { return o.tracker }

// Selector returns the routing table.
func (o *Orchestrator) Selector() *router.Selector { return o.selector }

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.config }
