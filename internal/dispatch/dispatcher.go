// Package dispatch runs batches of capability invocations with per-call
// isolation, consulting the result cache first.
package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osakka/agentorch/pkg/cache"
	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/concurrency"
	"github.com/osakka/agentorch/pkg/errors"
	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/metrics"
)

const (
	DefaultMaxWorkers  = 4
	DefaultTaskTimeout = 30 * time.Second
)

// Mode selects how a batch is executed
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// ParseMode accepts "parallel" or "sequential"; empty means parallel.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeParallel:
		return ModeParallel, nil
	case ModeSequential:
		return ModeSequential, nil
	}
	return "", errors.Configuration("mode", fmt.Sprintf("unknown execution mode %q", s))
}

// BatchResult holds exactly one result per requested capability. Results
// is unordered.
type BatchResult struct {
	Mode         Mode                                     `json:"execution_type"`
	Total        int                                      `json:"total"`
	SuccessCount int                                      `json:"success_count"`
	Results      map[string]capabilities.InvocationResult `json:"results"`
}

// Failures returns the Error and Timeout results sorted by capability name.
func (b *BatchResult) Failures() []capabilities.InvocationResult {
	out := make([]capabilities.InvocationResult, 0, b.Total-b.SuccessCount)
	for _, name := range b.Names() {
		if r := b.Results[name]; !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Names returns the capability names in the batch, sorted.
func (b *BatchResult) Names() []string {
	return sortedKeys(b.Results)
}

// Config holds dispatcher defaults
type Config struct {
	MaxWorkers  int
	TaskTimeout time.Duration

	// Breaker trips per capability; the zero value never trips.
	Breaker concurrency.BreakerConfig

	// TracerProvider defaults to the global provider
	TracerProvider trace.TracerProvider
}

// Dispatcher executes invocation batches against one registry and cache.
// A capability that outlives its timeout is abandoned, not interrupted:
// its goroutine may run to completion and the late result is dropped.
type Dispatcher struct {
	registry *capabilities.Registry
	cache    *cache.ResultCache[capabilities.Payload]
	config   Config
	logger   logging.Logger
	metrics  metrics.Metrics
	tracer   trace.Tracer
	breakers *concurrency.BreakerGroup
}

// New creates a dispatcher. resultCache may be nil to disable caching.
func New(registry *capabilities.Registry, resultCache *cache.ResultCache[capabilities.Payload], config Config, logger logging.Logger, m metrics.Metrics) *Dispatcher {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultMaxWorkers
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = DefaultTaskTimeout
	}
	if m == nil {
		m = metrics.NewNop()
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	d := &Dispatcher{
		registry: registry,
		cache:    resultCache,
		config:   config,
		logger:   logger.WithComponent("dispatcher"),
		metrics:  m,
		tracer:   tp.Tracer("github.com/osakka/agentorch/internal/dispatch"),
	}
	if config.Breaker.Enabled() {
		d.breakers = concurrency.NewBreakerGroup(config.Breaker, logger)
	}
	return d
}

// Breakers returns the status of every circuit breaker that has seen a
// call. It is empty when breaking is disabled.
func (d *Dispatcher) Breakers() map[string]concurrency.BreakerStatus {
	if d.breakers == nil {
		return map[string]concurrency.BreakerStatus{}
	}
	return d.breakers.Status()
}

// OpenBreakers returns the capabilities currently short-circuited, sorted.
func (d *Dispatcher) OpenBreakers() []string {
	if d.breakers == nil {
		return nil
	}
	return d.breakers.Open()
}

// ResetBreakers closes every circuit breaker.
func (d *Dispatcher) ResetBreakers() {
	if d.breakers != nil {
		d.breakers.Reset()
	}
}

// Config returns the effective defaults.
func (d *Dispatcher) Config() Config {
	return d.config
}

// Dispatch runs requests in the given mode with at most maxWorkers
// concurrent invocations (maxWorkers <= 0 uses the configured default).
// Unknown or repeated capability names reject the whole batch before
// anything runs; after that, every per-capability failure is reported in
// the batch and never returned as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, requests []capabilities.InvocationRequest, mode Mode, maxWorkers int) (*BatchResult, error) {
	if err := d.checkRequests(requests); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = ModeParallel
	}
	if maxWorkers <= 0 {
		maxWorkers = d.config.MaxWorkers
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.batch", trace.WithAttributes(
		attribute.String("dispatch.mode", string(mode)),
		attribute.Int("dispatch.requests", len(requests)),
	))
	defer span.End()

	logger := d.logger.WithContext(ctx)
	start := time.Now()

	batch := &BatchResult{
		Mode:    mode,
		Total:   len(requests),
		Results: make(map[string]capabilities.InvocationResult, len(requests)),
	}

	pending := make([]capabilities.InvocationRequest, 0, len(requests))
	for _, req := range requests {
		if payload, ok := d.lookup(req); ok {
			batch.Results[req.Capability] = capabilities.InvocationResult{
				Capability: req.Capability,
				Outcome:    capabilities.OutcomeSuccess,
				Payload:    payload,
				Cached:     true,
			}
			continue
		}
		if err := d.allow(req.Capability); err != nil {
			batch.Results[req.Capability] = capabilities.ErrorResult(req.Capability, errors.InvocationFailure(req.Capability, err), 0)
			continue
		}
		pending = append(pending, req)
	}

	tasks := make([]concurrency.Task[capabilities.InvocationResult], len(pending))
	for i, req := range pending {
		tasks[i] = d.invocationTask(req)
	}

	group := concurrency.NewTaskGroup[capabilities.InvocationResult](maxWorkers, d.config.TaskTimeout, d.logger)
	var outcomes []concurrency.Result[capabilities.InvocationResult]
	if mode == ModeSequential {
		outcomes = group.RunSequential(ctx, tasks)
	} else {
		outcomes = group.Run(ctx, tasks)
	}

	for i, out := range outcomes {
		req := pending[i]
		result := d.classify(req.Capability, out)
		if d.breakers != nil {
			d.breakers.Get(req.Capability).Record(result.OK())
		}
		if result.OK() && !req.SkipCache && d.cache != nil {
			d.cache.Set(cache.Signature(req.Capability, req.Args), result.Payload)
		}
		batch.Results[req.Capability] = result
	}

	for _, r := range batch.Results {
		if r.OK() {
			batch.SuccessCount++
		}
		d.metrics.Inc("capability_invocations_total", "capability", r.Capability, "outcome", string(r.Outcome))
		if !r.Cached {
			d.metrics.Observe("capability_duration_seconds", r.Duration.Seconds(), "capability", r.Capability)
		}
	}
	d.metrics.Inc("dispatch_requests_total", "mode", string(mode))

	span.SetAttributes(
		attribute.Int("dispatch.success_count", batch.SuccessCount),
		attribute.Int("dispatch.cached", len(requests)-len(pending)),
	)
	if batch.SuccessCount < batch.Total {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d capabilities failed", batch.Total-batch.SuccessCount, batch.Total))
	}

	logger.Info("dispatch_completed",
		"mode", mode,
		"total", batch.Total,
		"success_count", batch.SuccessCount,
		"cached", len(requests)-len(pending),
		"max_workers", maxWorkers,
		"duration_ms", time.Since(start).Milliseconds())
	return batch, nil
}

func (d *Dispatcher) checkRequests(requests []capabilities.InvocationRequest) error {
	seen := make(map[string]bool, len(requests))
	for _, req := range requests {
		if !d.registry.Has(req.Capability) {
			d.logger.Warn("dispatch_rejected",
				"error_type", string(errors.KindUnknownCapability),
				"capability", req.Capability)
			return errors.UnknownCapability(req.Capability, d.registry.List())
		}
		if seen[req.Capability] {
			return errors.InvalidArguments(req.Capability, []string{"capability requested more than once in one batch"})
		}
		seen[req.Capability] = true
	}
	return nil
}

func (d *Dispatcher) allow(name string) error {
	if d.breakers == nil {
		return nil
	}
	if err := d.breakers.Get(name).Allow(); err != nil {
		d.metrics.Inc("circuit_breaker_rejections_total", "capability", name)
		d.logger.Warn("capability_short_circuited",
			"capability", name,
			"reason", err.Error())
		return err
	}
	return nil
}

func (d *Dispatcher) lookup(req capabilities.InvocationRequest) (capabilities.Payload, bool) {
	if req.SkipCache || d.cache == nil {
		return nil, false
	}
	payload, ok := d.cache.Get(cache.Signature(req.Capability, req.Args))
	if ok {
		d.metrics.Inc("cache_hits_total")
	} else {
		d.metrics.Inc("cache_misses_total")
	}
	return payload, ok
}

func (d *Dispatcher) invocationTask(req capabilities.InvocationRequest) concurrency.Task[capabilities.InvocationResult] {
	return concurrency.NewTaskFunc(req.Capability, func(ctx context.Context) (capabilities.InvocationResult, error) {
		ctx, span := d.tracer.Start(ctx, "capability.invoke",
			trace.WithAttributes(attribute.String("capability.name", req.Capability)))
		defer span.End()

		ctx = capabilities.WithRequestContext(ctx, req.Context)
		result := d.registry.Invoke(ctx, req.Capability, req.Args)

		span.SetAttributes(attribute.String("capability.outcome", string(result.Outcome)))
		if !result.OK() {
			span.SetStatus(codes.Error, result.Message)
		}
		return result, nil
	})
}

// classify turns a task outcome into the capability's terminal result.
func (d *Dispatcher) classify(name string, out concurrency.Result[capabilities.InvocationResult]) capabilities.InvocationResult {
	switch {
	case out.TimedOut():
		return capabilities.TimeoutResult(name, errors.Timeout(name, d.config.TaskTimeout), out.Duration)
	case out.Err != nil:
		return capabilities.ErrorResult(name, errors.InvocationFailure(name, out.Err), out.Duration)
	}

	result := out.Value
	// a handler that gives up because its own budget fired has timed out;
	// one that relays an upstream deadline has simply failed
	if !result.OK() && out.DeadlineReached && stderrors.Is(result.Err, context.DeadlineExceeded) {
		return capabilities.TimeoutResult(name, errors.Timeout(name, d.config.TaskTimeout), out.Duration)
	}
	return result
}

func sortedKeys(m map[string]capabilities.InvocationResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
