package capabilities

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/osakka/agentorch/pkg/errors"
	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/metrics"
)

// Registry holds the named capabilities of one orchestrator. Invoke never
// returns an error or panics: every failure becomes an Error result.
type Registry struct {
	mu          sync.RWMutex
	order       []string
	descriptors map[string]Descriptor
	usage       map[string]*UsageMetrics

	logger  logging.Logger
	metrics metrics.Metrics
}

// NewRegistry creates a registry and registers descriptors in order.
func NewRegistry(logger logging.Logger, m metrics.Metrics, descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[string]Descriptor),
		usage:       make(map[string]*UsageMetrics),
		logger:      logger.WithComponent("capability_registry"),
		metrics:     m,
	}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a capability. A name already present is rejected with a
// duplicate-capability error; the existing descriptor is kept.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.InvalidArguments("", []string{"capability name is required"})
	}
	if d.Handler == nil {
		return errors.InvalidArguments(d.Name, []string{"capability handler is required"})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		r.logger.Warn("capability_already_registered", "name", d.Name)
		return errors.DuplicateCapability(d.Name)
	}

	d.Parameters = append([]ParameterSpec(nil), d.Parameters...)
	r.descriptors[d.Name] = d
	r.usage[d.Name] = &UsageMetrics{}
	r.order = append(r.order, d.Name)

	r.logger.Info("capability_registered",
		"name", d.Name,
		"category", d.Category,
		"total_capabilities", len(r.order))
	return nil
}

// MustRegister registers d and panics on error
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(fmt.Sprintf("failed to register capability %s: %v", d.Name, err))
	}
}

// List returns capability names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[name]
	return ok
}

// Describe returns the descriptor for name or an unknown-capability error.
func (r *Registry) Describe(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, errors.UnknownCapability(name, r.order)
	}
	d.Parameters = append([]ParameterSpec(nil), d.Parameters...)
	return d, nil
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.descriptors[name])
	}
	return out
}

// Usage returns per-capability call statistics.
func (r *Registry) Usage(name string) (UsageMetrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.usage[name]
	if !ok {
		return UsageMetrics{}, false
	}
	return *u, true
}

// Invoke calls the named capability. Unknown names, handler errors and
// handler panics all produce an Error result.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) InvocationResult {
	r.mu.RLock()
	d, ok := r.descriptors[name]
	var available []string
	if !ok {
		available = append([]string(nil), r.order...)
	}
	r.mu.RUnlock()

	if !ok {
		err := errors.UnknownCapability(name, available)
		r.logger.Warn("capability_not_found",
			"error_type", string(errors.KindUnknownCapability),
			"requested", name,
			"available", available)
		result := ErrorResult(name, err, 0)
		result.Available = err.Available
		return result
	}

	start := time.Now()
	payload, err := r.call(ctx, d, args)
	duration := time.Since(start)

	var result InvocationResult
	if err != nil {
		result = ErrorResult(name, errors.InvocationFailure(name, err), duration)
		r.logger.Debug("capability_failed",
			"capability", name,
			"error", err,
			"duration_ms", duration.Milliseconds())
	} else {
		if payload == nil {
			payload = Payload{}
		}
		result = SuccessResult(name, payload, duration)
	}

	r.recordUsage(name, result)
	return result
}

// call runs the handler, converting a panic into an error
func (r *Registry) call(ctx context.Context, d Descriptor, args Args) (payload Payload, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("capability_panic",
				"error_type", string(errors.KindInvocationFailure),
				"capability", d.Name,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
			payload = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	if args == nil {
		args = Args{}
	}
	return d.Handler.Invoke(ctx, args)
}

func (r *Registry) recordUsage(name string, result InvocationResult) {
	r.mu.Lock()
	u := r.usage[name]
	if u != nil {
		total := time.Duration(u.CallCount)*u.AverageLatency + result.Duration
		u.CallCount++
		if result.OK() {
			u.SuccessCount++
		}
		u.SuccessRate = float64(u.SuccessCount) / float64(u.CallCount)
		u.AverageLatency = total / time.Duration(u.CallCount)
		u.LastUsed = time.Now()
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.Inc("capability_calls_total", "capability", name, "outcome", string(result.Outcome))
		r.metrics.Observe("capability_call_duration_seconds", result.Duration.Seconds(), "capability", name)
	}
}
