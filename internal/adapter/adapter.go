// Package adapter turns analysis tools into registry capabilities. Each
// tool is wrapped so its arguments are validated against the declared
// parameter schema before it runs.
package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/errors"
	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/validation"
)

// Tool is the interface every analysis tool implements
type Tool interface {
	// Metadata
	Name() string
	Description() string
	Category() capabilities.Category
	Parameters() []capabilities.ParameterSpec

	// Run receives arguments that already passed validation, with
	// declared defaults applied.
	Run(ctx context.Context, args capabilities.Args) (capabilities.Payload, error)
}

// ToolMetrics contains runtime metrics for a wrapped tool
type ToolMetrics struct {
	TotalRequests    uint64        `json:"total_requests"`
	SuccessRequests  uint64        `json:"success_requests"`
	FailedRequests   uint64        `json:"failed_requests"`
	RejectedRequests uint64        `json:"rejected_requests"`
	AverageLatency   time.Duration `json:"average_latency_ns"`
	LastUpdated      time.Time     `json:"last_updated"`
}

// BaseTool provides the metadata half of Tool
type BaseTool struct {
	name        string
	description string
	category    capabilities.Category
	parameters  []capabilities.ParameterSpec
}

// NewBaseTool creates a new base tool
func NewBaseTool(name, description string, category capabilities.Category, params ...capabilities.ParameterSpec) BaseTool {
	return BaseTool{name: name, description: description, category: category, parameters: params}
}

func (b BaseTool) Name() string                            { return b.name }
func (b BaseTool) Description() string                     { return b.description }
func (b BaseTool) Category() capabilities.Category         { return b.category }
func (b BaseTool) Parameters() []capabilities.ParameterSpec { return b.parameters }

// Adapter wraps a Tool as a capabilities.Handler
type Adapter struct {
	tool      Tool
	validator *validation.Validator
	logger    logging.Logger

	mu      sync.Mutex
	metrics ToolMetrics
}

// NewAdapter wraps tool. The validator is shared between adapters.
func NewAdapter(tool Tool, validator *validation.Validator, logger logging.Logger) *Adapter {
	return &Adapter{
		tool:      tool,
		validator: validator,
		logger:    logger.WithComponent("adapter." + tool.Name()),
	}
}

// Descriptor returns the registry entry for the wrapped tool.
func (a *Adapter) Descriptor() capabilities.Descriptor {
	return capabilities.Descriptor{
		Name:        a.tool.Name(),
		Description: a.tool.Description(),
		Parameters:  a.tool.Parameters(),
		Category:    a.tool.Category(),
		Handler:     a,
	}
}

// Invoke validates args and runs the tool.
func (a *Adapter) Invoke(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	d := a.Descriptor()

	if a.validator != nil {
		result := a.validator.ValidateArgs(ctx, d, args)
		if !result.Valid {
			a.record(start, outcomeRejected)
			return nil, errors.InvalidArguments(d.Name, result.Problems())
		}
		for _, w := range result.Warnings {
			a.logger.WithContext(ctx).Debug("argument_ignored", "field", w.Field, "code", w.Code)
		}
	}

	payload, err := a.tool.Run(ctx, validation.ApplyDefaults(d, args))
	if err != nil {
		a.record(start, outcomeFailed)
		return nil, err
	}
	a.record(start, outcomeSucceeded)
	return payload, nil
}

// Metrics returns a snapshot of the wrapped tool's counters.
func (a *Adapter) Metrics() ToolMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeRejected
)

func (a *Adapter) record(start time.Time, o outcome) {
	elapsed := time.Since(start)

	a.mu.Lock()
	defer a.mu.Unlock()

	m := &a.metrics
	total := time.Duration(m.TotalRequests)*m.AverageLatency + elapsed
	m.TotalRequests++
	m.AverageLatency = total / time.Duration(m.TotalRequests)
	m.LastUpdated = time.Now()
	switch o {
	case outcomeSucceeded:
		m.SuccessRequests++
	case outcomeFailed:
		m.FailedRequests++
	case outcomeRejected:
		m.RejectedRequests++
	}
}
