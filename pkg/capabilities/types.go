package capabilities

import (
	"context"
	"time"
)

// Args is the argument map passed to a capability
type Args = map[string]interface{}

// Payload is the JSON-like value a capability returns
type Payload = map[string]interface{}

// Handler is the uniform invocation contract every capability satisfies.
// Returning an error or panicking both yield an Error result.
type Handler interface {
	Invoke(ctx context.Context, args Args) (Payload, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, args Args) (Payload, error)

func (f HandlerFunc) Invoke(ctx context.Context, args Args) (Payload, error) {
	return f(ctx, args)
}

// Category tags the analysis domain of a capability. Synthesis uses it to
// decide which payload fields to read.
type Category string

const (
	CategoryNews       Category = "news"
	CategoryMarketData Category = "market_data"
	CategorySentiment  Category = "sentiment"
	CategoryRisk       Category = "risk_management"
	CategoryPattern    Category = "pattern_analysis"
	CategoryMultiple   Category = "multiple"
)

// ParameterSpec describes one accepted argument
type ParameterSpec struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"` // string, integer, number, boolean, array, object
	Description string        `json:"description"`
	Required    bool          `json:"required,omitempty"`
	Default     interface{}   `json:"default,omitempty"`
	Enum        []interface{} `json:"enum,omitempty"`
}

// Descriptor is an immutable registry entry
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ParameterSpec `json:"parameters"`
	Category    Category        `json:"category"`
	Handler     Handler         `json:"-"`
}

// Parameter returns the spec for the named parameter.
func (d Descriptor) Parameter(name string) (ParameterSpec, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// Outcome is the terminal state of one invocation
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// InvocationRequest asks for one capability call. SkipCache bypasses the
// result cache for capabilities whose output must not be reused.
type InvocationRequest struct {
	Capability string                 `json:"capability"`
	Args       Args                   `json:"args"`
	Context    map[string]interface{} `json:"context,omitempty"`
	SkipCache  bool                   `json:"skip_cache,omitempty"`
}

// InvocationResult is the outcome of one capability call. Payload is set
// only for OutcomeSuccess, Message only for the other outcomes.
type InvocationResult struct {
	Capability string        `json:"capability"`
	Outcome    Outcome       `json:"outcome"`
	Payload    Payload       `json:"payload,omitempty"`
	Message    string        `json:"message,omitempty"`
	Available  []string      `json:"available,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	Cached     bool          `json:"cached"`

	Err error `json:"-"`
}

// OK reports a Success outcome.
func (r InvocationResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// SuccessResult builds a Success result.
func SuccessResult(name string, payload Payload, d time.Duration) InvocationResult {
	return InvocationResult{Capability: name, Outcome: OutcomeSuccess, Payload: payload, Duration: d}
}

// ErrorResult builds an Error result carrying err's message.
func ErrorResult(name string, err error, d time.Duration) InvocationResult {
	return InvocationResult{Capability: name, Outcome: OutcomeError, Message: err.Error(), Duration: d, Err: err}
}

// TimeoutResult builds a Timeout result.
func TimeoutResult(name string, err error, d time.Duration) InvocationResult {
	return InvocationResult{Capability: name, Outcome: OutcomeTimeout, Message: err.Error(), Duration: d, Err: err}
}

// UsageMetrics tracks how a capability has been used through the registry
type UsageMetrics struct {
	CallCount      int64         `json:"call_count"`
	SuccessCount   int64         `json:"success_count"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency_ns"`
	LastUsed       time.Time     `json:"last_used"`
}
